package registry

import (
	"context"
	"testing"

	"github.com/doeshing/merchat/internal/domain"
	"github.com/doeshing/merchat/internal/infrastructure/data"
)

func TestCatalogSearchHonorsMaxPrice(t *testing.T) {
	def := NewBuiltins(data.NewMemoryBackend()).CatalogSearch()

	// Two laptops in the catalog; only the $1299 one fits under $1500.
	result, err := def.Execute(context.Background(), map[string]any{
		"query":     "laptop",
		"max_price": int64(1500),
	}, domain.ActionContext{SessionID: "s1", Mode: domain.ModeB2C})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	hits, ok := result.Data["products"].([]domain.ProductHit)
	if !ok {
		t.Fatalf("data = %+v", result.Data)
	}
	if len(hits) != 1 || hits[0].ID != "LPT-100" {
		t.Fatalf("hits = %+v, want only LPT-100", hits)
	}
}

func TestCatalogSearchMaxPriceValidates(t *testing.T) {
	def := NewBuiltins(data.NewMemoryBackend()).CatalogSearch()

	if _, err := ValidateParams(def.Parameters, map[string]any{
		"query":     "laptop",
		"max_price": float64(1000),
	}); err != nil {
		t.Fatalf("whole-valued max_price rejected: %v", err)
	}
	if _, err := ValidateParams(def.Parameters, map[string]any{
		"query":     "laptop",
		"max_price": "cheap",
	}); err == nil {
		t.Fatal("non-numeric max_price accepted")
	}
}
