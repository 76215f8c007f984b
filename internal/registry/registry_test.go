package registry

import (
	"context"
	"testing"

	"github.com/doeshing/merchat/internal/domain"
)

func noopExecutor(context.Context, map[string]any, domain.ActionContext) (domain.ActionResult, error) {
	return domain.ActionResult{Summary: "ok"}, nil
}

func testDef(name string, modes ...domain.Mode) domain.ActionDefinition {
	return domain.ActionDefinition{
		Name:        name,
		Description: "test action",
		Modes:       modes,
		Execute:     noopExecutor,
	}
}

func TestReplaceRejectsInvalidSetAtomically(t *testing.T) {
	r := New()
	if err := r.Replace([]domain.ActionDefinition{testDef("good")}); err != nil {
		t.Fatalf("Replace error: %v", err)
	}
	before := r.Version()

	err := r.Replace([]domain.ActionDefinition{
		testDef("also_good"),
		{Name: "broken", Description: "no executor"},
	})
	if err == nil {
		t.Fatal("invalid set accepted")
	}
	// The failed swap must leave the old snapshot fully intact.
	if _, ok := r.Get("good"); !ok {
		t.Fatal("old snapshot lost after failed replace")
	}
	if _, ok := r.Get("also_good"); ok {
		t.Fatal("partial snapshot visible after failed replace")
	}
	if r.Version() != before {
		t.Fatalf("version bumped on failed replace: %d -> %d", before, r.Version())
	}
}

func TestReplaceRejectsDuplicates(t *testing.T) {
	r := New()
	err := r.Replace([]domain.ActionDefinition{testDef("dup"), testDef("dup")})
	if err == nil {
		t.Fatal("duplicate names accepted")
	}
}

func TestAvailableFiltersByModeAndCapability(t *testing.T) {
	r := New()
	wholesale := testDef("bulk_quote", domain.ModeB2B)
	wholesale.RequiredCapabilities = []domain.Capability{domain.CapabilityBulkPricing}
	if err := r.Replace([]domain.ActionDefinition{testDef("search"), wholesale}); err != nil {
		t.Fatalf("Replace error: %v", err)
	}

	b2c := r.Available(domain.ModeB2C, []domain.Capability{domain.CapabilityBulkPricing})
	if len(b2c) != 1 || b2c[0].Name != "search" {
		t.Fatalf("b2c catalog = %v", names(b2c))
	}

	b2bNoCap := r.Available(domain.ModeB2B, nil)
	if len(b2bNoCap) != 1 || b2bNoCap[0].Name != "search" {
		t.Fatalf("b2b catalog without capability = %v", names(b2bNoCap))
	}

	b2b := r.Available(domain.ModeB2B, []domain.Capability{domain.CapabilityBulkPricing})
	if len(b2b) != 2 {
		t.Fatalf("b2b catalog = %v", names(b2b))
	}
}

func TestVersionAdvancesPerSwap(t *testing.T) {
	r := New()
	r.Replace([]domain.ActionDefinition{testDef("a")})
	v1 := r.Version()
	r.Replace([]domain.ActionDefinition{testDef("b")})
	if r.Version() <= v1 {
		t.Fatalf("version did not advance: %d -> %d", v1, r.Version())
	}
	if _, ok := r.Get("a"); ok {
		t.Fatal("stale definition survived swap")
	}
}

func names(defs []domain.ActionDefinition) []string {
	out := make([]string, len(defs))
	for i, def := range defs {
		out[i] = def.Name
	}
	return out
}
