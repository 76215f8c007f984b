package cache

import (
	"testing"

	"github.com/doeshing/merchat/internal/domain"
)

func TestKeyParameterOrderIrrelevant(t *testing.T) {
	a := Key("catalog_search", domain.ModeB2C, map[string]any{"query": "laptop", "limit": 5})
	b := Key("catalog_search", domain.ModeB2C, map[string]any{"limit": 5, "query": "laptop"})
	if a != b {
		t.Fatalf("keys differ on param order: %q vs %q", a, b)
	}
}

func TestKeyCaseAndWhitespaceNormalized(t *testing.T) {
	a := Key("catalog_search", domain.ModeB2C, map[string]any{"query": "Gaming Laptop"})
	b := Key("Catalog_Search", domain.ModeB2C, map[string]any{"query": "  gaming laptop "})
	if a != b {
		t.Fatalf("keys differ on case/whitespace: %q vs %q", a, b)
	}
}

func TestKeyUnicodeCompositionNormalized(t *testing.T) {
	// "café" composed (U+00E9) vs decomposed (e + U+0301).
	a := Key("catalog_search", domain.ModeB2C, map[string]any{"query": "café"})
	b := Key("catalog_search", domain.ModeB2C, map[string]any{"query": "café"})
	if a != b {
		t.Fatalf("keys differ on unicode form: %q vs %q", a, b)
	}
}

func TestKeyModeSplitsKeyspace(t *testing.T) {
	retail := Key("get_pricing", domain.ModeB2C, map[string]any{"sku": "LPT-100"})
	wholesale := Key("get_pricing", domain.ModeB2B, map[string]any{"sku": "LPT-100"})
	if retail == wholesale {
		t.Fatalf("b2c and b2b collapsed to one key: %q", retail)
	}
}

func TestKeyWholeFloatMatchesInt(t *testing.T) {
	// JSON decoding yields float64 for numbers; a literal int must not
	// produce a different key.
	a := Key("get_inventory", domain.ModeB2C, map[string]any{"limit": 10})
	b := Key("get_inventory", domain.ModeB2C, map[string]any{"limit": float64(10)})
	if a != b {
		t.Fatalf("int and whole float diverge: %q vs %q", a, b)
	}
}

func TestPrefixCoversAllModes(t *testing.T) {
	prefix := Prefix("cart_totals")
	retail := Key("cart_totals", domain.ModeB2C, nil)
	wholesale := Key("cart_totals", domain.ModeB2B, nil)
	for _, key := range []string{retail, wholesale} {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			t.Fatalf("key %q not covered by prefix %q", key, prefix)
		}
	}
}
