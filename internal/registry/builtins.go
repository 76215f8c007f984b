package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/doeshing/merchat/internal/domain"
	"github.com/doeshing/merchat/internal/ports"
)

// Builtins constructs the built-in action set against a data backend. The
// YAML definitions file selects and parameterizes these by executor name;
// executors themselves are never defined in configuration.
type Builtins struct {
	data ports.DataAccess
}

// NewBuiltins binds the builtin executors to a backend.
func NewBuiltins(data ports.DataAccess) *Builtins {
	return &Builtins{data: data}
}

func float(v float64) *float64 { return &v }

// Definitions returns the default action catalog used when no definitions
// file is configured.
func (b *Builtins) Definitions() []domain.ActionDefinition {
	return []domain.ActionDefinition{
		b.CatalogSearch(),
		b.GetInventory(),
		b.GetPricing(),
		b.CartUpdate(),
		b.BulkPricing(),
	}
}

// Executor resolves a builtin definition by executor name for the YAML
// loader.
func (b *Builtins) Executor(name string) (domain.ActionDefinition, bool) {
	for _, def := range b.Definitions() {
		if def.Name == name {
			return def, true
		}
	}
	return domain.ActionDefinition{}, false
}

// CatalogSearch queries the product catalog.
func (b *Builtins) CatalogSearch() domain.ActionDefinition {
	return domain.ActionDefinition{
		Name:                 "catalog_search",
		Description:          "Search the product catalog by keyword, optionally filtered by category.",
		RequiredCapabilities: []domain.Capability{domain.CapabilityUnifiedDataAccess},
		Parameters: domain.ParameterSchema{Fields: map[string]domain.ParamSpec{
			"query":       {Type: domain.ParamString, Description: "Search keywords", Required: true},
			"category":    {Type: domain.ParamString, Description: "Category filter"},
			"max_price":   {Type: domain.ParamInt, Description: "Maximum unit price in whole currency units", Minimum: float(1)},
			"max_results": {Type: domain.ParamInt, Description: "Result cap", Minimum: float(1), Maximum: float(25)},
		}},
		CachePolicy: domain.CachePolicy{TTL: 5 * time.Minute},
		Execute: func(ctx context.Context, params map[string]any, actx domain.ActionContext) (domain.ActionResult, error) {
			query, _ := params["query"].(string)
			filters := map[string]any{}
			if category, ok := params["category"].(string); ok && category != "" {
				filters["category"] = category
			}
			// The customer speaks in whole units; the backend prices in minor.
			if maxPrice, ok := params["max_price"].(int64); ok {
				filters["max_price"] = maxPrice * 100
			}
			hits, err := b.data.SearchCatalog(ctx, query, filters)
			if err != nil {
				return domain.ActionResult{}, err
			}
			if max, ok := params["max_results"].(int64); ok && int(max) < len(hits) {
				hits = hits[:max]
			}
			return domain.ActionResult{
				Summary: fmt.Sprintf("%d product(s) match %q", len(hits), query),
				Data:    map[string]any{"products": hits},
			}, nil
		},
	}
}

// GetInventory reports stock for a product.
func (b *Builtins) GetInventory() domain.ActionDefinition {
	return domain.ActionDefinition{
		Name:                 "get_inventory",
		Description:          "Check current stock level for a product.",
		RequiredCapabilities: []domain.Capability{domain.CapabilityUnifiedDataAccess},
		Parameters: domain.ParameterSchema{Fields: map[string]domain.ParamSpec{
			"product_id": {Type: domain.ParamString, Description: "Product identifier", Required: true},
		}},
		CachePolicy: domain.CachePolicy{TTL: 30 * time.Second},
		Execute: func(ctx context.Context, params map[string]any, actx domain.ActionContext) (domain.ActionResult, error) {
			id, _ := params["product_id"].(string)
			levels, err := b.data.GetInventory(ctx, []string{id})
			if err != nil {
				return domain.ActionResult{}, err
			}
			if len(levels) == 0 {
				return domain.ActionResult{}, fmt.Errorf("%w: product %q not found", domain.ErrPermanentDependency, id)
			}
			return domain.ActionResult{
				Summary: fmt.Sprintf("%d unit(s) of %s in stock", levels[0].Qty, id),
				Data:    map[string]any{"inventory": levels[0]},
			}, nil
		},
	}
}

// GetPricing returns the mode-specific price for a product.
func (b *Builtins) GetPricing() domain.ActionDefinition {
	return domain.ActionDefinition{
		Name:                 "get_pricing",
		Description:          "Look up the current price for a product in the customer's pricing tier.",
		RequiredCapabilities: []domain.Capability{domain.CapabilityUnifiedDataAccess},
		Parameters: domain.ParameterSchema{Fields: map[string]domain.ParamSpec{
			"product_id": {Type: domain.ParamString, Description: "Product identifier", Required: true},
		}},
		CachePolicy: domain.CachePolicy{TTL: time.Minute},
		Execute: func(ctx context.Context, params map[string]any, actx domain.ActionContext) (domain.ActionResult, error) {
			id, _ := params["product_id"].(string)
			quotes, err := b.data.GetPricing(ctx, []string{id}, actx.Mode)
			if err != nil {
				return domain.ActionResult{}, err
			}
			if len(quotes) == 0 {
				return domain.ActionResult{}, fmt.Errorf("%w: no price for product %q", domain.ErrPermanentDependency, id)
			}
			quote := quotes[0]
			return domain.ActionResult{
				Summary: fmt.Sprintf("%s costs %s", id, formatPrice(quote.Price, quote.Currency)),
				Data:    map[string]any{"quote": quote},
			}, nil
		},
	}
}

// CartUpdate mutates the session cart through the backend and mirrors the
// authoritative result into conversation state via a merge command.
func (b *Builtins) CartUpdate() domain.ActionDefinition {
	return domain.ActionDefinition{
		Name:                 "cart_update",
		Description:          "Add, change, or remove a cart line item.",
		RequiredCapabilities: []domain.Capability{domain.CapabilityUnifiedDataAccess},
		Parameters: domain.ParameterSchema{Fields: map[string]domain.ParamSpec{
			"op":         {Type: domain.ParamString, Description: "Operation", Required: true, Enum: []string{"add", "set", "remove"}},
			"product_id": {Type: domain.ParamString, Description: "Product identifier", Required: true},
			"variant_id": {Type: domain.ParamString, Description: "Variant identifier"},
			"quantity":   {Type: domain.ParamInt, Description: "Quantity", Minimum: float(0), Maximum: float(100000)},
		}},
		// Mutations are never cached.
		CachePolicy: domain.CachePolicy{},
		Execute: func(ctx context.Context, params map[string]any, actx domain.ActionContext) (domain.ActionResult, error) {
			op := domain.CartOp{
				Op:        params["op"].(string),
				ProductID: params["product_id"].(string),
			}
			if variant, ok := params["variant_id"].(string); ok {
				op.VariantID = variant
			}
			if qty, ok := params["quantity"].(int64); ok {
				op.Quantity = int(qty)
			}
			snapshot, err := b.data.MutateCart(ctx, actx.SessionID, op)
			if err != nil {
				return domain.ActionResult{}, err
			}
			// Mirror only the touched line; the reducer owns merge
			// semantics including removal via zero quantity.
			line := domain.CartItem{ProductID: op.ProductID, VariantID: op.VariantID}
			for _, item := range snapshot.Items {
				if item.ProductID == op.ProductID && item.VariantID == op.VariantID {
					line = item
					break
				}
			}
			return domain.ActionResult{
				Summary: fmt.Sprintf("Cart updated: %s %s (total %s)", op.Op, op.ProductID, formatPrice(snapshot.Total(), snapshot.Currency)),
				Data:    map[string]any{"cart": snapshot},
				Commands: []domain.Command{{
					Type:      domain.CommandMergeCart,
					CartItems: []domain.CartItem{line},
					Currency:  snapshot.Currency,
				}},
			}, nil
		},
	}
}

// bulkTier buckets a quantity into a pricing tier so cache keys group by
// tier instead of exact quantity.
func bulkTier(qty int64) string {
	switch {
	case qty >= 1000:
		return "1000+"
	case qty >= 500:
		return "500-999"
	case qty >= 100:
		return "100-499"
	default:
		return "1-99"
	}
}

// BulkPricing quotes tiered wholesale prices. B2B only, and only on
// backends exposing the bulk pricing extension.
func (b *Builtins) BulkPricing() domain.ActionDefinition {
	return domain.ActionDefinition{
		Name:        "bulk_pricing",
		Description: "Quote tiered wholesale pricing for a quantity of a product.",
		Modes:       []domain.Mode{domain.ModeB2B},
		RequiredCapabilities: []domain.Capability{
			domain.CapabilityUnifiedDataAccess,
			domain.CapabilityBulkPricing,
		},
		Parameters: domain.ParameterSchema{Fields: map[string]domain.ParamSpec{
			"product_id": {Type: domain.ParamString, Description: "Product identifier", Required: true},
			"quantity":   {Type: domain.ParamInt, Description: "Requested quantity", Required: true, Minimum: float(1)},
		}},
		CachePolicy: domain.CachePolicy{TTL: 10 * time.Minute},
		// Quantity collapses into its tier so every quantity in a tier
		// shares one cache entry.
		PreProcess: func(mode domain.Mode, params map[string]any) map[string]any {
			out := make(map[string]any, len(params))
			for k, v := range params {
				out[k] = v
			}
			if qty, ok := out["quantity"].(int64); ok {
				out["tier"] = bulkTier(qty)
				delete(out, "quantity")
			}
			return out
		},
		Execute: func(ctx context.Context, params map[string]any, actx domain.ActionContext) (domain.ActionResult, error) {
			tier, _ := params["tier"].(string)
			result, err := b.data.CustomExtension(ctx, "bulk_pricing", map[string]any{
				"product_id": params["product_id"],
				"tier":       tier,
			})
			if err != nil {
				return domain.ActionResult{}, err
			}
			return domain.ActionResult{
				Summary: fmt.Sprintf("Bulk tier %s pricing for %v", tier, params["product_id"]),
				Data:    result,
			}, nil
		},
		PostProcess: func(mode domain.Mode, result domain.ActionResult) domain.ActionResult {
			// Wholesale figures never leave B2B, even if the mode flipped
			// between selection and formatting.
			if mode != domain.ModeB2B {
				result.Data = nil
				result.Summary = "Bulk pricing is available on business accounts."
			}
			return result
		},
	}
}

func formatPrice(minor int64, currency string) string {
	if currency == "" {
		currency = "USD"
	}
	return fmt.Sprintf("%d.%02d %s", minor/100, minor%100, currency)
}
