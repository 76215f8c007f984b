package domain

// ProductHit is one catalog search result.
type ProductHit struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Price    int64  `json:"price"`
	Currency string `json:"currency"`
}

// InventoryLevel reports on-hand quantity for a product.
type InventoryLevel struct {
	ID  string `json:"id"`
	Qty int    `json:"qty"`
}

// PriceQuote is a mode-specific price for a product.
type PriceQuote struct {
	ID       string `json:"id"`
	Price    int64  `json:"price"`
	Currency string `json:"currency"`
}

// CustomerProfile supplies commerce signals about the session's customer.
type CustomerProfile struct {
	Tier          string `json:"tier"`
	OrderVolume90 int    `json:"order_volume_90d"`
	Locale        string `json:"locale"`
	Currency      string `json:"currency"`
}

// EnrichedContext is the merged result of the parallel Unified Data Access
// reads issued before model invocation. A failed branch leaves its field
// empty and adds its name to Degraded; enrichment never fails as a whole.
type EnrichedContext struct {
	Locale       string           `json:"locale,omitempty"`
	Currency     string           `json:"currency,omitempty"`
	CustomerTier string           `json:"customer_tier,omitempty"`
	Products     []ProductHit     `json:"products,omitempty"`
	Inventory    []InventoryLevel `json:"inventory,omitempty"`
	CartPricing  []PriceQuote     `json:"cart_pricing,omitempty"`
	OrderVolume  int              `json:"order_volume,omitempty"`
	Degraded     []string         `json:"degraded,omitempty"`
}

// CartOp is one cart mutation request sent to Unified Data Access.
type CartOp struct {
	Op        string `json:"op"` // add, set, remove
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}
