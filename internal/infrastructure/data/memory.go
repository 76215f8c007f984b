// Package data implements the Unified Data Access port. The in-memory
// backend seeds a small catalog so the engine runs end to end without any
// external commerce platform; real deployments swap in a platform adapter
// behind the same port.
package data

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/doeshing/merchat/internal/domain"
	"github.com/doeshing/merchat/internal/ports"
)

type product struct {
	hit       domain.ProductHit
	stock     int
	b2bPrice  int64
	bulkTiers map[string]int64
	keywords  []string
}

// MemoryBackend is a concurrency-safe in-memory commerce store.
type MemoryBackend struct {
	mu       sync.Mutex
	products map[string]*product
	carts    map[string]domain.CartSnapshot
	profiles map[string]domain.CustomerProfile

	// Fault injection for tests and doctor drills.
	FailNext  map[string]error
	DelayNext map[string]time.Duration
}

var _ ports.DataAccess = (*MemoryBackend)(nil)

// NewMemoryBackend creates a backend seeded with the demo catalog.
func NewMemoryBackend() *MemoryBackend {
	b := &MemoryBackend{
		products:  make(map[string]*product),
		carts:     make(map[string]domain.CartSnapshot),
		profiles:  make(map[string]domain.CustomerProfile),
		FailNext:  make(map[string]error),
		DelayNext: make(map[string]time.Duration),
	}
	b.seed()
	return b
}

func (b *MemoryBackend) seed() {
	seedProducts := []*product{
		{
			hit:       domain.ProductHit{ID: "LPT-100", Name: "Orbit 15 Laptop", Category: "laptops", Price: 129900, Currency: "USD"},
			stock:     42,
			b2bPrice:  119900,
			bulkTiers: map[string]int64{"1-99": 119900, "100-499": 109900, "500-999": 99900, "1000+": 89900},
			keywords:  []string{"laptop", "orbit", "computer", "notebook"},
		},
		{
			hit:       domain.ProductHit{ID: "LPT-200", Name: "Orbit 15 Pro Gaming Laptop", Category: "laptops", Price: 189900, Currency: "USD"},
			stock:     17,
			b2bPrice:  174900,
			bulkTiers: map[string]int64{"1-99": 174900, "100-499": 164900, "500-999": 154900, "1000+": 144900},
			keywords:  []string{"laptop", "gaming", "orbit", "pro"},
		},
		{
			hit:       domain.ProductHit{ID: "MON-300", Name: "Vista 27 Monitor", Category: "monitors", Price: 34900, Currency: "USD"},
			stock:     120,
			b2bPrice:  31900,
			bulkTiers: map[string]int64{"1-99": 31900, "100-499": 28900, "500-999": 26900, "1000+": 24900},
			keywords:  []string{"monitor", "display", "vista", "screen"},
		},
		{
			hit:       domain.ProductHit{ID: "KBD-400", Name: "Tactile Pro Keyboard", Category: "accessories", Price: 12900, Currency: "USD"},
			stock:     300,
			b2bPrice:  11500,
			bulkTiers: map[string]int64{"1-99": 11500, "100-499": 10500, "500-999": 9900, "1000+": 8900},
			keywords:  []string{"keyboard", "tactile", "mechanical"},
		},
	}
	for _, p := range seedProducts {
		b.products[p.hit.ID] = p
	}
	b.profiles["default"] = domain.CustomerProfile{Tier: "standard", Locale: "en-US", Currency: "USD"}
}

// SetProfile registers a customer profile for a session.
func (b *MemoryBackend) SetProfile(sessionID string, profile domain.CustomerProfile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.profiles[sessionID] = profile
}

func (b *MemoryBackend) SearchCatalog(ctx context.Context, query string, filters map[string]any) ([]domain.ProductHit, error) {
	if err := b.fault(ctx, "search"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	category, _ := filters["category"].(string)
	maxPrice, hasMax := priceCeiling(filters["max_price"])
	terms := strings.Fields(strings.ToLower(query))

	var hits []domain.ProductHit
	for _, p := range b.products {
		if category != "" && p.hit.Category != category {
			continue
		}
		if hasMax && p.hit.Price > maxPrice {
			continue
		}
		if matches(p, terms) {
			hits = append(hits, p.hit)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].ID < hits[j].ID })
	return hits, nil
}

// priceCeiling reads a max price filter in minor units.
func priceCeiling(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func matches(p *product, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	haystack := strings.ToLower(p.hit.Name) + " " + strings.Join(p.keywords, " ")
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			return true
		}
	}
	return false
}

func (b *MemoryBackend) GetInventory(ctx context.Context, ids []string) ([]domain.InventoryLevel, error) {
	if err := b.fault(ctx, "inventory"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var levels []domain.InventoryLevel
	for _, id := range ids {
		if p, ok := b.products[id]; ok {
			levels = append(levels, domain.InventoryLevel{ID: id, Qty: p.stock})
		}
	}
	return levels, nil
}

func (b *MemoryBackend) GetPricing(ctx context.Context, ids []string, mode domain.Mode) ([]domain.PriceQuote, error) {
	if err := b.fault(ctx, "pricing"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var quotes []domain.PriceQuote
	for _, id := range ids {
		p, ok := b.products[id]
		if !ok {
			continue
		}
		price := p.hit.Price
		if mode == domain.ModeB2B {
			price = p.b2bPrice
		}
		quotes = append(quotes, domain.PriceQuote{ID: id, Price: price, Currency: p.hit.Currency})
	}
	return quotes, nil
}

func (b *MemoryBackend) MutateCart(ctx context.Context, sessionID string, op domain.CartOp) (domain.CartSnapshot, error) {
	if err := b.fault(ctx, "cart"); err != nil {
		return domain.CartSnapshot{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.products[op.ProductID]
	if !ok {
		return domain.CartSnapshot{}, fmt.Errorf("%w: unknown product %q", domain.ErrPermanentDependency, op.ProductID)
	}

	cart := b.carts[sessionID]
	if cart.Currency == "" {
		cart.Currency = "USD"
	}

	idx := -1
	for i, item := range cart.Items {
		if item.ProductID == op.ProductID && item.VariantID == op.VariantID {
			idx = i
			break
		}
	}

	qty := op.Quantity
	switch op.Op {
	case "add":
		if idx >= 0 {
			qty += cart.Items[idx].Quantity
		}
	case "set":
	case "remove":
		qty = 0
	default:
		return domain.CartSnapshot{}, fmt.Errorf("%w: unknown cart op %q", domain.ErrValidation, op.Op)
	}

	switch {
	case qty <= 0 && idx >= 0:
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
	case qty <= 0:
	case idx >= 0:
		cart.Items[idx].Quantity = qty
	default:
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID: op.ProductID,
			VariantID: op.VariantID,
			Quantity:  qty,
			UnitPrice: p.hit.Price,
		})
	}
	cart.TotalsCacheVersion++
	b.carts[sessionID] = cart

	out := cart
	out.Items = append([]domain.CartItem(nil), cart.Items...)
	return out, nil
}

func (b *MemoryBackend) CustomerProfile(ctx context.Context, sessionID string) (domain.CustomerProfile, error) {
	if err := b.fault(ctx, "profile"); err != nil {
		return domain.CustomerProfile{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if profile, ok := b.profiles[sessionID]; ok {
		return profile, nil
	}
	return b.profiles["default"], nil
}

func (b *MemoryBackend) CustomExtension(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	if err := b.fault(ctx, "extension"); err != nil {
		return nil, err
	}
	if name != "bulk_pricing" {
		return nil, fmt.Errorf("%w: extension %q", domain.ErrCapabilityUnavailable, name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id, _ := args["product_id"].(string)
	tier, _ := args["tier"].(string)
	p, ok := b.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown product %q", domain.ErrPermanentDependency, id)
	}
	price, ok := p.bulkTiers[tier]
	if !ok {
		return nil, fmt.Errorf("%w: unknown tier %q", domain.ErrValidation, tier)
	}
	return map[string]any{
		"product_id": id,
		"tier":       tier,
		"unit_price": price,
		"currency":   p.hit.Currency,
	}, nil
}

func (b *MemoryBackend) Capabilities() []domain.Capability {
	return []domain.Capability{
		domain.CapabilityUnifiedDataAccess,
		domain.CapabilityBulkPricing,
	}
}

// fault applies injected delay or failure for an operation family.
func (b *MemoryBackend) fault(ctx context.Context, op string) error {
	b.mu.Lock()
	delay := b.DelayNext[op]
	delete(b.DelayNext, op)
	err := b.FailNext[op]
	delete(b.FailNext, op)
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}
