package intelligence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/doeshing/merchat/internal/domain"
	"github.com/doeshing/merchat/internal/ports"
)

// Enricher gathers per-turn commerce context in parallel. Each fetch runs
// under its own sub-timeout; a slow or failing source degrades that slice of
// context instead of failing the turn.
type Enricher struct {
	data    ports.DataAccess
	timeout time.Duration
	logger  ports.Logger
}

// NewEnricher wires the enricher to the data backend.
func NewEnricher(data ports.DataAccess, timeout time.Duration, logger ports.Logger) *Enricher {
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	return &Enricher{data: data, timeout: timeout, logger: logger}
}

// Enrich fans out to the customer profile, product candidates, inventory,
// and cart pricing sources. The returned context always has Locale and
// Currency populated; Degraded lists the sources that did not answer.
func (e *Enricher) Enrich(ctx context.Context, state domain.ConversationState, message string) domain.EnrichedContext {
	enriched := domain.EnrichedContext{
		Locale:   "en-US",
		Currency: state.Cart.Currency,
	}
	if enriched.Currency == "" {
		enriched.Currency = "USD"
	}

	var mu sync.Mutex
	degrade := func(source string, err error) {
		mu.Lock()
		enriched.Degraded = append(enriched.Degraded, source)
		mu.Unlock()
		e.logger.Warn("context enrichment degraded", map[string]interface{}{
			"session": state.SessionID, "source": source, "error": err.Error(),
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fctx, cancel := context.WithTimeout(gctx, e.timeout)
		defer cancel()
		profile, err := e.data.CustomerProfile(fctx, state.SessionID)
		if err != nil {
			degrade("profile", err)
			return nil
		}
		mu.Lock()
		enriched.CustomerTier = profile.Tier
		enriched.OrderVolume = profile.OrderVolume90
		if profile.Locale != "" {
			enriched.Locale = profile.Locale
		}
		if profile.Currency != "" {
			enriched.Currency = profile.Currency
		}
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		terms := searchTerms(message)
		if terms == "" {
			return nil
		}
		fctx, cancel := context.WithTimeout(gctx, e.timeout)
		defer cancel()
		hits, err := e.data.SearchCatalog(fctx, terms, nil)
		if err != nil {
			degrade("products", err)
			return nil
		}
		mu.Lock()
		enriched.Products = hits
		mu.Unlock()
		return nil
	})

	cartIDs := productIDs(state.Cart)
	if len(cartIDs) > 0 {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, e.timeout)
			defer cancel()
			levels, err := e.data.GetInventory(fctx, cartIDs)
			if err != nil {
				degrade("inventory", err)
				return nil
			}
			mu.Lock()
			enriched.Inventory = levels
			mu.Unlock()
			return nil
		})

		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, e.timeout)
			defer cancel()
			quotes, err := e.data.GetPricing(fctx, cartIDs, state.Mode)
			if err != nil {
				degrade("pricing", err)
				return nil
			}
			mu.Lock()
			enriched.CartPricing = quotes
			mu.Unlock()
			return nil
		})
	}

	// Fetch closures swallow their own errors, so Wait only propagates
	// context cancellation.
	_ = g.Wait()
	sort.Strings(enriched.Degraded)
	return enriched
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "i": {}, "me": {}, "my": {}, "for": {},
	"to": {}, "of": {}, "and": {}, "or": {}, "in": {}, "on": {}, "is": {},
	"are": {}, "do": {}, "you": {}, "have": {}, "show": {}, "find": {},
	"want": {}, "need": {}, "some": {}, "please": {}, "can": {}, "what": {},
}

// searchTerms extracts candidate catalog terms from the utterance. The
// model does the real retrieval via catalog_search; this pre-fetch only
// warms the context with likely candidates.
func searchTerms(message string) string {
	var kept []string
	for _, word := range strings.Fields(strings.ToLower(message)) {
		word = strings.Trim(word, ".,!?;:'\"()")
		if len(word) < 3 {
			continue
		}
		if _, skip := stopwords[word]; skip {
			continue
		}
		kept = append(kept, word)
		if len(kept) == 6 {
			break
		}
	}
	return strings.Join(kept, " ")
}

func productIDs(cart domain.CartSnapshot) []string {
	seen := make(map[string]struct{}, len(cart.Items))
	var ids []string
	for _, item := range cart.Items {
		if _, dup := seen[item.ProductID]; dup {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}
