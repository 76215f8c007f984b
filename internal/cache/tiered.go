// Package cache implements the two-tier action result cache: a fast
// in-process LRU (L1) in front of a shared SQLite store (L2). Hits in L2
// are promoted to L1; misses fall through to the loader exactly once per
// key thanks to singleflight.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/doeshing/merchat/internal/domain"
	"github.com/doeshing/merchat/internal/ports"
)

// Loader produces a value on cache miss.
type Loader func(ctx context.Context) ([]byte, error)

// Tiered chains L1 and L2 behind a single lookup. A nil l2 degrades to
// L1-only operation rather than failing.
type Tiered struct {
	l1     ports.CacheStore
	l2     ports.CacheStore
	group  singleflight.Group
	logger ports.Logger
	now    func() time.Time

	l1Hits     atomic.Uint64
	l2Hits     atomic.Uint64
	misses     atomic.Uint64
	promotions atomic.Uint64
}

// NewTiered wires the two tiers together.
func NewTiered(l1, l2 ports.CacheStore, logger ports.Logger) *Tiered {
	return &Tiered{l1: l1, l2: l2, logger: logger, now: time.Now}
}

// GetOrLoad returns the cached value for key, consulting L1 then L2, and
// falls back to load on miss. Concurrent misses for the same key share one
// loader call. Tier errors are logged and treated as misses; the cache is
// an optimization, never a point of failure.
func (t *Tiered) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load Loader) ([]byte, bool, error) {
	if entry, ok := t.lookupL1(ctx, key); ok {
		t.l1Hits.Add(1)
		return entry.Value, true, nil
	}
	if entry, ok := t.lookupL2(ctx, key); ok {
		t.l2Hits.Add(1)
		t.promote(ctx, entry)
		return entry.Value, true, nil
	}
	t.misses.Add(1)

	value, err, _ := t.group.Do(key, func() (any, error) {
		// Another goroutine may have populated the key while this one
		// waited on the flight group.
		if entry, ok := t.lookupL1(ctx, key); ok {
			return entry.Value, nil
		}
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		t.store(ctx, domain.CacheEntry{Key: key, Value: loaded, ExpiresAt: t.now().Add(ttl)})
		return loaded, nil
	})
	if err != nil {
		return nil, false, err
	}
	return value.([]byte), false, nil
}

// Invalidate drops every entry under prefix from both tiers.
func (t *Tiered) Invalidate(ctx context.Context, prefix string) error {
	err := t.l1.Invalidate(ctx, prefix)
	if t.l2 != nil {
		if l2err := t.l2.Invalidate(ctx, prefix); err == nil {
			err = l2err
		}
	}
	return err
}

// Stats reports tier hit counters since startup.
func (t *Tiered) Stats() domain.CacheStats {
	return domain.CacheStats{
		L1Hits:     t.l1Hits.Load(),
		L2Hits:     t.l2Hits.Load(),
		Misses:     t.misses.Load(),
		Promotions: t.promotions.Load(),
	}
}

func (t *Tiered) lookupL1(ctx context.Context, key string) (domain.CacheEntry, bool) {
	entry, ok, err := t.l1.Get(ctx, key)
	if err != nil {
		t.logger.Warn("l1 cache read failed", map[string]interface{}{"key": key, "error": err.Error()})
		return domain.CacheEntry{}, false
	}
	return entry, ok
}

func (t *Tiered) lookupL2(ctx context.Context, key string) (domain.CacheEntry, bool) {
	if t.l2 == nil {
		return domain.CacheEntry{}, false
	}
	entry, ok, err := t.l2.Get(ctx, key)
	if err != nil {
		t.logger.Warn("l2 cache read failed", map[string]interface{}{"key": key, "error": err.Error()})
		return domain.CacheEntry{}, false
	}
	return entry, ok
}

func (t *Tiered) promote(ctx context.Context, entry domain.CacheEntry) {
	if err := t.l1.Set(ctx, entry); err != nil {
		t.logger.Warn("l1 promotion failed", map[string]interface{}{"key": entry.Key, "error": err.Error()})
		return
	}
	t.promotions.Add(1)
}

func (t *Tiered) store(ctx context.Context, entry domain.CacheEntry) {
	if err := t.l1.Set(ctx, entry); err != nil {
		t.logger.Warn("l1 cache write failed", map[string]interface{}{"key": entry.Key, "error": err.Error()})
	}
	if t.l2 != nil {
		if err := t.l2.Set(ctx, entry); err != nil {
			t.logger.Warn("l2 cache write failed", map[string]interface{}{"key": entry.Key, "error": err.Error()})
		}
	}
}
