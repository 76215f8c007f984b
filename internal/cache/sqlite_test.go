package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/doeshing/merchat/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	entry := domain.CacheEntry{Key: "catalog_search:b2c:query=laptop", Value: []byte(`{"hits":3}`), ExpiresAt: time.Now().Add(time.Minute)}
	if err := store.Set(ctx, entry); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	got, ok, err := store.Get(ctx, entry.Key)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if string(got.Value) != string(entry.Value) {
		t.Fatalf("value round trip: got %q", got.Value)
	}
}

func TestSQLiteExpiredEntryMissesAndPurges(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	store.Set(ctx, domain.CacheEntry{Key: "stale", Value: []byte("v"), ExpiresAt: time.Now().Add(-time.Minute)})
	if _, ok, _ := store.Get(ctx, "stale"); ok {
		t.Fatal("expired entry served")
	}

	store.Set(ctx, domain.CacheEntry{Key: "stale2", Value: []byte("v"), ExpiresAt: time.Now().Add(-time.Minute)})
	store.Set(ctx, domain.CacheEntry{Key: "live", Value: []byte("v"), ExpiresAt: time.Now().Add(time.Minute)})
	if n, err := store.Purge(ctx); err != nil || n != 1 {
		t.Fatalf("Purge = %d, %v", n, err)
	}
	if _, ok, _ := store.Get(ctx, "live"); !ok {
		t.Fatal("live entry purged")
	}
}

func TestSQLiteInvalidateByPrefix(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	expires := time.Now().Add(time.Minute)
	store.Set(ctx, domain.CacheEntry{Key: "cart_totals:b2c:", Value: []byte("v"), ExpiresAt: expires})
	store.Set(ctx, domain.CacheEntry{Key: "get_pricing:b2c:sku=lpt-100", Value: []byte("v"), ExpiresAt: expires})

	if err := store.Invalidate(ctx, "cart_totals:"); err != nil {
		t.Fatalf("Invalidate error: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "cart_totals:b2c:"); ok {
		t.Fatal("invalidated entry survived")
	}
	if _, ok, _ := store.Get(ctx, "get_pricing:b2c:sku=lpt-100"); !ok {
		t.Fatal("unrelated entry dropped")
	}
}

func TestSQLiteOverwriteUpdatesValue(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	expires := time.Now().Add(time.Minute)
	store.Set(ctx, domain.CacheEntry{Key: "k", Value: []byte("one"), ExpiresAt: expires})
	store.Set(ctx, domain.CacheEntry{Key: "k", Value: []byte("two"), ExpiresAt: expires})

	got, ok, err := store.Get(ctx, "k")
	if err != nil || !ok || string(got.Value) != "two" {
		t.Fatalf("Get after overwrite = %q, %v, %v", got.Value, ok, err)
	}
	if n, _ := store.Len(ctx); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
}
