package domain

import "time"

// CacheEntry is one memoized action result. Value is an opaque JSON blob so
// every tier stores the same representation.
type CacheEntry struct {
	Key       string
	Value     []byte
	ExpiresAt time.Time
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// CacheStats aggregates tier hit counters for diagnostics.
type CacheStats struct {
	L1Hits     uint64 `json:"l1_hits"`
	L2Hits     uint64 `json:"l2_hits"`
	Misses     uint64 `json:"misses"`
	Promotions uint64 `json:"promotions"`
}
