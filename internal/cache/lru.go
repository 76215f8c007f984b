package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/doeshing/merchat/internal/domain"
	"github.com/doeshing/merchat/internal/ports"
)

// LRU is the in-process L1 tier: a bounded map with least-recently-used
// eviction. All operations are O(1) and safe for concurrent use.
type LRU struct {
	mu         sync.Mutex
	maxEntries int
	order      *list.List
	items      map[string]*list.Element
	now        func() time.Time
}

type lruItem struct {
	entry domain.CacheEntry
}

var _ ports.CacheStore = (*LRU)(nil)

// NewLRU creates an L1 tier holding at most maxEntries live entries.
func NewLRU(maxEntries int) *LRU {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &LRU{
		maxEntries: maxEntries,
		order:      list.New(),
		items:      make(map[string]*list.Element),
		now:        time.Now,
	}
}

func (l *LRU) Get(_ context.Context, key string) (domain.CacheEntry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.items[key]
	if !ok {
		return domain.CacheEntry{}, false, nil
	}
	entry := el.Value.(*lruItem).entry
	if entry.Expired(l.now()) {
		l.order.Remove(el)
		delete(l.items, key)
		return domain.CacheEntry{}, false, nil
	}
	l.order.MoveToFront(el)
	return entry, true, nil
}

func (l *LRU) Set(_ context.Context, entry domain.CacheEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.items[entry.Key]; ok {
		el.Value.(*lruItem).entry = entry
		l.order.MoveToFront(el)
		return nil
	}
	l.items[entry.Key] = l.order.PushFront(&lruItem{entry: entry})
	for l.order.Len() > l.maxEntries {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.items, oldest.Value.(*lruItem).entry.Key)
	}
	return nil
}

func (l *LRU) Invalidate(_ context.Context, prefix string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, el := range l.items {
		if strings.HasPrefix(key, prefix) {
			l.order.Remove(el)
			delete(l.items, key)
		}
	}
	return nil
}

func (l *LRU) Len(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items), nil
}
