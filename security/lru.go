package security

import (
	"container/list"
	"time"
)

// lruTable maps keys to per-key limiter state and evicts the least recently
// used key once maxEntries is reached. It is not safe for concurrent use;
// callers hold their own lock.
type lruTable[V any] struct {
	entries    map[string]*list.Element
	order      *list.List // front is most recently used
	maxEntries int        // 0 = unlimited
	evictions  int64
}

type lruEntry[V any] struct {
	key        string
	value      V
	lastAccess time.Time
}

func newLRUTable[V any](maxEntries int) *lruTable[V] {
	return &lruTable[V]{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
	}
}

// get returns the entry for key and marks it used at now.
func (t *lruTable[V]) get(key string, now time.Time) (*lruEntry[V], bool) {
	elem, ok := t.entries[key]
	if !ok {
		return nil, false
	}
	t.order.MoveToFront(elem)
	entry := elem.Value.(*lruEntry[V])
	entry.lastAccess = now
	return entry, true
}

// put adds a new entry, evicting the least recently used one when full.
// It reports the evicted key, if any.
func (t *lruTable[V]) put(key string, value V, now time.Time) (entry *lruEntry[V], evicted string) {
	if t.maxEntries > 0 && len(t.entries) >= t.maxEntries {
		if back := t.order.Back(); back != nil {
			old := back.Value.(*lruEntry[V])
			delete(t.entries, old.key)
			t.order.Remove(back)
			t.evictions++
			evicted = old.key
		}
	}

	entry = &lruEntry[V]{key: key, value: value, lastAccess: now}
	t.entries[key] = t.order.PushFront(entry)
	return entry, evicted
}

// removeIdle drops entries not used within maxIdle of now.
func (t *lruTable[V]) removeIdle(now time.Time, maxIdle time.Duration) int {
	removed := 0
	// Idle entries collect at the back.
	for elem := t.order.Back(); elem != nil; {
		entry := elem.Value.(*lruEntry[V])
		if now.Sub(entry.lastAccess) <= maxIdle {
			break
		}
		prev := elem.Prev()
		delete(t.entries, entry.key)
		t.order.Remove(elem)
		removed++
		elem = prev
	}
	return removed
}

func (t *lruTable[V]) len() int {
	return len(t.entries)
}

// pressure is the percentage of capacity in use, 0 when unlimited.
func (t *lruTable[V]) pressure() float64 {
	if t.maxEntries <= 0 {
		return 0
	}
	return float64(len(t.entries)) / float64(t.maxEntries) * 100.0
}
