package hsg

import (
	"container/list"
	"fmt"
	"sort"
	"sync"
	"time"
)

// queryCache is an LRU cache (get and put both refresh recency) with a 60s
// TTL per entry and a 1000-entry size cap.
type queryCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	maxSize  int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
}

type cacheEntry struct {
	key       string
	value     []SearchResult
	insertedAt time.Time
}

func newQueryCache(maxSize int, ttl time.Duration) *queryCache {
	return &queryCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// cacheKey builds a deterministic cache key from the query text, k and the
// sorted filter fields, so logically equal queries share an entry.
func cacheKey(query string, k int, f SearchFilters) string {
	sectors := append([]string(nil), sectorStrings(f.Sectors)...)
	sort.Strings(sectors)
	tags := append([]string(nil), f.Tags...)
	sort.Strings(tags)
	return fmt.Sprintf("q=%s|k=%d|u=%s|sec=%v|sal=%g|s=%d|e=%d|tags=%v",
		query, k, f.UserID, sectors, f.MinSalience, f.StartTimeMS, f.EndTimeMS, tags)
}

func (c *queryCache) get(key string, now time.Time) ([]SearchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if now.Sub(entry.insertedAt) > c.ttl {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil, false
	}
	c.order.MoveToFront(el)
	return entry.value, true
}

func (c *queryCache) put(key string, value []SearchResult, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).value = value
		el.Value.(*cacheEntry).insertedAt = now
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&cacheEntry{key: key, value: value, insertedAt: now})
	c.entries[key] = el
	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// Reset clears the cache.
func (c *queryCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order = list.New()
}

// coactPair is one unordered co-activation observation awaiting the drain
// worker.
type coactPair struct {
	UserID string
	A, B   string
	AtMS   int64
}

// coactBuffer accumulates co-activation pairs and drains them in batches
// of batchSize.
type coactBuffer struct {
	mu        sync.Mutex
	pending   []coactPair
	batchSize int
}

func newCoactBuffer(batchSize int) *coactBuffer {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &coactBuffer{batchSize: batchSize}
}

func (b *coactBuffer) push(p coactPair) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, p)
}

// drainBatch pops up to batchSize pending pairs, or nil if empty.
func (b *coactBuffer) drainBatch() []coactPair {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	n := b.batchSize
	if n > len(b.pending) {
		n = len(b.pending)
	}
	batch := append([]coactPair(nil), b.pending[:n]...)
	b.pending = b.pending[n:]
	return batch
}

// Len reports the number of pairs awaiting drain (test/inspection helper).
func (b *coactBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
