package cache

import (
	"container/list"
	"sync"
	"time"
)

// memEntry is a single memory-tier entry.
type memEntry struct {
	key        string
	namespace  string
	value      []byte
	createdAt  time.Time
	expiresAt  time.Time // zero means no expiry
	accessedAt time.Time
	accesses   int64
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// LRU is the memory tier: a count-bounded, TTL-aware least-recently-used
// cache. TTL is enforced lazily; a get on an expired entry deletes it and
// reports a miss. The entry count never exceeds the configured capacity.
type LRU struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	items    map[string]*list.Element
	hits     int64
	misses   int64
}

// NewLRU creates a memory tier holding at most capacity entries.
func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LRU{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the value for key, marking it recently used. Expired entries
// are removed and reported as misses.
func (c *LRU) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}

	entry := elem.Value.(*memEntry)
	if entry.expired(time.Now()) {
		c.removeElement(elem)
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(elem)
	entry.accessedAt = time.Now()
	entry.accesses++
	c.hits++
	return entry.value, true
}

// Put stores value under key with the given ttl (zero means no expiry),
// evicting the least-recently-used entry if the insert exceeds capacity.
func (c *LRU) Put(key, namespace string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}

	entry := &memEntry{
		key:        key,
		namespace:  namespace,
		value:      value,
		createdAt:  now,
		expiresAt:  expiresAt,
		accessedAt: now,
	}
	c.items[key] = c.order.PushFront(entry)

	for c.order.Len() > c.capacity {
		c.removeElement(c.order.Back())
	}
}

// Delete removes key if present.
func (c *LRU) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// DeleteNamespace removes every entry stored under the given namespace.
func (c *LRU) DeleteNamespace(namespace string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*memEntry).namespace == namespace {
			c.removeElement(elem)
			removed++
		}
		elem = next
	}
	return removed
}

// Sweep purges all expired entries and returns the number removed.
func (c *LRU) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*memEntry).expired(now) {
			c.removeElement(elem)
			removed++
		}
		elem = next
	}
	return removed
}

// Clear removes all entries and resets counters.
func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.items = make(map[string]*list.Element)
	c.hits = 0
	c.misses = 0
}

// Len returns the current entry count.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of tier counters.
func (c *LRU) Stats() TierStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return TierStats{
		Entries:  c.order.Len(),
		Capacity: int64(c.capacity),
		Hits:     c.hits,
		Misses:   c.misses,
	}
}

// removeElement must be called with the lock held.
func (c *LRU) removeElement(elem *list.Element) {
	entry := elem.Value.(*memEntry)
	delete(c.items, entry.key)
	c.order.Remove(elem)
}

// TierStats is a read-only snapshot of one cache tier's counters.
type TierStats struct {
	Entries  int
	Capacity int64
	Bytes    int64
	Hits     int64
	Misses   int64
}

// HitRate returns hits / (hits + misses), or 0 with no traffic.
func (s TierStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
