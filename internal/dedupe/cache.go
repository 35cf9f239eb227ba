package dedupe

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// Defaults used by the interceptor.
const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxSize = 4096
)

type entry struct {
	seenAt time.Time
	elem   *list.Element
}

// Cache is a size-bounded set of keys that expire after a TTL. Insertion
// order is tracked so the oldest key is evicted in O(1) when full.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a cache. Expired keys are pruned lazily on insertion.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// PacketKey identifies a mesh packet by its id. The sender is left out:
// packets written by a client carry from=0 and the gateway fills in its own
// node number when it echoes them back.
func PacketKey(id uint32) string {
	return fmt.Sprintf("pkt:%08x", id)
}

// Seen reports whether key was already recorded within the TTL and records
// it if not. The check and the mark happen under one lock.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.seen[key]; ok {
		if now.Sub(e.seenAt) < c.ttl {
			return true
		}
		c.order.Remove(e.elem)
		delete(c.seen, key)
	}

	c.pruneLocked(now)
	if len(c.seen) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.seen[key] = &entry{seenAt: now, elem: c.order.PushBack(key)}
	return false
}

// Contains reports whether key was recorded within the TTL without
// recording it.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.seen[key]
	return ok && c.now().Sub(e.seenAt) < c.ttl
}

// Len returns the number of keys held, including not yet pruned ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// pruneLocked drops expired keys from the front of the insertion list.
func (c *Cache) pruneLocked(now time.Time) {
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(string)
		e := c.seen[key]
		if e == nil || now.Sub(e.seenAt) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.seen, key)
	}
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}
