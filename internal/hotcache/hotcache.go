// Package hotcache is the short-TTL tier of recently touched memories.
// It is a pure latency optimization: entries do not survive a restart, a
// miss is never an error, and nothing here is authoritative.
package hotcache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/engramhq/engram/internal/memory"
)

type entry struct {
	rec     *memory.Record
	touched time.Time
}

// Cache holds per-owner LRU shards so owners never contend on one lock.
type Cache struct {
	ttl      time.Duration
	perOwner int

	mu     sync.RWMutex
	shards map[string]*lru.Cache[string, entry]

	stopOnce sync.Once
	stop     chan struct{}

	// now is swappable for tests.
	now func() time.Time
}

// New creates a cache with the given per-owner capacity and entry TTL.
func New(perOwner int, ttl time.Duration) *Cache {
	if perOwner <= 0 {
		perOwner = 256
	}
	return &Cache{
		ttl:      ttl,
		perOwner: perOwner,
		shards:   make(map[string]*lru.Cache[string, entry]),
		stop:     make(chan struct{}),
		now:      time.Now,
	}
}

// StartSweep runs the background TTL sweep until Stop is called.
func (c *Cache) StartSweep(every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop shuts down the background sweep.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Put stores a record under its owner's shard. Archived records are never
// cached.
func (c *Cache) Put(ownerID, memoryID string, rec *memory.Record) {
	if rec == nil || rec.Archived() {
		return
	}

	c.mu.Lock()
	shard, ok := c.shards[ownerID]
	if !ok {
		// lru.New only errors on non-positive size, guarded in New.
		shard, _ = lru.New[string, entry](c.perOwner)
		c.shards[ownerID] = shard
	}
	c.mu.Unlock()

	shard.Add(memoryID, entry{rec: rec, touched: c.now()})
}

// Get returns a single live entry, or nil on miss or expiry.
func (c *Cache) Get(ownerID, memoryID string) *memory.Record {
	c.mu.RLock()
	shard, ok := c.shards[ownerID]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	e, ok := shard.Peek(memoryID)
	if !ok {
		return nil
	}
	if c.expired(e) {
		shard.Remove(memoryID)
		return nil
	}
	return e.rec
}

// GetRecent returns up to limit live entries for an owner, most recently
// touched first.
func (c *Cache) GetRecent(ownerID string, limit int) []*memory.Record {
	if limit <= 0 {
		limit = 10
	}

	c.mu.RLock()
	shard, ok := c.shards[ownerID]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	// Keys are ordered oldest to newest; walk backwards.
	keys := shard.Keys()
	var recs []*memory.Record
	for i := len(keys) - 1; i >= 0 && len(recs) < limit; i-- {
		e, ok := shard.Peek(keys[i])
		if !ok {
			continue
		}
		if c.expired(e) {
			shard.Remove(keys[i])
			continue
		}
		recs = append(recs, e.rec)
	}
	return recs
}

// Invalidate drops a single entry, e.g. after archival.
func (c *Cache) Invalidate(ownerID, memoryID string) {
	c.mu.RLock()
	shard, ok := c.shards[ownerID]
	c.mu.RUnlock()
	if ok {
		shard.Remove(memoryID)
	}
}

// Sweep evicts expired entries and drops empty shards.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for owner, shard := range c.shards {
		for _, key := range shard.Keys() {
			if e, ok := shard.Peek(key); ok && c.expired(e) {
				shard.Remove(key)
			}
		}
		if shard.Len() == 0 {
			delete(c.shards, owner)
		}
	}
}

// Len reports the total number of cached entries across owners.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := 0
	for _, shard := range c.shards {
		total += shard.Len()
	}
	return total
}

func (c *Cache) expired(e entry) bool {
	return c.ttl > 0 && c.now().Sub(e.touched) > c.ttl
}
