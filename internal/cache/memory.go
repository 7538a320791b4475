package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCache keeps entries in process memory. It is used when no Redis URL
// is configured. The number of entries is capped; when full, expired entries
// are dropped first and then the oldest ones.
type MemoryCache struct {
	mu         sync.Mutex
	data       map[string]*memoryEntry
	order      []string
	maxEntries int
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryCache creates a MemoryCache holding at most maxEntries keys and
// starts its cleanup goroutine. Call Close to stop it.
func NewMemoryCache(maxEntries int) *MemoryCache {
	c := newMemoryCache(maxEntries, time.Now)
	go c.cleanup(time.Minute)
	return c
}

func newMemoryCache(maxEntries int, now func() time.Time) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 100_000
	}
	return &MemoryCache{
		data:       make(map[string]*memoryEntry),
		maxEntries: maxEntries,
		now:        now,
		stop:       make(chan struct{}),
	}
}

func (c *MemoryCache) Ping(_ context.Context) error { return nil }

func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

func (c *MemoryCache) MarkSeen(_ context.Context, id string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := SeenEventKey(id)
	if _, ok := c.getLocked(key); ok {
		return false, nil
	}
	c.setLocked(key, "1", ttl)
	return true, nil
}

func (c *MemoryCache) SetJobStatus(_ context.Context, jobID uuid.UUID, status string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(JobStatusKey(jobID), status, ttl)
	return nil
}

func (c *MemoryCache) GetJobStatus(_ context.Context, jobID uuid.UUID) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.getLocked(JobStatusKey(jobID))
	return v, ok, nil
}

// IncrWithExpiry increments key. The expiry is set on every call, matching
// the Redis implementation.
func (c *MemoryCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	if v, ok := c.getLocked(key); ok {
		n, _ = strconv.ParseInt(v, 10, 64)
	}
	n++
	c.setLocked(key, strconv.FormatInt(n, 10), expiry)
	return n, nil
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func (c *MemoryCache) getLocked(key string) (string, bool) {
	e, ok := c.data[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return "", false
	}
	return e.value, true
}

func (c *MemoryCache) setLocked(key, value string, ttl time.Duration) {
	if _, exists := c.data[key]; !exists {
		if len(c.data) >= c.maxEntries {
			c.evictLocked()
		}
		c.order = append(c.order, key)
	}
	c.data[key] = &memoryEntry{value: value, expiresAt: c.now().Add(ttl)}
}

func (c *MemoryCache) evictLocked() {
	c.removeExpiredLocked()
	for len(c.data) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.data, oldest)
	}
}

func (c *MemoryCache) removeExpiredLocked() {
	now := c.now()
	kept := c.order[:0]
	for _, key := range c.order {
		e, ok := c.data[key]
		if !ok {
			continue
		}
		if !now.Before(e.expiresAt) {
			delete(c.data, key)
			continue
		}
		kept = append(kept, key)
	}
	c.order = kept
}

// cleanup removes expired entries periodically
func (c *MemoryCache) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.removeExpiredLocked()
			c.mu.Unlock()
		}
	}
}

// Compile-time check that MemoryCache implements Cache.
var _ Cache = (*MemoryCache)(nil)
