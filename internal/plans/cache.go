package plans

import (
	"context"
	"sync"
	"time"
)

// Cache stores derived quotas per plan code. Quota checks are advisory rate
// limits, so cross-process divergence within the TTL is acceptable.
type Cache interface {
	Get(ctx context.Context, planCode string) (Quota, bool)
	Set(ctx context.Context, planCode string, q Quota, ttl time.Duration)
}

type memoryEntry struct {
	quota     Quota
	expiresAt time.Time
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() Cache {
	return &memoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *memoryCache) Get(_ context.Context, planCode string) (Quota, bool) {
	c.mu.RLock()
	e, ok := c.entries[planCode]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expiresAt) {
		return Quota{}, false
	}
	return e.quota, true
}

func (c *memoryCache) Set(_ context.Context, planCode string, q Quota, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[planCode] = memoryEntry{quota: q, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}
