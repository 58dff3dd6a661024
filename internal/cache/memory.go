package cache

import (
	"context"
	"sync"
	"time"

	"github.com/fortunepoints/backend/internal/models"
)

type memoryEntry struct {
	account  models.Account
	cachedAt time.Time
}

// MemoryCache is the in-process fallback used when Redis is unavailable and in
// tests. Same contract as RedisCache: entries expire after the TTL and are
// removed on expired reads.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, accountID string) (*models.Account, bool) {
	c.mu.RLock()
	entry, ok := c.entries[accountID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if c.now().Sub(entry.cachedAt) >= c.ttl {
		c.mu.Lock()
		// Re-check under the write lock: a Put may have raced the expiry.
		if current, ok := c.entries[accountID]; ok && c.now().Sub(current.cachedAt) >= c.ttl {
			delete(c.entries, accountID)
		}
		c.mu.Unlock()
		return nil, false
	}

	account := entry.account
	return &account, true
}

func (c *MemoryCache) Put(_ context.Context, accountID string, account *models.Account) {
	if account == nil {
		return
	}
	c.mu.Lock()
	c.entries[accountID] = memoryEntry{account: *account, cachedAt: c.now()}
	c.mu.Unlock()
}

func (c *MemoryCache) Invalidate(_ context.Context, accountID string) {
	c.mu.Lock()
	delete(c.entries, accountID)
	c.mu.Unlock()
}

func (c *MemoryCache) Stats(_ context.Context) Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{Size: len(c.entries), TTL: c.ttl, Keys: make([]string, 0, len(c.entries))}
	for key := range c.entries {
		stats.Keys = append(stats.Keys, key)
	}
	return stats
}
