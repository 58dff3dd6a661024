package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fortunepoints/backend/internal/models"
)

const balanceKeyPrefix = "points:balance:"

// RedisCache stores account snapshots in Redis with a TTL. Cache errors are
// logged and degrade to misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func balanceKey(accountID string) string {
	return balanceKeyPrefix + accountID
}

func (c *RedisCache) Get(ctx context.Context, accountID string) (*models.Account, bool) {
	data, err := c.client.Get(ctx, balanceKey(accountID)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("[CACHE] Redis get failed for %s: %v", accountID, err)
		return nil, false
	}

	var account models.Account
	if err := json.Unmarshal(data, &account); err != nil {
		log.Printf("[CACHE] Corrupt cache entry for %s, evicting: %v", accountID, err)
		c.client.Del(ctx, balanceKey(accountID))
		return nil, false
	}
	return &account, true
}

func (c *RedisCache) Put(ctx context.Context, accountID string, account *models.Account) {
	data, err := json.Marshal(account)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, balanceKey(accountID), data, c.ttl).Err(); err != nil {
		log.Printf("[CACHE] Redis set failed for %s: %v", accountID, err)
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, accountID string) {
	if err := c.client.Del(ctx, balanceKey(accountID)).Err(); err != nil {
		log.Printf("[CACHE] Redis del failed for %s: %v", accountID, err)
	}
}

// Stats scans the balance key space. Approximate under concurrent mutation.
func (c *RedisCache) Stats(ctx context.Context) Stats {
	stats := Stats{TTL: c.ttl, Keys: []string{}}

	iter := c.client.Scan(ctx, 0, fmt.Sprintf("%s*", balanceKeyPrefix), 0).Iterator()
	for iter.Next(ctx) {
		stats.Keys = append(stats.Keys, iter.Val()[len(balanceKeyPrefix):])
	}
	if err := iter.Err(); err != nil {
		log.Printf("[CACHE] Redis scan failed: %v", err)
	}
	stats.Size = len(stats.Keys)
	return stats
}
