package cache

import (
	"context"
	"time"

	"github.com/fortunepoints/backend/internal/models"
)

// DefaultTTL bounds how stale an unmutated cache entry may get.
const DefaultTTL = 5 * time.Minute

// Stats is introspection output only; it has no correctness dependency.
type Stats struct {
	Size int           `json:"size"`
	TTL  time.Duration `json:"ttl"`
	Keys []string      `json:"keys"`
}

// BalanceCache is a read cache over account rows. It is an optimization, never
// a source of truth: implementations must treat their own failures as misses
// and must never fail a mutating call. Invalidate is called after every
// successful store commit, before the mutating call returns.
type BalanceCache interface {
	Get(ctx context.Context, accountID string) (*models.Account, bool)
	Put(ctx context.Context, accountID string, account *models.Account)
	Invalidate(ctx context.Context, accountID string)
	Stats(ctx context.Context) Stats
}
