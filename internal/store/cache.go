package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"treasury/internal/model"
)

// BalanceCache is a short-TTL read cache in front of vault balance queries.
// The engine remains the source of truth; the TTL bounds staleness instead
// of explicit invalidation, which keeps the treasury hot path free of cache
// writes.
type BalanceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewBalanceCache(rdb *redis.Client, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &BalanceCache{rdb: rdb, ttl: ttl}
}

func vaultKey(org string) string {
	return fmt.Sprintf("vault:%s", org)
}

// GetVault returns the cached balances and whether the key was present.
func (c *BalanceCache) GetVault(ctx context.Context, org string) (map[model.Rail]uint64, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, vaultKey(org)).Bytes()
	if err != nil {
		return nil, false
	}
	out := make(map[model.Rail]uint64)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

// SetVault stores the balances under the configured TTL. Best effort.
func (c *BalanceCache) SetVault(ctx context.Context, org string, balances map[model.Rail]uint64) {
	if c == nil || c.rdb == nil {
		return
	}
	raw, err := json.Marshal(balances)
	if err != nil {
		return
	}
	_ = c.rdb.Set(ctx, vaultKey(org), raw, c.ttl).Err()
}
