package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openlend/lenderd/internal/domain"
	"github.com/redis/go-redis/v9"
)

// allowanceTTL bounds staleness: an entry that has not been refreshed by the
// poller in a day is worthless as a fallback.
const allowanceTTL = 24 * time.Hour

// AllowanceCache implements domain.AllowanceCache using plain Redis strings.
// Values are decimal amount strings; keys are produced by the resolver.
type AllowanceCache struct {
	rdb *redis.Client
}

// NewAllowanceCache creates an AllowanceCache backed by the given Client.
func NewAllowanceCache(c *Client) *AllowanceCache {
	return &AllowanceCache{rdb: c.Underlying()}
}

// Set stores the latest observed allowance amount for key.
func (ac *AllowanceCache) Set(ctx context.Context, key string, amount string) error {
	if err := ac.rdb.Set(ctx, key, amount, allowanceTTL).Err(); err != nil {
		return fmt.Errorf("redis: set allowance %s: %w", key, err)
	}
	return nil
}

// Get retrieves the last stored allowance amount for key. It returns
// domain.ErrNotFound when no snapshot exists.
func (ac *AllowanceCache) Get(ctx context.Context, key string) (string, error) {
	v, err := ac.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("redis: get allowance %s: %w", key, err)
	}
	return v, nil
}

// Compile-time interface check.
var _ domain.AllowanceCache = (*AllowanceCache)(nil)
