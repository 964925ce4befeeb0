package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultKeyPrefix namespaces dashboard entries.
const DefaultKeyPrefix = "gearlog:dashboard:"

// DashboardCache stores rendered compliance dashboards in Redis, keyed by
// tenant scope.
type DashboardCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewDashboardCache builds the cache. A non-positive ttl disables writes.
func NewDashboardCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *DashboardCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardCache{client: client, prefix: DefaultKeyPrefix, ttl: ttl, logger: logger}
}

func (c *DashboardCache) key(scopeKey string) string {
	return c.prefix + scopeKey
}

// Load decodes the cached value for scopeKey into dst. It reports false on a miss.
func (c *DashboardCache) Load(ctx context.Context, scopeKey string, dst any) (bool, error) {
	val, err := c.client.Get(ctx, c.key(scopeKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("get dashboard cache: %w", err)
	}
	if err := json.Unmarshal(val, dst); err != nil {
		return false, fmt.Errorf("decode dashboard cache: %w", err)
	}
	return true, nil
}

// Store writes value for scopeKey with the configured TTL.
func (c *DashboardCache) Store(ctx context.Context, scopeKey string, value any) error {
	if c.ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode dashboard cache: %w", err)
	}
	if err := c.client.Set(ctx, c.key(scopeKey), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set dashboard cache: %w", err)
	}
	return nil
}

// Invalidate drops the entries for the given scope keys.
func (c *DashboardCache) Invalidate(ctx context.Context, scopeKeys ...string) error {
	if len(scopeKeys) == 0 {
		return nil
	}
	keys := make([]string, 0, len(scopeKeys))
	for _, k := range scopeKeys {
		keys = append(keys, c.key(k))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate dashboard cache: %w", err)
	}
	c.logger.Debug("dashboard cache invalidated", zap.Strings("keys", keys))
	return nil
}
