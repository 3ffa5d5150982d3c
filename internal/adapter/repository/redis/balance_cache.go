package redis

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexusai/credit-engine/internal/adapter/metrics"
)

const balanceKeyPrefix = "credit:balance:"

// BalanceCache implements domain.BalanceCache backed by Redis. It is
// strictly best-effort: any Redis failure is logged and treated as a
// cache miss, so a degraded cache never blocks a posting.
type BalanceCache struct {
	client  *redis.Client
	logger  *slog.Logger
	ttl     time.Duration
	metrics *metrics.EngineMetrics
}

// NewBalanceCache creates a new Redis balance cache.
func NewBalanceCache(client *redis.Client, logger *slog.Logger, ttl time.Duration, m *metrics.EngineMetrics) *BalanceCache {
	return &BalanceCache{
		client:  client,
		logger:  logger,
		ttl:     ttl,
		metrics: m,
	}
}

func (c *BalanceCache) Get(ctx context.Context, accountID string) (int64, bool) {
	val, err := c.client.Get(ctx, balanceKeyPrefix+accountID).Result()
	if errors.Is(err, redis.Nil) {
		c.countMiss()
		return 0, false
	}
	if err != nil {
		c.logger.Warn("balance cache read failed", "account_id", accountID, "error", err)
		c.countMiss()
		return 0, false
	}

	balance, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		c.logger.Warn("balance cache holds malformed value", "account_id", accountID, "value", val)
		c.Invalidate(ctx, accountID)
		c.countMiss()
		return 0, false
	}

	if c.metrics != nil {
		c.metrics.BalanceCacheHits.Inc()
	}
	return balance, true
}

func (c *BalanceCache) Set(ctx context.Context, accountID string, balance int64) {
	err := c.client.Set(ctx, balanceKeyPrefix+accountID, strconv.FormatInt(balance, 10), c.ttl).Err()
	if err != nil {
		c.logger.Warn("balance cache write failed", "account_id", accountID, "error", err)
	}
}

func (c *BalanceCache) Invalidate(ctx context.Context, accountID string) {
	if err := c.client.Del(ctx, balanceKeyPrefix+accountID).Err(); err != nil {
		c.logger.Warn("balance cache invalidation failed", "account_id", accountID, "error", err)
	}
}

func (c *BalanceCache) countMiss() {
	if c.metrics != nil {
		c.metrics.BalanceCacheMisses.Inc()
	}
}
