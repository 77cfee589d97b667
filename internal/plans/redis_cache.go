package plans

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/riskwatch/riskwatch-backend/internal/pkg/logger"
)

// redisCache shares derived quotas across worker processes. A cache failure
// only costs a recompute, so errors degrade to a miss.
type redisCache struct {
	rdb *goredis.Client
	log *logger.Logger
}

func NewRedisCache(rdb *goredis.Client, baseLog *logger.Logger) Cache {
	return &redisCache{
		rdb: rdb,
		log: baseLog.With("component", "QuotaRedisCache"),
	}
}

func quotaCacheKey(planCode string) string {
	return "alerts:quota:" + planCode
}

func (c *redisCache) Get(ctx context.Context, planCode string) (Quota, bool) {
	raw, err := c.rdb.Get(ctx, quotaCacheKey(planCode)).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.log.Warn("Quota cache read failed", "plan", planCode, "error", err)
		}
		return Quota{}, false
	}
	var q Quota
	if err := json.Unmarshal(raw, &q); err != nil {
		c.log.Warn("Quota cache entry corrupt", "plan", planCode, "error", err)
		return Quota{}, false
	}
	return q, true
}

func (c *redisCache) Set(ctx context.Context, planCode string, q Quota, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(q)
	if err != nil {
		c.log.Warn("Quota cache marshal failed", "plan", planCode, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, quotaCacheKey(planCode), raw, ttl).Err(); err != nil {
		c.log.Warn("Quota cache write failed", "plan", planCode, "error", err)
	}
}
