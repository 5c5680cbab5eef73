package dimension

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"reporting-etl/internal/types/metric"
)

const redisKeyPrefix = "etl:dim:"

// RedisCache - общий кэш ключей измерений: hash dim -> (value -> id)
type RedisCache struct {
	RedisClient *redis.Client
	Logger      *zap.SugaredLogger
	ttl         time.Duration
}

func NewRedisCache(client *redis.Client, logger *zap.SugaredLogger, ttl time.Duration) *RedisCache {
	return &RedisCache{
		RedisClient: client,
		Logger:      logger,
		ttl:         ttl,
	}
}

func redisKey(dim metric.Dimension) string {
	return redisKeyPrefix + string(dim)
}

func (c *RedisCache) Get(ctx context.Context, dim metric.Dimension, value string) (int64, bool, error) {
	raw, err := c.RedisClient.HGet(ctx, redisKey(dim), value).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// битое значение считаем промахом, его перезапишет Set
		c.Logger.Warnw("corrupted dimension cache entry", "dimension", dim, "value", value)
		return 0, false, nil
	}

	return id, true, nil
}

func (c *RedisCache) Set(ctx context.Context, dim metric.Dimension, value string, id int64) error {
	key := redisKey(dim)
	if err := c.RedisClient.HSet(ctx, key, value, strconv.FormatInt(id, 10)).Err(); err != nil {
		return err
	}
	if c.ttl > 0 {
		return c.RedisClient.Expire(ctx, key, c.ttl).Err()
	}

	return nil
}
