// Package cache 统计结果缓存
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

// AnalyticsCache 统计结果缓存，Invalidate 之后旧结果不再可见
type AnalyticsCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
	Invalidate(ctx context.Context) error
}

// RedisCache 基于代数的Redis缓存
// 缓存键包含当前代数，Invalidate 通过 INCR 代数让所有旧键失效，旧键随TTL过期
type RedisCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache 创建Redis缓存
func NewRedisCache(client redis.Cmdable, prefix string, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (c *RedisCache) generationKey() string {
	return c.prefix + "analytics:gen"
}

func (c *RedisCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisCache) fullKey(gen int64, key string) string {
	return fmt.Sprintf("%sanalytics:%d:%s", c.prefix, gen, key)
}

// Get 读取缓存，未命中返回 false
func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return false, err
	}
	data, err := c.client.Get(ctx, c.fullKey(gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Warn("丢弃无法解析的缓存", zap.String("key", key), zap.Error(err))
		return false, nil
	}
	return true, nil
}

// Set 写入缓存
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}) error {
	gen, err := c.generation(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.fullKey(gen, key), string(data), c.ttl).Err()
}

// Invalidate 递增代数
func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, c.generationKey()).Err()
}

// NoopCache Redis未启用时使用，从不命中
type NoopCache struct{}

func (NoopCache) Get(context.Context, string, interface{}) (bool, error) { return false, nil }
func (NoopCache) Set(context.Context, string, interface{}) error         { return nil }
func (NoopCache) Invalidate(context.Context) error                       { return nil }
