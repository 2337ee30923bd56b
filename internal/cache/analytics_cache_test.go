package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stats struct {
	Requests int64   `json:"requests"`
	Cost     float64 `json:"cost"`
}

func TestRedisCache_Miss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewRedisCache(client, "usage:", time.Minute, zap.NewNop())

	mock.ExpectGet("usage:analytics:gen").RedisNil()
	mock.ExpectGet("usage:analytics:0:stats").RedisNil()

	var got stats
	hit, err := cache.Get(context.Background(), "stats", &got)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_SetThenHit(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewRedisCache(client, "usage:", time.Minute, zap.NewNop())
	ctx := context.Background()

	mock.ExpectGet("usage:analytics:gen").SetVal("3")
	mock.ExpectSet("usage:analytics:3:stats", `{"requests":2,"cost":0.5}`, time.Minute).SetVal("OK")
	require.NoError(t, cache.Set(ctx, "stats", stats{Requests: 2, Cost: 0.5}))

	mock.ExpectGet("usage:analytics:gen").SetVal("3")
	mock.ExpectGet("usage:analytics:3:stats").SetVal(`{"requests":2,"cost":0.5}`)

	var got stats
	hit, err := cache.Get(ctx, "stats", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, stats{Requests: 2, Cost: 0.5}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_InvalidateMovesGeneration(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewRedisCache(client, "usage:", time.Minute, zap.NewNop())
	ctx := context.Background()

	mock.ExpectIncr("usage:analytics:gen").SetVal(4)
	require.NoError(t, cache.Invalidate(ctx))

	// 新代数下旧结果不可见
	mock.ExpectGet("usage:analytics:gen").SetVal("4")
	mock.ExpectGet("usage:analytics:4:stats").RedisNil()

	var got stats
	hit, err := cache.Get(ctx, "stats", &got)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_CorruptEntryIsMiss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewRedisCache(client, "usage:", time.Minute, zap.NewNop())

	mock.ExpectGet("usage:analytics:gen").SetVal("1")
	mock.ExpectGet("usage:analytics:1:stats").SetVal(`{broken`)

	var got stats
	hit, err := cache.Get(context.Background(), "stats", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisCache_ErrorPropagates(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewRedisCache(client, "usage:", time.Minute, zap.NewNop())

	mock.ExpectIncr("usage:analytics:gen").SetErr(errors.New("connection refused"))
	assert.Error(t, cache.Invalidate(context.Background()))
}

func TestNoopCache(t *testing.T) {
	var cache AnalyticsCache = NoopCache{}
	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "k", 1))
	var v int
	hit, err := cache.Get(ctx, "k", &v)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NoError(t, cache.Invalidate(ctx))
}
