package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aihub/usage-core/internal/config"
	apperrors "github.com/aihub/usage-core/internal/errors"
	"github.com/aihub/usage-core/internal/kafka"
	"github.com/aihub/usage-core/internal/metrics"
	"github.com/aihub/usage-core/internal/models"
	"github.com/aihub/usage-core/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// testEnv 基于内存仓库组装的服务集合
type testEnv struct {
	store         *repository.MemoryStore
	conversations *ConversationService
	templates     *TemplateService
	usage         *UsageService
	analytics     *AnalyticsService
	cache         *memoryCache
	publisher     *mockPublisher
	registry      *prometheus.Registry
	model         models.AIModel
	freeModel     models.AIModel
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	clock := func() time.Time { return fixedNow }
	store.SetClock(clock)

	inRate, outRate := 0.00005, 0.0001
	svc := store.AddService(models.AIService{Name: "openai", Provider: "openai"})
	model := store.AddModel(models.AIModel{ServiceID: svc.ID, Name: "gpt-4o", CostPerInputToken: &inRate, CostPerOutputToken: &outRate})
	free := store.AddModel(models.AIModel{ServiceID: svc.ID, Name: "local"})

	reg := prometheus.NewRegistry()
	usageMetrics, err := metrics.NewUsageMetrics(reg, "test")
	require.NoError(t, err)
	errorMonitor, err := apperrors.NewErrorMonitor(reg, "test")
	require.NoError(t, err)

	logger := zap.NewNop()
	metering := config.DefaultMetering()
	analyticsCache := newMemoryCache()
	publisher := &mockPublisher{}
	publisher.On("PublishUsage", mock.Anything, mock.Anything).Return(nil).Maybe()

	conversations := NewConversationService(store.Conversations(), logger)
	conversations.now = clock
	templates := NewTemplateService(store.Templates(), store.UsageLogs(), logger)
	usage := NewUsageService(UsageServiceDeps{
		Tx:            store,
		UsageLogs:     store.UsageLogs(),
		Registry:      store.Models(),
		Conversations: conversations,
		Templates:     templates,
		Cache:         analyticsCache,
		Publisher:     publisher,
		Metrics:       usageMetrics,
		Errors:        errorMonitor,
		Metering:      metering,
		Logger:        logger,
	})
	usage.now = clock
	analytics := NewAnalyticsService(store.UsageLogs(), analyticsCache, metering, logger)
	analytics.now = clock

	return &testEnv{
		store:         store,
		conversations: conversations,
		templates:     templates,
		usage:         usage,
		analytics:     analytics,
		cache:         analyticsCache,
		publisher:     publisher,
		registry:      reg,
		model:         model,
		freeModel:     free,
	}
}

// seedLog 直接写入一条用量日志
func (e *testEnv) seedLog(t *testing.T, log models.UsageLog) {
	t.Helper()
	if log.OperationType == "" {
		log.OperationType = models.OperationChat
	}
	if log.Status == "" {
		log.Status = models.StatusSuccess
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = fixedNow.Add(-time.Hour)
	}
	require.NoError(t, e.store.UsageLogs().Create(context.Background(), &log))
}

func intPtr(v int) *int { return &v }

func uintPtr(v uint) *uint { return &v }

func strPtr(v string) *string { return &v }

// mockPublisher 用量事件发布器 mock
type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishUsage(ctx context.Context, event *kafka.UsageEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *mockPublisher) Close() error {
	return nil
}

// memoryCache 按代数失效的内存缓存
type memoryCache struct {
	mu          sync.Mutex
	gen         int
	entries     map[string][]byte
	hits        int
	invalidated int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (c *memoryCache) key(key string) string {
	return fmt.Sprintf("%d:%s", c.gen, key)
}

func (c *memoryCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[c.key(key)]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(data, dest)
}

func (c *memoryCache) Set(_ context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.key(key)] = data
	return nil
}

func (c *memoryCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.invalidated++
	return nil
}
