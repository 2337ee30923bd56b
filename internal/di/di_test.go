package di

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aihub/usage-core/internal/cache"
	"github.com/aihub/usage-core/internal/config"
	"github.com/aihub/usage-core/internal/database"
	apperrors "github.com/aihub/usage-core/internal/errors"
	"github.com/aihub/usage-core/internal/kafka"
	"github.com/aihub/usage-core/internal/metrics"
	"github.com/aihub/usage-core/internal/services"
	"github.com/go-redis/redismock/v9"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/dig"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:     config.ServerConfig{Name: "usage-core", Env: "test"},
		Redis:      config.RedisConfig{Enabled: true, TTL: 0},
		Prometheus: config.PrometheusConfig{Enabled: true, Namespace: "test"},
		Metering:   config.DefaultMetering(),
		Log:        config.LogConfig{Level: "debug"},
	}
}

// newTestContainer 用 sqlmock 与 redismock 替换外部连接
func newTestContainer(t *testing.T) (*dig.Container, redismock.ClientMock) {
	t.Helper()
	sqlDB, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	rdb, redisMock := redismock.NewClientMock()

	container := dig.New()
	require.NoError(t, container.Provide(func() *gorm.DB { return db }))
	require.NoError(t, container.Provide(func() *redis.Client { return rdb }))
	require.NoError(t, container.Provide(func() *zap.Logger { return zap.NewNop() }))
	require.NoError(t, container.Provide(func() kafka.Publisher { return kafka.NoopPublisher{} }))
	require.NoError(t, RegisterComponents(container, testConfig()))
	return container, redisMock
}

func TestRegisterComponents_ResolvesServices(t *testing.T) {
	container, _ := newTestContainer(t)

	err := container.Invoke(func(
		conversations *services.ConversationService,
		templates *services.TemplateService,
		usage *services.UsageService,
		analytics *services.AnalyticsService,
		analyticsCache cache.AnalyticsCache,
		usageMetrics *metrics.UsageMetrics,
		errorMonitor *apperrors.ErrorMonitor,
	) {
		assert.NotNil(t, conversations)
		assert.NotNil(t, templates)
		assert.NotNil(t, usage)
		assert.NotNil(t, analytics)
		assert.IsType(t, &cache.RedisCache{}, analyticsCache)
		assert.NotNil(t, usageMetrics)
		assert.NotNil(t, errorMonitor)
	})
	require.NoError(t, err)
}

func TestRegisterComponents_RegistryAndHealth(t *testing.T) {
	container, redisMock := newTestContainer(t)
	redisMock.ExpectPing().SetVal("PONG")

	err := container.Invoke(func(reg *prometheus.Registry, checker *database.HealthChecker) {
		families, err := reg.Gather()
		require.NoError(t, err)
		assert.NotEmpty(t, families)

		require.NoError(t, checker.Check(context.Background()))
		report := checker.Report()
		assert.True(t, report.Healthy)
		assert.Contains(t, report.Components, "postgres")
		assert.Contains(t, report.Components, "redis")
	})
	require.NoError(t, err)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestRegisterProviders_RequiresConfig(t *testing.T) {
	assert.Error(t, RegisterProviders(dig.New(), nil))

	_, err := InitContainer(nil)
	assert.Error(t, err)
}
