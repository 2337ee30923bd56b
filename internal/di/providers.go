package di

import (
	"context"
	"fmt"
	"os"

	"github.com/aihub/usage-core/internal/cache"
	"github.com/aihub/usage-core/internal/config"
	"github.com/aihub/usage-core/internal/database"
	apperrors "github.com/aihub/usage-core/internal/errors"
	"github.com/aihub/usage-core/internal/kafka"
	"github.com/aihub/usage-core/internal/logger"
	"github.com/aihub/usage-core/internal/metrics"
	"github.com/aihub/usage-core/internal/repository"
	"github.com/aihub/usage-core/internal/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/dig"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RegisterProviders 注册所有依赖提供者
func RegisterProviders(container *dig.Container, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}
	steps := []func(*dig.Container, *config.Config) error{
		registerInfrastructure,
		RegisterComponents,
	}
	for _, step := range steps {
		if err := step(container, cfg); err != nil {
			return err
		}
	}
	return nil
}

// registerInfrastructure 注册需要外部连接的依赖：日志、数据库、Redis、Kafka
func registerInfrastructure(container *dig.Container, cfg *config.Config) error {
	providers := []interface{}{
		func() (*zap.Logger, error) {
			if err := logger.InitLogger(cfg.Log.Level, cfg.Server.Env); err != nil {
				return nil, err
			}
			return logger.GetLogger(), nil
		},
		func() (*gorm.DB, error) {
			return database.OpenPostgres(cfg.Database)
		},
		// Redis 未启用时返回 nil，缓存退化为空实现
		func() (*redis.Client, error) {
			if !cfg.Redis.Enabled {
				return nil, nil
			}
			return database.OpenRedis(context.Background(), cfg.Redis)
		},
		func(log *zap.Logger) (kafka.Publisher, error) {
			if !cfg.Kafka.Enabled {
				return kafka.NoopPublisher{}, nil
			}
			return kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		},
	}
	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return err
		}
	}
	return nil
}

// RegisterComponents 注册仓库、缓存、指标、健康检查与业务服务。
// 依赖 *gorm.DB、*redis.Client、kafka.Publisher 与 *zap.Logger 已在容器中。
func RegisterComponents(container *dig.Container, cfg *config.Config) error {
	providers := []interface{}{
		func() *config.Config { return cfg },
		newInfraLogger,

		// 仓库
		repository.NewTransactor,
		repository.NewConversationRepository,
		repository.NewTemplateRepository,
		repository.NewUsageLogRepository,
		repository.NewModelRegistry,

		newAnalyticsCache,
		newRegistry,
		newUsageMetrics,
		newErrorMonitor,
		newHealthChecker,

		// 服务
		services.NewConversationService,
		services.NewTemplateService,
		newUsageService,
		func(usageLogs repository.UsageLogRepository, analyticsCache cache.AnalyticsCache, log *zap.Logger) *services.AnalyticsService {
			return services.NewAnalyticsService(usageLogs, analyticsCache, cfg.Metering, log)
		},
	}
	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return err
		}
	}
	return nil
}

// newInfraLogger 基础设施（健康检查、迁移）使用的 logrus 日志
func newInfraLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func newAnalyticsCache(cfg *config.Config, client *redis.Client, log *zap.Logger) cache.AnalyticsCache {
	if client == nil {
		return cache.NoopCache{}
	}
	return cache.NewRedisCache(client, cfg.Server.Name+":", cfg.Redis.TTL, log)
}

// newRegistry 进程内的 Prometheus 注册表，包含连接池指标
func newRegistry(cfg *config.Config, db *gorm.DB) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := reg.Register(database.NewPoolCollector(sqlDB, cfg.Prometheus.Namespace)); err != nil {
		return nil, err
	}
	return reg, nil
}

// newUsageMetrics Prometheus 未启用时返回 nil，Observe 对 nil 安全
func newUsageMetrics(cfg *config.Config, reg *prometheus.Registry) (*metrics.UsageMetrics, error) {
	if !cfg.Prometheus.Enabled {
		return nil, nil
	}
	return metrics.NewUsageMetrics(reg, cfg.Prometheus.Namespace)
}

// newErrorMonitor 与用量指标共用注册表和开关
func newErrorMonitor(cfg *config.Config, reg *prometheus.Registry) (*apperrors.ErrorMonitor, error) {
	if !cfg.Prometheus.Enabled {
		return nil, nil
	}
	return apperrors.NewErrorMonitor(reg, cfg.Prometheus.Namespace)
}

func newHealthChecker(db *gorm.DB, client *redis.Client, log *logrus.Logger) (*database.HealthChecker, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	checker := database.NewHealthChecker(log)
	checker.Register("postgres", database.SQLProbe(sqlDB))
	if client != nil {
		checker.Register("redis", database.RedisProbe(client))
	}
	return checker, nil
}

// usageParams 用量服务依赖
type usageParams struct {
	dig.In

	Config        *config.Config
	Tx            repository.Transactor
	UsageLogs     repository.UsageLogRepository
	Registry      repository.ModelRegistry
	Conversations *services.ConversationService
	Templates     *services.TemplateService
	Cache         cache.AnalyticsCache
	Publisher     kafka.Publisher
	Metrics       *metrics.UsageMetrics
	Errors        *apperrors.ErrorMonitor
	Logger        *zap.Logger
}

func newUsageService(p usageParams) *services.UsageService {
	return services.NewUsageService(services.UsageServiceDeps{
		Tx:            p.Tx,
		UsageLogs:     p.UsageLogs,
		Registry:      p.Registry,
		Conversations: p.Conversations,
		Templates:     p.Templates,
		Cache:         p.Cache,
		Publisher:     p.Publisher,
		Metrics:       p.Metrics,
		Errors:        p.Errors,
		Metering:      p.Config.Metering,
		Logger:        p.Logger,
	})
}
