package bootstrap

import (
	"fmt"
	"log"

	"github.com/aihub/usage-core/internal/config"
	"github.com/aihub/usage-core/internal/di"
	"github.com/aihub/usage-core/internal/kafka"
	"github.com/aihub/usage-core/internal/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	cfg          *config.Config
	container    *dig.Container
	cleanupTasks []func() error
}

var globalApp *App

// GetApp returns the process-wide App set by Init.
func GetApp() *App {
	return globalApp
}

// SetGlobalApp replaces the process-wide App.
func SetGlobalApp(app *App) {
	globalApp = app
}

// Config returns the configuration the App was started with.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Invoke resolves dependencies from the App's container.
func (a *App) Invoke(function interface{}) error {
	return a.container.Invoke(function)
}

// Init loads configuration, builds the container and opens the external
// connections so that startup failures surface before any work is done.
func Init() (*App, error) {
	loader := config.NewConfigLoader()
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	config.AppConfig = cfg

	container, err := di.InitContainer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build container: %w", err)
	}

	app := &App{cfg: cfg, container: container}

	err = container.Invoke(func(db *gorm.DB, rdb *redis.Client, publisher kafka.Publisher, log *zap.Logger) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		app.addCleanup(func() error {
			log.Info("Closing database connections")
			return sqlDB.Close()
		})
		if rdb != nil {
			app.addCleanup(func() error {
				log.Info("Closing Redis client")
				return rdb.Close()
			})
		}
		app.addCleanup(publisher.Close)
		return nil
	})
	if err != nil {
		app.Shutdown()
		return nil, fmt.Errorf("failed to open connections: %w", err)
	}

	// 配置文件变化时只热更新日志级别，连接参数需要重启生效
	loader.Watch(func(next *config.Config) {
		logger.SetLevel(next.Log.Level)
		logger.Info("Configuration reloaded", zap.String("log_level", next.Log.Level))
	})

	logger.Info("Application initialized",
		zap.String("service", cfg.Server.Name),
		zap.String("env", cfg.Server.Env),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("kafka", cfg.Kafka.Enabled))

	SetGlobalApp(app)
	return app, nil
}

func (a *App) addCleanup(task func() error) {
	a.cleanupTasks = append(a.cleanupTasks, task)
}

// Shutdown releases resources in reverse order of acquisition.
func (a *App) Shutdown() {
	// Execute cleanup tasks in reverse order (best effort).
	for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
		if err := a.cleanupTasks[i](); err != nil {
			log.Printf("Cleanup error: %v\n", err)
		}
	}
	a.cleanupTasks = nil

	// Flush logger buffers.
	logger.Sync()
}
