package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aihub/usage-core/app/bootstrap"
	"github.com/aihub/usage-core/internal/database"
	"github.com/aihub/usage-core/internal/kafka"
	"github.com/aihub/usage-core/internal/metrics"
	"github.com/aihub/usage-core/internal/services"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// report 一次输出的完整报表
type report struct {
	GeneratedAt time.Time                    `json:"generated_at"`
	UserID      *uint                        `json:"user_id,omitempty"`
	Stats       *services.UsageStats         `json:"stats"`
	Daily       []services.DailyUsage        `json:"daily"`
	ByOperation []services.UsageBreakdown    `json:"by_operation"`
	ByModel     []services.UsageBreakdown    `json:"by_model"`
	Comparison  *services.DailyComparison    `json:"daily_comparison"`
	Cost        *services.CostBreakdown      `json:"cost,omitempty"`
	Performance *services.PerformanceMetrics `json:"performance,omitempty"`
}

func main() {
	var period = flag.String("period", "", "Reporting window, e.g. \"7 days\", \"24h\", \"today\" (defaults to metering.default_period)")
	var user = flag.Uint("user", 0, "Restrict the report to one user id")
	var follow = flag.Bool("follow", false, "After the report, print usage events from Kafka until interrupted")
	var group = flag.String("group", "usage-report", "Kafka consumer group used with -follow")
	var metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address while following")
	var healthTimeout = flag.Duration("health-timeout", 30*time.Second, "How long to wait for dependencies to become healthy")
	flag.Parse()

	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var userID *uint
	if *user != 0 {
		userID = user
	}

	err = app.Invoke(func(analytics *services.AnalyticsService, health *database.HealthChecker) error {
		if err := health.WaitForHealthy(ctx, *healthTimeout, time.Second); err != nil {
			return fmt.Errorf("dependencies not healthy: %w", err)
		}
		r, err := buildReport(ctx, analytics, *period, userID)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	})
	if err != nil {
		app.Shutdown()
		log.Fatalf("Failed to build usage report: %v", err)
	}

	if !*follow {
		return
	}
	if !app.Config().Kafka.Enabled {
		app.Shutdown()
		log.Fatal("-follow requires kafka.enabled")
	}

	err = app.Invoke(func(registry *prometheus.Registry, logger *zap.Logger) error {
		if *metricsAddr != "" {
			srv := serveMetrics(*metricsAddr, registry, logger)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}
		return followUsage(ctx, app, *group, logger)
	})
	if err != nil {
		app.Shutdown()
		log.Fatalf("Follow mode failed: %v", err)
	}
}

func buildReport(ctx context.Context, analytics *services.AnalyticsService, period string, userID *uint) (*report, error) {
	r := &report{GeneratedAt: time.Now().UTC(), UserID: userID}
	var err error

	if r.Stats, err = analytics.GetUsageStats(ctx, period, userID); err != nil {
		return nil, err
	}
	if r.Daily, err = analytics.GetDailyUsage(ctx, period, userID); err != nil {
		return nil, err
	}
	if r.ByOperation, err = analytics.GetUsageByOperation(ctx, period, userID); err != nil {
		return nil, err
	}
	if r.ByModel, err = analytics.GetUsageByModel(ctx, period, userID); err != nil {
		return nil, err
	}
	if r.Comparison, err = analytics.GetDailyComparison(ctx, userID); err != nil {
		return nil, err
	}

	// 成本与性能是全局视图，按用户过滤时不输出
	if userID == nil {
		if r.Cost, err = analytics.GetCostBreakdown(ctx, period); err != nil {
			return nil, err
		}
		if r.Performance, err = analytics.GetPerformanceMetrics(ctx, period); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()
	return srv
}

func followUsage(ctx context.Context, app *bootstrap.App, group string, logger *zap.Logger) error {
	cfg := app.Config().Kafka
	enc := json.NewEncoder(os.Stdout)
	consumer, err := kafka.NewConsumer(cfg.Brokers, group, []string{cfg.Topic}, func(_ context.Context, event *kafka.UsageEvent) error {
		return enc.Encode(event)
	}, logger)
	if err != nil {
		return err
	}
	defer consumer.Close()

	logger.Info("Following usage events", zap.String("topic", cfg.Topic), zap.String("group", group))
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
