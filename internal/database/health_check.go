package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Probe 单个依赖的探活函数
type Probe func(ctx context.Context) error

// SQLProbe 数据库探活
func SQLProbe(db *sql.DB) Probe {
	return db.PingContext
}

// RedisProbe Redis探活
func RedisProbe(rdb redis.Cmdable) Probe {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

// ComponentStatus 单个依赖的检查结果
type ComponentStatus struct {
	Healthy      bool          `json:"healthy"`
	LastCheck    time.Time     `json:"last_check"`
	LastError    string        `json:"last_error,omitempty"`
	ResponseTime time.Duration `json:"response_time"`
}

// HealthReport 健康检查汇总
type HealthReport struct {
	Healthy    bool                       `json:"healthy"`
	Components map[string]ComponentStatus `json:"components"`
}

// HealthChecker 依赖健康检查器（PostgreSQL / Redis）
type HealthChecker struct {
	logger        *logrus.Logger
	checkInterval time.Duration
	timeout       time.Duration

	mu       sync.RWMutex
	names    []string
	probes   map[string]Probe
	status   map[string]ComponentStatus
	stopChan chan struct{}
	running  bool
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(logger *logrus.Logger) *HealthChecker {
	return &HealthChecker{
		logger:        logger,
		checkInterval: 30 * time.Second,
		timeout:       5 * time.Second,
		probes:        make(map[string]Probe),
		status:        make(map[string]ComponentStatus),
		stopChan:      make(chan struct{}),
	}
}

// Register 注册依赖，同名覆盖
func (hc *HealthChecker) Register(name string, probe Probe) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if _, ok := hc.probes[name]; !ok {
		hc.names = append(hc.names, name)
	}
	hc.probes[name] = probe
}

// SetCheckInterval 设置检查间隔
func (hc *HealthChecker) SetCheckInterval(interval time.Duration) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checkInterval = interval
}

// Check 依次检查所有依赖，返回合并后的错误
func (hc *HealthChecker) Check(ctx context.Context) error {
	hc.mu.RLock()
	names := append([]string(nil), hc.names...)
	hc.mu.RUnlock()

	var errs []error
	for _, name := range names {
		if err := hc.checkOne(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (hc *HealthChecker) checkOne(ctx context.Context, name string) error {
	hc.mu.RLock()
	probe := hc.probes[name]
	hc.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	start := time.Now()
	err := probe(ctx)
	status := ComponentStatus{
		Healthy:      err == nil,
		LastCheck:    time.Now(),
		ResponseTime: time.Since(start),
	}
	if err != nil {
		status.LastError = err.Error()
	}

	hc.mu.Lock()
	previous, seen := hc.status[name]
	hc.status[name] = status
	hc.mu.Unlock()

	entry := hc.logger.WithFields(logrus.Fields{
		"component":     name,
		"response_time": status.ResponseTime,
	})
	switch {
	case err != nil:
		entry.WithError(err).Warn("Health check failed")
	case seen && !previous.Healthy:
		entry.Info("Connection restored")
	default:
		entry.Debug("Health check passed")
	}
	return err
}

// Start 后台定期检查，直到 ctx 结束或调用 Stop
func (hc *HealthChecker) Start(ctx context.Context) {
	hc.mu.Lock()
	if hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = true
	interval := hc.checkInterval
	stop := hc.stopChan
	hc.mu.Unlock()

	hc.logger.Info("Starting health checker")
	_ = hc.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			hc.stopped()
			return
		case <-stop:
			hc.stopped()
			return
		case <-ticker.C:
			_ = hc.Check(ctx)
		}
	}
}

func (hc *HealthChecker) stopped() {
	hc.mu.Lock()
	hc.running = false
	hc.mu.Unlock()
	hc.logger.Info("Health checker stopped")
}

// Stop 停止后台检查
func (hc *HealthChecker) Stop() {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if !hc.running {
		return
	}
	close(hc.stopChan)
	hc.stopChan = make(chan struct{})
}

// IsHealthy 所有已注册依赖最近一次检查均成功
func (hc *HealthChecker) IsHealthy() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	for _, name := range hc.names {
		if !hc.status[name].Healthy {
			return false
		}
	}
	return true
}

// Report 获取健康检查结果
func (hc *HealthChecker) Report() HealthReport {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	report := HealthReport{Healthy: true, Components: make(map[string]ComponentStatus, len(hc.names))}
	for _, name := range hc.names {
		status := hc.status[name]
		report.Components[name] = status
		if !status.Healthy {
			report.Healthy = false
		}
	}
	return report
}

// WaitForHealthy 重复检查直到全部健康或超时
func (hc *HealthChecker) WaitForHealthy(ctx context.Context, timeout time.Duration, every time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if err := hc.Check(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("dependencies not healthy after %s: %w", timeout, ctx.Err())
		case <-ticker.C:
		}
	}
}
