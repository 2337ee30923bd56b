package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aihub/usage-core/internal/cache"
	"github.com/aihub/usage-core/internal/config"
	apperrors "github.com/aihub/usage-core/internal/errors"
	"github.com/aihub/usage-core/internal/models"
	"github.com/aihub/usage-core/internal/repository"
	"go.uber.org/zap"
)

// AnalyticsService 用量分析服务，只读取用量日志
type AnalyticsService struct {
	usageLogs repository.UsageLogRepository
	cache     cache.AnalyticsCache
	metering  config.MeteringConfig
	logger    *zap.Logger
	now       func() time.Time
}

// UsageStats 用量汇总
type UsageStats struct {
	Period             string  `json:"period"`
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	FailedRequests     int64   `json:"failed_requests"`
	TotalTokens        int64   `json:"total_tokens"`
	TotalCost          float64 `json:"total_cost"`
	AvgResponseTime    float64 `json:"avg_response_time"`
	SuccessRate        float64 `json:"success_rate"`
}

// DailyUsage 每日用量
type DailyUsage struct {
	Date            string  `json:"date"`
	Requests        int64   `json:"requests"`
	Tokens          int64   `json:"tokens"`
	Cost            float64 `json:"cost"`
	AvgResponseTime float64 `json:"avg_response_time"`
}

// UsageBreakdown 分组用量
type UsageBreakdown struct {
	Key      string  `json:"key"`
	Requests int64   `json:"requests"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
}

// CostBreakdown 成本拆分
type CostBreakdown struct {
	TotalCost   float64          `json:"total_cost"`
	ByOperation []UsageBreakdown `json:"by_operation"`
	ByModel     []UsageBreakdown `json:"by_model"`
	ByService   []UsageBreakdown `json:"by_service"`
}

// PerformanceMetrics 响应时间统计（毫秒）
type PerformanceMetrics struct {
	Samples         int64   `json:"samples"`
	AvgResponseTime float64 `json:"avg_response_time"`
	MinResponseTime float64 `json:"min_response_time"`
	MaxResponseTime float64 `json:"max_response_time"`
	StdDev          float64 `json:"std_dev"`
	SuccessRate     float64 `json:"success_rate"`
}

// DaySnapshot 单日用量
type DaySnapshot struct {
	Date     string  `json:"date"`
	Requests int64   `json:"requests"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
}

// DailyComparison 今日与昨日对比
type DailyComparison struct {
	Today          DaySnapshot `json:"today"`
	Yesterday      DaySnapshot `json:"yesterday"`
	RequestsChange float64     `json:"requests_change"`
	TokensChange   float64     `json:"tokens_change"`
	CostChange     float64     `json:"cost_change"`
}

// NewAnalyticsService 创建分析服务
func NewAnalyticsService(usageLogs repository.UsageLogRepository, analyticsCache cache.AnalyticsCache, metering config.MeteringConfig, logger *zap.Logger) *AnalyticsService {
	if analyticsCache == nil {
		analyticsCache = cache.NoopCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsService{
		usageLogs: usageLogs,
		cache:     analyticsCache,
		metering:  metering,
		logger:    logger,
		now:       time.Now,
	}
}

// ComputePercentageChange 计算变化百分比，previous 为 0 时 current>0 返回 100，否则返回 0
func ComputePercentageChange(previous, current float64) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return (current - previous) / previous * 100
}

// parse 解析时间窗口，空表达式使用配置的默认窗口
func (s *AnalyticsService) parse(expr string) (Period, error) {
	if strings.TrimSpace(expr) == "" {
		expr = s.metering.DefaultPeriod
	}
	p, err := ParsePeriod(expr, s.now())
	if err != nil {
		return Period{}, err
	}
	if limit := s.metering.MaxPeriodDays; limit > 0 && p.Until.Sub(p.Since) > time.Duration(limit)*day {
		return Period{}, apperrors.NewInvalidInputError("period", fmt.Sprintf("period must not exceed %d days", limit))
	}
	return p, nil
}

func (s *AnalyticsService) filter(p Period, userID *uint) repository.UsageFilter {
	return repository.UsageFilter{Since: p.Since, UserID: userID}
}

// cacheKey 缓存键，包含窗口表达式、按分钟截断的起点与用户范围
func cacheKey(kind string, p Period, userID *uint) string {
	scope := "all"
	if userID != nil {
		scope = fmt.Sprintf("u%d", *userID)
	}
	expr := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(p.Expr)), " ", "")
	return fmt.Sprintf("%s:%s:%d:%s", kind, expr, p.Since.Truncate(time.Minute).Unix(), scope)
}

// cached 读缓存，未命中时计算并回写；缓存错误只记日志
func cached[T any](ctx context.Context, s *AnalyticsService, key string, load func() (T, error)) (T, error) {
	var out T
	hit, err := s.cache.Get(ctx, key, &out)
	if err != nil {
		s.logger.Warn("读取分析缓存失败", zap.String("key", key), zap.Error(err))
	}
	if hit {
		return out, nil
	}
	out, err = load()
	if err != nil {
		return out, err
	}
	if err := s.cache.Set(ctx, key, out); err != nil {
		s.logger.Warn("写入分析缓存失败", zap.String("key", key), zap.Error(err))
	}
	return out, nil
}

// GetUsageStats 用量汇总，无数据时返回全零
func (s *AnalyticsService) GetUsageStats(ctx context.Context, period string, userID *uint) (*UsageStats, error) {
	p, err := s.parse(period)
	if err != nil {
		return nil, err
	}
	stats, err := cached(ctx, s, cacheKey("stats", p, userID), func() (UsageStats, error) {
		summary, err := s.usageLogs.Summary(ctx, s.filter(p, userID))
		if err != nil {
			return UsageStats{}, translateRepoError(err, "usage log")
		}
		return UsageStats{
			Period:             p.Expr,
			TotalRequests:      summary.TotalRequests,
			SuccessfulRequests: summary.SuccessfulRequests,
			FailedRequests:     summary.TotalRequests - summary.SuccessfulRequests,
			TotalTokens:        summary.TotalTokens,
			TotalCost:          roundTo(summary.TotalCost, s.metering.CostPrecision),
			AvgResponseTime:    roundTo(summary.AvgResponseTime, 2),
			SuccessRate:        successRate(summary.SuccessfulRequests, summary.TotalRequests),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetDailyUsage 每日用量序列，窗口内每个自然日（UTC）一条，缺失日补零
func (s *AnalyticsService) GetDailyUsage(ctx context.Context, period string, userID *uint) ([]DailyUsage, error) {
	p, err := s.parse(period)
	if err != nil {
		return nil, err
	}
	return cached(ctx, s, cacheKey("daily", p, userID), func() ([]DailyUsage, error) {
		filter := repository.UsageFilter{Since: p.SeriesStart(s.metering.MaxSeriesDays), UserID: userID}
		buckets, err := s.usageLogs.Daily(ctx, filter)
		if err != nil {
			return nil, translateRepoError(err, "usage log")
		}
		byDay := make(map[string]repository.DailyBucket, len(buckets))
		for _, b := range buckets {
			byDay[b.Day] = b
		}

		days := p.SeriesDays(s.metering.MaxSeriesDays)
		series := make([]DailyUsage, 0, len(days))
		for _, d := range days {
			b := byDay[d]
			series = append(series, DailyUsage{
				Date:            d,
				Requests:        b.Requests,
				Tokens:          b.Tokens,
				Cost:            roundTo(b.Cost, s.metering.CostPrecision),
				AvgResponseTime: roundTo(b.AvgResponseTime, 2),
			})
		}
		return series, nil
	})
}

// GetUsageByOperation 按调用类型分组
func (s *AnalyticsService) GetUsageByOperation(ctx context.Context, period string, userID *uint) ([]UsageBreakdown, error) {
	return s.groupBy(ctx, period, userID, repository.DimensionOperation)
}

// GetUsageByModel 按模型分组
func (s *AnalyticsService) GetUsageByModel(ctx context.Context, period string, userID *uint) ([]UsageBreakdown, error) {
	return s.groupBy(ctx, period, userID, repository.DimensionModel)
}

// GetUsageByContext 按业务上下文类型分组
func (s *AnalyticsService) GetUsageByContext(ctx context.Context, period string, userID *uint) ([]UsageBreakdown, error) {
	return s.groupBy(ctx, period, userID, repository.DimensionContext)
}

func (s *AnalyticsService) groupBy(ctx context.Context, period string, userID *uint, dim repository.Dimension) ([]UsageBreakdown, error) {
	p, err := s.parse(period)
	if err != nil {
		return nil, err
	}
	return cached(ctx, s, cacheKey("by_"+string(dim), p, userID), func() ([]UsageBreakdown, error) {
		buckets, err := s.usageLogs.GroupBy(ctx, s.filter(p, userID), dim)
		if err != nil {
			return nil, translateRepoError(err, "usage log")
		}
		return s.breakdown(buckets), nil
	})
}

// GetCostBreakdown 成本拆分，按服务拆分通过模型关联服务商
func (s *AnalyticsService) GetCostBreakdown(ctx context.Context, period string) (*CostBreakdown, error) {
	p, err := s.parse(period)
	if err != nil {
		return nil, err
	}
	out, err := cached(ctx, s, cacheKey("cost", p, nil), func() (CostBreakdown, error) {
		filter := s.filter(p, nil)
		summary, err := s.usageLogs.Summary(ctx, filter)
		if err != nil {
			return CostBreakdown{}, translateRepoError(err, "usage log")
		}
		byOperation, err := s.usageLogs.GroupBy(ctx, filter, repository.DimensionOperation)
		if err != nil {
			return CostBreakdown{}, translateRepoError(err, "usage log")
		}
		byModel, err := s.usageLogs.GroupBy(ctx, filter, repository.DimensionModel)
		if err != nil {
			return CostBreakdown{}, translateRepoError(err, "usage log")
		}
		byService, err := s.usageLogs.CostByService(ctx, filter)
		if err != nil {
			return CostBreakdown{}, translateRepoError(err, "usage log")
		}
		return CostBreakdown{
			TotalCost:   roundTo(summary.TotalCost, s.metering.CostPrecision),
			ByOperation: s.breakdown(byOperation),
			ByModel:     s.breakdown(byModel),
			ByService:   s.breakdown(byService),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPerformanceMetrics 响应时间统计，只统计有响应时间的记录
func (s *AnalyticsService) GetPerformanceMetrics(ctx context.Context, period string) (*PerformanceMetrics, error) {
	p, err := s.parse(period)
	if err != nil {
		return nil, err
	}
	out, err := cached(ctx, s, cacheKey("perf", p, nil), func() (PerformanceMetrics, error) {
		row, err := s.usageLogs.Performance(ctx, s.filter(p, nil))
		if err != nil {
			return PerformanceMetrics{}, translateRepoError(err, "usage log")
		}
		return PerformanceMetrics{
			Samples:         row.Samples,
			AvgResponseTime: roundTo(row.Avg, 2),
			MinResponseTime: row.Min,
			MaxResponseTime: row.Max,
			StdDev:          roundTo(row.StdDev, 2),
			SuccessRate:     successRate(row.Successful, row.Samples),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDailyComparison 今日与昨日（UTC）对比
func (s *AnalyticsService) GetDailyComparison(ctx context.Context, userID *uint) (*DailyComparison, error) {
	now := s.now().UTC()
	today := startOfDay(now)
	yesterday := today.Add(-day)

	current, err := s.usageLogs.Summary(ctx, repository.UsageFilter{Since: today, UserID: userID})
	if err != nil {
		return nil, translateRepoError(err, "usage log")
	}
	previous, err := s.usageLogs.Summary(ctx, repository.UsageFilter{Since: yesterday, Until: today, UserID: userID})
	if err != nil {
		return nil, translateRepoError(err, "usage log")
	}

	return &DailyComparison{
		Today:          s.snapshot(today, current),
		Yesterday:      s.snapshot(yesterday, previous),
		RequestsChange: roundTo(ComputePercentageChange(float64(previous.TotalRequests), float64(current.TotalRequests)), 2),
		TokensChange:   roundTo(ComputePercentageChange(float64(previous.TotalTokens), float64(current.TotalTokens)), 2),
		CostChange:     roundTo(ComputePercentageChange(previous.TotalCost, current.TotalCost), 2),
	}, nil
}

// RecentLogs 最新的用量日志
func (s *AnalyticsService) RecentLogs(ctx context.Context, userID *uint, limit int) ([]models.UsageLog, error) {
	logs, err := s.usageLogs.Recent(ctx, repository.UsageFilter{UserID: userID}, limit)
	if err != nil {
		return nil, translateRepoError(err, "usage log")
	}
	if logs == nil {
		logs = []models.UsageLog{}
	}
	return logs, nil
}

func (s *AnalyticsService) snapshot(date time.Time, summary repository.UsageSummary) DaySnapshot {
	return DaySnapshot{
		Date:     date.Format("2006-01-02"),
		Requests: summary.TotalRequests,
		Tokens:   summary.TotalTokens,
		Cost:     roundTo(summary.TotalCost, s.metering.CostPrecision),
	}
}

func (s *AnalyticsService) breakdown(buckets []repository.GroupBucket) []UsageBreakdown {
	out := make([]UsageBreakdown, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, UsageBreakdown{
			Key:      b.Key,
			Requests: b.Requests,
			Tokens:   b.Tokens,
			Cost:     roundTo(b.Cost, s.metering.CostPrecision),
		})
	}
	return out
}

// successRate 成功率百分比，保留两位小数；total 为 0 时返回 0
func successRate(successful, total int64) float64 {
	if total == 0 {
		return 0
	}
	return roundTo(float64(successful)/float64(total)*100, 2)
}
