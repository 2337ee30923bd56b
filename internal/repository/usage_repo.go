package repository

import (
	"context"
	"fmt"

	"github.com/aihub/usage-core/internal/models"
	"gorm.io/gorm"
)

// usageLogRepository 用量日志仓库实现
type usageLogRepository struct {
	db *gorm.DB
}

// NewUsageLogRepository 创建用量日志仓库
func NewUsageLogRepository(db *gorm.DB) UsageLogRepository {
	return &usageLogRepository{db: db}
}

// Create 写入用量日志
func (r *usageLogRepository) Create(ctx context.Context, log *models.UsageLog) error {
	return conn(ctx, r.db).Create(log).Error
}

// scoped 按时间窗口与用户过滤
func (r *usageLogRepository) scoped(ctx context.Context, filter UsageFilter) *gorm.DB {
	query := conn(ctx, r.db).Model(&models.UsageLog{})
	if !filter.Since.IsZero() {
		query = query.Where("usage_logs.created_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		query = query.Where("usage_logs.created_at < ?", filter.Until)
	}
	if filter.UserID != nil {
		query = query.Where("usage_logs.user_id = ?", *filter.UserID)
	}
	return query
}

// Summary 汇总统计
func (r *usageLogRepository) Summary(ctx context.Context, filter UsageFilter) (UsageSummary, error) {
	var summary UsageSummary
	err := r.scoped(ctx, filter).
		Select(`COUNT(*) AS total_requests,
			COUNT(*) FILTER (WHERE status = 'success') AS successful_requests,
			COALESCE(SUM(total_tokens), 0) AS total_tokens,
			COALESCE(SUM(cost), 0) AS total_cost,
			COALESCE(AVG(response_time_ms), 0) AS avg_response_time`).
		Scan(&summary).Error
	if err != nil {
		return UsageSummary{}, fmt.Errorf("usage summary: %w", err)
	}
	return summary, nil
}

// Daily 按UTC日期聚合，只返回有数据的日期
func (r *usageLogRepository) Daily(ctx context.Context, filter UsageFilter) ([]DailyBucket, error) {
	buckets := make([]DailyBucket, 0)
	err := r.scoped(ctx, filter).
		Select(`TO_CHAR(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
			COUNT(*) AS requests,
			COALESCE(SUM(total_tokens), 0) AS tokens,
			COALESCE(SUM(cost), 0) AS cost,
			COALESCE(AVG(response_time_ms), 0) AS avg_response_time`).
		Group("day").
		Order("day ASC").
		Scan(&buckets).Error
	if err != nil {
		return nil, fmt.Errorf("daily usage: %w", err)
	}
	return buckets, nil
}

// GroupBy 按维度分组聚合，空维度值归入 "unknown"
func (r *usageLogRepository) GroupBy(ctx context.Context, filter UsageFilter, dim Dimension) ([]GroupBucket, error) {
	var column string
	switch dim {
	case DimensionOperation:
		column = "operation_type"
	case DimensionModel:
		column = "CAST(model_id AS TEXT)"
	case DimensionContext:
		column = "COALESCE(context_type, 'unknown')"
	default:
		return nil, fmt.Errorf("unsupported dimension %q", dim)
	}

	buckets := make([]GroupBucket, 0)
	err := r.scoped(ctx, filter).
		Select(column + ` AS key,
			COUNT(*) AS requests,
			COALESCE(SUM(total_tokens), 0) AS tokens,
			COALESCE(SUM(cost), 0) AS cost`).
		Group("key").
		Order("cost DESC").
		Order("key ASC").
		Scan(&buckets).Error
	if err != nil {
		return nil, fmt.Errorf("usage by %s: %w", dim, err)
	}
	return buckets, nil
}

// CostByService 通过模型表关联服务商聚合费用
func (r *usageLogRepository) CostByService(ctx context.Context, filter UsageFilter) ([]GroupBucket, error) {
	buckets := make([]GroupBucket, 0)
	err := r.scoped(ctx, filter).
		Select(`COALESCE(ai_services.name, 'unknown') AS key,
			COUNT(*) AS requests,
			COALESCE(SUM(usage_logs.total_tokens), 0) AS tokens,
			COALESCE(SUM(usage_logs.cost), 0) AS cost`).
		Joins("LEFT JOIN ai_models ON ai_models.id = usage_logs.model_id").
		Joins("LEFT JOIN ai_services ON ai_services.id = ai_models.service_id").
		Group("key").
		Order("cost DESC").
		Order("key ASC").
		Scan(&buckets).Error
	if err != nil {
		return nil, fmt.Errorf("cost by service: %w", err)
	}
	return buckets, nil
}

// Performance 响应时间统计
func (r *usageLogRepository) Performance(ctx context.Context, filter UsageFilter) (PerformanceRow, error) {
	var row PerformanceRow
	err := r.scoped(ctx, filter).
		Where("response_time_ms IS NOT NULL").
		Select(`COUNT(*) AS samples,
			COUNT(*) FILTER (WHERE status = 'success') AS successful,
			COALESCE(AVG(response_time_ms), 0) AS avg,
			COALESCE(MIN(response_time_ms), 0) AS min,
			COALESCE(MAX(response_time_ms), 0) AS max,
			COALESCE(STDDEV_POP(response_time_ms), 0) AS std_dev`).
		Scan(&row).Error
	if err != nil {
		return PerformanceRow{}, fmt.Errorf("performance metrics: %w", err)
	}
	return row, nil
}

// Recent 最近的用量日志
func (r *usageLogRepository) Recent(ctx context.Context, filter UsageFilter, limit int) ([]models.UsageLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	logs := make([]models.UsageLog, 0)
	if err := r.scoped(ctx, filter).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("recent usage logs: %w", err)
	}
	return logs, nil
}

// CountByTemplate 统计引用模板的日志数
func (r *usageLogRepository) CountByTemplate(ctx context.Context, templateID uint) (int64, error) {
	var count int64
	err := conn(ctx, r.db).Model(&models.UsageLog{}).
		Where("template_id = ?", templateID).
		Count(&count).Error
	return count, err
}
