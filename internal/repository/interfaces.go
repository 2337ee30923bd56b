package repository

import (
	"context"
	"errors"
	"time"

	"github.com/aihub/usage-core/internal/models"
)

// 仓库层哨兵错误，由服务层转换为 AppError
var (
	ErrNotFound = errors.New("record not found")
	ErrArchived = errors.New("conversation is archived")
)

// Transactor 事务执行器，fn 内通过 ctx 共享同一事务
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ConversationFilter 对话列表过滤条件
type ConversationFilter struct {
	UserID      *uint
	ModelID     *uint
	ContextType *string
	ContextID   *string
	Archived    *bool
	Page        int
	Limit       int
}

// ConversationRepository 对话仓库接口
type ConversationRepository interface {
	Create(ctx context.Context, conv *models.Conversation) error
	GetByID(ctx context.Context, id uint) (*models.Conversation, error)
	List(ctx context.Context, filter ConversationFilter) ([]models.Conversation, int64, error)
	// AppendMessage 原子递增 message_count 并写入消息，msg.Seq 为递增后的值
	AppendMessage(ctx context.Context, msg *models.ConversationMessage) error
	Messages(ctx context.Context, conversationID uint, offset, limit int) ([]models.ConversationMessage, error)
	SetArchived(ctx context.Context, id uint, archived bool) error
	UpdateTitle(ctx context.Context, id uint, title string) error
	// AddUsage 原子累加 total_tokens / total_cost
	AddUsage(ctx context.Context, id uint, tokens int64, cost float64) error
	Delete(ctx context.Context, id uint) error
}

// Visibility 模板可见性过滤
const (
	VisibilityAccessible = ""
	VisibilityPublic     = "public"
	VisibilityPrivate    = "private"
	VisibilitySystem     = "system"
	VisibilityMine       = "mine"
)

// TemplateFilter 模板列表过滤条件
type TemplateFilter struct {
	ActorID    uint
	Category   string
	Tag        string
	Visibility string
	Search     string
	Page       int
	Limit      int
}

// TemplateRepository 模板仓库接口
type TemplateRepository interface {
	Create(ctx context.Context, tpl *models.PromptTemplate) error
	GetByID(ctx context.Context, id uint) (*models.PromptTemplate, error)
	GetBySlug(ctx context.Context, slug string) (*models.PromptTemplate, error)
	SlugExists(ctx context.Context, slug string, excludeID uint) (bool, error)
	// UpdateContent 只更新内容字段，计数器不经过这里
	UpdateContent(ctx context.Context, tpl *models.PromptTemplate) error
	Delete(ctx context.Context, id uint) error
	List(ctx context.Context, filter TemplateFilter) ([]models.PromptTemplate, int64, error)
	IncrementUsage(ctx context.Context, id uint) error
	// AddRating 原子累加评分并按总和重算平均分
	AddRating(ctx context.Context, id uint, rating int) (*models.PromptTemplate, error)
}

// UsageFilter 用量查询窗口
type UsageFilter struct {
	Since  time.Time
	Until  time.Time
	UserID *uint
}

// Dimension 分组维度
type Dimension string

const (
	DimensionOperation Dimension = "operation_type"
	DimensionModel     Dimension = "model_id"
	DimensionContext   Dimension = "context_type"
)

// UsageSummary 汇总行
type UsageSummary struct {
	TotalRequests      int64
	SuccessfulRequests int64
	TotalTokens        int64
	TotalCost          float64
	AvgResponseTime    float64
}

// DailyBucket 按天聚合行，Day 格式 2006-01-02（UTC）
type DailyBucket struct {
	Day             string
	Requests        int64
	Tokens          int64
	Cost            float64
	AvgResponseTime float64
}

// GroupBucket 分组聚合行
type GroupBucket struct {
	Key      string
	Requests int64
	Tokens   int64
	Cost     float64
}

// PerformanceRow 响应时间统计，只统计 response_time_ms 非空的记录
type PerformanceRow struct {
	Samples    int64
	Successful int64
	Avg        float64
	Min        float64
	Max        float64
	StdDev     float64
}

// UsageLogRepository 用量日志仓库接口，日志只追加
type UsageLogRepository interface {
	Create(ctx context.Context, log *models.UsageLog) error
	Summary(ctx context.Context, filter UsageFilter) (UsageSummary, error)
	Daily(ctx context.Context, filter UsageFilter) ([]DailyBucket, error)
	GroupBy(ctx context.Context, filter UsageFilter, dim Dimension) ([]GroupBucket, error)
	CostByService(ctx context.Context, filter UsageFilter) ([]GroupBucket, error)
	Performance(ctx context.Context, filter UsageFilter) (PerformanceRow, error)
	Recent(ctx context.Context, filter UsageFilter, limit int) ([]models.UsageLog, error)
	CountByTemplate(ctx context.Context, templateID uint) (int64, error)
}

// ModelPricing 模型计价信息
type ModelPricing struct {
	ModelID            uint
	ModelName          string
	ServiceName        string
	CostPerInputToken  float64
	CostPerOutputToken float64
}

// ModelRegistry 模型/服务注册表（只读）
type ModelRegistry interface {
	Pricing(ctx context.Context, modelID uint) (*ModelPricing, error)
}

// normalizePage 规范化分页参数
func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return (page - 1) * limit, limit
}
