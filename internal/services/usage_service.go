package services

import (
	"context"
	"math"
	"time"

	"github.com/aihub/usage-core/internal/cache"
	"github.com/aihub/usage-core/internal/config"
	apperrors "github.com/aihub/usage-core/internal/errors"
	"github.com/aihub/usage-core/internal/kafka"
	"github.com/aihub/usage-core/internal/metrics"
	"github.com/aihub/usage-core/internal/models"
	"github.com/aihub/usage-core/internal/repository"
	"go.uber.org/zap"
)

// ProviderOutcome AI 服务商调用结果，由调用方在调用完成后传入
type ProviderOutcome struct {
	ResponseText   string
	InputTokens    int
	OutputTokens   int
	ResponseTimeMs *int
	Status         string
	Error          string
}

// RecordUsageRequest 记录用量请求
type RecordUsageRequest struct {
	UserID         uint                   `json:"user_id" validate:"required"`
	ModelID        uint                   `json:"model_id" validate:"required"`
	OperationType  string                 `json:"operation_type" validate:"required,operation"`
	InputTokens    int                    `json:"input_tokens" validate:"gte=0"`
	OutputTokens   int                    `json:"output_tokens" validate:"gte=0"`
	ResponseTimeMs *int                   `json:"response_time_ms,omitempty" validate:"omitempty,gte=0"`
	Status         string                 `json:"status" validate:"required,usage_status"`
	ContextType    *string                `json:"context_type,omitempty" validate:"omitempty,max=100"`
	ContextID      *string                `json:"context_id,omitempty" validate:"omitempty,max=100"`
	ConversationID *uint                  `json:"conversation_id,omitempty"`
	TemplateID     *uint                  `json:"template_id,omitempty"`
	Prompt         string                 `json:"prompt,omitempty"`
	Response       string                 `json:"response,omitempty"`
	ErrorMessage   *string                `json:"error_message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// NewRecordUsageRequest 根据服务商调用结果构造用量请求
func NewRecordUsageRequest(userID, modelID uint, operation, promptText string, outcome ProviderOutcome) *RecordUsageRequest {
	req := &RecordUsageRequest{
		UserID:         userID,
		ModelID:        modelID,
		OperationType:  operation,
		InputTokens:    outcome.InputTokens,
		OutputTokens:   outcome.OutputTokens,
		ResponseTimeMs: outcome.ResponseTimeMs,
		Status:         outcome.Status,
		Prompt:         promptText,
		Response:       outcome.ResponseText,
	}
	if req.Status == "" {
		req.Status = models.StatusSuccess
	}
	if outcome.Error != "" {
		msg := outcome.Error
		req.ErrorMessage = &msg
	}
	return req
}

// UsageService 用量计量服务，是用量日志的唯一写入路径
type UsageService struct {
	tx            repository.Transactor
	usageLogs     repository.UsageLogRepository
	registry      repository.ModelRegistry
	conversations *ConversationService
	templates     *TemplateService
	cache         cache.AnalyticsCache
	publisher     kafka.Publisher
	metrics       *metrics.UsageMetrics
	errors        *apperrors.ErrorMonitor
	precision     int
	logger        *zap.Logger
	now           func() time.Time
}

// UsageServiceDeps 用量服务依赖
type UsageServiceDeps struct {
	Tx            repository.Transactor
	UsageLogs     repository.UsageLogRepository
	Registry      repository.ModelRegistry
	Conversations *ConversationService
	Templates     *TemplateService
	Cache         cache.AnalyticsCache
	Publisher     kafka.Publisher
	Metrics       *metrics.UsageMetrics
	Errors        *apperrors.ErrorMonitor
	Metering      config.MeteringConfig
	Logger        *zap.Logger
}

// NewUsageService 创建用量服务，未配置的缓存与发布器使用空实现
func NewUsageService(deps UsageServiceDeps) *UsageService {
	s := &UsageService{
		tx:            deps.Tx,
		usageLogs:     deps.UsageLogs,
		registry:      deps.Registry,
		conversations: deps.Conversations,
		templates:     deps.Templates,
		cache:         deps.Cache,
		publisher:     deps.Publisher,
		metrics:       deps.Metrics,
		errors:        deps.Errors,
		precision:     deps.Metering.CostPrecision,
		logger:        deps.Logger,
		now:           time.Now,
	}
	if s.cache == nil {
		s.cache = cache.NoopCache{}
	}
	if s.publisher == nil {
		s.publisher = kafka.NoopPublisher{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// RecordUsage 计算成本并在同一事务内写入用量日志、累加对话用量、递增模板使用次数。
// 非 success 状态的调用同样落库，随后返回日志与 ProviderFailure 错误。
func (s *UsageService) RecordUsage(ctx context.Context, actor Actor, req *RecordUsageRequest) (*models.UsageLog, error) {
	log, err := s.record(ctx, actor, req)
	if err != nil {
		s.errors.Record("record_usage", err)
	}
	return log, err
}

func (s *UsageService) record(ctx context.Context, actor Actor, req *RecordUsageRequest) (*models.UsageLog, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if !actor.owns(req.UserID) {
		return nil, apperrors.NewAccessDeniedError()
	}

	pricing, err := s.registry.Pricing(ctx, req.ModelID)
	if err != nil {
		appErr := translateRepoError(err, "model")
		if apperrors.IsCode(appErr, apperrors.ErrCodeResourceNotFound) {
			return nil, apperrors.NewInvalidInputError("model_id", "unknown model")
		}
		return nil, appErr
	}

	log := &models.UsageLog{
		UserID:         req.UserID,
		ModelID:        req.ModelID,
		ConversationID: req.ConversationID,
		TemplateID:     req.TemplateID,
		OperationType:  req.OperationType,
		ContextType:    req.ContextType,
		ContextID:      req.ContextID,
		Prompt:         req.Prompt,
		Response:       req.Response,
		InputTokens:    req.InputTokens,
		OutputTokens:   req.OutputTokens,
		TotalTokens:    req.InputTokens + req.OutputTokens,
		Cost:           s.cost(pricing, req.InputTokens, req.OutputTokens),
		ResponseTimeMs: req.ResponseTimeMs,
		Status:         req.Status,
		ErrorMessage:   req.ErrorMessage,
		Metadata:       req.Metadata,
		CreatedAt:      s.now().UTC(),
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.checkReferences(ctx, actor, log); err != nil {
			return err
		}
		if err := s.usageLogs.Create(ctx, log); err != nil {
			return translateRepoError(err, "usage log")
		}
		if log.ConversationID != nil {
			if err := s.conversations.RecordUsage(ctx, *log.ConversationID, int64(log.TotalTokens), log.Cost); err != nil {
				return err
			}
		}
		if log.TemplateID != nil {
			if err := s.templates.IncrementUsage(ctx, *log.TemplateID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		apperrors.LogError(s.logger, "记录用量失败", err,
			zap.Uint("user_id", req.UserID),
			zap.Uint("model_id", req.ModelID))
		return nil, err
	}

	s.afterCommit(ctx, log)

	if !log.IsSuccess() {
		msg := ""
		if log.ErrorMessage != nil {
			msg = *log.ErrorMessage
		}
		return log, apperrors.NewProviderFailureError(log.Status, log.ID, msg)
	}
	return log, nil
}

// checkReferences 对话须属于日志所记录的用户，模板须对调用者可见
func (s *UsageService) checkReferences(ctx context.Context, actor Actor, log *models.UsageLog) error {
	if log.ConversationID != nil {
		conv, err := s.conversations.Get(ctx, actor, *log.ConversationID)
		if err != nil {
			return err
		}
		if conv.UserID != log.UserID {
			return apperrors.NewAccessDeniedError().WithDetails(map[string]string{"reason": "conversation belongs to another user"})
		}
	}
	if log.TemplateID != nil {
		if _, err := s.templates.Get(ctx, actor, *log.TemplateID); err != nil {
			return err
		}
	}
	return nil
}

// afterCommit 提交后的指标、缓存与事件处理，失败只记日志
func (s *UsageService) afterCommit(ctx context.Context, log *models.UsageLog) {
	s.metrics.Observe(metrics.Observation{
		Operation:      log.OperationType,
		Status:         log.Status,
		ModelID:        log.ModelID,
		InputTokens:    log.InputTokens,
		OutputTokens:   log.OutputTokens,
		Cost:           log.Cost,
		ResponseTimeMs: log.ResponseTimeMs,
	})

	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("分析缓存失效失败", zap.Error(err))
	}

	event := &kafka.UsageEvent{
		EventType:      kafka.EventUsageRecorded,
		UsageLogID:     log.ID,
		UserID:         log.UserID,
		ModelID:        log.ModelID,
		ConversationID: log.ConversationID,
		TemplateID:     log.TemplateID,
		OperationType:  log.OperationType,
		ContextType:    log.ContextType,
		ContextID:      log.ContextID,
		Status:         log.Status,
		InputTokens:    log.InputTokens,
		OutputTokens:   log.OutputTokens,
		TotalTokens:    log.TotalTokens,
		Cost:           log.Cost,
		ResponseTimeMs: log.ResponseTimeMs,
		OccurredAt:     log.CreatedAt,
	}
	if err := s.publisher.PublishUsage(ctx, event); err != nil {
		s.logger.Warn("发布用量事件失败", zap.Uint("usage_log_id", log.ID), zap.Error(err))
	}

	s.logger.Debug("用量已记录",
		zap.Uint("usage_log_id", log.ID),
		zap.String("status", log.Status),
		zap.Int("total_tokens", log.TotalTokens),
		zap.Float64("cost", log.Cost))
}

// cost 按模型单价计算成本，未配置单价按 0 计
func (s *UsageService) cost(pricing *repository.ModelPricing, in, out int) float64 {
	raw := float64(in)*pricing.CostPerInputToken + float64(out)*pricing.CostPerOutputToken
	return roundTo(raw, s.precision)
}

// roundTo 四舍五入到指定小数位
func roundTo(v float64, places int) float64 {
	if places < 0 {
		return v
	}
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
