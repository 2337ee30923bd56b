package services

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/aihub/usage-core/internal/errors"
	"github.com/aihub/usage-core/internal/models"
	"github.com/aihub/usage-core/internal/repository"
	"go.uber.org/zap"
)

// ConversationService 对话账本服务
type ConversationService struct {
	conversations repository.ConversationRepository
	logger        *zap.Logger
	now           func() time.Time
}

// CreateConversationRequest 创建对话请求
type CreateConversationRequest struct {
	UserID      uint                   `json:"user_id"`
	ModelID     uint                   `json:"model_id" validate:"required"`
	Title       string                 `json:"title" validate:"max=255"`
	ContextType *string                `json:"context_type,omitempty" validate:"omitempty,max=100"`
	ContextID   *string                `json:"context_id,omitempty" validate:"omitempty,max=100"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// AppendMessageRequest 追加消息请求
type AppendMessageRequest struct {
	Role     string                 `json:"role" validate:"required,role"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ListConversationsRequest 对话列表请求
type ListConversationsRequest struct {
	UserID      *uint   `json:"user_id,omitempty"`
	ModelID     *uint   `json:"model_id,omitempty"`
	ContextType *string `json:"context_type,omitempty"`
	ContextID   *string `json:"context_id,omitempty"`
	Archived    *bool   `json:"archived,omitempty"`
	Page        int     `json:"page" validate:"gte=0"`
	Limit       int     `json:"limit" validate:"gte=0,lte=100"`
}

// ConversationPage 分页结果
type ConversationPage struct {
	Items []models.Conversation `json:"items"`
	Total int64                 `json:"total"`
}

// NewConversationService 创建对话服务
func NewConversationService(conversations repository.ConversationRepository, logger *zap.Logger) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		logger:        logger,
		now:           time.Now,
	}
}

// Create 创建对话，普通用户只能为自己创建
func (s *ConversationService) Create(ctx context.Context, actor Actor, req *CreateConversationRequest) (*models.Conversation, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	owner := req.UserID
	if owner == 0 {
		owner = actor.UserID
	}
	if !actor.owns(owner) {
		return nil, apperrors.NewAccessDeniedError()
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "New conversation"
	}
	now := s.now().UTC()
	conv := &models.Conversation{
		UserID:        owner,
		ModelID:       req.ModelID,
		Title:         title,
		ContextType:   req.ContextType,
		ContextID:     req.ContextID,
		Metadata:      req.Metadata,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, translateRepoError(err, "conversation")
	}

	s.logger.Info("对话已创建",
		zap.Uint("conversation_id", conv.ID),
		zap.Uint("user_id", owner),
		zap.Uint("model_id", conv.ModelID))
	return conv, nil
}

// Get 获取对话，非所有者返回 AccessDenied
func (s *ConversationService) Get(ctx context.Context, actor Actor, id uint) (*models.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return nil, translateRepoError(err, "conversation")
	}
	if !actor.owns(conv.UserID) {
		return nil, apperrors.NewAccessDeniedError()
	}
	return conv, nil
}

// Messages 按 seq 升序读取消息，归档后仍可读
func (s *ConversationService) Messages(ctx context.Context, actor Actor, id uint, offset, limit int) ([]models.ConversationMessage, error) {
	if offset < 0 || limit < 0 {
		return nil, apperrors.NewInvalidInputError("limit", "offset and limit must not be negative")
	}
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	messages, err := s.conversations.Messages(ctx, id, offset, limit)
	if err != nil {
		return nil, translateRepoError(err, "conversation")
	}
	return messages, nil
}

// AppendMessage 追加消息；已归档的对话返回 StateConflict
func (s *ConversationService) AppendMessage(ctx context.Context, actor Actor, id uint, req *AppendMessageRequest) (*models.ConversationMessage, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}

	msg := &models.ConversationMessage{
		ConversationID: id,
		Role:           req.Role,
		Content:        req.Content,
		Metadata:       req.Metadata,
	}
	if err := s.conversations.AppendMessage(ctx, msg); err != nil {
		return nil, translateRepoError(err, "conversation")
	}

	s.logger.Debug("消息已追加",
		zap.Uint("conversation_id", id),
		zap.Int("seq", msg.Seq),
		zap.String("role", msg.Role))
	return msg, nil
}

// Archive 归档对话，幂等
func (s *ConversationService) Archive(ctx context.Context, actor Actor, id uint) error {
	return s.setArchived(ctx, actor, id, true)
}

// Unarchive 取消归档，幂等
func (s *ConversationService) Unarchive(ctx context.Context, actor Actor, id uint) error {
	return s.setArchived(ctx, actor, id, false)
}

func (s *ConversationService) setArchived(ctx context.Context, actor Actor, id uint, archived bool) error {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return err
	}
	if err := s.conversations.SetArchived(ctx, id, archived); err != nil {
		return translateRepoError(err, "conversation")
	}
	s.logger.Info("对话归档状态已更新", zap.Uint("conversation_id", id), zap.Bool("archived", archived))
	return nil
}

// Rename 修改标题
func (s *ConversationService) Rename(ctx context.Context, actor Actor, id uint, title string) error {
	title = strings.TrimSpace(title)
	if err := ensure(title != "" && len(title) <= 255, "title", "must be 1-255 characters"); err != nil {
		return err
	}
	if _, err := s.Get(ctx, actor, id); err != nil {
		return err
	}
	if err := s.conversations.UpdateTitle(ctx, id, title); err != nil {
		return translateRepoError(err, "conversation")
	}
	return nil
}

// RecordUsage 原子累加对话的 token 与成本，归档状态下同样允许
func (s *ConversationService) RecordUsage(ctx context.Context, id uint, tokens int64, cost float64) error {
	if err := ensure(tokens >= 0 && cost >= 0, "usage", "tokens and cost must not be negative"); err != nil {
		return err
	}
	if err := s.conversations.AddUsage(ctx, id, tokens, cost); err != nil {
		return translateRepoError(err, "conversation")
	}
	return nil
}

// List 分页列出对话，普通用户只能看到自己的对话
func (s *ConversationService) List(ctx context.Context, actor Actor, req *ListConversationsRequest) (*ConversationPage, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	filter := repository.ConversationFilter{
		UserID:      req.UserID,
		ModelID:     req.ModelID,
		ContextType: req.ContextType,
		ContextID:   req.ContextID,
		Archived:    req.Archived,
		Page:        req.Page,
		Limit:       req.Limit,
	}
	if !actor.IsAdmin {
		if req.UserID != nil && *req.UserID != actor.UserID {
			return nil, apperrors.NewAccessDeniedError()
		}
		owner := actor.UserID
		filter.UserID = &owner
	}

	items, total, err := s.conversations.List(ctx, filter)
	if err != nil {
		return nil, translateRepoError(err, "conversation")
	}
	if items == nil {
		items = []models.Conversation{}
	}
	return &ConversationPage{Items: items, Total: total}, nil
}

// Delete 删除对话及其消息
func (s *ConversationService) Delete(ctx context.Context, actor Actor, id uint) error {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return err
	}
	if err := s.conversations.Delete(ctx, id); err != nil {
		return translateRepoError(err, "conversation")
	}
	s.logger.Info("对话已删除", zap.Uint("conversation_id", id))
	return nil
}
