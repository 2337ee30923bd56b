package services

import (
	"context"
	"strings"

	apperrors "github.com/aihub/usage-core/internal/errors"
	"github.com/aihub/usage-core/internal/models"
	"github.com/aihub/usage-core/internal/prompt"
	"github.com/aihub/usage-core/internal/repository"
	"go.uber.org/zap"
)

// TemplateService Prompt 模板服务
type TemplateService struct {
	templates repository.TemplateRepository
	usageLogs repository.UsageLogRepository
	logger    *zap.Logger
}

// CreateTemplateRequest 创建模板请求
type CreateTemplateRequest struct {
	Name        string                 `json:"name" validate:"required,max=255"`
	Category    string                 `json:"category" validate:"max=100"`
	Description string                 `json:"description"`
	Template    string                 `json:"template" validate:"required"`
	ExampleData map[string]interface{} `json:"example_data,omitempty"`
	IsPublic    bool                   `json:"is_public"`
	IsSystem    bool                   `json:"is_system"`
	Tags        []string               `json:"tags" validate:"dive,max=50"`
}

// UpdateTemplateRequest 更新模板请求，nil 字段保持不变
type UpdateTemplateRequest struct {
	Name        *string                `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Category    *string                `json:"category,omitempty" validate:"omitempty,max=100"`
	Description *string                `json:"description,omitempty"`
	Template    *string                `json:"template,omitempty" validate:"omitempty,min=1"`
	ExampleData map[string]interface{} `json:"example_data,omitempty"`
	IsPublic    *bool                  `json:"is_public,omitempty"`
	Tags        []string               `json:"tags,omitempty" validate:"omitempty,dive,max=50"`
}

// ListTemplatesRequest 模板列表请求
type ListTemplatesRequest struct {
	Category   string `json:"category"`
	Tag        string `json:"tag"`
	Visibility string `json:"visibility" validate:"visibility"`
	Search     string `json:"search"`
	Page       int    `json:"page" validate:"gte=0"`
	Limit      int    `json:"limit" validate:"gte=0,lte=100"`
}

// TemplatePage 模板分页结果
type TemplatePage struct {
	Items []models.PromptTemplate `json:"items"`
	Total int64                   `json:"total"`
}

// RenderResult 渲染结果
type RenderResult struct {
	Text    string   `json:"text"`
	Missing []string `json:"missing"`
}

// NewTemplateService 创建模板服务
func NewTemplateService(templates repository.TemplateRepository, usageLogs repository.UsageLogRepository, logger *zap.Logger) *TemplateService {
	return &TemplateService{templates: templates, usageLogs: usageLogs, logger: logger}
}

// Create 创建模板，自动生成 slug 并提取变量；系统模板只能由管理员创建
func (s *TemplateService) Create(ctx context.Context, actor Actor, req *CreateTemplateRequest) (*models.PromptTemplate, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.IsSystem && !actor.IsAdmin {
		return nil, apperrors.NewAccessDeniedError()
	}

	slug, err := s.uniqueSlug(ctx, req.Name, 0)
	if err != nil {
		return nil, err
	}
	tpl := &models.PromptTemplate{
		UserID:      actor.UserID,
		Name:        strings.TrimSpace(req.Name),
		Slug:        slug,
		Category:    req.Category,
		Description: req.Description,
		Template:    req.Template,
		Variables:   prompt.ExtractVariables(req.Template),
		ExampleData: req.ExampleData,
		IsPublic:    req.IsPublic,
		IsSystem:    req.IsSystem,
		Tags:        normalizeTags(req.Tags),
	}
	if err := s.templates.Create(ctx, tpl); err != nil {
		return nil, translateRepoError(err, "template")
	}

	s.logger.Info("模板已创建",
		zap.Uint("template_id", tpl.ID),
		zap.String("slug", tpl.Slug),
		zap.Int("variables", len(tpl.Variables)))
	return tpl, nil
}

// Get 获取模板，私有模板仅所有者与管理员可见
func (s *TemplateService) Get(ctx context.Context, actor Actor, id uint) (*models.PromptTemplate, error) {
	tpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, translateRepoError(err, "template")
	}
	return s.readable(actor, tpl)
}

// GetBySlug 根据 slug 获取模板
func (s *TemplateService) GetBySlug(ctx context.Context, actor Actor, slug string) (*models.PromptTemplate, error) {
	tpl, err := s.templates.GetBySlug(ctx, slug)
	if err != nil {
		return nil, translateRepoError(err, "template")
	}
	return s.readable(actor, tpl)
}

func (s *TemplateService) readable(actor Actor, tpl *models.PromptTemplate) (*models.PromptTemplate, error) {
	if tpl.IsPublic || tpl.IsSystem || actor.owns(tpl.UserID) {
		return tpl, nil
	}
	return nil, apperrors.NewAccessDeniedError()
}

// writable 所有者或管理员可修改，系统模板只允许管理员修改
func (s *TemplateService) writable(ctx context.Context, actor Actor, id uint) (*models.PromptTemplate, error) {
	tpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, translateRepoError(err, "template")
	}
	if tpl.IsSystem && !actor.IsAdmin {
		return nil, apperrors.NewAccessDeniedError().WithDetails(map[string]string{"reason": "system templates are immutable"})
	}
	if !actor.owns(tpl.UserID) {
		return nil, apperrors.NewAccessDeniedError()
	}
	return tpl, nil
}

// Update 更新模板；改名时重新生成 slug，正文变化时重新提取变量
func (s *TemplateService) Update(ctx context.Context, actor Actor, id uint, req *UpdateTemplateRequest) (*models.PromptTemplate, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	tpl, err := s.writable(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name != tpl.Name {
			slug, err := s.uniqueSlug(ctx, name, tpl.ID)
			if err != nil {
				return nil, err
			}
			tpl.Name = name
			tpl.Slug = slug
		}
	}
	if req.Template != nil && *req.Template != tpl.Template {
		tpl.Template = *req.Template
		tpl.Variables = prompt.ExtractVariables(tpl.Template)
	}
	if req.Category != nil {
		tpl.Category = *req.Category
	}
	if req.Description != nil {
		tpl.Description = *req.Description
	}
	if req.ExampleData != nil {
		tpl.ExampleData = req.ExampleData
	}
	if req.IsPublic != nil {
		tpl.IsPublic = *req.IsPublic
	}
	if req.Tags != nil {
		tpl.Tags = normalizeTags(req.Tags)
	}

	if err := s.templates.UpdateContent(ctx, tpl); err != nil {
		return nil, translateRepoError(err, "template")
	}
	s.logger.Info("模板已更新", zap.Uint("template_id", tpl.ID), zap.String("slug", tpl.Slug))
	return tpl, nil
}

// Delete 删除模板；仍被用量日志引用时返回 StateConflict
func (s *TemplateService) Delete(ctx context.Context, actor Actor, id uint) error {
	if _, err := s.writable(ctx, actor, id); err != nil {
		return err
	}
	refs, err := s.usageLogs.CountByTemplate(ctx, id)
	if err != nil {
		return translateRepoError(err, "template")
	}
	if refs > 0 {
		return apperrors.NewStateConflictError("template is referenced by usage logs").
			WithDetails(map[string]int64{"usage_logs": refs})
	}
	if err := s.templates.Delete(ctx, id); err != nil {
		return translateRepoError(err, "template")
	}
	s.logger.Info("模板已删除", zap.Uint("template_id", id))
	return nil
}

// Duplicate 复制模板为调用者的私有模板，计数器清零
func (s *TemplateService) Duplicate(ctx context.Context, actor Actor, id uint) (*models.PromptTemplate, error) {
	src, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	name := prompt.WithSuffix(src.Name, " (Copy)", prompt.MaxNameLength)
	slug, err := s.uniqueSlug(ctx, name, 0)
	if err != nil {
		return nil, err
	}
	dup := &models.PromptTemplate{
		UserID:      actor.UserID,
		Name:        name,
		Slug:        slug,
		Category:    src.Category,
		Description: src.Description,
		Template:    src.Template,
		Variables:   append([]string{}, src.Variables...),
		ExampleData: src.ExampleData,
		Tags:        append([]string{}, src.Tags...),
	}
	if err := s.templates.Create(ctx, dup); err != nil {
		return nil, translateRepoError(err, "template")
	}
	s.logger.Info("模板已复制", zap.Uint("source_id", src.ID), zap.Uint("template_id", dup.ID))
	return dup, nil
}

// List 按分类、标签、可见性与关键字分页查询
func (s *TemplateService) List(ctx context.Context, actor Actor, req *ListTemplatesRequest) (*TemplatePage, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	items, total, err := s.templates.List(ctx, repository.TemplateFilter{
		ActorID:    actor.UserID,
		Category:   req.Category,
		Tag:        req.Tag,
		Visibility: req.Visibility,
		Search:     req.Search,
		Page:       req.Page,
		Limit:      req.Limit,
	})
	if err != nil {
		return nil, translateRepoError(err, "template")
	}
	if items == nil {
		items = []models.PromptTemplate{}
	}
	return &TemplatePage{Items: items, Total: total}, nil
}

// Validate 检查数据是否覆盖模板的全部变量
func (s *TemplateService) Validate(ctx context.Context, actor Actor, id uint, data map[string]interface{}) (prompt.ValidationResult, error) {
	tpl, err := s.Get(ctx, actor, id)
	if err != nil {
		return prompt.ValidationResult{}, err
	}
	return prompt.Validate(tpl.Variables, data), nil
}

// Render 渲染模板；strict 模式下缺少变量返回 ValidationError
func (s *TemplateService) Render(ctx context.Context, actor Actor, id uint, data map[string]interface{}, strict bool) (*RenderResult, error) {
	tpl, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	check := prompt.Validate(tpl.Variables, data)
	if strict && !check.Valid {
		return nil, apperrors.NewMissingVariablesError(check.Missing)
	}
	return &RenderResult{Text: prompt.Render(tpl.Template, data), Missing: check.Missing}, nil
}

// Rate 为模板评分（1-5）
func (s *TemplateService) Rate(ctx context.Context, actor Actor, id uint, rating int) (*models.PromptTemplate, error) {
	if _, _, err := prompt.NextRating(0, 0, rating); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	tpl, err := s.templates.AddRating(ctx, id, rating)
	if err != nil {
		return nil, translateRepoError(err, "template")
	}
	return tpl, nil
}

// IncrementUsage 原子递增模板使用次数
func (s *TemplateService) IncrementUsage(ctx context.Context, id uint) error {
	if err := s.templates.IncrementUsage(ctx, id); err != nil {
		return translateRepoError(err, "template")
	}
	return nil
}

func (s *TemplateService) uniqueSlug(ctx context.Context, name string, excludeID uint) (string, error) {
	slug, err := prompt.UniqueSlug(prompt.Slugify(name), func(candidate string) (bool, error) {
		return s.templates.SlugExists(ctx, candidate, excludeID)
	})
	if err != nil {
		return "", translateRepoError(err, "template")
	}
	return slug, nil
}

// normalizeTags 去除空白与重复标签，保留原顺序
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
