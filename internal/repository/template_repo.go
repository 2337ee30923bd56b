package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/aihub/usage-core/internal/models"
	"gorm.io/gorm"
)

// templateRepository 模板仓库实现
type templateRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewTemplateRepository 创建模板仓库
func NewTemplateRepository(db *gorm.DB) TemplateRepository {
	return &templateRepository{db: db, now: time.Now}
}

// Create 创建模板
func (r *templateRepository) Create(ctx context.Context, tpl *models.PromptTemplate) error {
	return conn(ctx, r.db).Create(tpl).Error
}

// GetByID 根据ID获取模板
func (r *templateRepository) GetByID(ctx context.Context, id uint) (*models.PromptTemplate, error) {
	return r.first(ctx, "id = ?", id)
}

// GetBySlug 根据slug获取模板
func (r *templateRepository) GetBySlug(ctx context.Context, slug string) (*models.PromptTemplate, error) {
	return r.first(ctx, "slug = ?", slug)
}

func (r *templateRepository) first(ctx context.Context, query string, arg interface{}) (*models.PromptTemplate, error) {
	var tpl models.PromptTemplate
	err := conn(ctx, r.db).Where(query, arg).First(&tpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

// SlugExists 检查slug是否被其他模板占用
func (r *templateRepository) SlugExists(ctx context.Context, slug string, excludeID uint) (bool, error) {
	var count int64
	query := conn(ctx, r.db).Model(&models.PromptTemplate{}).Where("slug = ?", slug)
	if excludeID > 0 {
		query = query.Where("id <> ?", excludeID)
	}
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateContent 更新模板内容字段
func (r *templateRepository) UpdateContent(ctx context.Context, tpl *models.PromptTemplate) error {
	tpl.UpdatedAt = r.now()
	res := conn(ctx, r.db).Model(&models.PromptTemplate{}).Where("id = ?", tpl.ID).
		Select("name", "slug", "category", "description", "template", "variables",
			"example_data", "is_public", "is_system", "tags", "updated_at").
		Updates(tpl)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete 删除模板
func (r *templateRepository) Delete(ctx context.Context, id uint) error {
	res := conn(ctx, r.db).Where("id = ?", id).Delete(&models.PromptTemplate{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List 获取模板列表
func (r *templateRepository) List(ctx context.Context, filter TemplateFilter) ([]models.PromptTemplate, int64, error) {
	var templates []models.PromptTemplate
	var total int64

	query := conn(ctx, r.db).Model(&models.PromptTemplate{})

	switch filter.Visibility {
	case VisibilityPublic:
		query = query.Where("is_public = ?", true)
	case VisibilityPrivate:
		query = query.Where("user_id = ? AND is_public = ? AND is_system = ?", filter.ActorID, false, false)
	case VisibilitySystem:
		query = query.Where("is_system = ?", true)
	case VisibilityMine:
		query = query.Where("user_id = ?", filter.ActorID)
	default:
		query = query.Where("is_public = ? OR is_system = ? OR user_id = ?", true, true, filter.ActorID)
	}

	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.Tag != "" {
		tag, err := json.Marshal([]string{filter.Tag})
		if err != nil {
			return nil, 0, err
		}
		query = query.Where("tags @> ?::jsonb", string(tag))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + likeEscaper.Replace(search) + "%"
		query = query.Where(`name ILIKE ? ESCAPE '\' OR description ILIKE ? ESCAPE '\'`, pattern, pattern)
	}

	// 获取总数
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := normalizePage(filter.Page, filter.Limit)
	if err := query.Order("usage_count DESC").Order("id ASC").
		Offset(offset).Limit(limit).
		Find(&templates).Error; err != nil {
		return nil, 0, err
	}

	return templates, total, nil
}

// likeEscaper 转义 LIKE 通配符，使关键字按字面匹配
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// IncrementUsage 原子递增使用次数
func (r *templateRepository) IncrementUsage(ctx context.Context, id uint) error {
	res := conn(ctx, r.db).Model(&models.PromptTemplate{}).Where("id = ?", id).
		UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddRating 一条 UPDATE 内累加评分总和，平均分由总和与次数重新计算
func (r *templateRepository) AddRating(ctx context.Context, id uint, rating int) (*models.PromptTemplate, error) {
	var rows []models.PromptTemplate
	res := conn(ctx, r.db).Raw(`UPDATE prompt_templates
		SET avg_rating = (rating_sum + ?)::numeric / (rating_count + 1),
			rating_sum = rating_sum + ?,
			rating_count = rating_count + 1,
			updated_at = ?
		WHERE id = ?
		RETURNING *`, rating, rating, r.now(), id).Scan(&rows)
	if res.Error != nil {
		return nil, res.Error
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}
