package repository

import (
	"context"
	"errors"

	"github.com/aihub/usage-core/internal/models"
	"gorm.io/gorm"
)

// modelRegistry 模型注册表实现
type modelRegistry struct {
	db *gorm.DB
}

// NewModelRegistry 创建模型注册表
func NewModelRegistry(db *gorm.DB) ModelRegistry {
	return &modelRegistry{db: db}
}

// Pricing 查询模型单价与所属服务
func (r *modelRegistry) Pricing(ctx context.Context, modelID uint) (*ModelPricing, error) {
	var model models.AIModel
	err := conn(ctx, r.db).Preload("Service").Where("id = ?", modelID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return pricingOf(&model), nil
}

func pricingOf(model *models.AIModel) *ModelPricing {
	pricing := &ModelPricing{
		ModelID:     model.ID,
		ModelName:   model.Name,
		ServiceName: model.Service.Name,
	}
	if model.CostPerInputToken != nil {
		pricing.CostPerInputToken = *model.CostPerInputToken
	}
	if model.CostPerOutputToken != nil {
		pricing.CostPerOutputToken = *model.CostPerOutputToken
	}
	return pricing
}
