package models

import (
	"time"
)

// AIService AI服务商表（OpenAI / Anthropic / 通义千问 ...）
type AIService struct {
	ID        uint      `gorm:"primaryKey;column:id" json:"id"`
	Name      string    `gorm:"size:100;not null;uniqueIndex" json:"name"`
	Provider  string    `gorm:"size:50;not null" json:"provider"`
	IsActive  bool      `gorm:"column:is_active;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (AIService) TableName() string {
	return "ai_services"
}

// AIModel 模型表，单价为每个token的价格，未配置时按0计费
type AIModel struct {
	ID                 uint      `gorm:"primaryKey;column:id" json:"id"`
	ServiceID          uint      `gorm:"column:service_id;not null;index" json:"service_id"`
	Name               string    `gorm:"size:100;not null" json:"name"`
	DisplayName        string    `gorm:"column:display_name;size:200" json:"display_name"`
	CostPerInputToken  *float64  `gorm:"column:cost_per_input_token;type:numeric(18,10)" json:"cost_per_input_token"`
	CostPerOutputToken *float64  `gorm:"column:cost_per_output_token;type:numeric(18,10)" json:"cost_per_output_token"`
	IsActive           bool      `gorm:"column:is_active;default:true" json:"is_active"`
	CreatedAt          time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at" json:"updated_at"`

	Service AIService `gorm:"foreignKey:ServiceID"`
}

func (AIModel) TableName() string {
	return "ai_models"
}
