package models

import (
	"time"
)

// PromptTemplate Prompt 模板表
type PromptTemplate struct {
	ID          uint                   `gorm:"primaryKey;column:id" json:"id"`
	UserID      uint                   `gorm:"column:user_id;index" json:"user_id"`
	Name        string                 `gorm:"size:255;not null" json:"name"`
	Slug        string                 `gorm:"size:255;not null;uniqueIndex" json:"slug"`
	Category    string                 `gorm:"size:100;index" json:"category"`
	Description string                 `gorm:"type:text" json:"description"`
	Template    string                 `gorm:"column:template;type:text;not null" json:"template"`
	Variables   []string               `gorm:"column:variables;type:jsonb;serializer:json" json:"variables"`
	ExampleData map[string]interface{} `gorm:"column:example_data;type:jsonb;serializer:json" json:"example_data,omitempty"`
	IsPublic    bool                   `gorm:"column:is_public;not null;default:false" json:"is_public"`
	IsSystem    bool                   `gorm:"column:is_system;not null;default:false" json:"is_system"`
	Tags        []string               `gorm:"column:tags;type:jsonb;serializer:json" json:"tags"`
	UsageCount  int64                  `gorm:"column:usage_count;not null;default:0" json:"usage_count"`
	AvgRating   float64                `gorm:"column:avg_rating;type:numeric(4,2);not null;default:0" json:"avg_rating"`
	RatingCount int                    `gorm:"column:rating_count;not null;default:0" json:"-"`
	RatingSum   int64                  `gorm:"column:rating_sum;not null;default:0" json:"-"`
	CreatedAt   time.Time              `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt   time.Time              `gorm:"column:updated_at" json:"updated_at"`
}

func (PromptTemplate) TableName() string {
	return "prompt_templates"
}
