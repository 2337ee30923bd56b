package models

import (
	"time"
)

// 调用类型
const (
	OperationChat       = "chat"
	OperationCompletion = "completion"
	OperationEmbedding  = "embedding"
	OperationImage      = "image"
	OperationAudio      = "audio"
)

// 调用状态
const (
	StatusSuccess     = "success"
	StatusError       = "error"
	StatusTimeout     = "timeout"
	StatusRateLimited = "rate_limited"
)

// OperationTypes 所有调用类型
var OperationTypes = []string{OperationChat, OperationCompletion, OperationEmbedding, OperationImage, OperationAudio}

// UsageLog AI调用用量日志表，只追加不修改
type UsageLog struct {
	ID             uint                   `gorm:"primaryKey;column:id" json:"id"`
	UserID         uint                   `gorm:"column:user_id;not null;index:idx_usage_logs_user_created" json:"user_id"`
	ModelID        uint                   `gorm:"column:model_id;not null;index" json:"model_id"`
	ConversationID *uint                  `gorm:"column:conversation_id;index" json:"conversation_id,omitempty"`
	TemplateID     *uint                  `gorm:"column:template_id;index" json:"template_id,omitempty"`
	OperationType  string                 `gorm:"column:operation_type;size:20;not null;index" json:"operation_type"`
	ContextType    *string                `gorm:"column:context_type;size:100" json:"context_type,omitempty"`
	ContextID      *string                `gorm:"column:context_id;size:100" json:"context_id,omitempty"`
	Prompt         string                 `gorm:"type:text" json:"prompt,omitempty"`
	Response       string                 `gorm:"type:text" json:"response,omitempty"`
	InputTokens    int                    `gorm:"column:input_tokens;not null;default:0" json:"input_tokens"`
	OutputTokens   int                    `gorm:"column:output_tokens;not null;default:0" json:"output_tokens"`
	TotalTokens    int                    `gorm:"column:total_tokens;not null;default:0" json:"total_tokens"`
	Cost           float64                `gorm:"column:cost;type:numeric(18,8);not null;default:0" json:"cost"`
	ResponseTimeMs *int                   `gorm:"column:response_time_ms" json:"response_time_ms,omitempty"`
	Status         string                 `gorm:"column:status;size:20;not null;index" json:"status"`
	ErrorMessage   *string                `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	Metadata       map[string]interface{} `gorm:"column:metadata;type:jsonb;serializer:json" json:"metadata,omitempty"`
	CreatedAt      time.Time              `gorm:"column:created_at;not null;index:idx_usage_logs_user_created" json:"created_at"`
}

func (UsageLog) TableName() string {
	return "usage_logs"
}

// IsSuccess 是否调用成功
func (l *UsageLog) IsSuccess() bool {
	return l.Status == StatusSuccess
}
