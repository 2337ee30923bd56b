package models

import (
	"time"
)

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ValidRole 检查角色是否合法
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Conversation 对话表
// message_count / total_tokens / total_cost 只能通过原子自增修改
type Conversation struct {
	ID            uint                   `gorm:"primaryKey;column:id" json:"id"`
	UserID        uint                   `gorm:"column:user_id;not null;index" json:"user_id"`
	ModelID       uint                   `gorm:"column:model_id;not null;index" json:"model_id"`
	Title         string                 `gorm:"size:255;not null" json:"title"`
	ContextType   *string                `gorm:"column:context_type;size:100;index:idx_conversations_context" json:"context_type,omitempty"`
	ContextID     *string                `gorm:"column:context_id;size:100;index:idx_conversations_context" json:"context_id,omitempty"`
	MessageCount  int                    `gorm:"column:message_count;not null;default:0" json:"message_count"`
	TotalTokens   int64                  `gorm:"column:total_tokens;not null;default:0" json:"total_tokens"`
	TotalCost     float64                `gorm:"column:total_cost;type:numeric(18,8);not null;default:0" json:"total_cost"`
	LastMessageAt time.Time              `gorm:"column:last_message_at;not null;index" json:"last_message_at"`
	IsArchived    bool                   `gorm:"column:is_archived;not null;default:false;index" json:"is_archived"`
	Metadata      map[string]interface{} `gorm:"column:metadata;type:jsonb;serializer:json" json:"metadata,omitempty"`
	CreatedAt     time.Time              `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt     time.Time              `gorm:"column:updated_at" json:"updated_at"`

	Messages []ConversationMessage `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// ConversationMessage 对话消息表，按 (conversation_id, seq) 排序，写入后不再修改
type ConversationMessage struct {
	ID             uint                   `gorm:"primaryKey;column:id" json:"id"`
	ConversationID uint                   `gorm:"column:conversation_id;not null;uniqueIndex:idx_conversation_messages_seq" json:"conversation_id"`
	Seq            int                    `gorm:"column:seq;not null;uniqueIndex:idx_conversation_messages_seq" json:"seq"`
	Role           string                 `gorm:"column:role;size:20;not null" json:"role"`
	Content        string                 `gorm:"type:text;not null" json:"content"`
	Metadata       map[string]interface{} `gorm:"column:metadata;type:jsonb;serializer:json" json:"metadata,omitempty"`
	CreatedAt      time.Time              `gorm:"column:created_at;not null" json:"created_at"`
}

func (ConversationMessage) TableName() string {
	return "conversation_messages"
}
