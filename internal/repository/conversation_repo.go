package repository

import (
	"context"
	"errors"
	"time"

	"github.com/aihub/usage-core/internal/models"
	"gorm.io/gorm"
)

// conversationRepository 对话仓库实现
type conversationRepository struct {
	db  *gorm.DB
	tx  Transactor
	now func() time.Time
}

// NewConversationRepository 创建对话仓库
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db, tx: NewTransactor(db), now: time.Now}
}

// Create 创建对话
func (r *conversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	return conn(ctx, r.db).Create(conv).Error
}

// GetByID 根据ID获取对话
func (r *conversationRepository) GetByID(ctx context.Context, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := conn(ctx, r.db).Where("id = ?", id).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// List 获取对话列表，按最后消息时间倒序
func (r *conversationRepository) List(ctx context.Context, filter ConversationFilter) ([]models.Conversation, int64, error) {
	var conversations []models.Conversation
	var total int64

	query := conn(ctx, r.db).Model(&models.Conversation{})
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.ModelID != nil {
		query = query.Where("model_id = ?", *filter.ModelID)
	}
	if filter.ContextType != nil {
		query = query.Where("context_type = ?", *filter.ContextType)
	}
	if filter.ContextID != nil {
		query = query.Where("context_id = ?", *filter.ContextID)
	}
	if filter.Archived != nil {
		query = query.Where("is_archived = ?", *filter.Archived)
	}

	// 获取总数
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := normalizePage(filter.Page, filter.Limit)
	if err := query.Order("last_message_at DESC").Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&conversations).Error; err != nil {
		return nil, 0, err
	}

	return conversations, total, nil
}

// AppendMessage 追加消息：一条 UPDATE 原子递增计数并返回新的序号，再写入消息行
func (r *conversationRepository) AppendMessage(ctx context.Context, msg *models.ConversationMessage) error {
	return r.tx.InTx(ctx, func(ctx context.Context) error {
		db := conn(ctx, r.db)
		now := msg.CreatedAt
		if now.IsZero() {
			now = r.now()
			msg.CreatedAt = now
		}

		var seq []int
		res := db.Raw(`UPDATE conversations
			SET message_count = message_count + 1,
				last_message_at = CASE WHEN last_message_at > ? THEN last_message_at ELSE ? END,
				updated_at = ?
			WHERE id = ? AND is_archived = FALSE
			RETURNING message_count`, now, now, now, msg.ConversationID).Scan(&seq)
		if res.Error != nil {
			return res.Error
		}
		if len(seq) == 0 {
			return r.missingReason(ctx, msg.ConversationID)
		}

		msg.Seq = seq[0]
		return db.Create(msg).Error
	})
}

// missingReason 区分对话不存在与已归档
func (r *conversationRepository) missingReason(ctx context.Context, id uint) error {
	var archived []bool
	if err := conn(ctx, r.db).Model(&models.Conversation{}).
		Where("id = ?", id).Pluck("is_archived", &archived).Error; err != nil {
		return err
	}
	if len(archived) == 0 {
		return ErrNotFound
	}
	return ErrArchived
}

// Messages 获取对话消息，按序号升序
func (r *conversationRepository) Messages(ctx context.Context, conversationID uint, offset, limit int) ([]models.ConversationMessage, error) {
	var messages []models.ConversationMessage
	query := conn(ctx, r.db).Where("conversation_id = ?", conversationID).Order("seq ASC")
	if offset > 0 {
		query = query.Offset(offset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

// SetArchived 设置归档状态
func (r *conversationRepository) SetArchived(ctx context.Context, id uint, archived bool) error {
	return r.updateColumns(ctx, id, map[string]interface{}{
		"is_archived": archived,
		"updated_at":  r.now(),
	})
}

// UpdateTitle 更新标题
func (r *conversationRepository) UpdateTitle(ctx context.Context, id uint, title string) error {
	return r.updateColumns(ctx, id, map[string]interface{}{
		"title":      title,
		"updated_at": r.now(),
	})
}

// AddUsage 原子累加用量，不读取旧值
func (r *conversationRepository) AddUsage(ctx context.Context, id uint, tokens int64, cost float64) error {
	return r.updateColumns(ctx, id, map[string]interface{}{
		"total_tokens": gorm.Expr("total_tokens + ?", tokens),
		"total_cost":   gorm.Expr("total_cost + ?", cost),
		"updated_at":   r.now(),
	})
}

func (r *conversationRepository) updateColumns(ctx context.Context, id uint, updates map[string]interface{}) error {
	res := conn(ctx, r.db).Model(&models.Conversation{}).Where("id = ?", id).UpdateColumns(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete 删除对话及其消息
func (r *conversationRepository) Delete(ctx context.Context, id uint) error {
	return r.tx.InTx(ctx, func(ctx context.Context) error {
		db := conn(ctx, r.db)
		if err := db.Where("conversation_id = ?", id).Delete(&models.ConversationMessage{}).Error; err != nil {
			return err
		}
		res := db.Where("id = ?", id).Delete(&models.Conversation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
