package repository

import (
	"context"

	"github.com/shinyyama/classifieds-messaging/internal/model"
	"gorm.io/gorm"
)

type MessageRepository interface {
	Create(ctx context.Context, msg *model.Message) error
	ListByConversation(ctx context.Context, convID uint64) ([]model.Message, error)
	MarkRead(ctx context.Context, convID, readerID uint64) (int64, error)
	CountUnread(ctx context.Context, convID, userID uint64) (int64, error)
	CountUnreadByConversation(ctx context.Context, userID uint64) (map[uint64]int64, error)
	CountUnreadTotal(ctx context.Context, userID uint64) (int64, error)
	LastByConversations(ctx context.Context, convIDs []uint64) (map[uint64]model.Message, error)
	SetDB(db *gorm.DB)
}

type messageRepository struct {
	dbHandle
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	r := &messageRepository{}
	r.SetDB(db)
	return r
}

func (r *messageRepository) Create(ctx context.Context, msg *model.Message) error {
	q, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return q.Create(msg).Error
}

func (r *messageRepository) ListByConversation(ctx context.Context, convID uint64) ([]model.Message, error) {
	q, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	msgs := make([]model.Message, 0)
	if err := q.
		Where("conversation_id = ?", convID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, convID, readerID uint64) (int64, error) {
	q, err := r.conn(ctx)
	if err != nil {
		return 0, err
	}
	res := q.Model(&model.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND is_read = ?", convID, readerID, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

func (r *messageRepository) CountUnread(ctx context.Context, convID, userID uint64) (int64, error) {
	q, err := r.conn(ctx)
	if err != nil {
		return 0, err
	}
	var cnt int64
	if err := q.Model(&model.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND is_read = ?", convID, userID, false).
		Count(&cnt).Error; err != nil {
		return 0, err
	}
	return cnt, nil
}

// unreadForUser scopes messages to unread ones addressed to userID across all of
// the user's conversations.
func unreadForUser(q *gorm.DB, userID uint64) *gorm.DB {
	return q.Model(&model.Message{}).
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("(conversations.participant1_id = ? OR conversations.participant2_id = ?)", userID, userID).
		Where("messages.sender_id <> ? AND messages.is_read = ?", userID, false)
}

func (r *messageRepository) CountUnreadByConversation(ctx context.Context, userID uint64) (map[uint64]int64, error) {
	q, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ConversationID uint64
		Unread         int64
	}
	if err := unreadForUser(q, userID).
		Select("messages.conversation_id AS conversation_id, COUNT(*) AS unread").
		Group("messages.conversation_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[uint64]int64, len(rows))
	for _, row := range rows {
		out[row.ConversationID] = row.Unread
	}
	return out, nil
}

func (r *messageRepository) CountUnreadTotal(ctx context.Context, userID uint64) (int64, error) {
	q, err := r.conn(ctx)
	if err != nil {
		return 0, err
	}
	var cnt int64
	if err := unreadForUser(q, userID).Count(&cnt).Error; err != nil {
		return 0, err
	}
	return cnt, nil
}

// LastByConversations returns the newest message of each conversation that has one.
func (r *messageRepository) LastByConversations(ctx context.Context, convIDs []uint64) (map[uint64]model.Message, error) {
	out := make(map[uint64]model.Message, len(convIDs))
	if len(convIDs) == 0 {
		return out, nil
	}
	q, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	latest := q.Session(&gorm.Session{NewDB: true}).
		Model(&model.Message{}).
		Select("MAX(id)").
		Where("conversation_id IN ?", convIDs).
		Group("conversation_id")
	var msgs []model.Message
	if err := q.Where("id IN (?)", latest).Find(&msgs).Error; err != nil {
		return nil, err
	}
	for _, m := range msgs {
		out[m.ConversationID] = m
	}
	return out, nil
}
