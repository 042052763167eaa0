package repository

import (
	"context"
	"time"

	"github.com/shinyyama/classifieds-messaging/internal/model"
	"gorm.io/gorm"
)

type ConversationRepository interface {
	FindByPairAndScope(ctx context.Context, participant1ID, participant2ID, scope uint64) (*model.Conversation, error)
	Create(ctx context.Context, cv *model.Conversation) error
	FindByID(ctx context.Context, id uint64) (*model.Conversation, error)
	FindByUser(ctx context.Context, uid uint64) ([]model.Conversation, error)
	Touch(ctx context.Context, id uint64, at time.Time) error
	SetDB(db *gorm.DB)
}

type conversationRepository struct {
	dbHandle
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	r := &conversationRepository{}
	r.SetDB(db)
	return r
}

func (r *conversationRepository) FindByPairAndScope(ctx context.Context, participant1ID, participant2ID, scope uint64) (*model.Conversation, error) {
	q, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	var cv model.Conversation
	if err := q.
		Where("participant1_id = ? AND participant2_id = ? AND listing_scope = ?", participant1ID, participant2ID, scope).
		First(&cv).Error; err != nil {
		return nil, err
	}
	return &cv, nil
}

func (r *conversationRepository) Create(ctx context.Context, cv *model.Conversation) error {
	q, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return q.Create(cv).Error
}

func (r *conversationRepository) FindByID(ctx context.Context, id uint64) (*model.Conversation, error) {
	q, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	var cv model.Conversation
	if err := q.First(&cv, id).Error; err != nil {
		return nil, err
	}
	return &cv, nil
}

func (r *conversationRepository) FindByUser(ctx context.Context, uid uint64) ([]model.Conversation, error) {
	q, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	var list []model.Conversation
	if err := q.
		Where("participant1_id = ? OR participant2_id = ?", uid, uid).
		Order("last_message_at DESC").
		Order("id DESC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// Touch moves last_message_at forward to at; it never moves it backwards.
func (r *conversationRepository) Touch(ctx context.Context, id uint64, at time.Time) error {
	q, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return q.Model(&model.Conversation{}).
		Where("id = ? AND last_message_at < ?", id, at).
		Update("last_message_at", at).Error
}
