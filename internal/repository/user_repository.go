package repository

import (
	"context"
	"errors"

	"github.com/shinyyama/classifieds-messaging/internal/model"
	"gorm.io/gorm"
)

type UserRepository interface {
	FindByID(ctx context.Context, id uint64) (*model.User, error)
	FindByIDs(ctx context.Context, ids []uint64) (map[uint64]model.User, error)
	FindOrCreateByFirebaseUID(ctx context.Context, firebaseUID, displayName string, avatarURL *string) (*model.User, error)
	SetDB(db *gorm.DB)
}

type userRepository struct {
	dbHandle
}

func NewUserRepository(db *gorm.DB) UserRepository {
	r := &userRepository{}
	r.SetDB(db)
	return r
}

func (r *userRepository) FindByID(ctx context.Context, id uint64) (*model.User, error) {
	q, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	var u model.User
	if err := q.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) FindByIDs(ctx context.Context, ids []uint64) (map[uint64]model.User, error) {
	out := make(map[uint64]model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	var list []model.User
	if err := q.Where("id IN ?", ids).Find(&list).Error; err != nil {
		return nil, err
	}
	for _, u := range list {
		out[u.ID] = u
	}
	return out, nil
}

func (r *userRepository) FindOrCreateByFirebaseUID(ctx context.Context, firebaseUID, displayName string, avatarURL *string) (*model.User, error) {
	q, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	u := model.User{FirebaseUID: &firebaseUID, DisplayName: displayName, AvatarURL: avatarURL}
	err = q.Where("firebase_uid = ?", firebaseUID).FirstOrCreate(&u).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost a first-login race; the other request created the row.
		u = model.User{}
		err = q.Where("firebase_uid = ?", firebaseUID).First(&u).Error
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
