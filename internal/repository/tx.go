package repository

import (
	"context"
	"errors"
	"sync/atomic"

	"gorm.io/gorm"
)

var ErrDBNotReady = errors.New("database not initialized")

type txKey struct{}

// Transactor runs a function inside one database transaction. Repositories
// called with the context passed to fn join that transaction.
type Transactor interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
	SetDB(db *gorm.DB)
}

// dbHandle holds the connection shared by a repository. It may be set after
// requests are already being served.
type dbHandle struct {
	db atomic.Pointer[gorm.DB]
}

func (h *dbHandle) SetDB(db *gorm.DB) {
	h.db.Store(db)
}

// conn returns the transaction bound to ctx, or the handle's db scoped to ctx.
func (h *dbHandle) conn(ctx context.Context) (*gorm.DB, error) {
	if tx, ok := txFromContext(ctx); ok {
		return tx, nil
	}
	db := h.db.Load()
	if db == nil {
		return nil, ErrDBNotReady
	}
	return db.WithContext(ctx), nil
}

type gormTransactor struct {
	dbHandle
}

func NewTransactor(db *gorm.DB) Transactor {
	t := &gormTransactor{}
	t.SetDB(db)
	return t
}

func (t *gormTransactor) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFromContext(ctx); ok {
		return fn(ctx)
	}
	db := t.db.Load()
	if db == nil {
		return ErrDBNotReady
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func txFromContext(ctx context.Context) (*gorm.DB, bool) {
	tx, ok := ctx.Value(txKey{}).(*gorm.DB)
	return tx, ok && tx != nil
}
