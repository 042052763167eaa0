package service

import (
	"context"

	"github.com/shinyyama/classifieds-messaging/internal/repository"
)

// UnreadCounter derives unread counts from message read state on every call.
// Nothing is cached, so counts always agree with the latest MarkRead.
type UnreadCounter interface {
	CountFor(ctx context.Context, convID, userID uint64) (int64, error)
	CountAllFor(ctx context.Context, userID uint64) (map[uint64]int64, error)
	TotalFor(ctx context.Context, userID uint64) (int64, error)
}

type unreadCounter struct {
	msgRepo repository.MessageRepository
	convs   ConversationService
}

func NewUnreadCounter(msgRepo repository.MessageRepository, convs ConversationService) UnreadCounter {
	return &unreadCounter{msgRepo: msgRepo, convs: convs}
}

func (c *unreadCounter) CountFor(ctx context.Context, convID, userID uint64) (int64, error) {
	if _, err := c.convs.Authorize(ctx, convID, userID); err != nil {
		return 0, err
	}
	return c.msgRepo.CountUnread(ctx, convID, userID)
}

// CountAllFor returns unread counts keyed by conversation id. Conversations
// with nothing unread are absent.
func (c *unreadCounter) CountAllFor(ctx context.Context, userID uint64) (map[uint64]int64, error) {
	return c.msgRepo.CountUnreadByConversation(ctx, userID)
}

func (c *unreadCounter) TotalFor(ctx context.Context, userID uint64) (int64, error) {
	return c.msgRepo.CountUnreadTotal(ctx, userID)
}
