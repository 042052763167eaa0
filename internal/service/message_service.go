package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shinyyama/classifieds-messaging/internal/model"
	"github.com/shinyyama/classifieds-messaging/internal/repository"
)

const DefaultMaxMessageLength = 2000

type MessageService interface {
	Append(ctx context.Context, convID, senderID uint64, content string) (*model.Message, error)
	List(ctx context.Context, convID, userID uint64) ([]model.Message, error)
	MarkRead(ctx context.Context, convID, readerID uint64) (int64, error)
	Validate(content string) (string, error)
}

type messageService struct {
	tx        repository.Transactor
	msgRepo   repository.MessageRepository
	convs     ConversationService
	maxLength int
	now       func() time.Time
}

func NewMessageService(tx repository.Transactor, msgRepo repository.MessageRepository, convs ConversationService, maxLength int) MessageService {
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}
	return &messageService{
		tx:        tx,
		msgRepo:   msgRepo,
		convs:     convs,
		maxLength: maxLength,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Append stores a new unread message and bumps the conversation's recency.
// The returned record is authoritative.
func (s *messageService) Append(ctx context.Context, convID, senderID uint64, content string) (*model.Message, error) {
	var msg *model.Message
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		if _, err := s.convs.Authorize(ctx, convID, senderID); err != nil {
			return err
		}
		body, err := s.Validate(content)
		if err != nil {
			return err
		}
		m := &model.Message{
			ConversationID: convID,
			SenderID:       senderID,
			Content:        body,
			IsRead:         false,
			CreatedAt:      s.now(),
		}
		if err := s.msgRepo.Create(ctx, m); err != nil {
			return err
		}
		if err := s.convs.Touch(ctx, convID, m.CreatedAt); err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Validate returns the content as it would be stored, or ErrInvalidInput.
func (s *messageService) Validate(content string) (string, error) {
	body := strings.TrimSpace(content)
	if body == "" {
		return "", fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(body); n > s.maxLength {
		return "", fmt.Errorf("%w: content is %d characters, limit is %d", ErrInvalidInput, n, s.maxLength)
	}
	return body, nil
}

// List returns every message oldest first. Unpaginated.
func (s *messageService) List(ctx context.Context, convID, userID uint64) ([]model.Message, error) {
	if _, err := s.convs.Authorize(ctx, convID, userID); err != nil {
		return nil, err
	}
	return s.msgRepo.ListByConversation(ctx, convID)
}

// MarkRead flips every unread message addressed to readerID. Calling it with
// nothing unread is a no-op.
func (s *messageService) MarkRead(ctx context.Context, convID, readerID uint64) (int64, error) {
	if _, err := s.convs.Authorize(ctx, convID, readerID); err != nil {
		return 0, err
	}
	return s.msgRepo.MarkRead(ctx, convID, readerID)
}
