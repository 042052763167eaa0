package service

import (
	"context"

	"github.com/shinyyama/classifieds-messaging/internal/model"
)

type Thread struct {
	Detail   ConversationDetail
	Messages []model.Message
	// MarkedRead is how many messages this open flipped to read.
	MarkedRead int64
}

// ThreadService backs the "open conversation" call, which is also what
// clients re-issue to poll.
type ThreadService interface {
	Open(ctx context.Context, convID, userID uint64) (*Thread, error)
}

type threadService struct {
	convs ConversationService
	msgs  MessageService
}

func NewThreadService(convs ConversationService, msgs MessageService) ThreadService {
	return &threadService{convs: convs, msgs: msgs}
}

func (s *threadService) Open(ctx context.Context, convID, userID uint64) (*Thread, error) {
	detail, err := s.convs.Get(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	marked, err := s.msgs.MarkRead(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.msgs.List(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	return &Thread{Detail: *detail, Messages: msgs, MarkedRead: marked}, nil
}
