package service

import (
	"context"

	"github.com/shinyyama/classifieds-messaging/internal/model"
	"github.com/shinyyama/classifieds-messaging/internal/repository"
	"github.com/shinyyama/classifieds-messaging/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type InboxEntry struct {
	Conversation     model.Conversation
	OtherParticipant Participant
	Listing          *ListingSummary
	LastMessage      *model.Message
	UnreadCount      int64
}

// InboxService composes the conversation list. It never changes read state.
type InboxService interface {
	ListForUser(ctx context.Context, userID uint64) ([]InboxEntry, error)
}

type inboxService struct {
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
	unread   UnreadCounter
	dir      *directory
}

func NewInboxService(
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	listingRepo repository.ListingRepository,
	userRepo repository.UserRepository,
	unread UnreadCounter,
	thumbnails storage.ThumbnailResolver,
	logger *zap.Logger,
) InboxService {
	return &inboxService{
		convRepo: convRepo,
		msgRepo:  msgRepo,
		unread:   unread,
		dir:      &directory{users: userRepo, listings: listingRepo, thumbnails: thumbnails, logger: logger},
	}
}

func (s *inboxService) ListForUser(ctx context.Context, userID uint64) ([]InboxEntry, error) {
	convs, err := s.convRepo.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries := make([]InboxEntry, 0, len(convs))
	if len(convs) == 0 {
		return entries, nil
	}

	convIDs := make([]uint64, 0, len(convs))
	others := make([]uint64, 0, len(convs))
	var listingIDs []uint64
	for _, cv := range convs {
		convIDs = append(convIDs, cv.ID)
		others = append(others, cv.OtherParticipant(userID))
		if cv.ListingID != nil {
			listingIDs = append(listingIDs, *cv.ListingID)
		}
	}

	var (
		people   map[uint64]Participant
		listings map[uint64]ListingSummary
		last     map[uint64]model.Message
		counts   map[uint64]int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		people, err = s.dir.participants(gctx, others)
		return err
	})
	g.Go(func() (err error) {
		listings, err = s.dir.listingSummaries(gctx, listingIDs)
		return err
	})
	g.Go(func() (err error) {
		last, err = s.msgRepo.LastByConversations(gctx, convIDs)
		return err
	})
	g.Go(func() (err error) {
		counts, err = s.unread.CountAllFor(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, cv := range convs {
		e := InboxEntry{
			Conversation:     cv,
			OtherParticipant: people[cv.OtherParticipant(userID)],
			UnreadCount:      counts[cv.ID],
		}
		if cv.ListingID != nil {
			if l, ok := listings[*cv.ListingID]; ok {
				e.Listing = &l
			}
		}
		if m, ok := last[cv.ID]; ok {
			e.LastMessage = &m
		}
		entries = append(entries, e)
	}
	return entries, nil
}
