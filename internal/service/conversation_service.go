package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shinyyama/classifieds-messaging/internal/model"
	"github.com/shinyyama/classifieds-messaging/internal/repository"
	"github.com/shinyyama/classifieds-messaging/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ConversationDetail struct {
	Conversation     model.Conversation
	OtherParticipant Participant
	Listing          *ListingSummary
}

type ConversationService interface {
	FindOrCreate(ctx context.Context, userA, userB uint64, listingID *uint64) (*model.Conversation, error)
	StartFromListing(ctx context.Context, buyerID, listingID uint64) (*model.Conversation, error)
	StartDirect(ctx context.Context, senderID, recipientID uint64, listingID *uint64) (*model.Conversation, error)
	Authorize(ctx context.Context, convID, userID uint64) (*model.Conversation, error)
	Get(ctx context.Context, convID, userID uint64) (*ConversationDetail, error)
	Touch(ctx context.Context, convID uint64, at time.Time) error
}

type conversationService struct {
	convRepo    repository.ConversationRepository
	listingRepo repository.ListingRepository
	userRepo    repository.UserRepository
	dir         *directory
	now         func() time.Time
}

func NewConversationService(
	convRepo repository.ConversationRepository,
	listingRepo repository.ListingRepository,
	userRepo repository.UserRepository,
	thumbnails storage.ThumbnailResolver,
	logger *zap.Logger,
) ConversationService {
	return &conversationService{
		convRepo:    convRepo,
		listingRepo: listingRepo,
		userRepo:    userRepo,
		dir:         &directory{users: userRepo, listings: listingRepo, thumbnails: thumbnails, logger: logger},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *conversationService) FindOrCreate(ctx context.Context, userA, userB uint64, listingID *uint64) (*model.Conversation, error) {
	if userA == userB {
		return nil, fmt.Errorf("%w: cannot start a conversation with yourself", ErrInvalidParticipants)
	}
	if userA == 0 || userB == 0 {
		return nil, fmt.Errorf("%w: missing participant", ErrInvalidParticipants)
	}
	p1, p2 := model.NormalizePair(userA, userB)
	scope := model.ScopeOf(listingID)

	cv, err := s.convRepo.FindByPairAndScope(ctx, p1, p2, scope)
	if err == nil {
		return cv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var lid *uint64
	if listingID != nil {
		v := *listingID
		lid = &v
	}
	cv = &model.Conversation{
		Participant1ID: p1,
		Participant2ID: p2,
		ListingID:      lid,
		ListingScope:   scope,
		LastMessageAt:  s.now(),
	}
	if err := s.convRepo.Create(ctx, cv); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// A concurrent request created the same pairing first.
			return s.convRepo.FindByPairAndScope(ctx, p1, p2, scope)
		}
		return nil, err
	}
	return cv, nil
}

func (s *conversationService) StartFromListing(ctx context.Context, buyerID, listingID uint64) (*model.Conversation, error) {
	listing, err := s.listingRepo.FindByID(ctx, listingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if listing.OwnerID == buyerID {
		return nil, fmt.Errorf("%w: cannot contact yourself about your own listing", ErrInvalidParticipants)
	}
	return s.FindOrCreate(ctx, buyerID, listing.OwnerID, &listingID)
}

func (s *conversationService) StartDirect(ctx context.Context, senderID, recipientID uint64, listingID *uint64) (*model.Conversation, error) {
	if senderID == recipientID {
		return nil, fmt.Errorf("%w: cannot start a conversation with yourself", ErrInvalidParticipants)
	}
	if _, err := s.userRepo.FindByID(ctx, recipientID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if listingID != nil {
		if _, err := s.listingRepo.FindByID(ctx, *listingID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
	}
	return s.FindOrCreate(ctx, senderID, recipientID, listingID)
}

// Authorize loads the conversation and checks that userID is one of its participants.
func (s *conversationService) Authorize(ctx context.Context, convID, userID uint64) (*model.Conversation, error) {
	cv, err := s.convRepo.FindByID(ctx, convID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !cv.HasParticipant(userID) {
		return nil, ErrForbidden
	}
	return cv, nil
}

func (s *conversationService) Get(ctx context.Context, convID, userID uint64) (*ConversationDetail, error) {
	cv, err := s.Authorize(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	other := cv.OtherParticipant(userID)
	people, err := s.dir.participants(ctx, []uint64{other})
	if err != nil {
		return nil, err
	}
	detail := &ConversationDetail{Conversation: *cv, OtherParticipant: people[other]}
	if cv.ListingID != nil {
		listings, err := s.dir.listingSummaries(ctx, []uint64{*cv.ListingID})
		if err != nil {
			return nil, err
		}
		if l, ok := listings[*cv.ListingID]; ok {
			detail.Listing = &l
		}
	}
	return detail, nil
}

func (s *conversationService) Touch(ctx context.Context, convID uint64, at time.Time) error {
	return s.convRepo.Touch(ctx, convID, at)
}
