package service

import (
	"context"

	"github.com/shinyyama/classifieds-messaging/internal/repository"
	"github.com/shinyyama/classifieds-messaging/internal/storage"
	"go.uber.org/zap"
)

// Participant is the public identity of a conversation member.
type Participant struct {
	ID          uint64
	DisplayName string
	AvatarURL   *string
}

// ListingSummary is the display context a conversation carries about its listing.
type ListingSummary struct {
	ID           uint64
	Title        string
	Type         string
	ThumbnailURL *string
}

// directory resolves user and listing ids into display data in batches.
// Missing users and listings are not errors.
type directory struct {
	users      repository.UserRepository
	listings   repository.ListingRepository
	thumbnails storage.ThumbnailResolver
	logger     *zap.Logger
}

func (d *directory) participants(ctx context.Context, ids []uint64) (map[uint64]Participant, error) {
	users, err := d.users.FindByIDs(ctx, dedupe(ids))
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]Participant, len(ids))
	for _, id := range ids {
		p := Participant{ID: id}
		if u, ok := users[id]; ok {
			p.DisplayName = u.DisplayName
			p.AvatarURL = u.AvatarURL
		}
		out[id] = p
	}
	return out, nil
}

func (d *directory) listingSummaries(ctx context.Context, ids []uint64) (map[uint64]ListingSummary, error) {
	ids = dedupe(ids)
	out := make(map[uint64]ListingSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	listings, err := d.listings.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	found := make([]uint64, 0, len(listings))
	for id := range listings {
		found = append(found, id)
	}
	images, err := d.listings.FirstImages(ctx, found)
	if err != nil {
		return nil, err
	}
	for id, l := range listings {
		summary := ListingSummary{ID: l.ID, Title: l.Title, Type: l.Type}
		if img, ok := images[id]; ok && d.thumbnails != nil {
			u, err := d.thumbnails.ThumbnailURL(ctx, img.ObjectPath)
			if err != nil {
				d.logger.Warn("thumbnail url", zap.Uint64("listing_id", id), zap.Error(err))
			} else {
				summary.ThumbnailURL = &u
			}
		}
		out[id] = summary
	}
	return out, nil
}

func dedupe(ids []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
