package repository

import (
	"context"

	"github.com/shinyyama/classifieds-messaging/internal/model"
	"gorm.io/gorm"
)

// ListingRepository reads listings owned by the classifieds side of the
// application. Soft-deleted listings are invisible here.
type ListingRepository interface {
	FindByID(ctx context.Context, id uint64) (*model.Listing, error)
	FindByIDs(ctx context.Context, ids []uint64) (map[uint64]model.Listing, error)
	FirstImages(ctx context.Context, listingIDs []uint64) (map[uint64]model.ListingImage, error)
	SetDB(db *gorm.DB)
}

type listingRepository struct {
	dbHandle
}

func NewListingRepository(db *gorm.DB) ListingRepository {
	r := &listingRepository{}
	r.SetDB(db)
	return r
}

func (r *listingRepository) FindByID(ctx context.Context, id uint64) (*model.Listing, error) {
	q, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	var l model.Listing
	if err := q.First(&l, id).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *listingRepository) FindByIDs(ctx context.Context, ids []uint64) (map[uint64]model.Listing, error) {
	out := make(map[uint64]model.Listing, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	var list []model.Listing
	if err := q.Where("id IN ?", ids).Find(&list).Error; err != nil {
		return nil, err
	}
	for _, l := range list {
		out[l.ID] = l
	}
	return out, nil
}

// FirstImages returns the lowest-positioned image of each listing.
func (r *listingRepository) FirstImages(ctx context.Context, listingIDs []uint64) (map[uint64]model.ListingImage, error) {
	out := make(map[uint64]model.ListingImage, len(listingIDs))
	if len(listingIDs) == 0 {
		return out, nil
	}
	q, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	var imgs []model.ListingImage
	if err := q.
		Where("listing_id IN ?", listingIDs).
		Order("listing_id ASC").
		Order("position ASC").
		Order("id ASC").
		Find(&imgs).Error; err != nil {
		return nil, err
	}
	for _, img := range imgs {
		if _, seen := out[img.ListingID]; !seen {
			out[img.ListingID] = img
		}
	}
	return out, nil
}
