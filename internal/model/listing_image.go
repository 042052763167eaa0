package model

import "time"

type ListingImage struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	ListingID  uint64    `gorm:"column:listing_id;not null;index:idx_listing_images_listing_id"`
	ObjectPath string    `gorm:"column:object_path;size:512;not null"`
	Position   int       `gorm:"column:position;not null;default:0"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (ListingImage) TableName() string {
	return "listing_images"
}
