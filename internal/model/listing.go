package model

import (
	"time"

	"gorm.io/gorm"
)

// Listing is the read-only slice of a classifieds listing that messaging needs.
type Listing struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement"`
	OwnerID   uint64         `gorm:"column:owner_id;not null;index"`
	Title     string         `gorm:"size:120;not null"`
	Type      string         `gorm:"column:type;size:32;not null"`
	CreatedAt time.Time      `gorm:"autoCreateTime"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (Listing) TableName() string {
	return "listings"
}
