package model

import "time"

type User struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	FirebaseUID *string   `gorm:"column:firebase_uid;size:128;uniqueIndex"`
	DisplayName string    `gorm:"column:display_name;size:120;not null"`
	AvatarURL   *string   `gorm:"column:avatar_url;size:512"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (User) TableName() string {
	return "users"
}
