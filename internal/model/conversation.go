package model

import "time"

// Conversation pairs exactly two users, optionally scoped to a listing.
// Participant1ID always holds the smaller user id.
type Conversation struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Participant1ID uint64    `gorm:"column:participant1_id;not null;uniqueIndex:uniq_conv_pair_scope,priority:1;index" json:"participant1Id"`
	Participant2ID uint64    `gorm:"column:participant2_id;not null;uniqueIndex:uniq_conv_pair_scope,priority:2;index" json:"participant2Id"`
	ListingID      *uint64   `gorm:"column:listing_id" json:"listingId,omitempty"`
	ListingScope   uint64    `gorm:"column:listing_scope;not null;default:0;uniqueIndex:uniq_conv_pair_scope,priority:3" json:"-"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
	LastMessageAt  time.Time `gorm:"column:last_message_at;not null;index" json:"lastMessageAt"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// HasParticipant reports whether uid occupies one of the two slots.
func (c *Conversation) HasParticipant(uid uint64) bool {
	return c.Participant1ID == uid || c.Participant2ID == uid
}

// OtherParticipant returns the slot that is not uid.
func (c *Conversation) OtherParticipant(uid uint64) uint64 {
	if c.Participant1ID == uid {
		return c.Participant2ID
	}
	return c.Participant1ID
}

// NormalizePair orders two user ids into their fixed slots.
func NormalizePair(a, b uint64) (uint64, uint64) {
	if a > b {
		return b, a
	}
	return a, b
}

// ScopeOf maps an optional listing id to the non-null scope key.
func ScopeOf(listingID *uint64) uint64 {
	if listingID == nil {
		return 0
	}
	return *listingID
}
