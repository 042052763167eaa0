package model

import "time"

type Message struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uint64    `gorm:"column:conversation_id;not null;index:idx_msg_conv_order,priority:1" json:"conversationId"`
	SenderID       uint64    `gorm:"column:sender_id;not null;index" json:"senderId"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	IsRead         bool      `gorm:"column:is_read;not null;default:false" json:"isRead"`
	CreatedAt      time.Time `gorm:"column:created_at;not null;index:idx_msg_conv_order,priority:2" json:"createdAt"`
}

func (Message) TableName() string {
	return "messages"
}
