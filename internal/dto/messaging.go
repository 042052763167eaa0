// Package dto holds the JSON shapes shared by the HTTP handlers and the Go client.
package dto

import "time"

type Participant struct {
	ID          uint64  `json:"id"`
	DisplayName string  `json:"displayName"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
}

type ListingSummary struct {
	ID           uint64  `json:"id"`
	Title        string  `json:"title"`
	Type         string  `json:"type"`
	ThumbnailURL *string `json:"thumbnailUrl,omitempty"`
}

type Message struct {
	ID             uint64    `json:"id"`
	ConversationID uint64    `json:"conversationId"`
	SenderID       uint64    `json:"senderId"`
	Content        string    `json:"content"`
	IsRead         bool      `json:"isRead"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Conversation struct {
	ID             uint64    `json:"id"`
	ParticipantIDs [2]uint64 `json:"participantIds"`
	ListingID      *uint64   `json:"listingId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastMessageAt  time.Time `json:"lastMessageAt"`
}

type ConversationDetail struct {
	Conversation
	OtherParticipant Participant     `json:"otherParticipant"`
	Listing          *ListingSummary `json:"listing,omitempty"`
}

// Thread is the response of opening (or polling) a conversation.
type Thread struct {
	Conversation ConversationDetail `json:"conversation"`
	Messages     []Message          `json:"messages"`
	MarkedRead   int64              `json:"markedRead"`
}

type InboxEntry struct {
	Conversation
	OtherParticipant Participant     `json:"otherParticipant"`
	Listing          *ListingSummary `json:"listing,omitempty"`
	LastMessage      *Message        `json:"lastMessage,omitempty"`
	UnreadCount      int64           `json:"unreadCount"`
}

type Inbox struct {
	Conversations []InboxEntry `json:"conversations"`
	UnreadTotal   int64        `json:"unreadTotal"`
}

type StartConversationRequest struct {
	RecipientID uint64  `json:"recipientId"`
	ListingID   *uint64 `json:"listingId,omitempty"`
	Content     string  `json:"content,omitempty"`
}

type ContactListingRequest struct {
	Content string `json:"content,omitempty"`
}

type StartConversationResponse struct {
	Conversation Conversation `json:"conversation"`
	Message      *Message     `json:"message,omitempty"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

type MarkReadResponse struct {
	MarkedRead int64 `json:"markedRead"`
}

type UnreadCount struct {
	ConversationID uint64 `json:"conversationId"`
	Unread         int64  `json:"unread"`
}

type UnreadSummary struct {
	Total         int64            `json:"total"`
	Conversations map[uint64]int64 `json:"conversations"`
}
