package handler

import (
	"github.com/shinyyama/classifieds-messaging/internal/dto"
	"github.com/shinyyama/classifieds-messaging/internal/model"
	"github.com/shinyyama/classifieds-messaging/internal/service"
)

func toConversation(cv model.Conversation) dto.Conversation {
	return dto.Conversation{
		ID:             cv.ID,
		ParticipantIDs: [2]uint64{cv.Participant1ID, cv.Participant2ID},
		ListingID:      cv.ListingID,
		CreatedAt:      cv.CreatedAt,
		LastMessageAt:  cv.LastMessageAt,
	}
}

func toMessage(m model.Message) dto.Message {
	return dto.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		IsRead:         m.IsRead,
		CreatedAt:      m.CreatedAt,
	}
}

func toMessages(msgs []model.Message) []dto.Message {
	out := make([]dto.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessage(m))
	}
	return out
}

func toParticipant(p service.Participant) dto.Participant {
	return dto.Participant{ID: p.ID, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL}
}

func toListing(l *service.ListingSummary) *dto.ListingSummary {
	if l == nil {
		return nil
	}
	return &dto.ListingSummary{ID: l.ID, Title: l.Title, Type: l.Type, ThumbnailURL: l.ThumbnailURL}
}

func toDetail(d service.ConversationDetail) dto.ConversationDetail {
	return dto.ConversationDetail{
		Conversation:     toConversation(d.Conversation),
		OtherParticipant: toParticipant(d.OtherParticipant),
		Listing:          toListing(d.Listing),
	}
}

func toThread(t service.Thread) dto.Thread {
	return dto.Thread{
		Conversation: toDetail(t.Detail),
		Messages:     toMessages(t.Messages),
		MarkedRead:   t.MarkedRead,
	}
}

func toInboxEntry(e service.InboxEntry) dto.InboxEntry {
	out := dto.InboxEntry{
		Conversation:     toConversation(e.Conversation),
		OtherParticipant: toParticipant(e.OtherParticipant),
		Listing:          toListing(e.Listing),
		UnreadCount:      e.UnreadCount,
	}
	if e.LastMessage != nil {
		m := toMessage(*e.LastMessage)
		out.LastMessage = &m
	}
	return out
}
