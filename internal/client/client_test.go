package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shinyyama/classifieds-messaging/internal/chatsession"
	"github.com/shinyyama/classifieds-messaging/internal/dto"
)

var _ chatsession.API = (*Client)(nil)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSendMessage(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/conversations/7/messages" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-User-ID"); got != "1" {
			t.Errorf("X-User-ID = %q", got)
		}
		var req dto.SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		writeJSON(w, http.StatusCreated, dto.Message{ID: 3, ConversationID: 7, SenderID: 1, Content: req.Content, CreatedAt: created})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", WithUserID(1))
	msg, err := c.SendMessage(context.Background(), 7, "hello")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if msg.ID != 3 || msg.Content != "hello" || !msg.CreatedAt.Equal(created) {
		t.Fatalf("message = %+v", msg)
	}
}

func TestBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("Authorization = %q", got)
		}
		writeJSON(w, http.StatusOK, dto.UnreadSummary{Total: 2, Conversations: map[uint64]int64{7: 2}})
	}))
	defer srv.Close()

	c := New(srv.URL, WithBearerToken("tok-123"))
	sum, err := c.MyUnread(context.Background())
	if err != nil {
		t.Fatalf("MyUnread() error = %v", err)
	}
	if sum.Total != 2 || sum.Conversations[7] != 2 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		code      string
		want      error
		transient bool
	}{
		{"not found", http.StatusNotFound, dto.CodeNotFound, ErrNotFound, false},
		{"forbidden", http.StatusForbidden, dto.CodeForbidden, ErrForbidden, false},
		{"invalid input", http.StatusBadRequest, dto.CodeInvalidInput, ErrInvalidInput, false},
		{"invalid participants", http.StatusBadRequest, dto.CodeInvalidParticipants, ErrInvalidParticipants, false},
		{"unauthorized", http.StatusUnauthorized, dto.CodeUnauthorized, ErrUnauthorized, false},
		{"server error", http.StatusInternalServerError, dto.CodeInternal, nil, true},
		{"bad gateway", http.StatusBadGateway, "", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.code == "" {
					w.WriteHeader(tt.status)
					return
				}
				writeJSON(w, tt.status, dto.ErrorResponse{Error: dto.ErrorPayload{Code: tt.code, Message: "nope"}})
			}))
			defer srv.Close()

			_, err := New(srv.URL, WithUserID(1)).OpenConversation(context.Background(), 999)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if got := IsTransient(err); got != tt.transient {
				t.Errorf("IsTransient = %v, want %v", got, tt.transient)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.Status != tt.status {
				t.Errorf("APIError = %+v", apiErr)
			}
		})
	}
}

func TestNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, WithUserID(1)).SendMessage(context.Background(), 1, "hi")
	if !IsTransient(err) {
		t.Fatalf("error = %v, want transient", err)
	}
}

func TestStartAndContact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/conversations":
			var req dto.StartConversationRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.RecipientID != 2 || req.ListingID == nil || *req.ListingID != 42 {
				t.Errorf("start request = %+v", req)
			}
			writeJSON(w, http.StatusCreated, dto.StartConversationResponse{Conversation: dto.Conversation{ID: 5}})
		case "/api/listings/42/conversations":
			var req dto.ContactListingRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			writeJSON(w, http.StatusCreated, dto.StartConversationResponse{
				Conversation: dto.Conversation{ID: 5},
				Message:      &dto.Message{ID: 1, Content: req.Content},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, WithUserID(1))
	lid := uint64(42)
	started, err := c.StartConversation(context.Background(), dto.StartConversationRequest{RecipientID: 2, ListingID: &lid})
	if err != nil || started.Conversation.ID != 5 {
		t.Fatalf("StartConversation() = %+v, %v", started, err)
	}
	contacted, err := c.ContactListing(context.Background(), 42, "Is this still available?")
	if err != nil || contacted.Message == nil || contacted.Message.Content != "Is this still available?" {
		t.Fatalf("ContactListing() = %+v, %v", contacted, err)
	}
}
