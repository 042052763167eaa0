// Package client is a typed HTTP client for the messaging API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shinyyama/classifieds-messaging/internal/dto"
	"golang.org/x/oauth2"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidParticipants = errors.New("invalid participants")
	ErrUnauthorized        = errors.New("unauthorized")
)

// APIError is a non-2xx response carrying the server's error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case dto.CodeNotFound:
		return ErrNotFound
	case dto.CodeForbidden:
		return ErrForbidden
	case dto.CodeInvalidInput:
		return ErrInvalidInput
	case dto.CodeInvalidParticipants:
		return ErrInvalidParticipants
	case dto.CodeUnauthorized, "invalid_token":
		return ErrUnauthorized
	}
	return nil
}

// TransientError wraps failures worth retrying: transport errors and 5xx.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

type Client struct {
	baseURL string
	http    *http.Client
	userID  uint64
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithBearerToken authenticates every request with a Firebase ID token.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		base := c.http.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		c.http = &http.Client{
			Timeout: c.http.Timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
				Base:   base,
			},
		}
	}
}

// WithUserID sends X-User-ID, accepted by servers running AUTH_MODE=header.
func WithUserID(id uint64) Option {
	return func(c *Client) { c.userID = id }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ListInbox(ctx context.Context) (*dto.Inbox, error) {
	var out dto.Inbox
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) StartConversation(ctx context.Context, req dto.StartConversationRequest) (*dto.StartConversationResponse, error) {
	var out dto.StartConversationResponse
	if err := c.do(ctx, http.MethodPost, "/api/conversations", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ContactListing(ctx context.Context, listingID uint64, content string) (*dto.StartConversationResponse, error) {
	var out dto.StartConversationResponse
	path := "/api/listings/" + strconv.FormatUint(listingID, 10) + "/conversations"
	if err := c.do(ctx, http.MethodPost, path, dto.ContactListingRequest{Content: content}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenConversation fetches detail and messages; the server marks the
// caller's unread messages read.
func (c *Client) OpenConversation(ctx context.Context, convID uint64) (*dto.Thread, error) {
	var out dto.Thread
	if err := c.do(ctx, http.MethodGet, conversationPath(convID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListMessages(ctx context.Context, convID uint64) ([]dto.Message, error) {
	var out []dto.Message
	if err := c.do(ctx, http.MethodGet, conversationPath(convID)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, convID uint64, content string) (*dto.Message, error) {
	var out dto.Message
	if err := c.do(ctx, http.MethodPost, conversationPath(convID)+"/messages", dto.SendMessageRequest{Content: content}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MarkRead(ctx context.Context, convID uint64) (int64, error) {
	var out dto.MarkReadResponse
	if err := c.do(ctx, http.MethodPost, conversationPath(convID)+"/read", nil, &out); err != nil {
		return 0, err
	}
	return out.MarkedRead, nil
}

func (c *Client) Unread(ctx context.Context, convID uint64) (int64, error) {
	var out dto.UnreadCount
	if err := c.do(ctx, http.MethodGet, conversationPath(convID)+"/unread", nil, &out); err != nil {
		return 0, err
	}
	return out.Unread, nil
}

func (c *Client) MyUnread(ctx context.Context) (*dto.UnreadSummary, error) {
	var out dto.UnreadSummary
	if err := c.do(ctx, http.MethodGet, "/api/me/unread", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func conversationPath(id uint64) string {
	return "/api/conversations/" + strconv.FormatUint(id, 10)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != 0 {
		req.Header.Set("X-User-ID", strconv.FormatUint(c.userID, 10))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var envelope dto.ErrorResponse
	if json.Unmarshal(data, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	if resp.StatusCode >= 500 {
		return &TransientError{Err: apiErr}
	}
	return apiErr
}
