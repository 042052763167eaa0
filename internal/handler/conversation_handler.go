package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/classifieds-messaging/internal/dto"
	"github.com/shinyyama/classifieds-messaging/internal/middleware"
	"github.com/shinyyama/classifieds-messaging/internal/model"
	"github.com/shinyyama/classifieds-messaging/internal/service"
	"go.uber.org/zap"
)

type ConversationHandler struct {
	convs   service.ConversationService
	msgs    service.MessageService
	unread  service.UnreadCounter
	inbox   service.InboxService
	threads service.ThreadService
	logger  *zap.Logger
}

func NewConversationHandler(
	convs service.ConversationService,
	msgs service.MessageService,
	unread service.UnreadCounter,
	inbox service.InboxService,
	threads service.ThreadService,
	logger *zap.Logger,
) *ConversationHandler {
	return &ConversationHandler{convs: convs, msgs: msgs, unread: unread, inbox: inbox, threads: threads, logger: logger}
}

func currentUser(c echo.Context) (uint64, bool) {
	uid, ok := c.Get(middleware.UserIDKey).(uint64)
	return uid, ok && uid != 0
}

func idParam(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id != 0
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, NewErrorResponse(dto.CodeUnauthorized, "missing user"))
}

// List returns the caller's inbox.
func (h *ConversationHandler) List(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	ctx := c.Request().Context()
	entries, err := h.inbox.ListForUser(ctx, uid)
	if err != nil {
		return respondError(c, h.logger, err, "conversations")
	}
	resp := dto.Inbox{Conversations: make([]dto.InboxEntry, 0, len(entries))}
	for _, e := range entries {
		resp.Conversations = append(resp.Conversations, toInboxEntry(e))
		resp.UnreadTotal += e.UnreadCount
	}
	return c.JSON(http.StatusOK, resp)
}

// Start finds or creates a conversation with another user, optionally scoped
// to a listing, and posts the first message when content is given.
func (h *ConversationHandler) Start(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	var req dto.StartConversationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse(dto.CodeBadRequest, "invalid json"))
	}
	if req.RecipientID == 0 {
		return c.JSON(http.StatusBadRequest, NewErrorResponse(dto.CodeBadRequest, "recipientId is required"))
	}
	if err := h.precheck(req.Content); err != nil {
		return respondError(c, h.logger, err, "message")
	}
	cv, err := h.convs.StartDirect(c.Request().Context(), uid, req.RecipientID, req.ListingID)
	if err != nil {
		return respondError(c, h.logger, err, "recipient or listing")
	}
	return h.respondStarted(c, uid, cv, req.Content)
}

// ContactListing opens (or reuses) a conversation with a listing's owner.
func (h *ConversationHandler) ContactListing(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	listingID, ok := idParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse(dto.CodeBadRequest, "invalid listing id"))
	}
	var req dto.ContactListingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse(dto.CodeBadRequest, "invalid json"))
	}
	if err := h.precheck(req.Content); err != nil {
		return respondError(c, h.logger, err, "message")
	}
	cv, err := h.convs.StartFromListing(c.Request().Context(), uid, listingID)
	if err != nil {
		return respondError(c, h.logger, err, "listing")
	}
	return h.respondStarted(c, uid, cv, req.Content)
}

// precheck rejects a first message before any conversation gets created for it.
func (h *ConversationHandler) precheck(content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	_, err := h.msgs.Validate(content)
	return err
}

func (h *ConversationHandler) respondStarted(c echo.Context, uid uint64, cv *model.Conversation, content string) error {
	resp := dto.StartConversationResponse{Conversation: toConversation(*cv)}
	if strings.TrimSpace(content) != "" {
		msg, err := h.msgs.Append(c.Request().Context(), cv.ID, uid, content)
		if err != nil {
			return respondError(c, h.logger, err, "conversation")
		}
		m := toMessage(*msg)
		resp.Message = &m
		resp.Conversation.LastMessageAt = msg.CreatedAt
	}
	return c.JSON(http.StatusCreated, resp)
}

// Get opens a conversation: detail plus every message, marking the caller's
// unread messages read. Clients poll by calling it again.
func (h *ConversationHandler) Get(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	convID, ok := idParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse(dto.CodeBadRequest, "invalid conversation id"))
	}
	thread, err := h.threads.Open(c.Request().Context(), convID, uid)
	if err != nil {
		return respondError(c, h.logger, err, "conversation")
	}
	return c.JSON(http.StatusOK, toThread(*thread))
}

// ListMessages returns messages without touching read state.
func (h *ConversationHandler) ListMessages(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	convID, ok := idParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse(dto.CodeBadRequest, "invalid conversation id"))
	}
	msgs, err := h.msgs.List(c.Request().Context(), convID, uid)
	if err != nil {
		return respondError(c, h.logger, err, "conversation")
	}
	return c.JSON(http.StatusOK, toMessages(msgs))
}

func (h *ConversationHandler) CreateMessage(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	convID, ok := idParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse(dto.CodeBadRequest, "invalid conversation id"))
	}
	var req dto.SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse(dto.CodeBadRequest, "invalid json"))
	}
	msg, err := h.msgs.Append(c.Request().Context(), convID, uid, req.Content)
	if err != nil {
		return respondError(c, h.logger, err, "conversation")
	}
	return c.JSON(http.StatusCreated, toMessage(*msg))
}

func (h *ConversationHandler) MarkRead(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	convID, ok := idParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse(dto.CodeBadRequest, "invalid conversation id"))
	}
	n, err := h.msgs.MarkRead(c.Request().Context(), convID, uid)
	if err != nil {
		return respondError(c, h.logger, err, "conversation")
	}
	return c.JSON(http.StatusOK, dto.MarkReadResponse{MarkedRead: n})
}

func (h *ConversationHandler) Unread(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	convID, ok := idParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse(dto.CodeBadRequest, "invalid conversation id"))
	}
	n, err := h.unread.CountFor(c.Request().Context(), convID, uid)
	if err != nil {
		return respondError(c, h.logger, err, "conversation")
	}
	return c.JSON(http.StatusOK, dto.UnreadCount{ConversationID: convID, Unread: n})
}

// MyUnread returns the caller's badge count and its per-conversation breakdown.
func (h *ConversationHandler) MyUnread(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	ctx := c.Request().Context()
	counts, err := h.unread.CountAllFor(ctx, uid)
	if err != nil {
		return respondError(c, h.logger, err, "unread counts")
	}
	resp := dto.UnreadSummary{Conversations: counts}
	for _, n := range counts {
		resp.Total += n
	}
	return c.JSON(http.StatusOK, resp)
}
