// Package chatsession drives one open conversation on the client: the
// initial load, periodic polling and optimistic sends.
package chatsession

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shinyyama/classifieds-messaging/internal/dto"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval     = 10 * time.Second
	DefaultFailureThreshold = 3
)

var (
	ErrNotOpen      = errors.New("chatsession: no conversation open")
	ErrEmptyMessage = errors.New("chatsession: empty message")
	// ErrSuperseded is returned when the conversation was closed or switched
	// while a request was in flight. The response is discarded.
	ErrSuperseded = errors.New("chatsession: conversation changed")
)

// API is the slice of the messaging API a session needs.
type API interface {
	OpenConversation(ctx context.Context, convID uint64) (*dto.Thread, error)
	SendMessage(ctx context.Context, convID uint64, content string) (*dto.Message, error)
}

type State int

const (
	StateClosed State = iota
	StateLoading
	StateIdle
	StateSending
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateLoading:
		return "loading"
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	}
	return "unknown"
}

// Message is a rendered message. Pending placeholders have no server id yet
// and are identified by LocalID.
type Message struct {
	dto.Message
	LocalID string
	Pending bool
}

// Snapshot is a copy of the session's view state.
type Snapshot struct {
	State           State
	SelfID          uint64
	ConversationID  uint64
	Conversation    *dto.ConversationDetail
	Messages        []Message
	Compose         string
	SendErr         error
	ConnectionIssue bool
}

type Option func(*Session)

func WithPollInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithOnChange registers a callback invoked with a fresh snapshot after every
// state change. It runs on the goroutine that made the change.
func WithOnChange(fn func(Snapshot)) Option {
	return func(s *Session) { s.onChange = fn }
}

// WithFailureThreshold sets how many consecutive poll failures raise
// ConnectionIssue.
func WithFailureThreshold(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// unsentMessage is a send that failed on the client. The server may still
// have committed it; any of the user's messages with the same text and an id
// above after is taken to be that copy.
type unsentMessage struct {
	content string
	after   uint64
}

type Session struct {
	api       API
	interval  time.Duration
	threshold int
	logger    *zap.Logger
	now       func() time.Time
	onChange  func(Snapshot)
	updates   chan struct{}

	mu       sync.Mutex
	selfID   uint64
	state    State
	gen      uint64
	seq      uint64 // last thread request issued
	applied  uint64 // seq of the thread currently shown
	convID   uint64
	detail   *dto.ConversationDetail
	messages []Message
	unsent   []unsentMessage
	compose  string
	sendErr  error
	failures int
	inflight int
	poller   *Poller
}

// New creates a closed session. A selfID of 0 is resolved from the first
// opened conversation.
func New(api API, selfID uint64, opts ...Option) *Session {
	s := &Session{
		api:       api,
		selfID:    selfID,
		interval:  DefaultPollInterval,
		threshold: DefaultFailureThreshold,
		logger:    zap.NewNop(),
		now:       time.Now,
		updates:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Updates signals (coalesced) that the snapshot changed.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
	if s.onChange != nil {
		s.onChange(s.Snapshot())
	}
}

// Open switches the session to convID: any running poller is stopped first,
// the thread is fetched (which marks it read server-side) and polling starts.
// Polling runs until Close, the next Open, or ctx is done.
func (s *Session) Open(ctx context.Context, convID uint64) error {
	s.mu.Lock()
	old := s.poller
	s.poller = nil
	s.gen++
	gen := s.gen
	s.seq++
	seq := s.seq
	s.state = StateLoading
	s.convID = convID
	s.detail = nil
	s.messages = nil
	s.unsent = nil
	s.compose = ""
	s.sendErr = nil
	s.failures = 0
	s.inflight = 0
	s.mu.Unlock()
	old.Stop()
	s.notify()

	thread, err := s.api.OpenConversation(ctx, convID)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return ErrSuperseded
	}
	if err != nil {
		s.state = StateClosed
		s.convID = 0
		s.mu.Unlock()
		s.notify()
		return err
	}
	s.applied = seq
	s.applyThreadLocked(thread)
	s.state = StateIdle
	s.poller = s.startPollerLocked(ctx)
	s.mu.Unlock()
	s.notify()
	return nil
}

// Refresh runs one poll now.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	return s.refresh(ctx, gen)
}

func (s *Session) refresh(ctx context.Context, gen uint64) error {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return ErrSuperseded
	}
	if s.state == StateClosed || s.state == StateLoading {
		s.mu.Unlock()
		return ErrNotOpen
	}
	convID := s.convID
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	thread, err := s.api.OpenConversation(ctx, convID)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return ErrSuperseded
	}
	if seq < s.applied {
		// A later request already answered.
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.failures++
		s.mu.Unlock()
		s.notify()
		return err
	}
	s.failures = 0
	s.applied = seq
	s.applyThreadLocked(thread)
	s.mu.Unlock()
	s.notify()
	return nil
}

// SetCompose records the text currently in the compose box.
func (s *Session) SetCompose(text string) {
	s.mu.Lock()
	s.compose = text
	s.mu.Unlock()
	s.notify()
}

// Send shows content immediately as a pending message and posts it. On
// success the placeholder becomes the server's message; on failure it is
// removed and the text goes back into the compose box. If a poll later shows
// the server stored the message anyway, that text is taken out of the
// compose box again so it is not sent twice.
func (s *Session) Send(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateSending {
		s.mu.Unlock()
		return ErrNotOpen
	}
	gen := s.gen
	convID := s.convID
	floor := s.lastServerIDLocked()
	s.unsent = slices.DeleteFunc(s.unsent, func(u unsentMessage) bool { return u.content == content })
	localID := uuid.NewString()
	s.messages = append(s.messages, Message{
		Message: dto.Message{
			ConversationID: convID,
			SenderID:       s.selfID,
			Content:        content,
			CreatedAt:      s.now(),
		},
		LocalID: localID,
		Pending: true,
	})
	sortMessages(s.messages)
	s.inflight++
	s.state = StateSending
	if s.compose == content {
		s.compose = ""
	}
	s.sendErr = nil
	s.mu.Unlock()
	s.notify()

	msg, err := s.api.SendMessage(ctx, convID, content)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		if err != nil {
			return err
		}
		return ErrSuperseded
	}
	idx := s.indexOfLocal(localID)
	if err != nil {
		if idx >= 0 {
			s.messages = slices.Delete(s.messages, idx, idx+1)
		}
		if s.indexOfDelivered(content, floor, nil) >= 0 {
			s.logger.Info("send failed after the server stored the message", zap.Uint64("conversation_id", convID), zap.Error(err))
			err = nil
		} else {
			s.compose = restoreCompose(content, s.compose)
			s.sendErr = err
			s.unsent = append(s.unsent, unsentMessage{content: content, after: floor})
			s.logger.Warn("send failed", zap.Uint64("conversation_id", convID), zap.Error(err))
		}
	} else {
		switch {
		case s.indexOfServer(msg.ID) >= 0:
			// A poll already delivered it.
			if idx >= 0 {
				s.messages = slices.Delete(s.messages, idx, idx+1)
			}
		case idx >= 0:
			s.messages[idx] = Message{Message: *msg}
		default:
			s.messages = append(s.messages, Message{Message: *msg})
		}
		sortMessages(s.messages)
	}
	s.inflight--
	if s.inflight <= 0 {
		s.inflight = 0
		s.state = StateIdle
	}
	s.mu.Unlock()
	s.notify()
	return err
}

// Close stops polling and forgets the conversation. Responses still in
// flight are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	p := s.poller
	s.poller = nil
	s.gen++
	s.state = StateClosed
	s.convID = 0
	s.detail = nil
	s.messages = nil
	s.unsent = nil
	s.compose = ""
	s.sendErr = nil
	s.failures = 0
	s.inflight = 0
	s.mu.Unlock()
	p.Stop()
	s.notify()
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:           s.state,
		SelfID:          s.selfID,
		ConversationID:  s.convID,
		Conversation:    s.detail,
		Messages:        slices.Clone(s.messages),
		Compose:         s.compose,
		SendErr:         s.sendErr,
		ConnectionIssue: s.failures >= s.threshold,
	}
}

// applyThreadLocked merges a server thread into the view. Server copies win
// except that a read flag never goes back to unread. Confirmed messages
// missing from the response are kept, and pending placeholders stay until
// their send resolves.
func (s *Session) applyThreadLocked(t *dto.Thread) {
	detail := t.Conversation
	s.detail = &detail
	if s.selfID == 0 {
		s.selfID = selfFrom(&detail)
	}

	byID := make(map[uint64]int, len(t.Messages))
	merged := make([]Message, 0, len(t.Messages)+len(s.messages))
	for _, m := range t.Messages {
		byID[m.ID] = len(merged)
		merged = append(merged, Message{Message: m})
	}
	for _, m := range s.messages {
		if m.Pending {
			merged = append(merged, m)
			continue
		}
		i, ok := byID[m.ID]
		if !ok {
			merged = append(merged, m)
			continue
		}
		if m.IsRead {
			merged[i].IsRead = true
		}
	}
	sortMessages(merged)
	s.messages = merged
	s.settleUnsentLocked()
}

// settleUnsentLocked drops failed sends that turned out to be stored, along
// with the text they put back into the compose box.
func (s *Session) settleUnsentLocked() {
	if len(s.unsent) == 0 {
		return
	}
	claimed := map[uint64]bool{}
	kept := s.unsent[:0]
	for _, u := range s.unsent {
		if i := s.indexOfDelivered(u.content, u.after, claimed); i >= 0 {
			claimed[s.messages[i].ID] = true
			s.compose = dropRestored(s.compose, u.content)
			continue
		}
		kept = append(kept, u)
	}
	s.unsent = kept
	if len(kept) == 0 {
		s.sendErr = nil
	}
}

// indexOfDelivered finds a confirmed message from the user with the given
// text and an id above after. Server ids only grow, so such a message was
// stored after the send started.
func (s *Session) indexOfDelivered(content string, after uint64, skip map[uint64]bool) int {
	if s.selfID == 0 {
		return -1
	}
	return slices.IndexFunc(s.messages, func(m Message) bool {
		return !m.Pending && m.SenderID == s.selfID && m.ID > after && m.Content == content && !skip[m.ID]
	})
}

func (s *Session) lastServerIDLocked() uint64 {
	var last uint64
	for _, m := range s.messages {
		if !m.Pending && m.ID > last {
			last = m.ID
		}
	}
	return last
}

// selfFrom returns the participant that is not the other party.
func selfFrom(d *dto.ConversationDetail) uint64 {
	for _, id := range d.ParticipantIDs {
		if id != d.OtherParticipant.ID {
			return id
		}
	}
	return 0
}

func (s *Session) indexOfLocal(localID string) int {
	return slices.IndexFunc(s.messages, func(m Message) bool {
		return m.Pending && m.LocalID == localID
	})
}

func (s *Session) indexOfServer(id uint64) int {
	return slices.IndexFunc(s.messages, func(m Message) bool {
		return !m.Pending && m.ID == id
	})
}

// sortMessages orders by (CreatedAt, ID). Pending placeholders sort after
// confirmed messages with the same timestamp and keep their send order.
func sortMessages(msgs []Message) {
	slices.SortStableFunc(msgs, func(a, b Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.Pending != b.Pending {
			if a.Pending {
				return 1
			}
			return -1
		}
		if a.Pending {
			return 0
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

func restoreCompose(failed, current string) string {
	if current == "" {
		return failed
	}
	return failed + "\n" + current
}

// dropRestored undoes restoreCompose for text when the compose box still
// starts with it. Edited text is left alone.
func dropRestored(compose, text string) string {
	if compose == text {
		return ""
	}
	if rest, ok := strings.CutPrefix(compose, text+"\n"); ok {
		return rest
	}
	return compose
}
