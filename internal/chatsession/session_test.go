package chatsession

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shinyyama/classifieds-messaging/internal/dto"
)

const (
	self  uint64 = 1
	other uint64 = 2
)

var errNetwork = errors.New("connection refused")

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeAPI struct {
	mu        sync.Mutex
	threads   map[uint64][]dto.Message
	nextID    uint64
	clock     time.Time
	openCalls int
	failOpens int

	// Optional hooks run before the default behavior.
	openHook func(convID uint64)
	sendHook func(convID uint64, content string) (*dto.Message, error)
	// replyHook runs after a thread response is built, before it is returned.
	replyHook func(convID uint64)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{threads: map[uint64][]dto.Message{}, clock: base}
}

func (f *fakeAPI) add(convID, sender uint64, content string) dto.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.clock = f.clock.Add(time.Second)
	m := dto.Message{ID: f.nextID, ConversationID: convID, SenderID: sender, Content: content, CreatedAt: f.clock}
	f.threads[convID] = append(f.threads[convID], m)
	return m
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openCalls
}

// readBy marks every message in convID that reader did not send as read.
func (f *fakeAPI) readBy(convID, reader uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.threads[convID]
	for i := range msgs {
		if msgs[i].SenderID != reader {
			msgs[i].IsRead = true
		}
	}
}

func (f *fakeAPI) setReplyHook(fn func(convID uint64)) {
	f.mu.Lock()
	f.replyHook = fn
	f.mu.Unlock()
}

func (f *fakeAPI) setFailOpens(n int) {
	f.mu.Lock()
	f.failOpens = n
	f.mu.Unlock()
}

func (f *fakeAPI) OpenConversation(ctx context.Context, convID uint64) (*dto.Thread, error) {
	if f.openHook != nil {
		f.openHook(convID)
	}
	f.mu.Lock()
	f.openCalls++
	if f.failOpens > 0 {
		f.failOpens--
		f.mu.Unlock()
		return nil, errNetwork
	}
	msgs := f.threads[convID]
	for i := range msgs {
		if msgs[i].SenderID != self {
			msgs[i].IsRead = true
		}
	}
	thread := &dto.Thread{
		Conversation: dto.ConversationDetail{
			Conversation:     dto.Conversation{ID: convID, ParticipantIDs: [2]uint64{self, other}, LastMessageAt: f.clock},
			OtherParticipant: dto.Participant{ID: other, DisplayName: "B"},
		},
		Messages: append([]dto.Message(nil), msgs...),
	}
	hook := f.replyHook
	f.mu.Unlock()
	if hook != nil {
		hook(convID)
	}
	return thread, nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, convID uint64, content string) (*dto.Message, error) {
	if f.sendHook != nil {
		return f.sendHook(convID, content)
	}
	m := f.add(convID, self, content)
	return &m, nil
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func contents(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// newSession opens conversation 10 with polling effectively disabled.
func newSession(t *testing.T, api *fakeAPI, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithPollInterval(time.Hour), WithClock(func() time.Time { return base.Add(time.Minute) })}, opts...)
	s := New(api, self, opts...)
	if err := s.Open(context.Background(), 10); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestOpenLoadsThreadAndMarksRead(t *testing.T) {
	api := newFakeAPI()
	api.add(10, other, "Is this still available?")
	api.add(10, self, "Yes")

	s := newSession(t, api)
	snap := s.Snapshot()
	if snap.State != StateIdle {
		t.Fatalf("State = %v, want idle", snap.State)
	}
	if snap.ConversationID != 10 || snap.Conversation == nil || snap.Conversation.OtherParticipant.DisplayName != "B" {
		t.Fatalf("conversation = %+v", snap.Conversation)
	}
	if got := contents(snap.Messages); !equal(got, []string{"Is this still available?", "Yes"}) {
		t.Fatalf("messages = %v", got)
	}
	if !snap.Messages[0].IsRead {
		t.Error("incoming message not marked read on open")
	}
}

func TestOpenFailureLeavesSessionClosed(t *testing.T) {
	api := newFakeAPI()
	api.setFailOpens(1)
	s := New(api, self, WithPollInterval(time.Hour))
	if err := s.Open(context.Background(), 10); !errors.Is(err, errNetwork) {
		t.Fatalf("Open() error = %v, want %v", err, errNetwork)
	}
	if st := s.Snapshot().State; st != StateClosed {
		t.Fatalf("State = %v, want closed", st)
	}
	if err := s.Send(context.Background(), "hi"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Send() error = %v, want ErrNotOpen", err)
	}
}

func TestSendShowsPlaceholderThenServerMessage(t *testing.T) {
	api := newFakeAPI()
	api.add(10, other, "hello")
	s := newSession(t, api)

	started := make(chan struct{})
	release := make(chan struct{})
	api.sendHook = func(convID uint64, content string) (*dto.Message, error) {
		close(started)
		<-release
		m := api.add(convID, self, content)
		return &m, nil
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Send(context.Background(), "on my way") }()
	<-started

	snap := s.Snapshot()
	if snap.State != StateSending {
		t.Fatalf("State = %v, want sending", snap.State)
	}
	last := snap.Messages[len(snap.Messages)-1]
	if !last.Pending || last.LocalID == "" || last.ID != 0 || last.IsRead || last.Content != "on my way" {
		t.Fatalf("placeholder = %+v", last)
	}

	close(release)
	if err := <-errCh; err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	snap = s.Snapshot()
	if snap.State != StateIdle {
		t.Fatalf("State = %v, want idle", snap.State)
	}
	if len(snap.Messages) != 2 {
		t.Fatalf("messages = %+v", snap.Messages)
	}
	got := snap.Messages[1]
	if got.Pending || got.ID != 2 || !got.CreatedAt.Equal(base.Add(2*time.Second)) {
		t.Fatalf("confirmed = %+v", got)
	}
}

func TestSendDuplicateTextResolvesByToken(t *testing.T) {
	api := newFakeAPI()
	s := newSession(t, api)

	var mu sync.Mutex
	releases := map[int]chan struct{}{}
	var started sync.WaitGroup
	started.Add(2)
	calls := 0
	api.sendHook = func(convID uint64, content string) (*dto.Message, error) {
		mu.Lock()
		calls++
		ch := make(chan struct{})
		releases[calls] = ch
		mu.Unlock()
		started.Done()
		<-ch
		m := api.add(convID, self, content)
		return &m, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Send(context.Background(), "ok"); err != nil {
				t.Errorf("Send() error = %v", err)
			}
		}()
	}
	started.Wait()
	if n := len(s.Snapshot().Messages); n != 2 {
		t.Fatalf("placeholders = %d, want 2", n)
	}

	mu.Lock()
	second, first := releases[2], releases[1]
	mu.Unlock()
	close(second)
	eventually(t, "one confirmed message", func() bool {
		confirmed := 0
		for _, m := range s.Snapshot().Messages {
			if !m.Pending {
				confirmed++
			}
		}
		return confirmed == 1
	})
	if st := s.Snapshot().State; st != StateSending {
		t.Fatalf("State = %v while a send is in flight, want sending", st)
	}
	close(first)
	wg.Wait()

	snap := s.Snapshot()
	if len(snap.Messages) != 2 || snap.Messages[0].Pending || snap.Messages[1].Pending {
		t.Fatalf("messages = %+v", snap.Messages)
	}
	if snap.Messages[0].ID == snap.Messages[1].ID {
		t.Fatalf("duplicate ids: %+v", snap.Messages)
	}
	if snap.State != StateIdle {
		t.Fatalf("State = %v, want idle", snap.State)
	}
}

func TestSendFailureRestoresCompose(t *testing.T) {
	api := newFakeAPI()
	api.add(10, other, "hello")
	s := newSession(t, api)
	api.sendHook = func(uint64, string) (*dto.Message, error) {
		return nil, errNetwork
	}

	s.SetCompose("still there?")
	err := s.Send(context.Background(), "still there?")
	if !errors.Is(err, errNetwork) {
		t.Fatalf("Send() error = %v, want %v", err, errNetwork)
	}
	snap := s.Snapshot()
	if got := contents(snap.Messages); !equal(got, []string{"hello"}) {
		t.Fatalf("messages = %v, want only the server message", got)
	}
	if snap.Compose != "still there?" {
		t.Errorf("Compose = %q", snap.Compose)
	}
	if !errors.Is(snap.SendErr, errNetwork) {
		t.Errorf("SendErr = %v", snap.SendErr)
	}
	if snap.State != StateIdle {
		t.Errorf("State = %v, want idle", snap.State)
	}

	// The next send works and clears the error.
	api.sendHook = nil
	if err := s.Send(context.Background(), "still there?"); err != nil {
		t.Fatalf("retry error = %v", err)
	}
	snap = s.Snapshot()
	if snap.SendErr != nil || snap.Compose != "" || len(snap.Messages) != 2 {
		t.Fatalf("after retry = %+v", snap)
	}
}

func TestFailedSendStoredByServerLeavesCompose(t *testing.T) {
	api := newFakeAPI()
	api.add(10, other, "hello")
	s := newSession(t, api)
	api.sendHook = func(convID uint64, content string) (*dto.Message, error) {
		// Stored, but the response never arrives.
		api.add(convID, self, content)
		return nil, context.DeadlineExceeded
	}

	if err := s.Send(context.Background(), "see you at 5"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Send() error = %v, want deadline exceeded", err)
	}
	if got := s.Snapshot().Compose; got != "see you at 5" {
		t.Fatalf("Compose = %q, want the failed text back", got)
	}
	s.SetCompose("see you at 5\nbring cash")

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	snap := s.Snapshot()
	if got := contents(snap.Messages); !equal(got, []string{"hello", "see you at 5"}) {
		t.Fatalf("messages = %v", got)
	}
	if snap.Compose != "bring cash" {
		t.Errorf("Compose = %q, want the stored text removed", snap.Compose)
	}
	if snap.SendErr != nil {
		t.Errorf("SendErr = %v, want nil", snap.SendErr)
	}
}

func TestSendFailureAfterPollDeliveredCountsAsSent(t *testing.T) {
	api := newFakeAPI()
	s := newSession(t, api)
	api.sendHook = func(convID uint64, content string) (*dto.Message, error) {
		api.add(convID, self, content)
		if err := s.Refresh(context.Background()); err != nil {
			t.Errorf("Refresh() error = %v", err)
		}
		return nil, errNetwork
	}

	if err := s.Send(context.Background(), "deal"); err != nil {
		t.Fatalf("Send() error = %v, want nil once the message is visible", err)
	}
	snap := s.Snapshot()
	if got := contents(snap.Messages); !equal(got, []string{"deal"}) {
		t.Fatalf("messages = %v", got)
	}
	if snap.Messages[0].Pending || snap.Compose != "" || snap.SendErr != nil {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestSelfResolvedFromOpenedConversation(t *testing.T) {
	api := newFakeAPI()
	s := New(api, 0, WithPollInterval(time.Hour))
	t.Cleanup(s.Close)
	var placeholder Message
	api.sendHook = func(convID uint64, content string) (*dto.Message, error) {
		placeholder = s.Snapshot().Messages[0]
		m := api.add(convID, self, content)
		return &m, nil
	}

	if err := s.Open(context.Background(), 10); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := s.Snapshot().SelfID; got != self {
		t.Fatalf("SelfID = %d, want %d", got, self)
	}
	if err := s.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !placeholder.Pending || placeholder.SenderID != self {
		t.Fatalf("placeholder = %+v, want pending from %d", placeholder, self)
	}
}

func TestSendRejectsEmptyContent(t *testing.T) {
	s := newSession(t, newFakeAPI())
	if err := s.Send(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("Send() error = %v, want ErrEmptyMessage", err)
	}
	if n := len(s.Snapshot().Messages); n != 0 {
		t.Fatalf("messages = %d, want 0", n)
	}
}

func TestPollBeforeSendResponseDoesNotDuplicate(t *testing.T) {
	api := newFakeAPI()
	s := newSession(t, api)
	api.sendHook = func(convID uint64, content string) (*dto.Message, error) {
		m := api.add(convID, self, content)
		if err := s.Refresh(context.Background()); err != nil {
			t.Errorf("Refresh() error = %v", err)
		}
		return &m, nil
	}

	if err := s.Send(context.Background(), "ping"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].Pending || snap.Messages[0].ID != 1 {
		t.Fatalf("messages = %+v", snap.Messages)
	}
}

func TestRefreshMergesInOrder(t *testing.T) {
	api := newFakeAPI()
	api.add(10, self, "Is this still available?")
	s := newSession(t, api)

	api.add(10, other, "Yes, still available")
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	want := []string{"Is this still available?", "Yes, still available"}
	if got := contents(s.Snapshot().Messages); !equal(got, want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}
	if !s.Snapshot().Messages[1].IsRead {
		t.Error("polled incoming message not read")
	}

	// Same timestamp: id breaks the tie.
	api.mu.Lock()
	api.threads[10] = append(api.threads[10],
		dto.Message{ID: 9, ConversationID: 10, SenderID: other, Content: "b", CreatedAt: base.Add(time.Hour)},
		dto.Message{ID: 8, ConversationID: 10, SenderID: other, Content: "a", CreatedAt: base.Add(time.Hour)},
	)
	api.mu.Unlock()
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	want = append(want, "a", "b")
	if got := contents(s.Snapshot().Messages); !equal(got, want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}
}

func TestOverlappingRefreshesKeepNewestThread(t *testing.T) {
	api := newFakeAPI()
	mine := api.add(10, self, "is it sold?")
	s := newSession(t, api)

	held := make(chan struct{})
	release := make(chan struct{})
	var first atomic.Bool
	api.setReplyHook(func(uint64) {
		if first.CompareAndSwap(false, true) {
			close(held)
			<-release
		}
	})

	older := make(chan error, 1)
	go func() { older <- s.Refresh(context.Background()) }()
	<-held

	// The other side reads and replies while the first response is held.
	api.readBy(10, other)
	reply := api.add(10, other, "no, still here")
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if !s.Snapshot().Messages[0].IsRead {
		t.Fatal("newer response did not mark the message read")
	}

	close(release)
	if err := <-older; err != nil {
		t.Fatalf("older Refresh() error = %v", err)
	}
	snap := s.Snapshot()
	if got := contents(snap.Messages); !equal(got, []string{"is it sold?", "no, still here"}) {
		t.Fatalf("messages = %v", got)
	}
	if snap.Messages[0].ID != mine.ID || !snap.Messages[0].IsRead {
		t.Errorf("message %d went back to unread: %+v", mine.ID, snap.Messages[0])
	}
	if !snap.Conversation.LastMessageAt.Equal(reply.CreatedAt) {
		t.Errorf("LastMessageAt = %v, want %v", snap.Conversation.LastMessageAt, reply.CreatedAt)
	}
}

func TestReadFlagSurvivesStaleCopy(t *testing.T) {
	s := New(newFakeAPI(), self)
	s.messages = []Message{{Message: dto.Message{ID: 1, SenderID: self, Content: "a", CreatedAt: base, IsRead: true}}}
	s.applyThreadLocked(&dto.Thread{
		Conversation: dto.ConversationDetail{Conversation: dto.Conversation{ID: 10}},
		Messages:     []dto.Message{{ID: 1, SenderID: self, Content: "a", CreatedAt: base}},
	})
	if !s.messages[0].IsRead {
		t.Fatal("IsRead = false after merging an older copy")
	}
}

func TestSwitchingConversationDiscardsStaleResponse(t *testing.T) {
	api := newFakeAPI()
	api.add(10, other, "about the bike")
	api.add(20, other, "about the flat")

	entered := make(chan struct{})
	release := make(chan struct{})
	api.openHook = func(convID uint64) {
		if convID == 10 {
			close(entered)
			<-release
		}
	}

	s := New(api, self, WithPollInterval(time.Hour))
	t.Cleanup(s.Close)
	errCh := make(chan error, 1)
	go func() { errCh <- s.Open(context.Background(), 10) }()
	<-entered

	if err := s.Open(context.Background(), 20); err != nil {
		t.Fatalf("Open(20) error = %v", err)
	}
	close(release)
	if err := <-errCh; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("Open(10) error = %v, want ErrSuperseded", err)
	}
	snap := s.Snapshot()
	if snap.ConversationID != 20 {
		t.Fatalf("ConversationID = %d, want 20", snap.ConversationID)
	}
	if got := contents(snap.Messages); !equal(got, []string{"about the flat"}) {
		t.Fatalf("messages = %v", got)
	}
}

func TestSendResponseAfterSwitchIsDiscarded(t *testing.T) {
	api := newFakeAPI()
	s := newSession(t, api)

	started := make(chan struct{})
	release := make(chan struct{})
	api.sendHook = func(convID uint64, content string) (*dto.Message, error) {
		close(started)
		<-release
		m := api.add(convID, self, content)
		return &m, nil
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.Send(context.Background(), "late") }()
	<-started

	api.sendHook = nil
	if err := s.Open(context.Background(), 20); err != nil {
		t.Fatalf("Open(20) error = %v", err)
	}
	close(release)
	if err := <-errCh; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("Send() error = %v, want ErrSuperseded", err)
	}
	snap := s.Snapshot()
	if len(snap.Messages) != 0 || snap.State != StateIdle {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestPollingSurvivesFailuresAndFlagsConnectionIssue(t *testing.T) {
	api := newFakeAPI()
	s := New(api, self, WithPollInterval(5*time.Millisecond), WithFailureThreshold(3))
	t.Cleanup(s.Close)
	if err := s.Open(context.Background(), 10); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	api.setFailOpens(1000)
	eventually(t, "connection issue", func() bool { return s.Snapshot().ConnectionIssue })

	api.setFailOpens(0)
	api.add(10, other, "back online")
	eventually(t, "recovered poll", func() bool {
		snap := s.Snapshot()
		return !snap.ConnectionIssue && len(snap.Messages) == 1
	})
}

func TestSingleFailureIsNotAConnectionIssue(t *testing.T) {
	api := newFakeAPI()
	s := newSession(t, api)
	api.setFailOpens(1)
	if err := s.Refresh(context.Background()); !errors.Is(err, errNetwork) {
		t.Fatalf("Refresh() error = %v", err)
	}
	if s.Snapshot().ConnectionIssue {
		t.Fatal("ConnectionIssue after one failure")
	}
}

func TestCloseStopsPolling(t *testing.T) {
	api := newFakeAPI()
	s := New(api, self, WithPollInterval(2*time.Millisecond))
	if err := s.Open(context.Background(), 10); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	eventually(t, "polls", func() bool { return api.calls() >= 3 })

	s.Close()
	after := api.calls()
	time.Sleep(20 * time.Millisecond)
	if got := api.calls(); got != after {
		t.Fatalf("calls after Close = %d, want %d", got, after)
	}
	snap := s.Snapshot()
	if snap.State != StateClosed || snap.ConversationID != 0 || len(snap.Messages) != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if err := s.Refresh(context.Background()); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Refresh() after Close error = %v", err)
	}
}

func TestStartPollingReplacesRunningPoller(t *testing.T) {
	api := newFakeAPI()
	if p := New(api, self).StartPolling(context.Background()); p != nil {
		t.Fatal("StartPolling on a closed session returned a poller")
	}

	s := newSession(t, api, WithPollInterval(2*time.Millisecond))
	p := s.StartPolling(context.Background())
	eventually(t, "polls", func() bool { return api.calls() >= 3 })
	p.Stop()
	p.Stop()
	after := api.calls()
	time.Sleep(20 * time.Millisecond)
	if got := api.calls(); got != after {
		t.Fatalf("calls after Stop = %d, want %d", got, after)
	}
}

func TestOnChangeAndUpdates(t *testing.T) {
	api := newFakeAPI()
	var mu sync.Mutex
	var states []State
	s := newSession(t, api, WithOnChange(func(snap Snapshot) {
		mu.Lock()
		states = append(states, snap.State)
		mu.Unlock()
	}))
	select {
	case <-s.Updates():
	default:
		t.Fatal("no update signalled after Open")
	}
	if err := s.Send(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	var sawSending bool
	for _, st := range states {
		if st == StateSending {
			sawSending = true
		}
	}
	if !sawSending || states[len(states)-1] != StateIdle {
		t.Fatalf("states = %v", states)
	}
}
