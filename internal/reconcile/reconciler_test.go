package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chatsync/internal/apperr"
	"chatsync/internal/model"
	"chatsync/internal/stream"
)

type sendReply struct {
	msg model.Message
	err error
}

// fakeAPI serves canned histories. When gate is set for a chat, ListMessages
// for that chat blocks until the channel is closed. SendMessage blocks on
// sends when it is non-nil.
type fakeAPI struct {
	mu        sync.Mutex
	histories map[int64][]model.Message
	gate      map[int64]chan struct{}
	listErr   error
	sends     chan sendReply
	sent      []string
	editErr   error
	deleteErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{histories: map[int64][]model.Message{}, gate: map[int64]chan struct{}{}}
}

func (f *fakeAPI) ListMessages(ctx context.Context, chatID int64) ([]model.Message, error) {
	f.mu.Lock()
	gate := f.gate[chatID]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]model.Message(nil), f.histories[chatID]...), nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, chatID int64, content string) (model.Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, content)
	sends := f.sends
	f.mu.Unlock()
	if sends == nil {
		return model.Message{}, errors.New("no reply configured")
	}
	r := <-sends
	return r.msg, r.err
}

func (f *fakeAPI) EditMessage(ctx context.Context, id int64, content string) (model.Message, error) {
	if f.editErr != nil {
		return model.Message{}, f.editErr
	}
	m := msg(id, content, t0)
	return m, nil
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, id int64) error {
	return f.deleteErr
}

type recordingSession struct {
	mu   sync.Mutex
	errs []error
}

func (s *recordingSession) Invalidate(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
	return true
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newReconciler(api *fakeAPI) (*Reconciler, *clock) {
	clk := &clock{t: t0}
	n := 0
	r := New(api, nil, Options{
		Now: clk.Now,
		NewLocalID: func() string {
			n++
			return "local-" + string(rune('0'+n))
		},
	})
	return r, clk
}

func waitPending(t *testing.T, r *Reconciler, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(r.View().Pending) == n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("pending: got %d want %d", len(r.View().Pending), n)
}

func TestEditDuringPendingSendScenario(t *testing.T) {
	api := newFakeAPI()
	api.histories[7] = []model.Message{msg(1, "hi", t0)}
	api.sends = make(chan sendReply)
	r, _ := newReconciler(api)

	if err := r.LoadSnapshot(context.Background(), 7); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := r.Submit(context.Background(), "yo")
		done <- err
	}()
	waitPending(t, r, 1)

	updated := msg(1, "hi there", t0)
	r.ApplyStreamEvent(stream.Event{Type: stream.MessageUpdated, ChatID: 7, MessageID: 1, Message: &updated})

	v := r.View()
	if len(v.Messages) != 1 || v.Messages[0].Content != "hi there" {
		t.Fatalf("messages: %+v", v.Messages)
	}
	if len(v.Pending) != 1 || v.Pending[0].Content != "yo" || v.Pending[0].LocalID != "local-1" {
		t.Fatalf("pending: %+v", v.Pending)
	}

	api.sends <- sendReply{msg: msg(2, "yo", t0.Add(time.Second))}
	if err := <-done; err != nil {
		t.Fatalf("Submit: %v", err)
	}

	v = r.View()
	if len(v.Pending) != 0 {
		t.Fatalf("pending left: %+v", v.Pending)
	}
	if !sameIDs(ids(v.Messages), 1, 2) || v.Messages[0].Content != "hi there" || v.Messages[1].Content != "yo" {
		t.Fatalf("final: %+v", v.Messages)
	}
}

func TestStreamBeatsSendResponse(t *testing.T) {
	api := newFakeAPI()
	api.sends = make(chan sendReply)
	r, _ := newReconciler(api)
	_ = r.LoadSnapshot(context.Background(), 7)

	done := make(chan error, 1)
	go func() {
		_, err := r.Submit(context.Background(), "mine")
		done <- err
	}()
	waitPending(t, r, 1)

	m := msg(42, "mine", t0)
	r.ApplyStreamEvent(stream.Event{Type: stream.NewMessage, ChatID: 7, MessageID: 42, Message: &m})
	api.sends <- sendReply{msg: m}
	if err := <-done; err != nil {
		t.Fatalf("Submit: %v", err)
	}

	v := r.View()
	if !sameIDs(ids(v.Messages), 42) || len(v.Pending) != 0 {
		t.Fatalf("view: %+v", v)
	}
}

func TestFailedSendRollsBack(t *testing.T) {
	api := newFakeAPI()
	api.sends = make(chan sendReply, 1)
	api.sends <- sendReply{err: apperr.New(apperr.Transient, "Network error")}
	r, _ := newReconciler(api)
	_ = r.LoadSnapshot(context.Background(), 7)

	_, err := r.Submit(context.Background(), "hello")
	var se *SendError
	if !errors.As(err, &se) || se.Content != "hello" {
		t.Fatalf("err: %v", err)
	}
	if apperr.KindOf(err) != apperr.Transient {
		t.Fatalf("kind: %v", apperr.KindOf(err))
	}
	v := r.View()
	if len(v.Messages) != 0 || len(v.Pending) != 0 {
		t.Fatalf("view: %+v", v)
	}
	if v.ActionError == nil {
		t.Fatalf("expected action error")
	}
}

func TestSubmitRejectsEmptyContent(t *testing.T) {
	api := newFakeAPI()
	r, _ := newReconciler(api)
	_ = r.LoadSnapshot(context.Background(), 7)

	_, err := r.Submit(context.Background(), "   ")
	if apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("err: %v", err)
	}
	if len(api.sent) != 0 || len(r.View().Pending) != 0 {
		t.Fatalf("empty content was sent")
	}
}

func TestSubmitWithoutOpenChat(t *testing.T) {
	r, _ := newReconciler(newFakeAPI())
	if _, err := r.Submit(context.Background(), "hi"); apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("err: %v", err)
	}
}

func TestStaleSnapshotDropped(t *testing.T) {
	api := newFakeAPI()
	api.histories[7] = []model.Message{msg(1, "seven", t0)}
	nine := msg(2, "nine", t0)
	nine.ChatID = 9
	api.histories[9] = []model.Message{nine}
	gate := make(chan struct{})
	api.gate[7] = gate
	r, _ := newReconciler(api)

	slow := make(chan error, 1)
	go func() { slow <- r.LoadSnapshot(context.Background(), 7) }()
	deadline := time.Now().Add(2 * time.Second)
	for r.View().ChatID != 7 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	if err := r.LoadSnapshot(context.Background(), 9); err != nil {
		t.Fatalf("LoadSnapshot(9): %v", err)
	}
	close(gate)
	if err := <-slow; !errors.Is(err, ErrStaleSnapshot) {
		t.Fatalf("slow load: %v", err)
	}

	v := r.View()
	if v.ChatID != 9 || !sameIDs(ids(v.Messages), 2) {
		t.Fatalf("view: %+v", v)
	}
}

func TestLoadErrorAndRetry(t *testing.T) {
	api := newFakeAPI()
	api.listErr = apperr.New(apperr.Transient, "Network error")
	api.histories[7] = []model.Message{msg(1, "a", t0)}
	r, _ := newReconciler(api)

	if err := r.LoadSnapshot(context.Background(), 7); err == nil {
		t.Fatalf("expected error")
	}
	if v := r.View(); v.LoadError == nil || v.Loading {
		t.Fatalf("view: %+v", v)
	}

	api.mu.Lock()
	api.listErr = nil
	api.mu.Unlock()
	if err := r.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if v := r.View(); v.LoadError != nil || len(v.Messages) != 1 {
		t.Fatalf("view after retry: %+v", v)
	}
}

func TestActionErrorExpires(t *testing.T) {
	api := newFakeAPI()
	api.deleteErr = apperr.New(apperr.Forbidden, "Not allowed")
	api.histories[7] = []model.Message{msg(1, "a", t0)}
	r, clk := newReconciler(api)
	_ = r.LoadSnapshot(context.Background(), 7)

	if err := r.Delete(context.Background(), 1); err == nil {
		t.Fatalf("expected error")
	}
	v := r.View()
	if v.ActionError == nil || len(v.Messages) != 1 {
		t.Fatalf("view: %+v", v)
	}

	clk.Advance(4 * time.Second)
	if r.View().ActionError == nil {
		t.Fatalf("action error expired early")
	}
	clk.Advance(time.Second)
	if r.View().ActionError != nil {
		t.Fatalf("action error did not expire")
	}
}

func TestDismissActionError(t *testing.T) {
	api := newFakeAPI()
	api.editErr = apperr.New(apperr.NotFound, "Message not found")
	r, _ := newReconciler(api)
	_ = r.LoadSnapshot(context.Background(), 7)

	if _, err := r.Edit(context.Background(), 5, "x"); err == nil {
		t.Fatalf("expected error")
	}
	r.DismissActionError()
	if r.View().ActionError != nil {
		t.Fatalf("not dismissed")
	}
}

func TestEditAndDeleteApplyLocally(t *testing.T) {
	api := newFakeAPI()
	api.histories[7] = []model.Message{msg(1, "a", t0), msg(2, "b", t0.Add(time.Second))}
	r, _ := newReconciler(api)
	_ = r.LoadSnapshot(context.Background(), 7)

	if _, err := r.Edit(context.Background(), 1, " a2 "); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if err := r.Delete(context.Background(), 2); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// The stream echo of the same changes must be harmless.
	r.ApplyStreamEvent(stream.Event{Type: stream.MessageDeleted, ChatID: 7, MessageID: 2})

	v := r.View()
	if !sameIDs(ids(v.Messages), 1) || v.Messages[0].Content != "a2" {
		t.Fatalf("view: %+v", v.Messages)
	}
}

func TestAuthFailureInvalidatesSession(t *testing.T) {
	api := newFakeAPI()
	api.listErr = apperr.New(apperr.AuthExpired, "Token expired")
	sess := &recordingSession{}
	r := New(api, sess, Options{})

	_ = r.LoadSnapshot(context.Background(), 7)
	if len(sess.errs) != 1 {
		t.Fatalf("invalidations: %d", len(sess.errs))
	}
}

func TestStreamEventForClosedChatIgnored(t *testing.T) {
	api := newFakeAPI()
	r, _ := newReconciler(api)
	_ = r.LoadSnapshot(context.Background(), 9)

	m := msg(1, "late", t0)
	r.ApplyStreamEvent(stream.Event{Type: stream.NewMessage, ChatID: 7, MessageID: 1, Message: &m})
	if len(r.View().Messages) != 0 {
		t.Fatalf("event for closed chat applied")
	}
}

func TestOwnStreamEchoResolvesPending(t *testing.T) {
	api := newFakeAPI()
	api.sends = make(chan sendReply)
	r := New(api, nil, Options{SelfID: func() int64 { return 1 }})
	_ = r.LoadSnapshot(context.Background(), 7)

	done := make(chan error, 1)
	go func() {
		_, err := r.Submit(context.Background(), "mine")
		done <- err
	}()
	waitPending(t, r, 1)

	other := msg(41, "mine", t0)
	other.SenderID = 2
	r.ApplyStreamEvent(stream.Event{Type: stream.NewMessage, ChatID: 7, MessageID: 41, Message: &other})
	if v := r.View(); len(v.Pending) != 1 {
		t.Fatalf("another user's message resolved the pending send: %+v", v.Pending)
	}

	m := msg(42, "mine", t0.Add(time.Second))
	r.ApplyStreamEvent(stream.Event{Type: stream.NewMessage, ChatID: 7, MessageID: 42, Message: &m})
	if v := r.View(); len(v.Pending) != 0 || !sameIDs(ids(v.Messages), 41, 42) {
		t.Fatalf("echo rendered twice: %+v", v)
	}

	api.sends <- sendReply{msg: m}
	if err := <-done; err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if v := r.View(); len(v.Pending) != 0 || !sameIDs(ids(v.Messages), 41, 42) {
		t.Fatalf("final view: %+v", v)
	}
}
