// Package reconcile merges the history snapshot, live stream events and
// local sends of the open chat into one ordered message list.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/apperr"
	"chatsync/internal/logging"
	"chatsync/internal/metrics"
	"chatsync/internal/model"
	"chatsync/internal/stream"
)

type MessageAPI interface {
	ListMessages(ctx context.Context, chatID int64) ([]model.Message, error)
	SendMessage(ctx context.Context, chatID int64, content string) (model.Message, error)
	EditMessage(ctx context.Context, messageID int64, content string) (model.Message, error)
	DeleteMessage(ctx context.Context, messageID int64) error
}

type Invalidator interface {
	Invalidate(err error) bool
}

// ErrStaleSnapshot is returned by LoadSnapshot when another chat was opened
// before the fetch completed. The result was discarded.
var ErrStaleSnapshot = errors.New("snapshot discarded: open chat changed")

var (
	errEmptyContent = apperr.New(apperr.Validation, "Message cannot be empty")
	errNoChat       = apperr.New(apperr.Validation, "No chat selected")
)

// SendError is returned by Submit when the send failed. Content is the
// caller's original input.
type SendError struct {
	Content string
	Err     error
}

func (e *SendError) Error() string { return e.Err.Error() }
func (e *SendError) Unwrap() error { return e.Err }

const DefaultActionErrorTTL = 5 * time.Second

type Options struct {
	ActionErrorTTL time.Duration
	Now            func() time.Time
	NewLocalID     func() string
	// SelfID returns the signed-in user's id, or 0. Stream echoes of that
	// user's messages resolve matching pending sends.
	SelfID  func() int64
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// View is a snapshot of what should be rendered for the open chat.
type View struct {
	ChatID      int64
	Messages    []model.Message
	Pending     []model.PendingSend
	Loading     bool
	LoadError   error
	ActionError error
}

type Reconciler struct {
	api     MessageAPI
	session Invalidator
	ttl     time.Duration
	now     func() time.Time
	newID   func() string
	selfID  func() int64
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	state     State
	gen       uint64
	loading   bool
	loadErr   error
	actionErr error
	actionAt  time.Time
}

func New(api MessageAPI, session Invalidator, opts Options) *Reconciler {
	if opts.ActionErrorTTL <= 0 {
		opts.ActionErrorTTL = DefaultActionErrorTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewLocalID == nil {
		opts.NewLocalID = func() string { return "local-" + uuid.NewString() }
	}
	return &Reconciler{
		api:     api,
		session: session,
		ttl:     opts.ActionErrorTTL,
		now:     opts.Now,
		newID:   opts.NewLocalID,
		selfID:  opts.SelfID,
		logger:  logging.OrDefault(opts.Logger),
		metrics: opts.Metrics,
	}
}

// LoadSnapshot makes chatID the open chat and replaces its list with the
// server's history. A result that arrives after another chat was opened is
// dropped and ErrStaleSnapshot returned.
func (r *Reconciler) LoadSnapshot(ctx context.Context, chatID int64) error {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	if r.state.ChatID != chatID {
		r.state = State{ChatID: chatID, Pending: pendingFor(r.state.Pending, chatID)}
	}
	r.loading = true
	r.loadErr = nil
	r.mu.Unlock()

	msgs, err := r.api.ListMessages(ctx, chatID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen || r.state.ChatID != chatID {
		r.metrics.StaleSnapshot()
		r.logger.Debug("dropping stale snapshot", "chat_id", chatID)
		return ErrStaleSnapshot
	}
	r.loading = false
	if err != nil {
		r.loadErr = err
		r.logger.Warn("load messages failed", "chat_id", chatID, "kind", apperr.KindOf(err), "err", err)
		r.invalidate(err)
		return err
	}
	for i := range msgs {
		if msgs[i].ChatID == 0 {
			msgs[i].ChatID = chatID
		}
	}
	r.state = Apply(r.state, SnapshotLoaded{ChatID: chatID, Messages: msgs})
	return nil
}

// Retry reloads the open chat after a load error.
func (r *Reconciler) Retry(ctx context.Context) error {
	r.mu.Lock()
	chatID := r.state.ChatID
	r.mu.Unlock()
	if chatID == 0 {
		return errNoChat
	}
	return r.LoadSnapshot(ctx, chatID)
}

// Close forgets the open chat. In-flight loads and sends for it are
// discarded when they complete.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.state = State{}
	r.loading = false
	r.loadErr = nil
}

// Submit renders content as pending, sends it and resolves the pending
// entry with the server's message. On failure the pending entry is removed
// and a *SendError carrying the original input is returned.
func (r *Reconciler) Submit(ctx context.Context, content string) (model.Message, error) {
	text := strings.TrimSpace(content)
	if text == "" {
		return model.Message{}, &SendError{Content: content, Err: errEmptyContent}
	}

	r.mu.Lock()
	chatID := r.state.ChatID
	if chatID == 0 {
		r.mu.Unlock()
		return model.Message{}, &SendError{Content: content, Err: errNoChat}
	}
	p := model.PendingSend{LocalID: r.newID(), ChatID: chatID, Content: text, SubmittedAt: r.now()}
	r.state = Apply(r.state, SendStarted{Pending: p})
	r.mu.Unlock()

	msg, err := r.api.SendMessage(ctx, chatID, text)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.state = Apply(r.state, SendFailed{LocalID: p.LocalID})
		r.metrics.Rollback()
		r.actionFailedLocked("send message", err)
		return model.Message{}, &SendError{Content: content, Err: err}
	}
	if msg.ChatID == 0 {
		msg.ChatID = chatID
	}
	if r.state.Contains(msg.ID) {
		r.metrics.Duplicate()
	}
	r.state = Apply(r.state, SendConfirmed{LocalID: p.LocalID, Message: msg})
	return msg, nil
}

func (r *Reconciler) Edit(ctx context.Context, messageID int64, content string) (model.Message, error) {
	text := strings.TrimSpace(content)
	if text == "" {
		return model.Message{}, errEmptyContent
	}
	msg, err := r.api.EditMessage(ctx, messageID, text)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.actionFailedLocked("edit message", err)
		return model.Message{}, err
	}
	r.state = Apply(r.state, MessageChanged{Message: msg})
	return msg, nil
}

func (r *Reconciler) Delete(ctx context.Context, messageID int64) error {
	err := r.api.DeleteMessage(ctx, messageID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.actionFailedLocked("delete message", err)
		return err
	}
	r.state = Apply(r.state, MessageRemoved{ID: messageID})
	return nil
}

// ApplyStreamEvent folds a pushed event into the list. It is the handler
// registered with the stream connector.
func (r *Reconciler) ApplyStreamEvent(ev stream.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.ChatID != r.state.ChatID {
		r.metrics.StreamDropped()
		return
	}
	switch ev.Type {
	case stream.NewMessage:
		if r.state.Contains(ev.Message.ID) {
			r.metrics.Duplicate()
			return
		}
		r.state = Apply(r.state, MessageReceived{Message: *ev.Message, Own: r.isSelf(ev.Message.SenderID)})
	case stream.MessageUpdated:
		r.state = Apply(r.state, MessageChanged{Message: *ev.Message})
	case stream.MessageDeleted:
		r.state = Apply(r.state, MessageRemoved{ID: ev.MessageID})
	case stream.Error:
		r.logger.Warn("stream reported error", "chat_id", ev.ChatID, "error", ev.Error)
		r.setActionErrorLocked(apperr.New(apperr.Unknown, ev.Error))
	}
}

func (r *Reconciler) isSelf(userID int64) bool {
	return r.selfID != nil && userID != 0 && r.selfID() == userID
}

// View returns the list to render. Action errors older than the TTL are
// omitted.
func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := View{
		ChatID:    r.state.ChatID,
		Messages:  append([]model.Message(nil), r.state.Messages...),
		Pending:   append([]model.PendingSend(nil), r.state.Pending...),
		Loading:   r.loading,
		LoadError: r.loadErr,
	}
	if r.actionErr != nil && r.now().Sub(r.actionAt) < r.ttl {
		v.ActionError = r.actionErr
	}
	return v
}

func (r *Reconciler) DismissActionError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actionErr = nil
}

func (r *Reconciler) actionFailedLocked(op string, err error) {
	r.logger.Warn(op+" failed", "kind", apperr.KindOf(err), "err", err)
	r.setActionErrorLocked(err)
	r.invalidate(err)
}

func (r *Reconciler) setActionErrorLocked(err error) {
	r.actionErr = err
	r.actionAt = r.now()
}

func (r *Reconciler) invalidate(err error) {
	if r.session != nil && apperr.KindOf(err).IsAuth() {
		r.session.Invalidate(err)
	}
}
