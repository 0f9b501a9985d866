// Package stream keeps one push channel open for the chat being viewed and
// reconnects it after unexpected drops.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/internal/apperr"
	"chatsync/internal/logging"
	"chatsync/internal/metrics"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

var (
	ErrNoToken        = apperr.New(apperr.AuthInvalid, "No authentication token found")
	ErrNoChat         = apperr.New(apperr.Validation, "No chat selected")
	ErrAuthFailed     = apperr.New(apperr.AuthInvalid, "Authentication failed")
	ErrNotParticipant = apperr.New(apperr.Forbidden, "You are not a participant in this chat")
	ErrChatNotFound   = apperr.New(apperr.NotFound, "Chat not found")
)

// Status is the connector's externally visible state. Err is set on
// terminal failures and while reconnecting.
type Status struct {
	State  State
	ChatID int64
	Err    error
}

type Handler func(Event)

type TokenSource interface {
	Token() (string, bool)
}

type Options struct {
	ReconnectDelay time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	// OnStatus is called after every state change, outside the lock.
	OnStatus func(Status)
}

const DefaultReconnectDelay = 3 * time.Second

type Connector struct {
	dialer   Dialer
	tokens   TokenSource
	delay    time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	onStatus func(Status)

	mu     sync.Mutex
	sub    *Subscription
	status Status
}

func New(dialer Dialer, tokens TokenSource, opts Options) *Connector {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	return &Connector{
		dialer:   dialer,
		tokens:   tokens,
		delay:    opts.ReconnectDelay,
		logger:   logging.OrDefault(opts.Logger),
		metrics:  opts.Metrics,
		onStatus: opts.OnStatus,
	}
}

// Subscription is the handle for one chat's channel.
type Subscription struct {
	c       *Connector
	chatID  int64
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	connMu sync.Mutex
	conn   Conn
}

func (s *Subscription) ChatID() int64 { return s.chatID }

// Done is closed once the subscription's goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close ends this subscription. It is a no-op if another chat has since
// been subscribed.
func (s *Subscription) Close() {
	s.c.mu.Lock()
	if s.c.sub != s {
		s.c.mu.Unlock()
		s.stop()
		return
	}
	s.c.mu.Unlock()
	s.c.Disconnect()
}

// Subscribe opens chatID's channel, closing any previous one first. Events
// are passed to h one at a time in arrival order.
func (c *Connector) Subscribe(chatID int64, h Handler) (*Subscription, error) {
	if chatID <= 0 {
		c.Disconnect()
		c.setStatus(nil, Status{State: Disconnected, Err: ErrNoChat})
		return nil, ErrNoChat
	}
	if _, ok := c.tokens.Token(); !ok {
		c.Disconnect()
		c.setStatus(nil, Status{State: Disconnected, ChatID: chatID, Err: ErrNoToken})
		return nil, ErrNoToken
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		c:       c,
		chatID:  chatID,
		handler: h,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	// Swap and capture in one section: every replaced handle gets stopped.
	c.mu.Lock()
	prev := c.sub
	c.sub = sub
	c.status = Status{State: Connecting, ChatID: chatID}
	st := c.status
	c.mu.Unlock()

	if prev != nil {
		prev.stop()
		c.logger.Debug("stream disconnected", "chat_id", prev.chatID)
	}
	c.metrics.StreamConnected(false)
	c.notify(st)

	go sub.run()
	return sub, nil
}

// Disconnect closes the current channel and cancels any pending reconnect.
// It is safe to call repeatedly.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	changed := c.status.State != Disconnected || c.status.Err != nil
	c.status = Status{State: Disconnected}
	c.mu.Unlock()

	if sub != nil {
		sub.stop()
		c.logger.Debug("stream disconnected", "chat_id", sub.chatID)
	}
	if changed {
		c.metrics.StreamConnected(false)
		c.notify(Status{State: Disconnected})
	}
}

func (c *Connector) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// setStatus applies st when sub is still current. A nil sub applies
// unconditionally.
func (c *Connector) setStatus(sub *Subscription, st Status) bool {
	c.mu.Lock()
	if sub != nil && c.sub != sub {
		c.mu.Unlock()
		return false
	}
	if st.State == Disconnected {
		c.sub = nil
	}
	c.status = st
	c.mu.Unlock()

	c.metrics.StreamConnected(st.State == Connected)
	c.notify(st)
	return true
}

func (c *Connector) notify(st Status) {
	if c.onStatus != nil {
		c.onStatus(st)
	}
}

func (c *Connector) isCurrent(sub *Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub == sub
}

func (s *Subscription) stop() {
	s.cancel()
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (s *Subscription) setConn(conn Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conn = conn
	return true
}

func (s *Subscription) run() {
	defer close(s.done)
	c := s.c
	log := c.logger.With("chat_id", s.chatID)

	for {
		token, ok := c.tokens.Token()
		if !ok {
			c.setStatus(s, Status{State: Disconnected, ChatID: s.chatID, Err: ErrNoToken})
			return
		}
		if !c.setStatus(s, Status{State: Connecting, ChatID: s.chatID}) {
			return
		}

		conn, err := c.dialer.Dial(s.ctx, s.chatID, token)
		if s.ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err == nil {
			if !s.setConn(conn) {
				_ = conn.Close()
				return
			}
			if !c.setStatus(s, Status{State: Connected, ChatID: s.chatID}) {
				return
			}
			log.Debug("stream connected")
			err = s.read(conn)
			if s.ctx.Err() != nil {
				return
			}
			s.connMu.Lock()
			s.conn = nil
			s.connMu.Unlock()
			_ = conn.Close()
		}

		if terminal, final := classifyClose(err); final {
			if terminal != nil {
				log.Warn("stream closed", "err", terminal)
			} else {
				log.Info("stream closed normally")
			}
			c.setStatus(s, Status{State: Disconnected, ChatID: s.chatID, Err: terminal})
			return
		}

		log.Warn("stream dropped, reconnecting", "err", err, "delay", c.delay)
		if !c.setStatus(s, Status{State: Reconnecting, ChatID: s.chatID, Err: err}) {
			return
		}
		c.metrics.StreamReconnect()

		timer := time.NewTimer(c.delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Subscription) read(conn Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, err := Decode(data, s.chatID)
		if err != nil {
			s.c.logger.Warn("ignoring stream frame", "chat_id", s.chatID, "err", err)
			continue
		}
		s.dispatch(ev)
	}
}

func (s *Subscription) dispatch(ev Event) {
	if ev.ChatID != s.chatID || !s.c.isCurrent(s) {
		s.c.metrics.StreamDropped()
		return
	}
	s.c.metrics.StreamEvent(string(ev.Type))
	if s.handler != nil {
		s.handler(ev)
	}
}

// classifyClose maps a read or dial error to a final outcome. final is
// false when the channel should be reopened.
func classifyClose(err error) (terminal error, final bool) {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return nil, false
	}
	switch ce.Code {
	case CloseNormal:
		return nil, true
	case CloseAuthFailed:
		return ErrAuthFailed, true
	case CloseNotParticipant:
		return ErrNotParticipant, true
	case CloseNotFound:
		return ErrChatNotFound, true
	default:
		return nil, false
	}
}
