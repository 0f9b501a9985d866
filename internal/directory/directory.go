// Package directory keeps the set of chats the user belongs to. Local state
// changes only after the server confirms a mutation.
package directory

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"chatsync/internal/apperr"
	"chatsync/internal/logging"
	"chatsync/internal/model"
)

type ChatAPI interface {
	ListChats(ctx context.Context) ([]model.Chat, error)
	GetChat(ctx context.Context, chatID int64) (model.Chat, error)
	CreateChat(ctx context.Context, spec model.ChatCreate) (model.Chat, error)
	UpdateChat(ctx context.Context, chatID int64, patch model.ChatUpdate) (model.Chat, error)
	DeleteChat(ctx context.Context, chatID int64) error
	AddParticipant(ctx context.Context, chatID int64, email string) (model.Chat, error)
	RemoveParticipant(ctx context.Context, chatID int64, email string) (model.Chat, error)
	LeaveChat(ctx context.Context, chatID int64) error
}

// Invalidator is told about errors that may end the session.
type Invalidator interface {
	Invalidate(err error) bool
}

type Directory struct {
	api     ChatAPI
	session Invalidator
	logger  *slog.Logger

	mu      sync.RWMutex
	chats   map[int64]model.Chat
	loading bool
	lastErr error
}

func New(api ChatAPI, session Invalidator, logger *slog.Logger) *Directory {
	return &Directory{
		api:     api,
		session: session,
		logger:  logging.OrDefault(logger),
		chats:   make(map[int64]model.Chat),
	}
}

// FetchAll replaces the local chat set with the server's list.
func (d *Directory) FetchAll(ctx context.Context) error {
	d.mu.Lock()
	d.loading = true
	d.mu.Unlock()

	chats, err := d.api.ListChats(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.loading = false
	if err != nil {
		return d.failLocked("fetch chats", err)
	}
	d.chats = make(map[int64]model.Chat, len(chats))
	for _, c := range chats {
		d.chats[c.ID] = normalize(c)
	}
	d.lastErr = nil
	return nil
}

// Get refreshes one chat from the server. The local copy is replaced only
// when the chat is already known.
func (d *Directory) Get(ctx context.Context, chatID int64) (model.Chat, error) {
	chat, err := d.api.GetChat(ctx, chatID)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		return model.Chat{}, d.failLocked("get chat", err)
	}
	chat = normalize(chat)
	if _, ok := d.chats[chat.ID]; ok {
		d.chats[chat.ID] = chat
	}
	return chat, nil
}

func (d *Directory) Participants(ctx context.Context, chatID int64) ([]model.User, error) {
	chat, err := d.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return chat.Participants, nil
}

func (d *Directory) Create(ctx context.Context, spec model.ChatCreate) (model.Chat, error) {
	chat, err := d.api.CreateChat(ctx, spec)
	return d.apply("create chat", chat, err)
}

func (d *Directory) Update(ctx context.Context, chatID int64, patch model.ChatUpdate) (model.Chat, error) {
	chat, err := d.api.UpdateChat(ctx, chatID, patch)
	return d.apply("update chat", chat, err)
}

func (d *Directory) AddParticipant(ctx context.Context, chatID int64, email string) (model.Chat, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return model.Chat{}, d.fail("add participant", apperr.New(apperr.Validation, "Email is required"))
	}
	chat, err := d.api.AddParticipant(ctx, chatID, email)
	return d.apply("add participant", chat, err)
}

func (d *Directory) RemoveParticipant(ctx context.Context, chatID int64, email string) (model.Chat, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return model.Chat{}, d.fail("remove participant", apperr.New(apperr.Validation, "Email is required"))
	}
	chat, err := d.api.RemoveParticipant(ctx, chatID, email)
	return d.apply("remove participant", chat, err)
}

// Delete and Leave have the same local effect: the chat disappears.
func (d *Directory) Delete(ctx context.Context, chatID int64) error {
	return d.remove("delete chat", chatID, d.api.DeleteChat(ctx, chatID))
}

func (d *Directory) Leave(ctx context.Context, chatID int64) error {
	return d.remove("leave chat", chatID, d.api.LeaveChat(ctx, chatID))
}

// Chats returns the chat set ordered by creation time, then id.
func (d *Directory) Chats() []model.Chat {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]model.Chat, 0, len(d.chats))
	for _, c := range d.chats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (d *Directory) Chat(chatID int64) (model.Chat, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.chats[chatID]
	return c, ok
}

func (d *Directory) Loading() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loading
}

func (d *Directory) LastError() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastErr
}

func (d *Directory) apply(op string, chat model.Chat, err error) (model.Chat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		return model.Chat{}, d.failLocked(op, err)
	}
	chat = normalize(chat)
	d.chats[chat.ID] = chat
	return chat, nil
}

func (d *Directory) remove(op string, chatID int64, err error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		return d.failLocked(op, err)
	}
	delete(d.chats, chatID)
	return nil
}

func (d *Directory) fail(op string, err error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failLocked(op, err)
}

func (d *Directory) failLocked(op string, err error) error {
	d.lastErr = err
	kind := apperr.KindOf(err)
	if kind == apperr.Unknown {
		d.logger.Error(op+" failed", "err", err)
	} else {
		d.logger.Warn(op+" failed", "kind", kind, "err", err)
	}
	if kind.IsAuth() && d.session != nil {
		d.session.Invalidate(err)
	}
	return err
}

// normalize drops duplicate participants, keeping the first occurrence.
func normalize(c model.Chat) model.Chat {
	seen := make(map[int64]struct{}, len(c.Participants))
	out := make([]model.User, 0, len(c.Participants))
	for _, p := range c.Participants {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	c.Participants = out
	return c
}
