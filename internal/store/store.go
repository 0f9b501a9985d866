package store

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"chatsync/internal/logging"
	"chatsync/internal/model"
)

var (
	ErrEmailTaken      = errors.New("Email already registered")
	ErrUserNotFound    = errors.New("User not found")
	ErrChatNotFound    = errors.New("Chat not found")
	ErrNotParticipant  = errors.New("You are not a participant in this chat")
	ErrForbidden       = errors.New("Not allowed")
	ErrMessageNotFound = errors.New("Message not found")
	ErrInvalidInput    = errors.New("Invalid request")
)

type userRecord struct {
	User         model.User `json:"user"`
	PasswordHash string     `json:"passwordHash"`
}

type chatRecord struct {
	ID           int64     `json:"id"`
	Title        *string   `json:"title"`
	OwnerID      int64     `json:"ownerId"`
	Participants []int64   `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (c chatRecord) has(userID int64) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

type Store struct {
	mu sync.RWMutex

	stateFile string
	persistMu sync.Mutex
	logger    *slog.Logger

	usersByID    map[int64]userRecord
	userIDByMail map[string]int64
	chatsByID    map[int64]chatRecord

	messages *messageStore
	seq      *seqGenerator
}

func New() *Store {
	return NewWithOptions(Options{})
}

type Options struct {
	// StateFile, when set, is loaded on start and rewritten after every
	// mutation.
	StateFile string
	Logger    *slog.Logger
}

func NewWithOptions(opts Options) *Store {
	s := &Store{
		stateFile:    opts.StateFile,
		logger:       logging.OrDefault(opts.Logger),
		usersByID:    make(map[int64]userRecord),
		userIDByMail: make(map[string]int64),
		chatsByID:    make(map[int64]chatRecord),
		messages:     newMessageStore(),
		seq:          newSeqGenerator(),
	}

	if s.stateFile != "" {
		if err := s.loadFromFile(s.stateFile); err != nil {
			s.logger.Error("state persistence: load failed", "path", s.stateFile, "err", err)
		}
	}
	return s
}

func mailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) CreateUser(name, email, passwordHash string) (model.User, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" || email == "" || passwordHash == "" {
		return model.User{}, ErrInvalidInput
	}

	s.mu.Lock()
	if _, ok := s.userIDByMail[mailKey(email)]; ok {
		s.mu.Unlock()
		return model.User{}, ErrEmailTaken
	}
	u := model.User{ID: s.seq.next("user"), Name: name, Email: email}
	s.usersByID[u.ID] = userRecord{User: u, PasswordHash: passwordHash}
	s.userIDByMail[mailKey(email)] = u.ID
	s.mu.Unlock()

	s.save()
	return u, nil
}

// UserByEmail returns the user and stored password hash.
func (s *Store) UserByEmail(email string) (model.User, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.userIDByMail[mailKey(email)]
	if !ok {
		return model.User{}, "", false
	}
	rec := s.usersByID[id]
	return rec.User, rec.PasswordHash, true
}

func (s *Store) User(id int64) (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.usersByID[id]
	return rec.User, ok
}

func (s *Store) CreateChat(ownerID int64, title *string, participantIDs []int64, now time.Time) (model.Chat, error) {
	s.mu.Lock()
	if _, ok := s.usersByID[ownerID]; !ok {
		s.mu.Unlock()
		return model.Chat{}, ErrUserNotFound
	}
	members, err := s.membersLocked(ownerID, participantIDs)
	if err != nil {
		s.mu.Unlock()
		return model.Chat{}, err
	}
	rec := chatRecord{
		ID:           s.seq.next("chat"),
		Title:        cleanTitle(title),
		OwnerID:      ownerID,
		Participants: members,
		CreatedAt:    now.UTC(),
	}
	s.chatsByID[rec.ID] = rec
	chat := s.viewLocked(rec)
	s.mu.Unlock()

	s.save()
	return chat, nil
}

func (s *Store) ListChats(userID int64) []model.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Chat, 0)
	for _, rec := range s.chatsByID {
		if rec.has(userID) {
			result = append(result, s.viewLocked(rec))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (s *Store) GetChat(userID, chatID int64) (model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.chatForLocked(userID, chatID)
	if err != nil {
		return model.Chat{}, err
	}
	return s.viewLocked(rec), nil
}

// UpdateChat changes the title and, when participantIDs is non-nil,
// replaces the member set. The owner always stays a member.
func (s *Store) UpdateChat(userID, chatID int64, title *string, participantIDs []int64) (model.Chat, error) {
	s.mu.Lock()
	rec, err := s.chatForLocked(userID, chatID)
	if err != nil {
		s.mu.Unlock()
		return model.Chat{}, err
	}
	if title != nil {
		rec.Title = cleanTitle(title)
	}
	if participantIDs != nil {
		members, err := s.membersLocked(rec.OwnerID, participantIDs)
		if err != nil {
			s.mu.Unlock()
			return model.Chat{}, err
		}
		rec.Participants = members
	}
	s.chatsByID[chatID] = rec
	chat := s.viewLocked(rec)
	s.mu.Unlock()

	s.save()
	return chat, nil
}

// DeleteChat removes the chat and its history. Only the creator may do it.
func (s *Store) DeleteChat(userID, chatID int64) error {
	s.mu.Lock()
	rec, err := s.chatForLocked(userID, chatID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if rec.OwnerID != userID {
		s.mu.Unlock()
		return ErrForbidden
	}
	delete(s.chatsByID, chatID)
	s.mu.Unlock()

	s.messages.deleteChat(chatID)
	s.save()
	return nil
}

func (s *Store) AddParticipant(userID, chatID int64, email string) (model.Chat, error) {
	s.mu.Lock()
	rec, err := s.chatForLocked(userID, chatID)
	if err != nil {
		s.mu.Unlock()
		return model.Chat{}, err
	}
	id, ok := s.userIDByMail[mailKey(email)]
	if !ok {
		s.mu.Unlock()
		return model.Chat{}, ErrUserNotFound
	}
	if !rec.has(id) {
		rec.Participants = append(append([]int64(nil), rec.Participants...), id)
		s.chatsByID[chatID] = rec
	}
	chat := s.viewLocked(rec)
	s.mu.Unlock()

	s.save()
	return chat, nil
}

func (s *Store) RemoveParticipant(userID, chatID int64, email string) (model.Chat, error) {
	s.mu.Lock()
	rec, err := s.chatForLocked(userID, chatID)
	if err != nil {
		s.mu.Unlock()
		return model.Chat{}, err
	}
	id, ok := s.userIDByMail[mailKey(email)]
	if !ok || !rec.has(id) {
		s.mu.Unlock()
		return model.Chat{}, ErrUserNotFound
	}
	if id == rec.OwnerID && id != userID {
		s.mu.Unlock()
		return model.Chat{}, ErrForbidden
	}
	rec.Participants = without(rec.Participants, id)
	s.chatsByID[chatID] = rec
	chat := s.viewLocked(rec)
	s.mu.Unlock()

	s.save()
	return chat, nil
}

// LeaveChat removes userID from the chat. The chat is deleted once nobody
// is left in it.
func (s *Store) LeaveChat(userID, chatID int64) error {
	s.mu.Lock()
	rec, err := s.chatForLocked(userID, chatID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	rec.Participants = without(rec.Participants, userID)
	empty := len(rec.Participants) == 0
	if empty {
		delete(s.chatsByID, chatID)
	} else {
		s.chatsByID[chatID] = rec
	}
	s.mu.Unlock()

	if empty {
		s.messages.deleteChat(chatID)
	}
	s.save()
	return nil
}

// IsParticipant reports whether the chat exists and userID belongs to it.
func (s *Store) IsParticipant(userID, chatID int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := s.chatForLocked(userID, chatID)
	return err
}

func (s *Store) ListMessages(userID, chatID int64) ([]model.Message, error) {
	if err := s.IsParticipant(userID, chatID); err != nil {
		return nil, err
	}
	msgs := s.messages.list(chatID)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
	return msgs, nil
}

func (s *Store) AppendMessage(userID, chatID int64, content string, now time.Time) (model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return model.Message{}, ErrInvalidInput
	}
	if err := s.IsParticipant(userID, chatID); err != nil {
		return model.Message{}, err
	}
	sender, _ := s.User(userID)

	msg := model.Message{
		ID:               s.seq.next("message"),
		ChatID:           chatID,
		Content:          content,
		SenderID:         userID,
		Sender:           sender,
		CreatedAt:        now.UTC(),
		ModerationStatus: model.ModerationApproved,
	}
	s.messages.append(msg)
	s.save()
	return msg, nil
}

// EditMessage rewrites the content of a message the user sent.
func (s *Store) EditMessage(userID, messageID int64, content string) (model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return model.Message{}, ErrInvalidInput
	}
	msg, err := s.ownMessage(userID, messageID)
	if err != nil {
		return model.Message{}, err
	}
	msg.Content = content
	if !s.messages.update(msg) {
		return model.Message{}, ErrMessageNotFound
	}
	s.save()
	return msg, nil
}

// DeleteMessage removes a message the user sent and returns it.
func (s *Store) DeleteMessage(userID, messageID int64) (model.Message, error) {
	if _, err := s.ownMessage(userID, messageID); err != nil {
		return model.Message{}, err
	}
	msg, ok := s.messages.remove(messageID)
	if !ok {
		return model.Message{}, ErrMessageNotFound
	}
	s.save()
	return msg, nil
}

func (s *Store) ownMessage(userID, messageID int64) (model.Message, error) {
	msg, ok := s.messages.get(messageID)
	if !ok {
		return model.Message{}, ErrMessageNotFound
	}
	if err := s.IsParticipant(userID, msg.ChatID); err != nil {
		if errors.Is(err, ErrNotParticipant) {
			return model.Message{}, ErrMessageNotFound
		}
		return model.Message{}, err
	}
	if msg.SenderID != userID {
		return model.Message{}, ErrForbidden
	}
	return msg, nil
}

func (s *Store) chatForLocked(userID, chatID int64) (chatRecord, error) {
	rec, ok := s.chatsByID[chatID]
	if !ok {
		return chatRecord{}, ErrChatNotFound
	}
	if !rec.has(userID) {
		return chatRecord{}, ErrNotParticipant
	}
	return rec, nil
}

func (s *Store) membersLocked(ownerID int64, ids []int64) ([]int64, error) {
	members := []int64{ownerID}
	seen := map[int64]bool{ownerID: true}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		if _, ok := s.usersByID[id]; !ok {
			return nil, ErrUserNotFound
		}
		seen[id] = true
		members = append(members, id)
	}
	return members, nil
}

func (s *Store) viewLocked(rec chatRecord) model.Chat {
	chat := model.Chat{ID: rec.ID, Title: rec.Title, CreatedAt: rec.CreatedAt}
	chat.Participants = make([]model.User, 0, len(rec.Participants))
	for _, id := range rec.Participants {
		if u, ok := s.usersByID[id]; ok {
			chat.Participants = append(chat.Participants, u.User)
		}
	}
	return chat
}

func cleanTitle(title *string) *string {
	if title == nil {
		return nil
	}
	t := strings.TrimSpace(*title)
	if t == "" {
		return nil
	}
	return &t
}

func without(ids []int64, id int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

type persistedStateFile struct {
	Version  int             `json:"version"`
	Users    []userRecord    `json:"users"`
	Chats    []chatRecord    `json:"chats"`
	Messages []model.Message `json:"messages"`
	SavedAt  int64           `json:"savedAt"`
}

func (s *Store) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var file persistedStateFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	if file.Version != 1 {
		return errors.New("unsupported state version")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range file.Users {
		if u.User.ID <= 0 || u.User.Email == "" {
			continue
		}
		s.usersByID[u.User.ID] = u
		s.userIDByMail[mailKey(u.User.Email)] = u.User.ID
		s.seq.observe("user", u.User.ID)
	}
	for _, c := range file.Chats {
		if c.ID <= 0 {
			continue
		}
		s.chatsByID[c.ID] = c
		s.seq.observe("chat", c.ID)
	}
	sort.Slice(file.Messages, func(i, j int) bool { return file.Messages[i].ID < file.Messages[j].ID })
	for _, m := range file.Messages {
		if _, ok := s.chatsByID[m.ChatID]; !ok || m.ID <= 0 {
			continue
		}
		s.messages.append(m)
		s.seq.observe("message", m.ID)
	}
	return nil
}

func (s *Store) snapshot() persistedStateFile {
	s.mu.RLock()
	file := persistedStateFile{Version: 1, SavedAt: time.Now().UnixMilli()}
	for _, u := range s.usersByID {
		file.Users = append(file.Users, u)
	}
	for _, c := range s.chatsByID {
		file.Chats = append(file.Chats, c)
	}
	s.mu.RUnlock()

	file.Messages = s.messages.all()
	sort.Slice(file.Users, func(i, j int) bool { return file.Users[i].User.ID < file.Users[j].User.ID })
	sort.Slice(file.Chats, func(i, j int) bool { return file.Chats[i].ID < file.Chats[j].ID })
	sort.Slice(file.Messages, func(i, j int) bool { return file.Messages[i].ID < file.Messages[j].ID })
	return file
}

// save writes the current state to the state file, if configured. Writes
// are serialized so a later snapshot never lands before an earlier one.
func (s *Store) save() {
	path := s.stateFile
	if path == "" {
		return
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		s.logger.Error("state persistence: mkdir failed", "dir", dir, "err", err)
		return
	}

	data, err := json.MarshalIndent(s.snapshot(), "", "  ")
	if err != nil {
		s.logger.Error("state persistence: marshal failed", "err", err)
		return
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		s.logger.Error("state persistence: create temp failed", "err", err)
		return
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		s.logger.Error("state persistence: chmod temp failed", "err", err)
		return
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		s.logger.Error("state persistence: write temp failed", "err", err)
		return
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		s.logger.Error("state persistence: sync temp failed", "err", err)
		return
	}
	if err := tmp.Close(); err != nil {
		s.logger.Error("state persistence: close temp failed", "err", err)
		return
	}
	if err := os.Rename(tmpName, path); err != nil {
		s.logger.Error("state persistence: rename failed", "err", err)
	}
}
