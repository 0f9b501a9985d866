package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

var now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func seedUsers(t *testing.T, s *Store, emails ...string) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(emails))
	for _, e := range emails {
		u, err := s.CreateUser(e, e, "hash")
		if err != nil {
			t.Fatalf("CreateUser(%s): %v", e, err)
		}
		ids = append(ids, u.ID)
	}
	return ids
}

func TestStore_UserEmailUnique(t *testing.T) {
	s := New()
	seedUsers(t, s, "a@x")
	if _, err := s.CreateUser("other", "A@X ", "hash"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	u, hash, ok := s.UserByEmail("a@x")
	if !ok || hash != "hash" || u.ID != 1 {
		t.Fatalf("UserByEmail: %+v %q %v", u, hash, ok)
	}
}

func TestStore_ChatMembership(t *testing.T) {
	s := New()
	ids := seedUsers(t, s, "a@x", "b@x", "c@x")
	a, b, c := ids[0], ids[1], ids[2]

	chat, err := s.CreateChat(a, nil, []int64{b, b, a}, now)
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if len(chat.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(chat.Participants))
	}

	if _, err := s.GetChat(c, chat.ID); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := s.GetChat(a, 999); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}

	chat, err = s.AddParticipant(b, chat.ID, "c@x")
	if err != nil || len(chat.Participants) != 3 {
		t.Fatalf("AddParticipant: %v %+v", err, chat)
	}
	if len(s.ListChats(c)) != 1 {
		t.Fatalf("expected c to see the chat")
	}

	if _, err := s.RemoveParticipant(b, chat.ID, "a@x"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected owner removal forbidden, got %v", err)
	}
	chat, err = s.RemoveParticipant(a, chat.ID, "c@x")
	if err != nil || len(chat.Participants) != 2 {
		t.Fatalf("RemoveParticipant: %v %+v", err, chat)
	}
}

func TestStore_DeleteRequiresOwner(t *testing.T) {
	s := New()
	ids := seedUsers(t, s, "a@x", "b@x")
	chat, _ := s.CreateChat(ids[0], nil, []int64{ids[1]}, now)

	if err := s.DeleteChat(ids[1], chat.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := s.DeleteChat(ids[0], chat.ID); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	if len(s.ListChats(ids[1])) != 0 {
		t.Fatalf("chat still listed")
	}
}

func TestStore_LastLeaveDeletesChat(t *testing.T) {
	s := New()
	ids := seedUsers(t, s, "a@x", "b@x")
	chat, _ := s.CreateChat(ids[0], nil, []int64{ids[1]}, now)
	_, _ = s.AppendMessage(ids[0], chat.ID, "hi", now)

	if err := s.LeaveChat(ids[0], chat.ID); err != nil {
		t.Fatalf("LeaveChat: %v", err)
	}
	if _, err := s.GetChat(ids[1], chat.ID); err != nil {
		t.Fatalf("chat should remain for b: %v", err)
	}
	if err := s.LeaveChat(ids[1], chat.ID); err != nil {
		t.Fatalf("LeaveChat: %v", err)
	}
	if _, err := s.GetChat(ids[1], chat.ID); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected chat deleted, got %v", err)
	}
}

func TestStore_Messages(t *testing.T) {
	s := New()
	ids := seedUsers(t, s, "a@x", "b@x")
	a, b := ids[0], ids[1]
	chat, _ := s.CreateChat(a, nil, []int64{b}, now)

	msg1, err := s.AppendMessage(a, chat.ID, " c1 ", now)
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	msg2, err := s.AppendMessage(b, chat.ID, "c2", now)
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if msg2.ID <= msg1.ID || msg1.Content != "c1" || msg1.Sender.Email != "a@x" {
		t.Fatalf("unexpected messages: %+v %+v", msg1, msg2)
	}
	if _, err := s.AppendMessage(a, chat.ID, "  ", now); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	if _, err := s.EditMessage(b, msg1.ID, "x"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	edited, err := s.EditMessage(a, msg1.ID, "c1 edited")
	if err != nil || edited.Content != "c1 edited" || edited.ChatID != chat.ID {
		t.Fatalf("EditMessage: %v %+v", err, edited)
	}

	deleted, err := s.DeleteMessage(b, msg2.ID)
	if err != nil || deleted.ChatID != chat.ID {
		t.Fatalf("DeleteMessage: %v %+v", err, deleted)
	}
	msgs, err := s.ListMessages(a, chat.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "c1 edited" {
		t.Fatalf("unexpected list: %+v", msgs)
	}
	if _, err := s.DeleteMessage(b, msg2.ID); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestStore_StateFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "chatd.json")

	s := NewWithOptions(Options{StateFile: path})
	ids := seedUsers(t, s, "a@x", "b@x")
	chat, _ := s.CreateChat(ids[0], nil, []int64{ids[1]}, now)
	msg, _ := s.AppendMessage(ids[1], chat.ID, "persisted", now)

	reloaded := NewWithOptions(Options{StateFile: path})
	msgs, err := reloaded.ListMessages(ids[0], chat.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != msg.ID || msgs[0].Content != "persisted" {
		t.Fatalf("unexpected messages after reload: %+v", msgs)
	}

	u, err := reloaded.CreateUser("c", "c@x", "hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID <= ids[1] {
		t.Fatalf("id reused after reload: %d", u.ID)
	}
	next, _ := reloaded.AppendMessage(ids[0], chat.ID, "next", now)
	if next.ID <= msg.ID {
		t.Fatalf("message id reused after reload: %d", next.ID)
	}
}
