package reconcile

import (
	"sort"

	"chatsync/internal/model"
)

// State is the open chat's message list. Messages is sorted by
// (CreatedAt, ID) with unique ids. Pending holds unconfirmed sends in
// submit order. Values are never mutated in place by Apply.
type State struct {
	ChatID   int64
	Messages []model.Message
	Pending  []model.PendingSend
}

// Event is an input to Apply.
type Event interface {
	isEvent()
}

// SnapshotLoaded replaces the list with a fetched history for ChatID.
type SnapshotLoaded struct {
	ChatID   int64
	Messages []model.Message
}

// MessageReceived inserts a message unless its id is already present.
// Own marks the current user's message; inserting it resolves the oldest
// pending send with the same content.
type MessageReceived struct {
	Message model.Message
	Own     bool
}

// MessageChanged replaces the message with the same id, keeping its slot.
type MessageChanged struct {
	Message model.Message
}

type MessageRemoved struct {
	ID int64
}

type SendStarted struct {
	Pending model.PendingSend
}

// SendConfirmed resolves a pending send with the server's copy.
type SendConfirmed struct {
	LocalID string
	Message model.Message
}

type SendFailed struct {
	LocalID string
}

func (SnapshotLoaded) isEvent()  {}
func (MessageReceived) isEvent() {}
func (MessageChanged) isEvent()  {}
func (MessageRemoved) isEvent()  {}
func (SendStarted) isEvent()     {}
func (SendConfirmed) isEvent()   {}
func (SendFailed) isEvent()      {}

// Apply returns the state after ev. Message events for a chat other than
// s.ChatID are ignored.
func Apply(s State, ev Event) State {
	switch ev := ev.(type) {
	case SnapshotLoaded:
		return State{
			ChatID:   ev.ChatID,
			Messages: sortUnique(ev.Messages),
			Pending:  pendingFor(s.Pending, ev.ChatID),
		}
	case MessageReceived:
		if !s.owns(ev.Message) {
			return s
		}
		var inserted bool
		s.Messages, inserted = Insert(s.Messages, ev.Message)
		if inserted && ev.Own {
			s.Pending = resolveEcho(s.Pending, ev.Message)
		}
	case MessageChanged:
		if !s.owns(ev.Message) {
			return s
		}
		s.Messages = replace(s.Messages, ev.Message)
	case MessageRemoved:
		s.Messages = remove(s.Messages, ev.ID)
	case SendStarted:
		if ev.Pending.ChatID != s.ChatID {
			return s
		}
		pending := make([]model.PendingSend, 0, len(s.Pending)+1)
		pending = append(pending, s.Pending...)
		s.Pending = append(pending, ev.Pending)
	case SendConfirmed:
		s.Pending = dropPending(s.Pending, ev.LocalID)
		if s.owns(ev.Message) {
			s.Messages, _ = Insert(s.Messages, ev.Message)
		}
	case SendFailed:
		s.Pending = dropPending(s.Pending, ev.LocalID)
	}
	return s
}

// Contains reports whether a confirmed message with id is present.
func (s State) Contains(id int64) bool {
	return indexOf(s.Messages, id) >= 0
}

func (s State) owns(m model.Message) bool {
	return s.ChatID != 0 && m.ChatID == s.ChatID
}

// Insert places m in (CreatedAt, ID) order. It reports false and returns
// msgs unchanged when the id is already present.
func Insert(msgs []model.Message, m model.Message) ([]model.Message, bool) {
	if indexOf(msgs, m.ID) >= 0 {
		return msgs, false
	}
	i := sort.Search(len(msgs), func(i int) bool { return m.Before(msgs[i]) })
	out := make([]model.Message, 0, len(msgs)+1)
	out = append(out, msgs[:i]...)
	out = append(out, m)
	out = append(out, msgs[i:]...)
	return out, true
}

func replace(msgs []model.Message, m model.Message) []model.Message {
	i := indexOf(msgs, m.ID)
	if i < 0 {
		return msgs
	}
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	out[i] = m
	return out
}

func remove(msgs []model.Message, id int64) []model.Message {
	i := indexOf(msgs, id)
	if i < 0 {
		return msgs
	}
	out := make([]model.Message, 0, len(msgs)-1)
	out = append(out, msgs[:i]...)
	return append(out, msgs[i+1:]...)
}

func indexOf(msgs []model.Message, id int64) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// sortUnique keeps the first occurrence of each id, then orders by
// (CreatedAt, ID).
func sortUnique(msgs []model.Message) []model.Message {
	seen := make(map[int64]struct{}, len(msgs))
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func pendingFor(pending []model.PendingSend, chatID int64) []model.PendingSend {
	var out []model.PendingSend
	for _, p := range pending {
		if p.ChatID == chatID {
			out = append(out, p)
		}
	}
	return out
}

func resolveEcho(pending []model.PendingSend, m model.Message) []model.PendingSend {
	for _, p := range pending {
		if p.ChatID == m.ChatID && p.Content == m.Content {
			return dropPending(pending, p.LocalID)
		}
	}
	return pending
}

func dropPending(pending []model.PendingSend, localID string) []model.PendingSend {
	out := make([]model.PendingSend, 0, len(pending))
	for _, p := range pending {
		if p.LocalID != localID {
			out = append(out, p)
		}
	}
	return out
}
