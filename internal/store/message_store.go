package store

import (
	"sync"

	"chatsync/internal/model"
)

// messageStore keeps each chat's messages in insertion order and indexes
// them by id.
type messageStore struct {
	mu     sync.RWMutex
	data   map[int64][]model.Message
	chatOf map[int64]int64
}

func newMessageStore() *messageStore {
	return &messageStore{data: make(map[int64][]model.Message), chatOf: make(map[int64]int64)}
}

func (m *messageStore) append(msg model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[msg.ChatID] = append(m.data[msg.ChatID], msg)
	m.chatOf[msg.ID] = msg.ChatID
}

func (m *messageStore) list(chatID int64) []model.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.data[chatID]
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out
}

func (m *messageStore) get(id int64) (model.Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chatID, ok := m.chatOf[id]
	if !ok {
		return model.Message{}, false
	}
	for _, msg := range m.data[chatID] {
		if msg.ID == id {
			return msg, true
		}
	}
	return model.Message{}, false
}

func (m *messageStore) update(msg model.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.data[msg.ChatID]
	for i := range msgs {
		if msgs[i].ID == msg.ID {
			msgs[i] = msg
			return true
		}
	}
	return false
}

func (m *messageStore) remove(id int64) (model.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chatID, ok := m.chatOf[id]
	if !ok {
		return model.Message{}, false
	}
	msgs := m.data[chatID]
	for i := range msgs {
		if msgs[i].ID == id {
			removed := msgs[i]
			m.data[chatID] = append(msgs[:i:i], msgs[i+1:]...)
			delete(m.chatOf, id)
			return removed, true
		}
	}
	return model.Message{}, false
}

func (m *messageStore) deleteChat(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.data[chatID] {
		delete(m.chatOf, msg.ID)
	}
	delete(m.data, chatID)
}

func (m *messageStore) all() []model.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Message
	for _, msgs := range m.data {
		out = append(out, msgs...)
	}
	return out
}
