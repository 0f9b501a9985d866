package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"chatsync/internal/model"
)

type EventType string

const (
	NewMessage     EventType = "new_message"
	MessageUpdated EventType = "message_updated"
	MessageDeleted EventType = "message_deleted"
	Error          EventType = "error"
)

// Event is one push notification for the subscribed chat.
type Event struct {
	Type      EventType
	ChatID    int64
	MessageID int64
	Message   *model.Message
	Error     string
}

// Wire is the JSON frame exchanged on the channel.
type Wire struct {
	Type      EventType      `json:"type"`
	Message   *model.Message `json:"message,omitempty"`
	MessageID int64          `json:"message_id,omitempty"`
	ChatID    int64          `json:"chat_id,omitempty"`
	Error     string         `json:"error,omitempty"`
}

var errMalformed = errors.New("malformed stream event")

// Decode parses a frame received on chatID's channel.
func Decode(data []byte, chatID int64) (Event, error) {
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", errMalformed, err)
	}

	ev := Event{Type: w.Type, ChatID: chatID, MessageID: w.MessageID, Message: w.Message, Error: w.Error}
	switch w.Type {
	case NewMessage, MessageUpdated:
		if w.Message == nil || w.Message.ID == 0 {
			return Event{}, fmt.Errorf("%w: %s without message", errMalformed, w.Type)
		}
		if w.Message.ChatID == 0 {
			w.Message.ChatID = chatID
		}
		if w.Message.SenderID == 0 {
			w.Message.SenderID = w.Message.Sender.ID
		}
		ev.ChatID = w.Message.ChatID
		ev.MessageID = w.Message.ID
	case MessageDeleted:
		if w.MessageID == 0 {
			return Event{}, fmt.Errorf("%w: delete without message_id", errMalformed)
		}
		if w.ChatID != 0 {
			ev.ChatID = w.ChatID
		}
	case Error:
	default:
		return Event{}, fmt.Errorf("%w: unknown type %q", errMalformed, w.Type)
	}
	return ev, nil
}

// Encode builds the frame for ev. Used by the backend broadcaster.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(Wire{
		Type:      ev.Type,
		Message:   ev.Message,
		MessageID: ev.MessageID,
		ChatID:    ev.ChatID,
		Error:     ev.Error,
	})
}
