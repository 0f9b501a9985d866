package model

import "time"

type ModerationStatus string

const (
	ModerationPending  ModerationStatus = "pending_review"
	ModerationApproved ModerationStatus = "approved"
	ModerationRejected ModerationStatus = "rejected"
)

type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Chat struct {
	ID           int64     `json:"id"`
	Title        *string   `json:"title"`
	Participants []User    `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasParticipant reports whether userID is a member of the chat.
func (c Chat) HasParticipant(userID int64) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

type Message struct {
	ID               int64            `json:"id"`
	ChatID           int64            `json:"chat_id"`
	Content          string           `json:"content"`
	SenderID         int64            `json:"sender_id"`
	Sender           User             `json:"sender"`
	CreatedAt        time.Time        `json:"created_at"`
	ModerationStatus ModerationStatus `json:"violation_status"`
}

// Before orders messages by (CreatedAt, ID) ascending.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// PendingSend is a locally submitted message awaiting server confirmation.
type PendingSend struct {
	LocalID     string
	ChatID      int64
	Content     string
	SubmittedAt time.Time
}

type Credentials struct {
	Email    string
	Password string
}

type Registration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ChatCreate struct {
	Title          *string `json:"title,omitempty"`
	ParticipantIDs []int64 `json:"participant_ids"`
}

type ChatUpdate struct {
	Title          *string `json:"title,omitempty"`
	ParticipantIDs []int64 `json:"participant_ids,omitempty"`
}
