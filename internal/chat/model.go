package chat

import (
	"errors"
	"time"

	"ga4u/internal/conversation"

	"github.com/google/uuid"
)

// MaxMessageLength bounds message_text in runes.
const MaxMessageLength = 4000

// SelfName labels the viewer's own messages.
const SelfName = "You"

var (
	ErrNotParticipant = errors.New("chat: user is not a participant in the conversation")
	ErrEmptyMessage   = errors.New("chat: empty message")
	ErrMessageTooLong = errors.New("chat: message too long")
)

// epoch is the read cursor of a participant that has never read.
var epoch = time.Unix(0, 0).UTC()

// Participant is a row of unified_participants.
type Participant struct {
	ConversationID string            `json:"conversation_id"`
	Kind           conversation.Kind `json:"conversation_type"`
	UserID         uuid.UUID         `json:"user_id"`
	JoinedAt       time.Time         `json:"joined_at"`
	LastReadAt     time.Time         `json:"last_read_at"`
}

// Message is a row of unified_messages. Messages are never edited.
type Message struct {
	ID             uuid.UUID         `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Kind           conversation.Kind `json:"conversation_type"`
	SenderID       uuid.UUID         `json:"sender_id"`
	Text           string            `json:"message_text"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// MessageView is a message as shown to one viewer.
type MessageView struct {
	Message
	SenderName string `json:"sender_name"`
	IsOwn      bool   `json:"is_own"`
}

type ConversationSummary struct {
	ID            conversation.ID   `json:"id"`
	Kind          conversation.Kind `json:"type"`
	Title         string            `json:"title"`
	LastMessage   *string           `json:"last_message,omitempty"`
	LastMessageAt *time.Time        `json:"last_message_at,omitempty"`
	Unread        int               `json:"unread"`
	JoinedAt      time.Time         `json:"joined_at"`
}

func (s ConversationSummary) activity() time.Time {
	if s.LastMessageAt != nil {
		return *s.LastMessageAt
	}
	return s.JoinedAt
}
