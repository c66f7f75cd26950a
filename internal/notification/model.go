package notification

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the meanings that share the notifications table.
type Kind string

const (
	KindPrivateMessage Kind = "private_message"
	KindOffer          Kind = "offer"
	KindCounterOffer   Kind = "counter_offer"
	KindApplication    Kind = "application"
)

func (k Kind) Valid() bool {
	switch k {
	case KindPrivateMessage, KindOffer, KindCounterOffer, KindApplication:
		return true
	}
	return false
}

var (
	ErrInvalid  = errors.New("notification: invalid")
	ErrNotFound = errors.New("notification: not found")
)

// Notification is one row of the wide notifications table. Which optional
// fields are set depends on Kind.
type Notification struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	Kind           Kind       `json:"type"`
	Title          string     `json:"title"`
	Message        string     `json:"message"`
	IsRead         bool       `json:"is_read"`
	PromoterID     *uuid.UUID `json:"promoter_id,omitempty"`
	EventID        *uuid.UUID `json:"event_id,omitempty"`
	OfferAmount    *float64   `json:"offer_amount,omitempty"`
	ConversationID *string    `json:"conversation_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (n *Notification) Validate() error {
	switch {
	case n.UserID == uuid.Nil:
		return errors.Join(ErrInvalid, errors.New("recipient is required"))
	case !n.Kind.Valid():
		return errors.Join(ErrInvalid, errors.New("unknown type "+string(n.Kind)))
	case strings.TrimSpace(n.Title) == "":
		return errors.Join(ErrInvalid, errors.New("title is required"))
	case (n.Kind == KindOffer || n.Kind == KindCounterOffer) && n.OfferAmount == nil:
		return errors.Join(ErrInvalid, errors.New("offer amount is required"))
	}
	return nil
}
