package notification

import (
	"context"
	"fmt"

	"ga4u/internal/pubsub"

	"github.com/google/uuid"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type Store interface {
	Insert(ctx context.Context, n *Notification) error
	List(ctx context.Context, userID uuid.UUID, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) error
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

type Service struct {
	store Store
	bus   pubsub.Publisher
}

func NewService(store Store, bus pubsub.Publisher) *Service {
	return &Service{store: store, bus: bus}
}

// Create validates and stores n, then tells the recipient's open views.
func (s *Service) Create(ctx context.Context, n *Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if err := s.store.Insert(ctx, n); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	e := pubsub.Event{
		Kind:       pubsub.KindNotificationCreated,
		Recipients: []string{n.UserID.String()},
	}
	if n.ConversationID != nil {
		e.ConversationID = *n.ConversationID
	}
	s.bus.Publish(ctx, e)
	return nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, limit int) ([]Notification, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	return s.store.List(ctx, userID, limit)
}

func (s *Service) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	return s.store.MarkRead(ctx, id, userID)
}

func (s *Service) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.store.CountUnread(ctx, userID)
}
