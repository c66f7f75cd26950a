package notification

import (
	"context"
	"testing"

	"ga4u/internal/pubsub"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	rows      []Notification
	lastLimit int
}

func (m *memStore) Insert(_ context.Context, n *Notification) error {
	m.rows = append(m.rows, *n)
	return nil
}

func (m *memStore) List(_ context.Context, userID uuid.UUID, limit int) ([]Notification, error) {
	m.lastLimit = limit
	var out []Notification
	for _, n := range m.rows {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memStore) MarkRead(_ context.Context, id, userID uuid.UUID) error {
	for i := range m.rows {
		if m.rows[i].ID == id && m.rows[i].UserID == userID {
			m.rows[i].IsRead = true
			return nil
		}
	}
	return ErrNotFound
}

func (m *memStore) CountUnread(_ context.Context, userID uuid.UUID) (int, error) {
	n := 0
	for _, row := range m.rows {
		if row.UserID == userID && !row.IsRead {
			n++
		}
	}
	return n, nil
}

type recorder struct{ events []pubsub.Event }

func (r *recorder) Publish(_ context.Context, e pubsub.Event) { r.events = append(r.events, e) }

func TestValidate(t *testing.T) {
	amount := 250.0
	recipient := uuid.New()

	tests := []struct {
		name  string
		n     Notification
		valid bool
	}{
		{"private message", Notification{UserID: recipient, Kind: KindPrivateMessage, Title: "New message"}, true},
		{"offer with amount", Notification{UserID: recipient, Kind: KindOffer, Title: "Offer", OfferAmount: &amount}, true},
		{"offer without amount", Notification{UserID: recipient, Kind: KindOffer, Title: "Offer"}, false},
		{"no recipient", Notification{Kind: KindApplication, Title: "Applied"}, false},
		{"unknown kind", Notification{UserID: recipient, Kind: "party", Title: "x"}, false},
		{"blank title", Notification{UserID: recipient, Kind: KindApplication, Title: " "}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.n.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalid)
			}
		})
	}
}

func TestService_CreatePublishes(t *testing.T) {
	store := &memStore{}
	bus := &recorder{}
	svc := NewService(store, bus)

	recipient := uuid.New()
	conv := "group_" + uuid.NewString()
	n := &Notification{UserID: recipient, Kind: KindPrivateMessage, Title: "New message", ConversationID: &conv}
	require.NoError(t, svc.Create(context.Background(), n))

	assert.NotEqual(t, uuid.Nil, n.ID)
	require.Len(t, store.rows, 1)
	require.Len(t, bus.events, 1)
	assert.Equal(t, pubsub.KindNotificationCreated, bus.events[0].Kind)
	assert.Equal(t, []string{recipient.String()}, bus.events[0].Recipients)
	assert.Equal(t, conv, bus.events[0].ConversationID)
}

func TestService_CreateRejectsInvalid(t *testing.T) {
	store := &memStore{}
	bus := &recorder{}
	svc := NewService(store, bus)

	err := svc.Create(context.Background(), &Notification{Kind: KindOffer})
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Empty(t, store.rows)
	assert.Empty(t, bus.events)
}

func TestService_ListClampsLimit(t *testing.T) {
	store := &memStore{}
	svc := NewService(store, &recorder{})

	_, err := svc.List(context.Background(), uuid.New(), 0)
	require.NoError(t, err)
	assert.Equal(t, defaultListLimit, store.lastLimit)

	_, err = svc.List(context.Background(), uuid.New(), 10_000)
	require.NoError(t, err)
	assert.Equal(t, maxListLimit, store.lastLimit)
}

func TestService_MarkReadAndCount(t *testing.T) {
	store := &memStore{}
	svc := NewService(store, &recorder{})
	recipient := uuid.New()

	n := &Notification{UserID: recipient, Kind: KindApplication, Title: "Applied"}
	require.NoError(t, svc.Create(context.Background(), n))

	count, err := svc.CountUnread(context.Background(), recipient)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, svc.MarkRead(context.Background(), n.ID, recipient))
	count, err = svc.CountUnread(context.Background(), recipient)
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.ErrorIs(t, svc.MarkRead(context.Background(), n.ID, uuid.New()), ErrNotFound)
}
