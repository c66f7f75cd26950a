// Package pubsub is the in-process change feed for messaging state. Anything
// that changes what a user's badge should show publishes here.
package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Kind string

const (
	KindMessageSent         Kind = "message.sent"
	KindMessageRead         Kind = "message.read"
	KindNotificationCreated Kind = "notification.created"
)

// Event names the users whose view of a conversation changed.
type Event struct {
	Kind           Kind      `json:"kind"`
	ConversationID string    `json:"conversation_id,omitempty"`
	ActorID        string    `json:"actor_id,omitempty"`
	Recipients     []string  `json:"recipients"`
	At             time.Time `json:"at"`
}

type Handler func(ctx context.Context, e Event)

// Publisher is what producers depend on.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

type subscription struct {
	id uint64
	fn Handler
}

type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Kind][]subscription
	log    zerolog.Logger
}

func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[Kind][]subscription),
		log:  log.With().Str("component", "pubsub").Logger(),
	}
}

// Subscribe registers fn for each of kinds and returns a func that removes it.
func (b *Bus) Subscribe(fn Handler, kinds ...Kind) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	for _, k := range kinds {
		b.subs[k] = append(b.subs[k], subscription{id: id, fn: fn})
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, k := range kinds {
				list := b.subs[k]
				for i, s := range list {
					if s.id == id {
						b.subs[k] = append(list[:i:i], list[i+1:]...)
						break
					}
				}
			}
		})
	}
}

// Publish delivers e synchronously, in subscription order. Events with no
// recipients are dropped.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if len(e.Recipients) == 0 {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.RLock()
	list := append([]subscription(nil), b.subs[e.Kind]...)
	b.mu.RUnlock()

	for _, s := range list {
		b.deliver(ctx, s.fn, e)
	}
}

func (b *Bus) deliver(ctx context.Context, fn Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("kind", string(e.Kind)).Msg("subscriber panicked")
		}
	}()
	fn(ctx, e)
}
