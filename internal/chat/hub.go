package chat

import (
	"context"
	"encoding/json"
	"time"

	"ga4u/internal/metrics"
	"ga4u/internal/pubsub"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// EventsChannel carries bus events between server instances.
const EventsChannel = "ga4u:events"

const publishTimeout = 2 * time.Second

type BadgeCounter interface {
	Badge(ctx context.Context, userID uuid.UUID, route string) (int, error)
}

// Hub tracks the websocket clients connected to this instance and forwards
// bus events to the clients of the users they name.
type Hub struct {
	clients    map[uuid.UUID]map[*Client]bool
	online     int
	broadcast  chan []byte  // Redis -> clients
	Register   chan *Client // new socket
	Unregister chan *Client // socket gone
	done       chan struct{}
	redis      *redis.Client
	badges     BadgeCounter
	log        zerolog.Logger
}

// NewHub builds a hub. With a nil redis client events are delivered to local
// clients only.
func NewHub(redisClient *redis.Client, badges BadgeCounter, log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
		redis:      redisClient,
		badges:     badges,
		log:        log.With().Str("component", "hub").Logger(),
	}
}

type eventFrame struct {
	Type           string      `json:"type"`
	Kind           pubsub.Kind `json:"kind"`
	ConversationID string      `json:"conversation_id,omitempty"`
}

type badgeFrame struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.Send)
				}
			}
			h.clients = map[uuid.UUID]map[*Client]bool{}
			h.online = 0
			metrics.SetOnlineClients(0)
			return

		case c := <-h.Register:
			set, ok := h.clients[c.UserID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[c.UserID] = set
			}
			set[c] = true
			h.online++
			metrics.SetOnlineClients(h.online)
			c.requestBadge()

		case c := <-h.Unregister:
			h.remove(c)

		case payload := <-h.broadcast:
			h.dispatch(payload)
		}
	}
}

func (h *Hub) remove(c *Client) {
	set, ok := h.clients[c.UserID]
	if !ok || !set[c] {
		return
	}
	delete(set, c)
	close(c.Send)
	h.online--
	metrics.SetOnlineClients(h.online)
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
}

func (h *Hub) dispatch(payload []byte) {
	var e pubsub.Event
	if err := json.Unmarshal(payload, &e); err != nil {
		h.log.Warn().Err(err).Msg("dropping undecodable event")
		return
	}
	frame, _ := json.Marshal(eventFrame{Type: "event", Kind: e.Kind, ConversationID: e.ConversationID})

	for _, rid := range e.Recipients {
		userID, err := uuid.Parse(rid)
		if err != nil {
			continue
		}
		for c := range h.clients[userID] {
			select {
			case c.Send <- frame:
				c.requestBadge()
			default:
				// slow consumer
				h.remove(c)
			}
		}
	}
}

// OnEvent is the bus subscriber. It runs on the publisher's goroutine, so it
// must not block on the request context.
func (h *Hub) OnEvent(ctx context.Context, e pubsub.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		h.log.Error().Err(err).Msg("encode event")
		return
	}

	if h.redis == nil {
		select {
		case h.broadcast <- payload:
		default:
			h.log.Warn().Str("kind", string(e.Kind)).Msg("broadcast queue full, event dropped")
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := h.redis.Publish(ctx, EventsChannel, payload).Err(); err != nil {
		h.log.Error().Err(err).Str("kind", string(e.Kind)).Msg("redis publish failed")
	}
}

// SubscribeToRedis feeds events published by every instance into the hub
// until ctx is done.
func (h *Hub) SubscribeToRedis(ctx context.Context) error {
	sub := h.redis.Subscribe(ctx, EventsChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			select {
			case h.broadcast <- []byte(msg.Payload):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (h *Hub) badgeFrame(ctx context.Context, c *Client) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	n, err := h.badges.Badge(ctx, c.UserID, c.Route())
	if err != nil {
		return nil, err
	}
	return json.Marshal(badgeFrame{Type: "badge", Count: n})
}
