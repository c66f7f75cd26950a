package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"ga4u/internal/conversation"
	"ga4u/internal/notification"
	"ga4u/internal/pubsub"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type legacyMessage struct {
	ID       uuid.UUID
	EventID  uuid.UUID
	SenderID uuid.UUID
	Text     string
	At       time.Time
}

// memStore mirrors the SQL Repository over maps.
type memStore struct {
	mu           sync.Mutex
	participants map[string]map[uuid.UUID]Participant
	messages     []Message
	legacyGroup  map[uuid.UUID]map[uuid.UUID]time.Time // event -> user -> joined
	legacyMsgs   []legacyMessage
	failUnified  error
}

func newMemStore() *memStore {
	return &memStore{
		participants: map[string]map[uuid.UUID]Participant{},
		legacyGroup:  map[uuid.UUID]map[uuid.UUID]time.Time{},
	}
}

var _ Store = (*memStore)(nil)

func (s *memStore) upsert(conv conversation.ID, userID uuid.UUID, at time.Time) {
	set, ok := s.participants[conv.String()]
	if !ok {
		set = map[uuid.UUID]Participant{}
		s.participants[conv.String()] = set
	}
	if _, ok := set[userID]; !ok {
		set[userID] = Participant{ConversationID: conv.String(), Kind: conv.Kind(), UserID: userID, JoinedAt: at, LastReadAt: epoch}
	}
}

func (s *memStore) upsertLegacy(eventID, userID uuid.UUID, at time.Time) {
	set, ok := s.legacyGroup[eventID]
	if !ok {
		set = map[uuid.UUID]time.Time{}
		s.legacyGroup[eventID] = set
	}
	if _, ok := set[userID]; !ok {
		set[userID] = at
	}
}

func (s *memStore) JoinPrivate(_ context.Context, conv conversation.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range conv.Participants() {
		s.upsert(conv, id, at)
	}
	return nil
}

func (s *memStore) JoinGroup(_ context.Context, conv conversation.ID, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLegacy(conv.EventID(), userID, at)
	s.upsert(conv, userID, at)
	return nil
}

func (s *memStore) IsGroupMember(_ context.Context, conv conversation.ID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, unified := s.participants[conv.String()][userID]
	_, legacy := s.legacyGroup[conv.EventID()][userID]
	return unified || legacy, nil
}

func (s *memStore) InsertPrivateMessage(_ context.Context, conv conversation.ID, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUnified != nil {
		return s.failUnified
	}
	for _, id := range conv.Participants() {
		s.upsert(conv, id, m.CreatedAt)
	}
	s.messages = append(s.messages, *m)
	return nil
}

// InsertGroupMessage is all-or-nothing like the transactional repository.
func (s *memStore) InsertGroupMessage(_ context.Context, conv conversation.ID, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUnified != nil {
		return s.failUnified
	}
	s.legacyMsgs = append(s.legacyMsgs, legacyMessage{ID: m.ID, EventID: conv.EventID(), SenderID: m.SenderID, Text: m.Text, At: m.CreatedAt})
	s.upsertLegacy(conv.EventID(), m.SenderID, m.CreatedAt)
	s.upsert(conv, m.SenderID, m.CreatedAt)
	s.messages = append(s.messages, *m)
	return nil
}

func (s *memStore) MarkRead(_ context.Context, conv conversation.ID, userID uuid.UUID, at time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsert(conv, userID, at)
	p := s.participants[conv.String()][userID]
	if at.After(p.LastReadAt) {
		p.LastReadAt = at
	}
	s.participants[conv.String()][userID] = p
	return p.LastReadAt, nil
}

func (s *memStore) ListMessages(_ context.Context, conv conversation.ID) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.messages {
		if m.ConversationID == conv.String() {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return messageBefore(out[i], out[j]) })
	return out, nil
}

func (s *memStore) ParticipantIDs(_ context.Context, conv conversation.ID) ([]uuid.UUID, error) {
	if conv.Kind() == conversation.KindPrivate {
		return conv.Participants(), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	for id := range s.participants[conv.String()] {
		seen[id] = true
		out = append(out, id)
	}
	for id := range s.legacyGroup[conv.EventID()] {
		if !seen[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *memStore) Participations(_ context.Context, userID uuid.UUID) ([]Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Participant
	for _, set := range s.participants {
		if p, ok := set[userID]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memStore) UnreadCounts(_ context.Context, userID uuid.UUID) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int{}
	for convID, set := range s.participants {
		p, ok := set[userID]
		if !ok {
			continue
		}
		out[convID] = 0
		for _, m := range s.messages {
			if m.ConversationID == convID && m.SenderID != userID && m.CreatedAt.After(p.LastReadAt) {
				out[convID]++
			}
		}
	}
	return out, nil
}

func (s *memStore) LastMessages(_ context.Context, ids []string) (map[string]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	out := map[string]Message{}
	for _, m := range s.messages {
		if !want[m.ConversationID] {
			continue
		}
		if cur, ok := out[m.ConversationID]; !ok || messageBefore(cur, m) {
			out[m.ConversationID] = m
		}
	}
	return out, nil
}

// messageBefore orders like the SQL: created_at, then id. Postgres compares
// uuids bytewise, which matches comparing their canonical strings.
func messageBefore(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func (s *memStore) ReconcileGroup(_ context.Context, conv conversation.ID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, at := range s.legacyGroup[conv.EventID()] {
		s.upsert(conv, userID, at)
	}
	known := map[uuid.UUID]bool{}
	for _, m := range s.messages {
		known[m.ID] = true
	}
	copied := 0
	for _, lm := range s.legacyMsgs {
		if lm.EventID != conv.EventID() || known[lm.ID] {
			continue
		}
		s.messages = append(s.messages, Message{
			ID: lm.ID, ConversationID: conv.String(), Kind: conversation.KindGroup,
			SenderID: lm.SenderID, Text: lm.Text, CreatedAt: lm.At, UpdatedAt: lm.At,
		})
		copied++
	}
	return copied, nil
}

func (s *memStore) ReconcilePrivate(context.Context, conversation.ID) (int, error) {
	return 0, nil
}

func (s *memStore) unifiedCount(conv conversation.ID, userID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	if _, ok := s.participants[conv.String()][userID]; ok {
		n++
	}
	return n
}

type fakeProfiles map[uuid.UUID]string

func (f fakeProfiles) DisplayNames(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string, len(ids))
	for _, id := range ids {
		if n, ok := f[id]; ok {
			out[id] = n
		} else {
			out[id] = "Unknown"
		}
	}
	return out, nil
}

type fakeEvents struct {
	titles  map[uuid.UUID]string
	trashed map[uuid.UUID]bool
}

func (f *fakeEvents) Titles(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	out := map[uuid.UUID]string{}
	for _, id := range ids {
		out[id] = f.titles[id]
	}
	return out, nil
}

func (f *fakeEvents) Trashed(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := map[uuid.UUID]bool{}
	for _, id := range ids {
		if f.trashed[id] {
			out[id] = true
		}
	}
	return out, nil
}

type fakeNotifier struct {
	created []*notification.Notification
	err     error
}

func (f *fakeNotifier) Create(_ context.Context, n *notification.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, n)
	return nil
}

type fakeQueue struct {
	enqueued []conversation.ID
}

func (f *fakeQueue) EnqueueReconcile(_ context.Context, conv conversation.ID) error {
	f.enqueued = append(f.enqueued, conv)
	return nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []pubsub.Event
}

func (b *recordingBus) Publish(_ context.Context, e pubsub.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) kinds() []pubsub.Kind {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]pubsub.Kind, len(b.events))
	for i, e := range b.events {
		out[i] = e.Kind
	}
	return out
}

var errBoom = errors.New("boom")

type fixture struct {
	svc      *Service
	store    *memStore
	profiles fakeProfiles
	events   *fakeEvents
	notifier *fakeNotifier
	queue    *fakeQueue
	bus      *recordingBus
	clock    time.Time
}

// newFixture builds a service whose clock moves one second per call.
func newFixture() *fixture {
	f := &fixture{
		store:    newMemStore(),
		profiles: fakeProfiles{},
		events:   &fakeEvents{titles: map[uuid.UUID]string{}, trashed: map[uuid.UUID]bool{}},
		notifier: &fakeNotifier{},
		queue:    &fakeQueue{},
		bus:      &recordingBus{},
		clock:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(Deps{
		Store:    f.store,
		Profiles: f.profiles,
		Events:   f.events,
		Notifier: f.notifier,
		Queue:    f.queue,
		Bus:      f.bus,
		Log:      zerolog.Nop(),
	})
	f.svc.now = func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	return f
}
