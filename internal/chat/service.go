package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"ga4u/internal/conversation"
	"ga4u/internal/notification"
	"ga4u/internal/pubsub"
	"ga4u/internal/user"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store is the persistence behind the messaging core. Every method that
// writes more than one row does so atomically.
type Store interface {
	JoinPrivate(ctx context.Context, conv conversation.ID, at time.Time) error
	JoinGroup(ctx context.Context, conv conversation.ID, userID uuid.UUID, at time.Time) error
	IsGroupMember(ctx context.Context, conv conversation.ID, userID uuid.UUID) (bool, error)
	InsertPrivateMessage(ctx context.Context, conv conversation.ID, m *Message) error
	InsertGroupMessage(ctx context.Context, conv conversation.ID, m *Message) error
	MarkRead(ctx context.Context, conv conversation.ID, userID uuid.UUID, at time.Time) (time.Time, error)
	ListMessages(ctx context.Context, conv conversation.ID) ([]Message, error)
	ParticipantIDs(ctx context.Context, conv conversation.ID) ([]uuid.UUID, error)
	Participations(ctx context.Context, userID uuid.UUID) ([]Participant, error)
	UnreadCounts(ctx context.Context, userID uuid.UUID) (map[string]int, error)
	LastMessages(ctx context.Context, conversationIDs []string) (map[string]Message, error)
	ReconcileGroup(ctx context.Context, conv conversation.ID) (int, error)
	ReconcilePrivate(ctx context.Context, conv conversation.ID) (int, error)
}

type ProfileLookup interface {
	DisplayNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
}

type EventLookup interface {
	Titles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
	Trashed(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error)
}

type Notifier interface {
	Create(ctx context.Context, n *notification.Notification) error
}

// Enqueuer schedules a legacy-to-unified reconciliation of a conversation.
type Enqueuer interface {
	EnqueueReconcile(ctx context.Context, conv conversation.ID) error
}

type Service struct {
	store    Store
	profiles ProfileLookup
	events   EventLookup
	notifier Notifier
	queue    Enqueuer
	bus      pubsub.Publisher
	log      zerolog.Logger
	now      func() time.Time
}

type Deps struct {
	Store    Store
	Profiles ProfileLookup
	Events   EventLookup
	Notifier Notifier
	Queue    Enqueuer
	Bus      pubsub.Publisher
	Log      zerolog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		store:    d.Store,
		profiles: d.Profiles,
		events:   d.Events,
		notifier: d.Notifier,
		queue:    d.Queue,
		bus:      d.Bus,
		log:      d.Log.With().Str("component", "chat").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// timestamps are stored at microsecond precision
func (s *Service) clock() time.Time {
	return s.now().Truncate(time.Microsecond)
}

// IsMember: private parties are encoded in the id; group members are in
// either participant table.
func (s *Service) IsMember(ctx context.Context, conv conversation.ID, userID uuid.UUID) (bool, error) {
	switch conv.Kind() {
	case conversation.KindPrivate:
		// a talent cannot message themselves as a promoter
		return conv.TalentID() != conv.PromoterID() && conv.Has(userID), nil
	case conversation.KindGroup:
		ok, err := s.store.IsGroupMember(ctx, conv, userID)
		if err != nil {
			return false, fmt.Errorf("check membership: %w", err)
		}
		return ok, nil
	default:
		return false, conversation.ErrMalformedID
	}
}

func (s *Service) requireMember(ctx context.Context, conv conversation.ID, userID uuid.UUID) error {
	ok, err := s.IsMember(ctx, conv, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}

// OpenPrivate ensures both parties are registered in the private
// conversation between talent and promoter. requester must be one of them.
func (s *Service) OpenPrivate(ctx context.Context, talentID, promoterID, requester uuid.UUID) (conversation.ID, error) {
	conv := conversation.Private(talentID, promoterID)
	if talentID == promoterID || !conv.Has(requester) {
		return conversation.ID{}, ErrNotParticipant
	}
	if err := s.store.JoinPrivate(ctx, conv, s.clock()); err != nil {
		return conversation.ID{}, fmt.Errorf("join private: %w", err)
	}
	s.scheduleReconcile(ctx, conv)
	return conv, nil
}

// Join registers userID in conv. Joining twice is a no-op.
func (s *Service) Join(ctx context.Context, conv conversation.ID, userID uuid.UUID) error {
	switch conv.Kind() {
	case conversation.KindPrivate:
		if !conv.Has(userID) {
			return ErrNotParticipant
		}
		if err := s.store.JoinPrivate(ctx, conv, s.clock()); err != nil {
			return fmt.Errorf("join private: %w", err)
		}
	case conversation.KindGroup:
		if err := s.store.JoinGroup(ctx, conv, userID, s.clock()); err != nil {
			return fmt.Errorf("join group: %w", err)
		}
	default:
		return conversation.ErrMalformedID
	}
	s.scheduleReconcile(ctx, conv)
	return nil
}

func (s *Service) scheduleReconcile(ctx context.Context, conv conversation.ID) {
	if s.queue == nil {
		return
	}
	if err := s.queue.EnqueueReconcile(ctx, conv); err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conv.String()).Msg("could not schedule reconcile")
	}
}

// MarkRead moves userID's read cursor in conv to now. The cursor never moves
// backwards.
func (s *Service) MarkRead(ctx context.Context, conv conversation.ID, userID uuid.UUID) (time.Time, error) {
	if err := s.requireMember(ctx, conv, userID); err != nil {
		return time.Time{}, err
	}
	cursor, err := s.store.MarkRead(ctx, conv, userID, s.clock())
	if err != nil {
		return time.Time{}, fmt.Errorf("mark read: %w", err)
	}

	s.bus.Publish(ctx, pubsub.Event{
		Kind:           pubsub.KindMessageRead,
		ConversationID: conv.String(),
		ActorID:        userID.String(),
		Recipients:     []string{userID.String()},
	})
	return cursor, nil
}

func normalizeText(text string) (string, error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return "", ErrEmptyMessage
	case utf8.RuneCountInString(text) > MaxMessageLength:
		return "", ErrMessageTooLong
	}
	return text, nil
}

// Send appends a message to conv. Group messages are written to the legacy
// table and the unified table together. Private messages also notify the
// other party.
func (s *Service) Send(ctx context.Context, conv conversation.ID, senderID uuid.UUID, text string) (*MessageView, error) {
	text, err := normalizeText(text)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, conv, senderID); err != nil {
		return nil, err
	}

	now := s.clock()
	m := &Message{
		ID:             uuid.New(),
		ConversationID: conv.String(),
		Kind:           conv.Kind(),
		SenderID:       senderID,
		Text:           text,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	switch conv.Kind() {
	case conversation.KindPrivate:
		err = s.store.InsertPrivateMessage(ctx, conv, m)
	case conversation.KindGroup:
		err = s.store.InsertGroupMessage(ctx, conv, m)
	}
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	// the message is stored; from here on failures only degrade the reply
	senderName := user.UnknownName
	if names, err := s.profiles.DisplayNames(ctx, []uuid.UUID{senderID}); err != nil {
		s.log.Warn().Err(err).Str("sender_id", senderID.String()).Msg("resolve sender name failed")
	} else if name, ok := names[senderID]; ok {
		senderName = name
	}
	view := &MessageView{Message: *m, SenderName: senderName, IsOwn: true}

	if conv.Kind() == conversation.KindPrivate {
		s.notifyRecipient(ctx, conv, view)
	}
	s.publishSent(ctx, conv, m)

	return view, nil
}

func (s *Service) notifyRecipient(ctx context.Context, conv conversation.ID, m *MessageView) {
	recipient, ok := conv.Other(m.SenderID)
	if !ok {
		return
	}
	convID := conv.String()
	n := &notification.Notification{
		UserID:         recipient,
		Kind:           notification.KindPrivateMessage,
		Title:          "New message from " + m.SenderName,
		Message:        preview(m.Text, 120),
		ConversationID: &convID,
	}
	if conv.PromoterID() == m.SenderID {
		promoter := m.SenderID
		n.PromoterID = &promoter
	}
	if err := s.notifier.Create(ctx, n); err != nil {
		s.log.Error().Err(err).Str("conversation_id", convID).Msg("private message notification failed")
	}
}

func (s *Service) publishSent(ctx context.Context, conv conversation.ID, m *Message) {
	ids, err := s.store.ParticipantIDs(ctx, conv)
	if err != nil {
		s.log.Error().Err(err).Str("conversation_id", conv.String()).Msg("could not load participants for fan-out")
		return
	}
	recipients := make([]string, 0, len(ids))
	for _, id := range ids {
		recipients = append(recipients, id.String())
	}
	s.bus.Publish(ctx, pubsub.Event{
		Kind:           pubsub.KindMessageSent,
		ConversationID: conv.String(),
		ActorID:        m.SenderID.String(),
		Recipients:     recipients,
		At:             m.CreatedAt,
	})
}

// List returns the whole history of conv, oldest first, as seen by viewerID.
func (s *Service) List(ctx context.Context, conv conversation.ID, viewerID uuid.UUID) ([]MessageView, error) {
	if err := s.requireMember(ctx, conv, viewerID); err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessages(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	senders := make([]uuid.UUID, 0, len(msgs))
	for _, m := range msgs {
		if m.SenderID != viewerID {
			senders = append(senders, m.SenderID)
		}
	}
	names, err := s.profiles.DisplayNames(ctx, senders)
	if err != nil {
		return nil, fmt.Errorf("resolve senders: %w", err)
	}

	views := make([]MessageView, len(msgs))
	for i, m := range msgs {
		v := MessageView{Message: m}
		if m.SenderID == viewerID {
			v.SenderName = SelfName
			v.IsOwn = true
		} else {
			v.SenderName = names[m.SenderID]
		}
		views[i] = v
	}
	return views, nil
}

// Reconcile copies legacy rows of conv into the unified tables.
func (s *Service) Reconcile(ctx context.Context, conv conversation.ID) (int, error) {
	var (
		n   int
		err error
	)
	switch conv.Kind() {
	case conversation.KindGroup:
		n, err = s.store.ReconcileGroup(ctx, conv)
	case conversation.KindPrivate:
		n, err = s.store.ReconcilePrivate(ctx, conv)
	default:
		return 0, conversation.ErrMalformedID
	}
	if err != nil {
		return 0, fmt.Errorf("reconcile %s: %w", conv, err)
	}
	if n > 0 {
		s.log.Info().Str("conversation_id", conv.String()).Int("copied", n).Msg("reconciled legacy messages")
	}
	return n, nil
}

func preview(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	r := []rune(text)
	return string(r[:max-1]) + "…"
}
