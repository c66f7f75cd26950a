package chat

import (
	"context"
	"fmt"
	"time"

	"ga4u/internal/conversation"
	"ga4u/internal/db"

	"github.com/google/uuid"
)

// Repository reads and writes the unified messaging tables and the legacy
// group/private chat tables they replace.
type Repository struct {
	db *db.Database
}

func NewRepository(database *db.Database) *Repository {
	return &Repository{db: database}
}

var _ Store = (*Repository)(nil)

const upsertParticipantSQL = `
	INSERT INTO unified_participants (conversation_id, user_id, conversation_type, joined_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (conversation_id, user_id) DO NOTHING`

const upsertLegacyGroupParticipantSQL = `
	INSERT INTO message_participants (event_id, user_id, joined_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (event_id, user_id) DO NOTHING`

const insertUnifiedMessageSQL = `
	INSERT INTO unified_messages (id, conversation_id, conversation_type, sender_id, message_text, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

func (r *Repository) JoinPrivate(ctx context.Context, conv conversation.ID, at time.Time) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		return r.upsertPrivateParticipants(ctx, conv, at)
	})
}

func (r *Repository) upsertPrivateParticipants(ctx context.Context, conv conversation.ID, at time.Time) error {
	q := r.db.Q(ctx)
	for _, userID := range conv.Participants() {
		if _, err := q.ExecContext(ctx, upsertParticipantSQL, conv.String(), userID, conversation.KindPrivate, at); err != nil {
			return fmt.Errorf("upsert participant: %w", err)
		}
	}
	return nil
}

func (r *Repository) JoinGroup(ctx context.Context, conv conversation.ID, userID uuid.UUID, at time.Time) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		return r.upsertGroupParticipant(ctx, conv, userID, at)
	})
}

func (r *Repository) upsertGroupParticipant(ctx context.Context, conv conversation.ID, userID uuid.UUID, at time.Time) error {
	q := r.db.Q(ctx)
	if _, err := q.ExecContext(ctx, upsertLegacyGroupParticipantSQL, conv.EventID(), userID, at); err != nil {
		return fmt.Errorf("upsert legacy participant: %w", err)
	}
	if _, err := q.ExecContext(ctx, upsertParticipantSQL, conv.String(), userID, conversation.KindGroup, at); err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

// IsGroupMember checks both participant tables; either one is enough.
func (r *Repository) IsGroupMember(ctx context.Context, conv conversation.ID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := r.db.Q(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM unified_participants WHERE conversation_id = $1 AND user_id = $3)
		    OR EXISTS (SELECT 1 FROM message_participants WHERE event_id = $2 AND user_id = $3)`,
		conv.String(), conv.EventID(), userID).Scan(&ok)
	return ok, err
}

func (r *Repository) InsertPrivateMessage(ctx context.Context, conv conversation.ID, m *Message) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		if err := r.upsertPrivateParticipants(ctx, conv, m.CreatedAt); err != nil {
			return err
		}
		return r.insertUnified(ctx, m)
	})
}

// InsertGroupMessage writes the legacy row and its unified mirror with the
// same id in one transaction.
func (r *Repository) InsertGroupMessage(ctx context.Context, conv conversation.ID, m *Message) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		if _, err := r.db.Q(ctx).ExecContext(ctx, `
			INSERT INTO messages (id, event_id, sender_id, message_text, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			m.ID, conv.EventID(), m.SenderID, m.Text, m.CreatedAt); err != nil {
			return fmt.Errorf("insert legacy message: %w", err)
		}
		if err := r.upsertGroupParticipant(ctx, conv, m.SenderID, m.CreatedAt); err != nil {
			return err
		}
		return r.insertUnified(ctx, m)
	})
}

func (r *Repository) insertUnified(ctx context.Context, m *Message) error {
	if _, err := r.db.Q(ctx).ExecContext(ctx, insertUnifiedMessageSQL,
		m.ID, m.ConversationID, m.Kind, m.SenderID, m.Text, m.CreatedAt, m.UpdatedAt); err != nil {
		return fmt.Errorf("insert unified message: %w", err)
	}
	return nil
}

// MarkRead advances the read cursor to at unless it is already later, and
// returns the stored cursor.
func (r *Repository) MarkRead(ctx context.Context, conv conversation.ID, userID uuid.UUID, at time.Time) (time.Time, error) {
	var cursor time.Time
	err := r.db.Q(ctx).QueryRowContext(ctx, `
		INSERT INTO unified_participants (conversation_id, user_id, conversation_type, joined_at, last_read_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (conversation_id, user_id)
		DO UPDATE SET last_read_at = GREATEST(unified_participants.last_read_at, EXCLUDED.last_read_at)
		RETURNING last_read_at`,
		conv.String(), userID, conv.Kind(), at).Scan(&cursor)
	return cursor, err
}

func (r *Repository) ListMessages(ctx context.Context, conv conversation.ID) ([]Message, error) {
	rows, err := r.db.Q(ctx).QueryContext(ctx, `
		SELECT id, conversation_id, conversation_type, sender_id, message_text, created_at, updated_at
		FROM unified_messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC`, conv.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Kind, &m.SenderID, &m.Text, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ParticipantIDs lists members of a conversation, including legacy-only
// members of group chats.
func (r *Repository) ParticipantIDs(ctx context.Context, conv conversation.ID) ([]uuid.UUID, error) {
	if conv.Kind() == conversation.KindPrivate {
		return conv.Participants(), nil
	}
	rows, err := r.db.Q(ctx).QueryContext(ctx, `
		SELECT user_id FROM unified_participants WHERE conversation_id = $1
		UNION
		SELECT user_id FROM message_participants WHERE event_id = $2`,
		conv.String(), conv.EventID())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) Participations(ctx context.Context, userID uuid.UUID) ([]Participant, error) {
	rows, err := r.db.Q(ctx).QueryContext(ctx, `
		SELECT conversation_id, conversation_type, user_id, joined_at, last_read_at
		FROM unified_participants
		WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ConversationID, &p.Kind, &p.UserID, &p.JoinedAt, &p.LastReadAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UnreadCounts counts, per conversation of userID, messages newer than the
// read cursor that someone else sent.
func (r *Repository) UnreadCounts(ctx context.Context, userID uuid.UUID) (map[string]int, error) {
	rows, err := r.db.Q(ctx).QueryContext(ctx, `
		SELECT p.conversation_id, COUNT(m.id)
		FROM unified_participants p
		LEFT JOIN unified_messages m
		       ON m.conversation_id = p.conversation_id
		      AND m.created_at > p.last_read_at
		      AND m.sender_id <> p.user_id
		WHERE p.user_id = $1
		GROUP BY p.conversation_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

func (r *Repository) LastMessages(ctx context.Context, conversationIDs []string) (map[string]Message, error) {
	out := make(map[string]Message, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.Q(ctx).QueryContext(ctx, `
		SELECT DISTINCT ON (conversation_id)
		       id, conversation_id, conversation_type, sender_id, message_text, created_at, updated_at
		FROM unified_messages
		WHERE conversation_id = ANY($1::text[])
		ORDER BY conversation_id, created_at DESC, id DESC`, conversationIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Kind, &m.SenderID, &m.Text, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out[m.ConversationID] = m
	}
	return out, rows.Err()
}

// ReconcileGroup copies legacy group participants and messages missing from
// the unified tables. It returns the number of messages copied.
func (r *Repository) ReconcileGroup(ctx context.Context, conv conversation.ID) (int, error) {
	var copied int64
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		q := r.db.Q(ctx)
		if _, err := q.ExecContext(ctx, `
			INSERT INTO unified_participants (conversation_id, user_id, conversation_type, joined_at)
			SELECT $1, user_id, 'group', joined_at FROM message_participants WHERE event_id = $2
			ON CONFLICT (conversation_id, user_id) DO NOTHING`,
			conv.String(), conv.EventID()); err != nil {
			return fmt.Errorf("reconcile participants: %w", err)
		}
		res, err := q.ExecContext(ctx, `
			INSERT INTO unified_messages (id, conversation_id, conversation_type, sender_id, message_text, created_at, updated_at)
			SELECT id, $1, 'group', sender_id, message_text, created_at, created_at FROM messages WHERE event_id = $2
			ON CONFLICT (id) DO NOTHING`,
			conv.String(), conv.EventID())
		if err != nil {
			return fmt.Errorf("reconcile messages: %w", err)
		}
		copied, err = res.RowsAffected()
		return err
	})
	return int(copied), err
}

// ReconcilePrivate is ReconcileGroup for the legacy private chat tables.
func (r *Repository) ReconcilePrivate(ctx context.Context, conv conversation.ID) (int, error) {
	var copied int64
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		q := r.db.Q(ctx)
		if _, err := q.ExecContext(ctx, `
			INSERT INTO unified_participants (conversation_id, user_id, conversation_type, joined_at)
			SELECT $1, user_id, 'private', joined_at FROM private_chat_participants
			WHERE talent_id = $2 AND promoter_id = $3
			ON CONFLICT (conversation_id, user_id) DO NOTHING`,
			conv.String(), conv.TalentID(), conv.PromoterID()); err != nil {
			return fmt.Errorf("reconcile participants: %w", err)
		}
		res, err := q.ExecContext(ctx, `
			INSERT INTO unified_messages (id, conversation_id, conversation_type, sender_id, message_text, created_at, updated_at)
			SELECT id, $1, 'private', sender_id, message_text, created_at, created_at FROM private_chat_messages
			WHERE talent_id = $2 AND promoter_id = $3
			ON CONFLICT (id) DO NOTHING`,
			conv.String(), conv.TalentID(), conv.PromoterID())
		if err != nil {
			return fmt.Errorf("reconcile messages: %w", err)
		}
		copied, err = res.RowsAffected()
		return err
	})
	return int(copied), err
}
