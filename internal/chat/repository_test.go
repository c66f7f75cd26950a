package chat

import (
	"context"
	"os"
	"testing"
	"time"

	"ga4u/internal/conversation"
	"ga4u/internal/db"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB connects to the Postgres named by TEST_DB_DSN and applies the
// schema. Tests use fresh ids, so nothing is truncated between runs.
func openTestDB(t *testing.T) *db.Database {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	database, err := db.NewDatabase(dsn, db.Options{MaxOpenConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.AutoMigrate(context.Background()))
	return database
}

// stores runs fn against the in-memory store and, when configured, the
// Postgres repository, so both keep the same semantics.
func stores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, newMemStore()) })
	t.Run("postgres", func(t *testing.T) { fn(t, NewRepository(openTestDB(t))) })
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

func newMessage(conv conversation.ID, sender uuid.UUID, text string, when time.Time) *Message {
	return &Message{
		ID:             uuid.New(),
		ConversationID: conv.String(),
		Kind:           conv.Kind(),
		SenderID:       sender,
		Text:           text,
		CreatedAt:      when,
		UpdatedAt:      when,
	}
}

func participation(t *testing.T, s Store, conv conversation.ID, userID uuid.UUID) Participant {
	t.Helper()
	parts, err := s.Participations(context.Background(), userID)
	require.NoError(t, err)
	var found []Participant
	for _, p := range parts {
		if p.ConversationID == conv.String() {
			found = append(found, p)
		}
	}
	require.Len(t, found, 1)
	return found[0]
}

func TestStore_JoinGroupIsIdempotent(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		conv := conversation.Group(uuid.New())
		member := uuid.New()

		require.NoError(t, s.JoinGroup(ctx, conv, member, at(1)))
		require.NoError(t, s.JoinGroup(ctx, conv, member, at(5)))

		p := participation(t, s, conv, member)
		assert.WithinDuration(t, at(1), p.JoinedAt, 0)
		assert.Equal(t, conversation.KindGroup, p.Kind)

		ids, err := s.ParticipantIDs(ctx, conv)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{member}, ids)

		ok, err := s.IsGroupMember(ctx, conv, member)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestStore_MarkReadNeverMovesBack(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		conv := conversation.Private(uuid.New(), uuid.New())
		reader := conv.TalentID()
		require.NoError(t, s.JoinPrivate(ctx, conv, at(0)))

		cursor, err := s.MarkRead(ctx, conv, reader, at(10))
		require.NoError(t, err)
		assert.WithinDuration(t, at(10), cursor, 0)

		cursor, err = s.MarkRead(ctx, conv, reader, at(3))
		require.NoError(t, err)
		assert.WithinDuration(t, at(10), cursor, 0)
		assert.WithinDuration(t, at(10), participation(t, s, conv, reader).LastReadAt, 0)
	})
}

func TestStore_UnreadCounts(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		tal, pro := uuid.New(), uuid.New()
		conv := conversation.Private(tal, pro)

		require.NoError(t, s.InsertPrivateMessage(ctx, conv, newMessage(conv, tal, "hi", at(1))))
		require.NoError(t, s.InsertPrivateMessage(ctx, conv, newMessage(conv, tal, "are you free", at(2))))
		require.NoError(t, s.InsertPrivateMessage(ctx, conv, newMessage(conv, pro, "yes", at(3))))

		counts, err := s.UnreadCounts(ctx, pro)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{conv.String(): 2}, counts)

		_, err = s.MarkRead(ctx, conv, pro, at(1))
		require.NoError(t, err)
		counts, err = s.UnreadCounts(ctx, pro)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[conv.String()])

		// joined conversations without unread messages report zero
		other := conversation.Group(uuid.New())
		require.NoError(t, s.JoinGroup(ctx, other, pro, at(0)))
		counts, err = s.UnreadCounts(ctx, pro)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{conv.String(): 1, other.String(): 0}, counts)
	})
}

func TestStore_OrderingBreaksTiesByID(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		conv := conversation.Private(uuid.New(), uuid.New())
		low := newMessage(conv, conv.TalentID(), "low", at(1))
		high := newMessage(conv, conv.TalentID(), "high", at(1))
		low.ID = uuid.MustParse("00000000-0000-4000-8000-000000000001")
		high.ID = uuid.MustParse("ffffffff-0000-4000-8000-000000000001")
		// insert out of order so only the tie-break decides
		require.NoError(t, s.InsertPrivateMessage(ctx, conv, high))
		require.NoError(t, s.InsertPrivateMessage(ctx, conv, low))

		msgs, err := s.ListMessages(ctx, conv)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, []uuid.UUID{low.ID, high.ID}, []uuid.UUID{msgs[0].ID, msgs[1].ID})

		last, err := s.LastMessages(ctx, []string{conv.String(), "group_missing"})
		require.NoError(t, err)
		require.Len(t, last, 1)
		assert.Equal(t, high.ID, last[conv.String()].ID)
	})
}

func TestRepository_GroupInsertIsAllOrNothing(t *testing.T) {
	database := openTestDB(t)
	repo := NewRepository(database)
	ctx := context.Background()

	private := conversation.Private(uuid.New(), uuid.New())
	taken := newMessage(private, private.TalentID(), "first", at(1))
	require.NoError(t, repo.InsertPrivateMessage(ctx, private, taken))

	// reusing the id passes the legacy insert and fails the unified one
	event := uuid.New()
	group := conversation.Group(event)
	clash := newMessage(group, uuid.New(), "second", at(2))
	clash.ID = taken.ID
	require.Error(t, repo.InsertGroupMessage(ctx, group, clash))

	var legacy, members int
	require.NoError(t, database.Conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE event_id = $1`, event).Scan(&legacy))
	require.NoError(t, database.Conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM message_participants WHERE event_id = $1`, event).Scan(&members))
	assert.Zero(t, legacy)
	assert.Zero(t, members)

	msgs, err := repo.ListMessages(ctx, group)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRepository_GroupInsertMirrorsLegacy(t *testing.T) {
	database := openTestDB(t)
	repo := NewRepository(database)
	ctx := context.Background()

	event := uuid.New()
	group := conversation.Group(event)
	m := newMessage(group, uuid.New(), "doors at 8", at(1))
	require.NoError(t, repo.InsertGroupMessage(ctx, group, m))

	var text string
	require.NoError(t, database.Conn.QueryRowContext(ctx,
		`SELECT message_text FROM messages WHERE id = $1 AND event_id = $2`, m.ID, event).Scan(&text))
	assert.Equal(t, "doors at 8", text)

	msgs, err := repo.ListMessages(ctx, group)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, m.ID, msgs[0].ID)
}

func TestRepository_ReconcileIsIdempotent(t *testing.T) {
	database := openTestDB(t)
	repo := NewRepository(database)
	ctx := context.Background()

	event, member := uuid.New(), uuid.New()
	group := conversation.Group(event)
	_, err := database.Conn.ExecContext(ctx,
		`INSERT INTO message_participants (event_id, user_id, joined_at) VALUES ($1, $2, $3)`, event, member, at(0))
	require.NoError(t, err)
	for i := 1; i <= 2; i++ {
		_, err := database.Conn.ExecContext(ctx,
			`INSERT INTO messages (id, event_id, sender_id, message_text, created_at) VALUES ($1, $2, $3, 'legacy', $4)`,
			uuid.New(), event, member, at(i))
		require.NoError(t, err)
	}

	n, err := repo.ReconcileGroup(ctx, group)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = repo.ReconcileGroup(ctx, group)
	require.NoError(t, err)
	assert.Zero(t, n)
	participation(t, repo, group, member)

	tal, pro := uuid.New(), uuid.New()
	private := conversation.Private(tal, pro)
	_, err = database.Conn.ExecContext(ctx,
		`INSERT INTO private_chat_participants (talent_id, promoter_id, user_id) VALUES ($1, $2, $1), ($1, $2, $2)`, tal, pro)
	require.NoError(t, err)
	_, err = database.Conn.ExecContext(ctx,
		`INSERT INTO private_chat_messages (id, talent_id, promoter_id, sender_id, message_text, created_at)
		 VALUES ($1, $2, $3, $2, 'old hello', $4)`, uuid.New(), tal, pro, at(1))
	require.NoError(t, err)

	n, err = repo.ReconcilePrivate(ctx, private)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = repo.ReconcilePrivate(ctx, private)
	require.NoError(t, err)
	assert.Zero(t, n)

	counts, err := repo.UnreadCounts(ctx, pro)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[private.String()])
}
