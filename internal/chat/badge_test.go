package chat

import (
	"context"
	"testing"

	"ga4u/internal/conversation"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnreadCount_ExcludesOwnMessages(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	conv := conversation.Private(talent, promoter)

	senders := []uuid.UUID{talent, promoter, talent, talent, promoter}
	for _, s := range senders {
		_, err := f.svc.Send(ctx, conv, s, "msg")
		require.NoError(t, err)
	}

	counts, err := f.store.UnreadCounts(ctx, promoter)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[conv.String()])

	counts, err = f.store.UnreadCounts(ctx, talent)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[conv.String()])
}

func TestBadge(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	private := conversation.Private(talent, promoter)
	group := conversation.Group(uuid.New())
	other := uuid.New()

	require.NoError(t, f.svc.Join(ctx, group, promoter))
	require.NoError(t, f.svc.Join(ctx, group, other))
	_, err := f.svc.Send(ctx, private, talent, "hello")
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, group, other, "welcome")
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, group, other, "doors at 8")
	require.NoError(t, err)

	tests := []struct {
		name  string
		route string
		want  int
	}{
		{"dashboard", "/dashboard", 3},
		{"empty route", "", 3},
		{"messages page", "/messages", 0},
		{"nested messages page", "/promoter/messages/private_abc", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := f.svc.Badge(ctx, promoter, tt.route)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}

	_, err = f.svc.MarkRead(ctx, private, promoter)
	require.NoError(t, err)
	n, err := f.svc.Badge(ctx, promoter, "/dashboard")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestBadge_IgnoresTrashedEvents(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	event := uuid.New()
	group := conversation.Group(event)
	other := uuid.New()

	require.NoError(t, f.svc.Join(ctx, group, promoter))
	require.NoError(t, f.svc.Join(ctx, group, other))
	_, err := f.svc.Send(ctx, group, other, "hello")
	require.NoError(t, err)

	n, err := f.svc.Badge(ctx, promoter, "/")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f.events.trashed[event] = true
	n, err = f.svc.Badge(ctx, promoter, "/")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListConversations(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.profiles[talent] = "Tina Talent"
	live, gone := uuid.New(), uuid.New()
	f.events.titles[live] = "Summer Festival"
	f.events.titles[gone] = "Cancelled Gig"

	private := conversation.Private(talent, promoter)
	liveConv := conversation.Group(live)
	goneConv := conversation.Group(gone)

	require.NoError(t, f.svc.Join(ctx, goneConv, promoter))
	require.NoError(t, f.svc.Join(ctx, liveConv, promoter))
	_, err := f.svc.OpenPrivate(ctx, talent, promoter, talent)
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, private, talent, "are you free friday?")
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, goneConv, promoter, "posted")
	require.NoError(t, err)

	f.events.trashed[gone] = true

	list, err := f.svc.ListConversations(ctx, promoter)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, private, list[0].ID)
	assert.Equal(t, "Tina Talent", list[0].Title)
	assert.Equal(t, 1, list[0].Unread)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "are you free friday?", *list[0].LastMessage)

	assert.Equal(t, liveConv, list[1].ID)
	assert.Equal(t, "Summer Festival", list[1].Title)
	assert.Nil(t, list[1].LastMessage)
	assert.Zero(t, list[1].Unread)

	for _, c := range list {
		assert.NotEqual(t, goneConv, c.ID)
	}
	// rows of the trashed conversation are kept
	assert.Len(t, f.store.participants[goneConv.String()], 1)
}
