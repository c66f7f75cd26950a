package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"ga4u/internal/conversation"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// MessagesRoute is the route fragment on which the badge is suppressed.
const MessagesRoute = "/messages"

// Badge is the number of unread messages across the user's visible
// conversations, or 0 while the user is looking at the messages page.
func (s *Service) Badge(ctx context.Context, userID uuid.UUID, route string) (int, error) {
	if strings.Contains(route, MessagesRoute) {
		return 0, nil
	}

	counts, err := s.store.UnreadCounts(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("unread counts: %w", err)
	}
	trashed, err := s.trashedEvents(ctx, counts)
	if err != nil {
		return 0, err
	}

	total := 0
	for id, n := range counts {
		if hiddenByTrash(id, trashed) {
			continue
		}
		total += n
	}
	return total, nil
}

// trashedEvents resolves the trash state of every group conversation among keys.
func (s *Service) trashedEvents(ctx context.Context, keys map[string]int) (map[uuid.UUID]bool, error) {
	var events []uuid.UUID
	for id := range keys {
		if eventID, err := conversation.DecodeGroup(id); err == nil {
			events = append(events, eventID)
		}
	}
	if len(events) == 0 {
		return map[uuid.UUID]bool{}, nil
	}
	trashed, err := s.events.Trashed(ctx, events)
	if err != nil {
		return nil, fmt.Errorf("trashed events: %w", err)
	}
	return trashed, nil
}

func hiddenByTrash(id string, trashed map[uuid.UUID]bool) bool {
	eventID, err := conversation.DecodeGroup(id)
	switch {
	case err == nil:
		return trashed[eventID]
	case errors.Is(err, conversation.ErrNotGroup):
		return false
	default:
		// rows with an id we cannot decode are never shown
		return true
	}
}

// ListConversations returns userID's conversations, most recent activity
// first. Group conversations of trashed events are left out.
func (s *Service) ListConversations(ctx context.Context, userID uuid.UUID) ([]ConversationSummary, error) {
	parts, err := s.store.Participations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("participations: %w", err)
	}

	ids := make([]string, 0, len(parts))
	keys := make(map[string]int, len(parts))
	for _, p := range parts {
		ids = append(ids, p.ConversationID)
		keys[p.ConversationID] = 0
	}

	var (
		counts  map[string]int
		last    map[string]Message
		trashed map[uuid.UUID]bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		counts, err = s.store.UnreadCounts(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		last, err = s.store.LastMessages(gctx, ids)
		return err
	})
	g.Go(func() error {
		var err error
		trashed, err = s.trashedEvents(gctx, keys)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("conversation summaries: %w", err)
	}

	out := make([]ConversationSummary, 0, len(parts))
	var others, events []uuid.UUID
	for _, p := range parts {
		if hiddenByTrash(p.ConversationID, trashed) {
			continue
		}
		conv, _ := conversation.Parse(p.ConversationID)
		sum := ConversationSummary{
			ID:       conv,
			Kind:     conv.Kind(),
			Unread:   counts[p.ConversationID],
			JoinedAt: p.JoinedAt,
		}
		if m, ok := last[p.ConversationID]; ok {
			text, at := m.Text, m.CreatedAt
			sum.LastMessage = &text
			sum.LastMessageAt = &at
		}
		if conv.Kind() == conversation.KindGroup {
			events = append(events, conv.EventID())
		} else if other, ok := conv.Other(userID); ok {
			others = append(others, other)
		}
		out = append(out, sum)
	}

	if err := s.fillTitles(ctx, userID, out, others, events); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].activity().After(out[j].activity())
	})
	return out, nil
}

func (s *Service) fillTitles(ctx context.Context, userID uuid.UUID, out []ConversationSummary, others, events []uuid.UUID) error {
	var (
		names  map[uuid.UUID]string
		titles map[uuid.UUID]string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		names, err = s.profiles.DisplayNames(gctx, others)
		return err
	})
	g.Go(func() error {
		if len(events) == 0 {
			return nil
		}
		var err error
		titles, err = s.events.Titles(gctx, events)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("conversation titles: %w", err)
	}

	for i := range out {
		switch out[i].Kind {
		case conversation.KindGroup:
			out[i].Title = titles[out[i].ID.EventID()]
		case conversation.KindPrivate:
			other, _ := out[i].ID.Other(userID)
			out[i].Title = names[other]
		}
	}
	return nil
}
