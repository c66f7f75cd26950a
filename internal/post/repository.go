// Package post holds the narrow view of gig events ("posts") the messaging
// core needs: titles, ownership and whether an event sits in the trash.
package post

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ga4u/internal/db"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("event not found")
	ErrForbidden = errors.New("event belongs to another promoter")
)

type Post struct {
	ID         uuid.UUID  `json:"id"`
	PromoterID uuid.UUID  `json:"promoter_id"`
	Title      string     `json:"title"`
	EventDate  *time.Time `json:"event_date,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type Repository struct {
	db *db.Database
}

func NewRepository(database *db.Database) *Repository {
	return &Repository{db: database}
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Post, error) {
	p := &Post{}
	var date sql.NullTime
	err := r.db.Q(ctx).QueryRowContext(ctx,
		`SELECT id, promoter_id, title, event_date, created_at FROM posts WHERE id = $1`, id).
		Scan(&p.ID, &p.PromoterID, &p.Title, &date, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if date.Valid {
		p.EventDate = &date.Time
	}
	return p, nil
}

// Titles returns the titles of the live events among ids.
func (r *Repository) Titles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.Q(ctx).QueryContext(ctx,
		`SELECT id, title FROM posts WHERE id = ANY($1::uuid[])`, uuidStrings(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id    uuid.UUID
			title string
		)
		if err := rows.Scan(&id, &title); err != nil {
			return nil, err
		}
		out[id] = title
	}
	return out, rows.Err()
}

// Trashed reports which of ids are currently in the trash.
func (r *Repository) Trashed(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.Q(ctx).QueryContext(ctx,
		`SELECT event_id FROM trash WHERE event_id = ANY($1::uuid[])`, uuidStrings(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// MoveToTrash moves the event row into trash. Its conversations are left
// alone; listings hide them while the event is trashed.
func (r *Repository) MoveToTrash(ctx context.Context, eventID, by uuid.UUID) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		p, err := r.Get(ctx, eventID)
		if err != nil {
			return err
		}
		if p.PromoterID != by {
			return ErrForbidden
		}
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}

		q := r.db.Q(ctx)
		if _, err := q.ExecContext(ctx,
			`INSERT INTO trash (id, event_id, trashed_by, data) VALUES ($1, $2, $3, $4)`,
			uuid.New(), eventID, by, data); err != nil {
			return fmt.Errorf("insert trash: %w", err)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, eventID); err != nil {
			return fmt.Errorf("delete post: %w", err)
		}
		return nil
	})
}

// Restore puts a trashed event back.
func (r *Repository) Restore(ctx context.Context, eventID, by uuid.UUID) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		q := r.db.Q(ctx)

		var data []byte
		err := q.QueryRowContext(ctx,
			`SELECT data FROM trash WHERE event_id = $1 FOR UPDATE`, eventID).Scan(&data)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		var p Post
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode trashed event: %w", err)
		}
		if p.PromoterID != by {
			return ErrForbidden
		}

		if _, err := q.ExecContext(ctx,
			`INSERT INTO posts (id, promoter_id, title, event_date, created_at) VALUES ($1, $2, $3, $4, $5)`,
			p.ID, p.PromoterID, p.Title, p.EventDate, p.CreatedAt); err != nil {
			return fmt.Errorf("reinsert post: %w", err)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM trash WHERE event_id = $1`, eventID); err != nil {
			return fmt.Errorf("delete trash: %w", err)
		}
		return nil
	})
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
