package notification

import (
	"context"
	"database/sql"

	"ga4u/internal/db"

	"github.com/google/uuid"
)

type Repository struct {
	db *db.Database
}

func NewRepository(database *db.Database) *Repository {
	return &Repository{db: database}
}

func (r *Repository) Insert(ctx context.Context, n *Notification) error {
	query := `INSERT INTO notifications
		(id, user_id, type, title, message, is_read, promoter_id, event_id, offer_amount, conversation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`

	return r.db.Q(ctx).QueryRowContext(ctx, query,
		n.ID, n.UserID, n.Kind, n.Title, n.Message, n.IsRead,
		n.PromoterID, n.EventID, n.OfferAmount, n.ConversationID,
	).Scan(&n.CreatedAt)
}

func (r *Repository) List(ctx context.Context, userID uuid.UUID, limit int) ([]Notification, error) {
	rows, err := r.db.Q(ctx).QueryContext(ctx, `
		SELECT id, user_id, type, title, message, is_read, promoter_id, event_id, offer_amount, conversation_id, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			n          Notification
			promoterID uuid.NullUUID
			eventID    uuid.NullUUID
			amount     sql.NullFloat64
			convID     sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Message, &n.IsRead,
			&promoterID, &eventID, &amount, &convID, &n.CreatedAt); err != nil {
			return nil, err
		}
		if promoterID.Valid {
			n.PromoterID = &promoterID.UUID
		}
		if eventID.Valid {
			n.EventID = &eventID.UUID
		}
		if amount.Valid {
			n.OfferAmount = &amount.Float64
		}
		if convID.Valid {
			n.ConversationID = &convID.String
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *Repository) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	res, err := r.db.Q(ctx).ExecContext(ctx,
		`UPDATE notifications SET is_read = true WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.db.Q(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read`, userID).Scan(&n)
	return n, err
}
