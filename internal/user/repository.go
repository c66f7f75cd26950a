package user

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("user not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateProfile(ctx context.Context, p *Profile) (*Profile, error) {
	query := `INSERT INTO profiles (id, email, full_name, role, password_hash)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query, p.ID, p.Email, p.FullName, p.Role, p.PasswordHash).Scan(&p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (*Profile, error) {
	p := &Profile{}
	query := "SELECT id, email, full_name, role, password_hash, created_at FROM profiles WHERE email = $1"

	err := r.db.QueryRowContext(ctx, query, strings.ToLower(email)).
		Scan(&p.ID, &p.Email, &p.FullName, &p.Role, &p.PasswordHash, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// GetByIDs returns the profiles that exist among ids, in no particular order.
func (r *Repository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, email, full_name, role, created_at FROM profiles WHERE id = ANY($1::uuid[])`, strs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Email, &p.FullName, &p.Role, &p.CreatedAt); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (r *Repository) UpdateFullName(ctx context.Context, id uuid.UUID, fullName string) (*Profile, error) {
	p := &Profile{}
	err := r.db.QueryRowContext(ctx, `UPDATE profiles SET full_name = $2 WHERE id = $1
		RETURNING id, email, full_name, role, created_at`, id, fullName).
		Scan(&p.ID, &p.Email, &p.FullName, &p.Role, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *Repository) Search(ctx context.Context, query string) ([]Profile, error) {
	// We limit to 10 to keep it fast
	q := `SELECT id, email, full_name, role, created_at FROM profiles
		WHERE full_name ILIKE $1 OR email ILIKE $1 ORDER BY full_name LIMIT 10`
	rows, err := r.db.QueryContext(ctx, q, "%"+query+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Email, &p.FullName, &p.Role, &p.CreatedAt); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}
