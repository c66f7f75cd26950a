package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Querier is the subset of *sql.DB and *sql.Tx the repositories use.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Database struct {
	Conn *sql.DB
}

type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func NewDatabase(dsn string, opts Options) (*Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	if opts.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	return &Database{Conn: conn}, nil
}

func (d *Database) Close() error {
	return d.Conn.Close()
}

type txKey struct{}

// Q returns the transaction carried by ctx, or the pool when there is none.
func (d *Database) Q(ctx context.Context) Querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return d.Conn
}

// WithTx runs fn inside a transaction. Repository calls made with the ctx passed
// to fn join it. Nested calls reuse the outer transaction.
func (d *Database) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (d *Database) AutoMigrate(ctx context.Context) error {
	for _, query := range schema {
		if _, err := d.Conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
            id UUID PRIMARY KEY,
            email VARCHAR(255) UNIQUE NOT NULL,
            full_name VARCHAR(255) NOT NULL DEFAULT '',
            role VARCHAR(16) CHECK (role IN ('talent', 'promoter')) NOT NULL,
            password_hash VARCHAR(255) NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,

	`CREATE TABLE IF NOT EXISTS posts (
            id UUID PRIMARY KEY,
            promoter_id UUID NOT NULL,
            title VARCHAR(255) NOT NULL,
            event_date TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,

	`CREATE TABLE IF NOT EXISTS trash (
            id UUID PRIMARY KEY,
            event_id UUID UNIQUE NOT NULL,
            trashed_by UUID NOT NULL,
            trashed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            data JSONB NOT NULL
        )`,

	`CREATE TABLE IF NOT EXISTS unified_participants (
            conversation_id TEXT NOT NULL,
            user_id UUID NOT NULL,
            conversation_type VARCHAR(10) CHECK (conversation_type IN ('private', 'group')) NOT NULL,
            joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            last_read_at TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
            PRIMARY KEY (conversation_id, user_id)
        )`,

	`CREATE TABLE IF NOT EXISTS unified_messages (
            id UUID PRIMARY KEY,
            conversation_id TEXT NOT NULL,
            conversation_type VARCHAR(10) CHECK (conversation_type IN ('private', 'group')) NOT NULL,
            sender_id UUID NOT NULL,
            message_text TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,

	`CREATE INDEX IF NOT EXISTS idx_unified_messages_conversation
            ON unified_messages (conversation_id, created_at)`,

	// Legacy group chat schema, keyed by event id.
	`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY,
            event_id UUID NOT NULL,
            sender_id UUID NOT NULL,
            message_text TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,

	`CREATE TABLE IF NOT EXISTS message_participants (
            event_id UUID NOT NULL,
            user_id UUID NOT NULL,
            joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (event_id, user_id)
        )`,

	// Legacy private chat schema, keyed by the (talent, promoter) pair.
	`CREATE TABLE IF NOT EXISTS private_chat_messages (
            id UUID PRIMARY KEY,
            talent_id UUID NOT NULL,
            promoter_id UUID NOT NULL,
            sender_id UUID NOT NULL,
            message_text TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,

	`CREATE TABLE IF NOT EXISTS private_chat_participants (
            talent_id UUID NOT NULL,
            promoter_id UUID NOT NULL,
            user_id UUID NOT NULL,
            joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (talent_id, promoter_id, user_id)
        )`,

	`CREATE TABLE IF NOT EXISTS notifications (
            id UUID PRIMARY KEY,
            user_id UUID NOT NULL,
            type VARCHAR(32) NOT NULL,
            title VARCHAR(255) NOT NULL,
            message TEXT NOT NULL DEFAULT '',
            is_read BOOLEAN NOT NULL DEFAULT false,
            promoter_id UUID,
            event_id UUID,
            offer_amount NUMERIC(12, 2),
            conversation_id TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,

	`CREATE INDEX IF NOT EXISTS idx_notifications_user
            ON notifications (user_id, created_at DESC)`,
}
