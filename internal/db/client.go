package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Client wraps the Postgres connection for directive and result persistence.
type Client struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewClient connects to Postgres and verifies the connection.
func NewClient(dsn string, logger *zap.Logger) (*Client, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Client{db: db, logger: logger}, nil
}

// NewClientFromDB wraps an existing connection; used by tests.
func NewClientFromDB(db *sqlx.DB, logger *zap.Logger) *Client {
	return &Client{db: db, logger: logger}
}

// Ping reports backend reachability, used by the health checker.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// DirectiveRecord is the persisted form of a directive and its outcome. Also
// served as-is by the recent-results API endpoint.
type DirectiveRecord struct {
	ID             string    `db:"id" json:"id"`
	Content        string    `db:"content" json:"content"`
	Source         string    `db:"source" json:"source"`
	Priority       int       `db:"priority" json:"priority"`
	SessionID      string    `db:"session_id" json:"session_id"`
	SubmittedAt    time.Time `db:"submitted_at" json:"submitted_at"`
	Success        bool      `db:"success" json:"success"`
	Error          string    `db:"error" json:"error,omitempty"`
	DurationMs     int64     `db:"duration_ms" json:"duration_ms"`
	AlignmentScore float64   `db:"alignment_score" json:"alignment_score"`
	CompletedAt    time.Time `db:"completed_at" json:"completed_at"`
}

const insertDirectiveSQL = `
	INSERT INTO directive_results
		(id, content, source, priority, session_id, submitted_at,
		 success, error, duration_ms, alignment_score, completed_at)
	VALUES
		(:id, :content, :source, :priority, :session_id, :submitted_at,
		 :success, :error, :duration_ms, :alignment_score, :completed_at)
	ON CONFLICT (id) DO NOTHING`

// InsertDirectiveResult persists one completed directive. The conflict guard
// keeps retries idempotent: at most one row per directive ID.
func (c *Client) InsertDirectiveResult(ctx context.Context, rec DirectiveRecord) error {
	if _, err := c.db.NamedExecContext(ctx, insertDirectiveSQL, rec); err != nil {
		return fmt.Errorf("insert directive result: %w", err)
	}
	return nil
}

// RecentResults returns the newest completed directives, newest first.
func (c *Client) RecentResults(ctx context.Context, limit int) ([]DirectiveRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []DirectiveRecord
	err := c.db.SelectContext(ctx, &out, `
		SELECT id, content, source, priority, session_id, submitted_at,
		       success, error, duration_ms, alignment_score, completed_at
		FROM directive_results
		ORDER BY completed_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent results: %w", err)
	}
	return out, nil
}
