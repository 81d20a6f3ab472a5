// Package store persists users and research runs in Postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	_ "github.com/lib/pq"

	"github.com/alfhq/alf/internal/research"
)

// ErrNotFound is returned when a row does not exist or belongs to another user.
var ErrNotFound = errors.New("not found")

type Store struct {
	DB *sql.DB
}

// NewWithDSN opens a Postgres connection and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// NewWithDB wraps an existing connection, used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{DB: db} }

func (s *Store) Close() error { return s.DB.Close() }

// User operations

func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	return
}

// Run operations

// Run is a persisted research run row.
type Run struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	Query      string    `json:"query"`
	Preset     string    `json:"preset"`
	Status     string    `json:"status"`
	Brief      string    `json:"brief,omitempty"`
	Candidates int       `json:"candidates"`
	TokensUsed int64     `json:"tokens_used"`
	Cost       float64   `json:"cost_estimate"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// SaveRun inserts a finished run with its source documents in one
// transaction. Source text is persisted so run indexes can be rebuilt.
func (s *Store) SaveRun(ctx context.Context, userID string, result research.RunResult, status string, sources []research.SourceDocument) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO runs (id, user_id, query, preset, status, brief, candidates, tokens_used, cost_estimate, duration_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		result.ID, nullIfEmpty(userID), result.Query, result.Preset, status, result.Brief,
		result.Candidates, result.TokensUsed, result.Cost, result.Duration.Milliseconds(), result.CreatedAt)
	if err != nil {
		return err
	}
	for pos, doc := range sources {
		_, err = tx.ExecContext(ctx, `
INSERT INTO run_sources (run_id, position, url, title, content, published_at)
VALUES ($1,$2,$3,$4,$5,$6)`,
			result.ID, pos, doc.URL, doc.Title, doc.Text, nullIfEmpty(doc.Date))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetRun fetches one run owned by userID. Empty userID skips the ownership
// check, for auth-free deployments.
func (s *Store) GetRun(ctx context.Context, id, userID string) (Run, error) {
	query := `SELECT id, COALESCE(user_id::text,''), query, preset, status, brief, candidates, tokens_used, cost_estimate, duration_ms, created_at FROM runs WHERE id=$1`
	args := []interface{}{id}
	if userID != "" {
		query += ` AND user_id=$2`
		args = append(args, userID)
	}
	var r Run
	err := s.DB.QueryRowContext(ctx, query, args...).Scan(
		&r.ID, &r.UserID, &r.Query, &r.Preset, &r.Status, &r.Brief,
		&r.Candidates, &r.TokensUsed, &r.Cost, &r.DurationMS, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return r, err
}

// ListRuns returns runs newest first, capped at limit.
func (s *Store) ListRuns(ctx context.Context, userID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, COALESCE(user_id::text,''), query, preset, status, brief, candidates, tokens_used, cost_estimate, duration_ms, created_at FROM runs`
	args := []interface{}{}
	if userID != "" {
		query += ` WHERE user_id=$1`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC LIMIT ` + strconv.Itoa(limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.UserID, &r.Query, &r.Preset, &r.Status, &r.Brief,
			&r.Candidates, &r.TokensUsed, &r.Cost, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRunSources returns a run's persisted documents in scrape order.
func (s *Store) GetRunSources(ctx context.Context, runID string) ([]research.SourceDocument, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT url, title, content, COALESCE(published_at,'') FROM run_sources WHERE run_id=$1 ORDER BY position`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []research.SourceDocument
	for rows.Next() {
		var d research.SourceDocument
		if err := rows.Scan(&d.URL, &d.Title, &d.Text, &d.Date); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
