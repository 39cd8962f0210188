package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/slerner/deepresearch/internal/config"
)

// Run statuses persisted for research runs.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is one persisted research run.
type Run struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Query       string          `json:"query"`
	Status      string          `json:"status"`
	SearchCount int             `json:"search_count"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	EmailSent   bool            `json:"email_sent"`
	Report      json.RawMessage `json:"report,omitempty"`
	Error       *string         `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

type Store struct {
	DB *sql.DB
}

// New constructs the Store from storage config.
func New(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	dsn := cfg.Postgres.DSN()
	if dsn == "" {
		return nil, fmt.Errorf("postgres not configured (storage.postgres.url or host/dbname)")
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
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

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Run operations
func (s *Store) CreateRun(ctx context.Context, id, userID, query string, searchCount int) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO runs (id, user_id, query, status, search_count) VALUES ($1,$2,$3,$4,$5)`,
		id, userID, query, RunStatusRunning, searchCount)
	return err
}

// SaveReport attaches the synthesized report and search tallies to a
// running run without changing its status.
func (s *Store) SaveReport(ctx context.Context, runID string, report []byte, succeeded, failed int) error {
	if runID == "" {
		return fmt.Errorf("run_id must be provided")
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE runs SET report=$2, succeeded=$3, failed=$4 WHERE id=$1`,
		runID, report, succeeded, failed)
	return err
}

// MarkEmailSent records whether the report email went out.
func (s *Store) MarkEmailSent(ctx context.Context, runID string, sent bool) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE runs SET email_sent=$2 WHERE id=$1`, runID, sent)
	return err
}

func (s *Store) FinishRun(ctx context.Context, runID string, status string, errMsg *string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE runs SET status=$1, finished_at=NOW(), error=$2 WHERE id=$3`, status, errMsg, runID)
	return err
}

func (s *Store) ListRuns(ctx context.Context, userID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, query, status, search_count, succeeded, failed, email_sent, error, created_at, finished_at
		 FROM runs WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.UserID, &r.Query, &r.Status, &r.SearchCount, &r.Succeeded, &r.Failed, &r.EmailSent, &r.Error, &r.CreatedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun returns a run with its report, scoped to the owning user.
func (s *Store) GetRun(ctx context.Context, runID, userID string) (Run, error) {
	var r Run
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, query, status, search_count, succeeded, failed, email_sent, report, error, created_at, finished_at
		 FROM runs WHERE id=$1 AND user_id=$2`, runID, userID).
		Scan(&r.ID, &r.UserID, &r.Query, &r.Status, &r.SearchCount, &r.Succeeded, &r.Failed, &r.EmailSent, &r.Report, &r.Error, &r.CreatedAt, &r.FinishedAt)
	return r, err
}
