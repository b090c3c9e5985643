package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// RunRecord is one persisted run summary.
type RunRecord struct {
	RunID       string              `json:"run_id"`
	Platform    string              `json:"platform,omitempty"`
	URL         string              `json:"url,omitempty"`
	FinalState  schemas.RunState    `json:"final_state"`
	AbortReason schemas.AbortReason `json:"abort_reason,omitempty"`
	Steps       int                 `json:"steps"`
	Filled      int                 `json:"filled"`
	Skipped     int                 `json:"skipped"`
	FinishedAt  time.Time           `json:"finished_at"`
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
    id           TEXT PRIMARY KEY,
    platform     TEXT NOT NULL DEFAULT '',
    url          TEXT NOT NULL DEFAULT '',
    final_state  TEXT NOT NULL,
    abort_reason TEXT NOT NULL DEFAULT '',
    steps        INTEGER NOT NULL,
    filled       INTEGER NOT NULL,
    skipped      INTEGER NOT NULL,
    finished_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS step_reports (
    run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    step_index   INTEGER NOT NULL,
    detected     INTEGER NOT NULL,
    filled       INTEGER NOT NULL,
    partial      INTEGER NOT NULL,
    skipped      INTEGER NOT NULL,
    skip_reasons JSONB NOT NULL DEFAULT '{}',
    page_error   TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, step_index)
);`

const (
	sqlInsertRun = `
        INSERT INTO runs (id, platform, url, final_state, abort_reason, steps, filled, skipped, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (id) DO NOTHING;`

	sqlInsertStep = `
        INSERT INTO step_reports (run_id, step_index, detected, filled, partial, skipped, skip_reasons, page_error)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

	sqlRecentRuns = `
        SELECT id, platform, url, final_state, abort_reason, steps, filled, skipped, finished_at
        FROM runs
        ORDER BY finished_at DESC
        LIMIT $1;`
)

// Store persists run history in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

// Open connects to the database at url.
func Open(ctx context.Context, url string, logger *zap.Logger) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
		now:  time.Now,
	}, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SaveRun writes a FILL_DONE summary and its step reports in one
// transaction. Saving the same run twice keeps the first copy.
func (s *Store) SaveRun(ctx context.Context, done schemas.FillDone) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	var filled, skipped int
	for _, r := range done.StepReports {
		filled += r.Filled
		skipped += r.Skipped
	}
	tag, err := tx.Exec(ctx, sqlInsertRun,
		done.RunID, done.Platform, done.URL, string(done.FinalState), string(done.AbortReason),
		len(done.StepReports), filled, skipped, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", done.RunID, err)
	}
	if tag.RowsAffected() == 0 {
		s.log.Debug("Run already stored.", zap.String("run_id", done.RunID))
		return tx.Commit(ctx)
	}

	for _, r := range done.StepReports {
		reasons, err := json.Marshal(skipReasons(r))
		if err != nil {
			return fmt.Errorf("failed to encode skip reasons: %w", err)
		}
		if _, err := tx.Exec(ctx, sqlInsertStep,
			done.RunID, r.Index, r.Detected, r.Filled, r.Partial, r.Skipped, reasons, r.PageError,
		); err != nil {
			return fmt.Errorf("failed to insert step %d of run %s: %w", r.Index, done.RunID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func skipReasons(r schemas.StepReport) map[schemas.Reason]int {
	if r.SkipReasons == nil {
		return map[schemas.Reason]int{}
	}
	return r.SkipReasons
}

// RecentRuns lists the latest runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, sqlRecentRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var state, reason string
		if err := rows.Scan(&rec.RunID, &rec.Platform, &rec.URL, &state, &reason,
			&rec.Steps, &rec.Filled, &rec.Skipped, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		rec.FinalState = schemas.RunState(state)
		rec.AbortReason = schemas.AbortReason(reason)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
