package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/studypilot/api/schemas"
	"github.com/xkilldash9x/studypilot/internal/reporting"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ResultColumns is the column order used when copying results.
var ResultColumns = []string{"run_id", "item_index", "label", "url", "marked", "page_kind", "status", "reason", "attempts", "degraded", "progress_count", "outcomes", "finished_at"}

// DefaultTable receives the result rows unless WithTable names another.
const DefaultTable = "task_results"

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS %s (
    id             BIGSERIAL PRIMARY KEY,
    run_id         TEXT        NOT NULL,
    item_index     INTEGER     NOT NULL,
    label          TEXT        NOT NULL,
    url            TEXT        NOT NULL,
    marked         BOOLEAN     NOT NULL,
    page_kind      TEXT        NOT NULL,
    status         TEXT        NOT NULL,
    reason         TEXT        NOT NULL,
    attempts       INTEGER     NOT NULL,
    degraded       BOOLEAN     NOT NULL,
    progress_count INTEGER,
    outcomes       JSONB       NOT NULL,
    finished_at    TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS work_items (
    url         TEXT PRIMARY KEY,
    label       TEXT        NOT NULL,
    last_status TEXT        NOT NULL,
    last_run_id TEXT        NOT NULL,
    last_seen   TIMESTAMPTZ NOT NULL
);`

const upsertWorkItemSQL = `
        INSERT INTO work_items (url, label, last_status, last_run_id, last_seen)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (url) DO UPDATE SET
            label = EXCLUDED.label,
            last_status = CASE WHEN work_items.last_status = 'completed' AND EXCLUDED.last_status <> 'completed'
                               THEN work_items.last_status ELSE EXCLUDED.last_status END,
            last_run_id = EXCLUDED.last_run_id,
            last_seen = EXCLUDED.last_seen;
    `

const checkpointSQL = `SELECT url, last_status FROM work_items;`

// Store is a reporting.Sink writing results to PostgreSQL. Emitted results
// are buffered; Flush writes them in one transaction.
type Store struct {
	pool  DBPool
	log   *zap.Logger
	table string

	mu      sync.Mutex
	pending []schemas.TaskResult
}

// Option configures a Store.
type Option func(*Store)

// WithTable sets the table that receives result rows. Empty keeps the default.
func WithTable(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.table = name
		}
	}
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger, opts ...Option) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		pool:  pool,
		log:   logger.Named("store"),
		table: DefaultTable,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) schemaSQL() string {
	return fmt.Sprintf(schemaTemplate, pgx.Identifier{s.table}.Sanitize())
}

// EnsureSchema creates the tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, s.schemaSQL()); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Emit buffers the result until the next Flush.
func (s *Store) Emit(_ context.Context, res schemas.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, res)
	return nil
}

// Flush handles the database transaction for everything emitted since the last flush.
// On failure the buffer is kept, so a later flush retries the same rows.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if err := s.persistResults(ctx, tx, s.pending); err != nil {
		return err
	}
	if err := s.persistWorkItems(ctx, tx, s.pending); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Persisted results.", zap.Int("count", len(s.pending)))
	s.pending = s.pending[:0]
	return nil
}

func (s *Store) persistResults(ctx context.Context, tx pgx.Tx, results []schemas.TaskResult) error {
	rows := make([][]any, len(results))
	for i, r := range results {
		outcomes, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(r.Outcomes)
		if err != nil {
			return fmt.Errorf("failed to encode outcomes of item %d: %w", r.WorkItem.Index, err)
		}
		if string(outcomes) == "null" {
			outcomes = []byte("[]")
		}
		var progress any
		if r.ProgressCount != nil {
			progress = *r.ProgressCount
		}
		rows[i] = []any{
			r.RunID, r.WorkItem.Index, r.WorkItem.Label, r.WorkItem.TargetURL,
			r.WorkItem.Marked, string(r.WorkItem.PageKind),
			string(r.FinalStatus), string(r.Reason), r.Attempts, r.Degraded,
			progress, string(outcomes),
			r.FinishedAt.UTC(),
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{s.table}, ResultColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy results: %w", err)
	}
	if int(copyCount) != len(results) {
		return fmt.Errorf("mismatch in copied results count: expected %d, got %d", len(results), copyCount)
	}
	return nil
}

// persistWorkItems keeps the latest status per URL for resuming. A URL that
// completed once stays completed.
func (s *Store) persistWorkItems(ctx context.Context, tx pgx.Tx, results []schemas.TaskResult) error {
	batch := &pgx.Batch{}
	for _, r := range results {
		batch.Queue(upsertWorkItemSQL, r.WorkItem.TargetURL, r.WorkItem.Label, string(r.FinalStatus), r.RunID, r.FinishedAt.UTC())
	}

	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return fmt.Errorf("failed to send batch: batch results is nil")
	}
	defer func() {
		_ = br.Close()
	}()

	for i := range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to upsert work item %s (index %d): %w", results[i].WorkItem.TargetURL, i, err)
		}
	}
	return nil
}

// Checkpoint reports the recorded status of every URL the database knows.
func (s *Store) Checkpoint(ctx context.Context) (map[string]schemas.FinalStatus, error) {
	rows, err := s.pool.Query(ctx, checkpointSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query work items: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]schemas.FinalStatus)
	for rows.Next() {
		var u, status string
		if err := rows.Scan(&u, &status); err != nil {
			return nil, fmt.Errorf("failed to scan work item row: %w", err)
		}
		seen[u] = schemas.FinalStatus(status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return seen, nil
}

// Close flushes what is left under a bounded deadline. The pool belongs to
// the caller.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.Flush(ctx)
}

var (
	_ reporting.Sink         = (*Store)(nil)
	_ reporting.Checkpointer = (*Store)(nil)
)
