package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/studypilot/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(any) bool

func (f ArgumentMatcherFunc) Match(v any) bool {
	return f(v)
}

// anyTime accepts any timestamp that is in UTC.
var anyTime = ArgumentMatcherFunc(func(v any) bool {
	ts, ok := v.(time.Time)
	return ok && ts.Location() == time.UTC
})

func newStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s, mockPool
}

func sampleResult() schemas.TaskResult {
	loc := time.FixedZone("CST", 8*3600)
	count := 12
	return schemas.TaskResult{
		RunID:         "run-1",
		WorkItem:      schemas.WorkItem{Index: 1, TargetURL: "http://course.test/practice.php?id=1", Label: "练习一", PageKind: schemas.PageKindPractice},
		FinalStatus:   schemas.StatusCompleted,
		Attempts:      2,
		ProgressCount: &count,
		FinishedAt:    time.Date(2025, 11, 20, 10, 0, 0, 0, loc),
	}
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	s, mockPool := newStore(t, zap.NewNop())
	mockPool.ExpectExec(flexibleSQLMatcher(s.schemaSQL())).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
	assert.Contains(t, s.schemaSQL(), `CREATE TABLE IF NOT EXISTS "task_results"`)
}

func TestWithTable(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	mockPool.ExpectPing()

	s, err := New(context.Background(), mockPool, zap.NewNop(), WithTable("course_results"))
	require.NoError(t, err)
	require.NoError(t, s.Emit(context.Background(), sampleResult()))

	mockPool.ExpectBegin()
	mockPool.ExpectCopyFrom(pgx.Identifier{"course_results"}, ResultColumns).WillReturnError(errors.New("stop here"))
	mockPool.ExpectRollback()
	assert.Error(t, s.Flush(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestFlush(t *testing.T) {
	ctx := context.Background()

	t.Run("should copy results and upsert work items in one transaction", func(t *testing.T) {
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newStore(t, zap.New(observedZapCore))

		res := sampleResult()
		require.NoError(t, s.Emit(ctx, res))

		mockPool.ExpectBegin()
		mockPool.ExpectCopyFrom(pgx.Identifier{DefaultTable}, ResultColumns).WillReturnResult(1)
		batchExp := mockPool.ExpectBatch()
		batchExp.ExpectExec(flexibleSQLMatcher(upsertWorkItemSQL)).
			WithArgs(res.WorkItem.TargetURL, res.WorkItem.Label, "completed", "run-1", anyTime).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.Flush(ctx))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")

		// Nothing left to write.
		require.NoError(t, s.Flush(ctx))
	})

	t.Run("should keep the buffer when the copy fails", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())
		require.NoError(t, s.Emit(ctx, sampleResult()))

		copyErr := errors.New("copy failed")
		mockPool.ExpectBegin()
		mockPool.ExpectCopyFrom(pgx.Identifier{DefaultTable}, ResultColumns).WillReturnError(copyErr)
		mockPool.ExpectRollback()

		err := s.Flush(ctx)
		assert.ErrorIs(t, err, copyErr)
		assert.Len(t, s.pending, 1)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail when the batch fails", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())
		res := sampleResult()
		require.NoError(t, s.Emit(ctx, res))

		batchErr := errors.New("unique violation")
		mockPool.ExpectBegin()
		mockPool.ExpectCopyFrom(pgx.Identifier{DefaultTable}, ResultColumns).WillReturnResult(1)
		batchExp := mockPool.ExpectBatch()
		batchExp.ExpectExec(flexibleSQLMatcher(upsertWorkItemSQL)).
			WithArgs(res.WorkItem.TargetURL, res.WorkItem.Label, "completed", "run-1", anyTime).
			WillReturnError(batchErr)
		mockPool.ExpectRollback()

		err := s.Flush(ctx)
		assert.ErrorIs(t, err, batchErr)
		assert.Contains(t, err.Error(), res.WorkItem.TargetURL)
	})

	t.Run("should return error if begin fails", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())
		require.NoError(t, s.Emit(ctx, sampleResult()))

		beginErr := errors.New("connection reset")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		assert.ErrorIs(t, s.Flush(ctx), beginErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestCheckpoint(t *testing.T) {
	s, mockPool := newStore(t, zap.NewNop())
	rows := pgxmock.NewRows([]string{"url", "last_status"}).
		AddRow("http://course.test/a.php", "completed").
		AddRow("http://course.test/b.php", "aborted")
	mockPool.ExpectQuery(flexibleSQLMatcher(checkpointSQL)).WillReturnRows(rows)

	seen, err := s.Checkpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]schemas.FinalStatus{
		"http://course.test/a.php": schemas.StatusCompleted,
		"http://course.test/b.php": schemas.StatusAborted,
	}, seen)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestClose_FlushesPending(t *testing.T) {
	s, mockPool := newStore(t, zap.NewNop())
	require.NoError(t, s.Emit(context.Background(), sampleResult()))

	mockPool.ExpectBegin().WillReturnError(errors.New("gone"))
	assert.Error(t, s.Close())
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
