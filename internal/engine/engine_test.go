// internal/engine/engine_test.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/studypilot/api/schemas"
	"github.com/xkilldash9x/studypilot/internal/browser"
	"github.com/xkilldash9x/studypilot/internal/config"
	"github.com/xkilldash9x/studypilot/internal/reporting"
)

// -- Mock Implementations --

// mockRunner stands in for the workflow machine.
type mockRunner struct {
	mock.Mock
	mu    sync.Mutex
	order []int
}

func (m *mockRunner) Run(ctx context.Context, page browser.Page, item schemas.WorkItem) schemas.TaskResult {
	m.mu.Lock()
	m.order = append(m.order, item.Index)
	m.mu.Unlock()
	args := m.Called(ctx, page, item)
	if fn, ok := args.Get(0).(func(context.Context, schemas.WorkItem) schemas.TaskResult); ok {
		return fn(ctx, item)
	}
	return args.Get(0).(schemas.TaskResult)
}

type countingRecorder struct {
	mu      sync.Mutex
	results []schemas.TaskResult
}

func (c *countingRecorder) Result(res schemas.TaskResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, res)
}

type sleepLog struct {
	mu     sync.Mutex
	pauses []time.Duration
	hook   func()
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.pauses = append(s.pauses, d)
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return ctx.Err()
}

func items(n int) []schemas.WorkItem {
	out := make([]schemas.WorkItem, n)
	for i := range out {
		out[i] = schemas.WorkItem{Index: i + 1, TargetURL: fmt.Sprintf("http://course.test/study/%d.php", i+1), Label: fmt.Sprintf("lesson %d", i+1)}
	}
	return out
}

func completed(item schemas.WorkItem) schemas.TaskResult {
	return schemas.TaskResult{WorkItem: item, FinalStatus: schemas.StatusCompleted, Attempts: 1}
}

func pipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{PacingMin: time.Second, PacingMax: 3 * time.Second, FlushEvery: 5}
}

func newPipeline(t *testing.T, cfg config.PipelineConfig, runner Runner, sink reporting.Sink, sl *sleepLog, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{
		WithSleep(sl.sleep),
		WithRand(func(n int64) int64 { return n / 2 }),
		WithRunID("run-test"),
	}, opts...)
	p, err := New(cfg, zaptest.NewLogger(t), runner, sink, opts...)
	require.NoError(t, err)
	return p
}

// -- Test Suite --

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNew_Validation(t *testing.T) {
	sink := reporting.NewMemorySink()
	runner := &mockRunner{}

	_, err := New(pipelineConfig(), nil, runner, sink)
	assert.Error(t, err)
	_, err = New(pipelineConfig(), zap.NewNop(), nil, sink)
	assert.Error(t, err)
	_, err = New(pipelineConfig(), zap.NewNop(), runner, nil)
	assert.Error(t, err)

	cfg := pipelineConfig()
	cfg.PacingMin, cfg.PacingMax = 5*time.Second, time.Second
	_, err = New(cfg, zap.NewNop(), runner, sink)
	assert.ErrorContains(t, err, "pacing range is inverted")
}

func TestRun_OneResultPerItemInOrder(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(func(_ context.Context, item schemas.WorkItem) schemas.TaskResult {
		if item.Index == 3 {
			return schemas.TaskResult{WorkItem: item, FinalStatus: schemas.StatusAborted, Reason: schemas.ReasonNavigationExhausted, Attempts: 3}
		}
		return completed(item)
	})
	sink := reporting.NewMemorySink()
	rec := &countingRecorder{}
	sl := &sleepLog{}
	p := newPipeline(t, pipelineConfig(), runner, sink, sl, WithResultRecorder(rec))

	in := items(7)
	results, err := p.Run(context.Background(), nil, in)
	require.NoError(t, err, "a failed item never aborts the run")

	require.Len(t, results, len(in))
	for i, res := range results {
		assert.Equal(t, in[i], res.WorkItem)
		assert.Equal(t, "run-test", res.RunID)
	}
	assert.Equal(t, schemas.StatusAborted, results[2].FinalStatus)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, runner.order)
	assert.Equal(t, results, sink.Results())
	assert.Len(t, rec.results, 7)

	// Pauses sit between items only, in the middle of the 1s..3s range.
	assert.Len(t, sl.pauses, 6)
	for _, d := range sl.pauses {
		assert.Equal(t, 2*time.Second, d)
	}
	// Flushed once at five items and once at the end.
	assert.Equal(t, 2, sink.Flushes())
	assert.Len(t, sink.Flushed(), 7)
}

func TestRun_PacingStaysInRange(t *testing.T) {
	cfg := pipelineConfig()
	p, err := New(cfg, zap.NewNop(), &mockRunner{}, reporting.NewMemorySink())
	require.NoError(t, err)
	for range 200 {
		d := p.pace()
		assert.GreaterOrEqual(t, d, cfg.PacingMin)
		assert.LessOrEqual(t, d, cfg.PacingMax)
	}

	cfg.PacingMax = cfg.PacingMin
	p, err = New(cfg, zap.NewNop(), &mockRunner{}, reporting.NewMemorySink())
	require.NoError(t, err)
	assert.Equal(t, cfg.PacingMin, p.pace())
}

func TestRun_CancellationStopsAfterInFlightItem(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &mockRunner{}
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(func(ctx context.Context, item schemas.WorkItem) schemas.TaskResult {
		if item.Index == 2 {
			cancel()
			return schemas.TaskResult{WorkItem: item, FinalStatus: schemas.StatusAborted, Reason: schemas.ReasonCanceled}
		}
		return completed(item)
	})
	sink := reporting.NewMemorySink()
	p := newPipeline(t, pipelineConfig(), runner, sink, &sleepLog{})

	results, err := p.Run(ctx, nil, items(5))
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 2, "items after the abort produce nothing")
	assert.Equal(t, schemas.StatusAborted, results[1].FinalStatus)
	assert.Equal(t, []int{1, 2}, runner.order)
	assert.Len(t, sink.Flushed(), 2, "already finished results are kept")
}

func TestRun_CancellationDuringPacing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &mockRunner{}
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(func(_ context.Context, item schemas.WorkItem) schemas.TaskResult {
		return completed(item)
	})
	sl := &sleepLog{hook: cancel}
	sink := reporting.NewMemorySink()
	p := newPipeline(t, pipelineConfig(), runner, sink, sl)

	results, err := p.Run(ctx, nil, items(3))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, results, 1)
	assert.Len(t, sink.Flushed(), 1)
}

func TestRun_SessionLostStopsTheRun(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(func(_ context.Context, item schemas.WorkItem) schemas.TaskResult {
		if item.Index == 2 {
			return schemas.TaskResult{WorkItem: item, FinalStatus: schemas.StatusSubmissionFailed, Reason: schemas.ReasonSessionLost}
		}
		return completed(item)
	})
	sink := reporting.NewMemorySink()
	p := newPipeline(t, pipelineConfig(), runner, sink, &sleepLog{})

	results, err := p.Run(context.Background(), nil, items(4))
	assert.ErrorIs(t, err, schemas.ErrSessionLost)
	assert.Len(t, results, 2)
	assert.Len(t, sink.Results(), 2, "the failing item is still reported")
}

func TestRun_SkipsMarkedItems(t *testing.T) {
	in := items(3)
	in[1].Marked = true

	runner := &mockRunner{}
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(func(_ context.Context, item schemas.WorkItem) schemas.TaskResult {
		return completed(item)
	})

	t.Run("not emitted by default", func(t *testing.T) {
		sink := reporting.NewMemorySink()
		sl := &sleepLog{}
		p := newPipeline(t, pipelineConfig(), runner, sink, sl)
		results, err := p.Run(context.Background(), nil, in)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, schemas.StatusSkipped, results[1].FinalStatus)
		assert.Equal(t, schemas.ReasonAlreadyComplete, results[1].Reason)
		assert.Len(t, sink.Results(), 2)
		assert.Len(t, sl.pauses, 1, "skipped items do not pace")
	})

	t.Run("emitted on request", func(t *testing.T) {
		cfg := pipelineConfig()
		cfg.EmitSkipped = true
		sink := reporting.NewMemorySink()
		p := newPipeline(t, cfg, runner, sink, &sleepLog{})
		_, err := p.Run(context.Background(), nil, in)
		require.NoError(t, err)
		assert.Len(t, sink.Results(), 3)
	})
}

func TestRun_ResumeFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	in := items(3)

	sink := reporting.NewMemorySink()
	require.NoError(t, sink.Emit(ctx, completed(in[0])))
	require.NoError(t, sink.Emit(ctx, schemas.TaskResult{WorkItem: in[1], FinalStatus: schemas.StatusAborted}))

	runner := &mockRunner{}
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(func(_ context.Context, item schemas.WorkItem) schemas.TaskResult {
		return completed(item)
	})
	cfg := pipelineConfig()
	cfg.Resume = true
	p := newPipeline(t, cfg, runner, sink, &sleepLog{})

	results, err := p.Run(ctx, nil, in)
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusSkipped, results[0].FinalStatus)
	assert.Equal(t, []int{2, 3}, runner.order, "only completed URLs are skipped")
}

func TestRun_ResumeWithoutCheckpointer(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(func(_ context.Context, item schemas.WorkItem) schemas.TaskResult {
		return completed(item)
	})
	cfg := pipelineConfig()
	cfg.Resume = true
	p, err := New(cfg, zap.New(core), runner, reporting.NewTextSink(nopCloser{}), WithSleep((&sleepLog{}).sleep))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), nil, items(1))
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("Resume requested, but the sink keeps no checkpoint.").Len())
}

type nopCloser struct{}

func (nopCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopCloser) Close() error                { return nil }

type brokenSink struct {
	*reporting.MemorySink
}

func (brokenSink) Flush(context.Context) error { return errors.New("disk full") }

func TestRun_FlushErrorsAreReported(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(func(_ context.Context, item schemas.WorkItem) schemas.TaskResult {
		return completed(item)
	})
	p := newPipeline(t, pipelineConfig(), runner, brokenSink{reporting.NewMemorySink()}, &sleepLog{})

	results, err := p.Run(context.Background(), nil, items(2))
	assert.ErrorContains(t, err, "disk full")
	assert.Len(t, results, 2, "a sink failure does not stop processing")
}

func TestRun_RejectsReentry(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(func(_ context.Context, item schemas.WorkItem) schemas.TaskResult {
		close(started)
		<-release
		return completed(item)
	})
	p := newPipeline(t, pipelineConfig(), runner, reporting.NewMemorySink(), &sleepLog{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = p.Run(context.Background(), nil, items(1))
	}()
	<-started
	_, err := p.Run(context.Background(), nil, items(1))
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	close(release)
	wg.Wait()
}

func TestRun_SummaryLog(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(func(_ context.Context, item schemas.WorkItem) schemas.TaskResult {
		res := completed(item)
		if item.Index == 1 {
			res.FinalStatus = schemas.StatusSubmissionFailed
		}
		return res
	})
	p, err := New(pipelineConfig(), zap.New(core), runner, reporting.NewMemorySink(), WithSleep((&sleepLog{}).sleep))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), nil, items(4))
	require.NoError(t, err)

	entries := logs.FilterMessage("Pipeline finished.").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.EqualValues(t, 4, fields["total"])
	assert.EqualValues(t, 3, fields["completed"])
	assert.Equal(t, "75.00%", fields["success_rate"])
}
