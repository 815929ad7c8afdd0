// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/studypilot/api/schemas"
	"github.com/xkilldash9x/studypilot/internal/browser"
	"github.com/xkilldash9x/studypilot/internal/config"
	"github.com/xkilldash9x/studypilot/internal/observability"
	"github.com/xkilldash9x/studypilot/internal/reporting"
)

// ErrAlreadyRunning is returned when Run is called on a busy pipeline.
var ErrAlreadyRunning = errors.New("pipeline is already running")

// persistTimeout bounds the final flush, which runs even after cancellation.
const persistTimeout = 30 * time.Second

// -- Interfaces for Dependency Inversion --

// Runner drives one WorkItem to its TaskResult. *workflow.Machine implements it.
type Runner interface {
	Run(ctx context.Context, page browser.Page, item schemas.WorkItem) schemas.TaskResult
}

// ResultRecorder observes every result. *metrics.Metrics implements it.
type ResultRecorder interface {
	Result(schemas.TaskResult)
}

// Pipeline feeds WorkItems through a Runner one at a time against a single
// page and hands each TaskResult to a Sink in input order.
type Pipeline struct {
	cfg     config.PipelineConfig
	logger  *zap.Logger
	runner  Runner
	sink    reporting.Sink
	results ResultRecorder
	sleep   func(context.Context, time.Duration) error
	randN   func(n int64) int64
	now     func() time.Time
	newID   func() string

	// stateLock protects the running state; a page must never be driven twice.
	stateLock sync.Mutex
	isRunning bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithResultRecorder reports every result to rec.
func WithResultRecorder(rec ResultRecorder) Option {
	return func(p *Pipeline) { p.results = rec }
}

// WithSleep replaces the cancellable sleep used for pacing.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = sleep }
}

// WithRand replaces the random source for pacing. randN returns a value in [0, n).
func WithRand(randN func(n int64) int64) Option {
	return func(p *Pipeline) { p.randN = randN }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithRunID fixes the run identifier stamped on results.
func WithRunID(id string) Option {
	return func(p *Pipeline) { p.newID = func() string { return id } }
}

// New creates a Pipeline.
func New(cfg config.PipelineConfig, logger *zap.Logger, runner Runner, sink reporting.Sink, opts ...Option) (*Pipeline, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if runner == nil {
		return nil, errors.New("runner cannot be nil")
	}
	if sink == nil {
		return nil, errors.New("sink cannot be nil")
	}
	if cfg.PacingMax < cfg.PacingMin {
		return nil, fmt.Errorf("pacing range is inverted: %s > %s", cfg.PacingMin, cfg.PacingMax)
	}
	p := &Pipeline{
		cfg:    cfg,
		logger: logger.Named("pipeline"),
		runner: runner,
		sink:   sink,
		sleep:  sleepCtx,
		randN:  rand.Int64N,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run processes items and returns their results in input order.
func (p *Pipeline) Run(ctx context.Context, page browser.Page, items []schemas.WorkItem) ([]schemas.TaskResult, error) {
	results := make([]schemas.TaskResult, 0, len(items))
	err := p.Stream(ctx, page, items, func(res schemas.TaskResult) {
		results = append(results, res)
	})
	return results, err
}

// Stream processes items, calling fn with each result as soon as the item
// finishes. Items already marked complete, or recorded as completed by a
// checkpointing sink when resuming, yield a Skipped result without touching
// the page.
//
// Cancellation is checked at the top of every iteration: the item in flight
// finishes as Aborted, later items yield nothing, and the error wraps
// context.Canceled. A lost session stops the run after the failing item with
// ErrSessionLost. Results are flushed every FlushEvery emissions and once at
// the end, whatever the outcome.
func (p *Pipeline) Stream(ctx context.Context, page browser.Page, items []schemas.WorkItem, fn func(schemas.TaskResult)) (err error) {
	p.stateLock.Lock()
	if p.isRunning {
		p.stateLock.Unlock()
		p.logger.Warn("Pipeline.Stream called, but the pipeline is already running.")
		return ErrAlreadyRunning
	}
	p.isRunning = true
	p.stateLock.Unlock()
	defer func() {
		p.stateLock.Lock()
		p.isRunning = false
		p.stateLock.Unlock()
	}()

	run := &pipelineRun{p: p, id: p.newID(), start: p.now(), total: len(items), fn: fn}
	logger := p.logger.With(zap.String("run_id", run.id))
	logger.Info("Starting pipeline.", zap.Int("items", len(items)))

	done := p.checkpoint(ctx, logger)

	var runErr error
	processed := 0
	for _, item := range items {
		if cerr := ctx.Err(); cerr != nil {
			runErr = cerr
			break
		}

		if item.Marked || done[item.TargetURL] {
			run.skip(ctx, logger, item)
			continue
		}

		if processed > 0 {
			if serr := p.sleep(ctx, p.pace()); serr != nil {
				runErr = serr
				break
			}
		}
		processed++

		res := p.runner.Run(ctx, page, item)
		res.RunID = run.id
		run.emit(ctx, logger, res, true)

		if res.Reason == schemas.ReasonSessionLost {
			runErr = fmt.Errorf("item %d: %w", item.Index, schemas.ErrSessionLost)
			break
		}
		if res.Reason == schemas.ReasonCanceled {
			if cerr := ctx.Err(); cerr != nil {
				runErr = cerr
			} else {
				runErr = context.Canceled
			}
			break
		}
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if ferr := p.sink.Flush(flushCtx); ferr != nil {
		logger.Error("Final flush failed.", zap.Error(ferr))
		run.sinkErr = errors.Join(run.sinkErr, ferr)
	}

	run.summarize(logger, runErr)
	return errors.Join(runErr, run.sinkErr)
}

// checkpoint loads the URLs a previous run completed, when resuming.
func (p *Pipeline) checkpoint(ctx context.Context, logger *zap.Logger) map[string]bool {
	if !p.cfg.Resume {
		return nil
	}
	cp, ok := p.sink.(reporting.Checkpointer)
	if !ok {
		logger.Warn("Resume requested, but the sink keeps no checkpoint.")
		return nil
	}
	seen, err := cp.Checkpoint(ctx)
	if err != nil {
		logger.Warn("Could not read checkpoint, processing everything.", zap.Error(err))
		return nil
	}
	done := make(map[string]bool, len(seen))
	for u, status := range seen {
		if status == schemas.StatusCompleted {
			done[u] = true
		}
	}
	logger.Info("Resuming from checkpoint.", zap.Int("completed", len(done)))
	return done
}

// pace picks the pause before the next item.
func (p *Pipeline) pace() time.Duration {
	lo, hi := p.cfg.PacingMin, p.cfg.PacingMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(p.randN(int64(hi-lo)+1))
}

// pipelineRun is the bookkeeping of one Stream call.
type pipelineRun struct {
	p       *Pipeline
	id      string
	start   time.Time
	total   int
	fn      func(schemas.TaskResult)
	sinkErr error

	unflushed int
	counts    map[schemas.FinalStatus]int
	degraded  int
}

// skip reports an item that needs no work.
func (r *pipelineRun) skip(ctx context.Context, logger *zap.Logger, item schemas.WorkItem) {
	res := schemas.TaskResult{
		RunID:       r.id,
		WorkItem:    item,
		FinalStatus: schemas.StatusSkipped,
		Reason:      schemas.ReasonAlreadyComplete,
		FinishedAt:  r.p.now(),
	}
	logger.Debug("Skipping completed item.", observability.ItemFields(item)...)
	r.emit(ctx, logger, res, r.p.cfg.EmitSkipped)
}

// emit hands res to the caller and, when toSink is set, to the sink,
// flushing on the configured cadence.
func (r *pipelineRun) emit(ctx context.Context, logger *zap.Logger, res schemas.TaskResult, toSink bool) {
	if r.counts == nil {
		r.counts = make(map[schemas.FinalStatus]int)
	}
	r.counts[res.FinalStatus]++
	if res.Degraded {
		r.degraded++
	}
	if r.p.results != nil {
		r.p.results.Result(res)
	}
	if r.fn != nil {
		r.fn(res)
	}
	if res.FinalStatus != schemas.StatusSkipped {
		logger.Info("Item finished.", observability.ResultFields(res)...)
	}
	if !toSink {
		return
	}

	// Emission must not be cut short by the cancellation that produced an Aborted result.
	sinkCtx := context.WithoutCancel(ctx)
	if err := r.p.sink.Emit(sinkCtx, res); err != nil {
		logger.Error("Failed to emit result.", zap.Int("item_index", res.WorkItem.Index), zap.Error(err))
		r.sinkErr = errors.Join(r.sinkErr, err)
		return
	}
	r.unflushed++
	if r.p.cfg.FlushEvery > 0 && r.unflushed >= r.p.cfg.FlushEvery {
		flushCtx, cancel := context.WithTimeout(sinkCtx, persistTimeout)
		defer cancel()
		if err := r.p.sink.Flush(flushCtx); err != nil {
			logger.Error("Periodic flush failed.", zap.Error(err))
			r.sinkErr = errors.Join(r.sinkErr, err)
			return
		}
		logger.Debug("Flushed results.", zap.Int("count", r.unflushed))
		r.unflushed = 0
	}
}

func (r *pipelineRun) summarize(logger *zap.Logger, runErr error) {
	completed := r.counts[schemas.StatusCompleted]
	attempted := r.total - r.counts[schemas.StatusSkipped]
	rate := 0.0
	if attempted > 0 {
		rate = float64(completed) / float64(attempted) * 100
	}
	fields := []zap.Field{
		zap.Int("total", r.total),
		zap.Int("completed", completed),
		zap.Int("submission_failed", r.counts[schemas.StatusSubmissionFailed]),
		zap.Int("aborted", r.counts[schemas.StatusAborted]),
		zap.Int("skipped", r.counts[schemas.StatusSkipped]),
		zap.Int("degraded", r.degraded),
		zap.String("success_rate", fmt.Sprintf("%.2f%%", rate)),
		zap.Duration("elapsed", r.p.now().Sub(r.start)),
	}
	if runErr != nil {
		logger.Warn("Pipeline stopped early.", append(fields, zap.Error(runErr))...)
		return
	}
	logger.Info("Pipeline finished.", fields...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
