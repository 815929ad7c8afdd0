// internal/workflow/machine.go
package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/studypilot/api/schemas"
	"github.com/xkilldash9x/studypilot/internal/browser"
	"github.com/xkilldash9x/studypilot/internal/config"
	"github.com/xkilldash9x/studypilot/internal/observability"
	"github.com/xkilldash9x/studypilot/internal/resolver"
)

// StepRecorder observes every transition. *metrics.Metrics satisfies it.
type StepRecorder interface {
	Step(schemas.StepOutcome)
}

// Machine drives a single WorkItem through
// Idle → Navigating → AwaitingReady → Extracting → Acting → AwaitingSettled → Done,
// or into Failed from any of them. A Machine holds configuration only and can
// run any number of items, one after the other.
type Machine struct {
	logger   *zap.Logger
	resolver *resolver.Resolver
	catalog  resolver.Catalog
	cfg      config.WorkflowConfig
	base     *url.URL
	debugDir string
	steps    StepRecorder
	sleep    func(context.Context, time.Duration) error
	now      func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithBaseURL sets the origin that deep links extracted from finish controls
// are resolved against. Without it they resolve against the current page.
func WithBaseURL(raw string) Option {
	return func(m *Machine) {
		if u, err := url.Parse(raw); err == nil && u.IsAbs() {
			m.base = u
		}
	}
}

// WithDebugDir enables page dumps for failed items when the configuration asks for them.
func WithDebugDir(dir string) Option {
	return func(m *Machine) { m.debugDir = dir }
}

// WithStepRecorder reports every transition to rec.
func WithStepRecorder(rec StepRecorder) Option {
	return func(m *Machine) { m.steps = rec }
}

// WithSleep replaces the cancellable sleep used for backoff and dwell.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(m *Machine) { m.sleep = sleep }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// New creates a Machine.
func New(logger *zap.Logger, res *resolver.Resolver, catalog resolver.Catalog, cfg config.WorkflowConfig, opts ...Option) *Machine {
	if cfg.NavigationRetries < 1 {
		cfg.NavigationRetries = 1
	}
	if cfg.DwellPoll <= 0 {
		cfg.DwellPoll = 5 * time.Second
	}
	m := &Machine{
		logger:   logger.Named("workflow"),
		resolver: res,
		catalog:  catalog,
		cfg:      cfg,
		sleep:    Sleep,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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

// itemRun is the mutable state of one Run call.
type itemRun struct {
	m      *Machine
	page   browser.Page
	item   schemas.WorkItem
	logger *zap.Logger
	res    schemas.TaskResult
	count  *int
	final  schemas.FinalStatus
	reason schemas.FailureReason
}

// Run processes item and always returns exactly one TaskResult. Cancellation
// is observed before every transition; a canceled item finishes as Aborted.
func (m *Machine) Run(ctx context.Context, page browser.Page, item schemas.WorkItem) schemas.TaskResult {
	r := &itemRun{
		m:      m,
		page:   page,
		item:   item,
		logger: m.logger.With(observability.ItemFields(item)...),
		res:    schemas.TaskResult{WorkItem: item},
		final:  schemas.StatusCompleted,
	}

	phase := schemas.PhaseIdle
	for !phase.Terminal() {
		if err := ctx.Err(); err != nil {
			r.fail(ctx, phase, err, 0)
			break
		}
		start := m.now()
		next, detail, degraded, err := r.transition(ctx, phase)
		elapsed := m.now().Sub(start)
		if err != nil {
			r.fail(ctx, phase, err, elapsed)
			break
		}
		if phase != schemas.PhaseIdle {
			r.record(schemas.StepOutcome{Phase: phase, Status: schemas.StepSuccess, Detail: detail, Elapsed: elapsed, Degraded: degraded})
		}
		phase = next
	}

	if r.res.FinalStatus == "" {
		r.res.FinalStatus, r.res.Reason = r.final, r.reason
	}
	r.res.FinishedAt = m.now()
	return r.res
}

func (r *itemRun) transition(ctx context.Context, phase schemas.Phase) (next schemas.Phase, detail string, degraded bool, err error) {
	switch phase {
	case schemas.PhaseIdle:
		return schemas.PhaseNavigating, "", false, nil
	case schemas.PhaseNavigating:
		detail, err = r.navigate(ctx)
		return schemas.PhaseAwaitingReady, detail, false, err
	case schemas.PhaseAwaitingReady:
		detail, err = r.awaitReady(ctx)
		return schemas.PhaseExtracting, detail, false, err
	case schemas.PhaseExtracting:
		detail, degraded, err = r.extract(ctx)
		return schemas.PhaseActing, detail, degraded, err
	case schemas.PhaseActing:
		detail, degraded, err = r.act(ctx)
		return schemas.PhaseAwaitingSettled, detail, degraded, err
	case schemas.PhaseAwaitingSettled:
		detail, degraded, err = r.settle(ctx)
		return schemas.PhaseDone, detail, degraded, err
	}
	return schemas.PhaseFailed, "", false, fmt.Errorf("no transition out of phase %q", phase)
}

func (r *itemRun) record(o schemas.StepOutcome) {
	r.res.Outcomes = append(r.res.Outcomes, o)
	if o.Degraded {
		r.res.Degraded = true
	}
	if r.m.steps != nil {
		r.m.steps.Step(o)
	}
}

// fail finalizes the item from the phase that failed.
func (r *itemRun) fail(ctx context.Context, phase schemas.Phase, err error, elapsed time.Duration) {
	status, reason := classify(ctx, phase, err)
	r.res.FinalStatus, r.res.Reason = status, reason
	r.record(schemas.StepOutcome{Phase: phase, Status: schemas.StepFatal, Detail: err.Error(), Elapsed: elapsed})

	fields := []zap.Field{zap.String("phase", string(phase)), zap.String("status", string(status)), zap.String("reason", string(reason)), zap.Error(err)}
	if reason == schemas.ReasonCanceled {
		r.logger.Warn("Item canceled.", fields...)
		return
	}
	r.logger.Error("Item failed.", fields...)
	if reason != schemas.ReasonSessionLost {
		r.dump(ctx)
	}
}

// classify maps a failure onto the final status and reason. Failures before
// the page is ready abort the item; later ones mean the submission failed.
func classify(ctx context.Context, phase schemas.Phase, err error) (schemas.FinalStatus, schemas.FailureReason) {
	byPhase := schemas.StatusSubmissionFailed
	switch phase {
	case schemas.PhaseIdle, schemas.PhaseNavigating, schemas.PhaseAwaitingReady:
		byPhase = schemas.StatusAborted
	}

	switch {
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return schemas.StatusAborted, schemas.ReasonCanceled
	case errors.Is(err, schemas.ErrSessionLost):
		return byPhase, schemas.ReasonSessionLost
	case errors.Is(err, schemas.ErrNavigationExhausted):
		return schemas.StatusAborted, schemas.ReasonNavigationExhausted
	case errors.Is(err, schemas.ErrNotReady):
		return schemas.StatusAborted, schemas.ReasonNotReady
	case errors.Is(err, schemas.ErrNotFound):
		return byPhase, schemas.ReasonActionNotFound
	}
	return byPhase, schemas.ReasonNone
}

// fatal tells errors that must end the item from soft failures.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, schemas.ErrSessionLost)
}
