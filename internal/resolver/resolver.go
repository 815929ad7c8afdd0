// internal/resolver/resolver.go
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/studypilot/api/schemas"
	"github.com/xkilldash9x/studypilot/internal/browser"
)

// DefaultStrategyTimeout bounds a single strategy attempt.
const DefaultStrategyTimeout = 3 * time.Second

// Outcomes reported to a Recorder.
const (
	OutcomeFound    = "found"
	OutcomeDegraded = "degraded"
	OutcomeNotFound = "not_found"
)

// Recorder receives one call per resolution. *metrics.Metrics satisfies it.
type Recorder interface {
	Resolution(role, strategy, outcome string)
}

// Resolution is the element (or position) a chain resolved to.
type Resolution struct {
	Role     string
	Strategy Strategy
	// Index is the position of Strategy in its chain.
	Index    int
	Ref      browser.ElementRef
	Point    *Point
	Degraded bool
}

// Click acts on the resolution: a coordinate click for positional strategies,
// an element click otherwise.
func (r Resolution) Click(ctx context.Context, page browser.Page, opts browser.ClickOptions) error {
	if r.Point != nil {
		return page.ClickAt(ctx, r.Point.X, r.Point.Y)
	}
	return page.Click(ctx, r.Ref, opts)
}

// Resolver walks strategy chains. It keeps no state between calls.
type Resolver struct {
	logger   *zap.Logger
	timeout  time.Duration
	recorder Recorder
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithStrategyTimeout sets the per-strategy budget.
func WithStrategyTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRecorder reports every resolution to rec.
func WithRecorder(rec Recorder) Option {
	return func(r *Resolver) { r.recorder = rec }
}

// New creates a Resolver.
func New(logger *zap.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		logger:  logger.Named("resolver"),
		timeout: DefaultStrategyTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve tries the strategies of chain strictly in order and returns the
// first visible match (enabled too, for interactive strategies). A strategy
// that errors or runs out of time counts as a non-match. Cancellation and a
// lost session end the walk immediately. An exhausted chain returns a
// *schemas.ResolutionError naming every strategy tried.
func (r *Resolver) Resolve(ctx context.Context, page browser.Page, role string, chain []Strategy) (Resolution, error) {
	tried := make([]string, 0, len(chain))
	for i, s := range chain {
		if err := ctx.Err(); err != nil {
			return Resolution{}, err
		}
		tried = append(tried, s.Name)

		if s.IsCoordinate() {
			if !s.Interactive {
				continue
			}
			pt, err := r.position(ctx, page, *s.Coordinates)
			if err != nil {
				if fatal(ctx, err) {
					return Resolution{}, err
				}
				r.logger.Debug("Coordinate strategy unavailable.", zap.String("role", role), zap.String("strategy", s.Name), zap.Error(err))
				continue
			}
			r.logger.Warn("Falling back to a coordinate click.",
				zap.String("role", role),
				zap.String("strategy", s.Name),
				zap.Float64("x", pt.X),
				zap.Float64("y", pt.Y),
				zap.Strings("tried", tried))
			r.record(role, s.Name, OutcomeDegraded)
			return Resolution{Role: role, Strategy: s, Index: i, Point: &pt, Degraded: true}, nil
		}

		refs, err := r.matches(ctx, page, s, true)
		if err != nil {
			if fatal(ctx, err) {
				return Resolution{}, err
			}
			r.logger.Debug("Strategy failed.", zap.String("role", role), zap.String("strategy", s.Name), zap.Error(err))
			continue
		}
		if len(refs) == 0 {
			continue
		}

		res := Resolution{Role: role, Strategy: s, Index: i, Ref: refs[0], Degraded: s.Degraded}
		outcome := OutcomeFound
		if s.Degraded {
			outcome = OutcomeDegraded
			r.logger.Warn("Resolved through a degraded strategy.", zap.String("role", role), zap.String("strategy", s.Name))
		} else {
			r.logger.Debug("Resolved.", zap.String("role", role), zap.String("strategy", s.Name), zap.Int("position", i))
		}
		r.record(role, s.Name, outcome)
		return res, nil
	}
	return Resolution{}, r.exhausted(role, tried)
}

// ResolveAll returns every acceptable element of the first strategy in chain
// that matches anything. Coordinate strategies are ignored.
func (r *Resolver) ResolveAll(ctx context.Context, page browser.Page, role string, chain []Strategy) ([]Resolution, error) {
	tried := make([]string, 0, len(chain))
	for i, s := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.IsCoordinate() {
			continue
		}
		tried = append(tried, s.Name)

		refs, err := r.matches(ctx, page, s, false)
		if err != nil {
			if fatal(ctx, err) {
				return nil, err
			}
			r.logger.Debug("Strategy failed.", zap.String("role", role), zap.String("strategy", s.Name), zap.Error(err))
			continue
		}
		if len(refs) == 0 {
			continue
		}
		out := make([]Resolution, len(refs))
		for j, ref := range refs {
			out[j] = Resolution{Role: role, Strategy: s, Index: i, Ref: ref, Degraded: s.Degraded}
		}
		r.logger.Debug("Resolved all.", zap.String("role", role), zap.String("strategy", s.Name), zap.Int("count", len(out)))
		r.record(role, s.Name, OutcomeFound)
		return out, nil
	}
	return nil, r.exhausted(role, tried)
}

func (r *Resolver) exhausted(role string, tried []string) error {
	r.logger.Warn("No strategy resolved the role.", zap.String("role", role), zap.Strings("tried", tried))
	r.record(role, "", OutcomeNotFound)
	return &schemas.ResolutionError{Role: role, Tried: tried}
}

// matches runs one strategy under its own deadline. With first set it stops
// at the first acceptable element.
func (r *Resolver) matches(ctx context.Context, page browser.Page, s Strategy, first bool) ([]browser.ElementRef, error) {
	sctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	refs, err := page.Locate(sctx, s.Locator)
	if err != nil {
		return nil, err
	}
	var out []browser.ElementRef
	for _, ref := range refs {
		ok, err := acceptable(sctx, page, s, ref)
		if err != nil {
			if errors.Is(err, browser.ErrStaleElement) {
				continue
			}
			return out, err
		}
		if !ok {
			continue
		}
		out = append(out, ref)
		if first {
			break
		}
	}
	return out, nil
}

func acceptable(ctx context.Context, page browser.Page, s Strategy, ref browser.ElementRef) (bool, error) {
	if !s.AllowHidden {
		visible, err := page.Visible(ctx, ref)
		if err != nil || !visible {
			return false, err
		}
	}
	if s.Interactive {
		return page.Enabled(ctx, ref)
	}
	return true, nil
}

func (r *Resolver) position(ctx context.Context, page browser.Page, p Point) (Point, error) {
	if !p.Fraction {
		return p, nil
	}
	sctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	vp, err := page.Viewport(sctx)
	if err != nil {
		return Point{}, fmt.Errorf("reading viewport: %w", err)
	}
	return p.Absolute(vp), nil
}

func (r *Resolver) record(role, strategy, outcome string) {
	if r.recorder != nil {
		r.recorder.Resolution(role, strategy, outcome)
	}
}

// fatal separates errors that end the walk from ordinary non-matches: the
// caller's context is done, or the session is gone.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, schemas.ErrSessionLost)
}
