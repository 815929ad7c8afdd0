// internal/browser/throttle.go
package browser

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// NewNavigationLimiter allows perMinute navigations per minute with no burst.
// A non-positive rate disables limiting and returns nil.
func NewNavigationLimiter(perMinute float64) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perMinute/60.0), 1)
}

// throttledPage gates Goto through a rate limiter; every other call passes through.
type throttledPage struct {
	Page
	limiter *rate.Limiter
}

// Throttle wraps p so that navigations respect limiter. A nil limiter returns p unchanged.
func Throttle(p Page, limiter *rate.Limiter) Page {
	if limiter == nil {
		return p
	}
	return &throttledPage{Page: p, limiter: limiter}
}

func (t *throttledPage) Goto(ctx context.Context, url string, policy WaitPolicy) error {
	if err := t.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("navigation rate limit: %w", err)
	}
	return t.Page.Goto(ctx, url, policy)
}
