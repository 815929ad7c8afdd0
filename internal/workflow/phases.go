// internal/workflow/phases.go
package workflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"github.com/xkilldash9x/studypilot/api/schemas"
	"github.com/xkilldash9x/studypilot/internal/browser"
	"github.com/xkilldash9x/studypilot/internal/resolver"
)

// progressPattern reads the level count of a practice page, e.g. "（共 12 关）".
var progressPattern = regexp.MustCompile(`[（(]\s*共\s*(\d+)\s*关\s*[)）]`)

// ParseProgressCount extracts the level count from a progress marker text.
func ParseProgressCount(text string) (int, bool) {
	m := progressPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// navigate loads the target, retrying failed attempts after a backoff.
func (r *itemRun) navigate(ctx context.Context) (string, error) {
	cfg := r.m.cfg
	var lastErr error
	for attempt := 1; attempt <= cfg.NavigationRetries; attempt++ {
		r.res.Attempts = attempt
		start := r.m.now()

		navCtx, cancel := context.WithTimeout(ctx, cfg.NavigationTimeout)
		err := r.page.Goto(navCtx, r.item.TargetURL, browser.WaitDOMContentLoaded)
		cancel()
		if err == nil {
			return fmt.Sprintf("loaded on attempt %d", attempt), nil
		}
		if fatal(ctx, err) {
			return "", err
		}

		lastErr = err
		r.record(schemas.StepOutcome{Phase: schemas.PhaseNavigating, Status: schemas.StepRetryable, Detail: err.Error(), Elapsed: r.m.now().Sub(start)})
		r.logger.Warn("Navigation attempt failed.",
			zap.Int("attempt", attempt),
			zap.Int("budget", cfg.NavigationRetries),
			zap.Error(err))

		if attempt < cfg.NavigationRetries {
			if err := r.m.sleep(ctx, cfg.NavigationBackoff); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("%w after %d attempts: %v", schemas.ErrNavigationExhausted, cfg.NavigationRetries, lastErr)
}

// awaitReady waits for the load state the page kind needs. A page that never
// gets there is not retried, since the navigation itself already happened.
func (r *itemRun) awaitReady(ctx context.Context) (string, error) {
	policy := browser.WaitNetworkIdle
	if r.item.PageKind == schemas.PageKindPractice {
		policy = browser.WaitDOMContentLoaded
	}
	if err := r.page.WaitFor(ctx, browser.Condition{State: policy}, r.m.cfg.ReadyTimeout); err != nil {
		if errors.Is(err, schemas.ErrTimeout) {
			return "", fmt.Errorf("%w: %v", schemas.ErrNotReady, err)
		}
		return "", err
	}
	if policy == browser.WaitNetworkIdle {
		return "network idle", nil
	}

	// Practice forms are usable once parsed; idle is only worth a bounded wait.
	if err := r.page.WaitFor(ctx, browser.Condition{State: browser.WaitNetworkIdle}, r.m.cfg.ReadyTimeout); err != nil {
		if fatal(ctx, err) {
			return "", err
		}
		r.logger.Warn("Practice page still busy, continuing.", zap.Error(err))
		return "dom ready, network busy", nil
	}
	return "network idle", nil
}

// extract reads the progress count. Its absence is recoverable; it only
// matters on practice pages.
func (r *itemRun) extract(ctx context.Context) (string, bool, error) {
	practice := r.item.PageKind == schemas.PageKindPractice
	res, err := r.m.resolver.Resolve(ctx, r.page, resolver.RoleProgressMarker, r.m.catalog.Chain(resolver.RoleProgressMarker))
	if err != nil {
		if fatal(ctx, err) {
			return "", false, err
		}
		if practice {
			r.logger.Warn("No progress marker, continuing without a count.", zap.Error(err))
		}
		return "no progress marker", practice, nil
	}

	text, err := r.page.Text(ctx, res.Ref)
	if err != nil {
		if fatal(ctx, err) {
			return "", false, err
		}
		r.logger.Warn("Progress marker unreadable.", zap.Error(err))
		return "progress marker unreadable", practice, nil
	}
	n, ok := ParseProgressCount(text)
	if !ok {
		r.logger.Warn("Progress marker has no count.", zap.String("text", text))
		return "progress marker has no count", practice, nil
	}
	r.count = &n
	r.res.ProgressCount = &n
	return fmt.Sprintf("progress count %d", n), false, nil
}

func (r *itemRun) act(ctx context.Context) (string, bool, error) {
	if r.item.PageKind == schemas.PageKindPractice {
		return r.actPractice(ctx)
	}
	return r.actStudy(ctx)
}

// actPractice jumps the hidden step field past the last level and submits.
func (r *itemRun) actPractice(ctx context.Context) (string, bool, error) {
	if r.count == nil {
		return "", false, fmt.Errorf("cannot advance progress without a count: %w", schemas.ErrNotFound)
	}
	field, err := r.m.resolver.Resolve(ctx, r.page, resolver.RoleProgressField, r.m.catalog.Chain(resolver.RoleProgressField))
	if err != nil {
		return "", false, fmt.Errorf("progress field: %w", err)
	}
	step := strconv.Itoa(*r.count + 1)
	if err := r.page.Fill(ctx, field.Ref, step); err != nil {
		return "", false, fmt.Errorf("setting progress field: %w", err)
	}

	submit, err := r.m.resolver.Resolve(ctx, r.page, resolver.RoleProgressSubmit, r.m.catalog.Chain(resolver.RoleProgressSubmit))
	if err != nil {
		return "", false, fmt.Errorf("progress submit: %w", err)
	}
	if err := submit.Click(ctx, r.page, browser.ClickOptions{}); err != nil {
		return "", false, fmt.Errorf("submitting progress: %w", err)
	}
	r.logger.Info("Progress submitted.", zap.String("step", step), zap.String("strategy", submit.Strategy.Name))
	return "step set to " + step, submit.Degraded, nil
}

// actStudy waits out the dwell time and then uses the finish control,
// preferring its deep link over a click.
func (r *itemRun) actStudy(ctx context.Context) (string, bool, error) {
	if err := r.dwell(ctx); err != nil {
		return "", false, err
	}

	finish, err := r.m.resolver.Resolve(ctx, r.page, resolver.RoleFinishControl, r.m.catalog.Chain(resolver.RoleFinishControl))
	if err != nil {
		return "", false, fmt.Errorf("finish control: %w", err)
	}

	if finish.Point == nil {
		if link, ok := r.deepLink(ctx, finish.Ref); ok {
			err := r.page.Goto(ctx, link, browser.WaitDOMContentLoaded)
			if err == nil {
				r.logger.Info("Followed finish deep link.", zap.String("target", link), zap.String("strategy", finish.Strategy.Name))
				return "followed deep link " + link, false, nil
			}
			if fatal(ctx, err) {
				return "", false, err
			}
			r.logger.Warn("Deep link navigation failed, clicking instead.", zap.String("target", link), zap.Error(err))
		}
	}

	if err := finish.Click(ctx, r.page, browser.ClickOptions{Force: true}); err != nil {
		return "", false, fmt.Errorf("clicking finish control: %w", err)
	}
	r.logger.Info("Finish control clicked.", zap.String("strategy", finish.Strategy.Name), zap.Bool("degraded", finish.Degraded))
	return "clicked " + finish.Strategy.Name, finish.Degraded, nil
}

// dwell keeps the study page open for the configured time, watching for the
// tab going away.
func (r *itemRun) dwell(ctx context.Context) error {
	remaining := r.m.cfg.StudyDwell
	if remaining <= 0 {
		return nil
	}
	r.logger.Info("Dwelling on study page.", zap.Duration("dwell", remaining))
	for remaining > 0 {
		if r.page.IsClosed() {
			return fmt.Errorf("tab closed during dwell: %w", schemas.ErrSessionLost)
		}
		step := min(r.m.cfg.DwellPoll, remaining)
		if err := r.m.sleep(ctx, step); err != nil {
			return err
		}
		remaining -= step
	}
	if r.page.IsClosed() {
		return fmt.Errorf("tab closed during dwell: %w", schemas.ErrSessionLost)
	}
	return nil
}

func (r *itemRun) deepLink(ctx context.Context, ref browser.ElementRef) (string, bool) {
	onclick, ok, err := r.page.Attribute(ctx, ref, "onclick")
	if err != nil || !ok {
		return "", false
	}
	base := r.m.base
	if base == nil {
		current, err := r.page.URL(ctx)
		if err != nil {
			return "", false
		}
		if base, err = parseAbsolute(current); err != nil {
			return "", false
		}
	}
	return DeepLink(onclick, base)
}

// settle waits for the page to calm down after acting. On survey pages it
// then answers and submits the survey.
func (r *itemRun) settle(ctx context.Context) (string, bool, error) {
	if err := r.waitIdle(ctx, "action"); err != nil {
		return "", false, err
	}
	if r.item.PageKind == schemas.PageKindPractice {
		return "progress accepted", false, nil
	}

	isSurvey, err := r.onSurvey(ctx)
	if err != nil {
		return "", false, err
	}
	if !isSurvey {
		r.logger.Info("Finished without a survey.")
		return "no survey", false, nil
	}
	return r.survey(ctx)
}

// waitIdle is a soft wait: running out of time is logged and ignored.
func (r *itemRun) waitIdle(ctx context.Context, after string) error {
	err := r.page.WaitFor(ctx, browser.Condition{State: browser.WaitNetworkIdle}, r.m.cfg.SettleTimeout)
	if err == nil {
		return nil
	}
	if fatal(ctx, err) {
		return err
	}
	r.logger.Warn("Page did not settle, treating as settled.", zap.String("after", after), zap.Error(err))
	return nil
}
