// internal/browser/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/studypilot/api/schemas"
	"github.com/xkilldash9x/studypilot/internal/browser"
	"github.com/xkilldash9x/studypilot/internal/config"
)

const pollInterval = 100 * time.Millisecond

// Session is a browser.Page backed by one Chrome tab driven over CDP.
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	cfg         config.BrowserConfig
	logger      *zap.Logger
	idle        *idleTracker

	generation atomic.Uint64
	closed     atomic.Bool
	closeOnce  sync.Once
}

var _ browser.Page = (*Session)(nil)

// AllocatorOptions translates the browser configuration into Chrome flags.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-popup-blocking", true),
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.Locale != "" {
		opts = append(opts, chromedp.Flag("lang", cfg.Locale))
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight))
	}
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

// New launches Chrome and opens the tab the whole run is driven through.
// Canceling ctx tears the browser down.
func New(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	logger = logger.Named("session")
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg)...)

	ctxOpts := []chromedp.ContextOption{chromedp.WithErrorf(logger.Sugar().Errorf)}
	if cfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(logger.Sugar().Debugf))
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, ctxOpts...)

	s := &Session{
		ctx:         tabCtx,
		cancel:      tabCancel,
		allocCancel: allocCancel,
		cfg:         cfg,
		logger:      logger,
		idle:        newIdleTracker(logger, cfg.NetworkIdle),
	}
	s.generation.Store(1)
	chromedp.ListenTarget(tabCtx, s.onEvent)

	startup := []chromedp.Action{network.Enable()}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		startup = append(startup, chromedp.EmulateViewport(int64(cfg.ViewportWidth), int64(cfg.ViewportHeight)))
	}
	if err := chromedp.Run(tabCtx, startup...); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	logger.Info("Browser session started.", zap.Bool("headless", cfg.Headless))
	return s, nil
}

func (s *Session) onEvent(ev interface{}) {
	s.idle.handle(ev)
	switch e := ev.(type) {
	case *page.EventFrameNavigated:
		if e.Frame != nil && e.Frame.ParentID == "" {
			s.generation.Add(1)
		}
	case *inspector.EventDetached:
		s.markClosed(string(e.Reason))
	case *inspector.EventTargetCrashed:
		s.markClosed("target crashed")
	}
}

func (s *Session) markClosed(reason string) {
	if s.closed.CompareAndSwap(false, true) {
		s.logger.Warn("Browser tab is gone.", zap.String("reason", reason))
	}
}

// Close shuts the tab and the browser down.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(Detach(s.ctx), 5*time.Second)
		defer cancel()
		if !s.IsClosed() {
			if cerr := chromedp.Run(closeCtx, page.Close()); cerr != nil {
				s.logger.Debug("Closing the tab failed.", zap.Error(cerr))
			}
		}
		s.closed.Store(true)
		s.cancel()
		s.allocCancel()
	})
	return nil
}

// IsClosed reports whether the tab can no longer be driven.
func (s *Session) IsClosed() bool {
	return s.closed.Load() || s.ctx.Err() != nil
}

// run executes actions on the tab under the caller's deadline.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.IsClosed() {
		return schemas.ErrSessionLost
	}
	opCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return s.mapErr(ctx, chromedp.Run(opCtx, actions...))
}

// mapErr turns every flavour of "the tab is gone" into ErrSessionLost and
// surfaces the caller's own cancellation unchanged.
func (s *Session) mapErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if s.IsClosed() || isTargetGone(err) {
		s.markClosed(err.Error())
		return fmt.Errorf("%w: %v", schemas.ErrSessionLost, err)
	}
	return err
}

func isTargetGone(err error) bool {
	if errors.Is(err, chromedp.ErrInvalidContext) || errors.Is(err, chromedp.ErrInvalidTarget) || errors.Is(err, chromedp.ErrChannelClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"target closed", "no target with given id", "session with given id not found", "websocket: close"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Goto navigates the tab and waits for the load event. Stricter readiness
// is requested through WaitFor.
func (s *Session) Goto(ctx context.Context, target string, policy browser.WaitPolicy) error {
	s.logger.Debug("Navigating.", zap.String("url", target), zap.String("wait", string(policy)))
	s.idle.reset()
	if err := s.run(ctx, chromedp.Navigate(target)); err != nil {
		if errors.Is(err, schemas.ErrSessionLost) || ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("navigation to %s failed: %w", target, err)
	}
	return nil
}

// WaitFor polls until cond holds or timeout elapses.
func (s *Session) WaitFor(ctx context.Context, cond browser.Condition, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	what := string(cond.State)
	if cond.Locator != nil {
		what = cond.Locator.String()
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		ok, err := s.holds(waitCtx, cond)
		if err != nil && (errors.Is(err, schemas.ErrSessionLost) || ctx.Err() != nil) {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if s.IsClosed() {
				return schemas.ErrSessionLost
			}
			return fmt.Errorf("waiting for %s after %s: %w", what, timeout, schemas.ErrTimeout)
		case <-ticker.C:
		}
	}
}

func (s *Session) holds(ctx context.Context, cond browser.Condition) (bool, error) {
	var state string
	if err := s.run(ctx, chromedp.Evaluate(readyStateJS, &state)); err != nil {
		return false, err
	}
	switch cond.State {
	case browser.WaitDOMContentLoaded:
		if state == "loading" {
			return false, nil
		}
	case browser.WaitLoad, browser.WaitNetworkIdle:
		if state != "complete" {
			return false, nil
		}
	}
	if cond.State == browser.WaitNetworkIdle && !s.idle.idle(time.Now()) {
		return false, nil
	}
	if cond.Locator != nil {
		refs, err := s.Locate(ctx, *cond.Locator)
		if err != nil {
			return false, err
		}
		for _, ref := range refs {
			if vis, err := s.Visible(ctx, ref); err == nil && vis {
				return true, nil
			}
		}
		return false, nil
	}
	return true, nil
}

// Locate tags every match of loc and returns refs in document order.
func (s *Session) Locate(ctx context.Context, loc browser.Locator) ([]browser.ElementRef, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	gen := s.generation.Load()
	expr, err := locateScript(string(loc.Kind), loc.Expr, loc.HasText, gen)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := s.run(ctx, chromedp.Evaluate(expr, &ids)); err != nil {
		return nil, err
	}
	refs := make([]browser.ElementRef, len(ids))
	for i, id := range ids {
		refs[i] = browser.ElementRef{ID: id, Generation: gen}
	}
	return refs, nil
}

type elementResult struct {
	Stale bool            `json:"stale"`
	Error string          `json:"error"`
	Value json.RawMessage `json:"value"`
}

func (s *Session) evalElement(ctx context.Context, ref browser.ElementRef, body string, arg, out interface{}) error {
	if ref.Generation != s.generation.Load() {
		return browser.ErrStaleElement
	}
	expr, err := elementScript(ref.ID, body, arg)
	if err != nil {
		return err
	}
	var raw []byte
	if err := s.run(ctx, chromedp.Evaluate(expr, &raw)); err != nil {
		return err
	}
	var res elementResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("unexpected script result: %w", err)
	}
	switch {
	case res.Stale:
		return browser.ErrStaleElement
	case res.Error != "":
		return errors.New(res.Error)
	case out != nil:
		return json.Unmarshal(res.Value, out)
	}
	return nil
}

// ComputedStyle reads getComputedStyle for the element.
func (s *Session) ComputedStyle(ctx context.Context, ref browser.ElementRef) (browser.ComputedStyle, error) {
	var cs struct {
		Color           string `json:"color"`
		BackgroundColor string `json:"backgroundColor"`
	}
	if err := s.evalElement(ctx, ref, styleBody, nil, &cs); err != nil {
		return browser.ComputedStyle{}, err
	}
	return browser.ComputedStyle{Color: cs.Color, BackgroundColor: cs.BackgroundColor}, nil
}

func (s *Session) Attribute(ctx context.Context, ref browser.ElementRef, name string) (string, bool, error) {
	var res struct {
		OK bool   `json:"ok"`
		V  string `json:"v"`
	}
	if err := s.evalElement(ctx, ref, attributeBody, name, &res); err != nil {
		return "", false, err
	}
	return res.V, res.OK, nil
}

func (s *Session) Text(ctx context.Context, ref browser.ElementRef) (string, error) {
	var text string
	err := s.evalElement(ctx, ref, textBody, nil, &text)
	return text, err
}

func (s *Session) Visible(ctx context.Context, ref browser.ElementRef) (bool, error) {
	var v bool
	err := s.evalElement(ctx, ref, visibleBody, nil, &v)
	return v, err
}

func (s *Session) Enabled(ctx context.Context, ref browser.ElementRef) (bool, error) {
	var v bool
	err := s.evalElement(ctx, ref, enabledBody, nil, &v)
	return v, err
}

// Click scrolls the element into view and clicks its centre with real mouse
// events. Force dispatches a DOM click instead, which works on covered elements.
func (s *Session) Click(ctx context.Context, ref browser.ElementRef, opts browser.ClickOptions) error {
	if opts.Force {
		return s.evalElement(ctx, ref, forceClickBody, nil, nil)
	}
	vis, err := s.Visible(ctx, ref)
	if err != nil {
		return err
	}
	if !vis {
		return fmt.Errorf("element %s is not visible", ref.ID)
	}
	var pt struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := s.evalElement(ctx, ref, centerBody, nil, &pt); err != nil {
		return err
	}
	return s.ClickAt(ctx, pt.X, pt.Y)
}

// ClickAt presses and releases the left button at viewport coordinates.
func (s *Session) ClickAt(ctx context.Context, x, y float64) error {
	return s.run(ctx,
		input.DispatchMouseEvent(input.MouseMoved, x, y),
		input.DispatchMouseEvent(input.MousePressed, x, y).WithButton(input.Left).WithButtons(1).WithClickCount(1),
		input.DispatchMouseEvent(input.MouseReleased, x, y).WithButton(input.Left).WithClickCount(1),
	)
}

func (s *Session) Fill(ctx context.Context, ref browser.ElementRef, value string) error {
	return s.evalElement(ctx, ref, fillBody, value, nil)
}

func (s *Session) SelectOption(ctx context.Context, ref browser.ElementRef, value string) error {
	return s.evalElement(ctx, ref, selectBody, value, nil)
}

func (s *Session) Viewport(ctx context.Context) (browser.Viewport, error) {
	var vp browser.Viewport
	var raw struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	if err := s.run(ctx, chromedp.Evaluate(viewportJS, &raw)); err != nil {
		return vp, err
	}
	vp.Width, vp.Height = raw.Width, raw.Height
	return vp, nil
}

func (s *Session) Content(ctx context.Context) (string, error) {
	var out string
	err := s.run(ctx, chromedp.OuterHTML("html", &out, chromedp.ByQuery))
	return out, err
}

func (s *Session) URL(ctx context.Context) (string, error) {
	var out string
	err := s.run(ctx, chromedp.Location(&out))
	return out, err
}
