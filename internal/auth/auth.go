// internal/auth/auth.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/studypilot/api/schemas"
	"github.com/xkilldash9x/studypilot/internal/browser"
	"github.com/xkilldash9x/studypilot/internal/config"
	"github.com/xkilldash9x/studypilot/internal/resolver"
)

// ErrUncertain is returned by RequireLogin when the login page gave no success marker.
var ErrUncertain = errors.New("login could not be confirmed")

// Authenticator signs in to the learning site.
type Authenticator struct {
	logger   *zap.Logger
	resolver *resolver.Resolver
	catalog  resolver.Catalog
	cfg      config.AuthConfig
}

// New creates an Authenticator.
func New(logger *zap.Logger, res *resolver.Resolver, catalog resolver.Catalog, cfg config.AuthConfig) *Authenticator {
	if cfg.FieldTimeout <= 0 {
		cfg.FieldTimeout = 15 * time.Second
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = 20 * time.Second
	}
	return &Authenticator{logger: logger.Named("auth"), resolver: res, catalog: catalog, cfg: cfg}
}

// Login fills the credential form, submits it and reports whether the
// resulting page carries one of the configured success markers. The marker
// check is a heuristic; false means "not confirmed", not "rejected".
func (a *Authenticator) Login(ctx context.Context, page browser.Page, username, password string) (bool, error) {
	a.logger.Info("Logging in.", zap.String("url", a.cfg.LoginURL), zap.String("user", username))

	if err := page.Goto(ctx, a.cfg.LoginURL, browser.WaitDOMContentLoaded); err != nil {
		return false, fmt.Errorf("opening login page: %w", err)
	}

	userChain := a.catalog.Chain(resolver.RoleLoginUsername)
	if len(userChain) > 0 && !userChain[0].IsCoordinate() {
		first := userChain[0].Locator
		err := page.WaitFor(ctx, browser.Condition{State: browser.WaitDOMContentLoaded, Locator: &first}, a.cfg.FieldTimeout)
		if err != nil && !errors.Is(err, schemas.ErrTimeout) {
			return false, err
		}
	}

	if err := a.fill(ctx, page, resolver.RoleLoginUsername, username); err != nil {
		return false, err
	}
	if err := a.fill(ctx, page, resolver.RoleLoginPassword, password); err != nil {
		return false, err
	}

	submit, err := a.resolver.Resolve(ctx, page, resolver.RoleLoginSubmit, a.catalog.Chain(resolver.RoleLoginSubmit))
	if err != nil {
		return false, fmt.Errorf("locating login submit control: %w", err)
	}
	if err := submit.Click(ctx, page, browser.ClickOptions{Force: true}); err != nil {
		return false, fmt.Errorf("submitting login form: %w", err)
	}

	if err := page.WaitFor(ctx, browser.Condition{State: browser.WaitNetworkIdle}, a.cfg.SettleTimeout); err != nil {
		if !errors.Is(err, schemas.ErrTimeout) {
			return false, err
		}
		a.logger.Warn("Login page did not settle, checking it anyway.", zap.Duration("timeout", a.cfg.SettleTimeout))
	}

	content, err := page.Content(ctx)
	if err != nil {
		return false, err
	}
	current, err := page.URL(ctx)
	if err != nil {
		return false, err
	}
	for _, marker := range a.cfg.SuccessMarkers {
		if marker != "" && (strings.Contains(content, marker) || strings.Contains(current, marker)) {
			a.logger.Info("Login confirmed.", zap.String("marker", marker))
			return true, nil
		}
	}
	a.logger.Warn("Login not confirmed by any success marker.", zap.Strings("markers", a.cfg.SuccessMarkers), zap.String("url", current))
	return false, nil
}

// RequireLogin runs Login and turns an unconfirmed result into ErrUncertain
// unless the configuration tolerates it.
func (a *Authenticator) RequireLogin(ctx context.Context, page browser.Page) error {
	ok, err := a.Login(ctx, page, a.cfg.Username, a.cfg.Password)
	if err != nil {
		return err
	}
	if !ok && !a.cfg.ContinueOnUncertain {
		return ErrUncertain
	}
	return nil
}

func (a *Authenticator) fill(ctx context.Context, page browser.Page, role, value string) error {
	res, err := a.resolver.Resolve(ctx, page, role, a.catalog.Chain(role))
	if err != nil {
		return fmt.Errorf("locating %s: %w", role, err)
	}
	if err := page.Fill(ctx, res.Ref, value); err != nil {
		return fmt.Errorf("filling %s: %w", role, err)
	}
	return nil
}
