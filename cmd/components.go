package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/studypilot/internal/auth"
	"github.com/xkilldash9x/studypilot/internal/browser"
	"github.com/xkilldash9x/studypilot/internal/browser/dom"
	"github.com/xkilldash9x/studypilot/internal/browser/session"
	"github.com/xkilldash9x/studypilot/internal/browser/style"
	"github.com/xkilldash9x/studypilot/internal/config"
	"github.com/xkilldash9x/studypilot/internal/discovery"
	"github.com/xkilldash9x/studypilot/internal/metrics"
	"github.com/xkilldash9x/studypilot/internal/reporting"
	"github.com/xkilldash9x/studypilot/internal/resolver"
	"github.com/xkilldash9x/studypilot/internal/store"
)

// components holds the services shared by the online commands.
type components struct {
	Page       browser.Page
	Resolver   *resolver.Resolver
	Catalog    resolver.Catalog
	Classifier *style.Classifier
	Discoverer *discovery.Discoverer
	Auth       *auth.Authenticator
	Metrics    *metrics.Metrics
	DBPool     *pgxpool.Pool

	closePage func()
}

// Shutdown releases the page and the database pool.
func (c *components) Shutdown(logger *zap.Logger) {
	if c.closePage != nil {
		c.closePage()
	}
	if c.DBPool != nil {
		c.DBPool.Close()
	}
	logger.Debug("Components shut down.")
}

// initializeComponents handles dependency injection for run and discover.
func initializeComponents(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*components, error) {
	c := &components{Metrics: metrics.New()}

	catalog, err := loadCatalog(cfg.Resolver())
	if err != nil {
		return c, err
	}
	c.Catalog = catalog
	c.Resolver = resolver.New(logger,
		resolver.WithStrategyTimeout(cfg.Resolver().StrategyTimeout),
		resolver.WithRecorder(c.Metrics),
	)

	cc := cfg.Classifier()
	c.Classifier = style.NewClassifier(style.DefaultVocabulary().WithOverrides(cc.ColorKeywords, cc.ClassKeywords))

	c.Discoverer, err = discovery.New(logger, c.Resolver, c.Catalog, c.Classifier, cfg.Targets().BaseURL,
		discovery.WithReadyTimeout(cfg.Workflow().ReadyTimeout))
	if err != nil {
		return c, fmt.Errorf("failed to initialize discovery: %w", err)
	}
	c.Auth = auth.New(logger, c.Resolver, c.Catalog, cfg.Auth())

	page, closePage, err := openPage(ctx, cfg, logger)
	if err != nil {
		return c, err
	}
	c.closePage = closePage
	c.Page = browser.Throttle(page, browser.NewNavigationLimiter(cfg.Pipeline().MaxNavigationsPerMinute))

	return c, nil
}

func loadCatalog(cfg config.ResolverConfig) (resolver.Catalog, error) {
	catalog, err := resolver.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load strategy catalog: %w", err)
	}
	return catalog, nil
}

// openPage starts the configured browser backend.
func openPage(ctx context.Context, cfg config.Interface, logger *zap.Logger) (browser.Page, func(), error) {
	bc := cfg.Browser()
	if bc.Mode == config.BrowserModeHTTP {
		transport, err := dom.NewHTTPTransport(cfg.Workflow().NavigationTimeout, bc.UserAgent)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize HTTP transport: %w", err)
		}
		page := dom.NewPage(transport,
			dom.WithLogger(logger),
			dom.WithViewport(float64(bc.ViewportWidth), float64(bc.ViewportHeight)),
		)
		return page, page.Close, nil
	}

	sess, err := session.New(ctx, bc, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start browser session: %w", err)
	}
	closer := func() {
		if err := sess.Close(); err != nil {
			logger.Warn("Error during browser session shutdown", zap.Error(err))
		}
	}
	return sess, closer, nil
}

// openSinks builds the file sinks and, when a database is configured, the
// SQL sink. The pool is kept on c so Shutdown can release it.
func openSinks(ctx context.Context, cfg config.Interface, c *components, logger *zap.Logger) (*reporting.MultiSink, error) {
	out := cfg.Output()
	targets := []struct{ format, path string }{
		{"csv", out.CSVFile},
		{"json", out.JSONFile},
	}
	if out.TextFile != "" {
		targets = append(targets, struct{ format, path string }{"text", out.TextFile})
	}
	var sinks []reporting.Sink
	for _, t := range targets {
		s, err := reporting.New(t.format, t.path)
		if err != nil {
			_ = reporting.Multi(sinks...).Close()
			return nil, fmt.Errorf("failed to initialize %s sink: %w", t.format, err)
		}
		sinks = append(sinks, s)
	}

	db := cfg.Database()
	if db.URL == "" {
		return reporting.Multi(sinks...), nil
	}

	closeFiles := func() {
		if err := reporting.Multi(sinks...).Close(); err != nil {
			logger.Warn("Failed to close file sinks.", zap.Error(err))
		}
	}
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	pool, err := pgxpool.New(connectCtx, db.URL)
	if err != nil {
		closeFiles()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	c.DBPool = pool

	sqlSink, err := store.New(connectCtx, pool, logger, store.WithTable(db.Table))
	if err != nil {
		closeFiles()
		return nil, fmt.Errorf("failed to initialize database store: %w", err)
	}
	if err := sqlSink.EnsureSchema(connectCtx); err != nil {
		closeFiles()
		return nil, err
	}
	return reporting.Multi(append(sinks, sqlSink)...), nil
}
