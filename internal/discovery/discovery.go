// internal/discovery/discovery.go
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/studypilot/api/schemas"
	"github.com/xkilldash9x/studypilot/internal/browser"
	"github.com/xkilldash9x/studypilot/internal/browser/style"
	"github.com/xkilldash9x/studypilot/internal/config"
	"github.com/xkilldash9x/studypilot/internal/resolver"
)

// SourceKind selects how a listing page is read.
type SourceKind string

const (
	// SourcePractice listings are chapter pages with one list entry per practice.
	SourcePractice SourceKind = "practice"
	// SourcePlan listings are the personal study plan with one icon link per course.
	SourcePlan SourceKind = "plan"
)

// Source is one listing page.
type Source struct {
	Kind SourceKind
	URL  string
}

func (s Source) String() string {
	return string(s.Kind) + ":" + s.URL
}

// pageKind is the kind of page an entry of the source leads to. Practice
// listings only hold practices; plan entries are judged by their URL.
func (s Source) pageKind(target *url.URL) schemas.PageKind {
	if s.Kind == SourcePractice {
		return schemas.PageKindPractice
	}
	return KindFromURL(target)
}

// SourcesFromConfig lists practice listings first, then the plan page.
func SourcesFromConfig(cfg config.TargetsConfig) []Source {
	var out []Source
	for _, u := range cfg.PracticeURLs {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, Source{Kind: SourcePractice, URL: u})
		}
	}
	if cfg.PlanURL != "" {
		out = append(out, Source{Kind: SourcePlan, URL: cfg.PlanURL})
	}
	return out
}

// Discoverer turns listing pages into work items. It only reads pages, so
// running it twice over an unchanged page yields equal items.
type Discoverer struct {
	logger       *zap.Logger
	resolver     *resolver.Resolver
	catalog      resolver.Catalog
	classifier   *style.Classifier
	scope        *Scope
	base         *url.URL
	readyTimeout time.Duration
	now          func() time.Time
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithReadyTimeout bounds the wait for a listing page to settle.
func WithReadyTimeout(d time.Duration) Option {
	return func(disc *Discoverer) {
		if d > 0 {
			disc.readyTimeout = d
		}
	}
}

// WithClock replaces time.Now for DiscoveredAt stamps.
func WithClock(now func() time.Time) Option {
	return func(d *Discoverer) { d.now = now }
}

// New creates a Discoverer for the site rooted at baseURL.
func New(logger *zap.Logger, res *resolver.Resolver, catalog resolver.Catalog, classifier *style.Classifier, baseURL string, opts ...Option) (*Discoverer, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base URL must be absolute, got %q", baseURL)
	}
	scope, err := NewScope(baseURL, true)
	if err != nil {
		return nil, err
	}
	d := &Discoverer{
		logger:       logger.Named("discovery"),
		resolver:     res,
		catalog:      catalog,
		classifier:   classifier,
		scope:        scope,
		base:         base,
		readyTimeout: 20 * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// DiscoverAll runs every source in order and numbers the items 1..N across
// the whole pass. A source that fails is logged and skipped; a lost session
// or cancellation ends the pass.
func (d *Discoverer) DiscoverAll(ctx context.Context, page browser.Page, sources []Source) ([]schemas.WorkItem, error) {
	var all []schemas.WorkItem
	for _, src := range sources {
		items, err := d.Discover(ctx, page, src)
		if err != nil {
			if ctx.Err() != nil || schemas.IsRunFatal(err) {
				return all, err
			}
			d.logger.Error("Discovery failed for source.", zap.Stringer("source", src), zap.Error(err))
			continue
		}
		for _, it := range items {
			it.Index = len(all) + 1
			all = append(all, it)
		}
	}
	return all, nil
}

// Discover reads one listing page. Items are numbered from 1 in document
// order; duplicate links are kept.
func (d *Discoverer) Discover(ctx context.Context, page browser.Page, src Source) ([]schemas.WorkItem, error) {
	if err := d.open(ctx, page, src.URL); err != nil {
		return nil, err
	}

	var items []schemas.WorkItem
	var err error
	switch src.Kind {
	case SourcePractice:
		items, err = d.practiceItems(ctx, page, src)
	case SourcePlan:
		items, err = d.planItems(ctx, page, src)
	default:
		return nil, fmt.Errorf("unknown source kind %q", src.Kind)
	}
	if err != nil {
		return nil, err
	}

	marked := 0
	for _, it := range items {
		if it.Marked {
			marked++
		}
	}
	d.logger.Info("Discovered items.",
		zap.Stringer("source", src),
		zap.Int("total", len(items)),
		zap.Int("marked", marked),
		zap.Int("pending", len(items)-marked))
	return items, nil
}

func (d *Discoverer) open(ctx context.Context, page browser.Page, target string) error {
	if err := page.Goto(ctx, target, browser.WaitDOMContentLoaded); err != nil {
		return fmt.Errorf("opening listing %s: %w", target, err)
	}
	err := page.WaitFor(ctx, browser.Condition{State: browser.WaitNetworkIdle}, d.readyTimeout)
	if err == nil {
		return nil
	}
	if errors.Is(err, schemas.ErrTimeout) {
		d.logger.Warn("Listing did not settle, reading it anyway.", zap.String("url", target))
		return nil
	}
	return err
}

func (d *Discoverer) practiceItems(ctx context.Context, page browser.Page, src Source) ([]schemas.WorkItem, error) {
	entries, err := d.resolver.ResolveAll(ctx, page, resolver.RoleListingContainer, d.catalog.Chain(resolver.RoleListingContainer))
	if err != nil {
		if errors.Is(err, schemas.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	container := entries[0].Strategy.Locator
	if container.Kind != browser.KindXPath {
		return nil, fmt.Errorf("listing-container strategy %q must be an XPath to scope entries", entries[0].Strategy.Name)
	}

	// Positional scoping counts hidden entries too, so walk the raw matches.
	all, err := page.Locate(ctx, container)
	if err != nil {
		return nil, err
	}

	var items []schemas.WorkItem
	for pos := 1; pos <= len(all); pos++ {
		link, err := d.resolver.Resolve(ctx, page, resolver.RoleListingLink, scoped(container, pos, d.catalog.Chain(resolver.RoleListingLink)))
		if err != nil {
			if errors.Is(err, schemas.ErrNotFound) {
				continue
			}
			return nil, err
		}
		href, _, err := page.Attribute(ctx, link.Ref, "href")
		if err != nil {
			return nil, err
		}
		target, ok := d.target(href)
		if !ok {
			continue
		}
		text, err := page.Text(ctx, link.Ref)
		if err != nil {
			return nil, err
		}
		marked, err := d.marked(ctx, page, container, pos, link.Ref)
		if err != nil {
			return nil, err
		}
		items = append(items, d.item(len(items)+1, target, CleanLabel(text), marked, src))
	}
	return items, nil
}

// marked checks the entry's completion glyph first, then the link's styling.
func (d *Discoverer) marked(ctx context.Context, page browser.Page, container browser.Locator, pos int, link browser.ElementRef) (bool, error) {
	_, err := d.resolver.Resolve(ctx, page, resolver.RoleCompletionCheck, scoped(container, pos, d.catalog.Chain(resolver.RoleCompletionCheck)))
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, schemas.ErrNotFound) {
		return false, err
	}
	c, err := d.classifier.Classify(ctx, page, link)
	if err != nil {
		return false, err
	}
	return c.Marked, nil
}

func (d *Discoverer) planItems(ctx context.Context, page browser.Page, src Source) ([]schemas.WorkItem, error) {
	links, err := d.resolver.ResolveAll(ctx, page, resolver.RolePlanLink, d.catalog.Chain(resolver.RolePlanLink))
	if err != nil {
		if errors.Is(err, schemas.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var items []schemas.WorkItem
	for _, link := range links {
		href, _, err := page.Attribute(ctx, link.Ref, "href")
		if err != nil {
			return nil, err
		}
		target, ok := d.target(href)
		if !ok {
			continue
		}
		label := PlanLabel(href)
		if label == "" {
			text, err := page.Text(ctx, link.Ref)
			if err != nil {
				return nil, err
			}
			label = text
		}
		items = append(items, d.item(len(items)+1, target, CleanLabel(label), false, src))
	}
	return items, nil
}

func (d *Discoverer) target(href string) (*url.URL, bool) {
	u, err := ResolveHref(d.base, href)
	if err != nil {
		d.logger.Debug("Skipping link.", zap.String("href", href), zap.Error(err))
		return nil, false
	}
	if !d.scope.Contains(u) {
		d.logger.Debug("Skipping off-site link.", zap.String("url", u.String()))
		return nil, false
	}
	return u, true
}

func (d *Discoverer) item(index int, target *url.URL, label string, marked bool, src Source) schemas.WorkItem {
	return schemas.WorkItem{
		Index:        index,
		TargetURL:    target.String(),
		Label:        label,
		Marked:       marked,
		PageKind:     src.pageKind(target),
		Source:       src.URL,
		DiscoveredAt: d.now(),
	}
}

// scoped confines the XPath strategies of chain to the pos-th match of
// container. Non-XPath strategies cannot be scoped and are dropped.
func scoped(container browser.Locator, pos int, chain []resolver.Strategy) []resolver.Strategy {
	out := make([]resolver.Strategy, 0, len(chain))
	for _, s := range chain {
		if s.Locator.Kind != browser.KindXPath {
			continue
		}
		s.Locator.Expr = fmt.Sprintf("(%s)[%d]%s", container.Expr, pos, s.Locator.Expr)
		out = append(out, s)
	}
	return out
}

// Split separates items still to do from those already marked complete.
func Split(items []schemas.WorkItem) (pending, marked []schemas.WorkItem) {
	for _, it := range items {
		if it.Marked {
			marked = append(marked, it)
		} else {
			pending = append(pending, it)
		}
	}
	return pending, marked
}
