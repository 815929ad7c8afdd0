// internal/browser/dom/page.go
package dom

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/studypilot/api/schemas"
	"github.com/xkilldash9x/studypilot/internal/browser"
	"github.com/xkilldash9x/studypilot/internal/browser/style"
)

// Page is a browser.Page over a parsed, script-free document. Navigations go
// through a Transport; clicks on links, location.href handlers and submit
// controls are emulated.
type Page struct {
	mu        sync.Mutex
	transport Transport
	logger    *zap.Logger
	viewport  browser.Viewport

	url        *url.URL
	doc        *html.Node
	engine     *style.Engine
	settles    bool
	generation uint64
	refs       map[string]*html.Node
	ids        map[*html.Node]string
	closed     bool
}

var _ browser.Page = (*Page)(nil)

// Option configures a Page.
type Option func(*Page)

// WithLogger sets the page logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Page) { p.logger = l }
}

// WithViewport sets the reported viewport size.
func WithViewport(width, height float64) Option {
	return func(p *Page) { p.viewport = browser.Viewport{Width: width, Height: height} }
}

// NewPage returns an empty page bound to t.
func NewPage(t Transport, opts ...Option) *Page {
	p := &Page{
		transport: t,
		logger:    zap.NewNop(),
		viewport:  browser.Viewport{Width: 1280, Height: 900},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Close marks the page closed; every later call reports a lost session.
func (p *Page) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// SetContent loads body as if it had been served from rawURL.
func (p *Page) SetContent(rawURL, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load(&Response{URL: rawURL, Body: body, Settles: true})
}

// IsClosed reports whether the page or its transport is gone.
func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closedLocked()
}

func (p *Page) closedLocked() bool {
	if p.closed {
		return true
	}
	if c, ok := p.transport.(closer); ok && c.Closed() {
		return true
	}
	return false
}

func (p *Page) guard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.closedLocked() {
		return schemas.ErrSessionLost
	}
	return nil
}

// Goto loads target. The document is parsed before Goto returns, so load and
// domcontentloaded are always reached; network idle is reported by WaitFor.
func (p *Page) Goto(ctx context.Context, target string, _ browser.WaitPolicy) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(ctx); err != nil {
		return err
	}
	resolved, err := p.resolveLocked(target)
	if err != nil {
		return err
	}
	return p.navigateLocked(ctx, Request{Method: "GET", URL: resolved})
}

func (p *Page) navigateLocked(ctx context.Context, req Request) error {
	if p.url != nil {
		req.Referer = p.url.String()
	}
	p.logger.Debug("Navigating", zap.String("method", req.Method), zap.String("url", req.URL))
	resp, err := p.transport.Fetch(ctx, req)
	if err != nil {
		if errors.Is(err, schemas.ErrSessionLost) || ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("navigation to %s failed: %w", req.URL, err)
	}
	return p.load(resp)
}

func (p *Page) load(resp *Response) error {
	u, err := url.Parse(resp.URL)
	if err != nil {
		return fmt.Errorf("invalid document URL %q: %w", resp.URL, err)
	}
	doc, err := html.Parse(strings.NewReader(resp.Body))
	if err != nil {
		return fmt.Errorf("failed to parse document at %s: %w", resp.URL, err)
	}
	p.url = u
	p.doc = doc
	p.engine = style.NewEngineForDocument(doc)
	p.settles = resp.Settles
	p.generation++
	p.refs = make(map[string]*html.Node)
	p.ids = make(map[*html.Node]string)
	return nil
}

func (p *Page) resolveLocked(target string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", target, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if p.url == nil {
		return "", fmt.Errorf("cannot resolve relative URL %q without a loaded document", target)
	}
	return p.url.ResolveReference(ref).String(), nil
}

// WaitFor blocks until cond holds or timeout elapses. A static document never
// changes, so any condition that does not hold immediately runs out the clock.
func (p *Page) WaitFor(ctx context.Context, cond browser.Condition, timeout time.Duration) error {
	p.mu.Lock()
	if err := p.guard(ctx); err != nil {
		p.mu.Unlock()
		return err
	}
	ok, reason := p.holdsLocked(cond)
	p.mu.Unlock()
	if ok {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	if p.IsClosed() {
		return schemas.ErrSessionLost
	}
	return fmt.Errorf("waiting for %s after %s: %w", reason, timeout, schemas.ErrTimeout)
}

func (p *Page) holdsLocked(cond browser.Condition) (bool, string) {
	if p.doc == nil {
		return false, "a document"
	}
	if cond.State == browser.WaitNetworkIdle && !p.settles {
		return false, "network idle"
	}
	if cond.Locator != nil {
		nodes, err := p.queryLocked(*cond.Locator)
		if err != nil {
			return false, cond.Locator.String()
		}
		for _, n := range nodes {
			if !p.engine.Compute(n).Hidden() {
				return true, ""
			}
		}
		return false, cond.Locator.String()
	}
	return true, ""
}

// Locate returns refs for every element matching loc, in document order.
func (p *Page) Locate(ctx context.Context, loc browser.Locator) ([]browser.ElementRef, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(ctx); err != nil {
		return nil, err
	}
	if p.doc == nil {
		return nil, nil
	}
	nodes, err := p.queryLocked(loc)
	if err != nil {
		return nil, err
	}
	refs := make([]browser.ElementRef, 0, len(nodes))
	for _, n := range nodes {
		refs = append(refs, p.refForLocked(n))
	}
	return refs, nil
}

func (p *Page) queryLocked(loc browser.Locator) ([]*html.Node, error) {
	var nodes []*html.Node
	switch loc.Kind {
	case browser.KindCSS:
		sel, err := cascadia.Compile(loc.Expr)
		if err != nil {
			return nil, fmt.Errorf("invalid CSS selector %q: %w", loc.Expr, err)
		}
		nodes = sel.MatchAll(p.doc)
	case browser.KindXPath:
		found, err := htmlquery.QueryAll(p.doc, loc.Expr)
		if err != nil {
			return nil, fmt.Errorf("invalid XPath %q: %w", loc.Expr, err)
		}
		for _, n := range found {
			if n.Type == html.ElementNode {
				nodes = append(nodes, n)
			}
		}
	}
	if loc.HasText == "" {
		return nodes, nil
	}
	want := strings.ToLower(collapseSpace(loc.HasText))
	filtered := nodes[:0]
	for _, n := range nodes {
		if strings.Contains(strings.ToLower(collapseSpace(visibleText(n))), want) {
			filtered = append(filtered, n)
		}
	}
	return filtered, nil
}

func (p *Page) refForLocked(n *html.Node) browser.ElementRef {
	id, ok := p.ids[n]
	if !ok {
		id = fmt.Sprintf("g%d-e%d", p.generation, len(p.refs)+1)
		p.ids[n] = id
		p.refs[id] = n
	}
	return browser.ElementRef{ID: id, Generation: p.generation}
}

func (p *Page) nodeLocked(ctx context.Context, ref browser.ElementRef) (*html.Node, error) {
	if err := p.guard(ctx); err != nil {
		return nil, err
	}
	if ref.Generation != p.generation {
		return nil, browser.ErrStaleElement
	}
	n, ok := p.refs[ref.ID]
	if !ok {
		return nil, browser.ErrStaleElement
	}
	return n, nil
}

// ComputedStyle runs the cascade for the element.
func (p *Page) ComputedStyle(ctx context.Context, ref browser.ElementRef) (browser.ComputedStyle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.nodeLocked(ctx, ref)
	if err != nil {
		return browser.ComputedStyle{}, err
	}
	c := p.engine.Compute(n)
	return browser.ComputedStyle{Color: c.Color, BackgroundColor: c.BackgroundColor}, nil
}

// Attribute returns the attribute value and whether it is present.
func (p *Page) Attribute(ctx context.Context, ref browser.ElementRef, name string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.nodeLocked(ctx, ref)
	if err != nil {
		return "", false, err
	}
	v, ok := getAttr(n, name)
	return v, ok, nil
}

// Text returns the element's text content.
func (p *Page) Text(ctx context.Context, ref browser.ElementRef) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.nodeLocked(ctx, ref)
	if err != nil {
		return "", err
	}
	return htmlquery.InnerText(n), nil
}

// Visible reports whether the element is rendered.
func (p *Page) Visible(ctx context.Context, ref browser.ElementRef) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.nodeLocked(ctx, ref)
	if err != nil {
		return false, err
	}
	return !p.engine.Compute(n).Hidden(), nil
}

// Enabled reports whether the element accepts interaction.
func (p *Page) Enabled(ctx context.Context, ref browser.ElementRef) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.nodeLocked(ctx, ref)
	if err != nil {
		return false, err
	}
	_, disabled := getAttr(n, "disabled")
	return !disabled, nil
}

// Click emulates the default action of the element.
func (p *Page) Click(ctx context.Context, ref browser.ElementRef, opts browser.ClickOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.nodeLocked(ctx, ref)
	if err != nil {
		return err
	}
	if !opts.Force {
		if p.engine.Compute(n).Hidden() {
			return fmt.Errorf("element %s is not visible", GenerateUniqueXPath(n))
		}
		if _, disabled := getAttr(n, "disabled"); disabled {
			return fmt.Errorf("element %s is disabled", GenerateUniqueXPath(n))
		}
	}
	return p.clickConsequenceLocked(ctx, n)
}

// ClickAt forwards a raw viewport click to the transport when it can observe one.
func (p *Page) ClickAt(ctx context.Context, x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(ctx); err != nil {
		return err
	}
	current := ""
	if p.url != nil {
		current = p.url.String()
	}
	if cc, ok := p.transport.(CoordinateClicker); ok {
		return cc.ClickAt(ctx, current, x, y)
	}
	p.logger.Debug("Coordinate click has no effect on a static document", zap.Float64("x", x), zap.Float64("y", y))
	return nil
}

// Fill replaces the value of an input or textarea.
func (p *Page) Fill(ctx context.Context, ref browser.ElementRef, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.nodeLocked(ctx, ref)
	if err != nil {
		return err
	}
	switch strings.ToLower(n.Data) {
	case "input":
		setAttr(n, "value", value)
	case "textarea":
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: value})
	default:
		return fmt.Errorf("element <%s> cannot be filled", n.Data)
	}
	return nil
}

// SelectOption selects the option whose value (or, lacking one, text) equals value.
func (p *Page) SelectOption(ctx context.Context, ref browser.ElementRef, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.nodeLocked(ctx, ref)
	if err != nil {
		return err
	}
	if !strings.EqualFold(n.Data, "select") {
		return fmt.Errorf("element <%s> is not a select element", n.Data)
	}
	return selectOption(n, value)
}

// Viewport returns the configured viewport size.
func (p *Page) Viewport(ctx context.Context) (browser.Viewport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(ctx); err != nil {
		return browser.Viewport{}, err
	}
	return p.viewport, nil
}

// Content serializes the current document.
func (p *Page) Content(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(ctx); err != nil {
		return "", err
	}
	if p.doc == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, p.doc); err != nil {
		return "", fmt.Errorf("failed to render document: %w", err)
	}
	return buf.String(), nil
}

// URL returns the address of the current document.
func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(ctx); err != nil {
		return "", err
	}
	if p.url == nil {
		return "about:blank", nil
	}
	return p.url.String(), nil
}

// XPathOf returns a stable XPath for ref, used when reporting elements.
func (p *Page) XPathOf(ctx context.Context, ref browser.ElementRef) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.nodeLocked(ctx, ref)
	if err != nil {
		return "", err
	}
	return GenerateUniqueXPath(n), nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// visibleText is what a text matcher sees: text content, or the value of button-like inputs.
func visibleText(n *html.Node) string {
	if strings.EqualFold(n.Data, "input") {
		switch strings.ToLower(attrOf(n, "type")) {
		case "button", "submit", "reset":
			return attrOf(n, "value")
		}
	}
	return htmlquery.InnerText(n)
}
