// internal/browser/page.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStaleElement is returned when an ElementRef from before a navigation is used.
var ErrStaleElement = errors.New("stale element reference")

// LocatorKind selects the query language of a Locator.
type LocatorKind string

const (
	KindCSS   LocatorKind = "css"
	KindXPath LocatorKind = "xpath"
)

// Locator describes how to find elements on a page. HasText, when set,
// keeps only elements whose text content contains it.
type Locator struct {
	Kind    LocatorKind `yaml:"kind" json:"kind"`
	Expr    string      `yaml:"expr" json:"expr"`
	HasText string      `yaml:"has_text,omitempty" json:"has_text,omitempty"`
}

// CSS builds a CSS selector locator.
func CSS(expr string) Locator { return Locator{Kind: KindCSS, Expr: expr} }

// XPath builds an XPath locator.
func XPath(expr string) Locator { return Locator{Kind: KindXPath, Expr: expr} }

// WithText returns a copy of l restricted to elements containing text.
func (l Locator) WithText(text string) Locator {
	l.HasText = text
	return l
}

// Validate rejects unknown kinds and empty expressions.
func (l Locator) Validate() error {
	if l.Kind != KindCSS && l.Kind != KindXPath {
		return fmt.Errorf("unknown locator kind %q", l.Kind)
	}
	if l.Expr == "" {
		return fmt.Errorf("locator expression is empty")
	}
	return nil
}

func (l Locator) String() string {
	if l.HasText != "" {
		return fmt.Sprintf("%s:%s:has-text(%q)", l.Kind, l.Expr, l.HasText)
	}
	return fmt.Sprintf("%s:%s", l.Kind, l.Expr)
}

// ElementRef is an opaque, page-scoped handle to a live element. It is only
// valid for the page generation it was created in; every navigation bumps the generation.
type ElementRef struct {
	ID         string
	Generation uint64
}

// WaitPolicy names a page load state.
type WaitPolicy string

const (
	WaitLoad             WaitPolicy = "load"
	WaitDOMContentLoaded WaitPolicy = "domcontentloaded"
	WaitNetworkIdle      WaitPolicy = "networkidle"
)

// Condition is something WaitFor can block on: a load state, an element, or both.
type Condition struct {
	State   WaitPolicy
	Locator *Locator
}

// ComputedStyle carries the resolved colors of an element, formatted the way
// browsers report them (e.g. "rgb(0, 128, 0)").
type ComputedStyle struct {
	Color           string
	BackgroundColor string
}

// ClickOptions tunes a click. Force skips the visibility check.
type ClickOptions struct {
	Force bool
}

// Viewport is the size of the visible page area in CSS pixels.
type Viewport struct {
	Width  float64
	Height float64
}

// Page is the narrow surface the engine needs from a browser tab. Implementations
// return schemas.ErrSessionLost once the tab or browser is unreachable, and
// schemas.ErrTimeout (wrapped) when a bounded wait runs out.
type Page interface {
	Goto(ctx context.Context, url string, policy WaitPolicy) error
	WaitFor(ctx context.Context, cond Condition, timeout time.Duration) error
	Locate(ctx context.Context, loc Locator) ([]ElementRef, error)

	ComputedStyle(ctx context.Context, ref ElementRef) (ComputedStyle, error)
	Attribute(ctx context.Context, ref ElementRef, name string) (string, bool, error)
	Text(ctx context.Context, ref ElementRef) (string, error)
	Visible(ctx context.Context, ref ElementRef) (bool, error)
	Enabled(ctx context.Context, ref ElementRef) (bool, error)

	Click(ctx context.Context, ref ElementRef, opts ClickOptions) error
	ClickAt(ctx context.Context, x, y float64) error
	Fill(ctx context.Context, ref ElementRef, value string) error
	SelectOption(ctx context.Context, ref ElementRef, value string) error

	Viewport(ctx context.Context) (Viewport, error)
	Content(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	IsClosed() bool
}
