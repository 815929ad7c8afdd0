// internal/browser/style/classifier.go
package style

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/xkilldash9x/studypilot/internal/browser"
)

// Signal is the raw material of a classification: the inline style attribute,
// the computed foreground and background colors, and the class list.
type Signal struct {
	Inline     string `json:"inline"`
	Color      string `json:"color"`
	Background string `json:"background"`
	Classes    string `json:"classes"`
}

// String is the normalized signature: lower-cased, whitespace collapsed, and
// no spaces inside parentheses, so "rgb(0, 128, 0)" and "RGB(0,128,0)" are equal.
func (s Signal) String() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{s.Inline, s.Color, s.Background, s.Classes} {
		if n := Normalize(p); n != "" {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, " ")
}

// Normalize applies the signature normalization to a single string.
func Normalize(in string) string {
	var b strings.Builder
	b.Grow(len(in))
	depth := 0
	pendingSpace := false
	for _, r := range strings.ToLower(in) {
		switch {
		case unicode.IsSpace(r):
			if depth == 0 && b.Len() > 0 {
				pendingSpace = true
			}
			continue
		case r == '(':
			depth++
		case r == ')' && depth > 0:
			depth--
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Vocabulary is the marker keyword set. Matching is case-insensitive containment.
type Vocabulary struct {
	Colors  []string `yaml:"colors" json:"colors"`
	Classes []string `yaml:"classes" json:"classes"`
}

// DefaultVocabulary is the green "completed" marker used by the learning platform.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Colors: []string{
			"green", "#008000", "#00ff00", "#32cd32",
			"rgb(0,128,0)", "rgb(0,255,0)", "rgb(50,205,50)",
			"rgba(0,128,0,", "rgba(0,255,0,", "rgba(50,205,50,",
		},
		Classes: []string{"green", "success"},
	}
}

// WithOverrides replaces each non-empty list of v.
func (v Vocabulary) WithOverrides(colors, classes []string) Vocabulary {
	if len(colors) > 0 {
		v.Colors = colors
	}
	if len(classes) > 0 {
		v.Classes = classes
	}
	return v
}

// Classification is the outcome of classifying one element.
type Classification struct {
	Marked  bool
	ByClass bool
	Matched string
	Signal  Signal
}

// Classifier decides whether an element is visually marked as complete.
// It holds no per-call state, so results never depend on call order.
type Classifier struct {
	colors  []string
	classes []string
}

// NewClassifier normalizes vocab once up front.
func NewClassifier(vocab Vocabulary) *Classifier {
	c := &Classifier{}
	for _, k := range vocab.Colors {
		if n := Normalize(k); n != "" {
			c.colors = append(c.colors, n)
		}
	}
	for _, k := range vocab.Classes {
		if n := Normalize(k); n != "" {
			c.classes = append(c.classes, n)
		}
	}
	return c
}

// ClassifySignal is a pure function of sig and the vocabulary. A class keyword
// is sufficient on its own; otherwise any color keyword in the signature marks.
func (c *Classifier) ClassifySignal(sig Signal) Classification {
	res := Classification{Signal: sig}
	classes := Normalize(sig.Classes)
	for _, k := range c.classes {
		if strings.Contains(classes, k) {
			res.Marked, res.ByClass, res.Matched = true, true, k
			return res
		}
	}
	signature := sig.String()
	for _, k := range c.colors {
		if strings.Contains(signature, k) {
			res.Marked, res.Matched = true, k
			return res
		}
	}
	return res
}

// ReadSignal collects the three signal sources of ref from page.
func ReadSignal(ctx context.Context, page browser.Page, ref browser.ElementRef) (Signal, error) {
	var sig Signal
	var err error
	if sig.Inline, _, err = page.Attribute(ctx, ref, "style"); err != nil {
		return sig, fmt.Errorf("reading inline style: %w", err)
	}
	if sig.Classes, _, err = page.Attribute(ctx, ref, "class"); err != nil {
		return sig, fmt.Errorf("reading class list: %w", err)
	}
	cs, err := page.ComputedStyle(ctx, ref)
	if err != nil {
		return sig, fmt.Errorf("reading computed style: %w", err)
	}
	sig.Color, sig.Background = cs.Color, cs.BackgroundColor
	return sig, nil
}

// Classify reads ref's signal from page and classifies it.
func (c *Classifier) Classify(ctx context.Context, page browser.Page, ref browser.ElementRef) (Classification, error) {
	sig, err := ReadSignal(ctx, page, ref)
	if err != nil {
		return Classification{Signal: sig}, err
	}
	return c.ClassifySignal(sig), nil
}
