// internal/browser/style/cascade.go
package style

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/studypilot/internal/browser/parser"
)

// userAgentCSS is the subset of a browser's default sheet that affects color and visibility.
const userAgentCSS = `
head, script, style, title, meta, link, template, noscript { display: none; }
[hidden] { display: none; }
input[type="hidden"] { display: none; }
a { color: #0000ee; }
`

// Computed is the resolved subset of an element's style the engine cares about.
type Computed struct {
	Color           string
	BackgroundColor string
	Display         string
	Visibility      string
}

// Hidden reports whether the element would not be rendered.
func (c Computed) Hidden() bool {
	return c.Display == "none" || c.Visibility == "hidden" || c.Visibility == "collapse"
}

// Engine runs the cascade for a static document.
type Engine struct {
	rules []compiledRule
}

type origin int

const (
	originUserAgent origin = iota
	originAuthor
	originInline
)

// compiledRule is a rule whose selector list cascadia accepted.
type compiledRule struct {
	selectors cascadia.SelectorGroup
	decls     []parser.Declaration
	origin    origin
}

// NewEngine returns an engine with the user-agent sheet plus the given author sheets.
func NewEngine(author ...parser.StyleSheet) *Engine {
	e := &Engine{}
	e.add(parser.Parse(userAgentCSS), originUserAgent)
	for _, s := range author {
		e.add(s, originAuthor)
	}
	return e
}

// add compiles the rules of sheet. As in a browser, a selector list that does
// not parse drops its whole rule. cascadia never matches dynamic
// pseudo-classes such as :hover on a static document.
func (e *Engine) add(sheet parser.StyleSheet, o origin) {
	for _, rule := range sheet.Rules {
		group, err := cascadia.ParseGroupWithPseudoElements(rule.Selector)
		if err != nil {
			continue
		}
		e.rules = append(e.rules, compiledRule{selectors: group, decls: rule.Declarations, origin: o})
	}
}

// NewEngineForDocument collects every <style> block in doc as an author sheet.
func NewEngineForDocument(doc *html.Node) *Engine {
	var sheets []parser.StyleSheet
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "style" {
			var b strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					b.WriteString(c.Data)
				}
			}
			sheets = append(sheets, parser.Parse(b.String()))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if doc != nil {
		walk(doc)
	}
	return NewEngine(sheets...)
}

type weighted struct {
	decl        parser.Declaration
	specificity cascadia.Specificity
	origin      origin
	order       int
}

func (w weighted) priority() int {
	switch w.origin {
	case originUserAgent:
		if w.decl.Important {
			return 5
		}
		return 1
	case originAuthor:
		if w.decl.Important {
			return 4
		}
		return 2
	default:
		if w.decl.Important {
			return 4
		}
		return 3
	}
}

// Declared returns the cascaded (not inherited) values for node.
func (e *Engine) Declared(node *html.Node) map[parser.Property]parser.Value {
	var decls []weighted
	order := 0
	for _, rule := range e.rules {
		spec, ok := matchAny(node, rule.selectors)
		if !ok {
			continue
		}
		for _, d := range rule.decls {
			decls = append(decls, weighted{d, spec, rule.origin, order})
			order++
		}
	}
	for _, d := range parser.ParseInline(attr(node, "style")) {
		decls = append(decls, weighted{d, cascadia.Specificity{1, 0, 0}, originInline, order})
		order++
	}

	sort.SliceStable(decls, func(i, j int) bool {
		a, b := decls[i], decls[j]
		if a.priority() != b.priority() {
			return a.priority() < b.priority()
		}
		if a.specificity != b.specificity {
			return a.specificity.Less(b.specificity)
		}
		return a.order < b.order
	})

	out := make(map[parser.Property]parser.Value, len(decls))
	for _, d := range decls {
		out[d.decl.Property] = d.decl.Value
	}
	// "background" shorthand carries a color when it is the only component we can read.
	if bg, ok := out["background"]; ok {
		if _, has := out["background-color"]; !has {
			for _, part := range strings.Fields(string(bg)) {
				if _, isColor := ParseColor(part); isColor {
					out["background-color"] = parser.Value(part)
					break
				}
			}
		}
	}
	return out
}

// Compute resolves color and visibility for node, following CSS inheritance:
// color and visibility inherit, background-color does not, and display:none
// on any ancestor hides the subtree.
func (e *Engine) Compute(node *html.Node) Computed {
	own := e.Declared(node)
	c := Computed{
		Color:           "rgb(0, 0, 0)",
		BackgroundColor: "rgba(0, 0, 0, 0)",
		Display:         "inline",
		Visibility:      "visible",
	}
	if v, ok := own["display"]; ok {
		c.Display = strings.ToLower(strings.TrimSpace(string(v)))
	}
	if v, ok := own["background-color"]; ok && !isInherit(v) {
		c.BackgroundColor = normalizeColor(string(v))
	}

	colorSet, visSet := false, false
	for n := node; n != nil && n.Type == html.ElementNode; n = n.Parent {
		decl := own
		if n != node {
			decl = e.Declared(n)
			if strings.TrimSpace(string(decl["display"])) == "none" {
				c.Display = "none"
			}
		}
		if v, ok := decl["color"]; ok && !colorSet && !isInherit(v) {
			c.Color = normalizeColor(string(v))
			colorSet = true
		}
		if v, ok := decl["visibility"]; ok && !visSet && !isInherit(v) {
			c.Visibility = strings.ToLower(strings.TrimSpace(string(v)))
			visSet = true
		}
	}
	return c
}

func isInherit(v parser.Value) bool {
	s := strings.ToLower(strings.TrimSpace(string(v)))
	return s == "inherit" || s == "unset" || s == "initial" || s == ""
}

// --- Selector matching ---

// matchAny returns the highest specificity among the selectors of group that
// match node. Selectors aimed at a pseudo-element never style the element itself.
func matchAny(node *html.Node, group cascadia.SelectorGroup) (cascadia.Specificity, bool) {
	var best cascadia.Specificity
	found := false
	if node == nil || node.Type != html.ElementNode {
		return best, false
	}
	for _, sel := range group {
		if sel.PseudoElement() != "" || !sel.Match(node) {
			continue
		}
		if spec := sel.Specificity(); !found || best.Less(spec) {
			best, found = spec, true
		}
	}
	return best, found
}

func lookupAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, name string) string {
	v, _ := lookupAttr(n, name)
	return v
}

// --- Colors ---

// Color is an RGBA color.
type Color struct {
	R, G, B, A uint8
}

// CSS formats the color the way getComputedStyle reports it.
func (c Color) CSS() string {
	if c.A == 255 {
		return fmt.Sprintf("rgb(%d, %d, %d)", c.R, c.G, c.B)
	}
	alpha := strconv.FormatFloat(float64(c.A)/255.0, 'f', 3, 64)
	alpha = strings.TrimRight(strings.TrimRight(alpha, "0"), ".")
	if alpha == "" {
		alpha = "0"
	}
	return fmt.Sprintf("rgba(%d, %d, %d, %s)", c.R, c.G, c.B, alpha)
}

var namedColors = map[string]Color{
	"black":       {0, 0, 0, 255},
	"white":       {255, 255, 255, 255},
	"red":         {255, 0, 0, 255},
	"green":       {0, 128, 0, 255},
	"lime":        {0, 255, 0, 255},
	"limegreen":   {50, 205, 50, 255},
	"darkgreen":   {0, 100, 0, 255},
	"blue":        {0, 0, 255, 255},
	"navy":        {0, 0, 128, 255},
	"gray":        {128, 128, 128, 255},
	"grey":        {128, 128, 128, 255},
	"orange":      {255, 165, 0, 255},
	"yellow":      {255, 255, 0, 255},
	"transparent": {0, 0, 0, 0},
}

// ParseColor understands named colors, #rgb/#rgba/#rrggbb/#rrggbbaa and rgb()/rgba().
func ParseColor(value string) (Color, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if c, ok := namedColors[value]; ok {
		return c, true
	}
	if strings.HasPrefix(value, "#") {
		return parseHex(value[1:])
	}
	if strings.HasPrefix(value, "rgb") {
		return parseRGB(value)
	}
	return Color{}, false
}

// normalizeColor converts a declared value to its computed form, leaving
// values it cannot parse lower-cased as they were.
func normalizeColor(v string) string {
	if c, ok := ParseColor(v); ok {
		return c.CSS()
	}
	return strings.ToLower(strings.TrimSpace(v))
}

func parseHex(h string) (Color, bool) {
	for i := 0; i < len(h); i++ {
		if _, ok := hexVal(h[i]); !ok {
			return Color{}, false
		}
	}
	d := func(i int) uint8 { v, _ := hexVal(h[i]); return v }
	switch len(h) {
	case 3:
		return Color{d(0) * 17, d(1) * 17, d(2) * 17, 255}, true
	case 4:
		return Color{d(0) * 17, d(1) * 17, d(2) * 17, d(3) * 17}, true
	case 6:
		return Color{d(0)<<4 | d(1), d(2)<<4 | d(3), d(4)<<4 | d(5), 255}, true
	case 8:
		return Color{d(0)<<4 | d(1), d(2)<<4 | d(3), d(4)<<4 | d(5), d(6)<<4 | d(7)}, true
	}
	return Color{}, false
}

func hexVal(c byte) (uint8, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

var rgbFunc = regexp.MustCompile(`^rgba?\((.*)\)$`)

func parseRGB(v string) (Color, bool) {
	m := rgbFunc.FindStringSubmatch(v)
	if m == nil {
		return Color{}, false
	}
	parts := strings.FieldsFunc(m[1], func(r rune) bool { return r == ',' || r == ' ' || r == '/' })
	if len(parts) < 3 || len(parts) > 4 {
		return Color{}, false
	}
	c := Color{A: 255}
	for i, dst := range []*uint8{&c.R, &c.G, &c.B} {
		val, ok := component(parts[i], false)
		if !ok {
			return Color{}, false
		}
		*dst = val
	}
	if len(parts) == 4 {
		a, ok := component(parts[3], true)
		if !ok {
			return Color{}, false
		}
		c.A = a
	}
	return c, true
}

func component(s string, alpha bool) (uint8, bool) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "%") {
		pct, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return 0, false
		}
		return uint8(clamp(pct/100*255+0.5, 0, 255)), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if alpha {
		return uint8(clamp(f*255+0.5, 0, 255)), true
	}
	return uint8(clamp(f+0.5, 0, 255)), true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
