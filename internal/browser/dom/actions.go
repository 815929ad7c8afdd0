// internal/browser/dom/actions.go
package dom

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// locationAssign matches inline handlers such as window.location.href='survey.php?id=1'.
var locationAssign = regexp.MustCompile(`(?:window\.)?location(?:\.href)?\s*=\s*["']([^"']+)["']`)

// clickConsequenceLocked performs what a browser would do for a click on n.
func (p *Page) clickConsequenceLocked(ctx context.Context, n *html.Node) error {
	tag := strings.ToLower(n.Data)
	inputType := strings.ToLower(attrOf(n, "type"))

	if m := locationAssign.FindStringSubmatch(attrOf(n, "onclick")); m != nil {
		target, err := p.resolveLocked(strings.ReplaceAll(m[1], "&amp;", "&"))
		if err != nil {
			return err
		}
		return p.navigateLocked(ctx, Request{Method: "GET", URL: target})
	}

	if tag == "a" {
		href := strings.TrimSpace(attrOf(n, "href"))
		if href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(strings.ToLower(href), "javascript:") {
			target, err := p.resolveLocked(href)
			if err != nil {
				return err
			}
			return p.navigateLocked(ctx, Request{Method: "GET", URL: target})
		}
	}

	isSubmit := (tag == "button" && (inputType == "submit" || inputType == "")) ||
		(tag == "input" && (inputType == "submit" || inputType == "image"))
	if isSubmit {
		if form := findParentForm(n); form != nil {
			return p.submitFormLocked(ctx, form, n)
		}
	}

	if tag == "input" {
		switch inputType {
		case "checkbox":
			if _, on := getAttr(n, "checked"); on {
				removeAttr(n, "checked")
			} else {
				setAttr(n, "checked", "checked")
			}
			return nil
		case "radio":
			checkRadio(n)
			return nil
		}
	}

	p.logger.Debug("Click has no emulated consequence", zap.String("tag", tag))
	return nil
}

// submitFormLocked serializes form the way a browser does and navigates to its action.
// The submitter's own name/value pair is included.
func (p *Page) submitFormLocked(ctx context.Context, form, submitter *html.Node) error {
	action := strings.TrimSpace(attrOf(form, "action"))
	target, err := p.resolveLocked(action)
	if err != nil || action == "" {
		if p.url == nil {
			return fmt.Errorf("failed to determine form submission URL")
		}
		target = p.url.String()
	}
	method := strings.ToUpper(attrOf(form, "method"))
	if method != "POST" {
		method = "GET"
	}

	data := url.Values{}
	for _, field := range htmlquery.Find(form, ".//input | .//textarea | .//select") {
		name := attrOf(field, "name")
		if name == "" {
			continue
		}
		if _, disabled := getAttr(field, "disabled"); disabled {
			continue
		}
		switch strings.ToLower(field.Data) {
		case "input":
			switch strings.ToLower(attrOf(field, "type")) {
			case "checkbox", "radio":
				if _, on := getAttr(field, "checked"); on {
					v := attrOf(field, "value")
					if v == "" {
						v = "on"
					}
					data.Add(name, v)
				}
			case "submit", "image", "button":
				if field == submitter {
					data.Add(name, attrOf(field, "value"))
				}
			case "reset", "file":
			default:
				data.Add(name, attrOf(field, "value"))
			}
		case "textarea":
			data.Add(name, htmlquery.InnerText(field))
		case "select":
			selected := htmlquery.Find(field, ".//option[@selected]")
			if len(selected) == 0 {
				// Browsers submit the first option of a single select with no selection.
				if _, multiple := getAttr(field, "multiple"); !multiple {
					if first := htmlquery.FindOne(field, ".//option"); first != nil {
						selected = append(selected, first)
					}
				}
			}
			for _, opt := range selected {
				data.Add(name, optionValue(opt))
			}
		}
	}
	if strings.EqualFold(submitter.Data, "button") {
		if name := attrOf(submitter, "name"); name != "" {
			data.Add(name, attrOf(submitter, "value"))
		}
	}

	return p.navigateLocked(ctx, Request{Method: method, URL: target, Form: data})
}

// checkRadio checks n and unchecks the rest of its group.
func checkRadio(n *html.Node) {
	name := attrOf(n, "name")
	if name == "" {
		setAttr(n, "checked", "checked")
		return
	}
	root := findParentForm(n)
	if root == nil {
		root = n
		for root.Parent != nil {
			root = root.Parent
		}
	}
	for _, r := range htmlquery.Find(root, ".//input[@type='radio']") {
		if attrOf(r, "name") != name {
			continue
		}
		if r == n {
			setAttr(r, "checked", "checked")
		} else {
			removeAttr(r, "checked")
		}
	}
}

// selectOption leaves the select untouched when no option carries value.
func selectOption(sel *html.Node, value string) error {
	options := htmlquery.Find(sel, ".//option")
	var match *html.Node
	for _, opt := range options {
		if optionValue(opt) == value {
			match = opt
			break
		}
	}
	if match == nil {
		return fmt.Errorf("option %q not found in select element", value)
	}
	for _, opt := range options {
		if opt == match {
			setAttr(opt, "selected", "selected")
		} else {
			removeAttr(opt, "selected")
		}
	}
	return nil
}

// optionValue falls back to the option text when no value attribute is present.
func optionValue(opt *html.Node) string {
	if v, ok := getAttr(opt, "value"); ok {
		return v
	}
	return strings.TrimSpace(htmlquery.InnerText(opt))
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func attrOf(n *html.Node, key string) string {
	v, _ := getAttr(n, key)
	return v
}

func removeAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func findParentForm(n *html.Node) *html.Node {
	for f := n.Parent; f != nil; f = f.Parent {
		if f.Type == html.ElementNode && strings.EqualFold(f.Data, "form") {
			return f
		}
	}
	return nil
}
