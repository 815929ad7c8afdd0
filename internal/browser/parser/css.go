// internal/browser/parser/css.go
package parser

import (
	"fmt"
	"strings"
)

// Property is a lower-cased CSS property name (e.g. "color").
type Property string

// Value is a raw CSS value (e.g. "rgb(0, 128, 0)").
type Value string

// Declaration is one property/value pair.
type Declaration struct {
	Property  Property
	Value     Value
	Important bool
}

// RuleSet binds declarations to the selector list (the rule's prelude, as
// written) that selects them. Selector matching is left to the caller.
type RuleSet struct {
	Selector     string
	Declarations []Declaration
}

// StyleSheet is a parsed <style> block.
type StyleSheet struct {
	Rules []RuleSet
}

// Parse reads a stylesheet. At-rules are skipped, and malformed rules are dropped
// without aborting the rest of the sheet.
func Parse(input string) StyleSheet {
	s := &scanner{src: input}
	var sheet StyleSheet
	for {
		s.skipSpaceAndComments()
		if s.done() {
			return sheet
		}
		if s.peek() == '@' {
			s.skipAtRule()
			continue
		}

		selector := s.prelude()
		decls, err := s.block()
		if err != nil {
			continue
		}
		if selector != "" && len(decls) > 0 {
			sheet.Rules = append(sheet.Rules, RuleSet{Selector: selector, Declarations: decls})
		}
	}
}

// ParseInline reads the declarations of a style="" attribute.
func ParseInline(attr string) []Declaration {
	var out []Declaration
	for _, chunk := range strings.Split(attr, ";") {
		name, val, ok := strings.Cut(chunk, ":")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		val, important := splitImportant(strings.TrimSpace(val))
		if name == "" || val == "" {
			continue
		}
		out = append(out, Declaration{Property: Property(name), Value: Value(val), Important: important})
	}
	return out
}

func splitImportant(val string) (string, bool) {
	if strings.HasSuffix(strings.ToLower(val), "!important") {
		return strings.TrimSpace(val[:len(val)-len("!important")]), true
	}
	return val, false
}

// scanner is a byte cursor over the stylesheet source.
type scanner struct {
	src string
	pos int
}

func (s *scanner) done() bool { return s.pos >= len(s.src) }

func (s *scanner) peek() byte {
	if s.done() {
		return 0
	}
	return s.src[s.pos]
}

func (s *scanner) next() byte {
	c := s.peek()
	if !s.done() {
		s.pos++
	}
	return c
}

func (s *scanner) skipSpace() {
	for !s.done() && isSpace(s.peek()) {
		s.pos++
	}
}

func (s *scanner) skipSpaceAndComments() {
	for {
		s.skipSpace()
		if !strings.HasPrefix(s.src[s.pos:], "/*") {
			return
		}
		end := strings.Index(s.src[s.pos+2:], "*/")
		if end < 0 {
			s.pos = len(s.src)
			return
		}
		s.pos += end + 4
	}
}

func (s *scanner) skipUntil(stops ...byte) {
	for !s.done() {
		for _, b := range stops {
			if s.peek() == b {
				return
			}
		}
		s.pos++
	}
}

// skipBlock consumes up to and including the close that balances an already consumed open.
func (s *scanner) skipBlock(open, close byte) {
	depth := 1
	for !s.done() {
		switch s.next() {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return
			}
		}
	}
}

func (s *scanner) skipQuoted(q byte) {
	s.next()
	for !s.done() {
		c := s.next()
		if c == '\\' {
			s.next()
		} else if c == q {
			return
		}
	}
}

func (s *scanner) skipAtRule() {
	for !s.done() {
		switch s.next() {
		case '{':
			s.skipBlock('{', '}')
			return
		case ';':
			return
		}
	}
}

// prelude returns the trimmed text before the rule's opening brace. Quoted
// strings may contain braces.
func (s *scanner) prelude() string {
	start := s.pos
	for !s.done() && s.peek() != '{' {
		switch s.peek() {
		case '"', '\'':
			s.skipQuoted(s.peek())
		default:
			s.pos++
		}
	}
	return strings.TrimSpace(s.src[start:s.pos])
}

// block parses "{ prop: value; ... }".
func (s *scanner) block() ([]Declaration, error) {
	s.skipSpace()
	if s.peek() != '{' {
		return nil, fmt.Errorf("expected '{'")
	}
	s.next()

	var decls []Declaration
	for {
		s.skipSpaceAndComments()
		if s.done() {
			return decls, nil
		}
		if s.peek() == '}' {
			s.next()
			return decls, nil
		}
		if d, ok := s.declaration(); ok {
			decls = append(decls, d)
		}
	}
}

func (s *scanner) declaration() (Declaration, bool) {
	skipRest := func() {
		s.skipUntil(';', '}')
		if s.peek() == ';' {
			s.next()
		}
	}
	if !isIdentStart(s.peek()) {
		skipRest()
		return Declaration{}, false
	}
	start := s.pos
	for !s.done() && isIdentChar(s.peek()) {
		s.pos++
	}
	name := strings.ToLower(s.src[start:s.pos])
	s.skipSpace()
	if s.peek() != ':' {
		skipRest()
		return Declaration{}, false
	}
	s.next()
	s.skipSpace()

	start = s.pos
	for !s.done() && s.peek() != ';' && s.peek() != '}' {
		switch s.peek() {
		case '"', '\'':
			s.skipQuoted(s.peek())
		case '(':
			s.next()
			s.skipBlock('(', ')')
		default:
			s.pos++
		}
	}
	val, important := splitImportant(strings.TrimSpace(s.src[start:s.pos]))
	if s.peek() == ';' {
		s.next()
	}
	if val == "" {
		return Declaration{}, false
	}
	return Declaration{Property: Property(name), Value: Value(val), Important: important}, true
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' }

func isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || c == '-'
}

func isIdentChar(c byte) bool { return isIdentStart(c) || (c >= '0' && c <= '9') }
