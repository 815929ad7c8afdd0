// internal/resolver/strategy.go
package resolver

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/studypilot/internal/browser"
)

// ValuePlaceholder is replaced by Bind with the value a chain is looking for.
const ValuePlaceholder = "{value}"

// Point is a click position. When Fraction is set, X and Y are fractions of
// the viewport size instead of CSS pixels.
type Point struct {
	X        float64 `yaml:"x" json:"x"`
	Y        float64 `yaml:"y" json:"y"`
	Fraction bool    `yaml:"fraction,omitempty" json:"fraction,omitempty"`
}

// Absolute converts p into viewport pixels.
func (p Point) Absolute(vp browser.Viewport) Point {
	if !p.Fraction {
		return p
	}
	return Point{X: vp.Width * p.X, Y: vp.Height * p.Y}
}

// Strategy is one way of finding the element that plays a role.
//
// Interactive strategies only accept enabled elements. AllowHidden accepts
// elements that are not rendered, which hidden form fields need. A strategy
// with Coordinates does not query the page at all; it is always degraded and
// must end its chain.
type Strategy struct {
	Name        string          `yaml:"name" json:"name"`
	Role        string          `yaml:"-" json:"role"`
	Locator     browser.Locator `yaml:",inline" json:"locator"`
	Interactive bool            `yaml:"interactive,omitempty" json:"interactive,omitempty"`
	AllowHidden bool            `yaml:"allow_hidden,omitempty" json:"allow_hidden,omitempty"`
	Degraded    bool            `yaml:"degraded,omitempty" json:"degraded,omitempty"`
	Coordinates *Point          `yaml:"coordinates,omitempty" json:"coordinates,omitempty"`
}

// IsCoordinate reports whether s clicks a fixed position instead of an element.
func (s Strategy) IsCoordinate() bool {
	return s.Coordinates != nil
}

func (s Strategy) String() string {
	if s.IsCoordinate() {
		return fmt.Sprintf("%s(point %.2f,%.2f)", s.Name, s.Coordinates.X, s.Coordinates.Y)
	}
	return fmt.Sprintf("%s(%s)", s.Name, s.Locator)
}

// Bind returns a copy of chain with ValuePlaceholder replaced by value in
// every locator expression and text filter.
func Bind(chain []Strategy, value string) []Strategy {
	out := make([]Strategy, len(chain))
	for i, s := range chain {
		s.Locator.Expr = strings.ReplaceAll(s.Locator.Expr, ValuePlaceholder, value)
		s.Locator.HasText = strings.ReplaceAll(s.Locator.HasText, ValuePlaceholder, value)
		out[i] = s
	}
	return out
}

// ValidateChain checks a chain for a role.
func ValidateChain(role string, chain []Strategy) error {
	if len(chain) == 0 {
		return fmt.Errorf("role %q has an empty strategy chain", role)
	}
	seen := make(map[string]struct{}, len(chain))
	for i, s := range chain {
		if s.Name == "" {
			return fmt.Errorf("role %q: strategy %d has no name", role, i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("role %q: duplicate strategy name %q", role, s.Name)
		}
		seen[s.Name] = struct{}{}

		if s.IsCoordinate() {
			if i != len(chain)-1 {
				return fmt.Errorf("role %q: coordinate strategy %q must be last in its chain", role, s.Name)
			}
			if !s.Interactive {
				return fmt.Errorf("role %q: coordinate strategy %q can only serve interactive roles", role, s.Name)
			}
			if s.Coordinates.Fraction && (s.Coordinates.X < 0 || s.Coordinates.X > 1 || s.Coordinates.Y < 0 || s.Coordinates.Y > 1) {
				return fmt.Errorf("role %q: coordinate strategy %q has fractions outside [0,1]", role, s.Name)
			}
			continue
		}
		if err := s.Locator.Validate(); err != nil {
			return fmt.Errorf("role %q: strategy %q: %w", role, s.Name, err)
		}
	}
	return nil
}
