// internal/resolver/catalog.go
package resolver

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/studypilot/internal/browser"
)

// Roles known to the default catalog.
const (
	RoleFinishControl    = "finish-control"
	RoleProgressMarker   = "progress-marker"
	RoleProgressField    = "progress-field"
	RoleProgressSubmit   = "progress-submit"
	RoleSurveyDifficulty = "survey-difficulty"
	RoleSurveyUsefulness = "survey-usefulness"
	RoleSurveyAnySelect  = "survey-any-select"
	RoleSurveySubmit     = "survey-submit"
	RoleLoginUsername    = "login-username"
	RoleLoginPassword    = "login-password"
	RoleLoginSubmit      = "login-submit"
	RoleListingContainer = "listing-container"
	RoleListingLink      = "listing-link"
	RoleCompletionCheck  = "completion-check"
	RolePlanLink         = "plan-link"
)

// Catalog maps a role to its ordered strategy chain.
type Catalog map[string][]Strategy

// Chain returns a copy of the chain for role, or nil.
func (c Catalog) Chain(role string) []Strategy {
	return append([]Strategy(nil), c[role]...)
}

// Roles lists the catalog's roles in sorted order.
func (c Catalog) Roles() []string {
	roles := make([]string, 0, len(c))
	for r := range c {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

// Validate checks every chain.
func (c Catalog) Validate() error {
	for _, role := range c.Roles() {
		if err := ValidateChain(role, c[role]); err != nil {
			return err
		}
	}
	return nil
}

// Merge returns a copy of c where every role present in override has its
// whole chain replaced.
func (c Catalog) Merge(override Catalog) Catalog {
	out := make(Catalog, len(c)+len(override))
	for role, chain := range c {
		out[role] = append([]Strategy(nil), chain...)
	}
	for role, chain := range override {
		out[role] = append([]Strategy(nil), chain...)
	}
	return out
}

// LoadCatalog reads a YAML file mapping roles to strategy chains and applies
// it over DefaultCatalog. An empty path returns the defaults.
func LoadCatalog(path string) (Catalog, error) {
	base := DefaultCatalog()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy catalog %s: %w", path, err)
	}
	override, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("strategy catalog %s: %w", path, err)
	}
	return base.Merge(override), nil
}

// ParseCatalog decodes and validates a YAML catalog document.
func ParseCatalog(data []byte) (Catalog, error) {
	var raw map[string][]Strategy
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	cat := make(Catalog, len(raw))
	for role, chain := range raw {
		cat[role] = normalize(role, chain)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

// normalize stamps the role on every strategy and marks coordinate strategies degraded.
func normalize(role string, chain []Strategy) []Strategy {
	for i := range chain {
		chain[i].Role = role
		if chain[i].IsCoordinate() {
			chain[i].Degraded = true
		}
	}
	return chain
}

func css(name, expr string) Strategy {
	return Strategy{Name: name, Locator: browser.CSS(expr)}
}

func xpath(name, expr string) Strategy {
	return Strategy{Name: name, Locator: browser.XPath(expr)}
}

func withText(s Strategy, text string) Strategy {
	s.Locator = s.Locator.WithText(text)
	return s
}

func interactive(chain ...Strategy) []Strategy {
	for i := range chain {
		chain[i].Interactive = true
	}
	return chain
}

func point(name string, p Point) Strategy {
	return Strategy{Name: name, Interactive: true, Degraded: true, Coordinates: &p}
}

// DefaultCatalog returns the built-in chains for the learning site.
//
// Listing chains are XPath so that discovery can scope the relative
// listing-link and completion-check chains to a single entry.
func DefaultCatalog() Catalog {
	cat := Catalog{
		RoleFinishControl: append(interactive(
			css("finish-by-value", `input[type='button'][value='完成本节学习']`),
			css("finish-by-survey-onclick", `input[type='button'][onclick*='survey.php']`),
			withText(css("finish-button-text", "button"), "完成"),
			withText(css("end-study-button-text", "button"), "结束学习"),
			css("finish-by-id", "#finish-btn"),
			css("finish-id-partial", "[id*='finish']"),
			css("finish-class-partial", "[class*='finish']"),
		), point("finish-viewport-point", Point{X: 500, Y: 500})),

		RoleProgressMarker: {
			css("progress-orange-font", "font[color='#FF5809']"),
			xpath("progress-level-count-text", "//font[contains(text(), '关')]"),
		},
		RoleProgressField: {
			{Name: "progress-step-hidden", Locator: browser.CSS("input[type='hidden'][name='step']"), AllowHidden: true},
			{Name: "progress-step-any", Locator: browser.CSS("input[name='step']"), AllowHidden: true},
		},
		RoleProgressSubmit: interactive(
			css("progress-process-submit", "input[type='submit'][name='button_prac_process']"),
			css("progress-any-submit", "input[type='submit']"),
		),

		RoleSurveyDifficulty: interactive(
			css("difficulty-select", "select[name='difficulty']"),
			css("level-select", "select[name='level']"),
			css("difficulty-radio", "input[type='radio'][name='difficulty'][value='{value}']"),
			css("level-radio", "input[type='radio'][name='level'][value='{value}']"),
			css("any-radio-with-value", "input[type='radio'][value='{value}']"),
		),
		RoleSurveyUsefulness: interactive(
			css("use-select", "select[name='use']"),
			css("utility-select", "select[name='utility']"),
			css("use-radio", "input[type='radio'][name='use'][value='{value}']"),
			css("utility-radio", "input[type='radio'][name='utility'][value='{value}']"),
			css("any-radio-with-value", "input[type='radio'][value='{value}']"),
		),
		RoleSurveyAnySelect: interactive(
			css("every-select", "select"),
		),
		RoleSurveySubmit: append(interactive(
			css("submit-input", "input[type='submit']"),
			css("submit-button", "button[type='submit']"),
			withText(css("submit-button-text", "button"), "提交"),
			css("submit-input-value", "input[value*='提交']"),
			xpath("submit-button-xpath", "//button[contains(text(), '提交')]"),
			xpath("submit-input-xpath", "//input[contains(@value, '提交')]"),
		), point("submit-lower-center", Point{X: 0.5, Y: 0.8, Fraction: true})),

		RoleLoginUsername: interactive(
			css("username-id", "#username"),
			css("username-name", "input[name='username']"),
			css("first-text-input", "input[type='text']"),
		),
		RoleLoginPassword: interactive(
			css("password-id", "#password"),
			css("password-name", "input[name='password']"),
			css("password-input", "input[type='password']"),
		),
		RoleLoginSubmit: interactive(
			css("submit-named", "input[type='submit'][name='submit']"),
			css("submit-input", "input[type='submit']"),
			css("submit-button", "button[type='submit']"),
		),

		RoleListingContainer: {
			xpath("study-content-items", "//*[@id='study_content']//ul/li"),
			xpath("any-list-item", "//li"),
		},
		RoleListingLink: {
			xpath("item-anchor", "//a[@href]"),
		},
		RoleCompletionCheck: {
			withText(xpath("blue-check", "//font[@color='blue']"), "✓"),
			withText(xpath("blue-heavy-check", "//font[@color='blue']"), "✔"),
		},
		RolePlanLink: {
			css("content-icon-link", "a:has(img[src*='content1.png'])"),
			xpath("content-icon-link-xpath", "//a[img[contains(@src, 'content1.png')]]"),
		},
	}
	for role, chain := range cat {
		cat[role] = normalize(role, chain)
	}
	return cat
}
