// internal/discovery/normalize.go
package discovery

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/xkilldash9x/studypilot/api/schemas"
)

// planLabelPattern pulls the course title out of study page file names such
// as "3_2_文件权限.php".
var planLabelPattern = regexp.MustCompile(`\d+_\d+_(.*?)\.php`)

// legacyContentPath is how plan pages link to study content; the content
// itself is served one level up.
const (
	legacyContentPath = "/user/study/content"
	contentPath       = "/study/content"
)

// ResolveHref turns a listing href into an absolute URL on the base origin.
// Leading "../" segments are dropped rather than resolved, because listing
// pages live at varying depths but always point at the site root.
func ResolveHref(base *url.URL, href string) (*url.URL, error) {
	h := strings.TrimSpace(href)
	if h == "" || strings.HasPrefix(h, "#") {
		return nil, fmt.Errorf("href %q does not point at a page", href)
	}
	lower := strings.ToLower(h)
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") {
		return nil, fmt.Errorf("href %q does not point at a page", href)
	}
	for strings.HasPrefix(h, "../") {
		h = strings.TrimPrefix(h, "../")
	}

	ref, err := url.Parse(h)
	if err != nil {
		return nil, fmt.Errorf("invalid href %q: %w", href, err)
	}
	u := base.ResolveReference(ref)
	if strings.HasPrefix(u.Path, legacyContentPath) {
		u.Path = contentPath + strings.TrimPrefix(u.Path, legacyContentPath)
		u.RawPath = ""
	}
	u.Fragment = ""
	return u, nil
}

// PlanLabel extracts the course title encoded in a plan href. The href may be
// percent-encoded.
func PlanLabel(href string) string {
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	if m := planLabelPattern.FindStringSubmatch(href); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// CleanLabel collapses whitespace and substitutes the untitled sentinel.
func CleanLabel(text string) string {
	label := strings.Join(strings.Fields(text), " ")
	if label == "" {
		return schemas.UntitledLabel
	}
	return label
}

// KindFromURL guesses the page kind when a source does not declare one.
func KindFromURL(u *url.URL) schemas.PageKind {
	p := strings.ToLower(u.Path)
	if strings.Contains(p, "practice") || strings.Contains(p, "prac") {
		return schemas.PageKindPractice
	}
	return schemas.PageKindStudy
}
