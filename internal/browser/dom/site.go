// internal/browser/dom/site.go
package dom

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/xkilldash9x/studypilot/api/schemas"
)

// Route is one document served by a Site, with optional failure injection.
type Route struct {
	body          string
	failFirst     int
	neverSettles  bool
	closesSession bool
}

// FailFirst makes the first n fetches of the route fail with a network error.
func (r *Route) FailFirst(n int) *Route {
	r.failFirst = n
	return r
}

// NeverSettles makes the loaded document never reach network idle.
func (r *Route) NeverSettles() *Route {
	r.neverSettles = true
	return r
}

// ClosesSession makes fetching the route tear the whole session down.
func (r *Route) ClosesSession() *Route {
	r.closesSession = true
	return r
}

// Submission records one form submission received by a Site.
type Submission struct {
	Method string
	URL    string
	Form   url.Values
}

// Click records one coordinate click received by a Site.
type Click struct {
	URL  string
	X, Y float64
}

// Site is an in-memory Transport serving fixed documents by URL. It is safe
// for concurrent use, although the engine only ever drives one page.
type Site struct {
	mu          sync.Mutex
	routes      map[string]*Route
	visits      map[string]int
	submissions []Submission
	clicks      []Click
	closed      bool
}

// NewSite returns an empty site.
func NewSite() *Site {
	return &Site{routes: make(map[string]*Route), visits: make(map[string]int)}
}

// Handle serves body at rawURL. The fragment is ignored; a route registered
// without a query string also answers requests carrying one.
func (s *Site) Handle(rawURL, body string) *Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &Route{body: body}
	s.routes[routeKey(rawURL)] = r
	return r
}

// Close tears the session down; every later fetch fails with ErrSessionLost.
func (s *Site) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Closed reports whether the site has been torn down.
func (s *Site) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Visits counts fetch attempts for rawURL, failed ones included.
func (s *Site) Visits(rawURL string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visits[routeKey(rawURL)]
}

// Submissions returns every form submission received so far.
func (s *Site) Submissions() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Submission(nil), s.submissions...)
}

// Clicks returns every coordinate click received so far.
func (s *Site) Clicks() []Click {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Click(nil), s.clicks...)
}

// Fetch serves the route for req.URL.
func (s *Site) Fetch(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, schemas.ErrSessionLost
	}

	key := routeKey(req.URL)
	s.visits[key]++
	if len(req.Form) > 0 || strings.EqualFold(req.Method, "POST") {
		s.submissions = append(s.submissions, Submission{Method: strings.ToUpper(req.Method), URL: req.URL, Form: req.Form})
	}

	route, ok := s.routes[key]
	if !ok {
		route, ok = s.routes[withoutQuery(key)]
	}
	if !ok {
		return nil, fmt.Errorf("net::ERR_NAME_NOT_RESOLVED at %s", req.URL)
	}
	if route.closesSession {
		s.closed = true
		return nil, schemas.ErrSessionLost
	}
	if route.failFirst > 0 {
		route.failFirst--
		return nil, fmt.Errorf("net::ERR_CONNECTION_RESET at %s", req.URL)
	}

	final := req.URL
	if len(req.Form) > 0 && !strings.EqualFold(req.Method, "POST") {
		if u, err := url.Parse(req.URL); err == nil {
			u.RawQuery = req.Form.Encode()
			final = u.String()
		}
	}
	return &Response{URL: final, Body: route.body, Settles: !route.neverSettles}, nil
}

// ClickAt records a coordinate click.
func (s *Site) ClickAt(ctx context.Context, pageURL string, x, y float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return schemas.ErrSessionLost
	}
	s.clicks = append(s.clicks, Click{URL: pageURL, X: x, Y: y})
	return nil
}

func routeKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	return u.String()
}

func withoutQuery(key string) string {
	if i := strings.IndexByte(key, '?'); i >= 0 {
		return key[:i]
	}
	return key
}

var (
	_ Transport         = (*Site)(nil)
	_ CoordinateClicker = (*Site)(nil)
)
