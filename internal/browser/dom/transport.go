// internal/browser/dom/transport.go
package dom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Request is a navigation the page wants to perform.
type Request struct {
	Method  string
	URL     string
	Form    url.Values
	Referer string
}

// Response is a loaded document. Settles is false for documents whose network
// activity never goes quiet.
type Response struct {
	URL     string
	Body    string
	Settles bool
}

// Transport fetches documents for a Page. Implementations return
// schemas.ErrSessionLost once they can no longer serve any request.
type Transport interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// CoordinateClicker is implemented by transports that can observe raw
// viewport clicks. A static document has no layout to hit-test against.
type CoordinateClicker interface {
	ClickAt(ctx context.Context, pageURL string, x, y float64) error
}

// closer is implemented by transports that can report a lost session.
type closer interface {
	Closed() bool
}

const maxBodyBytes = 10 << 20

// HTTPTransport fetches documents over plain HTTP with a cookie jar, which is
// enough for server-rendered pages that do not rely on scripts.
type HTTPTransport struct {
	client    *http.Client
	userAgent string
}

// NewHTTPTransport builds a transport with a public-suffix aware cookie jar.
func NewHTTPTransport(timeout time.Duration, userAgent string) (*HTTPTransport, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &HTTPTransport{
		client:    &http.Client{Jar: jar, Timeout: timeout},
		userAgent: userAgent,
	}, nil
}

// Fetch performs the request, following redirects.
func (t *HTTPTransport) Fetch(ctx context.Context, r Request) (*Response, error) {
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	target := r.URL
	if method == http.MethodPost {
		body = strings.NewReader(r.Form.Encode())
	} else if len(r.Form) > 0 {
		u, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("invalid URL %q: %w", target, err)
		}
		if u.RawQuery == "" {
			u.RawQuery = r.Form.Encode()
		} else {
			u.RawQuery += "&" + r.Form.Encode()
		}
		target = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %q: %w", target, err)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if r.Referer != "" {
		req.Header.Set("Referer", r.Referer)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("request to %s timed out: %w", target, err)
		}
		return nil, fmt.Errorf("request to %s failed: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("request to %s returned HTTP %d", target, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", target, err)
	}
	return &Response{URL: resp.Request.URL.String(), Body: string(data), Settles: true}, nil
}
