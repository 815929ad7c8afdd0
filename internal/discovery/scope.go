// internal/discovery/scope.go
package discovery

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Scope keeps discovered links on the learning site. Listings sometimes link
// to help pages or ads on other domains; those never become work items.
type Scope struct {
	rootDomain        string
	includeSubdomains bool
}

// NewScope derives the scope from the configured base URL.
func NewScope(baseURL string, includeSubdomains bool) (*Scope, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	hostname := u.Hostname()
	if hostname == "" {
		return nil, fmt.Errorf("base URL must have a hostname: %s", baseURL)
	}

	// IP literals and single-label hosts have no registrable domain.
	if net.ParseIP(hostname) != nil || !strings.Contains(hostname, ".") {
		return &Scope{rootDomain: hostname}, nil
	}

	// eTLD+1, so "www.example.com.cn" and "study.example.com.cn" share a scope.
	domain, err := publicsuffix.EffectiveTLDPlusOne(hostname)
	if err != nil {
		return nil, fmt.Errorf("could not determine effective TLD+1 for %s: %w", hostname, err)
	}

	return &Scope{
		rootDomain:        domain,
		includeSubdomains: includeSubdomains,
	}, nil
}

// Contains checks whether u belongs to the site.
func (s *Scope) Contains(u *url.URL) bool {
	host := u.Hostname()
	if host == s.rootDomain {
		return true
	}
	// the dot prevents "notexample.com" from matching "example.com"
	return s.includeSubdomains && strings.HasSuffix(host, "."+s.rootDomain)
}

// RootDomain returns the domain defining the scope.
func (s *Scope) RootDomain() string {
	return s.rootDomain
}
