package schemas

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy shared by the resolver, the workflow machine and the pipeline.
// A classification is total over its keyword vocabulary, so there is no
// "ambiguous classification" error.
var (
	// ErrNotFound means a strategy chain was exhausted. Recoverable.
	ErrNotFound = errors.New("element not found")
	// ErrTimeout means a bounded wait exceeded its budget.
	ErrTimeout = errors.New("wait timed out")
	// ErrNavigationExhausted means the navigation retry budget ran out. Fatal for the item.
	ErrNavigationExhausted = errors.New("navigation retries exhausted")
	// ErrNotReady means the page never reached its ready state. Fatal for the item.
	ErrNotReady = errors.New("page never became ready")
	// ErrSessionLost means the tab or browser is unreachable. Fatal for the run.
	ErrSessionLost = errors.New("browser session lost")
)

// ResolutionError reports an exhausted strategy chain with every strategy that was tried.
type ResolutionError struct {
	Role  string
	Tried []string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("no strategy resolved role %q (tried: %s)", e.Role, strings.Join(e.Tried, ", "))
}

// Unwrap lets errors.Is(err, ErrNotFound) match.
func (e *ResolutionError) Unwrap() error {
	return ErrNotFound
}

// IsRunFatal reports whether err must stop the whole run rather than a single item.
func IsRunFatal(err error) bool {
	return errors.Is(err, ErrSessionLost)
}
