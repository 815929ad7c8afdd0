// internal/reporting/text.go
package reporting

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/xkilldash9x/studypilot/api/schemas"
)

// TextSink writes one human readable line per result as it arrives.
type TextSink struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewTextSink takes ownership of w.
func NewTextSink(w io.WriteCloser) *TextSink {
	return &TextSink{w: w}
}

func (s *TextSink) Emit(_ context.Context, res schemas.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.w, FormatLine(res))
	return err
}

// Flush is a no-op; lines are written on Emit.
func (s *TextSink) Flush(context.Context) error { return nil }

func (s *TextSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}

// FormatLine renders a result as a single status line.
func FormatLine(res schemas.TaskResult) string {
	line := fmt.Sprintf("[%s] #%d %s (%s) attempts=%d", res.FinalStatus, res.WorkItem.Index, res.WorkItem.Label, res.WorkItem.TargetURL, res.Attempts)
	if res.Reason != schemas.ReasonNone {
		line += " reason=" + string(res.Reason)
	}
	if res.Degraded {
		line += " degraded"
	}
	return line
}
