// internal/reporting/memory.go
package reporting

import (
	"context"
	"sync"

	"github.com/xkilldash9x/studypilot/api/schemas"
)

// MemorySink keeps results in memory. Used by tests and dry runs.
type MemorySink struct {
	mu      sync.Mutex
	emitted []schemas.TaskResult
	flushed int
	flushes int
	closed  bool
}

// NewMemorySink returns an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Emit(_ context.Context, res schemas.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.emitted = append(s.emitted, res)
	return nil
}

func (s *MemorySink) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	s.flushed = len(s.emitted)
	return nil
}

func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Results returns everything emitted so far.
func (s *MemorySink) Results() []schemas.TaskResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schemas.TaskResult(nil), s.emitted...)
}

// Flushed returns the results covered by the last flush.
func (s *MemorySink) Flushed() []schemas.TaskResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schemas.TaskResult(nil), s.emitted[:s.flushed]...)
}

// Flushes counts Flush calls.
func (s *MemorySink) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

// Checkpoint reports the emitted results, so a MemorySink can stand in for
// a file sink in resume tests.
func (s *MemorySink) Checkpoint(_ context.Context) (map[string]schemas.FinalStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]schemas.FinalStatus, len(s.emitted))
	for _, res := range s.emitted {
		seen[res.WorkItem.TargetURL] = res.FinalStatus
	}
	return seen, nil
}
