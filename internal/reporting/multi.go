// internal/reporting/multi.go
package reporting

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/studypilot/api/schemas"
)

// MultiSink fans every call out to its children.
type MultiSink struct {
	sinks []Sink
}

// Multi combines sinks. Nil entries are dropped.
func Multi(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Emit hands the result to every child in order. One child failing does not
// keep the result from the others.
func (m *MultiSink) Emit(ctx context.Context, res schemas.TaskResult) error {
	var errs []error
	for i, s := range m.sinks {
		if err := s.Emit(ctx, res); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Flush flushes the children concurrently; they write to independent targets.
func (m *MultiSink) Flush(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m.sinks {
		g.Go(func() error { return s.Flush(gctx) })
	}
	return g.Wait()
}

// Close closes every child.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Checkpoint merges the checkpoints of the children that keep one.
func (m *MultiSink) Checkpoint(ctx context.Context) (map[string]schemas.FinalStatus, error) {
	merged := make(map[string]schemas.FinalStatus)
	for _, s := range m.sinks {
		cp, ok := s.(Checkpointer)
		if !ok {
			continue
		}
		seen, err := cp.Checkpoint(ctx)
		if err != nil {
			return nil, err
		}
		for u, status := range seen {
			if merged[u] != schemas.StatusCompleted {
				merged[u] = status
			}
		}
	}
	return merged, nil
}

var (
	_ Sink         = (*CSVSink)(nil)
	_ Sink         = (*JSONSink)(nil)
	_ Sink         = (*MemorySink)(nil)
	_ Sink         = (*TextSink)(nil)
	_ Sink         = (*MultiSink)(nil)
	_ Checkpointer = (*JSONSink)(nil)
	_ Checkpointer = (*MemorySink)(nil)
	_ Checkpointer = (*MultiSink)(nil)
)
