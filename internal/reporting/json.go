// internal/reporting/json.go
package reporting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/studypilot/api/schemas"
)

// ErrSinkClosed is returned by Emit after Close.
var ErrSinkClosed = errors.New("sink is closed")

// recordJSON keeps non-ASCII labels readable in the output file.
var recordJSON = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// JSONSink keeps a JSON array of records. Every flush reads the array
// already on disk, appends the buffered records and rewrites the file.
type JSONSink struct {
	path string

	mu      sync.Mutex
	pending []schemas.Record
	closed  bool
}

// NewJSONSink creates a sink merging into path.
func NewJSONSink(path string) (*JSONSink, error) {
	if path == "" {
		return nil, errors.New("json sink needs an output path")
	}
	return &JSONSink{path: path}, nil
}

// Emit buffers the result.
func (s *JSONSink) Emit(_ context.Context, res schemas.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.pending = append(s.pending, res.Record())
	return nil
}

// Flush merges the buffered records into the file.
func (s *JSONSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

func (s *JSONSink) flushLocked(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	existing, err := readRecords(s.path)
	if err != nil {
		// A corrupt file must not swallow the new records. Keep it aside.
		aside := s.path + ".corrupt"
		if rerr := os.Rename(s.path, aside); rerr != nil {
			return fmt.Errorf("%w (and moving it aside failed: %v)", err, rerr)
		}
		existing = nil
	}
	merged := append(existing, s.pending...)

	data, err := recordJSON.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", s.path, err)
	}
	if err := writeAtomic(s.path, data); err != nil {
		return err
	}
	s.pending = s.pending[:0]
	return nil
}

// Close flushes what is left.
func (s *JSONSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.flushLocked(context.Background())
}

// Checkpoint reports the status recorded last for every URL in the file.
func (s *JSONSink) Checkpoint(_ context.Context) (map[string]schemas.FinalStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := readRecords(s.path)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]schemas.FinalStatus, len(records))
	for _, rec := range records {
		seen[rec.URL] = schemas.FinalStatus(rec.Status)
	}
	return seen, nil
}

// readRecords loads the array at path. A missing or empty file is an empty array.
func readRecords(path string) ([]schemas.Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var records []schemas.Record
	if err := recordJSON.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return records, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
