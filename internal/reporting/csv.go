// internal/reporting/csv.go
package reporting

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/xkilldash9x/studypilot/api/schemas"
)

// CSVHeader is the column order of the results file.
var CSVHeader = []string{"timestamp", "index", "label", "url", "marked", "status", "reason", "attempts", "degraded"}

// CSVSink appends one row per result to a CSV file. The header is written
// only when the file is created.
type CSVSink struct {
	path string

	mu      sync.Mutex
	pending []schemas.Record
	closed  bool
}

// NewCSVSink creates a sink appending to path. The file is touched on the
// first flush, not here.
func NewCSVSink(path string) (*CSVSink, error) {
	if path == "" {
		return nil, errors.New("csv sink needs an output path")
	}
	return &CSVSink{path: path}, nil
}

// Emit buffers the result.
func (s *CSVSink) Emit(_ context.Context, res schemas.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.pending = append(s.pending, res.Record())
	return nil
}

// Flush appends the buffered rows.
func (s *CSVSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

func (s *CSVSink) flushLocked(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", s.path, err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", s.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat %s: %w", s.path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(CSVHeader); err != nil {
			f.Close()
			return err
		}
	}
	for _, rec := range s.pending {
		if err := w.Write(csvRow(rec)); err != nil {
			f.Close()
			return fmt.Errorf("writing %s: %w", s.path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.pending = s.pending[:0]
	return nil
}

// Close flushes what is left.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.flushLocked(context.Background())
}

func csvRow(rec schemas.Record) []string {
	return []string{
		rec.Timestamp,
		strconv.Itoa(rec.Index),
		rec.Label,
		rec.URL,
		strconv.FormatBool(rec.Marked),
		rec.Status,
		rec.Reason,
		strconv.Itoa(rec.Attempts),
		strconv.FormatBool(rec.Degraded),
	}
}

// ParseCSVRow reads a row written by CSVSink back into a Record.
func ParseCSVRow(row []string) (schemas.Record, error) {
	if len(row) != len(CSVHeader) {
		return schemas.Record{}, fmt.Errorf("expected %d columns, got %d", len(CSVHeader), len(row))
	}
	index, err := strconv.Atoi(row[1])
	if err != nil {
		return schemas.Record{}, fmt.Errorf("index: %w", err)
	}
	attempts, err := strconv.Atoi(row[7])
	if err != nil {
		return schemas.Record{}, fmt.Errorf("attempts: %w", err)
	}
	return schemas.Record{
		Timestamp: row[0],
		Index:     index,
		Label:     row[2],
		URL:       row[3],
		Marked:    row[4] == "true",
		Status:    row[5],
		Reason:    row[6],
		Attempts:  attempts,
		Degraded:  row[8] == "true",
	}, nil
}
