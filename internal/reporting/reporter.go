// internal/reporting/reporter.go
package reporting

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/xkilldash9x/studypilot/api/schemas"
)

// Sink receives TaskResults in item order. Emit buffers, Flush persists
// everything buffered since the previous Flush, Close releases resources.
// A Sink has a single writer; implementations still guard their buffers so
// a metrics scrape or a signal handler can flush safely.
type Sink interface {
	Emit(ctx context.Context, res schemas.TaskResult) error
	Flush(ctx context.Context) error
	Close() error
}

// Checkpointer is implemented by sinks that can tell which target URLs a
// previous run already recorded, keyed to the recorded status.
type Checkpointer interface {
	Checkpoint(ctx context.Context) (map[string]schemas.FinalStatus, error)
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a sink for the given format and output path. The text format
// writes to stdout when outputPath is empty or "stdout".
func New(format, outputPath string) (Sink, error) {
	switch format {
	case "csv":
		return NewCSVSink(outputPath)
	case "json":
		return NewJSONSink(outputPath)
	case "text":
		if outputPath == "" || outputPath == "stdout" {
			return NewTextSink(&nopWriteCloser{os.Stdout}), nil
		}
		f, err := os.OpenFile(outputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open output file %s: %w", outputPath, err)
		}
		return NewTextSink(f), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
