package cmd

import (
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// isTerminal reports whether w is an interactive terminal. Progress output is
// only drawn there; logs and redirected output stay clean.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// startSpinner shows msg with a spinner on w until the returned func is called.
func startSpinner(w io.Writer, msg string) func() {
	if !isTerminal(w) {
		return func() {}
	}
	spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(w))
	spin.Suffix = " " + msg
	spin.Start()
	return spin.Stop
}

// newItemBar draws run progress over total items on w. It returns nil when w
// is not a terminal.
func newItemBar(w io.Writer, total int) *progressbar.ProgressBar {
	if total == 0 || !isTerminal(w) {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Working through items"),
		progressbar.OptionSetWidth(24),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}
