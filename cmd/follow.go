package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/studypilot/api/schemas"
	"github.com/xkilldash9x/studypilot/internal/config"
	"github.com/xkilldash9x/studypilot/internal/observability"
	"github.com/xkilldash9x/studypilot/internal/reporting"
)

// newFollowCmd creates the `follow` command, which tails the CSV results
// file of a running (or finished) run.
func newFollowCmd() *cobra.Command {
	followCmd := &cobra.Command{
		Use:               "follow [FILE]",
		Short:             "Print results as a run appends them to the CSV file",
		Args:              cobra.MaximumNArgs(1),
		PersistentPreRunE: skipConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.NewDefaultConfig().Output().CSVFile
			if len(args) == 1 {
				path = args[0]
			}
			fromStart, _ := cmd.Flags().GetBool("from-start")
			noFollow, _ := cmd.Flags().GetBool("no-follow")
			return followResults(cmd.Context(), path, followOptions{
				FromStart: fromStart || noFollow,
				Follow:    !noFollow,
			}, cmd.OutOrStdout(), observability.GetLogger())
		},
	}
	followCmd.Flags().Bool("from-start", false, "Print the rows already in the file before following")
	followCmd.Flags().Bool("no-follow", false, "Print the whole file and exit")
	return followCmd
}

type followOptions struct {
	FromStart bool
	Follow    bool
}

// followResults prints one line per CSV row until ctx is done, or until the
// end of the file when not following.
func followResults(ctx context.Context, path string, opts followOptions, out io.Writer, logger *zap.Logger) error {
	whence := io.SeekEnd
	if opts.FromStart {
		whence = io.SeekStart
	}
	t, err := tail.TailFile(path, tail.Config{
		Follow:    opts.Follow,
		ReOpen:    opts.Follow,
		MustExist: true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: whence},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail results file: %w", err)
	}
	defer func() {
		_ = t.Stop()
		t.Cleanup()
	}()

	ui := newUI()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				logger.Warn("Error reading results file.", zap.Error(line.Err))
				continue
			}
			text := strings.TrimSpace(line.Text)
			if text == "" {
				continue
			}
			row, err := csv.NewReader(strings.NewReader(text)).Read()
			if err != nil {
				logger.Debug("Skipping unparsable row.", zap.String("line", text), zap.Error(err))
				continue
			}
			rec, err := reporting.ParseCSVRow(row)
			if err != nil {
				// The header row lands here too.
				continue
			}
			fmt.Fprintln(out, formatRecord(ui, rec))
		}
	}
}

func formatRecord(u *ui, rec schemas.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] #%d %s", u.dim(rec.Timestamp), u.status(schemas.FinalStatus(rec.Status)), rec.Index, rec.Label)
	if rec.Reason != "" {
		fmt.Fprintf(&b, " reason=%s", rec.Reason)
	}
	if rec.Degraded {
		b.WriteString(" " + u.warn("degraded"))
	}
	return b.String()
}
