package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/studypilot/api/schemas"
	"github.com/xkilldash9x/studypilot/internal/discovery"
	"github.com/xkilldash9x/studypilot/internal/engine"
	"github.com/xkilldash9x/studypilot/internal/observability"
	"github.com/xkilldash9x/studypilot/internal/reporting"
	"github.com/xkilldash9x/studypilot/internal/workflow"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Log in, discover every unfinished item and work through them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			// 1. Core components
			c, err := initializeComponents(ctx, cfg, logger)
			if err != nil {
				if c != nil {
					c.Shutdown(logger)
				}
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer c.Shutdown(logger)

			if addr := cfg.Metrics().Addr; addr != "" {
				metricsCtx, stopMetrics := context.WithCancel(ctx)
				defer stopMetrics()
				go func() {
					if err := c.Metrics.Serve(metricsCtx, addr, logger); err != nil {
						logger.Error("Metrics endpoint failed", zap.Error(err))
					}
				}()
			}

			// 2. Sinks
			var sink reporting.Sink
			var memory *reporting.MemorySink
			if dryRun {
				memory = reporting.NewMemorySink()
				sink = memory
			} else {
				multi, err := openSinks(ctx, cfg, c, logger)
				if err != nil {
					return err
				}
				sink = multi
			}
			defer func() {
				if err := sink.Close(); err != nil {
					logger.Error("Failed to close result sinks", zap.Error(err))
				}
			}()

			// 3. Login and discovery
			stopSpinner := startSpinner(cmd.ErrOrStderr(), "Logging in and reading the listings...")
			items, err := loginAndDiscover(ctx, c, cfg)
			stopSpinner()
			if err != nil {
				return err
			}
			if len(items) == 0 {
				logger.Warn("Discovery found no items; check the listing URLs and the strategy catalog.")
			}
			pending, marked := discovery.Split(items)
			logger.Info("Discovery finished.",
				zap.Int("items", len(items)),
				zap.Int("pending", len(pending)),
				zap.Int("marked", len(marked)),
			)

			// 4. Pipeline
			machine := workflow.New(logger, c.Resolver, c.Catalog, cfg.Workflow(),
				workflow.WithBaseURL(cfg.Targets().BaseURL),
				workflow.WithDebugDir(cfg.Output().DebugDir),
				workflow.WithStepRecorder(c.Metrics),
			)
			pipeline, err := engine.New(cfg.Pipeline(), logger, machine, sink,
				engine.WithResultRecorder(c.Metrics),
			)
			if err != nil {
				return fmt.Errorf("failed to initialize pipeline: %w", err)
			}

			bar := newItemBar(cmd.ErrOrStderr(), len(items))
			var results []schemas.TaskResult
			runErr := pipeline.Stream(ctx, c.Page, items, func(res schemas.TaskResult) {
				results = append(results, res)
				if bar != nil {
					_ = bar.Add(1)
				}
			})
			if bar != nil {
				_ = bar.Finish()
			}
			if memory != nil {
				out := cmd.OutOrStdout()
				for _, res := range memory.Results() {
					fmt.Fprintln(out, reporting.FormatLine(res))
				}
			}
			printRunSummary(cmd, results)

			if runErr != nil {
				if schemas.IsRunFatal(runErr) {
					logger.Error("Browser session was lost; restart the run to continue.", zap.Error(runErr))
				}
				return runErr
			}
			return nil
		},
	}

	runCmd.Flags().Bool("resume", false, "Skip items a previous run recorded as completed")
	runCmd.Flags().String("browser-mode", "", "Browser backend: chromedp or http (overrides config/env)")
	runCmd.Flags().Bool("headless", false, "Run Chrome without a window (overrides config/env)")
	runCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	runCmd.Flags().Bool("dry-run", false, "Keep results in memory and print them instead of writing the output files")
	configFlag(runCmd, "resume", "pipeline.resume")
	configFlag(runCmd, "browser-mode", "browser.mode")
	configFlag(runCmd, "headless", "browser.headless")
	configFlag(runCmd, "metrics-addr", "metrics.addr")

	return runCmd
}

// printRunSummary prints one line per final status.
func printRunSummary(cmd *cobra.Command, results []schemas.TaskResult) {
	counts := make(map[schemas.FinalStatus]int)
	for _, r := range results {
		counts[r.FinalStatus]++
	}
	ui := newUI()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%s\n", ui.title("Run complete"))
	fmt.Fprintf(out, "  %-18s %d\n", ui.status(schemas.StatusCompleted), counts[schemas.StatusCompleted])
	fmt.Fprintf(out, "  %-18s %d\n", ui.status(schemas.StatusSubmissionFailed), counts[schemas.StatusSubmissionFailed])
	fmt.Fprintf(out, "  %-18s %d\n", ui.status(schemas.StatusAborted), counts[schemas.StatusAborted])
	fmt.Fprintf(out, "  %-18s %d\n", ui.status(schemas.StatusSkipped), counts[schemas.StatusSkipped])
}
