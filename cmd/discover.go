package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/studypilot/api/schemas"
	"github.com/xkilldash9x/studypilot/internal/config"
	"github.com/xkilldash9x/studypilot/internal/discovery"
	"github.com/xkilldash9x/studypilot/internal/observability"
)

// newDiscoverCmd creates the `discover` command: login and discovery only.
func newDiscoverCmd() *cobra.Command {
	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "Log in and list the courses and practices with their completion marker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			c, err := initializeComponents(ctx, cfg, logger)
			if err != nil {
				if c != nil {
					c.Shutdown(logger)
				}
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer c.Shutdown(logger)

			stopSpinner := startSpinner(cmd.ErrOrStderr(), "Logging in and reading the listings...")
			items, err := loginAndDiscover(ctx, c, cfg)
			stopSpinner()
			if err != nil {
				return err
			}

			pendingOnly, _ := cmd.Flags().GetBool("pending")
			if pendingOnly {
				items, _ = discovery.Split(items)
			}
			logger.Info("Discovery finished.", zap.Int("items", len(items)))
			return printItems(cmd.OutOrStdout(), items)
		},
	}
	discoverCmd.Flags().Bool("pending", false, "Only list items without the completion marker")
	return discoverCmd
}

// loginAndDiscover signs in and runs every configured listing.
func loginAndDiscover(ctx context.Context, c *components, cfg config.Interface) ([]schemas.WorkItem, error) {
	if err := c.Auth.RequireLogin(ctx, c.Page); err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	items, err := c.Discoverer.DiscoverAll(ctx, c.Page, discovery.SourcesFromConfig(cfg.Targets()))
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	return items, nil
}

// printItems writes the items as an aligned table.
func printItems(out io.Writer, items []schemas.WorkItem) error {
	ui := newUI()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tKIND\tSTATE\tLABEL\tURL")
	for _, it := range items {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", it.Index, it.PageKind, ui.marked(it.Marked), it.Label, it.TargetURL)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	pending, marked := discovery.Split(items)
	_, err := fmt.Fprintf(out, "\n%d items, %d pending, %d done\n", len(items), len(pending), len(marked))
	return err
}
