package cmd

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/studypilot/internal/browser/dom"
	"github.com/xkilldash9x/studypilot/internal/browser/style"
	"github.com/xkilldash9x/studypilot/internal/config"
	"github.com/xkilldash9x/studypilot/internal/discovery"
	"github.com/xkilldash9x/studypilot/internal/observability"
	"github.com/xkilldash9x/studypilot/internal/resolver"
)

// newClassifyCmd creates the `classify` command, which runs discovery over a
// saved listing page without a browser or credentials.
func newClassifyCmd() *cobra.Command {
	classifyCmd := &cobra.Command{
		Use:               "classify FILE",
		Short:             "Classify the entries of a saved HTML listing page offline",
		Args:              cobra.ExactArgs(1),
		PersistentPreRunE: skipConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			body, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read listing: %w", err)
			}

			pageURL, _ := cmd.Flags().GetString("url")
			kind, _ := cmd.Flags().GetString("kind")
			catalogFile, _ := cmd.Flags().GetString("catalog")
			colors, _ := cmd.Flags().GetStringSlice("color-keywords")
			classes, _ := cmd.Flags().GetStringSlice("class-keywords")

			u, err := url.Parse(pageURL)
			if err != nil || !u.IsAbs() {
				return fmt.Errorf("--url must be an absolute URL, got %q", pageURL)
			}
			src := discovery.Source{Kind: discovery.SourceKind(kind), URL: pageURL}
			if src.Kind != discovery.SourcePractice && src.Kind != discovery.SourcePlan {
				return fmt.Errorf("--kind must be %q or %q, got %q", discovery.SourcePractice, discovery.SourcePlan, kind)
			}

			catalog, err := loadCatalog(config.ResolverConfig{CatalogFile: catalogFile})
			if err != nil {
				return err
			}

			site := dom.NewSite()
			site.Handle(pageURL, string(body))
			page := dom.NewPage(site, dom.WithLogger(logger))
			defer page.Close()

			res := resolver.New(logger, resolver.WithStrategyTimeout(2*time.Second))
			classifier := style.NewClassifier(style.DefaultVocabulary().WithOverrides(colors, classes))
			base := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}).String()
			d, err := discovery.New(logger, res, catalog, classifier, base, discovery.WithReadyTimeout(time.Second))
			if err != nil {
				return err
			}

			items, err := d.Discover(ctx, page, src)
			if err != nil {
				return fmt.Errorf("classification failed: %w", err)
			}
			return printItems(cmd.OutOrStdout(), items)
		},
	}

	classifyCmd.Flags().String("url", "http://localhost/practice.php", "URL the page was saved from; relative links resolve against it")
	classifyCmd.Flags().String("kind", string(discovery.SourcePractice), "Listing kind: practice or plan")
	classifyCmd.Flags().String("catalog", "", "YAML strategy catalog merged over the built-in one")
	classifyCmd.Flags().StringSlice("color-keywords", nil, "Extra colour values that mark an entry as done")
	classifyCmd.Flags().StringSlice("class-keywords", nil, "Extra class names that mark an entry as done")
	return classifyCmd
}
