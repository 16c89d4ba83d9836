// Package cmd defines and implements the CLI commands for the webcrawler executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-crawler/internal/config"
	"github.com/JakeFAU/site-crawler/internal/coordinator"
	"github.com/JakeFAU/site-crawler/internal/crawler"
	"github.com/JakeFAU/site-crawler/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the commands drive. Tests inject a fake through newApp.
type App interface {
	Run(ctx context.Context) error
	RunJob(ctx context.Context, seed string, settings crawler.Settings) (coordinator.StatusView, error)
	Close(ctx context.Context) error
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return app, nil
}

type appContext struct {
	app App
	cfg config.Config
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "webcrawler",
		Short: "Site crawl orchestration engine.",
		Long: `webcrawler discovers the pages of a site from a seed URL and crawls them
in memory-gated, throttled batches. Jobs can be paused, resumed and
cancelled, and every result is persisted so later runs skip cached pages.`,
		SilenceUsage: true,

		// Runs before the subcommand's RunE; loads config and builds the app.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, &appContext{app: appInstance, cfg: cfg}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); CRAWLER_* env vars override it")
	cmd.AddCommand(newServeCmd(), newCrawlCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*appContext, error) {
	ac, ok := ctx.Value(appKey).(*appContext)
	if !ok || ac == nil || ac.app == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return ac, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
