package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/JakeFAU/site-crawler/internal/crawler"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs a single job in the
// foreground and prints its final status as JSON.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <seed-url>",
		Short: "Crawl one site in the foreground",
		Long: `Submits a job for the seed URL, drives it to completion and prints the
final status. Settings default to the crawler.defaults config section;
flags override individual values. Ctrl-C cancels the job after the batch
in flight.`,
		Args: cobra.ExactArgs(1),
		RunE: runCrawlCommand,
	}
	f := cmd.Flags()
	f.Int("max-depth", 0, "link depth to discover from the seed")
	f.Int("batch-size", 0, "URLs per batch")
	f.Int("max-concurrent", 0, "parallel fetches within a batch")
	f.Float64("rps", 0, "requests per second per domain")
	f.Int("memory-threshold", 0, "resident memory ceiling in MB before a batch may start")
	f.Int("max-urls", 0, "cap on discovered URLs (0 means no cap)")
	f.Bool("test-mode", false, "cap the crawl at 5 URLs")
	f.Bool("quick", false, "cap the crawl at 100 URLs")
	f.Bool("include-subdomains", false, "follow links to subdomains of the seed host")
	f.StringSlice("exclude", nil, "regular expressions of URLs to skip")
	f.Bool("sitemap", false, "also read /sitemap.xml during discovery")
	f.Bool("force-refresh", false, "refetch URLs that already succeeded")
	f.Bool("headless", false, "render pages with headless Chrome")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, args []string) (err error) {
	ac, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ac.app.Close(context.WithoutCancel(cmd.Context())); cerr != nil && err == nil {
			err = fmt.Errorf("close app: %w", cerr)
		}
	}()

	settings, err := settingsFromFlags(ac.cfg.Crawler.Defaults, cmd.Flags())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	view, err := ac.app.RunJob(ctx, args[0], settings)
	if err != nil {
		return fmt.Errorf("crawl %s: %w", args[0], err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(view); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	if view.Status == crawler.JobStatusFailed {
		return fmt.Errorf("job %s failed: %s", view.JobID, view.Error)
	}
	return nil
}

// settingsFromFlags overlays explicitly set flags onto defaults.
func settingsFromFlags(defaults crawler.Settings, f *pflag.FlagSet) (crawler.Settings, error) {
	s := defaults
	var err error
	set := func(name string, apply func() error) {
		if err == nil && f.Changed(name) {
			err = apply()
		}
	}
	set("max-depth", func() (e error) { s.MaxDepth, e = f.GetInt("max-depth"); return })
	set("batch-size", func() (e error) { s.BatchSize, e = f.GetInt("batch-size"); return })
	set("max-concurrent", func() (e error) { s.MaxConcurrent, e = f.GetInt("max-concurrent"); return })
	set("rps", func() (e error) { s.RequestsPerSecond, e = f.GetFloat64("rps"); return })
	set("memory-threshold", func() (e error) { s.MemoryThresholdMB, e = f.GetInt("memory-threshold"); return })
	set("max-urls", func() (e error) { s.MaxURLs, e = f.GetInt("max-urls"); return })
	set("test-mode", func() (e error) { s.TestMode, e = f.GetBool("test-mode"); return })
	set("quick", func() (e error) { s.QuickMode, e = f.GetBool("quick"); return })
	set("include-subdomains", func() (e error) { s.IncludeSubdomains, e = f.GetBool("include-subdomains"); return })
	set("exclude", func() (e error) { s.ExcludePatterns, e = f.GetStringSlice("exclude"); return })
	set("sitemap", func() (e error) { s.UseSitemap, e = f.GetBool("sitemap"); return })
	set("force-refresh", func() (e error) { s.ForceRefresh, e = f.GetBool("force-refresh"); return })
	set("headless", func() (e error) { s.Headless, e = f.GetBool("headless"); return })
	if err != nil {
		return crawler.Settings{}, fmt.Errorf("read flags: %w", err)
	}
	if err := s.Validate(); err != nil {
		return crawler.Settings{}, err
	}
	return s, nil
}
