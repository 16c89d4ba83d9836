package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the job API and run crawl jobs",
		Long: `Starts the HTTP job API and the job runners. Jobs left unfinished by a
previous process are recovered and resumed. SIGINT or SIGTERM drains the
API and leaves running jobs paused for the next start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ac, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := ac.app.Run(cmd.Context()); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
}
