package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	// Root context that cancels on shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "dialer",
		Short: "Outbound onboarding dialer",
		Long: `dialer calls pending contacts one at a time, bridges each answered call into a
conversation room, and persists the conversation transcript.

Run without a subcommand to start one campaign session. The webhook and runtime
API are served while the session runs.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCampaign(cmd.Context(), cmd)
		},
	}
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newServeCmd(),
		newStatsCmd(),
		newAddCmd(),
		newImportCmd(),
		newMigrateCmd(),
		newTokenCmd(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
