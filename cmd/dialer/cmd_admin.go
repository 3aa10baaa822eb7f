package main

import (
	"fmt"
	"log/slog"
	"time"

	"calling-agent/internal/auth"
	"calling-agent/internal/config"
	"calling-agent/internal/db/migrate"
	"calling-agent/internal/rbac"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the database schema",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "up"
			if len(args) == 1 {
				dir = args[0]
			}
			direction, err := migrate.ParseDirection(dir)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := migrate.Run(cfg.PostgresURL(), direction); err != nil {
				return fmt.Errorf("migrate %s: %w", dir, err)
			}
			slog.Info("migrations applied", "direction", dir)
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <role>",
		Short: "Issue a service token for the /v1 API (operator, runtime, admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := args[0]
			if !rbac.IsKnownRole(role) {
				return fmt.Errorf("unknown role %q (want operator, runtime or admin)", role)
			}
			subject, _ := cmd.Flags().GetString("subject")
			if subject == "" {
				subject = role
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			m, err := auth.NewManager(cfg.Auth)
			if err != nil {
				return err
			}
			tok, err := m.Issue(time.Now(), subject, role)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().String("subject", "", "Token subject (defaults to the role)")
	return cmd
}
