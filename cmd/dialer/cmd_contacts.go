package main

import (
	"encoding/json"
	"fmt"
	"os"

	"calling-agent/internal/contacts"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print contact counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			st, err := a.contacts.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return json.NewEncoder(os.Stdout).Encode(st)
			}
			fmt.Printf("Total:     %d\n", st.Total)
			fmt.Printf("Pending:   %d\n", st.Pending)
			fmt.Printf("Completed: %d\n", st.Completed)
			fmt.Printf("Failed:    %d\n", st.Failed)
			return nil
		},
	}
}

func newAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> <phone>",
		Short: "Register a contact",
		Long: `Register a contact to be called. The phone number must be in E.164 form;
spaces, dashes, dots and parentheses are stripped.

Examples:
  dialer add "Jane Doe" +15550001234`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			c, err := a.contacts.Add(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("add contact: %w", err)
			}
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return json.NewEncoder(os.Stdout).Encode(c)
			}
			fmt.Printf("Added contact %d: %s (%s)\n", c.ID, c.Name, c.PhoneNumber)
			return nil
		},
	}
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Bulk-register contacts from a CSV file",
		Long: `Import contacts from CSV. A header row naming "name" and "phone_number"
(or "phone") columns is optional; without it the first two columns are used.
Rows with an already registered number are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()

			rows, err := contacts.ParseCSV(f)
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.contacts.Import(cmd.Context(), rows)
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return json.NewEncoder(os.Stdout).Encode(res)
			}
			fmt.Printf("Imported %d contacts, skipped %d\n", res.Added, res.Skipped)
			for _, e := range res.Errors {
				fmt.Fprintln(os.Stderr, "  "+e)
			}
			return nil
		},
	}
}
