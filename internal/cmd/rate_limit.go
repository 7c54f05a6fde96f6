package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/tracklens/tracklens/internal/core/store"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Manage persisted rate limit state",
}

var (
	rateLimitListAll      bool
	rateLimitListUser     string
	rateLimitListEndpoint string
	rateLimitListJSON     bool
)

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List consumed quota per user and endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := store.RateLimitQuery{
			All:      rateLimitListAll,
			UserID:   strings.TrimSpace(rateLimitListUser),
			Endpoint: strings.TrimSpace(rateLimitListEndpoint),
		}
		if !query.All && query.UserID == "" && query.Endpoint == "" {
			query.All = true
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		entries, err := db.ListRateLimitUsage(cmd.Context(), query)
		if err != nil {
			return err
		}

		if rateLimitListJSON {
			payload, err := json.MarshalIndent(entries, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Println(string(payload))
			return err
		}

		if len(entries) == 0 {
			fmt.Println("(no stored rate limit state)")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"User", "Endpoint", "Requests", "Oldest", "Newest"})
		for _, entry := range entries {
			t.AppendRow(table.Row{
				entry.UserID,
				entry.Endpoint,
				entry.Count,
				entry.Oldest.UTC().Format(time.RFC3339),
				entry.Newest.UTC().Format(time.RFC3339),
			})
		}
		t.Render()
		return nil
	},
}

var (
	rateLimitResetAll      bool
	rateLimitResetUser     string
	rateLimitResetEndpoint string
	rateLimitResetYes      bool
)

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete stored rate limit rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := store.RateLimitQuery{
			All:      rateLimitResetAll,
			UserID:   strings.TrimSpace(rateLimitResetUser),
			Endpoint: strings.TrimSpace(rateLimitResetEndpoint),
		}
		if err := query.Validate(); err != nil {
			return err
		}

		if query.All && !rateLimitResetYes {
			return errors.New("--all requires --yes")
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		deleted, err := db.ResetRateLimits(cmd.Context(), query)
		if err != nil {
			return err
		}

		fmt.Printf("Deleted %d rate limit entr(ies)\n", deleted)
		return nil
	},
}

func init() {
	rateLimitListCmd.Flags().BoolVar(&rateLimitListAll, "all", false, "List all users and endpoints")
	rateLimitListCmd.Flags().StringVar(&rateLimitListUser, "user", "", "Filter by user ID")
	rateLimitListCmd.Flags().StringVar(&rateLimitListEndpoint, "endpoint", "", "Filter by endpoint (summary|suggestions|autolabel)")
	rateLimitListCmd.Flags().BoolVar(&rateLimitListJSON, "json", false, "Emit JSON instead of a table")

	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetAll, "all", false, "Reset all users and endpoints")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetUser, "user", "", "Reset a single user")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetEndpoint, "endpoint", "", "Reset a single endpoint")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetYes, "yes", false, "Confirm destructive reset")

	rateLimitCmd.AddCommand(rateLimitListCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rootCmd.AddCommand(rateLimitCmd)
}
