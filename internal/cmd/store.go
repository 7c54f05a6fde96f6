package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tracklens/tracklens/internal/config"
	"github.com/tracklens/tracklens/internal/core"
	"github.com/tracklens/tracklens/internal/core/store"
)

func openStore(ctx context.Context) (*store.Store, error) {
	cfg := config.Get()
	if cfg == nil {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the backing database",
}

var storeMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		fmt.Println("Schema is up to date")
		return nil
	},
}

var storeSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert a sample project with issues and labels",
	Long: `Insert a sample project with a handful of issues and labels.
Useful for exercising the AI endpoints against a fresh database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		projectID := uuid.NewString()
		now := time.Now().UTC()

		labels := []string{"Bug", "Frontend", "Backend", "Performance", "Documentation"}
		for _, name := range labels {
			label := core.Label{
				ID:        uuid.NewString(),
				ProjectID: projectID,
				Name:      name,
			}
			if err := db.CreateLabel(cmd.Context(), label); err != nil {
				return fmt.Errorf("seed label %q: %w", name, err)
			}
		}

		issues := []core.Issue{
			{
				Title:       "Login page throws 500 after password reset",
				Description: "After completing the password reset flow, submitting the login form returns an internal server error. The session cookie is never set and the user is stuck on the login page.",
			},
			{
				Title:       "Dashboard charts render slowly with large datasets",
				Description: "Projects with more than ten thousand issues take over eight seconds to render the burndown chart. Profiling points at the client-side aggregation loop.",
			},
			{
				Title:       "Sign-in fails with HTTP 500 following password change",
				Description: "Changing the account password and then signing in immediately produces a server error. Clearing cookies works around it, which suggests stale session state.",
			},
		}
		for i := range issues {
			issues[i].ID = uuid.NewString()
			issues[i].ProjectID = projectID
			issues[i].Status = "open"
			issues[i].CreatedAt = now.Add(time.Duration(i) * time.Minute)
			issues[i].UpdatedAt = issues[i].CreatedAt
			if err := db.CreateIssue(cmd.Context(), issues[i]); err != nil {
				return fmt.Errorf("seed issue %q: %w", issues[i].Title, err)
			}
		}

		fmt.Printf("Seeded project %s with %d issues and %d labels\n", projectID, len(issues), len(labels))
		for _, issue := range issues {
			fmt.Printf("  issue %s  %s\n", issue.ID, issue.Title)
		}
		return nil
	},
}

func init() {
	storeCmd.AddCommand(storeMigrateCmd)
	storeCmd.AddCommand(storeSeedCmd)
	rootCmd.AddCommand(storeCmd)
}
