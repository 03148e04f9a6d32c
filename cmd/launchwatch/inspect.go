package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"launchwatch/internal/store"
)

func announcementsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "announcements",
		Short: "List the most recent announcements",
		Long: `List recorded announcements, newest first.

Examples:
  # Last 20 announcements
  launchwatch announcements -n 20

  # Output as JSON
  launchwatch announcements -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("limit must be positive, got %d", limit)
			}
			st, ctx, cancel, err := openStore()
			if err != nil {
				return err
			}
			defer cancel()
			defer st.Close()

			records, err := st.ListAnnouncements(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to list announcements: %w", err)
			}
			return outputResult(cmd.OutOrStdout(), records, outputFmt)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of announcements")
	cmd.Flags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the persisted monitor statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, ctx, cancel, err := openStore()
			if err != nil {
				return err
			}
			defer cancel()
			defer st.Close()

			s, _, err := st.LoadStats(ctx)
			if err != nil {
				return fmt.Errorf("failed to load stats: %w", err)
			}
			return outputResult(cmd.OutOrStdout(), StatsResult{Stats: s}, outputFmt)
		},
	}
	cmd.Flags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the announcement tables if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			repo, err := store.OpenRepository(ctx, cfg.Storage)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			defer repo.Close()
			log.WithComponent("store").Info("schema up to date")
			fmt.Fprintf(cmd.OutOrStdout(), "storage %q migrated\n", cfg.Storage.Driver)
			return nil
		},
	}
}

func openStore() (*store.Store, context.Context, context.CancelFunc, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	st, err := store.Open(ctx, cfg.Storage, log)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, ctx, cancel, nil
}
