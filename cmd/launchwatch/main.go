// launchwatch polls a token launch feed and announces each new listing once
// to a Telegram channel, with a live dashboard alongside.
//
// Usage:
//
//	launchwatch run --config config.yml
//	launchwatch run --once
//	launchwatch announcements -n 20
//	launchwatch stats
//	launchwatch migrate
//	launchwatch extract feed.json
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"launchwatch/config"
	"launchwatch/logger"
)

var (
	version    = "dev"
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "launchwatch",
		Short:         "Announce new token launches to Telegram",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to configuration file")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(announcementsCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(extractCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads .env, the config file and applies the logging section to
// the global logger.
func loadConfig() (*config.Config, *logger.Log, error) {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		return nil, nil, fmt.Errorf("failed to configure logger: %w", err)
	}
	return cfg, log, nil
}
