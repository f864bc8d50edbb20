package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haulmark/fieldsync/internal/config"
	"github.com/haulmark/fieldsync/internal/logging"
)

var (
	// Global flags
	cfgPath   string
	dataDir   string
	logLevel  string
	globalCfg *config.Config
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fieldsyncd",
		Short: "Offline-first capture and sync engine for field workers",
		Long: `fieldsyncd is the durable capture and sync engine behind the field-worker
client. It persists photos, forms, signatures and workflow snapshots locally,
survives crashes and reboots, and reconciles everything with the remote API
once connectivity returns.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			globalCfg = cfg

			logging.Init(os.Stdout, cfg.LogLevel)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override data directory")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatsCmd())

	return cmd
}
