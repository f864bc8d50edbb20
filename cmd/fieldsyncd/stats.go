package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/haulmark/fieldsync/internal/db"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print storage and queue statistics",
		Long: `Opens the local store read-only relative to the daemon and prints
record counts, queue depth and compression savings as JSON. Useful for
support diagnostics when the daemon is not running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := db.Open(globalCfg.DataDir)
			if err != nil {
				return err
			}
			defer database.Close()

			store := db.NewStore(database)
			if err := store.Init(); err != nil {
				return err
			}

			stats, err := store.Stats()
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}
