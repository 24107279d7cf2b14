// Command migrate copies a player's legacy match blobs into the Parquet
// warehouse. Safe to re-run: the merge-on-write path only adds rows that
// are not already there.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"halo-tracker/internal/logger"
	"halo-tracker/internal/metadata"
	"halo-tracker/internal/migration"
	"halo-tracker/internal/warehouse"
)

var (
	sourceDB      string
	playerXUID    string
	warehousePath string
	dryRun        bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate legacy match blobs into the columnar warehouse",
		RunE:  run,
	}

	rootCmd.Flags().StringVar(&sourceDB, "source-db", "halo.db", "path to the legacy SQLite database")
	rootCmd.Flags().StringVar(&playerXUID, "player-id", "", "XUID of the player to migrate")
	rootCmd.Flags().StringVar(&warehousePath, "warehouse-path", "", "warehouse root (defaults to a sibling of the source database)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report progress without writing anything")
	_ = rootCmd.MarkFlagRequired("player-id")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := logger.New()
	ctx := context.Background()

	if warehousePath == "" {
		warehousePath = filepath.Join(filepath.Dir(sourceDB), "warehouse")
	}

	store, err := metadata.Open(sourceDB, log)
	if err != nil {
		return fmt.Errorf("failed to open source database: %w", err)
	}
	defer store.Close()

	writer := warehouse.NewWriter(warehousePath, log)
	reader := warehouse.NewReader(warehousePath, log)
	migrator := migration.NewMigrator(playerXUID, store, writer, reader, log)

	if dryRun {
		progress, err := migrator.GetProgress(ctx)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"legacy_count":     progress.LegacyCount,
			"hybrid_count":     progress.HybridCount,
			"progress_percent": progress.Percent,
			"complete":         progress.Complete,
		})
	}

	summary, err := migrator.Migrate(ctx, func(processed, total int) {
		if processed%500 == 0 || processed == total {
			log.Info().Int("processed", processed).Int("total", total).Msg("converting legacy records")
		}
	})
	if err != nil {
		return err
	}

	return printJSON(map[string]any{
		"rows_written": summary.RowsWritten,
		"errors":       summary.Errors,
		"total_legacy": summary.TotalLegacy,
	})
}

func printJSON(payload any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
