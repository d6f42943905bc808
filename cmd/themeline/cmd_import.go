package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/themeline/internal/catalog"
	"github.com/friendsincode/themeline/internal/db"
	"github.com/friendsincode/themeline/internal/models"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Scan the media root and import items into the catalog",
	Long:  "Walk the media root directory, treating each subdirectory as a library item, and register its audio files as theme tracks.",
	RunE:  runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("media_root", cfg.MediaRoot).Msg("scanning media root")

	scanned, err := catalog.ScanMediaRoot(cfg.MediaRoot, logger)
	if err != nil {
		return fmt.Errorf("scan media root: %w", err)
	}
	if len(scanned) == 0 {
		logger.Warn().Msg("no items found under media root")
		return nil
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close(database)

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	store := catalog.NewStore(database, nil, logger)
	ctx := context.Background()

	var imported, failed int
	for _, item := range scanned {
		if err := store.UpsertItem(ctx, &models.Item{ID: item.ID, Title: item.ID}); err != nil {
			logger.Error().Err(err).Str("item_id", item.ID).Msg("item upsert failed")
			failed++
			continue
		}
		if err := store.ReplaceTracks(ctx, item.ID, item.Tracks); err != nil {
			logger.Error().Err(err).Str("item_id", item.ID).Msg("track import failed")
			failed++
			continue
		}
		store.Invalidate(ctx, item.ID)
		imported++
		logger.Info().
			Str("item_id", item.ID).
			Int("tracks", len(item.Tracks)).
			Msg("item imported")
	}

	logger.Info().Int("imported", imported).Int("failed", failed).Msg("import complete")
	if failed > 0 {
		return fmt.Errorf("%d of %d items failed to import", failed, imported+failed)
	}
	return nil
}
