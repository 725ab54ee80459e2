package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/Hdd5ps/sheet-to-sound/config"
	"github.com/Hdd5ps/sheet-to-sound/core/library"
	"github.com/Hdd5ps/sheet-to-sound/db"
	"github.com/Hdd5ps/sheet-to-sound/logger"
	"github.com/Hdd5ps/sheet-to-sound/repository"

	"github.com/spf13/cobra"
)

var reindexUserID int64

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild a user's score and conversion indexes",
	Long: `Re-derive a user's per-user index documents from a full scan of the
metadata store. The indexes are advisory caches; use this when one was
lost or clobbered.`,
	Run: func(cmd *cobra.Command, args []string) {
		if reindexUserID == 0 {
			log.Fatal("--user is required")
		}

		cfg := config.Load()
		logger.InitLogger(logger.Config{Level: logger.LogLevel(cfg.LogLevel)})

		if err := db.ConnectRedis(cfg); err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		defer db.CloseRedis()

		metaStore := repository.NewRedisMetadataStore(db.RedisClient)

		// Index rebuilding never touches the blob store, so the engine is
		// constructed without one here.
		engine := library.NewEngine(
			repository.NewScoreRepository(metaStore),
			repository.NewConversionRepository(metaStore),
			repository.NewIndexRepository(metaStore),
			nil,
			library.Config{},
		)

		if err := engine.RebuildIndexes(context.Background(), reindexUserID); err != nil {
			log.Fatalf("failed to rebuild indexes: %v", err)
		}
		fmt.Printf("indexes rebuilt for user %d\n", reindexUserID)
	},
}

func init() {
	reindexCmd.Flags().Int64Var(&reindexUserID, "user", 0, "user id whose indexes to rebuild")
	rootCmd.AddCommand(reindexCmd)
}
