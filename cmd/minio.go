package cmd

import (
	"fmt"
	"log"

	"github.com/Hdd5ps/sheet-to-sound/config"
	"github.com/Hdd5ps/sheet-to-sound/logger"
	"github.com/Hdd5ps/sheet-to-sound/storage"

	"github.com/spf13/cobra"
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "Check the MinIO connection",
	Long:  `Connect to MinIO and ensure the score and media buckets exist.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		logger.InitLogger(logger.Config{Level: logger.LogLevel(cfg.LogLevel)})

		fmt.Printf("MinIO endpoint: %s, buckets: %s, %s\n",
			cfg.MinioEndpoint, cfg.MinioScoreBucket, cfg.MinioMediaBucket)

		if err := storage.InitMinio(cfg); err != nil {
			log.Fatalf("failed to connect to MinIO: %v", err)
		}
		fmt.Println("MinIO connection OK, buckets present.")
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)
}
