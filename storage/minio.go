package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/Hdd5ps/sheet-to-sound/config"
	"github.com/Hdd5ps/sheet-to-sound/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var minioClient *minio.Client

// InitMinio initializes the MinIO client and ensures the score and media
// buckets exist.
func InitMinio(cfg *config.Config) error {
	logger.Info("connecting to MinIO",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("scoreBucket", cfg.MinioScoreBucket),
		logger.String("mediaBucket", cfg.MinioMediaBucket))

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, bucket := range []string{cfg.MinioScoreBucket, cfg.MinioMediaBucket} {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
			logger.Info("created bucket", logger.String("bucket", bucket))
		}
	}

	minioClient = client
	logger.Info("MinIO client initialized")
	return nil
}

// GetMinioClient returns the shared MinIO client instance.
func GetMinioClient() *minio.Client {
	return minioClient
}

// minioBlobStore implements BlobStore on MinIO.
type minioBlobStore struct {
	client *minio.Client
}

// NewMinioBlobStore creates a BlobStore backed by the given MinIO client.
func NewMinioBlobStore(client *minio.Client) BlobStore {
	return &minioBlobStore{client: client}
}

func (s *minioBlobStore) Put(ctx context.Context, bucket, object string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, bucket, object, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s/%s: %w", bucket, object, err)
	}
	return nil
}

func (s *minioBlobStore) PresignedURL(ctx context.Context, bucket, object string, ttl time.Duration) (string, error) {
	reqParams := make(url.Values)
	u, err := s.client.PresignedGetObject(ctx, bucket, object, ttl, reqParams)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s/%s: %w", bucket, object, err)
	}
	return u.String(), nil
}

func (s *minioBlobStore) Remove(ctx context.Context, bucket, object string) error {
	if err := s.client.RemoveObject(ctx, bucket, object, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove %s/%s: %w", bucket, object, err)
	}
	return nil
}
