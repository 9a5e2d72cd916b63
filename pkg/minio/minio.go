package minio

import (
	"bytes"
	"context"
	"fmt"

	"coin-settlement/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Client = fx.Module("minio.client", fx.Provide(registerClient, ProvideArchiver))

// Archiver stores raw payloads for later inspection.
type Archiver interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

func registerClient(c *config.Config) (*minio.Client, error) {
	if c.Minio.Endpoint == "" {
		zap.L().Info("MinIO not configured, archival disabled")
		return nil, nil
	}

	client, err := minio.New(c.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
		Secure: c.Minio.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(context.Background(), c.Minio.BucketName)
	if err != nil {
		zap.L().Error("failed to check if bucket exists", zap.String("bucket", c.Minio.BucketName), zap.Error(err))
		return client, nil
	}
	if !exists {
		if err := client.MakeBucket(context.Background(), c.Minio.BucketName, minio.MakeBucketOptions{}); err != nil {
			zap.L().Error("failed to create bucket", zap.String("bucket", c.Minio.BucketName), zap.Error(err))
		}
	}

	zap.L().Info("MinIO client initialized", zap.String("endpoint", c.Minio.Endpoint), zap.Bool("bucketExists", exists))
	return client, nil
}

type bucketArchiver struct {
	client *minio.Client
	bucket string
}

// ProvideArchiver returns nil when MinIO is not configured. Callers treat a
// nil Archiver as archival disabled.
func ProvideArchiver(c *config.Config, client *minio.Client) Archiver {
	if client == nil {
		return nil
	}
	return &bucketArchiver{client: client, bucket: c.Minio.BucketName}
}

func (a *bucketArchiver) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	info, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return fmt.Sprintf("%s/%s", info.Bucket, info.Key), nil
}
