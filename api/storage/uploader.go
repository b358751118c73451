package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// Uploader streams client uploads into the bucket the worker reads from.
type Uploader struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

func Connect(cfg Config, logger *zap.Logger) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}

	return &Uploader{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

func (u *Uploader) Put(ctx context.Context, remotePath string, r io.Reader, size int64, contentType string) error {
	_, err := u.client.PutObject(ctx, u.bucket, remotePath, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}

	u.logger.Info("Uploaded object",
		zap.String("remote", remotePath),
		zap.Int64("bytes", size),
	)
	return nil
}
