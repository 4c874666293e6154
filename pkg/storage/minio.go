// Package storage stages raw uploads in MinIO for the async ingest path.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"learnmate-go/internal/config"
	"learnmate-go/pkg/log"
)

// Store wraps one MinIO bucket used as the ingest staging area.
type Store struct {
	client *minio.Client
	bucket string
}

// NewStore connects to MinIO and ensures the staging bucket exists.
func NewStore(ctx context.Context, cfg config.MinIOConfig) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect minio: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.BucketName, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.BucketName, err)
		}
		log.Infof("created staging bucket '%s'", cfg.BucketName)
	}

	log.Info("MinIO staging store ready")
	return &Store{client: client, bucket: cfg.BucketName}, nil
}

// PutStaged writes a raw document under staging/<docHash>.
func (s *Store) PutStaged(ctx context.Context, docHash string, raw []byte) (string, error) {
	objectName := "staging/" + docHash
	_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(raw), int64(len(raw)), minio.PutObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("stage object %q: %w", objectName, err)
	}
	return objectName, nil
}

// GetStaged reads a staged object back into memory.
func (s *Store) GetStaged(ctx context.Context, objectName string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get staged object %q: %w", objectName, err)
	}
	defer object.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, object); err != nil {
		return nil, fmt.Errorf("read staged object %q: %w", objectName, err)
	}
	return buf.Bytes(), nil
}

// RemoveStaged deletes a staged object once ingestion finishes.
func (s *Store) RemoveStaged(ctx context.Context, objectName string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove staged object %q: %w", objectName, err)
	}
	return nil
}
