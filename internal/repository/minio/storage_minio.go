// Package minio implements ports.ObjectStorage on a MinIO/S3 bucket.
package minio

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Storage struct {
	client     *minio.Client
	publicBase string
}

func NewClient(endpoint, key, secret string, useSSL bool) (*minio.Client, error) {
	return minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(key, secret, ""),
		Secure: useSSL,
	})
}

// NewStorage wraps a client. publicBase, when set, is used to build the URL
// returned from Upload; otherwise the client endpoint is used.
func NewStorage(client *minio.Client, publicBase string) *Storage {
	return &Storage{
		client:     client,
		publicBase: strings.TrimRight(publicBase, "/"),
	}
}

func (s *Storage) Upload(ctx context.Context, bucket, objectName, contentType string, reader io.Reader, size int64) (string, error) {
	_, err := s.client.PutObject(ctx, bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s/%s: %w", bucket, objectName, err)
	}
	if s.publicBase != "" {
		return fmt.Sprintf("%s/%s/%s", s.publicBase, bucket, objectName), nil
	}
	return fmt.Sprintf("%s/%s/%s", s.client.EndpointURL(), bucket, objectName), nil
}
