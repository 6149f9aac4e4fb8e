package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
)

// MinIOStore adapts a MinIO bucket to the Store interface.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore constructs an adapter over the given bucket.
func NewMinIOStore(client *minio.Client, bucket string) *MinIOStore {
	return &MinIOStore{client: client, bucket: bucket}
}

func (s *MinIOStore) Put(ctx context.Context, id string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, id, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		// PutObject cleans up incomplete multipart uploads itself; a plain
		// remove covers the single-part case.
		_ = s.client.RemoveObject(context.WithoutCancel(ctx), s.bucket, id, minio.RemoveObjectOptions{})
		return fmt.Errorf("store object %s: %w", id, err)
	}
	return nil
}

func (s *MinIOStore) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	// GetObject defers I/O until the first read; stat first so a missing
	// object surfaces as ErrNotFound instead of a mid-stream failure.
	if _, err := s.client.StatObject(ctx, s.bucket, id, minio.StatObjectOptions{}); err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat object %s: %w", id, err)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, id, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetch object %s: %w", id, err)
	}
	return obj, nil
}

func (s *MinIOStore) Remove(ctx context.Context, id string) (bool, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, id, minio.StatObjectOptions{}); err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", id, err)
	}

	if err := s.client.RemoveObject(ctx, s.bucket, id, minio.RemoveObjectOptions{}); err != nil {
		return false, fmt.Errorf("remove object %s: %w", id, err)
	}
	return true, nil
}

func (s *MinIOStore) List(ctx context.Context) ([]Info, error) {
	var infos []Info
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects: %w", obj.Err)
		}
		infos = append(infos, Info{ID: obj.Key, ModTime: obj.LastModified})
	}
	return infos, nil
}
