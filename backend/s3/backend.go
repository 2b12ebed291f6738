package s3

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/mwantia/vdisk/backend"
	"github.com/mwantia/vdisk/data"
)

var _ backend.ObjectStorage = (*S3Storage)(nil)

// S3Storage stores disk objects in a single S3 bucket.
type S3Storage struct {
	client     *minio.Client
	bucketName string
}

func NewS3Storage(endpoint, bucketName, accessKey, secretKey string, useSsl bool) (*S3Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSsl,
	})
	if err != nil {
		return nil, err
	}

	return &S3Storage{
		client:     client,
		bucketName: bucketName,
	}, nil
}

// Returns the identifier name defined for this backend
func (*S3Storage) Name() string {
	return "s3"
}

// Open is part of the lifecycle behaviour and gets called when opening this backend.
func (ss *S3Storage) Open(ctx context.Context) error {
	exists, err := ss.client.BucketExists(ctx, ss.bucketName)
	if err != nil {
		return err
	}
	if !exists {
		return data.ErrNotExist
	}

	return nil
}

// Close is part of the lifecycle behaviour and gets called when closing this backend.
func (ss *S3Storage) Close(ctx context.Context) error {
	return nil
}

func (ss *S3Storage) PutObject(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := ss.client.PutObject(ctx, ss.bucketName, key, r, size, minio.PutObjectOptions{})
	return err
}

func (ss *S3Storage) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := ss.client.GetObject(ctx, ss.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err)
	}

	// GetObject is lazy; surface NoSuchKey now instead of on first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, mapError(err)
	}

	return obj, nil
}

func (ss *S3Storage) DeleteObject(ctx context.Context, key string) error {
	// RemoveObject succeeds on missing keys; stat first to keep the
	// not-found contract.
	if _, err := ss.client.StatObject(ctx, ss.bucketName, key, minio.StatObjectOptions{}); err != nil {
		return mapError(err)
	}

	return ss.client.RemoveObject(ctx, ss.bucketName, key, minio.RemoveObjectOptions{})
}

func mapError(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" {
		return data.ErrNotExist
	}
	return err
}
