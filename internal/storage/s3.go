package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hourse/backend/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Backend struct {
	client       *minio.Client
	publicClient *minio.Client // presigns against the public endpoint
	bucket       string
	region       string
}

func NewS3Backend(cfg config.StorageConfig) (*S3Backend, error) {
	creds := credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	publicClient := client
	if cfg.PublicEndpoint != "" && cfg.PublicEndpoint != cfg.Endpoint {
		publicClient, err = minio.New(cfg.PublicEndpoint, &minio.Options{
			Creds:  creds,
			Secure: cfg.UseSSL,
			Region: cfg.Region,
		})
		if err != nil {
			return nil, err
		}
	}

	return &S3Backend{
		client:       client,
		publicClient: publicClient,
		bucket:       cfg.Bucket,
		region:       cfg.Region,
	}, nil
}

func (s *S3Backend) Name() string {
	return "s3"
}

func (s *S3Backend) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	record(s.Name(), "upload", key, map[string]interface{}{
		"size":         size,
		"content_type": contentType,
		"bucket":       s.bucket,
	}, err)
	return err
}

func (s *S3Backend) Download(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		record(s.Name(), "download", key, map[string]interface{}{"bucket": s.bucket}, err)
		return nil, nil, err
	}

	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			err = ErrObjectNotFound
		}
		record(s.Name(), "download", key, map[string]interface{}{"bucket": s.bucket}, err)
		return nil, nil, err
	}

	record(s.Name(), "download", key, map[string]interface{}{"bucket": s.bucket}, nil)
	return obj, &ObjectInfo{
		Key:          key,
		Size:         stat.Size,
		ContentType:  stat.ContentType,
		LastModified: stat.LastModified,
	}, nil
}

func (s *S3Backend) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	record(s.Name(), "delete", key, map[string]interface{}{"bucket": s.bucket}, err)
	return err
}

// URL presigns a GET against the public endpoint.
func (s *S3Backend) URL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	urlValue, err := s.publicClient.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", err
	}
	return urlValue.String(), nil
}

func (s *S3Backend) EnsureReady(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("failed creating bucket %s: %w", s.bucket, err)
	}
	return nil
}
