package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/hourse/backend/internal/config"
	"github.com/hourse/backend/internal/metrics"
	"github.com/hourse/backend/pkg/logger"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidKey     = errors.New("invalid object key")
)

type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Backend is a blob store. Keys are slash separated and relative.
type Backend interface {
	Name() string
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	URL(ctx context.Context, key string, expiry time.Duration) (string, error)
	EnsureReady(ctx context.Context) error
}

// New returns the S3 backend when cloud credentials are configured and the
// local disk backend otherwise.
func New(cfg config.StorageConfig) (Backend, error) {
	if cfg.CloudEnabled() {
		return NewS3Backend(cfg)
	}
	return NewLocalBackend(cfg.LocalRoot, cfg.PublicBaseURL)
}

func record(backend, op, key string, details map[string]interface{}, err error) {
	metrics.StorageOperations.WithLabelValues(backend, op, metrics.Outcome(err)).Inc()

	fields := map[string]interface{}{"object_name": key}
	for k, v := range details {
		fields[k] = v
	}

	action := backend + "_" + op
	if err != nil {
		logger.Error(action+"_failed", err, fields)
		return
	}
	logger.Info(action+"_success", fields)
}
