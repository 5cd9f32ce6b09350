package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

// LocalBackend keeps blobs on a directory tree. Used when no object store
// credentials are configured.
type LocalBackend struct {
	fs            afero.Fs
	publicBaseURL string
}

func NewLocalBackend(root, publicBaseURL string) (*LocalBackend, error) {
	if root == "" {
		root = "./uploads"
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, err
	}
	return NewLocalBackendFs(afero.NewBasePathFs(afero.NewOsFs(), root), publicBaseURL), nil
}

// NewLocalBackendFs wraps an existing filesystem; tests pass afero.NewMemMapFs.
func NewLocalBackendFs(fs afero.Fs, publicBaseURL string) *LocalBackend {
	return &LocalBackend{fs: fs, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}
}

func (l *LocalBackend) Name() string {
	return "local"
}

// Fs exposes the underlying filesystem so the HTTP layer can serve it.
func (l *LocalBackend) Fs() afero.Fs {
	return l.fs
}

func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", ErrInvalidKey
		}
	}
	return path.Clean(key), nil
}

func (l *LocalBackend) Upload(_ context.Context, key string, reader io.Reader, size int64, contentType string) error {
	err := l.write(key, reader)
	record(l.Name(), "upload", key, map[string]interface{}{
		"size":         size,
		"content_type": contentType,
	}, err)
	return err
}

func (l *LocalBackend) write(key string, reader io.Reader) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := l.fs.MkdirAll(path.Dir(cleaned), 0o750); err != nil {
		return err
	}

	file, err := l.fs.OpenFile(cleaned, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func (l *LocalBackend) Download(_ context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	file, info, err := l.open(key)
	record(l.Name(), "download", key, nil, err)
	return file, info, err
}

func (l *LocalBackend) open(key string) (afero.File, *ObjectInfo, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, nil, err
	}

	file, err := l.fs.Open(cleaned)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrObjectNotFound
		}
		return nil, nil, err
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, nil, err
	}
	if stat.IsDir() {
		_ = file.Close()
		return nil, nil, ErrObjectNotFound
	}

	detected, err := mimetype.DetectReader(file)
	if err != nil {
		_ = file.Close()
		return nil, nil, err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		_ = file.Close()
		return nil, nil, err
	}

	return file, &ObjectInfo{
		Key:          cleaned,
		Size:         stat.Size(),
		ContentType:  detected.String(),
		LastModified: stat.ModTime(),
	}, nil
}

func (l *LocalBackend) Delete(_ context.Context, key string) error {
	cleaned, err := cleanKey(key)
	if err == nil {
		err = l.fs.Remove(cleaned)
		if errors.Is(err, os.ErrNotExist) {
			err = nil
		}
	}
	record(l.Name(), "delete", key, nil, err)
	return err
}

// URL returns the public path of the blob; local blobs do not expire.
func (l *LocalBackend) URL(_ context.Context, key string, _ time.Duration) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return l.publicBaseURL + "/" + cleaned, nil
}

func (l *LocalBackend) EnsureReady(_ context.Context) error {
	return l.fs.MkdirAll(".", 0o750)
}
