package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage keeps objects on the local filesystem under a base directory.
// This is the default backend: clip artifacts already originate on local
// disk, so publishing is a copy and URLs are served by the API's static
// file route.
type LocalStorage struct {
	baseDir   string
	publicURL string
}

// NewLocalStorage creates a filesystem-backed storage rooted at baseDir.
// publicURL is the URL prefix under which the API serves baseDir.
func NewLocalStorage(baseDir, publicURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{
		baseDir:   baseDir,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

func (s *LocalStorage) objectPath(key string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(key))
}

// Upload writes the object under baseDir, creating parent directories.
func (s *LocalStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	path := s.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create object: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, reader); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

// Download opens the object file.
func (s *LocalStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.objectPath(key))
	if err != nil {
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	return f, nil
}

// GetURL returns the public URL for the object.
func (s *LocalStorage) GetURL(key string) string {
	return s.publicURL + "/" + key
}

// Delete removes the object file.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.objectPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Exists checks whether the object file exists.
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.objectPath(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat object: %w", err)
}
