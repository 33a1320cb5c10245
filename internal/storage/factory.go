package storage

import (
	"fmt"
	"path/filepath"

	"github.com/andrei/vidseek/internal/config"
)

// NewStorage builds the configured storage backend. Local storage roots
// itself under the media base directory so the API can serve artifacts
// straight from disk.
func NewStorage(cfg *config.Config) (ObjectStorage, error) {
	switch cfg.Storage.Backend {
	case "", "local":
		baseDir := filepath.Join(cfg.Media.BaseDir, "public")
		publicURL := cfg.Storage.PublicURL
		if publicURL == "" {
			publicURL = fmt.Sprintf("http://localhost:%d/static", cfg.Server.Port)
		}
		return NewLocalStorage(baseDir, publicURL)
	case "s3":
		return NewS3Storage(&S3Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			PublicURL: cfg.Storage.PublicURL,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}
