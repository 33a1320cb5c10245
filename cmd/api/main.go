package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/andrei/vidseek/internal/api"
	"github.com/andrei/vidseek/internal/api/middleware"
	"github.com/andrei/vidseek/internal/config"
	"github.com/andrei/vidseek/internal/index"
	"github.com/andrei/vidseek/internal/logger"
	"github.com/andrei/vidseek/internal/media"
	"github.com/andrei/vidseek/internal/repository"
	"github.com/andrei/vidseek/internal/service"
	"github.com/andrei/vidseek/internal/storage"
)

func main() {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	// Initialize database for the video catalog
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	videoRepo := repository.NewVideoRepository(db)

	// Load the vector index; a corrupt or missing snapshot starts empty
	idx := loadIndex(appLogger, cfg)

	// Initialize object storage (local disk or S3-compatible)
	objectStorage, err := storage.NewStorage(cfg)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}
	if s3, ok := objectStorage.(*storage.S3Storage); ok {
		if err := s3.EnsureBucket(context.Background()); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
		}
	}

	// Media tooling
	prober := &media.FFprobeProber{}
	transcoder := &media.FFmpegTranscoder{}
	pipeline, err := media.NewPipeline(prober, transcoder, appLogger, &media.PipelineConfig{
		BaseDir:      cfg.Media.BaseDir,
		ClipSeconds:  cfg.Media.ClipSeconds,
		TargetWidth:  cfg.Media.TargetWidth,
		TargetHeight: cfg.Media.TargetHeight,
		Workers:      cfg.Media.Workers,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize segmentation pipeline")
	}
	previewer, err := media.NewPreviewer(transcoder, appLogger, &media.PreviewConfig{
		BaseDir:    cfg.Media.BaseDir,
		FPS:        cfg.Media.PreviewFPS,
		Width:      cfg.Media.PreviewWidth,
		MaxSeconds: cfg.Media.PreviewMaxSec,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize previewer")
	}
	if removed := previewer.CleanupOld(24 * time.Hour); removed > 0 {
		appLogger.WithField("count", removed).Info("Removed stale previews")
	}

	// External clients
	embeddingService := service.NewEmbeddingService(&service.EmbeddingConfig{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    cfg.Embedding.Timeout,
	})

	var answerer service.AnswerGenerator
	if cfg.Answerer.Enabled {
		answerer = service.NewAnswerService(&service.AnswerConfig{
			Model:   cfg.Answerer.Model,
			APIKey:  cfg.Answerer.APIKey,
			BaseURL: cfg.Answerer.BaseURL,
		})
	}

	// Services
	ingestService := service.NewIngestService(
		pipeline,
		embeddingService,
		idx,
		videoRepo,
		objectStorage,
		appLogger,
		&service.IngestConfig{
			IndexPath:           cfg.Index.Path,
			Workers:             cfg.Media.Workers,
			SupportedExtensions: cfg.Search.SupportedExtensions,
		},
	)
	searchService := service.NewSearchService(
		idx,
		embeddingService,
		objectStorage,
		previewer,
		answerer,
		appLogger,
		&service.SearchServiceConfig{DefaultTopK: cfg.Search.DefaultTopK},
	)

	staticDir := ""
	if cfg.Storage.Backend == "" || cfg.Storage.Backend == "local" {
		staticDir = filepath.Join(cfg.Media.BaseDir, "public")
	}
	router := api.SetupRouter(searchService, ingestService, videoRepo, idx, &api.RouterConfig{
		Mode: cfg.Server.Mode,
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
		StaticDir: staticDir,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Fatal("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}

// loadIndex restores the snapshot at cfg.Index.Path. Missing snapshots are
// normal on first boot; corrupt ones are logged and replaced by an empty
// index rather than refusing to start.
func loadIndex(appLogger *logger.Logger, cfg *config.Config) *index.Flat {
	idx, err := index.Load(cfg.Index.Path)
	if err == nil {
		appLogger.WithFields(logger.Fields{
			"path": cfg.Index.Path,
			"size": idx.Len(),
		}).Info("Loaded vector index snapshot")
		return idx
	}

	if errors.Is(err, os.ErrNotExist) {
		appLogger.WithField("path", cfg.Index.Path).Info("No index snapshot, starting empty")
	} else {
		appLogger.WithError(err).Warn("Index snapshot unusable, starting empty")
	}

	fresh, err := index.NewFlat(cfg.Index.Dimension)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to create vector index")
	}
	return fresh
}
