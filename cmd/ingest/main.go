package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/andrei/vidseek/internal/config"
	"github.com/andrei/vidseek/internal/domain"
	"github.com/andrei/vidseek/internal/index"
	"github.com/andrei/vidseek/internal/logger"
	"github.com/andrei/vidseek/internal/media"
	"github.com/andrei/vidseek/internal/repository"
	"github.com/andrei/vidseek/internal/service"
	"github.com/andrei/vidseek/internal/storage"
)

func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "text",
		ServiceName: "vidseek-ingest",
	})
	logger.SetDefaultLogger(appLogger)

	configPath := flag.String("config", "", "Path to config file")
	noCatalog := flag.Bool("no-catalog", false, "Skip the videos catalog database")
	flag.Parse()

	videos := flag.Args()
	if len(videos) == 0 {
		appLogger.Fatal("Usage: ingest [flags] <video>...")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	var videoRepo *repository.VideoRepository
	if !*noCatalog {
		db, err := repository.InitDB(&cfg.Database)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize database")
		}
		videoRepo = repository.NewVideoRepository(db)
	}

	// Existing snapshot keeps growing; a missing one starts a new index.
	idx, err := index.Load(cfg.Index.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			appLogger.WithError(err).Warn("Index snapshot unusable, starting empty")
		}
		idx, err = index.NewFlat(cfg.Index.Dimension)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to create vector index")
		}
	}

	objectStorage, err := storage.NewStorage(cfg)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}

	pipeline, err := media.NewPipeline(&media.FFprobeProber{}, &media.FFmpegTranscoder{}, appLogger, &media.PipelineConfig{
		BaseDir:      cfg.Media.BaseDir,
		ClipSeconds:  cfg.Media.ClipSeconds,
		TargetWidth:  cfg.Media.TargetWidth,
		TargetHeight: cfg.Media.TargetHeight,
		Workers:      cfg.Media.Workers,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize segmentation pipeline")
	}

	embeddingService := service.NewEmbeddingService(&service.EmbeddingConfig{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    cfg.Embedding.Timeout,
	})

	var catalog service.VideoCatalog
	if videoRepo != nil {
		catalog = videoRepo
	}
	ingestService := service.NewIngestService(
		pipeline,
		embeddingService,
		idx,
		catalog,
		objectStorage,
		appLogger,
		&service.IngestConfig{
			IndexPath:           cfg.Index.Path,
			Workers:             cfg.Media.Workers,
			SupportedExtensions: cfg.Search.SupportedExtensions,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	indexed, failed := 0, 0
	for _, video := range videos {
		if ctx.Err() != nil {
			break
		}
		result, err := ingestService.Ingest(ctx, video)
		if err != nil {
			failed++
			switch {
			case errors.Is(err, domain.ErrUnsupportedFormat),
				errors.Is(err, domain.ErrNoClipsProduced),
				errors.Is(err, domain.ErrNoUsableClips):
				appLogger.WithField("video", video).WithError(err).Warn("Video skipped")
			default:
				appLogger.WithField("video", video).WithError(err).Error("Ingestion failed")
			}
			continue
		}
		if result.Skipped {
			appLogger.WithField("video", video).Info("Already ingested")
			continue
		}
		indexed++
		appLogger.WithFields(logger.Fields{
			"video":       video,
			"clips":       result.ClipsProduced,
			"indexed":     result.ClipsIndexed,
			"duration_ms": result.Duration.Milliseconds(),
		}).Info("Video ingested")
	}

	appLogger.WithFields(logger.Fields{
		"videos":  len(videos),
		"indexed": indexed,
		"failed":  failed,
		"total":   idx.Len(),
	}).Info("Ingestion run completed")

	if failed > 0 {
		os.Exit(1)
	}
}
