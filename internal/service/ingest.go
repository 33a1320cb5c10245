package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andrei/vidseek/internal/domain"
	"github.com/andrei/vidseek/internal/index"
	"github.com/andrei/vidseek/internal/logger"
	"github.com/andrei/vidseek/internal/storage"
)

// Segmenter cuts a source video into clip artifacts.
type Segmenter interface {
	Segment(ctx context.Context, sourcePath string) ([]domain.ClipArtifact, error)
}

// VideoCatalog records ingested videos for the list/stats endpoints.
type VideoCatalog interface {
	Upsert(ctx context.Context, video *domain.Video) error
}

// IngestService orchestrates the ingestion pipeline: segment, embed,
// insert, persist. One video at a time; per-clip failures are absorbed.
type IngestService struct {
	segmenter Segmenter
	embedder  Embedder
	index     *index.Flat
	catalog   VideoCatalog
	storage   storage.ObjectStorage
	logger    *logger.Logger

	indexPath string
	workers   int
	supported map[string]struct{}

	// Process-lifetime idempotence set keyed by canonical source path.
	// Deliberately not persisted: a restart may re-ingest (and duplicate)
	// a video, which is accepted over inventing durable dedup state.
	mu       sync.Mutex
	ingested map[string]struct{}
}

// IngestConfig holds configuration for the ingest service.
type IngestConfig struct {
	IndexPath           string
	Workers             int
	SupportedExtensions []string
}

// NewIngestService creates a new ingest service. catalog and objectStorage
// may be nil; both are best-effort side channels.
func NewIngestService(
	segmenter Segmenter,
	embedder Embedder,
	idx *index.Flat,
	catalog VideoCatalog,
	objectStorage storage.ObjectStorage,
	log *logger.Logger,
	cfg *IngestConfig,
) *IngestService {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > 8 {
		workers = 8
	}

	supported := make(map[string]struct{}, len(cfg.SupportedExtensions))
	for _, ext := range cfg.SupportedExtensions {
		supported[strings.ToLower(ext)] = struct{}{}
	}

	return &IngestService{
		segmenter: segmenter,
		embedder:  embedder,
		index:     idx,
		catalog:   catalog,
		storage:   objectStorage,
		logger:    log,
		indexPath: cfg.IndexPath,
		workers:   workers,
		supported: supported,
		ingested:  make(map[string]struct{}),
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *IngestService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// IngestResult holds statistics for one ingestion run.
type IngestResult struct {
	SourcePath    string        `json:"source_path"`
	Skipped       bool          `json:"skipped"`
	ClipsProduced int           `json:"clips_produced"`
	ClipsIndexed  int           `json:"clips_indexed"`
	Duration      time.Duration `json:"-"`
}

// Ingest runs the full pipeline for one source video. Typed errors:
// domain.ErrUnsupportedFormat before any work, domain.ErrNoClipsProduced /
// domain.ErrNoUsableClips when nothing survives, domain.ErrPersistenceFailed
// when the in-memory inserts succeeded but the snapshot did not.
func (s *IngestService) Ingest(ctx context.Context, sourcePath string) (*IngestResult, error) {
	start := time.Now()

	key := canonicalPath(sourcePath)
	if s.alreadyIngested(key) {
		s.log(ctx).WithField("source", sourcePath).Info("Video already ingested, skipping")
		return &IngestResult{SourcePath: sourcePath, Skipped: true}, nil
	}

	ext := strings.ToLower(filepath.Ext(sourcePath))
	if _, ok := s.supported[ext]; !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, ext)
	}

	ctx = logger.SetVideoID(ctx, filepath.Base(sourcePath))
	s.log(ctx).WithField("source", sourcePath).Info("Starting ingestion")

	artifacts, err := s.segmenter.Segment(ctx, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("segmentation failed: %w", err)
	}
	if len(artifacts) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoClipsProduced, sourcePath)
	}

	records := s.embedAll(ctx, artifacts)

	indexed := 0
	var lastEnd float64
	for i, art := range artifacts {
		if art.End > lastEnd {
			lastEnd = art.End
		}
		rec := records[i]
		if rec == nil || rec.IsZero() {
			s.log(ctx).WithField(logger.FieldClipPath, art.VideoPath).
				Warn("Dropping clip without usable embedding")
			continue
		}

		meta := domain.ClipMetadata{
			SourceVideo: sourcePath,
			ClipPath:    art.VideoPath,
			AudioPath:   art.AudioPath,
			StartTime:   art.Start,
			EndTime:     art.End,
			Transcript:  rec.Transcript,
			Description: rec.Description,
		}
		if _, err := s.index.Insert(rec.Embedding, meta); err != nil {
			s.log(ctx).WithField(logger.FieldClipPath, art.VideoPath).
				WithError(err).Warn("Dropping clip rejected by index")
			continue
		}
		indexed++

		s.publishClip(ctx, art.VideoPath)
	}

	if indexed == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoUsableClips, sourcePath)
	}

	result := &IngestResult{
		SourcePath:    sourcePath,
		ClipsProduced: len(artifacts),
		ClipsIndexed:  indexed,
		Duration:      time.Since(start),
	}

	if err := s.index.Save(s.indexPath); err != nil {
		// Inserts stay live in memory; durable state catches up on the
		// next successful save.
		s.log(ctx).WithError(err).Error("Failed to persist index snapshot")
		return result, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}

	s.markIngested(key)
	s.recordCatalog(ctx, sourcePath, key, lastEnd, result)

	logger.With(logger.Fields{
		logger.FieldDurationMs: result.Duration.Milliseconds(),
		logger.FieldCount:      indexed,
	}).Info(ctx, "Ingestion completed: %d/%d clips indexed", indexed, len(artifacts))

	return result, nil
}

// embedAll runs clip embedding through a bounded worker pool, preserving
// artifact order so index ids follow clip order. Failed embeds leave a nil
// slot and are logged, never fatal.
func (s *IngestService) embedAll(ctx context.Context, artifacts []domain.ClipArtifact) []*domain.FeatureRecord {
	records := make([]*domain.FeatureRecord, len(artifacts))
	jobs := make(chan int, len(artifacts))
	var failed int64

	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					return
				}
				art := artifacts[i]
				rec, err := s.embedder.EmbedClip(ctx, art.VideoPath, art.AudioPath)
				if err != nil {
					atomic.AddInt64(&failed, 1)
					s.log(ctx).WithField(logger.FieldClipPath, art.VideoPath).
						WithError(err).Warn("Clip embedding failed")
					continue
				}
				// Embedder timing can be coarse; trust the planner's window.
				rec.StartTime = art.Start
				rec.EndTime = art.End
				records[i] = rec
			}
		}()
	}

	for i := range artifacts {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if n := atomic.LoadInt64(&failed); n > 0 {
		s.log(ctx).WithField(logger.FieldCount, n).Warn("Some clip embeddings failed")
	}
	return records
}

// publishClip uploads a clip artifact to object storage so search results
// can carry a servable URL. Best effort.
func (s *IngestService) publishClip(ctx context.Context, clipPath string) {
	if s.storage == nil {
		return
	}
	f, err := os.Open(clipPath)
	if err != nil {
		s.log(ctx).WithField(logger.FieldClipPath, clipPath).
			WithError(err).Warn("Failed to open clip for publishing")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.log(ctx).WithField(logger.FieldClipPath, clipPath).
			WithError(err).Warn("Failed to stat clip for publishing")
		return
	}

	key := ClipStorageKey(clipPath)
	if err := s.storage.Upload(ctx, key, f, info.Size(), "video/mp4"); err != nil {
		s.log(ctx).WithField("storage_key", key).
			WithError(err).Warn("Failed to publish clip to storage")
	}
}

// recordCatalog upserts the catalog row for an ingested video. Best effort;
// the catalog only feeds the list/stats endpoints.
func (s *IngestService) recordCatalog(ctx context.Context, sourcePath, key string, duration float64, result *IngestResult) {
	if s.catalog == nil {
		return
	}
	now := time.Now()
	video := &domain.Video{
		ID:           hashKey(key),
		SourcePath:   sourcePath,
		DurationSecs: duration,
		ClipCount:    result.ClipsProduced,
		IndexedCount: result.ClipsIndexed,
		Status:       domain.VideoStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.catalog.Upsert(ctx, video); err != nil {
		s.log(ctx).WithError(err).Warn("Failed to record video in catalog")
	}
}

func (s *IngestService) alreadyIngested(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ingested[key]
	return ok
}

func (s *IngestService) markIngested(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ingested[key] = struct{}{}
}

// ClipStorageKey maps a clip artifact path to its object storage key.
// Ingestion and search derive the same key from the same path.
func ClipStorageKey(clipPath string) string {
	return "clips/" + filepath.Base(clipPath)
}

func canonicalPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

func hashKey(key string) string {
	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}
