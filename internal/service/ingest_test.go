package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/andrei/vidseek/internal/domain"
	"github.com/andrei/vidseek/internal/index"
	"github.com/andrei/vidseek/internal/logger"
)

type fakeSegmenter struct {
	artifacts []domain.ClipArtifact
	err       error
	calls     int
}

func (s *fakeSegmenter) Segment(ctx context.Context, sourcePath string) ([]domain.ClipArtifact, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.artifacts, nil
}

// fakeEmbedder serves canned records per clip path. Safe for the bounded
// worker pool.
type fakeEmbedder struct {
	mu        sync.Mutex
	dim       int
	failPaths map[string]bool
	zeroPaths map[string]bool
	clipCalls int

	textVec []float32
	textErr error
}

func newFakeEmbedder(dim int) *fakeEmbedder {
	return &fakeEmbedder{
		dim:       dim,
		failPaths: make(map[string]bool),
		zeroPaths: make(map[string]bool),
	}
}

func (e *fakeEmbedder) EmbedClip(ctx context.Context, clipPath, audioPath string) (*domain.FeatureRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clipCalls++
	if e.failPaths[clipPath] {
		return nil, errors.New("embedding server unavailable")
	}
	vec := make([]float32, e.dim)
	if !e.zeroPaths[clipPath] {
		// Any non-zero vector will do; make it path-dependent.
		vec[len(clipPath)%e.dim] = 1
	}
	return &domain.FeatureRecord{
		Embedding:   vec,
		Description: "clip " + clipPath,
	}, nil
}

func (e *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.textErr != nil {
		return nil, e.textErr
	}
	return e.textVec, nil
}

type fakeCatalog struct {
	videos []*domain.Video
	err    error
}

func (c *fakeCatalog) Upsert(ctx context.Context, video *domain.Video) error {
	if c.err != nil {
		return c.err
	}
	c.videos = append(c.videos, video)
	return nil
}

func makeArtifacts(n int) []domain.ClipArtifact {
	artifacts := make([]domain.ClipArtifact, n)
	for i := range artifacts {
		artifacts[i] = domain.ClipArtifact{
			VideoPath: fmt.Sprintf("/tmp/clips/talk_%d.mp4", i),
			Start:     float64(i) * 30,
			End:       float64(i)*30 + 30,
		}
	}
	return artifacts
}

func newTestIngest(t *testing.T, seg Segmenter, emb Embedder, catalog VideoCatalog) (*IngestService, *index.Flat) {
	t.Helper()
	idx, err := index.NewFlat(8)
	if err != nil {
		t.Fatalf("NewFlat: %v", err)
	}
	svc := NewIngestService(seg, emb, idx, catalog, nil, logger.NewDefault(), &IngestConfig{
		IndexPath:           filepath.Join(t.TempDir(), "video_index"),
		Workers:             2,
		SupportedExtensions: []string{".mp4", ".avi", ".mov", ".mkv"},
	})
	return svc, idx
}

func TestIngestIndexesAllClips(t *testing.T) {
	seg := &fakeSegmenter{artifacts: makeArtifacts(4)}
	emb := newFakeEmbedder(8)
	catalog := &fakeCatalog{}
	svc, idx := newTestIngest(t, seg, emb, catalog)

	result, err := svc.Ingest(context.Background(), "/videos/talk.mp4")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.ClipsProduced != 4 || result.ClipsIndexed != 4 {
		t.Errorf("got produced=%d indexed=%d, want 4/4", result.ClipsProduced, result.ClipsIndexed)
	}
	if idx.Len() != 4 {
		t.Errorf("index size = %d, want 4", idx.Len())
	}
	if idx.NextID() != 4 {
		t.Errorf("next id = %d, want 4", idx.NextID())
	}
	if emb.clipCalls != 4 {
		t.Errorf("embedder calls = %d, want 4", emb.clipCalls)
	}
	if len(catalog.videos) != 1 {
		t.Fatalf("catalog rows = %d, want 1", len(catalog.videos))
	}
	v := catalog.videos[0]
	if v.ClipCount != 4 || v.IndexedCount != 4 || v.Status != domain.VideoStatusActive {
		t.Errorf("catalog row = %+v", v)
	}
}

func TestIngestUnsupportedFormat(t *testing.T) {
	seg := &fakeSegmenter{artifacts: makeArtifacts(1)}
	svc, _ := newTestIngest(t, seg, newFakeEmbedder(8), nil)

	_, err := svc.Ingest(context.Background(), "/videos/slides.wmv")
	if !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Fatalf("got %v, want ErrUnsupportedFormat", err)
	}
	if seg.calls != 0 {
		t.Errorf("segmenter called %d times before format check", seg.calls)
	}
}

func TestIngestIdempotent(t *testing.T) {
	seg := &fakeSegmenter{artifacts: makeArtifacts(2)}
	svc, idx := newTestIngest(t, seg, newFakeEmbedder(8), nil)

	if _, err := svc.Ingest(context.Background(), "/videos/talk.mp4"); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	result, err := svc.Ingest(context.Background(), "/videos/talk.mp4")
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if !result.Skipped {
		t.Error("second ingest of same path not skipped")
	}
	if seg.calls != 1 {
		t.Errorf("segmenter calls = %d, want 1", seg.calls)
	}
	if idx.Len() != 2 {
		t.Errorf("index size = %d, want 2", idx.Len())
	}
}

func TestIngestSkipCheckedBeforeFormat(t *testing.T) {
	seg := &fakeSegmenter{artifacts: makeArtifacts(1)}
	svc, _ := newTestIngest(t, seg, newFakeEmbedder(8), nil)

	// A path already in the ingested set short-circuits before the
	// extension gate even looks at it.
	svc.markIngested(canonicalPath("/videos/talk.wmv"))

	result, err := svc.Ingest(context.Background(), "/videos/talk.wmv")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !result.Skipped {
		t.Error("ingested path not skipped")
	}
	if seg.calls != 0 {
		t.Errorf("segmenter calls = %d, want 0", seg.calls)
	}
}

func TestIngestNoClipsProduced(t *testing.T) {
	seg := &fakeSegmenter{}
	svc, _ := newTestIngest(t, seg, newFakeEmbedder(8), nil)

	_, err := svc.Ingest(context.Background(), "/videos/talk.mp4")
	if !errors.Is(err, domain.ErrNoClipsProduced) {
		t.Fatalf("got %v, want ErrNoClipsProduced", err)
	}
}

func TestIngestDropsFailedEmbeddings(t *testing.T) {
	artifacts := makeArtifacts(4)
	seg := &fakeSegmenter{artifacts: artifacts}
	emb := newFakeEmbedder(8)
	emb.failPaths[artifacts[1].VideoPath] = true
	svc, idx := newTestIngest(t, seg, emb, nil)

	result, err := svc.Ingest(context.Background(), "/videos/talk.mp4")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.ClipsIndexed != 3 {
		t.Errorf("indexed = %d, want 3", result.ClipsIndexed)
	}
	if idx.Len() != 3 {
		t.Errorf("index size = %d, want 3", idx.Len())
	}
}

func TestIngestDropsZeroEmbeddings(t *testing.T) {
	artifacts := makeArtifacts(3)
	seg := &fakeSegmenter{artifacts: artifacts}
	emb := newFakeEmbedder(8)
	emb.zeroPaths[artifacts[2].VideoPath] = true
	svc, idx := newTestIngest(t, seg, emb, nil)

	result, err := svc.Ingest(context.Background(), "/videos/talk.mp4")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.ClipsIndexed != 2 {
		t.Errorf("indexed = %d, want 2", result.ClipsIndexed)
	}
	if idx.Len() != 2 {
		t.Errorf("index size = %d, want 2", idx.Len())
	}
}

func TestIngestNoUsableClips(t *testing.T) {
	artifacts := makeArtifacts(2)
	seg := &fakeSegmenter{artifacts: artifacts}
	emb := newFakeEmbedder(8)
	for _, a := range artifacts {
		emb.zeroPaths[a.VideoPath] = true
	}
	svc, idx := newTestIngest(t, seg, emb, nil)

	_, err := svc.Ingest(context.Background(), "/videos/talk.mp4")
	if !errors.Is(err, domain.ErrNoUsableClips) {
		t.Fatalf("got %v, want ErrNoUsableClips", err)
	}
	if idx.Len() != 0 {
		t.Errorf("index size = %d, want 0", idx.Len())
	}

	// A failed run must not poison the idempotence set.
	if _, err := svc.Ingest(context.Background(), "/videos/talk.mp4"); !errors.Is(err, domain.ErrNoUsableClips) {
		t.Fatalf("retry got %v, want ErrNoUsableClips", err)
	}
	if seg.calls != 2 {
		t.Errorf("segmenter calls = %d, want 2", seg.calls)
	}
}

func TestIngestPersistenceFailure(t *testing.T) {
	seg := &fakeSegmenter{artifacts: makeArtifacts(3)}
	emb := newFakeEmbedder(8)
	idx, err := index.NewFlat(8)
	if err != nil {
		t.Fatalf("NewFlat: %v", err)
	}
	// A regular file where the snapshot directory should be makes every
	// save attempt fail.
	blocked := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	svc := NewIngestService(seg, emb, idx, nil, nil, logger.NewDefault(), &IngestConfig{
		IndexPath:           filepath.Join(blocked, "video_index"),
		Workers:             2,
		SupportedExtensions: []string{".mp4"},
	})

	_, err = svc.Ingest(context.Background(), "/videos/talk.mp4")
	if !errors.Is(err, domain.ErrPersistenceFailed) {
		t.Fatalf("got %v, want ErrPersistenceFailed", err)
	}
	// Memory stays ahead of disk.
	if idx.Len() != 3 {
		t.Errorf("index size = %d, want 3", idx.Len())
	}
	// Not marked ingested, so a retry runs the pipeline again.
	if _, err := svc.Ingest(context.Background(), "/videos/talk.mp4"); !errors.Is(err, domain.ErrPersistenceFailed) {
		t.Fatalf("retry got %v, want ErrPersistenceFailed", err)
	}
	if seg.calls != 2 {
		t.Errorf("segmenter calls = %d, want 2", seg.calls)
	}
}

func TestIngestSegmentationErrorIsFatal(t *testing.T) {
	seg := &fakeSegmenter{err: errors.New("probe failed")}
	svc, _ := newTestIngest(t, seg, newFakeEmbedder(8), nil)

	if _, err := svc.Ingest(context.Background(), "/videos/talk.mp4"); err == nil {
		t.Fatal("expected error from failed segmentation")
	}
}

func TestClipStorageKey(t *testing.T) {
	got := ClipStorageKey("/data/processed/video/talk_0.0_30.0.mp4")
	want := "clips/talk_0.0_30.0.mp4"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
