package media

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/andrei/vidseek/internal/domain"
	"github.com/andrei/vidseek/internal/logger"
)

// maxWorkers caps the pool regardless of configuration. Each task drives
// one or two external transcoding processes whose memory and CPU must stay
// bounded.
const maxWorkers = 8

// PipelineConfig holds segmentation settings.
type PipelineConfig struct {
	BaseDir      string
	ClipSeconds  float64
	TargetWidth  int
	TargetHeight int
	// Workers bounds clip extraction parallelism. Zero or negative means
	// min(GOMAXPROCS, 8); values above 8 are clamped.
	Workers int
}

// Pipeline partitions a source video into fixed-length windows and extracts
// them through a bounded worker pool. A failed task is logged and dropped
// without aborting its siblings.
type Pipeline struct {
	prober     Prober
	transcoder Transcoder
	logger     *logger.Logger

	videoDir    string
	audioDir    string
	clipSeconds float64
	width       int
	height      int
	workers     int
}

// NewPipeline creates a segmentation pipeline rooted at cfg.BaseDir
// (clips under video/, audio under audio/).
func NewPipeline(prober Prober, transcoder Transcoder, log *logger.Logger, cfg *PipelineConfig) (*Pipeline, error) {
	videoDir := filepath.Join(cfg.BaseDir, "video")
	audioDir := filepath.Join(cfg.BaseDir, "audio")
	for _, dir := range []string{videoDir, audioDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create media directory: %w", err)
		}
	}

	clipSeconds := cfg.ClipSeconds
	if clipSeconds <= 0 {
		clipSeconds = 30.0
	}
	width, height := cfg.TargetWidth, cfg.TargetHeight
	if width <= 0 || height <= 0 {
		width, height = 640, 360
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > maxWorkers {
		workers = maxWorkers
	}

	return &Pipeline{
		prober:      prober,
		transcoder:  transcoder,
		logger:      log,
		videoDir:    videoDir,
		audioDir:    audioDir,
		clipSeconds: clipSeconds,
		width:       width,
		height:      height,
		workers:     workers,
	}, nil
}

func (p *Pipeline) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return p.logger
}

// Segment probes the source once, plans ceil(duration/clipSeconds) windows,
// and extracts them with bounded parallelism. It returns the artifacts of
// the tasks that succeeded; an all-failed run returns an empty slice and no
// error (the orchestrator treats that as an ingestion failure).
func (p *Pipeline) Segment(ctx context.Context, sourcePath string) ([]domain.ClipArtifact, error) {
	start := time.Now()

	probe, err := p.prober.Probe(ctx, sourcePath)
	if err != nil {
		return nil, err
	}

	tasks := p.planTasks(sourcePath, probe)
	p.log(ctx).WithFields(logger.Fields{
		"source":    sourcePath,
		"duration":  probe.Duration,
		"has_audio": probe.HasAudio,
		"tasks":     len(tasks),
		"workers":   p.workers,
	}).Info("Segmenting video")

	taskChan := make(chan domain.ClipTask)
	resultChan := make(chan taskResult, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				artifact, err := p.runTask(ctx, task)
				resultChan <- taskResult{task: task, artifact: artifact, err: err}
			}
		}()
	}

	go func() {
		defer close(taskChan)
		for _, task := range tasks {
			select {
			case taskChan <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	artifacts := make([]domain.ClipArtifact, 0, len(tasks))
	failed := 0
	for result := range resultChan {
		if result.err != nil {
			failed++
			p.log(ctx).WithFields(logger.Fields{
				"source": result.task.SourcePath,
				"start":  result.task.Start,
				"end":    result.task.End,
			}).WithError(result.err).Error("Clip task failed, skipping")
			continue
		}
		artifacts = append(artifacts, result.artifact)
	}

	// Completion order is whatever the pool produced; hand back window order
	// so downstream ids follow the timeline.
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Start < artifacts[j].Start })

	logger.With(logger.Fields{
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
		logger.FieldCount:      len(artifacts),
	}).Info(ctx, "Segmentation completed: produced=%d, failed=%d", len(artifacts), failed)

	return artifacts, nil
}

type taskResult struct {
	task     domain.ClipTask
	artifact domain.ClipArtifact
	err      error
}

// planTasks partitions [0, duration) into fixed windows; the last window is
// clamped to the source duration and may be shorter. The audio flag from the
// single probe is stamped onto every task.
func (p *Pipeline) planTasks(sourcePath string, probe *ProbeResult) []domain.ClipTask {
	count := int(math.Ceil(probe.Duration / p.clipSeconds))
	tasks := make([]domain.ClipTask, 0, count)
	for i := 0; i < count; i++ {
		start := float64(i) * p.clipSeconds
		end := start + p.clipSeconds
		if end > probe.Duration {
			end = probe.Duration
		}
		tasks = append(tasks, domain.ClipTask{
			SourcePath: sourcePath,
			Start:      start,
			End:        end,
			HasAudio:   probe.HasAudio,
		})
	}
	return tasks
}

// runTask extracts one window. Video re-encode and audio extraction are
// independent sub-operations and run concurrently when both are needed; a
// window without audio yields an empty audio path, not a failure.
func (p *Pipeline) runTask(ctx context.Context, task domain.ClipTask) (domain.ClipArtifact, error) {
	base := task.BaseName()
	videoPath := filepath.Join(p.videoDir, base+".mp4")

	audioPath := ""
	var audioErr error
	var wg sync.WaitGroup
	if task.HasAudio {
		audioPath = filepath.Join(p.audioDir, base+".wav")
		wg.Add(1)
		go func() {
			defer wg.Done()
			audioErr = p.transcoder.ExtractAudio(ctx, task, audioPath)
		}()
	}

	videoErr := p.transcoder.ExtractClip(ctx, task, videoPath, p.width, p.height)
	wg.Wait()

	if videoErr != nil {
		return domain.ClipArtifact{}, fmt.Errorf("clip extraction failed: %w", videoErr)
	}
	if audioErr != nil {
		return domain.ClipArtifact{}, fmt.Errorf("audio extraction failed: %w", audioErr)
	}

	return domain.ClipArtifact{
		VideoPath: videoPath,
		AudioPath: audioPath,
		Start:     task.Start,
		End:       task.End,
	}, nil
}
