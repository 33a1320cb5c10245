package media

import (
	"context"
	"fmt"
	"image"
	"image/color/palette"
	"image/gif"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"golang.org/x/image/draw"

	"github.com/andrei/vidseek/internal/domain"
	"github.com/andrei/vidseek/internal/logger"
)

// previewPalette is the quantization palette for encoded frames.
var previewPalette = palette.Plan9

// PreviewConfig holds GIF preview settings.
type PreviewConfig struct {
	BaseDir    string
	FPS        int
	Width      int
	MaxSeconds float64
}

// Previewer renders short animated GIF previews for retrieved clips. Frames
// are extracted with ffmpeg, then downscaled and assembled in-process.
type Previewer struct {
	transcoder *FFmpegTranscoder
	logger     *logger.Logger

	gifDir     string
	fps        int
	width      int
	maxSeconds float64
}

// PreviewInfo describes one generated preview alongside the clip it was cut
// from.
type PreviewInfo struct {
	GIFPath      string  `json:"gif_path"`
	OriginalClip string  `json:"original_clip"`
	StartTime    float64 `json:"start_time"`
	EndTime      float64 `json:"end_time"`
	Score        float32 `json:"score"`
	Description  string  `json:"visual_description"`
	Transcript   string  `json:"transcript"`
}

// NewPreviewer creates a previewer writing GIFs under cfg.BaseDir/gifs.
func NewPreviewer(transcoder *FFmpegTranscoder, log *logger.Logger, cfg *PreviewConfig) (*Previewer, error) {
	gifDir := filepath.Join(cfg.BaseDir, "gifs")
	if err := os.MkdirAll(gifDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create gif directory: %w", err)
	}

	fps := cfg.FPS
	if fps <= 0 {
		fps = 10
	}
	width := cfg.Width
	if width <= 0 {
		width = 320
	}
	maxSeconds := cfg.MaxSeconds
	if maxSeconds <= 0 {
		maxSeconds = 10
	}

	return &Previewer{
		transcoder: transcoder,
		logger:     log,
		gifDir:     gifDir,
		fps:        fps,
		width:      width,
		maxSeconds: maxSeconds,
	}, nil
}

func (p *Previewer) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return p.logger
}

// CreateFromResults renders previews for up to maxGIFs of the given ranked
// results. Results whose clip file is missing, and results whose preview
// fails to render, are skipped with a log line.
func (p *Previewer) CreateFromResults(ctx context.Context, results []domain.ScoredClip, maxGIFs int) []PreviewInfo {
	if maxGIFs <= 0 {
		maxGIFs = 3
	}
	if len(results) > maxGIFs {
		results = results[:maxGIFs]
	}

	previews := make([]PreviewInfo, 0, len(results))
	for i, r := range results {
		clipPath := r.Metadata.ClipPath
		if _, err := os.Stat(clipPath); err != nil {
			p.log(ctx).WithField(logger.FieldClipPath, clipPath).Warn("Preview skipped, clip file missing")
			continue
		}

		name := fmt.Sprintf("result_%d_score_%.3f", i+1, r.Score)
		duration := r.Metadata.EndTime - r.Metadata.StartTime
		gifPath, err := p.Create(ctx, clipPath, 0, duration, name)
		if err != nil {
			p.log(ctx).WithField(logger.FieldClipPath, clipPath).WithError(err).Error("Preview generation failed")
			continue
		}

		previews = append(previews, PreviewInfo{
			GIFPath:      gifPath,
			OriginalClip: clipPath,
			StartTime:    r.Metadata.StartTime,
			EndTime:      r.Metadata.EndTime,
			Score:        r.Score,
			Description:  r.Metadata.Description,
			Transcript:   r.Metadata.Transcript,
		})
	}
	return previews
}

// Create renders one GIF from [start, end) of the clip at clipPath, capped
// at the configured maximum duration, and returns the GIF path.
func (p *Previewer) Create(ctx context.Context, clipPath string, start, end float64, name string) (string, error) {
	duration := end - start
	if duration > p.maxSeconds {
		duration = p.maxSeconds
	}
	if duration <= 0 {
		return "", fmt.Errorf("invalid preview duration %.2f", duration)
	}

	frameDir, err := os.MkdirTemp("", "vidseek-frames-")
	if err != nil {
		return "", fmt.Errorf("failed to create frame directory: %w", err)
	}
	defer os.RemoveAll(frameDir)

	if err := p.extractFrames(ctx, clipPath, start, duration, frameDir); err != nil {
		return "", err
	}

	frames, err := p.loadFrames(frameDir)
	if err != nil {
		return "", err
	}
	if len(frames) == 0 {
		return "", fmt.Errorf("no frames extracted from %s", clipPath)
	}

	gifPath := filepath.Join(p.gifDir, name+".gif")
	if err := p.encodeGIF(frames, gifPath); err != nil {
		return "", err
	}
	return gifPath, nil
}

func (p *Previewer) extractFrames(ctx context.Context, clipPath string, start, duration float64, frameDir string) error {
	args := []string{
		"-y",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(duration),
		"-i", clipPath,
		"-vf", "fps=" + strconv.Itoa(p.fps),
		"-q:v", "4",
		filepath.Join(frameDir, "frame_%04d.jpg"),
	}
	if err := p.transcoder.run(ctx, args); err != nil {
		return fmt.Errorf("frame extraction failed: %w", err)
	}
	return nil
}

// loadFrames decodes the extracted JPEG frames in order and downscales each
// to the configured preview width, preserving aspect ratio.
func (p *Previewer) loadFrames(frameDir string) ([]*image.RGBA, error) {
	entries, err := os.ReadDir(frameDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".jpg" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	frames := make([]*image.RGBA, 0, len(names))
	for _, name := range names {
		f, err := os.Open(filepath.Join(frameDir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to open frame: %w", err)
		}
		src, err := jpeg.Decode(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode frame %s: %w", name, err)
		}

		bounds := src.Bounds()
		height := bounds.Dy() * p.width / bounds.Dx()
		if height < 1 {
			height = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, p.width, height))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)
		frames = append(frames, dst)
	}
	return frames, nil
}

func (p *Previewer) encodeGIF(frames []*image.RGBA, outPath string) error {
	delay := 100 / p.fps // GIF delays are in centiseconds
	if delay < 2 {
		delay = 2
	}

	anim := &gif.GIF{}
	for _, frame := range frames {
		paletted := image.NewPaletted(frame.Bounds(), previewPalette)
		draw.FloydSteinberg.Draw(paletted, frame.Bounds(), frame, image.Point{})
		anim.Image = append(anim.Image, paletted)
		anim.Delay = append(anim.Delay, delay)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create gif: %w", err)
	}
	defer f.Close()
	if err := gif.EncodeAll(f, anim); err != nil {
		return fmt.Errorf("failed to encode gif: %w", err)
	}
	return nil
}

// CleanupOld removes previews older than maxAge, returning how many were
// deleted. Previews are throwaway artifacts regenerated per search.
func (p *Previewer) CleanupOld(maxAge time.Duration) int {
	entries, err := os.ReadDir(p.gifDir)
	if err != nil {
		return 0
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".gif" {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(p.gifDir, e.Name())) == nil {
			removed++
		}
	}
	return removed
}
