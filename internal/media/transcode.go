package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/andrei/vidseek/internal/domain"
)

// Transcoder extracts clip and audio windows from a source video. The
// ffmpeg implementation is the default; tests substitute fakes.
type Transcoder interface {
	// ExtractClip re-encodes the task's window to outPath at the given
	// target resolution.
	ExtractClip(ctx context.Context, task domain.ClipTask, outPath string, width, height int) error

	// ExtractAudio writes the task's window as mono 16 kHz PCM to outPath.
	ExtractAudio(ctx context.Context, task domain.ClipTask, outPath string) error
}

// FFmpegTranscoder shells out to ffmpeg. Each call blocks on one external
// process; concurrency is bounded by the pipeline's worker pool, not here.
type FFmpegTranscoder struct {
	// Binary overrides the ffmpeg executable name. Empty means "ffmpeg"
	// resolved via PATH.
	Binary string
}

func (t *FFmpegTranscoder) bin() string {
	if t.Binary != "" {
		return t.Binary
	}
	return "ffmpeg"
}

// ExtractClip re-encodes one window with a fast low-latency preset, scaled
// to the target resolution, with audio stripped.
func (t *FFmpegTranscoder) ExtractClip(ctx context.Context, task domain.ClipTask, outPath string, width, height int) error {
	args := []string{
		"-y",
		"-ss", formatSeconds(task.Start),
		"-to", formatSeconds(task.End),
		"-i", task.SourcePath,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "28",
		"-tune", "fastdecode",
		"-movflags", "+faststart",
		"-vf", fmt.Sprintf("scale=%d:%d,format=yuv420p", width, height),
		"-an",
		outPath,
	}
	return t.run(ctx, args)
}

// ExtractAudio writes one window as mono 16 kHz signed 16-bit PCM.
func (t *FFmpegTranscoder) ExtractAudio(ctx context.Context, task domain.ClipTask, outPath string) error {
	args := []string{
		"-y",
		"-ss", formatSeconds(task.Start),
		"-to", formatSeconds(task.End),
		"-i", task.SourcePath,
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		"-sample_fmt", "s16",
		outPath,
	}
	return t.run(ctx, args)
}

func (t *FFmpegTranscoder) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, t.bin(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %v (%s)", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
