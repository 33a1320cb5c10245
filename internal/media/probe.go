package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

// ErrProbeFailed is returned when the source video cannot be probed. Probing
// happens once per source; failure is fatal for that video and yields zero
// segments.
var ErrProbeFailed = errors.New("failed to probe video")

// ProbeResult holds what the pipeline needs from a single probe: total
// duration and whether any audio stream exists.
type ProbeResult struct {
	Duration float64
	HasAudio bool
}

// Prober inspects a source video. The ffprobe implementation is the default;
// tests substitute fakes.
type Prober interface {
	Probe(ctx context.Context, path string) (*ProbeResult, error)
}

// FFprobeProber probes videos by shelling out to ffprobe.
type FFprobeProber struct {
	// Binary overrides the ffprobe executable name. Empty means "ffprobe"
	// resolved via PATH.
	Binary string
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string  `json:"codec_type"`
		Duration  string  `json:"duration"`
	} `json:"streams"`
}

// Probe runs ffprobe once and extracts duration and audio presence.
func (p *FFprobeProber) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	bin := p.Binary
	if bin == "" {
		bin = "ffprobe"
	}

	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v (%s)", ErrProbeFailed, path, err, bytes.TrimSpace(stderr.Bytes()))
	}

	var out ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("%w: %s: invalid ffprobe output: %v", ErrProbeFailed, path, err)
	}

	result := &ProbeResult{}
	if out.Format.Duration != "" {
		d, err := strconv.ParseFloat(out.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: bad duration %q", ErrProbeFailed, path, out.Format.Duration)
		}
		result.Duration = d
	}
	for _, s := range out.Streams {
		if s.CodecType == "audio" {
			result.HasAudio = true
		}
		// Some containers only carry duration on the stream.
		if result.Duration == 0 && s.Duration != "" {
			if d, err := strconv.ParseFloat(s.Duration, 64); err == nil && d > result.Duration {
				result.Duration = d
			}
		}
	}

	if result.Duration <= 0 {
		return nil, fmt.Errorf("%w: %s: no duration reported", ErrProbeFailed, path)
	}
	return result, nil
}
