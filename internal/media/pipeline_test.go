package media

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/andrei/vidseek/internal/domain"
)

type fakeProber struct {
	duration float64
	hasAudio bool
	err      error
	calls    int32
}

func (p *fakeProber) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.err != nil {
		return nil, p.err
	}
	return &ProbeResult{Duration: p.duration, HasAudio: p.hasAudio}, nil
}

type fakeTranscoder struct {
	mu         sync.Mutex
	clipCalls  []domain.ClipTask
	audioCalls []domain.ClipTask
	inFlight   int32
	maxSeen    int32

	// failClipAt fails ExtractClip for the window starting at this offset.
	failClipAt float64
	hasFail    bool
}

func (t *fakeTranscoder) ExtractClip(ctx context.Context, task domain.ClipTask, outPath string, width, height int) error {
	cur := atomic.AddInt32(&t.inFlight, 1)
	for {
		max := atomic.LoadInt32(&t.maxSeen)
		if cur <= max || atomic.CompareAndSwapInt32(&t.maxSeen, max, cur) {
			break
		}
	}
	defer atomic.AddInt32(&t.inFlight, -1)

	t.mu.Lock()
	t.clipCalls = append(t.clipCalls, task)
	t.mu.Unlock()

	if t.hasFail && task.Start == t.failClipAt {
		return errors.New("transcode exited with status 1")
	}
	return nil
}

func (t *fakeTranscoder) ExtractAudio(ctx context.Context, task domain.ClipTask, outPath string) error {
	t.mu.Lock()
	t.audioCalls = append(t.audioCalls, task)
	t.mu.Unlock()
	return nil
}

func newTestPipeline(t *testing.T, prober Prober, transcoder Transcoder, workers int) *Pipeline {
	t.Helper()
	p, err := NewPipeline(prober, transcoder, nil, &PipelineConfig{
		BaseDir:     t.TempDir(),
		ClipSeconds: 30,
		Workers:     workers,
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func TestSegmentWindowCoverage(t *testing.T) {
	cases := []struct {
		name     string
		duration float64
		want     [][2]float64
	}{
		{
			name:     "95 seconds",
			duration: 95,
			want:     [][2]float64{{0, 30}, {30, 60}, {60, 90}, {90, 95}},
		},
		{
			name:     "exact multiple",
			duration: 60,
			want:     [][2]float64{{0, 30}, {30, 60}},
		},
		{
			name:     "shorter than one window",
			duration: 12.5,
			want:     [][2]float64{{0, 12.5}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prober := &fakeProber{duration: tc.duration, hasAudio: true}
			transcoder := &fakeTranscoder{}
			p := newTestPipeline(t, prober, transcoder, 2)

			artifacts, err := p.Segment(context.Background(), "/videos/talk.mp4")
			if err != nil {
				t.Fatalf("Segment: %v", err)
			}
			if len(artifacts) != len(tc.want) {
				t.Fatalf("got %d artifacts, want %d", len(artifacts), len(tc.want))
			}

			sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Start < artifacts[j].Start })
			for i, want := range tc.want {
				if artifacts[i].Start != want[0] || artifacts[i].End != want[1] {
					t.Errorf("window %d: got [%v, %v), want [%v, %v)", i, artifacts[i].Start, artifacts[i].End, want[0], want[1])
				}
				if artifacts[i].End-artifacts[i].Start > 30+1e-9 {
					t.Errorf("window %d exceeds 30s", i)
				}
			}
			// Contiguous coverage of [0, duration).
			for i := 1; i < len(artifacts); i++ {
				if artifacts[i].Start != artifacts[i-1].End {
					t.Errorf("gap between windows %d and %d", i-1, i)
				}
			}
			if math.Abs(artifacts[len(artifacts)-1].End-tc.duration) > 1e-9 {
				t.Errorf("last window ends at %v, want %v", artifacts[len(artifacts)-1].End, tc.duration)
			}
		})
	}
}

func TestSegmentProbesOnce(t *testing.T) {
	prober := &fakeProber{duration: 120, hasAudio: true}
	transcoder := &fakeTranscoder{}
	p := newTestPipeline(t, prober, transcoder, 4)

	if _, err := p.Segment(context.Background(), "/videos/talk.mp4"); err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if prober.calls != 1 {
		t.Errorf("probe called %d times, want 1", prober.calls)
	}
	// The single probe's audio flag is reused on every task.
	for _, task := range transcoder.clipCalls {
		if !task.HasAudio {
			t.Error("task missing the probed audio flag")
		}
	}
	if len(transcoder.audioCalls) != len(transcoder.clipCalls) {
		t.Errorf("audio extracted for %d of %d windows", len(transcoder.audioCalls), len(transcoder.clipCalls))
	}
}

func TestSegmentNoAudioTrack(t *testing.T) {
	prober := &fakeProber{duration: 45, hasAudio: false}
	transcoder := &fakeTranscoder{}
	p := newTestPipeline(t, prober, transcoder, 2)

	artifacts, err := p.Segment(context.Background(), "/videos/silent.mp4")
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if len(artifacts) != 2 {
		t.Fatalf("got %d artifacts, want 2", len(artifacts))
	}
	for _, a := range artifacts {
		if a.AudioPath != "" {
			t.Errorf("silent source produced audio path %q", a.AudioPath)
		}
	}
	if len(transcoder.audioCalls) != 0 {
		t.Errorf("audio extraction attempted %d times on silent source", len(transcoder.audioCalls))
	}
}

func TestSegmentProbeFailureIsFatal(t *testing.T) {
	prober := &fakeProber{err: fmt.Errorf("%w: broken container", ErrProbeFailed)}
	transcoder := &fakeTranscoder{}
	p := newTestPipeline(t, prober, transcoder, 2)

	_, err := p.Segment(context.Background(), "/videos/broken.mp4")
	if !errors.Is(err, ErrProbeFailed) {
		t.Errorf("got %v, want ErrProbeFailed", err)
	}
	if len(transcoder.clipCalls) != 0 {
		t.Errorf("tasks ran despite probe failure")
	}
}

func TestSegmentPartialFailureTolerated(t *testing.T) {
	prober := &fakeProber{duration: 95, hasAudio: true}
	transcoder := &fakeTranscoder{failClipAt: 30, hasFail: true}
	p := newTestPipeline(t, prober, transcoder, 4)

	artifacts, err := p.Segment(context.Background(), "/videos/talk.mp4")
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if len(artifacts) != 3 {
		t.Fatalf("got %d artifacts, want 3 (one task failed)", len(artifacts))
	}
	for _, a := range artifacts {
		if a.Start == 30 {
			t.Errorf("failed window produced an artifact: %+v", a)
		}
	}
}

func TestSegmentAllTasksFailed(t *testing.T) {
	prober := &fakeProber{duration: 20, hasAudio: false}
	transcoder := &fakeTranscoder{failClipAt: 0, hasFail: true}
	p := newTestPipeline(t, prober, transcoder, 2)

	artifacts, err := p.Segment(context.Background(), "/videos/talk.mp4")
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if len(artifacts) != 0 {
		t.Errorf("got %d artifacts, want 0", len(artifacts))
	}
}

func TestSegmentBoundsParallelism(t *testing.T) {
	prober := &fakeProber{duration: 600, hasAudio: false} // 20 windows
	transcoder := &fakeTranscoder{}
	p := newTestPipeline(t, prober, transcoder, 3)

	if _, err := p.Segment(context.Background(), "/videos/long.mp4"); err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if transcoder.maxSeen > 3 {
		t.Errorf("observed %d concurrent clip extractions, worker pool is 3", transcoder.maxSeen)
	}
}

func TestArtifactNamesDeterministic(t *testing.T) {
	task := domain.ClipTask{SourcePath: "/videos/My Talk.mp4", Start: 30, End: 60}
	if got, want := task.BaseName(), "My Talk_30.0_60.0"; got != want {
		t.Errorf("BaseName: got %q, want %q", got, want)
	}

	prober := &fakeProber{duration: 35, hasAudio: false}
	transcoder := &fakeTranscoder{}
	p := newTestPipeline(t, prober, transcoder, 1)

	artifacts, err := p.Segment(context.Background(), "/videos/talk.mp4")
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Start < artifacts[j].Start })
	if got := filepath.Base(artifacts[0].VideoPath); got != "talk_0.0_30.0.mp4" {
		t.Errorf("artifact name: got %q", got)
	}
	if got := filepath.Base(artifacts[1].VideoPath); got != "talk_30.0_35.0.mp4" {
		t.Errorf("artifact name: got %q", got)
	}
}
