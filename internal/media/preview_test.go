package media

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andrei/vidseek/internal/logger"
)

func newTestPreviewer(t *testing.T) *Previewer {
	t.Helper()
	p, err := NewPreviewer(&FFmpegTranscoder{}, logger.NewDefault(), &PreviewConfig{
		BaseDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("NewPreviewer: %v", err)
	}
	return p
}

func writeAged(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("GIF89a"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	return path
}

func TestCleanupOldRemovesStalePreviews(t *testing.T) {
	p := newTestPreviewer(t)

	stale1 := writeAged(t, p.gifDir, "result_1_score_0.900.gif", 48*time.Hour)
	stale2 := writeAged(t, p.gifDir, "result_2_score_0.800.gif", 25*time.Hour)
	fresh := writeAged(t, p.gifDir, "result_3_score_0.700.gif", time.Minute)
	notGIF := writeAged(t, p.gifDir, "notes.txt", 48*time.Hour)

	if removed := p.CleanupOld(24 * time.Hour); removed != 2 {
		t.Errorf("CleanupOld: removed %d, want 2", removed)
	}

	for _, path := range []string{stale1, stale2} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("stale preview %s still exists", filepath.Base(path))
		}
	}
	for _, path := range []string{fresh, notGIF} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s should survive cleanup: %v", filepath.Base(path), err)
		}
	}
}

func TestCleanupOldEmptyDir(t *testing.T) {
	p := newTestPreviewer(t)
	if removed := p.CleanupOld(24 * time.Hour); removed != 0 {
		t.Errorf("CleanupOld on empty dir: removed %d, want 0", removed)
	}
}
