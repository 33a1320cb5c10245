package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ClipTask describes one fixed-length window of a source video to extract.
// Tasks are immutable once planned; End is already clamped to the source
// duration by the planner.
type ClipTask struct {
	// SourcePath is the path to the original video file.
	SourcePath string
	// Start is the window start offset in seconds from the beginning of the source.
	Start float64
	// End is the window end offset in seconds. Always greater than Start.
	End float64
	// HasAudio reports whether the source carries an audio track. Probed once
	// per source and reused across all windows.
	HasAudio bool
}

// BaseName returns the deterministic artifact identity for the task:
// source stem plus start/end to one decimal place. Re-running segmentation
// for the same source overwrites clip files instead of duplicating them.
func (t ClipTask) BaseName() string {
	stem := strings.TrimSuffix(filepath.Base(t.SourcePath), filepath.Ext(t.SourcePath))
	return fmt.Sprintf("%s_%.1f_%.1f", stem, t.Start, t.End)
}

// ClipArtifact is the output of one successfully completed ClipTask.
type ClipArtifact struct {
	// VideoPath is the path of the re-encoded clip file.
	VideoPath string
	// AudioPath is the path of the extracted mono PCM audio for the same
	// window, or empty when the source has no audio track.
	AudioPath string
	// Start and End are the window offsets in seconds, carried through so
	// the orchestrator can stamp them onto the clip metadata.
	Start float64
	End   float64
}
