package index

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/andrei/vidseek/internal/domain"
)

func populatedIndex(t *testing.T) *Flat {
	t.Helper()
	x, err := NewFlat(4)
	if err != nil {
		t.Fatalf("NewFlat: %v", err)
	}
	vectors := [][]float32{
		{1, 0, 0, 0},
		{0.5, 0.5, 0, 0},
		{-0.3, 1.1, 0.2, 0.9},
	}
	for i, v := range vectors {
		meta := domain.ClipMetadata{
			SourceVideo: "lecture.mp4",
			ClipPath:    "/clips/lecture_" + strconv.Itoa(i) + ".mp4",
			AudioPath:   "/audio/lecture_" + strconv.Itoa(i) + ".wav",
			StartTime:   float64(i) * 30,
			EndTime:     float64(i)*30 + 30,
			Transcript:  "spoken words",
			Description: "a scene",
		}
		if _, err := x.Insert(v, meta); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	return x
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "video_index")

	orig := populatedIndex(t)
	if err := orig.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Dimension() != orig.Dimension() {
		t.Errorf("dimension: got %d, want %d", loaded.Dimension(), orig.Dimension())
	}
	if loaded.Len() != orig.Len() {
		t.Errorf("len: got %d, want %d", loaded.Len(), orig.Len())
	}
	if loaded.NextID() != orig.NextID() {
		t.Errorf("next id: got %d, want %d", loaded.NextID(), orig.NextID())
	}

	// Search results must be identical for any query.
	queries := [][]float32{
		{1, 0, 0, 0},
		{0.2, -0.4, 0.8, 0.1},
		{0, 0, 0, 1},
	}
	for qi, q := range queries {
		want, err := orig.Search(q, 10)
		if err != nil {
			t.Fatalf("orig Search %d: %v", qi, err)
		}
		got, err := loaded.Search(q, 10)
		if err != nil {
			t.Fatalf("loaded Search %d: %v", qi, err)
		}
		if len(got) != len(want) {
			t.Fatalf("query %d: got %d results, want %d", qi, len(got), len(want))
		}
		for i := range want {
			if got[i].Score != want[i].Score {
				t.Errorf("query %d result %d: score %v, want %v", qi, i, got[i].Score, want[i].Score)
			}
			if got[i].Metadata != want[i].Metadata {
				t.Errorf("query %d result %d: metadata %+v, want %+v", qi, i, got[i].Metadata, want[i].Metadata)
			}
		}
	}

	// Insertion after load keeps assigning fresh ids.
	id, err := loaded.Insert([]float32{0, 1, 0, 0}, domain.ClipMetadata{SourceVideo: "lecture.mp4"})
	if err != nil {
		t.Fatalf("Insert after load: %v", err)
	}
	if id != 3 {
		t.Errorf("id after load: got %d, want 3", id)
	}
}

func TestSaveWritesBothArtifacts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap", "video_index")

	x := populatedIndex(t)
	if err := x.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	for _, p := range []string{path + vectorSuffix, path + metadataSuffix} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing snapshot artifact %s: %v", p, err)
		}
	}
	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("stale temp file %s", e.Name())
		}
	}
}

func TestLoadMissingArtifactFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "video_index")

	x := populatedIndex(t)
	if err := x.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := os.Remove(path + metadataSuffix); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load with missing metadata should fail")
	}

	// Restore metadata, drop the vector blob instead.
	if err := x.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := os.Remove(path + vectorSuffix); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load with missing vector blob should fail")
	}
}

func TestLoadDetectsEntryCountMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "video_index")

	x := populatedIndex(t)
	if err := x.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Drop one metadata entry so the counts disagree.
	data, err := os.ReadFile(path + metadataSuffix)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var mf metadataFile
	if err := json.Unmarshal(data, &mf); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	delete(mf.Entries, "1")
	data, _ = json.Marshal(&mf)
	if err := os.WriteFile(path+metadataSuffix, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path); !errors.Is(err, ErrIndexCorrupt) {
		t.Errorf("Load with mismatched counts: got %v, want ErrIndexCorrupt", err)
	}
}

func TestLoadDetectsIDMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "video_index")

	x := populatedIndex(t)
	if err := x.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Rekey one metadata entry to an id the vector blob does not contain.
	data, err := os.ReadFile(path + metadataSuffix)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var mf metadataFile
	if err := json.Unmarshal(data, &mf); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	entry := mf.Entries["2"]
	delete(mf.Entries, "2")
	mf.Entries["99"] = entry
	data, _ = json.Marshal(&mf)
	if err := os.WriteFile(path+metadataSuffix, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path); !errors.Is(err, ErrIndexCorrupt) {
		t.Errorf("Load with rekeyed metadata: got %v, want ErrIndexCorrupt", err)
	}
}

func TestLoadDetectsTruncatedBlob(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "video_index")

	x := populatedIndex(t)
	if err := x.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path + vectorSuffix)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if err := os.WriteFile(path+vectorSuffix, data[:len(data)-7], 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path); !errors.Is(err, ErrIndexCorrupt) {
		t.Errorf("Load with truncated blob: got %v, want ErrIndexCorrupt", err)
	}
}

func TestLoadRejectsOversizedHeaderCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "video_index")

	x := populatedIndex(t)
	if err := x.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Rewrite the entry count in the blob header to a value the file
	// cannot possibly hold. Load must reject it instead of trying to
	// allocate for it. Header layout: magic, version, dimension, count.
	data, err := os.ReadFile(path + vectorSuffix)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	countOffset := len(blobMagic) + 4 + 4
	binary.LittleEndian.PutUint64(data[countOffset:], 1<<60)
	if err := os.WriteFile(path+vectorSuffix, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path); !errors.Is(err, ErrIndexCorrupt) {
		t.Errorf("Load with oversized count: got %v, want ErrIndexCorrupt", err)
	}

	// A count that merely disagrees with the payload size is just as bad.
	binary.LittleEndian.PutUint64(data[countOffset:], uint64(x.Len()-1))
	if err := os.WriteFile(path+vectorSuffix, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrIndexCorrupt) {
		t.Errorf("Load with understated count: got %v, want ErrIndexCorrupt", err)
	}
}

func TestSaveEmptyIndexRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "video_index")

	x, _ := NewFlat(16)
	if err := x.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 0 || loaded.NextID() != 0 || loaded.Dimension() != 16 {
		t.Errorf("empty round trip: len=%d nextID=%d dim=%d", loaded.Len(), loaded.NextID(), loaded.Dimension())
	}
}
