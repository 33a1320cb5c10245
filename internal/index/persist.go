package index

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/andrei/vidseek/internal/domain"
)

// A snapshot is two co-located artifacts: <path>.index holds the vector blob
// and <path>.json holds the id→metadata mapping plus the next-id counter.
// Both are required to load; either alone is invalid.
const (
	vectorSuffix   = ".index"
	metadataSuffix = ".json"

	blobMagic   = "VIDX"
	blobVersion = uint32(1)
)

type metadataFile struct {
	Dimension int                            `json:"dimension"`
	NextID    int64                          `json:"next_id"`
	Entries   map[string]domain.ClipMetadata `json:"entries"`
}

// Save persists the index as a snapshot at the given base path. Both
// artifacts are written to temporary files and renamed into place, so a
// concurrent Load never sees a half-written snapshot.
func (x *Flat) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	vectorPath := path + vectorSuffix
	metaPath := path + metadataSuffix

	if err := x.writeVectorsLocked(vectorPath + ".tmp"); err != nil {
		return err
	}
	if err := x.writeMetadataLocked(metaPath + ".tmp"); err != nil {
		os.Remove(vectorPath + ".tmp")
		return err
	}

	if err := os.Rename(vectorPath+".tmp", vectorPath); err != nil {
		os.Remove(metaPath + ".tmp")
		return fmt.Errorf("failed to publish vector blob: %w", err)
	}
	if err := os.Rename(metaPath+".tmp", metaPath); err != nil {
		return fmt.Errorf("failed to publish metadata: %w", err)
	}
	return nil
}

func (x *Flat) writeVectorsLocked(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create vector blob: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(blobMagic); err != nil {
		return fmt.Errorf("failed to write vector blob: %w", err)
	}
	for _, v := range []interface{}{
		blobVersion,
		uint32(x.dim),
		uint64(len(x.ids)),
		x.ids,
		x.vectors,
	} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("failed to write vector blob: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush vector blob: %w", err)
	}
	return f.Sync()
}

func (x *Flat) writeMetadataLocked(path string) error {
	mf := metadataFile{
		Dimension: x.dim,
		NextID:    x.nextID,
		Entries:   make(map[string]domain.ClipMetadata, len(x.meta)),
	}
	for id, m := range x.meta {
		mf.Entries[strconv.FormatInt(id, 10)] = m
	}

	data, err := json.Marshal(&mf)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// Load reconstructs an index from a snapshot written by Save. It returns
// ErrIndexCorrupt when the two artifacts are inconsistent: differing entry
// counts or dimensions, or an id present in one but not the other.
func Load(path string) (*Flat, error) {
	dim, ids, vectors, err := readVectors(path + vectorSuffix)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path + metadataSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var mf metadataFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("%w: invalid metadata: %v", ErrIndexCorrupt, err)
	}

	if mf.Dimension != dim {
		return nil, fmt.Errorf("%w: metadata dimension %d, vector blob dimension %d", ErrIndexCorrupt, mf.Dimension, dim)
	}
	if len(mf.Entries) != len(ids) {
		return nil, fmt.Errorf("%w: %d metadata entries, %d vectors", ErrIndexCorrupt, len(mf.Entries), len(ids))
	}

	meta := make(map[int64]domain.ClipMetadata, len(mf.Entries))
	for key, m := range mf.Entries {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid metadata id %q", ErrIndexCorrupt, key)
		}
		m.ID = id
		meta[id] = m
	}
	for _, id := range ids {
		if _, ok := meta[id]; !ok {
			return nil, fmt.Errorf("%w: vector id %d has no metadata", ErrIndexCorrupt, id)
		}
	}

	x := &Flat{
		dim:     dim,
		nextID:  mf.NextID,
		ids:     ids,
		vectors: vectors,
		meta:    meta,
	}
	return x, nil
}

func readVectors(path string) (int, []int64, []float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to open vector blob: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, len(blobMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != blobMagic {
		return 0, nil, nil, fmt.Errorf("%w: bad vector blob header", ErrIndexCorrupt)
	}

	var version, dim uint32
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return 0, nil, nil, fmt.Errorf("%w: truncated vector blob", ErrIndexCorrupt)
	}
	if version != blobVersion {
		return 0, nil, nil, fmt.Errorf("%w: unsupported vector blob version %d", ErrIndexCorrupt, version)
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return 0, nil, nil, fmt.Errorf("%w: truncated vector blob", ErrIndexCorrupt)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return 0, nil, nil, fmt.Errorf("%w: truncated vector blob", ErrIndexCorrupt)
	}
	if dim == 0 {
		return 0, nil, nil, fmt.Errorf("%w: zero dimension in vector blob", ErrIndexCorrupt)
	}

	// The header alone decides the allocation sizes below, so check it
	// against what the file can actually hold before trusting it. Each
	// entry is an 8-byte id plus 4*dim bytes of vector data.
	info, err := f.Stat()
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to stat vector blob: %w", err)
	}
	const headerSize = int64(len(blobMagic) + 4 + 4 + 8)
	entrySize := 8 + 4*int64(dim)
	payload := info.Size() - headerSize
	if payload < 0 || payload%entrySize != 0 || uint64(payload/entrySize) != count {
		return 0, nil, nil, fmt.Errorf("%w: vector blob size does not match header (count %d, dimension %d)", ErrIndexCorrupt, count, dim)
	}

	ids := make([]int64, count)
	if err := binary.Read(r, binary.LittleEndian, ids); err != nil {
		return 0, nil, nil, fmt.Errorf("%w: truncated vector ids", ErrIndexCorrupt)
	}
	vectors := make([]float32, count*uint64(dim))
	if err := binary.Read(r, binary.LittleEndian, vectors); err != nil {
		return 0, nil, nil, fmt.Errorf("%w: truncated vector data", ErrIndexCorrupt)
	}

	return int(dim), ids, vectors, nil
}
