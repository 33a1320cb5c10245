package domain

import "errors"

// Orchestration-level errors surfaced to callers. Per-clip and per-embedding
// failures are absorbed and logged instead; the worst case for a bad input
// file is zero results, never a crash.
var (
	// ErrUnsupportedFormat is returned before any pipeline work when the
	// source extension is not in the supported set.
	ErrUnsupportedFormat = errors.New("unsupported video format")

	// ErrNoClipsProduced is returned when segmentation yields zero artifacts.
	ErrNoClipsProduced = errors.New("no clips produced")

	// ErrNoUsableClips is returned when every produced clip was discarded
	// before insertion (missing or all-zero embeddings).
	ErrNoUsableClips = errors.New("no usable clips")

	// ErrPersistenceFailed is returned when the index snapshot could not be
	// written after successful in-memory inserts. The in-memory index keeps
	// the new entries; durable state is behind until the next save succeeds.
	ErrPersistenceFailed = errors.New("index persistence failed")

	// ErrEmptyQuery is returned for blank query text before the embedder is
	// consulted.
	ErrEmptyQuery = errors.New("empty query")
)
