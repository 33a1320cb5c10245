// Package index implements an embedded ID-mapped flat inner-product index
// over unit-norm vectors. Entries are addressed by a monotonically assigned
// integer id; ids are never reused and deletion is not supported. Search is
// exhaustive, which makes recall exact for the stored vectors.
package index

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/andrei/vidseek/internal/domain"
)

var (
	// ErrDimensionMismatch is returned by Insert and Search when the given
	// vector's length differs from the index dimension. State is unchanged.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrIndexCorrupt is returned by Load when the persisted vector blob and
	// metadata sidecar disagree. The documented recovery is to fall back to
	// a fresh empty index.
	ErrIndexCorrupt = errors.New("index corrupt")
)

// Flat is the in-process vector index. All mutation goes through Insert,
// which serializes the id/vector/metadata triad under one lock so concurrent
// searches never observe a partially applied insert.
type Flat struct {
	mu      sync.RWMutex
	dim     int
	nextID  int64
	ids     []int64   // insertion order
	vectors []float32 // row-major, len(ids)*dim, unit-norm rows
	meta    map[int64]domain.ClipMetadata
}

// NewFlat creates an empty index over dim-dimensional vectors. The dimension
// is fixed for the lifetime of the instance.
func NewFlat(dim int) (*Flat, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid index dimension %d", dim)
	}
	return &Flat{
		dim:  dim,
		meta: make(map[int64]domain.ClipMetadata),
	}, nil
}

// Dimension returns the fixed vector dimension of the index.
func (x *Flat) Dimension() int {
	return x.dim
}

// Len returns the number of stored entries.
func (x *Flat) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}

// NextID returns the id that the next successful Insert will assign.
func (x *Flat) NextID() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.nextID
}

// Insert L2-normalizes vec, assigns the next id, and stores the vector and
// metadata as one atomic unit. On any error no state changes. Returns the
// assigned id.
func (x *Flat) Insert(vec []float32, meta domain.ClipMetadata) (int64, error) {
	if len(vec) != x.dim {
		return 0, fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vec), x.dim)
	}
	normalized, err := normalize(vec)
	if err != nil {
		return 0, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	id := x.nextID
	meta.ID = id
	x.ids = append(x.ids, id)
	x.vectors = append(x.vectors, normalized...)
	x.meta[id] = meta
	x.nextID++

	return id, nil
}

// Search L2-normalizes the query and returns the k highest-scoring entries
// by inner product (cosine similarity, since stored vectors are unit-norm),
// descending by score with ties broken by lower id. Fewer than k entries
// returns all of them; an empty index returns an empty slice.
func (x *Flat) Search(query []float32, k int) ([]domain.ScoredClip, error) {
	if len(query) != x.dim {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(query), x.dim)
	}
	if k <= 0 {
		return []domain.ScoredClip{}, nil
	}
	q, err := normalize(query)
	if err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	results := make([]domain.ScoredClip, 0, len(x.ids))
	for i, id := range x.ids {
		row := x.vectors[i*x.dim : (i+1)*x.dim]
		var score float32
		for j, v := range row {
			score += v * q[j]
		}
		results = append(results, domain.ScoredClip{
			Metadata: x.meta[id],
			Score:    score,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Metadata.ID < results[j].Metadata.ID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// normalize returns a unit-norm copy of vec. The zero vector has no
// direction and is rejected; the orchestrator filters those before they can
// reach the index.
func normalize(vec []float32) ([]float32, error) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return nil, errors.New("cannot normalize zero vector")
	}
	out := make([]float32, len(vec))
	inv := float32(1 / norm)
	for i, v := range vec {
		out[i] = v * inv
	}
	return out, nil
}
