package domain

// ClipMetadata holds everything known about an indexed clip except the
// vector itself. Immutable after insertion; ID is assigned by the index.
type ClipMetadata struct {
	ID          int64   `json:"id"`
	SourceVideo string  `json:"source_video"`
	ClipPath    string  `json:"clip_path"`
	AudioPath   string  `json:"audio_path,omitempty"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
	Transcript  string  `json:"transcript"`
	Description string  `json:"visual_description"`
}

// FeatureRecord is the embedder's output for one clip: a fixed-dimension
// dense vector plus the descriptive fields that end up in clip metadata.
type FeatureRecord struct {
	Embedding   []float32 `json:"embedding"`
	StartTime   float64   `json:"start_time"`
	EndTime     float64   `json:"end_time"`
	Transcript  string    `json:"transcript"`
	Description string    `json:"visual_description"`
}

// IsZero reports whether the embedding is absent or the all-zero vector.
// A zero vector signals an extraction failure and must never reach the
// index, where normalization would divide by a zero norm.
func (r *FeatureRecord) IsZero() bool {
	return IsZeroVector(r.Embedding)
}

// IsZeroVector reports whether vec is empty or all zeros.
func IsZeroVector(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

// ScoredClip is a single search result: clip metadata plus the cosine
// similarity between the query and the stored vector.
type ScoredClip struct {
	Metadata ClipMetadata `json:"metadata"`
	Score    float32      `json:"score"`
}
