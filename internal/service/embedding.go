package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/andrei/vidseek/internal/domain"
)

// Embedder produces fixed-dimension multimodal vectors. Both methods may
// return an empty embedding without an error; callers treat that as "no
// vector" and skip the clip (ingestion) or return no results (search).
type Embedder interface {
	// EmbedClip returns the feature record for one clip artifact. audioPath
	// is empty when the source window has no audio track.
	EmbedClip(ctx context.Context, clipPath, audioPath string) (*domain.FeatureRecord, error)

	// EmbedText returns the embedding of a free-text query in the same
	// vector space as clip embeddings.
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingService calls an external multimodal embedding server that fuses
// visual and audio features into a single vector per clip.
type EmbeddingService struct {
	client     *resty.Client
	baseURL    string
	dimensions int
}

// EmbeddingConfig holds configuration for the embedding server client.
type EmbeddingConfig struct {
	BaseURL    string
	APIKey     string
	Dimensions int
	Timeout    time.Duration
}

// NewEmbeddingService creates a new embedding server client.
func NewEmbeddingService(cfg *EmbeddingConfig) *EmbeddingService {
	client := resty.New()
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		// Clip embedding decodes video server-side; give it room.
		timeout = 2 * time.Minute
	}
	client.SetTimeout(timeout)

	return &EmbeddingService{
		client:     client,
		baseURL:    cfg.BaseURL,
		dimensions: cfg.Dimensions,
	}
}

// Dimensions returns the configured vector dimension.
func (s *EmbeddingService) Dimensions() int {
	return s.dimensions
}

// Embedding server request/response structures
type embedTextRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding   []float32 `json:"embedding"`
	StartTime   float64   `json:"start_time"`
	EndTime     float64   `json:"end_time"`
	Transcript  string    `json:"transcript"`
	Description string    `json:"visual_description"`
	Detail      string    `json:"detail,omitempty"`
}

// EmbedClip uploads a clip (and its audio track, when present) and returns
// the fused feature record. The server may answer with an empty or partial
// vector on extraction trouble; fitDimension reshapes whatever comes back so
// the index only ever sees vectors of the configured dimension.
func (s *EmbeddingService) EmbedClip(ctx context.Context, clipPath, audioPath string) (*domain.FeatureRecord, error) {
	var resp embedResponse
	req := s.client.R().
		SetContext(ctx).
		SetFile("video", clipPath).
		SetResult(&resp)
	if audioPath != "" {
		req.SetFile("audio", audioPath)
	}

	httpResp, err := req.Post(s.baseURL + "/embed/clip")
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding server: %w", err)
	}

	if httpResp.StatusCode() != 200 {
		if resp.Detail != "" {
			return nil, fmt.Errorf("embedding server error: %s", resp.Detail)
		}
		return nil, fmt.Errorf("embedding server error: status %d", httpResp.StatusCode())
	}

	return &domain.FeatureRecord{
		Embedding:   s.fitDimension(resp.Embedding),
		StartTime:   resp.StartTime,
		EndTime:     resp.EndTime,
		Transcript:  resp.Transcript,
		Description: resp.Description,
	}, nil
}

// EmbedText embeds a text query into the shared vector space.
func (s *EmbeddingService) EmbedText(ctx context.Context, text string) ([]float32, error) {
	var resp embedResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(embedTextRequest{Text: text}).
		SetResult(&resp).
		Post(s.baseURL + "/embed/text")

	if err != nil {
		return nil, fmt.Errorf("failed to call embedding server: %w", err)
	}

	if httpResp.StatusCode() != 200 {
		if resp.Detail != "" {
			return nil, fmt.Errorf("embedding server error: %s", resp.Detail)
		}
		return nil, fmt.Errorf("embedding server error: status %d", httpResp.StatusCode())
	}

	if len(resp.Embedding) == 0 {
		return nil, nil
	}
	return s.fitDimension(resp.Embedding), nil
}

// fitDimension truncates or zero-pads a vector to the configured dimension.
// An empty input stays empty so callers can tell "no vector" apart from a
// short one.
func (s *EmbeddingService) fitDimension(vec []float32) []float32 {
	if len(vec) == 0 || len(vec) == s.dimensions {
		return vec
	}
	if len(vec) > s.dimensions {
		return vec[:s.dimensions]
	}
	fitted := make([]float32, s.dimensions)
	copy(fitted, vec)
	return fitted
}
