package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/andrei/vidseek/internal/domain"
	"github.com/andrei/vidseek/internal/index"
	"github.com/andrei/vidseek/internal/logger"
	"github.com/andrei/vidseek/internal/media"
	"github.com/andrei/vidseek/internal/storage"
)

// PreviewRenderer renders GIF previews for ranked results.
type PreviewRenderer interface {
	CreateFromResults(ctx context.Context, results []domain.ScoredClip, maxGIFs int) []media.PreviewInfo
}

// AnswerGenerator phrases an answer over ranked results.
type AnswerGenerator interface {
	Answer(ctx context.Context, query string, results []domain.ScoredClip) (string, error)
}

// SearchService routes text queries to the vector index and optionally
// decorates results with previews and a generated answer.
type SearchService struct {
	index     *index.Flat
	embedder  Embedder
	storage   storage.ObjectStorage
	previewer PreviewRenderer
	answerer  AnswerGenerator
	logger    *logger.Logger

	defaultTopK int
}

// SearchServiceConfig holds configuration for search service.
type SearchServiceConfig struct {
	DefaultTopK int
}

// NewSearchService creates a new search service. objectStorage, previewer
// and answerer may be nil; results then carry local paths and no extras.
func NewSearchService(
	idx *index.Flat,
	embedder Embedder,
	objectStorage storage.ObjectStorage,
	previewer PreviewRenderer,
	answerer AnswerGenerator,
	log *logger.Logger,
	cfg *SearchServiceConfig,
) *SearchService {
	topK := 5
	if cfg != nil && cfg.DefaultTopK > 0 {
		topK = cfg.DefaultTopK
	}
	return &SearchService{
		index:       idx,
		embedder:    embedder,
		storage:     objectStorage,
		previewer:   previewer,
		answerer:    answerer,
		logger:      log,
		defaultTopK: topK,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *SearchService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// SearchRequest represents a text search request.
type SearchRequest struct {
	Query        string `json:"query" binding:"required"`
	TopK         int    `json:"top_k"`
	WithPreviews bool   `json:"with_previews"`
	WithAnswer   bool   `json:"with_answer"`
}

// SearchResult represents a single ranked clip.
type SearchResult struct {
	ID          int64   `json:"id"`
	URL         string  `json:"url,omitempty"`
	ClipPath    string  `json:"clip_path"`
	SourceVideo string  `json:"source_video"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
	Score       float32 `json:"score"`
	Description string  `json:"description,omitempty"`
	Transcript  string  `json:"transcript,omitempty"`
	PreviewPath string  `json:"preview_path,omitempty"`
}

// SearchResponse represents the search response.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
	Query   string         `json:"query"`
	Answer  string         `json:"answer,omitempty"`
}

// Search embeds the query and ranks clips by inner product. A blank query
// is rejected with domain.ErrEmptyQuery; an embedder that returns no vector
// yields an empty result set without error.
func (s *SearchService) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, domain.ErrEmptyQuery
	}

	topK := req.TopK
	if topK <= 0 {
		topK = s.defaultTopK
	}
	if topK > 100 {
		topK = 100
	}

	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldComponent: "search",
	})

	resp := &SearchResponse{
		Results: []SearchResult{},
		Query:   query,
	}

	if s.index.Len() == 0 {
		logger.CtxInfo(ctx, "Search against empty index: query=%q", query)
		return resp, nil
	}

	logger.CtxInfo(ctx, "Performing search: query=%q, top_k=%d", query, topK)

	embedding, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if domain.IsZeroVector(embedding) {
		logger.CtxWarn(ctx, "Embedder returned no usable vector for query=%q", query)
		return resp, nil
	}

	scored, err := s.index.Search(embedding, topK)
	if err != nil {
		return nil, fmt.Errorf("index search failed: %w", err)
	}

	previewPaths := s.renderPreviews(ctx, req, scored)

	for _, sc := range scored {
		result := SearchResult{
			ID:          sc.Metadata.ID,
			ClipPath:    sc.Metadata.ClipPath,
			SourceVideo: sc.Metadata.SourceVideo,
			StartTime:   sc.Metadata.StartTime,
			EndTime:     sc.Metadata.EndTime,
			Score:       sc.Score,
			Description: sc.Metadata.Description,
			Transcript:  sc.Metadata.Transcript,
			PreviewPath: previewPaths[sc.Metadata.ClipPath],
		}
		if s.storage != nil {
			result.URL = s.storage.GetURL(ClipStorageKey(sc.Metadata.ClipPath))
		}
		resp.Results = append(resp.Results, result)
	}
	resp.Total = len(resp.Results)

	if req.WithAnswer && s.answerer != nil && len(scored) > 0 {
		answer, err := s.answerer.Answer(ctx, query, scored)
		if err != nil {
			// Results without an answer beat no results.
			logger.CtxWarn(ctx, "Answer generation failed: error=%v", err)
		} else {
			resp.Answer = answer
		}
	}

	return resp, nil
}

// renderPreviews renders GIFs when requested, keyed by clip path so results
// can pick up their preview regardless of ordering.
func (s *SearchService) renderPreviews(ctx context.Context, req *SearchRequest, scored []domain.ScoredClip) map[string]string {
	paths := make(map[string]string)
	if !req.WithPreviews || s.previewer == nil || len(scored) == 0 {
		return paths
	}
	for _, info := range s.previewer.CreateFromResults(ctx, scored, len(scored)) {
		paths[info.OriginalClip] = info.GIFPath
	}
	return paths
}
