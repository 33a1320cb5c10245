package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/andrei/vidseek/internal/domain"
	"github.com/andrei/vidseek/internal/index"
	"github.com/andrei/vidseek/internal/repository"
	"github.com/andrei/vidseek/internal/service"
)

// VideoHandler handles ingestion and catalog endpoints.
type VideoHandler struct {
	ingestService *service.IngestService
	videoRepo     *repository.VideoRepository
	index         *index.Flat
}

// NewVideoHandler creates a new video handler. videoRepo may be nil when the
// catalog database is disabled; list/stats then degrade gracefully.
func NewVideoHandler(ingestService *service.IngestService, videoRepo *repository.VideoRepository, idx *index.Flat) *VideoHandler {
	return &VideoHandler{
		ingestService: ingestService,
		videoRepo:     videoRepo,
		index:         idx,
	}
}

type ingestRequest struct {
	Path string `json:"path" binding:"required"`
}

// Ingest handles POST /api/v1/ingest. Ingestion is synchronous; long videos
// mean long requests, which the CLI avoids by talking to the services
// directly.
func (h *VideoHandler) Ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	result, err := h.ingestService.Ingest(c.Request.Context(), req.Path)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnsupportedFormat):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrNoClipsProduced), errors.Is(err, domain.ErrNoUsableClips):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrPersistenceFailed):
			// Clips are searchable in memory but the snapshot is stale.
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":  err.Error(),
				"result": result,
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Ingestion failed: " + err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListVideos handles GET /api/v1/videos.
func (h *VideoHandler) ListVideos(c *gin.Context) {
	if h.videoRepo == nil {
		c.JSON(http.StatusOK, gin.H{"videos": []domain.Video{}, "total": 0})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	videos, err := h.videoRepo.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list videos: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"videos": videos,
		"total":  len(videos),
		"limit":  limit,
		"offset": offset,
	})
}

// GetStats handles GET /api/v1/stats.
func (h *VideoHandler) GetStats(c *gin.Context) {
	stats := gin.H{
		"index_size":      h.index.Len(),
		"index_dimension": h.index.Dimension(),
	}

	if h.videoRepo != nil {
		catalog, err := h.videoRepo.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to get stats: " + err.Error(),
			})
			return
		}
		stats["total_videos"] = catalog.TotalVideos
		stats["total_clips"] = catalog.TotalClips
		stats["indexed_clips"] = catalog.IndexedClips
	}

	c.JSON(http.StatusOK, stats)
}
