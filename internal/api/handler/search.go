package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/andrei/vidseek/internal/domain"
	"github.com/andrei/vidseek/internal/logger"
	"github.com/andrei/vidseek/internal/service"
)

// SearchHandler handles search endpoints.
type SearchHandler struct {
	searchService *service.SearchService
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(searchService *service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// Search handles POST /api/v1/search.
func (h *SearchHandler) Search(c *gin.Context) {
	var req service.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	h.respond(c, &req)
}

// SearchGet handles GET /api/v1/search for simple queries.
func (h *SearchHandler) SearchGet(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Query parameter 'q' is required",
		})
		return
	}

	req := service.SearchRequest{Query: query}
	if topK := c.Query("top_k"); topK != "" {
		if n, err := strconv.Atoi(topK); err == nil {
			req.TopK = n
		}
	}
	req.WithPreviews = c.Query("previews") == "true"
	req.WithAnswer = c.Query("answer") == "true"

	h.respond(c, &req)
}

func (h *SearchHandler) respond(c *gin.Context, req *service.SearchRequest) {
	result, err := h.searchService.Search(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyQuery) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Query must not be blank"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "Search failed: " + err.Error(),
			"request_id": logger.GetRequestID(c.Request.Context()),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}
