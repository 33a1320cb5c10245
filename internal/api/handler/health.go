package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/andrei/vidseek/internal/index"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	index *index.Flat
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(idx *index.Flat) *HealthHandler {
	return &HealthHandler{index: idx}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"indexed_clips": h.index.Len(),
	})
}
