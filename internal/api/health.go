// Package api provides the read-only HTTP status surface. The command surface
// lives in the chat layer; nothing here mutates playback state.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbeck712/troubadour/internal/db"
	"github.com/mbeck712/troubadour/internal/sink"
)

// HealthResponse represents the response from the health check endpoint
type HealthResponse struct {
	Status   string                 `json:"status"`
	Database string                 `json:"database"`
	Sink     string                 `json:"sink"`
	Time     string                 `json:"time"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// HealthHandler handles health check requests
type HealthHandler struct {
	db   *db.DB
	sink sink.Sink
}

// NewHealthHandler creates a new health check handler
func NewHealthHandler(database *db.DB, s sink.Sink) *HealthHandler {
	return &HealthHandler{db: database, sink: s}
}

// Check handles the health check endpoint
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:  "ok",
		Time:    time.Now().UTC().Format(time.RFC3339),
		Details: make(map[string]interface{}),
	}

	if err := h.db.Health(ctx); err != nil {
		response.Status = "degraded"
		response.Database = "unhealthy"
		response.Details["database_error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	response.Database = "healthy"

	// A disconnected sink is normal while idle, so it never degrades health
	if h.sink.Connected() {
		response.Sink = "connected"
	} else {
		response.Sink = "disconnected"
	}

	c.JSON(http.StatusOK, response)
}

// SetupHealthRoutes registers health check routes
func SetupHealthRoutes(apiGroup *gin.RouterGroup, database *db.DB, s sink.Sink) {
	handler := NewHealthHandler(database, s)
	apiGroup.GET("/health", handler.Check)
}
