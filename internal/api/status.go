package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbeck712/troubadour/internal/orchestrator"
)

// StatusHandler exposes the orchestrator's playback state.
type StatusHandler struct {
	orc *orchestrator.Orchestrator
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(orc *orchestrator.Orchestrator) *StatusHandler {
	return &StatusHandler{orc: orc}
}

// Status returns the playback state, the current item, the queue listing and
// the failure count.
func (h *StatusHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.orc.Status())
}

// Failed lists the inputs that failed to play since process start.
func (h *StatusHandler) Failed(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"failed": h.orc.FailedInputs()})
}

// SetupStatusRoutes registers the playback status routes
func SetupStatusRoutes(apiGroup *gin.RouterGroup, orc *orchestrator.Orchestrator) {
	handler := NewStatusHandler(orc)
	apiGroup.GET("/status", handler.Status)
	apiGroup.GET("/status/failed", handler.Failed)
}
