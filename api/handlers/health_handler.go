package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/chapterdl/internal/app"
	"github.com/yourusername/chapterdl/internal/domain"
)

// Version is reported by the health endpoint
var Version = "1.0.0"

// HealthHandler handles health check requests
type HealthHandler struct {
	queueMgr    *app.QueueManager
	downloadMgr *app.DownloadManager
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(queueMgr *app.QueueManager, downloadMgr *app.DownloadManager) *HealthHandler {
	return &HealthHandler{
		queueMgr:    queueMgr,
		downloadMgr: downloadMgr,
	}
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Queue   struct {
		Running bool                 `json:"running"`
		Stats   domain.DownloadStats `json:"stats"`
	} `json:"queue"`
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	response := HealthResponse{
		Status:  "ok",
		Version: Version,
	}
	response.Queue.Running = h.queueMgr.IsRunning()
	response.Queue.Stats = h.queueMgr.GetStats()

	c.JSON(http.StatusOK, response)
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if !h.downloadMgr.Accepting() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "download manager shut down",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
