package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/chapterdl/internal/app"
	"github.com/yourusername/chapterdl/internal/domain"
	"go.uber.org/zap"
)

// DownloadHandler handles download-related HTTP requests
type DownloadHandler struct {
	queueMgr    *app.QueueManager
	downloadMgr *app.DownloadManager
	logger      *zap.Logger
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(queueMgr *app.QueueManager, downloadMgr *app.DownloadManager, logger *zap.Logger) *DownloadHandler {
	return &DownloadHandler{
		queueMgr:    queueMgr,
		downloadMgr: downloadMgr,
		logger:      logger,
	}
}

// AddDownloadRequest represents a request to queue a chapter
type AddDownloadRequest struct {
	MangaID      *int `json:"manga_id" binding:"required"`
	ChapterIndex *int `json:"chapter_index" binding:"required"`
}

// AddDownload handles POST /api/v1/downloads
func (h *DownloadHandler) AddDownload(c *gin.Context) {
	var req AddDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	download, err := h.queueMgr.AddDownload(*req.MangaID, *req.ChapterIndex)
	if err != nil {
		h.respondError(c, "Failed to add download", err)
		return
	}

	c.JSON(http.StatusCreated, download)
}

// GetDownload handles GET /api/v1/downloads/:manga/:chapter
func (h *DownloadHandler) GetDownload(c *gin.Context) {
	key, ok := chapterKeyParam(c)
	if !ok {
		return
	}

	download, err := h.queueMgr.GetDownload(key)
	if err != nil {
		h.respondError(c, "Failed to get download", err)
		return
	}

	c.JSON(http.StatusOK, download)
}

// ListDownloads handles GET /api/v1/downloads
func (h *DownloadHandler) ListDownloads(c *gin.Context) {
	state := domain.DownloadState(c.Query("state"))
	if state != "" && !domain.ValidateState(state) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state"})
		return
	}

	c.JSON(http.StatusOK, h.queueMgr.ListDownloads(state))
}

// GetStats handles GET /api/v1/downloads/stats
func (h *DownloadHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.queueMgr.GetStats())
}

// RetryDownload handles POST /api/v1/downloads/:manga/:chapter/retry
func (h *DownloadHandler) RetryDownload(c *gin.Context) {
	key, ok := chapterKeyParam(c)
	if !ok {
		return
	}

	if err := h.downloadMgr.RetryDownload(key); err != nil {
		h.respondError(c, "Failed to retry download", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "download queued for retry"})
}

// DeleteDownload handles DELETE /api/v1/downloads/:manga/:chapter
func (h *DownloadHandler) DeleteDownload(c *gin.Context) {
	key, ok := chapterKeyParam(c)
	if !ok {
		return
	}

	if err := h.downloadMgr.RemoveDownload(key); err != nil {
		h.respondError(c, "Failed to delete download", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "download deleted"})
}

// ClearFinished handles DELETE /api/v1/downloads/finished
func (h *DownloadHandler) ClearFinished(c *gin.Context) {
	removed := h.queueMgr.ClearFinished()
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// StartDownloader handles POST /api/v1/downloader/start
func (h *DownloadHandler) StartDownloader(c *gin.Context) {
	if err := h.downloadMgr.Start(); err != nil {
		h.respondError(c, "Failed to start downloader", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"running": h.downloadMgr.IsRunning()})
}

// StopDownloader handles POST /api/v1/downloader/stop
func (h *DownloadHandler) StopDownloader(c *gin.Context) {
	if err := h.downloadMgr.Stop(); err != nil {
		h.respondError(c, "Failed to stop downloader", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "stop requested"})
}

func (h *DownloadHandler) respondError(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidChapter):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTaskActive),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrNotRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// chapterKeyParam parses the :manga and :chapter path parameters. It writes
// a 400 response and returns false when they are not valid ids.
func chapterKeyParam(c *gin.Context) (domain.ChapterKey, bool) {
	mangaID, err := strconv.Atoi(c.Param("manga"))
	if err != nil || mangaID < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid manga id"})
		return domain.ChapterKey{}, false
	}

	chapterIndex, err := strconv.Atoi(c.Param("chapter"))
	if err != nil || chapterIndex < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chapter index"})
		return domain.ChapterKey{}, false
	}

	return domain.ChapterKey{MangaID: mangaID, ChapterIndex: chapterIndex}, true
}
