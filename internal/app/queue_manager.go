package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/yourusername/chapterdl/internal/domain"
	"github.com/yourusername/chapterdl/pkg/logger"
)

// QueueManager handles the producer side of the download queue
type QueueManager struct {
	queue       *DownloadQueue
	downloadMgr *DownloadManager
	config      *domain.DownloadConfig
	multiLogger *logger.MultiLogger
}

// NewQueueManager creates a new queue manager
func NewQueueManager(
	downloadMgr *DownloadManager,
	config *domain.DownloadConfig,
	multiLogger *logger.MultiLogger,
) *QueueManager {
	return &QueueManager{
		queue:       downloadMgr.Queue(),
		downloadMgr: downloadMgr,
		config:      config,
		multiLogger: multiLogger,
	}
}

// IsRunning returns whether the downloader is running
func (qm *QueueManager) IsRunning() bool {
	return qm.downloadMgr.IsRunning()
}

// AddDownload queues a chapter. A chapter that is already queued, running or
// failed is returned as is instead of being queued twice; a finished one is
// replaced by a fresh task.
func (qm *QueueManager) AddDownload(mangaID, chapterIndex int) (domain.DownloadSnapshot, error) {
	if mangaID < 0 || chapterIndex < 0 {
		return domain.DownloadSnapshot{}, fmt.Errorf("%w: %d/%d", domain.ErrInvalidChapter, mangaID, chapterIndex)
	}

	key := domain.ChapterKey{MangaID: mangaID, ChapterIndex: chapterIndex}
	download, added := qm.queue.AddUnlessPending(domain.NewDownloadChapter(mangaID, chapterIndex))
	if !added {
		return download.Snapshot(), nil
	}

	if qm.multiLogger != nil {
		qm.multiLogger.LogQueueEvent("download_added",
			zap.String("chapter", key.String()),
			zap.Int("queue_length", qm.queue.Len()))
	}

	qm.downloadMgr.onQueueChanged()

	if qm.config != nil && qm.config.AutoStart {
		if err := qm.downloadMgr.Start(); err != nil {
			return download.Snapshot(), fmt.Errorf("failed to start downloader: %w", err)
		}
	}

	return download.Snapshot(), nil
}

// GetDownload returns the task for a chapter
func (qm *QueueManager) GetDownload(key domain.ChapterKey) (domain.DownloadSnapshot, error) {
	task := qm.queue.Find(key)
	if task == nil {
		return domain.DownloadSnapshot{}, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, key)
	}
	return task.Snapshot(), nil
}

// ListDownloads lists the queue in order, optionally filtered by state
func (qm *QueueManager) ListDownloads(state domain.DownloadState) []domain.DownloadSnapshot {
	snapshots := qm.queue.Snapshot()
	if state == "" {
		return snapshots
	}

	filtered := make([]domain.DownloadSnapshot, 0, len(snapshots))
	for _, snap := range snapshots {
		if snap.State == state {
			filtered = append(filtered, snap)
		}
	}
	return filtered
}

// GetStats returns queue statistics
func (qm *QueueManager) GetStats() domain.DownloadStats {
	return qm.queue.Stats()
}

// ClearFinished removes finished chapters from the queue
func (qm *QueueManager) ClearFinished() int {
	removed := qm.queue.RemoveFinished()
	if removed > 0 {
		if qm.multiLogger != nil {
			qm.multiLogger.LogQueueEvent("finished_cleared", zap.Int("count", removed))
		}
		qm.downloadMgr.onQueueChanged()
	}
	return removed
}
