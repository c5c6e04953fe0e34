package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/chapterdl/internal/domain"
	"github.com/yourusername/chapterdl/pkg/logger"
)

// Collaborators bundles the services the downloader calls for every chapter
type Collaborators struct {
	Chapters domain.ChapterFetcher
	Pages    domain.PageFetcher
	Marker   domain.ChapterMarker
}

// EventPublisher receives queue snapshots. Publish must not block.
type EventPublisher interface {
	Publish(event domain.QueueEvent)
}

// ChapterNotifier sends user facing notifications about finished work
type ChapterNotifier interface {
	NotifyChapterDownloaded(key domain.ChapterKey, name string)
	NotifyChapterFailed(key domain.ChapterKey, reason string)
	NotifyQueueEmpty()
}

// DownloadManager owns the downloader lifecycle for one queue. At most one
// downloader runs at a time.
type DownloadManager struct {
	queue       *DownloadQueue
	collab      Collaborators
	events      EventPublisher
	notifier    ChapterNotifier
	config      *domain.DownloadConfig
	multiLogger *logger.MultiLogger
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	worker       *Downloader
	running      bool
	startPending bool // Start was called while a stopping run drains
	done         chan struct{}
	workerWg     sync.WaitGroup

	trackMu    sync.Mutex
	lastStates map[domain.ChapterKey]domain.DownloadState
}

// NewDownloadManager creates a new download manager
func NewDownloadManager(
	queue *DownloadQueue,
	collab Collaborators,
	events EventPublisher,
	notifier ChapterNotifier,
	config *domain.DownloadConfig,
	multiLogger *logger.MultiLogger,
) *DownloadManager {
	ctx, cancel := context.WithCancel(context.Background())

	log := zap.NewNop()
	if multiLogger != nil {
		log = multiLogger.Download()
	}

	done := make(chan struct{})
	close(done)

	return &DownloadManager{
		queue:       queue,
		collab:      collab,
		events:      events,
		notifier:    notifier,
		config:      config,
		multiLogger: multiLogger,
		logger:      log,
		ctx:         ctx,
		cancel:      cancel,
		done:        done,
		lastStates:  make(map[domain.ChapterKey]domain.DownloadState),
	}
}

// Queue returns the managed queue
func (dm *DownloadManager) Queue() *DownloadQueue {
	return dm.queue
}

// Start starts a downloader run unless one is already running
func (dm *DownloadManager) Start() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.ctx.Err() != nil {
		return fmt.Errorf("download manager shut down")
	}

	if dm.running {
		if dm.worker != nil && dm.worker.StopRequested() {
			dm.startPending = true
		}
		return nil
	}

	dm.startLocked()
	return nil
}

// startLocked spawns a new run. dm.mu must be held.
func (dm *DownloadManager) startLocked() {
	dm.worker = dm.newDownloader()
	dm.running = true
	dm.startPending = false
	dm.done = make(chan struct{})

	dm.logQueueEvent("downloader_started", zap.String("run_id", dm.worker.ID()))

	dm.workerWg.Add(1)
	go dm.runWorker(dm.worker, dm.done)
}

func (dm *DownloadManager) newDownloader() *Downloader {
	return NewDownloader(
		dm.queue,
		dm.collab.Chapters,
		dm.collab.Pages,
		dm.collab.Marker,
		dm.onQueueChanged,
		dm.logger,
	)
}

// runWorker runs downloaders until the queue has no queued chapter left or a
// stop was requested.
func (dm *DownloadManager) runWorker(worker *Downloader, done chan struct{}) {
	defer dm.workerWg.Done()
	// observers waiting on done see the final event and log entries
	defer close(done)

	var stopped bool
	for {
		worker.Run(dm.ctx)

		dm.mu.Lock()
		stopped = worker.StopRequested() || dm.ctx.Err() != nil
		restart := dm.ctx.Err() == nil &&
			(dm.startPending || (!stopped && dm.queue.FirstQueued() != nil))
		if restart {
			worker = dm.newDownloader()
			dm.worker = worker
			dm.startPending = false
			dm.logQueueEvent("downloader_started", zap.String("run_id", worker.ID()))
			dm.mu.Unlock()
			continue
		}

		dm.running = false
		dm.worker = nil
		dm.mu.Unlock()
		break
	}

	if stopped {
		dm.logQueueEvent("downloader_stopped", zap.String("reason", "stop_requested"))
	} else {
		dm.logQueueEvent("queue_empty")
		if dm.notifier != nil {
			go dm.notifier.NotifyQueueEmpty()
		}
	}

	dm.onQueueChanged()
}

// Stop asks the running downloader to stop at its next step boundary. It
// does not wait for the run to end; use Done for that.
func (dm *DownloadManager) Stop() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if !dm.running || dm.worker == nil {
		return domain.ErrNotRunning
	}

	dm.worker.RequestStop()
	dm.startPending = false
	dm.logQueueEvent("downloader_stop_requested", zap.String("run_id", dm.worker.ID()))
	return nil
}

// Shutdown stops the downloader and waits for it to exit. The manager
// cannot be started again afterwards.
func (dm *DownloadManager) Shutdown(ctx context.Context) error {
	dm.mu.Lock()
	if dm.worker != nil {
		dm.worker.RequestStop()
	}
	dm.startPending = false
	dm.cancel()
	dm.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		dm.workerWg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning returns whether a downloader run is active
func (dm *DownloadManager) IsRunning() bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.running
}

// Accepting reports whether the manager can still start runs. It turns
// false once Shutdown was called.
func (dm *DownloadManager) Accepting() bool {
	return dm.ctx.Err() == nil
}

// Done returns a channel closed when the current run ends. When no run is
// active the channel is already closed.
func (dm *DownloadManager) Done() <-chan struct{} {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.done
}

// RetryDownload requeues a failed chapter. Chapters are never retried
// automatically.
func (dm *DownloadManager) RetryDownload(key domain.ChapterKey) error {
	task := dm.queue.Find(key)
	if task == nil {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, key)
	}

	if err := task.Requeue(); err != nil {
		return err
	}

	dm.logQueueEvent("download_requeued", zap.String("chapter", key.String()))
	dm.onQueueChanged()

	if dm.config != nil && dm.config.AutoStart {
		return dm.Start()
	}
	return nil
}

// RemoveDownload removes a chapter that is not being downloaded
func (dm *DownloadManager) RemoveDownload(key domain.ChapterKey) error {
	if err := dm.queue.Remove(key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}

	dm.trackMu.Lock()
	delete(dm.lastStates, key)
	dm.trackMu.Unlock()

	dm.logQueueEvent("download_removed", zap.String("chapter", key.String()))
	dm.onQueueChanged()
	return nil
}

// onQueueChanged is the notifier handed to every downloader. It publishes a
// snapshot and reports state transitions.
func (dm *DownloadManager) onQueueChanged() {
	snapshots := dm.queue.Snapshot()

	if dm.events != nil {
		dm.events.Publish(domain.QueueEvent{
			Running:   dm.IsRunning(),
			Stats:     dm.queue.Stats(),
			Queue:     snapshots,
			Timestamp: time.Now(),
		})
	}

	dm.trackTransitions(snapshots)
}

// trackTransitions logs every state change since the previous snapshot
func (dm *DownloadManager) trackTransitions(snapshots []domain.DownloadSnapshot) {
	dm.trackMu.Lock()
	defer dm.trackMu.Unlock()

	for _, snap := range snapshots {
		key := snap.Key()
		previous, seen := dm.lastStates[key]
		if seen && previous == snap.State {
			continue
		}
		dm.lastStates[key] = snap.State
		if !seen && snap.State == domain.StateQueued {
			continue
		}

		switch snap.State {
		case domain.StateDownloading:
			dm.logQueueEvent("download_started", zap.String("chapter", key.String()))
		case domain.StateQueued:
			dm.logQueueEvent("download_requeued", zap.String("chapter", key.String()))
		case domain.StateFinished:
			dm.logQueueEvent("download_completed",
				zap.String("chapter", key.String()),
				zap.Float64("progress", snap.Progress))
			if dm.notifier != nil {
				name := key.String()
				if snap.Chapter != nil && snap.Chapter.Name != "" {
					name = snap.Chapter.Name
				}
				go dm.notifier.NotifyChapterDownloaded(key, name)
			}
		case domain.StateError:
			dm.logQueueEvent("download_failed",
				zap.String("chapter", key.String()),
				zap.String("error", snap.Error))
			if dm.multiLogger != nil {
				dm.multiLogger.LogAppError("Chapter download failed",
					zap.String("chapter", key.String()),
					zap.Error(errors.New(snap.Error)))
			}
			if dm.notifier != nil {
				go dm.notifier.NotifyChapterFailed(key, snap.Error)
			}
		}
	}
}

func (dm *DownloadManager) logQueueEvent(event string, fields ...zap.Field) {
	if dm.multiLogger != nil {
		dm.multiLogger.LogQueueEvent(event, fields...)
	}
}
