package app

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourusername/chapterdl/internal/domain"
)

// Downloader is the background worker draining a DownloadQueue. It processes
// one chapter at a time and fetches its pages in ascending order.
//
// A Downloader serves a single run: once Run returns, a new Downloader has to
// be created to process the queue again.
type Downloader struct {
	id       string
	queue    *DownloadQueue
	chapters domain.ChapterFetcher
	pages    domain.PageFetcher
	marker   domain.ChapterMarker
	notify   domain.Notifier
	logger   *zap.Logger

	shouldStop atomic.Bool
}

// NewDownloader creates a downloader for the given queue and collaborators
func NewDownloader(
	queue *DownloadQueue,
	chapters domain.ChapterFetcher,
	pages domain.PageFetcher,
	marker domain.ChapterMarker,
	notify domain.Notifier,
	logger *zap.Logger,
) *Downloader {
	if notify == nil {
		notify = func() {}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	id := uuid.NewString()
	return &Downloader{
		id:       id,
		queue:    queue,
		chapters: chapters,
		pages:    pages,
		marker:   marker,
		notify:   notify,
		logger:   logger.With(zap.String("run_id", id)),
	}
}

// ID returns the run id used in log entries
func (d *Downloader) ID() string {
	return d.id
}

// RequestStop asks the downloader to stop at the next step boundary. A page
// fetch already in flight runs to completion first.
func (d *Downloader) RequestStop() {
	d.shouldStop.Store(true)
}

// StopRequested reports whether RequestStop was called
func (d *Downloader) StopRequested() bool {
	return d.shouldStop.Load()
}

// Run processes queued chapters until none is left or a stop is requested.
// Cancelling ctx has the same effect as RequestStop; in-flight fetches are
// not interrupted by it.
func (d *Downloader) Run(ctx context.Context) {
	fetchCtx := context.WithoutCancel(ctx)

	d.logger.Info("Downloader started")

	for {
		task := d.queue.ClaimFirstQueued()
		if task == nil {
			d.logger.Info("No queued chapters left")
			return
		}

		stopped, err := d.download(ctx, fetchCtx, task)
		switch {
		case stopped:
			d.logger.Info("Downloader was stopped", zap.String("chapter", task.Key().String()))
			d.queue.ForEachDownloading(func(t *domain.DownloadChapter) {
				t.Transition(domain.StateDownloading, domain.StateQueued, nil)
			})
		case err != nil:
			d.logger.Error("Chapter download failed",
				zap.String("chapter", task.Key().String()),
				zap.Error(err))
			d.queue.ForEachDownloading(func(t *domain.DownloadChapter) {
				t.Transition(domain.StateDownloading, domain.StateError, err)
			})
		default:
			d.logger.Info("Chapter downloaded", zap.String("chapter", task.Key().String()))
		}

		d.notify()

		if stopped || d.stopRequested(ctx) {
			return
		}
	}
}

// download drives one claimed task through all its pages. stopped is true
// when a stop was observed at a step boundary; err is a per-task failure.
// If MarkChapterDownloaded fails the task falls back from finished to error.
func (d *Downloader) download(ctx, fetchCtx context.Context, task *domain.DownloadChapter) (stopped bool, err error) {
	mangaID, chapterIndex := task.MangaID(), task.ChapterIndex()

	if !d.step(ctx) {
		return true, nil
	}

	chapter, err := d.chapters.FetchChapter(fetchCtx, chapterIndex, mangaID)
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrChapterLookupFailed, err)
	}
	if chapter == nil {
		return false, fmt.Errorf("%w: chapter %s", domain.ErrChapterLookupFailed, task.Key())
	}
	task.SetChapter(chapter)
	if !d.step(ctx) {
		return true, nil
	}

	if !chapter.HasPageCount() {
		return false, fmt.Errorf("%w: chapter %s", domain.ErrMissingPageCount, task.Key())
	}
	pageCount := *chapter.PageCount

	for page := 0; page < pageCount; page++ {
		if _, err := d.pages.FetchPageImage(fetchCtx, mangaID, chapterIndex, page); err != nil {
			return false, &domain.PageFetchError{Page: page, Err: err}
		}
		task.SetProgress(float64(page+1) / float64(pageCount))
		d.logger.Debug("Page fetched",
			zap.String("chapter", task.Key().String()),
			zap.Int("page", page),
			zap.Int("page_count", pageCount))
		if !d.step(ctx) {
			return true, nil
		}
	}

	task.MarkFinished()
	if err := d.marker.MarkChapterDownloaded(mangaID, chapterIndex); err != nil {
		task.Transition(domain.StateFinished, domain.StateError, err)
		return false, fmt.Errorf("mark chapter downloaded: %w", err)
	}
	if !d.step(ctx) {
		return true, nil
	}

	return false, nil
}

// step notifies observers and reports whether processing may continue
func (d *Downloader) step(ctx context.Context) bool {
	d.notify()
	return !d.stopRequested(ctx)
}

func (d *Downloader) stopRequested(ctx context.Context) bool {
	return d.shouldStop.Load() || ctx.Err() != nil
}
