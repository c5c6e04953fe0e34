package app

import (
	"sync"

	"github.com/yourusername/chapterdl/internal/domain"
)

// DownloadQueue is an ordered list of download tasks shared between the
// downloader and the producers that add or remove tasks.
type DownloadQueue struct {
	mu    sync.RWMutex
	tasks []*domain.DownloadChapter
}

// NewDownloadQueue creates an empty download queue
func NewDownloadQueue() *DownloadQueue {
	return &DownloadQueue{tasks: make([]*domain.DownloadChapter, 0)}
}

// Add appends a task to the end of the queue
func (q *DownloadQueue) Add(task *domain.DownloadChapter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
}

// FirstQueued returns the earliest added task that is still queued, without
// removing it. Returns nil when no task is queued.
func (q *DownloadQueue) FirstQueued() *domain.DownloadChapter {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, task := range q.tasks {
		if task.IsQueued() {
			return task
		}
	}
	return nil
}

// ClaimFirstQueued marks the earliest queued task as downloading and returns
// it. Selection and claim happen under the queue lock, so Remove either runs
// before and the task is gone, or after and sees it downloading.
func (q *DownloadQueue) ClaimFirstQueued() *domain.DownloadChapter {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, task := range q.tasks {
		if task.Claim() {
			return task
		}
	}
	return nil
}

// AddUnlessPending adds task unless a queued, downloading or failed task with
// the same key is present, in which case that task is returned and added is
// false. A finished task with the same key is replaced.
func (q *DownloadQueue) AddUnlessPending(task *domain.DownloadChapter) (current *domain.DownloadChapter, added bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := task.Key()
	for i, existing := range q.tasks {
		if existing.Key() != key {
			continue
		}
		if existing.State() != domain.StateFinished {
			return existing, false
		}
		q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
		break
	}

	q.tasks = append(q.tasks, task)
	return task, true
}

// ForEachDownloading applies fn to every task currently downloading
func (q *DownloadQueue) ForEachDownloading(fn func(task *domain.DownloadChapter)) {
	q.mu.RLock()
	downloading := make([]*domain.DownloadChapter, 0, 1)
	for _, task := range q.tasks {
		if task.IsDownloading() {
			downloading = append(downloading, task)
		}
	}
	q.mu.RUnlock()

	for _, task := range downloading {
		fn(task)
	}
}

// Find returns the first task with the given key
func (q *DownloadQueue) Find(key domain.ChapterKey) *domain.DownloadChapter {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, task := range q.tasks {
		if task.Key() == key {
			return task
		}
	}
	return nil
}

// Remove removes the first task with the given key unless it is downloading
func (q *DownloadQueue) Remove(key domain.ChapterKey) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, task := range q.tasks {
		if task.Key() != key {
			continue
		}
		if task.IsDownloading() {
			return domain.ErrTaskActive
		}
		q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
		return nil
	}
	return domain.ErrTaskNotFound
}

// RemoveFinished drops every finished task and returns how many were removed
func (q *DownloadQueue) RemoveFinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.tasks[:0]
	removed := 0
	for _, task := range q.tasks {
		if task.State() == domain.StateFinished {
			removed++
			continue
		}
		kept = append(kept, task)
	}
	// clear the tail so removed tasks can be collected
	for i := len(kept); i < len(q.tasks); i++ {
		q.tasks[i] = nil
	}
	q.tasks = kept
	return removed
}

// Snapshot returns a copy of every task in queue order
func (q *DownloadQueue) Snapshot() []domain.DownloadSnapshot {
	q.mu.RLock()
	defer q.mu.RUnlock()

	snapshots := make([]domain.DownloadSnapshot, len(q.tasks))
	for i, task := range q.tasks {
		snapshots[i] = task.Snapshot()
	}
	return snapshots
}

// Stats counts the tasks per state
func (q *DownloadQueue) Stats() domain.DownloadStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := domain.DownloadStats{Total: int64(len(q.tasks))}
	for _, task := range q.tasks {
		switch task.State() {
		case domain.StateQueued:
			stats.Queued++
		case domain.StateDownloading:
			stats.Downloading++
		case domain.StateFinished:
			stats.Finished++
		case domain.StateError:
			stats.Error++
		}
	}
	return stats
}

// Len returns the number of tasks in the queue
func (q *DownloadQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.tasks)
}
