package domain

import (
	"fmt"
	"sync"
	"time"
)

// DownloadState represents the current state of a chapter download
type DownloadState string

const (
	StateQueued      DownloadState = "queued"
	StateDownloading DownloadState = "downloading"
	StateFinished    DownloadState = "finished"
	StateError       DownloadState = "error"
)

// ChapterKey identifies a download task
type ChapterKey struct {
	MangaID      int `json:"manga_id"`
	ChapterIndex int `json:"chapter_index"`
}

func (k ChapterKey) String() string {
	return fmt.Sprintf("%d/%d", k.MangaID, k.ChapterIndex)
}

// DownloadChapter is one chapter's download task. All fields are guarded by
// mu; callers outside the worker read it through Snapshot.
type DownloadChapter struct {
	mu sync.RWMutex

	mangaID      int
	chapterIndex int
	state        DownloadState
	progress     float64
	chapter      *Chapter
	errMessage   string
	createdAt    time.Time
	updatedAt    time.Time
}

// DownloadSnapshot is a consistent copy of a DownloadChapter
type DownloadSnapshot struct {
	MangaID      int           `json:"manga_id"`
	ChapterIndex int           `json:"chapter_index"`
	State        DownloadState `json:"state"`
	Progress     float64       `json:"progress"`
	Chapter      *Chapter      `json:"chapter,omitempty"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Key returns the identity of the snapshot
func (s DownloadSnapshot) Key() ChapterKey {
	return ChapterKey{MangaID: s.MangaID, ChapterIndex: s.ChapterIndex}
}

// NewDownloadChapter creates a new queued download task
func NewDownloadChapter(mangaID, chapterIndex int) *DownloadChapter {
	now := time.Now()
	return &DownloadChapter{
		mangaID:      mangaID,
		chapterIndex: chapterIndex,
		state:        StateQueued,
		createdAt:    now,
		updatedAt:    now,
	}
}

// Key returns the (manga, chapter) identity of the task
func (d *DownloadChapter) Key() ChapterKey {
	return ChapterKey{MangaID: d.mangaID, ChapterIndex: d.chapterIndex}
}

// MangaID returns the parent manga id
func (d *DownloadChapter) MangaID() int { return d.mangaID }

// ChapterIndex returns the chapter index within the manga
func (d *DownloadChapter) ChapterIndex() int { return d.chapterIndex }

// State returns the current state
func (d *DownloadChapter) State() DownloadState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Progress returns the current progress in [0, 1]
func (d *DownloadChapter) Progress() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.progress
}

// Chapter returns the chapter metadata, nil until fetched
func (d *DownloadChapter) Chapter() *Chapter {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.chapter
}

// Snapshot returns a consistent copy of the task
func (d *DownloadChapter) Snapshot() DownloadSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var chapter *Chapter
	if d.chapter != nil {
		c := *d.chapter
		chapter = &c
	}

	return DownloadSnapshot{
		MangaID:      d.mangaID,
		ChapterIndex: d.chapterIndex,
		State:        d.state,
		Progress:     d.progress,
		Chapter:      chapter,
		Error:        d.errMessage,
		CreatedAt:    d.createdAt,
		UpdatedAt:    d.updatedAt,
	}
}

// MarkDownloading moves the task into the downloading state. Progress starts
// over for every attempt.
func (d *DownloadChapter) MarkDownloading() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateDownloading
	d.progress = 0
	d.errMessage = ""
	d.updatedAt = time.Now()
}

// Claim moves a queued task into the downloading state, like
// MarkDownloading. It reports false and changes nothing when the task is not
// queued.
func (d *DownloadChapter) Claim() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateQueued {
		return false
	}
	d.state = StateDownloading
	d.progress = 0
	d.errMessage = ""
	d.updatedAt = time.Now()
	return true
}

// SetChapter stores the fetched chapter metadata
func (d *DownloadChapter) SetChapter(chapter *Chapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chapter = chapter
	d.updatedAt = time.Now()
}

// SetProgress updates the progress. Values below the current progress are
// ignored.
func (d *DownloadChapter) SetProgress(progress float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if progress < d.progress {
		return
	}
	if progress > 1 {
		progress = 1
	}
	d.progress = progress
	d.updatedAt = time.Now()
}

// MarkFinished marks the task as finished and pins progress at 1
func (d *DownloadChapter) MarkFinished() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateFinished
	d.progress = 1
	d.updatedAt = time.Now()
}

// MarkFailed marks the task as failed
func (d *DownloadChapter) MarkFailed(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateError
	if err != nil {
		d.errMessage = err.Error()
	}
	d.updatedAt = time.Now()
}

// Requeue resets an errored task so the worker picks it up again
func (d *DownloadChapter) Requeue() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateError {
		return fmt.Errorf("%w: cannot requeue %s task", ErrInvalidTransition, d.state)
	}
	d.state = StateQueued
	d.progress = 0
	d.errMessage = ""
	d.updatedAt = time.Now()
	return nil
}

// Transition atomically moves the task from one state to another. It
// reports whether the task was in the from state.
func (d *DownloadChapter) Transition(from, to DownloadState, cause error) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != from {
		return false
	}
	d.state = to
	if cause != nil {
		d.errMessage = cause.Error()
	}
	d.updatedAt = time.Now()
	return true
}

// IsQueued checks if the task waits for the worker
func (d *DownloadChapter) IsQueued() bool {
	return d.State() == StateQueued
}

// IsDownloading checks if the worker is processing the task
func (d *DownloadChapter) IsDownloading() bool {
	return d.State() == StateDownloading
}

// ValidateState checks if a state is valid
func ValidateState(state DownloadState) bool {
	switch state {
	case StateQueued, StateDownloading, StateFinished, StateError:
		return true
	}
	return false
}
