package domain

import (
	"errors"
	"fmt"
)

var (
	// Per-task failures. None of them stops the worker.
	ErrChapterLookupFailed = errors.New("chapter lookup failed")
	ErrPageFetchFailed     = errors.New("page fetch failed")
	ErrMissingPageCount    = errors.New("chapter page count unknown")

	ErrChapterNotFound   = errors.New("chapter not found")
	ErrTaskNotFound      = errors.New("download not found")
	ErrTaskActive        = errors.New("download is in progress")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidChapter    = errors.New("invalid manga id or chapter index")
	ErrNotRunning        = errors.New("downloader not running")
)

// PageFetchError reports the page whose fetch failed
type PageFetchError struct {
	Page int
	Err  error
}

func (e *PageFetchError) Error() string {
	return fmt.Sprintf("%s: page %d: %v", ErrPageFetchFailed, e.Page, e.Err)
}

func (e *PageFetchError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrPageFetchFailed) match any PageFetchError
func (e *PageFetchError) Is(target error) bool {
	return target == ErrPageFetchFailed
}
