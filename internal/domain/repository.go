package domain

// ChapterMarker records completed chapter downloads
type ChapterMarker interface {
	// MarkChapterDownloaded sets the downloaded flag of a chapter.
	// Calling it again for the same chapter is a no-op
	MarkChapterDownloaded(mangaID, chapterIndex int) error
}

// ChapterRepository defines the interface for chapter persistence
type ChapterRepository interface {
	ChapterMarker

	// Save inserts or updates a chapter identified by (MangaID, ChapterIndex)
	Save(chapter *Chapter) error

	// FindChapter finds a chapter by manga id and chapter index.
	// Returns nil if not found
	FindChapter(mangaID, chapterIndex int) (*Chapter, error)

	// ListByManga lists the chapters of a manga ordered by chapter index
	ListByManga(mangaID int) ([]*Chapter, error)
}

// DownloadStats represents queue statistics
type DownloadStats struct {
	Total       int64 `json:"total"`
	Queued      int64 `json:"queued"`
	Downloading int64 `json:"downloading"`
	Finished    int64 `json:"finished"`
	Error       int64 `json:"error"`
}
