package domain

import "context"

// ChapterFetcher looks up chapter metadata, including its page count
type ChapterFetcher interface {
	FetchChapter(ctx context.Context, chapterIndex, mangaID int) (*Chapter, error)
}

// PageFetcher retrieves a single page image of a chapter
type PageFetcher interface {
	FetchPageImage(ctx context.Context, mangaID, chapterIndex, page int) ([]byte, error)
}

// Notifier is called after every observable state change of the download
// queue. It must return quickly.
type Notifier func()
