package infrastructure

import (
	"context"
	"fmt"

	"github.com/yourusername/chapterdl/internal/domain"
	"go.uber.org/zap"
)

// ChapterService resolves chapters and pages for the downloader. Chapter
// metadata comes from the repository when it already knows the page count;
// pages come from the cache before the source is asked.
type ChapterService struct {
	repo   domain.ChapterRepository
	source *SourceClient
	cache  *PageCache
	logger *zap.Logger
}

// NewChapterService creates a new chapter service
func NewChapterService(repo domain.ChapterRepository, source *SourceClient, cache *PageCache, logger *zap.Logger) *ChapterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChapterService{
		repo:   repo,
		source: source,
		cache:  cache,
		logger: logger,
	}
}

// FetchChapter implements domain.ChapterFetcher
func (s *ChapterService) FetchChapter(ctx context.Context, chapterIndex, mangaID int) (*domain.Chapter, error) {
	existing, err := s.repo.FindChapter(mangaID, chapterIndex)
	if err != nil {
		return nil, fmt.Errorf("load chapter: %w", err)
	}
	if existing != nil && existing.HasPageCount() {
		return existing, nil
	}

	remote, err := s.source.GetChapter(ctx, mangaID, chapterIndex)
	if err != nil {
		return nil, err
	}

	chapter := &domain.Chapter{
		MangaID:      mangaID,
		ChapterIndex: chapterIndex,
		Name:         remote.Name,
		URL:          remote.URL,
		PageCount:    remote.PageCount,
	}
	if err := s.repo.Save(chapter); err != nil {
		return nil, fmt.Errorf("save chapter: %w", err)
	}

	// re-read so the caller sees the stored row, including IsDownloaded
	saved, err := s.repo.FindChapter(mangaID, chapterIndex)
	if err != nil || saved == nil {
		return chapter, nil
	}
	return saved, nil
}

// FetchPageImage implements domain.PageFetcher
func (s *ChapterService) FetchPageImage(ctx context.Context, mangaID, chapterIndex, page int) ([]byte, error) {
	if data, ok, err := s.cache.Get(ctx, mangaID, chapterIndex, page); err != nil {
		s.logger.Warn("Page cache read failed",
			zap.String("key", PageKey(mangaID, chapterIndex, page)),
			zap.Error(err))
	} else if ok {
		return data, nil
	}

	data, err := s.source.GetPage(ctx, mangaID, chapterIndex, page)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Put(ctx, mangaID, chapterIndex, page, data); err != nil {
		s.logger.Warn("Page cache write failed", zap.Error(err))
	}
	return data, nil
}
