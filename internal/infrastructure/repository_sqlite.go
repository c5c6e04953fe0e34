package infrastructure

import (
	"errors"
	"fmt"

	"github.com/yourusername/chapterdl/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLiteChapterRepository implements ChapterRepository using SQLite
type SQLiteChapterRepository struct {
	db *gorm.DB
}

// NewSQLiteChapterRepository creates a new SQLite repository
func NewSQLiteChapterRepository(dbPath string) (*SQLiteChapterRepository, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&domain.Chapter{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteChapterRepository{db: db}, nil
}

// Save inserts a chapter or updates the row with the same manga id and
// chapter index. The downloaded flag is never cleared by a save.
func (r *SQLiteChapterRepository) Save(chapter *domain.Chapter) error {
	if chapter.MangaID < 0 || chapter.ChapterIndex < 0 {
		return domain.ErrInvalidChapter
	}

	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "manga_id"}, {Name: "chapter_index"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "url", "page_count", "updated_at"}),
	}).Create(chapter).Error
}

// FindChapter finds a chapter by manga id and chapter index.
// Returns nil if not found
func (r *SQLiteChapterRepository) FindChapter(mangaID, chapterIndex int) (*domain.Chapter, error) {
	var chapter domain.Chapter
	err := r.db.Where("manga_id = ? AND chapter_index = ?", mangaID, chapterIndex).First(&chapter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &chapter, nil
}

// ListByManga lists the chapters of a manga ordered by chapter index
func (r *SQLiteChapterRepository) ListByManga(mangaID int) ([]*domain.Chapter, error) {
	var chapters []*domain.Chapter
	err := r.db.Where("manga_id = ?", mangaID).
		Order("chapter_index ASC").
		Find(&chapters).Error
	return chapters, err
}

// MarkChapterDownloaded sets the downloaded flag of a chapter
func (r *SQLiteChapterRepository) MarkChapterDownloaded(mangaID, chapterIndex int) error {
	result := r.db.Model(&domain.Chapter{}).
		Where("manga_id = ? AND chapter_index = ?", mangaID, chapterIndex).
		Update("is_downloaded", true)
	if result.Error != nil {
		return fmt.Errorf("failed to mark chapter downloaded: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// sqlite reports zero affected rows only when nothing matched
	existing, err := r.FindChapter(mangaID, chapterIndex)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: %d/%d", domain.ErrChapterNotFound, mangaID, chapterIndex)
	}
	return nil
}

// Close closes the database connection
func (r *SQLiteChapterRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
