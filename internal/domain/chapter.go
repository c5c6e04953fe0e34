package domain

import (
	"time"
)

// Chapter represents a manga chapter as stored in the chapters table
type Chapter struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	MangaID      int       `json:"manga_id" gorm:"not null;uniqueIndex:idx_manga_chapter"`
	ChapterIndex int       `json:"chapter_index" gorm:"not null;uniqueIndex:idx_manga_chapter"`
	Name         string    `json:"name"`
	URL          string    `json:"url,omitempty"`
	PageCount    *int      `json:"page_count,omitempty"` // nil until the source reported it
	IsDownloaded bool      `json:"is_downloaded" gorm:"default:false;index"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (Chapter) TableName() string {
	return "chapters"
}

// Key returns the (manga, chapter) identity of the chapter
func (c *Chapter) Key() ChapterKey {
	return ChapterKey{MangaID: c.MangaID, ChapterIndex: c.ChapterIndex}
}

// HasPageCount reports whether the page count is known
func (c *Chapter) HasPageCount() bool {
	return c.PageCount != nil && *c.PageCount >= 0
}

// PageCountOf returns a pointer to n, for building chapters in code
func PageCountOf(n int) *int {
	return &n
}
