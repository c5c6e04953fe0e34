package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/chapterdl/internal/domain"
)

func TestParseChapterArgs(t *testing.T) {
	key, err := parseChapterArgs([]string{"12", "3"})
	require.NoError(t, err)
	assert.Equal(t, domain.ChapterKey{MangaID: 12, ChapterIndex: 3}, key)

	for _, args := range [][]string{{"x", "1"}, {"1", "-2"}, {"-1", "0"}} {
		_, err := parseChapterArgs(args)
		assert.Error(t, err, "%v", args)
	}
}

func TestDownloadPath(t *testing.T) {
	assert.Equal(t, "/api/v1/downloads/7/1", downloadPath(domain.ChapterKey{MangaID: 7, ChapterIndex: 1}))
}
