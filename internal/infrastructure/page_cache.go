package infrastructure

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// PageCache stores downloaded page images in a blob bucket
type PageCache struct {
	bucket *blob.Bucket
}

// OpenPageCache opens the bucket at url, e.g. file:///var/pages or mem://.
// The scheme's driver must be linked into the binary.
func OpenPageCache(ctx context.Context, url string) (*PageCache, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open page bucket: %w", err)
	}
	return NewPageCache(bucket), nil
}

// NewPageCache wraps an already opened bucket
func NewPageCache(bucket *blob.Bucket) *PageCache {
	return &PageCache{bucket: bucket}
}

// PageKey returns the object key of a page image
func PageKey(mangaID, chapterIndex, page int) string {
	return fmt.Sprintf("manga/%d/chapter/%d/%04d", mangaID, chapterIndex, page)
}

// Get returns the cached page. ok is false on a cache miss.
func (c *PageCache) Get(ctx context.Context, mangaID, chapterIndex, page int) (data []byte, ok bool, err error) {
	data, err = c.bucket.ReadAll(ctx, PageKey(mangaID, chapterIndex, page))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read page: %w", err)
	}
	return data, true, nil
}

// Put stores a page image
func (c *PageCache) Put(ctx context.Context, mangaID, chapterIndex, page int, data []byte) error {
	key := PageKey(mangaID, chapterIndex, page)
	if err := c.bucket.WriteAll(ctx, key, data, nil); err != nil {
		return fmt.Errorf("write page %s: %w", key, err)
	}
	return nil
}

// Exists reports whether a page is cached
func (c *PageCache) Exists(ctx context.Context, mangaID, chapterIndex, page int) (bool, error) {
	return c.bucket.Exists(ctx, PageKey(mangaID, chapterIndex, page))
}

// Close closes the underlying bucket
func (c *PageCache) Close() error {
	return c.bucket.Close()
}
