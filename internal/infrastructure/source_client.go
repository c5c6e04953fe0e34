package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Source errors.
var (
	ErrSourceNotFound    = errors.New("source: resource not found")
	ErrSourceServer      = errors.New("source: server error")
	ErrSourceBadResponse = errors.New("source: unexpected response")
)

// SourceOptions configures the source client.
type SourceOptions struct {
	// Timeout for individual requests.
	// Default: 30s
	Timeout time.Duration

	// UserAgent sent with every request.
	UserAgent string

	// MaxPageSize caps the size of a page image body.
	// Default: 32 MiB
	MaxPageSize int64
}

// DefaultSourceOptions returns options with sensible defaults.
func DefaultSourceOptions() SourceOptions {
	return SourceOptions{
		Timeout:     30 * time.Second,
		UserAgent:   "chapterdl/1.0",
		MaxPageSize: 32 << 20,
	}
}

// SourceChapter is the chapter metadata reported by the source.
type SourceChapter struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	PageCount *int   `json:"pageCount"`
}

// SourceClient talks to the remote chapter catalog.
type SourceClient struct {
	baseURL string
	client  *http.Client
	opts    SourceOptions
}

// NewSourceClient creates a client for the catalog at baseURL.
func NewSourceClient(baseURL string, opts SourceOptions) *SourceClient {
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = DefaultSourceOptions().MaxPageSize
	}
	return &SourceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: opts.Timeout},
		opts:    opts,
	}
}

// GetChapter fetches the metadata of one chapter.
func (c *SourceClient) GetChapter(ctx context.Context, mangaID, chapterIndex int) (*SourceChapter, error) {
	url := fmt.Sprintf("%s/api/v1/manga/%d/chapter/%d", c.baseURL, mangaID, chapterIndex)

	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var chapter SourceChapter
	if err := json.NewDecoder(resp.Body).Decode(&chapter); err != nil {
		return nil, fmt.Errorf("%w: decode chapter: %v", ErrSourceBadResponse, err)
	}
	return &chapter, nil
}

// GetPage fetches the image bytes of one page.
func (c *SourceClient) GetPage(ctx context.Context, mangaID, chapterIndex, page int) ([]byte, error) {
	url := fmt.Sprintf("%s/api/v1/manga/%d/chapter/%d/page/%d", c.baseURL, mangaID, chapterIndex, page)

	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxPageSize+1))
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	if int64(len(data)) > c.opts.MaxPageSize {
		return nil, fmt.Errorf("%w: page larger than %d bytes", ErrSourceBadResponse, c.opts.MaxPageSize)
	}
	return data, nil
}

func (c *SourceClient) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	if err := checkStatus(resp); err != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrSourceNotFound, resp.Request.URL.Path)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrSourceServer, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrSourceBadResponse, resp.StatusCode)
	}
}
