package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "gocloud.dev/blob/memblob"

	"github.com/yourusername/chapterdl/internal/app"
	"github.com/yourusername/chapterdl/internal/domain"
	"github.com/yourusername/chapterdl/internal/infrastructure"
	"github.com/yourusername/chapterdl/pkg/logger"
)

type testServer struct {
	server      *httptest.Server
	repo        *infrastructure.SQLiteChapterRepository
	downloadMgr *app.DownloadManager
	logsDir     string
}

// newSourceServer serves chapter 1/2 with two pages and chapter 1/3 with a
// broken page
func newSourceServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/manga/1/chapter/2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name":"Second","pageCount":2}`)
	})
	mux.HandleFunc("/api/v1/manga/1/chapter/3", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name":"Third","pageCount":1}`)
	})
	mux.HandleFunc("/api/v1/manga/1/chapter/2/page/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("image"))
	})
	mux.HandleFunc("/api/v1/manga/1/chapter/3/page/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, autoStart bool) *testServer {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	ml, err := logger.NewMultiLogger(logger.MultiLoggerConfig{Level: "debug", LogsDir: filepath.Join(dir, "logs")})
	require.NoError(t, err)

	repo, err := infrastructure.NewSQLiteChapterRepository(filepath.Join(dir, "test.db"))
	require.NoError(t, err)

	cache, err := infrastructure.OpenPageCache(ctx, "mem://")
	require.NoError(t, err)

	source := infrastructure.NewSourceClient(newSourceServer(t).URL, infrastructure.DefaultSourceOptions())
	chapters := infrastructure.NewChapterService(repo, source, cache, ml.Download())
	hub := infrastructure.NewEventHub()

	config := &domain.DownloadConfig{AutoStart: autoStart}
	downloadMgr := app.NewDownloadManager(
		app.NewDownloadQueue(),
		app.Collaborators{Chapters: chapters, Pages: chapters, Marker: repo},
		hub,
		nil,
		config,
		ml,
	)
	queueMgr := app.NewQueueManager(downloadMgr, config, ml)

	srv := httptest.NewServer(SetupRouter(queueMgr, downloadMgr, hub, ml))

	t.Cleanup(func() {
		srv.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		downloadMgr.Shutdown(shutdownCtx)
		hub.Close()
		cache.Close()
		repo.Close()
		ml.Close()
	})

	return &testServer{
		server:      srv,
		repo:        repo,
		downloadMgr: downloadMgr,
		logsDir:     filepath.Join(dir, "logs"),
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (ts *testServer) list(t *testing.T, query string) []domain.DownloadSnapshot {
	t.Helper()

	resp, err := http.Get(ts.server.URL + "/api/v1/downloads" + query)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snapshots []domain.DownloadSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snapshots))
	return snapshots
}

func TestAPI_DownloadLifecycle(t *testing.T) {
	ts := newTestServer(t, true)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/downloads", map[string]int{"manga_id": 1, "chapter_index": 2})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(1), body["manga_id"])

	require.Eventually(t, func() bool {
		resp, body := ts.do(t, http.MethodGet, "/api/v1/downloads/1/2", nil)
		return resp.StatusCode == http.StatusOK && body["state"] == string(domain.StateFinished)
	}, 5*time.Second, 20*time.Millisecond)

	chapter, err := ts.repo.FindChapter(1, 2)
	require.NoError(t, err)
	require.NotNil(t, chapter)
	assert.True(t, chapter.IsDownloaded)
	assert.Equal(t, "Second", chapter.Name)

	finished := ts.list(t, "?state=finished")
	require.Len(t, finished, 1)
	assert.Equal(t, 1.0, finished[0].Progress)

	resp, body = ts.do(t, http.MethodDelete, "/api/v1/downloads/finished", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["removed"])
	assert.Empty(t, ts.list(t, ""))
}

func TestAPI_FailedDownloadRetry(t *testing.T) {
	ts := newTestServer(t, true)

	resp, _ := ts.do(t, http.MethodPost, "/api/v1/downloads", map[string]int{"manga_id": 1, "chapter_index": 3})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.Eventually(t, func() bool {
		_, body := ts.do(t, http.MethodGet, "/api/v1/downloads/1/3", nil)
		return body["state"] == string(domain.StateError)
	}, 5*time.Second, 20*time.Millisecond)

	_, body := ts.do(t, http.MethodGet, "/api/v1/downloads/1/3", nil)
	assert.Contains(t, body["error"], "page 0")

	resp, _ = ts.do(t, http.MethodPost, "/api/v1/downloads/1/3/retry", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/v1/downloads/9/9/retry", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ManualStartStop(t *testing.T) {
	ts := newTestServer(t, false)

	resp, _ := ts.do(t, http.MethodPost, "/api/v1/downloader/stop", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/v1/downloads", map[string]int{"manga_id": 1, "chapter_index": 2})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.False(t, ts.downloadMgr.IsRunning())

	resp, _ = ts.do(t, http.MethodPost, "/api/v1/downloader/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		_, body := ts.do(t, http.MethodGet, "/api/v1/downloads/stats", nil)
		return body["finished"] == float64(1)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestAPI_BadRequests(t *testing.T) {
	ts := newTestServer(t, false)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"missing fields", http.MethodPost, "/api/v1/downloads", map[string]int{"manga_id": 1}, http.StatusBadRequest},
		{"negative ids", http.MethodPost, "/api/v1/downloads", map[string]int{"manga_id": -1, "chapter_index": 0}, http.StatusBadRequest},
		{"bad manga param", http.MethodGet, "/api/v1/downloads/x/1", nil, http.StatusBadRequest},
		{"unknown download", http.MethodGet, "/api/v1/downloads/4/4", nil, http.StatusNotFound},
		{"unknown delete", http.MethodDelete, "/api/v1/downloads/4/4", nil, http.StatusNotFound},
		{"invalid state filter", http.MethodGet, "/api/v1/downloads?state=paused", nil, http.StatusBadRequest},
		{"invalid log category", http.MethodGet, "/api/v1/logs/metrics", nil, http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/api/v1/nope", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestAPI_HealthAndReady(t *testing.T) {
	ts := newTestServer(t, false)

	resp, body := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, _ = ts.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, ts.downloadMgr.Shutdown(context.Background()))
	resp, _ = ts.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAPI_Logs(t *testing.T) {
	ts := newTestServer(t, false)

	resp, _ := ts.do(t, http.MethodPost, "/api/v1/downloads", map[string]int{"manga_id": 1, "chapter_index": 2})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := ts.do(t, http.MethodGet, "/api/v1/logs/categories", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["categories"], len(logger.Categories()))

	require.Eventually(t, func() bool {
		_, body := ts.do(t, http.MethodGet, "/api/v1/logs/queue/search?q=download_added", nil)
		return body["count"] == float64(1)
	}, 2*time.Second, 20*time.Millisecond)

	resp, _ = ts.do(t, http.MethodGet, "/api/v1/logs/web?limit=5", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/v1/logs/queue/export?date=2001-01-01", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/v1/downloads", map[string]int{"manga_id": 1, "chapter_index": 3})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.Eventually(t, func() bool {
		_, body := ts.do(t, http.MethodGet, "/api/v1/logs/queue?chapter=1/3", nil)
		return body["count"] == float64(1)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestAPI_RequestID(t *testing.T) {
	ts := newTestServer(t, false)

	resp, _ := ts.do(t, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, err := http.NewRequest(http.MethodGet, ts.server.URL+"/api/v1/downloads/stats", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get("X-Request-ID"))
}

func TestAPI_EventStream(t *testing.T) {
	ts := newTestServer(t, true)

	wsURL := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/api/v1/downloads/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var initial domain.QueueEvent
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Empty(t, initial.Queue)

	resp, _ := ts.do(t, http.MethodPost, "/api/v1/downloads", map[string]int{"manga_id": 1, "chapter_index": 2})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var event domain.QueueEvent
		require.NoError(t, conn.ReadJSON(&event))
		if event.Stats.Finished == 1 {
			require.Len(t, event.Queue, 1)
			assert.Equal(t, domain.StateFinished, event.Queue[0].State)
			break
		}
	}
}
