package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/chapterdl/internal/domain"
)

// fakeSource implements domain.ChapterFetcher and domain.PageFetcher
type fakeSource struct {
	mu           sync.Mutex
	pageCounts   map[domain.ChapterKey]*int
	chapterErrs  map[domain.ChapterKey]error
	pageErrs     map[domain.ChapterKey]map[int]error
	chapterCalls []domain.ChapterKey
	pageCalls    []string
	onPage       func(key domain.ChapterKey, page int)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		pageCounts:  make(map[domain.ChapterKey]*int),
		chapterErrs: make(map[domain.ChapterKey]error),
		pageErrs:    make(map[domain.ChapterKey]map[int]error),
	}
}

func (f *fakeSource) withChapter(mangaID, chapterIndex int, pageCount *int) *fakeSource {
	f.pageCounts[domain.ChapterKey{MangaID: mangaID, ChapterIndex: chapterIndex}] = pageCount
	return f
}

func (f *fakeSource) FetchChapter(ctx context.Context, chapterIndex, mangaID int) (*domain.Chapter, error) {
	key := domain.ChapterKey{MangaID: mangaID, ChapterIndex: chapterIndex}

	f.mu.Lock()
	f.chapterCalls = append(f.chapterCalls, key)
	err := f.chapterErrs[key]
	pageCount, known := f.pageCounts[key]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !known {
		return nil, fmt.Errorf("no chapter %s", key)
	}
	return &domain.Chapter{
		MangaID:      mangaID,
		ChapterIndex: chapterIndex,
		Name:         "Chapter " + key.String(),
		PageCount:    pageCount,
	}, nil
}

func (f *fakeSource) FetchPageImage(ctx context.Context, mangaID, chapterIndex, page int) ([]byte, error) {
	key := domain.ChapterKey{MangaID: mangaID, ChapterIndex: chapterIndex}

	f.mu.Lock()
	f.pageCalls = append(f.pageCalls, fmt.Sprintf("%s#%d", key, page))
	err := f.pageErrs[key][page]
	hook := f.onPage
	f.mu.Unlock()

	if hook != nil {
		hook(key, page)
	}
	if err != nil {
		return nil, err
	}
	return []byte("img"), nil
}

func (f *fakeSource) pages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pageCalls...)
}

func (f *fakeSource) chapterLookups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chapterCalls)
}

// fakeMarker implements domain.ChapterMarker
type fakeMarker struct {
	mu    sync.Mutex
	calls []domain.ChapterKey
	err   error
}

func (m *fakeMarker) MarkChapterDownloaded(mangaID, chapterIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, domain.ChapterKey{MangaID: mangaID, ChapterIndex: chapterIndex})
	return m.err
}

func (m *fakeMarker) marked() []domain.ChapterKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChapterKey(nil), m.calls...)
}

// notifyRecorder captures the queue on every notify call
type notifyRecorder struct {
	mu        sync.Mutex
	queue     *DownloadQueue
	snapshots [][]domain.DownloadSnapshot
}

func (r *notifyRecorder) notify() {
	snap := r.queue.Snapshot()
	r.mu.Lock()
	r.snapshots = append(r.snapshots, snap)
	r.mu.Unlock()
}

func (r *notifyRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func newTestDownloader(queue *DownloadQueue, source *fakeSource, marker *fakeMarker) (*Downloader, *notifyRecorder) {
	rec := &notifyRecorder{queue: queue}
	return NewDownloader(queue, source, source, marker, rec.notify, nil), rec
}

func addTasks(queue *DownloadQueue, keys ...domain.ChapterKey) []*domain.DownloadChapter {
	tasks := make([]*domain.DownloadChapter, len(keys))
	for i, key := range keys {
		tasks[i] = domain.NewDownloadChapter(key.MangaID, key.ChapterIndex)
		queue.Add(tasks[i])
	}
	return tasks
}

var (
	key1 = domain.ChapterKey{MangaID: 1, ChapterIndex: 1}
	key2 = domain.ChapterKey{MangaID: 1, ChapterIndex: 2}
	key3 = domain.ChapterKey{MangaID: 2, ChapterIndex: 1}
)

func TestDownloader_AllChaptersFinish(t *testing.T) {
	queue := NewDownloadQueue()
	source := newFakeSource().
		withChapter(1, 1, domain.PageCountOf(3)).
		withChapter(1, 2, domain.PageCountOf(2))
	marker := &fakeMarker{}
	tasks := addTasks(queue, key1, key2)

	d, rec := newTestDownloader(queue, source, marker)
	d.Run(context.Background())

	for _, task := range tasks {
		assert.Equal(t, domain.StateFinished, task.State())
		assert.Equal(t, 1.0, task.Progress())
		require.NotNil(t, task.Chapter())
	}
	assert.Equal(t, []domain.ChapterKey{key1, key2}, marker.marked())
	assert.Equal(t, []string{"1/1#0", "1/1#1", "1/1#2", "1/2#0", "1/2#1"}, source.pages())
	assert.Positive(t, rec.count())
}

func TestDownloader_StopMidChapterRequeues(t *testing.T) {
	queue := NewDownloadQueue()
	source := newFakeSource().withChapter(1, 1, domain.PageCountOf(5))
	marker := &fakeMarker{}
	tasks := addTasks(queue, key1)

	d, rec := newTestDownloader(queue, source, marker)
	source.onPage = func(key domain.ChapterKey, page int) {
		if page == 1 {
			d.RequestStop()
		}
	}
	d.Run(context.Background())

	assert.Equal(t, domain.StateQueued, tasks[0].State())
	assert.InDelta(t, 0.4, tasks[0].Progress(), 1e-9)
	assert.Empty(t, marker.marked())
	assert.Equal(t, []string{"1/1#0", "1/1#1"}, source.pages())
	assert.True(t, d.StopRequested())

	// observers see the requeued state last
	rec.mu.Lock()
	last := rec.snapshots[len(rec.snapshots)-1]
	rec.mu.Unlock()
	assert.Equal(t, domain.StateQueued, last[0].State)
}

func TestDownloader_ChapterLookupFailure(t *testing.T) {
	queue := NewDownloadQueue()
	source := newFakeSource()
	source.chapterErrs[key1] = errors.New("catalog offline")
	marker := &fakeMarker{}
	tasks := addTasks(queue, key1)

	d, rec := newTestDownloader(queue, source, marker)
	assert.NotPanics(t, func() { d.Run(context.Background()) })

	assert.Equal(t, domain.StateError, tasks[0].State())
	snap := tasks[0].Snapshot()
	assert.Contains(t, snap.Error, domain.ErrChapterLookupFailed.Error())
	assert.Contains(t, snap.Error, "catalog offline")
	assert.Empty(t, source.pages())
	assert.Positive(t, rec.count())
}

func TestDownloader_EmptyQueue(t *testing.T) {
	queue := NewDownloadQueue()
	source := newFakeSource()
	marker := &fakeMarker{}

	d, rec := newTestDownloader(queue, source, marker)
	d.Run(context.Background())

	assert.Zero(t, source.chapterLookups())
	assert.Empty(t, source.pages())
	assert.Empty(t, marker.marked())
	assert.Zero(t, rec.count())
}

func TestDownloader_ErrorDoesNotStopRun(t *testing.T) {
	queue := NewDownloadQueue()
	source := newFakeSource().
		withChapter(1, 1, domain.PageCountOf(3)).
		withChapter(1, 2, domain.PageCountOf(1))
	source.pageErrs[key1] = map[int]error{1: errors.New("timeout")}
	marker := &fakeMarker{}
	tasks := addTasks(queue, key1, key2)

	d, _ := newTestDownloader(queue, source, marker)
	d.Run(context.Background())

	assert.Equal(t, domain.StateError, tasks[0].State())
	assert.InDelta(t, 1.0/3.0, tasks[0].Progress(), 1e-9)
	assert.Contains(t, tasks[0].Snapshot().Error, "page 1")
	assert.Equal(t, domain.StateFinished, tasks[1].State())
	assert.Equal(t, []domain.ChapterKey{key2}, marker.marked())
}

func TestDownloader_MissingPageCount(t *testing.T) {
	for name, pageCount := range map[string]*int{
		"nil":      nil,
		"negative": domain.PageCountOf(-1),
	} {
		t.Run(name, func(t *testing.T) {
			queue := NewDownloadQueue()
			source := newFakeSource().withChapter(1, 1, pageCount)
			tasks := addTasks(queue, key1)

			d, _ := newTestDownloader(queue, source, &fakeMarker{})
			d.Run(context.Background())

			assert.Equal(t, domain.StateError, tasks[0].State())
			assert.Contains(t, tasks[0].Snapshot().Error, domain.ErrMissingPageCount.Error())
			assert.Empty(t, source.pages())
		})
	}
}

func TestDownloader_ZeroPagesFinishImmediately(t *testing.T) {
	queue := NewDownloadQueue()
	source := newFakeSource().withChapter(1, 1, domain.PageCountOf(0))
	marker := &fakeMarker{}
	tasks := addTasks(queue, key1)

	d, _ := newTestDownloader(queue, source, marker)
	d.Run(context.Background())

	assert.Equal(t, domain.StateFinished, tasks[0].State())
	assert.Equal(t, 1.0, tasks[0].Progress())
	assert.Equal(t, []domain.ChapterKey{key1}, marker.marked())
}

func TestDownloader_PersistenceFailureMarksError(t *testing.T) {
	queue := NewDownloadQueue()
	source := newFakeSource().
		withChapter(1, 1, domain.PageCountOf(1)).
		withChapter(1, 2, domain.PageCountOf(1))
	marker := &fakeMarker{err: domain.ErrChapterNotFound}
	tasks := addTasks(queue, key1, key2)

	d, _ := newTestDownloader(queue, source, marker)
	d.Run(context.Background())

	for _, task := range tasks {
		assert.Equal(t, domain.StateError, task.State())
		assert.Contains(t, task.Snapshot().Error, domain.ErrChapterNotFound.Error())
	}
}

func TestDownloader_RemoveRejectedOnceTaskIsSelected(t *testing.T) {
	queue := NewDownloadQueue()
	source := newFakeSource().withChapter(1, 1, domain.PageCountOf(1))
	marker := &fakeMarker{}
	addTasks(queue, key1)

	var removeErrs []error
	notify := func() {
		if len(removeErrs) == 0 {
			removeErrs = append(removeErrs, queue.Remove(key1))
		}
	}
	NewDownloader(queue, source, source, marker, notify, nil).Run(context.Background())

	require.Len(t, removeErrs, 1)
	assert.ErrorIs(t, removeErrs[0], domain.ErrTaskActive)
	require.Equal(t, 1, queue.Len())
	assert.Equal(t, domain.StateFinished, queue.Find(key1).State())
	assert.Equal(t, []domain.ChapterKey{key1}, marker.marked())
}

func TestDownloader_StopResetsEveryDownloadingTask(t *testing.T) {
	queue := NewDownloadQueue()
	source := newFakeSource().withChapter(1, 2, domain.PageCountOf(2))

	// a stale task left in downloading by an earlier run
	stale := domain.NewDownloadChapter(key1.MangaID, key1.ChapterIndex)
	stale.MarkDownloading()
	queue.Add(stale)
	tasks := addTasks(queue, key2)

	d, _ := newTestDownloader(queue, source, &fakeMarker{})
	source.onPage = func(domain.ChapterKey, int) { d.RequestStop() }
	d.Run(context.Background())

	assert.Equal(t, domain.StateQueued, stale.State())
	assert.Equal(t, domain.StateQueued, tasks[0].State())
}

func TestDownloader_ErrorMarksEveryDownloadingTask(t *testing.T) {
	queue := NewDownloadQueue()
	source := newFakeSource()
	source.chapterErrs[key2] = errors.New("gone")

	stale := domain.NewDownloadChapter(key1.MangaID, key1.ChapterIndex)
	stale.MarkDownloading()
	queue.Add(stale)
	tasks := addTasks(queue, key2)

	d, _ := newTestDownloader(queue, source, &fakeMarker{})
	d.Run(context.Background())

	assert.Equal(t, domain.StateError, stale.State())
	assert.Equal(t, domain.StateError, tasks[0].State())
	assert.Contains(t, stale.Snapshot().Error, "gone")
}

func TestDownloader_ContextCancelActsAsStop(t *testing.T) {
	queue := NewDownloadQueue()
	source := newFakeSource().
		withChapter(1, 1, domain.PageCountOf(3)).
		withChapter(1, 2, domain.PageCountOf(1))
	tasks := addTasks(queue, key1, key2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, _ := newTestDownloader(queue, source, &fakeMarker{})
	source.onPage = func(domain.ChapterKey, int) { cancel() }
	d.Run(ctx)

	assert.Equal(t, []string{"1/1#0"}, source.pages(), "the in-flight fetch completes, no further fetches")
	assert.Equal(t, domain.StateQueued, tasks[0].State())
	assert.Equal(t, domain.StateQueued, tasks[1].State())
}

func TestDownloader_StopBeforeRunProcessesOneStep(t *testing.T) {
	queue := NewDownloadQueue()
	source := newFakeSource().withChapter(1, 1, domain.PageCountOf(2))
	tasks := addTasks(queue, key1)

	d, rec := newTestDownloader(queue, source, &fakeMarker{})
	d.RequestStop()
	d.Run(context.Background())

	assert.Zero(t, source.chapterLookups())
	assert.Equal(t, domain.StateQueued, tasks[0].State())
	assert.Equal(t, 2, rec.count())
}

func TestDownloader_ObservedInvariants(t *testing.T) {
	queue := NewDownloadQueue()
	source := newFakeSource().
		withChapter(1, 1, domain.PageCountOf(4)).
		withChapter(1, 2, domain.PageCountOf(3)).
		withChapter(2, 1, domain.PageCountOf(2))
	source.pageErrs[key2] = map[int]error{2: errors.New("broken image")}
	addTasks(queue, key1, key2, key3)

	d, rec := newTestDownloader(queue, source, &fakeMarker{})
	d.Run(context.Background())

	lastProgress := make(map[domain.ChapterKey]float64)
	notified := make(map[domain.ChapterKey]bool)
	for _, snapshot := range rec.snapshots {
		downloading := 0
		for _, snap := range snapshot {
			if snap.State == domain.StateDownloading {
				downloading++
				notified[snap.Key()] = true
				assert.GreaterOrEqual(t, snap.Progress, lastProgress[snap.Key()])
				lastProgress[snap.Key()] = snap.Progress
			}
			if snap.State == domain.StateFinished {
				assert.Equal(t, 1.0, snap.Progress)
			}
		}
		assert.LessOrEqual(t, downloading, 1)
	}
	assert.Len(t, notified, 3, "every task is observed while downloading")
}
