package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chaptervault/internal/connector"
	"chaptervault/pkg/checkpoint"
	"chaptervault/pkg/errors"
	"chaptervault/pkg/logger"
	"chaptervault/pkg/manga"
	"chaptervault/pkg/notify"
	"chaptervault/pkg/progress"
)

type fakeConnector struct {
	chapters []manga.Chapter
	images   map[float64][]string
	listErr  error
}

func (f *fakeConnector) Name() string { return connector.ManifestName }

func (f *fakeConnector) ListChapters(ctx context.Context, pub *manga.Publication) ([]manga.Chapter, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return manga.SortChapters(f.chapters), nil
}

func (f *fakeConnector) FetchChapterImages(ctx context.Context, ch manga.Chapter) (connector.ChapterImages, error) {
	return connector.ChapterImages{URLs: f.images[ch.Number], Referrer: "https://example.org"}, nil
}

func (f *fakeConnector) FetchPublicationMetadata(ctx context.Context, urlOrID string) (*manga.Publication, error) {
	return nil, fmt.Errorf("not supported")
}

type fakeAssembler struct {
	mu      sync.Mutex
	status  errors.Status
	calls   []manga.Chapter
	started chan struct{}
	release chan struct{}
}

func (f *fakeAssembler) Assemble(ctx context.Context, ch manga.Chapter, urls []string, referrer string, token *progress.Token) errors.Status {
	f.mu.Lock()
	f.calls = append(f.calls, ch)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	token.AddTotal(len(urls))
	for range urls {
		token.Increment()
	}
	token.Complete()
	if token.Cancelled() {
		return errors.StatusCancelled
	}
	return f.status
}

func (f *fakeAssembler) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type downloadedSet map[float64]bool

func (d downloadedSet) IsDownloaded(ch manga.Chapter) bool { return d[ch.Number] }

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingNotifier) Notify(ctx context.Context, title, body string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, title+": "+body)
	return nil
}

func (r *recordingNotifier) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

type publicationMap map[string]*manga.Publication

func (p publicationMap) Publication(id string) (*manga.Publication, bool) {
	pub, ok := p[id]
	return pub, ok
}

type fixture struct {
	pub       *manga.Publication
	conn      *fakeConnector
	assembler *fakeAssembler
	notifier  *recordingNotifier
	sched     *Scheduler
}

func newFixture(t *testing.T, deps Deps) *fixture {
	t.Helper()
	pub := manga.NewPublication(connector.ManifestName, "alpha", "Alpha", "")
	conn := &fakeConnector{images: map[float64][]string{}}
	f := &fixture{
		pub:       pub,
		conn:      conn,
		assembler: &fakeAssembler{status: errors.StatusOK},
		notifier:  &recordingNotifier{},
	}
	deps.Connectors = connector.NewRegistry(conn)
	deps.Assembler = f.assembler
	deps.Notifier = f.notifier
	f.sched = New(Options{Workers: 2, QueueSize: 8}, deps, logger.NewTestLogger())
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	f.sched.pool.Start(context.Background())
	t.Cleanup(f.sched.pool.Stop)
}

func (f *fixture) chapter(number float64) manga.Chapter {
	return manga.NewChapterFromNumbers(f.pub, "", 0, number, "", fmt.Sprintf("c%v", number))
}

func TestJobIDs(t *testing.T) {
	pub := manga.NewPublication("manifest", "alpha", "Alpha", "")
	ch := manga.NewChapterFromNumbers(pub, "The Return", 0, 75.5, "", "")

	assert.Equal(t, "DownloadChapter-"+pub.InternalID+"-0-75.5", DownloadJobID(ch))
	assert.Equal(t, "ScanPublication-"+pub.InternalID, ScanJobID(pub))

	renamed := manga.NewChapterFromNumbers(pub, "Another Name", 0, 75.5, "", "")
	assert.Equal(t, DownloadJobID(ch), DownloadJobID(renamed), "the name is not part of the id")
}

func TestAddSameNumberInOtherVolume(t *testing.T) {
	f := newFixture(t, Deps{})
	first := NewDownloadJob(manga.NewChapterFromNumbers(f.pub, "", 1, 1, "", "v1c1"), "")
	second := NewDownloadJob(manga.NewChapterFromNumbers(f.pub, "", 2, 1, "", "v2c1"), "")

	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, f.sched.Add(first))
	assert.True(t, f.sched.Add(second))
	assert.Equal(t, 2, f.sched.Len())
}

func TestAddDuplicateIsNoop(t *testing.T) {
	f := newFixture(t, Deps{})
	first := NewDownloadJob(f.chapter(12), "")
	second := NewDownloadJob(f.chapter(12), "other-parent")

	assert.True(t, f.sched.Add(first))
	assert.False(t, f.sched.Add(second))
	assert.Equal(t, 1, f.sched.Len())

	rec, ok := f.sched.Get(first.ID)
	require.True(t, ok)
	assert.Empty(t, rec.ParentID, "the original job is kept")
}

func TestJobDue(t *testing.T) {
	now := time.Now()
	pub := manga.NewPublication("manifest", "alpha", "Alpha", "")

	oneOff := NewDownloadJob(manga.NewChapterFromNumbers(pub, "", 0, 1, "", ""), "")
	assert.True(t, oneOff.Due(now))
	oneOff.LastExecution = now
	assert.True(t, oneOff.Due(now.Add(time.Hour)), "an idle one-off job was interrupted and runs again")
	oneOff.running = true
	assert.False(t, oneOff.Due(now.Add(time.Hour)))

	scan := NewScanJob(pub, time.Hour)
	assert.True(t, scan.Due(now))
	scan.LastExecution = now
	assert.False(t, scan.Due(now.Add(59*time.Minute)))
	assert.True(t, scan.Due(now.Add(time.Hour)))
	assert.Equal(t, now.Add(time.Hour), scan.NextRun())

	scan.running = true
	assert.False(t, scan.Due(now.Add(2*time.Hour)), "running jobs are never due")
}

func TestDownloadJobRunsAndLeavesSet(t *testing.T) {
	f := newFixture(t, Deps{})
	f.start(t)
	f.conn.images[12] = []string{"https://img/1.png", "https://img/2.png"}

	job := NewDownloadJob(f.chapter(12), "")
	require.True(t, f.sched.Add(job))
	assert.Equal(t, 1, f.sched.Tick())

	require.Eventually(t, func() bool { return f.sched.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.assembler.Calls())
	assert.Equal(t, []string{notify.TitleChapterDownloaded + ": Alpha - 12"}, f.notifier.Messages())
}

func TestDownloadNotificationOnlyOnSuccess(t *testing.T) {
	tests := []struct {
		status errors.Status
		notify bool
	}{
		{errors.StatusOK, true},
		{errors.StatusCreated, true},
		{errors.StatusNoContent, false},
		{errors.StatusNotFound, false},
		{errors.StatusFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			f := newFixture(t, Deps{})
			f.start(t)
			f.assembler.status = tt.status

			f.sched.Add(NewDownloadJob(f.chapter(3), ""))
			f.sched.Tick()
			require.Eventually(t, func() bool { return f.sched.Len() == 0 }, 2*time.Second, 5*time.Millisecond)

			if got := len(f.notifier.Messages()) == 1; got != tt.notify {
				t.Errorf("notified = %v, want %v", got, tt.notify)
			}
		})
	}
}

func TestDownloadSkipsDownloadedChapter(t *testing.T) {
	f := newFixture(t, Deps{Checker: downloadedSet{12: true}})
	f.start(t)

	f.sched.Add(NewDownloadJob(f.chapter(12), ""))
	f.sched.Tick()
	require.Eventually(t, func() bool { return f.sched.Len() == 0 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, f.assembler.Calls())
	assert.Len(t, f.notifier.Messages(), 0)
}

func TestScanSpawnsNewChapters(t *testing.T) {
	f := newFixture(t, Deps{Checker: downloadedSet{2: true}})
	f.start(t)
	f.pub.IgnoreChaptersBelow = 2
	f.conn.chapters = []manga.Chapter{f.chapter(4), f.chapter(1), f.chapter(2), f.chapter(3), f.chapter(3)}

	scan := NewScanJob(f.pub, time.Hour)
	require.True(t, f.sched.Add(scan))
	assert.Equal(t, 1, f.sched.Tick())

	require.Eventually(t, func() bool { return f.sched.Len() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 4.0, f.pub.LatestAvailable())

	for _, number := range []float64{3, 4} {
		rec, ok := f.sched.Get(DownloadJobID(f.chapter(number)))
		require.True(t, ok, "chapter %v spawned", number)
		assert.Equal(t, scan.ID, rec.ParentID)
	}
	_, ok := f.sched.Get(DownloadJobID(f.chapter(1)))
	assert.False(t, ok, "below the floor")
	_, ok = f.sched.Get(DownloadJobID(f.chapter(2)))
	assert.False(t, ok, "already downloaded")

	rec, ok := f.sched.Get(scan.ID)
	require.True(t, ok, "recurring scan job stays")
	assert.Equal(t, int(errors.StatusOK), rec.LastStatus)
}

func TestNewChapters(t *testing.T) {
	pub := manga.NewPublication("manifest", "alpha", "Alpha", "")
	pub.IgnoreChaptersBelow = 10
	chapters := []manga.Chapter{
		manga.NewChapterFromNumbers(pub, "", 0, 9.5, "", ""),
		manga.NewChapterFromNumbers(pub, "", 0, 10, "", ""),
		manga.NewChapterFromNumbers(pub, "", 0, 11, "", ""),
	}

	fresh := NewChapters(pub, chapters, downloadedSet{11: true})
	require.Len(t, fresh, 1)
	assert.Equal(t, 10.0, fresh[0].Number)
	assert.Equal(t, 11.0, pub.LatestAvailable())
}

func TestCancel(t *testing.T) {
	f := newFixture(t, Deps{})
	scan := NewScanJob(f.pub, time.Hour)
	f.sched.Add(scan)

	require.NoError(t, f.sched.Cancel(scan.ID))
	assert.Equal(t, 0, f.sched.Len(), "cancelled recurring jobs leave the set")
	assert.True(t, scan.token.Cancelled())

	assert.ErrorIs(t, f.sched.Cancel("missing"), ErrUnknownJob)
}

func TestCancelRunningDownload(t *testing.T) {
	f := newFixture(t, Deps{})
	f.assembler.started = make(chan struct{}, 1)
	f.assembler.release = make(chan struct{})
	f.start(t)

	job := NewDownloadJob(f.chapter(5), "")
	f.sched.Add(job)
	f.sched.Tick()
	<-f.assembler.started

	require.NoError(t, f.sched.Cancel(job.ID))
	assert.Equal(t, 1, f.sched.Len(), "running one-off jobs leave when they return")
	snap, ok := f.sched.Progress(job.ID)
	require.True(t, ok)
	assert.True(t, snap.Cancelled)

	close(f.assembler.release)
	require.Eventually(t, func() bool { return f.sched.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, f.notifier.Messages())
}

func TestTickKeepsJobsDueWhenQueueFull(t *testing.T) {
	f := newFixture(t, Deps{})
	f.sched.pool = NewWorkerPool(1, 1, logger.NewNopLogger())
	f.assembler.started = make(chan struct{}, 4)
	f.assembler.release = make(chan struct{})
	f.start(t)

	for _, n := range []float64{1, 2, 3} {
		f.sched.Add(NewDownloadJob(f.chapter(n), ""))
	}

	dispatched := f.sched.Tick()
	<-f.assembler.started
	dispatched += f.sched.Tick()
	assert.Equal(t, 2, dispatched, "one running and one queued")

	pending := 0
	now := time.Now()
	f.sched.mu.Lock()
	for _, job := range f.sched.jobs {
		if job.Due(now) {
			pending++
		}
	}
	f.sched.mu.Unlock()
	assert.Equal(t, 1, pending, "the refused job stays due")

	close(f.assembler.release)
	require.Eventually(t, func() bool {
		f.sched.Tick()
		return f.sched.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, f.assembler.Calls())
}

func TestExportImportRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	manager, err := checkpoint.NewManager(path, logger.NewTestLogger())
	require.NoError(t, err)

	f := newFixture(t, Deps{Checkpoints: manager})
	scan := NewScanJob(f.pub, 2*time.Hour)
	scan.LastExecution = time.Now().Add(-time.Minute).Round(time.Second)
	download := NewDownloadJob(manga.NewChapterFromNumbers(f.pub, "The Return", 1, 12.5, "https://example.org/12", "c12"), scan.ID)
	// started before a crash
	download.LastExecution = time.Now().Add(-30 * time.Second).Round(time.Second)
	f.sched.Add(scan)
	f.sched.Add(download)
	require.NoError(t, f.sched.Export())

	restored := newFixture(t, Deps{
		Checkpoints:  manager,
		Publications: publicationMap{f.pub.InternalID: f.pub},
	})
	require.NoError(t, restored.sched.Import())
	assert.Equal(t, 2, restored.sched.Len())

	rec, ok := restored.sched.Get(download.ID)
	require.True(t, ok)
	assert.Equal(t, string(KindDownloadChapter), rec.Kind)
	assert.Equal(t, scan.ID, rec.ParentID)
	require.NotNil(t, rec.Chapter)
	assert.Equal(t, "The Return", rec.Chapter.Name)
	assert.Equal(t, 1.0, rec.Chapter.Volume)
	assert.Equal(t, 12.5, rec.Chapter.Number)
	assert.Equal(t, "c12", rec.Chapter.ID)
	assert.True(t, download.LastExecution.Equal(rec.LastExecution))

	restored.sched.mu.Lock()
	assert.True(t, restored.sched.jobs[download.ID].Due(time.Now()), "an interrupted download runs again")
	restored.sched.mu.Unlock()

	rec, ok = restored.sched.Get(scan.ID)
	require.True(t, ok)
	assert.Equal(t, checkpoint.Duration(2*time.Hour), rec.Interval)
	assert.True(t, scan.LastExecution.Equal(rec.LastExecution))

	require.NoError(t, restored.sched.Import())
	assert.Equal(t, 2, restored.sched.Len(), "re-importing does not duplicate jobs")
}

func TestImportSkipsUnknownPublication(t *testing.T) {
	manager, err := checkpoint.NewManager(filepath.Join(t.TempDir(), "tasks.json"), logger.NewTestLogger())
	require.NoError(t, err)
	require.NoError(t, manager.Save(&checkpoint.Snapshot{Jobs: []checkpoint.JobRecord{
		{ID: "ScanPublication-gone", Kind: string(KindScanPublication), PublicationID: "gone"},
	}}))

	f := newFixture(t, Deps{Checkpoints: manager, Publications: publicationMap{}})
	require.NoError(t, f.sched.Import())
	assert.Equal(t, 0, f.sched.Len())
}

func TestRunExportsOnShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	manager, err := checkpoint.NewManager(path, logger.NewTestLogger())
	require.NoError(t, err)

	f := newFixture(t, Deps{Checkpoints: manager})
	f.sched.opts.TickInterval = 10 * time.Millisecond
	f.conn.listErr = fmt.Errorf("source offline")
	f.sched.Add(NewScanJob(f.pub, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sched.Run(ctx) }()

	require.Eventually(t, func() bool {
		rec, ok := f.sched.Get(ScanJobID(f.pub))
		return ok && rec.LastStatus != 0
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	snapshot, err := manager.Load()
	require.NoError(t, err)
	require.Len(t, snapshot.Jobs, 1)
	assert.Equal(t, f.sched.RunID(), snapshot.RunID)
	assert.Equal(t, int(errors.StatusFailed), snapshot.Jobs[0].LastStatus)
}
