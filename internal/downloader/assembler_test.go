package downloader

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	fixzip "github.com/hidez8891/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chaptervault/pkg/errors"
	"chaptervault/pkg/logger"
	"chaptervault/pkg/manga"
	"chaptervault/pkg/metadata"
	"chaptervault/pkg/progress"
	"chaptervault/pkg/storage"
	"chaptervault/pkg/transport"
)

type assemblerFixture struct {
	root      string
	staging   string
	transport *fakeTransport
	notifier  *recordingNotifier
	assembler *Assembler
	markers   *storage.MarkerStore
}

func newAssemblerFixture(t *testing.T, respond func(string, int) (*transport.Response, error)) *assemblerFixture {
	t.Helper()
	fx := &assemblerFixture{
		root:      t.TempDir(),
		staging:   t.TempDir(),
		transport: &fakeTransport{respond: respond},
		notifier:  &recordingNotifier{},
	}
	log := logger.NewTestLogger()
	fx.markers = storage.NewMarkerStore(fx.root, 0)
	resolver := storage.NewResolver(fx.root, fx.markers, log)
	fetcher := newTestFetcher(fx.transport, fx.notifier, 3)
	fx.assembler = NewAssembler(AssemblerOptions{Root: fx.root, StagingDir: fx.staging}, fetcher, resolver, fx.markers, log)
	return fx
}

func alphaChapter(t *testing.T) manga.Chapter {
	t.Helper()
	pub := manga.NewPublication("manifest", "alpha", "Alpha", "")
	pub.Authors = []string{"Ann"}
	ch, err := manga.NewChapter(pub, "The Return", "0", "12", "https://alpha.example/12", "c12")
	require.NoError(t, err)
	return ch
}

func archiveEntries(t *testing.T, path string) []string {
	t.Helper()
	r, err := fixzip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func imagesOK(string, int) (*transport.Response, error) {
	return okResponse(pngImage(4096)), nil
}

func TestAssembleWritesArchiveAndMarker(t *testing.T) {
	fx := newAssemblerFixture(t, imagesOK)
	ch := alphaChapter(t)
	token := progress.NewToken()

	status := fx.assembler.Assemble(context.Background(), ch, []string{
		"https://img.example/a/1.png",
		"https://img.example/a/2.png?sig=x",
	}, "", token)

	require.Equal(t, errors.StatusOK, status)
	archive := filepath.Join(fx.root, "Alpha", "Alpha - Vol.0 Ch.12 - The Return.cbz")
	require.FileExists(t, archive)
	assert.Equal(t, []string{"0.png", "1.png", metadata.ComicInfoName}, archiveEntries(t, archive))

	marker, err := os.ReadFile(filepath.Join(fx.root, "Alpha", ".c12"))
	require.NoError(t, err)
	abs, _ := filepath.Abs(archive)
	assert.Equal(t, abs, string(marker))

	snap := token.Snapshot()
	assert.True(t, snap.Complete)
	assert.Equal(t, int64(2), snap.Total)
	assert.Equal(t, int64(2), snap.Completed)
	assert.Equal(t, 12.0, ch.Publication.LatestDownloaded())
	assert.FileExists(t, filepath.Join(fx.root, "Alpha", metadata.SeriesInfoName))
	assert.NoFileExists(t, archive+partSuffix)

	staged, err := os.ReadDir(fx.staging)
	require.NoError(t, err)
	assert.Empty(t, staged, "staging directory removed")
}

func TestAssembleAgainShortCircuits(t *testing.T) {
	fx := newAssemblerFixture(t, imagesOK)
	ch := alphaChapter(t)
	urls := []string{"https://img.example/1.png", "https://img.example/2.png"}

	require.Equal(t, errors.StatusOK, fx.assembler.Assemble(context.Background(), ch, urls, "", nil))
	calls := fx.transport.Calls()

	token := progress.NewToken()
	status := fx.assembler.Assemble(context.Background(), ch, urls, "", token)

	assert.Equal(t, errors.StatusCreated, status)
	assert.Equal(t, calls, fx.transport.Calls(), "no transport calls for a downloaded chapter")
	assert.True(t, token.IsComplete())
}

func TestAssembleCanonicalFileRefreshesMarker(t *testing.T) {
	fx := newAssemblerFixture(t, imagesOK)
	ch := alphaChapter(t)
	archive := ch.ArchivePath(fx.root)
	require.NoError(t, os.MkdirAll(filepath.Dir(archive), 0o770))
	require.NoError(t, os.WriteFile(archive, []byte("zip"), 0o644))

	// a resolver without the direct path rule misses the file, the assembler
	// still must not write a second archive
	fx.assembler.resolver = storage.NewResolverWithRules(fx.root, nil, logger.NewTestLogger())
	status := fx.assembler.Assemble(context.Background(), ch, []string{"https://img.example/1.png"}, "", nil)

	assert.Equal(t, errors.StatusCreated, status)
	assert.Equal(t, 0, fx.transport.Calls())
	path, ok, err := fx.markers.Read(ch)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, strings.HasSuffix(path, ch.ArchiveName()))
}

func TestAssembleZeroURLs(t *testing.T) {
	fx := newAssemblerFixture(t, imagesOK)
	ch := alphaChapter(t)

	status := fx.assembler.Assemble(context.Background(), ch, nil, "", nil)

	assert.Equal(t, errors.StatusNoContent, status)
	assert.NoFileExists(t, ch.ArchivePath(fx.root))
	assert.Empty(t, fx.notifier.Titles(), "no failure notification for empty chapters")
	assert.Equal(t, 0, fx.transport.Calls())
}

func TestAssembleAbortsOnFailedImage(t *testing.T) {
	fx := newAssemblerFixture(t, func(url string, _ int) (*transport.Response, error) {
		if strings.HasSuffix(url, "2.png") {
			return &transport.Response{StatusCode: 404, Body: body(nil)}, nil
		}
		return okResponse(pngImage(4096)), nil
	})
	ch := alphaChapter(t)
	token := progress.NewToken()

	status := fx.assembler.Assemble(context.Background(), ch, []string{
		"https://img.example/1.png",
		"https://img.example/2.png",
		"https://img.example/3.png",
	}, "", token)

	assert.Equal(t, errors.Status(404), status)
	assert.NoFileExists(t, ch.ArchivePath(fx.root), "partial chapters are never sealed")
	assert.NoFileExists(t, ch.ArchivePath(fx.root)+partSuffix)
	_, ok, _ := fx.markers.Read(ch)
	assert.False(t, ok)
	assert.True(t, token.IsComplete())
	assert.Equal(t, int64(1), token.Snapshot().Completed)
}

func TestAssembleCancelled(t *testing.T) {
	fx := newAssemblerFixture(t, imagesOK)
	ch := alphaChapter(t)
	token := progress.NewToken()
	token.Cancel()

	status := fx.assembler.Assemble(context.Background(), ch, []string{"https://img.example/1.png"}, "", token)

	assert.Equal(t, errors.StatusCancelled, status)
	assert.Equal(t, 0, fx.transport.Calls())
	assert.True(t, token.IsComplete())
}

func TestAssembleCancelledBetweenImages(t *testing.T) {
	token := progress.NewToken()
	fx := newAssemblerFixture(t, func(string, int) (*transport.Response, error) {
		token.Cancel()
		return okResponse(pngImage(4096)), nil
	})
	ch := alphaChapter(t)

	status := fx.assembler.Assemble(context.Background(), ch, []string{
		"https://img.example/1.png",
		"https://img.example/2.png",
	}, "", token)

	assert.Equal(t, errors.StatusCancelled, status)
	assert.Equal(t, 1, fx.transport.Calls())
	assert.NoFileExists(t, ch.ArchivePath(fx.root))
}

func TestAssembleCancelledDuringRetries(t *testing.T) {
	token := progress.NewToken()
	fx := newAssemblerFixture(t, func(string, int) (*transport.Response, error) {
		token.Cancel()
		return &transport.Response{StatusCode: 500, Body: body(nil)}, nil
	})
	ch := alphaChapter(t)

	status := fx.assembler.Assemble(context.Background(), ch, []string{
		"https://img.example/1.png",
		"https://img.example/2.png",
	}, "", token)

	assert.Equal(t, errors.StatusCancelled, status)
	assert.Equal(t, 1, fx.transport.Calls(), "no retries after cancellation")
	assert.Empty(t, fx.notifier.Titles())
	assert.NoFileExists(t, ch.ArchivePath(fx.root))
}

func TestAssembleConcurrentDuplicates(t *testing.T) {
	fx := newAssemblerFixture(t, imagesOK)
	ch := alphaChapter(t)
	urls := []string{"https://img.example/1.png", "https://img.example/2.png"}

	const workers = 4
	statuses := make([]errors.Status, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			statuses[i] = fx.assembler.Assemble(context.Background(), ch, urls, "", nil)
		}(i)
	}
	wg.Wait()

	created := 0
	for _, s := range statuses {
		require.True(t, s.Success(), "status %v", s)
		if s == errors.StatusOK {
			created++
		}
	}
	assert.Equal(t, 1, created)

	entries, err := os.ReadDir(filepath.Join(fx.root, "Alpha"))
	require.NoError(t, err)
	var archives, markers int
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), manga.ArchiveExtension):
			archives++
		case e.Name() == ".c12":
			markers++
		}
	}
	assert.Equal(t, 1, archives)
	assert.Equal(t, 1, markers)
	assert.Equal(t, 0, fx.assembler.chapters.size())
}

func TestAssembleSerializesRenamedChapter(t *testing.T) {
	fx := newAssemblerFixture(t, imagesOK)
	ch := alphaChapter(t)
	renamed, err := manga.NewChapter(ch.Publication, "Homecoming", "0", "12", "https://alpha.example/12", "c12")
	require.NoError(t, err)
	require.NotEqual(t, ch.ArchivePath(fx.root), renamed.ArchivePath(fx.root))
	urls := []string{"https://img.example/1.png"}

	statuses := make([]errors.Status, 2)
	var wg sync.WaitGroup
	for i, c := range []manga.Chapter{ch, renamed} {
		wg.Add(1)
		go func(i int, c manga.Chapter) {
			defer wg.Done()
			statuses[i] = fx.assembler.Assemble(context.Background(), c, urls, "", nil)
		}(i, c)
	}
	wg.Wait()

	assert.ElementsMatch(t, []errors.Status{errors.StatusOK, errors.StatusCreated}, statuses)
	entries, err := os.ReadDir(filepath.Join(fx.root, "Alpha"))
	require.NoError(t, err)
	archives := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), manga.ArchiveExtension) {
			archives++
		}
	}
	assert.Equal(t, 1, archives, "one archive per chapter key")
}

func TestAssembleSniffsMissingExtension(t *testing.T) {
	fx := newAssemblerFixture(t, imagesOK)
	ch := alphaChapter(t)

	status := fx.assembler.Assemble(context.Background(), ch, []string{"https://img.example/page?id=1"}, "", nil)

	require.Equal(t, errors.StatusOK, status)
	assert.Equal(t, []string{"0.png", metadata.ComicInfoName}, archiveEntries(t, ch.ArchivePath(fx.root)))
}

func TestImageExtension(t *testing.T) {
	tests := map[string]string{
		"https://img.example/a/1.jpg":            "jpg",
		"https://img.example/a/1.PNG?x=1":        "png",
		"https://img.example/a/1.webp#frag":      "webp",
		"https://img.example/page?id=1":          "",
		"https://img.example/a/noext":            "",
		"https://img.example/a/1.jpg?token=a.bc": "jpg",
		"https://img.example/a/1.jpg?v=1.2":      "jpg",
		"https://img.example/a.b/page":           "",
	}
	for url, want := range tests {
		if got := ImageExtension(url); got != want {
			t.Errorf("ImageExtension(%q) = %q, want %q", url, got, want)
		}
	}
}
