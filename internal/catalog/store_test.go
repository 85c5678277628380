package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chaptervault/pkg/logger"
	"chaptervault/pkg/manga"
)

func setupTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "catalog", "catalog.db")

	store, err := Open(dbPath, logger.NewTestLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, dbPath
}

func alpha() *manga.Publication {
	pub := manga.NewPublication("manifest", "alpha", "Alpha", "")
	pub.SetTextFields("A story.", []string{"A. Writer"}, []string{"action", "drama"})
	pub.Year = 2019
	pub.OriginalLanguage = "en"
	pub.ReleaseStatus = manga.StatusOnHiatus
	pub.IgnoreChaptersBelow = 3
	return pub
}

func TestStoreSaveAndReopen(t *testing.T) {
	store, dbPath := setupTestStore(t)
	ctx := context.Background()

	pub := alpha()
	pub.UpdateLatestAvailable(14)
	require.NoError(t, store.Save(ctx, pub))

	got, err := store.Get(ctx, pub.InternalID)
	require.NoError(t, err)
	assert.Same(t, pub, got, "saved publications are shared")
	require.NoError(t, store.Close())

	reopened, err := Open(dbPath, logger.NewTestLogger())
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Get(ctx, pub.InternalID)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", loaded.SortName)
	assert.Equal(t, "Alpha", loaded.Folder())
	assert.Equal(t, []string{"A. Writer"}, loaded.Authors)
	assert.Equal(t, []string{"action", "drama"}, loaded.Tags)
	assert.Equal(t, 2019, loaded.Year)
	assert.Equal(t, "en", loaded.OriginalLanguage)
	assert.Equal(t, manga.StatusOnHiatus, loaded.ReleaseStatus)
	assert.Equal(t, 3.0, loaded.IgnoreChaptersBelow)
	assert.Equal(t, 14.0, loaded.LatestAvailable())

	again, err := reopened.Get(ctx, pub.InternalID)
	require.NoError(t, err)
	assert.Same(t, loaded, again)
}

func TestStoreGetMissing(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if _, ok := store.Publication("nope"); ok {
		t.Error("Publication() ok = true for a missing id")
	}
}

func TestStoreListOrder(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"gamma", "Beta", "alpha"} {
		require.NoError(t, store.Save(ctx, manga.NewPublication("manifest", name, name, "")))
	}

	pubs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, pubs, 3)
	assert.Equal(t, "alpha", pubs[0].SortName)
	assert.Equal(t, "Beta", pubs[1].SortName)
	assert.Equal(t, "gamma", pubs[2].SortName)
}

func TestStoreDelete(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	pub := alpha()
	require.NoError(t, store.Save(ctx, pub))

	require.NoError(t, store.Delete(ctx, pub.InternalID))
	_, err := store.Get(ctx, pub.InternalID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, pub.InternalID), ErrNotFound)
}

func TestStoreRename(t *testing.T) {
	store, dbPath := setupTestStore(t)
	ctx := context.Background()
	root := t.TempDir()

	pub := alpha()
	dir, err := pub.EnsureFolder(root, 0o770)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Alpha - Vol.0 Ch.1.cbz"), []byte("zip"), 0o644))
	require.NoError(t, store.Save(ctx, pub))

	renamed, err := store.Rename(ctx, pub.InternalID, root, "Alpha Prime")
	require.NoError(t, err)
	assert.Equal(t, "Alpha Prime", renamed.Folder())
	assert.FileExists(t, filepath.Join(root, "Alpha Prime", "Alpha - Vol.0 Ch.1.cbz"))
	require.NoError(t, store.Close())

	reopened, err := Open(dbPath, logger.NewTestLogger())
	require.NoError(t, err)
	defer reopened.Close()
	loaded, err := reopened.Get(ctx, pub.InternalID)
	require.NoError(t, err)
	assert.Equal(t, "Alpha Prime", loaded.Folder())
}

func TestStoreSyncKeepsHighestMarks(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	pub := alpha()
	require.NoError(t, store.Save(ctx, pub))

	pub.UpdateLatestDownloaded(manga.NewChapterFromNumbers(pub, "", 0, 7, "", ""))
	require.NoError(t, store.Sync(ctx))

	var downloaded float64
	row := store.db.QueryRowContext(ctx, `SELECT latest_downloaded FROM publications WHERE internal_id = ?`, pub.InternalID)
	require.NoError(t, row.Scan(&downloaded))
	assert.Equal(t, 7.0, downloaded)

	stale := manga.NewPublication("manifest", "alpha", "Alpha", "")
	require.NoError(t, store.Save(ctx, stale))
	row = store.db.QueryRowContext(ctx, `SELECT latest_downloaded FROM publications WHERE internal_id = ?`, pub.InternalID)
	require.NoError(t, row.Scan(&downloaded))
	assert.Equal(t, 7.0, downloaded, "marks never decrease")
}
