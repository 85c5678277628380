package storage

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"chaptervault/pkg/manga"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkerStoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	pub := manga.NewPublication("manifest", "alpha", "Alpha", "")
	_, err := pub.EnsureFolder(root, 0o770)
	require.NoError(t, err)

	store := NewMarkerStore(root, 0)
	ch := manga.NewChapterFromNumbers(pub, "", 0, 12, "", "chapter-12")

	_, ok, err := store.Read(ch)
	require.NoError(t, err)
	assert.False(t, ok)

	archive := ch.ArchivePath(root)
	require.NoError(t, store.Write(ch, archive))

	markerPath := filepath.Join(root, "Alpha", ".chapter-12")
	assert.Equal(t, markerPath, store.Path(ch))
	content, err := os.ReadFile(markerPath)
	require.NoError(t, err)
	assert.Equal(t, archive, string(content))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(markerPath)
		require.NoError(t, err)
		assert.Equal(t, DefaultMarkerMode, info.Mode().Perm())
	}

	got, ok, err := store.Read(ch)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, archive, got)

	require.NoError(t, store.Remove(ch))
	require.NoError(t, store.Remove(ch), "removing twice is fine")
	assert.NoFileExists(t, markerPath)
}

func TestMarkerStoreWithoutChapterID(t *testing.T) {
	root := t.TempDir()
	pub := manga.NewPublication("manifest", "alpha", "Alpha", "")
	ch := manga.NewChapterFromNumbers(pub, "", 0, 1, "", "")
	store := NewMarkerStore(root, 0)

	assert.Empty(t, store.Path(ch))
	assert.NoError(t, store.Write(ch, "/somewhere.cbz"))
	_, ok, err := store.Read(ch)
	assert.NoError(t, err)
	assert.False(t, ok)
}
