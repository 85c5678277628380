package manga

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFolderName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Alpha", "Alpha"},
		{"Tom &amp; Jerry", "Tom  Jerry"},
		{"Who? Me: Yes/No", "Who Me YesNo"},
		{"Ending...", "Ending"},
		{"Café (2nd) ~ Remix!", "Café (2nd) ~ Remix!"},
		// decomposed e + combining acute is composed before filtering
		{"Cafe\u0301", "Caf\u00e9"},
		{"漢字 Title", " Title"},
	}
	for _, tt := range tests {
		if got := SanitizeFolderName(tt.in); got != tt.want {
			t.Errorf("SanitizeFolderName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewPublication(t *testing.T) {
	pub := NewPublication("manifest", "42", "Rock &amp; Roll.", "")
	assert.Equal(t, "Rock & Roll.", pub.SortName)
	assert.Equal(t, "Rock  Roll", pub.Folder())
	assert.Len(t, pub.InternalID, 16)

	again := NewPublication("manifest", "42", "Renamed", "")
	assert.Equal(t, pub.InternalID, again.InternalID, "id is derived from connector and source id")
	other := NewPublication("other", "42", "Renamed", "")
	assert.NotEqual(t, pub.InternalID, other.InternalID)

	pub.SetTextFields("a &lt;b&gt;", []string{"A &amp; B"}, nil)
	assert.Equal(t, "a <b>", pub.Description)
	assert.Equal(t, []string{"A & B"}, pub.Authors)
	assert.Nil(t, pub.Tags)
}

func TestReleaseStatusText(t *testing.T) {
	var s ReleaseStatus
	require.NoError(t, s.UnmarshalText([]byte("onhiatus")))
	assert.Equal(t, StatusOnHiatus, s)

	text, err := StatusCancelled.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "Cancelled", string(text))

	assert.Error(t, s.UnmarshalText([]byte("paused")))
}

func TestHighWaterMarksConcurrent(t *testing.T) {
	pub := NewPublication("manifest", "alpha", "Alpha", "")

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			pub.UpdateLatestDownloaded(NewChapterFromNumbers(pub, "", 0, float64(n), "", ""))
			pub.UpdateLatestAvailable(float64(n) + 0.5)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50.0, pub.LatestDownloaded())
	assert.Equal(t, 50.5, pub.LatestAvailable())

	pub.UpdateLatestDownloaded(NewChapterFromNumbers(pub, "", 0, 3, "", ""))
	assert.Equal(t, 50.0, pub.LatestDownloaded(), "marks never decrease")
}

func TestMoveFolderRename(t *testing.T) {
	root := t.TempDir()
	pub := NewPublication("manifest", "alpha", "Alpha", "")
	dir, err := pub.EnsureFolder(root, 0o770)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.cbz"), []byte("x"), 0o644))

	require.NoError(t, pub.MoveFolder(root, "Alpha Prime"))
	assert.Equal(t, "Alpha Prime", pub.Folder())
	assert.FileExists(t, filepath.Join(root, "Alpha Prime", "a.cbz"))
	assert.NoDirExists(t, filepath.Join(root, "Alpha"))
}

func TestMoveFolderMerge(t *testing.T) {
	root := t.TempDir()
	pub := NewPublication("manifest", "alpha", "Alpha", "")
	oldDir, err := pub.EnsureFolder(root, 0o770)
	require.NoError(t, err)
	newDir := filepath.Join(root, "Beta")
	require.NoError(t, os.MkdirAll(filepath.Join(newDir, "covers"), 0o770))

	require.NoError(t, os.MkdirAll(filepath.Join(oldDir, "extras"), 0o770))
	require.NoError(t, os.MkdirAll(filepath.Join(oldDir, "covers"), 0o770))
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "only-old.cbz"), []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "extras", "artbook.cbz"), []byte("art"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "covers", "1.jpg"), []byte("cover"), 0o644))

	require.NoError(t, pub.MoveFolder(root, "Beta"))
	assert.Equal(t, "Beta", pub.Folder())
	assert.FileExists(t, filepath.Join(newDir, "only-old.cbz"))
	assert.FileExists(t, filepath.Join(newDir, "extras", "artbook.cbz"))
	assert.FileExists(t, filepath.Join(newDir, "covers", "1.jpg"))
	assert.NoDirExists(t, oldDir)
}

func TestMoveFolderMergeKeepsClashes(t *testing.T) {
	root := t.TempDir()
	pub := NewPublication("manifest", "alpha", "Alpha", "")
	oldDir, err := pub.EnsureFolder(root, 0o770)
	require.NoError(t, err)
	newDir := filepath.Join(root, "Beta")
	require.NoError(t, os.MkdirAll(filepath.Join(newDir, "extras"), 0o770))

	require.NoError(t, os.MkdirAll(filepath.Join(oldDir, "extras"), 0o770))
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "only-old.cbz"), []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "both.cbz"), []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(newDir, "both.cbz"), []byte("new"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "extras", "artbook.cbz"), []byte("old art"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(newDir, "extras", "artbook.cbz"), []byte("new art"), 0o644))

	err = pub.MoveFolder(root, "Beta")
	require.ErrorIs(t, err, ErrFolderNotEmpty)
	assert.Contains(t, err.Error(), "both.cbz")
	assert.Contains(t, err.Error(), filepath.Join("extras", "artbook.cbz"))
	assert.Equal(t, "Alpha", pub.Folder(), "folder name kept while leftovers remain")

	assert.FileExists(t, filepath.Join(newDir, "only-old.cbz"))
	for dir, want := range map[string]string{oldDir: "old", newDir: "new"} {
		data, err := os.ReadFile(filepath.Join(dir, "both.cbz"))
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
		data, err = os.ReadFile(filepath.Join(dir, "extras", "artbook.cbz"))
		require.NoError(t, err)
		assert.Equal(t, want+" art", string(data))
	}

	// once the clashes are resolved the move completes
	require.NoError(t, os.Remove(filepath.Join(oldDir, "both.cbz")))
	require.NoError(t, os.Remove(filepath.Join(oldDir, "extras", "artbook.cbz")))
	require.NoError(t, pub.MoveFolder(root, "Beta"))
	assert.Equal(t, "Beta", pub.Folder())
	assert.NoDirExists(t, oldDir)
}

func TestMoveFolderMissingSource(t *testing.T) {
	pub := NewPublication("manifest", "alpha", "Alpha", "")
	require.NoError(t, pub.MoveFolder(t.TempDir(), "Gamma"))
	assert.Equal(t, "Gamma", pub.Folder())

	assert.Error(t, pub.MoveFolder(t.TempDir(), "???"))
	assert.Equal(t, "Gamma", pub.Folder())
}
