package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chaptervault/pkg/logger"
	"chaptervault/pkg/progress"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(filepath.Join(t.TempDir(), "data", "tasks.json"), logger.NewTestLogger())
	require.NoError(t, err)
	return mgr
}

func sampleRecord() JobRecord {
	return JobRecord{
		ID:            "DownloadChapter-abc-12",
		Kind:          "download_chapter",
		PublicationID: "abc",
		Chapter:       &ChapterRef{Name: "The Return", Volume: 0, Number: 12, URL: "https://x/12", ID: "c12"},
		LastExecution: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Interval:      Duration(0),
		ParentID:      "ScanPublication-abc",
		CreatedAt:     time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC),
		Progress:      &progress.Snapshot{Total: 2, Completed: 1},
		LastStatus:    200,
	}
}

func TestCheckpointManager(t *testing.T) {
	t.Run("MissingFileIsEmpty", func(t *testing.T) {
		mgr := newTestManager(t)
		snap, err := mgr.Load()
		if err != nil {
			t.Fatalf("Failed to load: %v", err)
		}
		if len(snap.Jobs) != 0 {
			t.Errorf("Expected no jobs, got %d", len(snap.Jobs))
		}
		if mgr.Exists() {
			t.Error("Expected no job file")
		}
	})

	t.Run("SaveAndLoadRoundTrip", func(t *testing.T) {
		mgr := newTestManager(t)
		rec := sampleRecord()
		scan := JobRecord{ID: "ScanPublication-abc", Kind: "scan_publication", PublicationID: "abc", Interval: Duration(time.Hour)}

		require.NoError(t, mgr.Save(&Snapshot{RunID: "run-1", Jobs: []JobRecord{rec, scan}}))

		loaded, err := mgr.Load()
		require.NoError(t, err)
		assert.Equal(t, CurrentVersion, loaded.Version)
		assert.Equal(t, "run-1", loaded.RunID)
		require.Len(t, loaded.Jobs, 2)

		got := loaded.Jobs[0]
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, rec.Kind, got.Kind)
		assert.Equal(t, rec.PublicationID, got.PublicationID)
		assert.Equal(t, *rec.Chapter, *got.Chapter)
		assert.True(t, rec.LastExecution.Equal(got.LastExecution))
		assert.Equal(t, rec.ParentID, got.ParentID)
		assert.Equal(t, rec.Progress.Completed, got.Progress.Completed)
		assert.Equal(t, 200, got.LastStatus)
		assert.Equal(t, Duration(time.Hour), loaded.Jobs[1].Interval)
		assert.Nil(t, loaded.Jobs[1].Chapter)
	})

	t.Run("UpdateAddRemove", func(t *testing.T) {
		mgr := newTestManager(t)
		rec := sampleRecord()

		require.NoError(t, mgr.Update(func(s *Snapshot) error {
			assert.True(t, s.Add(rec))
			assert.False(t, s.Add(rec), "duplicate ids are ignored")
			return nil
		}))

		snap, err := mgr.Load()
		require.NoError(t, err)
		require.Len(t, snap.Jobs, 1)

		require.NoError(t, mgr.Update(func(s *Snapshot) error {
			assert.True(t, s.Remove(rec.ID))
			assert.False(t, s.Remove(rec.ID))
			return nil
		}))
		snap, err = mgr.Load()
		require.NoError(t, err)
		assert.Empty(t, snap.Jobs)
	})

	t.Run("AtomicWrite", func(t *testing.T) {
		mgr := newTestManager(t)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				rec := sampleRecord()
				rec.LastStatus = n
				_ = mgr.Save(&Snapshot{Jobs: []JobRecord{rec}})
			}(i)
		}
		wg.Wait()

		loaded, err := mgr.Load()
		if err != nil {
			t.Fatalf("Failed to load job file after concurrent saves: %v", err)
		}
		if len(loaded.Jobs) != 1 {
			t.Fatalf("Job file corrupted after concurrent saves")
		}
		_, err = os.Stat(mgr.Path() + ".tmp")
		assert.True(t, os.IsNotExist(err), "temporary file is renamed away")
	})

	t.Run("BackupAndDelete", func(t *testing.T) {
		mgr := newTestManager(t)
		require.NoError(t, mgr.Save(&Snapshot{Jobs: []JobRecord{sampleRecord()}}))
		require.NoError(t, mgr.Backup())
		assert.FileExists(t, mgr.Path()+".backup")

		require.NoError(t, mgr.Delete())
		assert.False(t, mgr.Exists())
		require.NoError(t, mgr.Delete(), "deleting twice is fine")
	})

	t.Run("RejectsNewerVersion", func(t *testing.T) {
		mgr := newTestManager(t)
		require.NoError(t, os.WriteFile(mgr.Path(), []byte(`{"version": 99, "jobs": []}`), 0o600))
		_, err := mgr.Load()
		assert.Error(t, err)
	})
}

func TestDurationJSON(t *testing.T) {
	data, err := json.Marshal(Duration(90 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, `"1h30m0s"`, string(data))

	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"45s"`), &d))
	assert.Equal(t, Duration(45*time.Second), d)

	require.NoError(t, json.Unmarshal([]byte(`1000000000`), &d))
	assert.Equal(t, Duration(time.Second), d)

	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
}

func TestNewManagerRequiresPath(t *testing.T) {
	_, err := NewManager("", nil)
	assert.Error(t, err)
}
