package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"chaptervault/pkg/logger"
	"chaptervault/pkg/progress"
)

// CurrentVersion is written into every job file
const CurrentVersion = 1

// Duration is a time.Duration that serializes as "1h0m0s"
type Duration time.Duration

// MarshalJSON encodes the duration as a Go duration string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var ns int64
	if err := json.Unmarshal(data, &ns); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	*d = Duration(ns)
	return nil
}

// ChapterRef identifies a chapter inside a job record
type ChapterRef struct {
	Name   string  `json:"name,omitempty"`
	Volume float64 `json:"volume"`
	Number float64 `json:"number"`
	URL    string  `json:"url,omitempty"`
	ID     string  `json:"id,omitempty"`
}

// JobRecord is the persisted form of one scheduled job
type JobRecord struct {
	ID            string             `json:"id"`
	Kind          string             `json:"kind"`
	PublicationID string             `json:"publication_id"`
	Chapter       *ChapterRef        `json:"chapter,omitempty"`
	LastExecution time.Time          `json:"last_execution"`
	Interval      Duration           `json:"interval"`
	ParentID      string             `json:"parent_id,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	Progress      *progress.Snapshot `json:"progress,omitempty"`
	LastStatus    int                `json:"last_status,omitempty"`
}

// Snapshot is the whole job file
type Snapshot struct {
	Version int         `json:"version"`
	RunID   string      `json:"run_id,omitempty"`
	SavedAt time.Time   `json:"saved_at"`
	Jobs    []JobRecord `json:"jobs"`
}

// Manager reads and writes the job file
type Manager struct {
	path   string
	mu     sync.Mutex
	logger logger.Logger
}

// NewManager creates a manager for the job file at path
func NewManager(path string, log logger.Logger) (*Manager, error) {
	if path == "" {
		return nil, errors.New("job file path is required")
	}
	if log == nil {
		log = logger.GetLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create job file directory: %w", err)
	}
	return &Manager{path: path, logger: log}, nil
}

// Path returns the job file location
func (m *Manager) Path() string {
	return m.path
}

// Load reads the job file. A missing file yields an empty snapshot.
func (m *Manager) Load() (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.Open(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Snapshot{Version: CurrentVersion}, nil
		}
		return nil, fmt.Errorf("failed to open job file: %w", err)
	}
	defer file.Close()

	var snapshot Snapshot
	if err := json.NewDecoder(file).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode job file: %w", err)
	}
	if snapshot.Version > CurrentVersion {
		return nil, fmt.Errorf("job file version %d is newer than supported version %d", snapshot.Version, CurrentVersion)
	}

	m.logger.DebugWithFields("Job file loaded", map[string]interface{}{
		"path":     m.path,
		"jobs":     len(snapshot.Jobs),
		"saved_at": snapshot.SavedAt,
	})
	return &snapshot, nil
}

// Save writes the snapshot atomically
func (m *Manager) Save(snapshot *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot.Version = CurrentVersion
	snapshot.SavedAt = time.Now()
	if snapshot.Jobs == nil {
		snapshot.Jobs = []JobRecord{}
	}

	tempPath := m.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary job file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snapshot); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode job file: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync job file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close job file: %w", err)
	}

	if err := os.Rename(tempPath, m.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace job file: %w", err)
	}

	m.logger.DebugWithFields("Job file saved", map[string]interface{}{
		"path": m.path,
		"jobs": len(snapshot.Jobs),
	})
	return nil
}

// Update loads the file, applies change and saves the result
func (m *Manager) Update(change func(*Snapshot) error) error {
	snapshot, err := m.Load()
	if err != nil {
		return err
	}
	if err := change(snapshot); err != nil {
		return err
	}
	return m.Save(snapshot)
}

// Delete removes the job file
func (m *Manager) Delete() error {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete job file: %w", err)
	}
	m.logger.Info("Job file deleted")
	return nil
}

// Exists checks if the job file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Backup copies the job file to <path>.backup before it is rewritten on import
func (m *Manager) Backup() error {
	if !m.Exists() {
		return nil
	}

	src, err := os.Open(m.path)
	if err != nil {
		return fmt.Errorf("failed to open job file for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(m.path + ".backup")
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy job file to backup: %w", err)
	}

	m.logger.Debug("Job file backed up")
	return nil
}

// Find returns the record with the given id
func (s *Snapshot) Find(id string) (JobRecord, bool) {
	for _, rec := range s.Jobs {
		if rec.ID == id {
			return rec, true
		}
	}
	return JobRecord{}, false
}

// Add appends rec unless a record with the same id exists. It reports whether
// the record was added.
func (s *Snapshot) Add(rec JobRecord) bool {
	if _, ok := s.Find(rec.ID); ok {
		return false
	}
	s.Jobs = append(s.Jobs, rec)
	return true
}

// Remove drops the record with the given id and reports whether it existed
func (s *Snapshot) Remove(id string) bool {
	for i, rec := range s.Jobs {
		if rec.ID == id {
			s.Jobs = append(s.Jobs[:i], s.Jobs[i+1:]...)
			return true
		}
	}
	return false
}
