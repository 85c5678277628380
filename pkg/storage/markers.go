package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chaptervault/pkg/manga"
)

// DefaultMarkerMode is applied to marker files on POSIX systems
const DefaultMarkerMode os.FileMode = 0o775

// MarkerStore reads and writes the hidden ".<chapterID>" sidecar in a
// publication folder. Its content is the path of the chapter's archive.
type MarkerStore struct {
	root string
	mode os.FileMode
}

// NewMarkerStore creates a marker store below the download root
func NewMarkerStore(root string, mode os.FileMode) *MarkerStore {
	if mode == 0 {
		mode = DefaultMarkerMode
	}
	return &MarkerStore{root: root, mode: mode}
}

// Path returns the marker location for a chapter, or "" when the chapter has
// no source id
func (s *MarkerStore) Path(ch manga.Chapter) string {
	if ch.ID == "" {
		return ""
	}
	return filepath.Join(s.root, ch.Publication.Folder(), "."+ch.ID)
}

// Write records archivePath as the chapter's archive. Chapters without an id
// have no marker and Write is a no-op.
func (s *MarkerStore) Write(ch manga.Chapter, archivePath string) error {
	markerPath := s.Path(ch)
	if markerPath == "" {
		return nil
	}

	tempFile := markerPath + ".tmp"
	if err := os.WriteFile(tempFile, []byte(archivePath), s.mode); err != nil {
		return fmt.Errorf("failed to write marker: %w", err)
	}
	if err := os.Chmod(tempFile, s.mode); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to set marker mode: %w", err)
	}
	if err := os.Rename(tempFile, markerPath); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename marker: %w", err)
	}
	return nil
}

// Read returns the archive path recorded for the chapter. ok is false when no
// marker exists.
func (s *MarkerStore) Read(ch manga.Chapter) (path string, ok bool, err error) {
	markerPath := s.Path(ch)
	if markerPath == "" {
		return "", false, nil
	}

	data, err := os.ReadFile(markerPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read marker: %w", err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

// Remove deletes the chapter's marker if present
func (s *MarkerStore) Remove(ch manga.Chapter) error {
	markerPath := s.Path(ch)
	if markerPath == "" {
		return nil
	}
	if err := os.Remove(markerPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove marker: %w", err)
	}
	return nil
}
