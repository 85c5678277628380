package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"chaptervault/pkg/manga"
)

// SeriesInfoName is the per-publication catalog sidecar
const SeriesInfoName = "series.json"

// DefaultSeriesMode is applied to series.json after writing
const DefaultSeriesMode os.FileMode = 0o666

// SeriesInfo is the document wrapper; readers require the "metadata" key
type SeriesInfo struct {
	Metadata SeriesMetadata `json:"metadata"`
}

// SeriesMetadata holds every field the readers expect, including the
// ones that are always empty.
type SeriesMetadata struct {
	Type            string `json:"type"`
	Publisher       string `json:"publisher"`
	ComicID         int    `json:"comicid"`
	BookType        string `json:"booktype"`
	ComicImage      string `json:"ComicImage"`
	TotalIssues     int    `json:"total_issues"`
	PublicationRun  string `json:"publication_run"`
	Name            string `json:"name"`
	Year            string `json:"year"`
	Status          string `json:"status"`
	DescriptionText string `json:"description_text"`
}

// NewSeriesInfo builds series.json for a publication
func NewSeriesInfo(pub *manga.Publication) *SeriesInfo {
	year := ""
	if pub.Year > 0 {
		year = strconv.Itoa(pub.Year)
	}
	return &SeriesInfo{
		Metadata: SeriesMetadata{
			Type:            "Manga",
			Name:            pub.SortName,
			Year:            year,
			Status:          SeriesStatus(pub.ReleaseStatus),
			DescriptionText: pub.Description,
		},
	}
}

// SeriesStatus maps a release status to the series.json vocabulary
func SeriesStatus(s manga.ReleaseStatus) string {
	switch s {
	case manga.StatusContinuing:
		return "Continuing"
	case manga.StatusCompleted:
		return "Ended"
	default:
		return s.String()
	}
}

// WriteSeriesInfo writes series.json into dir unless it is already there.
// overwrite replaces an existing file. It reports whether a file was written.
func WriteSeriesInfo(dir string, pub *manga.Publication, overwrite bool, mode os.FileMode) (bool, error) {
	path := filepath.Join(dir, SeriesInfoName)

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}

	data, err := json.Marshal(NewSeriesInfo(pub))
	if err != nil {
		return false, fmt.Errorf("failed to marshal series info: %w", err)
	}

	if mode == 0 {
		mode = DefaultSeriesMode
	}
	if err := os.WriteFile(path, data, mode); err != nil {
		return false, fmt.Errorf("failed to write series info: %w", err)
	}
	if err := os.Chmod(path, mode); err != nil {
		return true, fmt.Errorf("failed to set series info permissions: %w", err)
	}
	return true, nil
}

// LoadSeriesInfo reads series.json from dir
func LoadSeriesInfo(dir string) (*SeriesInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, SeriesInfoName))
	if err != nil {
		return nil, fmt.Errorf("failed to read series info: %w", err)
	}

	var info SeriesInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal series info: %w", err)
	}
	return &info, nil
}
