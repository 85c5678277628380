package manga

import (
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// ReleaseStatus is the publication state reported by a source
type ReleaseStatus int

const (
	StatusContinuing ReleaseStatus = iota
	StatusCompleted
	StatusOnHiatus
	StatusCancelled
	StatusUnreleased
)

var releaseStatusNames = map[ReleaseStatus]string{
	StatusContinuing: "Continuing",
	StatusCompleted:  "Completed",
	StatusOnHiatus:   "OnHiatus",
	StatusCancelled:  "Cancelled",
	StatusUnreleased: "Unreleased",
}

func (s ReleaseStatus) String() string {
	if name, ok := releaseStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ReleaseStatus(%d)", int(s))
}

// ParseReleaseStatus accepts the names returned by String, case-insensitively
func ParseReleaseStatus(s string) (ReleaseStatus, error) {
	for status, name := range releaseStatusNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return status, nil
		}
	}
	return StatusContinuing, fmt.Errorf("unknown release status %q", s)
}

func (s ReleaseStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ReleaseStatus) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = StatusContinuing
		return nil
	}
	parsed, err := ParseReleaseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// internalIDSpace namespaces derived publication ids
var internalIDSpace = uuid.MustParse("6f1d2a4e-3b7c-4e8a-9c51-0d2f6b8e7a13")

// Publication is a series tracked by the catalog. Chapters reference it
// without owning it. The folder name and high-water marks are guarded by
// an internal mutex because concurrent chapter jobs share one Publication.
type Publication struct {
	InternalID          string
	ConnectorName       string
	PublicationID       string
	SortName            string
	Authors             []string
	Tags                []string
	Description         string
	Year                int
	OriginalLanguage    string
	ReleaseStatus       ReleaseStatus
	WebsiteURL          string
	CoverURL            string
	IgnoreChaptersBelow float64

	mu               sync.Mutex
	folderName       string
	latestDownloaded float64
	latestAvailable  float64
}

// NewPublication creates a publication with HTML-decoded text fields, a
// sanitized folder name and an internal id derived from connector and
// source id. An empty folderName derives one from sortName.
func NewPublication(connector, publicationID, sortName, folderName string) *Publication {
	sortName = html.UnescapeString(sortName)
	if folderName == "" {
		folderName = SanitizeFolderName(sortName)
	}
	return &Publication{
		InternalID:    DeriveInternalID(connector, publicationID),
		ConnectorName: connector,
		PublicationID: publicationID,
		SortName:      sortName,
		folderName:    folderName,
	}
}

// DeriveInternalID is stable for the same connector and source id
func DeriveInternalID(connector, publicationID string) string {
	id := uuid.NewSHA1(internalIDSpace, []byte(connector+"/"+publicationID))
	return strings.ReplaceAll(id.String(), "-", "")[:16]
}

// SetTextFields HTML-decodes and stores descriptive fields
func (p *Publication) SetTextFields(description string, authors, tags []string) {
	p.Description = html.UnescapeString(description)
	p.Authors = unescapeAll(authors)
	p.Tags = unescapeAll(tags)
}

func unescapeAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = html.UnescapeString(s)
	}
	return out
}

// Folder returns the current folder name below the download root
func (p *Publication) Folder() string {
	if p == nil {
		return ""
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.folderName
}

// LatestDownloaded returns the highest chapter number archived so far
func (p *Publication) LatestDownloaded() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latestDownloaded
}

// LatestAvailable returns the highest chapter number seen at the source
func (p *Publication) LatestAvailable() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latestAvailable
}

// RestoreMarks sets both high-water marks, used when loading from the catalog
func (p *Publication) RestoreMarks(downloaded, available float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latestDownloaded = downloaded
	p.latestAvailable = available
}

// UpdateLatestDownloaded raises the downloaded mark to the chapter's number.
// It never lowers it.
func (p *Publication) UpdateLatestDownloaded(c Chapter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c.Number > p.latestDownloaded {
		p.latestDownloaded = c.Number
	}
}

// UpdateLatestAvailable raises the available mark to n
func (p *Publication) UpdateLatestAvailable(n float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n > p.latestAvailable {
		p.latestAvailable = n
	}
}

// EnsureFolder creates the publication directory below root
func (p *Publication) EnsureFolder(root string, mode os.FileMode) (string, error) {
	dir := filepath.Join(root, p.Folder())
	if err := os.MkdirAll(dir, mode); err != nil {
		return "", fmt.Errorf("create publication folder: %w", err)
	}
	// MkdirAll is subject to umask
	if err := os.Chmod(dir, mode); err != nil {
		return "", fmt.Errorf("chmod publication folder: %w", err)
	}
	return dir, nil
}

// ErrFolderNotEmpty is returned by MoveFolder when entries of the old folder
// clash with the target and were left in place
var ErrFolderNotEmpty = errors.New("old publication folder is not empty")

// MoveFolder renames the publication folder below root. When the target
// already exists, the old tree is merged into it: entries missing there are
// moved over, and existing subdirectories are merged recursively. Clashing
// files stay in the old folder and are never deleted; if any remain,
// MoveFolder returns ErrFolderNotEmpty and keeps the old folder name.
func (p *Publication) MoveFolder(root, newFolder string) error {
	newFolder = SanitizeFolderName(newFolder)
	if newFolder == "" {
		return errors.New("new folder name is empty after sanitizing")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if newFolder == p.folderName {
		return nil
	}

	oldPath := filepath.Join(root, p.folderName)
	newPath := filepath.Join(root, newFolder)

	if _, err := os.Stat(oldPath); errors.Is(err, os.ErrNotExist) {
		p.folderName = newFolder
		return nil
	} else if err != nil {
		return fmt.Errorf("stat old folder: %w", err)
	}

	if _, err := os.Stat(newPath); errors.Is(err, os.ErrNotExist) {
		if err := os.Rename(oldPath, newPath); err != nil {
			return fmt.Errorf("rename publication folder: %w", err)
		}
		p.folderName = newFolder
		return nil
	}

	left, err := mergeInto(oldPath, newPath)
	if err != nil {
		return err
	}
	if len(left) > 0 {
		return fmt.Errorf("%w: %s left in %s", ErrFolderNotEmpty, strings.Join(left, ", "), oldPath)
	}
	p.folderName = newFolder
	return nil
}

// mergeInto moves the contents of oldPath into newPath and removes oldPath
// once it is empty. It returns the paths, relative to oldPath, it left behind.
func mergeInto(oldPath, newPath string) ([]string, error) {
	entries, err := os.ReadDir(oldPath)
	if err != nil {
		return nil, fmt.Errorf("read old folder: %w", err)
	}

	var left []string
	for _, entry := range entries {
		from := filepath.Join(oldPath, entry.Name())
		target := filepath.Join(newPath, entry.Name())

		info, err := os.Lstat(target)
		switch {
		case errors.Is(err, os.ErrNotExist):
			if err := os.Rename(from, target); err != nil {
				return left, fmt.Errorf("move %s: %w", entry.Name(), err)
			}
		case err != nil:
			return left, fmt.Errorf("stat %s: %w", target, err)
		case entry.IsDir() && info.IsDir():
			sub, err := mergeInto(from, target)
			for _, name := range sub {
				left = append(left, filepath.Join(entry.Name(), name))
			}
			if err != nil {
				return left, err
			}
		default:
			left = append(left, entry.Name())
		}
	}

	if len(left) > 0 {
		return left, nil
	}
	if err := os.Remove(oldPath); err != nil {
		return left, fmt.Errorf("remove old folder: %w", err)
	}
	return nil, nil
}

func (p *Publication) String() string {
	return fmt.Sprintf("Publication %s %s", p.SortName, p.InternalID)
}

// SanitizeFolderName HTML-decodes, NFC-normalizes and keeps only characters
// that are safe in a directory name on every supported filesystem. Trailing
// dots are trimmed.
func SanitizeFolderName(name string) string {
	name = norm.NFC.String(html.UnescapeString(name))

	var b strings.Builder
	for _, r := range name {
		if folderRuneAllowed(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimRight(b.String(), ".")
}

func folderRuneAllowed(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r >= 'À' && r <= 'Ö', r >= 'Ø' && r <= 'ö', r >= 'ø' && r <= 'ÿ':
		return true
	}
	return strings.ContainsRune(" .-,'()~!+", r)
}
