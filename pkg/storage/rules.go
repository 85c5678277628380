package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"chaptervault/pkg/manga"

	"github.com/maruel/natural"
)

// Rule is one step of the "already downloaded?" chain. Find returns the path
// of the matching archive, or "" when the rule does not match.
type Rule interface {
	Name() string
	Find(q *Query) (string, error)
}

// Query carries one lookup through the rule chain. The archive listing is
// read at most once per query.
type Query struct {
	Chapter manga.Chapter
	Dir     string

	archives []string
	listed   bool
}

// NewQuery prepares a lookup of ch below root
func NewQuery(root string, ch manga.Chapter) *Query {
	return &Query{
		Chapter: ch,
		Dir:     filepath.Join(root, ch.Publication.Folder()),
	}
}

// Archives lists *.cbz file names in the publication folder in natural order
func (q *Query) Archives() ([]string, error) {
	if q.listed {
		return q.archives, nil
	}

	entries, err := os.ReadDir(q.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), manga.ArchiveExtension) {
			names = append(names, entry.Name())
		}
	}
	sort.Sort(natural.StringSlice(names))

	q.archives = names
	q.listed = true
	return names, nil
}

// DirectPathRule matches the canonical "<folder> - <fileName>.cbz" path
type DirectPathRule struct{}

func (DirectPathRule) Name() string { return "direct-path" }

func (DirectPathRule) Find(q *Query) (string, error) {
	path := filepath.Join(q.Dir, q.Chapter.ArchiveName())
	if isFile(path) {
		return path, nil
	}
	return "", nil
}

// MarkerRule follows the chapter's marker. A marker pointing at a missing
// file is stale and gets removed.
type MarkerRule struct {
	Markers *MarkerStore
}

func (MarkerRule) Name() string { return "marker" }

func (r MarkerRule) Find(q *Query) (string, error) {
	path, ok, err := r.Markers.Read(q.Chapter)
	if err != nil || !ok {
		return "", err
	}
	if path != "" && isFile(path) {
		return path, nil
	}
	if err := r.Markers.Remove(q.Chapter); err != nil {
		return "", err
	}
	return "", nil
}

// StrictScanRule looks for "Vol.<V> Ch.<C>" followed by a space, '-', '.' or
// the end of the name, rejecting "Ch.<C>.<n>" when C is a whole number.
type StrictScanRule struct{}

func (StrictScanRule) Name() string { return "strict-scan" }

func (StrictScanRule) Find(q *Query) (string, error) {
	archives, err := q.Archives()
	if err != nil {
		return "", err
	}
	for _, name := range archives {
		if StrictNameMatch(strings.TrimSuffix(name, filepath.Ext(name)), q.Chapter) {
			return filepath.Join(q.Dir, name), nil
		}
	}
	return "", nil
}

// StrictNameMatch tests an archive name without extension against a chapter
func StrictNameMatch(stem string, ch manga.Chapter) bool {
	chapterNum := ch.FormattedNumber()
	token := "Vol." + ch.FormattedVolume() + " Ch." + chapterNum

	found := strings.Contains(stem, token+" ") ||
		strings.Contains(stem, token+"-") ||
		strings.Contains(stem, token+".") ||
		strings.HasSuffix(stem, token)
	if !found {
		return false
	}

	if !strings.Contains(chapterNum, ".") {
		decimalSuffix := regexp.MustCompile(`Ch\.` + regexp.QuoteMeta(chapterNum) + `\.[0-9]+`)
		if decimalSuffix.MatchString(stem) {
			return false
		}
	}
	return true
}

var volumeChapterPattern = regexp.MustCompile(`.*(Vol(?:ume)?\.([0-9]+)\D*Ch(?:apter)?\.([0-9]+(?:\.[0-9]+)?)(?: - (.*))?)\.cbz`)

// FuzzyNameRule is the last resort. It accepts an archive whose name equals
// the canonical one ignoring case, or whose parsed volume, chapter and name
// agree with the chapter.
type FuzzyNameRule struct{}

func (FuzzyNameRule) Name() string { return "fuzzy-name" }

func (FuzzyNameRule) Find(q *Query) (string, error) {
	archives, err := q.Archives()
	if err != nil {
		return "", err
	}
	for _, name := range archives {
		if FuzzyNameMatch(name, q.Chapter) {
			return filepath.Join(q.Dir, name), nil
		}
	}
	return "", nil
}

// FuzzyNameMatch tests an archive file name (with extension) against a chapter
func FuzzyNameMatch(fileName string, ch manga.Chapter) bool {
	if strings.EqualFold(fileName, ch.ArchiveName()) {
		return true
	}

	m := volumeChapterPattern.FindStringSubmatchIndex(fileName)
	if m == nil {
		return false
	}
	group := func(i int) (string, bool) {
		if m[2*i] < 0 {
			return "", false
		}
		return fileName[m[2*i]:m[2*i+1]], true
	}

	fileVolume, _ := group(2)
	fileChapter, _ := group(3)
	fileName4, hasName := group(4)

	volumeMatches := fileVolume == "" || fileVolume == ch.FormattedVolume()

	chapterMatches := fileChapter == ch.FormattedNumber()
	if !chapterMatches {
		if n, err := strconv.ParseFloat(fileChapter, 64); err == nil && n == ch.Number {
			chapterMatches = true
		}
	}

	return volumeMatches && chapterMatches && namesRelated(fileName4, hasName, ch.Name)
}

func namesRelated(fileName string, hasFileName bool, chapterName string) bool {
	if !hasFileName {
		return chapterName == ""
	}
	if chapterName == "" {
		return false
	}
	return fileName == chapterName ||
		strings.HasPrefix(chapterName, fileName) ||
		strings.HasPrefix(fileName, chapterName) ||
		firstWord(chapterName) == firstWord(fileName)
}

func firstWord(s string) string {
	word, _, _ := strings.Cut(s, " ")
	return word
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

func dirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
