package manga

import (
	"cmp"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var (
	// chapterNameChars is the allow-list applied to chapter names before they
	// become part of a file name
	chapterNameChars = regexp.MustCompile(`[A-z0-9 .\-,\]\['()~!]+`)
	// volumeChapterTokens are stripped so the name cannot repeat the numbering
	volumeChapterTokens = regexp.MustCompile(`(?i)(Vol(ume)?|Ch(apter)?)\.?`)
)

// ArchiveExtension is the extension of every sealed chapter archive
const ArchiveExtension = ".cbz"

// Chapter is one numbered unit of a publication. It is an immutable value;
// the Publication pointer is a back-reference only.
type Chapter struct {
	Publication *Publication
	Name        string
	Volume      float64
	Number      float64
	URL         string
	ID          string

	fileName string
}

// NewChapter parses the volume and chapter numbers with a fixed '.' decimal
// point. An empty volume means volume 0.
func NewChapter(pub *Publication, name, volume, number, url, id string) (Chapter, error) {
	vol := 0.0
	if strings.TrimSpace(volume) != "" {
		v, err := ParseNumber(volume)
		if err != nil {
			return Chapter{}, fmt.Errorf("volume %q: %w", volume, err)
		}
		vol = v
	}

	num, err := ParseNumber(number)
	if err != nil {
		return Chapter{}, fmt.Errorf("chapter %q: %w", number, err)
	}

	return NewChapterFromNumbers(pub, name, vol, num, url, id), nil
}

// NewChapterFromNumbers builds a chapter from already parsed numbers
func NewChapterFromNumbers(pub *Publication, name string, volume, number float64, url, id string) Chapter {
	c := Chapter{
		Publication: pub,
		Name:        name,
		Volume:      volume,
		Number:      number,
		URL:         url,
		ID:          id,
	}
	c.fileName = buildFileName(name, volume, number)
	return c
}

func buildFileName(name string, volume, number float64) string {
	base := fmt.Sprintf("Vol.%s Ch.%s", FormatNumber(volume), FormatNumber(number))
	cleaned := CleanChapterName(name)
	if cleaned == "" {
		return base
	}
	return base + " - " + cleaned
}

// CleanChapterName keeps only allow-listed characters and removes
// volume/chapter tokens. The result may be empty.
func CleanChapterName(name string) string {
	if name == "" {
		return ""
	}
	kept := strings.Join(chapterNameChars.FindAllString(name, -1), "")
	return strings.TrimSpace(volumeChapterTokens.ReplaceAllString(kept, ""))
}

// ParseNumber parses a chapter or volume number independent of the host locale
func ParseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// FormatNumber renders a number in its shortest form: 12 -> "12", 75.5 -> "75.5"
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// FileName is the sanitized "Vol.<v> Ch.<c>[ - <name>]" display name
func (c Chapter) FileName() string {
	if c.fileName == "" {
		return buildFileName(c.Name, c.Volume, c.Number)
	}
	return c.fileName
}

// FormattedVolume returns the volume number as used in file names
func (c Chapter) FormattedVolume() string { return FormatNumber(c.Volume) }

// FormattedNumber returns the chapter number as used in file names
func (c Chapter) FormattedNumber() string { return FormatNumber(c.Number) }

// Key identifies the chapter independent of its name:
// "<publication internal id>-<volume>-<number>"
func (c Chapter) Key() string {
	internalID := ""
	if c.Publication != nil {
		internalID = c.Publication.InternalID
	}
	return internalID + "-" + c.FormattedVolume() + "-" + c.FormattedNumber()
}

// ArchiveName is "<folder> - <fileName>.cbz"
func (c Chapter) ArchiveName() string {
	return c.Publication.Folder() + " - " + c.FileName() + ArchiveExtension
}

// ArchivePath is the canonical archive location below root
func (c Chapter) ArchivePath(root string) string {
	return filepath.Join(root, c.Publication.Folder(), c.ArchiveName())
}

func (c Chapter) String() string {
	sortName := ""
	if c.Publication != nil {
		sortName = c.Publication.SortName
	}
	if c.Name == "" {
		return fmt.Sprintf("%s Vol.%s Ch.%s", sortName, c.FormattedVolume(), c.FormattedNumber())
	}
	return fmt.Sprintf("%s Vol.%s Ch.%s %s", sortName, c.FormattedVolume(), c.FormattedNumber(), c.Name)
}

// Compare orders chapters by volume, then chapter number
func Compare(a, b Chapter) int {
	if c := cmp.Compare(a.Volume, b.Volume); c != 0 {
		return c
	}
	return cmp.Compare(a.Number, b.Number)
}

// Equal reports whether both chapters have the same volume and number
func (c Chapter) Equal(other Chapter) bool {
	return Compare(c, other) == 0
}

// SortChapters returns chapters in ascending order with duplicates removed.
// The first chapter seen for a (volume, number) pair wins.
func SortChapters(chapters []Chapter) []Chapter {
	sorted := slices.Clone(chapters)
	slices.SortStableFunc(sorted, Compare)
	return slices.CompactFunc(sorted, Chapter.Equal)
}
