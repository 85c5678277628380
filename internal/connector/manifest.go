package connector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maruel/natural"
	"golang.org/x/sync/semaphore"
	"gopkg.in/yaml.v3"

	"chaptervault/pkg/logger"
	"chaptervault/pkg/manga"
	"chaptervault/pkg/ratelimit"
)

// ManifestName is the connector name stored with manifest publications
const ManifestName = "manifest"

// ErrManifestNotFound is returned when no manifest exists for an id
var ErrManifestNotFound = errors.New("manifest not found")

// Manifest describes one publication and its chapters in YAML
type Manifest struct {
	ID                  string            `yaml:"id"`
	Name                string            `yaml:"name"`
	Folder              string            `yaml:"folder,omitempty"`
	Authors             []string          `yaml:"authors,omitempty"`
	Tags                []string          `yaml:"tags,omitempty"`
	Description         string            `yaml:"description,omitempty"`
	Year                int               `yaml:"year,omitempty"`
	Language            string            `yaml:"language,omitempty"`
	Status              string            `yaml:"status,omitempty"`
	Website             string            `yaml:"website,omitempty"`
	Cover               string            `yaml:"cover,omitempty"`
	Referrer            string            `yaml:"referrer,omitempty"`
	IgnoreChaptersBelow float64           `yaml:"ignore_chapters_below,omitempty"`
	Chapters            []ManifestChapter `yaml:"chapters"`
}

// ManifestChapter is one chapter entry of a manifest
type ManifestChapter struct {
	Volume string   `yaml:"volume,omitempty"`
	Number string   `yaml:"number"`
	Name   string   `yaml:"name,omitempty"`
	ID     string   `yaml:"id,omitempty"`
	URL    string   `yaml:"url,omitempty"`
	Images []string `yaml:"images"`
}

// Fetcher downloads a remote manifest body
type Fetcher interface {
	Fetch(ctx context.Context, rt ratelimit.RequestType, url string) ([]byte, error)
}

// ManifestConnector reads publications from YAML manifests, either files in a
// directory or http(s) URLs fetched through the shared transport
type ManifestConnector struct {
	dir     string
	fetcher Fetcher
	remote  *semaphore.Weighted
	log     logger.Logger
}

// maxRemoteFetches bounds concurrent manifest downloads
const maxRemoteFetches = 2

// NewManifestConnector creates a connector over dir. fetcher may be nil when
// only local manifests are used.
func NewManifestConnector(dir string, fetcher Fetcher, log logger.Logger) *ManifestConnector {
	if log == nil {
		log = logger.GetLogger()
	}
	return &ManifestConnector{
		dir:     dir,
		fetcher: fetcher,
		remote:  semaphore.NewWeighted(maxRemoteFetches),
		log:     log.WithField("connector", ManifestName),
	}
}

// Name implements Connector
func (m *ManifestConnector) Name() string {
	return ManifestName
}

// ParseManifest decodes and validates a manifest
func ParseManifest(data []byte) (*Manifest, error) {
	var mf Manifest
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if strings.TrimSpace(mf.ID) == "" {
		return nil, errors.New("manifest id is required")
	}
	if strings.TrimSpace(mf.Name) == "" {
		return nil, fmt.Errorf("manifest %q: name is required", mf.ID)
	}
	for i, ch := range mf.Chapters {
		if strings.TrimSpace(ch.Number) == "" {
			return nil, fmt.Errorf("manifest %q: chapter %d has no number", mf.ID, i+1)
		}
	}
	return &mf, nil
}

// Publication builds the publication a manifest describes
func (mf *Manifest) Publication(source string) (*manga.Publication, error) {
	folder := ""
	if mf.Folder != "" {
		folder = manga.SanitizeFolderName(mf.Folder)
	}
	pub := manga.NewPublication(ManifestName, mf.ID, mf.Name, folder)
	pub.SetTextFields(mf.Description, mf.Authors, mf.Tags)
	pub.Year = mf.Year
	pub.OriginalLanguage = mf.Language
	pub.CoverURL = mf.Cover
	pub.IgnoreChaptersBelow = mf.IgnoreChaptersBelow
	pub.WebsiteURL = mf.Website
	if isRemote(source) {
		pub.WebsiteURL = source
	}
	if mf.Status != "" {
		status, err := manga.ParseReleaseStatus(mf.Status)
		if err != nil {
			return nil, fmt.Errorf("manifest %q: %w", mf.ID, err)
		}
		pub.ReleaseStatus = status
	}
	return pub, nil
}

// FetchPublicationMetadata implements Connector. urlOrID is an http(s) URL
// of a manifest, a path to a manifest file, or a manifest id in the directory.
func (m *ManifestConnector) FetchPublicationMetadata(ctx context.Context, urlOrID string) (*manga.Publication, error) {
	mf, err := m.load(ctx, urlOrID)
	if err != nil {
		return nil, err
	}
	return mf.Publication(urlOrID)
}

// ListChapters implements Connector
func (m *ManifestConnector) ListChapters(ctx context.Context, pub *manga.Publication) ([]manga.Chapter, error) {
	mf, err := m.load(ctx, m.sourceOf(pub))
	if err != nil {
		return nil, err
	}

	chapters := make([]manga.Chapter, 0, len(mf.Chapters))
	for _, entry := range mf.Chapters {
		ch, err := manga.NewChapter(pub, entry.Name, entry.Volume, entry.Number, entry.URL, entry.ID)
		if err != nil {
			m.log.WithError(err).WarnWithFields("Skipping chapter with invalid numbers", map[string]interface{}{
				"publication": pub.SortName,
			})
			continue
		}
		chapters = append(chapters, ch)
	}
	return manga.SortChapters(chapters), nil
}

// FetchChapterImages implements Connector
func (m *ManifestConnector) FetchChapterImages(ctx context.Context, ch manga.Chapter) (ChapterImages, error) {
	if ch.Publication == nil {
		return ChapterImages{}, errors.New("chapter has no publication")
	}
	mf, err := m.load(ctx, m.sourceOf(ch.Publication))
	if err != nil {
		return ChapterImages{}, err
	}

	for _, entry := range mf.Chapters {
		if !entryMatches(entry, ch) {
			continue
		}
		referrer := mf.Referrer
		if referrer == "" {
			referrer = entry.URL
		}
		return ChapterImages{URLs: append([]string(nil), entry.Images...), Referrer: referrer}, nil
	}
	return ChapterImages{}, fmt.Errorf("chapter %s not in manifest %q", ch.String(), mf.ID)
}

// Discover parses every manifest in the directory, in natural file order
func (m *ManifestConnector) Discover(ctx context.Context) ([]*manga.Publication, error) {
	files, err := m.manifestFiles()
	if err != nil {
		return nil, err
	}

	pubs := make([]*manga.Publication, 0, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pub, err := m.FetchPublicationMetadata(ctx, file)
		if err != nil {
			m.log.WithError(err).WarnWithFields("Skipping invalid manifest", map[string]interface{}{
				"file": file,
			})
			continue
		}
		pubs = append(pubs, pub)
	}
	return pubs, nil
}

func (m *ManifestConnector) manifestFiles() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read manifest directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Sort(natural.StringSlice(names))

	files := make([]string, len(names))
	for i, name := range names {
		files[i] = filepath.Join(m.dir, name)
	}
	return files, nil
}

// sourceOf returns where a publication's manifest lives
func (m *ManifestConnector) sourceOf(pub *manga.Publication) string {
	if isRemote(pub.WebsiteURL) {
		return pub.WebsiteURL
	}
	return pub.PublicationID
}

func (m *ManifestConnector) load(ctx context.Context, source string) (*Manifest, error) {
	data, err := m.read(ctx, source)
	if err != nil {
		return nil, err
	}
	return ParseManifest(data)
}

func (m *ManifestConnector) read(ctx context.Context, source string) ([]byte, error) {
	if isRemote(source) {
		if m.fetcher == nil {
			return nil, fmt.Errorf("cannot fetch %s: no transport configured", source)
		}
		if err := m.remote.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer m.remote.Release(1)
		return m.fetcher.Fetch(ctx, ratelimit.RequestMetadata, source)
	}

	candidates := []string{source}
	if !strings.ContainsAny(source, `/\`) {
		candidates = []string{
			filepath.Join(m.dir, source+".yaml"),
			filepath.Join(m.dir, source+".yml"),
		}
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}
	}
	if len(candidates) > 1 {
		return m.findByID(source)
	}
	return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, source)
}

// findByID scans the directory for a manifest whose file name differs from
// its id
func (m *ManifestConnector) findByID(id string) ([]byte, error) {
	files, err := m.manifestFiles()
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		var head struct {
			ID string `yaml:"id"`
		}
		if yaml.Unmarshal(data, &head) == nil && head.ID == id {
			return data, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, id)
}

func entryMatches(entry ManifestChapter, ch manga.Chapter) bool {
	if ch.ID != "" && entry.ID != "" {
		return entry.ID == ch.ID
	}
	number, err := manga.ParseNumber(entry.Number)
	if err != nil || number != ch.Number {
		return false
	}
	volume := 0.0
	if strings.TrimSpace(entry.Volume) != "" {
		if volume, err = manga.ParseNumber(entry.Volume); err != nil {
			return false
		}
	}
	return volume == ch.Volume
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}
