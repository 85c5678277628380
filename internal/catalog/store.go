package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"chaptervault/pkg/logger"
	"chaptervault/pkg/manga"
)

const schema = `
CREATE TABLE IF NOT EXISTS publications (
    internal_id        TEXT PRIMARY KEY,
    connector          TEXT NOT NULL,
    publication_id     TEXT NOT NULL,
    sort_name          TEXT NOT NULL,
    folder_name        TEXT NOT NULL,
    authors            TEXT NOT NULL DEFAULT '[]',
    tags               TEXT NOT NULL DEFAULT '[]',
    description        TEXT NOT NULL DEFAULT '',
    year               INTEGER NOT NULL DEFAULT 0,
    language           TEXT NOT NULL DEFAULT '',
    release_status     TEXT NOT NULL DEFAULT 'Continuing',
    website_url        TEXT NOT NULL DEFAULT '',
    cover_url          TEXT NOT NULL DEFAULT '',
    ignore_below       REAL NOT NULL DEFAULT 0,
    latest_downloaded  REAL NOT NULL DEFAULT 0,
    latest_available   REAL NOT NULL DEFAULT 0,
    created_at         DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at         DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_publications_source ON publications(connector, publication_id);
`

const selectColumns = `internal_id, connector, publication_id, sort_name, folder_name, authors, tags,
	description, year, language, release_status, website_url, cover_url, ignore_below,
	latest_downloaded, latest_available`

// ErrNotFound is returned when no publication has the requested id
var ErrNotFound = errors.New("publication not found")

// Store persists publications in SQLite. Every publication is handed out as
// one shared pointer per internal id so concurrent chapter jobs update the
// same high-water marks.
type Store struct {
	db  *sql.DB
	log logger.Logger

	mu    sync.Mutex
	cache map[string]*manga.Publication
}

// Open opens or creates the catalog database at path
func Open(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	// one connection keeps writes serialized
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}

	return &Store{
		db:    db,
		log:   log.WithField("component", "catalog"),
		cache: make(map[string]*manga.Publication),
	}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts or updates a publication and makes it the shared instance
// for its internal id
func (s *Store) Save(ctx context.Context, pub *manga.Publication) error {
	authors, err := json.Marshal(nonNil(pub.Authors))
	if err != nil {
		return fmt.Errorf("failed to encode authors: %w", err)
	}
	tags, err := json.Marshal(nonNil(pub.Tags))
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO publications (internal_id, connector, publication_id, sort_name, folder_name,
			authors, tags, description, year, language, release_status, website_url, cover_url,
			ignore_below, latest_downloaded, latest_available, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(internal_id) DO UPDATE SET
			sort_name = excluded.sort_name,
			folder_name = excluded.folder_name,
			authors = excluded.authors,
			tags = excluded.tags,
			description = excluded.description,
			year = excluded.year,
			language = excluded.language,
			release_status = excluded.release_status,
			website_url = excluded.website_url,
			cover_url = excluded.cover_url,
			ignore_below = excluded.ignore_below,
			latest_downloaded = MAX(latest_downloaded, excluded.latest_downloaded),
			latest_available = MAX(latest_available, excluded.latest_available),
			updated_at = excluded.updated_at`,
		pub.InternalID, pub.ConnectorName, pub.PublicationID, pub.SortName, pub.Folder(),
		string(authors), string(tags), pub.Description, pub.Year, pub.OriginalLanguage,
		pub.ReleaseStatus.String(), pub.WebsiteURL, pub.CoverURL, pub.IgnoreChaptersBelow,
		pub.LatestDownloaded(), pub.LatestAvailable(), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save publication %s: %w", pub.InternalID, err)
	}

	s.mu.Lock()
	s.cache[pub.InternalID] = pub
	s.mu.Unlock()
	return nil
}

// Get returns the publication with the given internal id
func (s *Store) Get(ctx context.Context, internalID string) (*manga.Publication, error) {
	s.mu.Lock()
	if pub, ok := s.cache[internalID]; ok {
		s.mu.Unlock()
		return pub, nil
	}
	s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM publications WHERE internal_id = ?`, internalID)
	pub, err := scanPublication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, internalID)
	}
	if err != nil {
		return nil, err
	}
	return s.share(pub), nil
}

// Publication looks up a publication for job restore
func (s *Store) Publication(internalID string) (*manga.Publication, bool) {
	pub, err := s.Get(context.Background(), internalID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.WithError(err).Warn("Failed to load publication")
		}
		return nil, false
	}
	return pub, true
}

// List returns every publication ordered by sort name
func (s *Store) List(ctx context.Context) ([]*manga.Publication, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM publications ORDER BY sort_name COLLATE NOCASE, internal_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list publications: %w", err)
	}
	defer rows.Close()

	var pubs []*manga.Publication
	for rows.Next() {
		pub, err := scanPublication(rows)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, s.share(pub))
	}
	return pubs, rows.Err()
}

// Delete removes a publication from the catalog. Archives on disk are kept.
func (s *Store) Delete(ctx context.Context, internalID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM publications WHERE internal_id = ?`, internalID)
	if err != nil {
		return fmt.Errorf("failed to delete publication: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, internalID)
	}

	s.mu.Lock()
	delete(s.cache, internalID)
	s.mu.Unlock()
	return nil
}

// Rename moves the publication's folder below root and stores the new name
func (s *Store) Rename(ctx context.Context, internalID, root, folder string) (*manga.Publication, error) {
	pub, err := s.Get(ctx, internalID)
	if err != nil {
		return nil, err
	}
	from := pub.Folder()
	if err := pub.MoveFolder(root, folder); err != nil {
		return nil, err
	}
	if err := s.Save(ctx, pub); err != nil {
		return nil, err
	}

	s.log.InfoWithFields("Publication folder renamed", map[string]interface{}{
		"publication": pub.SortName,
		"from":        from,
		"to":          pub.Folder(),
	})
	return pub, nil
}

// Sync writes the high-water marks of every loaded publication
func (s *Store) Sync(ctx context.Context) error {
	s.mu.Lock()
	pubs := make([]*manga.Publication, 0, len(s.cache))
	for _, pub := range s.cache {
		pubs = append(pubs, pub)
	}
	s.mu.Unlock()

	var errs []error
	for _, pub := range pubs {
		if err := s.Save(ctx, pub); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// share returns the cached instance for pub's id, caching pub if none exists
func (s *Store) share(pub *manga.Publication) *manga.Publication {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.cache[pub.InternalID]; ok {
		return cached
	}
	s.cache[pub.InternalID] = pub
	return pub
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPublication(row scanner) (*manga.Publication, error) {
	var (
		internalID, connector, publicationID, sortName, folder string
		authors, tags, description, language, status           string
		website, cover                                         string
		year                                                   int
		ignoreBelow, downloaded, available                     float64
	)
	if err := row.Scan(&internalID, &connector, &publicationID, &sortName, &folder, &authors, &tags,
		&description, &year, &language, &status, &website, &cover, &ignoreBelow,
		&downloaded, &available); err != nil {
		return nil, err
	}

	pub := manga.NewPublication(connector, publicationID, sortName, folder)
	pub.InternalID = internalID
	pub.Description = description
	pub.Year = year
	pub.OriginalLanguage = language
	pub.WebsiteURL = website
	pub.CoverURL = cover
	pub.IgnoreChaptersBelow = ignoreBelow
	pub.RestoreMarks(downloaded, available)

	if err := json.Unmarshal([]byte(authors), &pub.Authors); err != nil {
		return nil, fmt.Errorf("publication %s: invalid authors: %w", internalID, err)
	}
	if err := json.Unmarshal([]byte(tags), &pub.Tags); err != nil {
		return nil, fmt.Errorf("publication %s: invalid tags: %w", internalID, err)
	}
	if parsed, err := manga.ParseReleaseStatus(status); err == nil {
		pub.ReleaseStatus = parsed
	}
	return pub, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
