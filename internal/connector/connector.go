package connector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"chaptervault/pkg/manga"
)

// ErrUnknownConnector is returned when no connector is registered under a name
var ErrUnknownConnector = errors.New("unknown connector")

// ChapterImages lists the images of one chapter in page order
type ChapterImages struct {
	URLs     []string
	Referrer string
}

// Connector is one content source
type Connector interface {
	// Name is stored with every publication and selects the connector again
	// when jobs are restored
	Name() string

	// ListChapters returns the publication's chapters sorted ascending by
	// volume then number, without duplicates
	ListChapters(ctx context.Context, pub *manga.Publication) ([]manga.Chapter, error)

	// FetchChapterImages returns the image URLs of a chapter
	FetchChapterImages(ctx context.Context, ch manga.Chapter) (ChapterImages, error)

	// FetchPublicationMetadata resolves a URL or source id into a publication
	FetchPublicationMetadata(ctx context.Context, urlOrID string) (*manga.Publication, error)
}

// Registry maps connector names to connectors
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry creates a registry holding the given connectors
func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{connectors: make(map[string]Connector)}
	for _, c := range connectors {
		r.Register(c)
	}
	return r
}

// Register adds or replaces a connector
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.Name()] = c
}

// Get returns the connector registered under name
func (r *Registry) Get(name string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConnector, name)
	}
	return c, nil
}

// For returns the connector a publication was imported with
func (r *Registry) For(pub *manga.Publication) (Connector, error) {
	return r.Get(pub.ConnectorName)
}

// Names lists the registered connector names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
