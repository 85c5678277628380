package storage

import (
	"fmt"

	"chaptervault/pkg/logger"
	"chaptervault/pkg/manga"
)

// Match describes which rule found an existing archive
type Match struct {
	Rule string
	Path string
}

// Resolver decides whether a chapter's archive already exists. It never
// renames or deletes archives; the only write it may do is removing a stale
// marker.
type Resolver struct {
	root  string
	rules []Rule
	log   logger.Logger
}

// DefaultRules returns the lookup chain in order: canonical path, marker,
// strict number scan, fuzzy name match
func DefaultRules(markers *MarkerStore) []Rule {
	return []Rule{
		DirectPathRule{},
		MarkerRule{Markers: markers},
		StrictScanRule{},
		FuzzyNameRule{},
	}
}

// NewResolver creates a resolver with the default rule chain
func NewResolver(root string, markers *MarkerStore, log logger.Logger) *Resolver {
	return NewResolverWithRules(root, DefaultRules(markers), log)
}

// NewResolverWithRules creates a resolver with a custom rule chain
func NewResolverWithRules(root string, rules []Rule, log logger.Logger) *Resolver {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Resolver{
		root:  root,
		rules: rules,
		log:   log.WithField("component", "resolver"),
	}
}

// Root returns the download root the resolver searches
func (r *Resolver) Root() string {
	return r.root
}

// Resolve runs the rule chain and stops at the first match
func (r *Resolver) Resolve(ch manga.Chapter) (Match, bool, error) {
	q := NewQuery(r.root, ch)

	exists, err := dirExists(q.Dir)
	if err != nil {
		return Match{}, false, fmt.Errorf("failed to stat publication folder: %w", err)
	}
	if !exists {
		return Match{}, false, nil
	}

	for _, rule := range r.rules {
		path, err := rule.Find(q)
		if err != nil {
			return Match{}, false, fmt.Errorf("%s: %w", rule.Name(), err)
		}
		if path != "" {
			return Match{Rule: rule.Name(), Path: path}, true, nil
		}
	}
	return Match{}, false, nil
}

// IsDownloaded reports whether an archive for ch exists. Lookup errors are
// logged and treated as "not downloaded" so the chapter is fetched again.
func (r *Resolver) IsDownloaded(ch manga.Chapter) bool {
	match, ok, err := r.Resolve(ch)
	if err != nil {
		r.log.WithError(err).WarnWithFields("Archive lookup failed", map[string]interface{}{
			"chapter": ch.String(),
		})
		return false
	}
	if ok {
		r.log.DebugWithFields("Chapter already archived", map[string]interface{}{
			"chapter": ch.String(),
			"rule":    match.Rule,
			"path":    match.Path,
		})
	}
	return ok
}
