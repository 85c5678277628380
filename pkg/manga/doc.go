// Package manga holds the publication and chapter model: chapter identity and
// file naming, ordering, folder-name sanitizing and the per-publication
// high-water marks.
package manga
