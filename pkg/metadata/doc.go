// Package metadata writes the sidecar files catalog viewers read:
// ComicInfo.xml inside every chapter archive and series.json in every
// publication folder.
package metadata
