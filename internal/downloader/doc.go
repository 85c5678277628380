// Package downloader turns a chapter and its image URLs into a sealed .cbz
// archive.
//
// Fetcher retries single images against the shared transport. Assembler
// checks the resolver, stages images and ComicInfo.xml in a temporary
// directory, zips them next to the canonical path, renames the zip into place
// and records the marker. Work on one chapter is serialized in-process by
// archive path and across processes by a lock file in the publication folder.
package downloader
