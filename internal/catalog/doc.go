// Package catalog stores tracked publications in a SQLite database.
//
// The store hands out one *manga.Publication per internal id for the life
// of the process. Scan and download jobs share that pointer, so the
// latest-downloaded and latest-available marks they raise are the ones
// written back by Sync.
package catalog
