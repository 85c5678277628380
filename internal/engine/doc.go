// Package engine wires the chaptervault daemon together.
//
// New builds one shared transport, the publication catalog, the manifest
// connector, the archive lookup, the image fetcher and assembler, the
// notifier chain and the job scheduler from a config.Config. Run restores
// the job file, makes sure every catalog publication has a scan job and
// drives the scheduler until its context is cancelled. Close flushes the
// catalog and releases the database and transport.
package engine
