// Package scheduler holds the job set and drives chapter downloads.
//
// Two kinds of job exist. A scan job lists a publication's chapters through
// its connector and spawns one download job per chapter that is neither
// below the publication's floor nor already downloaded. A download job asks
// the connector for the chapter's image URLs and hands them to the archive
// assembler.
//
// Job ids are derived from what the job targets:
//
//	DownloadChapter-<publication internal id>-<volume>-<chapter number>
//	ScanPublication-<publication internal id>
//
// so adding a job that already exists, for example when jobs are restored
// from the job file, is a no-op.
//
// A single loop wakes every tick, selects the due jobs and hands them to a
// WorkerPool without blocking. A job that does not fit into the queue stays
// due for the next tick. One-off jobs leave the set after they run; recurring
// jobs are rescheduled until cancelled.
package scheduler
