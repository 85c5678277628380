// Package checkpoint persists the scheduler's job set.
//
// The daemon imports the job file at startup, re-exports it every snapshot
// interval and at shutdown. Each record carries the job's identity, timing,
// chapter reference and last progress snapshot, so a restart resumes the same
// work without duplicates. Files are written to a temporary path, synced and
// renamed over the previous version.
package checkpoint
