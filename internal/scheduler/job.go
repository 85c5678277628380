package scheduler

import (
	"fmt"
	"time"

	"chaptervault/pkg/checkpoint"
	"chaptervault/pkg/errors"
	"chaptervault/pkg/manga"
	"chaptervault/pkg/progress"
)

// Kind is the type of work a job performs
type Kind string

const (
	KindDownloadChapter Kind = "DownloadChapter"
	KindScanPublication Kind = "ScanPublication"
)

// Job is one entry of the job set. Only the scheduler mutates it.
type Job struct {
	ID            string
	Kind          Kind
	Publication   *manga.Publication
	Chapter       *manga.Chapter
	LastExecution time.Time
	// Interval is the recurrence; zero runs the job once
	Interval  time.Duration
	ParentID  string
	CreatedAt time.Time

	token      *progress.Token
	running    bool
	lastStatus errors.Status
}

// DownloadJobID is the identity of the download job for a chapter
func DownloadJobID(ch manga.Chapter) string {
	return fmt.Sprintf("%s-%s", KindDownloadChapter, ch.Key())
}

// ScanJobID is the identity of the scan job for a publication
func ScanJobID(pub *manga.Publication) string {
	return fmt.Sprintf("%s-%s", KindScanPublication, pub.InternalID)
}

// NewDownloadJob creates a one-off download job. parentID names the scan
// job that spawned it, if any.
func NewDownloadJob(ch manga.Chapter, parentID string) *Job {
	c := ch
	return &Job{
		ID:          DownloadJobID(ch),
		Kind:        KindDownloadChapter,
		Publication: ch.Publication,
		Chapter:     &c,
		ParentID:    parentID,
		CreatedAt:   time.Now(),
		token:       progress.NewToken(),
	}
}

// NewScanJob creates a job listing a publication's chapters every interval
func NewScanJob(pub *manga.Publication, interval time.Duration) *Job {
	return &Job{
		ID:          ScanJobID(pub),
		Kind:        KindScanPublication,
		Publication: pub,
		Interval:    interval,
		CreatedAt:   time.Now(),
		token:       progress.NewToken(),
	}
}

// Recurring reports whether the job is rescheduled after it runs
func (j *Job) Recurring() bool {
	return j.Interval > 0
}

// Due reports whether the job should be dispatched at now. A one-off job
// leaves the set when it finishes, so one that is present and idle was never
// run or was interrupted, and is due either way.
func (j *Job) Due(now time.Time) bool {
	if j.running {
		return false
	}
	if !j.Recurring() || j.LastExecution.IsZero() {
		return true
	}
	return !now.Before(j.LastExecution.Add(j.Interval))
}

// NextRun returns when the job becomes due again; zero means it is due
// or will not run again
func (j *Job) NextRun() time.Time {
	if j.LastExecution.IsZero() || !j.Recurring() {
		return time.Time{}
	}
	return j.LastExecution.Add(j.Interval)
}

// Record converts the job into its persisted form
func (j *Job) Record() checkpoint.JobRecord {
	rec := checkpoint.JobRecord{
		ID:            j.ID,
		Kind:          string(j.Kind),
		LastExecution: j.LastExecution,
		Interval:      checkpoint.Duration(j.Interval),
		ParentID:      j.ParentID,
		CreatedAt:     j.CreatedAt,
		LastStatus:    int(j.lastStatus),
	}
	if j.Publication != nil {
		rec.PublicationID = j.Publication.InternalID
	}
	if j.Chapter != nil {
		rec.Chapter = &checkpoint.ChapterRef{
			Name:   j.Chapter.Name,
			Volume: j.Chapter.Volume,
			Number: j.Chapter.Number,
			URL:    j.Chapter.URL,
			ID:     j.Chapter.ID,
		}
	}
	if j.token != nil {
		snap := j.token.Snapshot()
		rec.Progress = &snap
	}
	return rec
}

// JobFromRecord rebuilds a job from its persisted form. pub must be the
// publication named by rec.PublicationID.
func JobFromRecord(rec checkpoint.JobRecord, pub *manga.Publication) (*Job, error) {
	if pub == nil {
		return nil, fmt.Errorf("job %s: unknown publication %q", rec.ID, rec.PublicationID)
	}

	var job *Job
	switch Kind(rec.Kind) {
	case KindDownloadChapter:
		if rec.Chapter == nil {
			return nil, fmt.Errorf("job %s: download job without chapter", rec.ID)
		}
		ch := manga.NewChapterFromNumbers(pub, rec.Chapter.Name, rec.Chapter.Volume, rec.Chapter.Number, rec.Chapter.URL, rec.Chapter.ID)
		job = NewDownloadJob(ch, rec.ParentID)
	case KindScanPublication:
		job = NewScanJob(pub, time.Duration(rec.Interval))
	default:
		return nil, fmt.Errorf("job %s: unknown kind %q", rec.ID, rec.Kind)
	}

	job.Interval = time.Duration(rec.Interval)
	job.LastExecution = rec.LastExecution
	job.lastStatus = errors.Status(rec.LastStatus)
	if !rec.CreatedAt.IsZero() {
		job.CreatedAt = rec.CreatedAt
	}
	return job, nil
}

func (j *Job) String() string {
	if j.Chapter != nil {
		return fmt.Sprintf("%s Chapter: %s", j.ID, j.Chapter.String())
	}
	return j.ID
}
