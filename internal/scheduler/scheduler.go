package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chaptervault/internal/connector"
	"chaptervault/pkg/checkpoint"
	"chaptervault/pkg/errors"
	"chaptervault/pkg/logger"
	"chaptervault/pkg/manga"
	"chaptervault/pkg/notify"
	"chaptervault/pkg/progress"
)

// Scheduler defaults
const (
	DefaultTickInterval     = 1 * time.Second
	DefaultSnapshotInterval = 30 * time.Second
	DefaultWorkers          = 4
)

// ErrUnknownJob is returned for ids that are not in the job set
var ErrUnknownJob = stderrors.New("unknown job")

// Assembler produces one chapter archive
type Assembler interface {
	Assemble(ctx context.Context, ch manga.Chapter, urls []string, referrer string, token *progress.Token) errors.Status
}

// DownloadChecker reports whether a chapter archive already exists
type DownloadChecker interface {
	IsDownloaded(ch manga.Chapter) bool
}

// Publications resolves internal ids when jobs are restored
type Publications interface {
	Publication(internalID string) (*manga.Publication, bool)
}

// Options configures a Scheduler
type Options struct {
	TickInterval     time.Duration
	SnapshotInterval time.Duration
	Workers          int
	QueueSize        int
}

// Deps are the collaborators a Scheduler drives
type Deps struct {
	Connectors   *connector.Registry
	Assembler    Assembler
	Checker      DownloadChecker
	Notifier     notify.Notifier
	Checkpoints  *checkpoint.Manager
	Publications Publications
}

// Scheduler holds the job set and dispatches due jobs to a worker pool.
// One loop decides what is due; execution never blocks it.
type Scheduler struct {
	opts  Options
	deps  Deps
	pool  *WorkerPool
	runID string
	log   logger.Logger

	mu       sync.Mutex
	jobs     map[string]*Job
	stopping bool

	// now is replaced in tests
	now func() time.Time
}

// New creates a scheduler. Deps.Checkpoints may be nil to disable persistence.
func New(opts Options, deps Deps, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = DefaultSnapshotInterval
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Noop()
	}

	runID := uuid.NewString()
	log = log.WithFields(map[string]interface{}{
		"component": "scheduler",
		"run_id":    runID,
	})

	return &Scheduler{
		opts:  opts,
		deps:  deps,
		pool:  NewWorkerPool(opts.Workers, opts.QueueSize, log),
		runID: runID,
		log:   log,
		jobs:  make(map[string]*Job),
		now:   time.Now,
	}
}

// RunID identifies this scheduler instance in snapshots
func (s *Scheduler) RunID() string {
	return s.runID
}

// Add inserts a job. It returns false when a job with the same id exists.
func (s *Scheduler) Add(job *Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(job)
}

func (s *Scheduler) addLocked(job *Job) bool {
	if _, exists := s.jobs[job.ID]; exists {
		return false
	}
	if job.token == nil {
		job.token = progress.NewToken()
	}
	s.jobs[job.ID] = job
	logger.LogJobEvent(s.log, job.ID, "added", map[string]interface{}{
		"kind":      string(job.Kind),
		"parent_id": job.ParentID,
	})
	return true
}

// Remove deletes a job, cancelling it first if it is running
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false
	}
	job.token.Cancel()
	delete(s.jobs, id)
	logger.LogJobEvent(s.log, id, "removed", nil)
	return true
}

// Cancel requests cooperative cancellation of a job. A recurring job, or one
// that is not running, leaves the job set; a running one-off job leaves it
// when its execution returns.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	job.token.Cancel()
	if job.Recurring() || !job.running {
		delete(s.jobs, id)
	}
	logger.LogJobEvent(s.log, id, "cancelled", map[string]interface{}{
		"running": job.running,
	})
	return nil
}

// Get returns a copy of the persisted form of a job
func (s *Scheduler) Get(id string) (checkpoint.JobRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return checkpoint.JobRecord{}, false
	}
	return job.Record(), true
}

// Progress returns the progress of a job's current or last execution
func (s *Scheduler) Progress(id string) (progress.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return progress.Snapshot{}, false
	}
	return job.token.Snapshot(), true
}

// Records lists every job ordered by creation time, then id
func (s *Scheduler) Records() []checkpoint.JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]checkpoint.JobRecord, 0, len(s.jobs))
	for _, job := range s.jobs {
		records = append(records, job.Record())
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
	return records
}

// Len returns the number of jobs
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Run starts the workers and polls for due jobs until ctx is cancelled.
// Shutdown cancels running jobs, waits for the workers and writes the final
// snapshot. Call Import first to restore persisted jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()
	s.pool.Start(workCtx)

	logger.LogComponentStart("scheduler", map[string]interface{}{
		"tick_interval":     s.opts.TickInterval.String(),
		"snapshot_interval": s.opts.SnapshotInterval.String(),
		"workers":           s.opts.Workers,
		"jobs":              s.Len(),
	})

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()
	snapshots := time.NewTicker(s.opts.SnapshotInterval)
	defer snapshots.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.shutdown(stopWork)
		case <-ticker.C:
			s.Tick()
		case <-snapshots.C:
			if err := s.Export(); err != nil {
				s.log.WithError(err).Warn("Failed to write job snapshot")
			}
		}
	}
}

func (s *Scheduler) shutdown(stopWork context.CancelFunc) error {
	s.mu.Lock()
	s.stopping = true
	for _, job := range s.jobs {
		if job.running {
			job.token.Cancel()
		}
	}
	s.mu.Unlock()

	s.pool.Stop()
	stopWork()

	err := s.Export()
	logger.LogComponentStop("scheduler", "context cancelled")
	return err
}

// Tick dispatches every due job and returns how many were handed to a
// worker. A job that finds the queue full stays due for the next tick.
func (s *Scheduler) Tick() int {
	now := s.now()

	s.mu.Lock()
	due := make([]*Job, 0)
	for _, job := range s.jobs {
		if job.Due(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}
		return due[i].ID < due[j].ID
	})

	dispatched := 0
	for _, job := range due {
		previous := job.LastExecution
		previousToken := job.token
		job.running = true
		job.LastExecution = now
		job.token = progress.NewToken()

		ok, err := s.pool.TrySubmit(s.task(job))
		if err != nil || !ok {
			job.running = false
			job.LastExecution = previous
			job.token = previousToken
			if err != nil {
				s.log.WithError(err).Debug("Dispatch stopped")
			}
			break
		}
		dispatched++
		logger.LogJobEvent(s.log, job.ID, "dispatched", nil)
	}
	s.mu.Unlock()

	return dispatched
}

func (s *Scheduler) task(job *Job) Task {
	token := job.token
	return Task{
		JobID: job.ID,
		Run: func(ctx context.Context) {
			start := time.Now()
			var status errors.Status
			switch {
			case token.Cancelled():
				status = errors.StatusCancelled
			case job.Kind == KindDownloadChapter:
				status = s.runDownload(ctx, job, token)
			case job.Kind == KindScanPublication:
				status = s.runScan(ctx, job, token)
			default:
				status = errors.StatusFailed
			}
			token.Complete()
			s.finish(job, token, status, time.Since(start))
		},
	}
}

func (s *Scheduler) finish(job *Job, token *progress.Token, status errors.Status, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job.running = false
	job.lastStatus = status
	fields := map[string]interface{}{
		"status":   int(status),
		"duration": elapsed,
	}

	current, ok := s.jobs[job.ID]
	if !ok || current != job {
		logger.LogJobEvent(s.log, job.ID, "finished after removal", fields)
		return
	}
	if s.stopping && token.Cancelled() {
		// interrupted by shutdown; the job is exported and runs again
		if job.Recurring() {
			job.LastExecution = time.Time{}
		}
		logger.LogJobEvent(s.log, job.ID, "interrupted", fields)
		return
	}
	if !job.Recurring() {
		delete(s.jobs, job.ID)
		logger.LogJobEvent(s.log, job.ID, "completed", fields)
		return
	}
	if token.Cancelled() {
		delete(s.jobs, job.ID)
		logger.LogJobEvent(s.log, job.ID, "cancelled", fields)
		return
	}
	logger.LogJobEvent(s.log, job.ID, "rescheduled", fields)
}

func (s *Scheduler) runDownload(ctx context.Context, job *Job, token *progress.Token) errors.Status {
	ch := *job.Chapter
	log := s.log.WithFields(map[string]interface{}{
		"job_id":  job.ID,
		"chapter": ch.String(),
	})

	if s.deps.Checker != nil && s.deps.Checker.IsDownloaded(ch) {
		log.Info("Chapter is already downloaded, skipping")
		return errors.StatusCreated
	}

	conn, err := s.deps.Connectors.For(job.Publication)
	if err != nil {
		log.WithError(err).Error("No connector for publication")
		return errors.StatusFailed
	}

	images, err := conn.FetchChapterImages(ctx, ch)
	if err != nil {
		log.WithError(err).Error("Failed to list chapter images")
		return errors.StatusFor(err)
	}

	status := s.deps.Assembler.Assemble(ctx, ch, images.URLs, images.Referrer, token)
	if status == errors.StatusOK || status == errors.StatusCreated {
		message := notify.ChapterMessage(job.Publication.SortName, ch.FormattedNumber())
		if err := s.deps.Notifier.Notify(ctx, notify.TitleChapterDownloaded, message, true); err != nil {
			log.WithError(err).Warn("Failed to send notification")
		}
	}
	return status
}

func (s *Scheduler) runScan(ctx context.Context, job *Job, token *progress.Token) errors.Status {
	token.AddTotal(1)
	log := s.log.WithFields(map[string]interface{}{
		"job_id":      job.ID,
		"publication": job.Publication.SortName,
	})

	conn, err := s.deps.Connectors.For(job.Publication)
	if err != nil {
		log.WithError(err).Error("No connector for publication")
		return errors.StatusFailed
	}

	chapters, err := conn.ListChapters(ctx, job.Publication)
	if err != nil {
		log.WithError(err).Error("Failed to list chapters")
		return errors.StatusFor(err)
	}

	fresh := NewChapters(job.Publication, chapters, s.deps.Checker)
	spawned := 0
	s.mu.Lock()
	for _, ch := range fresh {
		if s.addLocked(NewDownloadJob(ch, job.ID)) {
			spawned++
		}
	}
	s.mu.Unlock()
	token.Increment()

	log.InfoWithFields("Publication scanned", map[string]interface{}{
		"listed":  len(chapters),
		"new":     len(fresh),
		"spawned": spawned,
	})
	return errors.StatusOK
}

// NewChapters drops chapters below the publication's floor and chapters
// that are already downloaded, and raises the latest-available mark to the
// highest listed chapter number
func NewChapters(pub *manga.Publication, chapters []manga.Chapter, checker DownloadChecker) []manga.Chapter {
	fresh := make([]manga.Chapter, 0, len(chapters))
	for _, ch := range chapters {
		pub.UpdateLatestAvailable(ch.Number)
		if ch.Number < pub.IgnoreChaptersBelow {
			continue
		}
		if checker != nil && checker.IsDownloaded(ch) {
			continue
		}
		fresh = append(fresh, ch)
	}
	return fresh
}

// Import loads the job file into the job set. Records whose publication is
// unknown are skipped.
func (s *Scheduler) Import() error {
	if s.deps.Checkpoints == nil {
		return nil
	}

	snapshot, err := s.deps.Checkpoints.Load()
	if err != nil {
		return fmt.Errorf("failed to load jobs: %w", err)
	}

	imported := 0
	for _, rec := range snapshot.Jobs {
		var pub *manga.Publication
		if s.deps.Publications != nil {
			pub, _ = s.deps.Publications.Publication(rec.PublicationID)
		}
		job, err := JobFromRecord(rec, pub)
		if err != nil {
			s.log.WithError(err).Warn("Skipping persisted job")
			continue
		}
		if s.Add(job) {
			imported++
		}
	}

	s.log.InfoWithFields("Jobs imported", map[string]interface{}{
		"file":     s.deps.Checkpoints.Path(),
		"imported": imported,
		"stored":   len(snapshot.Jobs),
	})
	return nil
}

// Export writes the job set to the job file
func (s *Scheduler) Export() error {
	if s.deps.Checkpoints == nil {
		return nil
	}
	snapshot := &checkpoint.Snapshot{
		Version: checkpoint.CurrentVersion,
		RunID:   s.runID,
		Jobs:    s.Records(),
	}
	if err := s.deps.Checkpoints.Save(snapshot); err != nil {
		return fmt.Errorf("failed to export jobs: %w", err)
	}
	return nil
}
