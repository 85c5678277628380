package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"

	"chaptervault/internal/catalog"
	"chaptervault/internal/connector"
	"chaptervault/internal/downloader"
	"chaptervault/internal/scheduler"
	"chaptervault/pkg/checkpoint"
	"chaptervault/pkg/config"
	"chaptervault/pkg/logger"
	"chaptervault/pkg/manga"
	"chaptervault/pkg/notify"
	"chaptervault/pkg/ratelimit"
	"chaptervault/pkg/storage"
	"chaptervault/pkg/transport"
)

// Options carries collaborators that are not built from the configuration
type Options struct {
	// Accounts supplies ntfy credentials; nil posts anonymously
	Accounts notify.AccountSource
	// HTTPClient replaces the transport's default client
	HTTPClient *http.Client
	Logger     logger.Logger
}

// Engine owns every long-lived component of the daemon
type Engine struct {
	cfg *config.Config
	log logger.Logger

	transport   *transport.Client
	catalog     *catalog.Store
	manifests   *connector.ManifestConnector
	connectors  *connector.Registry
	markers     *storage.MarkerStore
	resolver    *storage.Resolver
	notifier    notify.Notifier
	assembler   *downloader.Assembler
	checkpoints *checkpoint.Manager
	scheduler   *scheduler.Scheduler

	restoreOnce sync.Once
	restoreErr  error
}

// New builds the engine from cfg. The caller must Close it.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	limits := ratelimit.NewKeyed(cfg.RateLimit.DefaultPerMinute, map[ratelimit.RequestType]int{
		ratelimit.RequestImage: cfg.RateLimit.ImagePerMinute,
	})
	client := transport.NewClient(transport.Options{
		Timeout:    cfg.Download.RequestTimeout,
		UserAgent:  cfg.Download.UserAgent,
		Limits:     limits,
		HTTPClient: opts.HTTPClient,
	}, log)

	store, err := catalog.Open(cfg.Catalog.Database, log)
	if err != nil {
		client.Close()
		return nil, err
	}

	notifier, err := notify.NewFromConfig(cfg.Notifications, opts.Accounts, log)
	if err != nil {
		return nil, multierr.Combine(err, store.Close(), client.Close())
	}

	checkpoints, err := checkpoint.NewManager(cfg.Scheduler.JobsFile, log)
	if err != nil {
		return nil, multierr.Combine(err, store.Close(), client.Close())
	}

	manifests := connector.NewManifestConnector(cfg.Catalog.ManifestDir, client, log)
	connectors := connector.NewRegistry(manifests)

	markers := storage.NewMarkerStore(cfg.Download.Root, storage.DefaultMarkerMode)
	resolver := storage.NewResolver(cfg.Download.Root, markers, log)

	fetcher := downloader.NewFetcher(client, notifier, downloader.FetcherOptions{
		MaxAttempts:  cfg.Download.MaxAttempts,
		MinValidSize: cfg.Download.MinValidSize,
		RetryDelay:   cfg.Download.RetryDelay,
	}, log)
	assembler := downloader.NewAssembler(downloader.AssemblerOptions{
		Root:          cfg.Download.Root,
		DirectoryMode: cfg.Download.DirectoryMode,
		ArchiveMode:   cfg.Download.ArchiveMode,
	}, fetcher, resolver, markers, log)

	sched := scheduler.New(scheduler.Options{
		TickInterval:     cfg.Scheduler.TickInterval,
		SnapshotInterval: cfg.Scheduler.SnapshotInterval,
		Workers:          cfg.Download.ConcurrentJobs,
		QueueSize:        cfg.Scheduler.QueueSize,
	}, scheduler.Deps{
		Connectors:   connectors,
		Assembler:    assembler,
		Checker:      resolver,
		Notifier:     notifier,
		Checkpoints:  checkpoints,
		Publications: store,
	}, log)

	return &Engine{
		cfg:         cfg,
		log:         log.WithField("component", "engine"),
		transport:   client,
		catalog:     store,
		manifests:   manifests,
		connectors:  connectors,
		markers:     markers,
		resolver:    resolver,
		notifier:    notifier,
		assembler:   assembler,
		checkpoints: checkpoints,
		scheduler:   sched,
	}, nil
}

// Catalog returns the publication store
func (e *Engine) Catalog() *catalog.Store { return e.catalog }

// Connectors returns the connector registry
func (e *Engine) Connectors() *connector.Registry { return e.connectors }

// Manifests returns the manifest connector
func (e *Engine) Manifests() *connector.ManifestConnector { return e.manifests }

// Resolver returns the archive lookup used before every download
func (e *Engine) Resolver() *storage.Resolver { return e.resolver }

// Scheduler returns the job scheduler
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.scheduler }

// Checkpoints returns the job file manager
func (e *Engine) Checkpoints() *checkpoint.Manager { return e.checkpoints }

// Track imports a publication through its manifest, stores it in the catalog
// and schedules a recurring scan. A zero interval uses the configured one.
func (e *Engine) Track(ctx context.Context, urlOrID string, interval time.Duration) (*manga.Publication, error) {
	pub, err := e.manifests.FetchPublicationMetadata(ctx, urlOrID)
	if err != nil {
		return nil, fmt.Errorf("failed to import %s: %w", urlOrID, err)
	}
	return e.track(ctx, pub, interval)
}

// TrackManifests tracks every manifest in the manifest directory
func (e *Engine) TrackManifests(ctx context.Context) (int, error) {
	pubs, err := e.manifests.Discover(ctx)
	if err != nil {
		return 0, err
	}
	tracked := 0
	for _, pub := range pubs {
		if _, err := e.track(ctx, pub, 0); err != nil {
			e.log.WithError(err).Warn("Failed to track manifest")
			continue
		}
		tracked++
	}
	return tracked, nil
}

func (e *Engine) track(ctx context.Context, pub *manga.Publication, interval time.Duration) (*manga.Publication, error) {
	if existing, err := e.catalog.Get(ctx, pub.InternalID); err == nil {
		pub = existing
	} else if err := e.catalog.Save(ctx, pub); err != nil {
		return nil, err
	}

	if interval <= 0 {
		interval = e.cfg.Scheduler.ScanInterval
	}
	if e.scheduler.Add(scheduler.NewScanJob(pub, interval)) {
		e.log.InfoWithFields("Publication tracked", map[string]interface{}{
			"publication": pub.SortName,
			"internal_id": pub.InternalID,
			"interval":    interval.String(),
		})
	}
	return pub, nil
}

// Untrack removes every job of pub and returns how many were removed. The
// catalog entry is left to the caller.
func (e *Engine) Untrack(pub *manga.Publication) int {
	removed := 0
	for _, rec := range e.scheduler.Records() {
		if rec.PublicationID == pub.InternalID && e.scheduler.Remove(rec.ID) {
			removed++
		}
	}
	return removed
}

// ensureScans gives every catalog publication a scan job
func (e *Engine) ensureScans(ctx context.Context) error {
	pubs, err := e.catalog.List(ctx)
	if err != nil {
		return err
	}
	for _, pub := range pubs {
		e.scheduler.Add(scheduler.NewScanJob(pub, e.cfg.Scheduler.ScanInterval))
	}
	return nil
}

// Restore loads the persisted job set once. Tracking after Restore keeps the
// persisted timing of scans that already exist.
func (e *Engine) Restore() error {
	e.restoreOnce.Do(func() {
		e.restoreErr = e.scheduler.Import()
	})
	return e.restoreErr
}

// Save writes the job set to the job file
func (e *Engine) Save() error {
	return e.scheduler.Export()
}

// Run restores the job set, schedules scans for the catalog and drives the
// scheduler until ctx is cancelled
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Restore(); err != nil {
		return err
	}
	if err := e.ensureScans(ctx); err != nil {
		return err
	}

	e.log.InfoWithFields("Engine started", map[string]interface{}{
		"download_root": e.cfg.Download.Root,
		"jobs":          e.scheduler.Len(),
		"connectors":    e.connectors.Names(),
	})
	return e.scheduler.Run(ctx)
}

// Close writes the catalog marks and releases the database and transport
func (e *Engine) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return multierr.Combine(
		e.catalog.Sync(ctx),
		e.catalog.Close(),
		e.transport.Close(),
	)
}
