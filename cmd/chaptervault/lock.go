package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"chaptervault/internal/engine"
	"chaptervault/pkg/auth"
	"chaptervault/pkg/config"
	"chaptervault/pkg/logger"
)

var errDaemonRunning = errors.New("another chaptervault process holds the lock")

// acquireLock takes the instance lock without blocking. Only one process may
// own the job file and the catalog at a time.
func acquireLock(cfg *config.Config) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Scheduler.LockFile), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	lock := flock.New(cfg.Scheduler.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", cfg.Scheduler.LockFile, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", errDaemonRunning, cfg.Scheduler.LockFile)
	}
	return lock, nil
}

// openEngine locks the instance and builds the engine. The returned release
// closes the engine and drops the lock.
func openEngine(cfg *config.Config) (*engine.Engine, func(), error) {
	lock, err := acquireLock(cfg)
	if err != nil {
		return nil, nil, err
	}

	opts := engine.Options{Logger: logger.GetLogger()}
	if cfg.Notifications.Enabled {
		if manager, err := auth.NewManager(); err == nil {
			opts.Accounts = manager
		} else {
			logger.WithError(err).Warn("Credential store unavailable, posting notifications anonymously")
		}
	}

	e, err := engine.New(cfg, opts)
	if err != nil {
		_ = lock.Unlock()
		return nil, nil, err
	}

	release := func() {
		if err := e.Close(); err != nil {
			logger.WithError(err).Error("Failed to close engine")
		}
		if err := lock.Unlock(); err != nil {
			logger.WithError(err).Warn("Failed to release lock")
		}
	}
	return e, release, nil
}
