package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// keyedMutex serializes work per key. Entries are dropped when the last
// holder unlocks.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns the matching unlock func
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// size is the number of keys currently held or waited on
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// folderLockName is the advisory lock file kept in each publication folder
const folderLockName = ".chaptervault.lock"

const folderLockRetry = 100 * time.Millisecond

// lockFolder takes the cross-process lock on a publication folder
func lockFolder(ctx context.Context, dir string) (*flock.Flock, error) {
	fl := flock.New(filepath.Join(dir, folderLockName))
	ok, err := fl.TryLockContext(ctx, folderLockRetry)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", dir, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: %w", dir, os.ErrDeadlineExceeded)
	}
	return fl, nil
}
