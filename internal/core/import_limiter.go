package core

// import_limiter.go bounds how many import batches run at once.
//
// A semaphore caps parallel batches server-wide; requests wait up to maxWait
// for a slot before failing with ErrTooManyImports. Batches that target the
// same repository are additionally serialized by a per-repository lock, so
// duplicate detection and counters never race with another batch on the
// same records. The repository lock is taken before the batch slot: a batch
// queued behind its repository holds no slot, and different repositories
// import concurrently.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyImports is returned when no import slot frees up within the wait
// timeout. Clients should retry after a short delay.
var ErrTooManyImports = errors.New("too many concurrent imports, please try again later")

// DefaultMaxConcurrentImports is the default limit for parallel batches.
const DefaultMaxConcurrentImports = 4

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// repoLock serializes the batches of one repository. refs counts the holder
// and the waiters; the entry is dropped when it reaches zero.
type repoLock struct {
	ch   chan struct{}
	refs int
}

// ImportLimiter controls concurrent import batches.
type ImportLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.Mutex
	active int
	repos  map[int64]*repoLock
}

// NewImportLimiter creates a limiter that allows at most maxConcurrent batches.
func NewImportLimiter(maxConcurrent int, maxWait time.Duration) *ImportLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &ImportLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
		repos:     make(map[int64]*repoLock),
	}
}

// Acquire reserves the lock of repositoryID and a batch slot. The returned
// release func must be called exactly once when the batch finishes.
func (l *ImportLimiter) Acquire(ctx context.Context, repositoryID int64) (release func(), err error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	lock := l.lockRepo(repositoryID)
	select {
	case lock.ch <- struct{}{}:
	case <-waitCtx.Done():
		l.unrefRepo(repositoryID, lock)
		return nil, waitError(ctx)
	}

	select {
	case l.semaphore <- struct{}{}:
	case <-waitCtx.Done():
		<-lock.ch
		l.unrefRepo(repositoryID, lock)
		return nil, waitError(ctx)
	}

	l.mu.Lock()
	l.active++
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.active--
			l.mu.Unlock()
			<-l.semaphore
			<-lock.ch
			l.unrefRepo(repositoryID, lock)
		})
	}, nil
}

// waitError distinguishes a cancelled caller from an expired wait.
func waitError(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return ErrTooManyImports
}

func (l *ImportLimiter) lockRepo(repositoryID int64) *repoLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.repos[repositoryID]
	if !ok {
		lock = &repoLock{ch: make(chan struct{}, 1)}
		l.repos[repositoryID] = lock
	}
	lock.refs++
	return lock
}

func (l *ImportLimiter) unrefRepo(repositoryID int64, lock *repoLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.repos, repositoryID)
	}
}

// ActiveCount returns the number of running batches.
func (l *ImportLimiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Available returns the number of free batch slots.
func (l *ImportLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until all running batches complete or ctx is cancelled.
// Used during graceful shutdown.
func (l *ImportLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ImportLimiterStatus is a snapshot of the limiter for health endpoints.
type ImportLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state.
func (l *ImportLimiter) Status() ImportLimiterStatus {
	return ImportLimiterStatus{
		Active:        l.ActiveCount(),
		Available:     l.Available(),
		MaxConcurrent: cap(l.semaphore),
	}
}
