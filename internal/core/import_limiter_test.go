package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestImportLimiter_AcquireRelease(t *testing.T) {
	limiter := NewImportLimiter(2, time.Second)
	ctx := context.Background()

	if got := limiter.Available(); got != 2 {
		t.Errorf("initial Available = %d, want 2", got)
	}

	r1, err := limiter.Acquire(ctx, 1)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	r2, err := limiter.Acquire(ctx, 2)
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}

	if got := limiter.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}
	if got := limiter.Available(); got != 0 {
		t.Errorf("Available = %d, want 0", got)
	}

	r1()
	r1() // second call is a no-op
	if got := limiter.ActiveCount(); got != 1 {
		t.Errorf("after release, ActiveCount = %d, want 1", got)
	}

	r2()
	if got := limiter.Available(); got != 2 {
		t.Errorf("after releases, Available = %d, want 2", got)
	}
}

func TestImportLimiter_BlocksWhenFull(t *testing.T) {
	limiter := NewImportLimiter(1, 100*time.Millisecond)
	ctx := context.Background()

	release, err := limiter.Acquire(ctx, 1)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	start := time.Now()
	_, err = limiter.Acquire(ctx, 2)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTooManyImports) {
		t.Errorf("expected ErrTooManyImports, got %v", err)
	}
	if elapsed < 90*time.Millisecond {
		t.Errorf("timeout too fast: %v", elapsed)
	}
}

func TestImportLimiter_SerializesSameRepository(t *testing.T) {
	limiter := NewImportLimiter(4, 100*time.Millisecond)
	ctx := context.Background()

	release, err := limiter.Acquire(ctx, 7)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if _, err := limiter.Acquire(ctx, 7); !errors.Is(err, ErrTooManyImports) {
		t.Errorf("same repository: expected ErrTooManyImports, got %v", err)
	}
	// The failed attempt must give its batch slot back.
	if got := limiter.Available(); got != 3 {
		t.Errorf("Available = %d, want 3", got)
	}

	other, err := limiter.Acquire(ctx, 8)
	if err != nil {
		t.Fatalf("other repository should not block: %v", err)
	}
	other()
	release()

	again, err := limiter.Acquire(ctx, 7)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	again()
}

// trackedRepos returns how many repositories have a holder or waiter.
func trackedRepos(l *ImportLimiter) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.repos)
}

func TestImportLimiter_QueuedRepositoryHoldsNoSlot(t *testing.T) {
	limiter := NewImportLimiter(2, 2*time.Second)
	ctx := context.Background()

	running, err := limiter.Acquire(ctx, 1)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	waiterDone := make(chan error, 1)
	go func() {
		release, err := limiter.Acquire(ctx, 1)
		if err == nil {
			release()
		}
		waiterDone <- err
	}()

	// Wait until the second batch is queued on repository 1.
	deadline := time.Now().Add(time.Second)
	for {
		limiter.mu.Lock()
		refs := limiter.repos[1].refs
		limiter.mu.Unlock()
		if refs == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("second batch never queued")
		}
		time.Sleep(time.Millisecond)
	}

	status := limiter.Status()
	if status.Active != 1 || status.Available != 1 {
		t.Errorf("Status = %+v, want Active 1, Available 1", status)
	}

	start := time.Now()
	other, err := limiter.Acquire(ctx, 2)
	if err != nil {
		t.Fatalf("repository 2 should not wait for repository 1: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("repository 2 waited %v", elapsed)
	}
	other()

	running()
	if err := <-waiterDone; err != nil {
		t.Errorf("queued batch failed: %v", err)
	}
}

func TestImportLimiter_ForgetsIdleRepositories(t *testing.T) {
	limiter := NewImportLimiter(4, 50*time.Millisecond)
	ctx := context.Background()

	for repo := int64(1); repo <= 5; repo++ {
		release, err := limiter.Acquire(ctx, repo)
		if err != nil {
			t.Fatalf("Acquire(%d) failed: %v", repo, err)
		}
		release()
	}
	if got := trackedRepos(limiter); got != 0 {
		t.Errorf("tracked repositories = %d, want 0", got)
	}

	release, err := limiter.Acquire(ctx, 9)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := limiter.Acquire(ctx, 9); !errors.Is(err, ErrTooManyImports) {
		t.Errorf("expected ErrTooManyImports, got %v", err)
	}
	if got := trackedRepos(limiter); got != 1 {
		t.Errorf("tracked repositories = %d, want 1", got)
	}
	release()
	if got := trackedRepos(limiter); got != 0 {
		t.Errorf("tracked repositories after release = %d, want 0", got)
	}
}

func TestImportLimiter_ConcurrentAccess(t *testing.T) {
	const maxConcurrent = 3
	limiter := NewImportLimiter(maxConcurrent, time.Second)

	var (
		wg      sync.WaitGroup
		current int32
		maxSeen int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(repo int64) {
			defer wg.Done()
			release, err := limiter.Acquire(context.Background(), repo)
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			defer release()

			n := atomic.AddInt32(&current, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&current, -1)
		}(int64(i))
	}
	wg.Wait()

	if maxSeen > maxConcurrent {
		t.Errorf("observed %d concurrent batches, limit is %d", maxSeen, maxConcurrent)
	}
}

func TestImportLimiter_ContextCancellation(t *testing.T) {
	limiter := NewImportLimiter(1, 5*time.Second)

	release, err := limiter.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if _, err := limiter.Acquire(ctx, 2); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestImportLimiter_WaitForDrain(t *testing.T) {
	limiter := NewImportLimiter(2, time.Second)

	release, err := limiter.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := limiter.WaitForDrain(ctx); err != nil {
		t.Errorf("WaitForDrain: %v", err)
	}

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	busy, _ := limiter.Acquire(context.Background(), 1)
	defer busy()
	if err := limiter.WaitForDrain(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestImportLimiter_DefaultValues(t *testing.T) {
	limiter := NewImportLimiter(0, 0)
	st := limiter.Status()
	if st.MaxConcurrent != DefaultMaxConcurrentImports {
		t.Errorf("MaxConcurrent = %d, want %d", st.MaxConcurrent, DefaultMaxConcurrentImports)
	}
	if limiter.maxWait != DefaultMaxWaitTime {
		t.Errorf("maxWait = %v, want %v", limiter.maxWait, DefaultMaxWaitTime)
	}
}
