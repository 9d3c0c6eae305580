package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	t.Parallel()
	locks := NewSessionLocks()

	release, err := locks.Acquire(context.Background(), "user-1", time.Second)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	release()

	release, err = locks.Acquire(context.Background(), "user-1", time.Second)
	if err != nil {
		t.Fatalf("re-acquire after release failed: %v", err)
	}
	release()
}

func TestAcquireBusyWithinWait(t *testing.T) {
	t.Parallel()
	locks := NewSessionLocks()

	release, err := locks.Acquire(context.Background(), "user-1", time.Second)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer release()

	_, err = locks.Acquire(context.Background(), "user-1", 20*time.Millisecond)
	if !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}
}

func TestAcquireDifferentSessionsIndependent(t *testing.T) {
	t.Parallel()
	locks := NewSessionLocks()

	r1, err := locks.Acquire(context.Background(), "user-1", time.Second)
	if err != nil {
		t.Fatalf("acquire user-1 failed: %v", err)
	}
	defer r1()

	r2, err := locks.Acquire(context.Background(), "user-2", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("expected independent lock for user-2, got %v", err)
	}
	r2()
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	t.Parallel()
	locks := NewSessionLocks()

	release, err := locks.Acquire(context.Background(), "user-1", time.Second)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locks.Acquire(ctx, "user-1", time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConcurrentAcquireSerializes(t *testing.T) {
	t.Parallel()
	locks := NewSessionLocks()

	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locks.Acquire(context.Background(), "user-1", 5*time.Second)
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("expected strict serialization, saw %d concurrent holders", maxActive)
	}
}
