package psrp

import (
	"context"
	"testing"
	"time"
)

func TestPoolSemaphoreAcquireRelease(t *testing.T) {
	sem := newPoolSemaphore(2, -1, time.Second)
	ctx := context.Background()

	if err := sem.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if active, _, _ := sem.Stats(); active != 1 {
		t.Fatalf("active = %d, want 1", active)
	}

	if err := sem.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if active, _, _ := sem.Stats(); active != 2 {
		t.Fatalf("active = %d, want 2", active)
	}

	sem.Release()
	if active, _, _ := sem.Stats(); active != 1 {
		t.Fatalf("active after release = %d, want 1", active)
	}
	sem.Release()
	if active, _, _ := sem.Stats(); active != 0 {
		t.Fatalf("active after release = %d, want 0", active)
	}
}

func TestPoolSemaphoreQueueLimit(t *testing.T) {
	sem := newPoolSemaphore(1, 0, 20*time.Millisecond)
	ctx := context.Background()

	if err := sem.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := sem.Acquire(ctx); err != ErrQueueFull {
		t.Fatalf("second Acquire error = %v, want ErrQueueFull", err)
	}
}

func TestPoolSemaphoreAcquireTimeout(t *testing.T) {
	sem := newPoolSemaphore(1, -1, 10*time.Millisecond)
	ctx := context.Background()

	if err := sem.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := sem.Acquire(ctx); err != ErrAcquireTimeout {
		t.Fatalf("second Acquire error = %v, want ErrAcquireTimeout", err)
	}
}

func TestPoolSemaphoreRespectsContextCancellation(t *testing.T) {
	sem := newPoolSemaphore(1, -1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	if err := sem.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	if err := sem.Acquire(ctx); err != context.Canceled {
		t.Fatalf("Acquire error = %v, want context.Canceled", err)
	}
}
