package psrp

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrQueueFull is returned when the execution queue limit is reached.
var ErrQueueFull = errors.New("psrp: execution queue is full")

// ErrAcquireTimeout is returned when waiting for a runspace slot times out.
var ErrAcquireTimeout = errors.New("psrp: timeout waiting for available runspace")

// poolSemaphore limits concurrent Execute calls to the pool's MaxRunspaces,
// queuing excess callers client-side rather than sending them straight to
// the peer only to have it reject the call.
type poolSemaphore struct {
	sem       chan struct{}
	maxSize   int
	queueSize int32
	maxQueue  int
	timeout   time.Duration
}

// newPoolSemaphore builds a semaphore admitting maxConcurrent callers at
// once. maxQueue bounds how many more may wait (-1 for unbounded).
func newPoolSemaphore(maxConcurrent, maxQueue int, timeout time.Duration) *poolSemaphore {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &poolSemaphore{
		sem:      make(chan struct{}, maxConcurrent),
		maxSize:  maxConcurrent,
		maxQueue: maxQueue,
		timeout:  timeout,
	}
}

func (ps *poolSemaphore) Acquire(ctx context.Context) error {
	select {
	case ps.sem <- struct{}{}:
		return nil
	default:
	}

	qLen := atomic.AddInt32(&ps.queueSize, 1)
	defer atomic.AddInt32(&ps.queueSize, -1)

	if ps.maxQueue >= 0 && int(qLen) > ps.maxQueue {
		return ErrQueueFull
	}

	timeout := ps.timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ps.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrAcquireTimeout
	}
}

// Release returns a slot. It must only be called after a successful Acquire.
func (ps *poolSemaphore) Release() {
	select {
	case <-ps.sem:
	default:
	}
}

// Stats reports current utilization: active slots, queued waiters, capacity.
func (ps *poolSemaphore) Stats() (active, queued, max int) {
	return len(ps.sem), int(atomic.LoadInt32(&ps.queueSize)), ps.maxSize
}
