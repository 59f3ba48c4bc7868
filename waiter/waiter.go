// Package waiter implements ResultWaiter, the one-shot correlator that lets
// a caller block until an event of a particular kind (and, optionally,
// matching a predicate) arrives on the dispatcher's event stream (spec §4.2).
package waiter

import (
	"context"
	"sync"
)

// Waiter correlates a single inbound event of type E. Construct with New,
// register it wherever the owning Pool/Pipeline keeps its pending set, then
// call Wait. Set is called by the Dispatcher for every inbound event until
// one call returns true.
type Waiter[E any] struct {
	mu       sync.Mutex
	done     chan struct{}
	resolved bool
	result   E
	err      error
	match    func(E) bool
}

// New creates a pending waiter. match is optional; when nil, any event of
// type E resolves the waiter.
func New[E any](match func(E) bool) *Waiter[E] {
	return &Waiter[E]{
		done:  make(chan struct{}),
		match: match,
	}
}

// Set attempts to resolve the waiter with event. It returns true iff the
// waiter is not yet resolved and (match == nil || match(event)) — at most one
// Set call per waiter can ever return true (spec §4.2, §8).
func (w *Waiter[E]) Set(event E) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.resolved {
		return false
	}
	if w.match != nil && !w.match(event) {
		return false
	}

	w.result = event
	w.resolved = true
	close(w.done)
	return true
}

// Fail resolves the waiter with a terminal error instead of an event —
// used by Registry.FailAll when the owning pool/pipeline breaks mid-flight
// (spec §7 TransportBroken: "all pending waiters are failed with this
// kind"). Like Set, it is a no-op once the waiter is already resolved, and
// returns whether this call was the one that resolved it.
func (w *Waiter[E]) Fail(err error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.resolved {
		return false
	}

	w.err = err
	w.resolved = true
	close(w.done)
	return true
}

// Wait blocks until Set/Fail succeeds or ctx is cancelled. Cancelling ctx
// removes the caller's interest in the result but does not cancel the
// underlying protocol operation (spec §5) — callers that time out are
// still responsible for any compensating action (e.g. stop()).
func (w *Waiter[E]) Wait(ctx context.Context) (E, error) {
	select {
	case <-w.done:
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.result, w.err
	case <-ctx.Done():
		var zero E
		return zero, ctx.Err()
	}
}

// Resolved reports whether Set or Fail has already resolved the waiter.
func (w *Waiter[E]) Resolved() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resolved
}
