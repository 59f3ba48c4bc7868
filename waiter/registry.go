package waiter

import "sync"

// entry is the type-erased form of a *Waiter[E] that a Registry can hold
// alongside waiters of other event kinds.
type entry interface {
	// tryOffer attempts to resolve the underlying waiter with event. event is
	// `any` here because a Registry multiplexes waiters for several concrete
	// event kinds (spec §4.3's dispatcher offers every inbound event to every
	// pending waiter, regardless of kind); the adapter returned by Track
	// performs the type assertion.
	tryOffer(event any) bool
	// fail resolves the underlying waiter with a terminal error, regardless
	// of its event kind.
	fail(err error) bool
}

type typedEntry[E any] struct {
	w *Waiter[E]
}

func (t typedEntry[E]) tryOffer(event any) bool {
	e, ok := event.(E)
	if !ok {
		return false
	}
	return t.w.Set(e)
}

func (t typedEntry[E]) fail(err error) bool {
	return t.w.Fail(err)
}

// Registry holds the pending waiters for one RunspacePool or Pipeline. It is
// a plain linear scan (spec §9: "fine at the realistic concurrency of tens
// of in-flight operations"), but preserves FIFO delivery within a kind since
// offers are tried in registration order and resolved waiters are removed as
// soon as they accept.
type Registry struct {
	mu      sync.Mutex
	waiters []entry
}

// Track registers w so that future calls to Offer consider it. Returns a
// cancel function that removes w from the registry without resolving it —
// used when a caller abandons a wait (spec §5 cancellation).
func Track[E any](r *Registry, w *Waiter[E]) (cancel func()) {
	e := typedEntry[E]{w: w}

	r.mu.Lock()
	r.waiters = append(r.waiters, e)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, existing := range r.waiters {
			if te, ok := existing.(typedEntry[E]); ok && te.w == w {
				r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
				return
			}
		}
	}
}

// Offer presents event to every pending waiter in registration order,
// removing any that accept it (spec §4.3 step 3). It returns the number of
// waiters that accepted — normally 0 or 1, since most event kinds only ever
// have one outstanding waiter, but nothing prevents several identical
// waiters (e.g. two get_available_runspaces calls racing) from coexisting.
func (r *Registry) Offer(event any) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	accepted := 0
	remaining := r.waiters[:0]
	for _, e := range r.waiters {
		if e.tryOffer(event) {
			accepted++
			continue
		}
		remaining = append(remaining, e)
	}
	r.waiters = remaining
	return accepted
}

// FailAll resolves every pending waiter with err instead of an event, so
// every blocked Wait call returns immediately with err rather than hanging
// until its caller's context is separately cancelled (spec §4.3: "resolves
// outstanding waiters with a Broken state event"; spec §7 TransportBroken:
// "all pending waiters are failed with this kind"). Used when the owning
// RunspacePool/Pipeline breaks mid-flight.
func (r *Registry) FailAll(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.waiters {
		e.fail(err)
	}
	r.waiters = nil
}
