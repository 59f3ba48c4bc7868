// Package collection implements DataCollection, the append-only stream type
// used for every PSRP record/output stream (spec §3, §4.1).
package collection

import (
	"errors"
	"sync"
)

// ErrClosedCollection is returned by Append once a DataCollection has
// been completed. Protocol-originated appends (ProtocolAppend) never return
// this error; they silently no-op instead, per spec §4.1.
var ErrClosedCollection = errors.New("collection: cannot add to a completed collection")

// Collection is an ordered, append-only sequence of T with a completion flag,
// subscriber callbacks, and a blocking lazy iterator.
//
// Zero value is not usable; construct with New.
type Collection[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	items     []T
	completed bool
	blocking  bool

	onDataAdding  []func(T)
	onDataAdded   []func(T)
	onCompleted   []func()
}

// New creates an empty Collection. When blocking is true, Iter's returned
// sequence suspends at the end of currently-available items instead of
// terminating, until Complete is called (spec §4.1 iterator semantics).
func New[T any](blocking bool) *Collection[T] {
	c := &Collection[T]{blocking: blocking}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// OnDataAdding registers a callback fired just before a protocol-originated
// value is appended.
func (c *Collection[T]) OnDataAdding(fn func(T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDataAdding = append(c.onDataAdding, fn)
}

// OnDataAdded registers a callback fired just after a protocol-originated
// value is appended.
func (c *Collection[T]) OnDataAdded(fn func(T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDataAdded = append(c.onDataAdded, fn)
}

// OnCompleted registers a callback fired when Complete is called.
func (c *Collection[T]) OnCompleted(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCompleted = append(c.onCompleted, fn)
}

// Append adds a value from application code. It fails once the collection is
// completed.
func (c *Collection[T]) Append(v T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.completed {
		return ErrClosedCollection
	}
	c.items = append(c.items, v)
	c.cond.Broadcast()
	return nil
}

// ProtocolAppend adds a value on behalf of the Dispatcher. Once the
// collection is completed this silently drops the value, per spec §4.1.
// data_adding fires before insertion, data_added after; callback panics are
// recovered and swallowed (protocol callbacks are best-effort and must never
// abort event delivery).
func (c *Collection[T]) ProtocolAppend(v T) {
	c.mu.Lock()
	if c.completed {
		c.mu.Unlock()
		return
	}
	adding := append([]func(T){}, c.onDataAdding...)
	c.mu.Unlock()

	runCallbacks1(adding, v)

	c.mu.Lock()
	c.items = append(c.items, v)
	added := append([]func(T){}, c.onDataAdded...)
	c.cond.Broadcast()
	c.mu.Unlock()

	runCallbacks1(added, v)
}

// Complete marks the collection as done. Idempotent: calling it twice fires
// on_completed and wakes iterators only the first time.
func (c *Collection[T]) Complete() {
	c.mu.Lock()
	if c.completed {
		c.mu.Unlock()
		return
	}
	c.completed = true
	hooks := append([]func(){}, c.onCompleted...)
	c.cond.Broadcast()
	c.mu.Unlock()

	runCallbacks0(hooks)
}

// Completed reports whether Complete has been called.
func (c *Collection[T]) Completed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// Len returns the number of items currently in the collection.
func (c *Collection[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Snapshot returns a copy of the items appended so far, in append order.
func (c *Collection[T]) Snapshot() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// Iter returns a fresh, independent cursor over the collection starting at
// index 0. Next blocks according to the blocking-iterator policy from
// spec §4.1: once the consumer overtakes the list, Next returns (zero,
// false) immediately if blocking is false or the collection is completed,
// otherwise it suspends until the next ProtocolAppend or Complete.
func (c *Collection[T]) Iter() *Iterator[T] {
	return &Iterator[T]{c: c}
}

// Iterator is a single cursor over a Collection. Multiple concurrent
// Iterators over the same Collection are independent (spec §4.1).
type Iterator[T any] struct {
	c   *Collection[T]
	idx int
}

// Next advances the cursor and returns the next value. ok is false at
// end-of-stream.
func (it *Iterator[T]) Next() (value T, ok bool) {
	c := it.c
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if it.idx < len(c.items) {
			value = c.items[it.idx]
			it.idx++
			return value, true
		}
		if c.completed || !c.blocking {
			var zero T
			return zero, false
		}
		c.cond.Wait()
	}
}

func runCallbacks0(fns []func()) {
	for _, fn := range fns {
		invokeSafely0(fn)
	}
}

func runCallbacks1[T any](fns []func(T), v T) {
	for _, fn := range fns {
		invokeSafely1(fn, v)
	}
}

// invokeSafely0/1 run a callback and recover from panics, matching the
// "a callback that fails is logged and does not abort event delivery"
// requirement. Logging is the caller's responsibility at the Dispatcher
// layer; these just guarantee delivery continues.
func invokeSafely0(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

func invokeSafely1[T any](fn func(T), v T) {
	defer func() { _ = recover() }()
	fn(v)
}
