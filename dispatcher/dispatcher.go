// Package dispatcher implements the runtime's single point of inbound event
// demultiplexing (spec §4.3): it drives a Transport/Pool pair, decodes
// events, and routes each one to the RunspacePool or Pipeline it targets.
//
// Dispatcher deliberately knows nothing about pipeline tables, record
// streams, or host invocation; those belong to whichever Sink is wired in
// (normally a *runspace.RunspacePool), keeping this package free of an
// import cycle back onto the higher-level packages it serves.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/smnsjas/go-psrp/codec"
	"github.com/smnsjas/go-psrp/events"
)

// Sink receives events already routed by pipeline-id presence (spec §4.3
// step 1) and is notified once if the underlying stream ends abnormally.
//
// Implementations own the per-kind handling spec §4.3 step 2 describes:
// state updates, stream subscriber firing, protocol-append onto the right
// Collection, host-call delegation to a HostInvoker, and offering the event
// to their own pending-waiter registry.
type Sink interface {
	// HandlePoolEvent handles an event with no pipeline id: it targets the
	// runspace pool itself.
	HandlePoolEvent(ctx context.Context, e events.Event)
	// HandlePipelineEvent handles an event targeting one pipeline. The event
	// is routed here rather than to HandlePoolEvent whenever its PipelineID()
	// is non-nil, whether or not the Sink recognizes the pipeline id.
	HandlePipelineEvent(ctx context.Context, pipelineID uuid.UUID, e events.Event)
	// Broken is invoked exactly once, when WaitEvent or NextEvent returns a
	// terminal error. The Sink is responsible for completing every stream,
	// resolving or cancelling outstanding waiters, and transitioning the pool
	// to Broken (spec §4.3 step 3).
	Broken(reason error)
}

// ErrClosed is returned by Run when the loop exits because the transport
// reported a clean end-of-stream (e.g. the pool finished closing).
var ErrClosed = errors.New("dispatcher: event stream closed")

// Dispatcher drives one RunspacePool's event stream until end-of-stream,
// cancellation, or a terminal transport/codec error.
type Dispatcher struct {
	pool      codec.Pool
	transport codec.Transport
	sink      Sink
	log       *slog.Logger
}

// New builds a Dispatcher for one pool. log may be nil; a nil logger is
// treated as discard, matching the rest of the runtime's logging idiom.
func New(pool codec.Pool, transport codec.Transport, sink Sink, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.New(slog.NewTextHandler(discard{}, nil))
	}
	return &Dispatcher{pool: pool, transport: transport, sink: sink, log: log}
}

// Run blocks, pulling events until ctx is cancelled, the transport reports a
// clean end-of-stream, or a terminal error occurs. It is meant to run in its
// own goroutine for the lifetime of the pool (spec §5: the core is driven by
// dedicated goroutines, not cooperative scheduling).
//
// Run returns ErrClosed on a clean end-of-stream, ctx.Err() on cancellation,
// or the terminal transport/codec error otherwise. When it returns a
// terminal transport/codec error, Sink.Broken has already been called;
// ErrClosed is returned without calling it.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Debug("dispatcher loop starting", "pool_id", d.pool.ID())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ok, err := d.transport.WaitEvent(ctx, d.pool)
		if err != nil {
			d.log.Error("transport wait_event failed", "pool_id", d.pool.ID(), "error", err)
			d.sink.Broken(err)
			return err
		}
		if !ok {
			d.log.Debug("dispatcher loop ending: clean end-of-stream", "pool_id", d.pool.ID())
			return ErrClosed
		}

		if err := d.drain(ctx); err != nil {
			d.sink.Broken(err)
			return err
		}
	}
}

// drain pulls every event the last WaitEvent call made available before
// returning to block on the transport again.
func (d *Dispatcher) drain(ctx context.Context) error {
	for {
		event, more, err := d.pool.NextEvent(ctx)
		if err != nil {
			d.log.Error("codec next_event failed", "pool_id", d.pool.ID(), "error", err)
			return err
		}
		if event != nil {
			d.route(ctx, event)
		}
		if !more {
			return nil
		}
	}
}

func (d *Dispatcher) route(ctx context.Context, e events.Event) {
	if pid := e.PipelineID(); pid != uuid.Nil {
		d.sink.HandlePipelineEvent(ctx, pid, e)
		return
	}
	d.sink.HandlePoolEvent(ctx, e)
}

// discard implements io.Writer by dropping everything written to it.
type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
