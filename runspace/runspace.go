// Package runspace implements the RunspacePool state machine (spec §3, §4.6):
// the client-side representation of one remote PSRP session, its pipeline
// table, record streams, and the open/close/disconnect/reconnect and
// availability round trips that drive it.
package runspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/smnsjas/go-psrp/codec"
	"github.com/smnsjas/go-psrp/collection"
	"github.com/smnsjas/go-psrp/dispatcher"
	"github.com/smnsjas/go-psrp/events"
	"github.com/smnsjas/go-psrp/host"
	"github.com/smnsjas/go-psrp/hostinvoker"
	"github.com/smnsjas/go-psrp/waiter"
)

var (
	// ErrInvalidState is returned when an operation is attempted from a
	// runspace pool state that does not permit it.
	ErrInvalidState = errors.New("runspace: invalid state for operation")
	// ErrBroken is returned when a round trip ends because the pool
	// transitioned to Broken instead of the expected terminal state.
	ErrBroken = errors.New("runspace: pool is broken")
)

// PipelineSink is the subset of a Pipeline that RunspacePool needs in order
// to route pipeline-scoped events to it (spec §4.3 step 1). package pipeline
// implements this; runspace never imports package pipeline, avoiding a
// cycle.
type PipelineSink interface {
	HandleEvent(ctx context.Context, e events.Event)
	// Broken is called once if the owning pool transitions to Broken while
	// the pipeline has not yet reached a terminal state.
	Broken(reason error)
}

// Option configures a RunspacePool at construction.
type Option func(*RunspacePool)

// WithHost attaches the application host implementation that answers
// RunspacePoolHostCallEvent callbacks (spec §4.4). The zero value (nil)
// means no host: the server falls back to its own default.
func WithHost(h host.Host) Option { return func(rp *RunspacePool) { rp.host = h } }

// WithLogger attaches a structured logger. A nil logger (the default)
// discards all log output.
func WithLogger(log *slog.Logger) Option { return func(rp *RunspacePool) { rp.log = log } }

// WithRunspaces sets the initial min/max runspace counts used by Open.
func WithRunspaces(min, max int) Option {
	return func(rp *RunspacePool) { rp.minRunspaces, rp.maxRunspaces = min, max }
}

// RunspacePool is the client-side state machine for one remote PSRP session.
type RunspacePool struct {
	poolCodec codec.Pool
	transport codec.Transport
	host      host.Host
	log       *slog.Logger

	mu                 sync.RWMutex
	state              events.RunspacePoolState
	minRunspaces       int
	maxRunspaces       int
	appPrivateData     map[string]any
	reclaimedPipelines []ReclaimedPipeline

	pipelinesMu sync.RWMutex
	pipelines   map[uuid.UUID]PipelineSink

	subMu       sync.Mutex
	subscribers map[int]func(events.RunspacePoolState)
	nextSubID   int

	waiters waiter.Registry

	errorStream       *collection.Collection[events.ErrorRecord]
	debugStream       *collection.Collection[events.DebugRecord]
	verboseStream     *collection.Collection[events.VerboseRecord]
	warningStream     *collection.Collection[events.WarningRecord]
	progressStream    *collection.Collection[events.ProgressRecord]
	informationStream *collection.Collection[events.InformationRecord]

	dispOnce   sync.Once
	dispCancel context.CancelFunc
}

// New constructs a RunspacePool bound to poolCodec/transport in the
// BeforeOpen state. The pool does not contact the server until Open or
// Connect is called.
func New(poolCodec codec.Pool, transport codec.Transport, opts ...Option) *RunspacePool {
	rp := &RunspacePool{
		poolCodec:    poolCodec,
		transport:    transport,
		state:        events.StateBeforeOpen,
		minRunspaces: 1,
		maxRunspaces: 1,
		pipelines:    make(map[uuid.UUID]PipelineSink),
		subscribers:  make(map[int]func(events.RunspacePoolState)),

		errorStream:       collection.New[events.ErrorRecord](true),
		debugStream:       collection.New[events.DebugRecord](true),
		verboseStream:     collection.New[events.VerboseRecord](true),
		warningStream:     collection.New[events.WarningRecord](true),
		progressStream:    collection.New[events.ProgressRecord](true),
		informationStream: collection.New[events.InformationRecord](true),
	}
	for _, opt := range opts {
		opt(rp)
	}
	if rp.log == nil {
		rp.log = slog.New(slog.NewTextHandler(discard{}, nil))
	}
	return rp
}

func (rp *RunspacePool) ID() uuid.UUID { return rp.poolCodec.ID() }

// State returns the current state. Safe for concurrent use.
func (rp *RunspacePool) State() events.RunspacePoolState {
	rp.mu.RLock()
	defer rp.mu.RUnlock()
	return rp.state
}

func (rp *RunspacePool) Host() host.Host { return rp.host }

// Transport returns the transport collaborator this pool drives. Package
// pipeline uses it to issue pipeline-scoped transport calls (Command, Send,
// Signal, Connect, Close) without runspace needing to know about pipelines
// beyond the PipelineSink interface.
func (rp *RunspacePool) Transport() codec.Transport { return rp.transport }

// Codec returns the pool-level codec collaborator a Pipeline passes back
// into Transport calls that require it for context (spec §6).
func (rp *RunspacePool) Codec() codec.Pool { return rp.poolCodec }

// Log returns the pool's logger so a Pipeline can share it.
func (rp *RunspacePool) Log() *slog.Logger { return rp.log }

func (rp *RunspacePool) ErrorStream() *collection.Collection[events.ErrorRecord] { return rp.errorStream }
func (rp *RunspacePool) DebugStream() *collection.Collection[events.DebugRecord] { return rp.debugStream }
func (rp *RunspacePool) VerboseStream() *collection.Collection[events.VerboseRecord] {
	return rp.verboseStream
}
func (rp *RunspacePool) WarningStream() *collection.Collection[events.WarningRecord] {
	return rp.warningStream
}
func (rp *RunspacePool) ProgressStream() *collection.Collection[events.ProgressRecord] {
	return rp.progressStream
}
func (rp *RunspacePool) InformationStream() *collection.Collection[events.InformationRecord] {
	return rp.informationStream
}

// OnStateChange registers a callback fired (from the dispatcher goroutine)
// every time the pool's state changes. The returned func removes it.
func (rp *RunspacePool) OnStateChange(fn func(events.RunspacePoolState)) (unsubscribe func()) {
	rp.subMu.Lock()
	defer rp.subMu.Unlock()
	id := rp.nextSubID
	rp.nextSubID++
	rp.subscribers[id] = fn
	return func() {
		rp.subMu.Lock()
		defer rp.subMu.Unlock()
		delete(rp.subscribers, id)
	}
}

func (rp *RunspacePool) notifyState(s events.RunspacePoolState) {
	rp.subMu.Lock()
	fns := make([]func(events.RunspacePoolState), 0, len(rp.subscribers))
	for _, fn := range rp.subscribers {
		fns = append(fns, fn)
	}
	rp.subMu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// RegisterPipeline attaches sink as the handler for events targeting id.
// Pipeline.InvokeAsync registers before issuing Transport.Command, so no
// event for a newly invoked pipeline can race ahead of registration.
func (rp *RunspacePool) RegisterPipeline(id uuid.UUID, sink PipelineSink) {
	rp.pipelinesMu.Lock()
	defer rp.pipelinesMu.Unlock()
	rp.pipelines[id] = sink
}

// UnregisterPipeline removes a pipeline once it reaches a terminal state and
// has been closed, releasing its entry from the pool's table.
func (rp *RunspacePool) UnregisterPipeline(id uuid.UUID) {
	rp.pipelinesMu.Lock()
	defer rp.pipelinesMu.Unlock()
	delete(rp.pipelines, id)
}

// ActivePipelineIDs lists pipelines currently tracked by this pool.
func (rp *RunspacePool) ActivePipelineIDs() []uuid.UUID {
	rp.pipelinesMu.RLock()
	defer rp.pipelinesMu.RUnlock()
	ids := make([]uuid.UUID, 0, len(rp.pipelines))
	for id := range rp.pipelines {
		ids = append(ids, id)
	}
	return ids
}

// ReclaimedPipelines lists the pipelines the server reported attached to
// this pool when it was discovered via Enumerate (spec §4.6).
// CreateDisconnectedPowerShells in package pipeline binds each entry to a
// real PowerShell instance.
func (rp *RunspacePool) ReclaimedPipelines() []ReclaimedPipeline {
	rp.mu.RLock()
	defer rp.mu.RUnlock()
	out := make([]ReclaimedPipeline, len(rp.reclaimedPipelines))
	copy(out, rp.reclaimedPipelines)
	return out
}

// Open performs the create-runspace-pool handshake and blocks until the pool
// reaches Opened or Broken (spec §4.6).
func (rp *RunspacePool) Open(ctx context.Context) error {
	rp.mu.Lock()
	if rp.state != events.StateBeforeOpen {
		s := rp.state
		rp.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidState, s)
	}
	rp.state = events.StateOpening
	rp.mu.Unlock()

	if err := rp.poolCodec.Open(rp.minRunspaces, rp.maxRunspaces); err != nil {
		rp.Broken(err)
		return err
	}

	w := waiter.New(func(e events.RunspacePoolStateEvent) bool {
		return e.State == events.StateOpened || e.State == events.StateBroken
	})
	cancel := waiter.Track(&rp.waiters, w)
	defer cancel()

	if err := rp.transport.Create(ctx, rp.poolCodec); err != nil {
		rp.Broken(err)
		return err
	}
	rp.startDispatcher()

	return rp.awaitTerminal(ctx, w)
}

// Connect reclaims a runspace pool discovered via Enumerate, or reattaches
// after Disconnect (spec §4.6, §9). newClient selects which reclaim path the
// codec should use.
func (rp *RunspacePool) Connect(ctx context.Context, newClient bool) error {
	rp.mu.Lock()
	if rp.state != events.StateDisconnected && rp.state != events.StateBeforeOpen {
		s := rp.state
		rp.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidState, s)
	}
	rp.state = events.StateOpening
	rp.mu.Unlock()

	if err := rp.poolCodec.Connect(newClient); err != nil {
		rp.Broken(err)
		return err
	}

	w := waiter.New(func(e events.RunspacePoolStateEvent) bool {
		return e.State == events.StateOpened || e.State == events.StateBroken
	})
	cancel := waiter.Track(&rp.waiters, w)
	defer cancel()

	if err := rp.transport.Connect(ctx, rp.poolCodec, nil); err != nil {
		rp.Broken(err)
		return err
	}
	rp.startDispatcher()

	return rp.awaitTerminal(ctx, w)
}

// Close begins the close handshake and blocks until Closed or Broken.
// Close is idempotent: calling it on an already-Closed pool is a no-op.
func (rp *RunspacePool) Close(ctx context.Context) error {
	rp.mu.Lock()
	switch rp.state {
	case events.StateClosed:
		rp.mu.Unlock()
		return nil
	case events.StateBeforeOpen:
		rp.state = events.StateClosed
		rp.mu.Unlock()
		return nil
	}
	rp.state = events.StateClosing
	rp.mu.Unlock()

	if err := rp.poolCodec.Close(); err != nil {
		rp.Broken(err)
		return err
	}

	w := waiter.New(func(e events.RunspacePoolStateEvent) bool {
		return e.State == events.StateClosed || e.State == events.StateBroken
	})
	cancel := waiter.Track(&rp.waiters, w)
	defer cancel()

	if err := rp.transport.Close(ctx, rp.poolCodec, nil); err != nil {
		rp.Broken(err)
		return err
	}

	return rp.awaitTerminal(ctx, w)
}

// Disconnect begins the disconnect handshake, leaving the runspace pool
// alive server-side for a later Connect (spec §4.6).
func (rp *RunspacePool) Disconnect(ctx context.Context) error {
	rp.mu.Lock()
	if rp.state != events.StateOpened {
		s := rp.state
		rp.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidState, s)
	}
	rp.state = events.StateDisconnecting
	rp.mu.Unlock()

	if err := rp.poolCodec.Disconnect(); err != nil {
		rp.Broken(err)
		return err
	}

	w := waiter.New(func(e events.RunspacePoolStateEvent) bool {
		return e.State == events.StateDisconnected || e.State == events.StateBroken
	})
	cancel := waiter.Track(&rp.waiters, w)
	defer cancel()

	if err := rp.transport.Disconnect(ctx, rp.poolCodec); err != nil {
		rp.Broken(err)
		return err
	}

	return rp.awaitTerminal(ctx, w)
}

// ExchangeKey negotiates a session key for secure-string encryption. Callers
// never need to invoke this directly except to pre-negotiate; Pipeline.Invoke
// retries transparently once on codec.ErrMissingCipher (spec §4.5, §9).
func (rp *RunspacePool) ExchangeKey(ctx context.Context) error {
	w := waiter.New(func(events.EncryptedSessionKeyEvent) bool { return true })
	cancel := waiter.Track(&rp.waiters, w)
	defer cancel()

	if err := rp.poolCodec.ExchangeKey(); err != nil {
		return err
	}
	if err := rp.transport.Send(ctx, rp.poolCodec, false); err != nil {
		return err
	}
	_, err := w.Wait(ctx)
	return err
}

// ResetRunspaceState asks the server to reset pipeline-local state for the
// next pipeline invocation. It returns true immediately, without a round
// trip, when the codec determines no message needs sending (spec §4.6).
func (rp *RunspacePool) ResetRunspaceState(ctx context.Context) (bool, error) {
	ci, shouldSend := rp.poolCodec.ResetRunspaceState()
	if !shouldSend {
		return true, nil
	}
	return rp.availabilityRoundTrip(ctx, ci)
}

// SetMinRunspaces updates the minimum pool size. A value below 1 is rejected
// locally without contacting the server.
func (rp *RunspacePool) SetMinRunspaces(ctx context.Context, value int) (bool, error) {
	if value < 1 {
		return false, nil
	}
	ci, shouldSend := rp.poolCodec.SetMinRunspaces(value)
	if !shouldSend {
		rp.mu.Lock()
		rp.minRunspaces = value
		rp.mu.Unlock()
		return true, nil
	}
	ok, err := rp.availabilityRoundTrip(ctx, ci)
	if ok {
		rp.mu.Lock()
		rp.minRunspaces = value
		rp.mu.Unlock()
	}
	return ok, err
}

// SetMaxRunspaces updates the maximum pool size. A value below the current
// minimum is rejected locally without contacting the server (spec §8).
func (rp *RunspacePool) SetMaxRunspaces(ctx context.Context, value int) (bool, error) {
	rp.mu.RLock()
	min := rp.minRunspaces
	rp.mu.RUnlock()
	if value < min {
		return false, nil
	}
	ci, shouldSend := rp.poolCodec.SetMaxRunspaces(value)
	if !shouldSend {
		rp.mu.Lock()
		rp.maxRunspaces = value
		rp.mu.Unlock()
		return true, nil
	}
	ok, err := rp.availabilityRoundTrip(ctx, ci)
	if ok {
		rp.mu.Lock()
		rp.maxRunspaces = value
		rp.mu.Unlock()
	}
	return ok, err
}

// GetAvailableRunspaces returns the number of runspaces not currently
// running a pipeline. When the codec determines no round trip is needed, it
// returns the locally tracked max immediately (spec §4.6 "ci == null").
func (rp *RunspacePool) GetAvailableRunspaces(ctx context.Context) (int, error) {
	ci, shouldSend := rp.poolCodec.GetAvailableRunspaces()
	if !shouldSend {
		rp.mu.RLock()
		defer rp.mu.RUnlock()
		return rp.maxRunspaces, nil
	}

	w := waiter.New(func(e events.GetRunspaceAvailabilityEvent) bool { return e.CI == ci })
	cancel := waiter.Track(&rp.waiters, w)
	defer cancel()

	if err := rp.transport.Send(ctx, rp.poolCodec, false); err != nil {
		return 0, err
	}
	e, err := w.Wait(ctx)
	if err != nil {
		return 0, err
	}
	return e.Count, nil
}

func (rp *RunspacePool) availabilityRoundTrip(ctx context.Context, ci int64) (bool, error) {
	w := waiter.New(func(e events.SetRunspaceAvailabilityEvent) bool { return e.CI == ci })
	cancel := waiter.Track(&rp.waiters, w)
	defer cancel()

	if err := rp.transport.Send(ctx, rp.poolCodec, false); err != nil {
		return false, err
	}
	e, err := w.Wait(ctx)
	if err != nil {
		return false, err
	}
	return e.Success, nil
}

func (rp *RunspacePool) awaitTerminal(ctx context.Context, w *waiter.Waiter[events.RunspacePoolStateEvent]) error {
	e, err := w.Wait(ctx)
	if err != nil {
		return err
	}
	if e.State == events.StateBroken {
		return fmt.Errorf("%w: %s", ErrBroken, e.Reason)
	}
	return nil
}

func (rp *RunspacePool) startDispatcher() {
	rp.dispOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		rp.dispCancel = cancel
		disp := dispatcher.New(rp.poolCodec, rp.transport, rp, rp.log)
		go func() {
			if err := disp.Run(ctx); err != nil && !errors.Is(err, dispatcher.ErrClosed) && !errors.Is(err, context.Canceled) {
				rp.log.Error("dispatcher loop exited", "pool_id", rp.ID(), "error", err)
			}
		}()
	})
}

// HandlePoolEvent implements dispatcher.Sink.
func (rp *RunspacePool) HandlePoolEvent(ctx context.Context, e events.Event) {
	switch ev := e.(type) {
	case events.RunspacePoolStateEvent:
		rp.mu.Lock()
		rp.state = ev.State
		rp.mu.Unlock()
		rp.notifyState(ev.State)
		rp.waiters.Offer(ev)
	case events.RunspacePoolInitDataEvent:
		rp.mu.Lock()
		rp.minRunspaces, rp.maxRunspaces = ev.MinRunspaces, ev.MaxRunspaces
		rp.mu.Unlock()
		rp.waiters.Offer(ev)
	case events.ApplicationPrivateDataEvent:
		rp.mu.Lock()
		rp.appPrivateData = ev.Data
		rp.mu.Unlock()
		rp.waiters.Offer(ev)
	case events.SessionCapabilityEvent, events.EncryptedSessionKeyEvent,
		events.GetRunspaceAvailabilityEvent, events.SetRunspaceAvailabilityEvent:
		rp.waiters.Offer(ev)
	case events.ErrorRecordEvent:
		rp.errorStream.Append(ev.Record)
	case events.DebugRecordEvent:
		rp.debugStream.Append(ev.Record)
	case events.VerboseRecordEvent:
		rp.verboseStream.Append(ev.Record)
	case events.WarningRecordEvent:
		rp.warningStream.Append(ev.Record)
	case events.ProgressRecordEvent:
		rp.progressStream.Append(ev.Record)
	case events.InformationRecordEvent:
		rp.informationStream.Append(ev.Record)
	case events.RunspacePoolHostCallEvent:
		rp.handleHostCall(ctx, ev)
	default:
		rp.log.Warn("unhandled pool event", "pool_id", rp.ID(), "type", fmt.Sprintf("%T", e))
	}
}

func (rp *RunspacePool) handleHostCall(ctx context.Context, ev events.RunspacePoolHostCallEvent) {
	out := hostinvoker.Invoke(ctx, rp.host, ev.MethodIdentifier, ev.MethodParameters, streamAppender{rp.errorStream})
	if !out.Responded {
		return
	}
	if err := rp.poolCodec.HostResponse(ev.CI, uuid.Nil, out.Response, out.Error); err != nil {
		rp.log.Error("failed to queue host response", "pool_id", rp.ID(), "error", err)
		return
	}
	if err := rp.transport.Send(ctx, rp.poolCodec, false); err != nil {
		rp.log.Error("failed to send host response", "pool_id", rp.ID(), "error", err)
	}
}

// HandlePipelineEvent implements dispatcher.Sink, forwarding to the
// registered pipeline or dropping the event with a warning if none is found
// (e.g. a late event arriving after the pipeline's table entry was removed).
func (rp *RunspacePool) HandlePipelineEvent(ctx context.Context, pipelineID uuid.UUID, e events.Event) {
	rp.pipelinesMu.RLock()
	sink, ok := rp.pipelines[pipelineID]
	rp.pipelinesMu.RUnlock()
	if !ok {
		rp.log.Warn("event for unknown pipeline", "pool_id", rp.ID(), "pipeline_id", pipelineID)
		return
	}
	sink.HandleEvent(ctx, e)
}

// Broken implements dispatcher.Sink and is also the public method an
// operation calls when a codec/transport call fails synchronously outside
// the dispatcher loop. It is idempotent.
func (rp *RunspacePool) Broken(reason error) {
	rp.mu.Lock()
	if rp.state == events.StateBroken {
		rp.mu.Unlock()
		return
	}
	rp.state = events.StateBroken
	rp.mu.Unlock()

	rp.errorStream.Complete()
	rp.debugStream.Complete()
	rp.verboseStream.Complete()
	rp.warningStream.Complete()
	rp.progressStream.Complete()
	rp.informationStream.Complete()

	rp.waiters.FailAll(fmt.Errorf("%w: %w", ErrBroken, reason))
	rp.notifyState(events.StateBroken)

	rp.pipelinesMu.RLock()
	sinks := make([]PipelineSink, 0, len(rp.pipelines))
	for _, s := range rp.pipelines {
		sinks = append(sinks, s)
	}
	rp.pipelinesMu.RUnlock()
	for _, s := range sinks {
		s.Broken(reason)
	}

	if rp.dispCancel != nil {
		rp.dispCancel()
	}
}

// ReclaimedPipeline is a pipeline the server reported still attached to a
// pool discovered via Enumerate, before any local codec has been bound to
// it (spec §4.6). package pipeline turns these into real PowerShell
// instances via CreateDisconnectedPowerShells.
type ReclaimedPipeline struct {
	ID uuid.UUID
}

// PoolCodecFactory builds the pool-scoped codec for a pool id discovered by
// Enumerate. Callers normally close over their transport's concrete Pool
// constructor, e.g. func(id uuid.UUID) codec.Pool { return wire.NewPool(id) }.
type PoolCodecFactory func(id uuid.UUID) codec.Pool

// Enumerate lists remote runspace pools discoverable through transport, each
// pre-populated with the Disconnected pipelines the server reports attached
// (spec §4.6: "enumerate(transport, host?) -> sequence<RunspacePool>").
//
// The original implementation marks pools discovered this way for an
// automatic new_client=true on the next connect, since the process doing the
// reclaiming is never the one that opened them; this port keeps Connect's
// newClient argument explicit, so callers reconnecting an enumerated pool
// must pass true themselves.
func Enumerate(ctx context.Context, transport codec.Transport, newPoolCodec PoolCodecFactory, opts ...Option) ([]*RunspacePool, error) {
	discovered, err := transport.Enumerate(ctx)
	if err != nil {
		return nil, err
	}

	pools := make([]*RunspacePool, 0, len(discovered))
	for _, d := range discovered {
		rp := New(newPoolCodec(d.PoolID), transport, opts...)

		rp.mu.Lock()
		rp.state = events.StateDisconnected
		rp.reclaimedPipelines = make([]ReclaimedPipeline, len(d.PipelineIDs))
		for i, id := range d.PipelineIDs {
			rp.reclaimedPipelines[i] = ReclaimedPipeline{ID: id}
		}
		rp.mu.Unlock()

		pools = append(pools, rp)
	}
	return pools, nil
}

type streamAppender struct {
	stream *collection.Collection[events.ErrorRecord]
}

func (s streamAppender) ProtocolAppend(rec events.ErrorRecord) { s.stream.ProtocolAppend(rec) }

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
