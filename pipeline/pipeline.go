// Package pipeline implements the client-side state machine for one remote
// PSRP pipeline invocation (spec §4.5): PowerShell command pipelines and
// CommandMetadata lookups alike share the invoke/stop/connect/close
// mechanics defined here; package-specific construction lives in
// powershell.go and commandmetadata.go.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/smnsjas/go-psrp/codec"
	"github.com/smnsjas/go-psrp/collection"
	"github.com/smnsjas/go-psrp/events"
	"github.com/smnsjas/go-psrp/host"
	"github.com/smnsjas/go-psrp/hostinvoker"
	"github.com/smnsjas/go-psrp/waiter"
)

// FailedError is returned by Wait/Invoke when the pipeline's terminal state
// was Failed.
type FailedError struct{ Reason string }

func (e *FailedError) Error() string { return "pipeline failed: " + e.Reason }

// StoppedError is returned by Wait/Invoke when the pipeline's terminal state
// was Stopped, whether due to an explicit Stop call or a peer-initiated
// stop.
type StoppedError struct{ Reason string }

func (e *StoppedError) Error() string { return "pipeline stopped: " + e.Reason }

// pool is the subset of *runspace.RunspacePool a Pipeline needs. Declaring
// it as an interface lets tests substitute a fake for the concrete pool;
// runspace never imports pipeline, and Pipeline satisfies runspace's
// PipelineSink contract structurally.
type pool interface {
	ID() uuid.UUID
	Host() host.Host
	Transport() codec.Transport
	Codec() codec.Pool
	RegisterPipeline(id uuid.UUID, sink interface {
		HandleEvent(ctx context.Context, e events.Event)
		Broken(reason error)
	})
	UnregisterPipeline(id uuid.UUID)
	ExchangeKey(ctx context.Context) error
}

// Result is what a pipeline's background completion delivers: either the
// collected output (when no explicit output stream was supplied) or an
// error describing why the pipeline did not complete successfully.
type Result struct {
	Output []any
	Err    error
}

// Handle represents an in-flight invoke/connect/stop operation. Wait blocks
// until the operation's background goroutine resolves it.
type Handle struct {
	done chan Result
}

// Wait blocks until the operation completes or ctx is cancelled.
func (h *Handle) Wait(ctx context.Context) ([]any, error) {
	select {
	case r := <-h.done:
		return r.Output, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pipeline is the common state machine shared by the PowerShell and
// CommandMetadata variants.
type Pipeline struct {
	pool  pool
	codec codec.PipelineCodec
	host  host.Host // overrides pool.Host() when non-nil

	mu    sync.RWMutex
	state events.PipelineState

	subMu       sync.Mutex
	subscribers map[int]func(events.PipelineState)
	nextSubID   int

	waiters waiter.Registry

	debugStream       *collection.Collection[events.DebugRecord]
	errorStream       *collection.Collection[events.ErrorRecord]
	informationStream *collection.Collection[events.InformationRecord]
	progressStream    *collection.Collection[events.ProgressRecord]
	verboseStream     *collection.Collection[events.VerboseRecord]
	warningStream     *collection.Collection[events.WarningRecord]

	output         *collection.Collection[any]
	explicitOutput bool

	closeMu sync.Mutex
	closed  bool
}

func newPipeline(p pool, c codec.PipelineCodec, h host.Host) *Pipeline {
	return &Pipeline{
		pool:        p,
		codec:       c,
		host:        h,
		state:       events.PipelineNotStarted,
		subscribers: make(map[int]func(events.PipelineState)),

		debugStream:       collection.New[events.DebugRecord](true),
		errorStream:       collection.New[events.ErrorRecord](true),
		informationStream: collection.New[events.InformationRecord](true),
		progressStream:    collection.New[events.ProgressRecord](true),
		verboseStream:     collection.New[events.VerboseRecord](true),
		warningStream:     collection.New[events.WarningRecord](true),

		output: collection.New[any](true),
	}
}

func (p *Pipeline) ID() uuid.UUID { return p.codec.ID() }

// State returns the pipeline's current state.
func (p *Pipeline) State() events.PipelineState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// HadErrors reports whether any record has been added to the error stream.
// This is deliberately NOT derived from state: a pipeline can complete
// successfully while having still written non-fatal errors (spec §9).
func (p *Pipeline) HadErrors() bool { return p.errorStream.Len() > 0 }

func (p *Pipeline) DebugStream() *collection.Collection[events.DebugRecord] { return p.debugStream }
func (p *Pipeline) ErrorStream() *collection.Collection[events.ErrorRecord] { return p.errorStream }
func (p *Pipeline) InformationStream() *collection.Collection[events.InformationRecord] {
	return p.informationStream
}
func (p *Pipeline) ProgressStream() *collection.Collection[events.ProgressRecord] {
	return p.progressStream
}
func (p *Pipeline) VerboseStream() *collection.Collection[events.VerboseRecord] {
	return p.verboseStream
}
func (p *Pipeline) WarningStream() *collection.Collection[events.WarningRecord] {
	return p.warningStream
}

// OnStateChange registers a callback fired whenever the pipeline's state
// changes. The returned func removes it.
func (p *Pipeline) OnStateChange(fn func(events.PipelineState)) (unsubscribe func()) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	p.subscribers[id] = fn
	return func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		delete(p.subscribers, id)
	}
}

func (p *Pipeline) setState(s events.PipelineState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()

	p.subMu.Lock()
	fns := make([]func(events.PipelineState), 0, len(p.subscribers))
	for _, fn := range p.subscribers {
		fns = append(fns, fn)
	}
	p.subMu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// Invoke runs the pipeline to completion and returns its output. inputData
// of nil means no input stream is sent at all; a non-nil (possibly empty)
// slice streams each item, followed by an end-of-input marker, before
// waiting for the pipeline to finish.
func (p *Pipeline) Invoke(ctx context.Context, inputData []any, bufferInput bool) ([]any, error) {
	h, err := p.InvokeAsync(ctx, inputData, nil, bufferInput)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// InvokeAsync starts the pipeline and returns once its construction message
// and all input have been sent, without waiting for it to finish running.
// The returned Handle resolves once the pipeline reaches a terminal state.
//
// If outputStream is non-nil, output is appended there instead of being
// collected for the Handle's Result, which then always reports nil Output.
func (p *Pipeline) InvokeAsync(ctx context.Context, inputData []any, outputStream *collection.Collection[any], bufferInput bool) (*Handle, error) {
	if outputStream != nil {
		p.explicitOutput = true
		p.output = outputStream
	} else {
		p.output = collection.New[any](true)
	}

	h := &Handle{done: make(chan Result, 1)}
	w := waiter.New(func(e events.PipelineStateEvent) bool { return e.State != events.PipelineRunning })
	cancel := waiter.Track(&p.waiters, w)
	go p.awaitTerminal(w, cancel, h)

	if err := p.startWithRetry(ctx); err != nil {
		return nil, err
	}

	p.pool.RegisterPipeline(p.ID(), p)

	transport := p.pool.Transport()
	poolCodec := p.pool.Codec()
	if err := transport.Command(ctx, poolCodec, p.ID()); err != nil {
		return nil, err
	}
	if err := transport.SendAll(ctx, poolCodec); err != nil {
		return nil, err
	}

	if inputData != nil {
		for _, item := range inputData {
			if err := p.sendWithRetry(ctx, item); err != nil {
				return nil, err
			}
			if bufferInput {
				if err := transport.Send(ctx, poolCodec, true); err != nil {
					return nil, err
				}
			} else {
				if err := transport.SendAll(ctx, poolCodec); err != nil {
					return nil, err
				}
			}
		}
		if err := p.codec.SendEnd(); err != nil {
			return nil, err
		}
		if err := transport.SendAll(ctx, poolCodec); err != nil {
			return nil, err
		}
	}

	return h, nil
}

func (p *Pipeline) startWithRetry(ctx context.Context) error {
	err := p.codec.Start()
	if errors.Is(err, codec.ErrMissingCipher) {
		if kErr := p.pool.ExchangeKey(ctx); kErr != nil {
			return kErr
		}
		err = p.codec.Start()
	}
	return err
}

func (p *Pipeline) sendWithRetry(ctx context.Context, item any) error {
	err := p.codec.Send(item)
	if errors.Is(err, codec.ErrMissingCipher) {
		if kErr := p.pool.ExchangeKey(ctx); kErr != nil {
			return kErr
		}
		err = p.codec.Send(item)
	}
	return err
}

func (p *Pipeline) awaitTerminal(w *waiter.Waiter[events.PipelineStateEvent], cancel func(), h *Handle) {
	defer cancel()
	ev, err := w.Wait(context.Background())
	if err != nil {
		h.done <- Result{Err: err}
		return
	}

	_ = p.Close(context.Background())

	switch ev.State {
	case events.PipelineFailed:
		reason := ev.Reason
		if reason == "" {
			reason = "unknown failure"
		}
		h.done <- Result{Err: &FailedError{Reason: reason}}
	case events.PipelineStopped:
		reason := ev.Reason
		if reason == "" {
			reason = "the pipeline has been stopped"
		}
		h.done <- Result{Err: &StoppedError{Reason: reason}}
	default:
		if p.explicitOutput {
			h.done <- Result{}
		} else {
			h.done <- Result{Output: p.output.Snapshot()}
		}
	}
}

// Connect reclaims a disconnected pipeline discovered via runspace.Enumerate
// and waits for it to complete (spec §4.5, §4.6).
func (p *Pipeline) Connect(ctx context.Context) ([]any, error) {
	h, err := p.ConnectAsync(ctx, nil)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// ConnectAsync reattaches to the pipeline's output stream without waiting
// for it to finish.
func (p *Pipeline) ConnectAsync(ctx context.Context, outputStream *collection.Collection[any]) (*Handle, error) {
	if outputStream != nil {
		p.explicitOutput = true
		p.output = outputStream
	} else {
		p.output = collection.New[any](true)
	}

	h := &Handle{done: make(chan Result, 1)}
	w := waiter.New(func(e events.PipelineStateEvent) bool { return e.State != events.PipelineRunning })
	cancel := waiter.Track(&p.waiters, w)
	go p.awaitTerminal(w, cancel, h)

	id := p.ID()
	if err := p.pool.Transport().Connect(ctx, p.pool.Codec(), &id); err != nil {
		return nil, err
	}
	p.pool.RegisterPipeline(p.ID(), p)
	p.setState(events.PipelineRunning)

	return h, nil
}

// Stop signals the pipeline to stop and waits for the signal to be
// acknowledged.
func (p *Pipeline) Stop(ctx context.Context) error {
	h, err := p.StopAsync(ctx)
	if err != nil {
		return err
	}
	_, err = h.Wait(ctx)
	return err
}

// StopAsync sends the stop signal and returns immediately with a Handle
// that resolves once the signal is acknowledged. It does not wait for the
// pipeline's PipelineStateEvent: the invoke task's Handle owns that (spec
// §9) — a stopped pipeline still resolves via InvokeAsync's Handle.
func (p *Pipeline) StopAsync(ctx context.Context) (*Handle, error) {
	h := &Handle{done: make(chan Result, 1)}
	go func() {
		err := p.pool.Transport().Signal(ctx, p.pool.Codec(), p.ID())
		h.done <- Result{Err: err}
	}()
	return h, nil
}

// Close closes the pipeline resource on the peer. It is a no-op if already
// closed or if the pipeline is Disconnected (closing a disconnected
// pipeline would tear down state the reclaiming party still needs). Close
// is safe to call concurrently and from multiple goroutines for the same
// Pipeline; only the first call does any work.
func (p *Pipeline) Close(ctx context.Context) error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()

	if p.closed || p.State() == events.PipelineDisconnected {
		return nil
	}
	p.closed = true

	id := p.ID()
	err := p.pool.Transport().Close(ctx, p.pool.Codec(), &id)
	p.pool.UnregisterPipeline(id)
	return err
}

// HandleEvent implements the handler contract RunspacePool.RegisterPipeline
// expects (spec §4.3 step 2's pipeline-scoped half).
func (p *Pipeline) HandleEvent(ctx context.Context, e events.Event) {
	switch ev := e.(type) {
	case events.PipelineStateEvent:
		p.setState(ev.State)
	case events.PipelineHostCallEvent:
		p.handleHostCall(ctx, ev)
	case events.PipelineOutputEvent:
		p.output.Append(ev.Data)
	case events.DebugRecordEvent:
		p.debugStream.Append(ev.Record)
	case events.ErrorRecordEvent:
		p.errorStream.Append(ev.Record)
	case events.InformationRecordEvent:
		p.informationStream.Append(ev.Record)
	case events.ProgressRecordEvent:
		p.progressStream.Append(ev.Record)
	case events.VerboseRecordEvent:
		p.verboseStream.Append(ev.Record)
	case events.WarningRecordEvent:
		p.warningStream.Append(ev.Record)
	default:
	}
	p.waiters.Offer(e)
}

func (p *Pipeline) effectiveHost() host.Host {
	if p.host != nil {
		return p.host
	}
	return p.pool.Host()
}

func (p *Pipeline) handleHostCall(ctx context.Context, ev events.PipelineHostCallEvent) {
	out := hostinvoker.Invoke(ctx, p.effectiveHost(), ev.MethodIdentifier, ev.MethodParameters, streamAppender{p.errorStream})
	if !out.Responded {
		return
	}
	if err := p.pool.Codec().HostResponse(ev.CI, p.ID(), out.Response, out.Error); err != nil {
		return
	}
	_ = p.pool.Transport().Send(ctx, p.pool.Codec(), false)
}

// Broken implements the other half of RunspacePool.PipelineSink: it is
// called once if the owning pool breaks while this pipeline has not yet
// reached a terminal state.
func (p *Pipeline) Broken(reason error) {
	p.debugStream.Complete()
	p.errorStream.Complete()
	p.informationStream.Complete()
	p.progressStream.Complete()
	p.verboseStream.Complete()
	p.warningStream.Complete()
	p.output.Complete()
	p.waiters.FailAll(fmt.Errorf("pipeline: owning runspace pool broke: %w", reason))
}

type streamAppender struct {
	stream *collection.Collection[events.ErrorRecord]
}

func (s streamAppender) ProtocolAppend(rec events.ErrorRecord) { s.stream.ProtocolAppend(rec) }
