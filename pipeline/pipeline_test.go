package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/smnsjas/go-psrp/codec"
	"github.com/smnsjas/go-psrp/events"
	"github.com/smnsjas/go-psrp/host"
)

// sink mirrors the anonymous interface embedded in pool.RegisterPipeline's
// parameter; Go's structural interface identity means this named type and
// that literal are the same type, so fakePool satisfies pool exactly.
type sink interface {
	HandleEvent(ctx context.Context, e events.Event)
	Broken(reason error)
}

type fakePool struct {
	id uuid.UUID
	h  host.Host

	mu         sync.Mutex
	registered map[uuid.UUID]sink
	exchanges  int

	transport *fakeTransport
	poolCodec *fakePoolCodec
}

func newFakePool() *fakePool {
	return &fakePool{
		id:         uuid.New(),
		registered: make(map[uuid.UUID]sink),
		transport:  &fakeTransport{},
		poolCodec:  &fakePoolCodec{},
	}
}

func (p *fakePool) ID() uuid.UUID            { return p.id }
func (p *fakePool) Host() host.Host          { return p.h }
func (p *fakePool) Transport() codec.Transport { return p.transport }
func (p *fakePool) Codec() codec.Pool        { return p.poolCodec }

func (p *fakePool) RegisterPipeline(id uuid.UUID, s sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered[id] = s
}

func (p *fakePool) UnregisterPipeline(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.registered, id)
}

func (p *fakePool) ExchangeKey(ctx context.Context) error {
	p.mu.Lock()
	p.exchanges++
	p.mu.Unlock()
	return nil
}

type fakePoolCodec struct{}

func (c *fakePoolCodec) ID() uuid.UUID                                      { return uuid.Nil }
func (c *fakePoolCodec) Open(int, int) error                                { return nil }
func (c *fakePoolCodec) Connect(bool) error                                 { return nil }
func (c *fakePoolCodec) Close() error                                       { return nil }
func (c *fakePoolCodec) Disconnect() error                                  { return nil }
func (c *fakePoolCodec) ExchangeKey() error                                 { return nil }
func (c *fakePoolCodec) ResetRunspaceState() (int64, bool)                  { return 0, false }
func (c *fakePoolCodec) SetMinRunspaces(int) (int64, bool)                  { return 0, false }
func (c *fakePoolCodec) SetMaxRunspaces(int) (int64, bool)                  { return 0, false }
func (c *fakePoolCodec) GetAvailableRunspaces() (int64, bool)               { return 0, false }
func (c *fakePoolCodec) HostResponse(int64, uuid.UUID, any, *events.ErrorRecord) error { return nil }
func (c *fakePoolCodec) NextEvent(ctx context.Context) (events.Event, bool, error) {
	return nil, false, nil
}

type fakeTransport struct {
	codec.Transport
	mu   sync.Mutex
	sent []any
}

func (t *fakeTransport) Command(ctx context.Context, pool codec.Pool, pipelineID uuid.UUID) error {
	return nil
}
func (t *fakeTransport) Send(ctx context.Context, pool codec.Pool, buffer bool) error   { return nil }
func (t *fakeTransport) SendAll(ctx context.Context, pool codec.Pool) error             { return nil }
func (t *fakeTransport) Signal(ctx context.Context, pool codec.Pool, id uuid.UUID) error { return nil }
func (t *fakeTransport) Close(ctx context.Context, pool codec.Pool, id *uuid.UUID) error { return nil }
func (t *fakeTransport) Enumerate(ctx context.Context) ([]codec.EnumeratedPool, error) {
	return nil, nil
}
func (t *fakeTransport) Connect(ctx context.Context, pool codec.Pool, id *uuid.UUID) error {
	return nil
}

// fakePipelineCodec is a minimal codec.PipelineCodec whose Start/Send can be
// scripted to fail with codec.ErrMissingCipher exactly once.
type fakePipelineCodec struct {
	id uuid.UUID

	mu             sync.Mutex
	missingCipher  bool
	startCalls     int
	sendCalls      int
	sendEndCalled  bool
}

func (c *fakePipelineCodec) ID() uuid.UUID { return c.id }

func (c *fakePipelineCodec) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startCalls++
	if c.missingCipher && c.startCalls == 1 {
		return codec.ErrMissingCipher
	}
	return nil
}

func (c *fakePipelineCodec) Send(item any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendCalls++
	return nil
}

func (c *fakePipelineCodec) SendEnd() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendEndCalled = true
	return nil
}

func (c *fakePipelineCodec) Signal() error { return nil }

func newTestPipeline(pp *fakePool, pc *fakePipelineCodec) *Pipeline {
	return newPipeline(pp, pc, nil)
}

func TestInvokeReturnsOutputOnCompletion(t *testing.T) {
	pp := newFakePool()
	pc := &fakePipelineCodec{id: uuid.New()}
	p := newTestPipeline(pp, pc)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h, err := p.InvokeAsync(ctx, []any{"a", "b"}, nil, true)
	if err != nil {
		t.Fatalf("InvokeAsync() error = %v", err)
	}

	// Simulate the dispatcher delivering output then a terminal state event.
	p.HandleEvent(ctx, events.PipelineOutputEvent{Data: "hello"})
	p.HandleEvent(ctx, events.PipelineStateEvent{State: events.PipelineCompleted})

	out, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(out) != 1 || out[0] != "hello" {
		t.Fatalf("Wait() output = %v, want [hello]", out)
	}
	if pc.sendCalls != 2 {
		t.Fatalf("sendCalls = %d, want 2", pc.sendCalls)
	}
	if !pc.sendEndCalled {
		t.Fatal("SendEnd was never called")
	}
}

func TestInvokeReturnsFailedError(t *testing.T) {
	pp := newFakePool()
	pc := &fakePipelineCodec{id: uuid.New()}
	p := newTestPipeline(pp, pc)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h, err := p.InvokeAsync(ctx, nil, nil, true)
	if err != nil {
		t.Fatalf("InvokeAsync() error = %v", err)
	}

	p.HandleEvent(ctx, events.PipelineStateEvent{State: events.PipelineFailed, Reason: "boom"})

	_, err = h.Wait(ctx)
	fe, ok := err.(*FailedError)
	if !ok {
		t.Fatalf("Wait() error = %v (%T), want *FailedError", err, err)
	}
	if fe.Reason != "boom" {
		t.Fatalf("Reason = %q, want %q", fe.Reason, "boom")
	}
}

func TestInvokeReturnsStoppedError(t *testing.T) {
	pp := newFakePool()
	pc := &fakePipelineCodec{id: uuid.New()}
	p := newTestPipeline(pp, pc)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h, err := p.InvokeAsync(ctx, nil, nil, true)
	if err != nil {
		t.Fatalf("InvokeAsync() error = %v", err)
	}

	p.HandleEvent(ctx, events.PipelineStateEvent{State: events.PipelineStopped})

	_, err = h.Wait(ctx)
	if _, ok := err.(*StoppedError); !ok {
		t.Fatalf("Wait() error = %v (%T), want *StoppedError", err, err)
	}
}

func TestHadErrorsReflectsErrorStreamNotState(t *testing.T) {
	pp := newFakePool()
	pc := &fakePipelineCodec{id: uuid.New()}
	p := newTestPipeline(pp, pc)

	if p.HadErrors() {
		t.Fatal("HadErrors() = true before any error record")
	}

	p.HandleEvent(context.Background(), events.ErrorRecordEvent{Record: events.ErrorRecord{Message: "oops"}})

	if !p.HadErrors() {
		t.Fatal("HadErrors() = false after an error record was appended")
	}
	// State is still NotStarted/whatever it was; HadErrors must not consult it.
	if p.State() == events.PipelineFailed {
		t.Fatal("test setup invariant broken: state should not be Failed")
	}
}

func TestMissingCipherRetriesExchangeKeyExactlyOnce(t *testing.T) {
	pp := newFakePool()
	pc := &fakePipelineCodec{id: uuid.New(), missingCipher: true}
	p := newTestPipeline(pp, pc)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h, err := p.InvokeAsync(ctx, nil, nil, true)
	if err != nil {
		t.Fatalf("InvokeAsync() error = %v", err)
	}
	p.HandleEvent(ctx, events.PipelineStateEvent{State: events.PipelineCompleted})
	if _, err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if pp.exchanges != 1 {
		t.Fatalf("ExchangeKey calls = %d, want 1", pp.exchanges)
	}
	if pc.startCalls != 2 {
		t.Fatalf("Start calls = %d, want 2 (initial failure + retry)", pc.startCalls)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	pp := newFakePool()
	pc := &fakePipelineCodec{id: uuid.New()}
	p := newTestPipeline(pp, pc)

	ctx := context.Background()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := p.Close(ctx); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
