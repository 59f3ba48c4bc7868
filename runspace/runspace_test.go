package runspace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/smnsjas/go-psrp/codec"
	"github.com/smnsjas/go-psrp/events"
)

// fakePool is a minimal codec.Pool whose Open/Close/etc calls synchronously
// append the corresponding terminal event to a queue that NextEvent drains
// after the test transport's next WaitEvent wake-up.
type fakePool struct {
	id uuid.UUID

	mu     sync.Mutex
	events []events.Event

	openErr error
}

func (p *fakePool) ID() uuid.UUID { return p.id }

func (p *fakePool) Open(min, max int) error {
	if p.openErr != nil {
		return p.openErr
	}
	p.queue(events.RunspacePoolStateEvent{State: events.StateOpened})
	return nil
}
func (p *fakePool) Connect(newClient bool) error {
	p.queue(events.RunspacePoolStateEvent{State: events.StateOpened})
	return nil
}
func (p *fakePool) Close() error {
	p.queue(events.RunspacePoolStateEvent{State: events.StateClosed})
	return nil
}
func (p *fakePool) Disconnect() error {
	p.queue(events.RunspacePoolStateEvent{State: events.StateDisconnected})
	return nil
}
func (p *fakePool) ExchangeKey() error {
	p.queue(events.EncryptedSessionKeyEvent{})
	return nil
}

func (p *fakePool) ResetRunspaceState() (int64, bool) { return 0, false }
func (p *fakePool) SetMinRunspaces(int) (int64, bool) { return 0, false }
func (p *fakePool) SetMaxRunspaces(int) (int64, bool) { return 0, false }
func (p *fakePool) GetAvailableRunspaces() (int64, bool) {
	p.queue(events.GetRunspaceAvailabilityEvent{CI: 1, Count: 4})
	return 1, true
}

func (p *fakePool) HostResponse(int64, uuid.UUID, any, *events.ErrorRecord) error { return nil }

func (p *fakePool) queue(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *fakePool) NextEvent(ctx context.Context) (events.Event, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return nil, false, nil
	}
	e := p.events[0]
	p.events = p.events[1:]
	return e, len(p.events) > 0, nil
}

// fakeTransport signals the dispatcher's WaitEvent loop once per call that
// queued an event on the pool (Create/Connect/Disconnect/Send), so the
// dispatcher only ever wakes up when there is something to drain.
type fakeTransport struct {
	codec.Transport
	tickCh  chan struct{}
	closeCh chan struct{}
	once    sync.Once

	enumerated []codec.EnumeratedPool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{tickCh: make(chan struct{}, 16), closeCh: make(chan struct{})}
}

func (t *fakeTransport) tick() { t.tickCh <- struct{}{} }

func (t *fakeTransport) WaitEvent(ctx context.Context, pool codec.Pool) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-t.tickCh:
		return true, nil
	case <-t.closeCh:
		return false, nil
	}
}

func (t *fakeTransport) Create(ctx context.Context, pool codec.Pool) error    { t.tick(); return nil }
func (t *fakeTransport) Close(ctx context.Context, pool codec.Pool, _ *uuid.UUID) error {
	t.tick()
	return nil
}
func (t *fakeTransport) Connect(ctx context.Context, pool codec.Pool, _ *uuid.UUID) error {
	t.tick()
	return nil
}
func (t *fakeTransport) Disconnect(ctx context.Context, pool codec.Pool) error { t.tick(); return nil }
func (t *fakeTransport) Send(ctx context.Context, pool codec.Pool, buffer bool) error {
	t.tick()
	return nil
}
func (t *fakeTransport) Enumerate(ctx context.Context) ([]codec.EnumeratedPool, error) {
	return t.enumerated, nil
}

func TestOpenReachesOpenedState(t *testing.T) {
	pool := &fakePool{id: uuid.New()}
	transport := newFakeTransport()
	rp := New(pool, transport)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rp.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if rp.State() != events.StateOpened {
		t.Fatalf("State() = %v, want Opened", rp.State())
	}
}

func TestOpenRejectedFromWrongState(t *testing.T) {
	pool := &fakePool{id: uuid.New()}
	transport := newFakeTransport()
	rp := New(pool, transport)
	rp.state = events.StateOpened

	if err := rp.Open(context.Background()); err == nil {
		t.Fatal("Open() from Opened state should fail")
	}
}

func TestSetMaxRunspacesRejectsBelowMin(t *testing.T) {
	pool := &fakePool{id: uuid.New()}
	transport := newFakeTransport()
	rp := New(pool, transport, WithRunspaces(5, 5))

	ok, err := rp.SetMaxRunspaces(context.Background(), 4)
	if err != nil {
		t.Fatalf("SetMaxRunspaces() error = %v", err)
	}
	if ok {
		t.Fatal("SetMaxRunspaces(min-1) should fail without a round trip")
	}
}

func TestSetMinRunspacesRejectsZero(t *testing.T) {
	pool := &fakePool{id: uuid.New()}
	transport := newFakeTransport()
	rp := New(pool, transport)

	ok, err := rp.SetMinRunspaces(context.Background(), 0)
	if err != nil {
		t.Fatalf("SetMinRunspaces() error = %v", err)
	}
	if ok {
		t.Fatal("SetMinRunspaces(0) should fail without a round trip")
	}
}

func TestGetAvailableRunspacesRoundTrip(t *testing.T) {
	pool := &fakePool{id: uuid.New()}
	transport := newFakeTransport()
	rp := New(pool, transport)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Start the dispatcher loop before issuing the round trip so it is
	// already parked on WaitEvent when Send ticks the transport.
	rp.startDispatcher()

	count, err := rp.GetAvailableRunspaces(ctx)
	if err != nil {
		t.Fatalf("GetAvailableRunspaces() error = %v", err)
	}
	if count != 4 {
		t.Fatalf("GetAvailableRunspaces() = %d, want 4", count)
	}
}

func TestBrokenCompletesStreamsAndFailsWaiters(t *testing.T) {
	pool := &fakePool{id: uuid.New()}
	transport := newFakeTransport()
	rp := New(pool, transport)

	rp.Broken(context.DeadlineExceeded)

	if rp.State() != events.StateBroken {
		t.Fatalf("State() = %v, want Broken", rp.State())
	}
	if !rp.ErrorStream().Completed() {
		t.Fatal("error stream should be completed after Broken")
	}

	// Broken must be idempotent.
	rp.Broken(context.DeadlineExceeded)
}

func TestEnumerateBuildsDisconnectedPoolsWithReclaimedPipelines(t *testing.T) {
	transport := newFakeTransport()
	poolID := uuid.New()
	pipelineA, pipelineB := uuid.New(), uuid.New()
	transport.enumerated = []codec.EnumeratedPool{
		{PoolID: poolID, PipelineIDs: []uuid.UUID{pipelineA, pipelineB}},
	}

	pools, err := Enumerate(context.Background(), transport, func(id uuid.UUID) codec.Pool {
		return &fakePool{id: id}
	})
	if err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}
	if len(pools) != 1 {
		t.Fatalf("Enumerate() returned %d pools, want 1", len(pools))
	}

	rp := pools[0]
	if rp.ID() != poolID {
		t.Fatalf("pool id = %s, want %s", rp.ID(), poolID)
	}
	if rp.State() != events.StateDisconnected {
		t.Fatalf("pool state = %v, want Disconnected", rp.State())
	}

	reclaimed := rp.ReclaimedPipelines()
	if len(reclaimed) != 2 || reclaimed[0].ID != pipelineA || reclaimed[1].ID != pipelineB {
		t.Fatalf("ReclaimedPipelines() = %+v, want [%s %s]", reclaimed, pipelineA, pipelineB)
	}
}

func TestOnStateChangeFiresOnTransition(t *testing.T) {
	pool := &fakePool{id: uuid.New()}
	transport := newFakeTransport()
	rp := New(pool, transport)

	seen := make(chan events.RunspacePoolState, 1)
	unsub := rp.OnStateChange(func(s events.RunspacePoolState) { seen <- s })
	defer unsub()

	rp.Broken(nil)

	select {
	case s := <-seen:
		if s != events.StateBroken {
			t.Fatalf("got state %v, want Broken", s)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber was never notified")
	}
}
