package process

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/smnsjas/go-psrp/events"
	"github.com/smnsjas/go-psrp/transport/wsman/wire"
)

// TestTransportRoundTripsThroughEchoChild spawns "cat" as the child, which
// echoes every frame it receives straight back on stdout. That is enough to
// exercise the length-prefixed framing and the wire.Pool plumbing without a
// real PSRP-speaking host process.
func TestTransportRoundTripsThroughEchoChild(t *testing.T) {
	pool := wire.NewPool(uuid.New())
	if err := pool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tr := New(Command("cat"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tr.Create(ctx, pool); err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer tr.Close(context.Background(), pool, nil)

	ok, err := tr.WaitEvent(ctx, pool)
	if err != nil {
		t.Fatalf("WaitEvent: %v", err)
	}
	if !ok {
		t.Fatal("expected WaitEvent to report an event")
	}

	ev, ok, err := pool.NextEvent(ctx)
	if err != nil {
		t.Fatalf("NextEvent: %v", err)
	}
	if !ok {
		t.Fatal("expected a queued event")
	}
	se, ok := ev.(events.RunspacePoolStateEvent)
	if !ok {
		t.Fatalf("got %T, want events.RunspacePoolStateEvent", ev)
	}
	if se.State != events.StateClosing {
		t.Fatalf("State = %v, want StateClosing", se.State)
	}
}

func TestCommandFailsForUnknownPool(t *testing.T) {
	tr := New(Command("cat"), nil)
	pool := wire.NewPool(uuid.New())
	if err := tr.Command(context.Background(), pool, uuid.New()); err != ErrNoSuchPool {
		t.Fatalf("got %v, want ErrNoSuchPool", err)
	}
}

func TestConnectReconnectDisconnectUnsupported(t *testing.T) {
	tr := New(Command("cat"), nil)
	pool := wire.NewPool(uuid.New())

	if err := tr.Connect(context.Background(), pool, nil); err != ErrReconnectUnsupported {
		t.Fatalf("Connect: got %v, want ErrReconnectUnsupported", err)
	}
	if err := tr.Reconnect(context.Background(), pool); err != ErrReconnectUnsupported {
		t.Fatalf("Reconnect: got %v, want ErrReconnectUnsupported", err)
	}
	if err := tr.Disconnect(context.Background(), pool); err != ErrReconnectUnsupported {
		t.Fatalf("Disconnect: got %v, want ErrReconnectUnsupported", err)
	}
}
