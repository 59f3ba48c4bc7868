package wire

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/smnsjas/go-psrp/events"
)

// loopback feeds everything one Pool enqueues straight into another Pool's
// Feed, simulating a peer that echoes messages back unmodified. It is
// enough to exercise the Pool/Pipeline -> fragment -> Pool round trip
// without a real WSMan server.
func loopback(t *testing.T, from, to *Pool) {
	t.Helper()
	for _, frag := range from.Outgoing() {
		if err := to.Feed(frag.Data); err != nil {
			t.Fatalf("Feed: %v", err)
		}
	}
}

func TestPoolOpenRoundTripsAsRunspacePoolState(t *testing.T) {
	id := uuid.New()
	client := NewPool(id)
	peer := NewPool(id)

	if err := client.Open(1, 5); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// the client queued an InitRunspacePool message; simulate the peer
	// replying with RunspacePoolState(Opened) addressed back to the client.
	client.Outgoing() // drain, a real server would decode and act on this

	if err := peer.enqueue(MessageRunspacePoolState, uuid.Nil, struct {
		State  events.RunspacePoolState
		Reason string
	}{events.StateOpened, ""}); err != nil {
		t.Fatalf("peer enqueue: %v", err)
	}
	loopback(t, peer, client)

	ev, ok, err := client.NextEvent(context.Background())
	if err != nil {
		t.Fatalf("NextEvent: %v", err)
	}
	if !ok {
		t.Fatal("expected an event")
	}
	se, ok := ev.(events.RunspacePoolStateEvent)
	if !ok {
		t.Fatalf("got %T, want events.RunspacePoolStateEvent", ev)
	}
	if se.State != events.StateOpened {
		t.Fatalf("State = %v, want StateOpened", se.State)
	}
}

func TestPipelineSendReturnsMissingCipherUntilKeyNegotiated(t *testing.T) {
	pool := NewPool(uuid.New())
	pipeline := NewPipeline(pool, uuid.New())

	secure := SecureString{Value: "s3cr3t"}
	if err := pipeline.Send(secure); err == nil {
		t.Fatal("expected ErrMissingCipher before key negotiation")
	}

	pool.keyNegotiated = true
	if err := pipeline.Send(secure); err != nil {
		t.Fatalf("Send after negotiation: %v", err)
	}
}
