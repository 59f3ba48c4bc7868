package wire

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/smnsjas/go-psrp/codec"
	"github.com/smnsjas/go-psrp/events"
)

// SecureString marks a pipeline parameter value that must not be sent
// before a session key has been negotiated (spec §4.5, §9's MissingCipher
// retry contract).
type SecureString struct{ Value string }

// Pool implements codec.Pool over the wire framing in this package. One
// Pool exists per RunspacePool and is shared with every Pipeline/
// CommandMetadata codec it creates, since a session key negotiated for one
// pipeline is reused by all of them (spec §4.5).
type Pool struct {
	id uuid.UUID

	frag   Fragmenter
	defrag Defragmenter

	mu            sync.Mutex
	outbox        []OutboundFragment
	incoming      []events.Event
	keyNegotiated bool
	ciSeq         int64
}

// NewPool creates a Pool identified by id; callers typically pass
// uuid.New().
func NewPool(id uuid.UUID) *Pool {
	return &Pool{id: id}
}

func (p *Pool) ID() uuid.UUID { return p.id }

func (p *Pool) nextCI() int64 {
	return atomic.AddInt64(&p.ciSeq, 1)
}

// OutboundFragment is one wire fragment queued for a specific pipeline
// (uuid.Nil for a pool-scoped message), so the transport can route it to
// the right WSMan command's input stream.
type OutboundFragment struct {
	PipelineID uuid.UUID
	Data       []byte
}

func (p *Pool) enqueue(mt MessageType, pid uuid.UUID, payload any) error {
	data, err := encodeObject(payload)
	if err != nil {
		return err
	}
	msg := Message{Destination: DestinationServer, Type: mt, RPID: p.id, PID: pid, Data: data}
	raw := msg.Encode()

	p.mu.Lock()
	for _, frag := range p.frag.Fragment(raw) {
		p.outbox = append(p.outbox, OutboundFragment{PipelineID: pid, Data: frag})
	}
	p.mu.Unlock()
	return nil
}

// Outgoing removes and returns every fragment queued since the last call.
// The wsman Transport calls this from Send/SendAll to know what to post.
func (p *Pool) Outgoing() []OutboundFragment {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.outbox
	p.outbox = nil
	return out
}

// Feed pushes one raw fragment received from the transport. Once a fragment
// completes a message, the message is decoded into an event and queued for
// NextEvent.
func (p *Pool) Feed(raw []byte) error {
	full, done, err := p.defrag.Push(raw)
	if err != nil {
		return err
	}
	if !done {
		return nil
	}
	msg, err := DecodeMessage(full)
	if err != nil {
		return err
	}
	ev, err := p.decodeEvent(msg)
	if err != nil {
		return err
	}
	if ev == nil {
		return nil
	}
	p.mu.Lock()
	p.incoming = append(p.incoming, ev)
	p.mu.Unlock()
	return nil
}

func (p *Pool) decodeEvent(msg Message) (events.Event, error) {
	switch msg.Type {
	case MessageRunspacePoolState:
		var body struct {
			State  events.RunspacePoolState
			Reason string
		}
		if err := decodeObject(msg.Data, &body); err != nil {
			return nil, err
		}
		if body.State == events.StateOpened {
			p.keyNegotiated = true
		}
		return events.NewRunspacePoolStateEvent(msg.PID, body.State, body.Reason), nil
	case MessagePipelineState:
		var body struct {
			State  events.PipelineState
			Reason string
		}
		if err := decodeObject(msg.Data, &body); err != nil {
			return nil, err
		}
		return events.NewPipelineStateEvent(msg.PID, body.State, body.Reason), nil
	case MessagePipelineOutput:
		var body any
		if err := decodeObject(msg.Data, &body); err != nil {
			return nil, err
		}
		return events.NewPipelineOutputEvent(msg.PID, body), nil
	case MessageErrorRecord:
		var rec events.ErrorRecord
		if err := decodeObject(msg.Data, &rec); err != nil {
			return nil, err
		}
		return events.NewErrorRecordEvent(msg.PID, rec), nil
	case MessageEncryptedSessionKey:
		p.keyNegotiated = true
		return events.NewEncryptedSessionKeyEvent(msg.PID), nil
	case MessageApplicationPrivateData:
		var data map[string]any
		if err := decodeObject(msg.Data, &data); err != nil {
			return nil, err
		}
		return events.NewApplicationPrivateDataEvent(msg.PID, data), nil
	case MessageRunspaceAvailability:
		var body struct {
			CI    int64
			Count int
		}
		if err := decodeObject(msg.Data, &body); err != nil {
			return nil, err
		}
		return events.NewGetRunspaceAvailabilityEvent(msg.PID, body.CI, body.Count), nil
	default:
		return nil, fmt.Errorf("wire: unhandled message type %d", msg.Type)
	}
}

func (p *Pool) Open(minRunspaces, maxRunspaces int) error {
	return p.enqueue(MessageInitRunspacePool, uuid.Nil, struct {
		MinRunspaces int
		MaxRunspaces int
	}{minRunspaces, maxRunspaces})
}

func (p *Pool) Connect(newClient bool) error {
	return p.enqueue(MessageConnectRunspacePool, uuid.Nil, struct{ NewClient bool }{newClient})
}

func (p *Pool) Close() error {
	return p.enqueue(MessageRunspacePoolState, uuid.Nil, struct {
		State  events.RunspacePoolState
		Reason string
	}{events.StateClosing, ""})
}

func (p *Pool) Disconnect() error {
	return p.enqueue(MessageRunspacePoolState, uuid.Nil, struct {
		State  events.RunspacePoolState
		Reason string
	}{events.StateDisconnecting, ""})
}

func (p *Pool) ExchangeKey() error {
	return p.enqueue(MessagePublicKeyRequest, uuid.Nil, struct{}{})
}

func (p *Pool) ResetRunspaceState() (int64, bool) {
	ci := p.nextCI()
	if err := p.enqueue(MessageResetRunspaceState, uuid.Nil, struct{ CI int64 }{ci}); err != nil {
		return 0, false
	}
	return ci, true
}

func (p *Pool) SetMinRunspaces(value int) (int64, bool) {
	ci := p.nextCI()
	if err := p.enqueue(MessageSetMinRunspaces, uuid.Nil, struct {
		CI    int64
		Value int
	}{ci, value}); err != nil {
		return 0, false
	}
	return ci, true
}

func (p *Pool) SetMaxRunspaces(value int) (int64, bool) {
	ci := p.nextCI()
	if err := p.enqueue(MessageSetMaxRunspaces, uuid.Nil, struct {
		CI    int64
		Value int
	}{ci, value}); err != nil {
		return 0, false
	}
	return ci, true
}

func (p *Pool) GetAvailableRunspaces() (int64, bool) {
	ci := p.nextCI()
	if err := p.enqueue(MessageGetAvailableRunspaces, uuid.Nil, struct{ CI int64 }{ci}); err != nil {
		return 0, false
	}
	return ci, true
}

func (p *Pool) HostResponse(ci int64, pipelineID uuid.UUID, returnValue any, errorRecord *events.ErrorRecord) error {
	mt := MessageRunspacePoolHostResponse
	if pipelineID != uuid.Nil {
		mt = MessagePipelineHostResponse
	}
	return p.enqueue(mt, pipelineID, struct {
		CI          int64
		ReturnValue any
		Error       *events.ErrorRecord
	}{ci, returnValue, errorRecord})
}

func (p *Pool) NextEvent(ctx context.Context) (events.Event, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.incoming) == 0 {
		return nil, false, nil
	}
	ev := p.incoming[0]
	p.incoming = p.incoming[1:]
	return ev, true, nil
}

var _ codec.Pool = (*Pool)(nil)
