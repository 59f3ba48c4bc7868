// Package codec defines the Codec and Transport collaborators the runtime
// consumes but never implements itself (spec §1, §6). The PSRP wire format,
// fragmentation, and serialization live behind these interfaces; this module
// only needs to drive them and route the typed events they emit.
package codec

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/smnsjas/go-psrp/events"
)

// ErrMissingCipher is raised by a Codec when asked to serialize or
// deserialize a secure string before a session key has been negotiated. The
// runtime recovers from this transparently exactly once, by calling
// RunspacePool.ExchangeKey and retrying (spec §4.5, §9).
var ErrMissingCipher = errors.New("codec: no session key negotiated for secure string")

// Pool is the subset of a client-side PSRP runspace pool that the runtime
// core drives. One Pool is created per RunspacePool.
//
// Pool does not itself talk to the network; it only turns high-level
// intents into bytes (queued internally) and turns bytes back into typed
// Events. The Transport is responsible for moving those bytes.
type Pool interface {
	ID() uuid.UUID

	// Open begins the handshake that creates a new runspace pool on the peer.
	Open(minRunspaces, maxRunspaces int) error
	// Connect begins the handshake used to reclaim a pool discovered via
	// Enumerate (spec §4.6). newClient distinguishes the two reclaim paths.
	Connect(newClient bool) error
	// Close begins the close handshake.
	Close() error
	// Disconnect begins the disconnect handshake; the caller transitions the
	// pool to Disconnected once the transport confirms it.
	Disconnect() error

	// ExchangeKey begins a session-key exchange.
	ExchangeKey() error

	// ResetRunspaceState, SetMinRunspaces, SetMaxRunspaces, and
	// GetAvailableRunspaces each return a call id to correlate the response
	// event, or (0, false) if the codec determined no message needs to be
	// sent (spec §4.6 — e.g. protocol version too old for reset).
	ResetRunspaceState() (ci int64, shouldSend bool)
	SetMinRunspaces(value int) (ci int64, shouldSend bool)
	SetMaxRunspaces(value int) (ci int64, shouldSend bool)
	GetAvailableRunspaces() (ci int64, shouldSend bool)

	// HostResponse queues a response to a host call identified by ci.
	// pipelineID is uuid.Nil for a call targeting the pool itself, or the
	// pipeline id the call was addressed to.
	HostResponse(ci int64, pipelineID uuid.UUID, returnValue any, errorRecord *events.ErrorRecord) error

	// NextEvent decodes and returns the next event produced from bytes
	// already fed to the codec via Transport.WaitEvent. The bool reports
	// whether the Dispatcher should call NextEvent again before blocking on
	// WaitEvent; (nil, false) means no decoded event is queued right now.
	// Implementations are expected to be driven exclusively by the
	// Dispatcher.
	NextEvent(ctx context.Context) (events.Event, bool, error)
}

// PipelineCodec is the subset of a client-side pipeline (PowerShell or
// CommandMetadata) that the runtime core drives.
type PipelineCodec interface {
	ID() uuid.UUID

	// Start serializes the create-pipeline message. It returns
	// ErrMissingCipher if the pipeline carries a secure string and no key has
	// been negotiated yet; the caller retries once after ExchangeKey.
	Start() error

	// Send serializes one input object for the pipeline's input stream.
	// Returns ErrMissingCipher under the same condition as Start.
	Send(item any) error
	// SendEnd serializes the input end-of-stream marker.
	SendEnd() error

	// Signal serializes a stop signal.
	Signal() error
}

// Command is one command or script block within a Statement, built by the
// PowerShell fluent builder (spec §4.5 PowerShell variant) and handed to the
// codec at pipeline construction time.
type Command struct {
	Name          string
	IsScript      bool
	UseLocalScope bool
	Parameters    []CommandParameter
}

// CommandParameter is one argument to a Command. Name is empty for a
// positional argument added via AddArgument.
type CommandParameter struct {
	Name  string
	Value any
}

// Statement is one semicolon-separated group of piped Commands.
type Statement struct {
	Commands []Command
}

// PowerShellOptions carries the PowerShell pipeline construction options the
// original implementation exposes beyond the statement list itself.
type PowerShellOptions struct {
	IsNested                bool
	ApartmentState          int
	RemoteStreamOptions     int
	RedirectShellErrorToOut bool
	NoInput                 bool
	AddToHistory            bool
	HistoryString           string
}

// PowerShellCodec is the PipelineCodec variant that runs a script or command
// pipeline built from Statements.
type PowerShellCodec interface {
	PipelineCodec
	Configure(statements []Statement, opts PowerShellOptions) error
}

// CommandMetadataCodec is the PipelineCodec variant that queries the peer's
// available commands (Get-Command-style metadata lookup).
type CommandMetadataCodec interface {
	PipelineCodec
	ConfigureMetadata(names []string, commandTypes int) error
}

// Transport moves bytes for one RunspacePool and is consumed exclusively by
// the Dispatcher and the operations that need to flush queued bytes
// (spec §6). The core never issues two concurrent writes to the same
// transport (spec §5).
type Transport interface {
	Create(ctx context.Context, pool Pool) error
	Close(ctx context.Context, pool Pool, pipelineID *uuid.UUID) error
	Connect(ctx context.Context, pool Pool, pipelineID *uuid.UUID) error
	Reconnect(ctx context.Context, pool Pool) error
	Disconnect(ctx context.Context, pool Pool) error
	Command(ctx context.Context, pool Pool, pipelineID uuid.UUID) error

	// Send flushes queued bytes for the pool. When buffer is true the
	// transport may coalesce with a subsequent Send/SendAll rather than
	// writing immediately (spec §4.5 step 5, "buffer_input").
	Send(ctx context.Context, pool Pool, buffer bool) error
	SendAll(ctx context.Context, pool Pool) error

	Signal(ctx context.Context, pool Pool, pipelineID uuid.UUID) error

	// WaitEvent blocks until the next raw event is available on the wire and
	// feeds it to the codec, or returns false at end-of-stream.
	WaitEvent(ctx context.Context, pool Pool) (ok bool, err error)

	// Enumerate lists remote sessions discoverable through this transport:
	// pool id to the set of pipeline ids the server reports attached.
	Enumerate(ctx context.Context) ([]EnumeratedPool, error)

	// RegisterPoolCallback arms asynchronous delivery of inbound events for
	// pool id; used by the cooperative scheduling model in place of a
	// dedicated reader goroutine driving WaitEvent directly. Implementations
	// that only support the thread-based model may no-op.
	RegisterPoolCallback(poolID uuid.UUID, handler func(events.Event))
}

// EnumeratedPool is one entry returned by Transport.Enumerate.
type EnumeratedPool struct {
	PoolID      uuid.UUID
	PipelineIDs []uuid.UUID
}
