// Package events defines the typed PSRP events exchanged between the Codec
// collaborator and the runtime's Dispatcher.
//
// The wire-level fragmentation and serialization that produces these values
// from transport bytes is out of scope for this module (see the Codec
// interface in package codec); this package only defines the shapes that
// flow across that boundary.
package events

import (
	"github.com/google/uuid"
)

// RunspacePoolState mirrors the PSRP RunspacePoolState enumeration.
type RunspacePoolState int

const (
	StateBeforeOpen RunspacePoolState = iota
	StateOpening
	StateNegotiationSent
	StateNegotiationSucceeded
	StateOpened
	StateDisconnecting
	StateDisconnected
	StateClosing
	StateClosed
	StateBroken
)

func (s RunspacePoolState) String() string {
	switch s {
	case StateBeforeOpen:
		return "BeforeOpen"
	case StateOpening:
		return "Opening"
	case StateNegotiationSent:
		return "NegotiationSent"
	case StateNegotiationSucceeded:
		return "NegotiationSucceeded"
	case StateOpened:
		return "Opened"
	case StateDisconnecting:
		return "Disconnecting"
	case StateDisconnected:
		return "Disconnected"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	case StateBroken:
		return "Broken"
	default:
		return "Unknown"
	}
}

// PipelineState mirrors the PSRP PSInvocationState enumeration.
type PipelineState int

const (
	PipelineNotStarted PipelineState = iota
	PipelineRunning
	PipelineStopping
	PipelineStopped
	PipelineCompleted
	PipelineFailed
	PipelineDisconnected
)

func (s PipelineState) String() string {
	switch s {
	case PipelineNotStarted:
		return "NotStarted"
	case PipelineRunning:
		return "Running"
	case PipelineStopping:
		return "Stopping"
	case PipelineStopped:
		return "Stopped"
	case PipelineCompleted:
		return "Completed"
	case PipelineFailed:
		return "Failed"
	case PipelineDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the state is one of the two terminal paths a
// pipeline can reach (Completed/Failed/Stopped), per spec §3's invariant that
// state progresses monotonically to one terminal state.
func (s PipelineState) Terminal() bool {
	switch s {
	case PipelineCompleted, PipelineFailed, PipelineStopped:
		return true
	default:
		return false
	}
}

// Record value types. These are intentionally minimal: the exact PSRP record
// schema (stack traces, invocation info, ...) is part of the out-of-scope
// wire codec; the runtime only needs enough shape to route, log, and surface
// them to application code.

type ErrorCategoryInfo struct {
	Reason string
}

type ErrorRecord struct {
	Message        string
	FullyQualifiedErrorID string
	Category       ErrorCategoryInfo
}

type DebugRecord struct{ Message string }
type InformationRecord struct {
	MessageData any
	Source      string
}
type ProgressRecord struct {
	Activity        string
	StatusAndDetail string
	PercentComplete int
}
type VerboseRecord struct{ Message string }
type WarningRecord struct{ Message string }

// Event is implemented by every PSRP event kind the Dispatcher routes.
// PipelineID lets the Dispatcher route by pipeline id per spec §4.3 step 1.
type Event interface {
	// PipelineID returns the pipeline this event targets, or uuid.Nil if the
	// event targets the runspace pool itself.
	PipelineID() uuid.UUID
}

type base struct {
	PID uuid.UUID
}

func (b base) PipelineID() uuid.UUID { return b.PID }

// RunspacePoolStateEvent reports a runspace pool state transition.
type RunspacePoolStateEvent struct {
	base
	State  RunspacePoolState
	Reason string
}

// PipelineStateEvent reports a pipeline state transition.
type PipelineStateEvent struct {
	base
	State  PipelineState
	Reason string
}

// PipelineOutputEvent carries one object emitted by a running pipeline.
type PipelineOutputEvent struct {
	base
	Data any
}

// UserEventEvent carries an application-defined event raised by the remote
// pipeline via New-Event.
type UserEventEvent struct {
	base
	Identifier string
	Data       any
}

// HostMethodIdentifier enumerates every PSRP host-method wire identifier.
// It lives here, rather than in package host, so that both events and host
// can depend on it without a cycle: events describes the wire shape, host
// maps identifiers to capability calls.
type HostMethodIdentifier int

const (
	MIGetName HostMethodIdentifier = iota + 1
	MIGetVersion
	MIGetInstanceID
	MIGetCurrentCulture
	MIGetCurrentUICulture
	MISetShouldExit
	MIEnterNestedPrompt
	MIExitNestedPrompt
	MINotifyBeginApplication
	MINotifyEndApplication
	MIPushRunspace
	MIPopRunspace
	MIGetIsRunspacePushed
	MIGetRunspace
	MIReadLine
	MIReadLineAsSecureString
	MIWrite1
	MIWrite2
	MIWriteLine1
	MIWriteLine2
	MIWriteLine3
	MIWriteErrorLine
	MIWriteDebugLine
	MIWriteProgress
	MIWriteVerboseLine
	MIWriteWarningLine
	MIPrompt
	MIPromptForCredential1
	MIPromptForCredential2
	MIPromptForChoice
	MIPromptForChoiceMultipleSelection
	MIGetForegroundColor
	MISetForegroundColor
	MIGetBackgroundColor
	MISetBackgroundColor
	MIGetCursorPosition
	MISetCursorPosition
	MIGetWindowPosition
	MISetWindowPosition
	MIGetCursorSize
	MISetCursorSize
	MIGetBufferSize
	MISetBufferSize
	MIGetWindowSize
	MISetWindowSize
	MIGetWindowTitle
	MISetWindowTitle
	MIGetMaxWindowSize
	MIGetMaxPhysicalWindowSize
	MIGetKeyAvailable
	MIReadKey
	MIFlushInputBuffer
	MISetBufferContents1
	MISetBufferContents2
	MIGetBufferContents
	MIScrollBufferContents
)

// RunspacePoolHostCallEvent is a host call targeted at the pool's host.
type RunspacePoolHostCallEvent struct {
	base
	CI               int64
	MethodIdentifier HostMethodIdentifier
	MethodParameters []any
}

// PipelineHostCallEvent is a host call targeted at a pipeline's (possibly
// overriding) host.
type PipelineHostCallEvent struct {
	base
	CI               int64
	MethodIdentifier HostMethodIdentifier
	MethodParameters []any
}

// Record stream events. Each carries a record and, via base.PID, whether it
// targets the pool (uuid.Nil) or a specific pipeline.

type DebugRecordEvent struct {
	base
	Record DebugRecord
}

type ErrorRecordEvent struct {
	base
	Record ErrorRecord
}

type InformationRecordEvent struct {
	base
	Record InformationRecord
}

type ProgressRecordEvent struct {
	base
	Record ProgressRecord
}

type VerboseRecordEvent struct {
	base
	Record VerboseRecord
}

type WarningRecordEvent struct {
	base
	Record WarningRecord
}

// Handshake / key-exchange events. These carry no mutation beyond what the
// RunspacePool copies out of them; their purpose is to release waiters
// (spec §4.3 step 2).

type SessionCapabilityEvent struct {
	base
	ProtocolVersion string
}

type RunspacePoolInitDataEvent struct {
	base
	MinRunspaces int
	MaxRunspaces int
}

type ApplicationPrivateDataEvent struct {
	base
	Data map[string]any
}

type EncryptedSessionKeyEvent struct {
	base
}

// GetRunspaceAvailabilityEvent and SetRunspaceAvailabilityEvent correlate to
// a caller-issued call id (ci), per spec §4.6.
type GetRunspaceAvailabilityEvent struct {
	base
	CI    int64
	Count int
}

type SetRunspaceAvailabilityEvent struct {
	base
	CI      int64
	Success bool
}

// NewPoolEvent builds a base targeting the runspace pool (no pipeline).
func NewPoolEvent() Event { return base{} }

// NewPipelineStateEvent builds a PipelineStateEvent scoped to pipelineID.
// Codec implementations decoding a PSRP PipelineState message use this to
// stamp the routing id the Dispatcher needs.
func NewPipelineStateEvent(pipelineID uuid.UUID, state PipelineState, reason string) PipelineStateEvent {
	return PipelineStateEvent{base: BaseFor(pipelineID), State: state, Reason: reason}
}

// NewPipelineOutputEvent builds a PipelineOutputEvent scoped to pipelineID.
func NewPipelineOutputEvent(pipelineID uuid.UUID, data any) PipelineOutputEvent {
	return PipelineOutputEvent{base: BaseFor(pipelineID), Data: data}
}

// NewRunspacePoolStateEvent builds a RunspacePoolStateEvent. pipelineID is
// almost always uuid.Nil; a Codec only needs a non-nil value when a pool
// implementation nests pool-scoped state under a pipeline for routing.
func NewRunspacePoolStateEvent(pipelineID uuid.UUID, state RunspacePoolState, reason string) RunspacePoolStateEvent {
	return RunspacePoolStateEvent{base: BaseFor(pipelineID), State: state, Reason: reason}
}

// NewErrorRecordEvent builds an ErrorRecordEvent scoped to pipelineID
// (uuid.Nil for a pool-level error).
func NewErrorRecordEvent(pipelineID uuid.UUID, record ErrorRecord) ErrorRecordEvent {
	return ErrorRecordEvent{base: BaseFor(pipelineID), Record: record}
}

// NewEncryptedSessionKeyEvent builds an EncryptedSessionKeyEvent.
func NewEncryptedSessionKeyEvent(pipelineID uuid.UUID) EncryptedSessionKeyEvent {
	return EncryptedSessionKeyEvent{base: BaseFor(pipelineID)}
}

// NewApplicationPrivateDataEvent builds an ApplicationPrivateDataEvent.
func NewApplicationPrivateDataEvent(pipelineID uuid.UUID, data map[string]any) ApplicationPrivateDataEvent {
	return ApplicationPrivateDataEvent{base: BaseFor(pipelineID), Data: data}
}

// NewGetRunspaceAvailabilityEvent builds a GetRunspaceAvailabilityEvent.
func NewGetRunspaceAvailabilityEvent(pipelineID uuid.UUID, ci int64, count int) GetRunspaceAvailabilityEvent {
	return GetRunspaceAvailabilityEvent{base: BaseFor(pipelineID), CI: ci, Count: count}
}

// BaseFor returns a base scoped to the given pipeline id. Event
// constructors in the codec package use this to stamp routing information.
func BaseFor(pipelineID uuid.UUID) base { return base{PID: pipelineID} }
