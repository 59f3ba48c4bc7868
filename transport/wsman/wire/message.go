// Package wire implements a PSRP Codec (spec §6) over the message framing
// described in MS-PSRP §2.2: a fixed message header (destination, message
// type, runspace pool id, pipeline id) wrapping a JSON-encoded payload
// (standing in for CLIXML, see clixml.go),
// itself split into fragments for transport.
//
// The exact numeric message-type and object-type codes Windows PowerShell
// uses on the wire are not reproduced here — no example in the retrieval
// pack or original_source implements PSRP serialization (both pypsrp and
// the teacher depend on an external psrpcore library for it), so this
// package defines its own internally-consistent numbering instead of
// guessing at Microsoft's undocumented byte values. It interoperates with
// itself (a Pool/PipelineCodec pair on the connecting side would need the
// same package); see DESIGN.md for the decision record.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// MessageType enumerates the PSRP message kinds this codec exchanges.
type MessageType uint32

const (
	MessageSessionCapability MessageType = iota + 1
	MessageInitRunspacePool
	MessagePublicKey
	MessageEncryptedSessionKey
	MessagePublicKeyRequest
	MessageSetMaxRunspaces
	MessageSetMinRunspaces
	MessageRunspaceAvailability
	MessageRunspacePoolState
	MessageCreatePipeline
	MessageGetAvailableRunspaces
	MessageUserEvent
	MessageApplicationPrivateData
	MessageGetCommandMetadata
	MessageRunspacePoolHostCall
	MessageRunspacePoolHostResponse
	MessagePipelineState
	MessagePipelineOutput
	MessagePipelineInput
	MessageEndOfPipelineInput
	MessagePipelineHostCall
	MessagePipelineHostResponse
	MessageErrorRecord
	MessageDebugRecord
	MessageVerboseRecord
	MessageWarningRecord
	MessageProgressRecord
	MessageInformationRecord
	MessagePipelineSignal
	MessageConnectRunspacePool
	MessageRunspacePoolInitData
	MessageResetRunspaceState
)

// Destination identifies whether a message flows client-to-server or the
// reverse; both directions run through the same framing.
type Destination uint32

const (
	DestinationClient Destination = 1
	DestinationServer Destination = 2
)

const headerLen = 4 + 4 + 16 + 16

// Message is one decoded PSRP protocol message: a typed, addressed payload
// before fragmentation.
type Message struct {
	Destination Destination
	Type        MessageType
	RPID        uuid.UUID // runspace pool id, always present
	PID         uuid.UUID // pipeline id, uuid.Nil for pool-scoped messages
	Data        []byte    // JSON-encoded object payload (see clixml.go)
}

// Encode serializes a Message's fixed header followed by its payload.
func (m Message) Encode() []byte {
	buf := make([]byte, headerLen+len(m.Data))
	binary.BigEndian.PutUint32(buf[0:4], uint32(m.Destination))
	binary.BigEndian.PutUint32(buf[4:8], uint32(m.Type))
	rpid, _ := m.RPID.MarshalBinary()
	copy(buf[8:24], rpid)
	pid, _ := m.PID.MarshalBinary()
	copy(buf[24:40], pid)
	copy(buf[40:], m.Data)
	return buf
}

// DecodeMessage parses the fixed header and payload produced by Encode.
func DecodeMessage(b []byte) (Message, error) {
	if len(b) < headerLen {
		return Message{}, fmt.Errorf("wire: message too short: %d bytes", len(b))
	}
	var m Message
	m.Destination = Destination(binary.BigEndian.Uint32(b[0:4]))
	m.Type = MessageType(binary.BigEndian.Uint32(b[4:8]))
	if err := m.RPID.UnmarshalBinary(b[8:24]); err != nil {
		return Message{}, fmt.Errorf("wire: decode rpid: %w", err)
	}
	if err := m.PID.UnmarshalBinary(b[24:40]); err != nil {
		return Message{}, fmt.Errorf("wire: decode pid: %w", err)
	}
	m.Data = append([]byte(nil), b[40:]...)
	return m, nil
}
