// Package process implements codec.Transport by spawning a child process
// that speaks PSRP directly over its stdin/stdout, the "out-of-proc"
// transport style real PowerShell clients use for local and SSH-piped
// sessions (ssh host powershell -NoLogo -sshs, or a local pwsh -ServerMode)
// rather than going over WinRM/WSMan. It is the simplest Transport in this
// module: one child process backs one RunspacePool, and every pipeline it
// hosts is multiplexed over that single stdio pair by the PID already
// carried in each wire.Message, so unlike transport/wsman there is no
// separate per-pipeline command to open.
//
// Framing on the wire is a 4-byte big-endian length prefix followed by one
// already-fragmented PSRP fragment, matching the fragment sizes
// wire.Fragmenter produces; the child process on the other end is expected
// to speak the same framing (see original_source's out-of-proc client for
// the shape this mirrors, it also length-prefixes each fragment over a raw
// pipe rather than wrapping it in WSMan XML).
package process
