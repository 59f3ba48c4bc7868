package process

import "errors"

// Sentinel errors for the child-process transport.
var (
	// ErrNoSuchPool indicates Create was never called for the given pool id.
	ErrNoSuchPool = errors.New("process: unknown pool")

	// ErrReconnectUnsupported indicates disconnect/reconnect is not
	// meaningful for a transport backed by an ephemeral child process: once
	// the process exits there is nothing left to reconnect to.
	ErrReconnectUnsupported = errors.New("process: disconnect/reconnect is not supported by the child-process transport")
)
