package pipeline

import (
	"github.com/google/uuid"

	"github.com/smnsjas/go-psrp/codec"
	"github.com/smnsjas/go-psrp/events"
	"github.com/smnsjas/go-psrp/host"
	"github.com/smnsjas/go-psrp/runspace"
)

// PowerShellCodecFactory builds the pipeline-scoped codec for a pipeline id
// reported attached to a pool discovered via runspace.Enumerate. Callers
// normally close over their transport's concrete codec constructor and the
// pool's own codec, e.g.
// func(id uuid.UUID) codec.PowerShellCodec { return wire.NewPipeline(poolCodec, id) }.
type PowerShellCodecFactory func(id uuid.UUID) codec.PowerShellCodec

// CreateDisconnectedPowerShells builds one PowerShell per pipeline rp's
// Enumerate discovery reported still attached to the pool, each already in
// the Disconnected state and ready for Connect/ConnectAsync (spec §4.6
// "create_disconnected_power_shells"). h overrides the pool's host the same
// way NewPowerShell's h parameter does.
//
// It does not contact the server; the caller still has to Connect rp itself
// (with newClient=true — see runspace.Enumerate) before calling Connect on
// any of the returned pipelines.
func CreateDisconnectedPowerShells(rp *runspace.RunspacePool, newPwshCodec PowerShellCodecFactory, h host.Host) []*PowerShell {
	reclaimed := rp.ReclaimedPipelines()
	out := make([]*PowerShell, 0, len(reclaimed))
	for _, r := range reclaimed {
		ps := NewPowerShell(rp, newPwshCodec(r.ID), h)
		ps.setState(events.PipelineDisconnected)
		out = append(out, ps)
	}
	return out
}
