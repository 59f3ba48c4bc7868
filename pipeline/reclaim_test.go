package pipeline

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/smnsjas/go-psrp/codec"
	"github.com/smnsjas/go-psrp/events"
	"github.com/smnsjas/go-psrp/runspace"
)

func TestCreateDisconnectedPowerShellsBuildsOnePerReclaimedPipeline(t *testing.T) {
	poolID := uuid.New()
	pipelineA, pipelineB := uuid.New(), uuid.New()

	transport := &fakeTransport{}
	enumTransport := &enumeratingTransport{
		fakeTransport: transport,
		pools: []codec.EnumeratedPool{
			{PoolID: poolID, PipelineIDs: []uuid.UUID{pipelineA, pipelineB}},
		},
	}

	pools, err := runspace.Enumerate(context.Background(), enumTransport, func(id uuid.UUID) codec.Pool {
		return &fakePoolCodec{}
	})
	if err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}
	if len(pools) != 1 {
		t.Fatalf("Enumerate() returned %d pools, want 1", len(pools))
	}
	rp := pools[0]

	built := map[uuid.UUID]*fakePowerShellCodec{}
	shells := CreateDisconnectedPowerShells(rp, func(id uuid.UUID) codec.PowerShellCodec {
		c := &fakePowerShellCodec{fakePipelineCodec: fakePipelineCodec{id: id}}
		built[id] = c
		return c
	}, nil)

	if len(shells) != 2 {
		t.Fatalf("CreateDisconnectedPowerShells() returned %d shells, want 2", len(shells))
	}
	for _, ps := range shells {
		if ps.State() != events.PipelineDisconnected {
			t.Fatalf("shell %s state = %v, want Disconnected", ps.ID(), ps.State())
		}
		if _, ok := built[ps.ID()]; !ok {
			t.Fatalf("shell id %s was not one of the reclaimed pipeline ids", ps.ID())
		}
	}
}

// enumeratingTransport wraps fakeTransport and answers Enumerate with a
// canned result, since fakeTransport itself has nothing to enumerate.
type enumeratingTransport struct {
	*fakeTransport
	pools []codec.EnumeratedPool
}

func (t *enumeratingTransport) Enumerate(ctx context.Context) ([]codec.EnumeratedPool, error) {
	return t.pools, nil
}
