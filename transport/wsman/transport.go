package wsman

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/smnsjas/go-psrp/codec"
	"github.com/smnsjas/go-psrp/events"
	"github.com/smnsjas/go-psrp/transport/wsman/wire"
)

// Transport implements codec.Transport by driving a WSMan Client against a
// *wire.Pool, following the WinRS shell/command/send/receive cycle the
// teacher's winrs package uses for plain remote shells: a RunspacePool maps
// to one WSMan shell, and each PSRP pipeline maps to one WinRS command
// inside it, with PSRP fragments carried as base64 stdin/stdout streams
// (spec §6's Transport abstraction over that cycle).
type Transport struct {
	client *Client

	mu       sync.Mutex
	shells   map[uuid.UUID]*EndpointReference
	commands map[uuid.UUID]string // pipelineID -> WinRS CommandId; uuid.Nil -> pool-scoped
}

// NewTransport wraps client for use as a codec.Transport.
func NewTransport(client *Client) *Transport {
	return &Transport{
		client:   client,
		shells:   make(map[uuid.UUID]*EndpointReference),
		commands: make(map[uuid.UUID]string),
	}
}

func (t *Transport) wirePool(pool codec.Pool) (*wire.Pool, error) {
	wp, ok := pool.(*wire.Pool)
	if !ok {
		return nil, fmt.Errorf("wsman: transport requires a *wire.Pool, got %T", pool)
	}
	return wp, nil
}

func (t *Transport) epr(poolID uuid.UUID) (*EndpointReference, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	epr, ok := t.shells[poolID]
	if !ok {
		return nil, fmt.Errorf("wsman: no shell open for pool %s", poolID)
	}
	return epr, nil
}

// Create opens the WinRS shell backing pool, embedding whatever the pool
// has queued (SessionCapability + InitRunspacePool) as creationXml.
func (t *Transport) Create(ctx context.Context, pool codec.Pool) error {
	wp, err := t.wirePool(pool)
	if err != nil {
		return err
	}

	var payload []byte
	for _, frag := range wp.Outgoing() {
		payload = append(payload, frag.Data...)
	}
	creationXML := base64.StdEncoding.EncodeToString(payload)

	epr, err := t.client.Create(ctx, map[string]string{"protocolversion": "2.3"}, creationXML)
	if err != nil {
		return fmt.Errorf("wsman: create: %w", err)
	}

	t.mu.Lock()
	t.shells[pool.ID()] = epr
	t.mu.Unlock()
	return nil
}

// Command opens a WinRS command within pool's shell to carry pipelineID's
// fragments.
func (t *Transport) Command(ctx context.Context, pool codec.Pool, pipelineID uuid.UUID) error {
	epr, err := t.epr(pool.ID())
	if err != nil {
		return err
	}
	cmdID, err := t.client.Command(ctx, epr, "", "")
	if err != nil {
		return fmt.Errorf("wsman: command: %w", err)
	}
	t.mu.Lock()
	t.commands[pipelineID] = cmdID
	t.mu.Unlock()
	return nil
}

// Send flushes pool's queued fragments, routing pipeline-scoped fragments to
// their WinRS command and pool-scoped fragments to the shell's pseudo
// command (empty command id).
func (t *Transport) Send(ctx context.Context, pool codec.Pool, buffer bool) error {
	wp, err := t.wirePool(pool)
	if err != nil {
		return err
	}
	epr, err := t.epr(pool.ID())
	if err != nil {
		return err
	}

	for _, frag := range wp.Outgoing() {
		t.mu.Lock()
		cmdID := t.commands[frag.PipelineID]
		t.mu.Unlock()
		if err := t.client.Send(ctx, epr, cmdID, "stdin", frag.Data); err != nil {
			return fmt.Errorf("wsman: send: %w", err)
		}
	}
	return nil
}

func (t *Transport) SendAll(ctx context.Context, pool codec.Pool) error {
	return t.Send(ctx, pool, false)
}

// Signal sends a WinRS terminate signal for pipelineID's command, after
// flushing the Signal message the Pipeline codec already queued.
func (t *Transport) Signal(ctx context.Context, pool codec.Pool, pipelineID uuid.UUID) error {
	if err := t.Send(ctx, pool, false); err != nil {
		return err
	}
	epr, err := t.epr(pool.ID())
	if err != nil {
		return err
	}
	t.mu.Lock()
	cmdID := t.commands[pipelineID]
	t.mu.Unlock()
	if cmdID == "" {
		return nil
	}
	if err := t.client.Signal(ctx, epr, cmdID, SignalTerminate); err != nil {
		return fmt.Errorf("wsman: signal: %w", err)
	}
	return nil
}

// WaitEvent polls Receive once for pool-scoped output and once per open
// pipeline command, feeding whatever stdout bytes come back into the pool's
// defragmenter. A real deployment would prefer one long-poll Receive per
// shell; WinRS requires the CommandId on DesiredStream, so one poll per
// command is what the wire protocol demands.
func (t *Transport) WaitEvent(ctx context.Context, pool codec.Pool) (bool, error) {
	wp, err := t.wirePool(pool)
	if err != nil {
		return false, err
	}
	epr, err := t.epr(pool.ID())
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	cmdIDs := make([]string, 0, len(t.commands)+1)
	cmdIDs = append(cmdIDs, "")
	for _, id := range t.commands {
		if id != "" {
			cmdIDs = append(cmdIDs, id)
		}
	}
	t.mu.Unlock()

	received := false
	for _, cmdID := range cmdIDs {
		res, err := t.client.Receive(ctx, epr, cmdID)
		if err != nil {
			return false, fmt.Errorf("wsman: receive: %w", err)
		}
		if len(res.Stdout) == 0 {
			continue
		}
		received = true
		if err := wp.Feed(res.Stdout); err != nil {
			return false, fmt.Errorf("wsman: feed: %w", err)
		}
	}
	return received, nil
}

// Close deletes pool's shell (or, when pipelineID is set, lets Signal handle
// it — WinRS has no per-command delete).
func (t *Transport) Close(ctx context.Context, pool codec.Pool, pipelineID *uuid.UUID) error {
	if pipelineID != nil {
		return nil
	}
	epr, err := t.epr(pool.ID())
	if err != nil {
		return nil
	}
	if err := t.client.Delete(ctx, epr); err != nil {
		return fmt.Errorf("wsman: delete: %w", err)
	}
	t.mu.Lock()
	delete(t.shells, pool.ID())
	t.mu.Unlock()
	return nil
}

func (t *Transport) Connect(ctx context.Context, pool codec.Pool, pipelineID *uuid.UUID) error {
	wp, err := t.wirePool(pool)
	if err != nil {
		return err
	}
	var payload []byte
	for _, frag := range wp.Outgoing() {
		payload = append(payload, frag.Data...)
	}
	connectXML := base64.StdEncoding.EncodeToString(payload)

	respData, err := t.client.Connect(ctx, pool.ID().String(), connectXML)
	if err != nil {
		return fmt.Errorf("wsman: connect: %w", err)
	}
	if err := wp.Feed(respData); err != nil {
		return fmt.Errorf("wsman: feed connect response: %w", err)
	}

	t.mu.Lock()
	t.shells[pool.ID()] = &EndpointReference{
		Address:     t.client.endpoint,
		ResourceURI: ResourceURIPowerShell,
		Selectors:   []Selector{{Name: "ShellId", Value: pool.ID().String()}},
	}
	t.mu.Unlock()
	return nil
}

func (t *Transport) Reconnect(ctx context.Context, pool codec.Pool) error {
	return t.client.Reconnect(ctx, pool.ID().String())
}

func (t *Transport) Disconnect(ctx context.Context, pool codec.Pool) error {
	epr, err := t.epr(pool.ID())
	if err != nil {
		return err
	}
	if err := t.client.Disconnect(ctx, epr); err != nil {
		return fmt.Errorf("wsman: disconnect: %w", err)
	}
	return nil
}

// Enumerate keeps each entry returned by Client.Enumerate that parses as a
// uuid. Client.Enumerate returns the unparsed response body as its only
// entry, so no pool is reported unless that body is itself a bare uuid.
// WSMan's Enumerate does not itself return PSRP pipeline ids (those require
// a Receive per shell), so EnumeratedPool.PipelineIDs is always empty here.
func (t *Transport) Enumerate(ctx context.Context) ([]codec.EnumeratedPool, error) {
	shellIDs, err := t.client.Enumerate(ctx)
	if err != nil {
		return nil, fmt.Errorf("wsman: enumerate: %w", err)
	}
	pools := make([]codec.EnumeratedPool, 0, len(shellIDs))
	for _, raw := range shellIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		pools = append(pools, codec.EnumeratedPool{PoolID: id})
	}
	return pools, nil
}

// RegisterPoolCallback is a no-op: this transport only supports the
// thread-based model, driven by WaitEvent polling (spec §6).
func (t *Transport) RegisterPoolCallback(poolID uuid.UUID, handler func(events.Event)) {}

var _ codec.Transport = (*Transport)(nil)
