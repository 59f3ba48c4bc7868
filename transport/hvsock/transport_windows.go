//go:build windows

package hvsock

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/smnsjas/go-psrp/codec"
	"github.com/smnsjas/go-psrp/events"
	"github.com/smnsjas/go-psrp/transport/wsman/wire"
)

// Config names the guest VM and credentials ConnectAndAuthenticate needs to
// open a PowerShell Direct session.
type Config struct {
	VMID              uuid.UUID
	Domain, User, Pass string
	ConfigurationName string
}

// Transport implements codec.Transport over a Hyper-V socket connection to
// a guest VM, keeping one authenticated net.Conn per RunspacePool.
type Transport struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	conns map[uuid.UUID]net.Conn
}

// New builds a Transport that dials cfg.VMID for each RunspacePool created
// against it.
func New(cfg Config, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{cfg: cfg, logger: logger, conns: make(map[uuid.UUID]net.Conn)}
}

func (t *Transport) wirePool(pool codec.Pool) (*wire.Pool, error) {
	wp, ok := pool.(*wire.Pool)
	if !ok {
		return nil, fmt.Errorf("hvsock: transport requires a *wire.Pool, got %T", pool)
	}
	return wp, nil
}

func (t *Transport) get(poolID uuid.UUID) (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	conn, ok := t.conns[poolID]
	if !ok {
		return nil, fmt.Errorf("hvsock: no connection open for pool %s", poolID)
	}
	return conn, nil
}

func (t *Transport) dial(ctx context.Context) (net.Conn, error) {
	return ConnectAndAuthenticate(ctx, t.cfg.VMID, t.cfg.Domain, t.cfg.User, t.cfg.Pass, t.cfg.ConfigurationName)
}

func (t *Transport) flush(wp *wire.Pool, conn net.Conn) error {
	for _, frag := range wp.Outgoing() {
		if err := writeFrame(conn, frag.Data); err != nil {
			return err
		}
	}
	return nil
}

// Create dials and authenticates the VM, then flushes any fragments the
// pool already queued.
func (t *Transport) Create(ctx context.Context, pool codec.Pool) error {
	wp, err := t.wirePool(pool)
	if err != nil {
		return err
	}
	conn, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("hvsock: create: %w", err)
	}
	t.mu.Lock()
	t.conns[pool.ID()] = conn
	t.mu.Unlock()
	return t.flush(wp, conn)
}

// Command is a no-op: one connection carries every pipeline in the pool,
// distinguished by the PID already present in each wire.Message.
func (t *Transport) Command(ctx context.Context, pool codec.Pool, pipelineID uuid.UUID) error {
	_, err := t.get(pool.ID())
	return err
}

func (t *Transport) Send(ctx context.Context, pool codec.Pool, buffer bool) error {
	wp, err := t.wirePool(pool)
	if err != nil {
		return err
	}
	conn, err := t.get(pool.ID())
	if err != nil {
		return err
	}
	return t.flush(wp, conn)
}

func (t *Transport) SendAll(ctx context.Context, pool codec.Pool) error {
	return t.Send(ctx, pool, false)
}

func (t *Transport) Signal(ctx context.Context, pool codec.Pool, pipelineID uuid.UUID) error {
	return t.Send(ctx, pool, false)
}

func (t *Transport) WaitEvent(ctx context.Context, pool codec.Pool) (bool, error) {
	wp, err := t.wirePool(pool)
	if err != nil {
		return false, err
	}
	conn, err := t.get(pool.ID())
	if err != nil {
		return false, err
	}

	frameCh := make(chan []byte, 1)
	errCh := make(chan error, 1)
	go func() {
		frame, err := readFrame(conn)
		if err != nil {
			errCh <- err
			return
		}
		frameCh <- frame
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case err := <-errCh:
		return false, fmt.Errorf("hvsock: read frame: %w", err)
	case frame := <-frameCh:
		if err := wp.Feed(frame); err != nil {
			return false, fmt.Errorf("hvsock: feed: %w", err)
		}
		return true, nil
	}
}

// Close drops the socket backing pool. PipelineID is ignored: PowerShell
// Direct multiplexes every pipeline over one connection.
func (t *Transport) Close(ctx context.Context, pool codec.Pool, pipelineID *uuid.UUID) error {
	if pipelineID != nil {
		return nil
	}
	t.mu.Lock()
	conn, ok := t.conns[pool.ID()]
	delete(t.conns, pool.ID())
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return conn.Close()
}

// Connect re-dials the VM to resume a disconnected RunspacePool, then
// flushes the ConnectRunspacePool message the pool codec already queued.
// The server keys PSRP session state by RunspacePool id, not by socket, so
// a fresh socket is sufficient to resume it.
func (t *Transport) Connect(ctx context.Context, pool codec.Pool, pipelineID *uuid.UUID) error {
	wp, err := t.wirePool(pool)
	if err != nil {
		return err
	}
	conn, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("hvsock: connect: %w", err)
	}
	t.mu.Lock()
	if old, ok := t.conns[pool.ID()]; ok {
		old.Close()
	}
	t.conns[pool.ID()] = conn
	t.mu.Unlock()
	return t.flush(wp, conn)
}

// Reconnect re-dials the socket after a transport-level drop, without
// touching any PSRP-level state.
func (t *Transport) Reconnect(ctx context.Context, pool codec.Pool) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("hvsock: reconnect: %w", err)
	}
	t.mu.Lock()
	if old, ok := t.conns[pool.ID()]; ok {
		old.Close()
	}
	t.conns[pool.ID()] = conn
	t.mu.Unlock()
	return nil
}

// Disconnect flushes the pool codec's Disconnect message, then drops the
// socket; the guest retains the runspace pool's state for a later Connect.
func (t *Transport) Disconnect(ctx context.Context, pool codec.Pool) error {
	if err := t.Send(ctx, pool, false); err != nil {
		return err
	}
	return t.Close(ctx, pool, nil)
}

// Enumerate has no PowerShell Direct analog: there is no broker-side
// listing of disconnected runspace pools reachable from this transport.
func (t *Transport) Enumerate(ctx context.Context) ([]codec.EnumeratedPool, error) {
	return nil, nil
}

// RegisterPoolCallback is a no-op: this transport only supports the
// thread-based model, driven by WaitEvent polling.
func (t *Transport) RegisterPoolCallback(poolID uuid.UUID, handler func(events.Event)) {}

var _ codec.Transport = (*Transport)(nil)
