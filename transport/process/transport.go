package process

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/google/uuid"

	"github.com/smnsjas/go-psrp/codec"
	"github.com/smnsjas/go-psrp/events"
	"github.com/smnsjas/go-psrp/transport/wsman/wire"
)

// Spawner builds the *exec.Cmd to run for a RunspacePool. Tests substitute a
// func field pointing at a stub binary instead of a real PowerShell host,
// following the teacher's func-field fake convention.
type Spawner func(ctx context.Context) (*exec.Cmd, error)

// Command returns a Spawner that runs name with args, one child per pool.
func Command(name string, args ...string) Spawner {
	return func(ctx context.Context) (*exec.Cmd, error) {
		return exec.CommandContext(ctx, name, args...), nil
	}
}

type child struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	mu     sync.Mutex
}

func (c *child) writeFrame(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	if _, err := c.stdin.Write(length[:]); err != nil {
		return err
	}
	_, err := c.stdin.Write(data)
	return err
}

func (c *child) readFrame() ([]byte, error) {
	var length [4]byte
	if _, err := io.ReadFull(c.stdout, length[:]); err != nil {
		return nil, err
	}
	buf := make([]byte, binary.BigEndian.Uint32(length[:]))
	if _, err := io.ReadFull(c.stdout, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Transport implements codec.Transport by keeping one child process per
// RunspacePool id.
type Transport struct {
	spawn  Spawner
	logger *slog.Logger

	mu    sync.Mutex
	procs map[uuid.UUID]*child
}

// New builds a Transport that spawns a child process via spawn for each
// RunspacePool created against it.
func New(spawn Spawner, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{spawn: spawn, procs: make(map[uuid.UUID]*child), logger: logger}
}

func (t *Transport) wirePool(pool codec.Pool) (*wire.Pool, error) {
	wp, ok := pool.(*wire.Pool)
	if !ok {
		return nil, fmt.Errorf("process: transport requires a *wire.Pool, got %T", pool)
	}
	return wp, nil
}

func (t *Transport) get(poolID uuid.UUID) (*child, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.procs[poolID]
	if !ok {
		return nil, ErrNoSuchPool
	}
	return c, nil
}

// Create spawns the child process and flushes any fragments the pool
// already queued (SessionCapability/InitRunspacePool) as its first frames.
func (t *Transport) Create(ctx context.Context, pool codec.Pool) error {
	wp, err := t.wirePool(pool)
	if err != nil {
		return err
	}
	cmd, err := t.spawn(ctx)
	if err != nil {
		return fmt.Errorf("process: spawn: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("process: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("process: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("process: start: %w", err)
	}

	c := &child{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}
	t.mu.Lock()
	t.procs[pool.ID()] = c
	t.mu.Unlock()

	t.logger.Info("process transport started child", "pool_id", pool.ID(), "path", cmd.Path)

	for _, frag := range wp.Outgoing() {
		if err := c.writeFrame(frag.Data); err != nil {
			return fmt.Errorf("process: initial flush: %w", err)
		}
	}
	return nil
}

// Command is a no-op: every pipeline this transport hosts is multiplexed
// over the same child process and distinguished by the PID already present
// in each wire.Message, so there is nothing extra to open per pipeline.
func (t *Transport) Command(ctx context.Context, pool codec.Pool, pipelineID uuid.UUID) error {
	_, err := t.get(pool.ID())
	return err
}

// Send flushes pool's queued fragments to the child's stdin.
func (t *Transport) Send(ctx context.Context, pool codec.Pool, buffer bool) error {
	wp, err := t.wirePool(pool)
	if err != nil {
		return err
	}
	c, err := t.get(pool.ID())
	if err != nil {
		return err
	}
	for _, frag := range wp.Outgoing() {
		if err := c.writeFrame(frag.Data); err != nil {
			return fmt.Errorf("process: send: %w", err)
		}
	}
	return nil
}

func (t *Transport) SendAll(ctx context.Context, pool codec.Pool) error {
	return t.Send(ctx, pool, false)
}

// Signal flushes the Signal message the pipeline codec already queued; the
// child process interprets the PipelineSignal message itself, there is no
// separate OS-level signal to send.
func (t *Transport) Signal(ctx context.Context, pool codec.Pool, pipelineID uuid.UUID) error {
	return t.Send(ctx, pool, false)
}

// WaitEvent blocks for one frame from the child's stdout and feeds it to
// the pool's defragmenter.
func (t *Transport) WaitEvent(ctx context.Context, pool codec.Pool) (bool, error) {
	wp, err := t.wirePool(pool)
	if err != nil {
		return false, err
	}
	c, err := t.get(pool.ID())
	if err != nil {
		return false, err
	}

	frameCh := make(chan []byte, 1)
	errCh := make(chan error, 1)
	go func() {
		frame, err := c.readFrame()
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
		if err == io.EOF {
			return false, nil
		}
		return false, fmt.Errorf("process: read frame: %w", err)
	case frame := <-frameCh:
		if err := wp.Feed(frame); err != nil {
			return false, fmt.Errorf("process: feed: %w", err)
		}
		return true, nil
	}
}

// Close terminates the child process backing pool. pipelineID is ignored:
// the child multiplexes every pipeline, so only closing the whole pool
// tears anything down.
func (t *Transport) Close(ctx context.Context, pool codec.Pool, pipelineID *uuid.UUID) error {
	if pipelineID != nil {
		return nil
	}
	t.mu.Lock()
	c, ok := t.procs[pool.ID()]
	delete(t.procs, pool.ID())
	t.mu.Unlock()
	if !ok {
		return nil
	}
	c.stdin.Close()
	return c.cmd.Wait()
}

func (t *Transport) Connect(ctx context.Context, pool codec.Pool, pipelineID *uuid.UUID) error {
	return ErrReconnectUnsupported
}

func (t *Transport) Reconnect(ctx context.Context, pool codec.Pool) error {
	return ErrReconnectUnsupported
}

func (t *Transport) Disconnect(ctx context.Context, pool codec.Pool) error {
	return ErrReconnectUnsupported
}

// Enumerate always returns no results: child processes are ephemeral and
// private to this transport instance, there is no server-side registry of
// sessions to list the way WSMan's Enumerate provides one.
func (t *Transport) Enumerate(ctx context.Context) ([]codec.EnumeratedPool, error) {
	return nil, nil
}

// RegisterPoolCallback is a no-op: this transport only supports the
// thread-based model, driven by WaitEvent polling.
func (t *Transport) RegisterPoolCallback(poolID uuid.UUID, handler func(events.Event)) {}

var _ codec.Transport = (*Transport)(nil)
