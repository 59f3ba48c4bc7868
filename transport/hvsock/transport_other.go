//go:build !windows

package hvsock

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/smnsjas/go-psrp/codec"
	"github.com/smnsjas/go-psrp/events"
)

// Config names the guest VM and credentials a Windows build would use to
// open a PowerShell Direct session; kept here so callers can build this
// config on any platform even though Transport itself refuses to connect.
type Config struct {
	VMID               uuid.UUID
	Domain, User, Pass string
	ConfigurationName  string
}

// Transport is a non-functional stand-in on platforms without Hyper-V
// socket support: every method returns ErrNotSupported, matching
// conn_others.go's stub split.
type Transport struct {
	cfg Config
}

// New builds a Transport that always reports ErrNotSupported.
func New(cfg Config, _ *slog.Logger) *Transport {
	return &Transport{cfg: cfg}
}

func (t *Transport) Create(ctx context.Context, pool codec.Pool) error { return ErrNotSupported }

func (t *Transport) Command(ctx context.Context, pool codec.Pool, pipelineID uuid.UUID) error {
	return ErrNotSupported
}

func (t *Transport) Send(ctx context.Context, pool codec.Pool, buffer bool) error {
	return ErrNotSupported
}

func (t *Transport) SendAll(ctx context.Context, pool codec.Pool) error { return ErrNotSupported }

func (t *Transport) Signal(ctx context.Context, pool codec.Pool, pipelineID uuid.UUID) error {
	return ErrNotSupported
}

func (t *Transport) WaitEvent(ctx context.Context, pool codec.Pool) (bool, error) {
	return false, ErrNotSupported
}

func (t *Transport) Close(ctx context.Context, pool codec.Pool, pipelineID *uuid.UUID) error {
	return ErrNotSupported
}

func (t *Transport) Connect(ctx context.Context, pool codec.Pool, pipelineID *uuid.UUID) error {
	return ErrNotSupported
}

func (t *Transport) Reconnect(ctx context.Context, pool codec.Pool) error { return ErrNotSupported }

func (t *Transport) Disconnect(ctx context.Context, pool codec.Pool) error { return ErrNotSupported }

func (t *Transport) Enumerate(ctx context.Context) ([]codec.EnumeratedPool, error) {
	return nil, ErrNotSupported
}

func (t *Transport) RegisterPoolCallback(poolID uuid.UUID, handler func(events.Event)) {}

var _ codec.Transport = (*Transport)(nil)
