package psrp

import (
	"errors"
	"log/slog"
	"time"

	"github.com/smnsjas/go-psrp/breaker"
	"github.com/smnsjas/go-psrp/codec"
	"github.com/smnsjas/go-psrp/host"
	"github.com/smnsjas/go-psrp/retry"
)

// ErrConfigInvalid is returned by New when a Config fails validation.
var ErrConfigInvalid = errors.New("psrp: invalid configuration")

// Config holds a Client's construction-time parameters. Use Option functions
// to build one rather than constructing it directly, matching the rest of
// the module's functional-options convention.
type Config struct {
	Host host.Host
	Logger *slog.Logger

	MinRunspaces int
	MaxRunspaces int

	// MaxConcurrent bounds how many Execute calls run against the pool at
	// once; it defaults to MaxRunspaces. MaxQueue bounds how many more may
	// wait for a slot (-1 for unbounded); AcquireTimeout bounds that wait.
	MaxConcurrent  int
	MaxQueue       int
	AcquireTimeout time.Duration

	Retry   retry.Policy
	Breaker *breaker.Policy

	// User and Target are carried on every security event this Client logs.
	User   string
	Target string

	// NewPipelineCodec builds a fresh PowerShellCodec for one Execute call.
	// Every invocation needs its own pipeline identity, so the Client asks
	// for a new codec instance per call rather than reusing one.
	NewPipelineCodec func() (codec.PowerShellCodec, error)
}

// Option mutates a Config during construction.
type Option func(*Config)

// WithHost sets the PSHost implementation used for server-initiated host
// calls (Write-Host, Read-Host, prompts, ...).
func WithHost(h host.Host) Option { return func(c *Config) { c.Host = h } }

// WithLogger sets the structured logger the Client and its RunspacePool log
// to. A nil logger is replaced by a discard logger.
func WithLogger(log *slog.Logger) Option { return func(c *Config) { c.Logger = log } }

// WithRunspaces sets the pool's min/max runspace bounds.
func WithRunspaces(min, max int) Option {
	return func(c *Config) { c.MinRunspaces, c.MaxRunspaces = min, max }
}

// WithConcurrency bounds how many Execute calls run at once (maxConcurrent)
// and how many more may queue (maxQueue, -1 for unbounded) before a timeout.
func WithConcurrency(maxConcurrent, maxQueue int, timeout time.Duration) Option {
	return func(c *Config) {
		c.MaxConcurrent = maxConcurrent
		c.MaxQueue = maxQueue
		c.AcquireTimeout = timeout
	}
}

// WithRetry sets the retry policy applied to transient Execute failures.
func WithRetry(p retry.Policy) Option { return func(c *Config) { c.Retry = p } }

// WithBreaker enables a circuit breaker guarding Execute calls.
func WithBreaker(p *breaker.Policy) Option { return func(c *Config) { c.Breaker = p } }

// WithIdentity sets the user/target pair recorded on security events.
func WithIdentity(user, target string) Option {
	return func(c *Config) { c.User, c.Target = user, target }
}

// WithPipelineCodec sets the factory used to build a fresh PowerShellCodec
// for each Execute/ExecuteAsync call.
func WithPipelineCodec(newCodec func() (codec.PowerShellCodec, error)) Option {
	return func(c *Config) { c.NewPipelineCodec = newCodec }
}

func defaultConfig() Config {
	return Config{
		MinRunspaces: 1,
		MaxRunspaces: 1,
		MaxQueue:     -1,
		Retry:        retry.DefaultPolicy(),
	}
}

func (c Config) validate() error {
	if c.MinRunspaces < 1 || c.MinRunspaces > c.MaxRunspaces {
		return ErrConfigInvalid
	}
	return nil
}
