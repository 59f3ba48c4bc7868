// Package psrp is the application-facing façade over the runtime core:
// RunspacePool and Pipeline handle one remote session's protocol mechanics,
// while Client adds the concerns a real caller needs around them — bounded
// concurrency so a burst of Execute calls doesn't overrun the negotiated
// runspace count, retry of transient transport failures, an optional
// circuit breaker, and NIST SP 800-92 structured security logging.
package psrp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/smnsjas/go-psrp/breaker"
	"github.com/smnsjas/go-psrp/codec"
	"github.com/smnsjas/go-psrp/collection"
	"github.com/smnsjas/go-psrp/events"
	"github.com/smnsjas/go-psrp/pipeline"
	"github.com/smnsjas/go-psrp/retry"
	"github.com/smnsjas/go-psrp/runspace"
)

// ErrNoPipelineCodec is returned by Execute/ExecuteAsync when the Client was
// built without WithPipelineCodec.
var ErrNoPipelineCodec = errors.New("psrp: no pipeline codec factory configured")

// Result is the outcome of one Execute call.
type Result struct {
	Output []any
	Errors []events.ErrorRecord

	// HadErrors mirrors Pipeline.HadErrors: true whenever the error stream
	// is non-empty, independent of whether the pipeline's terminal state
	// was Completed.
	HadErrors bool
}

// Client wraps a RunspacePool with bounded concurrency, retry, an optional
// circuit breaker, and security event logging.
type Client struct {
	pool *runspace.RunspacePool
	cfg  Config
	log  *slog.Logger

	sem     *poolSemaphore
	breaker *breaker.Breaker
	sec     *securityLogger
}

// New builds a Client around a freshly constructed RunspacePool driven by
// poolCodec/transport. It does not open the pool; call Open.
func New(poolCodec codec.Pool, transport codec.Transport, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = cfg.MaxRunspaces
	}

	rp := runspace.New(poolCodec, transport,
		runspace.WithHost(cfg.Host),
		runspace.WithLogger(log),
		runspace.WithRunspaces(cfg.MinRunspaces, cfg.MaxRunspaces),
	)

	return &Client{
		pool:    rp,
		cfg:     cfg,
		log:     log,
		sem:     newPoolSemaphore(maxConcurrent, cfg.MaxQueue, cfg.AcquireTimeout),
		breaker: breaker.New(cfg.Breaker),
		sec:     newSecurityLogger(log, cfg.User, cfg.Target),
	}, nil
}

// Pool exposes the underlying RunspacePool for callers that need lower-level
// access (CommandMetadata lookups, Enumerate/Connect for reclaim, direct
// stream access).
func (c *Client) Pool() *runspace.RunspacePool { return c.pool }

// Open opens the underlying runspace pool.
func (c *Client) Open(ctx context.Context) error {
	err := c.pool.Open(ctx)
	if err != nil {
		c.sec.logSession("opened", outcomeFailure, severityError, map[string]any{"error": err.Error()})
		return fmt.Errorf("psrp: open: %w", err)
	}
	c.sec.logSession("opened", outcomeSuccess, severityInfo, nil)
	return nil
}

// Close closes the underlying runspace pool.
func (c *Client) Close(ctx context.Context) error {
	err := c.pool.Close(ctx)
	outcome, severity := outcomeSuccess, severityInfo
	if err != nil {
		outcome, severity = outcomeFailure, severityError
	}
	c.sec.logSession("closed", outcome, severity, nil)
	if err != nil {
		return fmt.Errorf("psrp: close: %w", err)
	}
	return nil
}

// Execute runs script to completion and collects its output, applying the
// Client's concurrency limit, retry policy, and circuit breaker.
func (c *Client) Execute(ctx context.Context, script string) (*Result, error) {
	if c.cfg.NewPipelineCodec == nil {
		return nil, ErrNoPipelineCodec
	}

	if err := c.sem.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("psrp: acquire: %w", err)
	}
	defer c.sem.Release()

	c.sec.logCommand("execute", outcomeSuccess, severityInfo, script, nil)

	var result *Result
	err := c.breaker.Execute(func() error {
		return retry.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
			r, err := c.executeOnce(ctx, script)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
	})

	if err != nil {
		c.sec.logCommand("complete", outcomeFailure, severityError, script, map[string]any{"error": err.Error()})
		return nil, err
	}
	outcome := outcomeSuccess
	if result.HadErrors {
		outcome = outcomeFailure
	}
	c.sec.logCommand("complete", outcome, severityInfo, script, map[string]any{"output_count": len(result.Output)})
	return result, nil
}

func (c *Client) executeOnce(ctx context.Context, script string) (*Result, error) {
	pc, err := c.cfg.NewPipelineCodec()
	if err != nil {
		return nil, fmt.Errorf("psrp: new pipeline codec: %w", err)
	}

	ps := pipeline.NewPowerShell(c.pool, pc, nil)
	ps.AddScript(script)

	output, err := ps.Invoke(ctx, nil, true)
	had := ps.HadErrors()
	var errs []events.ErrorRecord
	if had {
		errs = ps.ErrorStream().Snapshot()
	}
	if err != nil {
		return nil, err
	}
	return &Result{Output: output, Errors: errs, HadErrors: had}, nil
}

// ExecuteAsync starts script without waiting for completion, streaming
// output into outputStream (or a fresh internal stream if nil).
func (c *Client) ExecuteAsync(ctx context.Context, script string, outputStream *collection.Collection[any]) (*pipeline.PowerShell, *pipeline.Handle, error) {
	if c.cfg.NewPipelineCodec == nil {
		return nil, nil, ErrNoPipelineCodec
	}
	pc, err := c.cfg.NewPipelineCodec()
	if err != nil {
		return nil, nil, fmt.Errorf("psrp: new pipeline codec: %w", err)
	}

	ps := pipeline.NewPowerShell(c.pool, pc, nil)
	ps.AddScript(script)

	h, err := ps.InvokeAsync(ctx, nil, outputStream, true)
	if err != nil {
		return nil, nil, err
	}
	return ps, h, nil
}

// Utilization reports the Client-side concurrency limiter's current state:
// how many Execute calls are in flight, how many are queued, and the cap.
func (c *Client) Utilization() (active, queued, max int) {
	return c.sem.Stats()
}

// BreakerState reports the circuit breaker's current state.
func (c *Client) BreakerState() breaker.State {
	return c.breaker.State()
}
