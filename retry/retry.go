// Package retry implements exponential backoff retry for the transient
// transport failures a PSRP client sees, distinct from the pool-level
// ErrBroken/ErrClosed conditions which the reconnection flow owns instead.
package retry

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"time"

	"github.com/smnsjas/go-psrp/clock"
	"github.com/smnsjas/go-psrp/runspace"
)

// Policy configures retry behavior for one operation.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first one.
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
	// Multiplier is the backoff growth factor.
	Multiplier float64
	// MaxDuration bounds the total time spent retrying; zero means no limit.
	MaxDuration time.Duration

	clock clock.Clock
}

// DefaultPolicy returns a conservative default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// IsRetryable reports whether err represents a transient condition worth
// retrying, as opposed to a permanent pool failure or user cancellation.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, runspace.ErrBroken) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection reset", "connection refused", "i/o timeout", "network is unreachable", "no route to host", "broken pipe"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Backoff computes the delay before the given retry (1-indexed: retry 1
// follows the first failed attempt and waits InitialDelay).
func Backoff(attempt int, p Policy) time.Duration {
	delay := p.InitialDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	if attempt <= 1 {
		return delay
	}
	mult := p.Multiplier
	if mult < 1.0 {
		mult = 2.0
	}
	f := float64(delay) * math.Pow(mult, float64(attempt-1))
	max := p.MaxDelay
	if max <= 0 {
		max = 5 * time.Second
	}
	if f > float64(max) || f > float64(math.MaxInt64) {
		return max
	}
	return time.Duration(f)
}

// Do runs fn, retrying per p while ctx is live and IsRetryable(err) holds,
// until MaxAttempts is reached or MaxDuration elapses.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	c := p.clock
	if c == nil {
		c = clock.Real()
	}
	start := c.Now()

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		if p.MaxDuration > 0 && c.Now().Sub(start) >= p.MaxDuration {
			break
		}

		delay := Backoff(attempt, p)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
