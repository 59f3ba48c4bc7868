// Package breaker implements a circuit breaker guarding operations against a
// peer that has started failing consistently (e.g. a PSRP pool stuck in a
// reconnect loop), so callers fail fast instead of piling up retries.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/smnsjas/go-psrp/clock"
)

// State is one of the three circuit-breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "Half-Open"
	default:
		return "Unknown"
	}
}

// ErrOpen is returned by Execute while the circuit is Open.
var ErrOpen = errors.New("breaker: circuit is open")

// Policy configures a Breaker.
type Policy struct {
	Enabled          bool
	FailureThreshold int
	ResetTimeout     time.Duration

	OnStateChange func(from, to State)
}

// Breaker implements the circuit breaker pattern around an arbitrary
// operation.
type Breaker struct {
	mu sync.Mutex

	state       State
	failures    int
	lastFailure time.Time

	threshold int
	timeout   time.Duration
	enabled   bool
	clock     clock.Clock

	onStateChange func(from, to State)
}

// New builds a Breaker from p. A nil Policy produces a disabled breaker that
// always calls through.
func New(p *Policy) *Breaker {
	if p == nil {
		return &Breaker{clock: clock.Real()}
	}
	return &Breaker{
		threshold:     p.FailureThreshold,
		timeout:       p.ResetTimeout,
		enabled:       p.Enabled,
		clock:         clock.Real(),
		onStateChange: p.OnStateChange,
	}
}

// Execute runs fn under the breaker's protection.
func (b *Breaker) Execute(fn func() error) error {
	if !b.enabled {
		return fn()
	}
	if err := b.checkState(); err != nil {
		return err
	}
	err := fn()
	b.updateState(err)
	return err
}

func (b *Breaker) checkState() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if b.clock.Now().Sub(b.lastFailure) > b.timeout {
			b.transitionLocked(HalfOpen)
			return nil
		}
		return ErrOpen
	}
	return nil
}

func (b *Breaker) transitionLocked(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if b.onStateChange != nil {
		go b.onStateChange(from, to)
	}
}

func (b *Breaker) updateState(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state == HalfOpen {
			b.transitionLocked(Closed)
		}
		b.failures = 0
		return
	}
	if errors.Is(err, ErrOpen) {
		return
	}

	b.failures++
	b.lastFailure = b.clock.Now()

	if b.state == HalfOpen {
		b.transitionLocked(Open)
		return
	}
	if b.state == Closed && b.failures >= b.threshold {
		b.transitionLocked(Open)
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
