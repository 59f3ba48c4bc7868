package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/smnsjas/go-psrp/clock"
)

func TestBreakerStateTransitions(t *testing.T) {
	mc := clock.NewMock(time.Now())
	b := New(&Policy{Enabled: true, FailureThreshold: 2, ResetTimeout: 100 * time.Millisecond})
	b.clock = mc

	if got := b.State(); got != Closed {
		t.Fatalf("initial state = %v, want Closed", got)
	}

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute(success) error = %v", err)
	}
	if got := b.State(); got != Closed {
		t.Fatalf("after success state = %v, want Closed", got)
	}

	dummy := errors.New("dummy")
	_ = b.Execute(func() error { return dummy })
	if got := b.State(); got != Closed {
		t.Fatalf("after 1 failure state = %v, want Closed", got)
	}

	_ = b.Execute(func() error { return dummy })
	if got := b.State(); got != Open {
		t.Fatalf("after 2 failures state = %v, want Open", got)
	}

	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("Execute while Open error = %v, want ErrOpen", err)
	}

	mc.Advance(200 * time.Millisecond)

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute after reset timeout error = %v", err)
	}
	if got := b.State(); got != Closed {
		t.Fatalf("after half-open success state = %v, want Closed", got)
	}
}

func TestBreakerDisabledAlwaysCallsThrough(t *testing.T) {
	b := New(nil)
	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !called {
		t.Fatal("disabled breaker did not call through")
	}
}

func TestBreakerReturnsToOpenOnHalfOpenFailure(t *testing.T) {
	mc := clock.NewMock(time.Now())
	b := New(&Policy{Enabled: true, FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})
	b.clock = mc

	dummy := errors.New("dummy")
	_ = b.Execute(func() error { return dummy })
	if got := b.State(); got != Open {
		t.Fatalf("state = %v, want Open", got)
	}

	mc.Advance(20 * time.Millisecond)
	_ = b.Execute(func() error { return dummy })
	if got := b.State(); got != Open {
		t.Fatalf("state after half-open failure = %v, want Open", got)
	}
}
