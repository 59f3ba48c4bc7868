package retry

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/smnsjas/go-psrp/runspace"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"EOF", io.EOF, true},
		{"unexpected EOF", io.ErrUnexpectedEOF, true},
		{"pool broken", runspace.ErrBroken, false},
		{"io timeout string", errors.New("read tcp: i/o timeout"), true},
		{"connection reset string", errors.New("write: connection reset by peer"), true},
		{"generic error", errors.New("something else"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBackoffGrowsExponentiallyAndCaps(t *testing.T) {
	p := Policy{InitialDelay: 100 * time.Millisecond, Multiplier: 2.0, MaxDelay: time.Second}

	if d := Backoff(1, p); d != 100*time.Millisecond {
		t.Errorf("Backoff(1) = %v, want 100ms", d)
	}
	if d := Backoff(2, p); d != 200*time.Millisecond {
		t.Errorf("Backoff(2) = %v, want 200ms", d)
	}
	if d := Backoff(10, p); d != time.Second {
		t.Errorf("Backoff(10) = %v, want capped at 1s", d)
	}
}

func TestDoRetriesTransientErrorsThenSucceeds(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2.0, MaxDelay: 10 * time.Millisecond}

	attempts := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return io.ErrUnexpectedEOF
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestDoStopsImmediatelyOnNonRetryableError(t *testing.T) {
	p := Policy{MaxAttempts: 5, InitialDelay: time.Millisecond}

	attempts := 0
	wantErr := errors.New("permanent")
	err := Do(context.Background(), p, func(ctx context.Context) error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Do() error = %v, want %v", err, wantErr)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry for non-retryable error)", attempts)
	}
}

func TestDoExhaustsMaxAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	attempts := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		attempts++
		return io.EOF
	})
	if !errors.Is(err, io.EOF) {
		t.Fatalf("Do() error = %v, want io.EOF", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}
