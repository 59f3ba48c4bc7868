//go:build !windows

package hvsock

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestTransportMethodsReportNotSupported(t *testing.T) {
	tr := New(Config{VMID: uuid.New()}, nil)
	ctx := context.Background()

	if err := tr.Create(ctx, nil); err != ErrNotSupported {
		t.Fatalf("Create: got %v, want ErrNotSupported", err)
	}
	if _, err := tr.WaitEvent(ctx, nil); err != ErrNotSupported {
		t.Fatalf("WaitEvent: got %v, want ErrNotSupported", err)
	}
	if _, err := tr.Enumerate(ctx); err != ErrNotSupported {
		t.Fatalf("Enumerate: got %v, want ErrNotSupported", err)
	}
}
