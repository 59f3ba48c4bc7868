package pipeline

import (
	"context"
	"sync"

	"github.com/smnsjas/go-psrp/codec"
	"github.com/smnsjas/go-psrp/collection"
	"github.com/smnsjas/go-psrp/host"
	"github.com/smnsjas/go-psrp/runspace"
)

// PowerShell is the fluent command-pipeline variant of Pipeline (spec §4.5):
// AddCommand/AddScript build up Statements which AddStatement separates, and
// AddArgument/AddParameter/AddParameters attach arguments to whichever
// command was added most recently.
type PowerShell struct {
	*Pipeline

	pwshCodec codec.PowerShellCodec

	mu         sync.Mutex
	statements []codec.Statement
	current    *codec.Statement
	opts       codec.PowerShellOptions
}

// NewPowerShell builds a PowerShell pipeline bound to rp. h overrides the
// pool's host for this pipeline's host calls when non-nil (spec §4.4's
// per-pipeline host override).
func NewPowerShell(rp *runspace.RunspacePool, pwshCodec codec.PowerShellCodec, h host.Host) *PowerShell {
	return &PowerShell{
		Pipeline:  newPipeline(rp, pwshCodec, h),
		pwshCodec: pwshCodec,
	}
}

// IsNested marks the pipeline as a nested pipeline, invoked from within
// another running pipeline's host call.
func (ps *PowerShell) IsNested(value bool) *PowerShell {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.opts.IsNested = value
	return ps
}

// ApartmentState sets the .NET apartment state the peer should run the
// pipeline's thread in.
func (ps *PowerShell) ApartmentState(value int) *PowerShell {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.opts.ApartmentState = value
	return ps
}

// RemoteStreamOptions controls whether record origin information is
// included on streamed records.
func (ps *PowerShell) RemoteStreamOptions(value int) *PowerShell {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.opts.RemoteStreamOptions = value
	return ps
}

// RedirectShellErrorToOut merges the pipeline's error stream into its output
// stream, matching powershell.exe's -RedirectShellErrorToOut switch.
func (ps *PowerShell) RedirectShellErrorToOut(value bool) *PowerShell {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.opts.RedirectShellErrorToOut = value
	return ps
}

// AddToHistory records the pipeline's invocation in the remote session's
// command history under historyString, or under its own rendered text when
// historyString is empty.
func (ps *PowerShell) AddToHistory(historyString string) *PowerShell {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.opts.AddToHistory = true
	ps.opts.HistoryString = historyString
	return ps
}

// AddCommand appends a command to the current statement, piped from
// whatever command preceded it.
func (ps *PowerShell) AddCommand(name string) *PowerShell {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.ensureStatement()
	ps.current.Commands = append(ps.current.Commands, codec.Command{Name: name})
	return ps
}

// AddScript appends a script block, evaluated in the pipeline's local scope,
// to the current statement.
func (ps *PowerShell) AddScript(script string) *PowerShell {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.ensureStatement()
	ps.current.Commands = append(ps.current.Commands, codec.Command{
		Name: script, IsScript: true, UseLocalScope: true,
	})
	return ps
}

// AddArgument attaches a positional argument to the most recently added
// command.
func (ps *PowerShell) AddArgument(value any) *PowerShell {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.addParameter("", value)
	return ps
}

// AddParameter attaches a named argument to the most recently added
// command.
func (ps *PowerShell) AddParameter(name string, value any) *PowerShell {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.addParameter(name, value)
	return ps
}

// AddParameters attaches every entry of params as a named argument to the
// most recently added command.
func (ps *PowerShell) AddParameters(params map[string]any) *PowerShell {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for name, value := range params {
		ps.addParameter(name, value)
	}
	return ps
}

func (ps *PowerShell) addParameter(name string, value any) {
	if ps.current == nil || len(ps.current.Commands) == 0 {
		return
	}
	last := &ps.current.Commands[len(ps.current.Commands)-1]
	last.Parameters = append(last.Parameters, codec.CommandParameter{Name: name, Value: value})
}

func (ps *PowerShell) ensureStatement() {
	if ps.current == nil {
		ps.current = &codec.Statement{}
	}
}

func (ps *PowerShell) finishStatement() {
	if ps.current != nil && len(ps.current.Commands) > 0 {
		ps.statements = append(ps.statements, *ps.current)
	}
	ps.current = nil
}

// AddStatement closes off the commands added so far as one statement and
// starts a new one; subsequent AddCommand/AddScript calls pipe into the new
// statement rather than the previous one.
func (ps *PowerShell) AddStatement() *PowerShell {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.finishStatement()
	return ps
}

// Invoke configures the pipeline from the statements built so far and runs
// it to completion, returning its output.
func (ps *PowerShell) Invoke(ctx context.Context, inputData []any, bufferInput bool) ([]any, error) {
	h, err := ps.InvokeAsync(ctx, inputData, nil, bufferInput)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// InvokeAsync configures the pipeline from the statements built so far and
// starts it, returning once all input has been sent.
func (ps *PowerShell) InvokeAsync(ctx context.Context, inputData []any, outputStream *collection.Collection[any], bufferInput bool) (*Handle, error) {
	ps.mu.Lock()
	ps.finishStatement()
	statements := append([]codec.Statement(nil), ps.statements...)
	opts := ps.opts
	ps.mu.Unlock()

	// no_input := input is absent (spec §3, §4.5 step 1) — computed from
	// the actual call; no builder method sets it.
	opts.NoInput = inputData == nil

	if err := ps.pwshCodec.Configure(statements, opts); err != nil {
		return nil, err
	}
	return ps.Pipeline.InvokeAsync(ctx, inputData, outputStream, bufferInput)
}
