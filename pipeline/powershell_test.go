package pipeline

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/smnsjas/go-psrp/codec"
	"github.com/smnsjas/go-psrp/events"
)

// fakePowerShellCodec records the Statements/options it was Configure'd with,
// and otherwise behaves like fakePipelineCodec.
type fakePowerShellCodec struct {
	fakePipelineCodec

	configured bool
	statements []codec.Statement
	opts       codec.PowerShellOptions
}

func (c *fakePowerShellCodec) Configure(statements []codec.Statement, opts codec.PowerShellOptions) error {
	c.configured = true
	c.statements = statements
	c.opts = opts
	return nil
}

func newTestPowerShell(pp *fakePool, pc *fakePowerShellCodec) *PowerShell {
	return NewPowerShellForTest(pp, pc)
}

// NewPowerShellForTest builds a PowerShell against the package-private pool
// interface, bypassing NewPowerShell's *runspace.RunspacePool parameter type
// so tests can drive it with a fake.
func NewPowerShellForTest(p pool, c codec.PowerShellCodec) *PowerShell {
	return &PowerShell{
		Pipeline:  newPipeline(p, c, nil),
		pwshCodec: c,
	}
}

func TestAddCommandAndArgumentsBuildOneStatement(t *testing.T) {
	pp := newFakePool()
	pc := &fakePowerShellCodec{fakePipelineCodec: fakePipelineCodec{id: uuid.New()}}
	ps := newTestPowerShell(pp, pc)

	ps.AddCommand("Get-Process").
		AddParameter("Name", "pwsh").
		AddCommand("Where-Object").
		AddArgument("$_.CPU -gt 0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := ps.InvokeAsync(ctx, nil, nil, true)
	if err != nil {
		t.Fatalf("InvokeAsync() error = %v", err)
	}
	ps.HandleEvent(ctx, events.PipelineStateEvent{State: events.PipelineCompleted})
	if _, err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if !pc.configured {
		t.Fatal("Configure was never called")
	}
	if len(pc.statements) != 1 {
		t.Fatalf("statements = %d, want 1", len(pc.statements))
	}
	cmds := pc.statements[0].Commands
	if len(cmds) != 2 {
		t.Fatalf("commands = %d, want 2", len(cmds))
	}
	if cmds[0].Name != "Get-Process" || len(cmds[0].Parameters) != 1 || cmds[0].Parameters[0].Name != "Name" {
		t.Fatalf("first command = %+v", cmds[0])
	}
	if cmds[1].Name != "Where-Object" || len(cmds[1].Parameters) != 1 || cmds[1].Parameters[0].Name != "" {
		t.Fatalf("second command = %+v", cmds[1])
	}
}

func TestAddStatementSeparatesStatements(t *testing.T) {
	pp := newFakePool()
	pc := &fakePowerShellCodec{fakePipelineCodec: fakePipelineCodec{id: uuid.New()}}
	ps := newTestPowerShell(pp, pc)

	ps.AddCommand("Get-Process").AddStatement().AddCommand("Get-Service")

	ctx := context.Background()
	h, err := ps.InvokeAsync(ctx, nil, nil, true)
	if err != nil {
		t.Fatalf("InvokeAsync() error = %v", err)
	}
	ps.HandleEvent(ctx, events.PipelineStateEvent{State: events.PipelineCompleted})
	if _, err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if len(pc.statements) != 2 {
		t.Fatalf("statements = %d, want 2", len(pc.statements))
	}
	if pc.statements[0].Commands[0].Name != "Get-Process" {
		t.Fatalf("statement 0 = %+v", pc.statements[0])
	}
	if pc.statements[1].Commands[0].Name != "Get-Service" {
		t.Fatalf("statement 1 = %+v", pc.statements[1])
	}
}

func TestAddScriptSetsIsScriptAndLocalScope(t *testing.T) {
	pp := newFakePool()
	pc := &fakePowerShellCodec{fakePipelineCodec: fakePipelineCodec{id: uuid.New()}}
	ps := newTestPowerShell(pp, pc)

	ps.AddScript("1 + 1")

	ctx := context.Background()
	h, err := ps.InvokeAsync(ctx, nil, nil, true)
	if err != nil {
		t.Fatalf("InvokeAsync() error = %v", err)
	}
	ps.HandleEvent(ctx, events.PipelineStateEvent{State: events.PipelineCompleted})
	if _, err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	cmd := pc.statements[0].Commands[0]
	if !cmd.IsScript || !cmd.UseLocalScope {
		t.Fatalf("AddScript command = %+v, want IsScript and UseLocalScope set", cmd)
	}
}

func TestPowerShellOptionSettersApply(t *testing.T) {
	pp := newFakePool()
	pc := &fakePowerShellCodec{fakePipelineCodec: fakePipelineCodec{id: uuid.New()}}
	ps := newTestPowerShell(pp, pc)

	ps.AddCommand("Get-Date").AddToHistory("Get-Date")

	ctx := context.Background()
	h, err := ps.InvokeAsync(ctx, nil, nil, true)
	if err != nil {
		t.Fatalf("InvokeAsync() error = %v", err)
	}
	ps.HandleEvent(ctx, events.PipelineStateEvent{State: events.PipelineCompleted})
	if _, err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if !pc.opts.AddToHistory || pc.opts.HistoryString != "Get-Date" {
		t.Fatalf("opts = %+v, want AddToHistory with HistoryString", pc.opts)
	}
}

func TestInvokeAsyncSetsNoInputFromPresenceOfInputData(t *testing.T) {
	pp := newFakePool()
	pc := &fakePowerShellCodec{fakePipelineCodec: fakePipelineCodec{id: uuid.New()}}
	ps := newTestPowerShell(pp, pc)
	ps.AddScript("$input")

	ctx := context.Background()
	h, err := ps.InvokeAsync(ctx, nil, nil, true)
	if err != nil {
		t.Fatalf("InvokeAsync() error = %v", err)
	}
	ps.HandleEvent(ctx, events.PipelineStateEvent{State: events.PipelineCompleted})
	if _, err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if !pc.opts.NoInput {
		t.Fatal("NoInput should be true when inputData is nil")
	}
}

func TestInvokeAsyncClearsNoInputWhenInputDataGiven(t *testing.T) {
	pp := newFakePool()
	pc := &fakePowerShellCodec{fakePipelineCodec: fakePipelineCodec{id: uuid.New()}}
	ps := newTestPowerShell(pp, pc)
	ps.AddScript("$input")

	ctx := context.Background()
	h, err := ps.InvokeAsync(ctx, []any{"a"}, nil, true)
	if err != nil {
		t.Fatalf("InvokeAsync() error = %v", err)
	}
	ps.HandleEvent(ctx, events.PipelineStateEvent{State: events.PipelineCompleted})
	if _, err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if pc.opts.NoInput {
		t.Fatal("NoInput should be false when inputData is non-nil")
	}
}

func TestAddParameterWithoutCommandIsNoOp(t *testing.T) {
	pp := newFakePool()
	pc := &fakePowerShellCodec{fakePipelineCodec: fakePipelineCodec{id: uuid.New()}}
	ps := newTestPowerShell(pp, pc)

	// No AddCommand/AddScript yet: AddParameter must not panic and must not
	// fabricate a command.
	ps.AddParameter("Name", "pwsh")

	ctx := context.Background()
	h, err := ps.InvokeAsync(ctx, nil, nil, true)
	if err != nil {
		t.Fatalf("InvokeAsync() error = %v", err)
	}
	ps.HandleEvent(ctx, events.PipelineStateEvent{State: events.PipelineCompleted})
	if _, err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if len(pc.statements) != 0 {
		t.Fatalf("statements = %+v, want none", pc.statements)
	}
}
