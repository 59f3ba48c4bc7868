package hostinvoker

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/smnsjas/go-psrp/events"
	"github.com/smnsjas/go-psrp/host"
)

// fakeHost is a func-field mock: every interface method defers to an
// optional closure, falling back to a zero-value return when unset.
type fakeHost struct {
	ui host.UI

	getName       func(ctx context.Context) (string, error)
	setShouldExit func(ctx context.Context, code int) error
}

func (f *fakeHost) UI() host.UI { return f.ui }

func (f *fakeHost) GetName(ctx context.Context) (string, error) {
	if f.getName != nil {
		return f.getName(ctx)
	}
	return "", nil
}
func (f *fakeHost) GetVersion(ctx context.Context) (string, error) { return "", nil }
func (f *fakeHost) GetInstanceID(ctx context.Context) (uuid.UUID, error) {
	return uuid.UUID{}, nil
}
func (f *fakeHost) GetCurrentCulture(ctx context.Context) (string, error)   { return "", nil }
func (f *fakeHost) GetCurrentUICulture(ctx context.Context) (string, error) { return "", nil }
func (f *fakeHost) SetShouldExit(ctx context.Context, code int) error {
	if f.setShouldExit != nil {
		return f.setShouldExit(ctx, code)
	}
	return nil
}
func (f *fakeHost) EnterNestedPrompt(ctx context.Context) error      { return nil }
func (f *fakeHost) ExitNestedPrompt(ctx context.Context) error       { return nil }
func (f *fakeHost) NotifyBeginApplication(ctx context.Context) error { return nil }
func (f *fakeHost) NotifyEndApplication(ctx context.Context) error   { return nil }
func (f *fakeHost) PushRunspace(ctx context.Context, rs any) error   { return nil }
func (f *fakeHost) PopRunspace(ctx context.Context) error            { return nil }
func (f *fakeHost) GetIsRunspacePushed(ctx context.Context) (bool, error) {
	return false, nil
}
func (f *fakeHost) GetRunspace(ctx context.Context) (any, error) { return nil, nil }

type fakeUI struct {
	rawUI host.RawUI

	write1          func(ctx context.Context, msg string) error
	promptForChoice func(ctx context.Context, caption, message string, choices []host.ChoiceDescription, def int) (int, error)
}

func (f *fakeUI) RawUI() host.RawUI { return f.rawUI }

func (f *fakeUI) ReadLine(ctx context.Context) (string, error)             { return "", nil }
func (f *fakeUI) ReadLineAsSecureString(ctx context.Context) (string, error) {
	return "", nil
}
func (f *fakeUI) Write1(ctx context.Context, message string) error {
	if f.write1 != nil {
		return f.write1(ctx, message)
	}
	return nil
}
func (f *fakeUI) Write2(ctx context.Context, fg, bg host.ConsoleColor, message string) error {
	return nil
}
func (f *fakeUI) WriteLine1(ctx context.Context) error        { return nil }
func (f *fakeUI) WriteLine2(ctx context.Context, msg string) error { return nil }
func (f *fakeUI) WriteLine3(ctx context.Context, fg, bg host.ConsoleColor, msg string) error {
	return nil
}
func (f *fakeUI) WriteErrorLine(ctx context.Context, msg string) error   { return nil }
func (f *fakeUI) WriteDebugLine(ctx context.Context, msg string) error   { return nil }
func (f *fakeUI) WriteProgress(ctx context.Context, sourceID int64, rec host.ProgressRecord) error {
	return nil
}
func (f *fakeUI) WriteVerboseLine(ctx context.Context, msg string) error { return nil }
func (f *fakeUI) WriteWarningLine(ctx context.Context, msg string) error { return nil }
func (f *fakeUI) Prompt(ctx context.Context, caption, message string, descs []host.FieldDescription) (map[string]any, error) {
	return nil, nil
}
func (f *fakeUI) PromptForCredential1(ctx context.Context, caption, message, user, target string) (host.Credential, error) {
	return host.Credential{}, nil
}
func (f *fakeUI) PromptForCredential2(ctx context.Context, caption, message, user, target string, allowed, options int) (host.Credential, error) {
	return host.Credential{}, nil
}
func (f *fakeUI) PromptForChoice(ctx context.Context, caption, message string, choices []host.ChoiceDescription, def int) (int, error) {
	if f.promptForChoice != nil {
		return f.promptForChoice(ctx, caption, message, choices, def)
	}
	return 0, nil
}
func (f *fakeUI) PromptForChoiceMultipleSelection(ctx context.Context, caption, message string, choices []host.ChoiceDescription, defs []int) ([]int, error) {
	return nil, nil
}

// fakeRawUI is a func-field mock for ReadKey and GetBufferContents, the two
// RawUI methods the tests exercise; every other method is a no-op.
type fakeRawUI struct {
	readKey           func(ctx context.Context, options host.ReadKeyOptions) (host.KeyInfo, error)
	getBufferContents func(ctx context.Context, rect host.Rectangle) ([][]host.BufferCell, error)
}

func (f *fakeRawUI) GetHostDefaultData(ctx context.Context) (host.HostDefaultData, error) {
	return host.HostDefaultData{}, nil
}
func (f *fakeRawUI) GetForegroundColor(ctx context.Context) (host.ConsoleColor, error) { return 0, nil }
func (f *fakeRawUI) SetForegroundColor(ctx context.Context, value host.ConsoleColor) error { return nil }
func (f *fakeRawUI) GetBackgroundColor(ctx context.Context) (host.ConsoleColor, error) { return 0, nil }
func (f *fakeRawUI) SetBackgroundColor(ctx context.Context, value host.ConsoleColor) error { return nil }
func (f *fakeRawUI) GetCursorPosition(ctx context.Context) (host.Coordinates, error) {
	return host.Coordinates{}, nil
}
func (f *fakeRawUI) SetCursorPosition(ctx context.Context, value host.Coordinates) error { return nil }
func (f *fakeRawUI) GetWindowPosition(ctx context.Context) (host.Coordinates, error) {
	return host.Coordinates{}, nil
}
func (f *fakeRawUI) SetWindowPosition(ctx context.Context, value host.Coordinates) error { return nil }
func (f *fakeRawUI) GetCursorSize(ctx context.Context) (int, error)                      { return 0, nil }
func (f *fakeRawUI) SetCursorSize(ctx context.Context, value int) error                  { return nil }
func (f *fakeRawUI) GetBufferSize(ctx context.Context) (host.Size, error)                { return host.Size{}, nil }
func (f *fakeRawUI) SetBufferSize(ctx context.Context, value host.Size) error             { return nil }
func (f *fakeRawUI) GetWindowSize(ctx context.Context) (host.Size, error)                 { return host.Size{}, nil }
func (f *fakeRawUI) SetWindowSize(ctx context.Context, value host.Size) error              { return nil }
func (f *fakeRawUI) GetWindowTitle(ctx context.Context) (string, error)                    { return "", nil }
func (f *fakeRawUI) SetWindowTitle(ctx context.Context, value string) error                { return nil }
func (f *fakeRawUI) GetMaxWindowSize(ctx context.Context) (host.Size, error)               { return host.Size{}, nil }
func (f *fakeRawUI) GetMaxPhysicalWindowSize(ctx context.Context) (host.Size, error)        { return host.Size{}, nil }
func (f *fakeRawUI) GetKeyAvailable(ctx context.Context) (bool, error)                      { return false, nil }
func (f *fakeRawUI) ReadKey(ctx context.Context, options host.ReadKeyOptions) (host.KeyInfo, error) {
	if f.readKey != nil {
		return f.readKey(ctx, options)
	}
	return host.KeyInfo{}, nil
}
func (f *fakeRawUI) FlushInputBuffer(ctx context.Context) error { return nil }
func (f *fakeRawUI) SetBufferContents1(ctx context.Context, origin host.Coordinates, contents [][]host.BufferCell) error {
	return nil
}
func (f *fakeRawUI) SetBufferContents2(ctx context.Context, rect host.Rectangle, fill host.BufferCell) error {
	return nil
}
func (f *fakeRawUI) GetBufferContents(ctx context.Context, rect host.Rectangle) ([][]host.BufferCell, error) {
	if f.getBufferContents != nil {
		return f.getBufferContents(ctx, rect)
	}
	return nil, nil
}
func (f *fakeRawUI) ScrollBufferContents(ctx context.Context, source host.Rectangle, destination host.Coordinates, clip host.Rectangle, fill host.BufferCell) error {
	return nil
}

type fakeErrStream struct {
	appended []events.ErrorRecord
}

func (s *fakeErrStream) ProtocolAppend(rec events.ErrorRecord) {
	s.appended = append(s.appended, rec)
}

func TestInvokeNonVoidSuccessQueuesResponse(t *testing.T) {
	h := &fakeHost{getName: func(ctx context.Context) (string, error) { return "conhost", nil }}
	stream := &fakeErrStream{}

	out := Invoke(context.Background(), h, events.MIGetName, nil, stream)
	if !out.Responded {
		t.Fatalf("Responded = false, want true")
	}
	if out.Error != nil {
		t.Fatalf("Error = %+v, want nil", out.Error)
	}
	if out.Response != "conhost" {
		t.Fatalf("Response = %v, want %q", out.Response, "conhost")
	}
	if len(stream.appended) != 0 {
		t.Fatalf("error stream should be untouched on success")
	}
}

func TestInvokeVoidSuccessQueuesNothing(t *testing.T) {
	h := &fakeHost{setShouldExit: func(ctx context.Context, code int) error { return nil }}
	stream := &fakeErrStream{}

	out := Invoke(context.Background(), h, events.MISetShouldExit, []any{0}, stream)
	if out.Responded {
		t.Fatalf("Responded = true for a void method")
	}
}

func TestInvokeNonVoidFailureQueuesErrorResponse(t *testing.T) {
	h := &fakeHost{getName: func(ctx context.Context) (string, error) {
		return "", errors.New("boom")
	}}
	stream := &fakeErrStream{}

	out := Invoke(context.Background(), h, events.MIGetName, nil, stream)
	if !out.Responded {
		t.Fatalf("Responded = false, want true")
	}
	if out.Error == nil {
		t.Fatalf("Error = nil, want a synthesized error record")
	}
	if out.Error.FullyQualifiedErrorID != "RemoteHostExecutionException" {
		t.Fatalf("FullyQualifiedErrorID = %q", out.Error.FullyQualifiedErrorID)
	}
	if len(stream.appended) != 0 {
		t.Fatalf("non-void failure must not append to the error stream")
	}
}

func TestInvokeVoidFailureAppendsToErrorStreamWithNoResponse(t *testing.T) {
	h := &fakeHost{setShouldExit: func(ctx context.Context, code int) error {
		return errors.New("boom")
	}}
	stream := &fakeErrStream{}

	out := Invoke(context.Background(), h, events.MISetShouldExit, []any{1}, stream)
	if out.Responded {
		t.Fatalf("Responded = true for a void method")
	}
	if len(stream.appended) != 1 {
		t.Fatalf("expected exactly one appended error record, got %d", len(stream.appended))
	}
	if stream.appended[0].FullyQualifiedErrorID != "RemoteHostExecutionException" {
		t.Fatalf("FullyQualifiedErrorID = %q", stream.appended[0].FullyQualifiedErrorID)
	}
}

func TestInvokeMissingUISubtreeVoidIsSilentlyDropped(t *testing.T) {
	h := &fakeHost{} // ui is nil
	stream := &fakeErrStream{}

	out := Invoke(context.Background(), h, events.MIWrite1, []any{"hi"}, stream)
	if out.Responded {
		t.Fatalf("Responded = true, want false (void call onto missing subtree is dropped)")
	}
	if len(stream.appended) != 0 {
		t.Fatalf("missing-subtree void call must not touch the error stream")
	}
}

func TestInvokeMissingUISubtreeNonVoidSendsErrorResponse(t *testing.T) {
	h := &fakeHost{} // ui is nil
	stream := &fakeErrStream{}

	out := Invoke(context.Background(), h, events.MIPromptForChoice, nil, stream)
	if !out.Responded {
		t.Fatalf("Responded = false, want true (missing subtree still answers non-void calls)")
	}
	if out.Error == nil {
		t.Fatalf("Error = nil, want a not-implemented error record")
	}
}

func TestInvokeUnknownIdentifierIsIgnored(t *testing.T) {
	h := &fakeHost{}
	stream := &fakeErrStream{}

	out := Invoke(context.Background(), h, events.HostMethodIdentifier(9999), nil, stream)
	if out.Responded || out.Error != nil {
		t.Fatalf("unknown identifier should produce an empty Outcome, got %+v", out)
	}
}

func TestInvokeAdaptsChoiceArguments(t *testing.T) {
	var gotChoices []host.ChoiceDescription
	ui := &fakeUI{promptForChoice: func(ctx context.Context, caption, message string, choices []host.ChoiceDescription, def int) (int, error) {
		gotChoices = choices
		return 1, nil
	}}
	h := &fakeHost{ui: ui}
	stream := &fakeErrStream{}

	choices := []host.ChoiceDescription{{Label: "&Yes"}, {Label: "&No"}}
	out := Invoke(context.Background(), h, events.MIPromptForChoice, []any{"c", "m", choices, 0}, stream)
	if !out.Responded || out.Response != 1 {
		t.Fatalf("Outcome = %+v, want Responded with Response=1", out)
	}
	if len(gotChoices) != 2 {
		t.Fatalf("choices not threaded through, got %v", gotChoices)
	}
}

func TestInvokeForwardsReadKeyOptionsAndReturnsKeyInfo(t *testing.T) {
	var gotOptions host.ReadKeyOptions
	rawUI := &fakeRawUI{readKey: func(ctx context.Context, options host.ReadKeyOptions) (host.KeyInfo, error) {
		gotOptions = options
		return host.KeyInfo{VirtualKeyCode: 65, Character: 'A', KeyDown: true}, nil
	}}
	h := &fakeHost{ui: &fakeUI{rawUI: rawUI}}
	stream := &fakeErrStream{}

	wantOptions := int(host.ReadKeyIncludeKeyDown | host.ReadKeyNoEcho)
	out := Invoke(context.Background(), h, events.MIReadKey, []any{wantOptions}, stream)

	if !out.Responded {
		t.Fatalf("Responded = false, want true")
	}
	if gotOptions != host.ReadKeyOptions(wantOptions) {
		t.Fatalf("options = %v, want %v", gotOptions, wantOptions)
	}
	info, ok := out.Response.(host.KeyInfo)
	if !ok || info.Character != 'A' || !info.KeyDown {
		t.Fatalf("Response = %+v, want KeyInfo with Character 'A' and KeyDown", out.Response)
	}
}

func TestInvokeForwardsGetBufferContentsRectangle(t *testing.T) {
	var gotRect host.Rectangle
	cells := [][]host.BufferCell{{{Character: 'x'}}}
	rawUI := &fakeRawUI{getBufferContents: func(ctx context.Context, rect host.Rectangle) ([][]host.BufferCell, error) {
		gotRect = rect
		return cells, nil
	}}
	h := &fakeHost{ui: &fakeUI{rawUI: rawUI}}
	stream := &fakeErrStream{}

	rect := host.Rectangle{Left: 1, Top: 2, Right: 3, Bottom: 4}
	out := Invoke(context.Background(), h, events.MIGetBufferContents, []any{rect}, stream)

	if !out.Responded {
		t.Fatalf("Responded = false, want true")
	}
	if gotRect != rect {
		t.Fatalf("rect = %+v, want %+v", gotRect, rect)
	}
	got, ok := out.Response.([][]host.BufferCell)
	if !ok || len(got) != 1 || got[0][0].Character != 'x' {
		t.Fatalf("Response = %+v, want %+v", out.Response, cells)
	}
}
