// Package hostinvoker maps an inbound PSRP host-call event onto a capability
// call against the application's host.Host tree, adapting PSRP wire argument
// shapes to the public host types and packaging failures into error records
// (spec §4.4).
package hostinvoker

import (
	"context"
	"fmt"

	"github.com/smnsjas/go-psrp/events"
	"github.com/smnsjas/go-psrp/host"
)

// Outcome is the result of Invoke: exactly one of Response (non-void
// success), Error (non-void failure, to be sent back as the host response's
// error), or neither (void call, success or failure already handled by
// appending to errStream) is meaningful. Responded reports whether an
// outbound host response should be queued at all (spec §8: "non-void call
// succeeds/fails ⇒ exactly one host response is queued; void call ⇒ zero").
type Outcome struct {
	Responded bool
	Response  any
	Error     *events.ErrorRecord
}

// errorStream is the minimal surface hostinvoker needs from a pool/pipeline
// error stream: appending a void call's failure record (spec §4.4 step 4).
type errorStream interface {
	ProtocolAppend(events.ErrorRecord)
}

// Invoke walks h (which may be nil, meaning "no host configured") to the
// subtree method.Target names, adapts method_parameters for the three
// special argument-shape methods, invokes the resolved method, and returns
// the Outcome to be queued by the caller. errStream receives the error
// record for a failed void call; it is never consulted for a non-void call.
func Invoke(ctx context.Context, h host.Host, mi events.HostMethodIdentifier, params []any, errStream errorStream) Outcome {
	desc, known := host.Describe(mi)
	if !known {
		return Outcome{}
	}

	fn, found := resolve(h, desc, mi, params)
	if !found {
		// "method not implemented": non-void sends back an error response,
		// void is silently dropped (spec §4.4 step 1).
		if desc.Void {
			return Outcome{}
		}
		return Outcome{
			Responded: true,
			Error:     notImplementedRecord(desc.Name),
		}
	}

	result, err := fn(ctx)
	if err != nil {
		rec := failureRecord(err, mi)
		if desc.Void {
			errStream.ProtocolAppend(rec)
			return Outcome{}
		}
		return Outcome{Responded: true, Error: rec}
	}

	if desc.Void {
		return Outcome{}
	}
	return Outcome{Responded: true, Response: result}
}

func notImplementedRecord(name string) *events.ErrorRecord {
	return &events.ErrorRecord{
		Message:               fmt.Sprintf("host method %s is not implemented", name),
		FullyQualifiedErrorID: "RemoteHostExecutionException",
		Category:              events.ErrorCategoryInfo{Reason: "Exception"},
	}
}

func failureRecord(err error, mi events.HostMethodIdentifier) events.ErrorRecord {
	msg := err.Error()
	if msg == "" {
		msg = fmt.Sprintf("error invoking host method %d", mi)
	}
	return events.ErrorRecord{
		Message:               msg,
		FullyQualifiedErrorID: "RemoteHostExecutionException",
		Category:              events.ErrorCategoryInfo{Reason: "Exception"},
	}
}

// boundCall is a zero-argument thunk over the resolved method with its
// adapted arguments already closed over.
type boundCall func(ctx context.Context) (any, error)

// resolve walks h to the target subtree and returns a thunk for the method
// named by desc, or found=false if the subtree is absent (spec §4.4 step 1)
// or h itself is nil.
func resolve(h host.Host, desc host.Descriptor, mi events.HostMethodIdentifier, params []any) (fn boundCall, found bool) {
	if h == nil {
		return nil, false
	}

	switch desc.Target {
	case host.TargetHost:
		return bindHostMethod(h, mi, params), true
	case host.TargetUI:
		ui := h.UI()
		if ui == nil {
			return nil, false
		}
		return bindUIMethod(ui, mi, params), true
	case host.TargetRawUI:
		ui := h.UI()
		if ui == nil {
			return nil, false
		}
		rawUI := ui.RawUI()
		if rawUI == nil {
			return nil, false
		}
		return bindRawUIMethod(rawUI, mi, params), true
	default:
		return nil, false
	}
}

func arg[T any](params []any, i int) (v T) {
	if i >= len(params) {
		return v
	}
	v, _ = params[i].(T)
	return v
}

func bindHostMethod(h host.Host, mi events.HostMethodIdentifier, p []any) boundCall {
	switch mi {
	case events.MIGetName:
		return func(ctx context.Context) (any, error) { return h.GetName(ctx) }
	case events.MIGetVersion:
		return func(ctx context.Context) (any, error) { return h.GetVersion(ctx) }
	case events.MIGetInstanceID:
		return func(ctx context.Context) (any, error) { return h.GetInstanceID(ctx) }
	case events.MIGetCurrentCulture:
		return func(ctx context.Context) (any, error) { return h.GetCurrentCulture(ctx) }
	case events.MIGetCurrentUICulture:
		return func(ctx context.Context) (any, error) { return h.GetCurrentUICulture(ctx) }
	case events.MISetShouldExit:
		code := arg[int](p, 0)
		return func(ctx context.Context) (any, error) { return nil, h.SetShouldExit(ctx, code) }
	case events.MIEnterNestedPrompt:
		return func(ctx context.Context) (any, error) { return nil, h.EnterNestedPrompt(ctx) }
	case events.MIExitNestedPrompt:
		return func(ctx context.Context) (any, error) { return nil, h.ExitNestedPrompt(ctx) }
	case events.MINotifyBeginApplication:
		return func(ctx context.Context) (any, error) { return nil, h.NotifyBeginApplication(ctx) }
	case events.MINotifyEndApplication:
		return func(ctx context.Context) (any, error) { return nil, h.NotifyEndApplication(ctx) }
	case events.MIPushRunspace:
		rs := arg[any](p, 0)
		return func(ctx context.Context) (any, error) { return nil, h.PushRunspace(ctx, rs) }
	case events.MIPopRunspace:
		return func(ctx context.Context) (any, error) { return nil, h.PopRunspace(ctx) }
	case events.MIGetIsRunspacePushed:
		return func(ctx context.Context) (any, error) { return h.GetIsRunspacePushed(ctx) }
	case events.MIGetRunspace:
		return func(ctx context.Context) (any, error) { return h.GetRunspace(ctx) }
	default:
		return nil
	}
}

func bindUIMethod(ui host.UI, mi events.HostMethodIdentifier, p []any) boundCall {
	switch mi {
	case events.MIReadLine:
		return func(ctx context.Context) (any, error) { return ui.ReadLine(ctx) }
	case events.MIReadLineAsSecureString:
		return func(ctx context.Context) (any, error) { return ui.ReadLineAsSecureString(ctx) }
	case events.MIWrite1:
		msg := arg[string](p, 0)
		return func(ctx context.Context) (any, error) { return nil, ui.Write1(ctx, msg) }
	case events.MIWrite2:
		fg, bg, msg := arg[host.ConsoleColor](p, 0), arg[host.ConsoleColor](p, 1), arg[string](p, 2)
		return func(ctx context.Context) (any, error) { return nil, ui.Write2(ctx, fg, bg, msg) }
	case events.MIWriteLine1:
		return func(ctx context.Context) (any, error) { return nil, ui.WriteLine1(ctx) }
	case events.MIWriteLine2:
		msg := arg[string](p, 0)
		return func(ctx context.Context) (any, error) { return nil, ui.WriteLine2(ctx, msg) }
	case events.MIWriteLine3:
		fg, bg, msg := arg[host.ConsoleColor](p, 0), arg[host.ConsoleColor](p, 1), arg[string](p, 2)
		return func(ctx context.Context) (any, error) { return nil, ui.WriteLine3(ctx, fg, bg, msg) }
	case events.MIWriteErrorLine:
		msg := arg[string](p, 0)
		return func(ctx context.Context) (any, error) { return nil, ui.WriteErrorLine(ctx, msg) }
	case events.MIWriteDebugLine:
		msg := arg[string](p, 0)
		return func(ctx context.Context) (any, error) { return nil, ui.WriteDebugLine(ctx, msg) }
	case events.MIWriteProgress:
		sourceID := arg[int64](p, 0)
		rec := arg[host.ProgressRecord](p, 1)
		return func(ctx context.Context) (any, error) { return nil, ui.WriteProgress(ctx, sourceID, rec) }
	case events.MIWriteVerboseLine:
		msg := arg[string](p, 0)
		return func(ctx context.Context) (any, error) { return nil, ui.WriteVerboseLine(ctx, msg) }
	case events.MIWriteWarningLine:
		msg := arg[string](p, 0)
		return func(ctx context.Context) (any, error) { return nil, ui.WriteWarningLine(ctx, msg) }
	case events.MIPrompt:
		caption, message := arg[string](p, 0), arg[string](p, 1)
		descs := arg[[]host.FieldDescription](p, 2)
		return func(ctx context.Context) (any, error) { return ui.Prompt(ctx, caption, message, descs) }
	case events.MIPromptForCredential1:
		caption, message, user, target := arg[string](p, 0), arg[string](p, 1), arg[string](p, 2), arg[string](p, 3)
		return func(ctx context.Context) (any, error) {
			return ui.PromptForCredential1(ctx, caption, message, user, target)
		}
	case events.MIPromptForCredential2:
		caption, message, user, target := arg[string](p, 0), arg[string](p, 1), arg[string](p, 2), arg[string](p, 3)
		allowed, options := arg[int](p, 4), arg[int](p, 5)
		return func(ctx context.Context) (any, error) {
			return ui.PromptForCredential2(ctx, caption, message, user, target, allowed, options)
		}
	case events.MIPromptForChoice:
		caption, message := arg[string](p, 0), arg[string](p, 1)
		choices := arg[[]host.ChoiceDescription](p, 2)
		def := arg[int](p, 3)
		return func(ctx context.Context) (any, error) { return ui.PromptForChoice(ctx, caption, message, choices, def) }
	case events.MIPromptForChoiceMultipleSelection:
		caption, message := arg[string](p, 0), arg[string](p, 1)
		choices := arg[[]host.ChoiceDescription](p, 2)
		defs := arg[[]int](p, 3)
		return func(ctx context.Context) (any, error) {
			return ui.PromptForChoiceMultipleSelection(ctx, caption, message, choices, defs)
		}
	default:
		return nil
	}
}

// rawCoordinate and rawSize are the PSRP-wire argument shapes for
// SetCursorPosition/SetWindowPosition, SetBufferSize/SetWindowSize, and the
// origin/destination coordinates of SetBufferContents1/ScrollBufferContents
// (spec §4.4 step 2): the codec hands these over as their own types rather
// than the public host.Coordinates / host.Size shape, so hostinvoker adapts
// them here.
type rawCoordinate struct{ X, Y int }
type rawSize struct{ Width, Height int }

func bindRawUIMethod(ui host.RawUI, mi events.HostMethodIdentifier, p []any) boundCall {
	switch mi {
	case events.MIGetForegroundColor:
		return func(ctx context.Context) (any, error) { return ui.GetForegroundColor(ctx) }
	case events.MISetForegroundColor:
		c := arg[host.ConsoleColor](p, 0)
		return func(ctx context.Context) (any, error) { return nil, ui.SetForegroundColor(ctx, c) }
	case events.MIGetBackgroundColor:
		return func(ctx context.Context) (any, error) { return ui.GetBackgroundColor(ctx) }
	case events.MISetBackgroundColor:
		c := arg[host.ConsoleColor](p, 0)
		return func(ctx context.Context) (any, error) { return nil, ui.SetBackgroundColor(ctx, c) }
	case events.MIGetCursorPosition:
		return func(ctx context.Context) (any, error) { return ui.GetCursorPosition(ctx) }
	case events.MISetCursorPosition:
		raw := arg[rawCoordinate](p, 0)
		coord := host.Coordinates{X: raw.X, Y: raw.Y}
		return func(ctx context.Context) (any, error) { return nil, ui.SetCursorPosition(ctx, coord) }
	case events.MIGetWindowPosition:
		return func(ctx context.Context) (any, error) { return ui.GetWindowPosition(ctx) }
	case events.MISetWindowPosition:
		raw := arg[rawCoordinate](p, 0)
		coord := host.Coordinates{X: raw.X, Y: raw.Y}
		return func(ctx context.Context) (any, error) { return nil, ui.SetWindowPosition(ctx, coord) }
	case events.MIGetCursorSize:
		return func(ctx context.Context) (any, error) { return ui.GetCursorSize(ctx) }
	case events.MISetCursorSize:
		size := arg[int](p, 0)
		return func(ctx context.Context) (any, error) { return nil, ui.SetCursorSize(ctx, size) }
	case events.MIGetBufferSize:
		return func(ctx context.Context) (any, error) { return ui.GetBufferSize(ctx) }
	case events.MISetBufferSize:
		raw := arg[rawSize](p, 0)
		size := host.Size{Width: raw.Width, Height: raw.Height}
		return func(ctx context.Context) (any, error) { return nil, ui.SetBufferSize(ctx, size) }
	case events.MIGetWindowSize:
		return func(ctx context.Context) (any, error) { return ui.GetWindowSize(ctx) }
	case events.MISetWindowSize:
		raw := arg[rawSize](p, 0)
		size := host.Size{Width: raw.Width, Height: raw.Height}
		return func(ctx context.Context) (any, error) { return nil, ui.SetWindowSize(ctx, size) }
	case events.MIGetWindowTitle:
		return func(ctx context.Context) (any, error) { return ui.GetWindowTitle(ctx) }
	case events.MISetWindowTitle:
		title := arg[string](p, 0)
		return func(ctx context.Context) (any, error) { return nil, ui.SetWindowTitle(ctx, title) }
	case events.MIGetMaxWindowSize:
		return func(ctx context.Context) (any, error) { return ui.GetMaxWindowSize(ctx) }
	case events.MIGetMaxPhysicalWindowSize:
		return func(ctx context.Context) (any, error) { return ui.GetMaxPhysicalWindowSize(ctx) }
	case events.MIGetKeyAvailable:
		return func(ctx context.Context) (any, error) { return ui.GetKeyAvailable(ctx) }
	case events.MIReadKey:
		options := host.ReadKeyOptions(arg[int](p, 0))
		return func(ctx context.Context) (any, error) { return ui.ReadKey(ctx, options) }
	case events.MIFlushInputBuffer:
		return func(ctx context.Context) (any, error) { return nil, ui.FlushInputBuffer(ctx) }
	case events.MISetBufferContents1:
		raw := arg[rawCoordinate](p, 0)
		origin := host.Coordinates{X: raw.X, Y: raw.Y}
		contents := arg[[][]host.BufferCell](p, 1)
		return func(ctx context.Context) (any, error) { return nil, ui.SetBufferContents1(ctx, origin, contents) }
	case events.MISetBufferContents2:
		rect := arg[host.Rectangle](p, 0)
		fill := arg[host.BufferCell](p, 1)
		return func(ctx context.Context) (any, error) { return nil, ui.SetBufferContents2(ctx, rect, fill) }
	case events.MIGetBufferContents:
		rect := arg[host.Rectangle](p, 0)
		return func(ctx context.Context) (any, error) { return ui.GetBufferContents(ctx, rect) }
	case events.MIScrollBufferContents:
		source := arg[host.Rectangle](p, 0)
		raw := arg[rawCoordinate](p, 1)
		destination := host.Coordinates{X: raw.X, Y: raw.Y}
		clip := arg[host.Rectangle](p, 2)
		fill := arg[host.BufferCell](p, 3)
		return func(ctx context.Context) (any, error) {
			return nil, ui.ScrollBufferContents(ctx, source, destination, clip, fill)
		}
	default:
		return nil
	}
}
