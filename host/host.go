// Package host defines the client-side PSRP host capability interfaces
// (Host, UI, RawUI) and the value types their methods exchange, grounded in
// original_source's psrp._host module. Application code implements these
// interfaces; package hostinvoker adapts incoming PSRP host calls onto them.
package host

import (
	"context"

	"github.com/google/uuid"
)

// ConsoleColor mirrors System.ConsoleColor.
type ConsoleColor int

// Coordinates is a 0-based (X, Y) screen position.
type Coordinates struct {
	X, Y int
}

// Size is a (Width, Height) pair.
type Size struct {
	Width, Height int
}

// FieldDescription describes one field of a Prompt() request.
type FieldDescription struct {
	Name         string
	Label        string
	HelpMessage  string
	IsMandatory  bool
}

// ChoiceDescription describes one option of a PromptForChoice request.
type ChoiceDescription struct {
	Label string
	Help  string
}

// KeyInfo mirrors System.Management.Automation.Host.KeyInfo, the result of a
// RawUI.ReadKey call.
type KeyInfo struct {
	VirtualKeyCode  int
	Character       rune
	ControlKeyState int
	KeyDown         bool
}

// ReadKeyOptions are the bit flags accepted by RawUI.ReadKey, mirroring
// System.Management.Automation.Host.ReadKeyOptions.
type ReadKeyOptions int

const (
	ReadKeyAllowCtrlC      ReadKeyOptions = 1 << 0
	ReadKeyNoEcho          ReadKeyOptions = 1 << 1
	ReadKeyIncludeKeyDown  ReadKeyOptions = 1 << 2
	ReadKeyIncludeKeyUp    ReadKeyOptions = 1 << 3
)

// Rectangle is a screen-buffer region, mirroring
// System.Management.Automation.Host.Rectangle.
type Rectangle struct {
	Left, Top, Right, Bottom int
}

// BufferCell is one screen-buffer cell, mirroring
// System.Management.Automation.Host.BufferCell.
type BufferCell struct {
	Character       rune
	ForegroundColor ConsoleColor
	BackgroundColor ConsoleColor
	BufferCellType  int
}

// ProgressRecord mirrors the wire progress record shape used by WriteProgress.
type ProgressRecord struct {
	Activity        string
	StatusAndDetail string
	PercentComplete int
}

// HostDefaultData is the snapshot of RawUI state sent when a Host is first
// described to the peer (HostInfo.HostDefaultData).
type HostDefaultData struct {
	ForegroundColor       ConsoleColor
	BackgroundColor       ConsoleColor
	CursorPosition        Coordinates
	WindowPosition        Coordinates
	CursorSize            int
	BufferSize            Size
	WindowSize            Size
	MaxWindowSize         Size
	MaxPhysicalWindowSize Size
	WindowTitle           string
}

// HostInfo is the aggregate PSRP sends the server describing the client host
// when a RunspacePool or Pipeline is constructed (spec §6).
type HostInfo struct {
	IsHostNull       bool
	IsHostUINull     bool
	IsHostRawUINull  bool
	UseRunspaceHost  bool
	HostDefaultData  *HostDefaultData
}

// Credential is a minimal username/secret pair returned by the credential
// prompt methods. The secret is carried as a PSRP secure string on the wire;
// here it is just an opaque string supplied by the application's UI.
type Credential struct {
	UserName string
	Password string
}

// Host is the client-side capability set for $Host. Every method may be
// invoked either locally by application code or remotely via a PSRP host
// call (spec §4.4); context.Context lets either caller cancel a method that
// itself does I/O (e.g. prompting a human).
//
// A Host with a nil UI (or a UI with a nil RawUI) is legal: HostInvoker
// treats the missing subtree as "method not implemented" per spec §4.4.
type Host interface {
	UI() UI

	GetName(ctx context.Context) (string, error)
	GetVersion(ctx context.Context) (string, error)
	GetInstanceID(ctx context.Context) (uuid.UUID, error)
	GetCurrentCulture(ctx context.Context) (string, error)
	GetCurrentUICulture(ctx context.Context) (string, error)
	SetShouldExit(ctx context.Context, exitCode int) error
	EnterNestedPrompt(ctx context.Context) error
	ExitNestedPrompt(ctx context.Context) error
	NotifyBeginApplication(ctx context.Context) error
	NotifyEndApplication(ctx context.Context) error
	PushRunspace(ctx context.Context, runspace any) error
	PopRunspace(ctx context.Context) error
	GetIsRunspacePushed(ctx context.Context) (bool, error)
	GetRunspace(ctx context.Context) (any, error)
}

// UI is the client-side capability set for $Host.UI.
type UI interface {
	RawUI() RawUI

	ReadLine(ctx context.Context) (string, error)
	ReadLineAsSecureString(ctx context.Context) (string, error)
	Write1(ctx context.Context, message string) error
	Write2(ctx context.Context, foreground, background ConsoleColor, message string) error
	WriteLine1(ctx context.Context) error
	WriteLine2(ctx context.Context, message string) error
	WriteLine3(ctx context.Context, foreground, background ConsoleColor, message string) error
	WriteErrorLine(ctx context.Context, message string) error
	WriteDebugLine(ctx context.Context, message string) error
	WriteProgress(ctx context.Context, sourceID int64, record ProgressRecord) error
	WriteVerboseLine(ctx context.Context, message string) error
	WriteWarningLine(ctx context.Context, message string) error
	Prompt(ctx context.Context, caption, message string, descriptions []FieldDescription) (map[string]any, error)
	PromptForCredential1(ctx context.Context, caption, message, userName, targetName string) (Credential, error)
	PromptForCredential2(ctx context.Context, caption, message, userName, targetName string, allowedTypes, options int) (Credential, error)
	PromptForChoice(ctx context.Context, caption, message string, choices []ChoiceDescription, defaultChoice int) (int, error)
	PromptForChoiceMultipleSelection(ctx context.Context, caption, message string, choices []ChoiceDescription, defaultChoices []int) ([]int, error)
}

// RawUI is the client-side capability set for $Host.UI.RawUI.
type RawUI interface {
	GetHostDefaultData(ctx context.Context) (HostDefaultData, error)

	GetForegroundColor(ctx context.Context) (ConsoleColor, error)
	SetForegroundColor(ctx context.Context, value ConsoleColor) error
	GetBackgroundColor(ctx context.Context) (ConsoleColor, error)
	SetBackgroundColor(ctx context.Context, value ConsoleColor) error
	GetCursorPosition(ctx context.Context) (Coordinates, error)
	SetCursorPosition(ctx context.Context, value Coordinates) error
	GetWindowPosition(ctx context.Context) (Coordinates, error)
	SetWindowPosition(ctx context.Context, value Coordinates) error
	GetCursorSize(ctx context.Context) (int, error)
	SetCursorSize(ctx context.Context, value int) error
	GetBufferSize(ctx context.Context) (Size, error)
	SetBufferSize(ctx context.Context, value Size) error
	GetWindowSize(ctx context.Context) (Size, error)
	SetWindowSize(ctx context.Context, value Size) error
	GetWindowTitle(ctx context.Context) (string, error)
	SetWindowTitle(ctx context.Context, value string) error
	GetMaxWindowSize(ctx context.Context) (Size, error)
	GetMaxPhysicalWindowSize(ctx context.Context) (Size, error)
	GetKeyAvailable(ctx context.Context) (bool, error)
	// ReadKey blocks for one key press/release matching options and reports
	// it.
	ReadKey(ctx context.Context, options ReadKeyOptions) (KeyInfo, error)
	FlushInputBuffer(ctx context.Context) error
	// SetBufferContents1 writes contents into the buffer starting at origin
	// (contents[row][col], .NET's rectangular BufferCell[,] overload).
	SetBufferContents1(ctx context.Context, origin Coordinates, contents [][]BufferCell) error
	// SetBufferContents2 fills every cell of rect with fill.
	SetBufferContents2(ctx context.Context, rect Rectangle, fill BufferCell) error
	// GetBufferContents returns the cells within rect, indexed [row][col].
	GetBufferContents(ctx context.Context, rect Rectangle) ([][]BufferCell, error)
	// ScrollBufferContents copies source to destination, then fills the
	// cells of source left exposed (clipped to clip) with fill.
	ScrollBufferContents(ctx context.Context, source Rectangle, destination Coordinates, clip Rectangle, fill BufferCell) error
}

// GetHostInfo builds the HostInfo PSRP sends when describing h, following
// original_source's PSHost.get_host_info. h may be nil: the HostInfo then
// reports the host, UI and RawUI as null (UseRunspaceHost stays false) and
// the server uses its own default host instead.
func GetHostInfo(ctx context.Context, h Host) (HostInfo, error) {
	if h == nil {
		return HostInfo{IsHostNull: true, IsHostUINull: true, IsHostRawUINull: true}, nil
	}

	ui := h.UI()
	info := HostInfo{
		IsHostUINull: ui == nil,
	}
	if ui == nil {
		info.IsHostRawUINull = true
		return info, nil
	}

	rawUI := ui.RawUI()
	info.IsHostRawUINull = rawUI == nil
	if rawUI == nil {
		return info, nil
	}

	data, err := rawUI.GetHostDefaultData(ctx)
	if err != nil {
		return HostInfo{}, err
	}
	info.HostDefaultData = &data
	return info, nil
}
