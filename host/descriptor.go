package host

import "github.com/smnsjas/go-psrp/events"

// Target names which capability subtree a host method belongs to (spec §3's
// HostMethodDescriptor).
type Target int

const (
	TargetHost Target = iota
	TargetUI
	TargetRawUI
)

// Descriptor is the immutable record spec §3 calls HostMethodDescriptor: one
// per PSRP host-method identifier, naming which capability subtree it
// belongs to, its name (for logging), and whether it is void (one-way).
type Descriptor struct {
	Target Target
	Name   string
	Void   bool
}

// descriptors is the static identifier -> descriptor table, grounded in
// original_source's get_host_method mapping. Modeling it as a table indexed
// by a tagged enum (rather than, say, a chain of type switches) keeps
// argument adaptation exhaustive at construction time per spec §9.
var descriptors = map[events.HostMethodIdentifier]Descriptor{
	events.MIGetName:               {TargetHost, "GetName", false},
	events.MIGetVersion:            {TargetHost, "GetVersion", false},
	events.MIGetInstanceID:         {TargetHost, "GetInstanceID", false},
	events.MIGetCurrentCulture:     {TargetHost, "GetCurrentCulture", false},
	events.MIGetCurrentUICulture:   {TargetHost, "GetCurrentUICulture", false},
	events.MISetShouldExit:         {TargetHost, "SetShouldExit", true},
	events.MIEnterNestedPrompt:     {TargetHost, "EnterNestedPrompt", true},
	events.MIExitNestedPrompt:      {TargetHost, "ExitNestedPrompt", true},
	events.MINotifyBeginApplication: {TargetHost, "NotifyBeginApplication", true},
	events.MINotifyEndApplication:  {TargetHost, "NotifyEndApplication", true},
	events.MIPushRunspace:          {TargetHost, "PushRunspace", true},
	events.MIPopRunspace:           {TargetHost, "PopRunspace", true},
	events.MIGetIsRunspacePushed:   {TargetHost, "GetIsRunspacePushed", false},
	events.MIGetRunspace:           {TargetHost, "GetRunspace", false},

	events.MIReadLine:                {TargetUI, "ReadLine", false},
	events.MIReadLineAsSecureString:  {TargetUI, "ReadLineAsSecureString", false},
	events.MIWrite1:                  {TargetUI, "Write1", true},
	events.MIWrite2:                  {TargetUI, "Write2", true},
	events.MIWriteLine1:              {TargetUI, "WriteLine1", true},
	events.MIWriteLine2:              {TargetUI, "WriteLine2", true},
	events.MIWriteLine3:              {TargetUI, "WriteLine3", true},
	events.MIWriteErrorLine:          {TargetUI, "WriteErrorLine", true},
	events.MIWriteDebugLine:          {TargetUI, "WriteDebugLine", true},
	events.MIWriteProgress:           {TargetUI, "WriteProgress", true},
	events.MIWriteVerboseLine:        {TargetUI, "WriteVerboseLine", true},
	events.MIWriteWarningLine:        {TargetUI, "WriteWarningLine", true},
	events.MIPrompt:                  {TargetUI, "Prompt", false},
	events.MIPromptForCredential1:    {TargetUI, "PromptForCredential1", false},
	events.MIPromptForCredential2:    {TargetUI, "PromptForCredential2", false},
	events.MIPromptForChoice:         {TargetUI, "PromptForChoice", false},
	events.MIPromptForChoiceMultipleSelection: {TargetUI, "PromptForChoiceMultipleSelection", false},

	events.MIGetForegroundColor:        {TargetRawUI, "GetForegroundColor", false},
	events.MISetForegroundColor:        {TargetRawUI, "SetForegroundColor", true},
	events.MIGetBackgroundColor:        {TargetRawUI, "GetBackgroundColor", false},
	events.MISetBackgroundColor:        {TargetRawUI, "SetBackgroundColor", true},
	events.MIGetCursorPosition:         {TargetRawUI, "GetCursorPosition", false},
	events.MISetCursorPosition:         {TargetRawUI, "SetCursorPosition", true},
	events.MIGetWindowPosition:         {TargetRawUI, "GetWindowPosition", false},
	events.MISetWindowPosition:         {TargetRawUI, "SetWindowPosition", true},
	events.MIGetCursorSize:             {TargetRawUI, "GetCursorSize", false},
	events.MISetCursorSize:             {TargetRawUI, "SetCursorSize", true},
	events.MIGetBufferSize:             {TargetRawUI, "GetBufferSize", false},
	events.MISetBufferSize:             {TargetRawUI, "SetBufferSize", true},
	events.MIGetWindowSize:             {TargetRawUI, "GetWindowSize", false},
	events.MISetWindowSize:             {TargetRawUI, "SetWindowSize", true},
	events.MIGetWindowTitle:            {TargetRawUI, "GetWindowTitle", false},
	events.MISetWindowTitle:            {TargetRawUI, "SetWindowTitle", true},
	events.MIGetMaxWindowSize:          {TargetRawUI, "GetMaxWindowSize", false},
	events.MIGetMaxPhysicalWindowSize:  {TargetRawUI, "GetMaxPhysicalWindowSize", false},
	events.MIGetKeyAvailable:           {TargetRawUI, "GetKeyAvailable", false},
	events.MIReadKey:                   {TargetRawUI, "ReadKey", false},
	events.MIFlushInputBuffer:          {TargetRawUI, "FlushInputBuffer", true},
	events.MISetBufferContents1:        {TargetRawUI, "SetBufferContents1", true},
	events.MISetBufferContents2:        {TargetRawUI, "SetBufferContents2", true},
	events.MIGetBufferContents:         {TargetRawUI, "GetBufferContents", false},
	events.MIScrollBufferContents:      {TargetRawUI, "ScrollBufferContents", true},
}

// Describe looks up the Descriptor for a PSRP host-method identifier. ok is
// false for an identifier outside the known PSRP method set (never expected
// on the wire, but defensive here since the identifier arrives from the
// codec, not from compiled Go code).
func Describe(mi events.HostMethodIdentifier) (Descriptor, bool) {
	d, ok := descriptors[mi]
	return d, ok
}
