// Package dapclient implements the debugging session state machine: it
// owns a debug adapter's lifecycle (start, initialize, launch, stop,
// restart, disconnect) on top of the wire-level protocol.Runtime, and
// turns adapter events into calls on a host-supplied EditorNotifier.
package dapclient

import "github.com/google/go-dap"

// DapId identifies a debug session for the lifetime of the process. The
// host mints one per debug session it starts.
type DapId uint64

// TermId identifies the terminal tab a runInTerminal request was fulfilled
// in, so it can be closed when the session terminates.
type TermId uint64

// RunDebugConfig is the host-facing description of what to run under the
// debugger - the part of a launch.json-style configuration the client
// itself interprets, as opposed to the arbitrary adapter-specific fields
// that get passed through untouched.
type RunDebugConfig struct {
	Name    string
	Program string
	Args    []string
	Cwd     string
	Env     map[string]string

	// RunInTerminal requests that the debuggee run in a host-visible
	// terminal (e.g. so it can read stdin / print interleaved output)
	// rather than under the adapter's own stdio redirection.
	RunInTerminal bool

	// Extra carries adapter-specific launch fields (e.g. delve's "mode",
	// "buildFlags") that don't have a place above. Merged into the launch
	// arguments verbatim.
	Extra map[string]interface{}
}

// BreakpointLocation is a single line breakpoint request, independent of
// which source file it belongs to - breakpoints are grouped by file before
// being sent, since DAP's setBreakpoints replaces a whole file's set at
// once.
type BreakpointLocation struct {
	Line         int
	Column       int
	Condition    string
	HitCondition string
	LogMessage   string
}

// sourceBreakpoints converts the host's per-file breakpoint map into the
// per-file dap.SourceBreakpoint slices setBreakpoints expects.
func sourceBreakpoints(locs []BreakpointLocation) []dap.SourceBreakpoint {
	out := make([]dap.SourceBreakpoint, len(locs))
	for i, l := range locs {
		out[i] = dap.SourceBreakpoint{
			Line:         l.Line,
			Column:       l.Column,
			Condition:    l.Condition,
			HitCondition: l.HitCondition,
			LogMessage:   l.LogMessage,
		}
	}
	return out
}
