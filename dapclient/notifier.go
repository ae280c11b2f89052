package dapclient

import (
	"github.com/google/go-dap"

	dapproto "github.com/lapce-tools/dap-client/protocol"
)

// TerminalHandshake is the channel the host pushes exactly one
// (TermId, pid) tuple onto after fulfilling RunInTerminal. It is a named
// alias over protocol.TerminalHandoff's channel type so host packages
// (tui, mcp) can depend on dapclient without importing protocol directly.
type TerminalHandshake = chan dapproto.TerminalHandoff

// EditorNotifier is the host's inbound surface: the session mainloop
// calls these as it reacts to adapter events, pushing state back to
// whatever owns the UI thread. Implementations must not block the
// mainloop for long; hand off to another goroutine if a call does real
// work.
type EditorNotifier interface {
	// BreakpointsResp reports the verified/line-adjusted breakpoints the
	// adapter accepted for one source file, when the session re-sends its
	// breakpoints on an initialized event. Session.SetBreakpoints returns
	// its response to the caller and does not report it here.
	BreakpointsResp(id DapId, path string, breakpoints []dap.Breakpoint)

	// Stopped reports a stopped event, plus the stack frames for every
	// thread when the adapter stopped all of them at once.
	Stopped(id DapId, event dap.StoppedEventBody, stackFrames map[int][]dap.StackFrame)

	// Continued reports a continued event.
	Continued(id DapId)

	// Terminated reports that the adapter reported program termination
	// (distinct from the session itself shutting down).
	Terminated(id DapId)

	// RunInTerminal asks the host to run the debuggee under the given
	// configuration in a host-visible terminal. The host must eventually
	// push the resulting (TermId, pid) onto the TerminalHandoff channel
	// belonging to this session's runtime.
	RunInTerminal(id DapId, config RunDebugConfig)

	// TerminalClose asks the host to close the terminal tab that was
	// opened for this session via RunInTerminal.
	TerminalClose(termID TermId)

	// Log surfaces a session diagnostic the host may want to show
	// alongside its own logs (e.g. in a problems panel), independent of
	// internal/logging's file sink.
	Log(id DapId, msg string)
}
