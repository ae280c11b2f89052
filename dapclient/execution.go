package dapclient

import (
	"github.com/google/go-dap"

	dapproto "github.com/lapce-tools/dap-client/protocol"
)

// Continue resumes the given thread.
func (s *Session) Continue(threadID int) (*dap.ContinueResponse, error) {
	return dapproto.Continue(s.rt, threadID)
}

// Next steps over the current line on the given thread.
func (s *Session) Next(threadID int) (*dap.NextResponse, error) {
	return dapproto.Next(s.rt, threadID)
}

// StepIn steps into the call on the current line.
func (s *Session) StepIn(threadID int) (*dap.StepInResponse, error) {
	return dapproto.StepIn(s.rt, threadID)
}

// StepOut runs until the current function returns.
func (s *Session) StepOut(threadID int) (*dap.StepOutResponse, error) {
	return dapproto.StepOut(s.rt, threadID)
}

// Pause suspends the given thread.
func (s *Session) Pause(threadID int) (*dap.PauseResponse, error) {
	return dapproto.Pause(s.rt, threadID)
}

// SetFunctionBreakpoints replaces the whole function breakpoint set.
func (s *Session) SetFunctionBreakpoints(breakpoints []dap.FunctionBreakpoint) (*dap.SetFunctionBreakpointsResponse, error) {
	return dapproto.SetFunctionBreakpoints(s.rt, breakpoints)
}
