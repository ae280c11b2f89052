package dapclient

import (
	"github.com/google/go-dap"

	dapproto "github.com/lapce-tools/dap-client/protocol"
)

// Threads lists the debuggee's current threads.
func (s *Session) Threads() (*dap.ThreadsResponse, error) {
	return dapproto.Threads(s.rt)
}

// StackTrace returns the call stack for a thread, starting at startFrame
// and returning up to levels frames (0 means "all").
func (s *Session) StackTrace(threadID, startFrame, levels int) (*dap.StackTraceResponse, error) {
	return dapproto.StackTrace(s.rt, threadID, startFrame, levels)
}

// Scopes returns the variable scopes visible in a stack frame.
func (s *Session) Scopes(frameID int) (*dap.ScopesResponse, error) {
	return dapproto.Scopes(s.rt, frameID)
}

// Variables returns the children of a scope or container variable.
func (s *Session) Variables(variablesReference int) (*dap.VariablesResponse, error) {
	return dapproto.Variables(s.rt, variablesReference)
}

// Evaluate evaluates an expression in the context of a stack frame.
func (s *Session) Evaluate(expression string, frameID int, context string) (*dap.EvaluateResponse, error) {
	return dapproto.Evaluate(s.rt, expression, frameID, context)
}
