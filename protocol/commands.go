package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/go-dap"
)

// send stamps req with a fresh sequence number, issues it synchronously, and
// type-asserts the result to T. A typed ErrorResponse from the adapter is
// turned into a descriptive error rather than an assertion failure, the same
// response-or-error shape every typed command below shares.
func send[T dap.ResponseMessage](rt *Runtime, req dap.RequestMessage) (T, error) {
	var zero T

	base := req.GetRequest()
	base.Seq = rt.NextSeq()
	base.Type = "request"

	resp, err := rt.Request(base.Seq, req)
	if err != nil {
		return zero, err
	}

	if typed, ok := resp.(T); ok {
		return typed, nil
	}
	if errResp, ok := resp.(*dap.ErrorResponse); ok {
		return zero, fmt.Errorf("%s failed: %s", base.Command,
			errorMessage(errResp))
	}
	return zero, fmt.Errorf("unexpected response type %T for command %s",
		resp, base.Command)
}

func errorMessage(errResp *dap.ErrorResponse) string {
	if errResp.Body.Error.Format != "" {
		return errResp.Body.Error.Format
	}
	return errResp.Message
}

// InitializeArgs is the fixed handshake the host always sends: the
// adapter never gets to negotiate these, the host dictates them.
type InitializeArgs struct {
	ClientID                    string
	ClientName                  string
	AdapterID                   string
	Locale                      string
	SupportsRunInTerminalRequest bool
}

// Initialize sends the initialize request and returns the adapter's
// capabilities.
func Initialize(rt *Runtime, args InitializeArgs) (*dap.InitializeResponse, error) {
	req := &dap.InitializeRequest{
		Request: dap.Request{Command: "initialize"},
		Arguments: dap.InitializeRequestArguments{
			ClientID:                    args.ClientID,
			ClientName:                  args.ClientName,
			AdapterID:                   args.AdapterID,
			Locale:                      args.Locale,
			LinesStartAt1:               true,
			ColumnsStartAt1:             true,
			PathFormat:                  "path",
			SupportsVariableType:        true,
			SupportsRunInTerminalRequest: args.SupportsRunInTerminalRequest,
		},
	}
	return send[*dap.InitializeResponse](rt, req)
}

// Launch sends a launch request with an already-built, adapter-specific
// argument payload. The caller (the run-debug config layer) owns the shape
// of launchArgs since it is entirely adapter-defined per the DAP spec.
func Launch(rt *Runtime, launchArgs map[string]interface{}) (*dap.LaunchResponse, error) {
	raw, err := json.Marshal(launchArgs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal launch arguments: %w", err)
	}
	req := &dap.LaunchRequest{
		Request:   dap.Request{Command: "launch"},
		Arguments: json.RawMessage(raw),
	}
	return send[*dap.LaunchResponse](rt, req)
}

// Attach sends an attach request with an already-built, adapter-specific
// argument payload.
func Attach(rt *Runtime, attachArgs map[string]interface{}) (*dap.AttachResponse, error) {
	raw, err := json.Marshal(attachArgs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attach arguments: %w", err)
	}
	req := &dap.AttachRequest{
		Request:   dap.Request{Command: "attach"},
		Arguments: json.RawMessage(raw),
	}
	return send[*dap.AttachResponse](rt, req)
}

// ConfigurationDone tells the adapter the client has finished sending
// configuration requests (breakpoints, exception filters) and debugging may
// begin.
func ConfigurationDone(rt *Runtime) (*dap.ConfigurationDoneResponse, error) {
	req := &dap.ConfigurationDoneRequest{
		Request: dap.Request{Command: "configurationDone"},
	}
	return send[*dap.ConfigurationDoneResponse](rt, req)
}

// SetBreakpoints replaces all line breakpoints for a single source file.
func SetBreakpoints(rt *Runtime, source dap.Source, breakpoints []dap.SourceBreakpoint) (*dap.SetBreakpointsResponse, error) {
	req := &dap.SetBreakpointsRequest{
		Request: dap.Request{Command: "setBreakpoints"},
		Arguments: dap.SetBreakpointsArguments{
			Source:      source,
			Breakpoints: breakpoints,
		},
	}
	return send[*dap.SetBreakpointsResponse](rt, req)
}

// SetFunctionBreakpoints replaces all function breakpoints.
func SetFunctionBreakpoints(rt *Runtime, breakpoints []dap.FunctionBreakpoint) (*dap.SetFunctionBreakpointsResponse, error) {
	req := &dap.SetFunctionBreakpointsRequest{
		Request: dap.Request{Command: "setFunctionBreakpoints"},
		Arguments: dap.SetFunctionBreakpointsArguments{
			Breakpoints: breakpoints,
		},
	}
	return send[*dap.SetFunctionBreakpointsResponse](rt, req)
}

// Continue resumes the given thread (or all threads, adapter-dependent).
func Continue(rt *Runtime, threadID int) (*dap.ContinueResponse, error) {
	req := &dap.ContinueRequest{
		Request:   dap.Request{Command: "continue"},
		Arguments: dap.ContinueArguments{ThreadId: threadID},
	}
	return send[*dap.ContinueResponse](rt, req)
}

// Next steps over the current line on the given thread.
func Next(rt *Runtime, threadID int) (*dap.NextResponse, error) {
	req := &dap.NextRequest{
		Request:   dap.Request{Command: "next"},
		Arguments: dap.NextArguments{ThreadId: threadID},
	}
	return send[*dap.NextResponse](rt, req)
}

// StepIn steps into the call on the current line.
func StepIn(rt *Runtime, threadID int) (*dap.StepInResponse, error) {
	req := &dap.StepInRequest{
		Request:   dap.Request{Command: "stepIn"},
		Arguments: dap.StepInArguments{ThreadId: threadID},
	}
	return send[*dap.StepInResponse](rt, req)
}

// StepOut runs until the current function returns.
func StepOut(rt *Runtime, threadID int) (*dap.StepOutResponse, error) {
	req := &dap.StepOutRequest{
		Request:   dap.Request{Command: "stepOut"},
		Arguments: dap.StepOutArguments{ThreadId: threadID},
	}
	return send[*dap.StepOutResponse](rt, req)
}

// Pause suspends the given thread.
func Pause(rt *Runtime, threadID int) (*dap.PauseResponse, error) {
	req := &dap.PauseRequest{
		Request:   dap.Request{Command: "pause"},
		Arguments: dap.PauseArguments{ThreadId: threadID},
	}
	return send[*dap.PauseResponse](rt, req)
}

// Threads lists the debuggee's current threads.
func Threads(rt *Runtime) (*dap.ThreadsResponse, error) {
	req := &dap.ThreadsRequest{Request: dap.Request{Command: "threads"}}
	return send[*dap.ThreadsResponse](rt, req)
}

// StackTrace returns the call stack for a thread.
func StackTrace(rt *Runtime, threadID, startFrame, levels int) (*dap.StackTraceResponse, error) {
	req := &dap.StackTraceRequest{
		Request: dap.Request{Command: "stackTrace"},
		Arguments: dap.StackTraceArguments{
			ThreadId:   threadID,
			StartFrame: startFrame,
			Levels:     levels,
		},
	}
	return send[*dap.StackTraceResponse](rt, req)
}

// Scopes returns the variable scopes visible in a stack frame.
func Scopes(rt *Runtime, frameID int) (*dap.ScopesResponse, error) {
	req := &dap.ScopesRequest{
		Request:   dap.Request{Command: "scopes"},
		Arguments: dap.ScopesArguments{FrameId: frameID},
	}
	return send[*dap.ScopesResponse](rt, req)
}

// Variables returns the children of a scope or container variable.
func Variables(rt *Runtime, variablesReference int) (*dap.VariablesResponse, error) {
	req := &dap.VariablesRequest{
		Request:   dap.Request{Command: "variables"},
		Arguments: dap.VariablesArguments{VariablesReference: variablesReference},
	}
	return send[*dap.VariablesResponse](rt, req)
}

// Evaluate evaluates an expression in the context of a stack frame (or
// globally, if frameID is 0).
func Evaluate(rt *Runtime, expression string, frameID int, context string) (*dap.EvaluateResponse, error) {
	if context == "" {
		context = "repl"
	}
	req := &dap.EvaluateRequest{
		Request: dap.Request{Command: "evaluate"},
		Arguments: dap.EvaluateArguments{
			Expression: expression,
			FrameId:    frameID,
			Context:    context,
		},
	}
	return send[*dap.EvaluateResponse](rt, req)
}

// Disconnect asks the adapter to end the session. terminateDebuggee is only
// honored by adapters that advertise SupportTerminateDebuggee.
func Disconnect(rt *Runtime, terminateDebuggee bool) (*dap.DisconnectResponse, error) {
	req := &dap.DisconnectRequest{
		Request: dap.Request{Command: "disconnect"},
		Arguments: &dap.DisconnectArguments{
			TerminateDebuggee: terminateDebuggee,
		},
	}
	return send[*dap.DisconnectResponse](rt, req)
}

// Terminate asks the adapter to terminate the debuggee directly, used
// instead of Disconnect when the adapter advertises SupportsTerminateRequest.
func Terminate(rt *Runtime) (*dap.TerminateResponse, error) {
	req := &dap.TerminateRequest{Request: dap.Request{Command: "terminate"}}
	return send[*dap.TerminateResponse](rt, req)
}
