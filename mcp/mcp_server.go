// Package mcp exposes dapclient.Session as an editor-facing MCP server:
// one tool per session-level DAP operation, multiplexed across any number
// of concurrently live sessions by dapclient.DapId.
package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/go-dap"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/lapce-tools/dap-client/dapclient"
	"github.com/lapce-tools/dap-client/delveadapter"
	"github.com/lapce-tools/dap-client/internal/logging"
	dapproto "github.com/lapce-tools/dap-client/protocol"
)

// StartSessionArgs describes the adapter to spawn for a new session.
type StartSessionArgs struct {
	AdapterProgram string   `json:"adapter_program"`
	AdapterArgs    []string `json:"adapter_args,omitempty"`
	AdapterCwd     string   `json:"adapter_cwd,omitempty"`
}

// SessionIDArgs is embedded by every tool that operates on an existing
// session.
type SessionIDArgs struct {
	SessionID int `json:"session_id"`
}

// LaunchArgs represents the arguments for launching a debuggee.
type LaunchArgs struct {
	SessionID     int               `json:"session_id"`
	Name          string            `json:"name,omitempty"`
	Program       string            `json:"program"`
	Args          []string          `json:"args,omitempty"`
	Cwd           string            `json:"cwd,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	RunInTerminal bool              `json:"run_in_terminal,omitempty"`
}

// SetBreakpointsArgs represents the arguments for setting breakpoints in
// one source file.
type SetBreakpointsArgs struct {
	SessionID   int      `json:"session_id"`
	File        string   `json:"file"`
	Lines       []int    `json:"lines"`
	Conditions  []string `json:"conditions,omitempty"`
}

// ThreadArgs represents the arguments for a thread-scoped execution
// control command.
type ThreadArgs struct {
	SessionID int `json:"session_id"`
	ThreadID  int `json:"thread_id"`
}

// StackTraceArgs represents the arguments for fetching a call stack.
type StackTraceArgs struct {
	SessionID  int `json:"session_id"`
	ThreadID   int `json:"thread_id"`
	StartFrame int `json:"start_frame,omitempty"`
	Levels     int `json:"levels,omitempty"`
}

// ScopesArgs represents the arguments for fetching a frame's scopes.
type ScopesArgs struct {
	SessionID int `json:"session_id"`
	FrameID   int `json:"frame_id"`
}

// VariablesArgs represents the arguments for fetching a container's
// children.
type VariablesArgs struct {
	SessionID           int `json:"session_id"`
	VariablesReference int `json:"variables_reference"`
}

// EvaluateArgs represents the arguments for evaluating an expression.
type EvaluateArgs struct {
	SessionID  int    `json:"session_id"`
	Expression string `json:"expression"`
	FrameID    int    `json:"frame_id,omitempty"`
	Context    string `json:"context,omitempty"`
}

// DisconnectArgs represents the arguments for ending a session.
type DisconnectArgs struct {
	SessionID         int  `json:"session_id"`
	TerminateDebuggee bool `json:"terminate_debuggee,omitempty"`
}

// Server wraps dapclient as an MCP server reachable over stdio. It owns
// the session registry and satisfies dapclient.EditorNotifier by
// recording the most recent event per session - mcp-go's stdio transport
// has no standing subscription model, so a host pulls state via
// get_session_state rather than receiving a push.
type Server struct {
	mcpServer *server.MCPServer
	log       logging.Logger

	mu       sync.Mutex
	sessions map[dapclient.DapId]*dapclient.Session
	events   map[dapclient.DapId]*sessionState
	nextID   dapclient.DapId
	terminal TerminalLauncher

	// OnSessionStarted/OnSessionEnded, when set, let a host track each
	// session's lifecycle outside the request/response tool surface -
	// e.g. registering/deregistering it in an actor-based supervisory
	// registry (see cmd/dap-client's Registry).
	OnSessionStarted func(id dapclient.DapId, sess *dapclient.Session)
	OnSessionEnded   func(id dapclient.DapId)
}

type sessionState struct {
	mu          sync.Mutex
	breakpoints []dap.Breakpoint
	lastStopped *dap.StoppedEventBody
	lastFrames  map[int][]dap.StackFrame
	continued   bool
	terminated  bool
	logs        []string
}

// NewServer constructs an MCP server with no sessions registered yet. Call
// Serve to start handling requests over stdio.
func NewServer() *Server {
	s := &Server{
		mcpServer: server.NewMCPServer("Go Debug Adapter Protocol Server", "1.0.0"),
		log:       logging.For("mcp-server"),
		sessions:  make(map[dapclient.DapId]*dapclient.Session),
		events:    make(map[dapclient.DapId]*sessionState),
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server using the stdio transport.
func (s *Server) Serve() error {
	s.log.Infof("starting MCP server over stdio")
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	s.registerStartSessionTool()
	s.registerLaunchTool()
	s.registerSetBreakpointsTool()
	s.registerContinueTool()
	s.registerNextTool()
	s.registerStepInTool()
	s.registerStepOutTool()
	s.registerPauseTool()
	s.registerThreadsTool()
	s.registerStackTraceTool()
	s.registerScopesTool()
	s.registerVariablesTool()
	s.registerEvaluateTool()
	s.registerGetSessionStateTool()
	s.registerDisconnectTool()
}

func errorResult(format string, args ...interface{}) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf(format, args...))},
		IsError: true,
	}
}

func textResult(format string, args ...interface{}) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf(format, args...))},
	}
}

func (s *Server) session(id int) (*dapclient.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[dapclient.DapId(id)]
	return sess, ok
}

func (s *Server) state(id dapclient.DapId) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.events[id]
	if !ok {
		st = &sessionState{}
		s.events[id] = st
	}
	return st
}

func (s *Server) registerStartSessionTool() {
	tool := mcp.NewTool("start_session",
		mcp.WithDescription("Spawn a debug adapter and complete the initialize handshake. "+
			"adapter_program \"dlv\" or \"delve\" uses the bundled dlv-dap TCP connector "+
			"instead of a plain stdio child process"),
		mcp.WithString("adapter_program", mcp.Required(),
			mcp.Description("Path to the debug adapter executable, or \"dlv\"/\"delve\"")),
		mcp.WithArray("adapter_args",
			mcp.Description("Arguments passed to the adapter"),
			mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("adapter_cwd",
			mcp.Description("Working directory for the adapter process; not used for \"dlv\"/\"delve\"")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args StartSessionArgs) (*mcp.CallToolResult, error) {

		s.mu.Lock()
		s.nextID++
		id := s.nextID
		s.mu.Unlock()

		var sess *dapclient.Session
		switch strings.ToLower(args.AdapterProgram) {
		case "dlv", "delve":
			connector := delveadapter.NewConnector()
			connector.ExtraArgs = args.AdapterArgs
			sess = dapclient.NewSessionWithSpawner(id, "dlv dap", connector.Spawn,
				dapclient.RunDebugConfig{}, nil, s)
		default:
			desc := dapproto.AdapterDescriptor{
				Program: args.AdapterProgram,
				Args:    args.AdapterArgs,
				Cwd:     args.AdapterCwd,
			}
			sess = dapclient.NewSession(id, desc, dapclient.RunDebugConfig{}, nil, s)
		}

		if err := sess.Start(); err != nil {
			return errorResult("failed to start session: %v", err), nil
		}

		s.mu.Lock()
		s.sessions[id] = sess
		s.mu.Unlock()

		if s.OnSessionStarted != nil {
			s.OnSessionStarted(id, sess)
		}

		return textResult("session %d started", id), nil
	})

	s.mcpServer.AddTool(tool, handler)
}

func (s *Server) registerLaunchTool() {
	tool := mcp.NewTool("launch",
		mcp.WithDescription("Launch the debuggee program under an initialized session"),
		mcp.WithNumber("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithString("program", mcp.Required(), mcp.Description("Path to the program to debug")),
		mcp.WithString("name", mcp.Description("Display name for the run")),
		mcp.WithArray("args", mcp.Description("Program arguments"),
			mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("cwd", mcp.Description("Working directory for the program")),
		mcp.WithBoolean("run_in_terminal", mcp.Description("Ask the host to run the program in a visible terminal")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args LaunchArgs) (*mcp.CallToolResult, error) {

		sess, ok := s.session(args.SessionID)
		if !ok {
			return errorResult("session %d not found", args.SessionID), nil
		}

		cfg := dapclient.RunDebugConfig{
			Name:          args.Name,
			Program:       args.Program,
			Args:          args.Args,
			Cwd:           args.Cwd,
			Env:           args.Env,
			RunInTerminal: args.RunInTerminal,
		}
		if _, err := sess.Launch(cfg); err != nil {
			return errorResult("launch failed: %v", err), nil
		}
		return textResult("program launched"), nil
	})

	s.mcpServer.AddTool(tool, handler)
}

func (s *Server) registerSetBreakpointsTool() {
	tool := mcp.NewTool("set_breakpoints",
		mcp.WithDescription("Replace the breakpoint set for one source file"),
		mcp.WithNumber("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithString("file", mcp.Required(), mcp.Description("Source file path")),
		mcp.WithArray("lines", mcp.Required(), mcp.Description("Line numbers"),
			mcp.Items(map[string]any{"type": "integer"})),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args SetBreakpointsArgs) (*mcp.CallToolResult, error) {

		sess, ok := s.session(args.SessionID)
		if !ok {
			return errorResult("session %d not found", args.SessionID), nil
		}

		locs := make([]dapclient.BreakpointLocation, len(args.Lines))
		for i, line := range args.Lines {
			loc := dapclient.BreakpointLocation{Line: line}
			if i < len(args.Conditions) {
				loc.Condition = args.Conditions[i]
			}
			locs[i] = loc
		}

		resp, err := sess.SetBreakpoints(args.File, locs)
		if err != nil {
			return errorResult("set breakpoints failed: %v", err), nil
		}
		return textResult("%d breakpoint(s) accepted", len(resp.Body.Breakpoints)), nil
	})

	s.mcpServer.AddTool(tool, handler)
}

func (s *Server) registerContinueTool() {
	s.registerThreadTool("continue", "Continue execution of a thread", func(sess *dapclient.Session, threadID int) (string, error) {
		resp, err := sess.Continue(threadID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("continued, all threads continued: %t", resp.Body.AllThreadsContinued), nil
	})
}

func (s *Server) registerNextTool() {
	s.registerThreadTool("step_over", "Step over the current line", func(sess *dapclient.Session, threadID int) (string, error) {
		_, err := sess.Next(threadID)
		return "stepped over", err
	})
}

func (s *Server) registerStepInTool() {
	s.registerThreadTool("step_in", "Step into the call on the current line", func(sess *dapclient.Session, threadID int) (string, error) {
		_, err := sess.StepIn(threadID)
		return "stepped in", err
	})
}

func (s *Server) registerStepOutTool() {
	s.registerThreadTool("step_out", "Run until the current function returns", func(sess *dapclient.Session, threadID int) (string, error) {
		_, err := sess.StepOut(threadID)
		return "stepped out", err
	})
}

func (s *Server) registerPauseTool() {
	s.registerThreadTool("pause", "Pause a running thread", func(sess *dapclient.Session, threadID int) (string, error) {
		_, err := sess.Pause(threadID)
		return "paused", err
	})
}

// registerThreadTool registers a tool that takes only (session_id,
// thread_id) and delegates to fn, covering the five execution-control
// commands that all share this shape.
func (s *Server) registerThreadTool(name, description string, fn func(sess *dapclient.Session, threadID int) (string, error)) {
	tool := mcp.NewTool(name,
		mcp.WithDescription(description),
		mcp.WithNumber("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithNumber("thread_id", mcp.Required(), mcp.Description("Thread identifier")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args ThreadArgs) (*mcp.CallToolResult, error) {

		sess, ok := s.session(args.SessionID)
		if !ok {
			return errorResult("session %d not found", args.SessionID), nil
		}
		msg, err := fn(sess, args.ThreadID)
		if err != nil {
			return errorResult("%s failed: %v", name, err), nil
		}
		return textResult("%s", msg), nil
	})

	s.mcpServer.AddTool(tool, handler)
}

func (s *Server) registerThreadsTool() {
	tool := mcp.NewTool("threads",
		mcp.WithDescription("List the debuggee's current threads"),
		mcp.WithNumber("session_id", mcp.Required(), mcp.Description("Session identifier")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args SessionIDArgs) (*mcp.CallToolResult, error) {

		sess, ok := s.session(args.SessionID)
		if !ok {
			return errorResult("session %d not found", args.SessionID), nil
		}
		resp, err := sess.Threads()
		if err != nil {
			return errorResult("threads failed: %v", err), nil
		}
		return textResult("%+v", resp.Body.Threads), nil
	})

	s.mcpServer.AddTool(tool, handler)
}

func (s *Server) registerStackTraceTool() {
	tool := mcp.NewTool("stack_trace",
		mcp.WithDescription("Fetch the call stack for a thread"),
		mcp.WithNumber("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithNumber("thread_id", mcp.Required(), mcp.Description("Thread identifier")),
		mcp.WithNumber("start_frame", mcp.Description("First frame index to return")),
		mcp.WithNumber("levels", mcp.Description("Maximum frames to return, 0 for all")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args StackTraceArgs) (*mcp.CallToolResult, error) {

		sess, ok := s.session(args.SessionID)
		if !ok {
			return errorResult("session %d not found", args.SessionID), nil
		}
		resp, err := sess.StackTrace(args.ThreadID, args.StartFrame, args.Levels)
		if err != nil {
			return errorResult("stack trace failed: %v", err), nil
		}
		return textResult("%+v", resp.Body.StackFrames), nil
	})

	s.mcpServer.AddTool(tool, handler)
}

func (s *Server) registerScopesTool() {
	tool := mcp.NewTool("scopes",
		mcp.WithDescription("List the variable scopes visible in a stack frame"),
		mcp.WithNumber("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithNumber("frame_id", mcp.Required(), mcp.Description("Stack frame identifier")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args ScopesArgs) (*mcp.CallToolResult, error) {

		sess, ok := s.session(args.SessionID)
		if !ok {
			return errorResult("session %d not found", args.SessionID), nil
		}
		resp, err := sess.Scopes(args.FrameID)
		if err != nil {
			return errorResult("scopes failed: %v", err), nil
		}
		return textResult("%+v", resp.Body.Scopes), nil
	})

	s.mcpServer.AddTool(tool, handler)
}

func (s *Server) registerVariablesTool() {
	tool := mcp.NewTool("variables",
		mcp.WithDescription("List the children of a scope or container variable"),
		mcp.WithNumber("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithNumber("variables_reference", mcp.Required(), mcp.Description("Variables reference returned by scopes/variables")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args VariablesArgs) (*mcp.CallToolResult, error) {

		sess, ok := s.session(args.SessionID)
		if !ok {
			return errorResult("session %d not found", args.SessionID), nil
		}
		resp, err := sess.Variables(args.VariablesReference)
		if err != nil {
			return errorResult("variables failed: %v", err), nil
		}
		return textResult("%+v", resp.Body.Variables), nil
	})

	s.mcpServer.AddTool(tool, handler)
}

func (s *Server) registerEvaluateTool() {
	tool := mcp.NewTool("evaluate",
		mcp.WithDescription("Evaluate an expression in the context of a stack frame"),
		mcp.WithNumber("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithString("expression", mcp.Required(), mcp.Description("Expression to evaluate")),
		mcp.WithNumber("frame_id", mcp.Description("Stack frame identifier")),
		mcp.WithString("context", mcp.Description("Evaluation context, defaults to repl")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args EvaluateArgs) (*mcp.CallToolResult, error) {

		sess, ok := s.session(args.SessionID)
		if !ok {
			return errorResult("session %d not found", args.SessionID), nil
		}
		resp, err := sess.Evaluate(args.Expression, args.FrameID, args.Context)
		if err != nil {
			return errorResult("evaluate failed: %v", err), nil
		}
		return textResult("%s", resp.Body.Result), nil
	})

	s.mcpServer.AddTool(tool, handler)
}

func (s *Server) registerGetSessionStateTool() {
	tool := mcp.NewTool("get_session_state",
		mcp.WithDescription("Poll the most recent stopped/continued/terminated event and log lines for a session"),
		mcp.WithNumber("session_id", mcp.Required(), mcp.Description("Session identifier")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args SessionIDArgs) (*mcp.CallToolResult, error) {

		id := dapclient.DapId(args.SessionID)
		if _, ok := s.session(args.SessionID); !ok {
			return errorResult("session %d not found", args.SessionID), nil
		}

		st := s.state(id)
		st.mu.Lock()
		defer st.mu.Unlock()

		return textResult("stopped=%v continued=%v terminated=%v frames=%+v logs=%v",
			st.lastStopped, st.continued, st.terminated, st.lastFrames, st.logs), nil
	})

	s.mcpServer.AddTool(tool, handler)
}

func (s *Server) registerDisconnectTool() {
	tool := mcp.NewTool("disconnect",
		mcp.WithDescription("Tear the session down: close its terminal, if any, and kill the adapter process. "+
			"No terminate or disconnect request is sent to the adapter"),
		mcp.WithNumber("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithBoolean("terminate_debuggee", mcp.Description("Not used: the adapter process is killed whether or not this is set")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args DisconnectArgs) (*mcp.CallToolResult, error) {

		sess, ok := s.session(args.SessionID)
		if !ok {
			return errorResult("session %d not found", args.SessionID), nil
		}
		sess.Shutdown()

		s.mu.Lock()
		delete(s.sessions, dapclient.DapId(args.SessionID))
		s.mu.Unlock()

		if s.OnSessionEnded != nil {
			s.OnSessionEnded(dapclient.DapId(args.SessionID))
		}

		return textResult("session %d ended", args.SessionID), nil
	})

	s.mcpServer.AddTool(tool, handler)
}

// Sessions returns a snapshot of the currently registered session IDs, for
// monitoring or tests.
func (s *Server) Sessions() []dapclient.DapId {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]dapclient.DapId, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}
