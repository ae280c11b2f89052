package dapclient

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/google/go-dap"

	"github.com/lapce-tools/dap-client/internal/logging"
	dapproto "github.com/lapce-tools/dap-client/protocol"
)

// Session owns one debug adapter process end to end: spawning it,
// completing the initialize handshake, running its mainloop (translating
// adapter events into EditorNotifier calls and adapter requests into
// responses), and driving the terminate/disconnect/restart state machine.
//
// A Session's public methods (Launch, SetBreakpoints, Continue, ...) are
// safe to call concurrently with the mainloop and with each other; they
// are thin wrappers over protocol.Runtime's own pending-table
// synchronization.
type Session struct {
	id DapId

	// label identifies the adapter transport in logs and error messages
	// (a program name for stdio adapters, a connector name otherwise).
	label string

	// spawn starts the adapter transport and wires it into a fresh
	// Runtime. Defaults to a plain stdio child process (dapproto.Spawn);
	// NewSessionWithSpawner lets a host substitute something else, e.g.
	// delveadapter.Connector.Spawn's TCP-backed transport.
	spawn func(dapID string) (*dapproto.Process, error)

	notifier EditorNotifier

	proc *dapproto.Process
	rt   *dapproto.Runtime

	log logging.Logger

	mu           sync.Mutex
	config       RunDebugConfig
	breakpoints  map[string][]BreakpointLocation
	capabilities *dap.Capabilities
	termID       *TermId
	terminated   bool
	disconnected bool
	restarted    bool

	mainloopDone chan struct{}
}

// NewSession constructs a Session that spawns server as a plain stdio child
// process. Call Start to spawn the adapter and begin the handshake.
func NewSession(id DapId, server dapproto.AdapterDescriptor, config RunDebugConfig,
	breakpoints map[string][]BreakpointLocation, notifier EditorNotifier) *Session {

	spawn := func(dapID string) (*dapproto.Process, error) {
		return dapproto.Spawn(server, dapID)
	}
	return NewSessionWithSpawner(id, server.Program, spawn, config, breakpoints, notifier)
}

// NewSessionWithSpawner constructs a Session against a custom adapter
// transport, such as delveadapter.Connector.Spawn, instead of a plain stdio
// child process. label identifies the transport in logs and error messages.
func NewSessionWithSpawner(id DapId, label string, spawn func(dapID string) (*dapproto.Process, error),
	config RunDebugConfig, breakpoints map[string][]BreakpointLocation, notifier EditorNotifier) *Session {

	if breakpoints == nil {
		breakpoints = make(map[string][]BreakpointLocation)
	}

	return &Session{
		id:           id,
		label:        label,
		spawn:        spawn,
		notifier:     notifier,
		config:       config,
		breakpoints:  breakpoints,
		log:          logging.For(fmt.Sprintf("dap-%d", id)),
		mainloopDone: make(chan struct{}),
	}
}

// Start spawns the adapter process, completes the initialize handshake,
// and starts the session mainloop in a new goroutine. It returns once
// initialize has succeeded; the launch request is sent separately, by the
// host calling Launch or by a committed restart.
func (s *Session) Start() error {
	proc, err := s.spawn(fmt.Sprintf("dap-%d", s.id))
	if err != nil {
		return fmt.Errorf("failed to start adapter %s: %w", s.label, err)
	}
	s.proc = proc
	s.rt = proc.Runtime

	resp, err := dapproto.Initialize(s.rt, dapproto.InitializeArgs{
		ClientID:                     "lapce",
		ClientName:                   "Lapce",
		AdapterID:                    "",
		Locale:                       "en-us",
		SupportsRunInTerminalRequest: runtime.GOOS != "windows",
	})
	if err != nil {
		s.proc.Stop()
		return fmt.Errorf("initialize failed: %w", err)
	}

	s.mu.Lock()
	s.capabilities = &resp.Body
	s.mu.Unlock()

	go s.mainloop()

	return nil
}

// mainloop drains the runtime's control channel. Control() is never
// closed; mainloop returns after handling the first Disconnected message,
// whether the adapter exited on its own or Shutdown killed it.
func (s *Session) mainloop() {
	defer close(s.mainloopDone)
	for ctrl := range s.rt.Control() {
		switch m := ctrl.(type) {
		case dapproto.HostRequest:
			s.handleHostRequest(m.Request)
		case dapproto.HostEvent:
			s.handleHostEvent(m.Event)
		case dapproto.Disconnected:
			s.mu.Lock()
			s.disconnected = true
			s.mu.Unlock()
			s.closeTerminal()
			s.checkRestart()
			return
		}
	}
}

func (s *Session) handleHostRequest(req dap.RequestMessage) {
	base := req.GetRequest()

	if base.Command != "runInTerminal" {
		s.rt.RespondNotImplemented(req)
		return
	}

	rit, ok := req.(*dap.RunInTerminalRequest)
	if !ok {
		s.rt.RespondNotImplemented(req)
		return
	}

	cfg := s.config
	cfg.Args = rit.Arguments.Args
	if rit.Arguments.Cwd != "" {
		cfg.Cwd = rit.Arguments.Cwd
	}
	s.notifier.RunInTerminal(s.id, cfg)

	handoff, ok := <-s.rt.TerminalHandoff
	if !ok {
		s.rt.RespondNotImplemented(req)
		return
	}

	termID := TermId(handoff.TermID)
	s.mu.Lock()
	s.termID = &termID
	s.mu.Unlock()

	body := dap.RunInTerminalResponseBody{}
	if handoff.Pid != nil {
		body.ProcessId = *handoff.Pid
	}
	s.rt.RespondSuccess(req, &dap.RunInTerminalResponse{
		Response: dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Seq: s.rt.NextSeq(), Type: "response"},
			RequestSeq:      base.Seq,
			Success:         true,
			Command:         base.Command,
		},
		Body: body,
	})
}

// FulfillTerminal completes the runInTerminal handshake: the host pushes
// the (TermId, pid) tuple it obtained from actually launching the
// debuggee, unblocking handleHostRequest, which is parked waiting on
// exactly this channel.
func (s *Session) FulfillTerminal(termID uint64, pid *int) {
	s.rt.TerminalHandoff <- dapproto.TerminalHandoff{TermID: termID, Pid: pid}
}

func (s *Session) handleHostEvent(event dap.EventMessage) {
	switch e := event.(type) {
	case *dap.InitializedEvent:
		s.onInitialized()
	case *dap.StoppedEvent:
		s.onStopped(e.Body)
	case *dap.ContinuedEvent:
		s.notifier.Continued(s.id)
	case *dap.TerminatedEvent:
		s.onTerminated()
	case *dap.ExitedEvent:
		// Exit code reporting lives above this layer; nothing to do at
		// the session-state-machine level.
	case *dap.BreakpointEvent:
		s.log.Debugf("breakpoint event: reason=%s id=%d", e.Body.Reason, e.Body.Breakpoint.Id)
	default:
		// Output, Module, LoadedSource, Capabilities, Memory and any
		// other event variant: accepted and ignored, not fatal.
		s.log.Debugf("unhandled dap event %s", event.GetEvent().Event)
	}
}

func (s *Session) onInitialized() {
	s.mu.Lock()
	breakpoints := make(map[string][]BreakpointLocation, len(s.breakpoints))
	for k, v := range s.breakpoints {
		breakpoints[k] = v
	}
	s.mu.Unlock()

	for path, locs := range breakpoints {
		resp, err := dapproto.SetBreakpoints(s.rt, dap.Source{Path: path},
			sourceBreakpoints(locs))
		if err != nil {
			s.log.Errorf("setBreakpoints for %s failed: %v", path, err)
			continue
		}
		s.notifier.BreakpointsResp(s.id, path, resp.Body.Breakpoints)
	}

	if _, err := dapproto.ConfigurationDone(s.rt); err != nil {
		s.log.Errorf("configurationDone failed: %v", err)
	}
}

func (s *Session) onStopped(body dap.StoppedEventBody) {
	stackFrames := make(map[int][]dap.StackFrame)
	if body.AllThreadsStopped {
		if threadsResp, err := dapproto.Threads(s.rt); err == nil {
			for _, th := range threadsResp.Body.Threads {
				if frames, err := dapproto.StackTrace(s.rt, th.Id, 0, 0); err == nil {
					stackFrames[th.Id] = frames.Body.StackFrames
				}
			}
		}
	}
	s.notifier.Stopped(s.id, body, stackFrames)
}

func (s *Session) onTerminated() {
	s.mu.Lock()
	s.terminated = true
	s.mu.Unlock()
	s.notifier.Terminated(s.id)
	s.closeTerminal()
	s.checkRestart()
}

func (s *Session) closeTerminal() {
	s.mu.Lock()
	termID := s.termID
	s.mu.Unlock()
	if termID != nil {
		s.notifier.TerminalClose(*termID)
	}
}

// supportsTerminate reports whether the adapter advertised
// supportsTerminateRequest during initialize.
func (s *Session) supportsTerminate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities != nil && s.capabilities.SupportsTerminateRequest
}

// Stop asks the adapter to end the debuggee: terminate if the adapter
// supports it, otherwise disconnect. Runs asynchronously, same as the
// original (the mainloop isn't blocked waiting on the adapter's reply).
func (s *Session) Stop() {
	if s.supportsTerminate() {
		go func() {
			if _, err := dapproto.Terminate(s.rt); err != nil {
				s.log.Errorf("terminate failed: %v", err)
			}
		}()
		return
	}
	go func() {
		if _, err := dapproto.Disconnect(s.rt, true); err != nil {
			s.log.Errorf("disconnect failed: %v", err)
		}
	}()
}

// Restart stops the current debuggee (if still running) and relaunches it
// with a possibly-updated breakpoint set once the stop sequence completes.
func (s *Session) Restart(breakpoints map[string][]BreakpointLocation) {
	s.mu.Lock()
	s.restarted = true
	s.breakpoints = breakpoints
	terminated := s.terminated
	s.mu.Unlock()

	if !terminated {
		s.Stop()
		return
	}
	s.checkRestart()
}

// shouldCommitRestart is the restart commit rule, extracted as a pure
// function so it can be tested without driving a real adapter process: a
// restart commits once restarted has been requested and, for adapters
// that can't terminate the debuggee directly, once the transport has
// actually disconnected too.
func shouldCommitRestart(restarted, disconnected, supportsTerminate bool) bool {
	if !restarted {
		return false
	}
	needsDisconnect := !supportsTerminate
	return !needsDisconnect || disconnected
}

// checkRestart applies the commit rule (shouldCommitRestart) to a pending
// restart: it proceeds once a restart has been requested and, for adapters
// without supportsTerminateRequest, once the transport has disconnected
// too. It does not look at terminated itself; it is called from the
// terminated and disconnected handlers, and from Restart when the debuggee
// has already terminated.
func (s *Session) checkRestart() {
	s.mu.Lock()
	supportsTerminate := s.capabilities != nil && s.capabilities.SupportsTerminateRequest
	if !shouldCommitRestart(s.restarted, s.disconnected, supportsTerminate) {
		s.mu.Unlock()
		return
	}

	s.restarted = false
	wasDisconnected := s.disconnected
	config := s.config
	s.mu.Unlock()

	if wasDisconnected {
		if err := s.Start(); err != nil {
			s.log.Errorf("restart: failed to respawn adapter: %v", err)
			return
		}
	}

	s.mu.Lock()
	s.terminated = false
	s.disconnected = false
	s.mu.Unlock()

	go func() {
		if _, err := s.Launch(config); err != nil {
			s.log.Errorf("restart: launch failed: %v", err)
		}
	}()
}

// Launch sends the launch request built from cfg. Fields in cfg.Extra are
// merged in verbatim alongside the well-known ones, letting adapter-
// specific launch arguments (delve's "mode", "buildFlags", ...) ride
// through without the client needing to know their shape.
func (s *Session) Launch(cfg RunDebugConfig) (*dap.LaunchResponse, error) {
	args := map[string]interface{}{
		"name":    cfg.Name,
		"program": cfg.Program,
	}
	if len(cfg.Args) > 0 {
		args["args"] = cfg.Args
	}
	if cfg.Cwd != "" {
		args["cwd"] = cfg.Cwd
	}
	if len(cfg.Env) > 0 {
		args["env"] = cfg.Env
	}
	if cfg.RunInTerminal {
		args["runInTerminal"] = true
	}
	for k, v := range cfg.Extra {
		args[k] = v
	}

	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()

	return dapproto.Launch(s.rt, args)
}

// SetBreakpoints replaces the breakpoint set for one source file and
// records it so a future restart re-applies it.
func (s *Session) SetBreakpoints(path string, locs []BreakpointLocation) (*dap.SetBreakpointsResponse, error) {
	s.mu.Lock()
	s.breakpoints[path] = locs
	s.mu.Unlock()

	return dapproto.SetBreakpoints(s.rt, dap.Source{Path: path}, sourceBreakpoints(locs))
}

// DapId returns the session's stable identifier.
func (s *Session) DapId() DapId { return s.id }

// Wait blocks until the session mainloop has exited (adapter disconnected
// and no restart is pending).
func (s *Session) Wait() { <-s.mainloopDone }

// Shutdown tears the session down for good: it marks the session as not
// wanting a restart, closes the terminal if one is open, and kills the
// adapter process. The resulting stdio EOF drives the normal
// Disconnected path through the mainloop, so there's no separate
// shutdown message in the control channel.
func (s *Session) Shutdown() {
	s.mu.Lock()
	s.restarted = false
	s.mu.Unlock()

	s.closeTerminal()
	if s.proc != nil {
		s.proc.Stop()
	}
	s.Wait()
}
