package mcp

import (
	"fmt"
	"os/exec"
	"sync/atomic"

	"github.com/google/go-dap"

	"github.com/lapce-tools/dap-client/dapclient"
)

// TerminalLauncher runs a debuggee's command line somewhere host-visible
// and reports back what pid resulted, fulfilling the host side of a
// runInTerminal request. tui.Host is the interactive bubbletea-backed
// implementation; defaultLauncher below is the fallback used when a
// Server is constructed without one, e.g. in tests or a headless
// deployment with no terminal UI to hand the debuggee to.
type TerminalLauncher interface {
	Launch(id dapclient.DapId, cfg dapclient.RunDebugConfig) (dapclient.TermId, *int, error)
}

// TerminalCloser is implemented by launchers that need to tear a specific
// tab down when its session closes it (tui.Host does; the headless
// defaultLauncher doesn't need to).
type TerminalCloser interface {
	Close(termID dapclient.TermId)
}

// defaultLauncher execs the debuggee directly, with no visible terminal
// of its own - good enough to let the handshake complete and the adapter
// see a real pid, but with none of the stdin/stdout visibility an actual
// terminal tab provides.
type defaultLauncher struct {
	nextID uint64
}

func (d *defaultLauncher) Launch(_ dapclient.DapId, cfg dapclient.RunDebugConfig) (dapclient.TermId, *int, error) {
	if len(cfg.Args) == 0 {
		return 0, nil, fmt.Errorf("runInTerminal: no command to run")
	}

	cmd := exec.Command(cfg.Args[0], cfg.Args[1:]...)
	if cfg.Cwd != "" {
		cmd.Dir = cfg.Cwd
	}
	if err := cmd.Start(); err != nil {
		return 0, nil, fmt.Errorf("runInTerminal: %w", err)
	}

	pid := cmd.Process.Pid
	go cmd.Wait()

	termID := dapclient.TermId(atomic.AddUint64(&d.nextID, 1))
	return termID, &pid, nil
}

// SetTerminalLauncher overrides the terminal host runInTerminal requests
// are fulfilled through. Call before starting any session; the default is
// a headless direct-exec fallback.
func (s *Server) SetTerminalLauncher(l TerminalLauncher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminal = l
}

// BreakpointsResp implements dapclient.EditorNotifier.
func (s *Server) BreakpointsResp(id dapclient.DapId, path string, bps []dap.Breakpoint) {
	st := s.state(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.breakpoints = bps
}

// Stopped implements dapclient.EditorNotifier.
func (s *Server) Stopped(id dapclient.DapId, event dap.StoppedEventBody, frames map[int][]dap.StackFrame) {
	st := s.state(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	eventCopy := event
	st.lastStopped = &eventCopy
	st.lastFrames = frames
	st.continued = false
}

// Continued implements dapclient.EditorNotifier.
func (s *Server) Continued(id dapclient.DapId) {
	st := s.state(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.continued = true
	st.lastStopped = nil
	st.lastFrames = nil
}

// Terminated implements dapclient.EditorNotifier.
func (s *Server) Terminated(id dapclient.DapId) {
	st := s.state(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.terminated = true
}

// RunInTerminal implements dapclient.EditorNotifier: it asks the
// configured TerminalLauncher to run the debuggee and pushes the
// resulting (TermId, pid) back onto the session's handoff channel, which
// is what unblocks the session mainloop's runInTerminal host-request
// handler (dapclient.Session.handleHostRequest).
func (s *Server) RunInTerminal(id dapclient.DapId, cfg dapclient.RunDebugConfig) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	launcher := s.terminal
	s.mu.Unlock()
	if !ok {
		return
	}
	if launcher == nil {
		launcher = &defaultLauncher{}
	}

	st := s.state(id)
	st.mu.Lock()
	st.logs = append(st.logs, fmt.Sprintf("run_in_terminal: %v", cfg.Args))
	st.mu.Unlock()

	termID, pid, err := launcher.Launch(id, cfg)
	if err != nil {
		s.log.Errorf("session %d: runInTerminal launch failed: %v", id, err)
		return
	}

	sess.FulfillTerminal(uint64(termID), pid)
}

// TerminalClose implements dapclient.EditorNotifier. The mcp package has
// no terminal registry of its own; if the configured launcher needs to
// tear a tab down (tui.Host does), it is asked to.
func (s *Server) TerminalClose(termID dapclient.TermId) {
	s.mu.Lock()
	launcher := s.terminal
	s.mu.Unlock()

	if closer, ok := launcher.(TerminalCloser); ok {
		closer.Close(termID)
	}
	s.log.Infof("terminal %d closed", termID)
}

// Log implements dapclient.EditorNotifier, recording a session diagnostic
// alongside its polled event state.
func (s *Server) Log(id dapclient.DapId, msg string) {
	st := s.state(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.logs = append(st.logs, msg)
}
