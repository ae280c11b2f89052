package dapclient

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"

	"github.com/lapce-tools/dap-client/internal/logging"
	dapproto "github.com/lapce-tools/dap-client/protocol"
)

// fakeNotifier records every EditorNotifier call it receives, guarded by a
// mutex since calls may arrive off the session mainloop goroutine.
type fakeNotifier struct {
	mu sync.Mutex

	breakpoints []breakpointsCall
	stopped     []stoppedCall
	continued   int
	terminated  int
	runTerminal []RunDebugConfig
	closedTerm  []TermId
	logs        []string
}

type breakpointsCall struct {
	id   DapId
	path string
	bps  []dap.Breakpoint
}

type stoppedCall struct {
	id          DapId
	event       dap.StoppedEventBody
	stackFrames map[int][]dap.StackFrame
}

func (f *fakeNotifier) BreakpointsResp(id DapId, path string, bps []dap.Breakpoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.breakpoints = append(f.breakpoints, breakpointsCall{id, path, bps})
}

func (f *fakeNotifier) Stopped(id DapId, event dap.StoppedEventBody, frames map[int][]dap.StackFrame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, stoppedCall{id, event, frames})
}

func (f *fakeNotifier) Continued(id DapId) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.continued++
}

func (f *fakeNotifier) Terminated(id DapId) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated++
}

func (f *fakeNotifier) RunInTerminal(id DapId, cfg RunDebugConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runTerminal = append(f.runTerminal, cfg)
}

func (f *fakeNotifier) TerminalClose(termID TermId) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedTerm = append(f.closedTerm, termID)
}

func (f *fakeNotifier) Log(id DapId, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, msg)
}

func (f *fakeNotifier) breakpointsCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.breakpoints)
}

func (f *fakeNotifier) stoppedCalls() []stoppedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stoppedCall, len(f.stopped))
	copy(out, f.stopped)
	return out
}

// newTestSession builds a Session wired to a bare Runtime, bypassing
// process spawn and the initialize handshake - the unit under test is the
// session state machine, not the supervisor (that's protocol's job, and
// is covered by protocol's own tests).
func newTestSession(notifier EditorNotifier, caps dap.Capabilities) (*Session, *dapproto.Runtime) {
	rt := dapproto.NewRuntime("test-session")
	s := &Session{
		id:           1,
		notifier:     notifier,
		rt:           rt,
		config:       RunDebugConfig{Name: "test", Program: "/bin/testprogram"},
		breakpoints:  map[string][]BreakpointLocation{"/f.go": {{Line: 10}}},
		capabilities: &caps,
		log:          logging.For("test-session"),
		mainloopDone: make(chan struct{}),
	}
	return s, rt
}

// deliverToRuntime hands msg to the runtime as if it had just arrived from
// the adapter - used for both events (routed to Control()) and responses
// (routed to the pending table by request_seq).
func deliverToRuntime(t *testing.T, rt *dapproto.Runtime, msg dap.Message) {
	t.Helper()
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	rt.HandleServerMessage(string(b))
}

// respondTo builds a bare success response matching req's command and
// request_seq.
func respondTo(base *dap.Request) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Type: "response"},
		RequestSeq:      base.Seq,
		Success:         true,
		Command:         base.Command,
	}
}

// runFakeAdapter drains rt.Outbound() and answers each request with a
// canned, command-keyed response until the returned stop func is called.
func runFakeAdapter(t *testing.T, rt *dapproto.Runtime) (stop func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-rt.Outbound():
				if !ok {
					return
				}
				req, ok := msg.(dap.RequestMessage)
				if !ok {
					continue
				}
				base := req.GetRequest()
				var resp dap.Message
				switch base.Command {
				case "setBreakpoints":
					resp = &dap.SetBreakpointsResponse{
						Response: respondTo(base),
						Body: dap.SetBreakpointsResponseBody{
							Breakpoints: []dap.Breakpoint{{Id: 1, Verified: true, Line: 10}},
						},
					}
				case "configurationDone":
					resp = &dap.ConfigurationDoneResponse{Response: respondTo(base)}
				case "threads":
					resp = &dap.ThreadsResponse{
						Response: respondTo(base),
						Body:     dap.ThreadsResponseBody{Threads: []dap.Thread{{Id: 1, Name: "main"}}},
					}
				case "stackTrace":
					resp = &dap.StackTraceResponse{
						Response: respondTo(base),
						Body: dap.StackTraceResponseBody{
							StackFrames: []dap.StackFrame{{Id: 1, Name: "main.main", Line: 42}},
						},
					}
				case "launch":
					resp = &dap.LaunchResponse{Response: respondTo(base)}
				case "terminate":
					resp = &dap.TerminateResponse{Response: respondTo(base)}
				case "disconnect":
					resp = &dap.DisconnectResponse{Response: respondTo(base)}
				default:
					continue
				}
				deliverToRuntime(t, rt, resp)
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func TestOnInitializedSetsBreakpoints(t *testing.T) {
	notifier := &fakeNotifier{}
	s, rt := newTestSession(notifier, dap.Capabilities{})
	stop := runFakeAdapter(t, rt)
	defer stop()

	s.onInitialized()

	require.Equal(t, 1, notifier.breakpointsCount())
	require.Equal(t, "/f.go", notifier.breakpoints[0].path)
	require.Len(t, notifier.breakpoints[0].bps, 1)
}

func TestOnStoppedAllThreadsStoppedFetchesStackFrames(t *testing.T) {
	notifier := &fakeNotifier{}
	s, rt := newTestSession(notifier, dap.Capabilities{})
	stop := runFakeAdapter(t, rt)
	defer stop()

	s.onStopped(dap.StoppedEventBody{
		Reason:            "breakpoint",
		ThreadId:          1,
		AllThreadsStopped: true,
	})

	calls := notifier.stoppedCalls()
	require.Len(t, calls, 1)
	require.Contains(t, calls[0].stackFrames, 1)
	require.Equal(t, "main.main", calls[0].stackFrames[1][0].Name)
}

func TestOnStoppedSingleThreadSkipsStackFetch(t *testing.T) {
	notifier := &fakeNotifier{}
	s, rt := newTestSession(notifier, dap.Capabilities{})
	stop := runFakeAdapter(t, rt)
	defer stop()

	s.onStopped(dap.StoppedEventBody{
		Reason:            "step",
		ThreadId:          1,
		AllThreadsStopped: false,
	})

	calls := notifier.stoppedCalls()
	require.Len(t, calls, 1)
	require.Empty(t, calls[0].stackFrames)
}

func TestHandleHostRequestRunInTerminal(t *testing.T) {
	notifier := &fakeNotifier{}
	s, rt := newTestSession(notifier, dap.Capabilities{})

	pid := 4242
	go func() {
		rt.TerminalHandoff <- dapproto.TerminalHandoff{TermID: 7, Pid: &pid}
	}()

	req := &dap.RunInTerminalRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: 3, Type: "request"},
			Command:         "runInTerminal",
		},
		Arguments: dap.RunInTerminalRequestArguments{
			Args: []string{"/bin/testprogram", "--flag"},
			Cwd:  "/tmp",
		},
	}
	s.handleHostRequest(req)

	require.Len(t, notifier.runTerminal, 1)
	require.Equal(t, []string{"/bin/testprogram", "--flag"}, notifier.runTerminal[0].Args)
	require.Equal(t, TermId(7), *s.termID)

	select {
	case msg := <-rt.Outbound():
		resp, ok := msg.(*dap.RunInTerminalResponse)
		require.True(t, ok)
		require.True(t, resp.Success)
		require.Equal(t, 4242, resp.Body.ProcessId)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for runInTerminal response")
	}
}

func TestHandleHostRequestUnknownCommandIsNotImplemented(t *testing.T) {
	notifier := &fakeNotifier{}
	s, _ := newTestSession(notifier, dap.Capabilities{})

	req := &dap.RestartRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: 9, Type: "request"},
			Command:         "restart",
		},
	}
	s.handleHostRequest(req)

	select {
	case msg := <-s.rt.Outbound():
		resp, ok := msg.(*dap.Response)
		require.True(t, ok)
		require.False(t, resp.Success)
		require.Equal(t, 9, resp.RequestSeq)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for not-implemented response")
	}
}

func TestShouldCommitRestart(t *testing.T) {
	cases := []struct {
		name              string
		restarted         bool
		disconnected      bool
		supportsTerminate bool
		want              bool
	}{
		{"no restart requested", false, false, true, false},
		{"terminate supported, still connected", true, false, true, true},
		{"terminate supported, disconnected", true, true, true, true},
		{"terminate unsupported, still connected", true, false, false, false},
		{"terminate unsupported, disconnected", true, true, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := shouldCommitRestart(tc.restarted, tc.disconnected, tc.supportsTerminate)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCheckRestartCommitsImmediatelyWhenTerminateSupported(t *testing.T) {
	notifier := &fakeNotifier{}
	s, rt := newTestSession(notifier, dap.Capabilities{SupportsTerminateRequest: true})
	stop := runFakeAdapter(t, rt)
	defer stop()

	s.mu.Lock()
	s.restarted = true
	s.terminated = true
	s.mu.Unlock()

	s.checkRestart()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.restarted && !s.terminated
	}, time.Second, 10*time.Millisecond)
}

func TestCheckRestartNoOpUntilRestartRequested(t *testing.T) {
	notifier := &fakeNotifier{}
	s, _ := newTestSession(notifier, dap.Capabilities{SupportsTerminateRequest: true})

	s.checkRestart()

	s.mu.Lock()
	defer s.mu.Unlock()
	require.False(t, s.restarted)
}
