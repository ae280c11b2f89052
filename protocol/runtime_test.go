package protocol

import (
	"bufio"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"
)

func TestNextSeqMonotonic(t *testing.T) {
	rt := NewRuntime("session-1")

	const n = 200
	seqs := make([]int, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			seqs[i] = rt.NextSeq()
		}()
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for _, s := range seqs {
		require.False(t, seen[s], "seq %d allocated twice", s)
		require.Greater(t, s, 0)
		seen[s] = true
	}
	require.Len(t, seen, n)
}

func TestHandleServerMessageMalformedIsDropped(t *testing.T) {
	rt := NewRuntime("session-1")
	require.NotPanics(t, func() {
		rt.HandleServerMessage("not json at all")
	})
}

func TestHandleServerMessageUnknownRequestSeqIsDropped(t *testing.T) {
	rt := NewRuntime("session-1")

	resp := &dap.InitializeResponse{
		Response: dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Seq: 9, Type: "response"},
			RequestSeq:      999,
			Success:         true,
			Command:         "initialize",
		},
	}
	raw := encodeForTest(t, resp)

	require.NotPanics(t, func() {
		rt.HandleServerMessage(raw)
	})
}

func TestHandleServerMessageRoutesEventsAndRequestsToControl(t *testing.T) {
	rt := NewRuntime("session-1")

	event := &dap.StoppedEvent{
		Event: dap.Event{
			ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "event"},
			Event:           "stopped",
		},
		Body: dap.StoppedEventBody{Reason: "breakpoint", ThreadId: 1},
	}
	rt.HandleServerMessage(encodeForTest(t, event))

	select {
	case ctrl := <-rt.Control():
		hostEvent, ok := ctrl.(HostEvent)
		require.True(t, ok)
		require.Equal(t, "stopped", hostEvent.Event.GetEvent().Event)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event on control channel")
	}

	runInTerminal := &dap.RunInTerminalRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: 2, Type: "request"},
			Command:         "runInTerminal",
		},
	}
	rt.HandleServerMessage(encodeForTest(t, runInTerminal))

	select {
	case ctrl := <-rt.Control():
		hostReq, ok := ctrl.(HostRequest)
		require.True(t, ok)
		require.Equal(t, "runInTerminal", hostReq.Request.GetRequest().Command)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for host request on control channel")
	}
}

func TestDisconnectedSignalsControlChannel(t *testing.T) {
	rt := NewRuntime("session-1")
	rt.Disconnected()

	select {
	case ctrl := <-rt.Control():
		_, ok := ctrl.(Disconnected)
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Disconnected on control channel")
	}
}

func TestRespondNotImplementedSendsFailureResponse(t *testing.T) {
	rt := NewRuntime("session-1")

	req := &dap.RunInTerminalRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: 7, Type: "request"},
			Command:         "runInTerminal",
		},
	}
	rt.RespondNotImplemented(req)

	select {
	case msg := <-rt.Outbound():
		resp, ok := msg.(*dap.Response)
		require.True(t, ok)
		require.False(t, resp.Success)
		require.Equal(t, 7, resp.RequestSeq)
		require.Equal(t, "runInTerminal", resp.Command)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for not-implemented response")
	}
}

// TestRequestResponseRoundTrip wires a Runtime's writer/reader pumps to a
// hand-rolled fake adapter over in-memory pipes and confirms a full
// request/response cycle resolves the pending table entry and returns the
// expected typed response.
func TestRequestResponseRoundTrip(t *testing.T) {
	rt := NewRuntime("session-1")

	hostReadsFromAdapter, adapterWritesToHost := io.Pipe()
	adapterReadsFromHost, hostWritesToAdapter := io.Pipe()

	go rt.RunWriter(hostWritesToAdapter)
	go rt.RunReader(hostReadsFromAdapter, "fake-adapter")

	go func() {
		reader := bufio.NewReader(adapterReadsFromHost)
		body, err := readFrame(reader)
		if err != nil {
			return
		}
		msg, err := dap.DecodeProtocolMessage(body)
		if err != nil {
			return
		}
		req, ok := msg.(*dap.InitializeRequest)
		if !ok {
			return
		}
		resp := &dap.InitializeResponse{
			Response: dap.Response{
				ProtocolMessage: dap.ProtocolMessage{Seq: 100, Type: "response"},
				RequestSeq:      req.Seq,
				Success:         true,
				Command:         "initialize",
			},
			Body: dap.Capabilities{SupportsConfigurationDoneRequest: true},
		}
		_ = dap.WriteProtocolMessage(adapterWritesToHost, resp)
	}()

	done := make(chan struct{})
	var resp *dap.InitializeResponse
	var err error
	go func() {
		resp, err = Initialize(rt, InitializeArgs{
			ClientID:   "dap-client",
			ClientName: "dap-client",
		})
		close(done)
	}()

	select {
	case <-done:
		require.NoError(t, err)
		require.True(t, resp.Body.SupportsConfigurationDoneRequest)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Initialize to complete")
	}
}

func encodeForTest(t *testing.T, msg dap.Message) string {
	t.Helper()
	var buf writeBuffer
	require.NoError(t, dap.WriteProtocolMessage(&buf, msg))

	reader := bufio.NewReader(&buf)
	body, err := readFrame(reader)
	require.NoError(t, err)
	return string(body)
}

// writeBuffer is a minimal io.Writer backed by an in-memory slice, used to
// capture dap.WriteProtocolMessage's framed output for re-parsing in tests.
type writeBuffer struct {
	data []byte
}

func (b *writeBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *writeBuffer) Read(p []byte) (int, error) {
	if len(b.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, b.data)
	b.data = b.data[n:]
	return n, nil
}
