// Package protocol implements the DAP wire runtime: a framed I/O pump over
// an adapter's stdio, sequence allocation, and request/response
// correlation. It knows nothing about debugging semantics - that lives in
// the dapclient package's session state machine.
package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/go-dap"
	"github.com/lapce-tools/dap-client/internal/logging"
)

// requestTimeout bounds a synchronous Request call. A late response that
// arrives after the timeout lands in the abandoned chanHandler's buffered
// channel, which nobody reads again.
const requestTimeout = 30 * time.Second

// ControlMessage is the sum type fed into the session mainloop. The
// concrete variants are defined in the dapclient package; protocol only
// needs to route values of this type onto a channel.
type ControlMessage interface {
	isControlMessage()
}

// HostRequest wraps a request the adapter sent to the host (e.g.
// runInTerminal).
type HostRequest struct {
	Request dap.RequestMessage
}

func (HostRequest) isControlMessage() {}

// HostEvent wraps an event the adapter emitted.
type HostEvent struct {
	Event dap.EventMessage
}

func (HostEvent) isControlMessage() {}

// Disconnected is posted by the reader goroutine when the adapter's stdio
// pipe is closed or errors out.
type Disconnected struct{}

func (Disconnected) isControlMessage() {}

// responseHandler is installed in the pending table when a request is
// enqueued, and invoked exactly once when a matching response arrives.
type responseHandler interface {
	invoke(resp dap.ResponseMessage)
}

// chanHandler is the synchronous rendezvous handler used by Request. Its
// channel has capacity 1 so a late invoke after the caller has already
// timed out never blocks.
type chanHandler struct {
	ch chan dap.ResponseMessage
}

func (h *chanHandler) invoke(resp dap.ResponseMessage) {
	select {
	case h.ch <- resp:
	default:
	}
}

// callbackHandler is the asynchronous handler used by RequestAsync.
type callbackHandler struct {
	fn func(dap.ResponseMessage)
}

func (h *callbackHandler) invoke(resp dap.ResponseMessage) {
	h.fn(resp)
}

// Handler declares no methods. Inbound traffic that isn't a direct
// response to a pending request is not pushed to a handler: the runtime
// posts it onto its control channel, and callers drain Control() from
// their own mainloop goroutine.
type Handler interface {
}

// Runtime is the protocol runtime described by the DAP client core: it
// allocates sequence numbers, multiplexes outbound requests, and fans
// inbound adapter traffic into host-requests, events, and pending-table
// matched responses.
//
// A Runtime is safe to share across goroutines; all exported methods may
// be called concurrently.
type Runtime struct {
	dapID string

	outbound chan dap.Message
	control  chan ControlMessage

	// TerminalHandoff receives exactly one (TermID, pid) tuple from the
	// host after RunInTerminal has been fulfilled.
	TerminalHandoff chan TerminalHandoff

	seqCounter uint64

	mu      sync.Mutex
	pending map[int]responseHandler

	log logging.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// TerminalHandoff is the tuple the host pushes back after launching the
// debuggee in response to a runInTerminal request. TermID is opaque to the
// protocol layer; the session layer defines what it means.
type TerminalHandoff struct {
	TermID uint64
	Pid    *int
}

// NewRuntime creates a Runtime for the session identified by dapID. The
// outbound and control channels are unbounded-in-practice (buffered
// generously) since neither the writer nor the mainloop should ever be
// allowed to apply backpressure that stalls the reader.
func NewRuntime(dapID string) *Runtime {
	return &Runtime{
		dapID:           dapID,
		outbound:        make(chan dap.Message, 64),
		control:         make(chan ControlMessage, 64),
		TerminalHandoff: make(chan TerminalHandoff, 1),
		pending:         make(map[int]responseHandler),
		log:             logging.For(dapID),
		closed:          make(chan struct{}),
	}
}

// DapID returns the stable identifier this runtime was created with.
func (rt *Runtime) DapID() string { return rt.dapID }

// NextSeq allocates the next strictly-increasing sequence number. Safe for
// concurrent use.
func (rt *Runtime) NextSeq() int {
	return int(atomic.AddUint64(&rt.seqCounter, 1))
}

// Outbound returns the channel the writer goroutine consumes from.
func (rt *Runtime) Outbound() <-chan dap.Message { return rt.outbound }

// Control returns the channel the session mainloop consumes from.
func (rt *Runtime) Control() <-chan ControlMessage { return rt.control }

// postControl enqueues a control message for the mainloop. It never
// blocks indefinitely on a closed runtime.
func (rt *Runtime) postControl(msg ControlMessage) {
	select {
	case rt.control <- msg:
	case <-rt.closed:
	}
}

// Disconnected signals that the reader detected adapter exit. It is
// exported so the supervisor's reader goroutine can call it directly.
func (rt *Runtime) Disconnected() {
	rt.postControl(Disconnected{})
}

// enqueueOutbound hands a payload to the writer. Called after the pending
// table insert for requests, or directly for fire-and-forget responses.
func (rt *Runtime) enqueueOutbound(msg dap.Message) {
	select {
	case rt.outbound <- msg:
	case <-rt.closed:
	}
}

// InjectInitialized pushes a synthetic initialized event onto the
// outbound-to-adapter... no: onto the *inbound* control path, to unblock
// anything waiting on initialization after the adapter has died. This
// mirrors the reader's behavior on read failure (spec: "injects a
// synthetic Initialized(None) event").
func (rt *Runtime) InjectInitialized() {
	rt.postControl(HostEvent{Event: &dap.InitializedEvent{
		Event: dap.Event{
			ProtocolMessage: dap.ProtocolMessage{Type: "event"},
			Event:           "initialized",
		},
	}})
}

// install registers a pending handler under seq. It must be called before
// the request is written to the adapter.
func (rt *Runtime) install(seq int, h responseHandler) {
	rt.mu.Lock()
	rt.pending[seq] = h
	rt.mu.Unlock()
}

// resolve removes and returns the handler for seq, if any. A miss is a
// silent no-op per spec (unknown request_seq is tolerated).
func (rt *Runtime) resolve(seq int) (responseHandler, bool) {
	rt.mu.Lock()
	h, ok := rt.pending[seq]
	if ok {
		delete(rt.pending, seq)
	}
	rt.mu.Unlock()
	return h, ok
}

// Shutdown drops the pending table and closes the runtime's internal
// done channel, which unblocks any goroutine parked in postControl or
// enqueueOutbound. It does not close Outbound()/Control(); callers own
// those channels' lifetime (closing Outbound terminates the writer).
func (rt *Runtime) Shutdown() {
	rt.closeOnce.Do(func() {
		close(rt.closed)
		rt.mu.Lock()
		rt.pending = make(map[int]responseHandler)
		rt.mu.Unlock()
	})
}

// HandleServerMessage decodes one framed JSON payload from the adapter and
// fans it out. Malformed payloads are logged and dropped - adapters
// occasionally interleave non-conforming debug output on the same stream,
// and a single bad frame must never kill the session.
func (rt *Runtime) HandleServerMessage(raw string) {
	msg, err := dap.DecodeProtocolMessage([]byte(raw))
	if err != nil {
		rt.log.Debugf("dropping malformed DAP payload: %v", err)
		return
	}

	switch m := msg.(type) {
	case dap.ResponseMessage:
		resp := m.GetResponse()
		h, ok := rt.resolve(resp.RequestSeq)
		if !ok {
			rt.log.Debugf("no pending request for request_seq=%d "+
				"(command=%s), dropping response", resp.RequestSeq,
				resp.Command)
			return
		}
		h.invoke(m)
	case dap.EventMessage:
		rt.postControl(HostEvent{Event: m})
	case dap.RequestMessage:
		rt.postControl(HostRequest{Request: m})
	default:
		rt.log.Debugf("unhandled DAP message type %T", msg)
	}
}

// Request issues req synchronously and waits up to 30 seconds for the
// matching response. req must already have Seq stamped via NextSeq (the
// typed command wrappers in commands.go do this).
func (rt *Runtime) Request(seq int, req dap.Message) (dap.ResponseMessage, error) {
	ch := make(chan dap.ResponseMessage, 1)
	rt.install(seq, &chanHandler{ch: ch})
	rt.enqueueOutbound(req)

	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(requestTimeout):
		// Deliberately do not remove the pending entry: a late
		// response is a safe no-op (invoke on a full buffered
		// channel that nobody reads again is simply discarded).
		return nil, fmt.Errorf("timed out waiting for response to "+
			"seq=%d command=%s", seq, commandOf(req))
	case <-rt.closed:
		return nil, fmt.Errorf("runtime shut down while awaiting "+
			"response to seq=%d", seq)
	}
}

// RequestAsync issues req and invokes fn exactly once when the matching
// response arrives. fn runs on whatever goroutine calls
// HandleServerMessage, so it must not block.
func (rt *Runtime) RequestAsync(seq int, req dap.Message, fn func(dap.ResponseMessage)) {
	rt.install(seq, &callbackHandler{fn: fn})
	rt.enqueueOutbound(req)
}

// RespondNotImplemented answers a host request the session mainloop
// doesn't handle with success=false.
func (rt *Runtime) RespondNotImplemented(req dap.RequestMessage) {
	base := req.GetRequest()
	rt.enqueueOutbound(&dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  rt.NextSeq(),
			Type: "response",
		},
		RequestSeq: base.Seq,
		Success:    false,
		Command:    base.Command,
		Message:    "not implemented",
	})
}

// RespondSuccess answers a host request with an arbitrary success body.
func (rt *Runtime) RespondSuccess(req dap.RequestMessage, body dap.Message) {
	rt.enqueueOutbound(body)
}

func commandOf(msg dap.Message) string {
	if rm, ok := msg.(dap.RequestMessage); ok {
		return rm.GetRequest().Command
	}
	return "?"
}

// RunReader drains framed JSON payloads from r and feeds them to
// HandleServerMessage until read failure, at which point it performs the
// disconnect sequence: inject a synthetic initialized event, log the
// adapter name, and signal Disconnected.
//
// Framing is read independently of go-dap's decode step (readFrame below),
// the same way the host's LSP transport reads Content-Length frames before
// handing the body off for JSON decoding - HandleServerMessage is what
// calls dap.DecodeProtocolMessage on the resulting bytes.
func (rt *Runtime) RunReader(r io.Reader, adapterName string) {
	reader := bufio.NewReader(r)
	for {
		body, err := readFrame(reader)
		if err != nil {
			if err != io.EOF {
				rt.log.Errorf("adapter %s read error: %v", adapterName, err)
			}
			rt.InjectInitialized()
			rt.log.Errorf("dap adapter %s stopped", adapterName)
			rt.Disconnected()
			return
		}
		rt.HandleServerMessage(string(body))
	}
}

// readFrame reads one Content-Length-delimited DAP frame: a sequence of
// "Header: value\r\n" lines terminated by a blank line, followed by exactly
// Content-Length bytes of JSON body. go-dap doesn't expose this step on its
// own (ReadProtocolMessage fuses it with decoding), so it's reproduced here
// to keep reading and decoding as separate stages.
func readFrame(r *bufio.Reader) ([]byte, error) {
	contentLength := -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "Content-Length:") {
			v := strings.TrimSpace(strings.TrimPrefix(line, "Content-Length:"))
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("malformed Content-Length header %q: %w", v, err)
			}
			contentLength = n
		}
	}
	if contentLength < 0 {
		return nil, fmt.Errorf("dap frame missing Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// RunWriter drains Outbound() and writes each payload as a
// Content-Length-framed JSON message to w. It exits when Outbound is
// closed. Serialization/write errors are logged and dropped - a single
// bad payload must never crash the pump.
func (rt *Runtime) RunWriter(w io.Writer) {
	for msg := range rt.outbound {
		if err := dap.WriteProtocolMessage(w, msg); err != nil {
			rt.log.Errorf("failed to write dap message: %v", err)
			continue
		}
	}
}

// CloseOutbound closes the outbound channel, which stops RunWriter's
// range loop. Call this once, after the session mainloop has exited.
func (rt *Runtime) CloseOutbound() {
	close(rt.outbound)
}
