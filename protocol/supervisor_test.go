package protocol

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestNewConnProcessClosesConnOnStop verifies Stop tears the transport down
// through the same path Spawn uses, just with a net.Conn instead of a
// child process's stdio pipes.
func TestNewConnProcessClosesConnOnStop(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	p := NewConnProcess(client, "dap-test", "test-conn")

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()

	p.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reader pump to observe closed connection")
	}

	_, err := server.Write([]byte("x"))
	require.Error(t, err)
}

// TestWireStopInvokesCloseFnOnce confirms Wire's closeFn is the sole
// teardown hook and runs exactly once even if Stop raced the transport's
// own EOF.
func TestWireStopInvokesCloseFnOnce(t *testing.T) {
	r, w := io.Pipe()
	closes := 0
	closeFn := func() error {
		closes++
		return w.Close()
	}

	p := Wire(io.Discard, r, closeFn, "dap-test", "test-pipe")
	p.Stop()
	p.Wait()

	require.Equal(t, 1, closes)
}
