package delveadapter

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stringReadCloser struct {
	io.Reader
}

func (stringReadCloser) Close() error { return nil }

func newLines(s string) io.ReadCloser {
	return stringReadCloser{strings.NewReader(s)}
}

func TestScanListenAddrFindsBanner(t *testing.T) {
	r := newLines("some startup noise\nDAP server listening at: 127.0.0.1:54321\nmore noise\n")
	addr, err := scanListenAddr(r, nil)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:54321", addr)
}

func TestScanListenAddrErrorsOnEOFWithoutBanner(t *testing.T) {
	r := newLines("nothing useful here\n")
	_, err := scanListenAddr(r, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "exited before printing")
}

func TestScanListenAddrRespectsDone(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	done := make(chan struct{})
	close(done)

	_, err := scanListenAddr(pr, done)
	require.Error(t, err)
	require.Contains(t, err.Error(), "timed out")
}

func TestSpawnFailsFastWhenDlvMissing(t *testing.T) {
	c := &Connector{
		DlvPath: "/nonexistent/path/to/dlv-binary-that-does-not-exist",
		Launch:  RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	}
	_, err := c.Spawn("dap-test")
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to launch dlv dap")
}
