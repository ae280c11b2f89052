package delveadapter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strings"
	"time"

	dapproto "github.com/lapce-tools/dap-client/protocol"
)

const listeningPrefix = "DAP server listening at: "

// Connector launches `dlv dap` as a subprocess, scrapes its listening
// address off stdout, and dials it over TCP, wiring the connection in
// behind protocol.Wire so the resulting Process looks like any other
// adapter transport to the rest of the runtime (the session mainloop,
// the pending-request table, the writer and reader pumps) cannot tell
// it apart from a plain stdio child.
type Connector struct {
	// DlvPath overrides exec.LookPath("dlv") when set.
	DlvPath string

	// ExtraArgs are appended after "dap", e.g. "--log" or
	// "--check-go-version=false".
	ExtraArgs []string

	// AddrTimeout bounds how long Spawn waits for dlv to print its
	// listening address. Zero means 5 seconds.
	AddrTimeout time.Duration

	// Launch and Dial override the retry policy for starting dlv and
	// for connecting to the address it printed. Zero values fall back
	// to DefaultLaunchRetry / DefaultDialRetry.
	Launch RetryConfig
	Dial   RetryConfig
}

// NewConnector returns a Connector configured with the package's default
// retry policies.
func NewConnector() *Connector {
	return &Connector{Launch: DefaultLaunchRetry, Dial: DefaultDialRetry}
}

// Spawn launches a fresh `dlv dap` process, connects to it over TCP, and
// wires the connection into a Runtime under dapID, retrying the whole
// launch-then-dial sequence on failure. Its signature matches the spawn
// func dapclient.NewSessionWithSpawner expects, so a Session can drive a
// real Delve adapter with:
//
//	c := delveadapter.NewConnector()
//	s := dapclient.NewSessionWithSpawner(id, "dlv dap", c.Spawn, cfg, bps, notifier)
func (c *Connector) Spawn(dapID string) (*dapproto.Process, error) {
	launch := c.Launch
	if launch.MaxAttempts == 0 {
		launch = DefaultLaunchRetry
	}

	var proc *dapproto.Process
	err := RetryWithBackoff(context.Background(), launch, func() error {
		p, err := c.spawnOnce(dapID)
		if err != nil {
			return err
		}
		proc = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch dlv dap after retries: %w", err)
	}
	return proc, nil
}

// spawnOnce performs a single launch-dial attempt: start dlv, read its
// listen address, dial it. Any failure along the way kills the dlv process
// it started before returning, so a retried attempt never leaks one.
func (c *Connector) spawnOnce(dapID string) (*dapproto.Process, error) {
	dlvPath := c.DlvPath
	if dlvPath == "" {
		found, err := exec.LookPath("dlv")
		if err != nil {
			return nil, fmt.Errorf("could not find 'dlv' executable: %w", err)
		}
		dlvPath = found
	}

	args := append([]string{"dap"}, c.ExtraArgs...)
	cmd := exec.Command(dlvPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("could not get dlv stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("could not start dlv process: %w", err)
	}
	killDlv := func() { _ = cmd.Process.Kill() }

	timeout := c.AddrTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	addr, err := scanListenAddr(stdout, ctx.Done())
	if err != nil {
		killDlv()
		return nil, err
	}

	dial := c.Dial
	if dial.MaxAttempts == 0 {
		dial = DefaultDialRetry
	}

	var conn net.Conn
	dialErr := RetryWithBackoff(ctx, dial, func() error {
		var dialErr error
		conn, dialErr = net.Dial("tcp", addr)
		return dialErr
	})
	if dialErr != nil {
		killDlv()
		return nil, fmt.Errorf("could not connect to dlv dap server at %s: %w", addr, dialErr)
	}

	closeFn := func() error {
		connErr := conn.Close()
		killDlv()
		waitErr := cmd.Wait()
		if connErr != nil {
			return connErr
		}
		return waitErr
	}
	return dapproto.Wire(conn, conn, closeFn, dapID, "dlv dap"), nil
}

// scanListenAddr reads stdout line by line for dlv's
// "DAP server listening at: <addr>" banner, stopping early if done fires.
func scanListenAddr(stdout io.ReadCloser, done <-chan struct{}) (string, error) {
	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, listeningPrefix) {
				addrCh <- strings.TrimPrefix(line, listeningPrefix)
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- fmt.Errorf("error reading dlv stdout: %w", err)
			return
		}
		errCh <- fmt.Errorf("dlv exited before printing a listen address")
	}()

	select {
	case addr := <-addrCh:
		return addr, nil
	case err := <-errCh:
		return "", err
	case <-done:
		return "", fmt.Errorf("timed out waiting for dlv dap address")
	}
}
