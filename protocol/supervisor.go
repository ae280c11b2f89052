package protocol

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
)

// AdapterDescriptor is everything needed to spawn a debug adapter over
// stdio: the executable, its arguments, and the working directory the
// adapter process is started in (empty means the host's own).
type AdapterDescriptor struct {
	Program string
	Args    []string
	Cwd     string
}

// Process wraps a running debug adapter transport and the goroutines pumping
// it through a Runtime. Stop tears down the transport and waits for both
// pump goroutines to return. The transport may be a child process's stdio
// (Spawn) or an already-connected stream like a TCP socket
// (NewConnProcess) - the runtime cannot tell the two apart.
type Process struct {
	Runtime *Runtime

	closeFn func() error
	done    chan struct{}
}

// Wire starts the writer/reader pumps of a fresh Runtime against an
// arbitrary transport and returns the resulting Process. closeFn tears the
// transport down; it is called at most once, from Stop. This is the
// building block Spawn and NewConnProcess are written in terms of, and is
// exported so other packages (delveadapter) can wire transports that need
// more than a single Close call torn down - e.g. a TCP connection plus the
// subprocess listening on the other end of it.
func Wire(w io.Writer, r io.Reader, closeFn func() error, dapID, label string) *Process {
	rt := NewRuntime(dapID)
	p := &Process{
		Runtime: rt,
		closeFn: closeFn,
		done:    make(chan struct{}),
	}

	go rt.RunWriter(w)
	go func() {
		rt.RunReader(r, label)
		close(p.done)
	}()

	return p
}

// Spawn starts desc.Program as a child process with piped stdin, stdout and
// stderr, and wires a new Runtime's writer/reader pumps to stdin/stdout.
// The adapter's stderr is not part of the protocol stream; it is drained a
// line at a time into the runtime's log so adapter diagnostics land in the
// session log rather than silently vanishing.
func Spawn(desc AdapterDescriptor, dapID string) (*Process, error) {
	cmd := exec.Command(desc.Program, desc.Args...)
	if desc.Cwd != "" {
		cmd.Dir = desc.Cwd
	}
	applyPlatformAttrs(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("could not get adapter stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("could not get adapter stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("could not get adapter stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("could not start adapter %s: %w", desc.Program, err)
	}

	closeFn := func() error {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return cmd.Wait()
	}

	p := Wire(stdin, stdout, closeFn, dapID, desc.Program)
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			p.Runtime.log.Debugf("adapter %s stderr: %s", desc.Program, scanner.Text())
		}
	}()
	return p, nil
}

// NewConnProcess wires an already-connected adapter transport - typically a
// TCP connection to a `dlv dap` server - into a Runtime the same way Spawn
// wires a child process's stdio. Closing conn is the only teardown action;
// whatever process is listening on the other end is the caller's concern.
func NewConnProcess(conn io.ReadWriteCloser, dapID, label string) *Process {
	return Wire(conn, conn, conn.Close, dapID, label)
}

// Wait blocks until the reader pump observes adapter exit (stdio closed or
// read error), which is the same signal the session mainloop reacts to via
// Runtime.Control()'s Disconnected message.
func (p *Process) Wait() { <-p.done }

// Stop tears down the adapter transport and closes the runtime's outbound
// channel, unblocking RunWriter. Safe to call after the adapter has already
// exited on its own.
func (p *Process) Stop() {
	p.Runtime.CloseOutbound()
	if p.closeFn != nil {
		_ = p.closeFn()
	}
}
