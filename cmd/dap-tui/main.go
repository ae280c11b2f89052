// Command dap-tui drives a single debug session directly from the
// terminal, with no editor or MCP layer in front of it: it spawns the
// adapter, launches the debuggee in the bundled terminal dashboard, and
// prints session events to stderr as they arrive.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/go-dap"

	"github.com/lapce-tools/dap-client/dapclient"
	"github.com/lapce-tools/dap-client/delveadapter"
	"github.com/lapce-tools/dap-client/internal/logging"
	"github.com/lapce-tools/dap-client/tui"
)

func main() {
	adapter := flag.String("adapter", "dlv", `debug adapter to run; only "dlv"/"delve" (the bundled connector) is supported`)
	program := flag.String("program", "", "debuggee program or package to run under the debugger")
	cwd := flag.String("cwd", "", "working directory for the debuggee")
	breakArg := flag.String("break", "", "comma-separated file:line breakpoints, e.g. main.go:10,util.go:20")
	flag.Parse()

	if *program == "" {
		fmt.Fprintln(os.Stderr, "usage: dap-tui -program <path> [-adapter dlv] [-break file:line,...]")
		os.Exit(2)
	}

	if _, err := logging.InitFileLogger(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not start file logger: %v\n", err)
	}
	log := logging.For("dap-tui")

	host := tui.NewHost()
	notifier := &stderrNotifier{host: host, log: log}

	breakpoints, err := parseBreakpoints(*breakArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -break: %v\n", err)
		os.Exit(2)
	}

	cfg := dapclient.RunDebugConfig{
		Name:          *program,
		Program:       *program,
		Args:          []string{*program},
		Cwd:           *cwd,
		RunInTerminal: true,
	}

	var sess *dapclient.Session
	switch strings.ToLower(*adapter) {
	case "dlv", "delve":
		connector := delveadapter.NewConnector()
		sess = dapclient.NewSessionWithSpawner(1, "dlv dap", connector.Spawn, cfg, breakpoints, notifier)
	default:
		fmt.Fprintf(os.Stderr, "adapter %q is not a bundled connector; run it under dap-client's MCP surface instead\n", *adapter)
		os.Exit(2)
	}
	notifier.sess = sess

	if err := sess.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start session: %v\n", err)
		os.Exit(1)
	}

	go func() {
		if _, err := sess.Launch(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "launch failed: %v\n", err)
		}
	}()

	if err := host.Run(); err != nil {
		log.Errorf("terminal dashboard exited: %v", err)
	}

	sess.Shutdown()
}

func parseBreakpoints(spec string) (map[string][]dapclient.BreakpointLocation, error) {
	out := make(map[string][]dapclient.BreakpointLocation)
	if spec == "" {
		return out, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		idx := strings.LastIndex(entry, ":")
		if idx < 0 {
			return nil, fmt.Errorf("%q is not file:line", entry)
		}
		file, lineStr := entry[:idx], entry[idx+1:]
		var line int
		if _, err := fmt.Sscanf(lineStr, "%d", &line); err != nil {
			return nil, fmt.Errorf("%q has a non-numeric line: %w", entry, err)
		}
		out[file] = append(out[file], dapclient.BreakpointLocation{Line: line})
	}
	return out, nil
}

// stderrNotifier is the EditorNotifier for a headless single-session run:
// it prints adapter events to stderr and forwards runInTerminal/terminal
// close requests to the bundled dashboard host.
type stderrNotifier struct {
	host *tui.Host
	log  logging.Logger
	sess *dapclient.Session
}

func (n *stderrNotifier) BreakpointsResp(id dapclient.DapId, path string, bps []dap.Breakpoint) {
	verified := 0
	for _, bp := range bps {
		if bp.Verified {
			verified++
		}
	}
	fmt.Fprintf(os.Stderr, "breakpoints set in %s: %d/%d verified\n", path, verified, len(bps))
}

func (n *stderrNotifier) Stopped(id dapclient.DapId, event dap.StoppedEventBody, frames map[int][]dap.StackFrame) {
	fmt.Fprintf(os.Stderr, "stopped: reason=%s thread=%d\n", event.Reason, event.ThreadId)
	for tid, stack := range frames {
		if len(stack) == 0 {
			continue
		}
		top := stack[0]
		fmt.Fprintf(os.Stderr, "  thread %d: %s at %s:%d\n", tid, top.Name, top.Source.Path, top.Line)
	}
}

func (n *stderrNotifier) Continued(id dapclient.DapId) {
	fmt.Fprintln(os.Stderr, "continued")
}

func (n *stderrNotifier) Terminated(id dapclient.DapId) {
	fmt.Fprintln(os.Stderr, "debuggee terminated")
}

func (n *stderrNotifier) RunInTerminal(id dapclient.DapId, cfg dapclient.RunDebugConfig) {
	termID, pid, err := n.host.Launch(id, cfg)
	if err != nil {
		n.log.Errorf("runInTerminal launch failed: %v", err)
		return
	}
	n.sess.FulfillTerminal(uint64(termID), pid)
}

func (n *stderrNotifier) TerminalClose(termID dapclient.TermId) {
	n.host.Close(termID)
}

func (n *stderrNotifier) Log(id dapclient.DapId, msg string) {
	fmt.Fprintf(os.Stderr, "log: %s\n", msg)
}
