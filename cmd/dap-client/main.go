// Command dap-client runs the DAP client core as an MCP server that an
// editor talks to over stdio.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lapce-tools/dap-client/internal/logging"
	"github.com/lapce-tools/dap-client/mcp"
	"github.com/lapce-tools/dap-client/tui"
)

func main() {
	withTUI := flag.Bool("tui", false,
		"run an interactive terminal dashboard that fulfils runInTerminal requests, "+
			"instead of the headless direct-exec fallback")
	flag.Parse()

	if _, err := logging.InitFileLogger(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not start file logger: %v\n", err)
	}
	log := logging.For("dap-client")

	registry := NewRegistry()

	server := mcp.NewServer()
	server.OnSessionStarted = registry.Register
	server.OnSessionEnded = registry.Deregister

	if *withTUI {
		host := tui.NewHost()
		server.SetTerminalLauncher(host)
		go func() {
			if err := host.Run(); err != nil {
				log.Errorf("terminal dashboard exited: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("shutting down, stopping all sessions")
		registry.ShutdownAll(context.Background())
		registry.Shutdown()
		os.Exit(0)
	}()

	if err := server.Serve(); err != nil {
		log.Errorf("mcp server error: %v", err)
	}

	registry.ShutdownAll(context.Background())
	registry.Shutdown()
}
