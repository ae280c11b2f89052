// Package logging provides the file-backed logger the DAP client writes its
// session diagnostics to. Every session gets its own prefix (the DapId) so
// interleaved log lines from concurrent sessions stay attributable.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// InitFileLogger points the standard library logger at a timestamped file
// under ~/.dap-client, symlinking latest.log to it. Call this once from
// main before any session starts logging.
func InitFileLogger() (*os.File, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	logDir := filepath.Join(homeDir, ".dap-client")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logFile := filepath.Join(logDir, fmt.Sprintf("session_%s.log", timestamp))

	latestLink := filepath.Join(logDir, "latest.log")
	os.Remove(latestLink)

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	os.Symlink(logFile, latestLink)

	log.SetOutput(file)
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)

	log.Printf("========================================")
	log.Printf("dap-client started at %s", time.Now().Format(time.RFC3339))
	log.Printf("log file: %s", logFile)
	log.Printf("========================================")

	fmt.Printf("logging to: %s\n", logFile)

	return file, nil
}

// Logger is a thin, prefixed wrapper around the standard library logger.
// It never holds its own output handle - InitFileLogger configures where
// every Logger's bytes ultimately land, Logger only adds the prefix and
// the three severities the rest of the module calls.
type Logger struct {
	prefix string
}

// For returns a Logger prefixed with id, typically a session's DapId. Safe
// to call before InitFileLogger; output simply goes wherever the standard
// logger is currently pointed (stderr, until InitFileLogger runs).
func For(id string) Logger {
	return Logger{prefix: id}
}

func (l Logger) Debugf(format string, args ...interface{}) {
	log.Printf("[%s] DEBUG "+format, append([]interface{}{l.prefix}, args...)...)
}

func (l Logger) Infof(format string, args ...interface{}) {
	log.Printf("[%s] INFO "+format, append([]interface{}{l.prefix}, args...)...)
}

func (l Logger) Errorf(format string, args ...interface{}) {
	log.Printf("[%s] ERROR "+format, append([]interface{}{l.prefix}, args...)...)
}
