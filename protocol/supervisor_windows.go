//go:build windows

package protocol

import (
	"os/exec"
	"syscall"
)

// createNoWindow suppresses the console window Windows would otherwise pop
// up for a spawned debug adapter (microsoft.com/en-us/windows/win32/procthread/process-creation-flags).
const createNoWindow = 0x08000000

func applyPlatformAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNoWindow}
}
