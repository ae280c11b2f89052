//go:build !windows

package protocol

import "os/exec"

func applyPlatformAttrs(cmd *exec.Cmd) {}
