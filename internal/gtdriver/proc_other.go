//go:build !unix

package gtdriver

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(p *os.Process) {
	_ = p.Kill()
}
