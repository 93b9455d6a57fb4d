//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

var (
	terminateSignal os.Signal = os.Kill
	killSignal      os.Signal = os.Kill
)

func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= syscall.CREATE_NEW_PROCESS_GROUP
}

// signalGroup kills the worker itself. Windows has no signal that reaches a
// whole process group.
func signalGroup(p *os.Process, _ os.Signal) error {
	if p == nil {
		return nil
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func groupAlive(p *os.Process) bool {
	if p == nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
