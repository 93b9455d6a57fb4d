//go:build !windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

var (
	terminateSignal os.Signal = unix.SIGTERM
	killSignal      os.Signal = unix.SIGKILL
)

// setProcessGroup makes the worker the leader of a new process group so
// signals reach everything it spawns.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// signalGroup sends sig to the process group led by p. A group that no
// longer exists is not an error.
func signalGroup(p *os.Process, sig os.Signal) error {
	if p == nil {
		return nil
	}
	s, ok := sig.(syscall.Signal)
	if !ok {
		return p.Signal(sig)
	}
	err := unix.Kill(-p.Pid, s)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// groupAlive reports whether any member of the group led by p still exists.
func groupAlive(p *os.Process) bool {
	if p == nil {
		return false
	}
	err := unix.Kill(-p.Pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
