//go:build !windows

package process

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// startPTY starts cmd attached to a new pseudo-terminal. pty.Start puts the
// child in a new session, which also makes it a process group leader.
func startPTY(cmd *exec.Cmd) (*os.File, error) {
	return pty.StartWithSize(cmd, &pty.Winsize{Rows: 50, Cols: 200})
}
