//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
)

// ErrPTYUnsupported is returned when a pseudo-terminal is requested on Windows.
var ErrPTYUnsupported = errors.New("pty mode is not supported on windows")

func startPTY(*exec.Cmd) (*os.File, error) {
	return nil, ErrPTYUnsupported
}
