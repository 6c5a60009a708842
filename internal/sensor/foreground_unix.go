//go:build linux || darwin

package sensor

import (
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// IsForeground reports whether this process owns the controlling terminal's
// foreground process group. A stopped or backgrounded job (Ctrl-Z, bg) is
// not in the foreground. Without a terminal the process always counts as
// foreground.
func IsForeground() bool {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return true
	}
	pgrp, err := unix.IoctlGetInt(fd, unix.TIOCGPGRP)
	if err != nil {
		return true
	}
	self, err := unix.Getpgid(0)
	if err != nil {
		return true
	}
	return pgrp == self
}
