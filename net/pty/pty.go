// Package pty implements PTY master/slave pair creation and terminal
// mode control for the process-spawn stream spec (spec.md §4.4) and the
// REPL's controlling terminal (spec.md §11 domain stack).
package pty

import (
	"fmt"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// OpenPair opens a new PTY master via /dev/ptmx, grants and unlocks the
// companion slave, and returns both fds. The caller is responsible for
// closing both ends; the slave is typically handed to the child process
// and closed in the parent immediately after spawn.
func OpenPair() (masterFd, slaveFd int, err error) {
	master, err := unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("pty: open /dev/ptmx: %w", err)
	}

	if err := unix.IoctlSetInt(master, unix.TIOCSPTLCK, 0); err != nil {
		unix.Close(master)
		return 0, 0, fmt.Errorf("pty: unlock: %w", err)
	}

	n, err := unix.IoctlGetInt(master, unix.TIOCGPTN)
	if err != nil {
		unix.Close(master)
		return 0, 0, fmt.Errorf("pty: ptsname: %w", err)
	}

	slavePath := fmt.Sprintf("/dev/pts/%d", n)
	slave, err := unix.Open(slavePath, unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		unix.Close(master)
		return 0, 0, fmt.Errorf("pty: open %s: %w", slavePath, err)
	}

	return master, slave, nil
}

// WindowSize is the terminal's row/column/pixel geometry (TIOCGWINSZ
// layout).
type WindowSize struct {
	Rows, Cols       uint16
	XPixels, YPixels uint16
}

// GetWindowSize reads the current window size via golang.org/x/term,
// which wraps the TIOCGWINSZ ioctl the same way the corpus's terminal
// code does.
func GetWindowSize(fd int) (WindowSize, error) {
	cols, rows, err := term.GetSize(fd)
	if err != nil {
		return WindowSize{}, fmt.Errorf("pty: get window size: %w", err)
	}
	return WindowSize{Rows: uint16(rows), Cols: uint16(cols)}, nil
}

// SetWindowSize applies a new window size to the PTY master, triggering
// SIGWINCH in the foreground process group of the slave side.
func SetWindowSize(fd int, size WindowSize) error {
	ws := &unix.Winsize{
		Row:    size.Rows,
		Col:    size.Cols,
		Xpixel: size.XPixels,
		Ypixel: size.YPixels,
	}
	return unix.IoctlSetWinsize(fd, unix.TIOCSWINSZ, ws)
}

// RawMode puts fd's terminal into raw mode, returning a restore
// function that puts back the original termios on shutdown.
func RawMode(fd int) (restore func() error, err error) {
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("pty: make raw: %w", err)
	}
	return func() error { return term.Restore(fd, state) }, nil
}

// IsTerminal reports whether fd refers to a terminal device, used to
// decide whether the controlling REPL should apply raw mode at all.
func IsTerminal(fd int) bool {
	return term.IsTerminal(fd)
}
