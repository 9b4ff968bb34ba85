// Package unixendpoint resolves and binds/connects AF_UNIX sockets,
// including SO_PEERCRED credential lookup for access control over a
// unix-domain control socket (spec.md §6).
package unixendpoint

import (
	"golang.org/x/sys/unix"

	"github.com/fenwicklabs/evcore/internal/ioerrors"
)

// Connect opens a non-blocking connection to a unix-domain socket path.
func Connect(path string) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, ioerrors.NewErrnoError("socket", err.(unix.Errno))
	}
	sa := &unix.SockaddrUnix{Name: path}
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return 0, ioerrors.NewErrnoError("connect", err.(unix.Errno))
	}
	return fd, nil
}

// Listen creates, binds, and listens on a unix-domain socket path.
// Callers are responsible for unlinking a stale path first if needed.
func Listen(path string, backlog int) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, ioerrors.NewErrnoError("socket", err.(unix.Errno))
	}
	sa := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return 0, ioerrors.NewErrnoError("bind", err.(unix.Errno))
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return 0, ioerrors.NewErrnoError("listen", err.(unix.Errno))
	}
	return fd, nil
}

// PeerCredentials is the SO_PEERCRED result: the connecting process's
// pid/uid/gid, used to authorize control-socket clients.
type PeerCredentials struct {
	PID int32
	UID uint32
	GID uint32
}

// PeerCreds reads SO_PEERCRED off a connected unix-domain socket.
func PeerCreds(fd int) (PeerCredentials, error) {
	cred, err := unix.GetsockoptUcred(fd, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return PeerCredentials{}, ioerrors.NewErrnoError("getsockopt", err.(unix.Errno))
	}
	return PeerCredentials{PID: cred.Pid, UID: cred.Uid, GID: cred.Gid}, nil
}
