// Package tcpendpoint resolves and binds/connects AF_INET/AF_INET6
// sockets for the stream and server endpoint variants (spec.md §6
// external interface table), returning raw fds for
// internal/ioendpoint.FromFD to classify.
package tcpendpoint

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/fenwicklabs/evcore/internal/ioerrors"
)

// Connect opens a non-blocking TCP connection to host:port. Because the
// socket is created non-blocking, EINPROGRESS is not an error here; the
// caller wires the returned fd into a Stream and the write watcher
// firing is the "connected" signal, same as any other non-blocking
// connect.
func Connect(host string, port int) (fd int, err error) {
	sa, family, err := resolveSockaddr(host, port)
	if err != nil {
		return 0, err
	}

	fd, err = unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return 0, ioerrors.NewErrnoError("socket", err.(unix.Errno))
	}

	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return 0, ioerrors.NewErrnoError("connect", err.(unix.Errno))
	}
	return fd, nil
}

// Listen creates and binds a listening TCP socket on host:port with the
// given backlog, setting SO_REUSEADDR the way the corpus's server
// listeners do to survive TIME_WAIT restarts.
func Listen(host string, port int, backlog int) (fd int, err error) {
	sa, family, err := resolveSockaddr(host, port)
	if err != nil {
		return 0, err
	}

	fd, err = unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return 0, ioerrors.NewErrnoError("socket", err.(unix.Errno))
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return 0, ioerrors.NewErrnoError("setsockopt", err.(unix.Errno))
	}
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

// SetNoDelay toggles TCP_NODELAY (disabling Nagle's algorithm), the
// cork/uncork counterpart for TCP streams.
func SetNoDelay(fd int, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v); err != nil {
		return ioerrors.NewErrnoError("setsockopt", err.(unix.Errno))
	}
	return nil
}

// Cork sets (corked=true) or clears (corked=false) TCP_CORK; while set,
// small writes are batched into full segments.
func Cork(fd int, corked bool) error {
	v := 0
	if corked {
		v = 1
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_CORK, v); err != nil {
		return ioerrors.NewErrnoError("setsockopt", err.(unix.Errno))
	}
	return nil
}

// PeerAddr returns the remote address of a connected TCP fd as
// "host:port", for logging and access-control decisions.
func PeerAddr(fd int) (string, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return "", ioerrors.NewErrnoError("getpeername", err.(unix.Errno))
	}
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", addr.Addr[0], addr.Addr[1], addr.Addr[2], addr.Addr[3], addr.Port), nil
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%s]:%d", net.IP(addr.Addr[:]).String(), addr.Port), nil
	default:
		return "", ioerrors.NewError("getpeername", ioerrors.ErrInvalidArgument, "not an inet socket")
	}
}

func resolveSockaddr(host string, port int) (unix.Sockaddr, int, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return nil, 0, ioerrors.NewError("resolve", ioerrors.ErrInvalidArgument, fmt.Sprintf("cannot resolve host %q", host))
		}
		ip = ips[0]
	}

	if v4 := ip.To4(); v4 != nil {
		var addr [4]byte
		copy(addr[:], v4)
		return &unix.SockaddrInet4{Port: port, Addr: addr}, unix.AF_INET, nil
	}

	var addr [16]byte
	copy(addr[:], ip.To16())
	return &unix.SockaddrInet6{Port: port, Addr: addr}, unix.AF_INET6, nil
}
