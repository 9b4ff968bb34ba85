// Package udpendpoint binds AF_INET/AF_INET6 datagram sockets for
// internal/ioendpoint.DatagramListener (spec.md §4.4 "Datagram
// listener").
package udpendpoint

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/fenwicklabs/evcore/internal/ioerrors"
)

// Bind creates and binds a UDP socket on host:port, returning the raw
// fd for DatagramListener to adopt.
func Bind(host string, port int) (fd int, err error) {
	sa, family, err := resolveSockaddr(host, port)
	if err != nil {
		return 0, err
	}

	fd, err = unix.Socket(family, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.IPPROTO_UDP)
	if err != nil {
		return 0, ioerrors.NewErrnoError("socket", err.(unix.Errno))
	}

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return 0, ioerrors.NewErrnoError("bind", err.(unix.Errno))
	}
	return fd, nil
}

// SendTo writes a single datagram to host:port over an unconnected UDP
// socket.
func SendTo(fd int, data []byte, host string, port int) error {
	sa, _, err := resolveSockaddr(host, port)
	if err != nil {
		return err
	}
	if err := unix.Sendto(fd, data, 0, sa); err != nil {
		return ioerrors.NewErrnoError("sendto", err.(unix.Errno))
	}
	return nil
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
