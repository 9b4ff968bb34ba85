package ioendpoint

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/fenwicklabs/evcore/internal/constants"
	"github.com/fenwicklabs/evcore/internal/ioerrors"
	"github.com/fenwicklabs/evcore/internal/loop"
)

// DatagramListener is the recvfrom-based analogue of Server.Autospawn
// (spec §4.4 "Datagram listener"): each packet spawns a handler
// receiving the payload and the source address, rather than a new
// Stream.
type DatagramListener struct {
	fd      int
	reactor *loop.Reactor
	armed   bool
	buf     []byte
}

// NewDatagramListener wraps an already-bound UDP socket fd.
func NewDatagramListener(reactor *loop.Reactor, fd int) (*DatagramListener, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, ioerrors.NewErrnoError("setnonblock", err.(unix.Errno))
	}
	return &DatagramListener{fd: fd, reactor: reactor, buf: make([]byte, constants.DatagramBufferSize)}, nil
}

func (d *DatagramListener) Kind() Kind { return KindServer }

func (d *DatagramListener) Close() error {
	if d.armed {
		d.reactor.RemoveFD(d.fd)
		d.armed = false
	}
	return unix.Close(d.fd)
}

// Autospawn arms the listener; handle is invoked once per datagram with
// its payload, source IP, and source port.
func (d *DatagramListener) Autospawn(handle func(payload []byte, sourceIP string, sourcePort int), onFatal func(error)) {
	if d.armed {
		return
	}
	d.armed = true
	d.reactor.AddFD(d.fd, func() { d.onReadable(handle, onFatal) }, nil)
}

func (d *DatagramListener) onReadable(handle func([]byte, string, int), onFatal func(error)) {
	for {
		n, from, err := unix.Recvfrom(d.fd, d.buf, 0)
		if err != nil {
			errno, _ := err.(unix.Errno)
			if ioerrors.IsTransient(errno) {
				return
			}
			d.armed = false
			d.reactor.RemoveFD(d.fd)
			unix.Close(d.fd)
			if onFatal != nil {
				onFatal(ioerrors.NewErrnoError("recvfrom", errno))
			}
			return
		}

		payload := make([]byte, n)
		copy(payload, d.buf[:n])

		ip, port := addrParts(from)
		handle(payload, ip, port)
	}
}

func addrParts(sa unix.Sockaddr) (string, int) {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d", addr.Addr[0], addr.Addr[1], addr.Addr[2], addr.Addr[3]), addr.Port
	case *unix.SockaddrInet6:
		return net.IP(addr.Addr[:]).String(), addr.Port
	default:
		return "", 0
	}
}
