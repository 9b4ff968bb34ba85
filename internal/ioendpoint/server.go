package ioendpoint

import (
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/fenwicklabs/evcore/internal/ioerrors"
	"github.com/fenwicklabs/evcore/internal/loop"
)

// Server is a stream listening fd with a single read watcher (spec §3),
// serviced by an accept loop. Datagram listening is the separate
// DatagramListener type.
type Server struct {
	fd      int
	reactor *loop.Reactor
	armed   bool

	// onAccept is set by AcceptOnce and autospawn by Autospawn; when both
	// are set, a readable listener serves onAccept first. onDatagram is
	// never set by any Server method.
	onAccept      func(*Stream)
	onError       func(error)
	pendingResume func(*Stream, error)
	autospawn     func(*Stream)
	onDatagram    func(payload []byte, sourceIP string, sourcePort int)

	limiter *rate.Limiter
}

// AutospawnOptions configures the autospawn consumption mode.
type AutospawnOptions struct {
	// Limiter, if set, bounds the accept rate: a connection that would
	// exceed the limit is accepted (to keep the backlog draining) and
	// then immediately closed rather than handed to handle. This is the
	// listener-side analogue of the worker pool's max-threads cap — it
	// protects the reactor thread from a connection-flood amplifying
	// into unbounded handle() work.
	Limiter *rate.Limiter
}

func (s *Server) Kind() Kind { return KindServer }

// Close implements spec §8's "Close-wakes-pending" property: a pending
// AcceptOnce callback is resumed with (nil, "closed"): the read watcher
// is stopped first, then the callback is resumed, then the listening fd
// is closed.
func (s *Server) Close() error {
	s.wakePending(ioerrors.ErrClosed)
	if s.armed {
		s.reactor.RemoveFD(s.fd)
		s.armed = false
	}
	return unix.Close(s.fd)
}

// Interrupt implements spec §6's server `interrupt` operation: it cancels
// a pending AcceptOnce, resuming its caller with (nil, "interrupted"),
// without closing the listening fd. It stops the listener's read
// watcher, so an Autospawn subscription on the same Server also stops
// receiving connections. A no-op if no AcceptOnce is pending.
func (s *Server) Interrupt() {
	s.wakePending(ioerrors.ErrInterrupted)
}

// wakePending resumes and clears a pending AcceptOnce callback exactly
// once, reporting code as its error. No-op if nothing is pending.
func (s *Server) wakePending(code ioerrors.ErrorCode) {
	if s.onAccept == nil {
		return
	}
	s.onAccept = nil
	s.onError = nil
	s.disarm()
	s.pendingResume(nil, ioerrors.NewError("accept", code, string(code)))
}

// AcceptOnce implements the spec §4.4 "accept-one" consumption mode: the
// next accepted connection resumes the caller with a single Stream, then
// the listener goes back to being unarmed. A second call while one is
// already pending is rejected synchronously with "busy" (spec §3
// Endpoint Invariants, §8 "Busy is mutually exclusive") rather than
// silently replacing the first caller's callback.
func (s *Server) AcceptOnce(resume func(*Stream, error)) {
	if s.onAccept != nil {
		resume(nil, ioerrors.NewError("accept", ioerrors.ErrBusy, string(ioerrors.ErrBusy)))
		return
	}
	s.pendingResume = resume
	s.onAccept = func(stream *Stream) {
		s.onAccept = nil
		s.pendingResume = nil
		s.disarm()
		resume(stream, nil)
	}
	s.onError = func(err error) {
		s.onAccept = nil
		s.pendingResume = nil
		resume(nil, err)
	}
	s.arm()
}

// Autospawn implements the spec §4.4 "autospawn" consumption mode: handle
// is invoked once per accepted connection and the listener stays armed
// indefinitely. onFatal reports a non-transient listener error (the fd
// has already been closed by the time it fires).
func (s *Server) Autospawn(handle func(*Stream), onFatal func(error), opts AutospawnOptions) {
	s.autospawn = handle
	s.onError = onFatal
	s.limiter = opts.Limiter
	s.arm()
}

func (s *Server) arm() {
	if s.armed {
		return
	}
	s.armed = true
	s.reactor.AddFD(s.fd, s.onReadable, nil)
}

func (s *Server) disarm() {
	if !s.armed {
		return
	}
	s.armed = false
	s.reactor.RemoveFD(s.fd)
}

// onReadable drains every queued connection on one readability
// notification (spec §4.4 "Server accept loop": "loops accept4 ...
// harvesting every queued connection").
func (s *Server) onReadable() {
	for {
		fd, _, err := unix.Accept4(s.fd, unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
		if err != nil {
			errno, _ := err.(unix.Errno)
			if ioerrors.IsTransient(errno) {
				return
			}
			s.disarm()
			unix.Close(s.fd)
			if s.onError != nil {
				s.onError(ioerrors.NewErrnoError("accept4", errno))
			}
			return
		}

		stream := newStream(s.reactor, fd, streamOwned)

		switch {
		case s.onAccept != nil:
			cb := s.onAccept
			cb(stream)
		case s.autospawn != nil:
			if s.limiter != nil && !s.limiter.Allow() {
				stream.Close()
				continue
			}
			s.autospawn(stream)
		default:
			stream.Close()
		}
	}
}
