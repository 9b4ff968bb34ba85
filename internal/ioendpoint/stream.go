package ioendpoint

import (
	"golang.org/x/sys/unix"

	"github.com/fenwicklabs/evcore/internal/constants"
	"github.com/fenwicklabs/evcore/internal/ioerrors"
	"github.com/fenwicklabs/evcore/internal/loop"
)

// openState tracks a Stream's ownership of its fd (spec §3 I/O Endpoint
// "open state").
type openState int

const (
	streamClosed openState = iota
	streamOwned
	streamBorrowed
)

// Parser is the incremental parser contract for the stream
// read-with-parser loop (spec §3 "Parser State", §4.4 "Stream read
// contract"). Parse is handed the buffer's current unconsumed window;
// it returns a produced value and the number of bytes it consumed, or
// ok=false to request more input.
type Parser interface {
	Parse(window []byte) (value any, consumed int, ok bool, err error)
}

// ReadResult is the continuation payload for ReadParsed: exactly one of
// Value or Err is meaningful.
type ReadResult struct {
	Value any
	Err   error
}

// Stream is the non-blocking fd variant of spec §3/§4.4: a fixed input
// buffer with a reserved parser-state tail, a single pending reader and
// a single pending writer (the busy-flag invariant is enforced by
// readResume/writeResume being non-nil).
type Stream struct {
	fd      int
	reactor *loop.Reactor
	state   openState

	buf   []byte
	start int
	end   int

	readWatcherArmed bool
	readParser       Parser
	readResume       func(ReadResult)

	writeWatcherArmed bool
	writePending      []byte
	writeResume       func(error)
}

func newStream(reactor *loop.Reactor, fd int, state openState) *Stream {
	s := &Stream{
		fd:      fd,
		reactor: reactor,
		state:   state,
		buf:     make([]byte, constants.StreamBufferSize),
	}
	// Register with the reactor up front, interested in neither
	// direction; armRead/armWrite flip interest on via ModifyFD as
	// watchers are armed, per spec §4.4's read/write contracts.
	reactor.AddFD(fd, nil, nil)
	return s
}

// NewBorrowedStream wraps stdin/stdout/stderr-style fds that must not be
// closed, only restored to blocking mode (spec §3 "Borrowed streams").
func NewBorrowedStream(reactor *loop.Reactor, fd int) *Stream {
	return newStream(reactor, fd, streamBorrowed)
}

func (s *Stream) Kind() Kind { return KindStream }

// ReadParsed implements the spec §4.4 "Stream read contract". If the
// parser can already produce a value from buffered data it calls resume
// synchronously, before returning, without touching the reactor;
// otherwise it arms the read watcher and resume is invoked later from
// the reactor thread.
func (s *Stream) ReadParsed(parser Parser, resume func(ReadResult)) {
	if s.state == streamClosed {
		resume(ReadResult{Err: ioerrors.ErrClosed})
		return
	}
	if s.readResume != nil {
		resume(ReadResult{Err: ioerrors.ErrBusy})
		return
	}

	if s.tryParse(parser, resume) {
		return
	}

	s.readParser = parser
	s.readResume = resume
	s.armRead()
}

// tryParse attempts one non-blocking read-then-parse step. Returns true
// if resume was already invoked (parse succeeded, EOF, or fatal error).
func (s *Stream) tryParse(parser Parser, resume func(ReadResult)) bool {
	dataWindow := s.buf[s.start:s.end]
	if len(dataWindow) > 0 {
		if value, consumed, ok, err := parser.Parse(dataWindow); err != nil {
			resume(ReadResult{Err: ioerrors.WrapError("parse", err)})
			return true
		} else if ok {
			s.start += consumed
			s.compact()
			resume(ReadResult{Value: value})
			return true
		}
	}

	capacity := len(s.buf) - constants.ParserStateReserve
	if s.end >= capacity {
		resume(ReadResult{Err: ioerrors.NewError("read", ioerrors.ErrOutOfBufferSpace, "stream buffer full with no parsed value")})
		return true
	}

	n, err := unix.Read(s.fd, s.buf[s.end:capacity])
	switch {
	case err == unix.EAGAIN:
		return false
	case err != nil:
		if !ioerrors.IsTransient(err.(unix.Errno)) {
			s.closeFD()
			resume(ReadResult{Err: ioerrors.NewErrnoError("read", err.(unix.Errno))})
			return true
		}
		return false
	case n == 0:
		s.closeFD()
		resume(ReadResult{Err: ioerrors.ErrClosed})
		return true
	default:
		s.end += n
		return s.tryParse(parser, resume)
	}
}

func (s *Stream) compact() {
	if s.start == 0 {
		return
	}
	n := copy(s.buf, s.buf[s.start:s.end])
	s.end = n
	s.start = 0
}

func (s *Stream) armRead() {
	if s.readWatcherArmed {
		return
	}
	s.readWatcherArmed = true
	s.reactor.ModifyFD(s.fd, s.onReadable, s.writableCallbackOrNil())
}

func (s *Stream) disarmRead() {
	if !s.readWatcherArmed {
		return
	}
	s.readWatcherArmed = false
	s.reactor.ModifyFD(s.fd, nil, s.writableCallbackOrNil())
}

func (s *Stream) onReadable() {
	parser, resume := s.readParser, s.readResume
	if resume == nil {
		return
	}
	s.readParser, s.readResume = nil, nil
	s.disarmRead()
	s.ReadParsed(parser, resume)
}

// Write implements spec §4.4 "Stream write contract": a non-blocking
// write attempt, arming the write watcher on EAGAIN and reporting
// partial-progress completion only once every byte has been written.
func (s *Stream) Write(data []byte, resume func(error)) {
	if s.state == streamClosed {
		resume(ioerrors.ErrClosed)
		return
	}
	if s.writeResume != nil {
		resume(ioerrors.ErrBusy)
		return
	}
	s.writePending = data
	s.writeResume = resume
	s.tryWrite()
}

func (s *Stream) tryWrite() {
	for len(s.writePending) > 0 {
		n, err := unix.Write(s.fd, s.writePending)
		switch {
		case err == unix.EAGAIN:
			s.armWrite()
			return
		case err == unix.EPIPE || err == unix.ECONNRESET:
			resume := s.writeResume
			s.writePending, s.writeResume = nil, nil
			s.disarmWrite()
			s.closeFD()
			resume(ioerrors.ErrClosed)
			return
		case err != nil:
			resume := s.writeResume
			s.writePending, s.writeResume = nil, nil
			s.disarmWrite()
			resume(ioerrors.NewErrnoError("write", err.(unix.Errno)))
			return
		default:
			s.writePending = s.writePending[n:]
		}
	}
	resume := s.writeResume
	s.writePending, s.writeResume = nil, nil
	s.disarmWrite()
	resume(nil)
}

func (s *Stream) armWrite() {
	if s.writeWatcherArmed {
		return
	}
	s.writeWatcherArmed = true
	s.reactor.ModifyFD(s.fd, s.readableCallbackOrNil(), s.onWritable)
}

func (s *Stream) disarmWrite() {
	if !s.writeWatcherArmed {
		return
	}
	s.writeWatcherArmed = false
	s.reactor.ModifyFD(s.fd, s.readableCallbackOrNil(), nil)
}

func (s *Stream) onWritable() {
	s.tryWrite()
}

func (s *Stream) readableCallbackOrNil() func() {
	if s.readWatcherArmed {
		return s.onReadable
	}
	return nil
}

func (s *Stream) writableCallbackOrNil() func() {
	if s.writeWatcherArmed {
		return s.onWritable
	}
	return nil
}

// Close implements spec §4.4 "Stream close": any armed watcher's owning
// task is resumed with (nil, "closed"), the fd is closed exactly once
// (never, for a borrowed stream), and repeated Close calls are no-ops.
func (s *Stream) Close() error {
	if s.state == streamClosed {
		return nil
	}

	if resume := s.readResume; resume != nil {
		s.readParser, s.readResume = nil, nil
		resume(ReadResult{Err: ioerrors.ErrClosed})
	}
	if resume := s.writeResume; resume != nil {
		s.writePending, s.writeResume = nil, nil
		resume(ioerrors.ErrClosed)
	}

	s.reactor.RemoveFD(s.fd)
	s.readWatcherArmed, s.writeWatcherArmed = false, false

	if s.state == streamBorrowed {
		s.state = streamClosed
		_ = unix.SetNonblock(s.fd, false)
		return nil
	}
	return s.closeFD()
}

func (s *Stream) closeFD() error {
	if s.state == streamClosed {
		return nil
	}
	s.state = streamClosed
	return unix.Close(s.fd)
}
