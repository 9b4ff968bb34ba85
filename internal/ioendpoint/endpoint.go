// Package ioendpoint implements the I/O Endpoint state machine (spec.md
// §4.4): a tagged union {File, Stream, Server} with per-variant
// operation tables rather than a shared base type, classified by
// fstat/SO_ACCEPTCONN at open/adopt time.
package ioendpoint

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/fenwicklabs/evcore/internal/constants"
	"github.com/fenwicklabs/evcore/internal/ioerrors"
	"github.com/fenwicklabs/evcore/internal/loop"
	"github.com/fenwicklabs/evcore/internal/queue"
)

// Kind discriminates the three endpoint variants. There is no shared
// base struct; each Kind has its own type and operation set.
type Kind int

const (
	KindFile Kind = iota
	KindStream
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindStream:
		return "stream"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// Endpoint is the narrow contract shared by every variant: report its
// kind and release its fd. Callers type-switch to reach variant-specific
// operations (read_parsed, write, accept, ...).
type Endpoint interface {
	Kind() Kind
	Close() error
}

// OpenResult carries either a fully classified endpoint or an error,
// matching the continuation a suspended task would be resumed with
// (spec §4.4 "the task is suspended during the job and resumed with
// the endpoint or an error pair").
type OpenResult struct {
	Endpoint Endpoint
	Err      error
}

// Open performs the one-shot async job of spec §4.4 "Opening a path":
// open(2) with O_CLOEXEC, then fstat to classify into File or Stream.
// mode follows spec §6's io.open contract, mode ∈ {r, w, a, r+, w+, a+,
// …b, …x}; path and perm are validated synchronously, before the task
// yields, per spec §7's "argument-validation errors raised
// synchronously" — only a recognized mode past that point reaches the
// worker pool. The job runs on pool; resume is invoked back on the
// reactor thread via the pool's reap callback. Classification itself
// also happens in the reap callback, since wrapping a char/fifo fd as a
// Stream touches reactor-only bookkeeping (spec §5) that a worker
// thread must not mutate directly.
func Open(pool *queue.WorkerPool, reactor *loop.Reactor, path string, mode string, perm uint32, resume func(OpenResult)) {
	if len(path) > constants.MaxPathLength {
		resume(OpenResult{Err: ioerrors.NewError("open", ioerrors.ErrPathTooLong, "path exceeds maximum length")})
		return
	}
	flags, err := parseOpenMode(mode)
	if err != nil {
		resume(OpenResult{Err: err})
		return
	}
	if perm > 0o777 {
		resume(OpenResult{Err: ioerrors.NewError("open", ioerrors.ErrInvalidPermissions, "permissions out of range")})
		return
	}

	var openedFd int
	var openErr error
	pool.Submit(queue.NewJob(
		func() {
			fd, err := unix.Open(path, flags|unix.O_CLOEXEC, perm)
			if err != nil {
				openErr = ioerrors.NewErrnoError("open", err.(unix.Errno))
				return
			}
			openedFd = fd
		},
		func() {
			if openErr != nil {
				resume(OpenResult{Err: openErr})
				return
			}
			ep, err := classify(reactor, openedFd, false)
			if err != nil {
				unix.Close(openedFd)
				resume(OpenResult{Err: err})
				return
			}
			resume(OpenResult{Endpoint: ep})
		},
	))
}

// parseOpenMode implements spec §6's `mode ∈ {r, w, a, r+, w+, a+, …b,
// …x}` grammar, grounded on the original's io_mode_to_flags
// (lem/io/core.c): the first character picks the base access mode and
// creation flags; any of '+' (upgrade to read-write), 'b' (accepted,
// meaningless on POSIX), and 'x' (O_EXCL) may follow in any order.
func parseOpenMode(mode string) (int, error) {
	if mode == "" {
		mode = "r"
	}

	var omode, oflags int
	switch mode[0] {
	case 'r':
		omode = unix.O_RDONLY
	case 'w':
		omode = unix.O_WRONLY
		oflags = unix.O_CREAT | unix.O_TRUNC
	case 'a':
		omode = unix.O_WRONLY
		oflags = unix.O_CREAT | unix.O_APPEND
	default:
		return 0, ioerrors.NewError("open", ioerrors.ErrInvalidMode, "invalid mode string")
	}

	for _, c := range mode[1:] {
		switch c {
		case '+':
			omode = unix.O_RDWR
		case 'b':
			// No-op on POSIX; accepted for source compatibility.
		case 'x':
			oflags |= unix.O_EXCL
		default:
			return 0, ioerrors.NewError("open", ioerrors.ErrInvalidMode, "invalid mode string")
		}
	}

	return omode | oflags, nil
}

// FromFD adopts an already-open fd (spec §4.4 "Adopting a raw fd"),
// classifying it the same way Open does, plus an SO_ACCEPTCONN probe on
// sockets to distinguish a listening Server from a connected Stream.
// Unlike Open this never blocks, so it runs synchronously on whichever
// thread calls it (normally the reactor thread).
func FromFD(reactor *loop.Reactor, fd int) (Endpoint, error) {
	return classify(reactor, fd, true)
}

func classify(reactor *loop.Reactor, fd int, adopted bool) (Endpoint, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, ioerrors.NewErrnoError("fstat", err.(unix.Errno))
	}

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFREG, unix.S_IFBLK:
		return &File{fd: fd}, nil

	case unix.S_IFSOCK:
		if accepting, err := isAcceptConn(fd); err == nil && accepting {
			if err := unix.SetNonblock(fd, true); err != nil {
				return nil, ioerrors.NewErrnoError("setnonblock", err.(unix.Errno))
			}
			return &Server{fd: fd, reactor: reactor}, nil
		}
		fallthrough
	case unix.S_IFCHR, unix.S_IFIFO:
		if err := unix.SetNonblock(fd, true); err != nil {
			return nil, ioerrors.NewErrnoError("setnonblock", err.(unix.Errno))
		}
		return newStream(reactor, fd, streamOwned), nil

	default:
		return nil, ioerrors.NewError("classify", ioerrors.ErrInvalidArgument, fmt.Sprintf("unsupported fd mode %#o", st.Mode))
	}
}

// isAcceptConn probes SO_ACCEPTCONN to tell a listening socket from a
// connected one (spec §4.4 "Adopting a raw fd").
func isAcceptConn(fd int) (bool, error) {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ACCEPTCONN)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}
