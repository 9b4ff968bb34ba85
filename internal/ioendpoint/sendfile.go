package ioendpoint

import (
	"golang.org/x/sys/unix"

	"github.com/fenwicklabs/evcore/internal/ioerrors"
	"github.com/fenwicklabs/evcore/internal/loop"
	"github.com/fenwicklabs/evcore/internal/queue"
)

// StreamFileResult is the continuation payload for StreamFile.
type StreamFileResult struct {
	Reader *Stream
	Err    error
}

// streamFileSetup carries raw fds from the first pool job's Work (a
// worker thread) back to its Reap (the reactor thread), since wrapping a
// fd as a Stream touches reactor bookkeeping and must not happen off the
// reactor thread (spec §5 "reactor-only" data).
type streamFileSetup struct {
	fileFd, readerFd, writerFd int
	size                       int64
	err                        error
}

// StreamFile implements the spec §4.4 "sendfile bridge": open the file
// in a first pool job, then create a bidirectional socketpair and hand
// the reader half back as a Stream while a second pool job pumps
// sendfile on the writer half until the file is exhausted.
func StreamFile(pool *queue.WorkerPool, reactor *loop.Reactor, path string, resume func(StreamFileResult)) {
	var setup streamFileSetup
	pool.Submit(queue.NewJob(
		func() {
			fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
			if err != nil {
				setup.err = ioerrors.NewErrnoError("open", err.(unix.Errno))
				return
			}

			var st unix.Stat_t
			if err := unix.Fstat(fd, &st); err != nil {
				unix.Close(fd)
				setup.err = ioerrors.NewErrnoError("fstat", err.(unix.Errno))
				return
			}

			fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
			if err != nil {
				unix.Close(fd)
				setup.err = ioerrors.NewErrnoError("socketpair", err.(unix.Errno))
				return
			}

			if err := unix.SetNonblock(fds[0], true); err != nil {
				unix.Close(fd)
				unix.Close(fds[0])
				unix.Close(fds[1])
				setup.err = ioerrors.NewErrnoError("setnonblock", err.(unix.Errno))
				return
			}

			setup = streamFileSetup{fileFd: fd, readerFd: fds[0], writerFd: fds[1], size: st.Size}
		},
		func() {
			if setup.err != nil {
				resume(StreamFileResult{Err: setup.err})
				return
			}
			reader := newStream(reactor, setup.readerFd, streamOwned)
			pool.Submit(queue.NewJob(
				func() { pumpSendfile(setup.fileFd, setup.writerFd, setup.size) },
				nil,
			))
			resume(StreamFileResult{Reader: reader})
		},
	))
}

// pumpSendfile runs entirely on a worker thread: it never touches
// reactor state, only the raw fds, matching spec §4.3's "a job's work
// never runs on the reactor thread" invariant.
func pumpSendfile(fileFd, writerFd int, remaining int64) {
	defer unix.Close(fileFd)
	defer unix.Close(writerFd)

	var offset int64
	for remaining > 0 {
		n, err := unix.Sendfile(writerFd, fileFd, &offset, int(remaining))
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return
		}
		if n == 0 {
			return
		}
		remaining -= int64(n)
	}
}
