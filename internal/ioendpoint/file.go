package ioendpoint

import (
	"golang.org/x/sys/unix"

	"github.com/fenwicklabs/evcore/internal/ioerrors"
	"github.com/fenwicklabs/evcore/internal/queue"
)

// File is the regular-file / block-device variant (spec §3): it has no
// readiness watcher, and every operation runs as a pool job because
// read(2) on a regular file cannot be made non-blocking (spec §4.4
// "File operations").
type File struct {
	fd     int
	closed bool
}

func (f *File) Kind() Kind { return KindFile }

func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	return unix.Close(f.fd)
}

// ReadAtResult is the continuation payload for ReadAt.
type ReadAtResult struct {
	Data []byte
	Err  error
}

// ReadAt issues a positioned read as a pool job (spec §4.4 "File
// operations").
func (f *File) ReadAt(pool *queue.WorkerPool, buf []byte, offset int64, resume func(ReadAtResult)) {
	var result ReadAtResult
	pool.Submit(queue.NewJob(
		func() {
			n, err := unix.Pread(f.fd, buf, offset)
			if err != nil {
				result = ReadAtResult{Err: ioerrors.NewErrnoError("pread", err.(unix.Errno))}
				return
			}
			result = ReadAtResult{Data: buf[:n]}
		},
		func() { resume(result) },
	))
}

// WriteAt issues a positioned write as a pool job.
func (f *File) WriteAt(pool *queue.WorkerPool, data []byte, offset int64, resume func(int, error)) {
	var n int
	var resultErr error
	pool.Submit(queue.NewJob(
		func() {
			written, err := unix.Pwrite(f.fd, data, offset)
			if err != nil {
				resultErr = ioerrors.NewErrnoError("pwrite", err.(unix.Errno))
				return
			}
			n = written
		},
		func() { resume(n, resultErr) },
	))
}

// Seek issues an lseek as a pool job.
func (f *File) Seek(pool *queue.WorkerPool, offset int64, whence int, resume func(int64, error)) {
	var pos int64
	var resultErr error
	pool.Submit(queue.NewJob(
		func() {
			p, err := unix.Seek(f.fd, offset, whence)
			if err != nil {
				resultErr = ioerrors.NewErrnoError("lseek", err.(unix.Errno))
				return
			}
			pos = p
		},
		func() { resume(pos, resultErr) },
	))
}

// Size issues an fstat as a pool job to report the file's current size.
func (f *File) Size(pool *queue.WorkerPool, resume func(int64, error)) {
	var size int64
	var resultErr error
	pool.Submit(queue.NewJob(
		func() {
			var st unix.Stat_t
			if err := unix.Fstat(f.fd, &st); err != nil {
				resultErr = ioerrors.NewErrnoError("fstat", err.(unix.Errno))
				return
			}
			size = st.Size
		},
		func() { resume(size, resultErr) },
	))
}

// Lock issues an advisory flock as a pool job.
func (f *File) Lock(pool *queue.WorkerPool, exclusive bool, resume func(error)) {
	var resultErr error
	pool.Submit(queue.NewJob(
		func() {
			how := unix.LOCK_SH
			if exclusive {
				how = unix.LOCK_EX
			}
			if err := unix.Flock(f.fd, how); err != nil {
				resultErr = ioerrors.NewErrnoError("flock", err.(unix.Errno))
			}
		},
		func() { resume(resultErr) },
	))
}
