package loop

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// asyncWatcher is the reactor's cross-thread wake channel (spec §4.1
// "async-wake (an eventfd, coalescing, cross-thread safe)"). Any number
// of background threads may call Send concurrently; the kernel
// coalesces eventfd writes into a single counter, so the reactor wakes
// at most once per batch of sends rather than once per send.
type asyncWatcher struct {
	fd int
	cb func()
}

func newAsyncWatcher(r *Reactor) (*asyncWatcher, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("loop: eventfd: %w", err)
	}
	w := &asyncWatcher{fd: fd}
	if err := r.AddFD(fd, w.drain, nil); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return w, nil
}

// Send requests a reactor turn. Safe to call from any thread, including
// the reactor's own.
func (w *asyncWatcher) Send() {
	var val [8]byte
	val[0] = 1
	_, _ = unix.Write(w.fd, val[:])
}

// drain resets the eventfd counter to zero and invokes the registered
// callback, if any. A single read suffices: eventfd semantics return
// the accumulated counter and reset it atomically. Reactor-thread only
// (invoked from Reactor.Run via the fd-readable dispatch path).
func (w *asyncWatcher) drain() {
	var buf [8]byte
	_, _ = unix.Read(w.fd, buf[:])
	if w.cb != nil {
		w.cb()
	}
}

func (w *asyncWatcher) close() {
	unix.Close(w.fd)
}
