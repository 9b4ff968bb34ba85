// Package loop implements the Event Reactor (spec.md §4.1): a
// single-threaded epoll multiplexer carrying fd-readiness, timer, idle,
// and cross-thread async-wake watchers. Exactly one goroutine, pinned to
// its OS thread for the reactor's lifetime, may call Run.
package loop

import (
	"container/heap"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/fenwicklabs/evcore/internal/logging"
)

// maxEpollEvents bounds a single EpollWait batch.
const maxEpollEvents = 256

// fdEntry tracks the callbacks and currently-registered interest set for
// one file descriptor.
type fdEntry struct {
	fd         int
	interest   uint32
	onReadable func()
	onWritable func()
}

// IdleWatcher fires once per reactor turn while armed (spec §4.1 "idle
// watcher"). Multiple independent idle watchers may be armed at once
// (the run queue's drain watcher and the run-queue-empty watcher that
// Runtime arms during graceful shutdown, for instance).
type IdleWatcher struct {
	cb    func()
	armed atomic.Bool
}

// Arm activates the watcher; it will run on every subsequent loop turn
// until Disarm is called. Reactor-thread only.
func (w *IdleWatcher) Arm() { w.armed.Store(true) }

// Disarm deactivates the watcher. Reactor-thread only.
func (w *IdleWatcher) Disarm() { w.armed.Store(false) }

// Active reports whether the watcher is currently armed.
func (w *IdleWatcher) Active() bool { return w.armed.Load() }

// Reactor is the event loop described by spec §4.1. It owns an epoll
// instance, a min-heap of timer watchers, a set of idle watchers, and an
// eventfd-backed async-wake channel for cross-thread notification.
//
// All methods except Async().Send and Break are reactor-thread only; the
// reactor never locks its own fd/timer/idle bookkeeping because nothing
// but the loop goroutine touches it.
type Reactor struct {
	epfd int

	fds map[int]*fdEntry

	timers timerHeap

	idles map[*IdleWatcher]struct{}

	wake *asyncWatcher

	breaking atomic.Bool
	logger   *logging.Logger
}

// New creates a Reactor. It does not start running until Run is called
// from the goroutine that will own it for its lifetime.
func New(logger *logging.Logger) (*Reactor, error) {
	if logger == nil {
		logger = logging.Default()
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("loop: epoll_create1: %w", err)
	}
	r := &Reactor{
		epfd:   epfd,
		fds:    make(map[int]*fdEntry),
		idles:  make(map[*IdleWatcher]struct{}),
		logger: logger,
	}
	heap.Init(&r.timers)

	wake, err := newAsyncWatcher(r)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	r.wake = wake
	return r, nil
}

// Close releases the epoll instance and the wake eventfd. Call only
// after Run has returned.
func (r *Reactor) Close() error {
	r.wake.close()
	return unix.Close(r.epfd)
}

// AddFD registers fd for readiness notification. onReadable and
// onWritable may be nil; a nil callback means "not interested in that
// direction". Reactor-thread only (spec §4.1 fd-read / fd-write
// watchers).
func (r *Reactor) AddFD(fd int, onReadable, onWritable func()) error {
	if _, exists := r.fds[fd]; exists {
		return fmt.Errorf("loop: fd %d already registered", fd)
	}
	entry := &fdEntry{fd: fd, onReadable: onReadable, onWritable: onWritable}
	entry.interest = interestFlags(onReadable != nil, onWritable != nil)
	r.fds[fd] = entry
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: entry.interest,
		Fd:     int32(fd),
	})
}

// ModifyFD updates the readable/writable callbacks for an already
// registered fd.
func (r *Reactor) ModifyFD(fd int, onReadable, onWritable func()) error {
	entry, exists := r.fds[fd]
	if !exists {
		return fmt.Errorf("loop: fd %d not registered", fd)
	}
	entry.onReadable = onReadable
	entry.onWritable = onWritable
	entry.interest = interestFlags(onReadable != nil, onWritable != nil)
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: entry.interest,
		Fd:     int32(fd),
	})
}

// RemoveFD unregisters fd. The caller remains responsible for closing
// the descriptor itself.
func (r *Reactor) RemoveFD(fd int) error {
	if _, exists := r.fds[fd]; !exists {
		return fmt.Errorf("loop: fd %d not registered", fd)
	}
	delete(r.fds, fd)
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func interestFlags(readable, writable bool) uint32 {
	var flags uint32
	if readable {
		flags |= unix.EPOLLIN
	}
	if writable {
		flags |= unix.EPOLLOUT
	}
	return flags
}

// AddIdle creates a new, initially disarmed idle watcher.
func (r *Reactor) AddIdle(cb func()) *IdleWatcher {
	w := &IdleWatcher{cb: cb}
	r.idles[w] = struct{}{}
	return w
}

// RemoveIdle forgets the watcher entirely.
func (r *Reactor) RemoveIdle(w *IdleWatcher) {
	delete(r.idles, w)
}

// AddTimer arms a timer watcher that fires cb after delay, and then
// every repeat thereafter if repeat > 0 (spec §4.1 timer watcher). No
// timerfd or time.Timer is involved: the timer goes into the reactor's
// deadline heap, and the nearest deadline sets EpollWait's timeout.
func (r *Reactor) AddTimer(delay, repeat time.Duration, cb func()) *TimerWatcher {
	t := &TimerWatcher{
		deadline: time.Now().Add(delay),
		repeat:   repeat,
		cb:       cb,
	}
	heap.Push(&r.timers, t)
	return t
}

// Async returns the reactor's cross-thread wake handle. Worker pools and
// other background producers call Async().Send() to request a reactor
// turn; the callback registered via SetAsyncCallback runs on the
// reactor thread once per coalesced batch of sends.
func (r *Reactor) Async() *asyncWatcher { return r.wake }

// SetAsyncCallback installs the function invoked on the reactor thread
// whenever Async().Send has been called one or more times since the
// last turn (spec §4.1 "async-wake, coalescing").
func (r *Reactor) SetAsyncCallback(cb func()) { r.wake.cb = cb }

// Break asks the loop to return from Run as soon as the current turn
// finishes. Safe to call from any thread.
func (r *Reactor) Break() {
	r.breaking.Store(true)
	r.wake.Send()
}

// Run blocks, pinning the calling goroutine to its OS thread for the
// reactor's lifetime (spec §4.1: "exactly one native thread owns the
// reactor", grounded on the teacher's per-queue ioLoop LockOSThread
// pattern), until Break is called or an unrecoverable epoll error
// occurs.
func (r *Reactor) Run() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var events [maxEpollEvents]unix.EpollEvent

	for !r.breaking.Load() {
		timeout := r.nextTimeout()

		n, err := unix.EpollWait(r.epfd, events[:], timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("loop: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			r.dispatchFD(events[i])
		}

		r.fireDueTimers()
		r.fireIdles()
	}
	return nil
}

func (r *Reactor) dispatchFD(ev unix.EpollEvent) {
	fd := int(ev.Fd)
	entry, ok := r.fds[fd]
	if !ok {
		return
	}
	if ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 && entry.onReadable != nil {
		entry.onReadable()
	}
	if ev.Events&unix.EPOLLOUT != 0 && entry.onWritable != nil {
		entry.onWritable()
	}
}

func (r *Reactor) fireDueTimers() {
	now := time.Now()
	for r.timers.Len() > 0 {
		next := r.timers[0]
		if next.canceled {
			heap.Pop(&r.timers)
			continue
		}
		if next.deadline.After(now) {
			break
		}
		heap.Pop(&r.timers)
		next.cb()
		if next.repeat > 0 && !next.canceled {
			next.deadline = now.Add(next.repeat)
			heap.Push(&r.timers, next)
		}
	}
}

func (r *Reactor) fireIdles() {
	for w := range r.idles {
		if w.Active() {
			w.cb()
		}
	}
}

// nextTimeout computes the EpollWait timeout in milliseconds: 0 if any
// idle watcher is armed (spec: poll without blocking so the idle
// watcher runs every turn), the time to the soonest timer if one is
// pending, or -1 (block indefinitely) if neither applies.
func (r *Reactor) nextTimeout() int {
	for w := range r.idles {
		if w.Active() {
			return 0
		}
	}
	for r.timers.Len() > 0 && r.timers[0].canceled {
		heap.Pop(&r.timers)
	}
	if r.timers.Len() == 0 {
		return -1
	}
	d := time.Until(r.timers[0].deadline)
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms > int64(int(^uint(0)>>1)) {
		return int(^uint(0) >> 1)
	}
	return int(ms)
}
