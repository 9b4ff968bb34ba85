// Package queue implements the Run Queue (spec §4.2) and Worker Pool
// (spec §4.3): the two structures that hand completed work back to
// suspended user tasks on the reactor thread.
package queue

import (
	"github.com/fenwicklabs/evcore/internal/constants"
	"github.com/fenwicklabs/evcore/internal/scripting"
)

// ResumeRecord is a pending task-resume (spec §3): a task handle plus
// the argument count it should be resumed with.
type ResumeRecord struct {
	Task  scripting.TaskHandle
	Nargs uint16
}

// RunQueue is a FIFO of ResumeRecords backed by a power-of-two ring
// buffer that doubles on overflow (spec §3, §4.2). It is reactor-thread
// only — no internal locking.
type RunQueue struct {
	buf   []ResumeRecord
	first int
	last  int

	// armIdle/disarmIdle are invoked when the queue transitions between
	// empty and non-empty, so the caller can start/stop the drain idle
	// watcher (spec §4.2: "the idle watcher is active iff the queue is
	// non-empty").
	armIdle    func()
	disarmIdle func()
}

// NewRunQueue creates a RunQueue with the given initial power-of-two
// capacity and idle-watcher arm/disarm hooks.
func NewRunQueue(capacity int, armIdle, disarmIdle func()) *RunQueue {
	if capacity <= 0 {
		capacity = constants.InitialRunQueueCapacity
	}
	return &RunQueue{
		buf:        make([]ResumeRecord, capacity),
		armIdle:    armIdle,
		disarmIdle: disarmIdle,
	}
}

// Empty reports whether first == last, the queue's empty invariant.
func (q *RunQueue) Empty() bool { return q.first == q.last }

// Len returns the number of pending resume records.
func (q *RunQueue) Len() int {
	if q.last >= q.first {
		return q.last - q.first
	}
	return len(q.buf) - q.first + q.last
}

// Cap returns the current ring buffer capacity (always a power of two).
func (q *RunQueue) Cap() int { return len(q.buf) }

// Enqueue appends a resume record to the tail, arming the idle watcher
// on the empty→non-empty transition and doubling the buffer if the push
// would make first == last while elements are present (spec §4.2).
func (q *RunQueue) Enqueue(task scripting.TaskHandle, nargs uint16) {
	wasEmpty := q.Empty()

	q.buf[q.last] = ResumeRecord{Task: task, Nargs: nargs}
	q.last = (q.last + 1) % len(q.buf)

	if q.last == q.first {
		q.grow()
	}

	if wasEmpty && q.armIdle != nil {
		q.armIdle()
	}
}

// grow doubles the ring buffer, copying elements in FIFO order and
// resetting first=0 (spec §3 doubling invariant).
func (q *RunQueue) grow() {
	oldCap := len(q.buf)
	newBuf := make([]ResumeRecord, oldCap*2)

	n := 0
	for i := q.first; ; i = (i + 1) % oldCap {
		newBuf[n] = q.buf[i]
		n++
		if i == (q.last-1+oldCap)%oldCap {
			break
		}
	}

	q.buf = newBuf
	q.first = 0
	q.last = n
}

// Dequeue pops the head record. Callers must check Empty() first;
// Dequeue on an empty queue panics, matching the drain loop's invariant
// that it only calls Dequeue while non-empty.
func (q *RunQueue) Dequeue() ResumeRecord {
	if q.Empty() {
		panic("queue: Dequeue on empty RunQueue")
	}
	rec := q.buf[q.first]
	q.buf[q.first] = ResumeRecord{}
	q.first = (q.first + 1) % len(q.buf)

	if q.Empty() && q.disarmIdle != nil {
		q.disarmIdle()
	}
	return rec
}
