package queue

import (
	"runtime"
	"sync"
	"time"

	"github.com/fenwicklabs/evcore/internal/constants"
	"github.com/fenwicklabs/evcore/internal/logging"
)

// Job is an async job: a work closure that runs on a worker thread and a
// reap closure that runs back on the reactor thread once work
// completes (spec §3 Async Job, §4.3). next links jobs into the
// singly-linked submission queue and, after completion, the done list.
type Job struct {
	Work func()
	Reap func()
	next *Job
}

// NewJob creates a job. reap may be nil, in which case the reactor frees
// the job directly instead of invoking it (spec §4.3 reactor async-wake
// callback).
func NewJob(work, reap func()) *Job {
	return &Job{Work: work, Reap: reap}
}

// WorkerPool is the async-work pool of spec §4.3: a mutex-guarded
// singly-linked job queue serviced by zero or more OS threads, a
// separately-locked done list, and a reactor-only in-flight counter.
//
// The spec models worker wakeup as a condition variable with a timed
// wait; sync.Cond has no timed-wait primitive, so WorkerPool uses the
// idiomatic Go substitute — a channel that is closed (and replaced) to
// broadcast, combined with select/time.After for the timed case.
type WorkerPool struct {
	mu      sync.Mutex
	head    *Job
	tail    *Job
	threads int
	min     int
	max     int
	delay   time.Duration
	halting bool
	signal  chan struct{}

	doneMu   sync.Mutex
	doneHead *Job

	// jobs is mutated only from the reactor thread (spec §5 "jobs is
	// reactor-only"); callers must serialize Submit/ReapCompletions on
	// that single thread.
	jobs int

	armWake    func()
	disarmWake func()
	notify     func()
	logger     *logging.Logger
}

// NewWorkerPool creates a pool with the given tuning knobs. armWake and
// disarmWake start/stop the reactor's async-wake watcher on the
// jobs==0<->jobs>0 transition; notify wakes the reactor (signals the
// async-wake watcher) whenever a job lands on the done list.
func NewWorkerPool(min, max int, delay time.Duration, armWake, disarmWake, notify func(), logger *logging.Logger) *WorkerPool {
	if min < 0 {
		min = constants.DefaultMinThreads
	}
	if max <= 0 {
		max = constants.DefaultMaxThreads
	}
	if delay <= 0 {
		delay = constants.DefaultIdleDecay
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WorkerPool{
		min:        min,
		max:        max,
		delay:      delay,
		signal:     make(chan struct{}),
		armWake:    armWake,
		disarmWake: disarmWake,
		notify:     notify,
		logger:     logger,
	}
}

// broadcastLocked wakes every worker currently parked on p.signal. Caller
// must hold p.mu.
func (p *WorkerPool) broadcastLocked() {
	close(p.signal)
	p.signal = make(chan struct{})
}

// Submit enqueues a job, spawning a worker thread if the pool is under
// max and has more in-flight jobs than live threads (spec §4.3
// Submission steps 1-4).
func (p *WorkerPool) Submit(job *Job) {
	if p.jobs == 0 && p.armWake != nil {
		p.armWake()
	}
	p.jobs++

	p.mu.Lock()
	job.next = nil
	if p.tail == nil {
		p.head = job
	} else {
		p.tail.next = job
	}
	p.tail = job

	spawn := false
	if !p.halting && p.jobs > p.threads && p.threads < p.max {
		p.threads++
		spawn = true
	}
	p.broadcastLocked()
	p.mu.Unlock()

	if spawn {
		go p.workerLoop()
	}
}

// workerLoop is a single worker's main loop (spec §4.3 "Worker main
// loop"). It only ever touches p.mu/threads/head/tail and the done list
// — never the reactor-only jobs counter or interpreter state.
func (p *WorkerPool) workerLoop() {
	// Each worker owns its OS thread; the thread exits with the worker.
	runtime.LockOSThread()
	for {
		p.mu.Lock()
		for p.head == nil {
			if p.halting {
				p.threads--
				p.mu.Unlock()
				return
			}
			if p.threads <= p.min {
				ch := p.signal
				p.mu.Unlock()
				<-ch
				p.mu.Lock()
				continue
			}

			ch := p.signal
			timer := time.NewTimer(p.delay)
			p.mu.Unlock()

			select {
			case <-ch:
				timer.Stop()
				p.mu.Lock()
			case <-timer.C:
				p.mu.Lock()
				if p.head == nil && p.threads > p.min {
					p.threads--
					p.mu.Unlock()
					return
				}
			}
		}

		job := p.head
		p.head = job.next
		if p.head == nil {
			p.tail = nil
		}
		p.mu.Unlock()

		job.Work()

		p.doneMu.Lock()
		job.next = p.doneHead
		p.doneHead = job
		p.doneMu.Unlock()

		if p.notify != nil {
			p.notify()
		}
	}
}

// ReapCompletions drains the done list, decrementing jobs and invoking
// each job's reap callback on the reactor thread (spec §4.3 "Reactor
// async-wake callback"). Call this from the async-wake watcher's
// callback.
func (p *WorkerPool) ReapCompletions() int {
	p.doneMu.Lock()
	done := p.doneHead
	p.doneHead = nil
	p.doneMu.Unlock()

	reaped := 0
	for job := done; job != nil; {
		next := job.next
		p.jobs--
		if job.Reap != nil {
			job.Reap()
		}
		job = next
		reaped++
	}

	if p.jobs == 0 && p.disarmWake != nil {
		p.disarmWake()
	}
	return reaped
}

// Configure adjusts pool tuning knobs and wakes parked workers so a
// lowered min/raised max takes effect immediately (spec §4.3
// "async_config").
func (p *WorkerPool) Configure(delay time.Duration, min, max int) {
	p.mu.Lock()
	if delay > 0 {
		p.delay = delay
	}
	p.min = min
	p.max = max
	p.broadcastLocked()
	p.mu.Unlock()
}

// BeginHalt starts the graceful-drain protocol (spec §4.3 "halt"): caps
// max at the current thread count and raises halting, then wakes every
// parked worker so idle-above-min workers exit immediately instead of
// waiting out their decay timer. The caller (Runtime) is responsible for
// polling ThreadsAlive and bounding the total wait with a deadline.
func (p *WorkerPool) BeginHalt() {
	p.mu.Lock()
	p.max = p.threads
	p.halting = true
	p.broadcastLocked()
	p.mu.Unlock()
}

// ThreadsAlive returns the current number of live worker threads.
func (p *WorkerPool) ThreadsAlive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.threads
}

// JobsInFlight returns the reactor-only in-flight job counter. Callers
// must be the reactor thread.
func (p *WorkerPool) JobsInFlight() int { return p.jobs }
