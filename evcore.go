// Package evcore provides the public API for the event-machine runtime:
// a single-process reactor that hosts cooperatively-scheduled user tasks
// over non-blocking file descriptors, backed by a worker pool for
// blocking work.
package evcore

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fenwicklabs/evcore/internal/config"
	"github.com/fenwicklabs/evcore/internal/constants"
	"github.com/fenwicklabs/evcore/internal/loop"
	"github.com/fenwicklabs/evcore/internal/logging"
	"github.com/fenwicklabs/evcore/internal/queue"
	"github.com/fenwicklabs/evcore/internal/scripting"
	"github.com/fenwicklabs/evcore/internal/task"
)

// Runtime wires together the Event Reactor (spec §4.1), Run Queue (§4.2),
// Worker Pool (§4.3), and User-Task Host (§4.5) into the single dispatch
// core the rest of the package's I/O object model runs on top of.
type Runtime struct {
	Reactor *loop.Reactor
	Pool    *queue.WorkerPool
	Queue   *queue.RunQueue
	Tasks   *task.Host

	drainIdle *loop.IdleWatcher

	interp          scripting.Interpreter
	logger          *logging.Logger
	maxCleanupDelay time.Duration

	// shutdownRequested is set by Shutdown, which may run on any thread;
	// shutdownStarted is touched only from inside the reactor's async
	// callback (reactor thread), guarding the graceful drain against
	// starting twice on repeated Shutdown calls.
	shutdownRequested atomic.Bool
	shutdownStarted   bool
}

// New creates a Runtime bound to interp, the embedded scripting
// capability surface (spec §1 "the scripting interpreter... only its
// capabilities are assumed"). cfg supplies the worker-pool knobs and
// shutdown deadline; a nil cfg uses config.Default().
func New(interp scripting.Interpreter, cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	logger := logging.NewLogger(&logging.Config{Level: cfg.Level()})
	logging.SetDefault(logger)

	loop.IgnoreBrokenPipe()

	reactor, err := loop.New(logger)
	if err != nil {
		return nil, fmt.Errorf("evcore: %w", err)
	}

	rt := &Runtime{
		Reactor:         reactor,
		Tasks:           task.NewHost(interp, logger),
		interp:          interp,
		logger:          logger,
		maxCleanupDelay: cfg.MaxCleanupDelay,
	}

	rt.drainIdle = reactor.AddIdle(rt.drain)
	rt.Queue = queue.NewRunQueue(constants.InitialRunQueueCapacity, rt.drainIdle.Arm, rt.drainIdle.Disarm)

	rt.Pool = queue.NewWorkerPool(
		cfg.MinThreads, cfg.MaxThreads, cfg.IdleDecay(),
		reactor.Async().Send, nil, reactor.Async().Send,
		logger,
	)
	reactor.SetAsyncCallback(func() {
		rt.Pool.ReapCompletions()
		rt.maybeBeginShutdown()
	})

	return rt, nil
}

// Enqueue schedules task for resumption with nargs arguments on the next
// drain turn, preserving enqueue order (spec §4.2 "resume order equals
// enqueue order").
func (rt *Runtime) Enqueue(handle scripting.TaskHandle, nargs uint16) {
	rt.Queue.Enqueue(handle, nargs)
}

// Submit hands work to the worker pool (spec §4.3 "Submission").
func (rt *Runtime) Submit(job *queue.Job) {
	rt.Pool.Submit(job)
}

// drain is the run queue's idle callback (spec §4.2 "drain()"): resumes
// every pending task in FIFO order, dispatching on the interpreter's
// resume result, until the queue is empty.
func (rt *Runtime) drain() {
	for !rt.Queue.Empty() {
		rec := rt.Queue.Dequeue()

		// The real resume values were pushed onto the interpreter's own
		// task-local stack by whichever watcher or pool-job callback
		// called Enqueue, mirroring a coroutine resume where the caller
		// pushes arguments before invoking resume(L, nargs); only the
		// count crosses the queue (spec §3 Data Model).
		args := make([]any, rec.Nargs)
		status, traceback, err := rt.interp.Resume(rec.Task, args...)
		if err != nil {
			rt.Tasks.Fail(rec.Task, err.Error())
			rt.Reactor.Break()
			return
		}

		switch status {
		case scripting.StatusCompleted:
			rt.Tasks.Forget(rec.Task)
		case scripting.StatusYielded:
			// A watcher or pool job now owns the task.
		case scripting.StatusRuntimeError:
			rt.Tasks.Fail(rec.Task, traceback)
			rt.Reactor.Break()
			return
		case scripting.StatusOOM:
			rt.logger.Errorf("task %s: out of memory", rec.Task.Correlation())
			panic("evcore: interpreter out of memory")
		default:
			rt.Tasks.Fail(rec.Task, "unknown error")
			rt.Reactor.Break()
			return
		}
	}
}

// Run starts the reactor loop. It blocks until Stop is called, a fatal
// task error unwinds the loop, or an unrecoverable epoll error occurs.
func (rt *Runtime) Run() error {
	return rt.Reactor.Run()
}

// Stop requests the reactor return from Run at the end of its current
// turn.
func (rt *Runtime) Stop() {
	rt.Reactor.Break()
}

// Shutdown requests the graceful-drain protocol (spec §4.3 "halt", §6
// MAX_CLEANUP_DELAY). It is safe to call from any thread — a signal
// handler, another goroutine, or the reactor thread itself — since it
// only flips an atomic flag and wakes the reactor through Async().Send,
// the same cross-thread path the worker pool uses to report job
// completions. The actual drain setup runs on the reactor thread inside
// the async callback, where touching reactor-owned state (AddIdle) is
// safe (spec §5). A second Shutdown call while one is already underway
// is a no-op.
func (rt *Runtime) Shutdown() {
	if !rt.shutdownRequested.CompareAndSwap(false, true) {
		return
	}
	rt.Pool.BeginHalt()
	rt.Reactor.Async().Send()
}

// maybeBeginShutdown runs on the reactor thread, inside the async
// callback, once per wake. It starts the graceful drain exactly once,
// the turn after Shutdown's flag becomes visible.
func (rt *Runtime) maybeBeginShutdown() {
	if rt.shutdownStarted || !rt.shutdownRequested.Load() {
		return
	}
	rt.shutdownStarted = true
	rt.beginGracefulDrain()
}

// beginGracefulDrain waits for the worker pool's threads and the run
// queue's pending resumes to both drain, whichever takes longer,
// bounded by the configured deadline. The two drains are watched
// concurrently by an errgroup.Group under a shared timeout context, the
// way llm-mux's streamutil.Pipeline bounds its producer goroutines
// (internal/streamutil/pipeline.go). Only ThreadsAlive (mutex-guarded)
// is polled off-thread; the run queue is reactor-thread only (spec §5),
// so its drain is observed through a reactor-thread idle watcher
// reporting into a channel instead of a cross-thread call to
// Queue.Empty. Break is called, once the last goroutine finishes, by
// the errgroup's waiter goroutine, which Reactor.Break documents as
// safe from any thread. Must be called from the reactor thread.
func (rt *Runtime) beginGracefulDrain() {
	deadline := rt.maxCleanupDelay
	if deadline <= 0 {
		rt.Reactor.Break()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	g, ctx := errgroup.WithContext(ctx)

	queueDrained := make(chan struct{})
	var queueIdle *loop.IdleWatcher
	queueIdle = rt.Reactor.AddIdle(func() {
		if rt.Queue.Empty() {
			queueIdle.Disarm()
			rt.Reactor.RemoveIdle(queueIdle)
			close(queueDrained)
		}
	})
	queueIdle.Arm()

	g.Go(func() error {
		return pollUntilDrained(ctx, func() bool { return rt.Pool.ThreadsAlive() == 0 })
	})
	g.Go(func() error {
		select {
		case <-queueDrained:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	go func() {
		g.Wait()
		cancel()
		rt.Reactor.Break()
	}()
}

// pollUntilDrained blocks until drained reports true or ctx expires,
// whichever comes first.
func pollUntilDrained(ctx context.Context, drained func() bool) error {
	ticker := time.NewTicker(constants.DrainPollInterval)
	defer ticker.Stop()
	for {
		if drained() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close releases the reactor's epoll instance and wake eventfd. Call
// only after Run has returned.
func (rt *Runtime) Close() error {
	return rt.Reactor.Close()
}

// ExitStatus returns the process exit status latched by a fatal task
// error (0 if none occurred).
func (rt *Runtime) ExitStatus() int {
	return rt.Tasks.ExitStatus
}
