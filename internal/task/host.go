// Package task implements the User-Task Host (spec §4.5): the ownership
// registry that pins every unfinished task against interpreter garbage
// collection and releases it on completion or fatal error.
package task

import (
	"sync"

	"github.com/fenwicklabs/evcore/internal/logging"
	"github.com/fenwicklabs/evcore/internal/scripting"
)

// Host is a keyed set of live tasks. All methods are reactor-thread-only
// (spec §5: "All interpreter state is reactor-only") except Count, which
// a metrics goroutine may call; Host therefore guards its map with a
// mutex purely for that one cross-thread read, not for task-state safety.
type Host struct {
	mu     sync.Mutex
	live   map[scripting.TaskHandle]struct{}
	interp scripting.Interpreter
	logger *logging.Logger

	// ExitStatus and Unwind latch the process-wide shutdown request
	// raised by a fatal task error (spec §4.2 drain dispatch).
	ExitStatus int
	Unwind     bool
}

// NewHost creates a task host bound to the given interpreter.
func NewHost(interp scripting.Interpreter, logger *logging.Logger) *Host {
	if logger == nil {
		logger = logging.Default()
	}
	return &Host{
		live:   make(map[scripting.TaskHandle]struct{}),
		interp: interp,
		logger: logger,
	}
}

// Register pins a newly created task so the interpreter's GC does not
// reap it while it's suspended on a watcher or pool job.
func (h *Host) Register(handle scripting.TaskHandle) {
	h.mu.Lock()
	h.live[handle] = struct{}{}
	h.mu.Unlock()
	h.interp.Pin(handle)
	h.logger.Debugf("task registered correlation=%s", handle.Correlation())
}

// Forget deregisters a task that completed cleanly, releasing its pin.
func (h *Host) Forget(handle scripting.TaskHandle) {
	h.mu.Lock()
	delete(h.live, handle)
	h.mu.Unlock()
	h.interp.Unpin(handle)
}

// Fail records a fatal task error: captures the traceback, latches the
// process exit status to failure, and requests the event loop unwind
// (spec §4.2 "runtime-error" dispatch, spec §4.5 error propagation).
func (h *Host) Fail(handle scripting.TaskHandle, traceback string) {
	h.logger.Errorf("task %s failed: %s", handle.Correlation(), traceback)
	h.Forget(handle)
	h.ExitStatus = 1
	h.Unwind = true
}

// Count returns the number of currently live (pinned) tasks.
func (h *Host) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}

// Live reports whether handle is currently registered.
func (h *Host) Live(handle scripting.TaskHandle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.live[handle]
	return ok
}
