// Package scripting defines the narrow contract the dispatch core assumes
// of the embedded interpreter. The core never introspects task state
// beyond this interface (spec §3: "the core never introspects task state
// except through the host's resume primitive").
package scripting

import "github.com/google/uuid"

// ResumeStatus is the result kind of resuming a task (spec §3).
type ResumeStatus int

const (
	StatusCompleted ResumeStatus = iota
	StatusYielded
	StatusRuntimeError
	StatusOOM
	StatusUnknown
)

// TaskHandle is an opaque reference to a suspendable unit of user code
// (spec §3). The zero value is not a valid handle.
type TaskHandle struct {
	id        uint64
	correlate uuid.UUID
}

// Correlation returns a stable identifier suitable for log correlation
// across a task's suspend/resume lifetime.
func (h TaskHandle) Correlation() string { return h.correlate.String() }

// ID returns the interpreter-assigned numeric identity of the handle.
func (h TaskHandle) ID() uint64 { return h.id }

// Interpreter is the capability surface the dispatch core requires from
// the embedded scripting layer: create a suspendable task, push
// arguments, resume it, and observe its completion status. Everything
// else about the interpreter — its bytecode, GC, call frames — is an
// external collaborator outside this spec's scope (spec §1).
type Interpreter interface {
	// NewTask creates a suspendable call frame for fn, returning a handle
	// that may later be resumed with arguments.
	NewTask(fn any) (TaskHandle, error)

	// Resume resumes task with the given arguments, returning the result
	// kind and (on StatusRuntimeError) a human-readable traceback.
	Resume(task TaskHandle, args ...any) (ResumeStatus, string, error)

	// Pin prevents the interpreter's garbage collector from reclaiming a
	// suspended task (spec §4.5, §8 "Interpreter task pinning").
	Pin(task TaskHandle)

	// Unpin releases a previously pinned task, permitting GC once it
	// completes or errors fatally.
	Unpin(task TaskHandle)
}

// NewHandle allocates a fresh handle carrying a random correlation ID.
// Concrete Interpreter implementations call this from NewTask.
func NewHandle(id uint64) TaskHandle {
	return TaskHandle{id: id, correlate: uuid.New()}
}
