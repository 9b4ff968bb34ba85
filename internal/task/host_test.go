package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwicklabs/evcore/internal/scripting"
)

// fakeInterpreter tracks Pin/Unpin calls without running real bytecode;
// it satisfies scripting.Interpreter for host-registry tests.
type fakeInterpreter struct {
	next   uint64
	pinned map[scripting.TaskHandle]bool
}

func newFakeInterpreter() *fakeInterpreter {
	return &fakeInterpreter{pinned: make(map[scripting.TaskHandle]bool)}
}

func (f *fakeInterpreter) NewTask(fn any) (scripting.TaskHandle, error) {
	f.next++
	return scripting.NewHandle(f.next), nil
}

func (f *fakeInterpreter) Resume(task scripting.TaskHandle, args ...any) (scripting.ResumeStatus, string, error) {
	return scripting.StatusCompleted, "", nil
}

func (f *fakeInterpreter) Pin(task scripting.TaskHandle)   { f.pinned[task] = true }
func (f *fakeInterpreter) Unpin(task scripting.TaskHandle) { f.pinned[task] = false }

func TestHostRegisterForget(t *testing.T) {
	interp := newFakeInterpreter()
	h := NewHost(interp, nil)

	handle, err := interp.NewTask(nil)
	require.NoError(t, err)

	h.Register(handle)
	assert.True(t, h.Live(handle))
	assert.True(t, interp.pinned[handle])
	assert.Equal(t, 1, h.Count())

	h.Forget(handle)
	assert.False(t, h.Live(handle))
	assert.False(t, interp.pinned[handle])
	assert.Equal(t, 0, h.Count())
}

// TestTaskPinningSurvivesGC is the §8 "Interpreter task pinning" testable
// property, checked from the host side: a suspended task stays registered
// and pinned (the hold that keeps the interpreter's GC from reclaiming it)
// until it is forgotten. The fake interpreter has no collector, so no GC
// is forced here.
func TestTaskPinningSurvivesGC(t *testing.T) {
	interp := newFakeInterpreter()
	h := NewHost(interp, nil)

	handle, _ := interp.NewTask(nil)
	h.Register(handle)

	// A suspended task stays registered (and thus pinned) until either
	// clean completion or fatal error explicitly forgets it.
	assert.True(t, h.Live(handle))
	assert.True(t, interp.pinned[handle])

	status, _, _ := interp.Resume(handle)
	assert.Equal(t, scripting.StatusCompleted, status)
	h.Forget(handle)
	assert.False(t, h.Live(handle))
}

func TestHostFailLatchesExitStatus(t *testing.T) {
	interp := newFakeInterpreter()
	h := NewHost(interp, nil)

	handle, _ := interp.NewTask(nil)
	h.Register(handle)

	h.Fail(handle, "boom: stack trace")
	assert.Equal(t, 1, h.ExitStatus)
	assert.True(t, h.Unwind)
	assert.False(t, h.Live(handle))
}
