package evcore

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwicklabs/evcore/internal/config"
	"github.com/fenwicklabs/evcore/internal/queue"
	"github.com/fenwicklabs/evcore/internal/scripting"
)

// fakeInterp is a minimal scripting.Interpreter double: every task
// created resumes with the status a test stored for its ID in the status
// map, or StatusCompleted if none was stored.
type fakeInterp struct {
	nextID  uint64
	status  map[uint64]scripting.ResumeStatus
	resumed int32
	pinned  map[scripting.TaskHandle]bool
}

func newFakeInterp() *fakeInterp {
	return &fakeInterp{status: make(map[uint64]scripting.ResumeStatus), pinned: make(map[scripting.TaskHandle]bool)}
}

func (f *fakeInterp) NewTask(fn any) (scripting.TaskHandle, error) {
	f.nextID++
	return scripting.NewHandle(f.nextID), nil
}

func (f *fakeInterp) Resume(t scripting.TaskHandle, args ...any) (scripting.ResumeStatus, string, error) {
	atomic.AddInt32(&f.resumed, 1)
	status, ok := f.status[t.ID()]
	if !ok {
		status = scripting.StatusCompleted
	}
	if status == scripting.StatusRuntimeError {
		return status, "boom", nil
	}
	return status, "", nil
}

func (f *fakeInterp) Pin(t scripting.TaskHandle)   { f.pinned[t] = true }
func (f *fakeInterp) Unpin(t scripting.TaskHandle) { f.pinned[t] = false }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.IdleDecaySeconds = 0.02
	return cfg
}

func TestRuntimeDrainsCompletedTask(t *testing.T) {
	interp := newFakeInterp()
	rt, err := New(interp, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })

	handle, err := interp.NewTask(nil)
	require.NoError(t, err)
	rt.Tasks.Register(handle)
	rt.Enqueue(handle, 0)

	done := make(chan struct{})
	go func() {
		rt.Run()
		close(done)
	}()

	require.Eventually(t, func() bool { return !rt.Tasks.Live(handle) }, time.Second, time.Millisecond)
	rt.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Equal(t, 0, rt.ExitStatus())
}

func TestRuntimeUnwindsOnRuntimeError(t *testing.T) {
	interp := newFakeInterp()
	rt, err := New(interp, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })

	handle, err := interp.NewTask(nil)
	require.NoError(t, err)
	interp.status[handle.ID()] = scripting.StatusRuntimeError
	rt.Tasks.Register(handle)
	rt.Enqueue(handle, 0)

	done := make(chan struct{})
	go func() {
		rt.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not unwind after a runtime error")
	}
	assert.Equal(t, 1, rt.ExitStatus())
}

func TestRuntimeShutdownDrainsPoolBeforeStopping(t *testing.T) {
	interp := newFakeInterp()
	cfg := testConfig()
	cfg.MaxCleanupDelay = time.Second
	rt, err := New(interp, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })

	done := make(chan struct{})
	go func() {
		rt.Run()
		close(done)
	}()

	rt.Submit(queue.NewJob(func() { time.Sleep(5 * time.Millisecond) }, nil))
	time.Sleep(10 * time.Millisecond)
	rt.Shutdown()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
	assert.Equal(t, 0, rt.Pool.ThreadsAlive())
}
