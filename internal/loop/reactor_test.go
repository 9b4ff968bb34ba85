package loop

import (
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReactor(t *testing.T) *Reactor {
	t.Helper()
	r, err := New(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestReactorFDReadable(t *testing.T) {
	r := newTestReactor(t)

	readEnd, writeEnd, err := os.Pipe()
	require.NoError(t, err)
	defer readEnd.Close()
	defer writeEnd.Close()

	fired := make(chan struct{}, 1)
	require.NoError(t, r.AddFD(int(readEnd.Fd()), func() {
		var buf [1]byte
		readEnd.Read(buf[:])
		fired <- struct{}{}
		r.Break()
	}, nil))

	go func() {
		time.Sleep(10 * time.Millisecond)
		writeEnd.Write([]byte{'x'})
	}()

	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("fd readable callback never fired")
	}
	require.NoError(t, <-done)
}

func TestReactorTimer(t *testing.T) {
	r := newTestReactor(t)

	var fired atomic.Bool
	r.AddTimer(10*time.Millisecond, 0, func() {
		fired.Store(true)
		r.Break()
	})

	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
	assert.True(t, fired.Load())
}

func TestReactorRepeatingTimerStops(t *testing.T) {
	r := newTestReactor(t)

	var count atomic.Int32
	var timer *TimerWatcher
	timer = r.AddTimer(5*time.Millisecond, 5*time.Millisecond, func() {
		n := count.Add(1)
		if n >= 3 {
			timer.Stop()
			r.Break()
		}
	})

	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("repeating timer never reached count")
	}
	assert.GreaterOrEqual(t, count.Load(), int32(3))
}

func TestReactorIdleWatcherRunsEveryTurn(t *testing.T) {
	r := newTestReactor(t)

	var ticks atomic.Int32
	idle := r.AddIdle(func() {
		if ticks.Add(1) >= 5 {
			r.Break()
		}
	})
	idle.Arm()
	assert.True(t, idle.Active())

	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("idle watcher never reached tick target")
	}
	assert.GreaterOrEqual(t, ticks.Load(), int32(5))
}

func TestReactorIdleWatcherDisarmStopsTicking(t *testing.T) {
	r := newTestReactor(t)

	var ticks atomic.Int32
	var atDisarm atomic.Int32
	idle := r.AddIdle(func() { ticks.Add(1) })
	idle.Arm()

	r.AddTimer(30*time.Millisecond, 0, func() {
		idle.Disarm()
		atDisarm.Store(ticks.Load())
		r.AddTimer(30*time.Millisecond, 0, func() { r.Break() })
	})

	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reactor never stopped")
	}
	assert.False(t, idle.Active())
	assert.Equal(t, atDisarm.Load(), ticks.Load())
}

// TestReactorAsyncWakeCoalesces is the §8 "Async wake" testable
// property: many concurrent Send calls from other goroutines collapse
// into reactor turns that observe a coalesced notification, not one
// per send, while still guaranteeing at least one callback invocation
// after the last send lands.
func TestReactorAsyncWakeCoalesces(t *testing.T) {
	r := newTestReactor(t)

	var invocations atomic.Int32
	var sawWork atomic.Bool
	work := make(chan struct{}, 1000)

	r.SetAsyncCallback(func() {
		invocations.Add(1)
		for {
			select {
			case <-work:
				sawWork.Store(true)
			default:
				return
			}
		}
	})

	const senders = 50
	const perSender = 20
	doneSending := make(chan struct{})
	go func() {
		for i := 0; i < senders; i++ {
			go func() {
				for j := 0; j < perSender; j++ {
					work <- struct{}{}
					r.Async().Send()
				}
			}()
		}
		time.Sleep(100 * time.Millisecond)
		close(doneSending)
	}()

	go func() {
		<-doneSending
		time.Sleep(50 * time.Millisecond)
		r.Break()
	}()

	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reactor never drained async wakes")
	}

	assert.True(t, sawWork.Load())
	assert.Less(t, int(invocations.Load()), senders*perSender, "sends should coalesce into fewer reactor turns than sends")
}

func TestIgnoreBrokenPipe(t *testing.T) {
	assert.NotPanics(t, func() { IgnoreBrokenPipe() })
}
