package ioendpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"
)

func TestSpawnPipeRoundTrip(t *testing.T) {
	h := newHarness(t)

	result, err := Spawn(h.reactor, []string{"/bin/echo", "hello-spawn"}, []StreamSpec{
		{Kind: StreamPipe, ChildWritesBack: true, Target: 1},
	}, []string{}, SpawnAttrs{})
	require.NoError(t, err)
	require.Len(t, result.Streams, 1)
	assert.Greater(t, result.PID, 0)

	out := result.Streams[0]
	valueCh := make(chan ReadResult, 1)
	out.ReadParsed(linesParser{}, func(r ReadResult) { valueCh <- r })

	select {
	case r := <-valueCh:
		require.NoError(t, r.Err)
		assert.Equal(t, "hello-spawn", r.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("spawned child's output was never read")
	}

	out.Close()
	var ws unix.WaitStatus
	_, _ = unix.Wait4(result.PID, &ws, 0, nil)
}

func TestSpawnStdinPipe(t *testing.T) {
	h := newHarness(t)

	result, err := Spawn(h.reactor, []string{"/bin/cat"}, []StreamSpec{
		{Kind: StreamPipe, ChildWritesBack: false, Target: 0},
	}, []string{}, SpawnAttrs{})
	require.NoError(t, err)
	require.Len(t, result.Streams, 1)

	in := result.Streams[0]
	doneCh := make(chan error, 1)
	in.Write([]byte("line\n"), func(err error) { doneCh <- err })

	select {
	case err := <-doneCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("write to child stdin did not resume")
	}

	in.Close()
	unix.Kill(result.PID, unix.SIGKILL)
	var ws unix.WaitStatus
	_, _ = unix.Wait4(result.PID, &ws, 0, nil)
}

// TestSpawnControllingTTYUsesSpecTarget is a regression test for wiring
// the controlling-terminal ioctl to whichever fd slot the PTY slave
// actually occupies (here Target 3, not 0) rather than a hardcoded fd.
func TestSpawnControllingTTYUsesSpecTarget(t *testing.T) {
	h := newHarness(t)

	result, err := Spawn(h.reactor, []string{"/bin/sh", "-c", "test -t 3 && echo yes || echo no"}, []StreamSpec{
		{Kind: StreamPTY, Target: 3},
		{Kind: StreamPipe, ChildWritesBack: true, Target: 1},
	}, []string{}, SpawnAttrs{SessionLeader: true, ControllingTTY: true})
	require.NoError(t, err)
	require.Len(t, result.Streams, 2)

	out := result.Streams[1]
	valueCh := make(chan ReadResult, 1)
	out.ReadParsed(linesParser{}, func(r ReadResult) { valueCh <- r })

	select {
	case r := <-valueCh:
		require.NoError(t, r.Err)
		assert.Equal(t, "yes", r.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("spawned child's output was never read")
	}

	result.Streams[0].Close()
	out.Close()
	var ws unix.WaitStatus
	_, _ = unix.Wait4(result.PID, &ws, 0, nil)
}
