package ioendpoint

import (
	"github.com/fenwicklabs/evcore/internal/ioerrors"
	"github.com/fenwicklabs/evcore/internal/loop"
)

// PopenResult is the stream set popen hands back: which of In/Out are
// non-nil depends on mode. Extra is set only for "3s" mode, wired to fd
// 3 in the child as a bidirectional socketpair.
type PopenResult struct {
	PID   int
	In    *Stream
	Out   *Stream
	Extra *Stream
}

// Popen implements the supplemented bin/lem.c `popen` feature atop
// Spawn: command runs under "/bin/sh -c", with mode selecting which
// standard streams are piped back to the caller.
//
// mode is one of:
//   - "r"  - child's stdout is piped back as Out
//   - "w"  - child's stdin is piped back as In
//   - "rw" - both of the above
//   - "3s" - a third fd, 3, wired as a bidirectional socketpair, as Extra
func Popen(reactor *loop.Reactor, command string, mode string, attrs SpawnAttrs) (*PopenResult, error) {
	var specs []StreamSpec
	switch mode {
	case "r":
		specs = []StreamSpec{{Kind: StreamPipe, ChildWritesBack: true, Target: 1}}
	case "w":
		specs = []StreamSpec{{Kind: StreamPipe, ChildWritesBack: false, Target: 0}}
	case "rw":
		specs = []StreamSpec{
			{Kind: StreamPipe, ChildWritesBack: false, Target: 0},
			{Kind: StreamPipe, ChildWritesBack: true, Target: 1},
		}
	case "3s":
		specs = []StreamSpec{{Kind: StreamSocketpair, Target: 3}}
	default:
		return nil, ioerrors.NewError("popen", ioerrors.ErrInvalidArgument, "unknown popen mode "+mode)
	}

	result, err := Spawn(reactor, []string{"/bin/sh", "-c", command}, specs, nil, attrs)
	if err != nil {
		return nil, err
	}

	popen := &PopenResult{PID: result.PID}
	switch mode {
	case "r":
		popen.Out = result.Streams[0]
	case "w":
		popen.In = result.Streams[0]
	case "rw":
		popen.In = result.Streams[0]
		popen.Out = result.Streams[1]
	case "3s":
		popen.Extra = result.Streams[0]
	}
	return popen, nil
}
