package loop

import (
	"os/signal"
	"syscall"
)

// IgnoreBrokenPipe applies the reactor's signal policy (spec §4.1):
// SIGPIPE is ignored once, globally, at process start, so a write to a
// peer that has closed its end surfaces as EPIPE on the write syscall
// instead of killing the process. SIGCHLD is left at its default
// disposition. Spawn does not reap children; a caller that needs the
// exit status waits on the returned PID itself.
func IgnoreBrokenPipe() {
	signal.Ignore(syscall.SIGPIPE)
}
