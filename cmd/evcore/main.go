// Command evcore is the reactor's CLI surface: `runtime [script [args…]]`
// (spec.md §6). The scripting interpreter itself is an external
// collaborator outside the dispatch core's scope (spec.md §1 "Out of
// scope"); this binary wires a minimal boot task instead of an embedded
// language runtime, so the CLI still exercises argv publication, drain,
// and graceful shutdown end to end.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/fenwicklabs/evcore"
	"github.com/fenwicklabs/evcore/internal/config"
	"github.com/fenwicklabs/evcore/internal/logging"
	"github.com/fenwicklabs/evcore/internal/procenv"
	"github.com/fenwicklabs/evcore/internal/scripting"
)

func init() {
	logger := logging.Default()
	if _, err := maxprocs.Set(maxprocs.Logger(logger.Infof)); err != nil {
		logger.Warnf("automaxprocs: %v", err)
	}
	if _, err := memlimit.SetGoMemLimitWithOpts(); err != nil {
		logger.Warnf("automemlimit: %v", err)
	}
}

// bootInterpreter is a scripting.Interpreter of one: it resumes each
// task by invoking a plain Go closure once, to completion, rather than
// suspending and yielding. It stands in for an embedded language runtime
// so this binary's lifecycle (argv publication, drain, shutdown) is
// exercised without this spec reaching into language-embedding, which
// spec.md §1 explicitly keeps out of scope.
type bootInterpreter struct {
	nextID uint64
	fns    sync.Map // scripting.TaskHandle -> func()
}

func (b *bootInterpreter) NewTask(fn any) (scripting.TaskHandle, error) {
	f, ok := fn.(func())
	if !ok {
		return scripting.TaskHandle{}, fmt.Errorf("bootInterpreter: NewTask requires a func(), got %T", fn)
	}
	handle := scripting.NewHandle(atomic.AddUint64(&b.nextID, 1))
	b.fns.Store(handle, f)
	return handle, nil
}

func (b *bootInterpreter) Resume(t scripting.TaskHandle, _ ...any) (scripting.ResumeStatus, string, error) {
	v, ok := b.fns.LoadAndDelete(t)
	if !ok {
		return scripting.StatusCompleted, "", nil
	}
	v.(func())()
	return scripting.StatusCompleted, "", nil
}

func (b *bootInterpreter) Pin(scripting.TaskHandle)   {}
func (b *bootInterpreter) Unpin(scripting.TaskHandle) {}

var configPath string
var exitStatus int

func main() {
	root := &cobra.Command{
		Use:           "runtime [script [args…]]",
		Short:         "run a script on the evcore event-machine reactor",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (optional)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(exitStatus)
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.NewLogger(&logging.Config{Level: cfg.Level()})
	logging.SetDefault(logger)

	env := procenv.Capture()
	script := ""
	if len(args) > 0 {
		script = args[0]
	}

	interp := &bootInterpreter{}
	rt, err := evcore.New(interp, cfg)
	if err != nil {
		return fmt.Errorf("starting runtime: %w", err)
	}
	defer rt.Close()

	boot, err := interp.NewTask(func() {
		if script == "" {
			logger.Infof("no script given; an embedded interpreter is required for interactive use")
			return
		}
		logger.Infof("boot: script=%q argv=%v script_index=%v", script, env.Argv, env.AsTable()[procenv.ScriptIndex])
	})
	if err != nil {
		return fmt.Errorf("creating boot task: %w", err)
	}
	rt.Tasks.Register(boot)
	rt.Enqueue(boot, 0)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infof("received shutdown signal")
		rt.Shutdown()
	}()

	if err := rt.Run(); err != nil {
		return fmt.Errorf("reactor: %w", err)
	}

	exitStatus = rt.ExitStatus()
	return nil
}
