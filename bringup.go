package gocotb

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// RootHandle is the resolved top-level signal handle a testbench builds its
// own hierarchy navigation from, wrapping COCOTB_TOPLEVEL's lookup result.
type RootHandle struct {
	Handle *SignalHandle
	Name   string
}

var (
	testModulesMu sync.Mutex
	testModules   = map[string]func(*Scheduler){}
)

// RegisterTestModule adds fn to the bring-up registry under name, this
// module's stand-in for dynamically loading a user testbench module by
// name: Go has no such mechanism, so user packages call this from their own
// init() instead, and COCOTB_TEST_MODULES names which of them to run.
// Registering the same name twice is a programming error and panics,
// mirroring the teacher's fail-fast package-registry conventions.
func RegisterTestModule(name string, fn func(*Scheduler)) {
	if name == "" {
		panic("gocotb: RegisterTestModule: empty name")
	}
	if fn == nil {
		panic("gocotb: RegisterTestModule: nil fn")
	}
	testModulesMu.Lock()
	defer testModulesMu.Unlock()
	if _, exists := testModules[name]; exists {
		panic(fmt.Sprintf("gocotb: RegisterTestModule: %q already registered", name))
	}
	testModules[name] = fn
}

func lookupTestModule(name string) (func(*Scheduler), bool) {
	testModulesMu.Lock()
	defer testModulesMu.Unlock()
	fn, ok := testModules[name]
	return fn, ok
}

// InitialiseTestbench performs the one-time bring-up sequence a GPI binding
// invokes after elaboration: it resolves configuration from the
// environment, constructs a Scheduler over gpi, runs the test modules named
// by COCOTB_TEST_MODULES (each registering its own top-level tasks via
// Scheduler.StartSoon), and drains the run queue once before returning
// control to the simulator. argv is accepted for parity with a process
// entrypoint's os.Args but is otherwise unused; configuration is entirely
// environment-driven, mirroring the original bring-up's reliance on
// COCOTB_* environment variables rather than command-line flags.
func InitialiseTestbench(ctx context.Context, gpi GPI, argv []string) (*Scheduler, error) {
	if gpi == nil {
		return nil, &TypeError{Message: "InitialiseTestbench: nil gpi"}
	}

	names := strings.Split(os.Getenv("COCOTB_TEST_MODULES"), ",")
	var modules []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			modules = append(modules, n)
		}
	}
	if len(modules) == 0 {
		return nil, &ValueError{Message: "InitialiseTestbench: COCOTB_TEST_MODULES must name at least one registered test module"}
	}

	fns := make([]func(*Scheduler), 0, len(modules))
	for _, name := range modules {
		fn, ok := lookupTestModule(name)
		if !ok {
			return nil, &ValueError{Message: fmt.Sprintf("InitialiseTestbench: test module %q is not registered", name)}
		}
		fns = append(fns, fn)
	}

	opts := []Option{WithResolveX(resolveXFromEnv())}
	if os.Getenv("COCOTB_SCHEDULER_DEBUG") != "" {
		opts = append(opts, WithSchedulerDebug(true))
	}

	sched, err := New(gpi, opts...)
	if err != nil {
		return nil, err
	}

	if top := os.Getenv("COCOTB_TOPLEVEL"); top != "" {
		if _, err := resolveRootHandle(sched, top); err != nil {
			return nil, err
		}
	}

	for _, fn := range fns {
		fn(sched)
	}

	sched.Run()

	return sched, nil
}

// resolveRootHandle strips a leading library-qualified prefix ("lib.name"
// becomes "name") before asking the GPI for the handle, per §6's
// COCOTB_TOPLEVEL rule.
func resolveRootHandle(sched *Scheduler, name string) (*RootHandle, error) {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	tok, err := sched.gpi.GetRootHandle(name)
	if err != nil {
		return nil, err
	}
	return &RootHandle{Handle: NewSignalHandle(sched, tok), Name: name}, nil
}
