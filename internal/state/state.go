// Package state implements the State lifecycle (§4.9): constructing
// the main execution state and its per-(CPU,context) child threads,
// registering built-in libraries into the globals table and the
// C-function cache, and tearing everything down in the fixed order
// the base spec requires. Grounded on interpreter/ktap.c's
// kp_newstate/kp_exit.
package state

import (
	"context"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ktap/ktap-sub001/internal/baselib"
	"github.com/ktap/ktap-sub001/internal/hostinfo"
	"github.com/ktap/ktap-sub001/internal/kdebuglib"
	"github.com/ktap/ktap-sub001/internal/probe"
	"github.com/ktap/ktap-sub001/internal/ptable"
	"github.com/ktap/ktap-sub001/internal/strpool"
	"github.com/ktap/ktap-sub001/internal/table"
	"github.com/ktap/ktap-sub001/internal/timerlib"
	"github.com/ktap/ktap-sub001/internal/transport"
	"github.com/ktap/ktap-sub001/internal/value"
	"github.com/ktap/ktap-sub001/internal/vm"
)

// stringPoolInitialBuckets matches §4.9 "interned-string pool (initial
// size 512)"; the actual constant lives in strpool, this is just the
// documented cross-reference.
const stringPoolInitialBuckets = 512

// Options are the caller-supplied construction parameters. Per §1.1
// "Configuration... the state constructor takes a state.Options struct
// built by the caller, not by a config loader this repository owns" —
// there is no CLI/flag/YAML parsing here.
type Options struct {
	NumCPU            int
	Log               *zap.SugaredLogger
	Out               transport.Writer // per-session transport channel
	TraceOut          transport.Writer // trace_printk bypass sink, §1.3
	Info              hostinfo.Provider
	Host              probe.Host
	MetricsRegisterer prometheus.Registerer
	HashSeed          uint32
}

// State is the session's main execution state (§3 "Execution state" /
// "Main state"): it owns the interned string table, the registry and
// globals tables, the C-function cache, the probe dispatcher, the timer
// manager, and one main vm.Thread. Child threads are bound into the
// probe dispatcher's per-(CPU,context) scratch pool.
type State struct {
	opts Options

	Strings  *strpool.Pool
	Registry *table.Table
	Globals  *table.Table
	Args     *table.Table

	CFuncs   []value.Value
	cfuncIdx map[string]int

	Main       *vm.Thread
	Dispatcher *probe.Dispatcher
	Timers     *timerlib.Manager
	PTables    []*ptable.PTable

	stop bool

	started time.Time
}

// New allocates everything §4.9 lists: registry/globals/arg tables,
// C-function cache, interned-string pool, per-CPU scratch pools
// (bound via Dispatcher.BindThread), and transport channel — then
// registers the built-in libraries, populating the C-function cache.
func New(opts Options) (*State, error) {
	if opts.NumCPU <= 0 {
		opts.NumCPU = runtime.NumCPU()
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	if opts.Out == nil {
		opts.Out = transport.Discard{}
	}
	if opts.TraceOut == nil {
		opts.TraceOut = transport.Discard{}
	}
	if opts.Info == nil {
		opts.Info = hostinfo.NewFake()
	}
	if opts.Host == nil {
		return nil, errors.New("state: Options.Host is required")
	}

	s := &State{
		opts:     opts,
		Strings:  strpool.New(opts.HashSeed, opts.Log),
		Registry: table.New(false),
		Globals:  table.New(false),
		Args:     table.New(false),
		cfuncIdx: map[string]int{},
		stop:     false,
		started:  zeroTime(),
	}

	s.Main = vm.NewThread(s.Globals, s.Strings, opts.Out, opts.Log, true, 0, &s.stop)

	met := probe.NewMetrics(opts.MetricsRegisterer)
	s.Dispatcher = probe.NewDispatcher(opts.Host, opts.NumCPU, opts.Log, met)

	ptMet := ptable.NewMetrics(opts.MetricsRegisterer)
	s.PTables = nil
	_ = ptMet // PTables are created on demand by script-level `ptable{}` construction (out of this constructor's scope); the metrics instance is threaded through ptable.New at that point.

	s.Timers = timerlib.NewManager(s.Dispatcher, 0)

	s.registerLibraries()

	for ctx := probe.Context(0); ctx < 4; ctx++ {
		for cpu := 0; cpu < opts.NumCPU; cpu++ {
			child := vm.NewThread(s.Globals, s.Strings, opts.Out, opts.Log, false, cpu, &s.stop)
			child.CFuncs = s.CFuncs
			s.Dispatcher.BindThread(cpu, ctx, child)
		}
	}

	return s, nil
}

func zeroTime() time.Time { return time.Time{} }

// invoke runs a closure on the main thread. Probe handlers don't use
// it; they run on whichever child was bound to their (cpu,context)
// slot. It is handed to kdebuglib for probe_end closures, which run at
// teardown, and to timerlib for fired timer closures.
func (s *State) invoke(cl *vm.Closure) {
	if err := s.Main.Invoke(cl, nil); err != nil {
		s.opts.Log.Warnw("probe_end closure failed", "error", err.Error())
	}
}

// registerLibraries installs baselib/kdebuglib/timerlib into Globals
// and appends each into CFuncs, matching §4.9 "registers built-in
// libraries, which populates the C-function cache." Child threads
// share the same CFuncs backing array (vm.Thread.CFuncs is a slice
// header copy that New assigns to each child after registration
// completes).
func (s *State) registerLibraries() {
	add := func(name string, fn value.Value) {
		s.cfuncIdx[name] = len(s.CFuncs)
		s.CFuncs = append(s.CFuncs, fn)
		_ = s.Globals.Set(s.internString(name), fn)
	}

	for _, e := range baselib.Register(s.opts.Info, s.opts.Out, s.opts.TraceOut) {
		add(e.Name, e.Fn)
	}
	for _, e := range kdebuglib.Register(s.Dispatcher, probe.ContextProcess, s.invoke) {
		add(e.Name, e.Fn)
	}
	for _, e := range timerlib.Register(s.Timers, s.invoke) {
		add(e.Name, e.Fn)
	}

	s.Main.CFuncs = s.CFuncs
}

func (s *State) internString(name string) value.Value {
	str := s.Strings.InternString(name)
	tag := value.TagShortStr
	if str.Long {
		tag = value.TagLongStr
	}
	return value.RefValue(tag, str)
}

// ResolveCFunc implements vm.CFuncResolver for the optimizer's
// GETTABUP->LOAD_GLOBAL rewrite (§4.4 "Optimization pass").
func (s *State) ResolveCFunc(name string) (int, bool) {
	idx, ok := s.cfuncIdx[name]
	return idx, ok
}

// Wait blocks until ctx is done, polling every 100ms (§4.9 teardown
// step 1: "Wait for the operator or target process to finish (polling
// every 100 ms; signal-aware)").
func (s *State) Wait(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop sets the termination flag the main thread's dead-loop
// checkpoint observes (§5 "Cancellation").
func (s *State) Stop() { s.stop = true }

// Teardown runs the fixed §4.9 ordering: unregister probes and
// synchronize, cancel timers, run probe_end, then free resources.
// Step ordering matters — probes must be detached before the
// resources they might still be holding pointers into are freed.
func (s *State) Teardown() error {
	err := s.Dispatcher.Traceoff() // unregisters + synchronizes + runs probe_end
	s.Timers.CancelAll()
	s.PTables = nil
	return err
}
