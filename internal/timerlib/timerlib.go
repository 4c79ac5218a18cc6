// Package timerlib implements the timer built-in library (§4.6
// "Timers", §1.3 "Timer family aliases"): set_timer/self-rearm
// semantics and the s/ms/us/ns factor-scaled registration functions,
// ported from interpreter/library/timer.c's timerlib_funcs table.
package timerlib

import (
	"sync"
	"time"

	"github.com/ktap/ktap-sub001/internal/probe"
	"github.com/ktap/ktap-sub001/internal/value"
	"github.com/ktap/ktap-sub001/internal/vm"
)

// Timer holds the period, the callback that runs the closure through
// the dispatcher's timer path, and the cancel channel that stops the
// goroutine driving it.
type Timer struct {
	Period time.Duration
	Fn     func()
	cancel chan struct{}
}

// Manager owns every live timer for a session and the dispatcher whose
// per-CPU "tracing in progress" flag timer callbacks must hold while
// running (§4.6 "Timers").
type Manager struct {
	mu     sync.Mutex
	timers []*Timer
	disp   *probe.Dispatcher
	cpu    int
}

func NewManager(disp *probe.Dispatcher, cpu int) *Manager {
	return &Manager{disp: disp, cpu: cpu}
}

// Set registers a self-rearming timer: period, then the closure,
// invoked on the dispatcher's timer path (with the tracing-in-progress
// flag held) and rearmed at now+period after each run.
func (m *Manager) Set(period time.Duration, closure *vm.Closure, invoke func(*vm.Closure)) *Timer {
	t := &Timer{Period: period, cancel: make(chan struct{})}
	t.Fn = func() {
		m.disp.RunTimer(m.cpu, func() { invoke(closure) })
	}
	m.mu.Lock()
	m.timers = append(m.timers, t)
	m.mu.Unlock()

	go m.run(t)
	return t
}

func (m *Manager) run(t *Timer) {
	timer := time.NewTimer(t.Period)
	defer timer.Stop()
	for {
		select {
		case <-t.cancel:
			return
		case <-timer.C:
			t.Fn()
			timer.Reset(t.Period)
		}
	}
}

// CancelAll stops every live timer, matching §4.9 teardown step 3
// ("Cancel all timers").
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.timers {
		close(t.cancel)
	}
	m.timers = nil
}

// Count reports the number of live timers, used by teardown invariant
// checks (§8 invariant 5: "no live timers remain").
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Entry mirrors baselib.Entry: a script-visible name plus the native
// function value registered into globals and the C-function cache.
type Entry struct {
	Name string
	Fn   value.Value
}

// timerFactor maps each registered name to its period scale relative
// to a nanosecond, matching timerlib_funcs[]'s canonical-plus-alias
// rows (§1.3): s/sec, ms/msec, us/usec, ns/nsec, plus profile (treated
// as an alias of ms, matching the source's default sampling period).
var timerFactors = map[string]time.Duration{
	"s": time.Second, "sec": time.Second,
	"ms": time.Millisecond, "msec": time.Millisecond,
	"us": time.Microsecond, "usec": time.Microsecond,
	"ns": time.Nanosecond, "nsec": time.Nanosecond,
	"profile": time.Millisecond,
}

// Register builds the timer.* Entry set, using mgr's per-session
// Manager and invoke to actually run a fired timer's closure through
// the interpreter's calling convention.
func Register(mgr *Manager, invoke func(*vm.Closure)) []Entry {
	var entries []Entry
	for name, factor := range timerFactors {
		factor := factor
		entries = append(entries, Entry{
			Name: "timer." + name,
			Fn: value.LightFunc(func(ns value.NativeState) int {
				n := value.AsNumber(ns.Arg(1))
				closureVal := ns.Arg(2)
				cl, ok := vm.AsClosure(closureVal)
				if !ok {
					return 0
				}
				mgr.Set(time.Duration(n)*factor, cl, invoke)
				return 0
			}),
		})
	}
	return entries
}
