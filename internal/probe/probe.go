// Package probe implements Probe/Timer Dispatch (§4.6): the reentrancy
// guard, per-CPU scratch pools, and the handler-invocation protocol
// that turns a fired tracepoint/perf event into an interpreter call.
// The host tracing facility itself is external (§1 Purpose & Scope);
// this package only consumes the Host capability below. Grounded on
// kp_probe_event_handler/start_probe/end_probe in interpreter/trace.c.
package probe

import (
	"math/bits"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/ktap/ktap-sub001/internal/event"
	"github.com/ktap/ktap-sub001/internal/value"
	"github.com/ktap/ktap-sub001/internal/vm"
)

// Context distinguishes the four execution contexts a probe can fire
// from (§4.6 "Reentrancy"). Order is fixed: it is also the bit index
// into the per-CPU packed diagnostic word.
type Context int

const (
	ContextProcess Context = iota
	ContextSoftIRQ
	ContextHardIRQ
	ContextNMI
	contextCount
)

func (c Context) String() string {
	switch c {
	case ContextProcess:
		return "process"
	case ContextSoftIRQ:
		return "softirq"
	case ContextHardIRQ:
		return "hardirq"
	case ContextNMI:
		return "nmi"
	default:
		return "unknown"
	}
}

// Callback is what the dispatcher hands to the host tracing facility:
// the firing CPU, a raw payload, and the register context captured at
// the probe site. The host adapter (internal/hostprobe, or a test
// fake) is responsible for reporting which CPU actually fired.
type Callback func(cpu int, payload []byte, regs event.RegContext)

// Handle identifies a registration with the host so it can later be
// unregistered; opaque to this package.
type Handle interface{}

// Host is the capability this package consumes from the external host
// tracing facility (§4.6 "Go representation"). internal/hostprobe
// provides the one concrete, cilium/ebpf-backed implementation; tests
// use an in-memory fake that invokes Callback synchronously.
type Host interface {
	RegisterTracepoint(id int, ctx Context, cb Callback) (Handle, error)
	Unregister(h Handle) error
}

// reentrancyGuard is the per-(CPU,context) busy flag, plus a packed
// per-CPU diagnostic word in the teacher's bitmap-dispatch style
// (occupied-bit scanning via math/bits.TrailingZeros64 in SupraX.go's
// OutOfOrderScheduler) for O(1) "anything busy on this CPU" queries —
// additive, never a substitute for the per-slot atomic.Bool below.
type reentrancyGuard struct {
	slots []atomic.Bool  // numCPU * contextCount, row-major by CPU
	bits  []atomic.Uint64 // one packed word per CPU
}

func newReentrancyGuard(numCPU int) *reentrancyGuard {
	return &reentrancyGuard{
		slots: make([]atomic.Bool, numCPU*int(contextCount)),
		bits:  make([]atomic.Uint64, numCPU),
	}
}

func (g *reentrancyGuard) index(cpu int, ctx Context) int { return cpu*int(contextCount) + int(ctx) }

// acquire attempts to mark (cpu,ctx) busy, returning false if it was
// already taken — the dropped-event path (§7 "Handler-level drops").
func (g *reentrancyGuard) acquire(cpu int, ctx Context) bool {
	i := g.index(cpu, ctx)
	if !g.slots[i].CompareAndSwap(false, true) {
		return false
	}
	bit := uint64(1) << uint(ctx)
	// atomic.Uint64 has no bitwise Or/And, so the packed word is updated
	// with a Load/CAS retry loop (release below does the same).
	for {
		old := g.bits[cpu].Load()
		if g.bits[cpu].CAS(old, old|bit) {
			break
		}
	}
	return true
}

func (g *reentrancyGuard) release(cpu int, ctx Context) {
	i := g.index(cpu, ctx)
	g.slots[i].Store(false)
	bit := uint64(1) << uint(ctx)
	for {
		old := g.bits[cpu].Load()
		if g.bits[cpu].CAS(old, old&^bit) {
			break
		}
	}
}

// Busy reports the packed per-CPU occupancy word, exposed for
// diagnostics/metrics — "is anything busy on this CPU" in O(1).
func (g *reentrancyGuard) Busy(cpu int) uint64 { return g.bits[cpu].Load() }

// busyContexts decodes a packed occupancy word into the context names
// currently holding it, scanning set bits with bits.TrailingZeros64
// the way SupraX.go's OutOfOrderScheduler scans its occupancy bitmap.
func busyContexts(word uint64) []string {
	var out []string
	for word != 0 {
		i := bits.TrailingZeros64(word)
		out = append(out, Context(i).String())
		word &^= uint64(1) << uint(i)
	}
	return out
}

// scratchPool is the per-(CPU,context) preallocated state a handler
// invocation borrows instead of allocating (§4.6 "Per-CPU scratch
// pools"): a child Thread and its stack, reused across firings.
type scratchPool struct {
	threads []*vm.Thread // numCPU * contextCount, row-major by CPU
}

// Metrics are the prometheus observables wired into dispatch (§1.1):
// additive instrumentation, never part of the data-plane contract.
type Metrics struct {
	Invocations *prometheus.CounterVec // labels: cpu, context
	Drops       *prometheus.CounterVec // labels: cpu, context
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ktap_probe_invocations_total",
			Help: "Handler invocations per (cpu, context).",
		}, []string{"cpu", "context"}),
		Drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ktap_probe_reentrancy_drops_total",
			Help: "Handler invocations dropped by the reentrancy guard.",
		}, []string{"cpu", "context"}),
	}
	if reg != nil {
		reg.MustRegister(m.Invocations, m.Drops)
	}
	return m
}

// Registration records one active probe, for traceoff/teardown.
type Registration struct {
	ID     int
	Handle Handle
}

// Dispatcher owns the reentrancy guard, per-CPU scratch pools, the
// list of active registrations, and the probe_end closures (§4.6
// "Registration"). It is embedded in the session's main state.
type Dispatcher struct {
	mu sync.Mutex

	host  Host
	guard *reentrancyGuard
	pools *scratchPool
	log   *zap.SugaredLogger
	met   *Metrics

	numCPU int

	registrations []Registration
	endClosures   []func()

	tracingInProgress []atomic.Bool // per-CPU "timer running" flag, §4.6 "Timers"
}

func NewDispatcher(host Host, numCPU int, log *zap.SugaredLogger, met *Metrics) *Dispatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if met == nil {
		met = NewMetrics(nil)
	}
	return &Dispatcher{
		host:              host,
		guard:             newReentrancyGuard(numCPU),
		pools:             &scratchPool{threads: make([]*vm.Thread, numCPU*int(contextCount))},
		log:               log,
		met:               met,
		numCPU:            numCPU,
		tracingInProgress: make([]atomic.Bool, numCPU),
	}
}

// BindThread installs the per-(cpu,context) child Thread a handler
// invocation will borrow; the session's state constructor calls this
// once per slot at startup (§4.9).
func (d *Dispatcher) BindThread(cpu int, ctx Context, t *vm.Thread) {
	d.pools.threads[d.guard.index(cpu, ctx)] = t
}

// ProbeByID implements kdebug.probe_by_id: register a per-CPU
// tracepoint for each of the already-parsed event ids (kdebuglib splits
// the script's comma/space separated string), with the dispatch handler
// below as overflow callback (§4.6 "Registration").
func (d *Dispatcher) ProbeByID(ids []int, closure vm.Closure, ctx Context) error {
	for _, id := range ids {
		cbID := id
		h, err := d.host.RegisterTracepoint(cbID, ctx, func(cpu int, payload []byte, regs event.RegContext) {
			d.handle(cpu, cbID, ctx, payload, regs, &closure)
		})
		if err != nil {
			return errors.Wrapf(err, "probe_by_id: register id %d", id)
		}
		d.mu.Lock()
		d.registrations = append(d.registrations, Registration{ID: id, Handle: h})
		d.mu.Unlock()
	}
	return nil
}

// ProbeEnd implements kdebug.probe_end: record a closure to run at
// session end, invoked in registration order by Traceoff.
func (d *Dispatcher) ProbeEnd(fn func()) {
	d.mu.Lock()
	d.endClosures = append(d.endClosures, fn)
	d.mu.Unlock()
}

// Traceoff implements kdebug.traceoff: unregister everything,
// synchronize, and run the recorded probe_end closures. A second call
// is a no-op (§8 "traceoff followed by traceoff is a no-op").
func (d *Dispatcher) Traceoff() error {
	d.mu.Lock()
	regs := d.registrations
	d.registrations = nil
	ends := d.endClosures
	d.endClosures = nil
	d.mu.Unlock()

	var firstErr error
	for _, r := range regs {
		if err := d.host.Unregister(r.Handle); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "traceoff: unregister id %d", r.ID)
		}
	}
	for _, fn := range ends {
		fn()
	}
	return firstErr
}

// handle is the dispatch core (§4.6 "Handler invocation"): acquire the
// reentrancy slot (drop on conflict), borrow the per-context child
// state, invoke the closure with the constructed Event, release.
func (d *Dispatcher) handle(cpu int, probeID int, ctx Context, payload []byte, regs event.RegContext, closure *vm.Closure) {
	if cpu < 0 || cpu >= d.numCPU {
		d.log.Warnw("probe fired with out-of-range cpu", "cpu", cpu, "probe_id", probeID)
		return
	}
	if d.tracingInProgress[cpu].Load() {
		// A timer closure owns this CPU's child state right now; drop
		// the tracepoint rather than race for it (§4.6 "Timers").
		d.met.Drops.WithLabelValues(cpuLabel(cpu), ctx.String()).Inc()
		return
	}
	if !d.guard.acquire(cpu, ctx) {
		d.met.Drops.WithLabelValues(cpuLabel(cpu), ctx.String()).Inc()
		d.log.Warnw("probe dropped: cpu busy", "cpu", cpu, "context", ctx.String(), "busy_contexts", busyContexts(d.guard.Busy(cpu)))
		return
	}
	defer d.guard.release(cpu, ctx)

	t := d.pools.threads[d.guard.index(cpu, ctx)]
	if t == nil {
		d.log.Warnw("no child thread bound for slot", "cpu", cpu, "context", ctx.String())
		return
	}
	d.met.Invocations.WithLabelValues(cpuLabel(cpu), ctx.String()).Inc()

	ev := event.New("probe", "", payload, regs, nil)
	var args []value.Value
	if closure.Proto != nil && closure.Proto.NumParams > 0 {
		args = append(args, event.EventValue(ev))
	}
	if err := t.Invoke(closure, args); err != nil {
		d.log.Warnw("handler invocation failed", "cpu", cpu, "context", ctx.String(), "probe_id", probeID, "error", err.Error())
	}
}

// RunTimer executes fn with the per-CPU tracing-in-progress flag held,
// suppressing tracepoint dispatch on this CPU for the duration (§4.6
// "Timers": "a dedicated tracing in progress flag to suppress
// tracepoints from firing while a timer closure runs").
func (d *Dispatcher) RunTimer(cpu int, fn func()) {
	d.tracingInProgress[cpu].Store(true)
	defer d.tracingInProgress[cpu].Store(false)
	fn()
}

func cpuLabel(cpu int) string { return strconv.Itoa(cpu) }
