package vm

import (
	"go.uber.org/zap"

	"github.com/ktap/ktap-sub001/internal/strpool"
	"github.com/ktap/ktap-sub001/internal/table"
	"github.com/ktap/ktap-sub001/internal/transport"
	"github.com/ktap/ktap-sub001/internal/value"
)

// deadLoopCheckpoint is the instruction count the dispatch loop counts
// up to between cooperative preemption checks (§4.4 "every 10000
// instructions, the interpreter must yield"). The main state yields via
// runtime.Gosched(); any other (handler) state treats hitting it as a
// runtime error, since handler execution is expected to complete well
// under that bound.
const deadLoopCheckpoint = 10000

// Thread is one execution context: the register stack, the call-frame
// list, and the open-upvalue list, plus the collaborators a running
// program needs (globals, string pool, transport writer, logger). The
// base spec's "main state" and the per-(CPU,context) child states that
// probe invocations reuse (§4.9 "State lifecycle") are both Threads;
// IsMain distinguishes the two for the preemption and dead-loop rules.
type Thread struct {
	value.Header

	Stack []value.Value
	ci     *CallInfo
	baseCI CallInfo // sentinel frame; ci always points into this list

	openupval *Upvalue // head of the open-upvalue list, descending stack order

	Globals  *table.Table
	Strings  *strpool.Pool
	Out      transport.Writer
	Log      *zap.SugaredLogger
	CFuncs   []value.Value // append-only C-function cache populated at library registration

	IsMain bool
	CPU    int

	execCount int // instructions executed since the last checkpoint
	stop      *bool

	// argBase/argTop delimit the current native call's argument window
	// within Stack, set by precall immediately before invoking a
	// value.NativeFunc so it can satisfy value.NativeState.
	argBase int
	argTop  int
	results []value.Value
}

// NewThread constructs a fresh execution context sharing the given
// session-wide collaborators. Child threads created for probe/timer
// handlers (§4.9) pass the same Globals/Strings/Out/Log and a shared
// stop flag so a single `exit` call or teardown halts every thread.
func NewThread(globals *table.Table, strings *strpool.Pool, out transport.Writer, log *zap.SugaredLogger, isMain bool, cpu int, stop *bool) *Thread {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	t := &Thread{
		Stack:   make([]value.Value, 0, 64),
		Globals: globals,
		Strings: strings,
		Out:     out,
		Log:     log,
		IsMain:  isMain,
		CPU:     cpu,
		stop:    stop,
	}
	t.ci = &t.baseCI
	t.baseCI.Status = CistKTAP
	return t
}

// extendCI appends a new frame after ci, reusing ci.Next if a previous
// call already allocated one (extend_ci/next_ci in vm.c).
func (t *Thread) extendCI() *CallInfo {
	if t.ci.Next != nil {
		t.ci = t.ci.Next
		return t.ci
	}
	nci := &CallInfo{Prev: t.ci}
	t.ci.Next = nci
	t.ci = nci
	return nci
}

// popCI returns to the calling frame, matching the source's behavior of
// leaving the popped frame linked (via Next) for reuse rather than
// freeing it.
func (t *Thread) popCI() {
	if t.ci.Prev != nil {
		t.ci = t.ci.Prev
	}
}

// Stopped reports whether this thread's session-wide stop flag has been
// set, checked at the dead-loop checkpoint and before entering a new
// handler invocation.
func (t *Thread) Stopped() bool { return t.stop != nil && *t.stop }

func (t *Thread) ensure(n int) {
	if n <= len(t.Stack) {
		return
	}
	grown := make([]value.Value, n)
	copy(grown, t.Stack)
	t.Stack = grown
}

// setArgWindow marks the register range a just-invoked native function
// may read its arguments from, ahead of calling its value.NativeFunc.
func (t *Thread) setArgWindow(base, top int) {
	t.argBase, t.argTop = base, top
	t.results = t.results[:0]
}

// Arg implements value.NativeState.
func (t *Thread) Arg(n int) value.Value {
	idx := t.argBase + n - 1
	if n < 1 || idx >= t.argTop || idx >= len(t.Stack) {
		return value.Nil
	}
	return t.Stack[idx]
}

// ArgCount implements value.NativeState.
func (t *Thread) ArgCount() int { return t.argTop - t.argBase }

// PushResult implements value.NativeState.
func (t *Thread) PushResult(v value.Value) { t.results = append(t.results, v) }

// findUpval returns the open upvalue watching stack slot idx, creating
// one (inserted in descending-address order) if none exists yet — the
// Go analogue of findupval in func.c, keyed by slice index instead of a
// raw stack pointer.
func (t *Thread) findUpval(idx int) *Upvalue {
	var prev **Upvalue
	cur := &t.openupval
	for *cur != nil && (*cur).index > idx {
		prev = cur
		cur = &(*cur).next
	}
	if *cur != nil && (*cur).index == idx {
		return *cur
	}
	uv := &Upvalue{open: true, stack: &t.Stack[idx], index: idx}
	uv.next = *cur
	*cur = uv
	_ = prev
	return uv
}

// closeUpvals closes every open upvalue watching a slot >= from,
// detaching them from the open list (RETURN/TAILCALL's upvalue-close
// step, §4.4 "Upvalues").
func (t *Thread) closeUpvals(from int) {
	for t.openupval != nil && t.openupval.index >= from {
		uv := t.openupval
		t.openupval = uv.next
		uv.close()
	}
}
