package baselib

import (
	"testing"

	"github.com/ktap/ktap-sub001/internal/hostinfo"
	"github.com/ktap/ktap-sub001/internal/strpool"
	"github.com/ktap/ktap-sub001/internal/table"
	"github.com/ktap/ktap-sub001/internal/value"
)

func TestBuiltinCount_InitializesAndIncrements(t *testing.T) {
	tbl := table.New(false)
	k := value.Number(1)

	state := &argState{args: []value.Value{value.RefValue(value.TagTable, tbl), k}}
	builtinCount(state)
	if got := tbl.Get(k); value.AsNumber(got) != 1 {
		t.Fatalf("expected count initialized to 1, got %v", got)
	}

	state = &argState{args: []value.Value{value.RefValue(value.TagTable, tbl), k}}
	builtinCount(state)
	if got := tbl.Get(k); value.AsNumber(got) != 2 {
		t.Fatalf("expected count incremented to 2, got %v", got)
	}
}

func TestBuiltinCount_CustomIncrement(t *testing.T) {
	tbl := table.New(false)
	k := value.Number(1)
	state := &argState{args: []value.Value{value.RefValue(value.TagTable, tbl), k, value.Number(5)}}
	builtinCount(state)
	if got := tbl.Get(k); value.AsNumber(got) != 5 {
		t.Fatalf("expected count initialized to 5, got %v", got)
	}
}

func TestBuiltinLen_TableAndString(t *testing.T) {
	tbl := table.New(false)
	_ = tbl.Set(value.Number(1), value.Number(10))
	_ = tbl.Set(value.Number(2), value.Number(20))

	state := &resultState{argState: argState{args: []value.Value{value.RefValue(value.TagTable, tbl)}}}
	builtinLen(state)
	if len(state.results) != 1 || value.AsNumber(state.results[0]) != 2 {
		t.Fatalf("expected table len 2, got %v", state.results)
	}

	s := strpool.New(1, nil).InternString("abc")
	state = &resultState{argState: argState{args: []value.Value{value.RefValue(value.TagShortStr, s)}}}
	builtinLen(state)
	if len(state.results) != 1 || value.AsNumber(state.results[0]) != 3 {
		t.Fatalf("expected string len 3, got %v", state.results)
	}
}

func TestBuiltinPairs_ReturnsNextTableNil(t *testing.T) {
	tbl := table.New(false)
	state := &resultState{argState: argState{args: []value.Value{value.RefValue(value.TagTable, tbl)}}}
	n := builtinPairs(state)
	if n != 3 {
		t.Fatalf("expected pairs to push 3 results, got %d", n)
	}
	if state.results[0].Func() == nil {
		t.Fatal("first result must be a callable next function")
	}
	if !value.IsNil(state.results[2]) {
		t.Fatal("third result must be nil (initial iteration state)")
	}
}

func TestInfoNumFn_ReadsProvider(t *testing.T) {
	info := hostinfo.NewFake()
	info.FakePid = 4242
	fn := infoNumFn(func(p hostinfo.Provider) int64 { return int64(p.Pid()) }, info)
	state := &resultState{}
	fn.Func()(state)
	if len(state.results) != 1 || value.AsNumber(state.results[0]) != 4242 {
		t.Fatalf("expected pid 4242, got %v", state.results)
	}
}

func TestInfoBoolFn_ReadsProvider(t *testing.T) {
	info := hostinfo.NewFake()
	info.FakeInInterrupt = true
	fn := infoBoolFn(func(p hostinfo.Provider) bool { return p.InInterrupt() }, info)
	state := &resultState{}
	fn.Func()(state)
	if len(state.results) != 1 || !value.AsBool(state.results[0]) {
		t.Fatalf("expected true, got %v", state.results)
	}
}

// argState is a minimal value.NativeState used to drive a builtin with
// fixed arguments and no result capture.
type argState struct {
	args []value.Value
}

func (a *argState) Arg(n int) value.Value {
	if n < 1 || n > len(a.args) {
		return value.Nil
	}
	return a.args[n-1]
}
func (a *argState) ArgCount() int            { return len(a.args) }
func (a *argState) PushResult(v value.Value) {}

// resultState additionally captures pushed results.
type resultState struct {
	argState
	results []value.Value
}

func (r *resultState) PushResult(v value.Value) { r.results = append(r.results, v) }
