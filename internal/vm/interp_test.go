package vm

import (
	"testing"

	"github.com/ktap/ktap-sub001/internal/strpool"
	"github.com/ktap/ktap-sub001/internal/table"
	"github.com/ktap/ktap-sub001/internal/transport"
	"github.com/ktap/ktap-sub001/internal/value"
)

func newTestThread(globals *table.Table, strings *strpool.Pool) (*Thread, *bool) {
	stop := false
	return NewThread(globals, strings, transport.Discard{}, nil, true, 0, &stop), &stop
}

// buildAddScript compiles, by hand, the equivalent of `_G.result = 3 + 4`
// and returns the closure ready to invoke.
func buildAddScript(strings *strpool.Pool, globals *table.Table) *Closure {
	resultKey := strings.InternString("result")
	proto := &Proto{
		MaxStackSize: 3,
		K: []value.Value{
			value.Number(3),
			value.Number(4),
			value.RefValue(value.TagShortStr, resultKey),
		},
		Code: []Instruction{
			{Op: OpLoadK, A: 0, Bx: 0},
			{Op: OpLoadK, A: 1, Bx: 1},
			{Op: OpAdd, A: 2, B: int(RKReg(0)), C: int(RKReg(1))},
			{Op: OpSetTabUp, A: 0, B: int(RKConst(2)), C: int(RKReg(2))},
			{Op: OpReturn, A: 0, B: 1},
		},
	}
	globalsUpval := &Upvalue{closed: value.RefValue(value.TagTable, globals)}
	return &Closure{Proto: proto, Upvals: []*Upvalue{globalsUpval}}
}

func TestExecute_AddAndStoreGlobal(t *testing.T) {
	globals := table.New(false)
	strings := strpool.New(1, nil)
	th, _ := newTestThread(globals, strings)
	cl := buildAddScript(strings, globals)

	if err := th.Invoke(cl, nil); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	got := globals.Get(value.RefValue(value.TagShortStr, strings.InternString("result")))
	if value.AsNumber(got) != 7 {
		t.Fatalf("expected _G.result == 7, got %v", got)
	}
}

func TestExecute_DivideByZero_ExitsWithoutPanicking(t *testing.T) {
	globals := table.New(false)
	strings := strpool.New(1, nil)
	th, _ := newTestThread(globals, strings)

	proto := &Proto{
		MaxStackSize: 2,
		K: []value.Value{
			value.Number(10),
			value.Number(0),
		},
		Code: []Instruction{
			{Op: OpLoadK, A: 0, Bx: 0},
			{Op: OpLoadK, A: 1, Bx: 1},
			{Op: OpDiv, A: 0, B: int(RKReg(0)), C: int(RKReg(1))},
			{Op: OpReturn, A: 0, B: 1},
		},
	}
	cl := &Closure{Proto: proto}

	if err := th.Invoke(cl, nil); err != nil {
		t.Fatalf("Invoke must not bubble a runtime error up as a Go error (§4.4), got %v", err)
	}
}

func TestExecute_CallNilFunction_ExitsWithoutPanicking(t *testing.T) {
	globals := table.New(false)
	strings := strpool.New(1, nil)
	th, _ := newTestThread(globals, strings)

	proto := &Proto{
		MaxStackSize: 2,
		Code: []Instruction{
			{Op: OpLoadNil, A: 0, B: 0},
			{Op: OpCall, A: 0, B: 1, C: 1},
			{Op: OpReturn, A: 0, B: 1},
		},
	}
	cl := &Closure{Proto: proto}

	if err := th.Invoke(cl, nil); err != nil {
		t.Fatalf("calling a nil value must EXIT the frame, not bubble a Go error: %v", err)
	}
}

func TestStopped_HaltsDeadLoop(t *testing.T) {
	globals := table.New(false)
	strings := strpool.New(1, nil)

	// An infinite JMP -1 loop that would never terminate on its own.
	proto := &Proto{
		MaxStackSize: 1,
		Code: []Instruction{
			{Op: OpJmp, SBx: -1},
		},
	}
	cl := &Closure{Proto: proto}

	th, stop := newTestThread(globals, strings)
	*stop = true
	if err := th.Invoke(cl, nil); err != nil {
		t.Fatalf("Invoke with the stop flag already set must return promptly without error, got %v", err)
	}
}
