package vm

import (
	"testing"

	"github.com/ktap/ktap-sub001/internal/strpool"
	"github.com/ktap/ktap-sub001/internal/table"
	"github.com/ktap/ktap-sub001/internal/value"
)

func TestInvoke_PassesArgumentsAsParameters(t *testing.T) {
	globals := table.New(false)
	strings := strpool.New(1, nil)
	th, _ := newTestThread(globals, strings)

	// proto(a, b): _G.sum = a + b
	sumKey := strings.InternString("sum")
	proto := &Proto{
		NumParams:    2,
		MaxStackSize: 3,
		K:            []value.Value{value.RefValue(value.TagShortStr, sumKey)},
		Code: []Instruction{
			{Op: OpAdd, A: 2, B: int(RKReg(0)), C: int(RKReg(1))},
			{Op: OpSetTabUp, A: 0, B: int(RKConst(0)), C: int(RKReg(2))},
			{Op: OpReturn, A: 0, B: 1},
		},
	}
	globalsUpval := &Upvalue{closed: value.RefValue(value.TagTable, globals)}
	cl := &Closure{Proto: proto, Upvals: []*Upvalue{globalsUpval}}

	if err := th.Invoke(cl, []value.Value{value.Number(2), value.Number(5)}); err != nil {
		t.Fatal(err)
	}
	got := globals.Get(value.RefValue(value.TagShortStr, sumKey))
	if value.AsNumber(got) != 7 {
		t.Fatalf("expected sum == 7, got %v", got)
	}
}
