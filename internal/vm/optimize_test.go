package vm

import (
	"testing"

	"github.com/ktap/ktap-sub001/internal/strpool"
	"github.com/ktap/ktap-sub001/internal/value"
)

func TestOptimize_GetTableToEvent(t *testing.T) {
	strings := strpool.New(1, nil)
	nameConst := value.RefValue(value.TagShortStr, strings.InternString("sc_nr"))
	proto := &Proto{
		K: []value.Value{nameConst},
		Code: []Instruction{
			{Op: OpGetTable, A: 0, B: 1, C: int(RKConst(0))},
		},
	}
	Optimize(proto, strings, func(string) (int, bool) { return 0, false }, func(p *Proto, reg int) bool { return reg == 1 })

	if proto.Code[0].Op != OpEvent {
		t.Fatalf("expected GETTABLE on a known event receiver to become EVENT, got %v", proto.Code[0].Op)
	}
}

func TestOptimize_GetTableFallback_UnknownReceiver(t *testing.T) {
	strings := strpool.New(1, nil)
	nameConst := value.RefValue(value.TagShortStr, strings.InternString("sc_nr"))
	proto := &Proto{
		K:    []value.Value{nameConst},
		Code: []Instruction{{Op: OpGetTable, A: 0, B: 1, C: int(RKConst(0))}},
	}
	// isEventReceiver says no: invariant 6 (§8) requires GETTABLE
	// semantics to survive unchanged when the receiver isn't provably an
	// event.
	Optimize(proto, strings, nil, func(p *Proto, reg int) bool { return false })

	if proto.Code[0].Op != OpGetTable {
		t.Fatalf("expected GETTABLE to remain unoptimized, got %v", proto.Code[0].Op)
	}
}

func TestOptimize_GetTabUpToLoadGlobal(t *testing.T) {
	strings := strpool.New(1, nil)
	nameConst := value.RefValue(value.TagShortStr, strings.InternString("print"))
	proto := &Proto{
		K:    []value.Value{nameConst},
		Code: []Instruction{{Op: OpGetTabUp, A: 0, B: 0, C: int(RKConst(0))}},
	}
	resolver := func(name string) (int, bool) {
		if name == "print" {
			return 3, true
		}
		return 0, false
	}
	Optimize(proto, strings, resolver, nil)

	want := Instruction{Op: OpLoadGlobal, A: 0, B: 3}
	if proto.Code[0] != want {
		t.Fatalf("expected %+v, got %+v", want, proto.Code[0])
	}
}

func TestOptimize_RecursesIntoNestedProtos(t *testing.T) {
	strings := strpool.New(1, nil)
	nameConst := value.RefValue(value.TagShortStr, strings.InternString("print"))
	nested := &Proto{
		K:    []value.Value{nameConst},
		Code: []Instruction{{Op: OpGetTabUp, A: 0, B: 0, C: int(RKConst(0))}},
	}
	parent := &Proto{P: []*Proto{nested}}
	resolver := func(name string) (int, bool) { return 5, name == "print" }
	Optimize(parent, strings, resolver, nil)

	if nested.Code[0].Op != OpLoadGlobal {
		t.Fatal("expected the optimization pass to recurse into nested protos")
	}
}
