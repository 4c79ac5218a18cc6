package vm

import (
	"github.com/ktap/ktap-sub001/internal/value"
)

// UpvalDesc describes, at compile time, where a closure's Nth upvalue
// comes from: a register in the immediately enclosing function's frame
// (InStack) or that enclosing function's own upvalue vector.
type UpvalDesc struct {
	Name    string
	InStack bool
	Idx     int
}

// Proto is a compiled function: code array, constant pool, nested
// protos, and upvalue descriptors (Glossary: "Proto"). The bytecode
// loader (external, §6) is responsible for producing one of these per
// function in the loaded image; this package only executes it.
type Proto struct {
	Code         []Instruction
	K            []value.Value
	P            []*Proto
	NumParams    int
	IsVararg     bool
	MaxStackSize int
	Upvals       []UpvalDesc
	Source       string
	LineInfo     []int
}

// Upvalue is a cell that either references a live stack slot (open) or
// owns a value (closed). Open upvalues form a per-thread linked list
// ordered by descending stack address (§3 "Closure"); Thread.openupval
// is the list head.
type Upvalue struct {
	value.Header

	open   bool
	stack  *value.Value // valid iff open
	closed value.Value  // valid iff !open
	index  int          // stack slot this cell watches while open

	next *Upvalue
}

func (u *Upvalue) Get() value.Value {
	if u.open {
		return *u.stack
	}
	return u.closed
}

func (u *Upvalue) Set(v value.Value) {
	if u.open {
		*u.stack = v
		return
	}
	u.closed = v
}

// close detaches the cell from the open list, copying the live stack
// value into its own storage. Mirrors the RETURN/TAILCALL upvalue-close
// step (§4.4 "Upvalues").
func (u *Upvalue) close() {
	if !u.open {
		return
	}
	u.closed = *u.stack
	u.open = false
	u.stack = nil
}

// Closure is a scripted closure: a Proto plus a vector of upvalue
// cells (Glossary: "Closure"). Native functions (the source's
// "light-C"/"C-closure" variants) are represented directly as
// value.TagLightFunc Go closures instead of a second Closure shape —
// a Go func literal already captures its environment, so there is no
// separate "C-closure with upvalues" representation to build.
type Closure struct {
	value.Header
	Proto  *Proto
	Upvals []*Upvalue
}

func ClosureValue(cl *Closure) value.Value {
	return value.RefValue(value.TagClosure, cl)
}

func AsClosure(v value.Value) (*Closure, bool) {
	if v.Tag != value.TagClosure {
		return nil, false
	}
	cl, ok := v.Ref().(*Closure)
	return cl, ok
}
