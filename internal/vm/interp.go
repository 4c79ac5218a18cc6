package vm

import (
	"runtime"

	"github.com/pkg/errors"

	"github.com/ktap/ktap-sub001/internal/event"
	"github.com/ktap/ktap-sub001/internal/strpool"
	"github.com/ktap/ktap-sub001/internal/table"
	"github.com/ktap/ktap-sub001/internal/value"
)

// Runtime error diagnostics, reproduced verbatim from vm.c so a script
// author sees the same text regardless of which implementation ran it
// (§4.4 "Error handling", §8 "Division by zero" scenario).
var (
	errDivideByZero = errors.New("divide 0 arith operation\n")
	errModByZero    = errors.New("mod 0 arith operation\n")
	errPowUnsupported = errors.New("ktap don't support pow arith in kernel\n")
	errCallNonFunction = errors.New("attempt to call nil function")
	errExecLimit    = errors.New("execution exceeded instruction limit")
)

const maxStackSlots = 15000 // §7 "stack overflow > 15,000 slots"

// Execute runs the thread's current call chain to completion: either
// every frame returns normally, a runtime error forces an EXIT-patch,
// or Stopped() becomes true. It never returns a Go error for a runtime
// condition the interpreter itself can recover from — per §4.4, the
// interpreter "never unwinds via exceptions" — the returned error is
// reserved for conditions that prevent continuing to execute at all
// (a malformed Proto; nothing in this package synthesizes one today).
func (t *Thread) Execute() error {
	for {
		ci := t.ci
		if ci == &t.baseCI {
			return nil
		}
		if ci.ForceExit || t.Stopped() {
			t.popCI()
			continue
		}

		cl := ci.Closure
		proto := cl.Proto
		if ci.SavedPC >= len(proto.Code) {
			t.doReturn(ci, ci.Base, ci.Base)
			continue
		}

		instr := proto.Code[ci.SavedPC]
		ci.SavedPC++

		t.execCount++
		if t.execCount >= deadLoopCheckpoint {
			t.execCount = 0
			if !t.IsMain {
				t.runtimeError(ci, errExecLimit)
				continue
			}
			runtime.Gosched()
			if t.Stopped() {
				t.exitFrame(ci)
				continue
			}
		}

		base := ci.Base
		t.ensure(base + proto.MaxStackSize)

		switch instr.Op {
		case OpMove:
			t.Stack[base+instr.A] = t.Stack[base+instr.B]

		case OpLoadK:
			t.Stack[base+instr.A] = proto.K[instr.Bx]

		case OpLoadKX:
			// EXTRAARG was folded into Bx by the loader; nothing to do
			// beyond the LOADK-equivalent fetch.
			t.Stack[base+instr.A] = proto.K[instr.Bx]

		case OpLoadBool:
			t.Stack[base+instr.A] = value.Bool(instr.B != 0)
			if instr.C != 0 {
				ci.SavedPC++
			}

		case OpLoadNil:
			for i := 0; i <= instr.B; i++ {
				t.Stack[base+instr.A+i] = value.Nil
			}

		case OpGetUpval:
			t.Stack[base+instr.A] = cl.Upvals[instr.B].Get()

		case OpSetUpval:
			cl.Upvals[instr.B].Set(t.Stack[base+instr.A])

		case OpGetTabUp:
			env := cl.Upvals[instr.B].Get()
			key := t.rk(ci, RK(instr.C))
			t.Stack[base+instr.A] = t.tableGetEnv(env, key)

		case OpSetTabUp:
			env := cl.Upvals[instr.A].Get()
			key := t.rk(ci, RK(instr.B))
			val := t.rk(ci, RK(instr.C))
			if tbl, ok := asTable(env); ok {
				if err := tbl.Set(key, val); err != nil {
					t.runtimeError(ci, err)
					continue
				}
			}

		case OpLoadGlobal:
			if instr.B < 0 || instr.B >= len(t.CFuncs) {
				t.Stack[base+instr.A] = value.Nil
			} else {
				t.Stack[base+instr.A] = t.CFuncs[instr.B]
			}

		case OpGetTable:
			recv := t.Stack[base+instr.B]
			key := t.rk(ci, RK(instr.C))
			if ev, ok := event.AsEvent(recv); ok {
				if idx, known := event.LookupField(keyName(key)); known {
					v, err := event.Accessor(ev, idx, t.internString)
					if err != nil {
						t.runtimeError(ci, err)
						continue
					}
					t.Stack[base+instr.A] = v
					break
				}
			}
			t.Stack[base+instr.A] = t.tableGetEnv(recv, key)

		case OpSetTable:
			tbl, ok := asTable(t.Stack[base+instr.A])
			if !ok {
				t.runtimeError(ci, errors.New("attempt to index a non-table value"))
				continue
			}
			key := t.rk(ci, RK(instr.B))
			val := t.rk(ci, RK(instr.C))
			if err := tbl.Set(key, val); err != nil {
				t.runtimeError(ci, err)
				continue
			}

		case OpNewTable:
			tbl := table.New(false)
			t.Stack[base+instr.A] = value.RefValue(value.TagTable, tbl)

		case OpSelf:
			recv := t.Stack[base+instr.B]
			t.Stack[base+instr.A+1] = recv
			key := t.rk(ci, RK(instr.C))
			t.Stack[base+instr.A] = t.tableGetEnv(recv, key)

		case OpSetList:
			tbl, ok := asTable(t.Stack[base+instr.A])
			if !ok {
				t.runtimeError(ci, errors.New("SETLIST on a non-table value"))
				continue
			}
			n := instr.B
			if n == 0 {
				n = ci.Top - (base + instr.A + 1)
			}
			for i := 1; i <= n; i++ {
				_ = tbl.Set(value.Number(int64(i)), t.Stack[base+instr.A+i])
			}

		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow:
			if err := t.arith(ci, instr); err != nil {
				t.runtimeError(ci, err)
				continue
			}

		case OpUnm:
			v := t.rk(ci, RK(instr.B))
			t.Stack[base+instr.A] = value.Number(-value.AsNumber(v))

		case OpNot:
			v := t.Stack[base+instr.B]
			t.Stack[base+instr.A] = value.Bool(!value.Truthy(v))

		case OpLen:
			t.Stack[base+instr.A] = value.Number(int64(lengthOf(t.Stack[base+instr.B])))

		case OpConcat:
			s, err := t.concat(base+instr.B, base+instr.C)
			if err != nil {
				t.runtimeError(ci, err)
				continue
			}
			t.Stack[base+instr.A] = s

		case OpJmp:
			if instr.A > 0 {
				t.closeUpvals(base + instr.A - 1)
			}
			ci.SavedPC += instr.SBx

		case OpEq:
			a := t.rk(ci, RK(instr.B))
			b := t.rk(ci, RK(instr.C))
			if value.Equal(a, b) != (instr.A != 0) {
				ci.SavedPC++
			}

		case OpLt:
			a := t.rk(ci, RK(instr.B))
			b := t.rk(ci, RK(instr.C))
			if lessThan(a, b) != (instr.A != 0) {
				ci.SavedPC++
			}

		case OpLe:
			a := t.rk(ci, RK(instr.B))
			b := t.rk(ci, RK(instr.C))
			if lessEqual(a, b) != (instr.A != 0) {
				ci.SavedPC++
			}

		case OpTest:
			if value.Truthy(t.Stack[base+instr.A]) != (instr.C != 0) {
				ci.SavedPC++
			}

		case OpTestSet:
			v := t.Stack[base+instr.B]
			if value.Truthy(v) == (instr.C != 0) {
				t.Stack[base+instr.A] = v
			} else {
				ci.SavedPC++
			}

		case OpCall:
			nargs := instr.B - 1
			if instr.B == 0 {
				nargs = ci.Top - (base + instr.A + 1)
			}
			nresults := instr.C - 1
			if err := t.precall(ci, base+instr.A, nargs, nresults); err != nil {
				t.runtimeError(ci, err)
				continue
			}

		case OpTailCall:
			nargs := instr.B - 1
			if instr.B == 0 {
				nargs = ci.Top - (base + instr.A + 1)
			}
			if err := t.tailcall(ci, base+instr.A, nargs); err != nil {
				t.runtimeError(ci, err)
				continue
			}

		case OpReturn:
			n := instr.B - 1
			if instr.B == 0 {
				n = ci.Top - (base + instr.A)
			}
			t.doReturn(ci, base+instr.A, base+instr.A+max0(n))

		case OpForPrep:
			initV := value.AsNumber(t.Stack[base+instr.A])
			step := value.AsNumber(t.Stack[base+instr.A+2])
			t.Stack[base+instr.A] = value.Number(initV - step)
			ci.SavedPC += instr.SBx

		case OpForLoop:
			step := value.AsNumber(t.Stack[base+instr.A+2])
			limit := value.AsNumber(t.Stack[base+instr.A+1])
			v := value.AsNumber(t.Stack[base+instr.A]) + step
			t.Stack[base+instr.A] = value.Number(v)
			inRange := (step > 0 && v <= limit) || (step <= 0 && v >= limit)
			if inRange {
				ci.SavedPC += instr.SBx
				t.Stack[base+instr.A+3] = value.Number(v)
			}

		case OpTForCall:
			fnReg := base + instr.A
			if err := t.precall(ci, fnReg, 2, instr.C); err != nil {
				t.runtimeError(ci, err)
				continue
			}

		case OpTForLoop:
			if !value.IsNil(t.Stack[base+instr.A+1]) {
				t.Stack[base+instr.A] = t.Stack[base+instr.A+1]
				ci.SavedPC += instr.SBx
			}

		case OpClosure:
			nested := proto.P[instr.Bx]
			newCl := &Closure{Proto: nested, Upvals: make([]*Upvalue, len(nested.Upvals))}
			for i, uvd := range nested.Upvals {
				if uvd.InStack {
					newCl.Upvals[i] = t.findUpval(base + uvd.Idx)
				} else {
					newCl.Upvals[i] = cl.Upvals[uvd.Idx]
				}
			}
			t.Stack[base+instr.A] = ClosureValue(newCl)

		case OpVararg:
			n := instr.B - 1
			va := ci.Varargs
			if n < 0 {
				n = len(va)
			}
			for i := 0; i < n; i++ {
				if i < len(va) {
					t.Stack[base+instr.A+i] = va[i]
				} else {
					t.Stack[base+instr.A+i] = value.Nil
				}
			}

		case OpExtraArg:
			// Folded into the preceding instruction's Bx at decode time.

		case OpEvent:
			recv := t.Stack[base+instr.B]
			ev, ok := event.AsEvent(recv)
			if !ok {
				t.runtimeError(ci, errors.New("EVENT on a non-event value"))
				continue
			}
			v, err := event.Accessor(ev, event.FieldIndex(instr.C), t.internString)
			if err != nil {
				t.runtimeError(ci, err)
				continue
			}
			t.Stack[base+instr.A] = v

		case OpExit:
			t.exitFrame(ci)

		default:
			t.runtimeError(ci, errors.Errorf("unknown opcode %d", instr.Op))
		}
	}
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// rk resolves a register-or-constant operand against the frame ci.
func (t *Thread) rk(ci *CallInfo, rk RK) value.Value {
	if RKIsConst(rk) {
		return ci.Proto.K[RKConstIdx(rk)]
	}
	return t.Stack[ci.Base+int(rk)]
}

func asTable(v value.Value) (*table.Table, bool) {
	if v.Tag != value.TagTable {
		return nil, false
	}
	tbl, ok := v.Ref().(*table.Table)
	return tbl, ok
}

// tableGetEnv performs GETTABLE/GETTABUP's table-get half once the
// receiver has already been checked against the EVENT fast path.
func (t *Thread) tableGetEnv(recv value.Value, key value.Value) value.Value {
	tbl, ok := asTable(recv)
	if !ok {
		return value.Nil
	}
	return tbl.Get(key)
}

func keyName(v value.Value) string {
	return stringBytesOf(v)
}

// stringBytesOf extracts the backing bytes of a short/long string
// value, empty for anything else.
func stringBytesOf(v value.Value) string {
	if !value.IsString(v) {
		return ""
	}
	if s, ok := v.Ref().(*strpool.String); ok {
		return string(s.Bytes)
	}
	return ""
}

func lengthOf(v value.Value) int {
	if tbl, ok := asTable(v); ok {
		return tbl.Len()
	}
	if value.IsString(v) {
		return len(stringBytesOf(v))
	}
	return 0
}

func lessThan(a, b value.Value) bool {
	if value.IsNumber(a) && value.IsNumber(b) {
		return value.AsNumber(a) < value.AsNumber(b)
	}
	return stringBytesOf(a) < stringBytesOf(b)
}

func lessEqual(a, b value.Value) bool {
	if value.IsNumber(a) && value.IsNumber(b) {
		return value.AsNumber(a) <= value.AsNumber(b)
	}
	return stringBytesOf(a) <= stringBytesOf(b)
}

// arith executes one of ADD/SUB/MUL/DIV/MOD/POW, all of which operate
// on 64-bit integers only (§3 "no floating-point arithmetic anywhere in
// the interpreter").
func (t *Thread) arith(ci *CallInfo, instr Instruction) error {
	base := ci.Base
	a := value.AsNumber(t.rk(ci, RK(instr.B)))
	b := value.AsNumber(t.rk(ci, RK(instr.C)))
	var r int64
	switch instr.Op {
	case OpAdd:
		r = a + b
	case OpSub:
		r = a - b
	case OpMul:
		r = a * b
	case OpDiv:
		if b == 0 {
			return errDivideByZero
		}
		r = a / b
	case OpMod:
		if b == 0 {
			return errModByZero
		}
		r = a % b
	case OpPow:
		return errPowUnsupported
	}
	t.Stack[base+instr.A] = value.Number(r)
	return nil
}

// concat joins stack slots [from,to] inclusive as strings into a buffer
// allocated for this one call, failing once the result reaches one
// page. No per-(CPU,context) scratch buffer is used, so reentrant or
// concurrent CONCATs never share storage.
func (t *Thread) concat(from, to int) (value.Value, error) {
	var buf []byte
	const pageSize = 4096
	for i := from; i <= to; i++ {
		s := stringBytesOf(t.Stack[i])
		if s == "" && !value.IsString(t.Stack[i]) {
			s = t.Stack[i].GoString()
		}
		buf = append(buf, s...)
		if len(buf) >= pageSize {
			return value.Nil, errors.New("concat result exceeds one page")
		}
	}
	return t.internString(string(buf)), nil
}

func (t *Thread) internString(s string) value.Value {
	str := t.Strings.InternString(s)
	tag := value.TagShortStr
	if str.Long {
		tag = value.TagLongStr
	}
	return value.RefValue(tag, str)
}

// runtimeError implements §4.4's non-exception error path: write a
// diagnostic through the transport, then EXIT-patch the current and
// previous frames.
func (t *Thread) runtimeError(ci *CallInfo, err error) {
	msg := err.Error()
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		msg += "\n"
	}
	if t.Out != nil {
		_, _ = t.Out.Write(t.CPU, []byte(msg))
	}
	t.exitFrame(ci)
}

// exitFrame patches the current frame (and its caller, if any) to EXIT
// at the next checkpoint, per §5 "Cancellation".
func (t *Thread) exitFrame(ci *CallInfo) {
	ci.ForceExit = true
	if ci.Prev != nil {
		ci.Prev.ForceExit = true
	}
}

// precall implements §4.4's call protocol: native functions run to
// completion inline; scripted closures push a frame and let Execute's
// main loop resume at the callee's entry.
func (t *Thread) precall(caller *CallInfo, fnReg int, nargs int, nresults int) error {
	fn := t.Stack[fnReg]
	switch {
	case fn.Tag == value.TagLightFunc:
		native := fn.Func()
		if native == nil {
			return errCallNonFunction
		}
		t.setArgWindow(fnReg+1, fnReg+1+nargs)
		n := native(t)
		if n < 0 {
			if t.stop != nil {
				*t.stop = true
			}
			return nil
		}
		for i := 0; i < n && i < nresults; i++ {
			if i < len(t.results) {
				t.Stack[fnReg+i] = t.results[i]
			}
		}
		if nresults < 0 {
			for i, r := range t.results {
				t.Stack[fnReg+i] = r
			}
		}
		return nil

	case fn.Tag == value.TagClosure:
		cl, _ := AsClosure(fn)
		if fnReg+1+cl.Proto.MaxStackSize > maxStackSlots {
			return errors.New("stack overflow")
		}
		nci := t.extendCI()
		nci.Func = fnReg
		nci.Closure = cl
		nci.Proto = cl.Proto
		nci.Base = fnReg + 1
		nci.NResults = nresults
		nci.SavedPC = 0
		nci.Status = CistKTAP | CistReentry
		nci.ForceExit = false
		if cl.Proto.IsVararg {
			nci.Varargs = adjustVarargs(t, fnReg, nargs, cl.Proto.NumParams)
		} else {
			nci.Varargs = nil
		}
		nci.Top = nci.Base + cl.Proto.MaxStackSize
		t.ensure(nci.Top)
		for i := nargs; i < cl.Proto.NumParams; i++ {
			t.Stack[nci.Base+i] = value.Nil
		}
		return nil

	default:
		return errCallNonFunction
	}
}

// adjustVarargs shifts fixed parameters down to a canonical base and
// returns the surplus arguments as the frame's vararg vector, mirroring
// adjust_varargs in func.c.
func adjustVarargs(t *Thread, fnReg, nargs, numParams int) []value.Value {
	if nargs <= numParams {
		return nil
	}
	extra := make([]value.Value, nargs-numParams)
	copy(extra, t.Stack[fnReg+1+numParams:fnReg+1+nargs])
	return extra
}

// tailcall replaces the current frame in place rather than pushing a
// new one: closes upvalues, shifts arguments over the caller's slot,
// and inherits the caller's saved program counter semantics (§4.4
// "Call protocol").
func (t *Thread) tailcall(ci *CallInfo, fnReg int, nargs int) error {
	fn := t.Stack[fnReg]
	if fn.Tag != value.TagClosure {
		return t.precall(ci, fnReg, nargs, -1)
	}
	cl, _ := AsClosure(fn)
	t.closeUpvals(ci.Base)

	for i := 0; i < nargs+1; i++ {
		t.Stack[ci.Func+i] = t.Stack[fnReg+i]
	}
	newBase := ci.Func + 1
	ci.Closure = cl
	ci.Proto = cl.Proto
	ci.Base = newBase
	ci.SavedPC = 0
	ci.Status |= CistTail
	if cl.Proto.IsVararg {
		ci.Varargs = adjustVarargs(t, ci.Func, nargs, cl.Proto.NumParams)
	} else {
		ci.Varargs = nil
	}
	ci.Top = ci.Base + cl.Proto.MaxStackSize
	t.ensure(ci.Top)
	for i := nargs; i < cl.Proto.NumParams; i++ {
		t.Stack[ci.Base+i] = value.Nil
	}
	return nil
}

// doReturn closes upvalues above the frame base, copies results into
// the caller's expected window, and pops back to the caller (§4.4
// "Upvalues", "Call protocol").
func (t *Thread) doReturn(ci *CallInfo, from, to int) {
	t.closeUpvals(ci.Base)
	nres := to - from
	caller := ci.Prev
	if caller == nil {
		t.popCI()
		return
	}
	dst := ci.Func
	want := ci.NResults
	n := nres
	if want >= 0 && want < n {
		n = want
	}
	for i := 0; i < n; i++ {
		t.Stack[dst+i] = t.Stack[from+i]
	}
	if want < 0 {
		for i := 0; i < nres; i++ {
			t.Stack[dst+i] = t.Stack[from+i]
		}
	}
	t.popCI()
}
