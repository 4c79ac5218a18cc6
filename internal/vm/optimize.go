package vm

import (
	"github.com/ktap/ktap-sub001/internal/event"
	"github.com/ktap/ktap-sub001/internal/strpool"
	"github.com/ktap/ktap-sub001/internal/value"
)

// CFuncResolver looks up a registered C function's slot in the
// append-only C-function cache by name, populated during library
// registration (§4.9 "registers built-in libraries, which populates
// the C-function cache").
type CFuncResolver func(name string) (slot int, ok bool)

// Optimize performs the load-time peephole pass described in §4.4
// "Optimization pass": GETTABLE on a statically-known event receiver
// becomes EVENT, and GETTABUP _ENV lookups that resolve to a
// registered C function become LOAD_GLOBAL. It recurses into every
// nested Proto. Names that don't resolve are left as ordinary
// GETTABLE/GETTABUP — a runtime type check handles them, same as the
// unoptimized path.
//
// This pass cannot, in general, prove a GETTABLE's receiver is always
// an event value from bytecode alone without full type inference
// (out of scope — the compiler front end that would carry that
// information is external, §1). It leaves that decision to the
// caller-supplied isEventReceiver: only a GETTABLE whose receiver
// register isEventReceiver reports as an event is rewritten, and a nil
// isEventReceiver rewrites no GETTABLE at all.
func Optimize(p *Proto, pool *strpool.Pool, resolveCFunc CFuncResolver, isEventReceiver func(p *Proto, reg int) bool) {
	for i := range p.Code {
		instr := p.Code[i]
		switch instr.Op {
		case OpGetTable:
			if isEventReceiver == nil || !isEventReceiver(p, instr.B) {
				continue
			}
			if !RKIsConst(RK(instr.C)) {
				continue
			}
			name := constString(p, RKConstIdx(RK(instr.C)))
			if name == "" {
				continue
			}
			if idx, ok := event.LookupField(name); ok {
				p.Code[i] = Instruction{Op: OpEvent, A: instr.A, B: instr.B, C: int(idx)}
			}

		case OpGetTabUp:
			if !RKIsConst(RK(instr.C)) {
				continue
			}
			name := constString(p, RKConstIdx(RK(instr.C)))
			if name == "" {
				continue
			}
			if slot, ok := resolveCFunc(name); ok {
				p.Code[i] = Instruction{Op: OpLoadGlobal, A: instr.A, B: slot}
			}
		}
	}
	for _, nested := range p.P {
		Optimize(nested, pool, resolveCFunc, isEventReceiver)
	}
}

func constString(p *Proto, idx int) string {
	if idx < 0 || idx >= len(p.K) {
		return ""
	}
	k := p.K[idx]
	if !value.IsString(k) {
		return ""
	}
	s, ok := k.Ref().(*strpool.String)
	if !ok {
		return ""
	}
	return string(s.Bytes)
}
