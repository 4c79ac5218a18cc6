// Package value implements the tracing VM's tagged value representation:
// the Value union itself, the GC object header every reference-kind value
// shares, and the identity/structural equality rules the rest of the
// engine (table, interpreter, event model) builds on.
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════
// REPRESENTATION
// ───────────────────────────────────────────────────────────────────────────────────────────────
//
// A Value never boxes a 64-bit integer or a boolean: Tag plus the inline
// `n` field cover nil/boolean/number/light-pointer/light-function without
// an allocation. Reference-kind tags (string, table, closure, userdata,
// proto, upvalue, event, backtrace) carry a GCObject in `ref`.
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════
package value

import (
	"fmt"
	"reflect"
)

// Tag discriminates a Value's variant. TagNil is zero so that the zero
// Value is nil; no other code depends on the numeric order of the tags.
type Tag uint8

const (
	TagNil Tag = iota
	TagBoolean
	TagNumber     // 64-bit signed integer; no floating point anywhere in the VM
	TagLightPtr   // opaque identifier, not dereferenced by the VM
	TagLightFunc  // address of a native handler
	TagShortStr   // interned, pointer-equal
	TagLongStr    // compared by bytes
	TagTable
	TagClosure
	TagUserData
	TagProto
	TagUpvalue
	TagEvent     // valid only during handler execution
	TagBacktrace
)

func (t Tag) String() string {
	switch t {
	case TagNil:
		return "nil"
	case TagBoolean:
		return "boolean"
	case TagNumber:
		return "number"
	case TagLightPtr:
		return "lightuserdata"
	case TagLightFunc:
		return "lightfunction"
	case TagShortStr, TagLongStr:
		return "string"
	case TagTable:
		return "table"
	case TagClosure:
		return "function"
	case TagUserData:
		return "userdata"
	case TagProto:
		return "proto"
	case TagUpvalue:
		return "upvalue"
	case TagEvent:
		return "event"
	case TagBacktrace:
		return "backtrace"
	default:
		return "unknown"
	}
}

// GCObject is implemented by every heap-allocated, session-owned value.
// Tables, closures, upvalues, strings, events, threads, backtraces and
// light-function holders all embed Header and so satisfy this
// automatically; vm.Proto does not embed it.
type GCObject interface {
	gcHeader() *Header
}

// Header is the common prefix every GC object carries: an intrusive
// next-pointer and a mark byte. No code in this repository sets either
// field: there is no session-wide or per-handler object list and no
// collector, and objects are reclaimed by the Go garbage collector.
type Header struct {
	Marked bool
	Next   GCObject
}

func (h *Header) gcHeader() *Header { return h }

// Value is the tagged union. Zero value is TagNil.
type Value struct {
	Tag Tag
	n   int64    // number, boolean (0/1), light pointer/func (as integer)
	ref GCObject // set iff Tag is a reference-kind tag
}

// Nil is the canonical nil value (also the zero Value).
var Nil = Value{Tag: TagNil}

func Bool(b bool) Value {
	var n int64
	if b {
		n = 1
	}
	return Value{Tag: TagBoolean, n: n}
}

func Number(n int64) Value { return Value{Tag: TagNumber, n: n} }

func LightPtr(addr uintptr) Value { return Value{Tag: TagLightPtr, n: int64(addr)} }

func LightFunc(fn NativeFunc) Value {
	return Value{Tag: TagLightFunc, ref: &lightFuncHolder{fn: fn}}
}

// NativeFunc is a handler written in Go, invoked by the interpreter's
// CALL/TAILCALL machinery exactly like a scripted closure would be.
// Returning a negative count tells the caller not to resume execution
// (used by the `exit` built-in).
type NativeFunc func(ks NativeState) (nresults int)

// NativeState is the minimal surface a NativeFunc needs from the
// executing state; it is satisfied by *vm.Thread without this package
// importing vm (which would create an import cycle).
type NativeState interface {
	Arg(n int) Value
	ArgCount() int
	PushResult(Value)
}

type lightFuncHolder struct {
	Header
	fn NativeFunc
}

func (v Value) Func() NativeFunc {
	if v.Tag != TagLightFunc {
		return nil
	}
	return v.ref.(*lightFuncHolder).fn
}

func IsNil(v Value) bool     { return v.Tag == TagNil }
func IsNumber(v Value) bool  { return v.Tag == TagNumber }
func IsString(v Value) bool  { return v.Tag == TagShortStr || v.Tag == TagLongStr }
func IsTable(v Value) bool   { return v.Tag == TagTable }
func IsFunc(v Value) bool    { return v.Tag == TagClosure || v.Tag == TagLightFunc }
func IsEvent(v Value) bool   { return v.Tag == TagEvent }
func Truthy(v Value) bool {
	if v.Tag == TagNil {
		return false
	}
	if v.Tag == TagBoolean {
		return v.n != 0
	}
	return true
}

func AsNumber(v Value) int64 { return v.n }

func AsBool(v Value) bool { return v.n != 0 }

func AsLightPtr(v Value) uintptr { return uintptr(v.n) }

// Ref returns the underlying GC object for reference-kind values, nil
// otherwise. Callers type-assert to the concrete kind they expect.
func (v Value) Ref() GCObject {
	if v.ref == nil {
		return nil
	}
	return v.ref
}

// RefValue wraps an already-allocated GC object as a Value of the given
// tag. The caller is responsible for picking a tag consistent with the
// object's concrete type (table.Table -> TagTable, and so on); this
// package does not import table/closure to avoid a cycle.
func RefValue(tag Tag, obj GCObject) Value {
	return Value{Tag: tag, ref: obj}
}

// Backtrace is a captured call-stack snapshot. Table keying hashes a
// backtrace by its first frame only (§4.3: "backtrace (hashed by first
// frame)"); equality is by identity, same as closures and user data.
type Backtrace struct {
	Header
	Frames []uintptr
}

func BacktraceValue(bt *Backtrace) Value {
	return Value{Tag: TagBacktrace, ref: bt}
}

func AsBacktrace(v Value) *Backtrace {
	if v.Tag != TagBacktrace {
		return nil
	}
	return v.ref.(*Backtrace)
}

// IdentityAddr returns a stable integer for the reference-kind value's
// backing object, suitable for hashing table keys whose main position
// is defined by pointer identity (light pointer/function, user data,
// backtrace, closure, table).
func IdentityAddr(v Value) uintptr {
	switch v.Tag {
	case TagLightPtr:
		return uintptr(v.n)
	default:
		if v.ref == nil {
			return 0
		}
		return objAddr(v.ref)
	}
}

// Equal implements the equality rules from the data model: structural
// for scalars, pointer identity for short strings/tables/closures/user
// data/backtraces, byte-compare for long strings (delegated to the
// caller via strpool.Eq, as table's keyEqual does, since this package
// does not own string storage).
func Equal(a, b Value) bool {
	if a.Tag != b.Tag {
		// A short string and a long string are never equal even if
		// their bytes match post-interning decisions; this mirrors
		// the source's strict tag check in kp_tstring_eqstr.
		return false
	}
	switch a.Tag {
	case TagNil:
		return true
	case TagBoolean, TagNumber, TagLightPtr:
		return a.n == b.n
	case TagShortStr:
		return a.ref == b.ref // interned: pointer equality
	default:
		// Reference identity for everything else (long strings compare
		// by pointer here too unless the caller routes through the
		// string pool's byte-compare helper; table/closure/userdata/
		// backtrace are always identity per the data model).
		return a.ref == b.ref
	}
}

// objAddr extracts the pointer value backing a GCObject. Every GCObject
// implementation in this codebase is a pointer type, so reflect's
// Pointer() is always valid here; it is only ever used for hashing and
// diagnostics, never dereferenced.
func objAddr(obj GCObject) uintptr {
	rv := reflect.ValueOf(obj)
	if rv.Kind() != reflect.Ptr {
		return 0
	}
	return rv.Pointer()
}

func (v Value) GoString() string {
	switch v.Tag {
	case TagNil:
		return "nil"
	case TagBoolean:
		return fmt.Sprintf("%t", v.n != 0)
	case TagNumber:
		return fmt.Sprintf("%d", v.n)
	default:
		return fmt.Sprintf("%s: %p", v.Tag, v.ref)
	}
}
