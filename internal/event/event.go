// Package event implements the Event Model: the stack-only Event
// descriptor a firing probe hands to its closure, and the closed set
// of native field accessors the language exposes over it
// (interpreter/library/kdebug.c's event_ftbl, §4.5).
package event

import (
	"github.com/pkg/errors"

	"github.com/ktap/ktap-sub001/internal/value"
)

// FieldIndex is the ordinal a recognized event field name is rewritten
// to by the optimizer's GETTABLE -> EVENT peephole (§4.4 "Optimization
// pass"). Order matches the field table below; do not renumber without
// checking vm/optimize.go, which encodes these as EVENT's idx operand.
type FieldIndex int

const (
	FieldName FieldIndex = iota
	FieldToString
	FieldFormat
	FieldScNr
	FieldScArg1
	FieldScArg2
	FieldScArg3
	FieldScArg4
	FieldScArg5
	FieldScArg6
	FieldRegStr
	FieldRetval
	FieldSetRetval
	FieldAllField
	FieldFieldNum
	FieldField
	fieldCount
)

var fieldNames = [fieldCount]string{
	FieldName:      "name",
	FieldToString:  "tostring",
	FieldFormat:    "format",
	FieldScNr:      "sc_nr",
	FieldScArg1:    "sc_arg1",
	FieldScArg2:    "sc_arg2",
	FieldScArg3:    "sc_arg3",
	FieldScArg4:    "sc_arg4",
	FieldScArg5:    "sc_arg5",
	FieldScArg6:    "sc_arg6",
	FieldRegStr:    "regstr",
	FieldRetval:    "retval",
	FieldSetRetval: "set_retval",
	FieldAllField:  "allfield",
	FieldFieldNum:  "fieldnum",
	FieldField:     "field",
}

// LookupField resolves a field name to its ordinal, used both by the
// optimizer (to decide whether GETTABLE can become EVENT) and by the
// un-optimized GETTABLE fallback path for event receivers.
func LookupField(name string) (FieldIndex, bool) {
	for i, n := range fieldNames {
		if n == name {
			return FieldIndex(i), true
		}
	}
	return 0, false
}

// RegContext is the architecture-specific register snapshot a probe
// may carry (syscall arguments, return value, register dump). The host
// tracing facility is external (§1 Purpose & Scope); this interface is
// the minimal surface events need from it.
type RegContext interface {
	SyscallNr() int64
	SyscallArg(n int) int64 // n in [1,6]
	ReturnValue() int64
	SetReturnValue(int64)
	String() string // architecture-specific register-dump text
}

// Event is the stack-only descriptor constructed when a probe fires
// (§4.5). It must not outlive the handler invocation that received it
// — the data model is explicit that storing an Event into a persistent
// table is undefined. Event embeds value.Header only so that it can be
// wrapped as a value.TagEvent Value; it is never linked into any object
// list, and it is only ever referenced through value.TagEvent for the
// duration of one call.
type Event struct {
	value.Header

	Name    string
	Format  string
	Payload []byte
	Regs    RegContext // nil if the probe has no register context

	tostring func(*Event) string
	fields   []string // names reported by allfield/fieldnum/field
}

// New builds an Event whose fields list is the accessor names in
// fieldNames, not the payload's own field descriptors: allfield,
// fieldnum and field report the same 16 names for every event.

func New(name, format string, payload []byte, regs RegContext, tostring func(*Event) string) *Event {
	return &Event{Name: name, Format: format, Payload: payload, Regs: regs, tostring: tostring, fields: fieldNames[:]}
}

func EventValue(e *Event) value.Value { return value.RefValue(value.TagEvent, e) }

func AsEvent(v value.Value) (*Event, bool) {
	if v.Tag != value.TagEvent {
		return nil, false
	}
	e, ok := v.Ref().(*Event)
	return e, ok
}

// ErrNoRegContext is returned by register-dependent accessors when the
// firing probe carried none (e.g. a plain tracepoint with no pt_regs).
var ErrNoRegContext = errors.New("event: no register context")

// Accessor invokes the native accessor for idx against e, returning a
// Value the same way GETTABLE on an event's field name would (§4.5
// "EVENT Ra, Rb, idx bypasses the normal hash lookup and invokes the
// accessor directly").
func Accessor(e *Event, idx FieldIndex, strintern func(string) value.Value) (value.Value, error) {
	switch idx {
	case FieldName:
		return strintern(e.Name), nil
	case FieldFormat:
		return strintern(e.Format), nil
	case FieldToString:
		return value.LightFunc(func(ns value.NativeState) int {
			s := e.Name
			if e.tostring != nil {
				s = e.tostring(e)
			}
			ns.PushResult(strintern(s))
			return 1
		}), nil
	case FieldScNr:
		if e.Regs == nil {
			return value.Nil, ErrNoRegContext
		}
		return value.Number(e.Regs.SyscallNr()), nil
	case FieldScArg1, FieldScArg2, FieldScArg3, FieldScArg4, FieldScArg5, FieldScArg6:
		if e.Regs == nil {
			return value.Nil, ErrNoRegContext
		}
		n := int(idx-FieldScArg1) + 1
		return value.Number(e.Regs.SyscallArg(n)), nil
	case FieldRegStr:
		if e.Regs == nil {
			return value.Nil, ErrNoRegContext
		}
		return strintern(e.Regs.String()), nil
	case FieldRetval:
		if e.Regs == nil {
			return value.Nil, ErrNoRegContext
		}
		return value.Number(e.Regs.ReturnValue()), nil
	case FieldSetRetval:
		if e.Regs == nil {
			return value.Nil, ErrNoRegContext
		}
		regs := e.Regs
		return value.LightFunc(func(ns value.NativeState) int {
			v := ns.Arg(1)
			regs.SetReturnValue(value.AsNumber(v))
			return 0
		}), nil
	case FieldAllField:
		return strintern(e.allFieldString()), nil
	case FieldFieldNum:
		return value.Number(int64(len(e.fields))), nil
	case FieldField:
		return value.LightFunc(func(ns value.NativeState) int {
			n := int(value.AsNumber(ns.Arg(1)))
			if n < 0 || n >= len(e.fields) {
				ns.PushResult(value.Nil)
				return 1
			}
			ns.PushResult(strintern(e.fields[n]))
			return 1
		}), nil
	default:
		return value.Nil, errors.Errorf("event: unknown field index %d", idx)
	}
}

func (e *Event) allFieldString() string {
	s := ""
	for i, f := range e.fields {
		if i > 0 {
			s += ", "
		}
		s += f
	}
	return s
}

