// Package transport implements the Transport & Formatting component:
// the Writer capability the VM's printf/CONCAT/diagnostic paths write
// through, and the printf-style format conversion ported from
// interpreter/strfmt.c. The actual ring-buffer/relay-channel transport
// is an external collaborator per the base spec ("the ring-buffer
// transport... consumed as a write(bytes)/reserve(len) capability");
// this package defines that capability as a Go interface and ships one
// concrete default (ring) plus a discard sink for trace_printk's bypass
// slot (SPEC_FULL.md §1.3).
package transport

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/ktap/ktap-sub001/internal/strpool"
	"github.com/ktap/ktap-sub001/internal/value"
)

// Writer is the capability the core consumes for output: per-CPU
// reserve/write primitives over an opaque byte stream (§4.8). The core
// never depends on a concrete ring-buffer implementation, only this
// interface — ring.Channel (package transport/ring) and Discard below
// satisfy it.
type Writer interface {
	// Write appends a fully-formed record. Per-CPU writes are FIFO
	// (§5 "Ordering"); across CPUs no ordering is promised.
	Write(cpu int, p []byte) (n int, err error)
	// Reserve returns a buffer of the given length for the caller to
	// fill. ring.Channel and Discard return a fresh buffer that is not
	// part of their output; its bytes reach the stream only via Write.
	Reserve(cpu int, length int) ([]byte, error)
}

// Discard is a Writer that drops everything; used as the default
// trace_printk bypass sink (§1.3) and in tests that don't care about
// output.
type Discard struct{}

func (Discard) Write(int, []byte) (int, error)       { return 0, nil }
func (Discard) Reserve(int, int) ([]byte, error)      { return make([]byte, 0), nil }

// ErrUnknownConversion is raised for an unrecognized printf verb
// (§4.8 "unknown conversions raise a runtime error").
var ErrUnknownConversion = errors.New("invalid conversion")

// Sprintf formats args against a ktap-style format string, supporting
// %c %d %i %o %u %x %X %s with the usual flag/width/precision, integer
// conversions implicitly widened to 64-bit (§4.8). This is a direct
// port of strfmt.c's scanformat/addlenmod approach translated into
// Go's fmt verb space instead of hand-rolled C variadic formatting.
func Sprintf(format string, args []value.Value) (string, error) {
	var out bytes.Buffer
	argi := 0
	nextArg := func() (value.Value, error) {
		if argi >= len(args) {
			return value.Nil, errors.New("bad argument: no value")
		}
		v := args[argi]
		argi++
		return v, nil
	}

	i := 0
	for i < len(format) {
		c := format[i]
		if c != '%' {
			out.WriteByte(c)
			i++
			continue
		}
		start := i
		i++
		if i < len(format) && format[i] == '%' {
			out.WriteByte('%')
			i++
			continue
		}
		// flags
		for i < len(format) && isFlag(format[i]) {
			i++
		}
		// width
		for i < len(format) && isDigit(format[i]) {
			i++
		}
		// precision
		if i < len(format) && format[i] == '.' {
			i++
			for i < len(format) && isDigit(format[i]) {
				i++
			}
		}
		if i >= len(format) {
			return "", errors.Wrapf(ErrUnknownConversion, "truncated format at %q", format[start:])
		}
		verb := format[i]
		spec := format[start : i+1]
		i++

		v, err := nextArg()
		if err != nil {
			return "", err
		}

		switch verb {
		case 'c':
			out.WriteByte(byte(value.AsNumber(v)))
		case 'd', 'i':
			if err := printfInt(&out, spec, value.AsNumber(v), 10, false); err != nil {
				return "", err
			}
		case 'o':
			if err := printfInt(&out, spec, value.AsNumber(v), 8, false); err != nil {
				return "", err
			}
		case 'u':
			if err := printfInt(&out, spec, value.AsNumber(v), 10, false); err != nil {
				return "", err
			}
		case 'x':
			if err := printfInt(&out, spec, value.AsNumber(v), 16, false); err != nil {
				return "", err
			}
		case 'X':
			if err := printfInt(&out, spec, value.AsNumber(v), 16, true); err != nil {
				return "", err
			}
		case 's':
			out.WriteString(stringOf(v))
		default:
			return "", errors.Wrapf(ErrUnknownConversion, "unsupported verb %q", spec)
		}
	}
	return out.String(), nil
}

func isFlag(c byte) bool  { return bytes.IndexByte([]byte("-+ #0"), c) >= 0 }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// printfInt reuses Go's own width/flag handling by rewriting the
// ktap/C-style spec (minus its length modifiers, which don't apply to
// Go's arbitrary-width integers) into an equivalent Go fmt verb.
func printfInt(out *bytes.Buffer, spec string, n int64, base int, upper bool) error {
	goVerb := byte('d')
	switch base {
	case 8:
		goVerb = 'o'
	case 16:
		if upper {
			goVerb = 'X'
		} else {
			goVerb = 'x'
		}
	}
	rewritten := spec[:len(spec)-1] + string(goVerb)
	fmt.Fprintf(out, rewritten, n)
	return nil
}

func stringOf(v value.Value) string {
	switch v.Tag {
	case value.TagShortStr, value.TagLongStr:
		if s, ok := v.Ref().(*strpool.String); ok {
			return string(s.Bytes)
		}
	case value.TagNumber:
		return strconv.FormatInt(value.AsNumber(v), 10)
	case value.TagNil:
		return "nil"
	case value.TagBoolean:
		return strconv.FormatBool(value.AsBool(v))
	}
	return v.GoString()
}
