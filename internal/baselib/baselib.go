// Package baselib implements the generic built-in library surface
// named in §6 "Built-in library surface": print/printf/trace_printk,
// exit, pairs/next, len, count, histogram, and the process/environment
// introspection built-ins supplemented from original_source/ (§1.3).
// Grounded on interpreter/library/baselib.c; each function is a
// value.NativeFunc invoked through the same calling convention as a
// scripted closure (vm.Thread implements value.NativeState).
package baselib

import (
	"github.com/ktap/ktap-sub001/internal/hostinfo"
	"github.com/ktap/ktap-sub001/internal/strpool"
	"github.com/ktap/ktap-sub001/internal/table"
	"github.com/ktap/ktap-sub001/internal/transport"
	"github.com/ktap/ktap-sub001/internal/value"
	"github.com/ktap/ktap-sub001/internal/vm"
)

// Entry is one registered built-in: its script-visible name and the
// native function value to install both into globals and the
// C-function cache (§4.9 "registers built-in libraries, which
// populates the C-function cache").
type Entry struct {
	Name string
	Fn   value.Value
}

// Register builds the full baselib Entry set. traceOut is the
// trace_printk bypass sink (§1.3); a Discard is appropriate when none
// is configured.
func Register(info hostinfo.Provider, out, traceOut transport.Writer) []Entry {
	return []Entry{
		{"print", value.LightFunc(builtinPrint)},
		{"printf", value.LightFunc(builtinPrintf)},
		{"trace_printk", traceprintkFn(traceOut)},
		{"exit", value.LightFunc(builtinExit)},
		{"pairs", value.LightFunc(builtinPairs)},
		{"next", value.LightFunc(builtinNext)},
		{"len", value.LightFunc(builtinLen)},
		{"count", value.LightFunc(builtinCount)},
		{"histogram", value.LightFunc(builtinHistogram)},
		{"pid", infoNumFn(func(p hostinfo.Provider) int64 { return int64(p.Pid()) }, info)},
		{"execname", infoStrFn(func(p hostinfo.Provider) string { return p.ExecName() }, info)},
		{"cpu", infoNumFn(func(p hostinfo.Provider) int64 { return int64(p.CPU()) }, info)},
		{"num_cpus", infoNumFn(func(p hostinfo.Provider) int64 { return int64(p.NumCPUs()) }, info)},
		{"arch", infoStrFn(func(p hostinfo.Provider) string { return p.Arch() }, info)},
		{"kernel_v", infoStrFn(func(p hostinfo.Provider) string { return p.KernelVersion() }, info)},
		{"in_interrupt", infoBoolFn(func(p hostinfo.Provider) bool { return p.InInterrupt() }, info)},
		{"gettimeofday_us", infoNumFn(func(p hostinfo.Provider) int64 { return p.GettimeofdayUs() }, info)},
		{"user_string", userStringFn(info)},
	}
}

func thread(ns value.NativeState) *vm.Thread {
	t, _ := ns.(*vm.Thread)
	return t
}

func internFn(ns value.NativeState, s string) value.Value {
	if t := thread(ns); t != nil {
		str := t.Strings.InternString(s)
		tag := value.TagShortStr
		if str.Long {
			tag = value.TagLongStr
		}
		return value.RefValue(tag, str)
	}
	return value.Nil
}

func builtinPrint(ns value.NativeState) int {
	t := thread(ns)
	if t == nil {
		return 0
	}
	var parts []value.Value
	for i := 1; i <= ns.ArgCount(); i++ {
		parts = append(parts, ns.Arg(i))
	}
	s, _ := transport.Sprintf(joinFormat(len(parts)), parts)
	_, _ = t.Out.Write(t.CPU, []byte(s+"\n"))
	return 0
}

func joinFormat(n int) string {
	f := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			f += " "
		}
		f += "%s"
	}
	return f
}

func builtinPrintf(ns value.NativeState) int {
	t := thread(ns)
	if t == nil || ns.ArgCount() < 1 {
		return 0
	}
	format := argString(ns.Arg(1))
	var rest []value.Value
	for i := 2; i <= ns.ArgCount(); i++ {
		rest = append(rest, ns.Arg(i))
	}
	s, err := transport.Sprintf(format, rest)
	if err != nil {
		return 0
	}
	_, _ = t.Out.Write(t.CPU, []byte(s))
	return 0
}

func traceprintkFn(sink transport.Writer) value.Value {
	return value.LightFunc(func(ns value.NativeState) int {
		t := thread(ns)
		if t == nil || ns.ArgCount() < 1 {
			return 0
		}
		format := argString(ns.Arg(1))
		var rest []value.Value
		for i := 2; i <= ns.ArgCount(); i++ {
			rest = append(rest, ns.Arg(i))
		}
		s, err := transport.Sprintf(format, rest)
		if err != nil {
			return 0
		}
		w := sink
		if w == nil {
			w = transport.Discard{}
		}
		_, _ = w.Write(t.CPU, []byte(s))
		return 0
	})
}

func builtinExit(ns value.NativeState) int { return -1 }

// builtinPairs implements the stateless-iterator protocol: returns
// (next, t, nil) so a `for k,v in pairs(t) do` loop calls next(t,k)
// each iteration (§1.3 "pairs(t) / stateless next iterator protocol").
func builtinPairs(ns value.NativeState) int {
	tbl, ok := asTable(ns.Arg(1))
	if !ok {
		ns.PushResult(value.Nil)
		return 1
	}
	ns.PushResult(value.LightFunc(builtinNext))
	ns.PushResult(value.RefValue(value.TagTable, tbl))
	ns.PushResult(value.Nil)
	return 3
}

func builtinNext(ns value.NativeState) int {
	tbl, ok := asTable(ns.Arg(1))
	if !ok {
		ns.PushResult(value.Nil)
		return 1
	}
	key := ns.Arg(2)
	nk, nv, ok := tbl.Next(key)
	if !ok {
		ns.PushResult(value.Nil)
		return 1
	}
	ns.PushResult(nk)
	ns.PushResult(nv)
	return 2
}

// builtinLen dispatches on tag: table length is the entry count (§4.1
// "statistical semantics, not Lua's border"); string length is byte
// length.
func builtinLen(ns value.NativeState) int {
	v := ns.Arg(1)
	if tbl, ok := asTable(v); ok {
		ns.PushResult(value.Number(int64(tbl.Len())))
		return 1
	}
	if value.IsString(v) {
		ns.PushResult(value.Number(int64(len(argString(v)))))
		return 1
	}
	ns.PushResult(value.Number(0))
	return 1
}

// builtinCount implements count(t, k [, n]): increments t[k] by n
// (default 1), initializing to n if absent (§1.3).
func builtinCount(ns value.NativeState) int {
	tbl, ok := asTable(ns.Arg(1))
	if !ok {
		return 0
	}
	k := ns.Arg(2)
	n := int64(1)
	if ns.ArgCount() >= 3 {
		n = value.AsNumber(ns.Arg(3))
	}
	cur := tbl.Get(k)
	base := int64(0)
	if value.IsNumber(cur) {
		base = value.AsNumber(cur)
	}
	_ = tbl.Set(k, value.Number(base+n))
	return 0
}

func builtinHistogram(ns value.NativeState) int {
	t := thread(ns)
	tbl, ok := asTable(ns.Arg(1))
	if !ok || t == nil {
		return 0
	}
	s, err := tbl.Histogram(0)
	if err != nil {
		_, _ = t.Out.Write(t.CPU, []byte(err.Error()+"\n"))
		return 0
	}
	_, _ = t.Out.Write(t.CPU, []byte(s))
	return 0
}

func infoNumFn(get func(hostinfo.Provider) int64, info hostinfo.Provider) value.Value {
	return value.LightFunc(func(ns value.NativeState) int {
		ns.PushResult(value.Number(get(info)))
		return 1
	})
}

func infoBoolFn(get func(hostinfo.Provider) bool, info hostinfo.Provider) value.Value {
	return value.LightFunc(func(ns value.NativeState) int {
		ns.PushResult(value.Bool(get(info)))
		return 1
	})
}

func infoStrFn(get func(hostinfo.Provider) string, info hostinfo.Provider) value.Value {
	return value.LightFunc(func(ns value.NativeState) int {
		ns.PushResult(internFn(ns, get(info)))
		return 1
	})
}

func userStringFn(info hostinfo.Provider) value.Value {
	return value.LightFunc(func(ns value.NativeState) int {
		addr := uintptr(value.AsNumber(ns.Arg(1)))
		s, err := info.UserString(addr)
		if err != nil {
			ns.PushResult(value.Nil)
			return 1
		}
		ns.PushResult(internFn(ns, s))
		return 1
	})
}

func argString(v value.Value) string {
	if value.IsString(v) {
		if s, ok := v.Ref().(*strpool.String); ok {
			return string(s.Bytes)
		}
	}
	return v.GoString()
}

func asTable(v value.Value) (*table.Table, bool) {
	if v.Tag != value.TagTable {
		return nil, false
	}
	tbl, ok := v.Ref().(*table.Table)
	return tbl, ok
}
