// Package kdebuglib implements the kdebug.* built-in library (§4.6
// "Registration", §6): probe_by_id, probe_end, traceoff. Grounded on
// interpreter/library/kdebug.c; the actual registration/reentrancy
// machinery lives in internal/probe, this package only parses script
// arguments and adapts them to probe.Dispatcher's Go API.
package kdebuglib

import (
	"strconv"
	"strings"

	"github.com/ktap/ktap-sub001/internal/probe"
	"github.com/ktap/ktap-sub001/internal/strpool"
	"github.com/ktap/ktap-sub001/internal/value"
	"github.com/ktap/ktap-sub001/internal/vm"
)

// Entry mirrors baselib.Entry.
type Entry struct {
	Name string
	Fn   value.Value
}

// Register builds the kdebug.* Entry set. invoke runs a recorded
// probe_end closure through the interpreter's calling convention (fired
// probes are dispatched by probe.Dispatcher instead); ctx is the
// execution context these
// registrations fire under (a real deployment derives it per-probe
// from the tracepoint kind, tests pass it explicitly).
func Register(disp *probe.Dispatcher, ctx probe.Context, invoke func(*vm.Closure)) []Entry {
	return []Entry{
		{"kdebug.probe_by_id", value.LightFunc(func(ns value.NativeState) int {
			ids := parseIDs(argString(ns.Arg(1)))
			cl, ok := vm.AsClosure(ns.Arg(2))
			if !ok {
				return 0
			}
			_ = disp.ProbeByID(ids, *cl, ctx)
			return 0
		})},
		{"kdebug.probe_end", value.LightFunc(func(ns value.NativeState) int {
			cl, ok := vm.AsClosure(ns.Arg(1))
			if !ok {
				return 0
			}
			clCopy := cl
			disp.ProbeEnd(func() { invoke(clCopy) })
			return 0
		})},
		{"kdebug.traceoff", value.LightFunc(func(ns value.NativeState) int {
			_ = disp.Traceoff()
			return 0
		})},
	}
}

// parseIDs splits a comma/space-separated list of integer event ids
// (§4.6 "probe_by_id(csv_ids, closure) parses a comma/space-separated
// list of integer event ids").
func parseIDs(csv string) []int {
	fields := strings.FieldsFunc(csv, func(r rune) bool { return r == ',' || r == ' ' })
	ids := make([]int, 0, len(fields))
	for _, f := range fields {
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			continue
		}
		ids = append(ids, n)
	}
	return ids
}

func argString(v value.Value) string {
	if value.IsString(v) {
		if s, ok := v.Ref().(*strpool.String); ok {
			return string(s.Bytes)
		}
	}
	return ""
}
