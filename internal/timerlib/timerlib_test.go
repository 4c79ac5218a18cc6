package timerlib

import (
	"testing"
	"time"

	"github.com/ktap/ktap-sub001/internal/probe"
	"github.com/ktap/ktap-sub001/internal/vm"
)

func TestSetAndCancelAll(t *testing.T) {
	d := probe.NewDispatcher(noopHost{}, 1, nil, nil)
	mgr := NewManager(d, 0)

	mgr.Set(5*time.Millisecond, nil, func(cl *vm.Closure) {})

	if mgr.Count() != 1 {
		t.Fatalf("expected 1 live timer, got %d", mgr.Count())
	}
	mgr.CancelAll()
	if mgr.Count() != 0 {
		t.Fatal("CancelAll must leave no live timers (§8 invariant 5)")
	}
}

func TestRegister_NamesAllFactors(t *testing.T) {
	d := probe.NewDispatcher(noopHost{}, 1, nil, nil)
	mgr := NewManager(d, 0)
	entries := Register(mgr, func(cl *vm.Closure) {})
	want := map[string]bool{
		"timer.s": false, "timer.sec": false,
		"timer.ms": false, "timer.msec": false,
		"timer.us": false, "timer.usec": false,
		"timer.ns": false, "timer.nsec": false,
		"timer.profile": false,
	}
	for _, e := range entries {
		if _, ok := want[e.Name]; !ok {
			t.Fatalf("unexpected timer entry %q", e.Name)
		}
		want[e.Name] = true
	}
	for name, seen := range want {
		if !seen {
			t.Fatalf("expected entry %q to be registered", name)
		}
	}
}

type noopHost struct{}

func (noopHost) RegisterTracepoint(id int, ctx probe.Context, cb probe.Callback) (probe.Handle, error) {
	return nil, nil
}
func (noopHost) Unregister(h probe.Handle) error { return nil }
