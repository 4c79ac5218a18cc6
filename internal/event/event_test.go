package event

import (
	"testing"

	"github.com/ktap/ktap-sub001/internal/value"
)

type fakeRegs struct {
	nr      int64
	args    [6]int64
	retval  int64
	dump    string
}

func (f *fakeRegs) SyscallNr() int64        { return f.nr }
func (f *fakeRegs) SyscallArg(n int) int64  { return f.args[n-1] }
func (f *fakeRegs) ReturnValue() int64      { return f.retval }
func (f *fakeRegs) SetReturnValue(v int64)  { f.retval = v }
func (f *fakeRegs) String() string          { return f.dump }

func internForTest(s string) value.Value {
	return value.Value{} // the tests below never inspect string-valued results
}

func TestLookupField_KnownAndUnknown(t *testing.T) {
	idx, ok := LookupField("sc_arg3")
	if !ok || idx != FieldScArg3 {
		t.Fatalf("expected sc_arg3 -> FieldScArg3, got %v, %v", idx, ok)
	}
	if _, ok := LookupField("not_a_field"); ok {
		t.Fatal("unknown field name must not resolve")
	}
}

func TestAccessor_SyscallArgs(t *testing.T) {
	regs := &fakeRegs{nr: 59, args: [6]int64{10, 20, 30, 40, 50, 60}}
	e := New("execve", "", nil, regs, nil)

	v, err := Accessor(e, FieldScNr, internForTest)
	if err != nil || value.AsNumber(v) != 59 {
		t.Fatalf("sc_nr: got %v, %v", v, err)
	}

	v, err = Accessor(e, FieldScArg3, internForTest)
	if err != nil || value.AsNumber(v) != 30 {
		t.Fatalf("sc_arg3: got %v, %v", v, err)
	}
}

func TestAccessor_NoRegContext(t *testing.T) {
	e := New("tick", "", nil, nil, nil)
	_, err := Accessor(e, FieldScNr, internForTest)
	if err != ErrNoRegContext {
		t.Fatalf("expected ErrNoRegContext, got %v", err)
	}
}

func TestAccessor_SetRetval(t *testing.T) {
	regs := &fakeRegs{}
	e := New("sys_exit", "", nil, regs, nil)
	v, err := Accessor(e, FieldSetRetval, internForTest)
	if err != nil {
		t.Fatal(err)
	}
	fn := v.Func()
	if fn == nil {
		t.Fatal("set_retval must be a callable LightFunc")
	}
	fn(&singleArgState{arg: value.Number(-1)})
	if regs.retval != -1 {
		t.Fatalf("set_retval must call RegContext.SetReturnValue, got %d", regs.retval)
	}
}

func TestAsEvent_RoundTrip(t *testing.T) {
	e := New("probe", "", nil, nil, nil)
	v := EventValue(e)
	got, ok := AsEvent(v)
	if !ok || got != e {
		t.Fatal("EventValue/AsEvent must round-trip the same *Event")
	}
	if _, ok := AsEvent(value.Number(1)); ok {
		t.Fatal("AsEvent must reject non-event values")
	}
}

// singleArgState is a minimal value.NativeState fake for exercising a
// single-argument native accessor.
type singleArgState struct {
	arg     value.Value
	results []value.Value
}

func (s *singleArgState) Arg(n int) value.Value { return s.arg }
func (s *singleArgState) ArgCount() int         { return 1 }
func (s *singleArgState) PushResult(v value.Value) {
	s.results = append(s.results, v)
}
