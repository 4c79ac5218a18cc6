package vm

import "github.com/ktap/ktap-sub001/internal/value"

// Invoke runs cl with args pushed as its arguments, starting from the
// thread's current (idle) base frame, and drives Execute to
// completion. This is the entry point external callers (probe
// dispatch, timer firing, session startup) use to run a closure
// through the same calling convention CALL/TAILCALL use internally.
func (t *Thread) Invoke(cl *Closure, args []value.Value) error {
	t.ensure(1 + len(args))
	t.Stack[0] = ClosureValue(cl)
	for i, a := range args {
		t.Stack[1+i] = a
	}
	if err := t.precall(t.ci, 0, len(args), 0); err != nil {
		return err
	}
	return t.Execute()
}
