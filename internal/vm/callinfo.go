package vm

import "github.com/ktap/ktap-sub001/internal/value"

// CallStatus bits, matching the source's CIST_* flags (§3 "Call frame").
type CallStatus uint8

const (
	CistKTAP    CallStatus = 1 << iota // interpreted (scripted) frame
	CistReentry                        // caller is the interpreter itself (CALL -> newframe)
	CistTail                           // frame was produced by a TAILCALL, not a CALL
)

// CallInfo is a call-frame record threaded as a linked list through
// the thread (Glossary: "CallInfo"). extend_ci/free_ci in the source
// keep a free list of frames to avoid reallocating on every call; this
// port keeps that shape since the dead-loop/teardown invariants assume
// frames are reused, not garbage collected individually.
type CallInfo struct {
	Func     int // stack slot holding the called function value
	Base     int // first register of this frame
	Top      int // one past the last live register
	NResults int // results the caller wants, -1 = all
	SavedPC  int // index into Proto.Code

	Proto   *Proto   // nil for native calls
	Closure *Closure // nil for native calls
	Varargs []value.Value // surplus arguments, set when Proto.IsVararg

	Status CallStatus

	// ForceExit stands in for "saved program counter patched to EXIT"
	// (§4.4 "Error handling", §5 "Cancellation"): rather than rewriting
	// a shared Proto's code array in place, the dispatch loop checks
	// this flag before fetching each instruction and behaves exactly as
	// if it had fetched OpExit.
	ForceExit bool

	Prev *CallInfo
	Next *CallInfo
}

func (ci *CallInfo) is(bit CallStatus) bool { return ci.Status&bit != 0 }
