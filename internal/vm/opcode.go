// Package vm implements the register-based bytecode interpreter: proto
// and closure representation, call frames, upvalues, the optimization
// pass, and the main dispatch loop. Instruction set and execution
// protocol are ported from interpreter/vm.c's ktap_execute() rather
// than redesigned; opcode names match the source 1:1 so a reader who
// knows the original can find the corresponding case immediately.
package vm

// Op is a bytecode opcode. 32-bit instruction words pack an Op plus
// A/B/C/sBx operand fields (§4.4 "Instruction encoding"); this Go
// representation favors a decoded struct over packed bit twiddling at
// dispatch time — the packing survives only in the loader that
// deserializes a bytecode image, which is out of this component's
// scope (the compiler front end and its image writer are external).
type Op uint8

const (
	OpMove Op = iota
	OpLoadK
	OpLoadKX
	OpLoadBool
	OpLoadNil
	OpGetUpval
	OpSetUpval
	OpGetTabUp
	OpSetTabUp
	OpLoadGlobal // optimized GETTABUP, see optimize.go
	OpGetTable
	OpSetTable
	OpNewTable
	OpSelf
	OpSetList
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpUnm
	OpNot
	OpLen
	OpConcat
	OpJmp
	OpEq
	OpLt
	OpLe
	OpTest
	OpTestSet
	OpCall
	OpTailCall
	OpReturn
	OpForPrep
	OpForLoop
	OpTForCall
	OpTForLoop
	OpClosure
	OpVararg
	OpExtraArg
	OpEvent // optimized GETTABLE on an event receiver, see optimize.go
	OpExit  // terminate interpreter; also the cancellation target
)

// RK encodes "register or constant": the high bit distinguishes a
// constant-pool index from a register index, exactly as the packed
// 32-bit format's RK fields do (§4.4 "Constants and registers share an
// address space through the RK encoding").
type RK int32

const rkConstBit = 1 << 8

func RKIsConst(rk RK) bool  { return rk&rkConstBit != 0 }
func RKConstIdx(rk RK) int  { return int(rk &^ rkConstBit) }
func RKReg(idx int) RK      { return RK(idx) }
func RKConst(idx int) RK    { return RK(idx | rkConstBit) }

// Instruction is the decoded form of one bytecode word.
type Instruction struct {
	Op  Op
	A   int
	B   int
	C   int
	Bx  int // unsigned wide immediate (LOADK's constant index, etc.)
	SBx int // signed wide immediate (JMP offsets, FORPREP/FORLOOP)
}
