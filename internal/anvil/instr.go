package anvil

import "github.com/ember-lang/ember/internal/typectx"

// Instr is a single Anvil instruction: an opcode, its operands, and
// (for non-terminators) the typed destination register it defines.
type Instr struct {
	Op       OpCode
	Dst      Register       // invalidRegister for void calls; ignored for terminators and stores (see Defines)
	DstType  typectx.Handle  // the type fixed at definition, per spec.md §3
	Operands []Operand

	// Targets holds successor block indices for control-flow
	// terminators: len 1 for Jump, 2 for CondJump ([then, else]), N+1
	// for Switch ([default, case0, case1, ...]).
	Targets []int

	// ClassID/Slot/Name/FuncID are used by opcodes whose operand is an
	// immediate class/slot/name/function reference rather than a
	// register (GetField, SetField, CallVirtual, CallInterfaceLike,
	// CallStatic, CallNative, New, NewClosure, LoadCapture,
	// StoreCapture, LoadErased, StoreErased).
	ClassID typectx.ClassID
	Slot    int
	Name    string
	FuncID  typectx.FuncID

	Pos Pos
}

// Pos is the source span an instruction was lowered from, threaded
// through for diagnostics per spec.md §7.
type Pos struct{ Line, Col int }

// Uses returns every register this instruction reads.
func (i Instr) Uses() []Register {
	var out []Register
	for _, o := range i.Operands {
		if o.IsReg() {
			out = append(out, o.Reg)
		}
	}
	return out
}

// Defines reports whether this instruction defines a register:
// terminators and store-like opcodes never do, whatever Dst holds, and a
// void call marks itself with invalidRegister.
func (i Instr) Defines() bool {
	if i.Dst == invalidRegister || IsTerminator(i.Op) {
		return false
	}
	switch i.Op {
	case OpStoreLocal, OpSetField, OpArraySet, OpHashSet, OpStoreErased, OpStoreCapture, OpChannelSend, OpThreadSpawn:
		return false
	}
	return true
}
