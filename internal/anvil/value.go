package anvil

import "github.com/ember-lang/ember/internal/typectx"

// Register is a typed virtual register: an SSA-like Anvil Value.
// Register types are fixed at definition (spec.md §3).
type Register int

// invalidRegister marks "no destination" (terminators that produce no
// value, or void calls).
const invalidRegister Register = -1

// Const is a constant-pool entry referenced by OpConstInt/Float/String.
type Const struct {
	IntVal    int64
	FloatVal  float64
	StringVal string
}

// ConstRef indexes into a Module's constant pool.
type ConstRef int

// Operand is a typed use site: either a register produced earlier in
// the same function, or an immediate encoded directly on the
// instruction (constant-pool index, local slot, field slot, v-table
// slot, class id, method id).
type Operand struct {
	Reg   Register // invalidRegister if this operand is not a register use
	Imm   int64
	Const ConstRef
}

// RegOperand wraps a register as an Operand.
func RegOperand(r Register) Operand { return Operand{Reg: r, Const: -1} }

// ImmOperand wraps an immediate integer as an Operand.
func ImmOperand(v int64) Operand { return Operand{Reg: invalidRegister, Imm: v, Const: -1} }

// ConstOperand wraps a constant-pool reference as an Operand.
func ConstOperand(c ConstRef) Operand { return Operand{Reg: invalidRegister, Const: c} }

// IsReg reports whether the operand is a register use.
func (o Operand) IsReg() bool { return o.Reg != invalidRegister }

// IsConst reports whether the operand is a constant-pool reference.
func (o Operand) IsConst() bool { return o.Const >= 0 }

// Local describes one entry in a Function's ordered, typed local list.
type Local struct {
	Name string
	Type typectx.Handle
}
