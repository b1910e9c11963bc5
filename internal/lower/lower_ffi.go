package lower

import (
	"github.com/ember-lang/ember/internal/anvil"
	"github.com/ember-lang/ember/internal/typectx"
	"github.com/ember-lang/ember/internal/typedast"
)

// lowerNativeThunk lowers an `@native` method to a thunk that forwards
// its arguments straight through to the resolved foreign function and
// returns its result unchanged — argument/return marshaling to the
// platform ABI and the foreign-error-indicator conversion spec.md
// §4.D calls for are (E)'s concern when it mechanically lowers
// OpCallNative against a NativeBinding's resolved symbol (§6); (D)
// only needs to name which FuncID the call resolves against.
func (l *Lowerer) lowerNativeThunk(cd *typedast.ClassDecl, m *typedast.MethodDecl) (*anvil.Function, error) {
	fn := anvil.NewFunction(m.FuncID, cd.Name+"."+m.Name, anvil.KindFFIThunk, anvil.Signature{Params: paramTypes(m.Params), Ret: m.Ret})
	fn.Owner = cd.ID
	blk := fn.NewBlock("entry")

	slots := make([]int, len(m.Params))
	for i, p := range m.Params {
		slots[i] = fn.NewLocal(p.Name, p.Type)
	}

	operands := make([]anvil.Operand, len(m.Params))
	for i := range m.Params {
		r := fn.NewRegister()
		fn.Emit(blk, anvil.Instr{Op: anvil.OpLoadLocal, Dst: r, DstType: m.Params[i].Type, Operands: []anvil.Operand{anvil.ImmOperand(int64(slots[i]))}})
		operands[i] = anvil.RegOperand(r)
	}

	call := anvil.Instr{Op: anvil.OpCallNative, Dst: -1, ClassID: cd.ID, FuncID: m.FuncID, Operands: operands}
	var retOperands []anvil.Operand
	if m.Ret != typectx.Invalid {
		dst := fn.NewRegister()
		call.Dst = dst
		call.DstType = m.Ret
		retOperands = []anvil.Operand{anvil.RegOperand(dst)}
	}
	fn.Emit(blk, call)
	fn.Emit(blk, anvil.Instr{Op: anvil.OpRet, Operands: retOperands})
	return fn, nil
}
