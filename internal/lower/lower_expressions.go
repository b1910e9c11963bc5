package lower

import (
	"github.com/ember-lang/ember/internal/anvil"
	"github.com/ember-lang/ember/internal/typectx"
	"github.com/ember-lang/ember/internal/typedast"
)

// lowerExpr lowers e into the current block, returning the register
// holding its value. Expression lowering never changes which block is
// "current" except for short-circuit and/or, which open and close a
// join block of their own.
func (l *Lowerer) lowerExpr(e typedast.Expr) (anvil.Register, error) {
	switch ex := e.(type) {
	case *typedast.IntLit:
		r := l.newReg()
		l.emit(anvil.Instr{Op: anvil.OpConstInt, Dst: r, DstType: ex.Type(), Operands: []anvil.Operand{anvil.ConstOperand(l.Mod.InternInt(ex.Value))}})
		return r, nil
	case *typedast.FloatLit:
		r := l.newReg()
		l.emit(anvil.Instr{Op: anvil.OpConstFloat, Dst: r, DstType: ex.Type(), Operands: []anvil.Operand{anvil.ConstOperand(l.Mod.InternFloat(ex.Value))}})
		return r, nil
	case *typedast.StringLit:
		r := l.newReg()
		l.emit(anvil.Instr{Op: anvil.OpConstString, Dst: r, DstType: ex.Type(), Operands: []anvil.Operand{anvil.ConstOperand(l.Mod.InternString(ex.Value))}})
		return r, nil
	case *typedast.BoolLit:
		v := int64(0)
		if ex.Value {
			v = 1
		}
		r := l.newReg()
		l.emit(anvil.Instr{Op: anvil.OpConstInt, Dst: r, DstType: ex.Type(), Operands: []anvil.Operand{anvil.ConstOperand(l.Mod.InternInt(v))}})
		return r, nil
	case *typedast.NilLit:
		r := l.newReg()
		l.emit(anvil.Instr{Op: anvil.OpConstNil, Dst: r, DstType: ex.Type()})
		return r, nil
	case *typedast.LocalRef:
		if frame, capSlot, ok := l.captureOf(ex.Slot); ok {
			r := l.newReg()
			l.emit(anvil.Instr{Op: anvil.OpLoadCapture, Dst: r, DstType: ex.Type(), ClassID: frame.classID, Slot: capSlot, Operands: []anvil.Operand{anvil.RegOperand(l.selfReg(frame))}})
			return r, nil
		}
		if l.stateFrame != nil {
			return l.loadStateLocal(ex.Slot, ex.Type()), nil
		}
		r := l.newReg()
		l.emit(anvil.Instr{Op: anvil.OpLoadLocal, Dst: r, DstType: ex.Type(), Operands: []anvil.Operand{anvil.ImmOperand(int64(l.slotOf(ex.Slot, ex.Type(), ex.Name)))}})
		return r, nil
	case *typedast.FieldAccess:
		return l.lowerFieldAccess(ex)
	case *typedast.BinaryExpr:
		return l.lowerBinaryExpr(ex)
	case *typedast.UnaryExpr:
		return l.lowerUnaryExpr(ex)
	case *typedast.Convert:
		return l.lowerConvert(ex)
	case *typedast.New:
		return l.lowerNew(ex)
	case *typedast.StaticCall:
		return l.lowerStaticCall(ex)
	case *typedast.VirtualCall:
		return l.lowerVirtualCall(ex)
	case *typedast.InterfaceCall:
		return l.lowerInterfaceCall(ex)
	case *typedast.NativeCall:
		return l.lowerNativeCall(ex)
	case *typedast.ArrayLit:
		return l.lowerArrayLit(ex)
	case *typedast.IndexExpr:
		return l.lowerIndexExpr(ex)
	case *typedast.BlockLit:
		return l.lowerBlockLit(ex)
	case *typedast.Interp:
		return l.lowerInterp(ex)
	case *typedast.Await:
		return l.lowerAwait(ex)
	default:
		return 0, invariantf("lower: unhandled expression node %T", e)
	}
}

func (l *Lowerer) lowerFieldAccess(ex *typedast.FieldAccess) (anvil.Register, error) {
	recv, err := l.lowerExpr(ex.Recv)
	if err != nil {
		return 0, err
	}
	slot, err := l.fieldSlot(ex.Class, ex.Field)
	if err != nil {
		return 0, err
	}
	r := l.newReg()
	l.emit(anvil.Instr{
		Op: anvil.OpGetField, Dst: r, DstType: ex.Type(),
		Operands: []anvil.Operand{anvil.RegOperand(recv)},
		ClassID:  ex.Class, Slot: slot, Pos: pos(typedast.Position{}),
	})
	return r, nil
}

// fieldSlot resolves a field's declaration-order index on class cls,
// the same index the resolver's layout_of assigns an offset to.
func (l *Lowerer) fieldSlot(cls typectx.ClassID, name string) (int, error) {
	if l.Syms == nil {
		return 0, invariantf("lower: field access requires a resolver")
	}
	desc, ok := l.Syms.ClassOf(cls)
	if !ok {
		return 0, invariantf("lower: field access on unresolved class %d", cls)
	}
	for i, f := range desc.Fields {
		if f.Name == name {
			return i, nil
		}
	}
	return 0, invariantf("lower: class %q has no field %q", desc.Name, name)
}

var intBinOp = map[typedast.BinOp]anvil.OpCode{
	typedast.OpAdd: anvil.OpAddInt, typedast.OpSub: anvil.OpSubInt,
	typedast.OpMul: anvil.OpMulInt, typedast.OpDiv: anvil.OpDivInt, typedast.OpMod: anvil.OpModInt,
	typedast.OpBitAnd: anvil.OpBitAnd, typedast.OpBitOr: anvil.OpBitOr, typedast.OpBitXor: anvil.OpBitXor,
	typedast.OpShl: anvil.OpShl, typedast.OpShr: anvil.OpShr,
	typedast.OpEq: anvil.OpCmpIntEq, typedast.OpNe: anvil.OpCmpIntNe,
	typedast.OpLt: anvil.OpCmpIntLt, typedast.OpLe: anvil.OpCmpIntLe,
	typedast.OpGt: anvil.OpCmpIntGt, typedast.OpGe: anvil.OpCmpIntGe,
}

var floatBinOp = map[typedast.BinOp]anvil.OpCode{
	typedast.OpAdd: anvil.OpAddFloat, typedast.OpSub: anvil.OpSubFloat,
	typedast.OpMul: anvil.OpMulFloat, typedast.OpDiv: anvil.OpDivFloat,
	typedast.OpEq: anvil.OpCmpFloatEq, typedast.OpNe: anvil.OpCmpFloatNe,
	typedast.OpLt: anvil.OpCmpFloatLt, typedast.OpLe: anvil.OpCmpFloatLe,
	typedast.OpGt: anvil.OpCmpFloatGt, typedast.OpGe: anvil.OpCmpFloatGe,
}

func (l *Lowerer) lowerBinaryExpr(ex *typedast.BinaryExpr) (anvil.Register, error) {
	if ex.Op == typedast.OpAnd || ex.Op == typedast.OpOr {
		return l.lowerShortCircuit(ex)
	}

	lhs, err := l.lowerExpr(ex.Left)
	if err != nil {
		return 0, err
	}
	rhs, err := l.lowerExpr(ex.Right)
	if err != nil {
		return 0, err
	}

	var op anvil.OpCode
	var ok bool
	if l.Types.IsInteger(ex.Left.Type()) {
		op, ok = intBinOp[ex.Op]
	} else {
		op, ok = floatBinOp[ex.Op]
	}
	if !ok {
		return 0, unsupportedf(typedast.Position{}, "lower: binary operator %d has no opcode for this operand type", ex.Op)
	}

	r := l.newReg()
	l.emit(anvil.Instr{Op: op, Dst: r, DstType: ex.Type(), Operands: []anvil.Operand{anvil.RegOperand(lhs), anvil.RegOperand(rhs)}})
	return r, nil
}

// lowerShortCircuit lowers `and`/`or` via a join-block-and-temp-local
// pattern: Anvil has no explicit phi instruction, so the boolean result
// "produced by a join" (spec.md §4.D) is materialized as a store into a
// synthetic local on each incoming edge and a single load after the join.
func (l *Lowerer) lowerShortCircuit(ex *typedast.BinaryExpr) (anvil.Register, error) {
	boolType := ex.Type()
	tmp := l.fn.NewLocal("", boolType)

	lhs, err := l.lowerExpr(ex.Left)
	if err != nil {
		return 0, err
	}

	evalRight := l.newBlock("")
	shortCircuit := l.newBlock("")
	join := l.newBlock("")

	if ex.Op == typedast.OpAnd {
		l.emit(anvil.Instr{Op: anvil.OpCondJump, Operands: []anvil.Operand{anvil.RegOperand(lhs)}, Targets: []int{evalRight, shortCircuit}})
	} else {
		l.emit(anvil.Instr{Op: anvil.OpCondJump, Operands: []anvil.Operand{anvil.RegOperand(lhs)}, Targets: []int{shortCircuit, evalRight}})
	}

	l.setBlock(shortCircuit)
	shortVal := int64(0)
	if ex.Op == typedast.OpOr {
		shortVal = 1
	}
	sv := l.newReg()
	l.emit(anvil.Instr{Op: anvil.OpConstInt, Dst: sv, DstType: boolType, Operands: []anvil.Operand{anvil.ConstOperand(l.Mod.InternInt(shortVal))}})
	l.emit(anvil.Instr{Op: anvil.OpStoreLocal, Operands: []anvil.Operand{anvil.ImmOperand(int64(tmp)), anvil.RegOperand(sv)}})
	l.emit(anvil.Instr{Op: anvil.OpJump, Targets: []int{join}})

	l.setBlock(evalRight)
	rhs, err := l.lowerExpr(ex.Right)
	if err != nil {
		return 0, err
	}
	l.emit(anvil.Instr{Op: anvil.OpStoreLocal, Operands: []anvil.Operand{anvil.ImmOperand(int64(tmp)), anvil.RegOperand(rhs)}})
	l.emit(anvil.Instr{Op: anvil.OpJump, Targets: []int{join}})

	l.setBlock(join)
	r := l.newReg()
	l.emit(anvil.Instr{Op: anvil.OpLoadLocal, Dst: r, DstType: boolType, Operands: []anvil.Operand{anvil.ImmOperand(int64(tmp))}})
	return r, nil
}

func (l *Lowerer) lowerUnaryExpr(ex *typedast.UnaryExpr) (anvil.Register, error) {
	v, err := l.lowerExpr(ex.Operand)
	if err != nil {
		return 0, err
	}
	var op anvil.OpCode
	switch ex.Op {
	case typedast.OpNeg:
		if l.Types.IsInteger(ex.Operand.Type()) {
			op = anvil.OpNegInt
		} else {
			op = anvil.OpNegFloat
		}
	case typedast.OpBitNot:
		op = anvil.OpBitNot
	case typedast.OpNot:
		// Boolean not is lowered as `x == 0` — there is no standalone
		// logical-not opcode, since i1 comparisons already cover it.
		zero := l.newReg()
		l.emit(anvil.Instr{Op: anvil.OpConstInt, Dst: zero, DstType: ex.Operand.Type(), Operands: []anvil.Operand{anvil.ConstOperand(l.Mod.InternInt(0))}})
		r := l.newReg()
		l.emit(anvil.Instr{Op: anvil.OpCmpIntEq, Dst: r, DstType: ex.Type(), Operands: []anvil.Operand{anvil.RegOperand(v), anvil.RegOperand(zero)}})
		return r, nil
	}
	r := l.newReg()
	l.emit(anvil.Instr{Op: op, Dst: r, DstType: ex.Type(), Operands: []anvil.Operand{anvil.RegOperand(v)}})
	return r, nil
}

var convertOps = map[typedast.ConvertKind]anvil.OpCode{
	typedast.ConvIToF:     anvil.OpIToF,
	typedast.ConvFToI:     anvil.OpFToI,
	typedast.ConvI32ToI64: anvil.OpI32ToI64,
	typedast.ConvF32ToF64: anvil.OpF32ToF64,
	typedast.ConvBox:      anvil.OpBox,
	typedast.ConvUnbox:    anvil.OpUnbox,
}

func (l *Lowerer) lowerConvert(ex *typedast.Convert) (anvil.Register, error) {
	v, err := l.lowerExpr(ex.Expr)
	if err != nil {
		return 0, err
	}
	op, ok := convertOps[ex.Kind]
	if !ok {
		return 0, invariantf("lower: unknown conversion kind %d", ex.Kind)
	}
	r := l.newReg()
	l.emit(anvil.Instr{Op: op, Dst: r, DstType: ex.Type(), Operands: []anvil.Operand{anvil.RegOperand(v)}})
	return r, nil
}

func (l *Lowerer) lowerNew(ex *typedast.New) (anvil.Register, error) {
	args := make([]anvil.Operand, 0, len(ex.Args))
	for _, a := range ex.Args {
		v, err := l.lowerExpr(a)
		if err != nil {
			return 0, err
		}
		args = append(args, anvil.RegOperand(v))
	}
	r := l.newReg()
	l.emit(anvil.Instr{Op: anvil.OpNew, Dst: r, DstType: ex.Type(), Operands: args, ClassID: ex.Class})
	return r, nil
}

func (l *Lowerer) lowerArgs(args []typedast.Expr) ([]anvil.Operand, error) {
	out := make([]anvil.Operand, 0, len(args))
	for _, a := range args {
		v, err := l.lowerExpr(a)
		if err != nil {
			return nil, err
		}
		out = append(out, anvil.RegOperand(v))
	}
	return out, nil
}

func (l *Lowerer) lowerStaticCall(ex *typedast.StaticCall) (anvil.Register, error) {
	operands, err := l.lowerArgs(ex.Args)
	if err != nil {
		return 0, err
	}
	var dst anvil.Register = -1
	if ex.Type() != typectx.Invalid {
		dst = l.newReg()
	}
	l.emit(anvil.Instr{Op: anvil.OpCallStatic, Dst: dst, DstType: ex.Type(), Operands: operands, FuncID: ex.Func})
	return dst, nil
}

func (l *Lowerer) lowerVirtualCall(ex *typedast.VirtualCall) (anvil.Register, error) {
	recv, err := l.lowerExpr(ex.Recv)
	if err != nil {
		return 0, err
	}
	args, err := l.lowerArgs(ex.Args)
	if err != nil {
		return 0, err
	}
	operands := append([]anvil.Operand{anvil.RegOperand(recv)}, args...)
	var dst anvil.Register = -1
	if ex.Type() != typectx.Invalid {
		dst = l.newReg()
	}
	l.emit(anvil.Instr{Op: anvil.OpCallVirtual, Dst: dst, DstType: ex.Type(), Operands: operands, ClassID: ex.Class, Slot: ex.Slot})
	return dst, nil
}

func (l *Lowerer) lowerInterfaceCall(ex *typedast.InterfaceCall) (anvil.Register, error) {
	recv, err := l.lowerExpr(ex.Recv)
	if err != nil {
		return 0, err
	}
	args, err := l.lowerArgs(ex.Args)
	if err != nil {
		return 0, err
	}
	operands := append([]anvil.Operand{anvil.RegOperand(recv)}, args...)
	var dst anvil.Register = -1
	if ex.Type() != typectx.Invalid {
		dst = l.newReg()
	}
	l.emit(anvil.Instr{Op: anvil.OpCallInterfaceLike, Dst: dst, DstType: ex.Type(), Operands: operands, Name: ex.Name})
	return dst, nil
}

func (l *Lowerer) lowerNativeCall(ex *typedast.NativeCall) (anvil.Register, error) {
	operands, err := l.lowerArgs(ex.Args)
	if err != nil {
		return 0, err
	}
	var dst anvil.Register = -1
	if ex.Type() != typectx.Invalid {
		dst = l.newReg()
	}
	l.emit(anvil.Instr{Op: anvil.OpCallNative, Dst: dst, DstType: ex.Type(), Operands: operands, FuncID: ex.Func})
	return dst, nil
}

func (l *Lowerer) lowerArrayLit(ex *typedast.ArrayLit) (anvil.Register, error) {
	n := l.newReg()
	l.emit(anvil.Instr{Op: anvil.OpConstInt, Dst: n, DstType: l.Types.Primitive(typectx.I64), Operands: []anvil.Operand{anvil.ConstOperand(l.Mod.InternInt(int64(len(ex.Elems))))}})
	arr := l.newReg()
	l.emit(anvil.Instr{Op: anvil.OpArrayNew, Dst: arr, DstType: ex.Type(), Operands: []anvil.Operand{anvil.RegOperand(n)}})
	for i, el := range ex.Elems {
		v, err := l.lowerExpr(el)
		if err != nil {
			return 0, err
		}
		idx := l.newReg()
		l.emit(anvil.Instr{Op: anvil.OpConstInt, Dst: idx, DstType: l.Types.Primitive(typectx.I64), Operands: []anvil.Operand{anvil.ConstOperand(l.Mod.InternInt(int64(i)))}})
		l.emit(anvil.Instr{Op: anvil.OpArraySet, Operands: []anvil.Operand{anvil.RegOperand(arr), anvil.RegOperand(idx), anvil.RegOperand(v)}})
	}
	return arr, nil
}

func (l *Lowerer) lowerIndexExpr(ex *typedast.IndexExpr) (anvil.Register, error) {
	recv, err := l.lowerExpr(ex.Recv)
	if err != nil {
		return 0, err
	}
	idx, err := l.lowerExpr(ex.Index)
	if err != nil {
		return 0, err
	}
	op := anvil.OpArrayGet
	if l.Types.Kind(ex.Recv.Type()) == typectx.KindHash {
		op = anvil.OpHashGet
	}
	r := l.newReg()
	l.emit(anvil.Instr{Op: op, Dst: r, DstType: ex.Type(), Operands: []anvil.Operand{anvil.RegOperand(recv), anvil.RegOperand(idx)}})
	return r, nil
}

// lowerInterp lowers `"…${e}…"` to an ordered to_string/string_concat
// chain preserving left-to-right evaluation order (spec.md §4.D).
func (l *Lowerer) lowerInterp(ex *typedast.Interp) (anvil.Register, error) {
	strType := l.Types.Primitive(typectx.IntPtr) // opaque string handle; concrete String class is out of this unit's scope
	var acc anvil.Register = -1
	for _, part := range ex.Parts {
		var piece anvil.Register
		if sl, ok := part.(*typedast.StringLit); ok {
			r := l.newReg()
			l.emit(anvil.Instr{Op: anvil.OpConstString, Dst: r, DstType: strType, Operands: []anvil.Operand{anvil.ConstOperand(l.Mod.InternString(sl.Value))}})
			piece = r
		} else {
			v, err := l.lowerExpr(part)
			if err != nil {
				return 0, err
			}
			if l.Types.IsReferenceType(part.Type()) {
				// to_string is always slot 0 on Object per the teacher's
				// convention of reserving the lowest v-table slots for
				// Object's own methods; classes without their own
				// override inherit it unchanged (prefix-sharing, §4.B).
				r := l.newReg()
				l.emit(anvil.Instr{Op: anvil.OpCallVirtual, Dst: r, DstType: strType, Operands: []anvil.Operand{anvil.RegOperand(v)}, Slot: objectToStringSlot})
				piece = r
			} else {
				piece = v
			}
		}
		if acc == -1 {
			acc = piece
			continue
		}
		r := l.newReg()
		l.emit(anvil.Instr{Op: anvil.OpStringConcat, Dst: r, DstType: strType, Operands: []anvil.Operand{anvil.RegOperand(acc), anvil.RegOperand(piece)}})
		acc = r
	}
	if acc == -1 {
		r := l.newReg()
		l.emit(anvil.Instr{Op: anvil.OpConstString, Dst: r, DstType: strType, Operands: []anvil.Operand{anvil.ConstOperand(l.Mod.InternString(""))}})
		return r, nil
	}
	return acc, nil
}

// objectToStringSlot is Object.to_string's fixed v-table slot.
const objectToStringSlot = 0
