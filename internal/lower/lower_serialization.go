package lower

import (
	"github.com/ember-lang/ember/internal/anvil"
	"github.com/ember-lang/ember/internal/resolver"
	"github.com/ember-lang/ember/internal/typectx"
	"github.com/ember-lang/ember/internal/typedast"
)

// objectToJSONSlot is Object.to_json's fixed v-table slot, reserved
// the same way lower_expressions.go reserves objectToStringSlot for
// Object.to_string — every class, by inheriting Object's default
// (or overriding it), answers to_json at this slot.
const objectToJSONSlot = 1

// lowerSerializationMethods synthesizes to_json/from_json for a
// `serializable: json` class, traversing its fields in declaration
// order and honoring a per-field @json(name: ...) override (spec.md
// §4.D). Both methods are built directly against the Function API,
// mirroring buildGeneratorHasNext in lower_generators.go, since
// neither has a typedast body of its own to walk.
func (l *Lowerer) lowerSerializationMethods(cd *typedast.ClassDecl) error {
	desc, ok := l.Syms.ClassOf(cd.ID)
	if !ok {
		return invariantf("lower: serialization requested for unresolved class %q", cd.Name)
	}
	strType := l.Types.Primitive(typectx.IntPtr)

	toJSON := l.buildToJSON(cd.ID, desc.Fields, strType)
	l.addSynthetic(toJSON)

	fromJSON := l.buildFromJSON(cd.ID, desc.Fields, strType)
	l.addSynthetic(fromJSON)
	return nil
}

func (l *Lowerer) buildToJSON(classID typectx.ClassID, fields []resolver.FieldSlot, strType typectx.Handle) *anvil.Function {
	id := l.freshSyntheticID()
	fn := anvil.NewFunction(id, "to_json", anvil.KindSerializer, anvil.Signature{Ret: strType})
	fn.Owner = classID
	self := fn.NewLocal("self", l.Types.Class(classID))
	blk := fn.NewBlock("entry")

	emitConst := func(s string) anvil.Register {
		r := fn.NewRegister()
		fn.Emit(blk, anvil.Instr{Op: anvil.OpConstString, Dst: r, DstType: strType, Operands: []anvil.Operand{anvil.ConstOperand(l.Mod.InternString(s))}})
		return r
	}
	concat := func(a, b anvil.Register) anvil.Register {
		r := fn.NewRegister()
		fn.Emit(blk, anvil.Instr{Op: anvil.OpStringConcat, Dst: r, DstType: strType, Operands: []anvil.Operand{anvil.RegOperand(a), anvil.RegOperand(b)}})
		return r
	}

	acc := emitConst("{")
	for i, f := range fields {
		if i > 0 {
			acc = concat(acc, emitConst(","))
		}
		key := f.JSONName
		if key == "" {
			key = f.Name
		}
		acc = concat(acc, emitConst(`"`+key+`":`))

		selfReg := fn.NewRegister()
		fn.Emit(blk, anvil.Instr{Op: anvil.OpLoadLocal, Dst: selfReg, DstType: l.Types.Class(classID), Operands: []anvil.Operand{anvil.ImmOperand(int64(self))}})
		val := fn.NewRegister()
		fn.Emit(blk, anvil.Instr{Op: anvil.OpGetField, Dst: val, DstType: f.Type, ClassID: classID, Slot: i, Operands: []anvil.Operand{anvil.RegOperand(selfReg)}})

		var piece anvil.Register
		if l.Types.IsReferenceType(f.Type) {
			piece = fn.NewRegister()
			fn.Emit(blk, anvil.Instr{Op: anvil.OpCallVirtual, Dst: piece, DstType: strType, ClassID: classID, Slot: objectToJSONSlot, Operands: []anvil.Operand{anvil.RegOperand(val)}})
		} else {
			piece = val
		}
		acc = concat(acc, piece)
	}
	acc = concat(acc, emitConst("}"))
	fn.Emit(blk, anvil.Instr{Op: anvil.OpRet, Operands: []anvil.Operand{anvil.RegOperand(acc)}})
	return fn
}

func (l *Lowerer) buildFromJSON(classID typectx.ClassID, fields []resolver.FieldSlot, strType typectx.Handle) *anvil.Function {
	id := l.freshSyntheticID()
	fn := anvil.NewFunction(id, "from_json", anvil.KindSerializer, anvil.Signature{Params: []typectx.Handle{strType}, Ret: l.Types.Class(classID)})
	fn.Owner = classID
	s := fn.NewLocal("json", strType)
	blk := fn.NewBlock("entry")

	obj := fn.NewRegister()
	fn.Emit(blk, anvil.Instr{Op: anvil.OpNew, Dst: obj, DstType: l.Types.Class(classID), ClassID: classID})

	for i, f := range fields {
		key := f.JSONName
		if key == "" {
			key = f.Name
		}
		keyReg := fn.NewRegister()
		fn.Emit(blk, anvil.Instr{Op: anvil.OpConstString, Dst: keyReg, DstType: strType, Operands: []anvil.Operand{anvil.ConstOperand(l.Mod.InternString(key))}})

		sReg := fn.NewRegister()
		fn.Emit(blk, anvil.Instr{Op: anvil.OpLoadLocal, Dst: sReg, DstType: strType, Operands: []anvil.Operand{anvil.ImmOperand(int64(s))}})

		val := fn.NewRegister()
		fn.Emit(blk, anvil.Instr{Op: anvil.OpCallInterfaceLike, Dst: val, DstType: f.Type, Name: "json_field", Operands: []anvil.Operand{anvil.RegOperand(sReg), anvil.RegOperand(keyReg)}})

		fn.Emit(blk, anvil.Instr{Op: anvil.OpSetField, ClassID: classID, Slot: i, Operands: []anvil.Operand{anvil.RegOperand(obj), anvil.RegOperand(val)}})
	}
	fn.Emit(blk, anvil.Instr{Op: anvil.OpRet, Operands: []anvil.Operand{anvil.RegOperand(obj)}})
	return fn
}
