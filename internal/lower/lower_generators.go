package lower

import (
	"fmt"

	"github.com/ember-lang/ember/internal/anvil"
	"github.com/ember-lang/ember/internal/typectx"
	"github.com/ember-lang/ember/internal/typedast"
)

// stateFrame records the state needed to lower the body of a
// generator's next() or an async function's resume() as a tagged
// state machine (spec.md §4.D, glossary "State machine lowering").
// Every local that must survive a suspension point becomes a field on
// a synthetic class instead of an ordinary Anvil local — field 0 is
// always the `state: i32` tag; fields 1.. are allocated lazily, one
// per AST local slot actually read or written while a stateFrame is
// active, plus any lowerer-internal slots (the async result, an
// awaited future) reserved up front by their callers.
type stateFrame struct {
	kind    anvil.Kind // KindGeneratorNext or KindAsyncResume
	classID typectx.ClassID
	self    int // local index holding the receiver

	fieldOf   map[int]int // ast local slot -> field slot
	nextField int

	// resumeCase holds the block index entered when the state tag
	// equals its position in this slice; resumeCase[0] is the body's
	// initial entry (state 0), appended to as later suspend points are
	// discovered.
	resumeCase []int
	doneState  int // assigned once the body has been fully lowered
}

// asyncDoneState is the state-tag value an async resume() function
// stores once it has completed. Unlike a generator, nothing ever reads
// this field back — the runtime future itself, not this field, is the
// source of truth for "has this completed" (future_value/§6) — so it
// needs no reservation in the dispatch table, only a value distinct
// from any real resume state.
const asyncDoneState = -1

func (l *Lowerer) selfLocal() anvil.Register {
	sf := l.stateFrame
	r := l.newReg()
	l.emit(anvil.Instr{Op: anvil.OpLoadLocal, Dst: r, DstType: l.Types.Class(sf.classID), Operands: []anvil.Operand{anvil.ImmOperand(int64(sf.self))}})
	return r
}

// stateFieldOf returns astSlot's field index on the synthetic class,
// allocating a fresh one on first use.
func (l *Lowerer) stateFieldOf(astSlot int) int {
	sf := l.stateFrame
	if f, ok := sf.fieldOf[astSlot]; ok {
		return f
	}
	f := sf.nextField
	sf.nextField++
	sf.fieldOf[astSlot] = f
	return f
}

func (l *Lowerer) loadStateLocal(astSlot int, t typectx.Handle) anvil.Register {
	self := l.selfLocal()
	r := l.newReg()
	l.emit(anvil.Instr{Op: anvil.OpGetField, Dst: r, DstType: t, ClassID: l.stateFrame.classID, Slot: l.stateFieldOf(astSlot), Operands: []anvil.Operand{anvil.RegOperand(self)}})
	return r
}

func (l *Lowerer) storeStateLocal(astSlot int, v anvil.Register) {
	self := l.selfLocal()
	l.emit(anvil.Instr{Op: anvil.OpSetField, ClassID: l.stateFrame.classID, Slot: l.stateFieldOf(astSlot), Operands: []anvil.Operand{anvil.RegOperand(self), anvil.RegOperand(v)}})
}

func (l *Lowerer) storeStateTag(v int64) {
	sf := l.stateFrame
	self := l.selfLocal()
	tag := l.newReg()
	l.emit(anvil.Instr{Op: anvil.OpConstInt, Dst: tag, DstType: l.Types.Primitive(typectx.I32), Operands: []anvil.Operand{anvil.ConstOperand(l.Mod.InternInt(v))}})
	l.emit(anvil.Instr{Op: anvil.OpSetField, ClassID: sf.classID, Slot: 0, Operands: []anvil.Operand{anvil.RegOperand(self), anvil.RegOperand(tag)}})
}

// emitYieldSuspend lowers `yield value` into a numbered suspend point:
// the resume block is opened now and recorded on the state frame so
// the entry dispatch switch can route back into it, matching the
// "split at each yield into case arms indexed by state" contract of
// spec.md §4.D. (E) mechanically expands the single OpYieldSuspend
// terminator into the store-state-and-return sequence of §4.E — (D)
// need not materialize that itself.
func (l *Lowerer) emitYieldSuspend(p typedast.Position, v anvil.Register) error {
	sf := l.stateFrame
	state := len(sf.resumeCase)
	resume := l.newBlock(fmt.Sprintf("state%d", state))
	sf.resumeCase = append(sf.resumeCase, resume)
	l.emit(anvil.Instr{Op: anvil.OpYieldSuspend, Pos: pos(p), Slot: state, Operands: []anvil.Operand{anvil.RegOperand(v)}, Targets: []int{resume}})
	l.setBlock(resume)
	return nil
}

// lowerGeneratorBody lowers a `yield`-containing function declaration
// into: a synthetic class (state tag + one field per captured param
// and per-suspension local), a next() state-machine method, a
// has_next() predicate, and — in place of the original declaration's
// own body — a constructor that allocates the generator object with
// its parameters installed as fields and state 0 (spec.md §4.D).
func (l *Lowerer) lowerGeneratorBody(id typectx.FuncID, name string, kind anvil.Kind, owner typectx.ClassID, params []*typedast.ParamDecl, ret typectx.Handle, body *typedast.Block) (*anvil.Function, error) {
	classID := l.freshSyntheticClass(name + "$Gen")

	paramFields, nextFn, hasNextFn, err := l.lowerGeneratorMethods(classID, params, ret, body)
	if err != nil {
		return nil, err
	}
	l.addSynthetic(nextFn)
	l.addSynthetic(hasNextFn)

	genType := l.Types.Class(classID)
	fn := anvil.NewFunction(id, name, kind, anvil.Signature{Params: paramTypes(params), Ret: genType})
	fn.Owner = owner
	l.beginFunction(fn, params)

	obj := l.newReg()
	l.emit(anvil.Instr{Op: anvil.OpNew, Dst: obj, DstType: genType, ClassID: classID})
	for i, p := range params {
		v := l.newReg()
		l.emit(anvil.Instr{Op: anvil.OpLoadLocal, Dst: v, DstType: p.Type, Operands: []anvil.Operand{anvil.ImmOperand(int64(l.localSlot[p.Slot]))}})
		l.emit(anvil.Instr{Op: anvil.OpSetField, ClassID: classID, Slot: paramFields[i], Operands: []anvil.Operand{anvil.RegOperand(obj), anvil.RegOperand(v)}})
	}
	zero := l.newReg()
	l.emit(anvil.Instr{Op: anvil.OpConstInt, Dst: zero, DstType: l.Types.Primitive(typectx.I32), Operands: []anvil.Operand{anvil.ConstOperand(l.Mod.InternInt(0))}})
	l.emit(anvil.Instr{Op: anvil.OpSetField, ClassID: classID, Slot: 0, Operands: []anvil.Operand{anvil.RegOperand(obj), anvil.RegOperand(zero)}})
	l.emit(anvil.Instr{Op: anvil.OpRet, Operands: []anvil.Operand{anvil.RegOperand(obj)}})
	return fn, nil
}

func (l *Lowerer) lowerGeneratorMethods(classID typectx.ClassID, params []*typedast.ParamDecl, elemType typectx.Handle, body *typedast.Block) (paramFields []int, nextFn, hasNextFn *anvil.Function, err error) {
	nextID := l.freshSyntheticID()
	fn := anvil.NewFunction(nextID, "next", anvil.KindGeneratorNext, anvil.Signature{Ret: elemType, Gen: true})
	fn.Owner = classID

	savedFn, savedCur, savedSlots, savedFinally, savedParent, savedFrame :=
		l.fn, l.cur, l.localSlot, l.finallyStack, l.tryParent, l.stateFrame
	defer func() {
		l.fn, l.cur, l.localSlot, l.finallyStack, l.tryParent, l.stateFrame =
			savedFn, savedCur, savedSlots, savedFinally, savedParent, savedFrame
	}()

	self := fn.NewLocal("self", l.Types.Class(classID))
	l.fn = fn
	l.localSlot = make(map[int]int)
	l.finallyStack = nil
	l.tryParent = -1

	sf := &stateFrame{kind: anvil.KindGeneratorNext, classID: classID, self: self, fieldOf: make(map[int]int), nextField: 1}
	l.stateFrame = sf

	paramFields = make([]int, len(params))
	for i, p := range params {
		paramFields[i] = l.stateFieldOf(p.Slot)
	}

	dispatch := fn.NewBlock("dispatch")
	entry := fn.NewBlock("state0")
	sf.resumeCase = append(sf.resumeCase, entry)

	l.cur = entry
	if err := l.lowerBlock(body); err != nil {
		return nil, nil, nil, err
	}
	doneBlock := fn.NewBlock("done")
	l.jumpToIfOpen(doneBlock)

	sf.doneState = len(sf.resumeCase)

	l.setBlock(doneBlock)
	l.emitGeneratorDone(sf, elemType)

	l.setBlock(dispatch)
	stateReg := l.selfLocal()
	tagReg := l.newReg()
	l.emit(anvil.Instr{Op: anvil.OpGetField, Dst: tagReg, DstType: l.Types.Primitive(typectx.I32), ClassID: classID, Slot: 0, Operands: []anvil.Operand{anvil.RegOperand(stateReg)}})
	targets := append([]int{doneBlock}, sf.resumeCase...)
	l.emit(anvil.Instr{Op: anvil.OpSwitch, Operands: []anvil.Operand{anvil.RegOperand(tagReg)}, Targets: targets})

	hasNextFn = l.buildGeneratorHasNext(classID, sf.doneState)
	return paramFields, fn, hasNextFn, nil
}

// emitGeneratorDone marks the generator exhausted (state = doneState)
// and returns a zero value of the yielded type — callers only reach
// this by falling off the end of the body without a final explicit
// throw/return, or by the defensive re-entrant `done` case in the
// dispatch switch; has_next() is expected to guard real call sites.
func (l *Lowerer) emitGeneratorDone(sf *stateFrame, elemType typectx.Handle) {
	l.storeStateTag(int64(sf.doneState))
	zero := l.newReg()
	if l.Types.IsReferenceType(elemType) {
		l.emit(anvil.Instr{Op: anvil.OpConstNil, Dst: zero, DstType: elemType})
	} else {
		l.emit(anvil.Instr{Op: anvil.OpConstInt, Dst: zero, DstType: elemType, Operands: []anvil.Operand{anvil.ConstOperand(l.Mod.InternInt(0))}})
	}
	l.emit(anvil.Instr{Op: anvil.OpRet, Operands: []anvil.Operand{anvil.RegOperand(zero)}})
}

// buildGeneratorHasNext builds `has_next() -> i1` directly against the
// Function API rather than through the Lowerer's current-block helpers
// (which operate on l.fn/l.cur) since it has no body of its own to
// lower — just one comparison against the state tag.
func (l *Lowerer) buildGeneratorHasNext(classID typectx.ClassID, doneState int) *anvil.Function {
	id := l.freshSyntheticID()
	boolType := l.Types.Primitive(typectx.I1)
	fn := anvil.NewFunction(id, "has_next", anvil.KindMethod, anvil.Signature{Ret: boolType})
	fn.Owner = classID
	self := fn.NewLocal("self", l.Types.Class(classID))
	blk := fn.NewBlock("entry")

	selfReg := fn.NewRegister()
	fn.Emit(blk, anvil.Instr{Op: anvil.OpLoadLocal, Dst: selfReg, DstType: l.Types.Class(classID), Operands: []anvil.Operand{anvil.ImmOperand(int64(self))}})

	stateReg := fn.NewRegister()
	fn.Emit(blk, anvil.Instr{Op: anvil.OpGetField, Dst: stateReg, DstType: l.Types.Primitive(typectx.I32), ClassID: classID, Slot: 0, Operands: []anvil.Operand{anvil.RegOperand(selfReg)}})

	doneReg := fn.NewRegister()
	fn.Emit(blk, anvil.Instr{Op: anvil.OpConstInt, Dst: doneReg, DstType: l.Types.Primitive(typectx.I32), Operands: []anvil.Operand{anvil.ConstOperand(l.Mod.InternInt(int64(doneState)))}})

	cmpReg := fn.NewRegister()
	fn.Emit(blk, anvil.Instr{Op: anvil.OpCmpIntNe, Dst: cmpReg, DstType: boolType, Operands: []anvil.Operand{anvil.RegOperand(stateReg), anvil.RegOperand(doneReg)}})

	fn.Emit(blk, anvil.Instr{Op: anvil.OpRet, Operands: []anvil.Operand{anvil.RegOperand(cmpReg)}})
	return fn
}
