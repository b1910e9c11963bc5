package lower

import (
	"github.com/ember-lang/ember/internal/anvil"
	"github.com/ember-lang/ember/internal/typectx"
	"github.com/ember-lang/ember/internal/typedast"
)

// asyncResultField is the reserved field slot (after field 0, the
// state tag) holding an async function's return value between
// emitAsyncComplete storing it and (E) reading it back out to build
// the future_complete call, mirroring the generator's field-0
// reservation in lower_generators.go.
const asyncResultField = 1

// asyncFutureField is the reserved field slot holding the Future that
// owns this state machine. (D) never writes it — (E) installs it once,
// right after wrapping the constructor's raw state-object return value
// in future_new, so resume()'s completion path can read it back out to
// call future_complete/future_fail. Reserved here purely so the
// suspended-local allocator (stateFieldOf) never hands this slot to an
// ordinary await-point local.
const asyncFutureField = 2

// lowerAsyncBody lowers an `async` function declaration the same way
// lowerGeneratorBody lowers a generator: a synthetic class holding the
// state tag and one field per suspended local, a resume() state
// machine built from the original body, and — in place of the
// original declaration — a constructor that allocates the state
// object with its parameters installed and immediately returns it,
// standing in for the Future the runtime wraps around it (spec.md
// §4.D, "Values returned by async functions are wrapped in a Future
// created at entry").
func (l *Lowerer) lowerAsyncBody(id typectx.FuncID, name string, kind anvil.Kind, owner typectx.ClassID, params []*typedast.ParamDecl, ret typectx.Handle, body *typedast.Block) (*anvil.Function, error) {
	classID := l.freshSyntheticClass(name + "$Async")

	paramFields, resumeFn, err := l.lowerAsyncResume(classID, params, ret, body)
	if err != nil {
		return nil, err
	}
	l.addSynthetic(resumeFn)

	stateType := l.Types.Class(classID)
	fn := anvil.NewFunction(id, name, kind, anvil.Signature{Params: paramTypes(params), Ret: stateType, Async: true})
	fn.Owner = owner
	l.beginFunction(fn, params)

	obj := l.newReg()
	l.emit(anvil.Instr{Op: anvil.OpNew, Dst: obj, DstType: stateType, ClassID: classID})
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

func (l *Lowerer) lowerAsyncResume(classID typectx.ClassID, params []*typedast.ParamDecl, ret typectx.Handle, body *typedast.Block) (paramFields []int, resumeFn *anvil.Function, err error) {
	resumeID := l.freshSyntheticID()
	fn := anvil.NewFunction(resumeID, "resume", anvil.KindAsyncResume, anvil.Signature{Async: true})
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

	sf := &stateFrame{kind: anvil.KindAsyncResume, classID: classID, self: self, fieldOf: make(map[int]int), nextField: 3}
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
		return nil, nil, err
	}
	if l.blockOpen() {
		l.emitAsyncComplete(anvil.Register(-1))
		l.emit(anvil.Instr{Op: anvil.OpRet})
	}

	l.setBlock(dispatch)
	invalid := fn.NewBlock("invalid_state")
	l.withBlock(invalid, func() {
		l.emit(anvil.Instr{Op: anvil.OpRet})
	})
	stateReg := l.selfLocal()
	tagReg := l.newReg()
	l.emit(anvil.Instr{Op: anvil.OpGetField, Dst: tagReg, DstType: l.Types.Primitive(typectx.I32), ClassID: classID, Slot: 0, Operands: []anvil.Operand{anvil.RegOperand(stateReg)}})
	targets := append([]int{invalid}, sf.resumeCase...)
	l.emit(anvil.Instr{Op: anvil.OpSwitch, Operands: []anvil.Operand{anvil.RegOperand(tagReg)}, Targets: targets})

	return paramFields, fn, nil
}

// withBlock runs body with l.cur temporarily pointed at b, restoring
// the prior current block afterward — used for the rare out-of-line
// block (the dispatch switch's defensive default arm) that isn't part
// of the normal straight-line lowering sequence.
func (l *Lowerer) withBlock(b int, body func()) {
	saved := l.cur
	l.cur = b
	body()
	l.cur = saved
}

// lowerAwait lowers `await future` into a numbered suspend point: the
// future is stashed in a state field so it survives the suspension,
// control suspends via OpAwaitSuspend, and on resume the result (or a
// rethrown failure) is fetched through a dynamic "value()" call
// (call_interface_like, which (E) maps to future_value) (spec.md §4.D:
// "resumption re-enters at the saved state and the value is observable
// via value(), which rethrows on failure").
func (l *Lowerer) lowerAwait(ex *typedast.Await) (anvil.Register, error) {
	if l.stateFrame == nil || l.stateFrame.kind != anvil.KindAsyncResume {
		return 0, invariantf("lower: await used outside an async function body")
	}
	fut, err := l.lowerExpr(ex.Future)
	if err != nil {
		return 0, err
	}
	return l.emitAwaitSuspend(fut, ex.Future.Type(), ex.Type())
}

func (l *Lowerer) emitAwaitSuspend(fut anvil.Register, futType, resultType typectx.Handle) (anvil.Register, error) {
	sf := l.stateFrame
	state := len(sf.resumeCase)
	resume := l.newBlock("")
	sf.resumeCase = append(sf.resumeCase, resume)

	futField := sf.nextField
	sf.nextField++
	self := l.selfLocal()
	l.emit(anvil.Instr{Op: anvil.OpSetField, ClassID: sf.classID, Slot: futField, Operands: []anvil.Operand{anvil.RegOperand(self), anvil.RegOperand(fut)}})

	l.emit(anvil.Instr{Op: anvil.OpAwaitSuspend, Slot: state, Operands: []anvil.Operand{anvil.RegOperand(fut)}, Targets: []int{resume}})

	l.setBlock(resume)
	self2 := l.selfLocal()
	futReg := l.newReg()
	l.emit(anvil.Instr{Op: anvil.OpGetField, Dst: futReg, DstType: futType, ClassID: sf.classID, Slot: futField, Operands: []anvil.Operand{anvil.RegOperand(self2)}})
	r := l.newReg()
	l.emit(anvil.Instr{Op: anvil.OpCallInterfaceLike, Dst: r, DstType: resultType, Name: "value", Operands: []anvil.Operand{anvil.RegOperand(futReg)}})
	return r, nil
}

// emitAsyncComplete stashes the return value (if any — a procedure
// passes an invalid register) into the reserved result field and
// marks the state machine done. (E) expands the OpRet that follows
// into future_complete(self.future, self.result)/future_fail, per the
// same "mechanical, opcode-directed" split documented for
// OpYieldSuspend/OpAwaitSuspend; (D) only needs to make the value
// reachable.
func (l *Lowerer) emitAsyncComplete(value anvil.Register) {
	sf := l.stateFrame
	if value >= 0 {
		self := l.selfLocal()
		l.emit(anvil.Instr{Op: anvil.OpSetField, ClassID: sf.classID, Slot: asyncResultField, Operands: []anvil.Operand{anvil.RegOperand(self), anvil.RegOperand(value)}})
	}
	l.storeStateTag(asyncDoneState)
}
