package lower

import (
	"fmt"

	"github.com/ember-lang/ember/internal/anvil"
	"github.com/ember-lang/ember/internal/typectx"
	"github.com/ember-lang/ember/internal/typedast"
)

// syntheticClassBase is the first ClassID handed to a lowerer-created
// synthetic class (closures, generator/async state machines). Mirrors
// syntheticFuncBase's reasoning: kept well above any realistic
// resolver-assigned ClassID so the two spaces never collide.
const syntheticClassBase typectx.ClassID = 1 << 20

// closureFrame records the state needed to resolve a captured variable
// read/write while lowering one closure call body.
type closureFrame struct {
	self          int         // local index holding the closure object itself
	classID       typectx.ClassID
	slotToCapture map[int]int // enclosing-scope ast slot -> capture index
}

// captureOf reports whether astSlot names a variable captured by the
// closure body currently being lowered, returning the owning frame and
// its capture index.
func (l *Lowerer) captureOf(astSlot int) (closureFrame, int, bool) {
	if len(l.closureCaptures) == 0 {
		return closureFrame{}, 0, false
	}
	frame := l.closureCaptures[len(l.closureCaptures)-1]
	idx, ok := frame.slotToCapture[astSlot]
	return frame, idx, ok
}

func (l *Lowerer) selfReg(frame closureFrame) anvil.Register {
	r := l.newReg()
	l.emit(anvil.Instr{Op: anvil.OpLoadLocal, Dst: r, DstType: l.Types.Class(frame.classID), Operands: []anvil.Operand{anvil.ImmOperand(int64(frame.self))}})
	return r
}

func (l *Lowerer) freshSyntheticClass(nameHint string) typectx.ClassID {
	id := syntheticClassBase + typectx.ClassID(len(l.synthetic))*0 + typectx.ClassID(l.nextSynthClass)
	l.nextSynthClass++
	l.Types.RegisterClassName(id, fmt.Sprintf("%s$%d", nameHint, id))
	return id
}

// lowerBlockLit lowers a block literal to (i) a synthetic class
// allocation with its captured cells installed, grounded on the
// synthetic-class-per-closure scheme spec.md §4.D describes; the
// class's `call` method is lowered once, as its own Anvil function,
// and appended to the module as a synthetic body.
func (l *Lowerer) lowerBlockLit(ex *typedast.BlockLit) (anvil.Register, error) {
	classID := l.freshSyntheticClass("Closure")

	callID := l.freshSyntheticID()
	callFn, err := l.lowerClosureCall(classID, callID, ex)
	if err != nil {
		return 0, err
	}
	l.addSynthetic(callFn)

	obj := l.newReg()
	l.emit(anvil.Instr{Op: anvil.OpNewClosure, Dst: obj, DstType: ex.Type(), ClassID: classID})
	for i, c := range ex.Captures {
		srcSlot := l.slotOf(c.Slot, c.Type, c.Name)
		v := l.newReg()
		l.emit(anvil.Instr{Op: anvil.OpLoadLocal, Dst: v, DstType: c.Type, Operands: []anvil.Operand{anvil.ImmOperand(int64(srcSlot))}})
		l.emit(anvil.Instr{Op: anvil.OpStoreCapture, Dst: -1, ClassID: classID, Slot: i, Operands: []anvil.Operand{anvil.RegOperand(obj), anvil.RegOperand(v)}})
	}
	return obj, nil
}

// lowerClosureCall lowers the block literal's body as the synthetic
// class's call(args...) method: parameters become the first locals,
// captures are read back with load_capture (mutation after creation
// stays visible through the shared cell, per the ByCell invariant) at
// every read of a captured slot; nothing is loaded up front, so a
// capture never read costs nothing.
func (l *Lowerer) lowerClosureCall(classID typectx.ClassID, id typectx.FuncID, ex *typedast.BlockLit) (*anvil.Function, error) {
	params, ret, _ := l.Types.FunctionParts(ex.Type())
	sig := anvil.Signature{Params: params, Ret: ret}
	fn := anvil.NewFunction(id, "call", anvil.KindClosureCall, sig)
	fn.Owner = classID

	savedFn, savedCur, savedSlots, savedFinally, savedParent := l.fn, l.cur, l.localSlot, l.finallyStack, l.tryParent
	self := fn.NewLocal("self", l.Types.Class(classID))
	l.fn = fn
	l.cur = fn.NewBlock("entry")
	l.localSlot = make(map[int]int)
	l.finallyStack = nil
	l.tryParent = -1
	for _, p := range ex.Params {
		s := fn.NewLocal(p.Name, p.Type)
		l.localSlot[p.Slot] = s
	}

	captureSlot := make(map[int]int, len(ex.Captures))
	for i, c := range ex.Captures {
		captureSlot[c.Slot] = i
	}
	l.closureCaptures = append(l.closureCaptures, closureFrame{self: self, classID: classID, slotToCapture: captureSlot})

	if err := l.lowerBlock(ex.Body); err != nil {
		return nil, err
	}
	l.ensureTerminator(ret)

	l.closureCaptures = l.closureCaptures[:len(l.closureCaptures)-1]
	l.fn, l.cur, l.localSlot, l.finallyStack, l.tryParent = savedFn, savedCur, savedSlots, savedFinally, savedParent
	return fn, nil
}
