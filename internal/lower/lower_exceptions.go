package lower

import (
	"github.com/ember-lang/ember/internal/anvil"
	"github.com/ember-lang/ember/internal/typedast"
)

// blockOpen reports whether the current block has not yet received a
// terminator (a prior Return/Throw inside a branch already closed it).
func (l *Lowerer) blockOpen() bool {
	blk := l.fn.Block(l.cur)
	if len(blk.Instr) == 0 {
		return true
	}
	return !anvil.IsTerminator(blk.Instr[len(blk.Instr)-1].Op)
}

// runEnclosingFinally re-runs every finally emitter lexically enclosing
// the current statement, innermost first — the duplication spec.md
// §4.D calls for on every exit edge (normal, throw, return). While
// running emitter i, the stack is temporarily truncated to i so a
// return/throw *inside* that finally only re-triggers the emitters
// still further out, not itself.
func (l *Lowerer) runEnclosingFinally() error {
	stack := l.finallyStack
	for i := len(stack) - 1; i >= 0; i-- {
		l.finallyStack = stack[:i]
		if err := stack[i](); err != nil {
			l.finallyStack = stack
			return err
		}
	}
	l.finallyStack = stack
	return nil
}

// lowerTry lowers `try body catch... finally` into a contiguous
// try-region span plus one handler block per catch, with Finally
// duplicated onto the body's normal-exit edge and every catch's own
// exit edge (spec.md §4.D). The caught value itself is delivered by
// (E)'s landing-pad construction (§4.E): (D) only reserves the catch
// variable's local slot.
func (l *Lowerer) lowerTry(st *typedast.Try) error {
	bodyStart := len(l.fn.Blocks)
	tryBody := l.newBlock("try")
	l.jumpToIfOpen(tryBody)
	l.setBlock(tryBody)

	parent := l.tryParent
	var finallyEmitter func() error
	if st.Finally != nil {
		finallyEmitter = func() error { return l.lowerBlock(st.Finally) }
		l.finallyStack = append(l.finallyStack, finallyEmitter)
	}
	if err := l.lowerBlock(st.Body); err != nil {
		return err
	}
	bodyEnd := len(l.fn.Blocks)
	if st.Finally != nil {
		l.finallyStack = l.finallyStack[:len(l.finallyStack)-1]
	}

	after := l.newBlock("")
	if l.blockOpen() {
		if finallyEmitter != nil {
			if err := finallyEmitter(); err != nil {
				return err
			}
		}
		l.jumpToIfOpen(after)
	}

	handlers := make([]anvil.CatchHandler, 0, len(st.Catches))
	for _, c := range st.Catches {
		hb := l.newBlock("catch")
		l.setBlock(hb)
		l.slotOf(c.VarSlot, l.Types.Class(c.CatchType), "")

		if finallyEmitter != nil {
			l.finallyStack = append(l.finallyStack, finallyEmitter)
		}
		if err := l.lowerBlock(c.Body); err != nil {
			return err
		}
		if finallyEmitter != nil {
			l.finallyStack = l.finallyStack[:len(l.finallyStack)-1]
		}
		if l.blockOpen() {
			if finallyEmitter != nil {
				if err := finallyEmitter(); err != nil {
					return err
				}
			}
			l.jumpToIfOpen(after)
		}
		handlers = append(handlers, anvil.CatchHandler{CatchType: c.CatchType, Handler: hb})
	}

	l.tryParent = len(l.fn.TryRegions)
	l.fn.TryRegions = append(l.fn.TryRegions, anvil.TryRegion{
		Start: bodyStart, End: bodyEnd, Handlers: handlers, Parent: parent,
	})
	l.tryParent = parent

	l.setBlock(after)
	return nil
}

// lowerUsing lowers `using v = e: body` to a protected region whose
// finally emitter calls v.dispose(); dispose's idempotence (a disposed
// flag checked and set on first call) lives in the class's own
// dispose() method body, not here — (D) only has to guarantee
// dispose() runs exactly once per exit edge, which the duplicated
// finally emitter already provides.
func (l *Lowerer) lowerUsing(st *typedast.Using) error {
	v, err := l.lowerExpr(st.Init)
	if err != nil {
		return err
	}
	slot := l.slotOf(st.VarSlot, st.VarType, "")
	l.emit(anvil.Instr{Op: anvil.OpStoreLocal, Operands: []anvil.Operand{anvil.ImmOperand(int64(slot)), anvil.RegOperand(v)}})

	bodyStart := len(l.fn.Blocks)
	usingBody := l.newBlock("using")
	l.jumpToIfOpen(usingBody)
	l.setBlock(usingBody)

	parent := l.tryParent
	dispose := func() error {
		recv := l.newReg()
		l.emit(anvil.Instr{Op: anvil.OpLoadLocal, Dst: recv, DstType: st.VarType, Operands: []anvil.Operand{anvil.ImmOperand(int64(slot))}})
		l.emit(anvil.Instr{Op: anvil.OpCallInterfaceLike, Dst: -1, Operands: []anvil.Operand{anvil.RegOperand(recv)}, Name: "dispose"})
		return nil
	}
	l.finallyStack = append(l.finallyStack, dispose)
	if err := l.lowerBlock(st.Body); err != nil {
		return err
	}
	bodyEnd := len(l.fn.Blocks)
	l.finallyStack = l.finallyStack[:len(l.finallyStack)-1]

	after := l.newBlock("")
	if l.blockOpen() {
		if err := dispose(); err != nil {
			return err
		}
		l.jumpToIfOpen(after)
	}

	l.tryParent = len(l.fn.TryRegions)
	l.fn.TryRegions = append(l.fn.TryRegions, anvil.TryRegion{Start: bodyStart, End: bodyEnd, Parent: parent})
	l.tryParent = parent

	l.setBlock(after)
	return nil
}
