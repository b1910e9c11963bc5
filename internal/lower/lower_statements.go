package lower

import (
	"github.com/ember-lang/ember/internal/anvil"
	"github.com/ember-lang/ember/internal/typectx"
	"github.com/ember-lang/ember/internal/typedast"
)

// lowerBlock lowers every statement of b into the current block,
// threading l.cur through control-flow statements exactly as the
// teacher's compileBlock threads the chunk through compileStatement.
func (l *Lowerer) lowerBlock(b *typedast.Block) error {
	if b == nil {
		return nil
	}
	for _, s := range b.Stmts {
		if err := l.lowerStmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (l *Lowerer) lowerStmt(s typedast.Stmt) error {
	switch st := s.(type) {
	case *typedast.ExprStmt:
		_, err := l.lowerExpr(st.Expr)
		return err
	case *typedast.LocalDecl:
		if st.Init == nil {
			if l.stateFrame != nil {
				l.stateFieldOf(st.Slot) // reserve the field even if never assigned before a suspend point
				return nil
			}
			l.slotOf(st.Slot, st.Type, "")
			return nil
		}
		v, err := l.lowerExpr(st.Init)
		if err != nil {
			return err
		}
		if l.stateFrame != nil {
			l.storeStateLocal(st.Slot, v)
			return nil
		}
		slot := l.slotOf(st.Slot, st.Type, "")
		l.emit(anvil.Instr{Op: anvil.OpStoreLocal, Pos: pos(st.Pos), Operands: []anvil.Operand{anvil.ImmOperand(int64(slot)), anvil.RegOperand(v)}})
		return nil
	case *typedast.Assign:
		return l.lowerAssign(st)
	case *typedast.If:
		return l.lowerIf(st)
	case *typedast.While:
		return l.lowerWhile(st)
	case *typedast.ForIn:
		return l.lowerForIn(st)
	case *typedast.Match:
		return l.lowerMatch(st)
	case *typedast.Return:
		return l.lowerReturn(st)
	case *typedast.Throw:
		return l.lowerThrow(st)
	case *typedast.Try:
		return l.lowerTry(st)
	case *typedast.Using:
		return l.lowerUsing(st)
	case *typedast.Yield:
		return l.lowerYield(st)
	default:
		return invariantf("lower: unhandled statement node %T", s)
	}
}

func (l *Lowerer) lowerAssign(st *typedast.Assign) error {
	v, err := l.lowerExpr(st.Value)
	if err != nil {
		return err
	}
	switch target := st.Target.(type) {
	case *typedast.LocalRef:
		if l.stateFrame != nil {
			l.storeStateLocal(target.Slot, v)
			return nil
		}
		slot := l.slotOf(target.Slot, target.Type(), target.Name)
		l.emit(anvil.Instr{Op: anvil.OpStoreLocal, Pos: pos(st.Pos), Operands: []anvil.Operand{anvil.ImmOperand(int64(slot)), anvil.RegOperand(v)}})
		return nil
	case *typedast.FieldAccess:
		recv, err := l.lowerExpr(target.Recv)
		if err != nil {
			return err
		}
		slot, err := l.fieldSlot(target.Class, target.Field)
		if err != nil {
			return err
		}
		l.emit(anvil.Instr{Op: anvil.OpSetField, Pos: pos(st.Pos), Operands: []anvil.Operand{anvil.RegOperand(recv), anvil.RegOperand(v)}, ClassID: target.Class, Slot: slot})
		return nil
	case *typedast.IndexExpr:
		recv, err := l.lowerExpr(target.Recv)
		if err != nil {
			return err
		}
		idx, err := l.lowerExpr(target.Index)
		if err != nil {
			return err
		}
		op := anvil.OpArraySet
		if l.Types.Kind(target.Recv.Type()) == typectx.KindHash {
			op = anvil.OpHashSet
		}
		l.emit(anvil.Instr{Op: op, Pos: pos(st.Pos), Operands: []anvil.Operand{anvil.RegOperand(recv), anvil.RegOperand(idx), anvil.RegOperand(v)}})
		return nil
	default:
		return invariantf("lower: unsupported assignment target %T", st.Target)
	}
}

func (l *Lowerer) lowerIf(st *typedast.If) error {
	cond, err := l.lowerExpr(st.Cond)
	if err != nil {
		return err
	}
	thenB := l.newBlock("")
	var elseB int
	hasElse := st.Else != nil
	if hasElse {
		elseB = l.newBlock("")
	}
	join := l.newBlock("")

	if hasElse {
		l.emit(anvil.Instr{Op: anvil.OpCondJump, Operands: []anvil.Operand{anvil.RegOperand(cond)}, Targets: []int{thenB, elseB}})
	} else {
		l.emit(anvil.Instr{Op: anvil.OpCondJump, Operands: []anvil.Operand{anvil.RegOperand(cond)}, Targets: []int{thenB, join}})
	}

	l.setBlock(thenB)
	if err := l.lowerBlock(st.Then); err != nil {
		return err
	}
	l.jumpToIfOpen(join)

	if hasElse {
		l.setBlock(elseB)
		if err := l.lowerBlock(st.Else); err != nil {
			return err
		}
		l.jumpToIfOpen(join)
	}

	l.setBlock(join)
	return nil
}

// jumpToIfOpen emits an unconditional jump to target unless the
// current block already ends in a terminator (a Return/Throw inside
// the branch already closed it).
func (l *Lowerer) jumpToIfOpen(target int) {
	blk := l.fn.Block(l.cur)
	if _, ok := blk.Terminator(); ok && anvil.IsTerminator(blk.Instr[len(blk.Instr)-1].Op) {
		return
	}
	l.emit(anvil.Instr{Op: anvil.OpJump, Targets: []int{target}})
}

func (l *Lowerer) lowerWhile(st *typedast.While) error {
	cond := l.newBlock("")
	body := l.newBlock("")
	after := l.newBlock("")

	l.emit(anvil.Instr{Op: anvil.OpJump, Targets: []int{cond}})

	l.setBlock(cond)
	c, err := l.lowerExpr(st.Cond)
	if err != nil {
		return err
	}
	l.emit(anvil.Instr{Op: anvil.OpCondJump, Operands: []anvil.Operand{anvil.RegOperand(c)}, Targets: []int{body, after}})

	l.setBlock(body)
	if err := l.lowerBlock(st.Body); err != nil {
		return err
	}
	l.jumpToIfOpen(cond)

	l.setBlock(after)
	return nil
}

// lowerForIn implements the generic iterator protocol: a has_next/next
// loop binding VarSlot (spec.md §4.D). Arrays and ranges get an
// iterator from the built-in iterator opcodes; any other (user-class)
// iterable is itself the iterator, and has_next/next are called on it
// through call_interface_like.
func (l *Lowerer) lowerForIn(st *typedast.ForIn) error {
	iterable, err := l.lowerExpr(st.Iterable)
	if err != nil {
		return err
	}

	builtin := st.Iterable.Type() != typectx.Invalid &&
		(l.Types.Kind(st.Iterable.Type()) == typectx.KindArray || l.Types.Kind(st.Iterable.Type()) == typectx.KindRange)

	var it anvil.Register
	if builtin {
		it = l.newReg()
		l.emit(anvil.Instr{Op: anvil.OpArrayIterNew, Dst: it, DstType: st.Iterable.Type(), Operands: []anvil.Operand{anvil.RegOperand(iterable)}})
	} else {
		it = iterable
	}

	cond := l.newBlock("")
	body := l.newBlock("")
	after := l.newBlock("")
	l.emit(anvil.Instr{Op: anvil.OpJump, Targets: []int{cond}})

	l.setBlock(cond)
	hasNext := l.newReg()
	if builtin {
		l.emit(anvil.Instr{Op: anvil.OpArrayIterHasNext, Dst: hasNext, DstType: l.Types.Primitive(typectx.I1), Operands: []anvil.Operand{anvil.RegOperand(it)}})
	} else {
		l.emit(anvil.Instr{Op: anvil.OpCallInterfaceLike, Dst: hasNext, DstType: l.Types.Primitive(typectx.I1), Operands: []anvil.Operand{anvil.RegOperand(it)}, Name: "has_next"})
	}
	l.emit(anvil.Instr{Op: anvil.OpCondJump, Operands: []anvil.Operand{anvil.RegOperand(hasNext)}, Targets: []int{body, after}})

	l.setBlock(body)
	v := l.newReg()
	if builtin {
		l.emit(anvil.Instr{Op: anvil.OpArrayIterNext, Dst: v, DstType: st.VarType, Operands: []anvil.Operand{anvil.RegOperand(it)}})
	} else {
		l.emit(anvil.Instr{Op: anvil.OpCallInterfaceLike, Dst: v, DstType: st.VarType, Operands: []anvil.Operand{anvil.RegOperand(it)}, Name: "next"})
	}
	varSlot := l.slotOf(st.VarSlot, st.VarType, "")
	l.emit(anvil.Instr{Op: anvil.OpStoreLocal, Operands: []anvil.Operand{anvil.ImmOperand(int64(varSlot)), anvil.RegOperand(v)}})
	if err := l.lowerBlock(st.Body); err != nil {
		return err
	}
	l.jumpToIfOpen(cond)

	l.setBlock(after)
	return nil
}

// lowerMatch lowers pattern matching to a switch-based decision tree:
// tag equality dispatches via OpSwitch, each arm's guard (if any) is an
// extra cond_jump, and ties break in textual order (spec.md §4.D). A
// missing default on a non-exhaustive match over an open type traps
// with a MatchError at runtime (modeled as an unconditional throw into
// a synthetic trap block).
func (l *Lowerer) lowerMatch(st *typedast.Match) error {
	subject, err := l.lowerExpr(st.Subject)
	if err != nil {
		return err
	}

	caseBlocks := make([]int, len(st.Arms))
	for i := range st.Arms {
		caseBlocks[i] = l.newBlock("")
	}
	var defaultB int
	if st.HasDefault {
		defaultB = l.newBlock("")
	} else {
		defaultB = l.newBlock("trap")
	}
	join := l.newBlock("")

	l.emit(anvil.Instr{Op: anvil.OpSwitch, Operands: []anvil.Operand{anvil.RegOperand(subject)}, Targets: append([]int{defaultB}, caseBlocks...)})

	for i, arm := range st.Arms {
		l.setBlock(caseBlocks[i])
		if arm.Guard != nil {
			g, err := l.lowerExpr(arm.Guard)
			if err != nil {
				return err
			}
			armBody := l.newBlock("")
			fallthroughB := defaultB
			if i+1 < len(caseBlocks) {
				// A failed guard falls through to the next textual arm,
				// not straight to default, matching top-to-bottom tie-break.
				fallthroughB = caseBlocks[i+1]
			}
			l.emit(anvil.Instr{Op: anvil.OpCondJump, Operands: []anvil.Operand{anvil.RegOperand(g)}, Targets: []int{armBody, fallthroughB}})
			l.setBlock(armBody)
		}
		if err := l.lowerBlock(arm.Body); err != nil {
			return err
		}
		l.jumpToIfOpen(join)
	}

	l.setBlock(defaultB)
	if st.HasDefault {
		if err := l.lowerBlock(st.Default); err != nil {
			return err
		}
		l.jumpToIfOpen(join)
	} else {
		l.emitMatchTrap()
	}

	l.setBlock(join)
	return nil
}

// emitMatchTrap throws a MatchError; resolved at lowering time via the
// well-known MatchError class, which every program's prelude declares
// (spec.md §4.D, "enforced during lowering").
func (l *Lowerer) emitMatchTrap() {
	errReg := l.newReg()
	l.emit(anvil.Instr{Op: anvil.OpNew, Dst: errReg, DstType: l.Types.Class(matchErrorClassID), ClassID: matchErrorClassID})
	l.emit(anvil.Instr{Op: anvil.OpThrow, Operands: []anvil.Operand{anvil.RegOperand(errReg)}})
}

// matchErrorClassID is a placeholder well-known ClassID for the
// runtime's MatchError type; a real front end binds this from its
// prelude's symbol table. Kept as a package-level constant rather than threaded through every call
// site, since every program shares exactly one MatchError class.
const matchErrorClassID typectx.ClassID = -1

func (l *Lowerer) lowerReturn(st *typedast.Return) error {
	var value anvil.Register = -1
	if st.Value != nil {
		v, err := l.lowerExpr(st.Value)
		if err != nil {
			return err
		}
		value = v
	}
	if err := l.runEnclosingFinally(); err != nil {
		return err
	}
	if l.stateFrame != nil && l.stateFrame.kind == anvil.KindAsyncResume {
		l.emitAsyncComplete(value)
		l.emit(anvil.Instr{Op: anvil.OpRet, Pos: pos(st.Pos)})
		return nil
	}
	var operands []anvil.Operand
	if value != -1 {
		operands = []anvil.Operand{anvil.RegOperand(value)}
	}
	l.emit(anvil.Instr{Op: anvil.OpRet, Pos: pos(st.Pos), Operands: operands})
	return nil
}

func (l *Lowerer) lowerThrow(st *typedast.Throw) error {
	v, err := l.lowerExpr(st.Value)
	if err != nil {
		return err
	}
	if err := l.runEnclosingFinally(); err != nil {
		return err
	}
	l.emit(anvil.Instr{Op: anvil.OpThrow, Pos: pos(st.Pos), Operands: []anvil.Operand{anvil.RegOperand(v)}})
	return nil
}

func (l *Lowerer) lowerYield(st *typedast.Yield) error {
	v, err := l.lowerExpr(st.Value)
	if err != nil {
		return err
	}
	return l.emitYieldSuspend(st.Pos, v)
}
