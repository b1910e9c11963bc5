package resolver

import (
	"fmt"
	"sort"

	"github.com/ember-lang/ember/internal/typectx"
	"github.com/ember-lang/ember/internal/typedast"
)

// mutableSlots is the set of local slots assigned to (by an Assign
// statement) anywhere in a function body; everything else is
// effectively immutable after its LocalDecl initializer runs.
type mutableSlots map[int]bool

// AnalyzeCaptures computes the free-variable capture set for a block
// literal, per spec.md §4.B: each free variable is classified ByCopy
// (immutable primitives) or ByCell (mutables and reference types), so
// mutation of a captured local after closure creation stays visible
// through the shared cell (the invariant §4.D states explicitly).
//
// outerMutable names which of the enclosing function's locals are ever
// reassigned anywhere in its body — the resolver computes this once per
// function and passes it down to every nested BlockLit.
func (r *Resolver) AnalyzeCaptures(lit *typedast.BlockLit, outerScope map[int]typectx.Handle, outerMutable mutableSlots) []typedast.Capture {
	bound := make(map[int]bool, len(lit.Params))
	for _, p := range lit.Params {
		bound[p.Slot] = true
	}

	free := make(map[int]bool)
	collectFreeSlots(lit.Body, bound, free)

	captures := make([]typedast.Capture, 0, len(free))
	for slot := range free {
		typ, ok := outerScope[slot]
		if !ok {
			continue // not one of the enclosing scope's own locals
		}
		mode := typedast.ByCopy
		if outerMutable[slot] || r.types.IsReferenceType(typ) {
			mode = typedast.ByCell
		}
		captures = append(captures, typedast.Capture{Slot: slot, Type: typ, Mode: mode})
	}
	return captures
}

// CaptureShape derives a stable, order-independent name for a capture
// set so that two block literals with the same captured slots/types
// but textually different bodies still share one synthetic closure
// class shape when it is safe to (mirrors generic erasure's "same
// layout, different static sites" approach, applied to closures).
func CaptureShape(captures []typedast.Capture) typectx.BlockCaptureShape {
	sorted := append([]typedast.Capture(nil), captures...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Slot < sorted[j].Slot })
	shape := ""
	for _, c := range sorted {
		shape += fmt.Sprintf("%d:%d:%d,", c.Slot, c.Type, c.Mode)
	}
	return typectx.BlockCaptureShape(shape)
}

func collectFreeSlots(b *typedast.Block, bound map[int]bool, free map[int]bool) {
	if b == nil {
		return
	}
	for _, s := range b.Stmts {
		collectStmtFreeSlots(s, bound, free)
	}
}

func collectStmtFreeSlots(s typedast.Stmt, bound map[int]bool, free map[int]bool) {
	switch st := s.(type) {
	case *typedast.ExprStmt:
		collectExprFreeSlots(st.Expr, bound, free)
	case *typedast.LocalDecl:
		collectExprFreeSlots(st.Init, bound, free)
		bound[st.Slot] = true
	case *typedast.Assign:
		collectExprFreeSlots(st.Target, bound, free)
		collectExprFreeSlots(st.Value, bound, free)
	case *typedast.If:
		collectExprFreeSlots(st.Cond, bound, free)
		collectFreeSlots(st.Then, bound, free)
		collectFreeSlots(st.Else, bound, free)
	case *typedast.While:
		collectExprFreeSlots(st.Cond, bound, free)
		collectFreeSlots(st.Body, bound, free)
	case *typedast.ForIn:
		collectExprFreeSlots(st.Iterable, bound, free)
		bound[st.VarSlot] = true
		collectFreeSlots(st.Body, bound, free)
	case *typedast.Match:
		collectExprFreeSlots(st.Subject, bound, free)
		for _, arm := range st.Arms {
			collectExprFreeSlots(arm.Guard, bound, free)
			collectFreeSlots(arm.Body, bound, free)
		}
		collectFreeSlots(st.Default, bound, free)
	case *typedast.Return:
		collectExprFreeSlots(st.Value, bound, free)
	case *typedast.Throw:
		collectExprFreeSlots(st.Value, bound, free)
	case *typedast.Try:
		collectFreeSlots(st.Body, bound, free)
		for _, c := range st.Catches {
			bound[c.VarSlot] = true
			collectFreeSlots(c.Body, bound, free)
		}
		collectFreeSlots(st.Finally, bound, free)
	case *typedast.Using:
		collectExprFreeSlots(st.Init, bound, free)
		bound[st.VarSlot] = true
		collectFreeSlots(st.Body, bound, free)
	case *typedast.Yield:
		collectExprFreeSlots(st.Value, bound, free)
	}
}

func collectExprFreeSlots(e typedast.Expr, bound map[int]bool, free map[int]bool) {
	switch ex := e.(type) {
	case nil:
		return
	case *typedast.LocalRef:
		if !bound[ex.Slot] {
			free[ex.Slot] = true
		}
	case *typedast.FieldAccess:
		collectExprFreeSlots(ex.Recv, bound, free)
	case *typedast.BinaryExpr:
		collectExprFreeSlots(ex.Left, bound, free)
		collectExprFreeSlots(ex.Right, bound, free)
	case *typedast.UnaryExpr:
		collectExprFreeSlots(ex.Operand, bound, free)
	case *typedast.Convert:
		collectExprFreeSlots(ex.Expr, bound, free)
	case *typedast.New:
		for _, a := range ex.Args {
			collectExprFreeSlots(a, bound, free)
		}
	case *typedast.StaticCall:
		for _, a := range ex.Args {
			collectExprFreeSlots(a, bound, free)
		}
	case *typedast.VirtualCall:
		collectExprFreeSlots(ex.Recv, bound, free)
		for _, a := range ex.Args {
			collectExprFreeSlots(a, bound, free)
		}
	case *typedast.InterfaceCall:
		collectExprFreeSlots(ex.Recv, bound, free)
		for _, a := range ex.Args {
			collectExprFreeSlots(a, bound, free)
		}
	case *typedast.NativeCall:
		for _, a := range ex.Args {
			collectExprFreeSlots(a, bound, free)
		}
	case *typedast.ArrayLit:
		for _, el := range ex.Elems {
			collectExprFreeSlots(el, bound, free)
		}
	case *typedast.IndexExpr:
		collectExprFreeSlots(ex.Recv, bound, free)
		collectExprFreeSlots(ex.Index, bound, free)
	case *typedast.BlockLit:
		// A nested block's own free slots, minus its own params, are
		// still free with respect to the outer scope.
		nestedBound := make(map[int]bool)
		for _, p := range ex.Params {
			nestedBound[p.Slot] = true
		}
		collectFreeSlots(ex.Body, nestedBound, free)
	case *typedast.Interp:
		for _, p := range ex.Parts {
			collectExprFreeSlots(p, bound, free)
		}
	case *typedast.Await:
		collectExprFreeSlots(ex.Future, bound, free)
	}
}

// MutableSlots walks a function body and returns the set of local
// slots ever reassigned by an Assign statement targeting a LocalRef.
func MutableSlots(body *typedast.Block) mutableSlots {
	m := make(mutableSlots)
	markMutable(body, m)
	return m
}

func markMutable(b *typedast.Block, m mutableSlots) {
	if b == nil {
		return
	}
	for _, s := range b.Stmts {
		switch st := s.(type) {
		case *typedast.Assign:
			if lr, ok := st.Target.(*typedast.LocalRef); ok {
				m[lr.Slot] = true
			}
		case *typedast.If:
			markMutable(st.Then, m)
			markMutable(st.Else, m)
		case *typedast.While:
			markMutable(st.Body, m)
		case *typedast.ForIn:
			markMutable(st.Body, m)
		case *typedast.Match:
			for _, arm := range st.Arms {
				markMutable(arm.Body, m)
			}
			markMutable(st.Default, m)
		case *typedast.Try:
			markMutable(st.Body, m)
			for _, c := range st.Catches {
				markMutable(c.Body, m)
			}
			markMutable(st.Finally, m)
		case *typedast.Using:
			markMutable(st.Body, m)
		}
	}
}
