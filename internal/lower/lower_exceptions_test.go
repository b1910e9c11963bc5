package lower

import (
	"testing"

	"github.com/ember-lang/ember/internal/anvil"
	"github.com/ember-lang/ember/internal/typectx"
	"github.com/ember-lang/ember/internal/typedast"
)

// countStaticCalls walks every block of fn counting OpCallStatic
// instructions targeting funcID, the marker used to tell how many
// times a duplicated finally region was actually emitted.
func countStaticCalls(fn *anvil.Function, funcID typectx.FuncID) int {
	n := 0
	for _, blk := range fn.Blocks {
		for _, instr := range blk.Instr {
			if instr.Op == anvil.OpCallStatic && instr.FuncID == funcID {
				n++
			}
		}
	}
	return n
}

// TestLowerTryFinallyDuplicatedOnceOnEachExitEdge is spec.md §4.D/§8
// property 5: finally is duplicated onto every exit edge of its
// protected region, and each edge runs it exactly once. With a try
// body and a catch body that both fall through normally (no further
// throw/return inside them), the finally marker call must appear
// exactly twice: once after the try body's own normal exit, once
// after the catch handler's normal exit.
func TestLowerTryFinallyDuplicatedOnceOnEachExitEdge(t *testing.T) {
	types := typectx.New()
	const finallyMarker typectx.FuncID = 999
	const errClass typectx.ClassID = 5

	st := &typedast.Try{
		Body: &typedast.Block{Stmts: []typedast.Stmt{
			&typedast.ExprStmt{Expr: &typedast.IntLit{Value: 1}},
		}},
		Catches: []typedast.CatchClause{
			{
				CatchType: errClass,
				VarSlot:   1,
				Body: &typedast.Block{Stmts: []typedast.Stmt{
					&typedast.ExprStmt{Expr: &typedast.IntLit{Value: 2}},
				}},
			},
		},
		Finally: &typedast.Block{Stmts: []typedast.Stmt{
			&typedast.ExprStmt{Expr: &typedast.StaticCall{Func: finallyMarker}},
		}},
	}

	fd := &typedast.FunctionDecl{
		Name:   "run",
		Ret:    typectx.Invalid,
		FuncID: 1,
		Body:   &typedast.Block{Stmts: []typedast.Stmt{st}},
	}

	l := New(types, nil)
	if err := l.LowerProgram(&typedast.Program{Functions: []*typedast.FunctionDecl{fd}}); err != nil {
		t.Fatalf("LowerProgram failed: %v", err)
	}
	fn := l.Mod.FunctionsInOrder()[0]

	if got := countStaticCalls(fn, finallyMarker); got != 2 {
		t.Fatalf("expected the finally block duplicated onto 2 exit edges (try-body + catch), got %d calls to the finally marker", got)
	}
	if len(fn.TryRegions) != 1 {
		t.Fatalf("expected exactly one try-region, got %d", len(fn.TryRegions))
	}
	if len(fn.TryRegions[0].Handlers) != 1 || fn.TryRegions[0].Handlers[0].CatchType != errClass {
		t.Fatalf("expected one catch handler for class %d, got %+v", errClass, fn.TryRegions[0].Handlers)
	}

	v := &anvil.Verifier{}
	if err := v.Verify(fn); err != nil {
		t.Fatalf("lowered function failed verification: %v", err)
	}
}

// TestLowerUsingDisposeRunsExactlyOnceOnNormalExit is spec.md §8
// property 8: after entering a using scope, dispose() is called
// exactly once on the normal-exit edge.
func TestLowerUsingDisposeRunsExactlyOnceOnNormalExit(t *testing.T) {
	types := typectx.New()
	const resourceClass typectx.ClassID = 7
	resourceType := types.Class(resourceClass)

	st := &typedast.Using{
		VarSlot: 0,
		VarType: resourceType,
		Init:    &typedast.New{Class: resourceClass},
		Body: &typedast.Block{Stmts: []typedast.Stmt{
			&typedast.ExprStmt{Expr: &typedast.IntLit{Value: 1}},
		}},
	}

	fd := &typedast.FunctionDecl{
		Name:   "withResource",
		Ret:    typectx.Invalid,
		FuncID: 1,
		Body:   &typedast.Block{Stmts: []typedast.Stmt{st}},
	}

	l := New(types, nil)
	if err := l.LowerProgram(&typedast.Program{Functions: []*typedast.FunctionDecl{fd}}); err != nil {
		t.Fatalf("LowerProgram failed: %v", err)
	}
	fn := l.Mod.FunctionsInOrder()[0]

	if got := countDisposeCalls(fn); got != 1 {
		t.Fatalf("expected exactly 1 dispose() call on the normal-exit edge, got %d", got)
	}

	v := &anvil.Verifier{}
	if err := v.Verify(fn); err != nil {
		t.Fatalf("lowered function failed verification: %v", err)
	}
}

// TestLowerUsingDisposeRunsExactlyOnceOnEarlyReturn covers the early
// return exit edge: dispose() must still run exactly once, on the
// return path, and the fallthrough path after the body (now
// unreachable, since the return already closed the block) must not
// duplicate it.
func TestLowerUsingDisposeRunsExactlyOnceOnEarlyReturn(t *testing.T) {
	types := typectx.New()
	const resourceClass typectx.ClassID = 7
	resourceType := types.Class(resourceClass)

	st := &typedast.Using{
		VarSlot: 0,
		VarType: resourceType,
		Init:    &typedast.New{Class: resourceClass},
		Body: &typedast.Block{Stmts: []typedast.Stmt{
			&typedast.Return{},
		}},
	}

	fd := &typedast.FunctionDecl{
		Name:   "withResourceEarlyReturn",
		Ret:    typectx.Invalid,
		FuncID: 1,
		Body:   &typedast.Block{Stmts: []typedast.Stmt{st}},
	}

	l := New(types, nil)
	if err := l.LowerProgram(&typedast.Program{Functions: []*typedast.FunctionDecl{fd}}); err != nil {
		t.Fatalf("LowerProgram failed: %v", err)
	}
	fn := l.Mod.FunctionsInOrder()[0]

	if got := countDisposeCalls(fn); got != 1 {
		t.Fatalf("expected exactly 1 dispose() call on the early-return exit edge, got %d", got)
	}

	v := &anvil.Verifier{}
	if err := v.Verify(fn); err != nil {
		t.Fatalf("lowered function failed verification: %v", err)
	}
}

func countDisposeCalls(fn *anvil.Function) int {
	n := 0
	for _, blk := range fn.Blocks {
		for _, instr := range blk.Instr {
			if instr.Op == anvil.OpCallInterfaceLike && instr.Name == "dispose" {
				n++
			}
		}
	}
	return n
}
