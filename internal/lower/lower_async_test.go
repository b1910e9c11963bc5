package lower

import (
	"testing"

	"github.com/ember-lang/ember/internal/anvil"
	"github.com/ember-lang/ember/internal/typectx"
	"github.com/ember-lang/ember/internal/typedast"
)

// TestLowerAsyncAwaitSuspendTagMatchesDispatchTargets is the async
// analogue of the generator regression test: emitAwaitSuspend must
// record the pre-push index into resumeCase as the suspend's tag, not
// that index plus one, matching the Targets[0]=invalid,
// Targets[1+tag]=resumeCase[tag] convention the resume() dispatch
// switch is built with.
func TestLowerAsyncAwaitSuspendTagMatchesDispatchTargets(t *testing.T) {
	types := typectx.New()
	i64 := types.Primitive(typectx.I64)

	body := &typedast.Block{Stmts: []typedast.Stmt{
		&typedast.ExprStmt{Expr: &typedast.Await{Future: &typedast.NilLit{}}},
		&typedast.ExprStmt{Expr: &typedast.Await{Future: &typedast.NilLit{}}},
	}}
	fd := &typedast.FunctionDecl{
		Name:     "pipeline",
		Ret:      i64,
		Dispatch: typedast.DispatchAsync,
		FuncID:   1,
		Body:     body,
	}

	l := New(types, nil)
	if err := l.LowerProgram(&typedast.Program{Functions: []*typedast.FunctionDecl{fd}}); err != nil {
		t.Fatalf("LowerProgram failed: %v", err)
	}

	var resume *anvil.Function
	for _, fn := range l.Mod.FunctionsInOrder() {
		if fn.Kind == anvil.KindAsyncResume {
			resume = fn
		}
	}
	if resume == nil {
		t.Fatal("expected a lowered resume() async method")
	}

	var awaits []anvil.Instr
	var dispatch anvil.Instr
	for _, blk := range resume.Blocks {
		term, ok := blk.Terminator()
		if !ok {
			continue
		}
		switch term.Op {
		case anvil.OpAwaitSuspend:
			awaits = append(awaits, term)
		case anvil.OpSwitch:
			dispatch = term
		}
	}
	if len(awaits) != 2 {
		t.Fatalf("expected 2 await_suspend terminators, got %d", len(awaits))
	}
	if dispatch.Op != anvil.OpSwitch {
		t.Fatalf("expected to find the entry dispatch switch, got %v", dispatch.Op)
	}

	for n, a := range awaits {
		wantTag := n + 1 // resumeCase[0] is the body's own entry (state 0)
		if a.Slot != wantTag {
			t.Errorf("await %d: Slot = %d, want %d", n, a.Slot, wantTag)
		}
		idx := 1 + a.Slot
		if idx >= len(dispatch.Targets) {
			t.Fatalf("await %d: Slot %d indexes Targets[%d], out of range for a %d-element Targets", n, a.Slot, idx, len(dispatch.Targets))
		}
		if dispatch.Targets[idx] != a.Targets[0] {
			t.Errorf("await %d: dispatch.Targets[%d] = %d, want the await's own resume block %d", n, idx, dispatch.Targets[idx], a.Targets[0])
		}
	}

	v := &anvil.Verifier{}
	if err := v.Verify(resume); err != nil {
		t.Fatalf("lowered resume() failed verification: %v", err)
	}
}
