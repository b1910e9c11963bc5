package lower

import (
	"testing"

	"github.com/ember-lang/ember/internal/anvil"
	"github.com/ember-lang/ember/internal/typectx"
	"github.com/ember-lang/ember/internal/typedast"
)

// TestLowerGeneratorYieldSuspendTagMatchesDispatchTargets is a
// regression test for the dispatch switch convention lowerMatch also
// uses: Targets[0] is the default/done arm, Targets[1+tag] is the case
// for state == tag. emitYieldSuspend must record the *index within
// resumeCase before the push* as the suspend's tag, not that index
// plus one, or the entry dispatch switch resumes into the wrong block
// (or out of range) on every generator with at least one yield.
func TestLowerGeneratorYieldSuspendTagMatchesDispatchTargets(t *testing.T) {
	types := typectx.New()
	i64 := types.Primitive(typectx.I64)

	body := &typedast.Block{Stmts: []typedast.Stmt{
		&typedast.Yield{Value: &typedast.IntLit{Value: 1}},
		&typedast.Yield{Value: &typedast.IntLit{Value: 2}},
	}}
	fd := &typedast.FunctionDecl{
		Name:     "count",
		Ret:      i64,
		Dispatch: typedast.DispatchGenerator,
		FuncID:   1,
		Body:     body,
	}

	l := New(types, nil)
	if err := l.LowerProgram(&typedast.Program{Functions: []*typedast.FunctionDecl{fd}}); err != nil {
		t.Fatalf("LowerProgram failed: %v", err)
	}

	var next *anvil.Function
	for _, fn := range l.Mod.FunctionsInOrder() {
		if fn.Kind == anvil.KindGeneratorNext {
			next = fn
		}
	}
	if next == nil {
		t.Fatal("expected a lowered next() generator method")
	}

	// Collect every OpYieldSuspend terminator and the dispatch block's
	// OpSwitch in emission order.
	var yields []anvil.Instr
	var dispatch anvil.Instr
	for _, blk := range next.Blocks {
		term, ok := blk.Terminator()
		if !ok {
			continue
		}
		switch term.Op {
		case anvil.OpYieldSuspend:
			yields = append(yields, term)
		case anvil.OpSwitch:
			dispatch = term
		}
	}
	if len(yields) != 2 {
		t.Fatalf("expected 2 yield_suspend terminators, got %d", len(yields))
	}
	if dispatch.Op != anvil.OpSwitch {
		t.Fatalf("expected to find the entry dispatch switch, got %v", dispatch.Op)
	}

	for n, y := range yields {
		wantTag := n + 1 // resumeCase[0] is the body's own entry (state 0)
		if y.Slot != wantTag {
			t.Errorf("yield %d: Slot = %d, want %d", n, y.Slot, wantTag)
		}
		idx := 1 + y.Slot
		if idx >= len(dispatch.Targets) {
			t.Fatalf("yield %d: Slot %d indexes Targets[%d], out of range for a %d-element Targets", n, y.Slot, idx, len(dispatch.Targets))
		}
		if dispatch.Targets[idx] != y.Targets[0] {
			t.Errorf("yield %d: dispatch.Targets[%d] = %d, want the yield's own resume block %d", n, idx, dispatch.Targets[idx], y.Targets[0])
		}
	}

	v := &anvil.Verifier{}
	if err := v.Verify(next); err != nil {
		t.Fatalf("lowered next() failed verification: %v", err)
	}
}
