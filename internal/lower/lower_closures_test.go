package lower

import (
	"testing"

	"github.com/ember-lang/ember/internal/anvil"
	"github.com/ember-lang/ember/internal/typectx"
	"github.com/ember-lang/ember/internal/typedast"
)

// TestLowerBlockLitCreatesSyntheticCallAndInstallsCaptures exercises
// the closure lowering contract in spec.md §4.D: a block literal
// lowers to (i) a synthetic class, (ii) a synthetic call(args...)
// method whose body reads captured locals with OpLoadCapture, and
// (iii) an allocation with captured cells installed via OpStoreCapture
// at the creation site.
func TestLowerBlockLitCreatesSyntheticCallAndInstallsCaptures(t *testing.T) {
	types := typectx.New()
	i64 := types.Primitive(typectx.I64)
	blockType := types.Block([]typectx.Handle{}, i64, "count:i64")

	countDecl := &typedast.LocalDecl{Slot: 0, Type: i64, Init: &typedast.IntLit{Value: 0}}
	lit := &typedast.BlockLit{
		Body: &typedast.Block{Stmts: []typedast.Stmt{
			&typedast.Return{Value: &typedast.LocalRef{Slot: 0, Name: "count"}},
		}},
		Captures: []typedast.Capture{{Name: "count", Slot: 0, Type: i64, Mode: typedast.ByCell}},
	}
	lit.Typ = blockType

	fd := &typedast.FunctionDecl{
		Name:   "makeCounter",
		Ret:    blockType,
		FuncID: 1,
		Body: &typedast.Block{Stmts: []typedast.Stmt{
			countDecl,
			&typedast.Return{Value: lit},
		}},
	}

	l := New(types, nil)
	if err := l.LowerProgram(&typedast.Program{Functions: []*typedast.FunctionDecl{fd}}); err != nil {
		t.Fatalf("LowerProgram failed: %v", err)
	}

	fns := l.Mod.FunctionsInOrder()
	var outer, call *anvil.Function
	for _, fn := range fns {
		if fn.Kind == anvil.KindClosureCall {
			call = fn
		}
		if fn.Name == "makeCounter" {
			outer = fn
		}
	}
	if call == nil {
		t.Fatal("expected a synthesized closure call() method")
	}
	if outer == nil {
		t.Fatal("expected the outer makeCounter function")
	}

	var sawNewClosure, sawStoreCapture bool
	for _, blk := range outer.Blocks {
		for _, instr := range blk.Instr {
			switch instr.Op {
			case anvil.OpNewClosure:
				sawNewClosure = true
			case anvil.OpStoreCapture:
				sawStoreCapture = true
				if instr.Slot != 0 {
					t.Errorf("expected the sole capture installed at slot 0, got %d", instr.Slot)
				}
			}
		}
	}
	if !sawNewClosure {
		t.Error("expected OpNewClosure at the block literal's creation site")
	}
	if !sawStoreCapture {
		t.Error("expected OpStoreCapture installing the captured cell at the creation site")
	}

	var sawLoadCapture bool
	for _, blk := range call.Blocks {
		for _, instr := range blk.Instr {
			if instr.Op == anvil.OpLoadCapture {
				sawLoadCapture = true
				if instr.Slot != 0 {
					t.Errorf("expected the capture read at slot 0, got %d", instr.Slot)
				}
			}
		}
	}
	if !sawLoadCapture {
		t.Error("expected the closure's call() body to read the captured local via OpLoadCapture, not an ordinary local load")
	}

	v := &anvil.Verifier{}
	if err := v.Verify(call); err != nil {
		t.Fatalf("closure call() failed verification: %v", err)
	}
	if err := v.Verify(outer); err != nil {
		t.Fatalf("outer function failed verification: %v", err)
	}
}
