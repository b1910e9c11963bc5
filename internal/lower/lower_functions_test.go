package lower

import (
	"testing"

	"github.com/ember-lang/ember/internal/anvil"
	"github.com/ember-lang/ember/internal/typectx"
	"github.com/ember-lang/ember/internal/typedast"
)

func TestLowerTopLevelFunctionClamp(t *testing.T) {
	types := typectx.New()
	i64 := types.Primitive(typectx.I64)

	x := &typedast.LocalRef{Slot: 0, Name: "x"}
	floorDecl := &typedast.LocalDecl{
		Slot: 1,
		Type: i64,
		Init: &typedast.IntLit{Value: 0},
	}
	floorRef := &typedast.LocalRef{Slot: 1, Name: "floor"}

	body := &typedast.Block{
		Stmts: []typedast.Stmt{
			floorDecl,
			&typedast.If{
				Cond: &typedast.BinaryExpr{Op: typedast.OpLt, Left: x, Right: floorRef},
				Then: &typedast.Block{Stmts: []typedast.Stmt{&typedast.Return{Value: floorRef}}},
				Else: &typedast.Block{Stmts: []typedast.Stmt{&typedast.Return{Value: x}}},
			},
		},
	}

	fd := &typedast.FunctionDecl{
		Name:   "clamp",
		Params: []*typedast.ParamDecl{{Name: "x", Type: i64, Slot: 0}},
		Ret:    i64,
		FuncID: 1,
		Body:   body,
	}

	l := New(types, nil)
	if err := l.LowerProgram(&typedast.Program{Functions: []*typedast.FunctionDecl{fd}}); err != nil {
		t.Fatalf("LowerProgram failed: %v", err)
	}

	fns := l.Mod.FunctionsInOrder()
	if len(fns) != 1 {
		t.Fatalf("expected one lowered function, got %d", len(fns))
	}
	fn := fns[0]
	if fn.Name != "clamp" {
		t.Fatalf("expected name clamp, got %s", fn.Name)
	}
	if len(fn.Blocks) < 3 {
		t.Fatalf("expected at least 3 blocks (entry + then + else), got %d", len(fn.Blocks))
	}

	v := &anvil.Verifier{}
	if err := v.Verify(fn); err != nil {
		t.Fatalf("lowered function failed verification: %v", err)
	}

	for _, blk := range fn.Blocks {
		if len(blk.Instr) == 0 {
			t.Fatalf("block %q has no instructions", blk.Label)
		}
		last := blk.Instr[len(blk.Instr)-1]
		if last.Op != anvil.OpRet && last.Op != anvil.OpCondJump && last.Op != anvil.OpJump {
			t.Fatalf("block %q does not end in a terminator: %v", blk.Label, last.Op)
		}
	}
}

func TestLowerTopLevelFunctionProcedureFallsThroughToBareReturn(t *testing.T) {
	types := typectx.New()
	fd := &typedast.FunctionDecl{
		Name:   "noop",
		Ret:    typectx.Invalid,
		FuncID: 2,
		Body:   &typedast.Block{},
	}

	l := New(types, nil)
	if err := l.LowerProgram(&typedast.Program{Functions: []*typedast.FunctionDecl{fd}}); err != nil {
		t.Fatalf("LowerProgram failed: %v", err)
	}
	fn := l.Mod.FunctionsInOrder()[0]
	entry := fn.Blocks[0]
	last := entry.Instr[len(entry.Instr)-1]
	if last.Op != anvil.OpRet {
		t.Fatalf("expected a synthesized bare return, got %v", last.Op)
	}
}
