package lower

import (
	"testing"

	"github.com/ember-lang/ember/internal/anvil"
	"github.com/ember-lang/ember/internal/typectx"
	"github.com/ember-lang/ember/internal/typedast"
)

// TestLowerMatchGuardFailureFallsThroughToNextArm is spec.md §4.D's
// top-to-bottom tie-break rule: a failed guard on one arm must route
// to the next textual arm, not straight to the default/trap block,
// since a later arm may still match.
func TestLowerMatchGuardFailureFallsThroughToNextArm(t *testing.T) {
	types := typectx.New()
	i64 := types.Primitive(typectx.I64)

	st := &typedast.Match{
		Subject: &typedast.LocalRef{Slot: 0, Name: "x"},
		Arms: []typedast.MatchArm{
			{
				Tag:   0,
				Guard: &typedast.BoolLit{Value: false},
				Body:  &typedast.Block{Stmts: []typedast.Stmt{&typedast.Return{Value: &typedast.IntLit{Value: 1}}}},
			},
			{
				Tag:  1,
				Body: &typedast.Block{Stmts: []typedast.Stmt{&typedast.Return{Value: &typedast.IntLit{Value: 2}}}},
			},
		},
		HasDefault: false,
	}

	fd := &typedast.FunctionDecl{
		Name:   "classify",
		Params: []*typedast.ParamDecl{{Name: "x", Type: i64, Slot: 0}},
		Ret:    i64,
		FuncID: 1,
		Body:   &typedast.Block{Stmts: []typedast.Stmt{st}},
	}

	l := New(types, nil)
	if err := l.LowerProgram(&typedast.Program{Functions: []*typedast.FunctionDecl{fd}}); err != nil {
		t.Fatalf("LowerProgram failed: %v", err)
	}
	fn := l.Mod.FunctionsInOrder()[0]

	// Find the OpSwitch (to recover the case block order) and the lone
	// OpCondJump (the first arm's guard check).
	var switchInstr, guardInstr anvil.Instr
	for _, blk := range fn.Blocks {
		term, ok := blk.Terminator()
		if !ok {
			continue
		}
		if term.Op == anvil.OpSwitch {
			switchInstr = term
		}
		if term.Op == anvil.OpCondJump {
			guardInstr = term
		}
	}
	if switchInstr.Op != anvil.OpSwitch {
		t.Fatal("expected a lowered match switch")
	}
	if guardInstr.Op != anvil.OpCondJump {
		t.Fatal("expected the guarded arm's cond_jump")
	}

	// switchInstr.Targets = [defaultB, case0, case1]
	if len(switchInstr.Targets) != 3 {
		t.Fatalf("expected 3 switch targets (default + 2 arms), got %d", len(switchInstr.Targets))
	}
	defaultB, case0, case1 := switchInstr.Targets[0], switchInstr.Targets[1], switchInstr.Targets[2]

	// guardInstr.Targets = [armBody, fallthroughB]
	if len(guardInstr.Targets) != 2 {
		t.Fatalf("expected 2 cond_jump targets, got %d", len(guardInstr.Targets))
	}
	fallthroughB := guardInstr.Targets[1]

	if fallthroughB == defaultB {
		t.Fatalf("guard failure on arm 0 branches to the default/trap block %d instead of falling through to arm 1 (block %d)", defaultB, case1)
	}
	if fallthroughB != case1 {
		t.Fatalf("guard failure fallthrough = block %d, want arm 1's block %d", fallthroughB, case1)
	}
	_ = case0

	v := &anvil.Verifier{}
	if err := v.Verify(fn); err != nil {
		t.Fatalf("lowered function failed verification: %v", err)
	}
}

// TestLowerForInPollsHasNextBeforeEveryNext is spec.md §8 property 7:
// a user-class iterable must have has_next() polled before each next(),
// in the order cond -> body -> cond, stopping the loop the first time
// has_next() returns false without a further call to next().
func TestLowerForInPollsHasNextBeforeEveryNext(t *testing.T) {
	types := typectx.New()
	i64 := types.Primitive(typectx.I64)
	const iterClass typectx.ClassID = 3
	iterType := types.Class(iterClass)

	iterable := &typedast.LocalRef{Slot: 0, Name: "it"}
	iterable.Typ = iterType
	st := &typedast.ForIn{
		VarSlot:  1,
		VarType:  i64,
		Iterable: iterable,
		Body:     &typedast.Block{},
	}

	fd := &typedast.FunctionDecl{
		Name:   "drain",
		Params: []*typedast.ParamDecl{{Name: "it", Type: iterType, Slot: 0}},
		Ret:    typectx.Invalid,
		FuncID: 1,
		Body:   &typedast.Block{Stmts: []typedast.Stmt{st}},
	}

	l := New(types, nil)
	if err := l.LowerProgram(&typedast.Program{Functions: []*typedast.FunctionDecl{fd}}); err != nil {
		t.Fatalf("LowerProgram failed: %v", err)
	}
	fn := l.Mod.FunctionsInOrder()[0]

	var condBlock, bodyBlock int = -1, -1
	for bi, blk := range fn.Blocks {
		for _, instr := range blk.Instr {
			if instr.Op == anvil.OpCallInterfaceLike && instr.Name == "has_next" {
				condBlock = bi
			}
			if instr.Op == anvil.OpCallInterfaceLike && instr.Name == "next" {
				bodyBlock = bi
			}
		}
	}
	if condBlock == -1 {
		t.Fatal("expected a has_next() dispatch")
	}
	if bodyBlock == -1 {
		t.Fatal("expected a next() dispatch")
	}

	term, _ := fn.Blocks[condBlock].Terminator()
	if term.Op != anvil.OpCondJump {
		t.Fatalf("expected has_next()'s block to end in cond_jump, got %v", term.Op)
	}
	if term.Targets[0] != bodyBlock {
		t.Fatalf("expected the true branch of has_next() to enter the block calling next(), got block %d want %d", term.Targets[0], bodyBlock)
	}

	bodyTerm, _ := fn.Blocks[bodyBlock].Terminator()
	if bodyTerm.Op != anvil.OpJump || bodyTerm.Targets[0] != condBlock {
		t.Fatalf("expected the loop body to jump back to the has_next() check, got %v -> %v", bodyTerm.Op, bodyTerm.Targets)
	}

	v := &anvil.Verifier{}
	if err := v.Verify(fn); err != nil {
		t.Fatalf("lowered function failed verification: %v", err)
	}
}
