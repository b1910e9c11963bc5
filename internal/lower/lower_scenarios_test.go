package lower

import (
	"testing"

	"github.com/gkampitakis/go-snaps/snaps"

	"github.com/ember-lang/ember/internal/anvil"
	"github.com/ember-lang/ember/internal/resolver"
	"github.com/ember-lang/ember/internal/typectx"
	"github.com/ember-lang/ember/internal/typedast"
)

// These six scenarios pin the Anvil dump (spec.md §6) for a small,
// representative program in each major lowering path, so a regression
// in any one of them shows up as a go-snaps diff rather than only a
// narrower unit assertion.

// S1: a single free function returning a string literal.
func TestLowerScenarioHello(t *testing.T) {
	types := typectx.New()
	strType := types.Primitive(typectx.IntPtr)

	fd := &typedast.FunctionDecl{
		Name:   "hello",
		Ret:    strType,
		FuncID: 1,
		Body: &typedast.Block{Stmts: []typedast.Stmt{
			&typedast.Return{Value: &typedast.StringLit{Value: "Hello, world!"}},
		}},
	}

	l := New(types, nil)
	if err := l.LowerProgram(&typedast.Program{Functions: []*typedast.FunctionDecl{fd}}); err != nil {
		t.Fatalf("LowerProgram failed: %v", err)
	}
	if err := (&anvil.Verifier{}).VerifyModule(l.Mod); err != nil {
		t.Fatalf("module failed verification: %v", err)
	}
	snaps.MatchSnapshot(t, "s1_hello_dump", l.Mod.Dump())
}

// S2: a recursive function, exercising OpCallStatic against its own
// FuncID and the two-armed If lowering.
func TestLowerScenarioFibonacci(t *testing.T) {
	types := typectx.New()
	i64 := types.Primitive(typectx.I64)

	const fibID typectx.FuncID = 1
	n := &typedast.LocalRef{Slot: 0, Name: "n"}

	body := &typedast.Block{Stmts: []typedast.Stmt{
		&typedast.If{
			Cond: &typedast.BinaryExpr{Op: typedast.OpLt, Left: n, Right: &typedast.IntLit{Value: 2}},
			Then: &typedast.Block{Stmts: []typedast.Stmt{&typedast.Return{Value: n}}},
		},
		&typedast.Return{Value: &typedast.BinaryExpr{
			Op: typedast.OpAdd,
			Left: &typedast.StaticCall{Func: fibID, Args: []typedast.Expr{
				&typedast.BinaryExpr{Op: typedast.OpSub, Left: n, Right: &typedast.IntLit{Value: 1}},
			}},
			Right: &typedast.StaticCall{Func: fibID, Args: []typedast.Expr{
				&typedast.BinaryExpr{Op: typedast.OpSub, Left: n, Right: &typedast.IntLit{Value: 2}},
			}},
		}},
	}}

	fd := &typedast.FunctionDecl{
		Name:   "fib",
		Params: []*typedast.ParamDecl{{Name: "n", Type: i64, Slot: 0}},
		Ret:    i64,
		FuncID: fibID,
		Body:   body,
	}

	l := New(types, nil)
	if err := l.LowerProgram(&typedast.Program{Functions: []*typedast.FunctionDecl{fd}}); err != nil {
		t.Fatalf("LowerProgram failed: %v", err)
	}
	if err := (&anvil.Verifier{}).VerifyModule(l.Mod); err != nil {
		t.Fatalf("module failed verification: %v", err)
	}
	snaps.MatchSnapshot(t, "s2_fibonacci_dump", l.Mod.Dump())
}

// S3: an Animal/Dog hierarchy where Dog overrides the virtual method
// Animal declares, exercising resolver-assigned v-table slots and
// checkDispatch.
func TestLowerScenarioVirtualDispatch(t *testing.T) {
	types := typectx.New()
	syms := resolver.New(types)
	strType := types.Primitive(typectx.IntPtr)

	const animalSpeak typectx.FuncID = 10
	const dogSpeak typectx.FuncID = 11

	animal := &typedast.ClassDecl{
		ID:   0,
		Name: "Animal",
		Methods: []*typedast.MethodDecl{
			{
				Name:     "speak",
				Ret:      strType,
				Dispatch: typedast.DispatchVirtual,
				FuncID:   animalSpeak,
				Body: &typedast.Block{Stmts: []typedast.Stmt{
					&typedast.Return{Value: &typedast.StringLit{Value: "..."}},
				}},
			},
		},
	}
	dogParent := typectx.ClassID(0)
	dog := &typedast.ClassDecl{
		ID:     1,
		Name:   "Dog",
		Parent: &dogParent,
		Methods: []*typedast.MethodDecl{
			{
				Name:     "speak",
				Ret:      strType,
				Dispatch: typedast.DispatchVirtual,
				FuncID:   dogSpeak,
				Body: &typedast.Block{Stmts: []typedast.Stmt{
					&typedast.Return{Value: &typedast.StringLit{Value: "Woof!"}},
				}},
			},
		},
	}

	prog := &typedast.Program{Classes: []*typedast.ClassDecl{animal, dog}}
	if err := syms.ResolveProgram(prog); err != nil {
		t.Fatalf("ResolveProgram failed: %v", err)
	}

	// A free function taking an Animal and invoking its virtual speak(),
	// with the slot already resolved the way (B) hands it to (D).
	animalDesc, _ := syms.ClassOf(0)
	speakHandle, _ := animalDesc.Lookup("speak", 0)
	animalType := types.Class(0)

	recv := &typedast.LocalRef{Slot: 0, Name: "a"}
	makeNoise := &typedast.FunctionDecl{
		Name:   "makeNoise",
		Params: []*typedast.ParamDecl{{Name: "a", Type: animalType, Slot: 0}},
		Ret:    strType,
		FuncID: 20,
		Body: &typedast.Block{Stmts: []typedast.Stmt{
			&typedast.Return{Value: &typedast.VirtualCall{Recv: recv, Class: 0, Slot: speakHandle.VTableSlot, Name: "speak"}},
		}},
	}
	prog.Functions = []*typedast.FunctionDecl{makeNoise}

	l := New(types, syms)
	if err := l.LowerProgram(prog); err != nil {
		t.Fatalf("LowerProgram failed: %v", err)
	}
	if err := (&anvil.Verifier{Classes: syms}).VerifyModule(l.Mod); err != nil {
		t.Fatalf("module failed verification: %v", err)
	}
	snaps.MatchSnapshot(t, "s3_virtual_dispatch_dump", l.Mod.Dump())
}

// S4: try/catch/finally, exercising try-region construction and
// finally duplication onto both the try body's and the handler's
// normal-exit edges.
func TestLowerScenarioException(t *testing.T) {
	types := typectx.New()
	i64 := types.Primitive(typectx.I64)
	const errClass typectx.ClassID = 5

	st := &typedast.Try{
		Body: &typedast.Block{Stmts: []typedast.Stmt{
			&typedast.Throw{Value: &typedast.New{Class: errClass}},
		}},
		Catches: []typedast.CatchClause{
			{
				CatchType: errClass,
				VarSlot:   1,
				Body: &typedast.Block{Stmts: []typedast.Stmt{
					&typedast.Return{Value: &typedast.IntLit{Value: -1}},
				}},
			},
		},
		Finally: &typedast.Block{Stmts: []typedast.Stmt{
			&typedast.ExprStmt{Expr: &typedast.StaticCall{Func: 99}},
		}},
	}

	fd := &typedast.FunctionDecl{
		Name:   "risky",
		Ret:    i64,
		FuncID: 1,
		Body: &typedast.Block{Stmts: []typedast.Stmt{
			st,
			&typedast.Return{Value: &typedast.IntLit{Value: 0}},
		}},
	}

	l := New(types, nil)
	if err := l.LowerProgram(&typedast.Program{Functions: []*typedast.FunctionDecl{fd}}); err != nil {
		t.Fatalf("LowerProgram failed: %v", err)
	}
	if err := (&anvil.Verifier{}).VerifyModule(l.Mod); err != nil {
		t.Fatalf("module failed verification: %v", err)
	}
	snaps.MatchSnapshot(t, "s4_exception_dump", l.Mod.Dump())
}

// S5: an async function awaiting two futures in sequence, exercising
// the resume() state machine's dispatch switch and suspend tags.
func TestLowerScenarioAsyncPipeline(t *testing.T) {
	types := typectx.New()
	i64 := types.Primitive(typectx.I64)

	body := &typedast.Block{Stmts: []typedast.Stmt{
		&typedast.LocalDecl{Slot: 0, Type: i64, Init: &typedast.Await{Future: &typedast.NilLit{}}},
		&typedast.Return{Value: &typedast.Await{Future: &typedast.NilLit{}}},
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
	if err := (&anvil.Verifier{}).VerifyModule(l.Mod); err != nil {
		t.Fatalf("module failed verification: %v", err)
	}
	snaps.MatchSnapshot(t, "s5_async_pipeline_dump", l.Mod.Dump())
}

// S6: a two-field JSON-serializable class, pinning the synthesized
// to_json/from_json method bodies alongside the rest of the module.
func TestLowerScenarioSerializationRoundTrip(t *testing.T) {
	types := typectx.New()
	syms := resolver.New(types)
	i64 := types.Primitive(typectx.I64)

	cd := &typedast.ClassDecl{
		ID:   0,
		Name: "Point",
		Fields: []*typedast.FieldDecl{
			{Name: "x", Type: i64},
			{Name: "y", Type: i64},
		},
		Serialization: typedast.SerializeJSON,
	}
	prog := &typedast.Program{Classes: []*typedast.ClassDecl{cd}}
	if err := syms.ResolveProgram(prog); err != nil {
		t.Fatalf("ResolveProgram failed: %v", err)
	}

	l := New(types, syms)
	if err := l.LowerProgram(prog); err != nil {
		t.Fatalf("LowerProgram failed: %v", err)
	}
	if err := (&anvil.Verifier{Classes: syms}).VerifyModule(l.Mod); err != nil {
		t.Fatalf("module failed verification: %v", err)
	}
	snaps.MatchSnapshot(t, "s6_serialization_round_trip_dump", l.Mod.Dump())
}
