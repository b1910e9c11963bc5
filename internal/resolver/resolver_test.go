package resolver

import (
	"testing"

	"github.com/ember-lang/ember/internal/typectx"
	"github.com/ember-lang/ember/internal/typedast"
)

func classDecl(id typectx.ClassID, name string, parent *typectx.ClassID, fields []*typedast.FieldDecl, methods []*typedast.MethodDecl) *typedast.ClassDecl {
	return &typedast.ClassDecl{ID: id, Name: name, Parent: parent, Fields: fields, Methods: methods}
}

func method(name string, dispatch typedast.DispatchMode, funcID typectx.FuncID) *typedast.MethodDecl {
	return &typedast.MethodDecl{Name: name, Dispatch: dispatch, FuncID: funcID}
}

func ptr(id typectx.ClassID) *typectx.ClassID { return &id }

// TestVTableSlotStability is property 3 from spec.md §8: for any class
// C and method m, the v-table slot of m in C equals its slot in every
// subclass that does not redeclare m.
func TestVTableSlotStability(t *testing.T) {
	types := typectx.New()
	r := New(types)

	animal := classDecl(0, "Animal", nil, nil, []*typedast.MethodDecl{
		method("speak", typedast.DispatchVirtual, 100),
		method("name", typedast.DispatchVirtual, 101),
	})
	dog := classDecl(1, "Dog", ptr(0), nil, []*typedast.MethodDecl{
		method("speak", typedast.DispatchVirtual, 200), // override
	})
	cat := classDecl(2, "Cat", ptr(0), nil, nil) // no overrides at all

	prog := &typedast.Program{Classes: []*typedast.ClassDecl{animal, dog, cat}}
	if err := r.ResolveProgram(prog); err != nil {
		t.Fatalf("ResolveProgram failed: %v", err)
	}

	animalDesc, _ := r.ClassOf(0)
	dogDesc, _ := r.ClassOf(1)
	catDesc, _ := r.ClassOf(2)

	animalSpeak, _ := animalDesc.Lookup("speak", 0)
	dogSpeak, _ := dogDesc.Lookup("speak", 0)
	catSpeak, _ := catDesc.Lookup("speak", 0)

	if dogSpeak.VTableSlot != animalSpeak.VTableSlot {
		t.Errorf("Dog.speak slot %d != Animal.speak slot %d", dogSpeak.VTableSlot, animalSpeak.VTableSlot)
	}
	if catSpeak.VTableSlot != animalSpeak.VTableSlot {
		t.Errorf("Cat.speak (inherited, unoverridden) slot %d != Animal.speak slot %d", catSpeak.VTableSlot, animalSpeak.VTableSlot)
	}
	if dogSpeak.Body != 200 {
		t.Errorf("Dog.speak should dispatch to its own override body, got func %d", dogSpeak.Body)
	}

	animalName, _ := animalDesc.Lookup("name", 0)
	catName, _ := catDesc.Lookup("name", 0)
	if catName.VTableSlot != animalName.VTableSlot {
		t.Errorf("Cat.name slot %d != Animal.name slot %d", catName.VTableSlot, animalName.VTableSlot)
	}
}

func TestDuplicateFieldIsFatal(t *testing.T) {
	types := typectx.New()
	r := New(types)
	i64 := types.Primitive(typectx.I64)

	cls := classDecl(0, "Point", nil, []*typedast.FieldDecl{
		{Name: "x", Type: i64},
		{Name: "x", Type: i64},
	}, nil)

	err := r.ResolveProgram(&typedast.Program{Classes: []*typedast.ClassDecl{cls}})
	if err == nil {
		t.Fatal("expected a fatal error for a duplicate field")
	}
}

func TestIncompatibleOverrideIsFatal(t *testing.T) {
	types := typectx.New()
	r := New(types)

	base := classDecl(0, "Base", nil, nil, []*typedast.MethodDecl{
		method("run", typedast.DispatchVirtual, 1),
	})
	derived := classDecl(1, "Derived", ptr(0), nil, []*typedast.MethodDecl{
		method("run", typedast.DispatchStatic, 2), // not virtual: incompatible
	})

	err := r.ResolveProgram(&typedast.Program{Classes: []*typedast.ClassDecl{base, derived}})
	if err == nil {
		t.Fatal("expected a fatal error for an incompatible override")
	}
}

func TestFieldInheritanceAcrossLevels(t *testing.T) {
	types := typectx.New()
	r := New(types)
	i64 := types.Primitive(typectx.I64)
	str := types.Primitive(typectx.I8)

	object := classDecl(0, "TObject", nil, nil, nil)
	stream := classDecl(1, "TStream", ptr(0), []*typedast.FieldDecl{{Name: "size", Type: i64}}, nil)
	fileStream := classDecl(2, "TFileStream", ptr(1), []*typedast.FieldDecl{{Name: "filename", Type: str}}, nil)

	prog := &typedast.Program{Classes: []*typedast.ClassDecl{object, stream, fileStream}}
	if err := r.ResolveProgram(prog); err != nil {
		t.Fatalf("ResolveProgram failed: %v", err)
	}

	desc, _ := r.ClassOf(2)
	if len(desc.Fields) != 2 {
		t.Fatalf("TFileStream should have 2 fields (inherited + own), got %d", len(desc.Fields))
	}
	names := map[string]bool{}
	for _, f := range desc.Fields {
		names[f.Name] = true
	}
	if !names["size"] || !names["filename"] {
		t.Fatalf("expected fields size and filename, got %+v", desc.Fields)
	}

	// Mutating the child's field list must never alias the parent's.
	parentDesc, _ := r.ClassOf(1)
	if len(parentDesc.Fields) != 1 {
		t.Fatalf("TStream field count must stay 1 after TFileStream resolves, got %d", len(parentDesc.Fields))
	}
}

func TestLayoutObjectNaturalAlignment(t *testing.T) {
	types := typectx.New()
	r := New(types)
	i64 := types.Primitive(typectx.I64)
	i8 := types.Primitive(typectx.I8)

	cls := classDecl(0, "Packed", nil, []*typedast.FieldDecl{
		{Name: "flag", Type: i8},
		{Name: "value", Type: i64},
	}, nil)
	if err := r.ResolveProgram(&typedast.Program{Classes: []*typedast.ClassDecl{cls}}); err != nil {
		t.Fatalf("ResolveProgram failed: %v", err)
	}

	layout, err := r.LayoutOf(0)
	if err != nil {
		t.Fatalf("LayoutOf failed: %v", err)
	}
	if layout.Kind != typectx.LayoutObject {
		t.Fatalf("expected object layout, got %v", layout.Kind)
	}
	// The i64 field must be aligned to an 8-byte boundary after the
	// 8-byte GC header + 1-byte flag field.
	if layout.Fields[1].Offset%8 != 0 {
		t.Errorf("i64 field must be 8-byte aligned, got offset %d", layout.Fields[1].Offset)
	}

	layout2, err := r.LayoutOf(0)
	if err != nil || layout2 != layout {
		t.Fatal("LayoutOf must memoize and return the exact same descriptor on a second call")
	}
}

func TestCaptureAnalysisClassifiesByCopyAndByCell(t *testing.T) {
	types := typectx.New()
	i64 := types.Primitive(typectx.I64)

	lit := &typedast.BlockLit{
		Params: nil,
		Body: &typedast.Block{Stmts: []typedast.Stmt{
			&typedast.ExprStmt{Expr: &typedast.LocalRef{Slot: 0, Name: "count"}},
		}},
	}
	outerScope := map[int]typectx.Handle{0: i64, 1: i64}
	mutable := mutableSlots{0: true} // "count" is reassigned somewhere in the enclosing function

	r := New(types)
	captures := r.AnalyzeCaptures(lit, outerScope, mutable)
	if len(captures) != 1 {
		t.Fatalf("expected exactly 1 capture, got %d", len(captures))
	}
	if captures[0].Mode != typedast.ByCell {
		t.Errorf("a mutated captured local must be captured ByCell, got %v", captures[0].Mode)
	}
}
