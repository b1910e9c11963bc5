package anvil

import (
	"strings"
	"testing"

	"github.com/ember-lang/ember/internal/typectx"
)

func simpleFunc(types *typectx.Context) *Function {
	i64 := types.Primitive(typectx.I64)
	fn := NewFunction(1, "add_one", KindFunction, Signature{Params: []typectx.Handle{i64}, Ret: i64})
	entry := fn.NewBlock("entry")
	p := fn.NewRegister()
	fn.Emit(entry, Instr{Op: OpLoadLocal, Dst: p, DstType: i64, Operands: []Operand{ImmOperand(0)}})
	one := fn.NewRegister()
	fn.Emit(entry, Instr{Op: OpConstInt, Dst: one, DstType: i64})
	sum := fn.NewRegister()
	fn.Emit(entry, Instr{Op: OpAddInt, Dst: sum, DstType: i64, Operands: []Operand{RegOperand(p), RegOperand(one)}})
	fn.Emit(entry, Instr{Op: OpRet, Dst: invalidRegister, Operands: []Operand{RegOperand(sum)}})
	return fn
}

func TestVerifierAcceptsWellFormedFunction(t *testing.T) {
	types := typectx.New()
	fn := simpleFunc(types)
	v := &Verifier{}
	if err := v.Verify(fn); err != nil {
		t.Fatalf("unexpected verification failure: %v", err)
	}
}

func TestVerifierRejectsMissingTerminator(t *testing.T) {
	types := typectx.New()
	i64 := types.Primitive(typectx.I64)
	fn := NewFunction(1, "broken", KindFunction, Signature{Ret: i64})
	entry := fn.NewBlock("entry")
	r := fn.NewRegister()
	fn.Emit(entry, Instr{Op: OpConstInt, Dst: r, DstType: i64})

	v := &Verifier{}
	err := v.Verify(fn)
	if err == nil {
		t.Fatal("expected a verification error for a block with no terminator")
	}
	if !strings.Contains(err.Error(), "not a terminator") {
		t.Fatalf("expected a terminator error, got: %v", err)
	}
}

func TestVerifierRejectsUseBeforeDef(t *testing.T) {
	types := typectx.New()
	i64 := types.Primitive(typectx.I64)
	fn := NewFunction(1, "broken", KindFunction, Signature{Ret: i64})
	entry := fn.NewBlock("entry")
	phantom := fn.NewRegister()
	fn.Emit(entry, Instr{Op: OpRet, Operands: []Operand{RegOperand(phantom)}})

	v := &Verifier{}
	err := v.Verify(fn)
	if err == nil || !strings.Contains(err.Error(), "used before any definition") {
		t.Fatalf("expected a use-before-def error, got: %v", err)
	}
}

func TestVerifierRejectsNonDominatingUse(t *testing.T) {
	types := typectx.New()
	i64 := types.Primitive(typectx.I64)
	fn := NewFunction(1, "broken", KindFunction, Signature{Ret: i64})
	entry := fn.NewBlock("entry")
	left := fn.NewBlock("left")
	join := fn.NewBlock("join")

	cond := fn.NewRegister()
	fn.Emit(entry, Instr{Op: OpConstInt, Dst: cond, DstType: types.Primitive(typectx.I1)})
	fn.Emit(entry, Instr{Op: OpCondJump, Operands: []Operand{RegOperand(cond)}, Targets: []int{left, join}})

	onlyInLeft := fn.NewRegister()
	fn.Emit(left, Instr{Op: OpConstInt, Dst: onlyInLeft, DstType: i64})
	fn.Emit(left, Instr{Op: OpJump, Targets: []int{join}})

	// join uses a register only defined on the "left" path — not
	// defined on every path that reaches join, so it does not dominate.
	fn.Emit(join, Instr{Op: OpRet, Operands: []Operand{RegOperand(onlyInLeft)}})

	v := &Verifier{}
	err := v.Verify(fn)
	if err == nil || !strings.Contains(err.Error(), "does not dominate") {
		t.Fatalf("expected a dominance error, got: %v", err)
	}
}

func TestVerifierRejectsSuspensionInWrongFunctionKind(t *testing.T) {
	types := typectx.New()
	fn := NewFunction(1, "not_async", KindFunction, Signature{})
	entry := fn.NewBlock("entry")
	fn.Emit(entry, Instr{Op: OpAwaitSuspend, Dst: invalidRegister})

	v := &Verifier{}
	err := v.Verify(fn)
	if err == nil || !strings.Contains(err.Error(), "non-async function") {
		t.Fatalf("expected an async-placement error, got: %v", err)
	}
}

func TestVerifierRejectsOverlappingTryRegions(t *testing.T) {
	types := typectx.New()
	fn := NewFunction(1, "f", KindFunction, Signature{})
	for i := 0; i < 4; i++ {
		bi := fn.NewBlock("")
		fn.Emit(bi, Instr{Op: OpRet})
	}
	fn.TryRegions = []TryRegion{
		{Start: 0, End: 2, Parent: -1},
		{Start: 1, End: 3, Parent: -1}, // overlaps [0,2) without nesting
	}
	_ = types

	v := &Verifier{}
	err := v.Verify(fn)
	if err == nil || !strings.Contains(err.Error(), "partially overlap") {
		t.Fatalf("expected a try-region overlap error, got: %v", err)
	}
}

type fakeClassInfo struct {
	vtableSizes map[typectx.ClassID]int
	native      map[typectx.ClassID]bool
}

func (f fakeClassInfo) VTableSize(id typectx.ClassID) (int, bool) {
	n, ok := f.vtableSizes[id]
	return n, ok
}
func (f fakeClassInfo) IsNativeLibrary(id typectx.ClassID) bool { return f.native[id] }

func TestVerifierRejectsOutOfRangeVTableSlot(t *testing.T) {
	types := typectx.New()
	fn := NewFunction(1, "f", KindFunction, Signature{})
	entry := fn.NewBlock("entry")
	recv := fn.NewRegister()
	fn.Emit(entry, Instr{Op: OpConstNil, Dst: recv, DstType: types.Primitive(typectx.NilKind)})
	fn.Emit(entry, Instr{Op: OpCallVirtual, Dst: invalidRegister, ClassID: 5, Slot: 3, Operands: []Operand{RegOperand(recv)}})
	fn.Emit(entry, Instr{Op: OpRet})

	v := &Verifier{Classes: fakeClassInfo{vtableSizes: map[typectx.ClassID]int{5: 2}}}
	err := v.Verify(fn)
	if err == nil || !strings.Contains(err.Error(), "slot 3 out of range") {
		t.Fatalf("expected a v-table range error, got: %v", err)
	}
}

func TestVerifierRejectsNativeCallOnNonNativeClass(t *testing.T) {
	types := typectx.New()
	_ = types
	fn := NewFunction(1, "f", KindFunction, Signature{})
	entry := fn.NewBlock("entry")
	fn.Emit(entry, Instr{Op: OpCallNative, ClassID: 9})
	fn.Emit(entry, Instr{Op: OpRet})

	v := &Verifier{Classes: fakeClassInfo{native: map[typectx.ClassID]bool{9: false}}}
	err := v.Verify(fn)
	if err == nil || !strings.Contains(err.Error(), "not a NativeLibrary") {
		t.Fatalf("expected an FFI-binding error, got: %v", err)
	}
}
