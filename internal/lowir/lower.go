// lower.go implements Anvil → LowIR Lowering (component E): translating
// a verified anvil.Module into machine-level LowIR, opcode by opcode.
// Every Anvil register becomes a LowIR value 1:1 within a block (Anvil
// guarantees no forward references, spec.md §3, so a single top-to-
// bottom pass per function suffices); only object-model, array/hash/
// range, and concurrency opcodes expand into more than one LowIR value,
// and only the generator/async suspend points and OpThrow change a
// block's terminator shape. Func.Reorder is run once per function
// after every block has its full instruction list.
package lowir

import (
	"fmt"
	"math"
	"strings"

	"github.com/ember-lang/ember/internal/anvil"
	"github.com/ember-lang/ember/internal/errors"
	"github.com/ember-lang/ember/internal/resolver"
	"github.com/ember-lang/ember/internal/runtimeabi"
	"github.com/ember-lang/ember/internal/typectx"
)

func invariantf(format string, args ...interface{}) error {
	return errors.NewKindError(errors.InternalInvariant, errors.Position{}, fmt.Sprintf(format, args...))
}

// pointerSize mirrors resolver.layout.go's own unexported constant —
// (E) needs it independently to size the ad hoc layout it computes for
// synthetic classes the resolver never registered.
const pointerSize = 8

// asyncFutureFieldSlot/asyncResultFieldSlot mirror the reserved field
// slots lower_async.go allocates on every async state machine's
// synthetic class (asyncFutureField, asyncResultField); (D) never
// reads them back, only (E) does, while expanding an async body's
// OpRet into the future_new/future_complete protocol.
const (
	asyncResultFieldSlot = 1
	asyncFutureFieldSlot = 2
)

// boxClassID is a reserved, never-real ClassID standing in for the
// runtime's fixed boxed-primitive envelope layout (header + 8-byte
// payload). Negative and far from both the resolver's ClassID space
// (>= 0) and the lowerer's synthetic space (>= 1<<20), so it can never
// collide with a real or synthetic class.
const boxClassID typectx.ClassID = -100

// Lowerer translates one verified anvil.Module into a LowIR Module.
type Lowerer struct {
	Types *typectx.Context
	Syms  *resolver.Resolver

	am  *anvil.Module
	mod *Module

	funcIndex map[typectx.FuncID]int
	layouts   map[typectx.ClassID]*typectx.LayoutDescriptor
	maxSlot   map[typectx.ClassID]int

	callSite int
}

// New creates a Lowerer. Syms may be nil only for tests lowering
// class-free modules; every class-bearing opcode (GetField, New,
// CallVirtual, ...) needs it to resolve a LayoutDescriptor.
func New(types *typectx.Context, syms *resolver.Resolver) *Lowerer {
	return &Lowerer{
		Types:   types,
		Syms:    syms,
		layouts: make(map[typectx.ClassID]*typectx.LayoutDescriptor),
		maxSlot: make(map[typectx.ClassID]int),
	}
}

// LowerModule lowers am into a fresh LowIR Module.
func (l *Lowerer) LowerModule(am *anvil.Module) (*Module, error) {
	l.am = am
	l.mod = NewModule()
	l.funcIndex = make(map[typectx.FuncID]int)

	fns := am.FunctionsInOrder()
	l.scanFieldSlots(fns)

	for _, fn := range fns {
		lf := NewFunc(fn.Name, l.kindsOf(fn.Sig.Params), l.kindOf(fn.Sig.Ret))
		lf.Async = fn.Sig.Async
		lf.Gen = fn.Sig.Gen
		for _, loc := range fn.Locals {
			lf.NewLocal(l.kindOf(loc.Type))
		}
		l.funcIndex[fn.ID] = len(l.mod.Funcs)
		l.mod.AddFunc(lf)
	}

	for i, fn := range fns {
		if err := l.lowerFunction(fn, l.mod.Funcs[i]); err != nil {
			return nil, err
		}
	}
	return l.mod, nil
}

// scanFieldSlots records, per ClassID, one past the highest field slot
// any instruction references — the only information the ad hoc
// synthetic-class layout fallback (layoutFor) needs to size itself,
// since closures and generator/async state machines never get a
// resolver.ClassDescriptor of their own.
func (l *Lowerer) scanFieldSlots(fns []*anvil.Function) {
	note := func(classID typectx.ClassID, slot int) {
		if slot+1 > l.maxSlot[classID] {
			l.maxSlot[classID] = slot + 1
		}
	}
	for _, fn := range fns {
		for _, b := range fn.Blocks {
			for _, in := range b.Instr {
				switch in.Op {
				case anvil.OpGetField, anvil.OpSetField, anvil.OpLoadCapture, anvil.OpStoreCapture, anvil.OpLoadErased, anvil.OpStoreErased:
					note(in.ClassID, in.Slot)
				}
			}
		}
	}
}

// kindOf maps a typectx.Handle to its machine-level runtimeabi.Kind.
// Every reference-shaped type (class, array, hash, ...) is an opaque,
// GC-managed ObjPtr at this level — only primitives carry a distinct
// machine representation.
func (l *Lowerer) kindOf(h typectx.Handle) runtimeabi.Kind {
	if h == typectx.Invalid {
		return runtimeabi.KindVoid
	}
	if l.Types.Kind(h) != typectx.KindPrimitive {
		return runtimeabi.KindObjPtr
	}
	switch l.Types.PrimitiveKindOf(h) {
	case typectx.I1:
		return runtimeabi.KindI1
	case typectx.I8:
		return runtimeabi.KindI8
	case typectx.I32:
		return runtimeabi.KindI32
	case typectx.I64:
		return runtimeabi.KindI64
	case typectx.F32:
		return runtimeabi.KindF32
	case typectx.F64:
		return runtimeabi.KindF64
	case typectx.IntPtr:
		return runtimeabi.KindIntPtr
	default: // NilKind
		return runtimeabi.KindObjPtr
	}
}

func (l *Lowerer) kindsOf(hs []typectx.Handle) []runtimeabi.Kind {
	out := make([]runtimeabi.Kind, len(hs))
	for i, h := range hs {
		out[i] = l.kindOf(h)
	}
	return out
}

// layoutFor returns classID's byte layout, falling back to an ad hoc
// uniform layout (every field pointer-sized, conservatively scanned)
// for a synthetic class the resolver never registered — closures and
// generator/async state machines, whose fields (E) itself is the first
// and only reader of.
func (l *Lowerer) layoutFor(classID typectx.ClassID) *typectx.LayoutDescriptor {
	if lay, ok := l.layouts[classID]; ok {
		return lay
	}
	if l.Syms != nil {
		if lay, err := l.Syms.LayoutOf(classID); err == nil {
			l.layouts[classID] = lay
			return lay
		}
	}
	n := l.maxSlot[classID]
	fields := make([]typectx.FieldLayout, n)
	for i := range fields {
		fields[i] = typectx.FieldLayout{Offset: pointerSize + i*pointerSize, Scanned: true}
	}
	lay := &typectx.LayoutDescriptor{Kind: typectx.LayoutObject, Size: pointerSize + n*pointerSize, Align: pointerSize, Fields: fields}
	l.layouts[classID] = lay
	return lay
}

func (l *Lowerer) fieldOffset(classID typectx.ClassID, slot int) (offset int, scanned bool, err error) {
	lay := l.layoutFor(classID)
	if slot < 0 || slot >= len(lay.Fields) {
		return 0, false, invariantf("lowir: field slot %d out of range for class %d", slot, classID)
	}
	f := lay.Fields[slot]
	return f.Offset, f.Scanned, nil
}

// methodNameOf strips a method Function's "ClassName." prefix, giving
// the bare name OpCallInterfaceLike dispatches on (lower_classes.go
// names every regular method "cd.Name+\".\"+m.Name").
func methodNameOf(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

// findImplementers scans every lowered function for a plausible
// dynamic-dispatch target of an OpCallInterfaceLike call: same bare
// name, same arity, and not a free function (KindFunction never
// answers a receiver-based dynamic call). Declaration order gives a
// deterministic, reproducible candidate list and dispatch-thunk body.
func (l *Lowerer) findImplementers(name string, arity int) []*anvil.Function {
	var out []*anvil.Function
	for _, fn := range l.am.FunctionsInOrder() {
		if fn.Kind == anvil.KindFunction {
			continue
		}
		if methodNameOf(fn.Name) != name {
			continue
		}
		if len(fn.Sig.Params) != arity {
			continue
		}
		out = append(out, fn)
	}
	return out
}

// --- per-function translation ---

type funcCtx struct {
	l      *Lowerer
	fn     *anvil.Function
	lf     *Func
	regMap map[anvil.Register]Reg
}

func (l *Lowerer) lowerFunction(fn *anvil.Function, lf *Func) error {
	for range fn.Blocks {
		lf.NewBlock("")
	}
	fc := &funcCtx{l: l, fn: fn, lf: lf, regMap: make(map[anvil.Register]Reg)}

	for bi, b := range fn.Blocks {
		for _, in := range b.Instr {
			if err := fc.translate(bi, in); err != nil {
				return err
			}
		}
	}

	for _, tr := range fn.TryRegions {
		blocks := make([]int, 0, tr.End-tr.Start)
		for i := tr.Start; i < tr.End; i++ {
			blocks = append(blocks, i)
		}
		handlers := make([]CatchHandler, len(tr.Handlers))
		for i, h := range tr.Handlers {
			handlers[i] = CatchHandler{CatchType: h.CatchType, Handler: h.Handler}
		}
		lf.TryRegions = append(lf.TryRegions, TryRegion{Blocks: blocks, Handlers: handlers, Parent: tr.Parent})
	}

	insertSafepoints(lf)
	lf.Reorder()
	return nil
}

func (fc *funcCtx) def(dst anvil.Register, v Reg) { fc.regMap[dst] = v }

// val resolves an Anvil operand to the LowIR value that already
// defined it. Every Const operand in (D)'s output is the sole operand
// of its own defining OpConstInt/Float/String instruction (never
// threaded through as another instruction's argument), so by the time
// translate() reaches any other opcode, every operand it sees is a
// register use.
func (fc *funcCtx) val(bi int, o anvil.Operand) Reg {
	if !o.IsReg() {
		panic("lowir: expected a register operand")
	}
	r, ok := fc.regMap[o.Reg]
	if !ok {
		panic(fmt.Sprintf("lowir: register %%%d used before it was defined", o.Reg))
	}
	return r
}

func (fc *funcCtx) vals(bi int, ops []anvil.Operand) []Reg {
	out := make([]Reg, len(ops))
	for i, o := range ops {
		out[i] = fc.val(bi, o)
	}
	return out
}

// store emits OpStore and, when the stored value is reference-typed,
// a trailing OpWriteBarrier — every field/capture/erased-slot write
// goes through this one helper so the barrier is never forgotten.
func (fc *funcCtx) store(bi int, ptr, v Reg, offset int, scanned bool, pos anvil.Pos) {
	fc.lf.Emit(bi, Value{Op: OpStore, Dst: invalidReg, Args: []Reg{ptr, v}, Imm: int64(offset), Pos: pos})
	if scanned {
		fc.lf.Emit(bi, Value{Op: OpWriteBarrier, Dst: invalidReg, Args: []Reg{ptr, v}, Pos: pos})
	}
}

func (fc *funcCtx) runtimeCall(bi int, sym runtimeabi.Symbol, args []Reg, retType runtimeabi.Kind, pos anvil.Pos) Reg {
	d := invalidReg
	if sym.Ret != runtimeabi.KindVoid {
		d = fc.lf.NewReg()
	}
	s := sym
	fc.lf.Emit(bi, Value{Op: OpRuntimeCall, Dst: d, Type: retType, Args: args, Sym: &s, Pos: pos})
	return d
}

// translate lowers one Anvil instruction into zero or more LowIR
// values appended to block bi, mirroring every opcode family
// documented in internal/anvil/opcode.go.
func (fc *funcCtx) translate(bi int, in anvil.Instr) error {
	l := fc.l
	lf := fc.lf
	kind := l.kindOf(in.DstType)

	switch in.Op {

	// --- locals & constants ---
	case anvil.OpLoadLocal:
		slot := in.Operands[0].Imm
		d := lf.NewReg()
		lf.Emit(bi, Value{Op: OpLoadLocal, Dst: d, Type: kind, Imm: slot, Pos: in.Pos})
		fc.def(in.Dst, d)
	case anvil.OpStoreLocal:
		slot := in.Operands[0].Imm
		v := fc.val(bi, in.Operands[1])
		lf.Emit(bi, Value{Op: OpStoreLocal, Dst: invalidReg, Args: []Reg{v}, Imm: slot, Pos: in.Pos})
	case anvil.OpConstInt:
		c := l.am.ConstAt(in.Operands[0].Const)
		d := lf.NewReg()
		lf.Emit(bi, Value{Op: OpConstInt, Dst: d, Type: kind, Imm: c.IntVal, Pos: in.Pos})
		fc.def(in.Dst, d)
	case anvil.OpConstFloat:
		c := l.am.ConstAt(in.Operands[0].Const)
		d := lf.NewReg()
		lf.Emit(bi, Value{Op: OpConstFloat, Dst: d, Type: kind, Imm: int64(math.Float64bits(c.FloatVal)), Pos: in.Pos})
		fc.def(in.Dst, d)
	case anvil.OpConstString:
		c := l.am.ConstAt(in.Operands[0].Const)
		idx := l.mod.InternString(c.StringVal)
		d := lf.NewReg()
		lf.Emit(bi, Value{Op: OpConstStr, Dst: d, Type: runtimeabi.KindObjPtr, Imm: int64(idx), Pos: in.Pos})
		fc.def(in.Dst, d)
	case anvil.OpConstNil:
		d := lf.NewReg()
		lf.Emit(bi, Value{Op: OpConstNil, Dst: d, Type: runtimeabi.KindObjPtr, Pos: in.Pos})
		fc.def(in.Dst, d)
	case anvil.OpConstClass:
		// No (D) emission path produces this opcode today; handled for
		// completeness against a hand-built fixture, following the same
		// "immediate field, not an operand" convention GetField/SetField
		// use for ClassID.
		d := lf.NewReg()
		lf.Emit(bi, Value{Op: OpConstInt, Dst: d, Type: runtimeabi.KindI64, Imm: int64(in.ClassID), Pos: in.Pos})
		fc.def(in.Dst, d)
	case anvil.OpConstMethod:
		d := lf.NewReg()
		lf.Emit(bi, Value{Op: OpConstInt, Dst: d, Type: runtimeabi.KindI64, Imm: int64(l.funcIndex[in.FuncID]), Pos: in.Pos})
		fc.def(in.Dst, d)

	// --- arithmetic / bitwise / comparison / conversions: no
	// mechanical transformation, only the operand types change ---
	case anvil.OpAddInt, anvil.OpSubInt, anvil.OpMulInt, anvil.OpDivInt, anvil.OpModInt, anvil.OpNegInt,
		anvil.OpAddFloat, anvil.OpSubFloat, anvil.OpMulFloat, anvil.OpDivFloat, anvil.OpNegFloat,
		anvil.OpBitAnd, anvil.OpBitOr, anvil.OpBitXor, anvil.OpShl, anvil.OpShr, anvil.OpBitNot,
		anvil.OpCmpIntEq, anvil.OpCmpIntNe, anvil.OpCmpIntLt, anvil.OpCmpIntLe, anvil.OpCmpIntGt, anvil.OpCmpIntGe,
		anvil.OpCmpFloatEq, anvil.OpCmpFloatNe, anvil.OpCmpFloatLt, anvil.OpCmpFloatLe, anvil.OpCmpFloatGt, anvil.OpCmpFloatGe,
		anvil.OpIToF, anvil.OpFToI, anvil.OpI32ToI64, anvil.OpF32ToF64:
		d := lf.NewReg()
		lf.Emit(bi, Value{Op: OpArith, Dst: d, Type: kind, Args: fc.vals(bi, in.Operands), AnvilOp: in.Op, Pos: in.Pos})
		fc.def(in.Dst, d)

	// --- boxing: real heap allocation, not a passthrough conversion ---
	case anvil.OpBox:
		box := lf.NewReg()
		lf.Emit(bi, Value{Op: OpAlloc, Dst: box, Type: runtimeabi.KindObjPtr, ClassID: boxClassID, Pos: in.Pos})
		payload := fc.val(bi, in.Operands[0])
		fc.store(bi, box, payload, pointerSize, false, in.Pos)
		fc.def(in.Dst, box)
	case anvil.OpUnbox:
		box := fc.val(bi, in.Operands[0])
		d := lf.NewReg()
		lf.Emit(bi, Value{Op: OpLoad, Dst: d, Type: kind, Args: []Reg{box}, Imm: pointerSize, Pos: in.Pos})
		fc.def(in.Dst, d)

	// --- object model ---
	case anvil.OpNew:
		d := lf.NewReg()
		lf.Emit(bi, Value{Op: OpAlloc, Dst: d, Type: runtimeabi.KindObjPtr, ClassID: in.ClassID, Args: fc.vals(bi, in.Operands), Pos: in.Pos})
		fc.def(in.Dst, d)
	case anvil.OpGetField:
		recv := fc.val(bi, in.Operands[0])
		off, _, err := l.fieldOffset(in.ClassID, in.Slot)
		if err != nil {
			return err
		}
		d := lf.NewReg()
		lf.Emit(bi, Value{Op: OpLoad, Dst: d, Type: kind, Args: []Reg{recv}, Imm: int64(off), Pos: in.Pos})
		fc.def(in.Dst, d)
	case anvil.OpSetField:
		recv := fc.val(bi, in.Operands[0])
		v := fc.val(bi, in.Operands[1])
		off, scanned, err := l.fieldOffset(in.ClassID, in.Slot)
		if err != nil {
			return err
		}
		fc.store(bi, recv, v, off, scanned, in.Pos)
	case anvil.OpCallStatic:
		d := invalidReg
		if in.DstType != typectx.Invalid {
			d = lf.NewReg()
		}
		lf.Emit(bi, Value{Op: OpCallDirect, Dst: d, Type: kind, Args: fc.vals(bi, in.Operands), Callee: l.funcIndex[in.FuncID], Pos: in.Pos})
		if d != invalidReg {
			fc.def(in.Dst, d)
		}
	case anvil.OpCallVirtual:
		d := invalidReg
		if in.DstType != typectx.Invalid {
			d = lf.NewReg()
		}
		lf.Emit(bi, Value{Op: OpCallVTable, Dst: d, Type: kind, Args: fc.vals(bi, in.Operands), Imm: int64(in.Slot), ClassID: in.ClassID, Pos: in.Pos})
		if d != invalidReg {
			fc.def(in.Dst, d)
		}
	case anvil.OpCallNative:
		d := invalidReg
		if in.DstType != typectx.Invalid {
			d = lf.NewReg()
		}
		lf.Emit(bi, Value{Op: OpCallNative, Dst: d, Type: kind, Args: fc.vals(bi, in.Operands), Callee: l.funcIndex[in.FuncID], Pos: in.Pos})
		if d != invalidReg {
			fc.def(in.Dst, d)
		}
	case anvil.OpCallInterfaceLike:
		return fc.translateCallInterfaceLike(bi, in)

	// --- arrays / hashes / ranges / iterators: bounds-checking and
	// traversal state live in the runtime, so these always call out ---
	case anvil.OpArrayNew:
		elemKind := lf.NewReg()
		lf.Emit(bi, Value{Op: OpConstInt, Dst: elemKind, Type: runtimeabi.KindI32, Imm: int64(l.kindOf(l.Types.ElemOf(in.DstType)))})
		n := fc.val(bi, in.Operands[0])
		d := fc.runtimeCall(bi, runtimeabi.ArrayNew, []Reg{elemKind, n}, runtimeabi.KindObjPtr, in.Pos)
		fc.def(in.Dst, d)
	case anvil.OpArrayLen:
		d := fc.runtimeCall(bi, runtimeabi.ArrayLen, fc.vals(bi, in.Operands), runtimeabi.KindI64, in.Pos)
		fc.def(in.Dst, d)
	case anvil.OpArrayGet:
		d := fc.runtimeCall(bi, runtimeabi.ArrayGet, fc.vals(bi, in.Operands), kind, in.Pos)
		fc.def(in.Dst, d)
	case anvil.OpArraySet:
		fc.runtimeCall(bi, runtimeabi.ArraySet, fc.vals(bi, in.Operands), runtimeabi.KindVoid, in.Pos)
	case anvil.OpHashNew:
		key, val := l.Types.HashParts(in.DstType)
		keyKind := lf.NewReg()
		lf.Emit(bi, Value{Op: OpConstInt, Dst: keyKind, Type: runtimeabi.KindI32, Imm: int64(l.kindOf(key))})
		valKind := lf.NewReg()
		lf.Emit(bi, Value{Op: OpConstInt, Dst: valKind, Type: runtimeabi.KindI32, Imm: int64(l.kindOf(val))})
		d := fc.runtimeCall(bi, runtimeabi.HashNew, []Reg{keyKind, valKind}, runtimeabi.KindObjPtr, in.Pos)
		fc.def(in.Dst, d)
	case anvil.OpHashGet:
		d := fc.runtimeCall(bi, runtimeabi.HashGet, fc.vals(bi, in.Operands), kind, in.Pos)
		fc.def(in.Dst, d)
	case anvil.OpHashSet:
		fc.runtimeCall(bi, runtimeabi.HashSet, fc.vals(bi, in.Operands), runtimeabi.KindVoid, in.Pos)
	case anvil.OpHashLen:
		d := fc.runtimeCall(bi, runtimeabi.HashLen, fc.vals(bi, in.Operands), runtimeabi.KindI64, in.Pos)
		fc.def(in.Dst, d)
	case anvil.OpRangeNew:
		d := fc.runtimeCall(bi, runtimeabi.RangeNew, fc.vals(bi, in.Operands), runtimeabi.KindObjPtr, in.Pos)
		fc.def(in.Dst, d)
	case anvil.OpArrayIterNew:
		d := fc.runtimeCall(bi, runtimeabi.ArrayIterNew, fc.vals(bi, in.Operands), runtimeabi.KindObjPtr, in.Pos)
		fc.def(in.Dst, d)
	case anvil.OpArrayIterHasNext:
		d := fc.runtimeCall(bi, runtimeabi.ArrayIterHasNext, fc.vals(bi, in.Operands), runtimeabi.KindI1, in.Pos)
		fc.def(in.Dst, d)
	case anvil.OpArrayIterNext:
		d := fc.runtimeCall(bi, runtimeabi.ArrayIterNext, fc.vals(bi, in.Operands), kind, in.Pos)
		fc.def(in.Dst, d)

	// --- generic dispatch (type erasure): same mechanical load/store
	// as GetField/SetField, against the erased slot's own class layout ---
	case anvil.OpLoadErased:
		recv := fc.val(bi, in.Operands[0])
		off, _, err := l.fieldOffset(in.ClassID, in.Slot)
		if err != nil {
			return err
		}
		d := lf.NewReg()
		lf.Emit(bi, Value{Op: OpLoad, Dst: d, Type: kind, Args: []Reg{recv}, Imm: int64(off), Pos: in.Pos})
		fc.def(in.Dst, d)
	case anvil.OpStoreErased:
		recv := fc.val(bi, in.Operands[0])
		v := fc.val(bi, in.Operands[1])
		off, _, err := l.fieldOffset(in.ClassID, in.Slot)
		if err != nil {
			return err
		}
		// Erased slots are reinterpreted per use site, so a store can't
		// locally know whether this write is reference-typed; always
		// barrier it, a conservative superset of SetField's precise check.
		fc.store(bi, recv, v, off, true, in.Pos)

	// --- closures ---
	case anvil.OpNewClosure:
		d := lf.NewReg()
		lf.Emit(bi, Value{Op: OpAlloc, Dst: d, Type: runtimeabi.KindObjPtr, ClassID: in.ClassID, Pos: in.Pos})
		fc.def(in.Dst, d)
	case anvil.OpLoadCapture:
		recv := fc.val(bi, in.Operands[0])
		off, _, err := l.fieldOffset(in.ClassID, in.Slot)
		if err != nil {
			return err
		}
		d := lf.NewReg()
		lf.Emit(bi, Value{Op: OpLoad, Dst: d, Type: kind, Args: []Reg{recv}, Imm: int64(off), Pos: in.Pos})
		fc.def(in.Dst, d)
	case anvil.OpStoreCapture:
		recv := fc.val(bi, in.Operands[0])
		v := fc.val(bi, in.Operands[1])
		off, scanned, err := l.fieldOffset(in.ClassID, in.Slot)
		if err != nil {
			return err
		}
		fc.store(bi, recv, v, off, scanned, in.Pos)

	// --- strings ---
	case anvil.OpStringConcat:
		d := fc.runtimeCall(bi, runtimeabi.StringConcat, fc.vals(bi, in.Operands), runtimeabi.KindObjPtr, in.Pos)
		fc.def(in.Dst, d)

	// --- concurrency ---
	case anvil.OpChannelSend:
		fc.runtimeCall(bi, runtimeabi.ChannelSend, fc.vals(bi, in.Operands), runtimeabi.KindVoid, in.Pos)
	case anvil.OpChannelReceive:
		d := fc.runtimeCall(bi, runtimeabi.ChannelReceive, fc.vals(bi, in.Operands), kind, in.Pos)
		fc.def(in.Dst, d)
	case anvil.OpThreadSpawn:
		fc.runtimeCall(bi, runtimeabi.ThreadSpawn, fc.vals(bi, in.Operands), runtimeabi.KindVoid, in.Pos)

	// --- control flow terminators ---
	case anvil.OpJump:
		lf.Emit(bi, Value{Op: OpJump, Dst: invalidReg, Targets: in.Targets, Pos: in.Pos})
	case anvil.OpCondJump:
		cond := fc.val(bi, in.Operands[0])
		lf.Emit(bi, Value{Op: OpBranch, Dst: invalidReg, Args: []Reg{cond}, Targets: in.Targets, Pos: in.Pos})
	case anvil.OpSwitch:
		tag := fc.val(bi, in.Operands[0])
		lf.Emit(bi, Value{Op: OpSwitch, Dst: invalidReg, Args: []Reg{tag}, Imm: int64(len(in.Targets) - 1), Targets: in.Targets, Pos: in.Pos})
	case anvil.OpRet:
		return fc.translateRet(bi, in)
	case anvil.OpThrow:
		exc := fc.val(bi, in.Operands[0])
		fc.runtimeCall(bi, runtimeabi.Throw, []Reg{exc}, runtimeabi.KindVoid, in.Pos)
		lf.Emit(bi, Value{Op: OpUnreachable, Dst: invalidReg, Pos: in.Pos})
	case anvil.OpYieldSuspend:
		return fc.translateYieldSuspend(bi, in)
	case anvil.OpAwaitSuspend:
		return fc.translateAwaitSuspend(bi, in)

	case anvil.OpNop:
		// (D) never emits OpNop; only a hand-built fixture carries one,
		// and a placeholder keeps it from panicking on an undefined
		// register.
		d := lf.NewReg()
		lf.Emit(bi, Value{Op: OpConstNil, Dst: d, Type: kind, Pos: in.Pos})
		fc.def(in.Dst, d)

	default:
		return invariantf("lowir: no translation for opcode %s", in.Op)
	}
	return nil
}

// translateRet handles the two async-specific reshapings of OpRet
// (spec.md §4.E) and, for every other function, a plain passthrough.
func (fc *funcCtx) translateRet(bi int, in anvil.Instr) error {
	l := fc.l
	lf := fc.lf
	fn := fc.fn

	if fn.Sig.Async && fn.Kind == anvil.KindAsyncResume {
		self := lf.NewReg()
		lf.Emit(bi, Value{Op: OpLoadLocal, Dst: self, Type: runtimeabi.KindObjPtr, Imm: 0, Pos: in.Pos})
		futOff, _, err := l.fieldOffset(fn.Owner, asyncFutureFieldSlot)
		if err != nil {
			return err
		}
		resOff, _, err := l.fieldOffset(fn.Owner, asyncResultFieldSlot)
		if err != nil {
			return err
		}
		fut := lf.NewReg()
		lf.Emit(bi, Value{Op: OpLoad, Dst: fut, Type: runtimeabi.KindObjPtr, Args: []Reg{self}, Imm: int64(futOff), Pos: in.Pos})
		res := lf.NewReg()
		lf.Emit(bi, Value{Op: OpLoad, Dst: res, Type: runtimeabi.KindObjPtr, Args: []Reg{self}, Imm: int64(resOff), Pos: in.Pos})
		fc.runtimeCall(bi, runtimeabi.FutureComplete, []Reg{fut, res}, runtimeabi.KindVoid, in.Pos)
		lf.Emit(bi, Value{Op: OpRet, Dst: invalidReg, Pos: in.Pos})
		return nil
	}

	if fn.Sig.Async {
		// The async entry constructor (lowerAsyncBody): wrap its raw
		// state-object return value in a Future and install the Future
		// on the object's own reserved field, so resume()'s completion
		// path above can read it back out.
		classID, ok := l.Types.ClassOf(fn.Sig.Ret)
		if !ok {
			return invariantf("lowir: async constructor %q does not return a class", fn.Name)
		}
		raw := fc.val(bi, in.Operands[0])
		fut := fc.runtimeCall(bi, runtimeabi.FutureNew, []Reg{raw}, runtimeabi.KindObjPtr, in.Pos)
		off, scanned, err := l.fieldOffset(classID, asyncFutureFieldSlot)
		if err != nil {
			return err
		}
		fc.store(bi, raw, fut, off, scanned, in.Pos)
		lf.Emit(bi, Value{Op: OpRet, Dst: invalidReg, Args: []Reg{fut}, Pos: in.Pos})
		return nil
	}

	var args []Reg
	if len(in.Operands) > 0 {
		args = []Reg{fc.val(bi, in.Operands[0])}
	}
	lf.Emit(bi, Value{Op: OpRet, Dst: invalidReg, Args: args, Pos: in.Pos})
	return nil
}

// translateYieldSuspend expands (D)'s single high-level suspend
// terminator into the mechanical store-state-and-return sequence
// lower_generators.go's emitYieldSuspend doc comment assigns to (E).
// in.Slot carries the resume-state tag (D) assigned this suspension
// point; the receiver is always local 0, since stateFieldOf's "self"
// local is always the first one a generator/async body declares.
func (fc *funcCtx) translateYieldSuspend(bi int, in anvil.Instr) error {
	l := fc.l
	lf := fc.lf
	self := lf.NewReg()
	lf.Emit(bi, Value{Op: OpLoadLocal, Dst: self, Type: runtimeabi.KindObjPtr, Imm: 0, Pos: in.Pos})
	tag := lf.NewReg()
	lf.Emit(bi, Value{Op: OpConstInt, Dst: tag, Type: runtimeabi.KindI32, Imm: int64(in.Slot), Pos: in.Pos})
	off, _, err := l.fieldOffset(fc.fn.Owner, 0)
	if err != nil {
		return err
	}
	fc.store(bi, self, tag, off, false, in.Pos)
	v := fc.val(bi, in.Operands[0])
	lf.Emit(bi, Value{Op: OpRet, Dst: invalidReg, Args: []Reg{v}, Pos: in.Pos})
	return nil
}

// translateAwaitSuspend mirrors translateYieldSuspend, additionally
// registering the awaited Future's continuation so the runtime knows
// to call back into resume() once it settles; the Future itself was
// already stashed into its own state field by (D)'s emitAwaitSuspend
// before this terminator was emitted.
func (fc *funcCtx) translateAwaitSuspend(bi int, in anvil.Instr) error {
	l := fc.l
	lf := fc.lf
	self := lf.NewReg()
	lf.Emit(bi, Value{Op: OpLoadLocal, Dst: self, Type: runtimeabi.KindObjPtr, Imm: 0, Pos: in.Pos})
	tag := lf.NewReg()
	lf.Emit(bi, Value{Op: OpConstInt, Dst: tag, Type: runtimeabi.KindI32, Imm: int64(in.Slot), Pos: in.Pos})
	off, _, err := l.fieldOffset(fc.fn.Owner, 0)
	if err != nil {
		return err
	}
	fc.store(bi, self, tag, off, false, in.Pos)
	fut := fc.val(bi, in.Operands[0])
	fc.runtimeCall(bi, runtimeabi.FutureRegisterContinuation, []Reg{fut, self}, runtimeabi.KindVoid, in.Pos)
	lf.Emit(bi, Value{Op: OpRet, Dst: invalidReg, Pos: in.Pos})
	return nil
}

// translateCallInterfaceLike special-cases the two dynamic-dispatch
// names with no real lowered implementer (a Future's accessor and
// from_json's per-field reader, both backed directly by the runtime)
// and otherwise builds a per-call-site monomorphic inline cache.
func (fc *funcCtx) translateCallInterfaceLike(bi int, in anvil.Instr) error {
	l := fc.l
	lf := fc.lf
	kind := l.kindOf(in.DstType)

	switch in.Name {
	case "value":
		d := fc.runtimeCall(bi, runtimeabi.FutureValue, fc.vals(bi, in.Operands), kind, in.Pos)
		fc.def(in.Dst, d)
		return nil
	case "json_field":
		d := fc.runtimeCall(bi, runtimeabi.ReflectGet, fc.vals(bi, in.Operands), kind, in.Pos)
		fc.def(in.Dst, d)
		return nil
	}

	arity := len(in.Operands) - 1
	candidates := l.findImplementers(in.Name, arity)
	if len(candidates) == 0 {
		return invariantf("lowir: no implementer found for dynamic call %q/%d", in.Name, arity)
	}

	args := fc.vals(bi, in.Operands)
	paramKinds := make([]runtimeabi.Kind, len(args))
	for i, o := range in.Operands {
		paramKinds[i] = fc.operandKind(o)
	}
	thunkIdx := l.buildDispatchThunk(in.Name, candidates, paramKinds, kind)

	d := invalidReg
	if in.DstType != typectx.Invalid {
		d = lf.NewReg()
	}
	fast := candidates[0]
	lf.Emit(bi, Value{Op: OpCallInlineCache, Dst: d, Type: kind, Args: args, Callee: l.funcIndex[fast.ID], Callee2: thunkIdx, ClassID: fast.Owner, Pos: in.Pos})
	if d != invalidReg {
		fc.def(in.Dst, d)
	}
	return nil
}

// operandKind has no DstType of its own to consult (an Anvil Operand
// carries only a register id), so it falls back to ObjPtr — every
// dynamic-dispatch call's non-receiver arguments are already
// reference-shaped in practice (spec.md's interface-like methods take
// no primitive parameters), and the receiver itself is always ObjPtr.
func (fc *funcCtx) operandKind(o anvil.Operand) runtimeabi.Kind {
	return runtimeabi.KindObjPtr
}

// buildDispatchThunk builds the slow-path synthetic function for one
// OpCallInterfaceLike call site: a chain of class-equality checks, one
// per candidate implementer, each calling straight into that
// candidate and returning; falls to unreachable if none match, which
// the input contract (a typed AST only ever names a dynamically
// dispatched call the resolver proved some class answers) guarantees
// never actually happens at runtime.
func (l *Lowerer) buildDispatchThunk(name string, candidates []*anvil.Function, paramKinds []runtimeabi.Kind, retKind runtimeabi.Kind) int {
	thunk := NewFunc(fmt.Sprintf("%s$dispatch%d", name, l.callSite), paramKinds, retKind)
	l.callSite++

	entry := thunk.NewBlock("entry")
	argRegs := make([]Reg, len(paramKinds))
	for i, k := range paramKinds {
		r := thunk.NewReg()
		thunk.Emit(entry, Value{Op: OpLoadArg, Dst: r, Type: k, Imm: int64(i)})
		argRegs[i] = r
	}

	cur := entry
	for _, cand := range candidates {
		callB := thunk.NewBlock("")
		nextB := thunk.NewBlock("")

		eq := thunk.NewReg()
		thunk.Emit(cur, Value{Op: OpClassEq, Dst: eq, Type: runtimeabi.KindI1, Args: []Reg{argRegs[0]}, ClassID: cand.Owner})
		thunk.Emit(cur, Value{Op: OpBranch, Dst: invalidReg, Args: []Reg{eq}, Targets: []int{callB, nextB}})

		d := invalidReg
		if retKind != runtimeabi.KindVoid {
			d = thunk.NewReg()
		}
		thunk.Emit(callB, Value{Op: OpCallDirect, Dst: d, Type: retKind, Args: argRegs, Callee: l.funcIndex[cand.ID]})
		if d != invalidReg {
			thunk.Emit(callB, Value{Op: OpRet, Dst: invalidReg, Args: []Reg{d}})
		} else {
			thunk.Emit(callB, Value{Op: OpRet, Dst: invalidReg})
		}
		cur = nextB
	}
	thunk.Emit(cur, Value{Op: OpUnreachable, Dst: invalidReg})

	insertSafepoints(thunk)
	thunk.Reorder()
	idx := len(l.mod.Funcs)
	l.mod.AddFunc(thunk)
	return idx
}

// isCallProducing reports whether a LowIR op may transfer control to
// code the GC cannot see a safepoint in, per spec.md §4.E's "after
// every call" rule.
func isCallProducing(op Op) bool {
	switch op {
	case OpCallDirect, OpCallVTable, OpCallInlineCache, OpCallNative, OpRuntimeCall:
		return true
	default:
		return false
	}
}

// insertSafepoints threads OpSafepoint markers through a function's
// blocks, in their pre-Reorder indices, so the ordering pass afterward
// carries them along like any other value: one at function entry, one
// after every call-producing value, and one before any backward
// terminator jump (a loop back-edge's target block index is no greater
// than its source — lowerWhile/lowerForIn always build the condition
// block before the body block, so this needs no dominance analysis).
func insertSafepoints(f *Func) {
	for bi, b := range f.Blocks {
		var out []Value
		for _, v := range b.Instr {
			out = append(out, v)
			if isCallProducing(v.Op) {
				out = append(out, Value{Op: OpSafepoint, Dst: invalidReg})
			}
		}
		if n := len(out); n > 0 {
			last := out[n-1]
			backEdge := false
			for _, t := range last.Targets {
				if t <= bi {
					backEdge = true
					break
				}
			}
			if backEdge {
				out = append(out[:n-1], Value{Op: OpSafepoint, Dst: invalidReg}, last)
			}
		}
		b.Instr = out
	}
	if len(f.Blocks) > 0 {
		b0 := f.Blocks[0]
		b0.Instr = append([]Value{{Op: OpSafepoint, Dst: invalidReg}}, b0.Instr...)
	}
}
