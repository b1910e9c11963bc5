// Package lowir implements LowIR, the low-level SSA form (E) ("Anvil →
// LowIR Lowering") produces: machine-level types, explicit pointer
// arithmetic for object-model operations, and direct calls to the
// runtimeabi entry points named in spec.md §6 in place of Anvil's
// higher-level object/array/hash/concurrency opcodes.
//
// Func.Blocks is kept in reverse postorder, computed once after a
// function's instructions are built, the same convention
// golang.org/x/tools/go/ssa gives its own Function.Blocks (see
// ssa.Function.buildReferrers/DomFrontier and the block-numbering
// comments on ssa.BasicBlock) — grounded directly on that reference
// implementation per SPEC_FULL.md §4.E.
package lowir

import (
	"github.com/ember-lang/ember/internal/anvil"
	"github.com/ember-lang/ember/internal/runtimeabi"
	"github.com/ember-lang/ember/internal/typectx"
)

// Op identifies a LowIR instruction. Arithmetic, bitwise and
// comparison opcodes need no mechanical transformation going from
// Anvil to LowIR — only their operand types change from typectx
// Handles to runtimeabi Kinds — so LowIR reuses anvil.OpCode verbatim
// for OpArith rather than re-declaring an identical family under new
// names.
type Op int

const (
	// OpArith carries an embedded anvil.OpCode for every opcode that
	// lowers unchanged: integer/float arithmetic, bitwise, comparison,
	// and the numeric conversions.
	OpArith Op = iota

	// OpConstInt/OpConstFloat/OpConstStr/OpConstNil materialize a
	// Module-level constant-pool entry, mirroring anvil's OpConst family.
	OpConstInt
	OpConstFloat
	OpConstStr
	OpConstNil

	// OpLoadArg reads one of the function's incoming arguments into the
	// local slot bound to that parameter, at function entry.
	OpLoadArg
	// OpLoadLocal/OpStoreLocal read and write a function-local slot.
	// LowIR keeps Anvil's mutable-local model rather than performing
	// full SSA renaming with dominance-frontier phi placement — see
	// DESIGN.md for why that further step is out of scope here; every
	// other LowIR value remains single-assignment.
	OpLoadLocal
	OpStoreLocal

	// OpAlloc lowers Anvil's OpNew: an runtime_gc_alloc call sized and
	// typed from the class's LayoutDescriptor, followed by installing
	// the v-table pointer in the object header.
	OpAlloc
	// OpLoad reads a typed value at Imm bytes from a pointer
	// operand — the mechanical form of OpGetField/array/hash element
	// reads once layout has fixed a byte offset.
	OpLoad
	// OpStore writes a typed value at Imm bytes from a pointer
	// operand — OpSetField's mechanical form. Emits a trailing
	// OpWriteBarrier of its own accord when the stored value is a
	// reference type (the verifier guarantees Anvil's SetField already
	// enforces this only on reference-typed fields).
	OpStore
	// OpWriteBarrier calls runtime_gc_write_barrier after a reference
	// field store.
	OpWriteBarrier

	// OpCallDirect calls a statically-known LowIR function by Callee.
	OpCallDirect
	// OpCallVTable loads the callee from the receiver's v-table at
	// Imm (a slot index, not a byte offset) and calls it indirectly.
	OpCallVTable
	// OpCallInlineCache performs a monomorphic inline-cache dispatch:
	// compare the receiver's class-id against a cached class, direct
	// call on hit, fall through to OpCallVTable-style slow path
	// (represented here as a second, uncached OpCallVTable-equivalent
	// target referenced by Callee2) on miss.
	OpCallInlineCache
	// OpCallNative loads a resolved FFI function pointer via
	// ffi_resolve (cached per call site, same as an inline cache with
	// one entry) and calls it indirectly.
	OpCallNative

	// OpRuntimeCall invokes one of the fixed runtimeabi.Symbol entry
	// points.
	OpRuntimeCall

	// OpJump, OpBranch, OpSwitch, OpRet, OpThrow, OpUnreachable are
	// LowIR's terminators — one per basic block, same discipline as
	// Anvil.
	OpJump
	OpBranch
	OpSwitch
	OpRet
	OpThrow
	OpUnreachable

	// OpClassEq compares an object's stored class-id header field
	// against an immediate ClassID — the mechanical form of a catch
	// clause's runtime type test.
	OpClassEq

	// OpSafepoint marks a GC safepoint: function prologue, loop
	// back-edge, or call site, per spec.md §4.E.
	OpSafepoint

	opCount
)

var opNames = [...]string{
	"arith", "const_int", "const_float", "const_str", "const_nil", "load_arg", "load_local", "store_local",
	"alloc", "load", "store", "write_barrier",
	"call_direct", "call_vtable", "call_inline_cache", "call_native",
	"runtime_call",
	"jump", "branch", "switch", "ret", "throw", "unreachable",
	"class_eq", "safepoint",
}

func (op Op) String() string {
	if int(op) >= 0 && int(op) < len(opNames) {
		return opNames[op]
	}
	return "invalid_op"
}

func init() {
	if len(opNames) != int(opCount) {
		panic("lowir: opNames is out of sync with the Op enum")
	}
}

// Reg is a LowIR value id: the destination of the instruction that
// defined it, unique within a Func.
type Reg int

const invalidReg Reg = -1

// Value is one LowIR instruction.
type Value struct {
	Op   Op
	Dst  Reg
	Type runtimeabi.Kind
	Args []Reg

	Imm int64 // immediate integer: constant value, byte/slot offset, switch tag count
	Str string
	Sym *runtimeabi.Symbol

	Callee  int // Func index within the owning Module, for OpCallDirect
	Callee2 int // fallback Func index (inline-cache slow path)

	ClassID typectx.ClassID
	AnvilOp anvil.OpCode // embedded opcode for OpArith

	Targets []int // successor block indices, terminators only
	Pos     anvil.Pos
}

// Block is a LowIR basic block.
type Block struct {
	Label string
	Instr []Value
}

// CatchHandler mirrors anvil.CatchHandler: a caught type paired with
// the block that handles it.
type CatchHandler struct {
	CatchType typectx.ClassID
	Handler   int
}

// TryRegion is the LowIR counterpart of anvil.TryRegion. Anvil models a
// region as a contiguous [Start, End) block range because its own
// block order never changes after (D) emits it; LowIR blocks are
// reordered into reverse postorder by Reorder, which does not in
// general keep a region's member blocks contiguous, so TryRegion
// instead names its member blocks explicitly. The actual catch
// dispatch (matching the thrown object's class against Handlers) is
// left to the runtime's stack unwinder, which consults this metadata
// out of band — (E) only threads it through unchanged.
type TryRegion struct {
	Blocks   []int
	Handlers []CatchHandler
	Parent   int
}

// Func is one LowIR function.
type Func struct {
	Name   string
	Params []runtimeabi.Kind
	Ret    runtimeabi.Kind
	Async  bool
	Gen    bool

	Blocks     []*Block
	Locals     []runtimeabi.Kind
	TryRegions []TryRegion

	nextReg Reg
}

// NewLocal declares a new mutable local slot of kind k, returning its
// index. Locals are addressed by OpLoadLocal/OpStoreLocal's Imm field.
func (f *Func) NewLocal(k runtimeabi.Kind) int {
	f.Locals = append(f.Locals, k)
	return len(f.Locals) - 1
}

// NewFunc creates an empty Func.
func NewFunc(name string, params []runtimeabi.Kind, ret runtimeabi.Kind) *Func {
	return &Func{Name: name, Params: params, Ret: ret}
}

// NewReg allocates a fresh value id.
func (f *Func) NewReg() Reg {
	r := f.nextReg
	f.nextReg++
	return r
}

// NewBlock appends and returns the index of a new, empty block.
func (f *Func) NewBlock(label string) int {
	f.Blocks = append(f.Blocks, &Block{Label: label})
	return len(f.Blocks) - 1
}

// Emit appends instr to the block at index i.
func (f *Func) Emit(i int, instr Value) {
	f.Blocks[i].Instr = append(f.Blocks[i].Instr, instr)
}

// Reorder replaces f.Blocks with its reverse-postorder traversal from
// block 0, the ordering convention named in the package doc comment,
// and rewrites every terminator's Targets and every TryRegion's block
// references to the new indices. Unreachable blocks (never produced by
// a well-formed (D) lowering, but possible from a hand-built test
// fixture) are dropped silently, matching ssa.Function's own "blocks
// reachable from Blocks[0]" model.
func (f *Func) Reorder() {
	order, oldToNew := reversePostorder(f.Blocks)
	for _, b := range order {
		if len(b.Instr) == 0 {
			continue
		}
		last := &b.Instr[len(b.Instr)-1]
		for i, t := range last.Targets {
			last.Targets[i] = oldToNew[t]
		}
	}
	for ri := range f.TryRegions {
		tr := &f.TryRegions[ri]
		for i, b := range tr.Blocks {
			tr.Blocks[i] = oldToNew[b]
		}
		for hi := range tr.Handlers {
			tr.Handlers[hi].Handler = oldToNew[tr.Handlers[hi].Handler]
		}
	}
	f.Blocks = order
}

func successors(b *Block) []int {
	if len(b.Instr) == 0 {
		return nil
	}
	return b.Instr[len(b.Instr)-1].Targets
}

// reversePostorder returns blocks in reverse-postorder from index 0,
// along with the old-index -> new-index permutation that produced it.
func reversePostorder(blocks []*Block) ([]*Block, []int) {
	oldToNew := make([]int, len(blocks))
	if len(blocks) == 0 {
		return blocks, oldToNew
	}
	visited := make([]bool, len(blocks))
	var postorder []int
	var visit func(i int)
	visit = func(i int) {
		if i < 0 || i >= len(blocks) || visited[i] {
			return
		}
		visited[i] = true
		for _, s := range successors(blocks[i]) {
			visit(s)
		}
		postorder = append(postorder, i)
	}
	visit(0)

	order := make([]*Block, len(postorder))
	for newIdx := range postorder {
		oldIdx := postorder[len(postorder)-1-newIdx]
		order[newIdx] = blocks[oldIdx]
		oldToNew[oldIdx] = newIdx
	}
	return order, oldToNew
}

// Module is a complete LowIR program: every function reachable from
// the Anvil module (E) lowered, plus the shared constant pool.
type Module struct {
	Funcs []*Func

	strings  []string
	strIndex map[string]int
}

// NewModule creates an empty Module.
func NewModule() *Module {
	return &Module{strIndex: make(map[string]int)}
}

// AddFunc appends fn to the module.
func (m *Module) AddFunc(fn *Func) { m.Funcs = append(m.Funcs, fn) }

// InternString dedups a string into the module's constant pool,
// returning its index.
func (m *Module) InternString(s string) int {
	if i, ok := m.strIndex[s]; ok {
		return i
	}
	i := len(m.strings)
	m.strings = append(m.strings, s)
	m.strIndex[s] = i
	return i
}

// StringAt returns the interned string at index i.
func (m *Module) StringAt(i int) string { return m.strings[i] }
