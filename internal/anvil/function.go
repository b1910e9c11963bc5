package anvil

import "github.com/ember-lang/ember/internal/typectx"

// BasicBlock is a list of instructions ending in exactly one
// terminator (spec.md §3).
type BasicBlock struct {
	Label string
	Instr []Instr
}

// Terminator returns the block's final instruction, or the zero Instr
// if the block is empty (a verifier error by itself).
func (b *BasicBlock) Terminator() (Instr, bool) {
	if len(b.Instr) == 0 {
		return Instr{}, false
	}
	return b.Instr[len(b.Instr)-1], true
}

// CatchHandler pairs a catch type with the block that handles it.
type CatchHandler struct {
	CatchType typectx.ClassID
	Handler   int // block index
}

// TryRegion is a contiguous span of blocks ([Start, End)) guarded by an
// ordered list of (catch-type, handler-block) pairs, per spec.md §4.D.
// Try-regions form a properly nested forest: Parent is -1 for a
// top-level region.
type TryRegion struct {
	Start, End int
	Handlers   []CatchHandler
	Parent     int // index into Function.TryRegions, or -1
}

// Kind distinguishes a method body from a free function or a synthetic
// body the lowerer generated (closure call, generator next, async
// resume, to_json/from_json, FFI thunk).
type Kind int

const (
	KindFunction Kind = iota
	KindMethod
	KindClosureCall
	KindGeneratorNext
	KindAsyncResume
	KindSerializer
	KindFFIThunk
)

// Signature is a Function's externally visible shape.
type Signature struct {
	Params []typectx.Handle
	Ret    typectx.Handle // typectx.Invalid for a procedure
	Async  bool
	Gen    bool // generator (has yield)
}

// Function is one Anvil function: locals, basic blocks, and the
// try-region forest describing its exception handlers.
type Function struct {
	ID        typectx.FuncID
	Name      string
	Kind      Kind
	Owner     typectx.ClassID // owning class, for methods/synthetic bodies
	Sig       Signature
	Locals    []Local
	Blocks    []*BasicBlock
	TryRegions []TryRegion

	nextReg Register
}

// NewFunction creates an empty Function ready to receive blocks.
func NewFunction(id typectx.FuncID, name string, kind Kind, sig Signature) *Function {
	return &Function{ID: id, Name: name, Kind: kind, Sig: sig}
}

// NewLocal appends a typed local and returns its slot index.
func (f *Function) NewLocal(name string, t typectx.Handle) int {
	f.Locals = append(f.Locals, Local{Name: name, Type: t})
	return len(f.Locals) - 1
}

// NewRegister allocates a fresh virtual register.
func (f *Function) NewRegister() Register {
	r := f.nextReg
	f.nextReg++
	return r
}

// NewBlock appends and returns a new, empty basic block.
func (f *Function) NewBlock(label string) int {
	f.Blocks = append(f.Blocks, &BasicBlock{Label: label})
	return len(f.Blocks) - 1
}

// Block returns the block at index i.
func (f *Function) Block(i int) *BasicBlock { return f.Blocks[i] }

// Emit appends instr to the block at index i.
func (f *Function) Emit(i int, instr Instr) {
	f.Blocks[i].Instr = append(f.Blocks[i].Instr, instr)
}
