// Package lower implements AST → Anvil Lowering (component D): it
// walks a typedast.Program and produces an anvil.Module ready for (C)'s
// verifier. Lowering proceeds function by function; expression lowering
// returns a register, and statement lowering threads the current basic
// block the way the teacher's bytecode.Compiler threads its current
// chunk (compiler_expressions.go, compiler_statements.go).
package lower

import (
	"fmt"

	"github.com/ember-lang/ember/internal/anvil"
	"github.com/ember-lang/ember/internal/errors"
	"github.com/ember-lang/ember/internal/resolver"
	"github.com/ember-lang/ember/internal/typectx"
	"github.com/ember-lang/ember/internal/typedast"
)

// ErrUnsupported wraps a recognized-but-not-lowered construct so
// callers can errors.As to it rather than string-match the message.
type ErrUnsupported struct{ *errors.CompilerError }

func (e *ErrUnsupported) Unwrap() error { return e.CompilerError }

func unsupportedf(pos typedast.Position, format string, args ...interface{}) error {
	return &ErrUnsupported{errors.NewKindError(errors.Unsupported, errors.Position{Line: pos.Line, Column: pos.Col}, fmt.Sprintf(format, args...))}
}

func invariantf(format string, args ...interface{}) error {
	return errors.NewKindError(errors.InternalInvariant, errors.Position{}, fmt.Sprintf(format, args...))
}

// Lowerer lowers one typedast.Program into an anvil.Module.
//
// syntheticFuncBase is the first FuncID handed out to a lowerer-created
// body (closure call, generator next/resume, async resume, to_json/
// from_json, FFI thunk) — typedast's own FuncIDs are assumed, per the
// "input to the middle end" contract, to be dense from 0, so starting
// synthetic IDs far above any realistic program keeps the two spaces
// from colliding without the resolver having to pre-reserve a range.
const syntheticFuncBase typectx.FuncID = 1 << 20

type Lowerer struct {
	Types *typectx.Context
	Syms  *resolver.Resolver
	Mod   *anvil.Module

	fn        *anvil.Function
	cur       int
	localSlot map[int]int // typedast local slot -> anvil.Function local index

	nextSynthetic   typectx.FuncID
	nextSynthClass  typectx.ClassID
	synthetic       []*anvil.Function

	// closureCaptures tracks, innermost last, the closure-call frames
	// currently being lowered, so a LocalRef inside a nested closure
	// body that actually names an outer capture resolves to
	// load_capture(self, slot) instead of a plain local load.
	closureCaptures []closureFrame

	// finallyStack holds one emitter per Try/Using currently lexically
	// enclosing the statement being lowered, innermost last. Each
	// emitter lowers its Finally (or synthesizes a dispose() call, for
	// Using) into the current block. Every Return/Throw re-runs this
	// chain before its terminator, since Anvil has no nonlocal-transfer
	// opcode to run it implicitly on unwind (spec.md §4.D). A function
	// value rather than a *typedast.Block so Using's synthetic
	// dispose() finally needs no synthetic typedast node.
	finallyStack []func() error

	// tryParent is the index into fn.TryRegions of the region
	// currently being lowered, or -1 at the top level.
	tryParent int

	// stateFrame is non-nil while lowering the body of a generator's
	// next() or an async function's resume() method: every local read
	// or write is redirected through a field on the synthetic state-
	// machine object instead of an ordinary Anvil local, since a local
	// must survive a yield/await suspension point (spec.md §4.D,
	// glossary "State machine lowering").
	stateFrame *stateFrame
}

// New creates a Lowerer. syms may be nil only for tests that lower
// class-free programs (field/virtual-call lowering needs a resolved
// ClassDescriptor to find slots and v-table indices).
func New(types *typectx.Context, syms *resolver.Resolver) *Lowerer {
	return &Lowerer{
		Types:         types,
		Syms:          syms,
		Mod:           anvil.NewModule(types),
		nextSynthetic: syntheticFuncBase,
	}
}

// LowerProgram lowers every free function and every class's methods
// into l.Mod, appending any synthetic bodies (closures, generator/async
// state machines, serializers, FFI thunks) created along the way.
func (l *Lowerer) LowerProgram(prog *typedast.Program) error {
	for _, fd := range prog.Functions {
		fn, err := l.lowerTopLevelFunction(fd)
		if err != nil {
			return err
		}
		l.Mod.AddFunction(fn)
	}
	for _, cd := range prog.Classes {
		if err := l.lowerClass(cd); err != nil {
			return err
		}
	}
	for _, fn := range l.synthetic {
		l.Mod.AddFunction(fn)
	}
	return nil
}

func (l *Lowerer) freshSyntheticID() typectx.FuncID {
	id := l.nextSynthetic
	l.nextSynthetic++
	return id
}

func (l *Lowerer) addSynthetic(fn *anvil.Function) {
	l.synthetic = append(l.synthetic, fn)
}

// --- small emission helpers threaded through every lower_*.go file ---

func (l *Lowerer) emit(instr anvil.Instr) {
	l.fn.Emit(l.cur, instr)
}

func (l *Lowerer) newReg() anvil.Register { return l.fn.NewRegister() }

func (l *Lowerer) newBlock(label string) int { return l.fn.NewBlock(label) }

func (l *Lowerer) setBlock(b int) { l.cur = b }

// slotOf maps a typedast local slot to this function's Anvil local
// index, declaring it on first use (covers params already declared by
// lowerSignature and LocalDecl/ForIn/catch/using binder slots declared
// lazily as control flow reaches them).
func (l *Lowerer) slotOf(astSlot int, t typectx.Handle, name string) int {
	if s, ok := l.localSlot[astSlot]; ok {
		return s
	}
	s := l.fn.NewLocal(name, t)
	l.localSlot[astSlot] = s
	return s
}

func pos(p typedast.Position) anvil.Pos { return anvil.Pos{Line: p.Line, Col: p.Col} }
