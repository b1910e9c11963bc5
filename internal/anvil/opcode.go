// Package anvil implements the Anvil Module (component C): the
// in-memory container for Anvil functions, class references, the
// string/constant pool, and the verifier that must accept every
// output of (D) before (E) may run.
//
// The opcode set below is organized into the families spec.md §4.D
// describes, one doc comment per opcode stating its operand/typing
// contract — directly modeled on the teacher's
// internal/bytecode/instruction.go, even though Anvil operands are
// typed virtual registers rather than byte-coded stack slots.
package anvil

// OpCode identifies an Anvil instruction. Anvil is SSA-like: every
// value-producing opcode defines exactly one typed virtual register;
// terminators, stores and void calls define none.
type OpCode int

const (
	// ========================================================
	// Locals & constants
	// ========================================================

	// OpLoadLocal reads a local slot into a fresh register.
	OpLoadLocal OpCode = iota
	// OpStoreLocal writes a register's value into a local slot.
	OpStoreLocal
	// OpConstInt materializes a constant-pool integer.
	OpConstInt
	// OpConstFloat materializes a constant-pool float/double.
	OpConstFloat
	// OpConstString materializes an interned string-pool index.
	OpConstString
	// OpConstNil materializes the nil constant.
	OpConstNil
	// OpConstClass materializes a class-handle constant.
	OpConstClass
	// OpConstMethod materializes a method-handle constant.
	OpConstMethod

	// ========================================================
	// Arithmetic (integer)
	// ========================================================

	// OpAddInt adds two integer registers; wraps on overflow.
	OpAddInt
	// OpSubInt subtracts two integer registers; wraps on overflow.
	OpSubInt
	// OpMulInt multiplies two integer registers; wraps on overflow.
	OpMulInt
	// OpDivInt divides two integers; traps into DivisionByZeroError when
	// the divisor is zero.
	OpDivInt
	// OpModInt computes the integer remainder; same trap as OpDivInt.
	OpModInt
	// OpNegInt negates an integer register.
	OpNegInt

	// ========================================================
	// Arithmetic (floating point)
	// ========================================================

	// OpAddFloat adds two floating registers.
	OpAddFloat
	// OpSubFloat subtracts two floating registers.
	OpSubFloat
	// OpMulFloat multiplies two floating registers.
	OpMulFloat
	// OpDivFloat divides two floating registers; IEEE-754 semantics
	// (division by zero yields Inf/NaN, never a trap).
	OpDivFloat
	// OpNegFloat negates a floating register.
	OpNegFloat

	// ========================================================
	// Bitwise (integer only)
	// ========================================================

	// OpBitAnd computes a bitwise AND.
	OpBitAnd
	// OpBitOr computes a bitwise OR.
	OpBitOr
	// OpBitXor computes a bitwise XOR.
	OpBitXor
	// OpShl shifts left.
	OpShl
	// OpShr shifts right (arithmetic for signed operands).
	OpShr
	// OpBitNot computes a bitwise complement.
	OpBitNot

	// ========================================================
	// Comparisons
	// ========================================================

	// OpCmpIntEq compares two integers for equality.
	OpCmpIntEq
	// OpCmpIntNe compares two integers for inequality.
	OpCmpIntNe
	// OpCmpIntLt compares two integers, less-than.
	OpCmpIntLt
	// OpCmpIntLe compares two integers, less-or-equal.
	OpCmpIntLe
	// OpCmpIntGt compares two integers, greater-than.
	OpCmpIntGt
	// OpCmpIntGe compares two integers, greater-or-equal.
	OpCmpIntGe
	// OpCmpFloatEq compares two floats for (ordered) equality.
	OpCmpFloatEq
	// OpCmpFloatNe compares two floats for (ordered) inequality.
	OpCmpFloatNe
	// OpCmpFloatLt compares two floats, less-than.
	OpCmpFloatLt
	// OpCmpFloatLe compares two floats, less-or-equal.
	OpCmpFloatLe
	// OpCmpFloatGt compares two floats, greater-than.
	OpCmpFloatGt
	// OpCmpFloatGe compares two floats, greater-or-equal.
	OpCmpFloatGe

	// ========================================================
	// Conversions — all coercions are explicit in Anvil
	// ========================================================

	// OpIToF truncating-safe widen of an integer to a float.
	OpIToF
	// OpFToI truncates a float to an integer.
	OpFToI
	// OpI32ToI64 sign-extends a 32-bit integer to 64 bits.
	OpI32ToI64
	// OpF32ToF64 widens a 32-bit float to 64 bits.
	OpF32ToF64
	// OpBox heap-allocates a boxed primitive for a type-erased generic
	// slot.
	OpBox
	// OpUnbox reads a boxed primitive back out of a type-erased slot.
	OpUnbox

	// ========================================================
	// Object model
	// ========================================================

	// OpNew allocates an instance of a class and runs its initializer.
	OpNew
	// OpGetField reads class/slot from a receiver register.
	OpGetField
	// OpSetField writes class/slot on a receiver register, through a
	// write barrier when the field is reference-typed.
	OpSetField
	// OpCallStatic invokes a method whose target is known at compile
	// time (free functions, constructors, `static` dispatch).
	OpCallStatic
	// OpCallVirtual invokes a fixed v-table slot on a receiver.
	OpCallVirtual
	// OpCallInterfaceLike performs a dynamic (name, arity) method-table
	// lookup, backed by a per-call-site monomorphic inline cache.
	OpCallInterfaceLike
	// OpCallNative invokes a resolved FFI function pointer.
	OpCallNative

	// ========================================================
	// Arrays / Hashes / Ranges
	// ========================================================

	// OpArrayNew allocates a new array of a given element kind/length.
	OpArrayNew
	// OpArrayLen reads an array's length.
	OpArrayLen
	// OpArrayGet reads a bounds-checked array element.
	OpArrayGet
	// OpArraySet writes a bounds-checked array element.
	OpArraySet
	// OpHashNew allocates a new hash.
	OpHashNew
	// OpHashGet reads a hash entry.
	OpHashGet
	// OpHashSet writes a hash entry.
	OpHashSet
	// OpHashLen reads a hash's entry count.
	OpHashLen
	// OpRangeNew constructs a Range value from (low, high) registers.
	OpRangeNew
	// OpArrayIterNew obtains the built-in iterator for an Array/Range.
	OpArrayIterNew
	// OpArrayIterHasNext queries the built-in iterator.
	OpArrayIterHasNext
	// OpArrayIterNext advances the built-in iterator.
	OpArrayIterNext

	// ========================================================
	// Control flow (terminators)
	// ========================================================

	// OpJump unconditionally transfers control.
	OpJump
	// OpCondJump transfers control to one of two blocks based on an i1
	// register.
	OpCondJump
	// OpSwitch transfers control based on an integer tag, used for
	// pattern-match decision trees.
	OpSwitch
	// OpRet returns from the current function, optionally with a value.
	OpRet
	// OpThrow raises an exception object, unwinding the current
	// try-region stack.
	OpThrow
	// OpAwaitSuspend saves live state and registers a continuation with
	// a Future; valid only in async functions.
	OpAwaitSuspend
	// OpYieldSuspend saves live state and returns a yielded value;
	// valid only in generator functions.
	OpYieldSuspend

	// ========================================================
	// Generic dispatch (type erasure)
	// ========================================================

	// OpLoadErased reads a type-erased generic field as a pointer-sized
	// value, reinterpreted per the static type recorded at the use site.
	OpLoadErased
	// OpStoreErased writes a type-erased generic field.
	OpStoreErased

	// ========================================================
	// Closures
	// ========================================================

	// OpNewClosure allocates a synthetic closure object and installs
	// its captured cells.
	OpNewClosure
	// OpLoadCapture reads a captured cell.
	OpLoadCapture
	// OpStoreCapture writes a captured cell (visible to the creator's
	// own locals when the capture mode is ByCell).
	OpStoreCapture

	// ========================================================
	// Strings
	// ========================================================

	// OpStringConcat concatenates two strings, preserving left-to-right
	// evaluation order at the call site that chains them.
	OpStringConcat

	// ========================================================
	// Concurrency primitives (§5/§6)
	// ========================================================

	// OpChannelSend sends a value on a channel.
	OpChannelSend
	// OpChannelReceive receives a value from a channel.
	OpChannelReceive
	// OpThreadSpawn spawns an OS thread running a closure.
	OpThreadSpawn

	// OpNop is a no-op placeholder. Package lower never emits it; it
	// only appears in hand-built functions.
	OpNop

	opCodeCount
)

// terminatorOps is the set of opcodes that may only appear as a basic
// block's final instruction, per the Anvil Function invariant in
// spec.md §3 ("every block ends with exactly one terminator").
var terminatorOps = map[OpCode]bool{
	OpJump:         true,
	OpCondJump:     true,
	OpSwitch:       true,
	OpRet:          true,
	OpThrow:        true,
	OpAwaitSuspend: true,
	OpYieldSuspend: true,
}

// IsTerminator reports whether op may only end a basic block.
func IsTerminator(op OpCode) bool { return terminatorOps[op] }

var opNames = [...]string{
	"load_local", "store_local", "const_int", "const_float", "const_string",
	"const_nil", "const_class", "const_method",
	"add_int", "sub_int", "mul_int", "div_int", "mod_int", "neg_int",
	"add_float", "sub_float", "mul_float", "div_float", "neg_float",
	"bit_and", "bit_or", "bit_xor", "shl", "shr", "bit_not",
	"cmp_int_eq", "cmp_int_ne", "cmp_int_lt", "cmp_int_le", "cmp_int_gt", "cmp_int_ge",
	"cmp_float_eq", "cmp_float_ne", "cmp_float_lt", "cmp_float_le", "cmp_float_gt", "cmp_float_ge",
	"i_to_f", "f_to_i", "i32_to_i64", "f32_to_f64", "box", "unbox",
	"new", "get_field", "set_field", "call_static", "call_virtual", "call_interface_like", "call_native",
	"array_new", "array_len", "array_get", "array_set",
	"hash_new", "hash_get", "hash_set", "hash_len",
	"range_new", "array_iter_new", "array_iter_has_next", "array_iter_next",
	"jump", "cond_jump", "switch", "ret", "throw", "await_suspend", "yield_suspend",
	"load_erased", "store_erased",
	"new_closure", "load_capture", "store_capture",
	"string_concat",
	"channel_send", "channel_receive", "thread_spawn",
	"nop",
}

func (op OpCode) String() string {
	if int(op) >= 0 && int(op) < len(opNames) {
		return opNames[op]
	}
	return "invalid_opcode"
}

func init() {
	if len(opNames) != int(opCodeCount) {
		panic("anvil: opNames is out of sync with the OpCode enum")
	}
}
