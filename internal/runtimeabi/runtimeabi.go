// Package runtimeabi declares the fixed runtime entry points the
// middle end emits calls to (spec.md §6). The runtime library itself
// (GC, thread pool, channels, futures, FFI resolution) is an external
// collaborator, out of scope; this package only names the ABI surface
// so (E) never references a runtime symbol by a bare, stringly-typed
// name.
//
// Grounded on the teacher's builtin-registration pattern (e.g.
// internal/bytecode/vm_builtins_string.go's `vm.builtins["Copy"] =
// builtinCopy`), generalized from a name-to-implementation map to a
// name-to-signature table, since the middle end only emits calls — it
// never implements the callee.
package runtimeabi

// Kind is a machine-level ABI type: the runtime ABI is described in
// terms of LowIR-level kinds, not Anvil's richer Type universe.
type Kind int

const (
	KindVoid Kind = iota
	KindI1
	KindI8
	KindI32
	KindI64
	KindF32
	KindF64
	KindIntPtr
	KindObjPtr // opaque, GC-managed object pointer
)

var kindNames = [...]string{"void", "i1", "i8", "i32", "i64", "f32", "f64", "intptr", "objptr"}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid_kind"
}

// Symbol is one runtime ABI entry point.
type Symbol struct {
	Name   string
	Params []Kind
	Ret    Kind
}

// The fixed runtime ABI table from spec.md §6. (E) references these by
// Go identifier, never by constructing the Name string itself.
var (
	GCAlloc                     = Symbol{Name: "gc_alloc", Params: []Kind{KindObjPtr}, Ret: KindObjPtr}
	GCWriteBarrier               = Symbol{Name: "gc_write_barrier", Params: []Kind{KindObjPtr, KindI32, KindObjPtr}, Ret: KindVoid}
	ArrayNew                     = Symbol{Name: "array_new", Params: []Kind{KindI32, KindI64}, Ret: KindObjPtr}
	ArrayLen                     = Symbol{Name: "array_len", Params: []Kind{KindObjPtr}, Ret: KindI64}
	ArrayGet                     = Symbol{Name: "array_get", Params: []Kind{KindObjPtr, KindI64}, Ret: KindObjPtr}
	ArraySet                     = Symbol{Name: "array_set", Params: []Kind{KindObjPtr, KindI64, KindObjPtr}, Ret: KindVoid}
	HashNew                      = Symbol{Name: "hash_new", Params: []Kind{KindI32, KindI32}, Ret: KindObjPtr}
	HashGet                      = Symbol{Name: "hash_get", Params: []Kind{KindObjPtr, KindObjPtr}, Ret: KindObjPtr}
	HashSet                      = Symbol{Name: "hash_set", Params: []Kind{KindObjPtr, KindObjPtr, KindObjPtr}, Ret: KindVoid}
	HashLen                      = Symbol{Name: "hash_len", Params: []Kind{KindObjPtr}, Ret: KindI64}
	RangeNew                     = Symbol{Name: "range_new", Params: []Kind{KindI64, KindI64}, Ret: KindObjPtr}
	ArrayIterNew                 = Symbol{Name: "array_iter_new", Params: []Kind{KindObjPtr}, Ret: KindObjPtr}
	ArrayIterHasNext             = Symbol{Name: "array_iter_has_next", Params: []Kind{KindObjPtr}, Ret: KindI1}
	ArrayIterNext                = Symbol{Name: "array_iter_next", Params: []Kind{KindObjPtr}, Ret: KindObjPtr}
	StringNew                    = Symbol{Name: "string_new", Params: []Kind{KindIntPtr, KindI64}, Ret: KindObjPtr}
	StringConcat                 = Symbol{Name: "string_concat", Params: []Kind{KindObjPtr, KindObjPtr}, Ret: KindObjPtr}
	Throw                        = Symbol{Name: "throw", Params: []Kind{KindObjPtr}, Ret: KindVoid}
	Rethrow                      = Symbol{Name: "rethrow", Ret: KindVoid}
	FutureNew                    = Symbol{Name: "future_new", Params: []Kind{KindObjPtr}, Ret: KindObjPtr}
	FutureRegisterContinuation   = Symbol{Name: "future_register_continuation", Params: []Kind{KindObjPtr, KindObjPtr}, Ret: KindVoid}
	FutureComplete               = Symbol{Name: "future_complete", Params: []Kind{KindObjPtr, KindObjPtr}, Ret: KindVoid}
	FutureFail                   = Symbol{Name: "future_fail", Params: []Kind{KindObjPtr, KindObjPtr}, Ret: KindVoid}
	FutureValue                  = Symbol{Name: "future_value", Params: []Kind{KindObjPtr}, Ret: KindObjPtr}
	ChannelNew                   = Symbol{Name: "channel_new", Params: []Kind{KindI64}, Ret: KindObjPtr}
	ChannelSend                  = Symbol{Name: "channel_send", Params: []Kind{KindObjPtr, KindObjPtr}, Ret: KindVoid}
	ChannelReceive               = Symbol{Name: "channel_receive", Params: []Kind{KindObjPtr}, Ret: KindObjPtr}
	ThreadSpawn                  = Symbol{Name: "thread_spawn", Params: []Kind{KindObjPtr}, Ret: KindVoid}
	FFILoadLibrary               = Symbol{Name: "ffi_load_library", Params: []Kind{KindObjPtr}, Ret: KindIntPtr}
	FFIResolve                   = Symbol{Name: "ffi_resolve", Params: []Kind{KindIntPtr, KindObjPtr}, Ret: KindIntPtr}
	ReflectFields                = Symbol{Name: "reflect_fields", Params: []Kind{KindIntPtr}, Ret: KindObjPtr}
	ReflectGet                   = Symbol{Name: "reflect_get", Params: []Kind{KindObjPtr, KindObjPtr}, Ret: KindObjPtr}
)

// All lists every ABI symbol, in the order spec.md §6 lists them. No
// command or test in this module reads it.
var All = []Symbol{
	GCAlloc, GCWriteBarrier,
	ArrayNew, ArrayLen, ArrayGet, ArraySet,
	HashNew, HashGet, HashSet, HashLen,
	RangeNew, ArrayIterNew, ArrayIterHasNext, ArrayIterNext,
	StringNew, StringConcat,
	Throw, Rethrow,
	FutureNew, FutureRegisterContinuation, FutureComplete, FutureFail, FutureValue,
	ChannelNew, ChannelSend, ChannelReceive, ThreadSpawn,
	FFILoadLibrary, FFIResolve,
	ReflectFields, ReflectGet,
}
