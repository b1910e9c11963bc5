// Package typectx implements the Anvil Type Context: a canonicalized
// universe of Type values shared by every other middle-end component.
//
// Types are interned: two Types are equal iff their Handles are equal.
// The Context owns all interning state; callers pass around the
// lightweight, copyable Handle rather than pointers, so cyclic
// references between classes, generic instantiations and function
// signatures never need an owning pointer — only a stable integer
// token, the same arena-and-handle discipline the teacher compiler
// uses to break AST/symbol-table/type cycles.
package typectx

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Kind identifies which Type variant a Handle resolves to.
type Kind int

const (
	KindPrimitive Kind = iota
	KindClass
	KindGenericInstance
	KindFunction
	KindArray
	KindHash
	KindRange
	KindTuple
	KindBlock
	KindChannel
	KindFuture
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "Primitive"
	case KindClass:
		return "Class"
	case KindGenericInstance:
		return "GenericInstance"
	case KindFunction:
		return "Function"
	case KindArray:
		return "Array"
	case KindHash:
		return "Hash"
	case KindRange:
		return "Range"
	case KindTuple:
		return "Tuple"
	case KindBlock:
		return "Block"
	case KindChannel:
		return "Channel"
	case KindFuture:
		return "Future"
	default:
		return "Unknown"
	}
}

// PrimitiveKind enumerates Ember's machine-level scalar types.
type PrimitiveKind int

const (
	I1 PrimitiveKind = iota
	I8
	I32
	I64
	F32
	F64
	NilKind
	IntPtr
)

var primitiveNames = [...]string{"i1", "i8", "i32", "i64", "f32", "f64", "nil", "intptr"}

func (p PrimitiveKind) String() string {
	if int(p) < len(primitiveNames) {
		return primitiveNames[p]
	}
	return "invalid-primitive"
}

// ClassID identifies a class descriptor owned by package resolver.
// The type context stores only the id (never a *ClassDescriptor
// pointer) so component A never needs to import component B.
type ClassID int32

// FuncID identifies an Anvil function. It is allocated by the resolver
// when a method or free function is first discovered and later reused
// as the id of the Anvil function (D) emits for it, so (B), (D) and (E)
// can all refer to "the body of this method" without importing each
// other's package — another instance of the handle-not-pointer
// discipline used throughout the middle end.
type FuncID int32

// Handle is a lightweight, comparable token for an interned Type.
type Handle int32

// Invalid is returned by lookups that found nothing.
const Invalid Handle = -1

// Effects records the effect row on a Function type.
type Effects struct {
	Throws bool
	Async  bool
}

// BlockCaptureShape names the synthetic capture-cell layout of a block
// (closure) literal's Type, assigned by the resolver's capture analysis.
// Two blocks with identical parameter/return types but different capture
// shapes are still distinct Types, since (D) allocates a distinct
// synthetic class per capture shape.
type BlockCaptureShape string

type typeData struct {
	kind     Kind
	prim     PrimitiveKind
	class    ClassID
	args     []Handle // GenericInstance type arguments
	params   []Handle // Function/Block parameter types
	ret      Handle   // Function/Block return, Array/Hash/Channel/Future element
	effects  Effects
	hashVal  Handle // Hash value type (ret holds the key type)
	tupleEls []Handle
	capture  BlockCaptureShape
}

func (d typeData) key() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|", d.kind)
	switch d.kind {
	case KindPrimitive:
		fmt.Fprintf(&b, "%d", d.prim)
	case KindClass:
		fmt.Fprintf(&b, "%d", d.class)
	case KindGenericInstance:
		fmt.Fprintf(&b, "%d/%v", d.class, d.args)
	case KindFunction, KindBlock:
		fmt.Fprintf(&b, "%v/%d/%v/%s", d.params, d.ret, d.effects, d.capture)
	case KindArray, KindChannel, KindFuture:
		fmt.Fprintf(&b, "%d", d.ret)
	case KindHash:
		fmt.Fprintf(&b, "%d/%d", d.ret, d.hashVal)
	case KindTuple:
		fmt.Fprintf(&b, "%v", d.tupleEls)
	case KindRange:
		// singleton
	}
	return b.String()
}

// LayoutKind is one of the four ClassDescriptor layout strategies.
type LayoutKind int

const (
	LayoutObject LayoutKind = iota
	LayoutStruct
	LayoutPacked
	LayoutUnion
)

// FieldLayout is one field's placement within a class's byte layout.
type FieldLayout struct {
	Name    string
	Type    Handle
	Offset  int
	Scanned bool // false for IntPtr and other non-GC-managed slots
}

// LayoutDescriptor is the materialized byte layout of a class, computed
// by the resolver and cached on the Context the first time it is asked
// for (lazy, memoized — §4.A of SPEC_FULL.md).
type LayoutDescriptor struct {
	Kind   LayoutKind
	Size   int
	Align  int
	Fields []FieldLayout
}

// ClassHierarchy is implemented by package resolver. The type context
// needs parent-chain information to answer nominal subtyping queries,
// but components are specified leaves-first (A has no knowledge of B),
// so the dependency is inverted through this small interface instead of
// an import cycle.
type ClassHierarchy interface {
	ParentOf(ClassID) (ClassID, bool)
}

// Context interns Types and answers subtyping/layout queries about them.
// It is not safe for concurrent use; §5 of SPEC_FULL.md documents that
// the middle end is single-threaded and a Context is mutated only by
// the resolver and lowerers, never concurrently, so no locking is added.
type Context struct {
	data  []typeData
	index map[string]Handle

	classNames map[ClassID]string
	layouts    map[ClassID]*LayoutDescriptor
	hierarchy  ClassHierarchy

	// cached primitive handles, populated lazily on first use.
	primitives [len(primitiveNames)]Handle
}

// New creates an empty Type Context.
func New() *Context {
	c := &Context{
		index:      make(map[string]Handle),
		classNames: make(map[ClassID]string),
		layouts:    make(map[ClassID]*LayoutDescriptor),
	}
	for i := range c.primitives {
		c.primitives[i] = Invalid
	}
	return c
}

// SetHierarchy wires the symbol resolver's class hierarchy into the
// context so SubtypeOf/CommonSuper can walk parent chains.
func (c *Context) SetHierarchy(h ClassHierarchy) { c.hierarchy = h }

func (c *Context) intern(d typeData) Handle {
	k := d.key()
	if h, ok := c.index[k]; ok {
		return h
	}
	h := Handle(len(c.data))
	c.data = append(c.data, d)
	c.index[k] = h
	return h
}

func (c *Context) lookup(h Handle) typeData {
	if h < 0 || int(h) >= len(c.data) {
		panic(fmt.Sprintf("typectx: invalid handle %d", h))
	}
	return c.data[h]
}

// Primitive interns (or returns the cached) Handle for a primitive kind.
func (c *Context) Primitive(k PrimitiveKind) Handle {
	if int(k) < len(c.primitives) && c.primitives[k] != Invalid {
		return c.primitives[k]
	}
	h := c.intern(typeData{kind: KindPrimitive, prim: k})
	if int(k) < len(c.primitives) {
		c.primitives[k] = h
	}
	return h
}

// RegisterClassName associates a display name with a ClassID. Must be
// called by the resolver before a class's Type is ever stringified.
func (c *Context) RegisterClassName(id ClassID, name string) {
	c.classNames[id] = norm.NFC.String(name)
}

// Class interns the Handle for a (non-generic) class type.
func (c *Context) Class(id ClassID) Handle {
	return c.intern(typeData{kind: KindClass, class: id})
}

// GenericInstance interns Box<T1,...,Tn>-shaped types. Per the erasure
// invariant in §4.D, distinct instantiations are distinct Types (so
// static sites can reinterpret correctly) even though (E) gives them
// byte-identical layouts.
func (c *Context) GenericInstance(id ClassID, args []Handle) Handle {
	cp := append([]Handle(nil), args...)
	return c.intern(typeData{kind: KindGenericInstance, class: id, args: cp})
}

// Function interns a function signature type.
func (c *Context) Function(params []Handle, ret Handle, fx Effects) Handle {
	cp := append([]Handle(nil), params...)
	return c.intern(typeData{kind: KindFunction, params: cp, ret: ret, effects: fx})
}

// Array interns `array of elem`.
func (c *Context) Array(elem Handle) Handle {
	return c.intern(typeData{kind: KindArray, ret: elem})
}

// Hash interns `hash of key to value`.
func (c *Context) Hash(key, value Handle) Handle {
	return c.intern(typeData{kind: KindHash, ret: key, hashVal: value})
}

// Range interns the singleton Range type.
func (c *Context) Range() Handle {
	return c.intern(typeData{kind: KindRange})
}

// Tuple interns a fixed-arity tuple type.
func (c *Context) Tuple(elems []Handle) Handle {
	cp := append([]Handle(nil), elems...)
	return c.intern(typeData{kind: KindTuple, tupleEls: cp})
}

// Block interns a block-literal (closure) type, distinguished from a
// plain Function type by its capture shape.
func (c *Context) Block(params []Handle, ret Handle, capture BlockCaptureShape) Handle {
	cp := append([]Handle(nil), params...)
	return c.intern(typeData{kind: KindBlock, params: cp, ret: ret, capture: capture})
}

// Channel interns `channel of elem`.
func (c *Context) Channel(elem Handle) Handle {
	return c.intern(typeData{kind: KindChannel, ret: elem})
}

// Future interns `future of elem`.
func (c *Context) Future(elem Handle) Handle {
	return c.intern(typeData{kind: KindFuture, ret: elem})
}

// Kind reports the variant of the Type behind h.
func (c *Context) Kind(h Handle) Kind { return c.lookup(h).kind }

// ClassOf returns the ClassID behind a Class or GenericInstance handle.
func (c *Context) ClassOf(h Handle) (ClassID, bool) {
	d := c.lookup(h)
	if d.kind == KindClass || d.kind == KindGenericInstance {
		return d.class, true
	}
	return 0, false
}

// GenericArgs returns the type arguments of a GenericInstance handle.
func (c *Context) GenericArgs(h Handle) []Handle {
	d := c.lookup(h)
	if d.kind != KindGenericInstance {
		return nil
	}
	return d.args
}

// FunctionParts returns the parameter types, return type and effects of
// a Function or Block handle.
func (c *Context) FunctionParts(h Handle) (params []Handle, ret Handle, fx Effects) {
	d := c.lookup(h)
	return d.params, d.ret, d.effects
}

// ElemOf returns the element type of an Array, Channel or Future handle.
func (c *Context) ElemOf(h Handle) Handle {
	d := c.lookup(h)
	switch d.kind {
	case KindArray, KindChannel, KindFuture:
		return d.ret
	default:
		return Invalid
	}
}

// HashParts returns the key and value types of a Hash handle.
func (c *Context) HashParts(h Handle) (key, value Handle) {
	d := c.lookup(h)
	return d.ret, d.hashVal
}

// TupleElems returns the element types of a Tuple handle.
func (c *Context) TupleElems(h Handle) []Handle {
	return c.lookup(h).tupleEls
}

// Equals reports whether two handles denote the same interned Type.
// Per the data-model invariant, this is exactly handle equality.
func (c *Context) Equals(a, b Handle) bool { return a == b }

// SubtypeOf reports whether a is a subtype of b, per §4.A:
//   - primitives are subtypes only of themselves, IntPtr included (never
//     implicitly convertible to or from anything else);
//   - Nil is a subtype of any class-typed slot;
//   - Class is nominal, walked through the resolver's hierarchy;
//   - GenericInstance is nominal *and* requires identical type arguments
//     at every step of the walk (no variance — SPEC_FULL.md open-question
//     ledger);
//   - every other kind reduces to Equals, since interning already
//     deduplicates structurally identical composite types.
func (c *Context) SubtypeOf(a, b Handle) bool {
	if a == b {
		return true
	}
	da, db := c.lookup(a), c.lookup(b)

	if da.kind == KindPrimitive && da.prim == NilKind && (db.kind == KindClass || db.kind == KindGenericInstance) {
		return true
	}
	if da.kind == KindPrimitive || db.kind == KindPrimitive {
		return false
	}
	if da.kind == KindClass && db.kind == KindClass {
		return c.classIsAncestor(da.class, db.class)
	}
	if da.kind == KindGenericInstance && db.kind == KindGenericInstance {
		if len(da.args) != len(db.args) {
			return false
		}
		for i := range da.args {
			if da.args[i] != db.args[i] {
				return false
			}
		}
		return c.classIsAncestor(da.class, db.class)
	}
	return false
}

func (c *Context) classIsAncestor(child, ancestor ClassID) bool {
	if child == ancestor {
		return true
	}
	if c.hierarchy == nil {
		return false
	}
	cur := child
	for {
		parent, ok := c.hierarchy.ParentOf(cur)
		if !ok {
			return false
		}
		if parent == ancestor {
			return true
		}
		cur = parent
	}
}

// CommonSuper returns the nearest common ancestor Type of a and b, or
// Invalid if none exists (including across different Kinds).
func (c *Context) CommonSuper(a, b Handle) Handle {
	if a == b {
		return a
	}
	da, db := c.lookup(a), c.lookup(b)
	if da.kind != KindClass || db.kind != KindClass || c.hierarchy == nil {
		return Invalid
	}
	seen := map[ClassID]bool{da.class: true}
	for cur := da.class; ; {
		parent, ok := c.hierarchy.ParentOf(cur)
		if !ok {
			break
		}
		seen[parent] = true
		cur = parent
	}
	for cur := db.class; ; {
		if seen[cur] {
			return c.Class(cur)
		}
		parent, ok := c.hierarchy.ParentOf(cur)
		if !ok {
			return Invalid
		}
		cur = parent
	}
}

// SetLayout records the materialized layout for a class, computed by
// the resolver (§4.A).
func (c *Context) SetLayout(id ClassID, layout *LayoutDescriptor) {
	c.layouts[id] = layout
}

// LayoutOf returns the previously-registered layout for a class.
func (c *Context) LayoutOf(id ClassID) (*LayoutDescriptor, bool) {
	l, ok := c.layouts[id]
	return l, ok
}

// String renders a Handle in the display form used by the Anvil and
// LowIR dump formats (§6).
func (c *Context) String(h Handle) string {
	if h < 0 || int(h) >= len(c.data) {
		return "<invalid>"
	}
	d := c.data[h]
	switch d.kind {
	case KindPrimitive:
		return d.prim.String()
	case KindClass:
		return c.className(d.class)
	case KindGenericInstance:
		args := make([]string, len(d.args))
		for i, a := range d.args {
			args[i] = c.String(a)
		}
		return fmt.Sprintf("%s<%s>", c.className(d.class), strings.Join(args, ", "))
	case KindFunction, KindBlock:
		params := make([]string, len(d.params))
		for i, p := range d.params {
			params[i] = c.String(p)
		}
		ret := "Void"
		if d.ret != Invalid {
			ret = c.String(d.ret)
		}
		suffix := ""
		if d.effects.Throws {
			suffix += " throws"
		}
		if d.effects.Async {
			suffix += " async"
		}
		prefix := ""
		if d.kind == KindBlock {
			prefix = "block "
		}
		return fmt.Sprintf("%s(%s) -> %s%s", prefix, strings.Join(params, ", "), ret, suffix)
	case KindArray:
		return fmt.Sprintf("array of %s", c.String(d.ret))
	case KindHash:
		return fmt.Sprintf("hash of %s to %s", c.String(d.ret), c.String(d.hashVal))
	case KindRange:
		return "range"
	case KindTuple:
		els := make([]string, len(d.tupleEls))
		for i, e := range d.tupleEls {
			els[i] = c.String(e)
		}
		return fmt.Sprintf("(%s)", strings.Join(els, ", "))
	case KindChannel:
		return fmt.Sprintf("channel of %s", c.String(d.ret))
	case KindFuture:
		return fmt.Sprintf("future of %s", c.String(d.ret))
	default:
		return "<unknown>"
	}
}

func (c *Context) className(id ClassID) string {
	if n, ok := c.classNames[id]; ok {
		return n
	}
	return fmt.Sprintf("class#%d", id)
}

// IsNumeric reports whether h denotes an integer or floating primitive.
func (c *Context) IsNumeric(h Handle) bool {
	d := c.lookup(h)
	if d.kind != KindPrimitive {
		return false
	}
	switch d.prim {
	case I8, I32, I64, F32, F64:
		return true
	default:
		return false
	}
}

// IsInteger reports whether h denotes an integer primitive (excluding i1).
func (c *Context) IsInteger(h Handle) bool {
	d := c.lookup(h)
	if d.kind != KindPrimitive {
		return false
	}
	switch d.prim {
	case I8, I32, I64:
		return true
	default:
		return false
	}
}

// PrimitiveKindOf returns the PrimitiveKind behind a primitive handle.
// Callers must only pass handles with Kind(h) == KindPrimitive; used by
// (E) to pick the machine-level runtimeabi.Kind a value lowers to.
func (c *Context) PrimitiveKindOf(h Handle) PrimitiveKind {
	return c.lookup(h).prim
}

// IsReferenceType reports whether h is heap-allocated and GC-managed
// (classes and generic instances; arrays/hashes are also runtime
// objects but are allocated through dedicated runtime entry points
// rather than gc_alloc, per §6).
func (c *Context) IsReferenceType(h Handle) bool {
	k := c.Kind(h)
	return k == KindClass || k == KindGenericInstance
}
