package resolver

import (
	"github.com/ember-lang/ember/internal/typectx"
	"github.com/ember-lang/ember/internal/typedast"
)

const pointerSize = 8

// sizeAlignOf returns the size and natural alignment, in bytes, of a
// Type. Reference-shaped kinds (Class, GenericInstance, Array, Hash,
// Channel, Future, Function, Block) are always pointer-sized — the
// middle end never inlines their storage, only a GC-managed or
// synthetic-closure pointer to it.
func sizeAlignOf(types *typectx.Context, h typectx.Handle) (size, align int) {
	switch types.Kind(h) {
	case typectx.KindPrimitive:
		return primitiveSizeAlign(types, h)
	case typectx.KindTuple:
		total, maxAlign := 0, 1
		for _, el := range types.TupleElems(h) {
			s, a := sizeAlignOf(types, el)
			total += s
			if a > maxAlign {
				maxAlign = a
			}
		}
		if total == 0 {
			total = pointerSize
		}
		return total, maxAlign
	case typectx.KindRange:
		// A Range is a (low, high) pair of i64 bounds.
		return 16, 8
	default:
		return pointerSize, pointerSize
	}
}

func primitiveSizeAlign(types *typectx.Context, h typectx.Handle) (int, int) {
	switch h {
	case types.Primitive(typectx.I1):
		return 1, 1
	case types.Primitive(typectx.I8):
		return 1, 1
	case types.Primitive(typectx.I32):
		return 4, 4
	case types.Primitive(typectx.I64):
		return 8, 8
	case types.Primitive(typectx.F32):
		return 4, 4
	case types.Primitive(typectx.F64):
		return 8, 8
	case types.Primitive(typectx.NilKind):
		return pointerSize, pointerSize
	case types.Primitive(typectx.IntPtr):
		return pointerSize, pointerSize
	default:
		return pointerSize, pointerSize
	}
}

func isScanned(types *typectx.Context, h typectx.Handle) bool {
	if types.Kind(h) == typectx.KindPrimitive {
		// No primitive slot is scanned: raw scalars, NilKind and IntPtr
		// alike (SPEC_FULL.md's open question decision: IntPtr is never
		// scanned). Every non-primitive kind is marked scanned.
		return false
	}
	return true
}

// LayoutOf computes (or returns the memoized) LayoutDescriptor for a
// class, per the four layout strategies in spec.md §4.A. The result is
// cached on the shared typectx.Context so a second call for the same
// class is a map lookup, matching the "lazy, memoized" contract in
// SPEC_FULL.md §4.A.
func (r *Resolver) LayoutOf(id typectx.ClassID) (*typectx.LayoutDescriptor, error) {
	if l, ok := r.types.LayoutOf(id); ok {
		return l, nil
	}
	desc, ok := r.classes[id]
	if !ok {
		return nil, &Error{Message: "resolver: layout requested for unresolved class", ClassID: id}
	}

	var layout *typectx.LayoutDescriptor
	switch desc.Layout {
	case typedast.LayoutObject:
		layout = layoutNatural(r.types, desc.Fields, typectx.LayoutObject, pointerSize /* GC header */)
	case typedast.LayoutStruct:
		layout = layoutNatural(r.types, desc.Fields, typectx.LayoutStruct, 0)
	case typedast.LayoutPacked:
		layout = layoutPacked(r.types, desc.Fields)
	case typedast.LayoutUnion:
		layout = layoutUnion(r.types, desc.Fields)
	default:
		layout = layoutNatural(r.types, desc.Fields, typectx.LayoutObject, pointerSize)
	}
	r.types.SetLayout(id, layout)
	return layout, nil
}

func layoutNatural(types *typectx.Context, fields []FieldSlot, kind typectx.LayoutKind, headerSize int) *typectx.LayoutDescriptor {
	offset := headerSize
	maxAlign := 1
	if headerSize > 0 {
		maxAlign = pointerSize
	}
	out := make([]typectx.FieldLayout, len(fields))
	for i, f := range fields {
		size, align := sizeAlignOf(types, f.Type)
		offset = alignUp(offset, align)
		out[i] = typectx.FieldLayout{Name: f.Name, Type: f.Type, Offset: offset, Scanned: isScanned(types, f.Type)}
		offset += size
		if align > maxAlign {
			maxAlign = align
		}
	}
	total := alignUp(offset, maxAlign)
	return &typectx.LayoutDescriptor{Kind: kind, Size: total, Align: maxAlign, Fields: out}
}

func layoutPacked(types *typectx.Context, fields []FieldSlot) *typectx.LayoutDescriptor {
	offset := 0
	out := make([]typectx.FieldLayout, len(fields))
	for i, f := range fields {
		size, _ := sizeAlignOf(types, f.Type)
		out[i] = typectx.FieldLayout{Name: f.Name, Type: f.Type, Offset: offset, Scanned: isScanned(types, f.Type)}
		offset += size
	}
	return &typectx.LayoutDescriptor{Kind: typectx.LayoutPacked, Size: offset, Align: 1, Fields: out}
}

func layoutUnion(types *typectx.Context, fields []FieldSlot) *typectx.LayoutDescriptor {
	maxSize, maxAlign := 0, 1
	out := make([]typectx.FieldLayout, len(fields))
	for i, f := range fields {
		size, align := sizeAlignOf(types, f.Type)
		out[i] = typectx.FieldLayout{Name: f.Name, Type: f.Type, Offset: 0, Scanned: isScanned(types, f.Type)}
		if size > maxSize {
			maxSize = size
		}
		if align > maxAlign {
			maxAlign = align
		}
	}
	return &typectx.LayoutDescriptor{Kind: typectx.LayoutUnion, Size: alignUp(maxSize, maxAlign), Align: maxAlign, Fields: out}
}

func alignUp(offset, align int) int {
	if align <= 1 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}
