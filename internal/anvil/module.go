package anvil

import (
	"golang.org/x/text/unicode/norm"

	"github.com/ember-lang/ember/internal/typectx"
)

// Module is the in-memory container for a compilation unit's Anvil
// functions, constants and string pool (spec.md §4.C). It owns
// verification: Verify must accept a Module before (E) may run.
type Module struct {
	Types *typectx.Context

	Functions map[typectx.FuncID]*Function
	order     []typectx.FuncID

	consts   []Const
	strIndex map[string]ConstRef
}

// NewModule creates an empty Module bound to a shared Type Context.
func NewModule(types *typectx.Context) *Module {
	return &Module{
		Types:     types,
		Functions: make(map[typectx.FuncID]*Function),
		strIndex:  make(map[string]ConstRef),
	}
}

// AddFunction registers fn with the module. Functions are kept in
// declaration order so the dump format (§6) is deterministic.
func (m *Module) AddFunction(fn *Function) {
	if _, exists := m.Functions[fn.ID]; !exists {
		m.order = append(m.order, fn.ID)
	}
	m.Functions[fn.ID] = fn
}

// FunctionsInOrder returns every function in declaration order.
func (m *Module) FunctionsInOrder() []*Function {
	out := make([]*Function, len(m.order))
	for i, id := range m.order {
		out[i] = m.Functions[id]
	}
	return out
}

// InternString interns s (NFC-normalized, mirroring the teacher's use
// of golang.org/x/text for string builtins) into the constant pool and
// returns a stable ConstRef; repeated interning of an equal string
// returns the same ref.
func (m *Module) InternString(s string) ConstRef {
	s = norm.NFC.String(s)
	if ref, ok := m.strIndex[s]; ok {
		return ref
	}
	ref := ConstRef(len(m.consts))
	m.consts = append(m.consts, Const{StringVal: s})
	m.strIndex[s] = ref
	return ref
}

// InternInt interns an integer constant. Integer constants are not
// deduplicated (cheap, and deduplication would complicate constant
// folding provenance); each call returns a fresh ref.
func (m *Module) InternInt(v int64) ConstRef {
	ref := ConstRef(len(m.consts))
	m.consts = append(m.consts, Const{IntVal: v})
	return ref
}

// InternFloat interns a floating constant.
func (m *Module) InternFloat(v float64) ConstRef {
	ref := ConstRef(len(m.consts))
	m.consts = append(m.consts, Const{FloatVal: v})
	return ref
}

// ConstAt returns the constant stored at ref.
func (m *Module) ConstAt(ref ConstRef) Const { return m.consts[ref] }
