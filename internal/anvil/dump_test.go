package anvil

import (
	"testing"

	"github.com/gkampitakis/go-snaps/snaps"

	"github.com/ember-lang/ember/internal/typectx"
)

// TestDumpIsDeterministic pins the Anvil dump format with a go-snaps
// golden file, per spec.md §6 ("deterministic, stable across runs of
// the same input").
func TestDumpIsDeterministic(t *testing.T) {
	types := typectx.New()
	m := NewModule(types)
	m.AddFunction(simpleFunc(types))

	snaps.MatchSnapshot(t, "add_one_dump", m.Dump())
}

func TestDumpRepeatedRunsAreByteIdentical(t *testing.T) {
	types := typectx.New()
	m1 := NewModule(types)
	m1.AddFunction(simpleFunc(types))

	types2 := typectx.New()
	m2 := NewModule(types2)
	m2.AddFunction(simpleFunc(types2))

	if m1.Dump() != m2.Dump() {
		t.Fatal("two independently built, structurally identical modules produced different dumps")
	}
}
