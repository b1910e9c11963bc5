package lower

import (
	"strings"
	"testing"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ember-lang/ember/internal/anvil"
	"github.com/ember-lang/ember/internal/resolver"
	"github.com/ember-lang/ember/internal/typectx"
	"github.com/ember-lang/ember/internal/typedast"
)

// constLiterals walks fn's entry block collecting every OpConstString
// payload in emission order, the literal fragments buildToJSON/
// buildFromJSON interleave with field reads.
func constLiterals(mod *anvil.Module, fn *anvil.Function) []string {
	var out []string
	for _, instr := range fn.Block(0).Instr {
		if instr.Op == anvil.OpConstString {
			out = append(out, mod.ConstAt(instr.Operands[0].Const).StringVal)
		}
	}
	return out
}

func TestLowerSerializationMethodsToJSONSkeleton(t *testing.T) {
	types := typectx.New()
	syms := resolver.New(types)
	i64 := types.Primitive(typectx.I64)

	cd := &typedast.ClassDecl{
		ID:   0,
		Name: "Point",
		Fields: []*typedast.FieldDecl{
			{Name: "x", Type: i64},
			{Name: "y", Type: i64, JSONName: "yCoord"},
		},
		Serialization: typedast.SerializeJSON,
	}
	if err := syms.ResolveProgram(&typedast.Program{Classes: []*typedast.ClassDecl{cd}}); err != nil {
		t.Fatalf("ResolveProgram failed: %v", err)
	}

	l := New(types, syms)
	if err := l.lowerSerializationMethods(cd); err != nil {
		t.Fatalf("lowerSerializationMethods failed: %v", err)
	}
	if len(l.synthetic) != 2 {
		t.Fatalf("expected to_json and from_json, got %d synthetic functions", len(l.synthetic))
	}
	toJSON, fromJSON := l.synthetic[0], l.synthetic[1]
	if toJSON.Name != "to_json" || fromJSON.Name != "from_json" {
		t.Fatalf("unexpected synthetic names: %s, %s", toJSON.Name, fromJSON.Name)
	}

	// Splice a fake scalar after every key literal (the field reads /
	// recursive to_json calls that follow a key aren't constants) to
	// validate the skeleton's brace/comma/colon/quoting is well-formed
	// JSON.
	literals := constLiterals(l.Mod, toJSON)
	var sb strings.Builder
	for _, lit := range literals {
		sb.WriteString(lit)
		if strings.HasSuffix(lit, ":") {
			sb.WriteString("0")
		}
	}
	skeleton := sb.String()
	if !gjson.Valid(skeleton) {
		t.Fatalf("to_json literal skeleton is not valid JSON once field values are filled in: %q", skeleton)
	}
	if got := gjson.Get(skeleton, "x").Num; got != 0 {
		t.Fatalf("expected field x present with filler value 0, got %v", got)
	}
	if !gjson.Get(skeleton, "yCoord").Exists() {
		t.Fatalf("expected @json override name yCoord in skeleton %q", skeleton)
	}

	fromKeys := constLiterals(l.Mod, fromJSON)
	if len(fromKeys) != 2 || fromKeys[0] != "x" || fromKeys[1] != "yCoord" {
		t.Fatalf("from_json should read back the same two keys in field order, got %v", fromKeys)
	}

	// Round-trip: build a document with sjson using from_json's own key
	// set, then confirm gjson can read every key from_json expects.
	doc := "{}"
	var err error
	for i, k := range fromKeys {
		doc, err = sjson.Set(doc, k, i+1)
		if err != nil {
			t.Fatalf("sjson.Set(%q) failed: %v", k, err)
		}
	}
	for _, k := range fromKeys {
		if !gjson.Get(doc, k).Exists() {
			t.Fatalf("round-tripped document missing key %q: %s", k, doc)
		}
	}
}
