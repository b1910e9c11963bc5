package typedast

import (
	"testing"
)

// fixture exercises a representative slice of statement and expression
// kinds: a local declaration, an if/else, a binary expression over two
// local refs, a static call, and a return.
const fixture = `{
  "classes": [
    {
      "kind": "class",
      "id": 0,
      "name": "Counter",
      "fields": [
        {"name": "n", "type": 1}
      ],
      "layout": 0,
      "serialization": 0
    }
  ],
  "functions": [
    {
      "kind": "function",
      "name": "clamp",
      "params": [{"name": "x", "type": 1, "slot": 0}],
      "ret": 1,
      "dispatch": 0,
      "funcId": 7,
      "body": {
        "stmts": [
          {
            "kind": "local_decl",
            "slot": 1,
            "type": 1,
            "init": {"kind": "int_lit", "type": 1, "value": 0}
          },
          {
            "kind": "if",
            "cond": {
              "kind": "binary",
              "type": 1,
              "op": 0,
              "left": {"kind": "local_ref", "type": 1, "slot": 0, "name": "x"},
              "right": {"kind": "local_ref", "type": 1, "slot": 1, "name": "floor"}
            },
            "then": {
              "stmts": [
                {"kind": "return", "value": {"kind": "local_ref", "type": 1, "slot": 1, "name": "floor"}}
              ]
            },
            "else": {
              "stmts": [
                {
                  "kind": "return",
                  "value": {
                    "kind": "static_call",
                    "type": 1,
                    "func": 3,
                    "args": [{"kind": "local_ref", "type": 1, "slot": 0, "name": "x"}]
                  }
                }
              ]
            }
          }
        ]
      }
    }
  ]
}`

func TestDecodeProgramRoundTripsRepresentativeNodes(t *testing.T) {
	prog, err := DecodeProgram([]byte(fixture))
	if err != nil {
		t.Fatalf("DecodeProgram failed: %v", err)
	}

	if len(prog.Classes) != 1 || prog.Classes[0].Name != "Counter" {
		t.Fatalf("expected one class named Counter, got %+v", prog.Classes)
	}
	if len(prog.Classes[0].Fields) != 1 || prog.Classes[0].Fields[0].Name != "n" {
		t.Fatalf("expected field n, got %+v", prog.Classes[0].Fields)
	}

	if len(prog.Functions) != 1 {
		t.Fatalf("expected one function, got %d", len(prog.Functions))
	}
	fn := prog.Functions[0]
	if fn.Name != "clamp" || fn.FuncID != 7 {
		t.Fatalf("unexpected function header: %+v", fn)
	}
	if fn.Body == nil || len(fn.Body.Stmts) != 2 {
		t.Fatalf("expected two top-level statements, got %+v", fn.Body)
	}

	decl, ok := fn.Body.Stmts[0].(*LocalDecl)
	if !ok {
		t.Fatalf("first statement should be *LocalDecl, got %T", fn.Body.Stmts[0])
	}
	if decl.Slot != 1 {
		t.Fatalf("expected local slot 1, got %d", decl.Slot)
	}
	initLit, ok := decl.Init.(*IntLit)
	if !ok || initLit.Value != 0 {
		t.Fatalf("expected init int_lit(0), got %#v", decl.Init)
	}

	ifStmt, ok := fn.Body.Stmts[1].(*If)
	if !ok {
		t.Fatalf("second statement should be *If, got %T", fn.Body.Stmts[1])
	}
	cond, ok := ifStmt.Cond.(*BinaryExpr)
	if !ok {
		t.Fatalf("if condition should be *BinaryExpr, got %T", ifStmt.Cond)
	}
	left, ok := cond.Left.(*LocalRef)
	if !ok || left.Slot != 0 || left.Name != "x" {
		t.Fatalf("unexpected binary left operand: %#v", cond.Left)
	}
	if ifStmt.Then == nil || len(ifStmt.Then.Stmts) != 1 {
		t.Fatalf("expected one statement in the then-branch, got %+v", ifStmt.Then)
	}
	if ifStmt.Else == nil || len(ifStmt.Else.Stmts) != 1 {
		t.Fatalf("expected one statement in the else-branch, got %+v", ifStmt.Else)
	}

	elseReturn, ok := ifStmt.Else.Stmts[0].(*Return)
	if !ok {
		t.Fatalf("else statement should be *Return, got %T", ifStmt.Else.Stmts[0])
	}
	call, ok := elseReturn.Value.(*StaticCall)
	if !ok {
		t.Fatalf("else return value should be *StaticCall, got %T", elseReturn.Value)
	}
	if call.Func != 3 || len(call.Args) != 1 {
		t.Fatalf("unexpected static call: %+v", call)
	}
}

func TestDecodeProgramOmitsAbsentOptionalFields(t *testing.T) {
	prog, err := DecodeProgram([]byte(`{
		"functions": [
			{"kind": "function", "name": "noop", "ret": 0, "funcId": 1}
		]
	}`))
	if err != nil {
		t.Fatalf("DecodeProgram failed: %v", err)
	}
	fn := prog.Functions[0]
	if fn.Body != nil {
		t.Fatalf("expected a nil body for a function with no \"body\" key, got %+v", fn.Body)
	}
	if len(prog.Classes) != 0 {
		t.Fatalf("expected no classes, got %+v", prog.Classes)
	}
}

func TestDecodeProgramRejectsUnknownStatementKind(t *testing.T) {
	_, err := DecodeProgram([]byte(`{
		"functions": [
			{"kind": "function", "name": "bad", "ret": 0, "funcId": 1,
			 "body": {"stmts": [{"kind": "not_a_real_kind"}]}}
		]
	}`))
	if err == nil {
		t.Fatal("expected an error for an unrecognized statement kind")
	}
}
