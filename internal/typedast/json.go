package typedast

import (
	"encoding/json"
	"fmt"

	"github.com/ember-lang/ember/internal/typectx"
)

// DecodeProgram reads a typed-AST fixture from JSON: the wire format
// cmd/emberc's dump/verify commands load in place of a real
// lexer/parser/semantic-analyzer pipeline (out of scope per
// SPEC_FULL.md §1). Every node the grammar allows carries an explicit
// "kind" discriminator string; scalar-only node types (FieldDecl,
// ParamDecl, Capture, NativeLibraryDecl) need no special handling and fall
// through to encoding/json's own struct decoding, since only the Stmt
// and Expr sum types require a tagged union.
func DecodeProgram(data []byte) (*Program, error) {
	var w struct {
		Classes         []json.RawMessage
		Functions       []json.RawMessage
		NativeLibraries []*NativeLibraryDecl
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("typedast: decode program: %w", err)
	}
	prog := &Program{NativeLibraries: w.NativeLibraries}
	for _, raw := range w.Classes {
		cd, err := decodeClassDecl(raw)
		if err != nil {
			return nil, err
		}
		prog.Classes = append(prog.Classes, cd)
	}
	for _, raw := range w.Functions {
		fd, err := decodeFunctionDecl(raw)
		if err != nil {
			return nil, err
		}
		prog.Functions = append(prog.Functions, fd)
	}
	return prog, nil
}

// node is a partially-decoded JSON object: enough to read the "kind"
// discriminator before committing to a concrete Go type, then pull
// individual fields on demand.
type node map[string]json.RawMessage

func decodeNode(raw json.RawMessage) (node, string, error) {
	var n node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, "", fmt.Errorf("typedast: decode node: %w", err)
	}
	var kind string
	if k, ok := n["kind"]; ok {
		if err := json.Unmarshal(k, &kind); err != nil {
			return nil, "", fmt.Errorf("typedast: decode kind: %w", err)
		}
	}
	return n, kind, nil
}

func (n node) get(key string, v interface{}) error {
	raw, ok := n[key]
	if !ok || raw == nil || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func isNull(raw json.RawMessage) bool { return raw == nil || string(raw) == "null" }

func decodeClassDecl(raw json.RawMessage) (*ClassDecl, error) {
	n, _, err := decodeNode(raw)
	if err != nil {
		return nil, err
	}
	cd := &ClassDecl{}
	if err := n.get("pos", &cd.Pos); err != nil {
		return nil, err
	}
	if err := n.get("id", &cd.ID); err != nil {
		return nil, err
	}
	if err := n.get("name", &cd.Name); err != nil {
		return nil, err
	}
	if err := n.get("parent", &cd.Parent); err != nil {
		return nil, err
	}
	if err := n.get("fields", &cd.Fields); err != nil {
		return nil, err
	}
	if err := n.get("layout", &cd.Layout); err != nil {
		return nil, err
	}
	if err := n.get("serialization", &cd.Serialization); err != nil {
		return nil, err
	}
	if err := n.get("isNativeLibrary", &cd.IsNativeLibrary); err != nil {
		return nil, err
	}
	if err := n.get("nativeLibraryPaths", &cd.NativeLibraryPaths); err != nil {
		return nil, err
	}
	var methods []json.RawMessage
	if err := n.get("methods", &methods); err != nil {
		return nil, err
	}
	for _, mr := range methods {
		md, err := decodeMethodDecl(mr)
		if err != nil {
			return nil, err
		}
		cd.Methods = append(cd.Methods, md)
	}
	return cd, nil
}

func decodeMethodDecl(raw json.RawMessage) (*MethodDecl, error) {
	n, _, err := decodeNode(raw)
	if err != nil {
		return nil, err
	}
	md := &MethodDecl{}
	if err := n.get("pos", &md.Pos); err != nil {
		return nil, err
	}
	if err := n.get("name", &md.Name); err != nil {
		return nil, err
	}
	if err := n.get("params", &md.Params); err != nil {
		return nil, err
	}
	if err := n.get("ret", &md.Ret); err != nil {
		return nil, err
	}
	if err := n.get("dispatch", &md.Dispatch); err != nil {
		return nil, err
	}
	if err := n.get("throws", &md.Throws); err != nil {
		return nil, err
	}
	if err := n.get("nativeSymbol", &md.NativeSymbol); err != nil {
		return nil, err
	}
	if err := n.get("funcId", &md.FuncID); err != nil {
		return nil, err
	}
	if raw, ok := n["body"]; ok && !isNull(raw) {
		b, err := decodeBlock(raw)
		if err != nil {
			return nil, err
		}
		md.Body = b
	}
	return md, nil
}

func decodeFunctionDecl(raw json.RawMessage) (*FunctionDecl, error) {
	n, _, err := decodeNode(raw)
	if err != nil {
		return nil, err
	}
	fd := &FunctionDecl{}
	if err := n.get("pos", &fd.Pos); err != nil {
		return nil, err
	}
	if err := n.get("name", &fd.Name); err != nil {
		return nil, err
	}
	if err := n.get("params", &fd.Params); err != nil {
		return nil, err
	}
	if err := n.get("ret", &fd.Ret); err != nil {
		return nil, err
	}
	if err := n.get("dispatch", &fd.Dispatch); err != nil {
		return nil, err
	}
	if err := n.get("throws", &fd.Throws); err != nil {
		return nil, err
	}
	if err := n.get("funcId", &fd.FuncID); err != nil {
		return nil, err
	}
	if raw, ok := n["body"]; ok && !isNull(raw) {
		b, err := decodeBlock(raw)
		if err != nil {
			return nil, err
		}
		fd.Body = b
	}
	return fd, nil
}

func decodeBlock(raw json.RawMessage) (*Block, error) {
	if isNull(raw) {
		return nil, nil
	}
	var w struct{ Stmts []json.RawMessage }
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("typedast: decode block: %w", err)
	}
	b := &Block{}
	for _, sr := range w.Stmts {
		s, err := decodeStmt(sr)
		if err != nil {
			return nil, err
		}
		b.Stmts = append(b.Stmts, s)
	}
	return b, nil
}

func decodeExprList(n node, key string) ([]Expr, error) {
	var raws []json.RawMessage
	if err := n.get(key, &raws); err != nil {
		return nil, err
	}
	out := make([]Expr, 0, len(raws))
	for _, r := range raws {
		e, err := decodeExpr(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func decodeOptExpr(n node, key string) (Expr, error) {
	raw, ok := n[key]
	if !ok || isNull(raw) {
		return nil, nil
	}
	return decodeExpr(raw)
}

func decodeOptBlock(n node, key string) (*Block, error) {
	raw, ok := n[key]
	if !ok || isNull(raw) {
		return nil, nil
	}
	return decodeBlock(raw)
}

func decodeStmt(raw json.RawMessage) (Stmt, error) {
	n, kind, err := decodeNode(raw)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "expr_stmt":
		s := &ExprStmt{}
		if err := n.get("pos", &s.Pos); err != nil {
			return nil, err
		}
		if s.Expr, err = decodeOptExpr(n, "expr"); err != nil {
			return nil, err
		}
		return s, nil

	case "local_decl":
		s := &LocalDecl{}
		if err := n.get("pos", &s.Pos); err != nil {
			return nil, err
		}
		if err := n.get("slot", &s.Slot); err != nil {
			return nil, err
		}
		if err := n.get("type", &s.Type); err != nil {
			return nil, err
		}
		if s.Init, err = decodeOptExpr(n, "init"); err != nil {
			return nil, err
		}
		return s, nil

	case "assign":
		s := &Assign{}
		if err := n.get("pos", &s.Pos); err != nil {
			return nil, err
		}
		if s.Target, err = decodeOptExpr(n, "target"); err != nil {
			return nil, err
		}
		if s.Value, err = decodeOptExpr(n, "value"); err != nil {
			return nil, err
		}
		return s, nil

	case "if":
		s := &If{}
		if err := n.get("pos", &s.Pos); err != nil {
			return nil, err
		}
		if s.Cond, err = decodeOptExpr(n, "cond"); err != nil {
			return nil, err
		}
		if s.Then, err = decodeOptBlock(n, "then"); err != nil {
			return nil, err
		}
		if s.Else, err = decodeOptBlock(n, "else"); err != nil {
			return nil, err
		}
		return s, nil

	case "while":
		s := &While{}
		if err := n.get("pos", &s.Pos); err != nil {
			return nil, err
		}
		if s.Cond, err = decodeOptExpr(n, "cond"); err != nil {
			return nil, err
		}
		if s.Body, err = decodeOptBlock(n, "body"); err != nil {
			return nil, err
		}
		return s, nil

	case "for_in":
		s := &ForIn{}
		if err := n.get("pos", &s.Pos); err != nil {
			return nil, err
		}
		if err := n.get("varSlot", &s.VarSlot); err != nil {
			return nil, err
		}
		if err := n.get("varType", &s.VarType); err != nil {
			return nil, err
		}
		if s.Iterable, err = decodeOptExpr(n, "iterable"); err != nil {
			return nil, err
		}
		if s.Body, err = decodeOptBlock(n, "body"); err != nil {
			return nil, err
		}
		return s, nil

	case "match":
		s := &Match{}
		if err := n.get("pos", &s.Pos); err != nil {
			return nil, err
		}
		if s.Subject, err = decodeOptExpr(n, "subject"); err != nil {
			return nil, err
		}
		if err := n.get("hasDefault", &s.HasDefault); err != nil {
			return nil, err
		}
		if s.Default, err = decodeOptBlock(n, "default"); err != nil {
			return nil, err
		}
		var arms []json.RawMessage
		if err := n.get("arms", &arms); err != nil {
			return nil, err
		}
		for _, ar := range arms {
			an, _, err := decodeNode(ar)
			if err != nil {
				return nil, err
			}
			var arm MatchArm
			if err := an.get("tag", &arm.Tag); err != nil {
				return nil, err
			}
			if arm.Guard, err = decodeOptExpr(an, "guard"); err != nil {
				return nil, err
			}
			if arm.Body, err = decodeOptBlock(an, "body"); err != nil {
				return nil, err
			}
			s.Arms = append(s.Arms, arm)
		}
		return s, nil

	case "return":
		s := &Return{}
		if err := n.get("pos", &s.Pos); err != nil {
			return nil, err
		}
		if s.Value, err = decodeOptExpr(n, "value"); err != nil {
			return nil, err
		}
		return s, nil

	case "throw":
		s := &Throw{}
		if err := n.get("pos", &s.Pos); err != nil {
			return nil, err
		}
		if s.Value, err = decodeOptExpr(n, "value"); err != nil {
			return nil, err
		}
		return s, nil

	case "try":
		s := &Try{}
		if err := n.get("pos", &s.Pos); err != nil {
			return nil, err
		}
		if s.Body, err = decodeOptBlock(n, "body"); err != nil {
			return nil, err
		}
		if s.Finally, err = decodeOptBlock(n, "finally"); err != nil {
			return nil, err
		}
		var catches []json.RawMessage
		if err := n.get("catches", &catches); err != nil {
			return nil, err
		}
		for _, cr := range catches {
			cn, _, err := decodeNode(cr)
			if err != nil {
				return nil, err
			}
			var cc CatchClause
			if err := cn.get("catchType", &cc.CatchType); err != nil {
				return nil, err
			}
			if err := cn.get("varSlot", &cc.VarSlot); err != nil {
				return nil, err
			}
			if cc.Body, err = decodeOptBlock(cn, "body"); err != nil {
				return nil, err
			}
			s.Catches = append(s.Catches, cc)
		}
		return s, nil

	case "using":
		s := &Using{}
		if err := n.get("pos", &s.Pos); err != nil {
			return nil, err
		}
		if err := n.get("varSlot", &s.VarSlot); err != nil {
			return nil, err
		}
		if err := n.get("varType", &s.VarType); err != nil {
			return nil, err
		}
		if s.Init, err = decodeOptExpr(n, "init"); err != nil {
			return nil, err
		}
		if s.Body, err = decodeOptBlock(n, "body"); err != nil {
			return nil, err
		}
		return s, nil

	case "yield":
		s := &Yield{}
		if err := n.get("pos", &s.Pos); err != nil {
			return nil, err
		}
		if s.Value, err = decodeOptExpr(n, "value"); err != nil {
			return nil, err
		}
		return s, nil

	default:
		return nil, fmt.Errorf("typedast: unknown statement kind %q", kind)
	}
}

func decodeExpr(raw json.RawMessage) (Expr, error) {
	if isNull(raw) {
		return nil, nil
	}
	n, kind, err := decodeNode(raw)
	if err != nil {
		return nil, err
	}

	var typ typectx.Handle
	if err := n.get("type", &typ); err != nil {
		return nil, err
	}

	switch kind {
	case "int_lit":
		e := &IntLit{typed: typed{typ}}
		if err := n.get("value", &e.Value); err != nil {
			return nil, err
		}
		return e, nil

	case "float_lit":
		e := &FloatLit{typed: typed{typ}}
		if err := n.get("value", &e.Value); err != nil {
			return nil, err
		}
		return e, nil

	case "string_lit":
		e := &StringLit{typed: typed{typ}}
		if err := n.get("value", &e.Value); err != nil {
			return nil, err
		}
		return e, nil

	case "bool_lit":
		e := &BoolLit{typed: typed{typ}}
		if err := n.get("value", &e.Value); err != nil {
			return nil, err
		}
		return e, nil

	case "nil_lit":
		return &NilLit{typed: typed{typ}}, nil

	case "local_ref":
		e := &LocalRef{typed: typed{typ}}
		if err := n.get("slot", &e.Slot); err != nil {
			return nil, err
		}
		if err := n.get("name", &e.Name); err != nil {
			return nil, err
		}
		return e, nil

	case "field_access":
		e := &FieldAccess{typed: typed{typ}}
		if e.Recv, err = decodeOptExpr(n, "recv"); err != nil {
			return nil, err
		}
		if err := n.get("class", &e.Class); err != nil {
			return nil, err
		}
		if err := n.get("field", &e.Field); err != nil {
			return nil, err
		}
		return e, nil

	case "binary":
		e := &BinaryExpr{typed: typed{typ}}
		if err := n.get("op", &e.Op); err != nil {
			return nil, err
		}
		if e.Left, err = decodeOptExpr(n, "left"); err != nil {
			return nil, err
		}
		if e.Right, err = decodeOptExpr(n, "right"); err != nil {
			return nil, err
		}
		return e, nil

	case "unary":
		e := &UnaryExpr{typed: typed{typ}}
		if err := n.get("op", &e.Op); err != nil {
			return nil, err
		}
		if e.Operand, err = decodeOptExpr(n, "operand"); err != nil {
			return nil, err
		}
		return e, nil

	case "convert":
		e := &Convert{typed: typed{typ}}
		if err := n.get("convKind", &e.Kind); err != nil {
			return nil, err
		}
		if e.Expr, err = decodeOptExpr(n, "expr"); err != nil {
			return nil, err
		}
		return e, nil

	case "new":
		e := &New{typed: typed{typ}}
		if err := n.get("class", &e.Class); err != nil {
			return nil, err
		}
		if e.Args, err = decodeExprList(n, "args"); err != nil {
			return nil, err
		}
		return e, nil

	case "static_call":
		e := &StaticCall{typed: typed{typ}}
		if err := n.get("func", &e.Func); err != nil {
			return nil, err
		}
		if e.Args, err = decodeExprList(n, "args"); err != nil {
			return nil, err
		}
		return e, nil

	case "virtual_call":
		e := &VirtualCall{typed: typed{typ}}
		if e.Recv, err = decodeOptExpr(n, "recv"); err != nil {
			return nil, err
		}
		if err := n.get("class", &e.Class); err != nil {
			return nil, err
		}
		if err := n.get("slot", &e.Slot); err != nil {
			return nil, err
		}
		if err := n.get("name", &e.Name); err != nil {
			return nil, err
		}
		if e.Args, err = decodeExprList(n, "args"); err != nil {
			return nil, err
		}
		return e, nil

	case "interface_call":
		e := &InterfaceCall{typed: typed{typ}}
		if e.Recv, err = decodeOptExpr(n, "recv"); err != nil {
			return nil, err
		}
		if err := n.get("name", &e.Name); err != nil {
			return nil, err
		}
		if e.Args, err = decodeExprList(n, "args"); err != nil {
			return nil, err
		}
		return e, nil

	case "native_call":
		e := &NativeCall{typed: typed{typ}}
		if err := n.get("func", &e.Func); err != nil {
			return nil, err
		}
		if e.Args, err = decodeExprList(n, "args"); err != nil {
			return nil, err
		}
		return e, nil

	case "array_lit":
		e := &ArrayLit{typed: typed{typ}}
		if err := n.get("elem", &e.Elem); err != nil {
			return nil, err
		}
		if e.Elems, err = decodeExprList(n, "elems"); err != nil {
			return nil, err
		}
		return e, nil

	case "index":
		e := &IndexExpr{typed: typed{typ}}
		if e.Recv, err = decodeOptExpr(n, "recv"); err != nil {
			return nil, err
		}
		if e.Index, err = decodeOptExpr(n, "index"); err != nil {
			return nil, err
		}
		return e, nil

	case "block_lit":
		e := &BlockLit{typed: typed{typ}}
		if err := n.get("params", &e.Params); err != nil {
			return nil, err
		}
		if err := n.get("captures", &e.Captures); err != nil {
			return nil, err
		}
		if err := n.get("shape", &e.Shape); err != nil {
			return nil, err
		}
		if e.Body, err = decodeOptBlock(n, "body"); err != nil {
			return nil, err
		}
		return e, nil

	case "interp":
		e := &Interp{typed: typed{typ}}
		if e.Parts, err = decodeExprList(n, "parts"); err != nil {
			return nil, err
		}
		return e, nil

	case "await":
		e := &Await{typed: typed{typ}}
		if e.Future, err = decodeOptExpr(n, "future"); err != nil {
			return nil, err
		}
		return e, nil

	default:
		return nil, fmt.Errorf("typedast: unknown expression kind %q", kind)
	}
}
