package lowir

import (
	"fmt"
	"strings"
)

// Dump renders the module as a deterministic textual listing, the
// LowIR counterpart of anvil.Module.Dump (spec.md §6): functions in
// declaration order, one indented line per instruction, blocks listed
// in the reverse-postorder Reorder leaves them in.
func (m *Module) Dump() string {
	var b strings.Builder
	for _, fn := range m.Funcs {
		m.dumpFunc(&b, fn)
	}
	return b.String()
}

func (m *Module) dumpFunc(b *strings.Builder, fn *Func) {
	params := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = p.String()
	}
	mods := ""
	if fn.Async {
		mods += " async"
	}
	if fn.Gen {
		mods += " generator"
	}
	fmt.Fprintf(b, "func %s(%s) -> %s%s\n", fn.Name, strings.Join(params, ", "), fn.Ret.String(), mods)
	for bi, blk := range fn.Blocks {
		label := fmt.Sprintf("bb%d", bi)
		if blk.Label != "" {
			label = fmt.Sprintf("bb%d(%s)", bi, blk.Label)
		}
		fmt.Fprintf(b, "  %s:\n", label)
		for _, v := range blk.Instr {
			fmt.Fprintf(b, "    %s\n", m.valueString(v))
		}
	}
	for ri, tr := range fn.TryRegions {
		fmt.Fprintf(b, "  try#%d blocks=%v parent=%d\n", ri, tr.Blocks, tr.Parent)
		for _, h := range tr.Handlers {
			fmt.Fprintf(b, "    catch class=%d -> bb%d\n", h.CatchType, h.Handler)
		}
	}
}

func (m *Module) valueString(v Value) string {
	var b strings.Builder
	if v.Dst != invalidReg {
		fmt.Fprintf(&b, "%%%d:%s = ", v.Dst, v.Type.String())
	}
	if v.Op == OpArith {
		b.WriteString(v.AnvilOp.String())
	} else {
		b.WriteString(v.Op.String())
	}

	var operands []string
	for _, a := range v.Args {
		operands = append(operands, fmt.Sprintf("%%%d", a))
	}
	switch v.Op {
	case OpConstInt, OpConstFloat:
		operands = append(operands, fmt.Sprintf("#%d", v.Imm))
	case OpConstStr:
		operands = append(operands, fmt.Sprintf("%q", m.StringAt(int(v.Imm))))
	case OpLoad, OpStore:
		operands = append(operands, fmt.Sprintf("off=%d", v.Imm))
	case OpLoadLocal, OpStoreLocal:
		operands = append(operands, fmt.Sprintf("local=%d", v.Imm))
	case OpLoadArg:
		operands = append(operands, fmt.Sprintf("arg=%d", v.Imm))
	case OpCallVTable:
		operands = append(operands, fmt.Sprintf("slot=%d", v.Imm))
	case OpSwitch:
		operands = append(operands, fmt.Sprintf("cases=%d", v.Imm))
	}
	if v.Sym != nil {
		operands = append(operands, fmt.Sprintf("sym=%s", v.Sym.Name))
	}
	if v.Op == OpCallDirect {
		operands = append(operands, fmt.Sprintf("func=%d", v.Callee))
	}
	if v.Op == OpCallInlineCache {
		operands = append(operands, fmt.Sprintf("fast=%d, slow=%d, class=%d", v.Callee, v.Callee2, v.ClassID))
	}
	if v.Op == OpClassEq {
		operands = append(operands, fmt.Sprintf("class=%d", v.ClassID))
	}
	if len(operands) > 0 {
		b.WriteString(" ")
		b.WriteString(strings.Join(operands, ", "))
	}
	if len(v.Targets) > 0 {
		targets := make([]string, len(v.Targets))
		for i, t := range v.Targets {
			targets[i] = fmt.Sprintf("bb%d", t)
		}
		fmt.Fprintf(&b, " -> %s", strings.Join(targets, ", "))
	}
	return b.String()
}
