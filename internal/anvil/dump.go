package anvil

import (
	"fmt"
	"strings"
)

// Dump renders the module as the deterministic textual listing in
// spec.md §6: one header line per function with its signature, one
// line per basic block with its label, indented opcode lines with
// typed operands. The format is stable across runs of the same input
// because functions are visited in declaration order and every
// register/constant reference is rendered by its stable index.
func (m *Module) Dump() string {
	var b strings.Builder
	for _, fn := range m.FunctionsInOrder() {
		m.dumpFunction(&b, fn)
	}
	return b.String()
}

func (m *Module) dumpFunction(b *strings.Builder, fn *Function) {
	fmt.Fprintf(b, "func %s%s\n", fn.Name, m.signatureString(fn.Sig))
	for bi, blk := range fn.Blocks {
		fmt.Fprintf(b, "  %s:\n", blockLabel(bi, blk))
		for _, instr := range blk.Instr {
			fmt.Fprintf(b, "    %s\n", m.instrString(instr))
		}
	}
	for ri, r := range fn.TryRegions {
		fmt.Fprintf(b, "  try#%d [%d,%d) parent=%d\n", ri, r.Start, r.End, r.Parent)
		for _, h := range r.Handlers {
			fmt.Fprintf(b, "    catch %s -> block %d\n", m.Types.String(m.Types.Class(h.CatchType)), h.Handler)
		}
	}
}

func blockLabel(i int, b *BasicBlock) string {
	if b.Label != "" {
		return fmt.Sprintf("bb%d(%s)", i, b.Label)
	}
	return fmt.Sprintf("bb%d", i)
}

func (m *Module) signatureString(sig Signature) string {
	params := make([]string, len(sig.Params))
	for i, p := range sig.Params {
		params[i] = m.Types.String(p)
	}
	ret := "void"
	if sig.Ret != -1 {
		ret = m.Types.String(sig.Ret)
	}
	mods := ""
	if sig.Async {
		mods += " async"
	}
	if sig.Gen {
		mods += " generator"
	}
	return fmt.Sprintf("(%s) -> %s%s", strings.Join(params, ", "), ret, mods)
}

func (m *Module) instrString(instr Instr) string {
	var b strings.Builder
	if instr.Defines() {
		fmt.Fprintf(&b, "%%%d:%s = ", instr.Dst, m.Types.String(instr.DstType))
	}
	b.WriteString(instr.Op.String())

	var operands []string
	for _, o := range instr.Operands {
		switch {
		case o.IsReg():
			operands = append(operands, fmt.Sprintf("%%%d", o.Reg))
		case o.IsConst():
			operands = append(operands, m.constString(o.Const))
		default:
			operands = append(operands, fmt.Sprintf("#%d", o.Imm))
		}
	}
	if instr.Name != "" {
		operands = append(operands, fmt.Sprintf("name=%q", instr.Name))
	}
	switch instr.Op {
	case OpNew, OpGetField, OpSetField, OpCallVirtual, OpCallNative, OpConstClass:
		operands = append(operands, fmt.Sprintf("class=%s", m.Types.String(m.Types.Class(instr.ClassID))))
	}
	switch instr.Op {
	case OpCallVirtual, OpGetField, OpSetField:
		operands = append(operands, fmt.Sprintf("slot=%d", instr.Slot))
	}
	switch instr.Op {
	case OpCallStatic, OpCallNative, OpConstMethod:
		operands = append(operands, fmt.Sprintf("func=%d", instr.FuncID))
	}
	if len(operands) > 0 {
		b.WriteString(" ")
		b.WriteString(strings.Join(operands, ", "))
	}
	if len(instr.Targets) > 0 {
		targets := make([]string, len(instr.Targets))
		for i, t := range instr.Targets {
			targets[i] = fmt.Sprintf("bb%d", t)
		}
		fmt.Fprintf(&b, " -> %s", strings.Join(targets, ", "))
	}
	return b.String()
}

func (m *Module) constString(ref ConstRef) string {
	c := m.ConstAt(ref)
	switch {
	case c.StringVal != "":
		return fmt.Sprintf("%q", c.StringVal)
	case c.FloatVal != 0:
		return fmt.Sprintf("%g", c.FloatVal)
	default:
		return fmt.Sprintf("%d", c.IntVal)
	}
}
