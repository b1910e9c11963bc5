package anvil

import (
	"fmt"
	"strings"

	"github.com/ember-lang/ember/internal/typectx"
)

// VerificationError aggregates every violation found in a single Verify
// call, so a malformed function reports all of its problems in one
// pass rather than just the first (useful against the hand-crafted
// malformed-function corpus in spec.md §8 property 2).
type VerificationError struct {
	Function string
	Problems []string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("anvil: function %q failed verification:\n  - %s", e.Function, strings.Join(e.Problems, "\n  - "))
}

// ClassInfo is implemented by package resolver so the verifier can
// check v-table ownership and FFI bindings without importing it
// (components are leaves-first; the verifier lives in C, which B does
// not depend on).
type ClassInfo interface {
	VTableSize(typectx.ClassID) (int, bool)
	IsNativeLibrary(typectx.ClassID) bool
}

// Verifier runs the mandatory checks between (D) and (E), per spec.md
// §4.C: typed SSA register discipline, terminator well-formedness,
// try-region forest structure, async/generator suspension placement,
// virtual-call v-table ownership, and FFI call targets.
type Verifier struct {
	Classes ClassInfo // optional; nil skips class-aware checks
}

// Verify checks a single function and returns a non-nil
// *VerificationError describing every problem found, or nil if fn is
// well-formed.
func (v *Verifier) Verify(fn *Function) error {
	var problems []string

	problems = append(problems, checkTerminators(fn)...)
	problems = append(problems, checkRegisterDiscipline(fn)...)
	problems = append(problems, checkTryRegionForest(fn)...)
	problems = append(problems, checkSuspensionPlacement(fn)...)
	if v.Classes != nil {
		problems = append(problems, checkDispatch(fn, v.Classes)...)
	}

	if len(problems) == 0 {
		return nil
	}
	return &VerificationError{Function: fn.Name, Problems: problems}
}

// VerifyModule verifies every function in m, collecting every
// function's errors rather than stopping at the first failure.
func (v *Verifier) VerifyModule(m *Module) error {
	var all []string
	for _, fn := range m.FunctionsInOrder() {
		if err := v.Verify(fn); err != nil {
			all = append(all, err.Error())
		}
	}
	if len(all) == 0 {
		return nil
	}
	return fmt.Errorf("anvil: module failed verification:\n%s", strings.Join(all, "\n"))
}

func checkTerminators(fn *Function) []string {
	var problems []string
	for bi, b := range fn.Blocks {
		if len(b.Instr) == 0 {
			problems = append(problems, fmt.Sprintf("block %q is empty (no terminator)", b.Label))
			continue
		}
		for i, instr := range b.Instr {
			isLast := i == len(b.Instr)-1
			if IsTerminator(instr.Op) && !isLast {
				problems = append(problems, fmt.Sprintf("block %q: terminator %s appears before the end of the block", b.Label, instr.Op))
			}
			if !IsTerminator(instr.Op) && isLast {
				problems = append(problems, fmt.Sprintf("block %q: last instruction %s is not a terminator", b.Label, instr.Op))
			}
		}
		for _, t := range b.Targets(fn) {
			if t < 0 || t >= len(fn.Blocks) {
				problems = append(problems, fmt.Sprintf("block %q: branch target %d out of range", b.Label, t))
			}
		}
		_ = bi
	}
	return problems
}

// Targets returns the successor block indices of b's terminator.
func (b *BasicBlock) Targets(fn *Function) []int {
	term, ok := b.Terminator()
	if !ok {
		return nil
	}
	return term.Targets
}

func checkRegisterDiscipline(fn *Function) []string {
	var problems []string

	type def struct{ block, idx int }
	defs := make(map[Register]def)
	for bi, b := range fn.Blocks {
		for ii, instr := range b.Instr {
			if instr.Defines() {
				if _, dup := defs[instr.Dst]; dup {
					problems = append(problems, fmt.Sprintf("register %d is defined more than once", instr.Dst))
				}
				defs[instr.Dst] = def{bi, ii}
			}
		}
	}

	dom := computeDominators(fn)

	for bi, b := range fn.Blocks {
		for ii, instr := range b.Instr {
			for _, u := range instr.Uses() {
				d, ok := defs[u]
				if !ok {
					problems = append(problems, fmt.Sprintf("register %d used before any definition", u))
					continue
				}
				if d.block == bi {
					if d.idx >= ii {
						problems = append(problems, fmt.Sprintf("register %d used before its definition within block %q", u, b.Label))
					}
					continue
				}
				if !dom.dominates(d.block, bi) {
					problems = append(problems, fmt.Sprintf("register %d, defined in block %q, does not dominate its use in block %q", u, fn.Blocks[d.block].Label, b.Label))
				}
			}
		}
	}
	return problems
}

// domInfo is the result of a classical iterative dominator computation
// over a function's normal (non-exceptional) control-flow graph.
type domInfo struct {
	idom []int // immediate dominator per block index; -1 for the entry
}

func (d domInfo) dominates(a, b int) bool {
	for cur := b; ; {
		if cur == a {
			return true
		}
		if d.idom[cur] == -1 {
			return cur == a
		}
		cur = d.idom[cur]
	}
}

func computeDominators(fn *Function) domInfo {
	n := len(fn.Blocks)
	if n == 0 {
		return domInfo{}
	}
	preds := make([][]int, n)
	for bi, b := range fn.Blocks {
		for _, t := range b.Targets(fn) {
			if t >= 0 && t < n {
				preds[t] = append(preds[t], bi)
			}
		}
	}

	idom := make([]int, n)
	for i := range idom {
		idom[i] = -2 // unset sentinel, distinct from -1 (entry)
	}
	idom[0] = -1

	rpo := reversePostorder(fn)
	rpoIndex := make([]int, n)
	for i, b := range rpo {
		rpoIndex[b] = i
	}

	changed := true
	for changed {
		changed = false
		for _, b := range rpo {
			if b == 0 {
				continue
			}
			newIdom := -2
			for _, p := range preds[b] {
				if idom[p] == -2 {
					continue
				}
				if newIdom == -2 {
					newIdom = p
					continue
				}
				newIdom = intersect(idom, rpoIndex, newIdom, p)
			}
			if newIdom != idom[b] {
				idom[b] = newIdom
				changed = true
			}
		}
	}
	for i := range idom {
		if idom[i] == -2 {
			idom[i] = -1
		}
	}
	return domInfo{idom: idom}
}

func intersect(idom, rpoIndex []int, a, b int) int {
	for a != b {
		for rpoIndex[a] > rpoIndex[b] {
			a = idom[a]
		}
		for rpoIndex[b] > rpoIndex[a] {
			b = idom[b]
		}
	}
	return a
}

func reversePostorder(fn *Function) []int {
	n := len(fn.Blocks)
	visited := make([]bool, n)
	var order []int
	var visit func(int)
	visit = func(b int) {
		if visited[b] {
			return
		}
		visited[b] = true
		for _, t := range fn.Blocks[b].Targets(fn) {
			if t >= 0 && t < n {
				visit(t)
			}
		}
		order = append(order, b)
	}
	if n > 0 {
		visit(0)
	}
	// order is postorder; reverse it, then append any unreachable
	// blocks (still need an index for the dominance map).
	rev := make([]int, 0, n)
	for i := len(order) - 1; i >= 0; i-- {
		rev = append(rev, order[i])
	}
	for i := 0; i < n; i++ {
		if !visited[i] {
			rev = append(rev, i)
		}
	}
	return rev
}

func checkTryRegionForest(fn *Function) []string {
	var problems []string
	for ri, r := range fn.TryRegions {
		if r.Start < 0 || r.End > len(fn.Blocks) || r.Start >= r.End {
			problems = append(problems, fmt.Sprintf("try-region %d has an invalid span [%d,%d)", ri, r.Start, r.End))
			continue
		}
		if r.Parent != -1 {
			if r.Parent < 0 || r.Parent >= len(fn.TryRegions) {
				problems = append(problems, fmt.Sprintf("try-region %d has an invalid parent %d", ri, r.Parent))
				continue
			}
			p := fn.TryRegions[r.Parent]
			if r.Start < p.Start || r.End > p.End {
				problems = append(problems, fmt.Sprintf("try-region %d is not nested within its parent %d", ri, r.Parent))
			}
		}
		for hi, h := range r.Handlers {
			if h.Handler < 0 || h.Handler >= len(fn.Blocks) {
				problems = append(problems, fmt.Sprintf("try-region %d handler %d targets an invalid block %d", ri, hi, h.Handler))
			}
		}
	}
	// Sibling regions at the same nesting level must not partially
	// overlap (a proper forest requires either disjoint or nested
	// spans).
	for i := range fn.TryRegions {
		for j := i + 1; j < len(fn.TryRegions); j++ {
			a, b := fn.TryRegions[i], fn.TryRegions[j]
			if overlaps(a, b) && !nested(a, b) && !nested(b, a) {
				problems = append(problems, fmt.Sprintf("try-regions %d and %d partially overlap", i, j))
			}
		}
	}
	return problems
}

func overlaps(a, b TryRegion) bool { return a.Start < b.End && b.Start < a.End }
func nested(inner, outer TryRegion) bool {
	return inner.Start >= outer.Start && inner.End <= outer.End
}

func checkSuspensionPlacement(fn *Function) []string {
	var problems []string
	for _, b := range fn.Blocks {
		term, ok := b.Terminator()
		if !ok {
			continue
		}
		switch term.Op {
		case OpAwaitSuspend:
			if !fn.Sig.Async {
				problems = append(problems, fmt.Sprintf("await_suspend in block %q of non-async function %q", b.Label, fn.Name))
			}
		case OpYieldSuspend:
			if !fn.Sig.Gen {
				problems = append(problems, fmt.Sprintf("yield_suspend in block %q of non-generator function %q", b.Label, fn.Name))
			}
		}
	}
	return problems
}

func checkDispatch(fn *Function, classes ClassInfo) []string {
	var problems []string
	for _, b := range fn.Blocks {
		for _, instr := range b.Instr {
			switch instr.Op {
			case OpCallVirtual:
				size, ok := classes.VTableSize(instr.ClassID)
				if !ok {
					problems = append(problems, fmt.Sprintf("call_virtual targets unknown class %d", instr.ClassID))
				} else if instr.Slot < 0 || instr.Slot >= size {
					problems = append(problems, fmt.Sprintf("call_virtual slot %d out of range for class %d (v-table size %d)", instr.Slot, instr.ClassID, size))
				}
			case OpCallNative:
				if !classes.IsNativeLibrary(instr.ClassID) {
					problems = append(problems, fmt.Sprintf("call_native targets class %d, which is not a NativeLibrary", instr.ClassID))
				}
			}
		}
	}
	return problems
}
