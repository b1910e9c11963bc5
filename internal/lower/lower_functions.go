package lower

import (
	"github.com/ember-lang/ember/internal/anvil"
	"github.com/ember-lang/ember/internal/typectx"
	"github.com/ember-lang/ember/internal/typedast"
)

func (l *Lowerer) lowerTopLevelFunction(fd *typedast.FunctionDecl) (*anvil.Function, error) {
	return l.lowerFunctionLike(fd.FuncID, fd.Name, anvil.KindFunction, 0, fd.Params, fd.Ret, fd.Dispatch, fd.Body)
}

// lowerFunctionLike lowers one function/method body into a fresh Anvil
// Function, dispatching to the generator/async state-machine lowerers
// when the declaration needs one. owner is the defining class for
// methods and synthetic bodies; 0 ("no class") for free functions.
func (l *Lowerer) lowerFunctionLike(id typectx.FuncID, name string, kind anvil.Kind, owner typectx.ClassID, params []*typedast.ParamDecl, ret typectx.Handle, dispatch typedast.DispatchMode, body *typedast.Block) (*anvil.Function, error) {
	switch dispatch {
	case typedast.DispatchGenerator:
		return l.lowerGeneratorBody(id, name, kind, owner, params, ret, body)
	case typedast.DispatchAsync:
		return l.lowerAsyncBody(id, name, kind, owner, params, ret, body)
	}

	sig := anvil.Signature{Params: paramTypes(params), Ret: ret}
	fn := anvil.NewFunction(id, name, kind, sig)
	fn.Owner = owner
	l.beginFunction(fn, params)

	if err := l.lowerBlock(body); err != nil {
		return nil, err
	}
	l.ensureTerminator(ret)
	return fn, nil
}

// beginFunction resets the Lowerer's per-function state and declares
// every parameter as the function's first locals, in declaration
// order, matching the teacher's convention of reserving the lowest
// local slots for parameters.
func (l *Lowerer) beginFunction(fn *anvil.Function, params []*typedast.ParamDecl) {
	l.fn = fn
	l.cur = fn.NewBlock("entry")
	l.localSlot = make(map[int]int, len(params))
	l.finallyStack = nil
	l.tryParent = -1
	for _, p := range params {
		s := fn.NewLocal(p.Name, p.Type)
		l.localSlot[p.Slot] = s
	}
}

func paramTypes(params []*typedast.ParamDecl) []typectx.Handle {
	out := make([]typectx.Handle, len(params))
	for i, p := range params {
		out[i] = p.Type
	}
	return out
}

// ensureTerminator closes a function whose body fell off its last
// statement without an explicit return — only reachable for a
// procedure (ret == typectx.Invalid); a value-returning function
// falling through is an input-contract violation the front end is
// responsible for rejecting before the middle end ever sees it.
func (l *Lowerer) ensureTerminator(ret typectx.Handle) {
	if !l.blockOpen() {
		return
	}
	l.emit(anvil.Instr{Op: anvil.OpRet})
}
