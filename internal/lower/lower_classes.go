package lower

import (
	"github.com/ember-lang/ember/internal/anvil"
	"github.com/ember-lang/ember/internal/typedast"
)

// lowerClass lowers every concrete method body of cd, dispatching
// `@native` methods to the FFI thunk lowerer and generating the
// to_json/from_json synthetic pair for a `serializable: json` class.
func (l *Lowerer) lowerClass(cd *typedast.ClassDecl) error {
	for _, m := range cd.Methods {
		if m.Dispatch == typedast.DispatchNative {
			fn, err := l.lowerNativeThunk(cd, m)
			if err != nil {
				return err
			}
			l.Mod.AddFunction(fn)
			continue
		}
		if m.Body == nil {
			continue // abstract method, nothing to lower
		}
		fn, err := l.lowerFunctionLike(m.FuncID, cd.Name+"."+m.Name, anvil.KindMethod, cd.ID, m.Params, m.Ret, m.Dispatch, m.Body)
		if err != nil {
			return err
		}
		l.Mod.AddFunction(fn)
	}

	if cd.Serialization == typedast.SerializeJSON {
		if err := l.lowerSerializationMethods(cd); err != nil {
			return err
		}
	}
	return nil
}
