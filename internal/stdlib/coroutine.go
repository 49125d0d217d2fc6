package stdlib

import (
	"fmt"

	kerrors "kaubo/internal/errors"
	"kaubo/internal/object"
	"kaubo/internal/value"
	"kaubo/internal/vm"
)

// registerCoroutine exposes spec.md §4.8's Created -> Running ->
// (Suspended <-> Running) -> Finished | Failed state machine to Kaubo
// code: coroutine(fn) creates one, resume(co, ...) drives it forward,
// and yield(v) suspends the currently running one. All three close
// over v to reach the VM methods (NewCoroutine/Resume/Yield/
// InCoroutine) that already implement the state machine — the Native
// ABI otherwise has no way to reach the VM, same reasoning as
// registerCore's printFn.
func registerCoroutine(v *vm.VM) {
	v.DefineGlobal("coroutine", object.NewNative("coroutine", 1, coroutineFn(v)).Value())
	v.DefineGlobal("resume", object.NewNative("resume", object.VariadicArity, resumeFn(v)).Value())
	v.DefineGlobal("yield", object.NewNative("yield", 1, yieldFn(v)).Value())
}

// coroutineFn wraps a callable in a fresh, not-yet-started coroutine
// (CoroutineCreated).
func coroutineFn(v *vm.VM) object.NativeFn {
	return func(args []value.Value) (value.Value, error) {
		closure, err := argClosure(args[0], "coroutine's argument")
		if err != nil {
			return value.Nil(), err
		}
		return v.NewCoroutine(closure).Value(), nil
	}
}

// resumeFn runs a coroutine until it yields, returns, or fails. The
// first argument is the coroutine; any further arguments are the
// values passed into it (the call arguments on the first resume, or
// the suspended yield expression's result on later ones).
func resumeFn(v *vm.VM) object.NativeFn {
	return func(args []value.Value) (value.Value, error) {
		if len(args) == 0 {
			return value.Nil(), fmt.Errorf("resume expects a coroutine argument")
		}
		co, err := argCoroutine(args[0], "resume's first argument")
		if err != nil {
			return value.Nil(), err
		}
		return v.Resume(co, args[1:])
	}
}

// yieldFn suspends the currently running coroutine, reporting
// InvalidState instead of panicking if called outside one.
func yieldFn(v *vm.VM) object.NativeFn {
	return func(args []value.Value) (value.Value, error) {
		if !v.InCoroutine() {
			return value.Nil(), kerrors.NewRuntimeError(kerrors.InvalidState, 0, "yield called outside a coroutine")
		}
		return v.Yield(args[0]), nil
	}
}
