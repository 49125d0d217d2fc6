package stdlib

import (
	"fmt"
	"math"

	"kaubo/internal/object"
	"kaubo/internal/value"
	"kaubo/internal/vm"
)

// registerCore installs the natives and constants every Kaubo program
// gets without an import: print, assert, type, to_string, and the
// math one-liners spec.md lists (sqrt/sin/cos/floor/ceil, PI, E).
// Grounded on the teacher's stdlib registration pattern (one native
// per builtin, registered by name against the VM) in
// internal/stdlib/database_funcs.go, generalized to this VM's
// object.NativeFn ABI (args in, (Value, error) out, no VM parameter —
// anything needing the VM, like print's output sink, closes over it
// at registration time instead).
func registerCore(v *vm.VM) {
	v.DefineGlobal("print", object.NewNative("print", object.VariadicArity, printFn(v)).Value())
	v.DefineGlobal("assert", object.NewNative("assert", object.VariadicArity, assertFn).Value())
	v.DefineGlobal("type", object.NewNative("type", 1, typeFn).Value())
	v.DefineGlobal("to_string", object.NewNative("to_string", 1, toStringFn).Value())

	v.DefineGlobal("sqrt", object.NewNative("sqrt", 1, mathFn1(math.Sqrt)).Value())
	v.DefineGlobal("sin", object.NewNative("sin", 1, mathFn1(math.Sin)).Value())
	v.DefineGlobal("cos", object.NewNative("cos", 1, mathFn1(math.Cos)).Value())
	v.DefineGlobal("floor", object.NewNative("floor", 1, mathFn1(math.Floor)).Value())
	v.DefineGlobal("ceil", object.NewNative("ceil", 1, mathFn1(math.Ceil)).Value())

	v.DefineGlobal("PI", value.Float(math.Pi))
	v.DefineGlobal("E", value.Float(math.E))
}

// printFn captures vm so print writes to the VM's configured Stdout
// rather than directly to os.Stdout — the Native ABI has no VM
// parameter for a builtin to reach it otherwise.
func printFn(v *vm.VM) object.NativeFn {
	return func(args []value.Value) (value.Value, error) {
		for i, a := range args {
			if i > 0 {
				fmt.Fprint(v.Stdout(), " ")
			}
			fmt.Fprint(v.Stdout(), object.Display(a))
		}
		fmt.Fprintln(v.Stdout())
		return value.Nil(), nil
	}
}

// assertFn takes a condition and an optional message, raising an
// error (surfaced by the VM as a runtime TypeError, per callNative)
// when the condition is falsy.
func assertFn(args []value.Value) (value.Value, error) {
	if len(args) == 0 || len(args) > 2 {
		return value.Nil(), fmt.Errorf("assert expects 1 or 2 arguments, got %d", len(args))
	}
	if object.Truthy(args[0]) {
		return value.Nil(), nil
	}
	if len(args) == 2 {
		return value.Nil(), fmt.Errorf("assertion failed: %s", object.Display(args[1]))
	}
	return value.Nil(), fmt.Errorf("assertion failed")
}

func typeFn(args []value.Value) (value.Value, error) {
	return object.NewString(object.TypeName(args[0])).Value(), nil
}

func toStringFn(args []value.Value) (value.Value, error) {
	return object.NewString(object.Display(args[0])).Value(), nil
}

// mathFn1 adapts a float64->float64 stdlib math function to the
// Native ABI, accepting either an int or a float operand per the
// language's numeric-promotion rule (value.AsNumber).
func mathFn1(f func(float64) float64) object.NativeFn {
	return func(args []value.Value) (value.Value, error) {
		if !args[0].IsNumber() && !args[0].IsInt() {
			return value.Nil(), fmt.Errorf("expected a number, got %s", object.TypeName(args[0]))
		}
		return value.Float(f(args[0].AsNumber())), nil
	}
}
