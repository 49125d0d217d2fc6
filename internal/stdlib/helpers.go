package stdlib

import (
	"fmt"

	"kaubo/internal/object"
	"kaubo/internal/value"
)

// argString extracts a string argument, naming it in the error so a
// bad call reports which parameter was wrong rather than just "type
// error".
func argString(v value.Value, what string) (string, error) {
	if !v.IsPointer() || v.Kind() != value.KindString {
		return "", fmt.Errorf("expected %s to be a string, got %s", what, object.TypeName(v))
	}
	return object.AsString(v).Chars, nil
}

// argNative extracts the *object.Native backing an opaque handle
// value (database connection, websocket connection) and reports a
// clear error if the caller passed something else. KindObject is
// shared by natives, iterators, coroutines and upvalues, so the
// object's own Header.Sub distinguishes a native before the cast.
func argNative(v value.Value, what string) (*object.Native, error) {
	if !v.IsPointer() || v.Kind() != value.KindObject || object.TypeName(v) != "function" {
		return nil, fmt.Errorf("expected %s, got %s", what, object.TypeName(v))
	}
	return object.AsNative(v), nil
}

// notCallable gives an opaque handle's backing Native a well-formed
// Fn that errors clearly if Kaubo code ever tries to call the handle
// directly instead of passing it to the module function that expects it.
func notCallable(what string) object.NativeFn {
	return func(args []value.Value) (value.Value, error) {
		return value.Nil(), fmt.Errorf("%s is not callable", what)
	}
}

// argClosure extracts the *object.Closure backing a callable argument.
// Every callable value reaching a native has already been wrapped in a
// closure by the VM's OpClosure handling, even a plain top-level
// function with no captures, so KindClosure is the only case to check.
func argClosure(v value.Value, what string) (*object.Closure, error) {
	if !v.IsPointer() || v.Kind() != value.KindClosure {
		return nil, fmt.Errorf("expected %s to be callable, got %s", what, object.TypeName(v))
	}
	return object.AsClosure(v), nil
}

// argCoroutine extracts the *object.Coroutine backing a coroutine
// argument, distinguished the same way argNative distinguishes a
// native handle: by Header.Sub under the shared KindObject kind.
func argCoroutine(v value.Value, what string) (*object.Coroutine, error) {
	if !v.IsPointer() || v.Kind() != value.KindObject || object.TypeName(v) != "coroutine" {
		return nil, fmt.Errorf("expected %s to be a coroutine, got %s", what, object.TypeName(v))
	}
	return object.AsCoroutine(v), nil
}
