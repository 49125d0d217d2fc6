// Package operators implements OperatorDispatch (C6): inline-cache
// accelerated polymorphic operator resolution, grounded on
// next_kaubo's kaubo-core/src/runtime/operators.rs (the Operator enum,
// reverse-operator table, and method-name mapping) and spec.md §4.5's
// resolution algorithm. The VM owns inline-cache storage (each
// bytecode.InlineCache lives in its Chunk); this package is pure
// resolution logic over values the VM hands it.
package operators

import (
	"errors"
	"fmt"

	"kaubo/internal/bytecode"
	kerrors "kaubo/internal/errors"
	"kaubo/internal/object"
	"kaubo/internal/value"
)

// errOperandMismatch marks a builtin handler's "this operand
// combination isn't mine" result, distinct from a genuine runtime
// error (DivisionByZero, IndexOutOfBounds) the handler raises for
// operand types it does cover. fullLookup falls through to shape
// methods only on the former; the latter propagates immediately.
var errOperandMismatch = errors.New("operators: operand combination not handled by this builtin")

// Reserved shape ids for primitive types, per spec.md §4.5: "each
// primitive type has a synthetic reserved shape id ... ids 1..6
// reserved". User struct shapes are allocated starting at
// FirstUserShapeID by the compiler's monotonic counter.
const (
	ShapeInt    uint16 = 1
	ShapeFloat  uint16 = 2
	ShapeBool   uint16 = 3
	ShapeNull   uint16 = 4
	ShapeString uint16 = 5
	ShapeList   uint16 = 6

	FirstUserShapeID uint16 = 7
)

// MegamorphicThreshold is the number of misses after which a call
// site is demoted to always-do-full-lookup, per spec.md §4.5's
// "implementation-defined, suggested 8". The count is the site's
// lifetime miss total: hits do not reset it, so the misses need not
// be consecutive.
const MegamorphicThreshold = 8

// ShapeOf returns v's dispatch shape id: the reserved primitive id for
// immediates and built-in heap kinds, or the struct's own shape id.
func ShapeOf(v value.Value) uint16 {
	switch {
	case v.IsNil():
		return ShapeNull
	case v.IsBool():
		return ShapeBool
	case v.IsInt():
		return ShapeInt
	case v.IsNumber():
		return ShapeFloat
	case v.IsPointer():
		switch v.Kind() {
		case value.KindString:
			return ShapeString
		case value.KindList:
			return ShapeList
		case value.KindStruct:
			return object.AsStruct(v).Shape.ID
		}
	}
	return ShapeNull
}

// BuiltinHandler is a resolved fast-path implementation for a
// primitive/primitive (or primitive/heap) operand combination. It is
// what an inline cache's Handler field holds when the resolved
// implementation is not a user operator method.
type BuiltinHandler func(left, right value.Value) (value.Value, error)

// Invoker calls a resolved user operator method closure with the
// operator's operands as arguments, returning its result. The VM
// supplies this (it owns the call-frame machinery); this package
// never pushes frames itself, per spec.md §4.5's "execute by setting
// up a regular call frame".
type Invoker func(closure *object.Closure, args []value.Value) (value.Value, error)

// Resolve executes op against left/right (right is ignored for unary
// operators), using and updating cache per spec.md §4.5's four-step
// algorithm: IC hit, full lookup on miss, megamorphic demotion once
// cache.Misses (cumulative, never reset by a hit) reaches
// MegamorphicThreshold.
func Resolve(cache *bytecode.InlineCache, op object.Operator, left, right value.Value, shapes map[uint16]*object.Shape, invoke Invoker) (value.Value, error) {
	ls := ShapeOf(left)
	rs := bytecode.NoShape
	if !op.IsUnary() {
		rs = ShapeOf(right)
	}

	if cache.Handler != nil && cache.Matches(ls, rs) {
		cache.Hits++
		return invokeHandler(cache.Handler, left, right, invoke)
	}

	result, handler, err := fullLookup(op, left, right, ls, rs, shapes, invoke)
	if err != nil {
		cache.Misses++
		if cache.Misses >= MegamorphicThreshold {
			cache.Handler = nil
			cache.LeftShape = bytecode.NoShape
			cache.RightShape = bytecode.NoShape
		}
		return value.Nil(), err
	}

	cache.Misses++
	if cache.Misses >= MegamorphicThreshold {
		// Megamorphic: keep serving correct results via fullLookup on
		// every call, but stop pretending this site is monomorphic.
		cache.Handler = nil
		cache.LeftShape = bytecode.NoShape
		cache.RightShape = bytecode.NoShape
	} else {
		cache.Handler = handler
		cache.LeftShape = ls
		cache.RightShape = rs
	}
	return result, nil
}

func invokeHandler(handler any, left, right value.Value, invoke Invoker) (value.Value, error) {
	switch h := handler.(type) {
	case BuiltinHandler:
		return h(left, right)
	case *object.Closure:
		return invoke(h, []value.Value{left, right})
	default:
		return value.Nil(), fmt.Errorf("operators: unknown inline cache handler type %T", handler)
	}
}

// fullLookup performs the cold-path resolution: built-in table, then
// the left shape's operator method, then the reverse operator on the
// right shape, then TypeError.
func fullLookup(op object.Operator, left, right value.Value, ls, rs uint16, shapes map[uint16]*object.Shape, invoke Invoker) (value.Value, any, error) {
	if handler, ok := builtins[op]; ok {
		result, err := handler(left, right)
		if err == nil {
			return result, BuiltinHandler(handler), nil
		}
		if !errors.Is(err, errOperandMismatch) {
			return value.Nil(), nil, err
		}
	}

	if shape, ok := shapes[ls]; ok {
		if closure, ok := shape.Operators[op]; ok {
			result, err := invoke(closure, []value.Value{left, right})
			return result, closure, err
		}
	}

	if rev, ok := op.Reverse(); ok {
		if shape, ok := shapes[rs]; ok {
			if closure, ok := shape.Operators[rev]; ok {
				result, err := invoke(closure, []value.Value{right, left})
				return result, closure, err
			}
		}
	}

	return value.Nil(), nil, kerrors.NewRuntimeError(kerrors.TypeError, 0,
		fmt.Sprintf("unsupported operand type(s) for %s: %s and %s", op.Symbol(), object.TypeName(left), object.TypeName(right)))
}

// builtins implements the built-in operator table: int+int, float+float,
// int+float (widen to float), string+string, list+list, plus the
// unary and comparison forms. Handlers return an error (never a Go
// panic) when the operand combination isn't one they cover, so
// fullLookup can fall through to shape methods.
var builtins = map[object.Operator]BuiltinHandler{
	object.OpAdd: func(l, r value.Value) (value.Value, error) { return numericOrConcat(l, r, "add") },
	object.OpSub: func(l, r value.Value) (value.Value, error) { return numericBinary(l, r, "sub") },
	object.OpMul: func(l, r value.Value) (value.Value, error) { return numericOrConcat(l, r, "mul") },
	object.OpDiv: func(l, r value.Value) (value.Value, error) { return numericBinary(l, r, "div") },
	object.OpMod: func(l, r value.Value) (value.Value, error) { return numericBinary(l, r, "mod") },
	object.OpNeg: func(l, _ value.Value) (value.Value, error) { return numericUnary(l) },
	object.OpEq:  func(l, r value.Value) (value.Value, error) { return value.Bool(object.Equal(l, r)), nil },
	object.OpLt:  func(l, r value.Value) (value.Value, error) { return numericCompare(l, r, func(a, b float64) bool { return a < b }) },
	object.OpLe:  func(l, r value.Value) (value.Value, error) { return numericCompare(l, r, func(a, b float64) bool { return a <= b }) },
	object.OpLen: func(l, _ value.Value) (value.Value, error) { return lengthOf(l) },
	object.OpStr: func(l, _ value.Value) (value.Value, error) { return object.NewString(object.Display(l)).Value(), nil },
	object.OpGet: func(l, r value.Value) (value.Value, error) { return indexGet(l, r) },
}

func isNumeric(v value.Value) bool { return v.IsInt() || v.IsNumber() }


func numericBinary(l, r value.Value, op string) (value.Value, error) {
	if !isNumeric(l) || !isNumeric(r) {
		return value.Nil(), errOperandMismatch
	}
	if l.IsInt() && r.IsInt() {
		li, ri := l.AsInt(), r.AsInt()
		switch op {
		case "sub":
			return overflowingIntResult(int64(li) - int64(ri)), nil
		case "div":
			if ri == 0 {
				return value.Nil(), kerrors.NewRuntimeError(kerrors.DivisionByZero, 0, "")
			}
			return overflowingIntResult(int64(li) / int64(ri)), nil
		case "mod":
			if ri == 0 {
				return value.Nil(), kerrors.NewRuntimeError(kerrors.DivisionByZero, 0, "")
			}
			return overflowingIntResult(int64(li) % int64(ri)), nil
		}
	}
	lf, rf := l.AsNumber(), r.AsNumber()
	switch op {
	case "sub":
		return value.Float(lf - rf), nil
	case "div":
		return value.Float(lf / rf), nil
	case "mod":
		return value.Float(float64(int64(lf) % int64(rf))), nil
	}
	return value.Nil(), errOperandMismatch
}

func numericOrConcat(l, r value.Value, op string) (value.Value, error) {
	if l.IsPointer() && r.IsPointer() && l.Kind() == value.KindString && r.Kind() == value.KindString && op == "add" {
		return object.NewString(object.AsString(l).Chars + object.AsString(r).Chars).Value(), nil
	}
	if l.IsPointer() && r.IsPointer() && l.Kind() == value.KindList && r.Kind() == value.KindList && op == "add" {
		la, ra := object.AsList(l), object.AsList(r)
		combined := make([]value.Value, 0, len(la.Elements)+len(ra.Elements))
		combined = append(combined, la.Elements...)
		combined = append(combined, ra.Elements...)
		return object.NewList(combined).Value(), nil
	}
	if !isNumeric(l) || !isNumeric(r) {
		return value.Nil(), errOperandMismatch
	}
	if l.IsInt() && r.IsInt() {
		li, ri := l.AsInt(), r.AsInt()
		switch op {
		case "add":
			return overflowingIntResult(int64(li) + int64(ri)), nil
		case "mul":
			return overflowingIntResult(int64(li) * int64(ri)), nil
		}
	}
	lf, rf := l.AsNumber(), r.AsNumber()
	switch op {
	case "add":
		return value.Float(lf + rf), nil
	case "mul":
		return value.Float(lf * rf), nil
	}
	return value.Nil(), errOperandMismatch
}

// overflowingIntResult implements spec.md §3/§9's "32-bit integers
// with overflow-to-float promotion": a result that still fits in
// int32 stays a smi, otherwise it widens to float.
func overflowingIntResult(v int64) value.Value {
	const minI32, maxI32 = -2147483648, 2147483647
	if v >= minI32 && v <= maxI32 {
		return value.Int(int32(v))
	}
	return value.Float(float64(v))
}

func numericUnary(l value.Value) (value.Value, error) {
	if !isNumeric(l) {
		return value.Nil(), errOperandMismatch
	}
	if l.IsInt() {
		return overflowingIntResult(-int64(l.AsInt())), nil
	}
	return value.Float(-l.AsFloat()), nil
}

func numericCompare(l, r value.Value, cmp func(a, b float64) bool) (value.Value, error) {
	if !isNumeric(l) || !isNumeric(r) {
		return value.Nil(), errOperandMismatch
	}
	return value.Bool(cmp(l.AsNumber(), r.AsNumber())), nil
}

func lengthOf(v value.Value) (value.Value, error) {
	if v.IsPointer() {
		switch v.Kind() {
		case value.KindString:
			return value.Int(int32(len(object.AsString(v).Chars))), nil
		case value.KindList:
			return value.Int(int32(len(object.AsList(v).Elements))), nil
		}
	}
	return value.Nil(), errOperandMismatch
}

func indexGet(collection, index value.Value) (value.Value, error) {
	if collection.IsPointer() && collection.Kind() == value.KindList && index.IsInt() {
		list := object.AsList(collection)
		i := int(index.AsInt())
		if i < 0 || i >= len(list.Elements) {
			return value.Nil(), kerrors.NewRuntimeError(kerrors.IndexOutOfBounds, 0, fmt.Sprintf("index %d out of bounds (len %d)", i, len(list.Elements)))
		}
		return list.Elements[i], nil
	}
	if collection.IsPointer() && collection.Kind() == value.KindString && index.IsInt() {
		s := object.AsString(collection).Chars
		i := int(index.AsInt())
		if i < 0 || i >= len(s) {
			return value.Nil(), kerrors.NewRuntimeError(kerrors.IndexOutOfBounds, 0, fmt.Sprintf("index %d out of bounds (len %d)", i, len(s)))
		}
		return object.NewString(string(s[i])).Value(), nil
	}
	return value.Nil(), errOperandMismatch
}


// ResolveSet implements the three-operand SetIndex dispatch: builtin
// list mutation, falling back to the collection's shape `set`
// operator method. It shares the cache's shape-matching discipline
// with Resolve but keys only on the collection's shape, since index
// assignment's "right operand" position is occupied by the index, not
// a second dispatch-relevant operand.
func ResolveSet(cache *bytecode.InlineCache, collection, index, newValue value.Value, shapes map[uint16]*object.Shape, invoke Invoker) error {
	ls := ShapeOf(collection)

	if cache.Handler != nil && cache.Matches(ls, bytecode.NoShape) {
		cache.Hits++
		return invokeSetHandler(cache.Handler, collection, index, newValue, invoke)
	}

	if collection.IsPointer() && collection.Kind() == value.KindList && index.IsInt() {
		list := object.AsList(collection)
		i := int(index.AsInt())
		if i < 0 || i >= len(list.Elements) {
			cache.Misses++
			return kerrors.NewRuntimeError(kerrors.IndexOutOfBounds, 0, fmt.Sprintf("index %d out of bounds (len %d)", i, len(list.Elements)))
		}
		list.Elements[i] = newValue
		cache.Misses++
		if cache.Misses >= MegamorphicThreshold {
			cache.Handler, cache.LeftShape, cache.RightShape = nil, bytecode.NoShape, bytecode.NoShape
		} else {
			cache.Handler = BuiltinHandler(func(value.Value, value.Value) (value.Value, error) { return value.Nil(), nil })
			cache.LeftShape, cache.RightShape = ls, bytecode.NoShape
		}
		return nil
	}

	if shape, ok := shapes[ls]; ok {
		if closure, ok := shape.Operators[object.OpSet]; ok {
			_, err := invoke(closure, []value.Value{collection, index, newValue})
			cache.Misses++
			if err == nil && cache.Misses < MegamorphicThreshold {
				cache.Handler, cache.LeftShape, cache.RightShape = closure, ls, bytecode.NoShape
			}
			return err
		}
	}

	return kerrors.NewRuntimeError(kerrors.TypeError, 0, fmt.Sprintf("unsupported operand type(s) for []=: %s", object.TypeName(collection)))
}

func invokeSetHandler(handler any, collection, index, newValue value.Value, invoke Invoker) error {
	switch h := handler.(type) {
	case BuiltinHandler:
		if collection.IsPointer() && collection.Kind() == value.KindList && index.IsInt() {
			object.AsList(collection).Elements[int(index.AsInt())] = newValue
			return nil
		}
		_, err := h(collection, newValue)
		return err
	case *object.Closure:
		_, err := invoke(h, []value.Value{collection, index, newValue})
		return err
	default:
		return fmt.Errorf("operators: unknown inline cache handler type %T", handler)
	}
}
