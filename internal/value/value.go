// Package value implements Kaubo's NaN-boxed Value representation.
//
// Every value fits in a single 64-bit word. IEEE-754 doubles occupy
// their own bit patterns; everything else is smuggled inside the
// payload of a quiet NaN, distinguished by tag bits in the top 16 bits
// of the word (sign + 11 exponent bits + 4 high mantissa bits).
// Construction never allocates — only Pointer wraps an address the
// caller already allocated on the heap.
package value

import (
	"fmt"
	"math"
	"sync"
	"unsafe"
)

// Value is a NaN-boxed 64-bit word.
type Value uint64

const (
	// numberMask identifies the quiet-NaN band. Any Value whose bits,
	// masked against numberMask, come back unequal to numberMask is an
	// ordinary (non-NaN) float and can be reinterpreted directly.
	numberMask uint64 = 0x7FF8000000000000

	// tagMask isolates the top 16 bits (sign + exponent + top 4
	// mantissa bits) used to discriminate non-float kinds.
	tagMask uint64 = 0xFFFF000000000000

	tagNil   uint64 = 0x7FF8000000000000
	tagFalse uint64 = 0x7FF8000000000001
	tagTrue  uint64 = 0x7FF8000000000002
	// canonicalNaN is the single bit pattern every incoming float NaN
	// is folded to, so stray NaN payloads never collide with a tag.
	canonicalNaN uint64 = 0x7FF8000000000007

	tagInt uint64 = 0x7FFE000000000000 // payload: 32-bit signed int, its two's-complement bits in the low 32 bits
	tagPtr uint64 = 0x7FFC000000000000 // payload: 3-bit kind | 45-bit address

	intPayloadMask uint64 = 0x00000000FFFFFFFF
	ptrKindShift          = 45
	ptrKindMask    uint64 = 0x7
	ptrAddrMask    uint64 = (1 << 45) - 1
)

// HeapKind is the 3-bit sub-tag carried alongside a pointer Value,
// identifying which heap object type the pointer addresses.
type HeapKind uint8

const (
	KindString HeapKind = iota
	KindList
	KindFunction
	KindClosure
	KindStruct
	KindShape
	KindModule
	// KindObject is used for heap kinds that don't fit in 3 bits
	// (iterator, coroutine, native, upvalue);
	// the object's own header carries the precise sub-type.
	KindObject
)

// Float canonicalizes incoming NaNs to a single reserved bit pattern
// so stray NaNs never collide with the tag space.
func Float(f float64) Value {
	if math.IsNaN(f) {
		return Value(canonicalNaN)
	}
	return Value(math.Float64bits(f))
}

// Int constructs a 32-bit signed small integer. Construction never
// allocates.
func Int(i int32) Value {
	return Value(tagInt | (uint64(uint32(i)) & intPayloadMask))
}

// Bool constructs a boolean value.
func Bool(b bool) Value {
	if b {
		return Value(tagTrue)
	}
	return Value(tagFalse)
}

// Nil is the canonical null value.
func Nil() Value { return Value(tagNil) }

// roots keeps every object ever boxed by Pointer reachable: Go's
// garbage collector cannot see an address hidden inside a Value.
var (
	rootsMu sync.Mutex
	roots   = make(map[unsafe.Pointer]struct{})
)

// Pointer wraps an already-allocated heap address with its kind tag.
func Pointer(kind HeapKind, p unsafe.Pointer) Value {
	addr := uint64(uintptr(p))
	if addr&^ptrAddrMask != 0 {
		panic("value: pointer does not fit in the 45-bit NaN-boxed address space")
	}
	rootsMu.Lock()
	roots[p] = struct{}{}
	rootsMu.Unlock()
	return Value(tagPtr | ((uint64(kind) & ptrKindMask) << ptrKindShift) | addr)
}

// --- predicates ---

func (v Value) IsNil() bool  { return uint64(v) == tagNil }
func (v Value) IsBool() bool { return uint64(v) == tagTrue || uint64(v) == tagFalse }
func (v Value) IsInt() bool  { return uint64(v)&tagMask == tagInt }
func (v Value) IsPointer() bool { return uint64(v)&tagMask == tagPtr }

// IsNumber reports whether v is an (unboxed) float — including the
// canonicalized NaN pattern, which is a float value, just not a useful
// one.
func (v Value) IsNumber() bool {
	return !v.IsNil() && !v.IsBool() && !v.IsInt() && !v.IsPointer()
}

// AsInt extracts the 32-bit signed integer payload. Caller must have
// checked IsInt.
func (v Value) AsInt() int32 {
	return int32(uint32(uint64(v) & intPayloadMask))
}

// AsFloat reinterprets the bits as float64. Caller must have checked
// IsNumber.
func (v Value) AsFloat() float64 {
	return math.Float64frombits(uint64(v))
}

// AsBool extracts the boolean payload. Caller must have checked IsBool.
func (v Value) AsBool() bool { return uint64(v) == tagTrue }

// Kind returns the heap-kind sub-tag. Caller must have checked IsPointer.
func (v Value) Kind() HeapKind {
	return HeapKind((uint64(v) >> ptrKindShift) & ptrKindMask)
}

// Ptr extracts the raw heap address. Caller must have checked IsPointer.
func (v Value) Ptr() unsafe.Pointer {
	return unsafe.Pointer(uintptr(uint64(v) & ptrAddrMask))
}

// AsNumber widens either an int or a float to float64 for arithmetic
// promotion, per the overflow-to-float rule.
func (v Value) AsNumber() float64 {
	if v.IsInt() {
		return float64(v.AsInt())
	}
	return v.AsFloat()
}

// Truthy implements Kaubo's truthiness rule: false and null are
// falsy; every other immediate value is truthy. Heap kinds (string,
// list, struct, …) are always truthy, empty strings and lists
// included; the object package's Truthy delegates to this one.
func (v Value) Truthy() bool {
	if v.IsNil() {
		return false
	}
	if v.IsBool() {
		return v.AsBool()
	}
	return true
}

func (v Value) String() string {
	switch {
	case v.IsNil():
		return "null"
	case v.IsBool():
		if v.AsBool() {
			return "true"
		}
		return "false"
	case v.IsInt():
		return fmt.Sprintf("%d", v.AsInt())
	case v.IsNumber():
		return fmt.Sprintf("%g", v.AsFloat())
	case v.IsPointer():
		return fmt.Sprintf("<object kind=%d addr=%p>", v.Kind(), v.Ptr())
	default:
		return "<unknown>"
	}
}

// Equal implements bitwise equality for immediate values and pointer
// equality for heap values. Content equality for strings and lists is
// layered on top by the object package.
func Equal(a, b Value) bool {
	return a == b
}
