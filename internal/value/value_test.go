package value

import (
	"math"
	"testing"
	"unsafe"
)

func TestImmediateRoundTrip(t *testing.T) {
	if !Nil().IsNil() {
		t.Fatal("Nil() is not IsNil")
	}
	if !Bool(true).AsBool() || Bool(false).AsBool() {
		t.Fatal("bool round-trip broken")
	}
	for _, i := range []int32{0, 1, -1, 42, math.MaxInt32, math.MinInt32} {
		v := Int(i)
		if !v.IsInt() {
			t.Fatalf("Int(%d) not IsInt", i)
		}
		if got := v.AsInt(); got != i {
			t.Fatalf("Int(%d) round-tripped as %d", i, got)
		}
	}
}

func TestFloatCanonicalizesNaN(t *testing.T) {
	a := Float(math.NaN())
	b := Float(math.Float64frombits(0x7FF8000000000123)) // a different NaN payload
	if uint64(a) != uint64(b) {
		t.Fatalf("distinct NaN payloads did not canonicalize to the same bit pattern: %x vs %x", uint64(a), uint64(b))
	}
	if !a.IsNumber() {
		t.Fatal("canonical NaN should still report IsNumber")
	}
}

func TestTruthiness(t *testing.T) {
	cases := []struct {
		v     Value
		truth bool
	}{
		{Nil(), false},
		{Bool(false), false},
		{Bool(true), true},
		{Int(0), true},
		{Float(0), true},
	}
	for _, c := range cases {
		if got := c.v.Truthy(); got != c.truth {
			t.Errorf("%v: Truthy()=%v want %v", c.v, got, c.truth)
		}
	}
}

func TestPointerRoundTrip(t *testing.T) {
	var x int
	p := unsafe.Pointer(&x)
	v := Pointer(KindString, p)
	if !v.IsPointer() {
		t.Fatal("not IsPointer")
	}
	if v.Kind() != KindString {
		t.Fatalf("kind = %v want KindString", v.Kind())
	}
	if v.Ptr() != p {
		t.Fatalf("Ptr() = %p want %p", v.Ptr(), p)
	}
}

func TestFloatDoesNotCollideWithTags(t *testing.T) {
	// Finite floats and both infinities must not be mistaken for
	// nil/bool/int/pointer.
	for _, f := range []float64{0, -0, 1, -1, 3.14159, math.Inf(1), math.Inf(-1)} {
		v := Float(f)
		if v.IsNil() || v.IsBool() || v.IsInt() || v.IsPointer() {
			t.Errorf("Float(%v) collided with a tag: %x", f, uint64(v))
		}
		if !v.IsNumber() {
			t.Errorf("Float(%v) not IsNumber", f)
		}
	}
}

func TestEqualBitwiseForImmediates(t *testing.T) {
	if !Equal(Int(5), Int(5)) {
		t.Fatal("Int(5) should equal Int(5)")
	}
	if Equal(Int(5), Int(6)) {
		t.Fatal("Int(5) should not equal Int(6)")
	}
	if Equal(Nil(), Bool(false)) {
		t.Fatal("Nil should not equal Bool(false)")
	}
}
