package operators

import (
	"testing"

	"kaubo/internal/bytecode"
	"kaubo/internal/object"
	"kaubo/internal/value"
)

func noopInvoke(*object.Closure, []value.Value) (value.Value, error) {
	return value.Nil(), nil
}

func TestResolveAddIntColdThenHot(t *testing.T) {
	cache := &bytecode.InlineCache{LeftShape: bytecode.NoShape, RightShape: bytecode.NoShape}
	shapes := map[uint16]*object.Shape{}

	result, err := Resolve(cache, object.OpAdd, value.Int(3), value.Int(4), shapes, noopInvoke)
	if err != nil {
		t.Fatal(err)
	}
	if result.AsInt() != 7 {
		t.Fatalf("3+4 = %d want 7", result.AsInt())
	}
	if cache.Misses != 1 || cache.Hits != 0 {
		t.Fatalf("expected one miss after cold resolution, got hits=%d misses=%d", cache.Hits, cache.Misses)
	}
	if !cache.Matches(ShapeInt, ShapeInt) {
		t.Fatal("cache should remember (int, int) after the cold lookup")
	}

	result, err = Resolve(cache, object.OpAdd, value.Int(1), value.Int(2), shapes, noopInvoke)
	if err != nil {
		t.Fatal(err)
	}
	if result.AsInt() != 3 {
		t.Fatalf("1+2 = %d want 3", result.AsInt())
	}
	if cache.Hits != 1 {
		t.Fatalf("expected one hit, got %d", cache.Hits)
	}
}

func TestResolveOverflowPromotesToFloat(t *testing.T) {
	cache := &bytecode.InlineCache{}
	result, err := Resolve(cache, object.OpAdd, value.Int(2147483647), value.Int(1), nil, noopInvoke)
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsNumber() {
		t.Fatal("overflowing int add should promote to float")
	}
}

func TestResolveDivisionByZero(t *testing.T) {
	cache := &bytecode.InlineCache{}
	_, err := Resolve(cache, object.OpDiv, value.Int(1), value.Int(0), nil, noopInvoke)
	if err == nil {
		t.Fatal("expected division-by-zero error")
	}
}

func TestResolveStructOperatorMethod(t *testing.T) {
	shape := object.NewShape(FirstUserShapeID, "V", []string{"x"})
	fn := &object.Function{Name: "add", Arity: 2}
	closure := object.NewClosure(fn)
	shape.RegisterOperator(object.OpAdd, closure)

	s1 := object.NewStruct(shape)
	s1.Set("x", value.Int(1))
	s2 := object.NewStruct(shape)
	s2.Set("x", value.Int(2))

	var invoked bool
	invoke := func(c *object.Closure, args []value.Value) (value.Value, error) {
		invoked = true
		if c != closure {
			t.Fatal("wrong closure invoked")
		}
		return value.Int(99), nil
	}

	cache := &bytecode.InlineCache{}
	shapes := map[uint16]*object.Shape{shape.ID: shape}
	result, err := Resolve(cache, object.OpAdd, s1.Value(), s2.Value(), shapes, invoke)
	if err != nil {
		t.Fatal(err)
	}
	if !invoked {
		t.Fatal("expected struct operator method to be invoked")
	}
	if result.AsInt() != 99 {
		t.Fatalf("result = %d want 99", result.AsInt())
	}
}

func TestResolveTypeErrorOnUnsupportedOperands(t *testing.T) {
	cache := &bytecode.InlineCache{}
	_, err := Resolve(cache, object.OpSub, object.NewString("x").Value(), value.Int(1), map[uint16]*object.Shape{}, noopInvoke)
	if err == nil {
		t.Fatal("expected a type error for string - int")
	}
}

func TestMegamorphicDemotionAfterThreshold(t *testing.T) {
	cache := &bytecode.InlineCache{}
	shapes := map[uint16]*object.Shape{}
	for i := 0; i < MegamorphicThreshold; i++ {
		if _, err := Resolve(cache, object.OpSub, object.NewString("x").Value(), value.Int(1), shapes, noopInvoke); err == nil {
			t.Fatal("expected type error each iteration")
		}
	}
	if cache.Handler != nil {
		t.Fatal("cache should be demoted to megamorphic (nil handler) after threshold misses")
	}
}

func TestResolveSetListIndex(t *testing.T) {
	list := object.NewList([]value.Value{value.Int(1), value.Int(2), value.Int(3)})
	cache := &bytecode.InlineCache{}
	if err := ResolveSet(cache, list.Value(), value.Int(1), value.Int(42), map[uint16]*object.Shape{}, noopInvoke); err != nil {
		t.Fatal(err)
	}
	if list.Elements[1].AsInt() != 42 {
		t.Fatalf("list[1] = %d want 42", list.Elements[1].AsInt())
	}
}

func TestResolveGetIndexOutOfBounds(t *testing.T) {
	cache := &bytecode.InlineCache{}
	list := object.NewList([]value.Value{value.Int(1)})
	_, err := Resolve(cache, object.OpGet, list.Value(), value.Int(5), map[uint16]*object.Shape{}, noopInvoke)
	if err == nil {
		t.Fatal("expected index-out-of-bounds error")
	}
}
