package object

import (
	"testing"

	"kaubo/internal/value"
)

func TestStringRoundTrip(t *testing.T) {
	s := NewString("hello")
	v := s.Value()
	if !v.IsPointer() || v.Kind() != value.KindString {
		t.Fatal("string value not tagged as pointer/KindString")
	}
	if AsString(v).Chars != "hello" {
		t.Fatalf("got %q", AsString(v).Chars)
	}
}

func TestListEquality(t *testing.T) {
	a := NewList([]value.Value{value.Int(1), value.Int(2)}).Value()
	b := NewList([]value.Value{value.Int(1), value.Int(2)}).Value()
	c := NewList([]value.Value{value.Int(1), value.Int(3)}).Value()
	if !Equal(a, b) {
		t.Fatal("structurally equal lists should compare equal")
	}
	if Equal(a, c) {
		t.Fatal("structurally different lists should not compare equal")
	}
}

func TestStringContentEquality(t *testing.T) {
	a := NewString("x").Value()
	b := NewString("x").Value()
	if a == b {
		t.Fatal("distinct allocations should not be bitwise equal")
	}
	if !Equal(a, b) {
		t.Fatal("equal contents should compare equal via object.Equal")
	}
}

func TestShapeFieldIndex(t *testing.T) {
	shape := NewShape(1, "Point", []string{"x", "y"})
	if shape.FieldIndex("y") != 1 {
		t.Fatalf("FieldIndex(y) = %d want 1", shape.FieldIndex("y"))
	}
	if shape.FieldIndex("z") != -1 {
		t.Fatal("FieldIndex(z) should be -1")
	}
}

func TestStructGetSet(t *testing.T) {
	shape := NewShape(1, "Point", []string{"x", "y"})
	s := NewStruct(shape)
	if !s.Set("x", value.Int(3)) {
		t.Fatal("Set(x) should succeed")
	}
	got, ok := s.Get("x")
	if !ok || got.AsInt() != 3 {
		t.Fatalf("Get(x) = %v, %v", got, ok)
	}
	if _, ok := s.Get("nope"); ok {
		t.Fatal("Get on unknown field should fail")
	}
}

func TestOperatorReverseAndMethodName(t *testing.T) {
	if OpAdd.MethodName() != "add" {
		t.Fatalf("Add.MethodName() = %q", OpAdd.MethodName())
	}
	rev, ok := OpAdd.Reverse()
	if !ok || rev != OpRAdd {
		t.Fatalf("Add.Reverse() = %v, %v", rev, ok)
	}
	if _, ok := OpEq.Reverse(); ok {
		t.Fatal("Eq has no reverse")
	}
	op, ok := OperatorFromMethodName("mul")
	if !ok || op != OpMul {
		t.Fatalf("OperatorFromMethodName(mul) = %v, %v", op, ok)
	}
}

func TestUpvalueOpenClose(t *testing.T) {
	slot := value.Int(7)
	up := NewUpvalue(&slot)
	if !up.IsOpen() {
		t.Fatal("fresh upvalue should be open")
	}
	slot = value.Int(8)
	if up.Get().AsInt() != 8 {
		t.Fatal("open upvalue should observe writes through the stack slot")
	}
	up.Close()
	if up.IsOpen() {
		t.Fatal("upvalue should report closed after Close")
	}
	slot = value.Int(9)
	if up.Get().AsInt() != 8 {
		t.Fatal("closed upvalue should no longer track the original slot")
	}
}

func TestModuleExportLookup(t *testing.T) {
	m := NewModule("math")
	m.Export("PI", value.Float(3.14))
	got, ok := m.Get("PI")
	if !ok || got.AsFloat() != 3.14 {
		t.Fatalf("Get(PI) = %v, %v", got, ok)
	}
	if _, ok := m.Get("TAU"); ok {
		t.Fatal("Get on unknown export should fail")
	}
}

func TestIteratorExhaustion(t *testing.T) {
	list := NewList([]value.Value{value.Int(1), value.Int(2)})
	it := NewIterator(list)
	v, ok := it.Next()
	if !ok || v.AsInt() != 1 {
		t.Fatalf("first Next() = %v, %v", v, ok)
	}
	v, ok = it.Next()
	if !ok || v.AsInt() != 2 {
		t.Fatalf("second Next() = %v, %v", v, ok)
	}
	if _, ok := it.Next(); ok {
		t.Fatal("iterator should be exhausted")
	}
}

func TestTypeNameDispatch(t *testing.T) {
	cases := []struct {
		v    value.Value
		want string
	}{
		{value.Nil(), "null"},
		{value.Bool(true), "bool"},
		{value.Int(1), "int"},
		{value.Float(1.5), "float"},
		{NewString("x").Value(), "string"},
		{NewList(nil).Value(), "list"},
	}
	for _, c := range cases {
		if got := TypeName(c.v); got != c.want {
			t.Errorf("TypeName(%v) = %q want %q", c.v, got, c.want)
		}
	}
}
