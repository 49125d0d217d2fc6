package vm

import (
	"bytes"
	"testing"

	"kaubo/internal/bytecode"
	"kaubo/internal/config"
	"kaubo/internal/object"
	"kaubo/internal/value"
)

func newTestVM() *VM {
	return New(config.Default(&bytes.Buffer{}))
}

func addIC(c *bytecode.Chunk) byte {
	idx, err := c.AllocateInlineCache()
	if err != nil {
		panic(err)
	}
	return idx
}

// TestArithmeticWithInlineCacheWarmup builds `1 + 2` by hand twice
// through the same call site and checks the inline cache warms from a
// cold miss to a hot hit — the scenario spec.md's testable properties
// call out by exact counters.
func TestArithmeticWithInlineCacheWarmup(t *testing.T) {
	c := bytecode.New()
	cache := addIC(c)

	one, _ := c.AddConstant(value.Int(1))
	two, _ := c.AddConstant(value.Int(2))

	// loop twice: (1+2); (1+2); return last
	for i := 0; i < 2; i++ {
		c.WriteOpByte(bytecode.OpConstant, one, 1)
		c.WriteOpByte(bytecode.OpConstant, two, 1)
		c.WriteOpByte(bytecode.OpAdd, cache, 1)
		if i == 0 {
			c.WriteOp(bytecode.OpPop, 1)
		}
	}
	c.WriteOp(bytecode.OpReturn, 1)

	m := newTestVM()
	result, err := m.Interpret(c, 0)
	if err != nil {
		t.Fatal(err)
	}
	if result.AsInt() != 3 {
		t.Fatalf("1+2 = %d want 3", result.AsInt())
	}
	ic := c.InlineCaches[cache]
	if ic.Misses != 1 || ic.Hits != 1 {
		t.Fatalf("expected one miss then one hit, got hits=%d misses=%d", ic.Hits, ic.Misses)
	}
}

// TestGlobalsDefineGetSet exercises DefineGlobal/GetGlobal/SetGlobal.
func TestGlobalsDefineGetSet(t *testing.T) {
	c := bytecode.New()
	name, _ := c.AddConstantWide(object.NewString("counter").Value())
	zero, _ := c.AddConstant(value.Int(0))
	one, _ := c.AddConstant(value.Int(1))
	cache := addIC(c)

	c.WriteOpByte(bytecode.OpConstant, zero, 1)
	c.WriteOpU16(bytecode.OpDefineGlobal, name, 1)

	c.WriteOpU16(bytecode.OpGetGlobal, name, 2)
	c.WriteOpByte(bytecode.OpConstant, one, 2)
	c.WriteOpByte(bytecode.OpAdd, cache, 2)
	c.WriteOpU16(bytecode.OpSetGlobal, name, 2)
	c.WriteOp(bytecode.OpPop, 2)

	c.WriteOpU16(bytecode.OpGetGlobal, name, 3)
	c.WriteOp(bytecode.OpReturn, 3)

	m := newTestVM()
	result, err := m.Interpret(c, 0)
	if err != nil {
		t.Fatal(err)
	}
	if result.AsInt() != 1 {
		t.Fatalf("counter = %d want 1", result.AsInt())
	}
}

// TestUndefinedGlobalIsRuntimeError checks GetGlobal on a name never
// defined raises UndefinedVariable.
func TestUndefinedGlobalIsRuntimeError(t *testing.T) {
	c := bytecode.New()
	name, _ := c.AddConstantWide(object.NewString("missing").Value())
	c.WriteOpU16(bytecode.OpGetGlobal, name, 1)
	c.WriteOp(bytecode.OpReturn, 1)

	m := newTestVM()
	if _, err := m.Interpret(c, 0); err == nil {
		t.Fatal("expected an undefined-variable error")
	}
}

// TestLocalsAndCall builds a two-argument add(a, b) function and calls
// it, exercising Call's calling convention (callee below its args,
// arity validated, frame truncation on return).
func TestLocalsAndCall(t *testing.T) {
	inner := bytecode.New()
	innerCache := addIC(inner)
	inner.WriteOpByte(bytecode.OpGetLocal, 0, 1)
	inner.WriteOpByte(bytecode.OpGetLocal, 1, 1)
	inner.WriteOpByte(bytecode.OpAdd, innerCache, 1)
	inner.WriteOp(bytecode.OpReturn, 1)

	fn := &object.Function{Name: "add", Arity: 2, Chunk: inner, LocalCount: 2}

	outer := bytecode.New()
	fnConst, _ := outer.AddConstantWide(fn.Value())
	three, _ := outer.AddConstant(value.Int(3))
	four, _ := outer.AddConstant(value.Int(4))

	outer.WriteOpU16(bytecode.OpClosure, fnConst, 1) // fn has no upvalues: no descriptor bytes follow
	outer.WriteOpByte(bytecode.OpConstant, three, 1)
	outer.WriteOpByte(bytecode.OpConstant, four, 1)
	outer.WriteOpByte(bytecode.OpCall, 2, 1)
	outer.WriteOp(bytecode.OpReturn, 1)

	m := newTestVM()
	result, err := m.Interpret(outer, 0)
	if err != nil {
		t.Fatal(err)
	}
	if result.AsInt() != 7 {
		t.Fatalf("add(3,4) = %d want 7", result.AsInt())
	}
}

// TestArityMismatchIsRuntimeError checks calling a 2-arity function
// with one argument raises InvalidArity.
func TestArityMismatchIsRuntimeError(t *testing.T) {
	inner := bytecode.New()
	inner.WriteOp(bytecode.OpReturn, 1)
	fn := &object.Function{Name: "needsTwo", Arity: 2, Chunk: inner, LocalCount: 2}

	outer := bytecode.New()
	fnConst, _ := outer.AddConstantWide(fn.Value())
	one, _ := outer.AddConstant(value.Int(1))

	outer.WriteOpU16(bytecode.OpClosure, fnConst, 1)
	outer.WriteOpByte(bytecode.OpConstant, one, 1)
	outer.WriteOpByte(bytecode.OpCall, 1, 1)
	outer.WriteOp(bytecode.OpReturn, 1)

	m := newTestVM()
	if _, err := m.Interpret(outer, 0); err == nil {
		t.Fatal("expected an arity-mismatch error")
	}
}

// TestClosureCapturesAndClosesUpvalue builds a classic counter-closure
// factory: make_counter() returns a closure over a local that
// outlives make_counter's own frame, exercising OpClosure's local
// capture and Return's implicit upvalue closing.
func TestClosureCapturesAndClosesUpvalue(t *testing.T) {
	inc := bytecode.New()
	incAddCache := addIC(inc)
	inc.WriteOpByte(bytecode.OpGetUpvalue, 0, 1)
	one, _ := inc.AddConstant(value.Int(1))
	inc.WriteOpByte(bytecode.OpConstant, one, 1)
	inc.WriteOpByte(bytecode.OpAdd, incAddCache, 1)
	inc.WriteOpByte(bytecode.OpSetUpvalue, 0, 1)
	inc.WriteOp(bytecode.OpReturn, 1)
	incFn := &object.Function{Name: "inc", Arity: 0, Chunk: inc, LocalCount: 0, UpvalueCount: 1}

	maker := bytecode.New()
	zero, _ := maker.AddConstant(value.Int(0))
	incConst, _ := maker.AddConstantWide(incFn.Value())
	maker.WriteOpByte(bytecode.OpConstant, zero, 1)
	maker.WriteOpByte(bytecode.OpSetLocal, 0, 1) // local 0 = 0
	maker.WriteOp(bytecode.OpPop, 1)
	maker.WriteOpU16(bytecode.OpClosure, incConst, 1)
	maker.WriteByte(1, 1) // is_local = true
	maker.WriteByte(0, 1) // captures local slot 0
	maker.WriteOp(bytecode.OpReturn, 1)
	makerFn := &object.Function{Name: "make_counter", Arity: 0, Chunk: maker, LocalCount: 1}

	outer := bytecode.New()
	makerConst, _ := outer.AddConstantWide(makerFn.Value())
	outer.WriteOpU16(bytecode.OpClosure, makerConst, 1)
	outer.WriteOpByte(bytecode.OpCall, 0, 1) // -> closure(inc) on stack, local 0 of outer
	outer.WriteOpByte(bytecode.OpSetLocal, 0, 1)
	outer.WriteOp(bytecode.OpPop, 1)
	outer.WriteOpByte(bytecode.OpGetLocal, 0, 1)
	outer.WriteOpByte(bytecode.OpCall, 0, 1) // first increment -> 1
	outer.WriteOp(bytecode.OpPop, 1)
	outer.WriteOpByte(bytecode.OpGetLocal, 0, 1)
	outer.WriteOpByte(bytecode.OpCall, 0, 1) // second increment -> 2
	outer.WriteOp(bytecode.OpReturn, 1)

	m := newTestVM()
	result, err := m.Interpret(outer, 1)
	if err != nil {
		t.Fatal(err)
	}
	if result.AsInt() != 2 {
		t.Fatalf("counter after two increments = %d want 2", result.AsInt())
	}
}

// TestStructFieldAccess builds a two-field struct, overwrites one
// field, and reads it back through MakeStruct/GetField/SetField.
func TestStructFieldAccess(t *testing.T) {
	shape := object.NewShape(7, "Point", []string{"x", "y"})

	c := bytecode.New()
	shapeConst, _ := c.AddConstantWide(value.Int(int32(shape.ID)))
	xName, _ := c.AddConstantWide(object.NewString("x").Value())
	ten, _ := c.AddConstant(value.Int(10))
	twenty, _ := c.AddConstant(value.Int(20))
	thirty, _ := c.AddConstant(value.Int(30))
	fieldCache := addIC(c)

	c.WriteOpByte(bytecode.OpConstant, ten, 1)
	c.WriteOpByte(bytecode.OpConstant, twenty, 1)
	c.WriteOpU16(bytecode.OpMakeStruct, shapeConst, 1)
	c.WriteOpByte(bytecode.OpSetLocal, 0, 1)
	c.WriteOp(bytecode.OpPop, 1)

	c.WriteOpByte(bytecode.OpGetLocal, 0, 2)
	c.WriteOpByte(bytecode.OpConstant, thirty, 2)
	c.WriteOpU16U8(bytecode.OpSetField, xName, fieldCache, 2)
	c.WriteOp(bytecode.OpPop, 2)

	c.WriteOpByte(bytecode.OpGetLocal, 0, 3)
	c.WriteOpU16U8(bytecode.OpGetField, xName, fieldCache, 3)
	c.WriteOp(bytecode.OpReturn, 3)

	m := newTestVM()
	m.RegisterShape(shape)
	result, err := m.Interpret(c, 1)
	if err != nil {
		t.Fatal(err)
	}
	if result.AsInt() != 30 {
		t.Fatalf("point.x after overwrite = %d want 30", result.AsInt())
	}
}

// TestListMakeAndIndex builds a 3-element list and reads index 1 back
// through MakeList/GetIndex.
func TestListMakeAndIndex(t *testing.T) {
	c := bytecode.New()
	cache := addIC(c)
	a, _ := c.AddConstant(value.Int(10))
	b, _ := c.AddConstant(value.Int(20))
	cc, _ := c.AddConstant(value.Int(30))
	one, _ := c.AddConstant(value.Int(1))

	c.WriteOpByte(bytecode.OpConstant, a, 1)
	c.WriteOpByte(bytecode.OpConstant, b, 1)
	c.WriteOpByte(bytecode.OpConstant, cc, 1)
	c.WriteOpU16(bytecode.OpMakeList, 3, 1)
	c.WriteOpByte(bytecode.OpConstant, one, 1)
	c.WriteOpByte(bytecode.OpGetIndex, cache, 1)
	c.WriteOp(bytecode.OpReturn, 1)

	m := newTestVM()
	result, err := m.Interpret(c, 0)
	if err != nil {
		t.Fatal(err)
	}
	if result.AsInt() != 20 {
		t.Fatalf("list[1] = %d want 20", result.AsInt())
	}
}

// TestForInIteratesList drives OpIter/OpIterNext over a list, summing
// its elements into a global accumulator, and checks the loop visits
// every element exactly once.
func TestForInIteratesList(t *testing.T) {
	c := bytecode.New()
	sumName, _ := c.AddConstantWide(object.NewString("sum").Value())
	zero, _ := c.AddConstant(value.Int(0))
	a, _ := c.AddConstant(value.Int(1))
	b, _ := c.AddConstant(value.Int(2))
	cc, _ := c.AddConstant(value.Int(3))
	addCache := addIC(c)

	c.WriteOpByte(bytecode.OpConstant, zero, 1)
	c.WriteOpU16(bytecode.OpDefineGlobal, sumName, 1)

	c.WriteOpByte(bytecode.OpConstant, a, 1)
	c.WriteOpByte(bytecode.OpConstant, b, 1)
	c.WriteOpByte(bytecode.OpConstant, cc, 1)
	c.WriteOpU16(bytecode.OpMakeList, 3, 1)
	c.WriteOp(bytecode.OpIter, 1) // stack: [iterator]

	loopStart := c.CurrentOffset()
	exitJump := c.WriteJump(bytecode.OpIterNext, 2) // non-exhausted: [iterator, element]; exhausted: [] + jump to exit

	c.WriteOpU16(bytecode.OpGetGlobal, sumName, 2)      // [iterator, element, sum]
	c.WriteOpByte(bytecode.OpAdd, addCache, 2)          // [iterator, element+sum]
	c.WriteOpU16(bytecode.OpSetGlobal, sumName, 2)       // peeks top, leaves it: [iterator, newsum]
	c.WriteOp(bytecode.OpPop, 2)                          // [iterator]
	if err := c.WriteLoop(loopStart, 2); err != nil {
		t.Fatal(err)
	}
	if err := c.PatchJump(exitJump); err != nil {
		t.Fatal(err)
	}

	// OpIterNext already popped the exhausted iterator on the exit path.
	c.WriteOpU16(bytecode.OpGetGlobal, sumName, 3)
	c.WriteOp(bytecode.OpReturn, 3)

	m := newTestVM()
	result, err := m.Interpret(c, 0)
	if err != nil {
		t.Fatal(err)
	}
	if result.AsInt() != 6 {
		t.Fatalf("sum of [1,2,3] = %d want 6", result.AsInt())
	}
}
