package binary

import (
	"bytes"
	"testing"

	"kaubo/internal/bytecode"
	"kaubo/internal/config"
	"kaubo/internal/object"
	"kaubo/internal/value"
	"kaubo/internal/vm"
)

func sampleChunk(t *testing.T) *bytecode.Chunk {
	t.Helper()
	c := bytecode.New()
	idx, err := c.AddConstant(value.Int(42))
	if err != nil {
		t.Fatal(err)
	}
	c.WriteOpByte(bytecode.OpConstant, idx, 1)
	strIdx, err := c.AddConstant(object.NewString("hello").Value())
	if err != nil {
		t.Fatal(err)
	}
	c.WriteOpByte(bytecode.OpConstant, strIdx, 2)
	c.WriteOp(bytecode.OpReturn, 3)
	return c
}

func TestHeaderRoundTrip(t *testing.T) {
	h := newHeader(BuildDebug, FeatureCompressed)
	h.SectionCount = 5
	h.EntryModule = 1
	h.EntryChunkOffset = 200

	decoded, err := decodeHeader(h.encode())
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Magic != Magic || decoded.SectionCount != 5 || decoded.EntryModule != 1 || decoded.EntryChunkOffset != 200 {
		t.Fatalf("header round trip mismatch: %+v", decoded)
	}
	if decoded.Flags&FeatureCompressed == 0 {
		t.Fatal("expected FeatureCompressed to survive round trip")
	}
}

func TestHeaderRejectsBadMagic(t *testing.T) {
	buf := newHeader(BuildDebug, 0).encode()
	buf[0] = 'X'
	if _, err := decodeHeader(buf); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestStringPoolDedup(t *testing.T) {
	p := NewStringPool()
	a := p.Add("alpha")
	b := p.Add("beta")
	a2 := p.Add("alpha")
	if a != a2 {
		t.Fatalf("expected same index for repeated string, got %d and %d", a, a2)
	}
	if a == b {
		t.Fatal("expected distinct indices for distinct strings")
	}

	decoded, err := deserializeStringPool(p.serialize())
	if err != nil {
		t.Fatal(err)
	}
	got, ok := decoded.Get(b)
	if !ok || got != "beta" {
		t.Fatalf("round trip mismatch: got %q, ok=%v", got, ok)
	}
}

func TestEncodeDecodeChunkRoundTrip(t *testing.T) {
	chunk := sampleChunk(t)
	ctx := NewEncodeContext()

	data, err := EncodeChunk(chunk, ctx)
	if err != nil {
		t.Fatal(err)
	}

	dctx := &DecodeContext{Strings: ctx.Strings}
	decoded, err := DecodeChunk(data, dctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded.Code) != len(chunk.Code) {
		t.Fatalf("code length mismatch: got %d, want %d", len(decoded.Code), len(chunk.Code))
	}
	if decoded.Constants[0].AsInt() != 42 {
		t.Fatalf("int constant mismatch: %v", decoded.Constants[0])
	}
	if object.AsString(decoded.Constants[1]).Chars != "hello" {
		t.Fatalf("string constant mismatch: %v", decoded.Constants[1])
	}
}

func TestFunctionPoolForwardReference(t *testing.T) {
	inner := bytecode.New()
	inner.WriteOp(bytecode.OpReturn, 1)

	outerFn := &object.Function{Name: "outer", Arity: 0, Chunk: bytecode.New()}
	innerFn := &object.Function{Name: "inner", Arity: 0, Chunk: inner}

	outer := outerFn.Chunk.(*bytecode.Chunk)
	_, err := outer.AddConstant(innerFn.Value())
	if err != nil {
		t.Fatal(err)
	}
	outer.WriteOp(bytecode.OpReturn, 1)

	ctx := NewEncodeContext()
	outerIdx, err := ctx.intern(outerFn)
	if err != nil {
		t.Fatal(err)
	}
	if outerIdx != 0 {
		t.Fatalf("expected outer to take pool index 0, got %d", outerIdx)
	}

	poolBytes, err := FunctionPoolBytes(ctx)
	if err != nil {
		t.Fatal(err)
	}

	dctx, _, err := DecodeFunctionPool(poolBytes, ctx.Strings)
	if err != nil {
		t.Fatal(err)
	}
	if len(dctx.Pool) != 2 {
		t.Fatalf("expected 2 pooled functions, got %d", len(dctx.Pool))
	}
	if dctx.Pool[0].Name != "outer" || dctx.Pool[1].Name != "inner" {
		t.Fatalf("unexpected pool order: %s, %s", dctx.Pool[0].Name, dctx.Pool[1].Name)
	}
	outerChunk, ok := dctx.Pool[0].Chunk.(*bytecode.Chunk)
	if !ok {
		t.Fatal("outer function missing decoded chunk")
	}
	if object.AsFunction(outerChunk.Constants[0]).Name != "inner" {
		t.Fatal("outer's constant should resolve to the inner function despite its higher pool index")
	}
}

func TestWriteAndLoadModuleRoundTrip(t *testing.T) {
	chunk := sampleChunk(t)
	shape := object.NewShape(7, "Point", []string{"x", "y"})

	data, err := WriteModule(ModuleIR{
		Name:       "main",
		SourcePath: "main.kaubo",
		Chunk:      chunk,
		Shapes:     []*object.Shape{shape},
	}, WriteOptions{BuildMode: BuildDebug})
	if err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadModule(data)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Name != "main" || loaded.SourcePath != "main.kaubo" {
		t.Fatalf("module metadata mismatch: %+v", loaded)
	}
	if len(loaded.Shapes) != 1 || loaded.Shapes[0].Name != "Point" || len(loaded.Shapes[0].Fields) != 2 {
		t.Fatalf("shape round trip mismatch: %+v", loaded.Shapes)
	}
	if loaded.Chunk.Constants[0].AsInt() != 42 {
		t.Fatalf("entry chunk constant mismatch: %v", loaded.Chunk.Constants[0])
	}
	if len(loaded.Chunk.Lines) != len(chunk.Lines) {
		t.Fatalf("debug info not restored: got %d lines, want %d", len(loaded.Chunk.Lines), len(chunk.Lines))
	}
}

func TestWriteAndLoadModuleCompressedAndStripped(t *testing.T) {
	chunk := sampleChunk(t)

	data, err := WriteModule(ModuleIR{
		Name:       "main",
		SourcePath: "main.kaubo",
		Chunk:      chunk,
	}, WriteOptions{BuildMode: BuildRelease, Compress: true, StripDebug: true})
	if err != nil {
		t.Fatal(err)
	}

	reader, err := FromBytes(data)
	if err != nil {
		t.Fatal(err)
	}
	if reader.HasSection(SectionDebugInfo) {
		t.Fatal("expected DebugInfo section to be omitted when StripDebug is set")
	}
	if reader.Header().Flags&FeatureCompressed == 0 {
		t.Fatal("expected FeatureCompressed to be set")
	}

	loaded, err := LoadModule(data)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Chunk.Constants[0].AsInt() != 42 {
		t.Fatalf("entry chunk constant mismatch after compressed round trip: %v", loaded.Chunk.Constants[0])
	}
}

// localsChunk compiles the bytecode a top-level `var x = 42; return x;`
// produces by hand (no parser is available to this package), matching
// compileVarDeclStmt's OpSetLocal+OpPop pattern, to exercise a
// container whose entry chunk needs more than zero frame locals.
func localsChunk(t *testing.T) *bytecode.Chunk {
	t.Helper()
	c := bytecode.New()
	idx, err := c.AddConstant(value.Int(42))
	if err != nil {
		t.Fatal(err)
	}
	c.WriteOpByte(bytecode.OpConstant, idx, 1)
	c.WriteOpByte(bytecode.OpSetLocal, 0, 1)
	c.WriteOp(bytecode.OpPop, 1)
	c.WriteOpByte(bytecode.OpGetLocal, 0, 2)
	c.WriteOp(bytecode.OpReturn, 2)
	return c
}

func TestWriteAndLoadModuleRoundTripPersistsLocalCount(t *testing.T) {
	chunk := localsChunk(t)

	data, err := WriteModule(ModuleIR{
		Name:       "main",
		SourcePath: "main.kaubo",
		Chunk:      chunk,
		LocalCount: 1,
	}, WriteOptions{BuildMode: BuildDebug})
	if err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadModule(data)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.LocalCount != 1 {
		t.Fatalf("local count mismatch: got %d, want 1", loaded.LocalCount)
	}

	m := vm.New(config.Default(&bytes.Buffer{}))
	result, err := m.Interpret(loaded.Chunk, loaded.LocalCount)
	if err != nil {
		t.Fatal(err)
	}
	if result.AsInt() != 42 {
		t.Fatalf("round-tripped program returned %v, want 42", result)
	}
}

func TestDetectBuildModeFromExt(t *testing.T) {
	mode, ok := DetectBuildModeFromExt("out.kaubor")
	if !ok || mode != BuildRelease {
		t.Fatalf("expected release mode for .kaubor, got %v, ok=%v", mode, ok)
	}
	mode, ok = DetectBuildModeFromExt("out.kaubod")
	if !ok || mode != BuildDebug {
		t.Fatalf("expected debug mode for .kaubod, got %v, ok=%v", mode, ok)
	}
	if _, ok := DetectBuildModeFromExt("out.kaubo"); ok {
		t.Fatal("expected no build-mode match for the plain source extension")
	}
}
