package binary

import (
	"fmt"

	"kaubo/internal/bytecode"
	"kaubo/internal/object"
	"kaubo/internal/value"
)

// Constant type tags, written ahead of each constant's payload.
const (
	constNil uint8 = iota
	constBool
	constInt
	constFloat
	constString
	constFunction
)

// EncodeContext threads the shared StringPool and the function pool
// being built across a recursive chunk encode — every nested function
// constant is interned into the pool once (by pointer identity) and
// referenced by index from wherever it's used, rather than inlined
// bytes duplicated at every use site. Mirrors next_kaubo's
// EncodeContext/FunctionPool split (see mod.rs's pub-use list; the
// retrieved source stops at the export names, so the pool-vs-inline
// split and the dedup-by-identity policy here are this
// implementation's own choice — see DESIGN.md).
type EncodeContext struct {
	Strings   *StringPool
	pool      []functionPoolEntry
	poolIndex map[*object.Function]uint32
}

type functionPoolEntry struct {
	fn    *object.Function
	lines []int
}

// NewEncodeContext returns a context backed by a fresh string pool and
// an empty function pool.
func NewEncodeContext() *EncodeContext {
	return &EncodeContext{Strings: NewStringPool(), poolIndex: make(map[*object.Function]uint32)}
}

func (ctx *EncodeContext) intern(fn *object.Function) (uint32, error) {
	if idx, ok := ctx.poolIndex[fn]; ok {
		return idx, nil
	}
	chunk, ok := fn.Chunk.(*bytecode.Chunk)
	if !ok {
		return 0, fmt.Errorf("binary: function %q has no compiled chunk", fn.Name)
	}
	idx := uint32(len(ctx.pool))
	// Record the index now; fn's chunk is encoded later, when the pool
	// is written, so a function constant met then that refers back to
	// fn resolves to this index instead of adding a second entry.
	ctx.poolIndex[fn] = idx
	ctx.pool = append(ctx.pool, functionPoolEntry{fn: fn, lines: chunk.Lines})
	return idx, nil
}

// EncodeChunk serializes chunk's code, constants, and shape-wiring
// tables. Nested function constants recurse through ctx, accumulating
// entries in ctx's function pool; chunk's own line table is not
// embedded (the writer puts line tables in the DebugInfo section), so
// a release build can omit them section-wide without touching
// ChunkData — see DESIGN.md on why debug info is split out as its own
// section.
func EncodeChunk(chunk *bytecode.Chunk, ctx *EncodeContext) ([]byte, error) {
	w := &byteWriter{}

	w.bytes(chunk.Code)

	w.u32(uint32(len(chunk.Constants)))
	for _, c := range chunk.Constants {
		if err := encodeConstant(w, c, ctx); err != nil {
			return nil, err
		}
	}

	w.u32(uint32(len(chunk.MethodTable)))
	for _, m := range chunk.MethodTable {
		w.u16(m.ShapeID)
		w.u8(m.MethodIdx)
		w.u16(m.ConstIdx)
	}

	w.u32(uint32(len(chunk.OperatorTable)))
	for _, op := range chunk.OperatorTable {
		w.u16(op.ShapeID)
		w.u32(ctx.Strings.Add(op.OperatorName))
		w.u16(op.ConstIdx)
	}

	w.u32(uint32(len(chunk.InlineCaches)))

	return w.Bytes(), nil
}

func encodeConstant(w *byteWriter, v value.Value, ctx *EncodeContext) error {
	switch {
	case v.IsNil():
		w.u8(constNil)
	case v.IsBool():
		w.u8(constBool)
		w.bool(v.AsBool())
	case v.IsInt():
		w.u8(constInt)
		w.i32(v.AsInt())
	case v.IsNumber():
		w.u8(constFloat)
		w.f64(v.AsFloat())
	case v.IsPointer() && v.Kind() == value.KindString:
		w.u8(constString)
		w.u32(ctx.Strings.Add(object.AsString(v).Chars))
	case v.IsPointer() && v.Kind() == value.KindFunction:
		idx, err := ctx.intern(object.AsFunction(v))
		if err != nil {
			return err
		}
		w.u8(constFunction)
		w.u32(idx)
	default:
		return fmt.Errorf("binary: constant of kind %s cannot be serialized into a binary container", object.TypeName(v))
	}
	return nil
}

// FunctionPoolBytes serializes every function ctx interned during the
// chunk encodes that used it, in intern order, as the FunctionPool
// section's payload. Call this once, after every EncodeChunk call
// that shares ctx has completed.
func FunctionPoolBytes(ctx *EncodeContext) ([]byte, error) {
	// Indexed, not range, and the entry count is written only after
	// the loop finishes: encoding entry i's own chunk can discover and
	// intern a function nested inside it (a closure declared inside
	// another function), growing ctx.pool past whatever its length
	// was when this function was called.
	var entries [][]byte
	for i := 0; i < len(ctx.pool); i++ {
		fn := ctx.pool[i].fn
		ew := &byteWriter{}
		ew.u32(ctx.Strings.Add(fn.Name))
		ew.u8(uint8(fn.Arity))
		ew.u32(uint32(fn.LocalCount))
		ew.u8(uint8(fn.UpvalueCount))
		ew.u32(uint32(len(fn.UpvalueDescs)))
		for _, d := range fn.UpvalueDescs {
			ew.bool(d.IsLocal)
			ew.u8(d.Index)
		}
		chunk, ok := fn.Chunk.(*bytecode.Chunk)
		if !ok {
			return nil, fmt.Errorf("binary: function %q has no compiled chunk", fn.Name)
		}
		chunkBytes, err := EncodeChunk(chunk, ctx)
		if err != nil {
			return nil, err
		}
		ew.bytes(chunkBytes)
		entries = append(entries, ew.Bytes())
	}

	w := &byteWriter{}
	w.u32(uint32(len(entries)))
	for _, e := range entries {
		w.buf.Write(e)
	}
	return w.Bytes(), nil
}

// DebugLines returns, in the same order EncodeChunk/FunctionPoolBytes
// visited functions (entry chunk first, then each pool entry), the
// line tables to serialize into the DebugInfo section.
func DebugLines(entryChunk *bytecode.Chunk, ctx *EncodeContext) [][]int {
	lines := make([][]int, 0, len(ctx.pool)+1)
	lines = append(lines, entryChunk.Lines)
	for _, entry := range ctx.pool {
		lines = append(lines, entry.lines)
	}
	return lines
}

// DecodeContext mirrors EncodeContext for the read path: the string
// pool every name/string-constant index resolves against, and the
// decoded function pool every function-constant index resolves
// against.
type DecodeContext struct {
	Strings *StringPool
	Pool    []*object.Function
}

// DecodeChunk reconstructs a *bytecode.Chunk from bytes written by
// EncodeChunk. Function-tagged constants resolve against
// ctx.Pool, which must already hold every pool function's pointer;
// their own chunks may still be undecoded (DecodeFunctionPool's second
// pass calls DecodeChunk while filling them in).
func DecodeChunk(data []byte, ctx *DecodeContext) (*bytecode.Chunk, error) {
	r := newByteReader(data)

	code, err := r.bytesN()
	if err != nil {
		return nil, fmt.Errorf("binary: chunk code: %w", err)
	}
	chunk := &bytecode.Chunk{Code: append([]byte(nil), code...)}

	constCount, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("binary: chunk constants: %w", err)
	}
	chunk.Constants = make([]value.Value, constCount)
	for i := uint32(0); i < constCount; i++ {
		v, err := decodeConstant(r, ctx)
		if err != nil {
			return nil, fmt.Errorf("binary: constant %d: %w", i, err)
		}
		chunk.Constants[i] = v
	}

	methodCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	chunk.MethodTable = make([]bytecode.MethodTableEntry, methodCount)
	for i := range chunk.MethodTable {
		shapeID, err := r.u16()
		if err != nil {
			return nil, err
		}
		methodIdx, err := r.u8()
		if err != nil {
			return nil, err
		}
		constIdx, err := r.u16()
		if err != nil {
			return nil, err
		}
		chunk.MethodTable[i] = bytecode.MethodTableEntry{ShapeID: shapeID, MethodIdx: methodIdx, ConstIdx: constIdx}
	}

	opCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	chunk.OperatorTable = make([]bytecode.OperatorTableEntry, opCount)
	for i := range chunk.OperatorTable {
		shapeID, err := r.u16()
		if err != nil {
			return nil, err
		}
		nameIdx, err := r.u32()
		if err != nil {
			return nil, err
		}
		name, ok := ctx.Strings.Get(nameIdx)
		if !ok {
			return nil, fmt.Errorf("binary: operator table entry references unknown string index %d", nameIdx)
		}
		constIdx, err := r.u16()
		if err != nil {
			return nil, err
		}
		chunk.OperatorTable[i] = bytecode.OperatorTableEntry{ShapeID: shapeID, OperatorName: name, ConstIdx: constIdx}
	}

	cacheCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	chunk.InlineCaches = make([]bytecode.InlineCache, cacheCount)
	for i := range chunk.InlineCaches {
		chunk.InlineCaches[i] = bytecode.InlineCache{LeftShape: bytecode.NoShape, RightShape: bytecode.NoShape}
	}

	return chunk, nil
}

func decodeConstant(r *byteReader, ctx *DecodeContext) (value.Value, error) {
	tag, err := r.u8()
	if err != nil {
		return value.Nil(), err
	}
	switch tag {
	case constNil:
		return value.Nil(), nil
	case constBool:
		b, err := r.bool()
		return value.Bool(b), err
	case constInt:
		i, err := r.i32()
		return value.Int(i), err
	case constFloat:
		f, err := r.f64()
		return value.Float(f), err
	case constString:
		idx, err := r.u32()
		if err != nil {
			return value.Nil(), err
		}
		s, ok := ctx.Strings.Get(idx)
		if !ok {
			return value.Nil(), fmt.Errorf("binary: string constant references unknown pool index %d", idx)
		}
		return object.NewString(s).Value(), nil
	case constFunction:
		idx, err := r.u32()
		if err != nil {
			return value.Nil(), err
		}
		if int(idx) >= len(ctx.Pool) {
			return value.Nil(), fmt.Errorf("binary: function constant references unknown pool index %d", idx)
		}
		return ctx.Pool[idx].Value(), nil
	default:
		return value.Nil(), fmt.Errorf("binary: unknown constant tag %d", tag)
	}
}

// DecodeFunctionPool reconstructs every function in the FunctionPool
// section. A function's chunk can reference a pool index higher than
// its own — encoding a function interns any closure nested inside it
// lazily, the first time that closure is seen as a constant, which
// happens while encoding entries already past it in the pool (see
// EncodeContext.intern and FunctionPoolBytes). So decoding is two
// passes: first allocate every *object.Function by pointer (so a
// forward reference has something to point at) and stash each one's
// raw chunk bytes, then decode every chunk now that the full pool
// exists to resolve against.
func DecodeFunctionPool(data []byte, strings *StringPool) (*DecodeContext, [][]int, error) {
	r := newByteReader(data)
	count, err := r.u32()
	if err != nil {
		return nil, nil, fmt.Errorf("binary: function pool: %w", err)
	}

	ctx := &DecodeContext{Strings: strings, Pool: make([]*object.Function, count)}
	rawChunks := make([][]byte, count)

	for i := uint32(0); i < count; i++ {
		nameIdx, err := r.u32()
		if err != nil {
			return nil, nil, err
		}
		name, ok := strings.Get(nameIdx)
		if !ok {
			return nil, nil, fmt.Errorf("binary: function pool entry %d: unknown name index %d", i, nameIdx)
		}
		arity, err := r.u8()
		if err != nil {
			return nil, nil, err
		}
		localCount, err := r.u32()
		if err != nil {
			return nil, nil, err
		}
		upvalCount, err := r.u8()
		if err != nil {
			return nil, nil, err
		}
		descCount, err := r.u32()
		if err != nil {
			return nil, nil, err
		}
		descs := make([]object.UpvalueDesc, descCount)
		for j := range descs {
			isLocal, err := r.bool()
			if err != nil {
				return nil, nil, err
			}
			index, err := r.u8()
			if err != nil {
				return nil, nil, err
			}
			descs[j] = object.UpvalueDesc{IsLocal: isLocal, Index: index}
		}

		chunkBytes, err := r.bytesN()
		if err != nil {
			return nil, nil, err
		}
		rawChunks[i] = chunkBytes

		ctx.Pool[i] = &object.Function{
			Name:         name,
			Arity:        int(arity),
			LocalCount:   int(localCount),
			UpvalueCount: int(upvalCount),
			UpvalueDescs: descs,
		}
	}

	lineTables := make([][]int, count)
	for i := uint32(0); i < count; i++ {
		chunk, err := DecodeChunk(rawChunks[i], ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("binary: function pool entry %d (%s): %w", i, ctx.Pool[i].Name, err)
		}
		ctx.Pool[i].Chunk = chunk
		lineTables[i] = chunk.Lines
	}

	return ctx, lineTables, nil
}
