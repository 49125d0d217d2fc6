// Package bytecode defines Kaubo's compiled instruction format: the
// OpCode enum, the per-function Chunk container (code, constants,
// line table, method/operator tables, inline-cache slot directory),
// and the low-level helpers the compiler uses to emit and patch code.
//
// The API shape (WriteOp, AddConstant, WriteJump/PatchJump, WriteLoop,
// AllocateInlineCache) follows next_kaubo's kaubo-core/src/core/chunk.rs
// byte-for-byte, re-expressed with Go error returns in place of Rust
// panics — see DESIGN.md.
package bytecode

import (
	"errors"
	"math"

	"kaubo/internal/value"
)

var (
	// ErrTooManyConstants is returned once a chunk's constant pool
	// would exceed the addressing width of the requested opcode.
	ErrTooManyConstants = errors.New("bytecode: too many constants in chunk")
	// ErrTooManyInlineCaches is returned once a chunk has allocated
	// 256 inline-cache slots, the limit addressable by a one-byte
	// cache-index operand.
	ErrTooManyInlineCaches = errors.New("bytecode: too many inline cache slots in chunk")
	// ErrJumpTooFar is returned when a patched jump distance does not
	// fit in a signed 16-bit offset.
	ErrJumpTooFar = errors.New("bytecode: jump distance exceeds 16-bit offset")
)

// MethodTableEntry binds a compiled method to its owning shape and
// method slot, so the VM can install it on the shape object once the
// chunk that declared it runs (mirrors next_kaubo's
// register_method_to_shape wiring).
type MethodTableEntry struct {
	ShapeID   uint16
	MethodIdx uint8
	ConstIdx  uint16 // index into Constants of the compiled function
}

// OperatorTableEntry binds a compiled function to an operator overload
// on a shape, keyed by the operator's method name (add, eq, get, …)
// rather than a numeric Operator, so this package does not need to
// depend on internal/object's Operator enum.
type OperatorTableEntry struct {
	ShapeID      uint16
	OperatorName string
	ConstIdx     uint16
}

// InlineCacheSlot records where in Code an inline-cache-bearing
// instruction lives, for tooling (disassembly, the binary format's
// debug info) that wants to map cache index back to source position.
type InlineCacheSlot struct {
	PC       int
	CacheIdx uint8
}

// InlineCache is a single polymorphic-site memo: the shapes last seen
// on the left/right operand, an opaque handler the VM installed (a
// resolved built-in dispatch function or a user operator method
// closure, or nil for "this site has been demoted to megamorphic"),
// and separate hit/miss counters so the VM can demote a site after
// repeated misses without losing how often it *did* hit. Handler is
// typed `any` rather than next_kaubo's raw `*const ()` — internal/operators
// boxes either a builtin dispatch func or an *object.Closure in it;
// bytecode has no reason to depend on object just to name the type.
type InlineCache struct {
	LeftShape  uint16
	RightShape uint16
	Handler    any
	Hits       uint8
	Misses     uint8
}

// NoShape marks an inline-cache operand slot that isn't a struct (a
// plain number, string, etc. has no shape id).
const NoShape uint16 = 0xFFFF

// Empty reports whether the cache slot has never been populated.
func (c InlineCache) Empty() bool {
	return c.Handler == nil && c.Hits == 0 && c.Misses == 0
}

// Matches reports whether the cache's remembered shapes match the
// operand shapes of the current call.
func (c InlineCache) Matches(leftShape, rightShape uint16) bool {
	return c.LeftShape == leftShape && c.RightShape == rightShape
}

// Chunk is one function's compiled body: bytecode, its constant pool,
// a parallel line table for error reporting, and the shape-bound
// method/operator tables and inline-cache directory declared while
// compiling it.
type Chunk struct {
	Code      []byte
	Constants []value.Value
	Lines     []int

	MethodTable   []MethodTableEntry
	OperatorTable []OperatorTableEntry

	InlineCacheSlots []InlineCacheSlot
	InlineCaches     []InlineCache
}

// New returns an empty Chunk ready for writes.
func New() *Chunk {
	return &Chunk{}
}

// WriteOp appends a bare opcode byte with a source line.
func (c *Chunk) WriteOp(op OpCode, line int) {
	c.Code = append(c.Code, byte(op))
	c.Lines = append(c.Lines, line)
}

// WriteByte appends a raw operand byte, attributed to line.
func (c *Chunk) WriteByte(b byte, line int) {
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, line)
}

// WriteOpByte appends an opcode followed by a one-byte operand.
func (c *Chunk) WriteOpByte(op OpCode, operand byte, line int) {
	c.WriteOp(op, line)
	c.WriteByte(operand, line)
}

// WriteU16 appends a little-endian two-byte operand.
func (c *Chunk) WriteU16(v uint16, line int) {
	c.WriteByte(byte(v), line)
	c.WriteByte(byte(v>>8), line)
}

// WriteI16 appends a little-endian signed two-byte operand, used for
// jump offsets.
func (c *Chunk) WriteI16(v int16, line int) {
	c.WriteU16(uint16(v), line)
}

// WriteOpU16 appends an opcode followed by a two-byte operand.
func (c *Chunk) WriteOpU16(op OpCode, operand uint16, line int) {
	c.WriteOp(op, line)
	c.WriteU16(operand, line)
}

// WriteOpU16U8 appends an opcode, a two-byte operand, then a one-byte
// operand — the shape used by OpGetField/OpSetField (name index +
// cache index). OpInvoke carries a further cache-index byte after its
// name index and arg count, so it is not written with this helper.
func (c *Chunk) WriteOpU16U8(op OpCode, u16val uint16, u8val byte, line int) {
	c.WriteOp(op, line)
	c.WriteU16(u16val, line)
	c.WriteByte(u8val, line)
}

// CurrentOffset returns the index the next emitted byte will occupy.
func (c *Chunk) CurrentOffset() int {
	return len(c.Code)
}

// WriteJump emits a jump opcode with a placeholder i16 offset and
// returns the offset of the placeholder's first byte, to be resolved
// later by PatchJump.
func (c *Chunk) WriteJump(op OpCode, line int) int {
	c.WriteOp(op, line)
	placeholder := c.CurrentOffset()
	c.WriteI16(-1, line)
	return placeholder
}

// PatchJump backfills the placeholder written at offset with the
// distance from just after the placeholder to the current end of
// Code.
func (c *Chunk) PatchJump(offset int) error {
	jump := len(c.Code) - (offset + 2)
	if jump < math.MinInt16 || jump > math.MaxInt16 {
		return ErrJumpTooFar
	}
	c.Code[offset] = byte(uint16(jump))
	c.Code[offset+1] = byte(uint16(jump) >> 8)
	return nil
}

// WriteLoop emits OpJumpBack with the negative distance back to
// loopStart.
func (c *Chunk) WriteLoop(loopStart int, line int) error {
	c.WriteOp(OpJumpBack, line)
	offset := c.CurrentOffset()
	distance := loopStart - (offset + 2)
	if distance < math.MinInt16 || distance > math.MaxInt16 {
		return ErrJumpTooFar
	}
	c.WriteI16(int16(distance), line)
	return nil
}

// AddConstant appends v to the constant pool and returns its index as
// a byte, for use with OpConstant. Fails once the pool already holds
// 256 entries.
func (c *Chunk) AddConstant(v value.Value) (byte, error) {
	if len(c.Constants) >= 256 {
		return 0, ErrTooManyConstants
	}
	c.Constants = append(c.Constants, v)
	return byte(len(c.Constants) - 1), nil
}

// AddConstantWide appends v to the constant pool and returns its
// index as a u16, for use with OpConstantWide and any u16-indexed
// operand (globals, field names, method names, function prototypes).
// Fails once the pool holds 65536 entries.
func (c *Chunk) AddConstantWide(v value.Value) (uint16, error) {
	if len(c.Constants) >= 65536 {
		return 0, ErrTooManyConstants
	}
	c.Constants = append(c.Constants, v)
	return uint16(len(c.Constants) - 1), nil
}

// AllocateInlineCache reserves a new inline-cache slot for the
// instruction about to be emitted at the chunk's current offset,
// returning its index for use as the instruction's cache-index
// operand. Fails once 256 slots are allocated (the limit of a
// one-byte operand).
func (c *Chunk) AllocateInlineCache() (byte, error) {
	if len(c.InlineCaches) >= 256 {
		return 0, ErrTooManyInlineCaches
	}
	idx := byte(len(c.InlineCaches))
	c.InlineCaches = append(c.InlineCaches, InlineCache{LeftShape: NoShape, RightShape: NoShape})
	c.InlineCacheSlots = append(c.InlineCacheSlots, InlineCacheSlot{PC: c.CurrentOffset(), CacheIdx: idx})
	return idx, nil
}

// LineFor returns the source line attributed to the instruction byte
// at pc, for runtime error reporting.
func (c *Chunk) LineFor(pc int) int {
	if pc < 0 || pc >= len(c.Lines) {
		return -1
	}
	return c.Lines[pc]
}
