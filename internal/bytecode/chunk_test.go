package bytecode

import (
	"testing"

	"kaubo/internal/value"
)

func TestWriteAndReadConstant(t *testing.T) {
	c := New()
	idx, err := c.AddConstant(value.Int(42))
	if err != nil {
		t.Fatal(err)
	}
	c.WriteOpByte(OpConstant, idx, 1)
	if len(c.Code) != 2 {
		t.Fatalf("expected 2 bytes, got %d", len(c.Code))
	}
	if c.Constants[idx].AsInt() != 42 {
		t.Fatalf("constant round-trip failed")
	}
}

func TestAddConstantOverflow(t *testing.T) {
	c := New()
	for i := 0; i < 256; i++ {
		if _, err := c.AddConstant(value.Int(int32(i))); err != nil {
			t.Fatalf("unexpected error at %d: %v", i, err)
		}
	}
	if _, err := c.AddConstant(value.Int(256)); err != ErrTooManyConstants {
		t.Fatalf("expected ErrTooManyConstants, got %v", err)
	}
}

func TestJumpPatching(t *testing.T) {
	c := New()
	offset := c.WriteJump(OpJumpIfFalse, 1)
	c.WriteOp(OpPop, 2)
	c.WriteOp(OpPop, 3)
	if err := c.PatchJump(offset); err != nil {
		t.Fatal(err)
	}
	gotLow, gotHigh := c.Code[offset], c.Code[offset+1]
	jump := int16(uint16(gotLow) | uint16(gotHigh)<<8)
	if jump != 2 {
		t.Fatalf("patched jump = %d, want 2", jump)
	}
}

func TestWriteLoopBackwardOffset(t *testing.T) {
	c := New()
	loopStart := c.CurrentOffset()
	c.WriteOp(OpPop, 1)
	if err := c.WriteLoop(loopStart, 2); err != nil {
		t.Fatal(err)
	}
	// OpJumpBack + 2-byte offset were appended after the single OpPop.
	if len(c.Code) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(c.Code))
	}
}

func TestAllocateInlineCache(t *testing.T) {
	c := New()
	idx, err := c.AllocateInlineCache()
	if err != nil {
		t.Fatal(err)
	}
	if idx != 0 {
		t.Fatalf("first cache index = %d, want 0", idx)
	}
	if !c.InlineCaches[idx].Empty() {
		t.Fatal("freshly allocated cache should be Empty")
	}
	if c.InlineCaches[idx].LeftShape != NoShape {
		t.Fatal("freshly allocated cache should have NoShape operands")
	}
}

func TestInlineCacheMatches(t *testing.T) {
	cache := InlineCache{LeftShape: 3, RightShape: NoShape}
	if !cache.Matches(3, NoShape) {
		t.Fatal("cache should match its own remembered shapes")
	}
	if cache.Matches(4, NoShape) {
		t.Fatal("cache should not match a different shape")
	}
}
