package config

import (
	"bytes"
	"testing"
)

func TestDefaults(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default(&buf)
	if cfg.InitialStackSize != 256 || cfg.InitialFrameCapacity != 64 || cfg.InlineCacheCapacity != 64 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MaxFrames != 1024 {
		t.Fatalf("MaxFrames = %d want 1024", cfg.MaxFrames)
	}
	if cfg.Stdout != &buf {
		t.Fatal("Stdout should be the writer passed in")
	}
}

func TestOverride(t *testing.T) {
	cfg := Default(nil)
	cfg.InitialStackSize = 1024
	if cfg.InitialStackSize != 1024 {
		t.Fatal("VMConfig fields should be freely overridable after Default()")
	}
}
