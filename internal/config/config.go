// Package config defines VMConfig, the VM's single construction-time
// configuration struct. It exists to resolve spec.md's Design Note
// against a global mutable kaubo_config: every tunable the VM needs —
// initial stack size, frame capacity, inline-cache capacity, and the
// output sink print writes to — is threaded explicitly through
// vm.New(cfg), never read from a package-level variable. Defaults are
// taken from next_kaubo's kaubo-core VMConfig (see DESIGN.md).
package config

import "io"

// VMConfig configures a freshly constructed VM instance. The zero
// value is not directly usable — call Default() to get
// sane starting values, then override individual fields.
type VMConfig struct {
	InitialStackSize     int
	InitialFrameCapacity int
	InlineCacheCapacity  int
	MaxFrames            int
	Stdout               io.Writer
}

// Default returns next_kaubo's VMConfig defaults: a 256-slot operand
// stack, 64 call frames, 64 pre-reserved inline-cache slots, and a
// 1024-frame recursion ceiling, printing to stdout.
func Default(stdout io.Writer) VMConfig {
	return VMConfig{
		InitialStackSize:     256,
		InitialFrameCapacity: 64,
		InlineCacheCapacity:  64,
		MaxFrames:            1024,
		Stdout:               stdout,
	}
}
