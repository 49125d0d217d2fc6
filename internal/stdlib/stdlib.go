// Package stdlib installs Kaubo's built-in natives and modules against
// an already-constructed VM. It is a separate step from vm.New, rather
// than part of it, because these natives need to call back into
// internal/vm (DefineGlobal, Stdout) and internal/vm must not import
// internal/stdlib in the other direction.
//
// Register wires five groups: the always-present core natives (print,
// assert, type, to_string, the math one-liners), the coroutine
// natives (coroutine/resume/yield) that surface the VM's Created ->
// Running -> Suspended -> Finished|Failed state machine to Kaubo code,
// and three importable domain modules (db, net, uuid), each grounded
// in a retrieved package of the teacher's own stdlib and wired to the
// third-party driver it already depended on. Grounded structurally on
// the teacher's RegisterXFunctions(v *vm.VM) family in
// internal/stdlib/*_funcs.go — one function per concern, all called
// from a single entry point at VM startup.
package stdlib

import "kaubo/internal/vm"

// Register installs every native and module this implementation
// provides against v. Call it once, immediately after vm.New, before
// compiling or interpreting any program.
func Register(v *vm.VM) {
	registerCore(v)
	registerCoroutine(v)
	registerDB(v)
	registerNet(v)
	registerUUID(v)
}
