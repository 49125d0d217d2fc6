package stdlib

import (
	"github.com/google/uuid"

	"kaubo/internal/object"
	"kaubo/internal/value"
	"kaubo/internal/vm"
)

// registerUUID installs the uuid module: a single v4() native
// wrapping google/uuid, promoted here from the teacher's indirect
// mssqldb dependency to a direct one. Grounded loosely on the session
// and module identifiers minted throughout the teacher's
// internal/packages/module.go (ModuleMetadata.ID).
func registerUUID(v *vm.VM) {
	mod := object.NewModule("uuid")
	mod.Export("v4", object.NewNative("uuid.v4", 0, uuidV4).Value())
	v.DefineGlobal("uuid", mod.Value())
}

func uuidV4(args []value.Value) (value.Value, error) {
	return object.NewString(uuid.NewString()).Value(), nil
}
