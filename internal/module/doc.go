// Package module implements the addon configuration registry.
//
// A feature declares a Module holding typed Variables, registers it, and then
// reads and writes values through it:
//
//	m, _ := reg.CreateModule("BASE", module.WithLabel("Base"))
//	m.AddOption("Debug", "Debug mode", "Verbose logging", module.TypeBool, false)
//	m.AddOption("Volume", "Volume", "", module.TypeInt, 50).Range(0, 100)
//	if err := m.Register(ctx); err != nil {
//	    return err
//	}
//	_ = m.SetValue(ctx, "Debug", true)
//
// # Types
//
// The variable types form a closed set (Int, String, Bool, Table, Key). Each
// carries its own serialize, deserialize, validate and zero functions.
//
// # Persistence
//
// Each module is stored as one flat JSON document, name -> serialized value,
// under "<dir>/<id>.json" of a storage.Backend. Missing or undecodable values
// fall back to their defaults; unknown keys are ignored.
//
// # Roles
//
// A Registry is either the authority, which owns and persists server-scoped
// modules, or a mirror, which holds read-only copies replaced wholesale by
// ApplySnapshot. User-scoped modules are always local.
package module
