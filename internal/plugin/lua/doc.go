// Package lua runs addon scripts in a sandboxed gopher-lua state.
//
// # State
//
// State wraps an LState with only the base, package, table, string and math
// libraries open. Every run carries a deadline:
//
//	state, err := lua.NewState(
//	    lua.WithExecutionTimeout(2 * time.Second),
//	    lua.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	defer state.Close()
//
//	if err := state.DoFile(ctx, "addons/hud.lua"); err != nil {
//	    return err
//	}
//
// # Sandbox
//
// The sandbox removes dofile, loadfile, load and loadstring, sends print
// output to the logger, replaces os with time and clock only, and lets
// require load the string, table and math libraries plus modules added with
// State.Preload.
//
// # Bridge
//
// Bridge converts between Go and Lua values:
//
//	bridge := lua.NewBridge(state.LuaState())
//	t := bridge.ToLuaValue(map[string]any{"name": "test", "count": 42})
//	v := bridge.ToGoValue(t) // map[string]any{"name": "test", "count": 42}
//
// # Executor
//
// gopher-lua states are single-threaded. Executor owns the goroutine that
// touches the state; other goroutines submit work with Execute or
// ExecuteAsync.
package lua
