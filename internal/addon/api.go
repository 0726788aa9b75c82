package addon

import (
	"context"
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/addonlib/internal/chatcmd"
	"github.com/dshills/addonlib/internal/module"
	"github.com/dshills/addonlib/internal/permission"
	plua "github.com/dshills/addonlib/internal/plugin/lua"
)

const moduleTypeName = "addonlib.module"

// installAPI sets the addonlib table, the module metatable and the KEY_*
// globals. It runs before the Lua goroutine starts.
func (h *Host) installAPI() {
	L := h.state.LuaState()

	mt := L.NewTypeMetatable(moduleTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"AddOption":      h.luaAddOption,
		"Register":       h.luaRegister,
		"GetValue":       h.luaGetValue,
		"SetValue":       h.luaSetValue,
		"GetID":          h.luaGetID,
		"GetScope":       h.luaGetScope,
		"IsRegistered":   h.luaIsRegistered,
		"GetVariableIDs": h.luaGetVariableIDs,
	}))
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString("module " + checkModule(L, 1).ID()))
		return 1
	}))

	api := map[string]lua.LGFunction{
		"CreateModule":        h.luaCreateModule(false),
		"CreateUserModule":    h.luaCreateModule(true),
		"GetModule":           h.luaGetModule,
		"GetModules":          h.luaGetModules,
		"RegisterChatCommand": h.luaRegisterChatCommand,
		"IsServer":            h.luaIsServer,
	}
	h.state.RegisterModule("addonlib", api)
	h.state.Preload("addonlib", func(L *lua.LState) int {
		L.Push(L.GetGlobal("addonlib"))
		return 1
	})

	for name, code := range module.KeyNames() {
		L.SetGlobal(name, lua.LNumber(code))
	}
}

func (h *Host) pushModule(L *lua.LState, m *module.Module) {
	ud := L.NewUserData()
	ud.Value = m
	L.SetMetatable(ud, L.GetTypeMetatable(moduleTypeName))
	L.Push(ud)
}

func checkModule(L *lua.LState, n int) *module.Module {
	ud := L.CheckUserData(n)
	m, ok := ud.Value.(*module.Module)
	if !ok {
		L.ArgError(n, "module expected")
		return nil
	}
	return m
}

// CreateModule(id [, {label=, description=}]) -> module
func (h *Host) luaCreateModule(user bool) lua.LGFunction {
	return func(L *lua.LState) int {
		id := L.CheckString(1)
		var opts []module.ModuleOption
		if t, ok := L.Get(2).(*lua.LTable); ok {
			if s, ok := h.bridge.GetTableString(t, "label"); ok {
				opts = append(opts, module.WithLabel(s))
			}
			if s, ok := h.bridge.GetTableString(t, "description"); ok {
				opts = append(opts, module.WithDescription(s))
			}
		}

		create := h.registry.CreateModule
		if user {
			create = h.registry.CreateUserModule
		}
		m, err := create(id, opts...)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		h.pushModule(L, m)
		return 1
	}
}

// module:AddOption{name=, type=, label=, description=, default=, hint=,
// min=, max=, forbid={...}, choices={{label=, value=}, ...}, onChange=fn}
// -> module
func (h *Host) luaAddOption(L *lua.LState) int {
	m := checkModule(L, 1)
	opts := L.CheckTable(2)
	b := h.bridge

	name, ok := b.GetTableString(opts, "name")
	if !ok {
		L.ArgError(2, "name is required")
		return 0
	}
	typeName, _ := b.GetTableString(opts, "type")
	typ, err := module.ParseType(typeName)
	if err != nil {
		L.ArgError(2, err.Error())
		return 0
	}
	label, _ := b.GetTableString(opts, "label")
	description, _ := b.GetTableString(opts, "description")
	def := b.ToGoValue(opts.RawGetString("default"))
	if def == nil {
		def = typ.Zero()
	}

	opt := m.AddOption(name, label, description, typ, def)
	if hint, ok := b.GetTableString(opts, "hint"); ok {
		opt.Hint(module.UIHint(hint))
	}
	if n, ok := b.GetTableInt(opts, "min"); ok {
		opt.Min(n)
	}
	if n, ok := b.GetTableInt(opts, "max"); ok {
		opt.Max(n)
	}
	if t, ok := b.GetTableTable(opts, "forbid"); ok {
		var keys []module.KeyCode
		t.ForEach(func(_, v lua.LValue) {
			if n, ok := v.(lua.LNumber); ok {
				keys = append(keys, module.KeyCode(n))
			}
		})
		opt.Forbid(keys...)
	}
	if t, ok := b.GetTableTable(opts, "choices"); ok {
		choices := h.choices(t)
		opt.Choices(func() []module.Choice { return choices })
	}
	if fn, ok := b.GetTableFunc(opts, "onChange"); ok {
		opt.OnChange(h.onChange(m.ID(), name, fn))
	}

	if err := opt.Done(); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	L.Push(L.Get(1))
	return 1
}

func (h *Host) choices(t *lua.LTable) []module.Choice {
	var out []module.Choice
	n := t.Len()
	for i := 1; i <= n; i++ {
		entry, ok := t.RawGetInt(i).(*lua.LTable)
		if !ok {
			continue
		}
		label, _ := h.bridge.GetTableString(entry, "label")
		out = append(out, module.Choice{
			Label: label,
			Value: h.bridge.ToGoValue(entry.RawGetString("value")),
		})
	}
	return out
}

// onChange queues fn(old, new) on the Lua goroutine.
func (h *Host) onChange(moduleID, name string, fn *lua.LFunction) module.OnChangeFunc {
	return func(ctx context.Context, oldValue, newValue any) {
		ctx = context.WithoutCancel(ctx)
		err := h.Async(func(s *plua.State) error {
			b := plua.NewBridge(s.LuaState())
			_, err := s.Call(ctx, fn, b.ToLuaValue(oldValue), b.ToLuaValue(newValue))
			if err != nil {
				return fmt.Errorf("%s.%s onChange: %w", moduleID, name, err)
			}
			return nil
		})
		if err != nil {
			h.logger.Warn("on-change action dropped",
				zap.String("module", moduleID),
				zap.String("variable", name),
				zap.Error(err))
		}
	}
}

// module:Register()
func (h *Host) luaRegister(L *lua.LState) int {
	m := checkModule(L, 1)
	if err := m.Register(L.Context()); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

// module:GetValue(name) -> value
func (h *Host) luaGetValue(L *lua.LState) int {
	m := checkModule(L, 1)
	L.Push(h.bridge.ToLuaValue(m.GetValue(L.CheckString(2))))
	return 1
}

// module:SetValue(name, value) -> true | nil, err
func (h *Host) luaSetValue(L *lua.LState) int {
	m := checkModule(L, 1)
	name := L.CheckString(2)
	value := h.bridge.ToGoValue(L.Get(3))
	if err := m.SetValue(L.Context(), name, value); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

func (h *Host) luaGetID(L *lua.LState) int {
	L.Push(lua.LString(checkModule(L, 1).ID()))
	return 1
}

func (h *Host) luaGetScope(L *lua.LState) int {
	L.Push(lua.LString(checkModule(L, 1).Scope().String()))
	return 1
}

func (h *Host) luaIsRegistered(L *lua.LState) int {
	L.Push(lua.LBool(checkModule(L, 1).Registered()))
	return 1
}

func (h *Host) luaGetVariableIDs(L *lua.LState) int {
	m := checkModule(L, 1)
	t := L.NewTable()
	for _, v := range m.Variables() {
		t.Append(lua.LString(v.Name))
	}
	L.Push(t)
	return 1
}

// GetModule(id) -> module | nil
func (h *Host) luaGetModule(L *lua.LState) int {
	m, err := h.registry.Module(L.CheckString(1))
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	h.pushModule(L, m)
	return 1
}

// GetModules() -> {module, ...} in registration order
func (h *Host) luaGetModules(L *lua.LState) int {
	t := L.NewTable()
	for _, m := range h.registry.Modules() {
		h.pushModule(L, m)
		t.Append(L.Get(-1))
		L.Pop(1)
	}
	L.Push(t)
	return 1
}

func (h *Host) luaIsServer(L *lua.LState) int {
	L.Push(lua.LBool(h.registry.Role() == module.RoleAuthority))
	return 1
}

// RegisterChatCommand{name=, aliases={...}, help=, permission=, run=fn}
//
// run(sender, args) runs on the Lua goroutine. Returning false or nil as the
// first result reports a failure.
func (h *Host) luaRegisterChatCommand(L *lua.LState) int {
	if h.dispatcher == nil {
		L.RaiseError("chat commands are not available here")
		return 0
	}
	opts := L.CheckTable(1)
	b := h.bridge

	name, _ := b.GetTableString(opts, "name")
	fn, ok := b.GetTableFunc(opts, "run")
	if !ok {
		L.ArgError(1, "run function is required")
		return 0
	}
	level := permission.LevelUser
	if s, ok := b.GetTableString(opts, "permission"); ok {
		l, err := permission.ParseLevel(s)
		if err != nil {
			L.ArgError(1, err.Error())
			return 0
		}
		level = l
	}
	var aliases []string
	if t, ok := b.GetTableTable(opts, "aliases"); ok {
		t.ForEach(func(_, v lua.LValue) {
			if s, ok := v.(lua.LString); ok {
				aliases = append(aliases, string(s))
			}
		})
	}
	help, _ := b.GetTableString(opts, "help")

	err := h.dispatcher.Register(chatcmd.Command{
		Name:       name,
		Aliases:    aliases,
		Help:       help,
		Permission: level,
		Run:        h.runCommand(fn),
	})
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	h.addCommand(name)
	return 0
}

var errCommandFailed = errors.New("command reported failure")

func (h *Host) runCommand(fn *lua.LFunction) chatcmd.RunFunc {
	return func(ctx context.Context, inv chatcmd.Invocation) error {
		return h.Do(ctx, func(s *plua.State) error {
			b := plua.NewBridge(s.LuaState())
			results, err := s.Call(ctx, fn, lua.LString(inv.Sender), b.ToLuaValue(inv.Args))
			if err != nil {
				return err
			}
			// false, msg and nil, msg both report failure.
			if len(results) > 0 && !lua.LVAsBool(results[0]) {
				if len(results) > 1 && results[1] != lua.LNil {
					return fmt.Errorf("%w: %s", errCommandFailed, results[1].String())
				}
				return errCommandFailed
			}
			return nil
		})
	}
}
