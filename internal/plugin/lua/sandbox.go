package lua

import (
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// builtinModules can always be required.
var builtinModules = map[string]bool{
	"string": true,
	"table":  true,
	"math":   true,
}

// Sandbox restricts what scripts can reach.
type Sandbox struct {
	L      *lua.LState
	logger *zap.Logger
	start  time.Time

	mu      sync.RWMutex
	allowed map[string]bool
}

// NewSandbox creates a sandbox for L.
func NewSandbox(L *lua.LState, logger *zap.Logger) *Sandbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sandbox{
		L:       L,
		logger:  logger,
		start:   time.Now(),
		allowed: make(map[string]bool),
	}
}

// Install removes loaders that reach the file system, routes print to the
// logger, adds a read-only os table and replaces require with a whitelist.
func (s *Sandbox) Install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "module"} {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.installPrint()
	s.installOS()
	s.installRequire()
}

// Allow lets require load a preloaded module.
func (s *Sandbox) Allow(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowed[name] = true
}

// Allowed reports whether require may load name.
func (s *Sandbox) Allowed(name string) bool {
	if builtinModules[name] {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allowed[name]
}

func (s *Sandbox) installPrint() {
	s.L.SetGlobal("print", s.L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		s.logger.Info(strings.Join(parts, "\t"), zap.String("source", "lua"))
		return 0
	}))
}

func (s *Sandbox) installOS() {
	osMod := s.L.NewTable()
	s.L.SetField(osMod, "time", s.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	s.L.SetField(osMod, "clock", s.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Since(s.start).Seconds()))
		return 1
	}))
	s.L.SetGlobal("os", osMod)
}

// installRequire empties package.path and package.cpath so nothing loads
// from disk, drops package.loadlib, and wraps require with the whitelist.
func (s *Sandbox) installRequire() {
	if pkg, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkg, "path", lua.LString(""))
		s.L.SetField(pkg, "cpath", lua.LString(""))
		s.L.SetField(pkg, "loadlib", lua.LNil)
	}

	original := s.L.GetGlobal("require")
	if original == lua.LNil {
		return
	}
	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !s.Allowed(name) {
			L.RaiseError("module %q is not available", name)
			return 0
		}
		L.Push(original)
		L.Push(lua.LString(name))
		L.Call(1, 1)
		return 1
	}))
}
