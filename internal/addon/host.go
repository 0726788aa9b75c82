// Package addon runs addon scripts.
//
// Every *.lua file in the addons directory runs once, in file name order,
// inside one sandboxed Lua state. Scripts declare modules and chat commands
// through the global addonlib table:
//
//	local m = addonlib.CreateModule("HUD", {label = "HUD"})
//	m:AddOption{name = "Scale", type = "Int", default = 1, min = 1, max = 4,
//	    onChange = function(old, new) print("scale", old, "->", new) end}
//	m:Register()
//
//	addonlib.RegisterChatCommand{name = "hudscale", permission = "admin",
//	    run = function(sender, args) return m:SetValue("Scale", tonumber(args[1])) end}
//
// The state is owned by one goroutine (Run). Lua callbacks fired by Go code,
// such as on-change actions, are queued on it and run after the current
// script or callback returns.
package addon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/addonlib/internal/chatcmd"
	"github.com/dshills/addonlib/internal/module"
	plua "github.com/dshills/addonlib/internal/plugin/lua"
)

// Host owns the Lua state addon scripts run in.
type Host struct {
	registry   *module.Registry
	dispatcher *chatcmd.Dispatcher
	logger     *zap.Logger

	executionTimeout time.Duration
	queueSize        int

	state  *plua.State
	exec   *plua.Executor
	bridge *plua.Bridge

	mu       sync.Mutex
	scripts  []string
	commands []string
	closed   bool
}

// Option configures a Host.
type Option func(*Host)

// WithDispatcher lets scripts register chat commands on d.
func WithDispatcher(d *chatcmd.Dispatcher) Option {
	return func(h *Host) { h.dispatcher = d }
}

// WithLogger sets the logger. Script print output goes to it too.
func WithLogger(l *zap.Logger) Option {
	return func(h *Host) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithExecutionTimeout bounds each script run and callback.
func WithExecutionTimeout(d time.Duration) Option {
	return func(h *Host) { h.executionTimeout = d }
}

// WithQueueSize sets how many callbacks may wait for the Lua goroutine.
func WithQueueSize(n int) Option {
	return func(h *Host) { h.queueSize = n }
}

// NewHost creates a host whose scripts declare modules in reg.
func NewHost(reg *module.Registry, opts ...Option) (*Host, error) {
	h := &Host{
		registry:         reg,
		logger:           zap.NewNop(),
		executionTimeout: plua.DefaultExecutionTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}

	state, err := plua.NewState(
		plua.WithExecutionTimeout(h.executionTimeout),
		plua.WithLogger(h.logger.Named("lua")),
	)
	if err != nil {
		return nil, err
	}
	h.state = state
	h.bridge = plua.NewBridge(state.LuaState())
	h.exec = plua.NewExecutor(state, h.queueSize, h.logger)
	h.installAPI()
	return h, nil
}

// Run owns the Lua state until ctx ends or Close is called.
func (h *Host) Run(ctx context.Context) error {
	h.exec.Run(ctx)
	return nil
}

// Do runs fn on the Lua goroutine and waits for it.
func (h *Host) Do(ctx context.Context, fn func(s *plua.State) error) error {
	return h.exec.Execute(ctx, fn)
}

// Async queues fn on the Lua goroutine.
func (h *Host) Async(fn func(s *plua.State) error) error {
	return h.exec.ExecuteAsync(fn)
}

// LoadFile runs one script.
func (h *Host) LoadFile(ctx context.Context, path string) error {
	err := h.Do(ctx, func(s *plua.State) error {
		return s.DoFile(ctx, path)
	})
	if err != nil {
		return fmt.Errorf("addon %s: %w", filepath.Base(path), err)
	}
	h.mu.Lock()
	h.scripts = append(h.scripts, path)
	h.mu.Unlock()
	h.logger.Info("addon loaded", zap.String("script", filepath.Base(path)))
	return nil
}

// LoadDir runs every *.lua file in dir in name order. A failing script is
// reported and the rest still run. A missing directory loads nothing.
func (h *Host) LoadDir(ctx context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		h.logger.Debug("no addons directory", zap.String("dir", dir))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading addons: %w", err)
	}

	var loaded []string
	var errs []error
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.EqualFold(filepath.Ext(e.Name()), ".lua") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := h.LoadFile(ctx, path); err != nil {
			h.logger.Error("addon failed", zap.String("script", e.Name()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		loaded = append(loaded, e.Name())
	}
	return loaded, errors.Join(errs...)
}

// Scripts returns the paths of the scripts that ran.
func (h *Host) Scripts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.scripts...)
}

// Close stops the Lua goroutine, removes the scripts' chat commands and
// releases the state.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	commands := h.commands
	h.commands = nil
	h.mu.Unlock()

	h.exec.Close()
	if h.dispatcher != nil {
		for _, name := range commands {
			h.dispatcher.Unregister(name)
		}
	}
	return h.state.Close()
}

func (h *Host) addCommand(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, name)
}
