// Package chatcmd dispatches chat commands such as !addonmenu.
//
// A command is a chat line starting with "!" or "/" followed by the command
// name. Names and aliases match case-insensitively; the rest of the line is
// split on whitespace into arguments. Every command declares the permission
// level it needs, and the level is checked before it runs.
package chatcmd

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/addonlib/internal/notice"
	"github.com/dshills/addonlib/internal/permission"
	"github.com/dshills/addonlib/internal/transport"
)

// MessageSay carries a chat line from a client to the server.
const MessageSay = "addonlib.chat.say"

// SayPayload is the body of MessageSay.
type SayPayload struct {
	Text string `json:"text"`
}

// Dispatcher errors.
var (
	// ErrPermissionDenied indicates the sender lacks the command's level.
	ErrPermissionDenied = permission.ErrDenied

	// ErrUnknownCommand indicates no command is registered under the name.
	ErrUnknownCommand = errors.New("chatcmd: unknown command")

	// ErrDuplicateCommand indicates a name or alias is already taken.
	ErrDuplicateCommand = errors.New("chatcmd: command already registered")

	// ErrInvalidCommand indicates a command definition is unusable.
	ErrInvalidCommand = errors.New("chatcmd: invalid command")

	// ErrPanic indicates the command panicked.
	ErrPanic = errors.New("chatcmd: command panic")
)

// Invocation is one parsed command call.
type Invocation struct {
	Sender transport.PeerID
	Name   string
	Args   []string
}

// RunFunc executes a command.
type RunFunc func(ctx context.Context, inv Invocation) error

// Command is a registered chat command.
type Command struct {
	Name       string
	Aliases    []string
	Help       string
	Permission permission.Level
	Run        RunFunc
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithChecker sets the permission checker. The default allows only
// LevelUser commands for everyone but the server.
func WithChecker(c permission.Checker) Option {
	return func(d *Dispatcher) { d.checker = c }
}

// WithNotices reports denials and failures to the sender.
func WithNotices(s *notice.Sender) Option {
	return func(d *Dispatcher) { d.notices = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// Dispatcher routes chat lines to commands.
type Dispatcher struct {
	checker permission.Checker
	notices *notice.Sender
	logger  *zap.Logger

	mu       sync.RWMutex
	commands map[string]*Command // lowercase name or alias
}

// New creates an empty dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		checker:  permission.NewAdminList(nil, nil),
		logger:   zap.NewNop(),
		commands: make(map[string]*Command),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds a command. Its name and aliases must be single words not
// used by another command.
func (d *Dispatcher) Register(cmd Command) error {
	if cmd.Run == nil {
		return fmt.Errorf("%w: %q has no run function", ErrInvalidCommand, cmd.Name)
	}
	keys := make([]string, 0, 1+len(cmd.Aliases))
	for _, n := range append([]string{cmd.Name}, cmd.Aliases...) {
		key := strings.ToLower(n)
		if key == "" || strings.ContainsAny(key, " \t\r\n!/") {
			return fmt.Errorf("%w: bad name %q", ErrInvalidCommand, n)
		}
		keys = append(keys, key)
	}
	cmd.Name = keys[0]
	cmd.Aliases = keys[1:]

	d.mu.Lock()
	defer d.mu.Unlock()
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, taken := d.commands[key]; taken {
			return fmt.Errorf("%w: %s", ErrDuplicateCommand, key)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateCommand, key)
		}
		seen[key] = struct{}{}
	}
	c := cmd
	for _, key := range keys {
		d.commands[key] = &c
	}
	return nil
}

// Unregister removes the command registered under name, with its aliases.
func (d *Dispatcher) Unregister(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.commands[strings.ToLower(name)]
	if !ok {
		return false
	}
	delete(d.commands, c.Name)
	for _, a := range c.Aliases {
		delete(d.commands, a)
	}
	return true
}

// Lookup returns the command for a name or alias.
func (d *Dispatcher) Lookup(name string) (Command, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.commands[strings.ToLower(name)]
	if !ok {
		return Command{}, false
	}
	return *c, true
}

// Commands returns every command sorted by name.
func (d *Dispatcher) Commands() []Command {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Command, 0, len(d.commands))
	for key, c := range d.commands {
		if key == c.Name {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Parse splits a chat line into a lowercase command name and arguments.
// ok is false when the line is not a command.
func Parse(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" || (text[0] != '!' && text[0] != '/') {
		return "", nil, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// Handle runs the command in a chat line from sender. handled is false for
// lines that are not commands and for unknown commands, which keeps them
// ordinary chat.
func (d *Dispatcher) Handle(ctx context.Context, sender transport.PeerID, text string) (handled bool, err error) {
	name, args, ok := Parse(text)
	if !ok {
		return false, nil
	}
	cmd, ok := d.Lookup(name)
	if !ok {
		d.notify(ctx, sender, "chat.unknown", name)
		return false, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	log := d.logger.With(zap.String("command", cmd.Name), zap.String("peer", string(sender)))
	if err := permission.Check(ctx, d.checker, sender, cmd.Permission); err != nil {
		log.Info("chat command denied")
		d.notify(ctx, sender, "chat.denied", cmd.Name)
		return true, fmt.Errorf("!%s: %w", cmd.Name, err)
	}

	inv := Invocation{Sender: sender, Name: cmd.Name, Args: args}
	if err := d.run(ctx, cmd, inv); err != nil {
		log.Warn("chat command failed", zap.Error(err))
		d.notify(ctx, sender, "chat.failed", cmd.Name)
		return true, err
	}
	log.Debug("chat command ran", zap.Strings("args", args))
	return true, nil
}

func (d *Dispatcher) run(ctx context.Context, cmd Command, inv Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, 4096)
			n := runtime.Stack(stack, false)
			d.logger.Error("chat command panic",
				zap.String("command", cmd.Name),
				zap.Any("panic", r),
				zap.ByteString("stack", stack[:n]))
			err = fmt.Errorf("%w: !%s: %v", ErrPanic, cmd.Name, r)
		}
	}()
	return cmd.Run(ctx, inv)
}

// Bind makes the dispatcher handle MessageSay lines received on t.
func (d *Dispatcher) Bind(t transport.Transport) {
	t.Receive(MessageSay, func(ctx context.Context, msg transport.Message) {
		var p SayPayload
		if err := msg.Decode(&p); err != nil {
			d.logger.Warn("malformed chat message", zap.String("peer", string(msg.From)), zap.Error(err))
			return
		}
		_, _ = d.Handle(ctx, msg.From, p.Text)
	})
}

func (d *Dispatcher) notify(ctx context.Context, peer transport.PeerID, key string, args ...any) {
	if d.notices == nil || peer == transport.ServerID {
		return
	}
	_ = d.notices.Error(ctx, peer, key, args...)
}
