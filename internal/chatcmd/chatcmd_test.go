package chatcmd

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/addonlib/internal/locale"
	"github.com/dshills/addonlib/internal/module"
	"github.com/dshills/addonlib/internal/notice"
	"github.com/dshills/addonlib/internal/permission"
	"github.com/dshills/addonlib/internal/storage"
	"github.com/dshills/addonlib/internal/transport"
)

type fixture struct {
	net     *transport.Network
	reg     *module.Registry
	backend *storage.FileBackend
	mod     *module.Module
	admins  *permission.AdminList
	notices *notice.Sender
	disp    *Dispatcher
	syncer  *fakeSyncer
}

type fakeSyncer struct {
	mu      sync.Mutex
	targets []string
}

func (s *fakeSyncer) SyncModules(_ context.Context, target transport.Target, _ ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append(s.targets, target.String())
	return nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		net:     transport.NewNetwork(nil),
		backend: storage.NewFileBackend(t.TempDir()),
		admins:  permission.NewAdminList([]string{"admin"}, nil),
		syncer:  &fakeSyncer{},
	}
	f.reg = module.NewRegistry(module.WithBackend(f.backend, module.DefaultDir))
	t.Cleanup(f.reg.Close)

	m, err := f.reg.CreateModule("BASE", module.WithLabel("Base"))
	require.NoError(t, err)
	m.AddOption("Debug", "Debug", "", module.TypeBool, false)
	require.NoError(t, m.Register(ctx))
	f.mod = m

	server := f.net.Server()
	f.notices = notice.NewSender(server, locale.MustLoadEmbedded(), "en-US", nil)
	f.disp = New(WithChecker(f.admins), WithNotices(f.notices))
	require.NoError(t, f.disp.Register(MenuCommand(f.reg, server, f.notices)))
	require.NoError(t, f.disp.Register(ReloadCommand(f.reg, f.syncer, f.notices)))
	f.disp.Bind(server)
	return f
}

type player struct {
	ep      *transport.Endpoint
	mu      sync.Mutex
	notices []notice.Payload
	menus   []MenuPayload
}

func (f *fixture) join(t *testing.T, id transport.PeerID) *player {
	t.Helper()
	ep, err := f.net.Connect(context.Background(), id)
	require.NoError(t, err)
	p := &player{ep: ep}
	ep.Receive(notice.MessageNotify, func(_ context.Context, msg transport.Message) {
		var n notice.Payload
		if assert.NoError(t, msg.Decode(&n)) {
			p.mu.Lock()
			p.notices = append(p.notices, n)
			p.mu.Unlock()
		}
	})
	ep.Receive(MessageMenuOpen, func(_ context.Context, msg transport.Message) {
		var m MenuPayload
		if assert.NoError(t, msg.Decode(&m)) {
			p.mu.Lock()
			p.menus = append(p.menus, m)
			p.mu.Unlock()
		}
	})
	return p
}

func (p *player) notice(t *testing.T) notice.Payload {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.notices)
	return p.notices[len(p.notices)-1]
}

func TestParse(t *testing.T) {
	tests := []struct {
		text string
		name string
		args []string
		ok   bool
	}{
		{"!addonmenu", "addonmenu", []string{}, true},
		{"  /AddonMenu  ", "addonmenu", []string{}, true},
		{"!give alice  10", "give", []string{"alice", "10"}, true},
		{"hello there", "", nil, false},
		{"!", "", nil, false},
		{"! ", "", nil, false},
		{"", "", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			name, args, ok := Parse(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.name, name)
			if tt.ok {
				assert.Equal(t, tt.args, args)
			}
		})
	}
}

func TestDispatcher_RegisterErrors(t *testing.T) {
	d := New()
	noop := func(context.Context, Invocation) error { return nil }

	require.NoError(t, d.Register(Command{Name: "Ping", Aliases: []string{"p"}, Run: noop}))

	tests := []struct {
		name string
		cmd  Command
		want error
	}{
		{"no run", Command{Name: "x"}, ErrInvalidCommand},
		{"empty name", Command{Run: noop}, ErrInvalidCommand},
		{"space in name", Command{Name: "a b", Run: noop}, ErrInvalidCommand},
		{"prefix in name", Command{Name: "!a", Run: noop}, ErrInvalidCommand},
		{"taken name", Command{Name: "PING", Run: noop}, ErrDuplicateCommand},
		{"taken alias", Command{Name: "pong", Aliases: []string{"P"}, Run: noop}, ErrDuplicateCommand},
		{"self alias", Command{Name: "zap", Aliases: []string{"zap"}, Run: noop}, ErrDuplicateCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, d.Register(tt.cmd), tt.want)
		})
	}

	cmds := d.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, "ping", cmds[0].Name)
	assert.Equal(t, []string{"p"}, cmds[0].Aliases)

	assert.True(t, d.Unregister("P"))
	assert.False(t, d.Unregister("ping"))
	_, ok := d.Lookup("ping")
	assert.False(t, ok)
}

func TestDispatcher_NotACommand(t *testing.T) {
	f := newFixture(t)
	handled, err := f.disp.Handle(context.Background(), "alice", "gg wp")
	assert.False(t, handled)
	assert.NoError(t, err)
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	f := newFixture(t)
	p := f.join(t, "alice")

	handled, err := f.disp.Handle(context.Background(), "alice", "!nope")
	assert.False(t, handled)
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.Equal(t, "Unknown command !nope.", p.notice(t).Text)
}

func TestDispatcher_MenuOverChat(t *testing.T) {
	f := newFixture(t)
	p := f.join(t, "alice")

	require.NoError(t, p.ep.Send(context.Background(), MessageSay, SayPayload{Text: "!ADDONS"}, transport.Server()))

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.menus, 1)
	menu := p.menus[0]
	assert.Equal(t, "Addon settings", menu.Title)
	require.Len(t, menu.Modules, 1)
	assert.Equal(t, "BASE", menu.Modules[0].ID)
	require.Len(t, menu.Modules[0].Variables, 1)
	assert.Equal(t, "Debug", menu.Modules[0].Variables[0].Name)
	assert.Equal(t, false, menu.Modules[0].Variables[0].Value)
}

func TestDispatcher_PermissionDenied(t *testing.T) {
	f := newFixture(t)
	p := f.join(t, "alice")

	handled, err := f.disp.Handle(context.Background(), "alice", "!addonreload")
	assert.True(t, handled)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, notice.Payload{
		Key:   "chat.denied",
		Text:  "You are not allowed to use !addonreload.",
		Level: notice.LevelError,
	}, p.notice(t))
	assert.Empty(t, f.syncer.targets)
}

func TestDispatcher_Reload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.join(t, "admin")

	require.NoError(t, f.backend.Write(ctx, f.mod.StorageKey(), `{"Debug":"true"}`))

	handled, err := f.disp.Handle(ctx, "admin", "/addonreload")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, true, f.mod.GetValue("Debug"))
	assert.Equal(t, []string{"broadcast"}, f.syncer.targets)
	assert.Equal(t, "Reloaded 1 modules.", p.notice(t).Text)
}

func TestDispatcher_FailingCommands(t *testing.T) {
	f := newFixture(t)
	p := f.join(t, "alice")
	boom := errors.New("boom")

	require.NoError(t, f.disp.Register(Command{Name: "fail", Run: func(context.Context, Invocation) error {
		return boom
	}}))
	require.NoError(t, f.disp.Register(Command{Name: "panic", Run: func(context.Context, Invocation) error {
		panic("kaboom")
	}}))

	handled, err := f.disp.Handle(context.Background(), "alice", "!fail")
	assert.True(t, handled)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "Command !fail failed.", p.notice(t).Text)

	handled, err = f.disp.Handle(context.Background(), "alice", "!panic now")
	assert.True(t, handled)
	assert.ErrorIs(t, err, ErrPanic)
	assert.Equal(t, "Command !panic failed.", p.notice(t).Text)
}

func TestDispatcher_InvocationArgs(t *testing.T) {
	d := New(WithChecker(permission.AllowAll{}))
	var got Invocation
	require.NoError(t, d.Register(Command{
		Name:       "set",
		Permission: permission.LevelSuperAdmin,
		Run: func(_ context.Context, inv Invocation) error {
			got = inv
			return nil
		},
	}))

	handled, err := d.Handle(context.Background(), "bob", "!SET BASE Debug true")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, Invocation{Sender: "bob", Name: "set", Args: []string{"BASE", "Debug", "true"}}, got)
}
