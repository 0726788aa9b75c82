package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/dshills/addonlib/internal/addon"
	"github.com/dshills/addonlib/internal/chatcmd"
	"github.com/dshills/addonlib/internal/config"
	"github.com/dshills/addonlib/internal/configsync"
	"github.com/dshills/addonlib/internal/locale"
	"github.com/dshills/addonlib/internal/logging"
	"github.com/dshills/addonlib/internal/module"
	"github.com/dshills/addonlib/internal/notice"
	"github.com/dshills/addonlib/internal/permission"
	"github.com/dshills/addonlib/internal/sqldb"
	"github.com/dshills/addonlib/internal/storage"
	"github.com/dshills/addonlib/internal/transport"
	"github.com/dshills/addonlib/internal/transport/ws"
	"github.com/dshills/addonlib/internal/watcher"
)

// bootstrapper handles component initialization with proper cleanup on failure.
type bootstrapper struct {
	s *Server
}

func newBootstrapper(s *Server) *bootstrapper {
	return &bootstrapper{s: s}
}

// bootstrap initializes all components in dependency order.
// On failure, it cleans up already-initialized components.
func (b *bootstrapper) bootstrap(ctx context.Context) error {
	steps := []struct {
		name string
		init func(context.Context) error
	}{
		{"storage", b.initStorage},
		{"registry", b.initRegistry},
		{"transport", b.initTransport},
		{"notices", b.initNotices},
		{"base", b.initBase},
		{"sync", b.initSync},
		{"chat", b.initChat},
		{"addons", b.initAddons},
		{"watcher", b.initWatcher},
	}
	for _, step := range steps {
		if err := step.init(ctx); err != nil {
			b.cleanup()
			return &InitError{Component: step.name, Err: err}
		}
		b.s.initOrder = append(b.s.initOrder, step.name)
	}
	b.s.logger.Debug("server initialized", zap.Strings("components", b.s.initOrder))
	return nil
}

func (b *bootstrapper) initStorage(ctx context.Context) error {
	cfg := b.s.cfg.Storage
	switch cfg.Backend {
	case config.BackendSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		db, err := sqldb.Open(cfg.SQLitePath)
		if err != nil {
			return err
		}
		backend, err := storage.NewSQLiteBackend(ctx, db)
		if err != nil {
			_ = db.Close()
			return err
		}
		b.s.db = db
		b.s.backend = backend
	default:
		b.s.files = storage.NewFileBackend(cfg.Root)
		b.s.backend = b.s.files
	}
	b.s.logger.Info("storage ready", zap.String("backend", cfg.Backend))
	return nil
}

func (b *bootstrapper) initRegistry(context.Context) error {
	b.s.registry = module.NewRegistry(
		module.WithBackend(b.s.backend, b.s.cfg.Storage.Dir),
		module.WithRole(module.RoleAuthority),
		module.WithLogger(b.s.logger.Named("module")),
	)
	return nil
}

func (b *bootstrapper) initTransport(context.Context) error {
	var hooks peerHooks
	if b.s.network != nil {
		b.s.transport = b.s.network.Server()
		hooks = b.s.network
	} else {
		b.s.ws = ws.NewServer(b.s.logger.Named("ws"),
			ws.WithWriteTimeout(b.s.cfg.Server.WriteTimeout.Std()))
		b.s.transport = b.s.ws
		hooks = b.s.ws
	}
	logger := b.s.logger
	hooks.OnConnect(func(_ context.Context, id transport.PeerID) {
		logger.Info("player connected", zap.String("peer", string(id)))
	})
	hooks.OnDisconnect(func(_ context.Context, id transport.PeerID) {
		logger.Info("player disconnected", zap.String("peer", string(id)))
		if b.s.notices != nil {
			b.s.notices.Forget(id)
		}
	})
	return nil
}

func (b *bootstrapper) initNotices(context.Context) error {
	bundle, err := locale.LoadEmbedded()
	if err != nil {
		return err
	}
	b.s.bundle = bundle
	b.s.notices = notice.NewSender(b.s.transport, bundle, b.s.cfg.Locale.Default, b.s.logger.Named("notice"))
	return nil
}

func (b *bootstrapper) initBase(ctx context.Context) error {
	hooks := baseHooks{
		language: func(loc string) {
			b.s.notices.SetDefaultLocale(loc)
		},
	}
	if b.s.level != nil {
		toggle := logging.DebugToggle(*b.s.level, b.s.level.Level())
		hooks.debug = func(on bool) {
			toggle(on)
			b.s.logger.Info("debug mode changed", zap.Bool("debug", on))
		}
	}

	base, err := declareBase(ctx, b.s.registry, b.s.bundle, b.s.cfg.Locale.Default, hooks)
	if err != nil {
		return err
	}
	b.s.base = base

	// Stored values were applied without on-change actions.
	if on, err := base.GetBool("Debug"); err == nil && on && hooks.debug != nil {
		hooks.debug(true)
	}
	if loc, err := base.GetString("Language"); err == nil {
		hooks.language(loc)
	}
	return nil
}

func (b *bootstrapper) initSync(context.Context) error {
	cfg := b.s.cfg
	b.s.admins = permission.NewAdminList(cfg.Permissions.Admins, cfg.Permissions.SuperAdmins)
	b.s.authority = configsync.NewAuthority(b.s.registry, b.s.transport,
		configsync.WithDebounce(cfg.Sync.Debounce.Std()),
		configsync.WithSendTimeout(cfg.Sync.SendTimeout.Std()),
		configsync.WithChecker(b.s.admins),
		configsync.WithNotices(b.s.notices),
		configsync.WithLogger(b.s.logger.Named("sync")),
	)
	return nil
}

func (b *bootstrapper) initChat(context.Context) error {
	d := chatcmd.New(
		chatcmd.WithChecker(b.s.admins),
		chatcmd.WithNotices(b.s.notices),
		chatcmd.WithLogger(b.s.logger.Named("chat")),
	)
	for _, cmd := range []chatcmd.Command{
		chatcmd.MenuCommand(b.s.registry, b.s.transport, b.s.notices),
		chatcmd.ReloadCommand(b.s.registry, b.s.authority, b.s.notices),
	} {
		if err := d.Register(cmd); err != nil {
			return err
		}
	}
	d.Bind(b.s.transport)
	b.s.chat = d
	return nil
}

func (b *bootstrapper) initAddons(context.Context) error {
	cfg := b.s.cfg.Addons
	if !cfg.Enabled {
		return nil
	}
	host, err := addon.NewHost(b.s.registry,
		addon.WithDispatcher(b.s.chat),
		addon.WithLogger(b.s.logger.Named("addon")),
		addon.WithExecutionTimeout(cfg.ExecutionTimeout.Std()),
		addon.WithQueueSize(cfg.QueueSize),
	)
	if err != nil {
		return err
	}
	b.s.addons = host
	return nil
}

func (b *bootstrapper) initWatcher(context.Context) error {
	cfg := b.s.cfg.Storage
	if b.s.files == nil || !cfg.Watch {
		return nil
	}
	fw, err := watcher.NewFSNotify(watcher.WithExtensions(".json"))
	if err != nil {
		return fmt.Errorf("starting file watcher: %w", err)
	}
	b.s.watcher = watcher.NewDebounced(fw, cfg.WatchDebounce.Std())
	b.s.reloader = watcher.NewReloader(b.s.registry, b.s.files.Root(), b.s.watcher,
		watcher.WithSyncer(b.s.authority),
		watcher.WithLogger(b.s.logger.Named("watcher")),
	)
	return nil
}

// cleanup releases initialized components in reverse order.
func (b *bootstrapper) cleanup() {
	for i := len(b.s.initOrder) - 1; i >= 0; i-- {
		b.cleanupComponent(b.s.initOrder[i])
	}
	b.s.initOrder = nil
}

// cleanupComponent cleans up a single component.
func (b *bootstrapper) cleanupComponent(component string) {
	s := b.s
	switch component {
	case "watcher":
		if s.watcher != nil {
			_ = s.watcher.Close()
		}
	case "addons":
		if s.addons != nil {
			if err := s.addons.Close(); err != nil {
				s.logger.Warn("closing addons", zap.Error(err))
			}
		}
	case "sync":
		if s.authority != nil {
			s.authority.Close()
		}
	case "transport":
		if s.ws != nil {
			_ = s.ws.Close()
		}
		if s.network != nil {
			s.network.Close()
		}
	case "registry":
		if s.registry != nil {
			s.registry.Close()
		}
	case "storage":
		if s.db != nil {
			if err := s.db.Close(); err != nil {
				s.logger.Warn("closing database", zap.Error(err))
			}
		}
	}
}
