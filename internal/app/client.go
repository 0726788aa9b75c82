package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/addonlib/internal/addon"
	"github.com/dshills/addonlib/internal/chatcmd"
	"github.com/dshills/addonlib/internal/config"
	"github.com/dshills/addonlib/internal/configsync"
	"github.com/dshills/addonlib/internal/locale"
	"github.com/dshills/addonlib/internal/module"
	"github.com/dshills/addonlib/internal/notice"
	"github.com/dshills/addonlib/internal/storage"
	"github.com/dshills/addonlib/internal/transport"
	"github.com/dshills/addonlib/internal/transport/ws"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// Config is required. The client reads Client, Storage.Dir, Addons and
	// Locale.
	Config *config.Config

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// Player is the requested peer id. Empty lets the server pick one.
	Player string

	// Locale is reported to the server for notifications. Empty keeps the
	// server default.
	Locale string

	// Transport replaces dialing Config.Client.URL.
	Transport transport.Transport

	// OnNotice receives server notifications.
	OnNotice func(notice.Payload)

	// OnMenu receives menu open requests.
	OnMenu func(chatcmd.MenuPayload)
}

// Client is a player process: it mirrors server-scoped modules and keeps
// user-scoped ones in its own data directory.
type Client struct {
	cfg    *config.Config
	logger *zap.Logger
	opts   ClientOptions

	conn      *ws.Client
	transport transport.Transport
	registry  *module.Registry
	base      *module.Module
	mirror    *configsync.Mirror
	addons    *addon.Host

	running   atomic.Bool
	closeOnce sync.Once
}

// NewClient connects to the server and declares the local modules.
func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	if opts.Config == nil {
		return nil, &InitError{Component: "config", Err: errors.New("config is required")}
	}
	c := &Client{
		cfg:    opts.Config,
		logger: opts.Logger,
		opts:   opts,
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if err := c.init(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) init(ctx context.Context) error {
	files := storage.NewFileBackend(c.cfg.Client.DataDir)
	c.registry = module.NewRegistry(
		module.WithBackend(files, c.cfg.Storage.Dir),
		module.WithRole(module.RoleMirror),
		module.WithLogger(c.logger.Named("module")),
	)

	c.transport = c.opts.Transport
	if c.transport == nil {
		conn, err := ws.Dial(ctx, c.cfg.Client.URL, c.opts.Player, c.logger.Named("ws"))
		if err != nil {
			return &InitError{Component: "transport", Err: err}
		}
		c.conn = conn
		c.transport = conn
	}
	c.transport.Receive(notice.MessageNotify, c.handleNotice)
	c.transport.Receive(chatcmd.MessageMenuOpen, c.handleMenu)

	c.mirror = configsync.NewMirror(c.registry, c.transport, c.logger.Named("sync"))
	c.mirror.OnSync(func(_ context.Context, ids []string) {
		c.logger.Debug("configuration received", zap.Strings("modules", ids))
	})

	bundle, err := locale.LoadEmbedded()
	if err != nil {
		return &InitError{Component: "locale", Err: err}
	}
	base, err := declareBase(ctx, c.registry, bundle, c.cfg.Locale.Default, baseHooks{})
	if err != nil {
		return &InitError{Component: "base", Err: err}
	}
	c.base = base

	if c.cfg.Addons.Enabled {
		host, err := addon.NewHost(c.registry,
			addon.WithLogger(c.logger.Named("addon")),
			addon.WithExecutionTimeout(c.cfg.Addons.ExecutionTimeout.Std()),
			addon.WithQueueSize(c.cfg.Addons.QueueSize),
		)
		if err != nil {
			return &InitError{Component: "addons", Err: err}
		}
		c.addons = host
	}
	return nil
}

// Registry returns the client registry.
func (c *Client) Registry() *module.Registry { return c.registry }

// Base returns the client's copy of the BASE module.
func (c *Client) Base() *module.Module { return c.base }

// Mirror returns the configuration mirror.
func (c *Client) Mirror() *configsync.Mirror { return c.mirror }

// Run loads the addons, asks the server for its configuration and processes
// messages until ctx is done or the connection closes.
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if c.conn != nil {
		g.Go(func() error {
			defer cancel()
			if err := c.conn.Run(gctx); err != nil {
				return &ComponentError{Component: "transport", Action: "read", Err: err}
			}
			return nil
		})
	}
	if c.addons != nil {
		g.Go(func() error {
			return c.addons.Run(gctx)
		})
	}
	g.Go(func() error {
		return c.start(gctx)
	})
	return g.Wait()
}

// start runs once the server greeted the client. Addons load before the
// request so their modules exist when the configuration arrives.
func (c *Client) start(ctx context.Context) error {
	if c.conn != nil {
		select {
		case <-c.conn.Ready():
		case <-ctx.Done():
			return nil
		}
	}

	if c.addons != nil {
		loaded, err := c.addons.LoadDir(ctx, c.cfg.Addons.Dir)
		if err != nil {
			c.logger.Warn("some addons failed to load", zap.Error(err))
		}
		c.logger.Info("addons loaded", zap.Strings("scripts", loaded))
	}

	if c.opts.Locale != "" {
		if err := c.transport.Send(ctx, notice.MessageLocale, notice.LocalePayload{Locale: c.opts.Locale}, transport.Server()); err != nil && ctx.Err() == nil {
			c.logger.Warn("reporting locale failed", zap.Error(err))
		}
	}

	if err := c.mirror.Request(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return &ComponentError{Component: "sync", Action: "request", Err: err}
	}
	return nil
}

// WaitSynced blocks until the first configuration delivery was applied.
func (c *Client) WaitSynced(ctx context.Context) error {
	select {
	case <-c.mirror.Synced():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrNotSynced, ctx.Err())
	}
}

// Say sends a chat line to the server.
func (c *Client) Say(ctx context.Context, text string) error {
	return c.transport.Send(ctx, chatcmd.MessageSay, chatcmd.SayPayload{Text: text}, transport.Server())
}

// Set changes a value. User-scoped values change locally; server-scoped
// values are requested from the server.
func (c *Client) Set(ctx context.Context, moduleID, name string, value any) error {
	m, err := c.registry.Module(moduleID)
	if err != nil {
		return err
	}
	if m.Scope() == module.ScopeUser {
		return m.SetValue(ctx, name, value)
	}
	return c.mirror.RequestUpdate(ctx, moduleID, name, value)
}

func (c *Client) handleNotice(_ context.Context, msg transport.Message) {
	var p notice.Payload
	if err := msg.Decode(&p); err != nil {
		c.logger.Warn("malformed notice", zap.Error(err))
		return
	}
	if c.opts.OnNotice != nil {
		c.opts.OnNotice(p)
	}
}

func (c *Client) handleMenu(_ context.Context, msg transport.Message) {
	var p chatcmd.MenuPayload
	if err := msg.Decode(&p); err != nil {
		c.logger.Warn("malformed menu", zap.Error(err))
		return
	}
	if c.opts.OnMenu != nil {
		c.opts.OnMenu(p)
	}
}

// Close stops the addons and closes the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.addons != nil {
			err = errors.Join(err, c.addons.Close())
		}
		if c.conn != nil {
			err = errors.Join(err, c.conn.Close())
		}
		if c.registry != nil {
			c.registry.Close()
		}
	})
	return err
}
