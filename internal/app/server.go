package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/addonlib/internal/addon"
	"github.com/dshills/addonlib/internal/chatcmd"
	"github.com/dshills/addonlib/internal/config"
	"github.com/dshills/addonlib/internal/configsync"
	"github.com/dshills/addonlib/internal/locale"
	"github.com/dshills/addonlib/internal/module"
	"github.com/dshills/addonlib/internal/notice"
	"github.com/dshills/addonlib/internal/permission"
	"github.com/dshills/addonlib/internal/sqldb"
	"github.com/dshills/addonlib/internal/storage"
	"github.com/dshills/addonlib/internal/transport"
	"github.com/dshills/addonlib/internal/transport/ws"
	"github.com/dshills/addonlib/internal/watcher"
)

// Options configures a Server.
type Options struct {
	// Config is required.
	Config *config.Config

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// Level is switched to debug while BASE.Debug is on. Nil disables it.
	Level *zap.AtomicLevel

	// Network replaces the websocket listener with an in-process network.
	Network *transport.Network
}

// peerHooks is implemented by transports that report connects and
// disconnects.
type peerHooks interface {
	OnConnect(fn func(ctx context.Context, id transport.PeerID))
	OnDisconnect(fn func(ctx context.Context, id transport.PeerID))
}

// Server is the authority process: it owns server-scoped values, runs the
// addons and serves clients.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	level  *zap.AtomicLevel

	db        *sqldb.DB
	backend   storage.Backend
	files     *storage.FileBackend
	registry  *module.Registry
	bundle    *locale.Bundle
	ws        *ws.Server
	network   *transport.Network
	transport transport.Transport
	notices   *notice.Sender
	base      *module.Module
	admins    *permission.AdminList
	authority *configsync.Authority
	chat      *chatcmd.Dispatcher
	addons    *addon.Host
	watcher   watcher.Watcher
	reloader  *watcher.Reloader

	initOrder []string

	running   atomic.Bool
	ready     chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	mu   sync.Mutex
	addr net.Addr
}

// NewServer initializes every component. On failure the components created
// so far are released.
func NewServer(ctx context.Context, opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, &InitError{Component: "config", Err: errors.New("config is required")}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:     opts.Config,
		logger:  logger,
		level:   opts.Level,
		network: opts.Network,
		ready:   make(chan struct{}),
	}
	if err := newBootstrapper(s).bootstrap(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Registry returns the module registry.
func (s *Server) Registry() *module.Registry { return s.registry }

// Base returns the BASE module.
func (s *Server) Base() *module.Module { return s.base }

// Authority returns the configuration authority.
func (s *Server) Authority() *configsync.Authority { return s.authority }

// Chat returns the chat command dispatcher.
func (s *Server) Chat() *chatcmd.Dispatcher { return s.chat }

// Addons returns the addon host, or nil when addons are disabled.
func (s *Server) Addons() *addon.Host { return s.addons }

// Admins returns the permission list. Grants take effect immediately.
func (s *Server) Admins() *permission.AdminList { return s.admins }

// Reloader returns the storage watcher, or nil when watching is off.
func (s *Server) Reloader() *watcher.Reloader { return s.reloader }

// Ready is closed once the listener is up and the addons have run.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the listening address, or nil before Run listens or when an
// in-process network is used.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run serves until ctx is done or a component fails. It may be called once.
func (s *Server) Run(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.ws != nil {
		ln, err := net.Listen("tcp", s.cfg.Server.Addr)
		if err != nil {
			return &ComponentError{Component: "http", Action: "listen", Err: err}
		}
		s.mu.Lock()
		s.addr = ln.Addr()
		s.mu.Unlock()

		mux := http.NewServeMux()
		mux.Handle(s.cfg.Server.Path, s.ws)
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		g.Go(func() error {
			s.logger.Info("listening", zap.Stringer("addr", ln.Addr()), zap.String("path", s.cfg.Server.Path))
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return &ComponentError{Component: "http", Action: "serve", Err: err}
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return s.shutdownHTTP(context.WithoutCancel(ctx), srv)
		})
	}

	if s.addons != nil {
		g.Go(func() error {
			return s.addons.Run(gctx)
		})
		g.Go(func() error {
			defer close(s.ready)
			loaded, err := s.addons.LoadDir(gctx, s.cfg.Addons.Dir)
			if err != nil {
				s.logger.Warn("some addons failed to load", zap.Error(err))
			}
			s.logger.Info("addons loaded", zap.Strings("scripts", loaded))
			return nil
		})
	} else {
		close(s.ready)
	}

	if s.reloader != nil {
		g.Go(func() error {
			if err := s.reloader.Run(gctx); err != nil {
				return &ComponentError{Component: "watcher", Action: "run", Err: err}
			}
			return nil
		})
	}

	return g.Wait()
}

func (s *Server) shutdownHTTP(ctx context.Context, srv *http.Server) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout.Std())
	defer cancel()

	// Upgraded connections are not tracked by http.Server.
	_ = s.ws.Close()
	if err := srv.Shutdown(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrShutdownTimeout
		}
		return &ComponentError{Component: "http", Action: "shutdown", Err: err}
	}
	s.logger.Info("listener stopped")
	return nil
}

// Close releases every component in reverse initialization order. Call it
// after Run returned.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		newBootstrapper(s).cleanup()
	})
	return nil
}
