package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dshills/addonlib/internal/module"
	"github.com/dshills/addonlib/internal/transport"
)

// Syncer sends module snapshots to clients.
type Syncer interface {
	SyncModules(ctx context.Context, target transport.Target, ids ...string) error
}

// Reloader reloads modules whose documents change under a file backend
// root.
type Reloader struct {
	registry *module.Registry
	root     string
	watcher  Watcher
	syncer   Syncer
	logger   *zap.Logger

	reloads atomic.Int64
}

// ReloaderOption configures a Reloader.
type ReloaderOption func(*Reloader)

// WithSyncer pushes reloaded server modules through s.
func WithSyncer(s Syncer) ReloaderOption {
	return func(r *Reloader) { r.syncer = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ReloaderOption {
	return func(r *Reloader) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReloader creates a Reloader for the modules of reg stored under root,
// the file backend's root directory.
func NewReloader(reg *module.Registry, root string, w Watcher, opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		registry: reg,
		root:     root,
		watcher:  w,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dir returns the directory the module documents live in.
func (r *Reloader) Dir() string {
	return filepath.Join(r.root, filepath.FromSlash(r.registry.Dir()))
}

// Reloads returns how many reloads changed at least one value.
func (r *Reloader) Reloads() int64 {
	return r.reloads.Load()
}

// Run watches the config directory, creating it if needed, and handles
// changes until ctx ends or the watcher closes.
func (r *Reloader) Run(ctx context.Context) error {
	dir := r.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := r.watcher.Watch(dir); err != nil && !errors.Is(err, ErrAlreadyWatching) {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	r.logger.Info("watching config directory", zap.String("dir", dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-r.watcher.Events():
			if !ok {
				return nil
			}
			if _, err := r.Handle(ctx, ev); err != nil {
				r.logger.Warn("config reload failed", zap.String("path", ev.Path), zap.Error(err))
			}
		case err, ok := <-r.watcher.Errors():
			if !ok {
				return nil
			}
			r.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// Handle reloads the module ev refers to. It returns whether values changed.
// Files that belong to no registered module are ignored, and so is a
// removed document: the module keeps its current values.
func (r *Reloader) Handle(ctx context.Context, ev Event) (bool, error) {
	log := r.logger.With(zap.String("path", ev.Path), zap.Stringer("op", ev.Op))

	key, err := r.key(ev.Path)
	if err != nil {
		log.Debug("change outside the backend root")
		return false, nil
	}
	m, ok := r.registry.ModuleByKey(key)
	if !ok {
		log.Debug("change to unknown module document")
		return false, nil
	}
	if _, err := os.Stat(ev.Path); errors.Is(err, os.ErrNotExist) {
		log.Info("module document removed; keeping values", zap.String("module", m.ID()))
		return false, nil
	}

	changed, err := m.Reload(ctx)
	if err != nil {
		return false, err
	}
	if !changed {
		log.Debug("module document unchanged", zap.String("module", m.ID()))
		return false, nil
	}
	r.reloads.Add(1)
	log.Info("module reloaded from disk", zap.String("module", m.ID()))

	if r.syncer != nil && m.Scope() == module.ScopeServer {
		if err := r.syncer.SyncModules(ctx, transport.Broadcast(), m.ID()); err != nil {
			return true, fmt.Errorf("pushing %s: %w", m.ID(), err)
		}
	}
	return true, nil
}

func (r *Reloader) key(path string) (string, error) {
	root, err := filepath.Abs(r.root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("outside root")
	}
	return filepath.ToSlash(rel), nil
}
