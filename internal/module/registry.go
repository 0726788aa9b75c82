package module

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/addonlib/internal/module/notify"
	"github.com/dshills/addonlib/internal/storage"
)

// Role says whether this process owns server-scoped values.
type Role int

const (
	// RoleAuthority owns and persists server-scoped modules.
	RoleAuthority Role = iota
	// RoleMirror holds read-only copies of server-scoped modules.
	RoleMirror
)

// String returns the role name.
func (r Role) String() string {
	if r == RoleMirror {
		return "mirror"
	}
	return "authority"
}

// DefaultDir is the backend directory module documents are stored in.
const DefaultDir = "config"

// Snapshot is the serialized form of one or more modules:
// module id -> variable name -> serialized value.
type Snapshot map[string]map[string]string

// Registry owns the registered modules and their values.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*Module
	order   []string

	store    *Store
	backend  storage.Backend
	dir      string
	role     Role
	logger   *zap.Logger
	notifier *notify.Notifier
}

// Option configures a Registry.
type Option func(*Registry)

// WithBackend persists modules to b under dir.
func WithBackend(b storage.Backend, dir string) Option {
	return func(r *Registry) {
		r.backend = b
		if dir != "" {
			r.dir = normalizeDir(dir)
		}
	}
}

// WithRole sets the registry role.
func WithRole(role Role) Option {
	return func(r *Registry) { r.role = role }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithNotifier publishes changes to n.
func WithNotifier(n *notify.Notifier) Option {
	return func(r *Registry) {
		if n != nil {
			r.notifier = n
		}
	}
}

// NewRegistry creates a registry. Without WithBackend nothing is persisted.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		modules:  make(map[string]*Module),
		store:    NewStore(),
		dir:      DefaultDir,
		role:     RoleAuthority,
		logger:   zap.NewNop(),
		notifier: notify.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Role returns the registry role.
func (r *Registry) Role() Role { return r.role }

// Store returns the value store.
func (r *Registry) Store() *Store { return r.store }

// Notifier returns the change notifier.
func (r *Registry) Notifier() *notify.Notifier { return r.notifier }

// CreateModule allocates an empty server-scoped module.
func (r *Registry) CreateModule(id string, opts ...ModuleOption) (*Module, error) {
	return newModule(r, id, ScopeServer, opts)
}

// CreateUserModule allocates an empty module local to this process.
func (r *Registry) CreateUserModule(id string, opts ...ModuleOption) (*Module, error) {
	return newModule(r, id, ScopeUser, opts)
}

// Register finalizes m. A module registered earlier under the same id is
// replaced and detached; it keeps its place in the registration order.
// The module's values start at their defaults and are then loaded from
// storage when this process owns them.
func (r *Registry) Register(ctx context.Context, m *Module) error {
	if m.registry != r {
		return fmt.Errorf("module %s belongs to another registry", m.id)
	}
	if err := m.finalize(); err != nil {
		return err
	}

	r.mu.Lock()
	prev, replaced := r.modules[m.id]
	if prev == m {
		r.mu.Unlock()
		return nil
	}
	r.modules[m.id] = m
	if !replaced {
		r.order = append(r.order, m.id)
	}
	r.store.reset(m.id, m.defaults())
	r.mu.Unlock()

	if replaced {
		prev.mu.Lock()
		prev.registered = false
		prev.mu.Unlock()
		r.logger.Info("module replaced", zap.String("module", m.id))
	}
	m.mu.Lock()
	m.registered = true
	m.mu.Unlock()

	if _, err := m.load(ctx, notify.ChangeLoad, false); err != nil {
		// Keep the defaults; a broken backend must not stop registration.
		r.logger.Warn("module registered with defaults",
			zap.String("module", m.id), zap.Error(err))
	}
	r.logger.Debug("module registered",
		zap.String("module", m.id),
		zap.Stringer("scope", m.scope),
		zap.Int("variables", len(m.Variables())))
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(ctx context.Context, m *Module) {
	if err := r.Register(ctx, m); err != nil {
		panic(err)
	}
}

// Module returns the module registered under id.
func (r *Registry) Module(id string) (*Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrModuleNotFound)
	}
	return m, nil
}

// Modules returns the registered modules in registration order.
func (r *Registry) Modules() []*Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Module, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.modules[id])
	}
	return out
}

// ModuleByKey returns the module persisted under a storage key.
func (r *Registry) ModuleByKey(key string) (*Module, bool) {
	cleaned, err := storage.CleanKey(key)
	if err != nil {
		return nil, false
	}
	for _, m := range r.Modules() {
		if m.StorageKey() == cleaned {
			return m, true
		}
	}
	return nil, false
}

// Describe returns the descriptors of every registered module.
func (r *Registry) Describe() []ModuleDescriptor {
	mods := r.Modules()
	out := make([]ModuleDescriptor, 0, len(mods))
	for _, m := range mods {
		out = append(out, m.Describe())
	}
	return out
}

// Load reloads every module this process persists.
func (r *Registry) Load(ctx context.Context) error {
	var errs []error
	for _, m := range r.Modules() {
		if err := m.Load(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Save persists every module this process owns.
func (r *Registry) Save(ctx context.Context) error {
	var errs []error
	for _, m := range r.Modules() {
		if err := m.Save(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ServerModuleIDs returns the ids of server-scoped modules in order.
func (r *Registry) ServerModuleIDs() []string {
	var ids []string
	for _, m := range r.Modules() {
		if m.scope == ScopeServer {
			ids = append(ids, m.id)
		}
	}
	return ids
}

// Snapshot serializes the named modules, or every server-scoped module when
// no id is given. Unknown ids are skipped.
func (r *Registry) Snapshot(ids ...string) Snapshot {
	if len(ids) == 0 {
		ids = r.ServerModuleIDs()
	}
	snap := make(Snapshot, len(ids))
	for _, id := range ids {
		m, err := r.Module(id)
		if err != nil {
			continue
		}
		flat, err := m.Serialized()
		if err != nil {
			r.logger.Error("snapshot skipped module", zap.String("module", id), zap.Error(err))
			continue
		}
		snap[id] = flat
	}
	return snap
}

// ApplySnapshot replaces the local values of every server-scoped module in
// snap. Variables absent from a module's entry take their default; values
// that fail to decode are logged and also take their default. Modules not
// registered here are ignored.
func (r *Registry) ApplySnapshot(ctx context.Context, snap Snapshot, source string) int {
	applied := 0
	for id, flat := range snap {
		m, err := r.Module(id)
		if err != nil {
			r.logger.Debug("snapshot for unknown module ignored", zap.String("module", id))
			continue
		}
		if m.scope != ScopeServer {
			continue
		}
		values := make(map[string]any, len(flat))
		for _, v := range m.Variables() {
			s, ok := flat[v.Name]
			if !ok {
				continue
			}
			val, err := m.decodeValue(v, s)
			if err != nil {
				r.logger.Warn("synced value rejected; using default",
					zap.String("module", id),
					zap.String("variable", v.Name),
					zap.Error(err))
				continue
			}
			values[v.Name] = val
		}
		m.apply(ctx, values, notify.ChangeSync, source, true)
		applied++
	}
	return applied
}

func (r *Registry) storageKey(id string) string {
	return path.Join(r.dir, storageName(id))
}

// Dir returns the backend directory modules are stored in.
func (r *Registry) Dir() string { return r.dir }

// Close stops change delivery.
func (r *Registry) Close() {
	r.notifier.Close()
}

func normalizeDir(dir string) string {
	return strings.Trim(path.Clean(strings.ReplaceAll(dir, "\\", "/")), "/")
}
