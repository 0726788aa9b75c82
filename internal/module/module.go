package module

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/addonlib/internal/module/notify"
)

// Scope says where a module's values are authoritative.
type Scope int

const (
	// ScopeServer modules are owned by the authority and mirrored on clients.
	ScopeServer Scope = iota
	// ScopeUser modules are local to the process that declares them.
	ScopeUser
)

// String returns the scope name.
func (s Scope) String() string {
	switch s {
	case ScopeServer:
		return "server"
	case ScopeUser:
		return "user"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Scope) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "server":
		*s = ScopeServer
	case "user":
		*s = ScopeUser
	default:
		return fmt.Errorf("unknown scope %q", text)
	}
	return nil
}

var identPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

func validIdent(s string) bool {
	return identPattern.MatchString(s)
}

// ModuleOption configures a module at creation.
type ModuleOption func(*Module)

// WithLabel sets the module's display label.
func WithLabel(label string) ModuleOption {
	return func(m *Module) { m.label = label }
}

// WithDescription sets the module's description.
func WithDescription(desc string) ModuleOption {
	return func(m *Module) { m.description = desc }
}

// Module is a named collection of variables belonging to one feature.
//
// A module is built with AddOption, then registered. Values are read and
// written through the registry's store once the module is registered; before
// that GetValue returns defaults.
type Module struct {
	id          string
	label       string
	description string
	scope       Scope
	registry    *Registry

	mu         sync.RWMutex
	vars       map[string]*Variable
	order      []string
	pending    []*OptionBuilder
	schemaErr  error
	registered bool
}

func newModule(r *Registry, id string, scope Scope, opts []ModuleOption) (*Module, error) {
	if !validIdent(id) {
		return nil, fmt.Errorf("%w: module id %q", ErrInvalidID, id)
	}
	m := &Module{
		id:       id,
		label:    id,
		scope:    scope,
		registry: r,
		vars:     make(map[string]*Variable),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ID returns the module id.
func (m *Module) ID() string { return m.id }

// Label returns the display label.
func (m *Module) Label() string { return m.label }

// Description returns the module description.
func (m *Module) Description() string { return m.description }

// Scope returns the module scope.
func (m *Module) Scope() Scope { return m.scope }

// Registered reports whether the module is the current registration for its id.
func (m *Module) Registered() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registered
}

// AddOption starts the definition of a variable. The returned builder is
// validated by Done, or at the latest when the module is registered.
func (m *Module) AddOption(name, label, description string, typ Type, def any) *OptionBuilder {
	b := &OptionBuilder{
		module: m,
		v: Variable{
			Name:        name,
			Label:       label,
			Description: description,
			Type:        typ,
			Default:     def,
		},
	}
	m.mu.Lock()
	m.pending = append(m.pending, b)
	m.mu.Unlock()
	return b
}

// commit validates a builder's definition and adds it to the module.
func (m *Module) commit(b *OptionBuilder) error {
	v := b.v
	if !validIdent(v.Name) {
		return &SchemaError{Module: m.id, Variable: v.Name, Message: "invalid variable name", Err: ErrInvalidID}
	}
	if !v.Type.Valid() {
		return &SchemaError{Module: m.id, Variable: v.Name, Message: fmt.Sprintf("invalid type %d", v.Type)}
	}
	if v.Minimum != nil && v.Maximum != nil && *v.Minimum > *v.Maximum {
		return &SchemaError{Module: m.id, Variable: v.Name,
			Message: fmt.Sprintf("minimum %d exceeds maximum %d", *v.Minimum, *v.Maximum)}
	}
	def, err := v.Check(m.id, v.Default)
	if err != nil {
		return &SchemaError{Module: m.id, Variable: v.Name, Message: "default rejected", Err: err}
	}
	v.Default = def
	if v.Label == "" {
		v.Label = v.Name
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered {
		return &SchemaError{Module: m.id, Variable: v.Name, Message: "module already registered"}
	}
	if _, exists := m.vars[v.Name]; exists {
		return &SchemaError{Module: m.id, Variable: v.Name, Message: "duplicate variable"}
	}
	v.Order = len(m.order)
	m.vars[v.Name] = &v
	m.order = append(m.order, v.Name)
	return nil
}

// finalize commits every builder not yet committed. The first schema error
// sticks to the module, so a module with a rejected option never registers.
func (m *Module) finalize() error {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, b := range pending {
		err := b.Done()
		if err == nil {
			continue
		}
		m.mu.Lock()
		if m.schemaErr == nil {
			m.schemaErr = err
		}
		m.mu.Unlock()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schemaErr
}

// Register finalizes the module into its registry.
func (m *Module) Register(ctx context.Context) error {
	return m.registry.Register(ctx, m)
}

// MustRegister is like Register but panics on error.
func (m *Module) MustRegister(ctx context.Context) {
	if err := m.Register(ctx); err != nil {
		panic(err)
	}
}

// Variable returns a variable definition.
func (m *Module) Variable(name string) (*Variable, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vars[name]
	return v, ok
}

// Variables returns the definitions in registration order.
func (m *Module) Variables() []*Variable {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Variable, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.vars[name])
	}
	return out
}

// defaults returns a fresh map of every default value.
func (m *Module) defaults() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]any, len(m.vars))
	for name, v := range m.vars {
		out[name] = v.defaultValue()
	}
	return out
}

// GetValue returns the current value of a variable, falling back to its
// default. Table values are copies. It returns nil for unknown names.
func (m *Module) GetValue(name string) any {
	v, ok := m.Variable(name)
	if !ok {
		return nil
	}
	if m.Registered() {
		if val, ok := m.registry.store.Get(m.id, name); ok {
			return val
		}
	}
	return v.defaultValue()
}

func (m *Module) typed(name string, want Type) (any, error) {
	v, ok := m.Variable(name)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", m.id, name, ErrVariableNotFound)
	}
	if v.Type != want {
		return nil, &TypeError{Module: m.id, Variable: name, Expected: want.String(), Actual: v.Type.String()}
	}
	return m.GetValue(name), nil
}

// GetInt returns an Int variable.
func (m *Module) GetInt(name string) (int, error) {
	val, err := m.typed(name, TypeInt)
	if err != nil {
		return 0, err
	}
	return val.(int), nil
}

// GetString returns a String variable.
func (m *Module) GetString(name string) (string, error) {
	val, err := m.typed(name, TypeString)
	if err != nil {
		return "", err
	}
	return val.(string), nil
}

// GetBool returns a Bool variable.
func (m *Module) GetBool(name string) (bool, error) {
	val, err := m.typed(name, TypeBool)
	if err != nil {
		return false, err
	}
	return val.(bool), nil
}

// GetTable returns a copy of a Table variable.
func (m *Module) GetTable(name string) (any, error) {
	return m.typed(name, TypeTable)
}

// GetKey returns a Key variable.
func (m *Module) GetKey(name string) (KeyCode, error) {
	val, err := m.typed(name, TypeKey)
	if err != nil {
		return KeyNone, err
	}
	return val.(KeyCode), nil
}

// SetValue validates and stores a value, re-persists the whole module, runs
// the variable's on-change action and publishes the change. When the module
// cannot be persisted the previous value is restored and the error returned.
func (m *Module) SetValue(ctx context.Context, name string, value any) error {
	if !m.Registered() {
		return fmt.Errorf("%s: %w", m.id, ErrNotRegistered)
	}
	r := m.registry
	if m.scope == ScopeServer && r.role == RoleMirror {
		return fmt.Errorf("%s: %w", m.id, ErrReadOnly)
	}
	v, ok := m.Variable(name)
	if !ok {
		return fmt.Errorf("%s.%s: %w", m.id, name, ErrVariableNotFound)
	}
	nv, err := v.Check(m.id, value)
	if err != nil {
		return err
	}

	old, changed := r.store.swap(m.id, name, nv)
	if !changed {
		return nil
	}
	if err := m.Save(ctx); err != nil {
		r.store.compareAndSwap(m.id, name, nv, old)
		r.logger.Error("persisting module failed; value restored",
			zap.String("module", m.id),
			zap.String("variable", name),
			zap.Error(err))
		return err
	}

	m.changed(ctx, []notify.Change{{
		Module:   m.id,
		Variable: name,
		Type:     notify.ChangeSet,
		OldValue: old,
		NewValue: nv,
		Source:   SourceFromContext(ctx),
	}}, true)
	return nil
}

// Reset restores every variable to its default.
func (m *Module) Reset(ctx context.Context) error {
	if !m.Registered() {
		return fmt.Errorf("%s: %w", m.id, ErrNotRegistered)
	}
	if m.scope == ScopeServer && m.registry.role == RoleMirror {
		return fmt.Errorf("%s: %w", m.id, ErrReadOnly)
	}
	m.apply(ctx, m.defaults(), notify.ChangeSet, SourceFromContext(ctx), true)
	return m.Save(ctx)
}

// apply replaces the module's values wholesale. Variables missing from
// values take their default. It returns the changes it published.
func (m *Module) apply(ctx context.Context, values map[string]any, ct notify.ChangeType, source string, runOnChange bool) []notify.Change {
	var changes []notify.Change
	for _, v := range m.Variables() {
		nv, ok := values[v.Name]
		if !ok {
			nv = v.defaultValue()
		}
		old, changed := m.registry.store.swap(m.id, v.Name, nv)
		if !changed {
			continue
		}
		changes = append(changes, notify.Change{
			Module:   m.id,
			Variable: v.Name,
			Type:     ct,
			OldValue: old,
			NewValue: nv,
			Source:   source,
		})
	}
	for i := range changes {
		changes[i].More = i < len(changes)-1
	}
	m.changed(ctx, changes, runOnChange)
	return changes
}

// changed runs on-change actions and publishes notifications. No locks are
// held while user code runs.
func (m *Module) changed(ctx context.Context, changes []notify.Change, runOnChange bool) {
	for _, c := range changes {
		if runOnChange {
			if v, ok := m.Variable(c.Variable); ok && v.OnChange != nil {
				m.runOnChange(ctx, v, c)
			}
		}
		m.registry.notifier.Notify(c)
	}
}

func (m *Module) runOnChange(ctx context.Context, v *Variable, c notify.Change) {
	defer func() {
		if p := recover(); p != nil {
			m.registry.logger.Error("on-change action panicked",
				zap.String("module", m.id),
				zap.String("variable", v.Name),
				zap.Any("panic", p))
		}
	}()
	v.OnChange(ctx, deepCopy(c.OldValue), deepCopy(c.NewValue))
}

// GetSorted returns the variable descriptors in registration order.
func (m *Module) GetSorted() []VariableDescriptor {
	vars := m.Variables()
	out := make([]VariableDescriptor, 0, len(vars))
	for _, v := range vars {
		out = append(out, v.describe(m.GetValue(v.Name)))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// ModuleDescriptor is the read-only view of a module for the settings menu.
type ModuleDescriptor struct {
	ID          string               `json:"id"`
	Label       string               `json:"label"`
	Description string               `json:"description,omitempty"`
	Scope       Scope                `json:"scope"`
	Variables   []VariableDescriptor `json:"variables"`
}

// Describe returns the module's descriptor.
func (m *Module) Describe() ModuleDescriptor {
	return ModuleDescriptor{
		ID:          m.id,
		Label:       m.label,
		Description: m.description,
		Scope:       m.scope,
		Variables:   m.GetSorted(),
	}
}

// StorageKey returns the backend key the module persists under.
func (m *Module) StorageKey() string {
	return m.registry.storageKey(m.id)
}

// storageName keeps the id's case; ids differing only in case are distinct
// modules and get distinct documents.
func storageName(id string) string {
	return id + ".json"
}

type sourceKey struct{}

// ContextWithSource tags a context with the peer a change originates from.
func ContextWithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFromContext returns the source set by ContextWithSource.
func SourceFromContext(ctx context.Context) string {
	s, _ := ctx.Value(sourceKey{}).(string)
	return s
}
