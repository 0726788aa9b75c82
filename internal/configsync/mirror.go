package configsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/addonlib/internal/module"
	"github.com/dshills/addonlib/internal/transport"
)

// SyncFunc runs after a delivery was applied, with the ids of the modules it
// carried.
type SyncFunc func(ctx context.Context, moduleIDs []string)

// Mirror keeps a client registry's server-scoped modules equal to the
// authority's. The registry should have module.RoleMirror.
type Mirror struct {
	registry  *module.Registry
	transport transport.Transport
	logger    *zap.Logger

	mu     sync.Mutex
	hooks  []SyncFunc
	synced chan struct{}
	once   sync.Once
}

// NewMirror registers the mirror's delivery handler on t.
func NewMirror(reg *module.Registry, t transport.Transport, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Mirror{
		registry:  reg,
		transport: t,
		logger:    logger,
		synced:    make(chan struct{}),
	}
	t.Receive(MessageDeliver, m.handleDeliver)
	return m
}

// OnSync registers fn to run after every applied delivery.
func (m *Mirror) OnSync(fn SyncFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Synced is closed once the first delivery was applied.
func (m *Mirror) Synced() <-chan struct{} {
	return m.synced
}

// Request asks the authority for the current configuration.
func (m *Mirror) Request(ctx context.Context) error {
	return m.transport.Send(ctx, MessageRequest, nil, transport.Server())
}

// RequestUpdate asks the authority to change a server-scoped value. The
// value is checked locally first so obvious mistakes never leave the client;
// the authority decides whether the player may make the change.
func (m *Mirror) RequestUpdate(ctx context.Context, moduleID, name string, value any) error {
	mod, err := m.registry.Module(moduleID)
	if err != nil {
		return err
	}
	v, ok := mod.Variable(name)
	if !ok {
		return fmt.Errorf("%s.%s: %w", moduleID, name, module.ErrVariableNotFound)
	}
	canonical, err := v.Check(moduleID, value)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(canonical)
	if err != nil {
		return fmt.Errorf("encoding %s.%s: %w", moduleID, name, err)
	}
	return m.transport.Send(ctx, MessageUpdate, UpdatePayload{
		Module:   moduleID,
		Variable: name,
		Value:    raw,
	}, transport.Server())
}

func (m *Mirror) handleDeliver(ctx context.Context, msg transport.Message) {
	var p DeliverPayload
	if err := msg.Decode(&p); err != nil {
		m.logger.Warn("malformed config delivery", zap.Error(err))
		return
	}
	if p.Modules == nil {
		m.logger.Warn("config delivery without modules")
		return
	}

	applied := m.registry.ApplySnapshot(ctx, p.Modules, string(msg.From))
	ids := make([]string, 0, len(p.Modules))
	for id := range p.Modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	m.logger.Debug("config applied", zap.Strings("modules", ids), zap.Int("applied", applied))

	m.once.Do(func() { close(m.synced) })

	m.mu.Lock()
	hooks := append([]SyncFunc(nil), m.hooks...)
	m.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx, ids)
	}
}
