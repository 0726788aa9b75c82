// Package configsync keeps client mirrors of server-scoped modules in step
// with the authority.
//
// Clients ask for the configuration with MessageRequest. The authority
// queues requesters and arms a one-shot timer on the first request of a
// window; when it fires the queue is drained and a single MessageDeliver
// carrying the snapshot taken at that moment goes to every queued client.
// Requests arriving later open the next window.
//
// Every local SetValue on a server-scoped module is pushed to all clients.
// Clients may ask to change a value with MessageUpdate; the request passes a
// permission check first.
package configsync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/addonlib/internal/module"
	"github.com/dshills/addonlib/internal/module/notify"
	"github.com/dshills/addonlib/internal/notice"
	"github.com/dshills/addonlib/internal/permission"
	"github.com/dshills/addonlib/internal/transport"
)

// Message names.
const (
	MessageRequest = "addonlib.config.request"
	MessageDeliver = "addonlib.config.deliver"
	MessageUpdate  = "addonlib.config.update"
)

// DefaultDebounce is the request coalescing window.
const DefaultDebounce = 2 * time.Second

// DefaultSendTimeout bounds one delivery or push.
const DefaultSendTimeout = 10 * time.Second

// DeliverPayload is the body of MessageDeliver.
type DeliverPayload struct {
	Modules module.Snapshot `json:"modules"`
}

// UpdatePayload is the body of MessageUpdate.
type UpdatePayload struct {
	Module   string          `json:"module"`
	Variable string          `json:"variable"`
	Value    json.RawMessage `json:"value"`
}

// Authority serves the configuration of a server registry.
type Authority struct {
	registry  *module.Registry
	transport transport.Transport
	checker   permission.Checker
	notices   *notice.Sender
	logger    *zap.Logger
	delay     time.Duration
	timeout   time.Duration
	need      permission.Level
	sub       *notify.Subscription

	mu      sync.Mutex
	pending []transport.PeerID
	queued  map[transport.PeerID]struct{}
	timer   *time.Timer
	gen     uint64
	closed  bool
	windows int
}

// AuthorityOption configures an Authority.
type AuthorityOption func(*Authority)

// WithDebounce sets the coalescing window.
func WithDebounce(d time.Duration) AuthorityOption {
	return func(a *Authority) {
		if d > 0 {
			a.delay = d
		}
	}
}

// WithSendTimeout bounds each delivery and push, so a client that stops
// reading cannot hold up a window or the caller of SetValue.
func WithSendTimeout(d time.Duration) AuthorityOption {
	return func(a *Authority) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithChecker sets the permission checker for update requests.
func WithChecker(c permission.Checker) AuthorityOption {
	return func(a *Authority) { a.checker = c }
}

// WithUpdateLevel sets the level update requests require.
func WithUpdateLevel(l permission.Level) AuthorityOption {
	return func(a *Authority) { a.need = l }
}

// WithNotices reports update results to the requesting player.
func WithNotices(s *notice.Sender) AuthorityOption {
	return func(a *Authority) { a.notices = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) AuthorityOption {
	return func(a *Authority) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAuthority registers the authority's handlers on t and starts pushing
// local changes of reg.
func NewAuthority(reg *module.Registry, t transport.Transport, opts ...AuthorityOption) *Authority {
	a := &Authority{
		registry:  reg,
		transport: t,
		checker:   permission.NewAdminList(nil, nil),
		logger:    zap.NewNop(),
		delay:     DefaultDebounce,
		timeout:   DefaultSendTimeout,
		need:      permission.LevelAdmin,
		queued:    make(map[transport.PeerID]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	t.Receive(MessageRequest, func(_ context.Context, msg transport.Message) {
		a.Enqueue(msg.From)
	})
	t.Receive(MessageUpdate, a.handleUpdate)
	a.sub = reg.Notifier().Subscribe(a.push)
	return a
}

// Enqueue queues a peer for the next delivery window.
func (a *Authority) Enqueue(peer transport.PeerID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	if _, dup := a.queued[peer]; !dup {
		a.queued[peer] = struct{}{}
		a.pending = append(a.pending, peer)
	}
	if a.timer == nil {
		gen := a.gen
		a.timer = time.AfterFunc(a.delay, func() { a.fire(gen) })
	}
}

// fire drains the queue of window gen. A timer from a window that was
// already flushed, or from before Close, finds a newer generation and does
// nothing.
func (a *Authority) fire(gen uint64) {
	a.mu.Lock()
	if a.closed || gen != a.gen {
		a.mu.Unlock()
		return
	}
	peers := a.pending
	a.pending = nil
	a.queued = make(map[transport.PeerID]struct{})
	a.timer = nil
	a.gen++
	if len(peers) > 0 {
		a.windows++
	}
	a.mu.Unlock()

	if len(peers) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	err := a.SyncModules(ctx, transport.ToMany(peers...))
	if err != nil {
		a.logger.Warn("config delivery incomplete", zap.Int("peers", len(peers)), zap.Error(err))
		return
	}
	a.logger.Debug("config delivered", zap.Int("peers", len(peers)))
}

// Flush delivers the current window immediately.
func (a *Authority) Flush() {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
	}
	gen := a.gen
	a.mu.Unlock()
	a.fire(gen)
}

// Pending returns the number of queued peers.
func (a *Authority) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Windows returns how many request windows have been delivered.
func (a *Authority) Windows() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.windows
}

// SyncModules sends the snapshot of the named modules (every server-scoped
// module when none is named) to target in one message.
func (a *Authority) SyncModules(ctx context.Context, target transport.Target, ids ...string) error {
	snap := a.registry.Snapshot(ids...)
	if len(snap) == 0 {
		return nil
	}
	return a.transport.Send(ctx, MessageDeliver, DeliverPayload{Modules: snap}, target)
}

// Close stops the pending window without delivering it and stops pushing
// changes. It is safe to call more than once.
func (a *Authority) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.gen++
	a.pending = nil
	a.mu.Unlock()
	a.sub.Unsubscribe()
}

// push sends a module to every client after a local set. A batch of
// changes, such as a reset, is pushed once after its last change.
func (a *Authority) push(c notify.Change) {
	if c.Type != notify.ChangeSet || c.More {
		return
	}
	m, err := a.registry.Module(c.Module)
	if err != nil || m.Scope() != module.ScopeServer {
		return
	}
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.SyncModules(ctx, transport.Broadcast(), c.Module); err != nil {
		a.logger.Warn("config push incomplete", zap.String("module", c.Module), zap.Error(err))
	}
}

func (a *Authority) handleUpdate(ctx context.Context, msg transport.Message) {
	log := a.logger.With(zap.String("peer", string(msg.From)))

	var p UpdatePayload
	if err := msg.Decode(&p); err != nil {
		log.Warn("malformed config update", zap.Error(err))
		return
	}
	log = log.With(zap.String("module", p.Module), zap.String("variable", p.Variable))

	if err := permission.Check(ctx, a.checker, msg.From, a.need); err != nil {
		log.Info("config update denied")
		a.notify(ctx, msg.From, true, "config.denied", p.Module, p.Variable)
		return
	}

	m, err := a.registry.Module(p.Module)
	if err != nil || m.Scope() != module.ScopeServer {
		a.notify(ctx, msg.From, true, "config.unknown", p.Module, p.Variable)
		return
	}

	var value any
	if err := json.Unmarshal(p.Value, &value); err != nil {
		log.Warn("malformed config value", zap.Error(err))
		a.notify(ctx, msg.From, true, "config.invalid", p.Module, p.Variable)
		return
	}

	err = m.SetValue(module.ContextWithSource(ctx, string(msg.From)), p.Variable, value)
	switch {
	case err == nil:
		log.Info("config updated")
		shown := ""
		if flat, err := m.Serialized(); err == nil {
			shown = flat[p.Variable]
		}
		a.notify(ctx, msg.From, false, "config.updated", p.Module, p.Variable, shown)
	case errors.Is(err, module.ErrVariableNotFound):
		a.notify(ctx, msg.From, true, "config.unknown", p.Module, p.Variable)
	case errors.Is(err, module.ErrTypeMismatch), errors.Is(err, module.ErrValidationFailed):
		log.Info("config update rejected", zap.Error(err))
		a.notify(ctx, msg.From, true, "config.invalid", p.Module, p.Variable)
	default:
		log.Error("config update failed", zap.Error(err))
		a.notify(ctx, msg.From, true, "config.invalid", p.Module, p.Variable)
	}
}

func (a *Authority) notify(ctx context.Context, peer transport.PeerID, isErr bool, key string, args ...any) {
	if a.notices == nil {
		return
	}
	if isErr {
		_ = a.notices.Error(ctx, peer, key, args...)
		return
	}
	_ = a.notices.Info(ctx, peer, key, args...)
}
