package transport

import (
	"context"
	"runtime/debug"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Router maps message names to handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *zap.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Handle registers h for name. Handlers run in registration order.
func (r *Router) Handle(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = append(r.handlers[name], h)
}

// Names returns the handled message names, sorted.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs every handler registered for msg.Name and reports whether
// there was one. A panicking handler is logged and does not stop the others.
func (r *Router) Dispatch(ctx context.Context, msg Message) bool {
	r.mu.RLock()
	handlers := append([]Handler(nil), r.handlers[msg.Name]...)
	r.mu.RUnlock()

	if len(handlers) == 0 {
		r.logger.Debug("no handler for message",
			zap.String("message", msg.Name),
			zap.String("from", string(msg.From)))
		return false
	}
	for _, h := range handlers {
		r.run(ctx, h, msg)
	}
	return true
}

func (r *Router) run(ctx context.Context, h Handler, msg Message) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("message handler panicked",
				zap.String("message", msg.Name),
				zap.String("from", string(msg.From)),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	h(ctx, msg)
}
