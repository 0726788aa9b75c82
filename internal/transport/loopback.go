package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Network is an in-process transport: one server endpoint and any number of
// client endpoints. Messages are JSON-encoded like on the wire and delivered
// synchronously on the sender's goroutine.
type Network struct {
	mu      sync.RWMutex
	server  *Endpoint
	clients map[PeerID]*Endpoint
	order   []PeerID
	closed  bool
	logger  *zap.Logger

	onConnect    []func(ctx context.Context, id PeerID)
	onDisconnect []func(ctx context.Context, id PeerID)
}

// NewNetwork creates an empty loopback network.
func NewNetwork(logger *zap.Logger) *Network {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Network{
		clients: make(map[PeerID]*Endpoint),
		logger:  logger,
	}
	n.server = &Endpoint{id: ServerID, network: n, router: NewRouter(logger), server: true}
	return n
}

// Server returns the server endpoint.
func (n *Network) Server() *Endpoint {
	return n.server
}

// OnConnect registers a hook run on the server side when a client connects.
func (n *Network) OnConnect(fn func(ctx context.Context, id PeerID)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onConnect = append(n.onConnect, fn)
}

// OnDisconnect registers a hook run when a client disconnects.
func (n *Network) OnDisconnect(fn func(ctx context.Context, id PeerID)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onDisconnect = append(n.onDisconnect, fn)
}

// Connect attaches a client endpoint with the given id.
func (n *Network) Connect(ctx context.Context, id PeerID) (*Endpoint, error) {
	if id == "" || id == ServerID {
		return nil, fmt.Errorf("%w: %q", ErrBadTarget, id)
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrClosed
	}
	if _, exists := n.clients[id]; exists {
		n.mu.Unlock()
		return nil, fmt.Errorf("peer %q already connected", id)
	}
	ep := &Endpoint{id: id, network: n, router: NewRouter(n.logger)}
	n.clients[id] = ep
	n.order = append(n.order, id)
	hooks := append([]func(context.Context, PeerID){}, n.onConnect...)
	n.mu.Unlock()

	for _, fn := range hooks {
		fn(ctx, id)
	}
	return ep, nil
}

// Disconnect detaches a client endpoint.
func (n *Network) Disconnect(ctx context.Context, id PeerID) {
	n.mu.Lock()
	if _, ok := n.clients[id]; !ok {
		n.mu.Unlock()
		return
	}
	delete(n.clients, id)
	for i, p := range n.order {
		if p == id {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
	hooks := append([]func(context.Context, PeerID){}, n.onDisconnect...)
	n.mu.Unlock()

	for _, fn := range hooks {
		fn(ctx, id)
	}
}

// Peers returns the connected client ids in connection order.
func (n *Network) Peers() []PeerID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]PeerID(nil), n.order...)
}

// Close stops all delivery.
func (n *Network) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
}

func (n *Network) client(id PeerID) (*Endpoint, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ep, ok := n.clients[id]
	return ep, ok
}

// Endpoint is one participant of a loopback Network.
type Endpoint struct {
	id      PeerID
	network *Network
	router  *Router
	server  bool
}

// ID returns the endpoint's peer id.
func (e *Endpoint) ID() PeerID { return e.id }

// Router returns the endpoint's router.
func (e *Endpoint) Router() *Router { return e.router }

// Peers returns the connected clients.
func (e *Endpoint) Peers() []PeerID { return e.network.Peers() }

// Receive implements Transport.
func (e *Endpoint) Receive(name string, h Handler) {
	e.router.Handle(name, h)
}

// Send implements Transport.
func (e *Endpoint) Send(ctx context.Context, name string, payload any, target Target) error {
	n := e.network
	n.mu.RLock()
	closed := n.closed
	n.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	msg, err := NewMessage(name, payload)
	if err != nil {
		return err
	}
	msg.From = e.id

	if !e.server {
		if !target.IsServer() {
			return fmt.Errorf("%w: clients can only send to the server", ErrBadTarget)
		}
		n.server.router.Dispatch(ctx, msg)
		return nil
	}
	if target.IsServer() {
		return fmt.Errorf("%w: server cannot send to itself", ErrBadTarget)
	}

	recipients, missing := target.Resolve(n.Peers())
	var errs []error
	for _, id := range missing {
		errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownPeer, id))
	}
	for _, id := range recipients {
		ep, ok := n.client(id)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownPeer, id))
			continue
		}
		ep.router.Dispatch(ctx, msg)
	}
	return errors.Join(errs...)
}

var _ Transport = (*Endpoint)(nil)
