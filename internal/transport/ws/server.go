// Package ws implements the transport over websockets, one JSON message per
// frame.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/addonlib/internal/transport"
)

// PlayerParam is the query parameter a client passes its id in.
const PlayerParam = "player"

// readLimit bounds a single incoming message.
const readLimit = 1 << 20

// DefaultWriteTimeout bounds one message write to one client.
const DefaultWriteTimeout = 5 * time.Second

var peerPattern = regexp.MustCompile(`^[A-Za-z0-9_.:@-]{1,64}$`)

type peerConn struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// Server accepts client connections and implements transport.Transport for
// the server role.
type Server struct {
	router       *transport.Router
	logger       *zap.Logger
	accept       *websocket.AcceptOptions
	writeTimeout time.Duration

	mu     sync.RWMutex
	conns  map[transport.PeerID]*peerConn
	order  []transport.PeerID
	closed bool
	wg     sync.WaitGroup

	onConnect    []func(ctx context.Context, id transport.PeerID)
	onDisconnect []func(ctx context.Context, id transport.PeerID)
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithOriginPatterns allows cross-origin connections from the given host
// patterns.
func WithOriginPatterns(patterns ...string) ServerOption {
	return func(s *Server) { s.accept.OriginPatterns = patterns }
}

// WithWriteTimeout bounds each write to a single client. A client that
// does not take a message in time is disconnected.
func WithWriteTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// NewServer creates a websocket server.
func NewServer(logger *zap.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:       transport.NewRouter(logger),
		logger:       logger,
		accept:       &websocket.AcceptOptions{},
		writeTimeout: DefaultWriteTimeout,
		conns:        make(map[transport.PeerID]*peerConn),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the server's router.
func (s *Server) Router() *transport.Router { return s.router }

// Receive implements transport.Transport.
func (s *Server) Receive(name string, h transport.Handler) {
	s.router.Handle(name, h)
}

// OnConnect registers a hook run after a client connected.
func (s *Server) OnConnect(fn func(ctx context.Context, id transport.PeerID)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = append(s.onConnect, fn)
}

// OnDisconnect registers a hook run after a client disconnected.
func (s *Server) OnDisconnect(fn func(ctx context.Context, id transport.PeerID)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = append(s.onDisconnect, fn)
}

// Peers returns the connected client ids in connection order.
func (s *Server) Peers() []transport.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]transport.PeerID(nil), s.order...)
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := transport.PeerID(r.URL.Query().Get(PlayerParam))
	if id == "" {
		id = transport.PeerID(uuid.NewString())
	}
	if id == transport.ServerID || !peerPattern.MatchString(string(id)) {
		http.Error(w, "invalid player id", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	}

	c, err := websocket.Accept(w, r, s.accept)
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	c.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := s.add(id, &peerConn{conn: c, cancel: cancel}); err != nil {
		_ = c.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	defer s.wg.Done()
	defer s.remove(ctx, id)

	log := s.logger.With(zap.String("peer", string(id)))
	if err := s.write(ctx, c, mustMessage(transport.MessageHello, transport.Hello{ID: id})); err != nil {
		log.Warn("hello failed", zap.Error(err))
		return
	}
	log.Info("client connected", zap.String("remote", r.RemoteAddr))
	s.runHooks(ctx, id, true)

	for {
		var msg transport.Message
		if err := wsjson.Read(ctx, c, &msg); err != nil {
			if !isClosure(err) && ctx.Err() == nil {
				log.Warn("read failed", zap.Error(err))
			}
			return
		}
		msg.From = id
		s.router.Dispatch(ctx, msg)
	}
}

func (s *Server) add(id transport.PeerID, pc *peerConn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return transport.ErrClosed
	}
	if _, taken := s.conns[id]; taken {
		return fmt.Errorf("player %s already connected", id)
	}
	s.conns[id] = pc
	s.order = append(s.order, id)
	s.wg.Add(1)
	return nil
}

func (s *Server) remove(ctx context.Context, id transport.PeerID) {
	s.mu.Lock()
	pc, ok := s.conns[id]
	delete(s.conns, id)
	for i, p := range s.order {
		if p == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	_ = pc.conn.CloseNow()
	s.logger.Info("client disconnected", zap.String("peer", string(id)))
	s.runHooks(context.WithoutCancel(ctx), id, false)
}

func (s *Server) runHooks(ctx context.Context, id transport.PeerID, connect bool) {
	s.mu.RLock()
	hooks := s.onDisconnect
	if connect {
		hooks = s.onConnect
	}
	hooks = append([]func(context.Context, transport.PeerID){}, hooks...)
	s.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, id)
	}
}

// Send implements transport.Transport.
func (s *Server) Send(ctx context.Context, name string, payload any, target transport.Target) error {
	if target.IsServer() {
		return fmt.Errorf("%w: server cannot send to itself", transport.ErrBadTarget)
	}
	msg, err := transport.NewMessage(name, payload)
	if err != nil {
		return err
	}
	msg.From = transport.ServerID

	recipients, missing := target.Resolve(s.Peers())
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}
	for _, id := range missing {
		fail(fmt.Errorf("%w: %s", transport.ErrUnknownPeer, id))
	}
	// Recipients are written to concurrently so one slow client costs the
	// others nothing.
	for _, id := range recipients {
		s.mu.RLock()
		pc, ok := s.conns[id]
		s.mu.RUnlock()
		if !ok {
			fail(fmt.Errorf("%w: %s", transport.ErrUnknownPeer, id))
			continue
		}
		g.Go(func() error {
			if err := s.write(ctx, pc.conn, msg); err != nil {
				s.logger.Warn("write failed", zap.String("peer", string(id)), zap.Error(err))
				fail(fmt.Errorf("sending %s to %s: %w", name, id, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// write sends one message, giving up after the write timeout. An expired
// write closes the connection.
func (s *Server) write(ctx context.Context, c *websocket.Conn, msg transport.Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, msg)
}

// Close disconnects every client and waits for their handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*peerConn, 0, len(s.conns))
	for _, pc := range s.conns {
		conns = append(conns, pc)
	}
	s.mu.Unlock()

	for _, pc := range conns {
		_ = pc.conn.Close(websocket.StatusGoingAway, "server shutting down")
		pc.cancel()
	}
	s.wg.Wait()
	return nil
}

func mustMessage(name string, payload any) transport.Message {
	msg, err := transport.NewMessage(name, payload)
	if err != nil {
		panic(err)
	}
	msg.From = transport.ServerID
	return msg
}

func isClosure(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, context.Canceled)
}

var _ transport.Transport = (*Server)(nil)
