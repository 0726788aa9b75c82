package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/dshills/addonlib/internal/transport"
)

// Client is a websocket connection to the server. It implements
// transport.Transport for the client role.
type Client struct {
	conn   *websocket.Conn
	router *transport.Router
	logger *zap.Logger

	mu    sync.RWMutex
	id    transport.PeerID
	ready chan struct{}
	once  sync.Once
}

// Dial connects to the server at serverURL. player is the requested peer id;
// when empty the server assigns one. http and https URLs are accepted and
// mapped to ws and wss.
func Dial(ctx context.Context, serverURL, player string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if player != "" {
		q := u.Query()
		q.Set(PlayerParam, player)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	conn.SetReadLimit(readLimit)

	return &Client{
		conn:   conn,
		router: transport.NewRouter(logger),
		logger: logger,
		ready:  make(chan struct{}),
	}, nil
}

// Router returns the client's router.
func (c *Client) Router() *transport.Router { return c.router }

// ID returns the id the server assigned, or "" before the hello arrived.
func (c *Client) ID() transport.PeerID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Ready is closed once the server assigned the client's id.
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

// Receive implements transport.Transport.
func (c *Client) Receive(name string, h transport.Handler) {
	c.router.Handle(name, h)
}

// Send implements transport.Transport. Clients can only address the server.
func (c *Client) Send(ctx context.Context, name string, payload any, target transport.Target) error {
	if !target.IsServer() {
		return fmt.Errorf("%w: clients can only send to the server", transport.ErrBadTarget)
	}
	msg, err := transport.NewMessage(name, payload)
	if err != nil {
		return err
	}
	msg.From = c.ID()
	if err := wsjson.Write(ctx, c.conn, msg); err != nil {
		return fmt.Errorf("sending %s: %w", name, err)
	}
	return nil
}

// Run reads messages and dispatches them until the connection closes or ctx
// is done. A normal closure returns nil.
func (c *Client) Run(ctx context.Context) error {
	for {
		var msg transport.Message
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			if isClosure(err) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading from server: %w", err)
		}
		if msg.Name == transport.MessageHello {
			c.hello(msg)
			continue
		}
		c.router.Dispatch(ctx, msg)
	}
}

func (c *Client) hello(msg transport.Message) {
	var h transport.Hello
	if err := msg.Decode(&h); err != nil || h.ID == "" {
		c.logger.Warn("malformed hello", zap.Error(err))
		return
	}
	c.mu.Lock()
	c.id = h.ID
	c.mu.Unlock()
	c.once.Do(func() { close(c.ready) })
	c.logger.Info("connected", zap.String("peer", string(h.ID)))
}

// Close closes the connection.
func (c *Client) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

var _ transport.Transport = (*Client)(nil)
