// Package notice sends localized notifications to players.
package notice

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/addonlib/internal/locale"
	"github.com/dshills/addonlib/internal/transport"
)

// Message names.
const (
	// MessageNotify carries a Payload from the server to a client.
	MessageNotify = "addonlib.notify"

	// MessageLocale carries a client's preferred locale to the server.
	MessageLocale = "addonlib.locale"
)

// Level classifies a notification for display.
type Level string

// Notification levels.
const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Payload is the body of MessageNotify.
type Payload struct {
	Key   string `json:"key"`
	Text  string `json:"text"`
	Level Level  `json:"level,omitempty"`
}

// LocalePayload is the body of MessageLocale.
type LocalePayload struct {
	Locale string `json:"locale"`
}

// Sender renders catalog messages in each player's locale and sends them.
type Sender struct {
	transport transport.Transport
	bundle    *locale.Bundle
	logger    *zap.Logger

	mu            sync.RWMutex
	defaultLocale string
	peerLocales   map[transport.PeerID]string
}

// NewSender creates a sender. Players that never reported a locale get
// defaultLocale.
func NewSender(t transport.Transport, bundle *locale.Bundle, defaultLocale string, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sender{
		transport:     t,
		bundle:        bundle,
		logger:        logger,
		defaultLocale: bundle.Match(defaultLocale),
		peerLocales:   make(map[transport.PeerID]string),
	}
	t.Receive(MessageLocale, s.handleLocale)
	return s
}

func (s *Sender) handleLocale(_ context.Context, msg transport.Message) {
	var p LocalePayload
	if err := msg.Decode(&p); err != nil {
		s.logger.Warn("malformed locale message", zap.String("peer", string(msg.From)), zap.Error(err))
		return
	}
	s.SetPeerLocale(msg.From, p.Locale)
}

// SetDefaultLocale changes the locale of players that reported none.
func (s *Sender) SetDefaultLocale(loc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultLocale = s.bundle.Match(loc)
}

// SetPeerLocale records a player's locale.
func (s *Sender) SetPeerLocale(peer transport.PeerID, loc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerLocales[peer] = s.bundle.Match(loc)
}

// Forget drops a disconnected player's locale.
func (s *Sender) Forget(peer transport.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peerLocales, peer)
}

// LocaleOf returns the locale used for a player.
func (s *Sender) LocaleOf(peer transport.PeerID) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if loc, ok := s.peerLocales[peer]; ok {
		return loc
	}
	return s.defaultLocale
}

// Text renders key in the player's locale.
func (s *Sender) Text(peer transport.PeerID, key string, args ...any) string {
	return s.bundle.Text(s.LocaleOf(peer), key, args...)
}

// Info sends an informational notification.
func (s *Sender) Info(ctx context.Context, peer transport.PeerID, key string, args ...any) error {
	return s.send(ctx, peer, LevelInfo, key, args...)
}

// Error sends an error notification.
func (s *Sender) Error(ctx context.Context, peer transport.PeerID, key string, args ...any) error {
	return s.send(ctx, peer, LevelError, key, args...)
}

func (s *Sender) send(ctx context.Context, peer transport.PeerID, level Level, key string, args ...any) error {
	p := Payload{Key: key, Text: s.Text(peer, key, args...), Level: level}
	if err := s.transport.Send(ctx, MessageNotify, p, transport.To(peer)); err != nil {
		s.logger.Warn("notification not delivered",
			zap.String("peer", string(peer)),
			zap.String("key", key),
			zap.Error(err))
		return err
	}
	return nil
}
