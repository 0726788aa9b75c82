// Package permission decides which peers may run privileged operations.
package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dshills/addonlib/internal/transport"
)

// ErrDenied is returned when a peer lacks the level an operation needs.
var ErrDenied = errors.New("permission denied")

// Level is a privilege level. Higher levels imply every lower one.
type Level int

const (
	// LevelUser is any connected player.
	LevelUser Level = iota
	// LevelAdmin may change server configuration.
	LevelAdmin
	// LevelSuperAdmin may additionally reload addons and storage.
	LevelSuperAdmin
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelUser:
		return "user"
	case LevelAdmin:
		return "admin"
	case LevelSuperAdmin:
		return "superadmin"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel parses a level name.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "user":
		return LevelUser, nil
	case "admin":
		return LevelAdmin, nil
	case "superadmin":
		return LevelSuperAdmin, nil
	default:
		return LevelUser, fmt.Errorf("unknown permission level %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Implies reports whether holding l grants need.
func (l Level) Implies(need Level) bool {
	return l >= need
}

// Checker decides whether a peer holds a level.
type Checker interface {
	Allowed(ctx context.Context, peer transport.PeerID, need Level) bool
}

// Check returns an error wrapping ErrDenied when c refuses.
func Check(ctx context.Context, c Checker, peer transport.PeerID, need Level) error {
	if c.Allowed(ctx, peer, need) {
		return nil
	}
	return &DeniedError{Peer: peer, Need: need}
}

// DeniedError describes a refused operation.
type DeniedError struct {
	Peer transport.PeerID
	Need Level
}

// Error implements the error interface.
func (e *DeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s needs %s", e.Peer, e.Need)
}

// Is implements error matching for DeniedError.
func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}

// AllowAll grants every level to every peer.
type AllowAll struct{}

// Allowed implements Checker.
func (AllowAll) Allowed(context.Context, transport.PeerID, Level) bool { return true }

// AdminList grants levels to peers by id. Unlisted peers are users; the
// server itself holds every level.
type AdminList struct {
	mu     sync.RWMutex
	levels map[transport.PeerID]Level
}

// NewAdminList creates a list from admin and superadmin ids.
func NewAdminList(admins, superAdmins []string) *AdminList {
	a := &AdminList{levels: make(map[transport.PeerID]Level)}
	for _, id := range admins {
		a.levels[transport.PeerID(id)] = LevelAdmin
	}
	for _, id := range superAdmins {
		a.levels[transport.PeerID(id)] = LevelSuperAdmin
	}
	return a
}

// Grant sets a peer's level.
func (a *AdminList) Grant(peer transport.PeerID, l Level) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if l <= LevelUser {
		delete(a.levels, peer)
		return
	}
	a.levels[peer] = l
}

// Revoke returns a peer to user level.
func (a *AdminList) Revoke(peer transport.PeerID) {
	a.Grant(peer, LevelUser)
}

// LevelOf returns a peer's level.
func (a *AdminList) LevelOf(peer transport.PeerID) Level {
	if peer == transport.ServerID {
		return LevelSuperAdmin
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.levels[peer]
}

// Allowed implements Checker.
func (a *AdminList) Allowed(_ context.Context, peer transport.PeerID, need Level) bool {
	return a.LevelOf(peer).Implies(need)
}

var (
	_ Checker = AllowAll{}
	_ Checker = (*AdminList)(nil)
)
