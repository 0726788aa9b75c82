// Package transport carries named messages between the server and its
// clients.
//
// A message is a name plus a JSON payload. Servers address clients with a
// Target; clients only ever talk to the server. Implementations share a
// Router that maps message names to handlers.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Errors returned by transports.
var (
	// ErrUnknownPeer indicates a target names a peer that is not connected.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrClosed indicates the transport was closed.
	ErrClosed = errors.New("transport closed")

	// ErrBadTarget indicates a target the sender cannot address.
	ErrBadTarget = errors.New("invalid target")
)

// PeerID identifies a connected participant.
type PeerID string

// ServerID is the id messages from the server carry.
const ServerID PeerID = "server"

// MessageHello is sent by a server to a client right after it connects and
// carries the client's assigned id.
const MessageHello = "addonlib.hello"

// Hello is the payload of MessageHello.
type Hello struct {
	ID PeerID `json:"id"`
}

// Message is one named message.
type Message struct {
	Name    string          `json:"name"`
	From    PeerID          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage encodes payload into a message. A nil payload stays empty.
func NewMessage(name string, payload any) (Message, error) {
	msg := Message{Name: name}
	if payload == nil {
		return msg, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		msg.Payload = raw
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encoding %s payload: %w", name, err)
	}
	msg.Payload = data
	return msg, nil
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", m.Name, err)
	}
	return nil
}

// Handler handles one received message.
type Handler func(ctx context.Context, msg Message)

// Transport sends and receives named messages.
type Transport interface {
	// Send delivers payload under name to the target's peers.
	Send(ctx context.Context, name string, payload any, target Target) error

	// Receive registers a handler for a message name.
	Receive(name string, h Handler)
}

type targetKind int

const (
	targetPeers targetKind = iota
	targetBroadcast
	targetServer
	targetFilter
)

// Target selects the recipients of a message.
type Target struct {
	kind  targetKind
	peers []PeerID
	pred  func(PeerID) bool
}

// To targets a single peer.
func To(id PeerID) Target {
	return Target{kind: targetPeers, peers: []PeerID{id}}
}

// ToMany targets a set of peers. Duplicates are removed.
func ToMany(ids ...PeerID) Target {
	seen := make(map[PeerID]struct{}, len(ids))
	peers := make([]PeerID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		peers = append(peers, id)
	}
	return Target{kind: targetPeers, peers: peers}
}

// Broadcast targets every connected client.
func Broadcast() Target {
	return Target{kind: targetBroadcast}
}

// Server targets the server.
func Server() Target {
	return Target{kind: targetServer}
}

// Filter targets the connected clients pred accepts.
func Filter(pred func(PeerID) bool) Target {
	return Target{kind: targetFilter, pred: pred}
}

// IsServer reports whether the target is the server.
func (t Target) IsServer() bool {
	return t.kind == targetServer
}

// Resolve returns the recipients among the connected peers. Explicitly
// named peers that are not connected are returned in missing.
func (t Target) Resolve(connected []PeerID) (recipients, missing []PeerID) {
	switch t.kind {
	case targetBroadcast:
		return slices.Clone(connected), nil
	case targetFilter:
		for _, id := range connected {
			if t.pred != nil && t.pred(id) {
				recipients = append(recipients, id)
			}
		}
		return recipients, nil
	case targetPeers:
		for _, id := range t.peers {
			if slices.Contains(connected, id) {
				recipients = append(recipients, id)
			} else {
				missing = append(missing, id)
			}
		}
		return recipients, missing
	default:
		return nil, nil
	}
}

// String describes the target for logs.
func (t Target) String() string {
	switch t.kind {
	case targetBroadcast:
		return "broadcast"
	case targetServer:
		return "server"
	case targetFilter:
		return "filter"
	default:
		ids := make([]string, len(t.peers))
		for i, id := range t.peers {
			ids[i] = string(id)
		}
		return "peers(" + strings.Join(ids, ",") + ")"
	}
}
