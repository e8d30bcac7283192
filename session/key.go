// Package session persists per-sessionKey message transcripts and the
// compact index of all known sessions.
package session

import (
	"fmt"
	"strings"
)

// Key is a canonicalized sessionKey: "agent:<agentId>:main" or
// "agent:<agentId>:<channel>:<peerId>".
type Key struct {
	AgentID string
	Channel string // "" for the "main" shared-channel form
	PeerID  string // "" for the "main" shared-channel form
}

// String renders the canonical 3- or 4-segment sessionKey.
func (k Key) String() string {
	if k.Channel == "" {
		return fmt.Sprintf("agent:%s:main", k.AgentID)
	}
	return fmt.Sprintf("agent:%s:%s:%s", k.AgentID, k.Channel, k.PeerID)
}

// IsMain reports whether k addresses the shared main channel.
func (k Key) IsMain() bool {
	return k.Channel == ""
}

// ParseKey parses a sessionKey string, accepting both the 3-segment
// ("agent:<id>:main") and 4-segment ("agent:<id>:<channel>:<peerId>")
// forms, normalizing on return.
func ParseKey(raw string) (Key, error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 3 || parts[0] != "agent" {
		return Key{}, fmt.Errorf("invalid session key %q: must start with agent:<id>:", raw)
	}
	agentID := parts[1]
	if agentID == "" {
		return Key{}, fmt.Errorf("invalid session key %q: empty agent id", raw)
	}

	switch len(parts) {
	case 3:
		if parts[2] != "main" {
			return Key{}, fmt.Errorf("invalid session key %q: 3-segment form must end in \"main\"", raw)
		}
		return Key{AgentID: agentID}, nil
	case 4:
		channel, peerID := parts[2], parts[3]
		if channel == "" || peerID == "" {
			return Key{}, fmt.Errorf("invalid session key %q: channel and peerId must be non-empty", raw)
		}
		return Key{AgentID: agentID, Channel: channel, PeerID: peerID}, nil
	default:
		// spec's ":direct:" infix form: agent:<id>:<channel>:direct:<peerId>
		if len(parts) == 5 && parts[3] == "direct" {
			return Key{AgentID: agentID, Channel: parts[2], PeerID: parts[4]}, nil
		}
		return Key{}, fmt.Errorf("invalid session key %q: unrecognized segment count %d", raw, len(parts))
	}
}

// NewKey builds a Key for a channel conversation.
func NewKey(agentID, channel, peerID string) Key {
	return Key{AgentID: agentID, Channel: channel, PeerID: peerID}
}

// MainKey builds a Key for the shared main channel of an agent.
func MainKey(agentID string) Key {
	return Key{AgentID: agentID}
}
