// Package types holds the wire messages exchanged over a room session
// and the JSON bodies of the directory/name HTTP endpoints.
package types

import (
	"encoding/json"

	"github.com/jhilbert/bg/internal/game"
)

// Roles are the two exclusive seats in a room.
const (
	RoleHost  = "host"
	RoleGuest = "guest"
)

// Client -> coordinator message types.
const (
	MsgSetName   = "set-name"
	MsgRoomState = "room-state"
	MsgSignal    = "signal"
)

// Coordinator -> client message types.
const (
	MsgJoined       = "joined"
	MsgPeerJoined   = "peer-joined"
	MsgPeerLeft     = "peer-left"
	MsgPeerName     = "peer-name"
	MsgNameUpdated  = "name-updated"
	MsgNameConflict = "name-conflict"
	MsgError        = "error"
)

// Signal payload kinds the peers exchange. The coordinator relays these
// verbatim; only state-sync is inspected (its embedded state persists).
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "ice-candidate"
	SignalResign    = "resign"
	SignalStateSync = "state-sync"
)

// Player is one roster entry.
type Player struct {
	Role string `json:"role"`
	Name string `json:"name"`
}

// ClientMessage is any message a session sends to the coordinator.
type ClientMessage struct {
	Type    string          `json:"type"`
	Name    string          `json:"name,omitempty"`
	Claim   bool            `json:"claim,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SignalPayload is the part of a signal envelope the coordinator and the
// negotiation client care about; unknown fields pass through untouched
// inside the raw payload.
type SignalPayload struct {
	Kind    string          `json:"kind"`
	Restart bool            `json:"restart,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	State   json.RawMessage `json:"state,omitempty"`
}

// ServerMessage is any message the coordinator sends to a session.
// Fields are sparse; which ones are set depends on Type.
type ServerMessage struct {
	Type string `json:"type"`

	// joined
	RoomID    string         `json:"roomId,omitempty"`
	Role      string         `json:"role,omitempty"`
	LocalName string         `json:"localName,omitempty"`
	RoomState *game.Snapshot `json:"roomState,omitempty"`

	// joined, peer-joined, peer-left
	PeerCount int      `json:"peerCount,omitempty"`
	Players   []Player `json:"players,omitempty"`

	// peer-name, name-updated
	Name    string `json:"name,omitempty"`
	Claimed bool   `json:"claimed,omitempty"`

	// name-conflict
	RequestedName string `json:"requestedName,omitempty"`

	// signal relay
	FromRole string          `json:"fromRole,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// RoomListing is one entry of GET /rooms. UpdatedAt is Unix millis.
type RoomListing struct {
	RoomID      string   `json:"roomId"`
	PlayerCount int      `json:"playerCount"`
	Players     []Player `json:"players"`
	UpdatedAt   int64    `json:"updatedAt"`
	OpenSeat    bool     `json:"openSeat"`
}

// NameStatus is the body of GET /names/{name}.
type NameStatus struct {
	OK               bool   `json:"ok"`
	Name             string `json:"name,omitempty"`
	Exists           bool   `json:"exists"`
	Available        bool   `json:"available"`
	OwnedByRequester bool   `json:"ownedByRequester"`
	Claimable        bool   `json:"claimable"`
	Error            string `json:"error,omitempty"`
}

// ReserveRequest is the body of PUT /names/{name}.
type ReserveRequest struct {
	ClientID string `json:"clientId"`
	RoomID   string `json:"roomId,omitempty"`
	Claim    bool   `json:"claim,omitempty"`
}

// UpsertRoomRequest is the body of the internal directory mirror PUT.
type UpsertRoomRequest struct {
	RoomID    string   `json:"roomId"`
	Players   []Player `json:"players"`
	UpdatedAt int64    `json:"updatedAt,omitempty"`
}

// NormalizePlayers keeps at most one entry per role, host first.
func NormalizePlayers(in []Player, normalizeName func(string) string) []Player {
	byRole := make(map[string]Player, 2)
	for _, p := range in {
		role := RoleHost
		if p.Role == RoleGuest {
			role = RoleGuest
		}
		if _, ok := byRole[role]; ok {
			continue
		}
		byRole[role] = Player{Role: role, Name: normalizeName(p.Name)}
	}
	out := make([]Player, 0, 2)
	for _, role := range []string{RoleHost, RoleGuest} {
		if p, ok := byRole[role]; ok {
			out = append(out, p)
		}
	}
	return out
}
