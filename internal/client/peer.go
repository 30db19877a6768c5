package client

import (
	"context"
	"encoding/json"
)

// PeerConn is the direct low-latency data path between the two peers.
// This layer drives its offer/answer/candidate handshake and carries
// state-sync frames over it, but never interprets the handshake blobs.
type PeerConn interface {
	// CreateOffer starts a fresh negotiation from the initiating side.
	CreateOffer(ctx context.Context) (json.RawMessage, error)
	// AcceptOffer ingests the remote offer and returns the local answer.
	AcceptOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)
	// AcceptAnswer completes the handshake on the initiating side.
	AcceptAnswer(ctx context.Context, answer json.RawMessage) error
	// AddCandidate feeds one remote connectivity candidate.
	AddCandidate(ctx context.Context, cand json.RawMessage) error
	// Send pushes an application frame over the established path.
	Send(ctx context.Context, data []byte) error
	Close() error
}

// PeerEvents is how a PeerConn implementation reports back. Callbacks
// may fire from any goroutine; the client serializes them internally.
type PeerEvents struct {
	Candidate    func(cand json.RawMessage)
	Connected    func()
	Disconnected func()
	Message      func(data []byte)
}

// PeerFactory builds a fresh PeerConn for each negotiation attempt.
// restart marks a renegotiation the remote side must treat as a new
// handshake rather than a duplicate.
type PeerFactory func(events PeerEvents, restart bool) (PeerConn, error)
