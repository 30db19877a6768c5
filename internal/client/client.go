// Package client is the peer-side negotiation state machine: it keeps
// the relay link alive with bounded exponential backoff, drives the
// offer/answer/candidate handshake through the coordinator, and applies
// and emits state-sync snapshots with the ordering discipline from
// package game.
//
// Everything runs on one event loop. Timers, relay reads and peer
// callbacks all post events into a single inbox, so near-simultaneous
// firings serialize in arrival order and each handler re-checks state
// before acting.
package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/jhilbert/bg/internal/game"
	"github.com/jhilbert/bg/internal/types"
)

// State is where the connection-establishment machine currently sits.
type State int

const (
	StateDisconnected State = iota
	StateConnectingRelay
	StateRelayOpen
	StateRoleAssigned
	StateNegotiating
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnectingRelay:
		return "reconnecting"
	case StateRelayOpen, StateRoleAssigned, StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	defaultInitialBackoff   = 500 * time.Millisecond
	defaultMaxBackoff       = 15 * time.Second
	defaultRenegotiateDelay = 750 * time.Millisecond
)

type Config struct {
	ServerURL string
	ClientID  string
	Name      string
	Log       *zap.Logger

	// Peer builds the direct data path. Nil runs relay-only (snapshots
	// still flow, just without the low-latency path).
	Peer PeerFactory

	// Dial opens the relay link; defaults to the websocket dialer.
	Dial Dialer

	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	RenegotiateDelay time.Duration

	// Callbacks run on the client's event loop; keep them quick.
	OnStatus       func(status string)
	OnSnapshot     func(snap *game.Snapshot)
	OnPeers        func(peerCount int, players []types.Player)
	OnNameConflict func(requestedName string)
	OnResign       func(fromRole string)
}

type event interface{ isEvent() }

type cmdJoin struct{ roomID string }
type cmdLeave struct{}
type cmdPublish struct{ snap *game.Snapshot }
type cmdSetName struct {
	name  string
	claim bool
}
type cmdResign struct{}
type cmdListing struct{ rooms []types.RoomListing }

type evDialResult struct {
	gen  int
	conn RelayConn
	err  error
}
type evRelayMsg struct {
	gen int
	msg types.ServerMessage
}
type evRelayClosed struct {
	gen int
	err error
}
type evRetry struct{ gen int }
type evReneg struct{ gen int }
type evPeerCandidate struct {
	gen  int
	cand json.RawMessage
}
type evPeerConnected struct{ gen int }
type evPeerClosed struct{ gen int }
type evPeerData struct {
	gen  int
	data []byte
}

func (cmdJoin) isEvent()         {}
func (cmdLeave) isEvent()        {}
func (cmdPublish) isEvent()      {}
func (cmdSetName) isEvent()      {}
func (cmdResign) isEvent()       {}
func (cmdListing) isEvent()      {}
func (evDialResult) isEvent()    {}
func (evRelayMsg) isEvent()      {}
func (evRelayClosed) isEvent()   {}
func (evRetry) isEvent()         {}
func (evReneg) isEvent()         {}
func (evPeerCandidate) isEvent() {}
func (evPeerConnected) isEvent() {}
func (evPeerClosed) isEvent()    {}
func (evPeerData) isEvent()      {}

type Client struct {
	cfg   Config
	inbox chan event

	ctx    context.Context
	cancel context.CancelFunc

	// Everything below is owned by the run loop.
	state  State
	roomID string
	role   string
	name   string
	manual bool

	relay    RelayConn
	relayGen int
	bo       *backoff.ExponentialBackOff

	peer         PeerConn
	peerGen      int
	remoteSet    bool
	pendingCands []json.RawMessage
	negotiating  bool
	renegQueued  bool
	everPeered   bool

	gate    game.Gate
	stamper game.Stamper

	// auto-rejoin bookkeeping: a room/version pair that just refused us
	// stays blocked until its directory state changes.
	rejoining      bool
	blockedRoom    string
	blockedVersion int64
}

func New(parent context.Context, cfg Config) *Client {
	if cfg.Dial == nil {
		cfg.Dial = dialRelay
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.RenegotiateDelay <= 0 {
		cfg.RenegotiateDelay = defaultRenegotiateDelay
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(parent)
	c := &Client{
		cfg:    cfg,
		inbox:  make(chan event, 64),
		ctx:    ctx,
		cancel: cancel,
		name:   cfg.Name,
		bo:     newBackoff(cfg.InitialBackoff, cfg.MaxBackoff),
	}
	go c.loop()
	return c
}

func newBackoff(initial, ceiling time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.MaxInterval = ceiling
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // retry forever until cancelled
	bo.Reset()
	return bo
}

// Join connects to a room, replacing any previous session.
func (c *Client) Join(roomID string) { c.post(cmdJoin{roomID: roomID}) }

// Leave disconnects and suppresses every automatic reconnection until
// the next Join.
func (c *Client) Leave() { c.post(cmdLeave{}) }

// Publish stamps and sends a snapshot over both delivery paths.
func (c *Client) Publish(snap *game.Snapshot) { c.post(cmdPublish{snap: snap}) }

// SetName requests a display-name change, optionally claiming it.
func (c *Client) SetName(name string, claim bool) {
	c.post(cmdSetName{name: name, claim: claim})
}

// Resign relays a resignation to the peer.
func (c *Client) Resign() { c.post(cmdResign{}) }

// ConsiderRejoin feeds a directory listing to the opportunistic
// auto-rejoin check.
func (c *Client) ConsiderRejoin(rooms []types.RoomListing) {
	c.post(cmdListing{rooms: rooms})
}

func (c *Client) Close() { c.cancel() }

func (c *Client) post(ev event) {
	select {
	case c.inbox <- ev:
	case <-c.ctx.Done():
	}
}

func (c *Client) loop() {
	for {
		select {
		case <-c.ctx.Done():
			c.teardown()
			return
		case ev := <-c.inbox:
			c.handle(ev)
		}
	}
}

func (c *Client) handle(ev event) {
	switch ev := ev.(type) {
	case cmdJoin:
		c.manual = false
		c.rejoining = false
		c.roomID = ev.roomID
		c.teardown()
		c.bo.Reset()
		c.startDial()

	case cmdLeave:
		c.manual = true
		c.rejoining = false
		c.teardown()
		c.setState(StateDisconnected)

	case cmdPublish:
		c.publish(ev.snap)

	case cmdSetName:
		c.sendRelay(types.ClientMessage{Type: types.MsgSetName, Name: ev.name, Claim: ev.claim})

	case cmdResign:
		c.sendSignal(types.SignalPayload{Kind: types.SignalResign})

	case cmdListing:
		c.considerRejoin(ev.rooms)

	case evDialResult:
		c.handleDialResult(ev)

	case evRelayMsg:
		if ev.gen == c.relayGen {
			c.handleRelayMsg(ev.msg)
		}

	case evRelayClosed:
		c.handleRelayClosed(ev)

	case evRetry:
		if ev.gen == c.relayGen && !c.manual && c.state == StateConnectingRelay {
			c.startDial()
		}

	case evReneg:
		if ev.gen == c.peerGen && !c.manual {
			c.performOffer(true)
		}

	case evPeerCandidate:
		if ev.gen == c.peerGen {
			c.sendSignal(types.SignalPayload{Kind: types.SignalCandidate, Data: ev.cand})
		}

	case evPeerConnected:
		if ev.gen != c.peerGen {
			return
		}
		c.negotiating = false
		c.setState(StateConnected)
		if c.renegQueued {
			c.renegQueued = false
			c.requestNegotiation(true)
		}

	case evPeerClosed:
		if ev.gen != c.peerGen {
			return
		}
		c.negotiating = false
		c.closePeer()
		if c.relay != nil {
			c.setState(StateRoleAssigned)
			// Direct path lost while the relay is up: the host retries
			// on a bounded delay, the guest waits for the restart offer.
			if c.role == types.RoleHost {
				c.requestNegotiation(true)
			}
		}

	case evPeerData:
		if ev.gen != c.peerGen {
			return
		}
		var sp types.SignalPayload
		if err := json.Unmarshal(ev.data, &sp); err == nil && sp.Kind == types.SignalStateSync {
			c.applyInbound(sp.State)
		}
	}
}

func (c *Client) teardown() {
	c.relayGen++ // invalidates dial results, pumps and retry timers
	if c.relay != nil {
		_ = c.relay.Close()
		c.relay = nil
	}
	c.closePeer()
	c.negotiating = false
	c.renegQueued = false
	c.role = ""
}

func (c *Client) closePeer() {
	c.peerGen++ // invalidates peer callbacks and reneg timers
	if c.peer != nil {
		_ = c.peer.Close()
		c.peer = nil
	}
	c.remoteSet = false
	c.pendingCands = nil
}

func (c *Client) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(s.String())
	}
}

// --- relay link -------------------------------------------------------

func (c *Client) startDial() {
	c.setState(StateConnectingRelay)
	gen := c.relayGen
	rawURL, err := sessionURL(c.cfg.ServerURL, c.roomID, c.name, c.cfg.ClientID)
	if err != nil {
		c.cfg.Log.Error("bad session url", zap.Error(err))
		c.setState(StateDisconnected)
		return
	}
	go func() {
		conn, err := c.cfg.Dial(c.ctx, rawURL)
		c.post(evDialResult{gen: gen, conn: conn, err: err})
	}()
}

func (c *Client) handleDialResult(ev evDialResult) {
	if ev.gen != c.relayGen || c.manual {
		if ev.conn != nil {
			_ = ev.conn.Close()
		}
		return
	}
	if ev.err != nil {
		c.cfg.Log.Warn("relay dial failed", zap.String("room", c.roomID), zap.Error(ev.err))
		if c.rejoining {
			// The room we tried to slip back into refused us; leave it
			// alone until its listing changes.
			c.rejoining = false
			c.setState(StateDisconnected)
			return
		}
		c.scheduleRetry()
		return
	}

	c.relay = ev.conn
	c.bo.Reset()
	c.rejoining = false
	c.setState(StateRelayOpen)
	go c.readPump(ev.gen, ev.conn)
}

func (c *Client) scheduleRetry() {
	gen := c.relayGen
	d := c.bo.NextBackOff()
	c.setState(StateConnectingRelay)
	time.AfterFunc(d, func() { c.post(evRetry{gen: gen}) })
}

func (c *Client) readPump(gen int, conn RelayConn) {
	for {
		data, err := conn.Read(c.ctx)
		if err != nil {
			c.post(evRelayClosed{gen: gen, err: err})
			return
		}
		var msg types.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.cfg.Log.Debug("unreadable relay frame", zap.Error(err))
			continue
		}
		c.post(evRelayMsg{gen: gen, msg: msg})
	}
}

func (c *Client) handleRelayClosed(ev evRelayClosed) {
	if ev.gen != c.relayGen {
		return
	}
	c.relayGen++
	if c.relay != nil {
		_ = c.relay.Close()
		c.relay = nil
	}
	c.role = ""
	c.negotiating = false
	c.renegQueued = false
	if c.manual {
		c.setState(StateDisconnected)
		return
	}
	c.cfg.Log.Info("relay link lost, retrying", zap.String("room", c.roomID), zap.Error(ev.err))
	c.scheduleRetry()
}

func (c *Client) handleRelayMsg(msg types.ServerMessage) {
	switch msg.Type {
	case types.MsgJoined:
		c.role = msg.Role
		if msg.LocalName != "" {
			c.name = msg.LocalName
		}
		c.setState(StateRoleAssigned)
		if msg.RoomState != nil {
			c.admit(msg.RoomState)
		}
		if c.cfg.OnPeers != nil {
			c.cfg.OnPeers(msg.PeerCount, msg.Players)
		}
		// Only the host initiates; immediately when a peer already sits
		// in the room.
		if c.role == types.RoleHost && msg.PeerCount > 1 {
			c.requestNegotiation(c.everPeered)
		}

	case types.MsgPeerJoined:
		if c.cfg.OnPeers != nil {
			c.cfg.OnPeers(msg.PeerCount, msg.Players)
		}
		if c.role == types.RoleHost {
			c.requestNegotiation(c.everPeered)
		}

	case types.MsgPeerLeft:
		// The counterpart is gone: an in-flight handshake can never
		// complete, so clear the attempt instead of queueing behind it.
		// The next peer-joined starts a fresh one.
		c.negotiating = false
		c.renegQueued = false
		c.closePeer()
		if c.relay != nil && c.role != "" {
			c.setState(StateRoleAssigned)
		}
		if c.cfg.OnPeers != nil {
			c.cfg.OnPeers(msg.PeerCount, msg.Players)
		}

	case types.MsgNameUpdated:
		c.name = msg.Name

	case types.MsgNameConflict:
		if c.cfg.OnNameConflict != nil {
			c.cfg.OnNameConflict(msg.RequestedName)
		}

	case types.MsgSignal:
		c.handleSignal(msg.Payload)

	case types.MsgError:
		c.cfg.Log.Warn("coordinator error", zap.String("message", msg.Message))
	}
}

// --- negotiation ------------------------------------------------------

// requestNegotiation starts (or queues) a host-side handshake. Attempts
// are serialized: a request while one is in flight is coalesced into a
// single follow-up.
func (c *Client) requestNegotiation(restart bool) {
	if c.role != types.RoleHost || c.cfg.Peer == nil || c.relay == nil {
		return
	}
	if c.negotiating {
		c.renegQueued = true
		return
	}
	c.negotiating = true
	c.setState(StateNegotiating)
	if restart {
		gen := c.peerGen
		time.AfterFunc(c.cfg.RenegotiateDelay, func() { c.post(evReneg{gen: gen}) })
		return
	}
	c.performOffer(false)
}

func (c *Client) performOffer(restart bool) {
	if c.relay == nil {
		// Relay dropped while the attempt was pending; the post-rejoin
		// peer-joined notification starts a fresh one.
		c.negotiating = false
		return
	}
	c.closePeer()
	c.negotiating = true
	c.setState(StateNegotiating)

	peer, err := c.cfg.Peer(c.peerEvents(), restart)
	if err != nil {
		c.negotiationFailed(err)
		return
	}
	c.peer = peer
	c.everPeered = true

	offer, err := peer.CreateOffer(c.ctx)
	if err != nil {
		c.negotiationFailed(err)
		return
	}
	c.sendSignal(types.SignalPayload{Kind: types.SignalOffer, Restart: restart, Data: offer})
}

func (c *Client) negotiationFailed(err error) {
	c.cfg.Log.Warn("negotiation attempt failed", zap.Error(err))
	c.negotiating = false
	c.closePeer()
	if c.role == types.RoleHost && c.relay != nil {
		c.requestNegotiation(true)
	}
}

// peerEvents snapshots the current generation so a replaced PeerConn
// can't smuggle stale callbacks into the loop. Call after closePeer has
// bumped the generation for the new connection.
func (c *Client) peerEvents() PeerEvents {
	gen := c.peerGen
	return PeerEvents{
		Candidate:    func(cand json.RawMessage) { c.post(evPeerCandidate{gen: gen, cand: cand}) },
		Connected:    func() { c.post(evPeerConnected{gen: gen}) },
		Disconnected: func() { c.post(evPeerClosed{gen: gen}) },
		Message:      func(data []byte) { c.post(evPeerData{gen: gen, data: data}) },
	}
}

func (c *Client) handleSignal(raw json.RawMessage) {
	var sp types.SignalPayload
	if err := json.Unmarshal(raw, &sp); err != nil {
		c.cfg.Log.Debug("unreadable signal payload")
		return
	}

	switch sp.Kind {
	case types.SignalOffer:
		c.handleOffer(sp)

	case types.SignalAnswer:
		if c.peer == nil {
			return
		}
		if err := c.peer.AcceptAnswer(c.ctx, sp.Data); err != nil {
			c.negotiationFailed(err)
			return
		}
		c.remoteSet = true
		c.flushCandidates()

	case types.SignalCandidate:
		// Candidates arriving before the remote description queue up.
		if c.peer == nil || !c.remoteSet {
			c.pendingCands = append(c.pendingCands, sp.Data)
			return
		}
		if err := c.peer.AddCandidate(c.ctx, sp.Data); err != nil {
			c.cfg.Log.Debug("candidate rejected", zap.Error(err))
		}

	case types.SignalResign:
		if c.cfg.OnResign != nil {
			c.cfg.OnResign(c.remoteRole())
		}

	case types.SignalStateSync:
		c.applyInbound(sp.State)
	}
}

func (c *Client) handleOffer(sp types.SignalPayload) {
	if c.cfg.Peer == nil {
		return
	}
	// A restart offer (or any offer, on this side) supersedes whatever
	// path existed; answer with a fresh PeerConn.
	c.closePeer()
	peer, err := c.cfg.Peer(c.peerEvents(), sp.Restart)
	if err != nil {
		c.cfg.Log.Warn("could not build peer connection", zap.Error(err))
		return
	}
	c.peer = peer
	c.everPeered = true
	c.setState(StateNegotiating)

	answer, err := peer.AcceptOffer(c.ctx, sp.Data)
	if err != nil {
		c.cfg.Log.Warn("offer rejected", zap.Error(err))
		c.closePeer()
		return
	}
	c.remoteSet = true
	c.flushCandidates()
	c.sendSignal(types.SignalPayload{Kind: types.SignalAnswer, Data: answer})
}

func (c *Client) flushCandidates() {
	for _, cand := range c.pendingCands {
		if err := c.peer.AddCandidate(c.ctx, cand); err != nil {
			c.cfg.Log.Debug("queued candidate rejected", zap.Error(err))
		}
	}
	c.pendingCands = nil
}

func (c *Client) remoteRole() string {
	if c.role == types.RoleHost {
		return types.RoleGuest
	}
	return types.RoleHost
}

// --- state sync -------------------------------------------------------

func (c *Client) applyInbound(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	snap, err := game.Decode(raw)
	if err != nil {
		c.cfg.Log.Debug("dropping malformed inbound snapshot")
		return
	}
	c.admit(snap)
}

func (c *Client) admit(snap *game.Snapshot) {
	apply, changed := c.gate.Admit(snap)
	if !apply {
		c.cfg.Log.Debug("dropping stale inbound snapshot",
			zap.Int("seq", snap.SyncSeq), zap.Int("have", c.gate.Highest()))
		return
	}
	c.stamper.Observe(snap)
	if changed && c.cfg.OnSnapshot != nil {
		c.cfg.OnSnapshot(snap)
	}
}

// publish stamps the snapshot and sends it over both paths: the direct
// channel for latency, the relay for durability and late joiners.
func (c *Client) publish(snap *game.Snapshot) {
	out := *snap
	out.SenderName = c.name
	c.stamper.Stamp(&out)

	payload, err := json.Marshal(&out)
	if err != nil {
		c.cfg.Log.Error("encode snapshot", zap.Error(err))
		return
	}

	c.sendSignal(types.SignalPayload{Kind: types.SignalStateSync, State: payload})

	if c.peer != nil && c.state == StateConnected {
		frame, err := json.Marshal(types.SignalPayload{Kind: types.SignalStateSync, State: payload})
		if err == nil {
			if err := c.peer.Send(c.ctx, frame); err != nil {
				c.cfg.Log.Debug("direct-path send failed", zap.Error(err))
			}
		}
	}
}

// --- outbound relay helpers ------------------------------------------

func (c *Client) sendSignal(sp types.SignalPayload) {
	payload, err := json.Marshal(sp)
	if err != nil {
		c.cfg.Log.Error("encode signal", zap.Error(err))
		return
	}
	c.sendRelay(types.ClientMessage{Type: types.MsgSignal, Payload: payload})
}

func (c *Client) sendRelay(msg types.ClientMessage) {
	if c.relay == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.cfg.Log.Error("encode relay message", zap.Error(err))
		return
	}
	gen := c.relayGen
	conn := c.relay
	go func() {
		if err := conn.Write(c.ctx, data); err != nil {
			c.post(evRelayClosed{gen: gen, err: err})
		}
	}()
}

// --- auto-rejoin ------------------------------------------------------

// considerRejoin scans a lobby listing for a half-empty room still
// carrying this peer's exact display name and slips back into it. A
// room that just refused us stays blocked until its listing version
// (updatedAt) moves.
func (c *Client) considerRejoin(rooms []types.RoomListing) {
	if c.manual || c.state != StateDisconnected || c.name == "" {
		return
	}
	for _, rm := range rooms {
		if !rm.OpenSeat {
			continue
		}
		mine := false
		for _, p := range rm.Players {
			if p.Name == c.name {
				mine = true
				break
			}
		}
		if !mine {
			continue
		}
		if rm.RoomID == c.blockedRoom && rm.UpdatedAt == c.blockedVersion {
			continue
		}
		c.blockedRoom = rm.RoomID
		c.blockedVersion = rm.UpdatedAt
		c.rejoining = true
		c.roomID = rm.RoomID
		c.bo.Reset()
		c.startDial()
		return
	}
}
