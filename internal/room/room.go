// Package room implements the per-room coordinator: one goroutine per
// room code owning the (at most two) live sessions, relaying signaling
// and state-sync between them, persisting the latest snapshot, and
// evicting the room after it has stayed empty for the retention window.
//
// All messages for one room flow through a single inbox, so roster and
// snapshot mutation is serialized without locks. Different rooms run
// independently.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/jhilbert/bg/internal/directory"
	"github.com/jhilbert/bg/internal/game"
	"github.com/jhilbert/bg/internal/ident"
	"github.com/jhilbert/bg/internal/registry"
	"github.com/jhilbert/bg/internal/store"
	"github.com/jhilbert/bg/internal/types"
)

const DefaultRetention = 24 * time.Hour

var (
	ErrRoomFull = errors.New("room: full (max 2 peers)")

	// ErrRoomClosed answers a Join that raced with the actor's
	// retirement; the caller re-ensures and joins the respawn.
	ErrRoomClosed = errors.New("room: retired")
)

type Msg interface{ isRoomMsg() }

// Join registers a new session. The reply carries the assigned role, or
// ErrRoomFull without disturbing the seated pair.
type Join struct {
	SessionID string
	ClientID  string
	Name      string
	Outbox    chan types.ServerMessage
	Reply     chan JoinResult
}

type JoinResult struct {
	Role string
	Err  error
}

type Leave struct{ SessionID string }

// FromSession is one raw frame read off a session's websocket.
type FromSession struct {
	SessionID string
	Data      []byte
}

type Shutdown struct{}

// GetView reflects internal state for tests without data races.
type GetView struct{ Reply chan View }

type View struct {
	PeerCount     int
	Players       []types.Player
	Snapshot      *game.Snapshot
	EvictionArmed bool
}

type evictFired struct{ gen int }

func (Join) isRoomMsg()        {}
func (Leave) isRoomMsg()       {}
func (FromSession) isRoomMsg() {}
func (Shutdown) isRoomMsg()    {}
func (GetView) isRoomMsg()     {}
func (evictFired) isRoomMsg()  {}

type session struct {
	id       string
	role     string
	clientID string
	name     string
	outbox   chan types.ServerMessage
}

type Config struct {
	RoomID    string
	Registry  *registry.Registry
	Directory *directory.Directory
	Snapshots store.SnapshotStore
	Retention time.Duration
	Log       *zap.Logger

	// OnRetire runs after the room evicts itself so the owner (the hub)
	// can drop its reference.
	OnRetire func(roomID string)
}

type Room struct {
	cfg   Config
	inbox chan Msg

	sessions   map[string]*session
	snap       *game.Snapshot
	snapLoaded bool

	evictGen   int
	evictTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, cfg Config) *Room {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		cfg:      cfg,
		inbox:    make(chan Msg, 64),
		sessions: make(map[string]*session),
		ctx:      ctx,
		cancel:   cancel,
	}
	go r.loop()
	return r
}

func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Done closes when the actor has retired. Senders select on it so a
// message racing the retirement cannot block or silently vanish.
func (r *Room) Done() <-chan struct{} { return r.ctx.Done() }

func (r *Room) Retired() bool {
	select {
	case <-r.ctx.Done():
		return true
	default:
		return false
	}
}

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.handleJoin(msg)

			case Leave:
				r.removeSession(msg.SessionID)

			case FromSession:
				r.handleFrame(msg.SessionID, msg.Data)

			case GetView:
				players := r.players()
				var snap *game.Snapshot
				if r.snap != nil {
					c := *r.snap
					snap = &c
				}
				msg.Reply <- View{
					PeerCount:     len(r.sessions),
					Players:       players,
					Snapshot:      snap,
					EvictionArmed: r.evictTimer != nil,
				}

			case evictFired:
				r.handleEviction(msg.gen)

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) shutdown() {
	for id, sess := range r.sessions {
		close(sess.outbox)
		delete(r.sessions, id)
	}
	r.stopEvictionTimer()
	r.cancel()
	r.drainInbox()
}

// drainInbox answers whatever got buffered behind the retirement, so no
// caller is left waiting on a reply that will never come.
func (r *Room) drainInbox() {
	for {
		select {
		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				select {
				case msg.Reply <- JoinResult{Err: ErrRoomClosed}:
				default:
				}
			case GetView:
				select {
				case msg.Reply <- View{}:
				default:
				}
			}
		default:
			return
		}
	}
}

// assignRole hands out host, then guest, then nothing.
func (r *Room) assignRole() string {
	taken := make(map[string]bool, 2)
	for _, sess := range r.sessions {
		taken[sess.role] = true
	}
	if !taken[types.RoleHost] {
		return types.RoleHost
	}
	if !taken[types.RoleGuest] {
		return types.RoleGuest
	}
	return ""
}

func (r *Room) players() []types.Player {
	players := make([]types.Player, 0, 2)
	for _, sess := range r.sessions {
		players = append(players, types.Player{Role: sess.role, Name: sess.name})
	}
	return types.NormalizePlayers(players, func(s string) string { return s })
}

func (r *Room) handleJoin(msg Join) {
	role := r.assignRole()
	if role == "" {
		msg.Reply <- JoinResult{Err: ErrRoomFull}
		return
	}

	r.ensureSnapshotLoaded()

	sess := &session{
		id:       msg.SessionID,
		role:     role,
		clientID: msg.ClientID,
		outbox:   msg.Outbox,
	}
	r.sessions[msg.SessionID] = sess

	if len(r.sessions) == 1 {
		r.stopEvictionTimer()
		if err := r.cfg.Snapshots.ClearEmpty(r.ctx, r.cfg.RoomID); err != nil {
			r.cfg.Log.Warn("clear empty marker", zap.String("room", r.cfg.RoomID), zap.Error(err))
		}
	}

	conflict := ""
	if msg.Name != "" {
		res, err := r.cfg.Registry.Reserve(r.ctx, msg.Name, sess.clientID, r.cfg.RoomID, false)
		var taken *registry.TakenError
		switch {
		case errors.As(err, &taken):
			conflict = taken.Name
		case err == nil:
			sess.name = res.Name
		}
	}

	r.trySend(sess, types.ServerMessage{
		Type:      types.MsgJoined,
		RoomID:    r.cfg.RoomID,
		Role:      role,
		PeerCount: len(r.sessions),
		Players:   r.players(),
		LocalName: sess.name,
		RoomState: r.snap,
	})
	if conflict != "" {
		r.trySend(sess, types.ServerMessage{Type: types.MsgNameConflict, RequestedName: conflict})
	}

	r.broadcast(types.ServerMessage{
		Type:      types.MsgPeerJoined,
		PeerCount: len(r.sessions),
		Players:   r.players(),
	}, msg.SessionID)

	r.syncDirectory()
	r.cfg.Log.Info("session joined",
		zap.String("room", r.cfg.RoomID),
		zap.String("role", role),
		zap.Int("peers", len(r.sessions)))

	msg.Reply <- JoinResult{Role: role}
}

func (r *Room) removeSession(id string) {
	sess, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	close(sess.outbox)

	r.broadcast(types.ServerMessage{
		Type:      types.MsgPeerLeft,
		PeerCount: len(r.sessions),
		Players:   r.players(),
	}, "")

	if len(r.sessions) == 0 {
		r.emptied()
	}
	r.syncDirectory()
	r.cfg.Log.Info("session left",
		zap.String("room", r.cfg.RoomID),
		zap.String("role", sess.role),
		zap.Int("peers", len(r.sessions)))
}

// emptied force-ends any in-progress snapshot, stamps the empty marker
// and arms the eviction timer.
func (r *Room) emptied() {
	if ended := r.snap.ForceEnded(); ended != nil {
		r.snap = ended
		if err := r.cfg.Snapshots.SaveSnapshot(r.ctx, r.cfg.RoomID, ended, time.Now()); err != nil {
			r.cfg.Log.Warn("persist force-ended snapshot", zap.String("room", r.cfg.RoomID), zap.Error(err))
		}
	}
	if err := r.cfg.Snapshots.MarkEmpty(r.ctx, r.cfg.RoomID, time.Now()); err != nil {
		r.cfg.Log.Warn("mark room empty", zap.String("room", r.cfg.RoomID), zap.Error(err))
	}
	r.armEviction(r.cfg.Retention)
}

func (r *Room) armEviction(d time.Duration) {
	r.evictGen++
	gen := r.evictGen
	if r.evictTimer != nil {
		r.evictTimer.Stop()
	}
	r.evictTimer = time.AfterFunc(d, func() {
		select {
		case r.inbox <- evictFired{gen: gen}:
		case <-r.ctx.Done():
		}
	})
}

func (r *Room) stopEvictionTimer() {
	r.evictGen++
	if r.evictTimer != nil {
		r.evictTimer.Stop()
		r.evictTimer = nil
	}
}

// handleEviction runs when the armed timer fires. Stale generations and
// rooms that refilled are ignored; the persisted empty-since marker is
// the authority on the actual deadline.
func (r *Room) handleEviction(gen int) {
	if gen != r.evictGen || len(r.sessions) > 0 {
		return
	}
	rec, err := r.cfg.Snapshots.Load(r.ctx, r.cfg.RoomID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		r.cfg.Log.Warn("load snapshot for eviction", zap.String("room", r.cfg.RoomID), zap.Error(err))
		return
	}
	if err == nil && rec.EmptySince != nil {
		deadline := rec.EmptySince.Add(r.cfg.Retention)
		if remaining := time.Until(deadline); remaining > 0 {
			r.armEviction(remaining)
			return
		}
	}

	if err := r.cfg.Snapshots.Delete(r.ctx, r.cfg.RoomID); err != nil {
		r.cfg.Log.Warn("delete evicted snapshot", zap.String("room", r.cfg.RoomID), zap.Error(err))
	}
	if err := r.cfg.Directory.Remove(r.ctx, r.cfg.RoomID); err != nil {
		r.cfg.Log.Warn("remove evicted room from directory", zap.String("room", r.cfg.RoomID), zap.Error(err))
	}
	r.snap = nil
	r.cfg.Log.Info("room evicted", zap.String("room", r.cfg.RoomID))
	r.cancel()
	if r.cfg.OnRetire != nil {
		r.cfg.OnRetire(r.cfg.RoomID)
	}
}

// ensureSnapshotLoaded lazily reads the persisted snapshot on the first
// join. A record whose empty marker already passed the retention window
// is treated as evicted (covers deadlines that elapsed while no actor
// was running).
func (r *Room) ensureSnapshotLoaded() {
	if r.snapLoaded {
		return
	}
	r.snapLoaded = true
	rec, err := r.cfg.Snapshots.Load(r.ctx, r.cfg.RoomID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.cfg.Log.Warn("load persisted snapshot", zap.String("room", r.cfg.RoomID), zap.Error(err))
		}
		return
	}
	if rec.EmptySince != nil && time.Since(*rec.EmptySince) > r.cfg.Retention {
		_ = r.cfg.Snapshots.Delete(r.ctx, r.cfg.RoomID)
		_ = r.cfg.Directory.Remove(r.ctx, r.cfg.RoomID)
		return
	}
	r.snap = rec.Payload
}

func (r *Room) handleFrame(sessionID string, data []byte) {
	sess, ok := r.sessions[sessionID]
	if !ok {
		return
	}

	var cm types.ClientMessage
	if err := json.Unmarshal(data, &cm); err != nil {
		r.trySend(sess, types.ServerMessage{Type: types.MsgError, Message: "Invalid JSON payload."})
		return
	}

	switch cm.Type {
	case types.MsgSetName:
		r.handleSetName(sess, cm.Name, cm.Claim)

	case types.MsgRoomState:
		r.acceptSnapshot(cm.Payload)
		r.keepAliveName(sess)

	case types.MsgSignal:
		r.broadcast(types.ServerMessage{
			Type:     types.MsgSignal,
			FromRole: sess.role,
			Payload:  cm.Payload,
		}, sessionID)

		var sp types.SignalPayload
		if err := json.Unmarshal(cm.Payload, &sp); err == nil && sp.Kind == types.SignalStateSync {
			r.acceptSnapshot(sp.State)
		}
		r.keepAliveName(sess)
		r.syncDirectory()

	default:
		r.trySend(sess, types.ServerMessage{Type: types.MsgError, Message: "Unsupported message type."})
	}
}

func (r *Room) handleSetName(sess *session, rawName string, claim bool) {
	next := normalizeForSession(rawName)

	// Clearing the name releases the record outright.
	if next == "" {
		changed := sess.name != ""
		if changed {
			if _, err := r.cfg.Registry.Release(r.ctx, sess.name, sess.clientID); err != nil {
				r.cfg.Log.Debug("release cleared name", zap.Error(err))
			}
			sess.name = ""
		}
		r.trySend(sess, types.ServerMessage{Type: types.MsgNameUpdated, Name: ""})
		if changed {
			r.broadcast(types.ServerMessage{Type: types.MsgPeerName, Role: sess.role, Name: ""}, sess.id)
		}
		r.syncDirectory()
		return
	}

	res, err := r.cfg.Registry.Reserve(r.ctx, next, sess.clientID, r.cfg.RoomID, claim)
	var taken *registry.TakenError
	if errors.As(err, &taken) {
		// Rejected change keeps the session's existing name untouched.
		r.trySend(sess, types.ServerMessage{Type: types.MsgNameConflict, RequestedName: next})
		return
	}
	if err != nil {
		r.trySend(sess, types.ServerMessage{Type: types.MsgError, Message: "Could not update player name."})
		return
	}

	previous := sess.name
	changed := nameKeysDiffer(previous, res.Name)
	if changed && previous != "" {
		if _, err := r.cfg.Registry.Release(r.ctx, previous, sess.clientID); err != nil {
			r.cfg.Log.Debug("release previous name", zap.Error(err))
		}
	}
	sess.name = res.Name

	r.trySend(sess, types.ServerMessage{Type: types.MsgNameUpdated, Name: sess.name, Claimed: res.Claimed})
	if changed {
		r.broadcast(types.ServerMessage{Type: types.MsgPeerName, Role: sess.role, Name: sess.name}, sess.id)
	}
	r.syncDirectory()
}

// acceptSnapshot validates and persists an inbound state-sync payload.
// Structural failures are dropped silently (best-effort, usually version
// skew); a seq below the persisted one is dropped so a slow relay copy
// can never roll back newer state.
func (r *Room) acceptSnapshot(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	snap, err := game.Decode(raw)
	if err != nil {
		r.cfg.Log.Debug("dropping malformed snapshot", zap.String("room", r.cfg.RoomID))
		return
	}
	if r.snap != nil && snap.SyncSeq < r.snap.SyncSeq {
		r.cfg.Log.Debug("dropping stale snapshot",
			zap.String("room", r.cfg.RoomID),
			zap.Int("seq", snap.SyncSeq),
			zap.Int("have", r.snap.SyncSeq))
		return
	}
	r.snap = snap
	if err := r.cfg.Snapshots.SaveSnapshot(r.ctx, r.cfg.RoomID, snap, time.Now()); err != nil {
		r.cfg.Log.Warn("persist snapshot", zap.String("room", r.cfg.RoomID), zap.Error(err))
	}
}

// keepAliveName re-asserts the sender's reservation so active players
// never age out of the registry.
func (r *Room) keepAliveName(sess *session) {
	if sess.name == "" || sess.clientID == "" {
		return
	}
	if _, err := r.cfg.Registry.Reserve(r.ctx, sess.name, sess.clientID, r.cfg.RoomID, false); err != nil {
		r.cfg.Log.Debug("name keep-alive failed", zap.String("name", sess.name), zap.Error(err))
	}
}

func (r *Room) syncDirectory() {
	if err := r.cfg.Directory.Upsert(r.ctx, r.cfg.RoomID, r.players(), time.Now()); err != nil {
		r.cfg.Log.Warn("directory mirror update failed", zap.String("room", r.cfg.RoomID), zap.Error(err))
	}
}

func (r *Room) trySend(sess *session, msg types.ServerMessage) {
	select {
	case sess.outbox <- msg:
	default:
		// Slow or wedged client: drop it. Its handler's Leave becomes a
		// no-op, so settle the empty-room bookkeeping here.
		if _, ok := r.sessions[sess.id]; ok {
			delete(r.sessions, sess.id)
			close(sess.outbox)
			if len(r.sessions) == 0 {
				r.emptied()
			}
			r.syncDirectory()
		}
	}
}

func normalizeForSession(name string) string {
	return ident.NormalizePlayerName(name)
}

// nameKeysDiffer compares by uniqueness key, so a case-only respelling
// of the same name does not count as a change.
func nameKeysDiffer(a, b string) bool {
	return ident.NameKey(a) != ident.NameKey(b)
}

func (r *Room) broadcast(msg types.ServerMessage, exceptID string) {
	targets := make([]*session, 0, len(r.sessions))
	for id, sess := range r.sessions {
		if id == exceptID {
			continue
		}
		targets = append(targets, sess)
	}
	for _, sess := range targets {
		r.trySend(sess, msg)
	}
}
