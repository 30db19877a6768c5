// Package hub owns the map from room code to live coordinator actor.
// Rooms are created on first join and drop out of the map when they
// evict themselves after the retention window.
package hub

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jhilbert/bg/internal/directory"
	"github.com/jhilbert/bg/internal/registry"
	"github.com/jhilbert/bg/internal/room"
	"github.com/jhilbert/bg/internal/store"
)

type HubMsg interface{ isHubMsg() }

// EnsureRoom returns the live actor for a code, creating it if needed.
type EnsureRoom struct {
	Code  string
	Reply chan *room.Room
}

// GetRoom returns the live actor for a code, or nil.
type GetRoom struct {
	Code  string
	Reply chan *room.Room
}

type RemoveRoom struct{ Code string }

type ShutdownHub struct{}

func (EnsureRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (RemoveRoom) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

type Config struct {
	Registry  *registry.Registry
	Directory *directory.Directory
	Snapshots store.SnapshotStore
	Retention time.Duration
	Log       *zap.Logger
}

type Hub struct {
	cfg    Config
	inbox  chan HubMsg
	rooms  map[string]*room.Room
	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, cfg Config) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		cfg:    cfg,
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*room.Room),
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureRoom:
				// An actor that evicted itself may still sit in the map
				// until its RemoveRoom arrives; never hand it out.
				if rm := h.rooms[msg.Code]; rm != nil && !rm.Retired() {
					msg.Reply <- rm
					break
				}
				rm := h.spawn(msg.Code)
				h.rooms[msg.Code] = rm
				msg.Reply <- rm

			case GetRoom:
				rm := h.rooms[msg.Code] // may be nil
				if rm != nil && rm.Retired() {
					rm = nil
				}
				msg.Reply <- rm

			case RemoveRoom:
				// Only the retired actor leaves the map; a respawn that
				// landed first must not be knocked out by the stale notice.
				if rm := h.rooms[msg.Code]; rm != nil && rm.Retired() {
					delete(h.rooms, msg.Code)
				}

			case ShutdownHub:
				for _, rm := range h.rooms {
					rm.Inbox() <- room.Shutdown{}
				}
				clear(h.rooms)
				h.cancel()
			}
		}
	}
}

func (h *Hub) spawn(code string) *room.Room {
	return room.New(h.ctx, room.Config{
		RoomID:    code,
		Registry:  h.cfg.Registry,
		Directory: h.cfg.Directory,
		Snapshots: h.cfg.Snapshots,
		Retention: h.cfg.Retention,
		Log:       h.cfg.Log,
		OnRetire: func(roomID string) {
			select {
			case h.inbox <- RemoveRoom{Code: roomID}:
			case <-h.ctx.Done():
			}
		},
	})
}
