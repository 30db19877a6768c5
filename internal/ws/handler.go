// Package ws upgrades room session requests and bridges each websocket
// to its room coordinator actor.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jhilbert/bg/internal/hub"
	"github.com/jhilbert/bg/internal/ident"
	"github.com/jhilbert/bg/internal/room"
	"github.com/jhilbert/bg/internal/types"
)

const writeTimeout = 3 * time.Second

func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := ident.NormalizeRoomCode(chi.URLParam(r, "roomID"))
		if roomID == "" {
			jsonError(w, http.StatusBadRequest, "Invalid room id.")
			return
		}

		sessionID := uuid.NewString()
		clientID := ident.NormalizeClientID(firstQuery(r, "client", "clientId"))
		if clientID == "" {
			clientID = ident.NormalizeClientID(sessionID)
		}

		// Seat assignment happens in the actor before the upgrade, so a
		// full room is a plain 409 and the seated pair is untouched. An
		// actor retiring under us answers ErrRoomClosed (or closes Done);
		// re-ensure and join the respawn.
		out := make(chan types.ServerMessage, 16)
		var rm *room.Room
		var res room.JoinResult
		for attempt := 0; ; attempt++ {
			reply := make(chan *room.Room, 1)
			h.Inbox() <- hub.EnsureRoom{Code: roomID, Reply: reply}
			rm = <-reply

			joined := make(chan room.JoinResult, 1)
			join := room.Join{
				SessionID: sessionID,
				ClientID:  clientID,
				Name:      r.URL.Query().Get("name"),
				Outbox:    out,
				Reply:     joined,
			}
			select {
			case rm.Inbox() <- join:
				select {
				case res = <-joined:
				case <-rm.Done():
					select {
					case res = <-joined:
					default:
						res = room.JoinResult{Err: room.ErrRoomClosed}
					}
				}
			case <-rm.Done():
				res = room.JoinResult{Err: room.ErrRoomClosed}
			}
			if !errors.Is(res.Err, room.ErrRoomClosed) || attempt >= 2 {
				break
			}
		}
		if errors.Is(res.Err, room.ErrRoomClosed) {
			jsonError(w, http.StatusServiceUnavailable, "Room is restarting, retry.")
			return
		}
		if res.Err != nil {
			jsonError(w, http.StatusConflict, "Room is full (max 2 peers).")
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			sendLeave(rm, sessionID)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		defer sendLeave(rm, sessionID)

		// Writer goroutine: drain the actor's outbox onto the socket.
		// The actor closes the outbox when it drops or removes us.
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for msg := range out {
				payload, err := json.Marshal(msg)
				if err != nil {
					log.Error("encode server message", zap.Error(err))
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		// Reader loop. Frames go to the actor raw; it owns parsing and
		// error replies.
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}
			select {
			case rm.Inbox() <- room.FromSession{SessionID: sessionID, Data: data}:
			case <-rm.Done():
				return
			}
		}
	}
}

func sendLeave(rm *room.Room, sessionID string) {
	select {
	case rm.Inbox() <- room.Leave{SessionID: sessionID}:
	case <-rm.Done():
	}
}

func firstQuery(r *http.Request, keys ...string) string {
	for _, key := range keys {
		if v := r.URL.Query().Get(key); v != "" {
			return v
		}
	}
	return ""
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
