package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jhilbert/bg/internal/directory"
	"github.com/jhilbert/bg/internal/ident"
	"github.com/jhilbert/bg/internal/registry"
	"github.com/jhilbert/bg/internal/types"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func ServiceInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "bg-rendezvous",
		"routes": map[string]string{
			"rooms":     "GET /rooms",
			"names":     "GET|PUT|DELETE /names/{name}",
			"websocket": "GET /ws/{room}",
			"health":    "GET /health",
		},
	})
}

func Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func ListRooms(dir *directory.Directory, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, err := dir.List(r.Context())
		if err != nil {
			log.Error("list rooms", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Could not list rooms."})
			return
		}
		if rooms == nil {
			rooms = []types.RoomListing{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
	}
}

func NameStatus(reg *registry.Registry, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := firstQuery(r, "client", "clientId")
		status, err := reg.Status(r.Context(), chi.URLParam(r, "name"), clientID)
		if errors.Is(err, registry.ErrInvalidName) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid player name."})
			return
		}
		if err != nil {
			log.Error("name status", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Name lookup failed."})
			return
		}
		writeJSON(w, http.StatusOK, types.NameStatus{
			OK:               true,
			Name:             status.Name,
			Exists:           status.Exists,
			Available:        status.Available,
			OwnedByRequester: status.OwnedByRequester,
			Claimable:        status.Claimable,
		})
	}
}

func ReserveName(reg *registry.Registry, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ReserveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload."})
			return
		}
		res, err := reg.Reserve(r.Context(), chi.URLParam(r, "name"), req.ClientID, req.RoomID, req.Claim)
		var taken *registry.TakenError
		switch {
		case errors.As(err, &taken):
			writeJSON(w, http.StatusConflict, map[string]any{
				"ok": false, "reason": "taken", "name": taken.Name,
			})
		case errors.Is(err, registry.ErrInvalidName):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"ok": false, "reason": "invalid-name", "error": "Invalid player name.",
			})
		case errors.Is(err, registry.ErrMissingClient):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"ok": false, "reason": "missing-client", "error": "Missing client id.",
			})
		case err != nil:
			log.Error("reserve name", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Name reservation failed."})
		default:
			writeJSON(w, http.StatusOK, map[string]any{
				"ok": true, "name": res.Name, "claimed": res.Claimed,
			})
		}
	}
}

func ReleaseName(reg *registry.Registry, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		released, err := reg.Release(r.Context(), chi.URLParam(r, "name"), firstQuery(r, "client", "clientId"))
		switch {
		case errors.Is(err, registry.ErrNotOwner):
			writeJSON(w, http.StatusConflict, map[string]any{
				"ok": false, "reason": "not-owner", "error": "Name is owned by another client.",
			})
		case errors.Is(err, registry.ErrInvalidName):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"ok": false, "reason": "invalid-name", "error": "Invalid player name.",
			})
		case errors.Is(err, registry.ErrMissingClient):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"ok": false, "reason": "missing-client", "error": "Missing client id.",
			})
		case err != nil:
			log.Error("release name", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Name release failed."})
		default:
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "released": released})
		}
	}
}

func UpsertRoom(dir *directory.Directory, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := ident.NormalizeRoomCode(chi.URLParam(r, "roomID"))
		if roomID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid room id."})
			return
		}
		var req types.UpsertRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload."})
			return
		}
		updatedAt := time.Now()
		if req.UpdatedAt > 0 {
			updatedAt = time.UnixMilli(req.UpdatedAt)
		}
		if err := dir.Upsert(r.Context(), roomID, req.Players, updatedAt); err != nil {
			log.Error("upsert room", zap.String("room", roomID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Directory update failed."})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func RemoveRoom(dir *directory.Directory, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := ident.NormalizeRoomCode(chi.URLParam(r, "roomID"))
		if roomID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid room id."})
			return
		}
		if err := dir.Remove(r.Context(), roomID); err != nil {
			log.Error("remove room", zap.String("room", roomID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Directory update failed."})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
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
