package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jhilbert/bg/internal/directory"
	"github.com/jhilbert/bg/internal/hub"
	"github.com/jhilbert/bg/internal/registry"
	"github.com/jhilbert/bg/internal/ws"
)

func SetupRoutes(h *hub.Hub, reg *registry.Registry, dir *directory.Directory, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(cors)

	r.Get("/", ServiceInfo)
	r.Get("/health", Healthz)

	r.Get("/rooms", ListRooms(dir, log))
	r.Route("/names/{name}", func(r chi.Router) {
		r.Get("/", NameStatus(reg, log))
		r.Put("/", ReserveName(reg, log))
		r.Delete("/", ReleaseName(reg, log))
	})

	// Internal directory mirror, coordinator-shaped. Kept because the
	// coordinator and the directory can run as separate processes.
	r.Put("/rooms/{roomID}", UpsertRoom(dir, log))
	r.Delete("/rooms/{roomID}", RemoveRoom(dir, log))

	r.Get("/ws/{roomID}", ws.Handler(h, log))
	return r
}

// cors mirrors the permissive policy of the public lobby endpoints.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "content-type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
