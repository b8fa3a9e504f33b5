package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/scribecat/quizwire/internal/server"
	"github.com/scribecat/quizwire/internal/store"
	"github.com/scribecat/quizwire/internal/ws"
)

func SetupRoutes(h *server.Hub, st *store.Store, allowedOrigin string, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Post("/sessions", CreateSession(h, log))
	r.Get("/sessions/{id}/snapshot", Snapshot(h))
	r.Post("/rpc/{proc}", RPC(h))
	r.Get("/leaderboard", Leaderboard(st))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, allowedOrigin, log))
	return r
}
