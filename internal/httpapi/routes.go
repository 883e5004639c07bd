package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/codeduel-live/battle-backend/internal/ws"
)

func SetupRoutes(g *ws.Gateway) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/ws", g.Handler())
	return r
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
