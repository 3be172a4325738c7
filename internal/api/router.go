package api

import (
	"context"
	"net/http"
	"time"

	"chat-fanout/internal/auth"
	"chat-fanout/internal/chat"
	"chat-fanout/internal/middleware"
	"chat-fanout/internal/repository"
	"chat-fanout/internal/types"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Hub      *chat.Hub
	Sessions *chat.Server
	Messages repository.MessageRepo
	Chats    repository.ChatRepo
	Users    repository.UserRepository
	// Verifier is nil when authentication is disabled.
	Verifier *auth.Verifier
	Store    Pinger
	Gatherer prometheus.Gatherer
	Log      *zap.Logger
}

func NewRouter(d Deps) *mux.Router {
	log := d.Log.Named("api")
	r := mux.NewRouter()

	r.HandleFunc("/healthz", healthHandler(d.Hub, d.Store)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	protected := r.NewRoute().Subrouter()
	if d.Verifier != nil {
		protected.Use(mux.MiddlewareFunc(middleware.Authenticate(d.Verifier, d.Users, d.Log)))
	} else {
		log.Warn("authentication disabled")
	}

	protected.HandleFunc("/ws/chats", d.Sessions.ServeChats).Methods(http.MethodGet)
	protected.HandleFunc("/ws/calls", d.Sessions.ServeCalls).Methods(http.MethodGet)
	protected.HandleFunc("/api/chats/{chat}/messages", HistoryHandler(d.Chats, d.Messages, log)).Methods(http.MethodGet)

	return r
}

func healthHandler(hub *chat.Hub, store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := types.HealthResponse{Status: "ok", Connections: hub.Registry().Len()}
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				resp.Status = "degraded"
				writeJSON(w, http.StatusServiceUnavailable, resp)
				return
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
