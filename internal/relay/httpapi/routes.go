package httpapi

import (
	"net/http"

	"github.com/DoyleJ11/livesync/internal/relay/hub"
	"github.com/DoyleJ11/livesync/internal/relay/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(h *hub.Hub, opts ws.Options, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, opts))

	// Operator routes
	r.Route("/scopes", func(r chi.Router) {
		r.Get("/", ListScopes(h))
		r.Get("/{scope}", GetScope(h))
		r.Delete("/{scope}", CloseScope(h))
		r.Post("/{scope}/broadcast", Broadcast(h))
		r.Post("/{scope}/points", AwardPoints(h))
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}
