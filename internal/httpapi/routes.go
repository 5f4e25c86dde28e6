package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(sessions http.Handler, lb LobbyViewer, sc SessionCounter, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	// Public routes
	r.Method(http.MethodGet, "/ws", sessions)
	r.Get("/healthz", Healthz(lb, sc))
	r.Get("/clients", Clients(lb, sc))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}
