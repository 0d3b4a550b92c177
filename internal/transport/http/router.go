package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the protocol-facing endpoints plus the operational ones.
// RealIP runs first so the caller-address limiter keys on the real client
// behind the load balancer.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/password/forgot", h.handleForgot)
	r.Post("/password/reset", h.handleRedeem)
	r.Get("/password/reset/{credentialID}", h.handlePeek)

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
