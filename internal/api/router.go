package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts the gateway routes. webhookPath is configurable because the
// collection platform is told the full callback URL at dispatch time.
func NewRouter(h *Handler, webhookPath string) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware)

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/ready", h.ready).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc(webhookPath, h.webhook).Methods(http.MethodPost)

	r.HandleFunc("/api/mengla/query", h.query).Methods(http.MethodPost)
	r.HandleFunc("/api/mengla/cache", h.clearCache).Methods(http.MethodDelete)
	r.HandleFunc("/api/mengla/executions", h.executions).Methods(http.MethodGet)

	return r
}
