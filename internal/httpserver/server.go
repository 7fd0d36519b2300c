package httpserver

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"billnotif/internal/observability"
)

type Server struct {
	Mux *mux.Router
}

// New returns a router with /metrics (served from gatherer), request logging
// and per-route request counters installed.
func New(gatherer prometheus.Gatherer) *Server {
	m := mux.NewRouter()
	m.Use(Logging, Metrics(observability.APIRequests))
	if gatherer != nil {
		m.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return &Server{Mux: m}
}
