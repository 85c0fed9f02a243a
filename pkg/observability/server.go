package observability

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

// NewServer builds the HTTP server exposing metrics and health endpoints
func NewServer(addr string, gatherer prometheus.Gatherer, checker *HealthChecker) *http.Server {
	r := mux.NewRouter()
	r.Handle("/metrics", Handler(gatherer)).Methods(http.MethodGet)
	RegisterHealthRoutes(r, checker)

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
