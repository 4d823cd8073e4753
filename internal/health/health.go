// Package health provides the container's optional observability HTTP
// surface: a liveness endpoint driven by a Checker plus a Prometheus
// scrape endpoint. No queue connectivity check is made; liveness is
// whatever the supplied Checker reports.
package health

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Checker reports whether the owning container considers itself live.
// A container is live whenever its state machine is not STOPPED.
type Checker interface {
	Healthy() bool
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func() bool

// Healthy implements Checker.
func (f CheckerFunc) Healthy() bool { return f() }

// NewMux builds a chi.Router exposing GET /healthz (200 when checker
// reports healthy, 503 otherwise) and GET /metrics (the standard
// promhttp handler over gatherer).
func NewMux(gatherer prometheus.Gatherer, checker Checker) *chi.Mux {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !checker.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("stopped"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}
