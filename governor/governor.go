// Package governor implements the bounded counting semaphore that caps
// in-flight message processing: the ConcurrencyGovernor.
package governor

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Governor is a bounded counting semaphore of size maxConcurrent.
// PollingLoop acquires one permit per admitted message; MessageProcessor
// releases its permit on terminal state, including panic recovery.
type Governor struct {
	slots     chan struct{}
	capacity  int
	available prometheus.Gauge
}

// New constructs a Governor with the given capacity (>=1).
func New(capacity int, registerer prometheus.Registerer) *Governor {
	if capacity < 1 {
		capacity = 1
	}
	reg := registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	g := &Governor{
		slots:    make(chan struct{}, capacity),
		capacity: capacity,
		available: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "msglistener",
			Subsystem: "governor",
			Name:      "available_permits",
			Help:      "Number of concurrency-governor permits currently available.",
		}),
	}
	g.available.Set(float64(capacity))
	return g
}

// Acquire blocks until n permits are available or ctx is cancelled. On
// cancellation it releases any permits it had already grabbed before
// returning ctx.Err().
func (g *Governor) Acquire(ctx context.Context, n int) error {
	acquired := 0
	for acquired < n {
		select {
		case g.slots <- struct{}{}:
			acquired++
			g.available.Dec()
		case <-ctx.Done():
			g.Release(acquired)
			return ctx.Err()
		}
	}
	return nil
}

// Release returns n permits to the pool.
func (g *Governor) Release(n int) {
	for i := 0; i < n; i++ {
		<-g.slots
		g.available.Inc()
	}
}

// Available reports the current number of free permits. Advisory only
// under concurrent use; callers must still call Acquire to reserve one.
func (g *Governor) Available() int {
	return g.capacity - len(g.slots)
}

// Capacity reports the configured maxConcurrentMessages.
func (g *Governor) Capacity() int {
	return g.capacity
}
