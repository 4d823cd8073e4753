// Package metrics holds the container-level Prometheus instruments
// shared across components: lifecycle state and start/stop counts,
// registered through one promauto factory bound to a Namespace, with
// instruments grouped into vectors per concern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace is shared by every Prometheus metric this module registers,
// across all packages, so a single registry scrape groups them.
const Namespace = "msglistener"

// Container holds the container-lifecycle instruments. One instance per
// Container, registered against whatever prometheus.Registerer the
// host application configured (defaulting to the global one).
type Container struct {
	State   *prometheus.GaugeVec
	Starts  prometheus.Counter
	Stops   prometheus.Counter
}

// NewContainer registers and returns a Container's instruments against
// reg, labelled with the container's id.
func NewContainer(reg prometheus.Registerer, id string) *Container {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Container{
		State: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Subsystem:   "container",
			Name:        "state",
			Help:        "Current container lifecycle state, one gauge set to 1 per state label; all others 0.",
			ConstLabels: prometheus.Labels{"containerId": id},
		}, []string{"state"}),
		Starts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   Namespace,
			Subsystem:   "container",
			Name:        "starts_total",
			Help:        "Number of times Start() completed successfully.",
			ConstLabels: prometheus.Labels{"containerId": id},
		}),
		Stops: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   Namespace,
			Subsystem:   "container",
			Name:        "stops_total",
			Help:        "Number of times Stop() completed.",
			ConstLabels: prometheus.Labels{"containerId": id},
		}),
	}
}

// SetState zeroes every known state label and sets the current one to
// 1, so a Grafana panel can graph state as a step function.
func (c *Container) SetState(current string, all []string) {
	for _, s := range all {
		value := 0.0
		if s == current {
			value = 1.0
		}
		c.State.WithLabelValues(s).Set(value)
	}
}
