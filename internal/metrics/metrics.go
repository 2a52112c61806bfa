// Package metrics exposes prometheus instrumentation for the remote ports.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels for recorded requests.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Requests counts remote-port requests by service, operation and outcome.
// A nil *Requests is valid and records nothing.
type Requests struct {
	counter *prometheus.CounterVec
}

// NewRequests builds the counter and registers it with reg when non-nil.
func NewRequests(reg prometheus.Registerer) *Requests {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pubsync_remote_requests_total",
		Help: "Remote port requests by service, operation and outcome.",
	}, []string{"service", "operation", "outcome"})
	if reg != nil {
		reg.MustRegister(c)
	}
	return &Requests{counter: c}
}

// Record increments the counter for one finished request.
func (r *Requests) Record(service, operation, outcome string) {
	if r == nil {
		return
	}
	r.counter.WithLabelValues(service, operation, outcome).Inc()
}
