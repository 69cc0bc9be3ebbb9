// Package metrics exposes the broker's admission counters via
// Prometheus, the ambient observability stack carried over from the
// teacher repo's cli/metrics + server/metrics_test.go interceptor
// pattern, adapted here to plain counter increments since this
// protocol has no gRPC interceptor chain to hook.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder is the hook the admission engine calls when a request is
// granted, queued, released, or rejected as infeasible; a hold
// acknowledgement is not recorded. A nil *Recorder is valid and
// records nothing, so tests
// that don't care about metrics can omit it.
type Recorder struct {
	granted  *prometheus.CounterVec
	queued   *prometheus.CounterVec
	released *prometheus.CounterVec
	invalid  *prometheus.CounterVec
	holding  *prometheus.GaugeVec
}

// NewRecorder registers the broker's counters against reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		granted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resourcebroker",
			Name:      "grants_total",
			Help:      "Requests admitted, directly or via queue drain.",
		}, []string{"resource"}),
		queued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resourcebroker",
			Name:      "queued_total",
			Help:      "Requests that had to wait in the FIFO queue.",
		}, []string{"resource"}),
		released: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resourcebroker",
			Name:      "released_total",
			Help:      "Holds released back to the pool.",
		}, []string{"resource"}),
		invalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resourcebroker",
			Name:      "invalid_total",
			Help:      "Requests rejected as infeasible under the current config.",
		}, []string{"resource"}),
		holding: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "resourcebroker",
			Name:      "holds_in_flight",
			Help:      "Currently granted and not yet released requests.",
		}, []string{"resource"}),
	}
	reg.MustRegister(r.granted, r.queued, r.released, r.invalid, r.holding)
	return r
}

func (r *Recorder) Granted(resource string) {
	if r == nil {
		return
	}
	r.granted.WithLabelValues(resource).Inc()
	r.holding.WithLabelValues(resource).Inc()
}

func (r *Recorder) Queued(resource string) {
	if r == nil {
		return
	}
	r.queued.WithLabelValues(resource).Inc()
}

func (r *Recorder) Released(resource string) {
	if r == nil {
		return
	}
	r.released.WithLabelValues(resource).Inc()
	r.holding.WithLabelValues(resource).Dec()
}

func (r *Recorder) Invalid(resource string) {
	if r == nil {
		return
	}
	r.invalid.WithLabelValues(resource).Inc()
}
