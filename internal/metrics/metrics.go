package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the status machine counters on a private registry. A nil
// *Recorder records nothing.
type Recorder struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	cascaded    *prometheus.CounterVec
	failures    *prometheus.CounterVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "staffline_project_transitions_total",
			Help: "Committed project status transitions",
		}, []string{"transition", "from", "to"}),
		cascaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "staffline_workers_cascaded_total",
			Help: "Worker profiles moved by project status transitions",
		}, []string{"transition", "stage"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "staffline_transition_failures_total",
			Help: "Rejected or failed project status transitions by status code",
		}, []string{"transition", "code"}),
	}
	r.registry.MustRegister(r.transitions, r.cascaded, r.failures)
	return r
}

func (r *Recorder) Transition(transition, from, to string, workers int, stage string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(transition, from, to).Inc()
	if workers > 0 {
		r.cascaded.WithLabelValues(transition, stage).Add(float64(workers))
	}
}

func (r *Recorder) Failure(transition string, code int) {
	if r == nil {
		return
	}
	r.failures.WithLabelValues(transition, strconv.Itoa(code)).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

