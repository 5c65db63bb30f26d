// Package metrics exposes Prometheus instrumentation for the review engine,
// the event dispatcher, and the HTTP API. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JaimeStill/concord/internal/events"
	"github.com/JaimeStill/concord/pkg/middleware"
)

const namespace = "concord"

// Metrics holds every collector registered by the service.
type Metrics struct {
	registry *prometheus.Registry

	ReviewsSubmitted  prometheus.Counter
	Decisions         *prometheus.CounterVec
	Transitions       *prometheus.CounterVec
	ConsensusScores   prometheus.Histogram
	DeadlinesNotified prometheus.Counter
	CompletionFailed  prometheus.Counter
	EventsDropped     *prometheus.CounterVec
	EventsDelivered   *prometheus.CounterVec
	SinkFailures      *prometheus.CounterVec
	BreakerState      *prometheus.GaugeVec
	RequestDuration   *prometheus.HistogramVec
}

// New registers every collector on a fresh registry along with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ReviewsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reviews_submitted_total",
			Help:      "Reviews accepted by the engine.",
		}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Decisions recorded, by outcome.",
		}, []string{"outcome"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_transitions_total",
			Help:      "Workflow status transitions, by target status.",
		}, []string{"to"}),
		ConsensusScores: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consensus_score",
			Help:      "Consensus scores computed at quorum.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		DeadlinesNotified: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deadlines_notified_total",
			Help:      "Workflows flagged as past their deadline.",
		}),
		CompletionFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_checks_failed_total",
			Help:      "Completion checks that failed after a review was recorded.",
		}),
		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because the dispatch buffer was full.",
		}, []string{"type"}),
		EventsDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Events delivered, by sink and type.",
		}, []string{"sink", "type"}),
		SinkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_sink_failures_total",
			Help:      "Event deliveries that failed after retries, by sink and type.",
		}, []string{"sink", "type"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_sink_breaker_open",
			Help:      "1 when the sink circuit breaker is open or half-open.",
		}, []string{"sink"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by method, route, and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ReviewSubmitted() {
	if m == nil {
		return
	}
	m.ReviewsSubmitted.Inc()
}

func (m *Metrics) DecisionMade(outcome string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Transitioned(to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) CompletionCheckFailed() {
	if m == nil {
		return
	}
	m.CompletionFailed.Inc()
}

func (m *Metrics) ConsensusComputed(score float64) {
	if m == nil {
		return
	}
	m.ConsensusScores.Observe(score)
}

func (m *Metrics) DeadlineNotified() {
	if m == nil {
		return
	}
	m.DeadlinesNotified.Inc()
}

func (m *Metrics) EventDropped(t events.Type) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) EventDelivered(sink string, t events.Type) {
	if m == nil {
		return
	}
	m.EventsDelivered.WithLabelValues(sink, string(t)).Inc()
}

func (m *Metrics) SinkFailed(sink string, t events.Type) {
	if m == nil {
		return
	}
	m.SinkFailures.WithLabelValues(sink, string(t)).Inc()
}

func (m *Metrics) BreakerStateChanged(sink string, state string) {
	if m == nil {
		return
	}
	open := 0.0
	if state != "closed" {
		open = 1
	}
	m.BreakerState.WithLabelValues(sink).Set(open)
}

// Middleware records request latency labelled by the matched route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := middleware.NewStatusRecorder(w)
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.RequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(rec.Status)).
			Observe(time.Since(start).Seconds())
	})
}

var _ events.Observer = (*Metrics)(nil)
