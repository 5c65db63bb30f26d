package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/JaimeStill/concord/internal/events"
	"github.com/JaimeStill/concord/internal/metrics"
)

func TestCounters(t *testing.T) {
	m := metrics.New()

	m.ReviewSubmitted()
	m.ReviewSubmitted()
	m.DecisionMade("approve")
	m.Transitioned("disputed")
	m.EventDropped(events.DecisionMade)
	m.SinkFailed("kafka", events.ReviewSubmitted)
	m.BreakerStateChanged("kafka", "open")
	m.CompletionCheckFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReviewsSubmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("approve")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("disputed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped.WithLabelValues("decision.made")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkFailures.WithLabelValues("kafka", "review.submitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("kafka")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CompletionFailed))

	m.BreakerStateChanged("kafka", "closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("kafka")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics

	assert.NotPanics(t, func() {
		m.ReviewSubmitted()
		m.DecisionMade("reject")
		m.ConsensusComputed(0.5)
		m.EventDelivered("log", events.WorkflowCreated)
		m.CompletionCheckFailed()
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := metrics.New()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/workflows/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	handler := m.Middleware(mux)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/workflows/abc", nil))

	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestDuration))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `route="GET /api/workflows/{id}"`), body)
	assert.Contains(t, body, `status="202"`)
}
