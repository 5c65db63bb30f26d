package events_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/concord/internal/events"
	"github.com/JaimeStill/concord/pkg/lifecycle"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *events.Config {
	return &events.Config{
		BufferSize:      8,
		Workers:         2,
		MaxRetries:      3,
		RetryInterval:   "1ms",
		MaxInterval:     "2ms",
		BreakerFailures: 5,
		BreakerTimeout:  "1m",
		DrainTimeout:    "1s",
	}
}

type countingObserver struct {
	mu        sync.Mutex
	dropped   int
	delivered map[string]int
	failed    map[string]int
	states    []string
}

func newObserver() *countingObserver {
	return &countingObserver{delivered: map[string]int{}, failed: map[string]int{}}
}

func (o *countingObserver) EventDropped(events.Type) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped++
}

func (o *countingObserver) EventDelivered(sink string, _ events.Type) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delivered[sink]++
}

func (o *countingObserver) SinkFailed(sink string, _ events.Type) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed[sink]++
}

func (o *countingObserver) BreakerStateChanged(_ string, state string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

type flakySink struct {
	failures int32
	calls    atomic.Int32
}

func (s *flakySink) Name() string { return "flaky" }

func (s *flakySink) Deliver(context.Context, events.Event) error {
	if n := s.calls.Add(1); n <= s.failures {
		return errors.New("unavailable")
	}
	return nil
}

func TestEventBuilders(t *testing.T) {
	wf, asg, rev := uuid.New(), uuid.New(), uuid.New()

	e := events.New(events.ReviewSubmitted, wf).
		WithAssignment(asg, "r1").
		WithReview(rev).
		With("risk", 0.2)

	assert.Equal(t, events.ReviewSubmitted, e.Type)
	assert.Equal(t, wf, e.WorkflowID)
	assert.Equal(t, asg, *e.AssignmentID)
	assert.Equal(t, rev, *e.ReviewID)
	assert.Equal(t, "r1", e.ReviewerID)
	assert.Equal(t, 0.2, e.Detail["risk"])
	assert.False(t, e.OccurredAt.IsZero())

	body, err := events.Encode(e)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"type":"review.submitted"`)
	assert.NotContains(t, string(body), "decision_id")
}

func TestDispatcherDeliversOnShutdown(t *testing.T) {
	rec := events.NewRecorder()
	obs := newObserver()
	d := events.NewDispatcher(testConfig(), discard(), obs, rec)

	lc := lifecycle.New()
	d.Start(lc)
	lc.WaitForStartup()

	wf := uuid.New()
	d.Emit(context.Background(),
		events.New(events.WorkflowCreated, wf),
		events.New(events.ReviewInvitationSent, wf),
	)

	require.NoError(t, lc.Shutdown(5*time.Second))

	assert.Len(t, rec.Events(), 2)
	assert.Equal(t, 2, obs.delivered["recorder"])
}

func TestDispatcherClosesAfterDrain(t *testing.T) {
	rec := events.NewRecorder()
	d := events.NewDispatcher(testConfig(), discard(), nil, rec)

	var delivered int
	d.OnClose(func() error {
		delivered = len(rec.Events())
		return nil
	})
	d.OnClose(func() error { return errors.New("already closed") })

	lc := lifecycle.New()
	d.Start(lc)
	lc.WaitForStartup()

	d.Emit(context.Background(), events.New(events.WorkflowCreated, uuid.New()))
	require.NoError(t, lc.Shutdown(5*time.Second))

	assert.Equal(t, 1, delivered)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.BufferSize = 1
	obs := newObserver()
	d := events.NewDispatcher(cfg, discard(), obs, events.NewRecorder())

	wf := uuid.New()
	d.Emit(context.Background(),
		events.New(events.WorkflowCreated, wf),
		events.New(events.ReviewSubmitted, wf),
		events.New(events.DecisionMade, wf),
	)

	assert.Equal(t, 2, obs.dropped)
}

func TestDispatcherRetries(t *testing.T) {
	sink := &flakySink{failures: 2}
	obs := newObserver()
	d := events.NewDispatcher(testConfig(), discard(), obs, sink)

	d.Deliver(context.Background(), events.New(events.DecisionMade, uuid.New()))

	assert.Equal(t, int32(3), sink.calls.Load())
	assert.Equal(t, 1, obs.delivered["flaky"])
	assert.Zero(t, obs.failed["flaky"])
}

func TestDispatcherBreakerOpens(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	cfg.BreakerFailures = 2

	sink := &flakySink{failures: 100}
	obs := newObserver()
	d := events.NewDispatcher(cfg, discard(), obs, sink)

	for range 3 {
		d.Deliver(context.Background(), events.New(events.ReviewSubmitted, uuid.New()))
	}

	assert.Equal(t, int32(2), sink.calls.Load(), "open breaker short-circuits the third delivery")
	assert.Equal(t, 3, obs.failed["flaky"])
	assert.Equal(t, []string{"open"}, obs.states)
}

func TestDispatcherIsolatesSinks(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0

	rec := events.NewRecorder()
	obs := newObserver()
	d := events.NewDispatcher(cfg, discard(), obs, &flakySink{failures: 100}, rec)

	d.Deliver(context.Background(), events.New(events.WorkflowCreated, uuid.New()))

	assert.Len(t, rec.Events(), 1)
	assert.Equal(t, 1, obs.failed["flaky"])
	assert.Zero(t, obs.delivered["flaky"])
	assert.Equal(t, 1, obs.delivered["recorder"])
	assert.Zero(t, obs.failed["recorder"])
	assert.Equal(t, []string{"flaky", "recorder"}, d.Sinks())
}

func TestConfigFinalize(t *testing.T) {
	t.Setenv("TEST_EVENTS_BROKERS", "k1:9092, k2:9092")
	t.Setenv("TEST_EVENTS_REDIS", "localhost:6379")

	cfg := events.Config{}
	err := cfg.Finalize(&events.Env{
		KafkaBrokers: "TEST_EVENTS_BROKERS",
		RedisAddr:    "TEST_EVENTS_REDIS",
	})
	require.NoError(t, err)

	assert.Equal(t, 256, cfg.BufferSize)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
	assert.True(t, cfg.Redis.Enabled())
	assert.False(t, cfg.AMQP.Enabled())
	assert.Equal(t, 168*time.Hour, cfg.Redis.DiscussionTTLDuration())
}

func TestConfigRejectsBadDuration(t *testing.T) {
	cfg := events.Config{RetryInterval: "soon"}
	assert.Error(t, cfg.Finalize(nil))
}
