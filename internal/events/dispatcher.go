package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/JaimeStill/concord/pkg/lifecycle"
)

// Observer receives delivery outcomes for instrumentation.
type Observer interface {
	EventDropped(t Type)
	EventDelivered(sink string, t Type)
	SinkFailed(sink string, t Type)
	BreakerStateChanged(sink string, state string)
}

type nopObserver struct{}

func (nopObserver) EventDropped(Type)                  {}
func (nopObserver) EventDelivered(string, Type)        {}
func (nopObserver) SinkFailed(string, Type)            {}
func (nopObserver) BreakerStateChanged(string, string) {}

// Dispatcher queues events on a bounded buffer and delivers them to every
// sink from a pool of workers. Each sink is guarded by a circuit breaker and
// retried with exponential backoff. A full buffer drops the event.
type Dispatcher struct {
	cfg      *Config
	queue    chan Event
	sinks    []*guardedSink
	observer Observer
	logger   *slog.Logger
	closers  []func() error
}

type guardedSink struct {
	sink    Sink
	breaker *gobreaker.CircuitBreaker
}

// NewDispatcher creates a Dispatcher over sinks. A nil observer disables instrumentation.
func NewDispatcher(cfg *Config, logger *slog.Logger, observer Observer, sinks ...Sink) *Dispatcher {
	if observer == nil {
		observer = nopObserver{}
	}

	d := &Dispatcher{
		cfg:      cfg,
		queue:    make(chan Event, cfg.BufferSize),
		observer: observer,
		logger:   logger.With("system", "events"),
	}

	for _, s := range sinks {
		d.sinks = append(d.sinks, &guardedSink{
			sink:    s,
			breaker: d.newBreaker(s.Name()),
		})
	}

	return d
}

func (d *Dispatcher) newBreaker(name string) *gobreaker.CircuitBreaker {
	failures := uint32(d.cfg.BreakerFailures)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     d.cfg.BreakerTimeoutDuration(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("sink circuit state changed", "sink", name, "from", from.String(), "to", to.String())
			d.observer.BreakerStateChanged(name, to.String())
		},
	})
}

// Sinks returns the names of the configured sinks.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.sink.Name()
	}
	return names
}

// OnClose registers fn to run after the workers have drained the queue.
// Sink connections are released here.
func (d *Dispatcher) OnClose(fn func() error) {
	d.closers = append(d.closers, fn)
}

// Start launches the delivery workers under the lifecycle coordinator.
// Workers drain the queue once the coordinator context is cancelled, then
// the close hooks run.
func (d *Dispatcher) Start(lc *lifecycle.Coordinator) {
	d.logger.Info("starting event dispatcher", "workers", d.cfg.Workers, "sinks", d.Sinks())
	lc.Go(func(ctx context.Context) {
		var wg sync.WaitGroup
		for range d.cfg.Workers {
			wg.Go(func() { d.work(ctx) })
		}
		wg.Wait()
		d.close()
	})
}

func (d *Dispatcher) close() {
	for _, fn := range d.closers {
		if err := fn(); err != nil {
			d.logger.Error("sink close failed", "error", err)
		}
	}
}

// Emit enqueues events without blocking.
func (d *Dispatcher) Emit(_ context.Context, events ...Event) {
	for _, e := range events {
		select {
		case d.queue <- e:
		default:
			d.logger.Warn("event buffer full, dropping event", "type", e.Type, "workflow_id", e.WorkflowID)
			d.observer.EventDropped(e.Type)
		}
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case e := <-d.queue:
			d.Deliver(ctx, e)
		case <-ctx.Done():
			d.drain(ctx)
			return
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.DrainTimeoutDuration())
	defer cancel()

	for {
		select {
		case e := <-d.queue:
			d.Deliver(dctx, e)
		default:
			return
		}
	}
}

// Deliver sends e to every sink concurrently. Sink failures are logged and
// counted but never returned.
func (d *Dispatcher) Deliver(ctx context.Context, e Event) {
	var wg sync.WaitGroup
	for _, gs := range d.sinks {
		wg.Go(func() {
			if err := d.send(ctx, gs, e); err != nil {
				d.logger.Error(
					"event delivery failed",
					"sink", gs.sink.Name(),
					"type", e.Type,
					"event_id", e.ID,
					"error", err,
				)
				d.observer.SinkFailed(gs.sink.Name(), e.Type)
				return
			}
			d.observer.EventDelivered(gs.sink.Name(), e.Type)
		})
	}
	wg.Wait()
}

func (d *Dispatcher) send(ctx context.Context, gs *guardedSink, e Event) error {
	op := func() error {
		_, err := gs.breaker.Execute(func() (any, error) {
			return nil, gs.sink.Deliver(ctx, e)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(op, d.newBackOff(ctx))
}

func (d *Dispatcher) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.cfg.RetryIntervalDuration()
	eb.MaxInterval = d.cfg.MaxIntervalDuration()
	eb.MaxElapsedTime = 0

	retries := uint64(max(d.cfg.MaxRetries, 0))
	return backoff.WithContext(backoff.WithMaxRetries(eb, retries), ctx)
}

var _ Emitter = (*Dispatcher)(nil)

