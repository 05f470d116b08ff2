// Package resilient guards result sinks that talk to external stores.
package resilient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/alanyang/task-mesh/internal/domain/task"
	portsink "github.com/alanyang/task-mesh/internal/port/sink"
)

var _ portsink.ResultSink = (*Sink)(nil)

// RetryConfig configures exponential backoff between delivery attempts.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	Multiplier      float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  30 * time.Second,
		Multiplier:      2.0,
	}
}

// BreakerConfig configures when the circuit opens and for how long.
type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

type Option func(*Sink)

func WithRetry(cfg RetryConfig) Option {
	return func(s *Sink) { s.retry = cfg }
}

func WithBreaker(cfg BreakerConfig) Option {
	return func(s *Sink) { s.breakerCfg = cfg }
}

// Sink retries a flaky sink with backoff and stops calling it while its
// circuit is open. Results rejected by an open circuit are logged and lost.
type Sink struct {
	name       string
	next       portsink.ResultSink
	retry      RetryConfig
	breakerCfg BreakerConfig
	breaker    *gobreaker.CircuitBreaker
}

func New(name string, next portsink.ResultSink, opts ...Option) *Sink {
	s := &Sink{
		name:       name,
		next:       next,
		retry:      DefaultRetryConfig(),
		breakerCfg: DefaultBreakerConfig(),
	}
	for _, o := range opts {
		o(s)
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.breakerCfg.HalfOpenRequests,
		Timeout:     s.breakerCfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.breakerCfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("result sink circuit changed", "sink", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Cancellation is the caller's doing, not the store's.
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	return s
}

// State reports the circuit state: closed, half-open or open.
func (s *Sink) State() string { return s.breaker.State().String() }

func (s *Sink) Deliver(ctx context.Context, r task.Result) error {
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, s.next.Deliver(ctx, r)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retry.InitialInterval
	policy.MaxInterval = s.retry.MaxInterval
	policy.MaxElapsedTime = s.retry.MaxElapsedTime
	policy.Multiplier = s.retry.Multiplier

	notify := func(err error, wait time.Duration) {
		slog.WarnContext(ctx, "result delivery failed, retrying",
			"sink", s.name, "task_id", r.TaskID, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return fmt.Errorf("delivering to %s: %w", s.name, err)
	}
	return nil
}

// Fanout delivers every result to each sink in order. One sink failing does
// not stop the others; the errors are joined.
type Fanout []portsink.ResultSink

var _ portsink.ResultSink = Fanout(nil)

func (f Fanout) Deliver(ctx context.Context, r task.Result) error {
	var errs []error
	for _, s := range f {
		if err := s.Deliver(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
