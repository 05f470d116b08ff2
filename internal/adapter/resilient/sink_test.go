package resilient_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/alanyang/task-mesh/internal/adapter/resilient"
	"github.com/alanyang/task-mesh/internal/domain/task"
	"github.com/alanyang/task-mesh/internal/mocks"
)

func fastRetry() resilient.RetryConfig {
	return resilient.RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxElapsedTime:  200 * time.Millisecond,
		Multiplier:      1.5,
	}
}

var result = task.Result{TaskID: "t1", Type: "echo", Outcome: task.OutcomeSucceeded}

func TestSink_RetriesUntilDelivered(t *testing.T) {
	next := mocks.NewMockResultSink(gomock.NewController(t))
	gomock.InOrder(
		next.EXPECT().Deliver(gomock.Any(), result).Return(errors.New("connection reset")),
		next.EXPECT().Deliver(gomock.Any(), result).Return(errors.New("connection reset")),
		next.EXPECT().Deliver(gomock.Any(), result).Return(nil),
	)

	s := resilient.New("pg", next, resilient.WithRetry(fastRetry()))
	require.NoError(t, s.Deliver(context.Background(), result))
	assert.Equal(t, "closed", s.State())
}

func TestSink_OpenCircuitStopsCalls(t *testing.T) {
	next := mocks.NewMockResultSink(gomock.NewController(t))
	next.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(errors.New("down")).Times(3)

	s := resilient.New("redis", next,
		resilient.WithRetry(fastRetry()),
		resilient.WithBreaker(resilient.BreakerConfig{ConsecutiveFailures: 3, OpenTimeout: time.Minute, HalfOpenRequests: 1}),
	)
	err := s.Deliver(context.Background(), result)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState), "got %v", err)
	assert.Equal(t, "open", s.State())

	// No further calls reach the store while open.
	err = s.Deliver(context.Background(), result)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
}

func TestSink_CancelledContextStops(t *testing.T) {
	next := mocks.NewMockResultSink(gomock.NewController(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := resilient.New("pg", next, resilient.WithRetry(fastRetry()))
	err := s.Deliver(ctx, result)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestFanout(t *testing.T) {
	ctrl := gomock.NewController(t)
	a := mocks.NewMockResultSink(ctrl)
	b := mocks.NewMockResultSink(ctrl)
	boom := errors.New("boom")
	a.EXPECT().Deliver(gomock.Any(), result).Return(boom)
	b.EXPECT().Deliver(gomock.Any(), result).Return(nil)

	err := resilient.Fanout{a, b}.Deliver(context.Background(), result)
	assert.True(t, errors.Is(err, boom))
}
