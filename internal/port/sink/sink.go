package sink

//go:generate mockgen -destination=../../mocks/mock_sink.go -package=mocks . ResultSink

import (
	"context"

	"github.com/alanyang/task-mesh/internal/domain/task"
)

// ResultSink receives one call per terminal task transition.
// Delivery is best effort; the master never retries a failed call.
type ResultSink interface {
	Deliver(ctx context.Context, r task.Result) error
}
