package executor

//go:generate mockgen -destination=../../mocks/mock_executor.go -package=mocks . Executor

import (
	"context"
	"encoding/json"

	"github.com/alanyang/task-mesh/internal/domain/task"
)

// Executor runs one task type. Implementations must honour ctx cancellation.
type Executor interface {
	Execute(ctx context.Context, props task.Properties) (json.RawMessage, error)
}

// ExecutorFunc adapts a plain function to Executor.
type ExecutorFunc func(ctx context.Context, props task.Properties) (json.RawMessage, error)

func (f ExecutorFunc) Execute(ctx context.Context, props task.Properties) (json.RawMessage, error) {
	return f(ctx, props)
}
