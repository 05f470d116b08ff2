package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/alanyang/task-mesh/internal/domain/message"
	"github.com/alanyang/task-mesh/internal/domain/task"
	"github.com/alanyang/task-mesh/internal/service/executor"
)

var (
	ErrTimeout     = errors.New("task exceeded its execution budget")
	ErrPanic       = errors.New("executor panicked")
	ErrExecution   = errors.New("task execution failed")
	ErrUnsupported = errors.New("unsupported task type")
)

const tracerName = "github.com/alanyang/task-mesh/worker"

// Result is the outcome of one execution.
type Result struct {
	Outcome task.Outcome
	Payload json.RawMessage
	Err     error
	Kind    task.FailureKind
}

// Report converts the result into the status report for the dispatch it answers.
func (r Result) Report(controllerID string, d message.Dispatch) message.StatusReport {
	rep := message.StatusReport{
		TaskID:       d.TaskID,
		ControllerID: controllerID,
		Attempt:      d.Attempt,
		Outcome:      r.Outcome,
		Payload:      r.Payload,
		FailureKind:  r.Kind,
	}
	if r.Err != nil {
		rep.Error = r.Err.Error()
	}
	return rep
}

// Runner is the execution wrapper shared by every worker slot of a controller.
// It holds no per-task state, so slots never observe each other's executions.
type Runner struct {
	registry *executor.Registry
	chain    Middleware
}

// NewRunner builds the default chain: logging, tracing, timeout, recover, then extra.
func NewRunner(registry *executor.Registry, defaultTimeout time.Duration, extra ...Middleware) *Runner {
	mws := []Middleware{
		Logging(),
		Tracing(otel.Tracer(tracerName)),
		Timeout(defaultTimeout),
		Recover(),
	}
	mws = append(mws, extra...)
	return &Runner{registry: registry, chain: Chain(mws...)}
}

// NewRunnerWithChain uses the given middleware verbatim.
func NewRunnerWithChain(registry *executor.Registry, mws ...Middleware) *Runner {
	return &Runner{registry: registry, chain: Chain(mws...)}
}

func (r *Runner) Run(ctx context.Context, d message.Dispatch) Result {
	payload, err := r.chain(ctx, d, func(ctx context.Context) (json.RawMessage, error) {
		exec, err := r.registry.Lookup(d.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnsupported, err)
		}
		return exec.Execute(ctx, d.Properties)
	})
	if err != nil {
		kind := classify(err)
		if kind == task.FailureExecution {
			err = fmt.Errorf("%w: %w", ErrExecution, err)
		}
		return Result{Outcome: task.OutcomeFailed, Err: err, Kind: kind}
	}
	if len(payload) > 0 && !json.Valid(payload) {
		// Non-JSON output is carried as a JSON string.
		quoted, _ := json.Marshal(string(payload))
		payload = quoted
	}
	return Result{Outcome: task.OutcomeSucceeded, Payload: payload}
}

func classify(err error) task.FailureKind {
	switch {
	case errors.Is(err, ErrTimeout):
		return task.FailureTimeout
	case errors.Is(err, ErrPanic):
		return task.FailurePanic
	case errors.Is(err, ErrUnsupported):
		return task.FailureUnsupported
	default:
		return task.FailureExecution
	}
}
