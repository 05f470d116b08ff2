package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alanyang/task-mesh/internal/domain/message"
)

// Handler is the terminal step that runs the executor.
type Handler func(ctx context.Context) (json.RawMessage, error)

// Middleware wraps execution of one dispatched task.
type Middleware func(ctx context.Context, d message.Dispatch, next Handler) (json.RawMessage, error)

// Chain composes middleware; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, d message.Dispatch, next Handler) (json.RawMessage, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) (json.RawMessage, error) {
				return mw(ctx, d, prev)
			}
		}
		return h(ctx)
	}
}

// Recover turns a panicking executor into ErrPanic.
func Recover() Middleware {
	return func(ctx context.Context, d message.Dispatch, next Handler) (payload json.RawMessage, err error) {
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "worker: executor panicked",
					"task_id", d.TaskID,
					"type", d.Type,
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
				payload = nil
				err = fmt.Errorf("%w: %v", ErrPanic, r)
			}
		}()
		return next(ctx)
	}
}

// Timeout bounds execution by the dispatch's own timeout, or def when unset.
// The result is returned as soon as the budget expires even if the executor
// ignores ctx; the executor goroutine is left to observe the cancellation.
func Timeout(def time.Duration) Middleware {
	return func(ctx context.Context, d message.Dispatch, next Handler) (json.RawMessage, error) {
		limit := d.Timeout
		if limit <= 0 {
			limit = def
		}
		if limit <= 0 {
			return next(ctx)
		}

		ctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		type outcome struct {
			payload json.RawMessage
			err     error
		}
		done := make(chan outcome, 1)
		go func() {
			p, err := next(ctx)
			done <- outcome{p, err}
		}()

		select {
		case o := <-done:
			if o.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w after %s", ErrTimeout, limit)
			}
			return o.payload, o.err
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w after %s", ErrTimeout, limit)
			}
			return nil, ctx.Err()
		}
	}
}

// Tracing wraps execution in a span.
func Tracing(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, d message.Dispatch, next Handler) (json.RawMessage, error) {
		ctx, span := tracer.Start(ctx, "task.execute",
			trace.WithAttributes(
				attribute.String("task.id", d.TaskID),
				attribute.String("task.type", d.Type),
				attribute.Int("task.attempt", d.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		payload, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return payload, err
	}
}

func Logging() Middleware {
	return func(ctx context.Context, d message.Dispatch, next Handler) (json.RawMessage, error) {
		start := time.Now()
		slog.DebugContext(ctx, "worker: task started", "task_id", d.TaskID, "type", d.Type, "attempt", d.Attempt)

		payload, err := next(ctx)
		if err != nil {
			slog.WarnContext(ctx, "worker: task failed",
				"task_id", d.TaskID,
				"type", d.Type,
				"attempt", d.Attempt,
				"duration", time.Since(start),
				"error", err,
			)
			return payload, err
		}
		slog.InfoContext(ctx, "worker: task finished",
			"task_id", d.TaskID,
			"type", d.Type,
			"attempt", d.Attempt,
			"duration", time.Since(start),
		)
		return payload, nil
	}
}
