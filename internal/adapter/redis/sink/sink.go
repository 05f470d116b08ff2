// Package sink streams terminal task results into a Redis stream so that
// downstream consumers can read them with XREAD or consumer groups.
package sink

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/alanyang/task-mesh/internal/domain/task"
	portsink "github.com/alanyang/task-mesh/internal/port/sink"
)

const DefaultStream = "task_mesh:results"

var _ portsink.ResultSink = (*Sink)(nil)

type Option func(*Sink)

// WithStream overrides the stream key.
func WithStream(key string) Option {
	return func(s *Sink) { s.stream = key }
}

// WithMaxLen caps the stream approximately at n entries.
func WithMaxLen(n int64) Option {
	return func(s *Sink) { s.maxLen = n }
}

// Sink appends one stream entry per result. The caller owns the client lifecycle.
type Sink struct {
	client goredis.Cmdable
	stream string
	maxLen int64
}

func New(client goredis.Cmdable, opts ...Option) *Sink {
	s := &Sink{client: client, stream: DefaultStream}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Sink) Deliver(ctx context.Context, r task.Result) error {
	args := &goredis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"task_id":       r.TaskID,
			"run":           strconv.Itoa(r.Run),
			"type":          r.Type,
			"outcome":       string(r.Outcome),
			"payload":       string(r.Payload),
			"error":         r.Error,
			"failure_kind":  string(r.FailureKind),
			"attempts":      strconv.Itoa(r.Attempts),
			"retries":       strconv.Itoa(r.Retries),
			"controller_id": r.ControllerID,
			"finished_at":   r.FinishedAt.Format(time.RFC3339Nano),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("appending result for task %s: %w", r.TaskID, err)
	}
	return nil
}

// Decode turns a stream entry written by Deliver back into a Result.
func Decode(msg goredis.XMessage) (task.Result, error) {
	str := func(k string) string {
		v, _ := msg.Values[k].(string)
		return v
	}
	num := func(k string) (int, error) {
		n, err := strconv.Atoi(str(k))
		if err != nil {
			return 0, fmt.Errorf("decoding %s of entry %s: %w", k, msg.ID, err)
		}
		return n, nil
	}

	r := task.Result{
		TaskID:       str("task_id"),
		Type:         str("type"),
		Outcome:      task.Outcome(str("outcome")),
		Error:        str("error"),
		FailureKind:  task.FailureKind(str("failure_kind")),
		ControllerID: str("controller_id"),
	}
	if p := str("payload"); p != "" {
		r.Payload = []byte(p)
	}
	var err error
	if r.Run, err = num("run"); err != nil {
		return task.Result{}, err
	}
	if r.Attempts, err = num("attempts"); err != nil {
		return task.Result{}, err
	}
	if r.Retries, err = num("retries"); err != nil {
		return task.Result{}, err
	}
	if r.FinishedAt, err = time.Parse(time.RFC3339Nano, str("finished_at")); err != nil {
		return task.Result{}, fmt.Errorf("decoding finished_at of entry %s: %w", msg.ID, err)
	}
	return r, nil
}
