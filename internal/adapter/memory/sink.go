package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alanyang/task-mesh/internal/domain/task"
	portsink "github.com/alanyang/task-mesh/internal/port/sink"
)

var _ portsink.ResultSink = (*Sink)(nil)

// Sink keeps every delivered result in memory and logs it.
// It is the default sink when no external store is configured.
type Sink struct {
	mu      sync.RWMutex
	results []task.Result
	limit   int
}

// NewSink keeps at most limit results (oldest dropped first); limit <= 0 keeps all.
func NewSink(limit int) *Sink {
	return &Sink{limit: limit}
}

func (s *Sink) Deliver(ctx context.Context, r task.Result) error {
	s.mu.Lock()
	s.results = append(s.results, r)
	if s.limit > 0 && len(s.results) > s.limit {
		s.results = s.results[len(s.results)-s.limit:]
	}
	s.mu.Unlock()

	slog.InfoContext(ctx, "result",
		"task_id", r.TaskID,
		"type", r.Type,
		"run", r.Run,
		"outcome", r.Outcome,
		"attempts", r.Attempts,
		"retries", r.Retries,
		"controller_id", r.ControllerID,
		"error", r.Error,
	)
	return nil
}

// Results returns a copy of everything delivered so far.
func (s *Sink) Results() []task.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]task.Result, len(s.results))
	copy(out, s.results)
	return out
}

// ForTask returns the results delivered for one task id.
func (s *Sink) ForTask(taskID string) []task.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []task.Result
	for _, r := range s.results {
		if r.TaskID == taskID {
			out = append(out, r)
		}
	}
	return out
}

// History is ForTask behind the same signature as the postgres sink.
func (s *Sink) History(_ context.Context, taskID string) ([]task.Result, error) {
	return s.ForTask(taskID), nil
}
