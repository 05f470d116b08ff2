package sink

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyang/task-mesh/internal/domain/task"
	portsink "github.com/alanyang/task-mesh/internal/port/sink"
)

var _ portsink.ResultSink = (*Sink)(nil)

// Sink stores terminal results in the task_results table.
// A redelivered (task_id, run) pair is ignored, so wrapping it in a retrying sink is safe.
type Sink struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Sink {
	return &Sink{pool: pool}
}

func (s *Sink) Deliver(ctx context.Context, r task.Result) error {
	query := `
		INSERT INTO task_results (task_id, run, type, outcome, payload, error, failure_kind,
			attempts, retries, controller_id, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (task_id, run) DO NOTHING`

	var payload []byte
	if len(r.Payload) > 0 {
		payload = r.Payload
	}
	_, err := s.pool.Exec(ctx, query,
		r.TaskID, r.Run, r.Type, r.Outcome, payload, r.Error, r.FailureKind,
		r.Attempts, r.Retries, r.ControllerID, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting result for task %s: %w", r.TaskID, err)
	}
	return nil
}

// History returns every stored run of a task, oldest first.
func (s *Sink) History(ctx context.Context, taskID string) ([]task.Result, error) {
	query := `
		SELECT task_id, run, type, outcome, payload, error, failure_kind,
			attempts, retries, controller_id, finished_at
		FROM task_results WHERE task_id = $1 ORDER BY run`

	rows, err := s.pool.Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (task.Result, error) {
		var r task.Result
		var payload []byte
		err := row.Scan(&r.TaskID, &r.Run, &r.Type, &r.Outcome, &payload, &r.Error, &r.FailureKind,
			&r.Attempts, &r.Retries, &r.ControllerID, &r.FinishedAt)
		r.Payload = payload
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning results: %w", err)
	}
	return results, nil
}
