package master

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/alanyang/task-mesh/internal/domain/controller"
	"github.com/alanyang/task-mesh/internal/domain/event"
	"github.com/alanyang/task-mesh/internal/domain/task"
	portcoord "github.com/alanyang/task-mesh/internal/port/coordinator"
)

// Submit enqueues a task as pending. A duplicate id is rejected while the
// earlier run is still active; after a terminal state it starts a new run.
func (m *Master) Submit(ctx context.Context, t task.Task) (task.Task, error) {
	if t.Type == "" {
		return task.Task{}, fmt.Errorf("submit task: empty type: %w", ErrInvalidTask)
	}
	if t.Timeout < 0 {
		return task.Task{}, fmt.Errorf("submit task: negative timeout: %w", ErrInvalidTask)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	var (
		out task.Task
		err error
	)
	if callErr := m.do(ctx, m.submissions, func(ctx context.Context) {
		out, err = m.submit(ctx, t)
	}); callErr != nil {
		return task.Task{}, fmt.Errorf("submit task: %w", callErr)
	}
	return out, err
}

func (m *Master) submit(ctx context.Context, in task.Task) (task.Task, error) {
	if m.draining {
		return task.Task{}, fmt.Errorf("submit task %s: %w", in.ID, ErrDraining)
	}

	run, attempt := 0, 0
	if existing, ok := m.tasks[in.ID]; ok {
		if !existing.Status.IsTerminal() {
			return task.Task{}, fmt.Errorf("submit task %s: %w", in.ID, ErrTaskConflict)
		}
		run, attempt = existing.Run+1, existing.Attempt
	} else if prev, ok := m.retired[in.ID]; ok {
		run, attempt = prev.run+1, prev.attempt
		delete(m.retired, in.ID)
	}

	rec := &task.Task{
		ID:          in.ID,
		Type:        in.Type,
		Properties:  in.Properties.Clone(),
		Timeout:     in.Timeout,
		Status:      task.StatusPending,
		Attempt:     attempt,
		AttemptBase: attempt,
		Run:         run,
		SubmittedAt: m.now(),
	}
	m.tasks[rec.ID] = rec
	m.pending.Set(rec.ID, rec)

	slog.DebugContext(ctx, "master: task submitted", "task_id", rec.ID, "type", rec.Type, "run", run)
	m.emit(event.New(event.TypeTaskSubmitted, rec.ID, ""))
	return *rec, nil
}

// Cancel removes a pending task from the queue. Dispatched tasks cannot be cancelled.
func (m *Master) Cancel(ctx context.Context, taskID string) (task.Task, error) {
	var (
		out task.Task
		err error
	)
	if callErr := m.do(ctx, m.control, func(ctx context.Context) {
		t, ok := m.tasks[taskID]
		if !ok {
			err = fmt.Errorf("cancel task %s: %w", taskID, ErrTaskNotFound)
			return
		}
		if t.Status != task.StatusPending {
			err = fmt.Errorf("cancel task %s in state %s: %w", taskID, t.Status, ErrNotPending)
			return
		}
		m.pending.Delete(taskID)
		m.retire(t)
		out = *t
		m.emit(event.New(event.TypeTaskCancelled, taskID, ""))
	}); callErr != nil {
		return task.Task{}, fmt.Errorf("cancel task: %w", callErr)
	}
	return out, err
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (m *Master) Task(ctx context.Context, taskID string) (task.Task, error) {
	var (
		out task.Task
		err error
	)
	if callErr := m.do(ctx, m.control, func(context.Context) {
		t, ok := m.tasks[taskID]
		if !ok {
			err = fmt.Errorf("get task %s: %w", taskID, ErrTaskNotFound)
			return
		}
		out = *t
	}); callErr != nil {
		return task.Task{}, fmt.Errorf("get task: %w", callErr)
	}
	return out, err
}

// Tasks lists tasks in submission order.
func (m *Master) Tasks(ctx context.Context, filters task.ListFilters) ([]task.Task, error) {
	var out []task.Task
	if err := m.do(ctx, m.control, func(context.Context) {
		out = make([]task.Task, 0, len(m.tasks))
		for _, t := range m.tasks {
			if filters.Match(*t) {
				out = append(out, *t)
			}
		}
	}); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, nil
}

// Controllers lists registry entries ordered by id.
func (m *Master) Controllers(ctx context.Context) ([]controller.Controller, error) {
	var out []controller.Controller
	if err := m.do(ctx, m.control, func(context.Context) {
		out = make([]controller.Controller, 0, len(m.controllers))
		for _, id := range m.controllerIDs() {
			out = append(out, *m.controllers[id])
		}
	}); err != nil {
		return nil, fmt.Errorf("list controllers: %w", err)
	}
	return out, nil
}

func (m *Master) Stats(ctx context.Context) (portcoord.Stats, error) {
	stats := portcoord.Stats{
		Tasks:       make(map[task.Status]int),
		Controllers: make(map[controller.Health]int),
	}
	if err := m.do(ctx, m.control, func(context.Context) {
		for _, t := range m.tasks {
			stats.Tasks[t.Status]++
		}
		for _, c := range m.controllers {
			stats.Controllers[c.Health]++
			if c.Health != controller.HealthDead {
				stats.Load += c.Load
				stats.Capacity += c.Capacity
			}
		}
	}); err != nil {
		return portcoord.Stats{}, fmt.Errorf("collect stats: %w", err)
	}
	return stats, nil
}

func (m *Master) controllerIDs() []string {
	ids := make([]string, 0, len(m.controllers))
	for id := range m.controllers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// pruneTerminal forgets finished tasks older than the retention window.
func (m *Master) pruneTerminal() {
	if m.cfg.ResultRetention <= 0 {
		return
	}
	cutoff := m.now().Add(-m.cfg.ResultRetention)
	for _, t := range m.tasks {
		if t.Status.IsTerminal() && t.FinishedAt != nil && t.FinishedAt.Before(cutoff) {
			m.retire(t)
		}
	}
}

// retiredRun is what survives of a forgotten task: enough to number its
// next run and keep attempts increasing.
type retiredRun struct {
	run     int
	attempt int
}

func (m *Master) retire(t *task.Task) {
	delete(m.tasks, t.ID)
	m.retired[t.ID] = retiredRun{run: t.Run, attempt: t.Attempt}
}
