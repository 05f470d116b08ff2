package master

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alanyang/task-mesh/internal/domain/controller"
	"github.com/alanyang/task-mesh/internal/domain/event"
	"github.com/alanyang/task-mesh/internal/domain/message"
	"github.com/alanyang/task-mesh/internal/domain/task"
	distsvc "github.com/alanyang/task-mesh/internal/service/distributor"
)

// dispatchPending places queued tasks, oldest first, until the queue is empty
// or no controller can take more work.
func (m *Master) dispatchPending(ctx context.Context) {
	if m.draining {
		return
	}
	for pair := m.pending.Oldest(); pair != nil; {
		next := pair.Next()
		if !m.dispatch(ctx, pair.Value) {
			return
		}
		pair = next
	}
}

// dispatch sends t to the best candidate. A failed send excludes that
// controller and the next-best is tried at once. It returns false when no
// candidate accepted the message.
func (m *Master) dispatch(ctx context.Context, t *task.Task) bool {
	excluded := make(map[string]bool)
	for {
		id, err := m.dist.Select(m.candidates(excluded))
		if err != nil {
			if !errors.Is(err, distsvc.ErrNoControllerAvailable) {
				slog.ErrorContext(ctx, "master: placement failed", "task_id", t.ID, "error", err)
			}
			return false
		}
		c := m.controllers[id]

		msg := message.DispatchFor(*t)
		msg.Attempt = t.Attempt + 1

		sendCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
		err = m.link.Dispatch(sendCtx, id, msg)
		cancel()
		if err != nil {
			slog.WarnContext(ctx, "master: dispatch send failed, trying next controller",
				"task_id", t.ID,
				"controller_id", id,
				"error", err,
			)
			excluded[id] = true
			continue
		}

		now := m.now()
		m.pending.Delete(t.ID)
		m.transition(ctx, t, task.StatusDispatched)
		t.Attempt = msg.Attempt
		t.ControllerID = id
		t.DispatchedAt = &now
		m.assign(c, t)

		m.emit(event.New(event.TypeTaskDispatched, t.ID, id).WithAttempt(t.Attempt))
		return true
	}
}

func (m *Master) candidates(excluded map[string]bool) []controller.Controller {
	out := make([]controller.Controller, 0, len(m.controllers))
	for id, c := range m.controllers {
		if excluded[id] {
			continue
		}
		out = append(out, *c)
	}
	return out
}

// Ack records whether a controller bound a dispatch to a worker.
func (m *Master) Ack(ctx context.Context, a message.Ack) error {
	var err error
	if callErr := m.do(ctx, m.reports, func(ctx context.Context) {
		err = m.ack(ctx, a)
	}); callErr != nil {
		return fmt.Errorf("ack dispatch: %w", callErr)
	}
	return err
}

func (m *Master) ack(ctx context.Context, a message.Ack) error {
	c, ok := m.controllers[a.ControllerID]
	if !ok {
		slog.WarnContext(ctx, "master: ack from unknown controller discarded",
			"controller_id", a.ControllerID, "task_id", a.TaskID)
		return fmt.Errorf("ack from %s: %w", a.ControllerID, ErrUnknownController)
	}
	t := m.owned(a.TaskID, a.ControllerID, a.Attempt)
	if t == nil {
		slog.DebugContext(ctx, "master: stale ack ignored",
			"controller_id", a.ControllerID, "task_id", a.TaskID, "attempt", a.Attempt)
		return nil
	}

	if a.Accepted {
		m.markRunning(ctx, t)
		return nil
	}

	// Capacity rejection: not a task failure. Requeue at the head and keep the
	// controller out of placement until its next heartbeat.
	slog.WarnContext(ctx, "master: controller rejected dispatch",
		"controller_id", c.ID, "task_id", t.ID, "reason", a.Reason)
	c.Saturated = true
	m.unassign(c, t)
	m.transition(ctx, t, task.StatusPending)
	t.LastError = "rejected: " + a.Reason
	m.enqueue(t, true)
	m.emit(event.New(event.TypeTaskRequeued, t.ID, c.ID).WithAttempt(t.Attempt).WithReason(a.Reason))
	return nil
}

// Report applies a controller's status report for the attempt it owns.
func (m *Master) Report(ctx context.Context, r message.StatusReport) error {
	var err error
	if callErr := m.do(ctx, m.reports, func(ctx context.Context) {
		err = m.report(ctx, r)
	}); callErr != nil {
		return fmt.Errorf("status report: %w", callErr)
	}
	return err
}

func (m *Master) report(ctx context.Context, r message.StatusReport) error {
	c, ok := m.controllers[r.ControllerID]
	if !ok {
		slog.WarnContext(ctx, "master: report from unknown controller discarded",
			"controller_id", r.ControllerID, "task_id", r.TaskID)
		return fmt.Errorf("report from %s: %w", r.ControllerID, ErrUnknownController)
	}
	t := m.owned(r.TaskID, r.ControllerID, r.Attempt)
	if t == nil {
		slog.InfoContext(ctx, "master: stale status report ignored",
			"controller_id", r.ControllerID, "task_id", r.TaskID, "attempt", r.Attempt)
		return nil
	}

	m.markRunning(ctx, t)
	m.unassign(c, t)

	if r.Outcome == task.OutcomeSucceeded {
		m.finish(ctx, t, task.Result{
			Outcome:      task.OutcomeSucceeded,
			Payload:      r.Payload,
			ControllerID: c.ID,
		})
		return nil
	}

	kind := r.FailureKind
	if kind == "" {
		kind = task.FailureExecution
	}
	m.retryOrFail(ctx, t, kind, r.Error, false, c.ID)
	return nil
}

// owned returns the task only if controllerID currently owns the given attempt.
func (m *Master) owned(taskID, controllerID string, attempt int) *task.Task {
	t, ok := m.tasks[taskID]
	if !ok || !t.Status.IsActive() || t.ControllerID != controllerID || t.Attempt != attempt {
		return nil
	}
	return t
}

// ownedBy lists a controller's active tasks in submission order.
func (m *Master) ownedBy(controllerID string) []*task.Task {
	set := m.assigned[controllerID]
	out := make([]*task.Task, 0, len(set))
	for _, t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

func (m *Master) markRunning(ctx context.Context, t *task.Task) {
	if t.Status != task.StatusDispatched {
		return
	}
	m.transition(ctx, t, task.StatusRunning)
	m.emit(event.New(event.TypeTaskRunning, t.ID, t.ControllerID).WithAttempt(t.Attempt))
}

// redispatchAll moves tasks lost with a controller back to the queue head,
// preserving their relative order, or fails those out of retries.
func (m *Master) redispatchAll(ctx context.Context, c *controller.Controller, lost []*task.Task, kind task.FailureKind, reason string) {
	for i := len(lost) - 1; i >= 0; i-- {
		t := lost[i]
		m.unassign(c, t)
		m.transition(ctx, t, task.StatusRedispatchPending)
		m.retryOrFail(ctx, t, kind, reason, true, c.ID)
	}
}

// retryOrFail counts one failed attempt against the retry budget.
func (m *Master) retryOrFail(ctx context.Context, t *task.Task, kind task.FailureKind, reason string, front bool, controllerID string) {
	t.LastError = reason
	if !kind.Permanent() {
		t.Retries++
	}
	if kind.Permanent() || t.Retries > m.cfg.MaxRetries {
		slog.WarnContext(ctx, "master: task failed permanently",
			"task_id", t.ID,
			"retries", t.Retries,
			"failure_kind", kind,
			"error", reason,
		)
		m.finish(ctx, t, task.Result{
			Outcome:      task.OutcomeFailed,
			Error:        reason,
			FailureKind:  kind,
			ControllerID: controllerID,
		})
		return
	}

	m.transition(ctx, t, task.StatusPending)
	m.enqueue(t, front)
	slog.InfoContext(ctx, "master: task requeued",
		"task_id", t.ID,
		"retries", t.Retries,
		"failure_kind", kind,
	)
	m.emit(event.New(event.TypeTaskRequeued, t.ID, controllerID).WithAttempt(t.Attempt).WithReason(string(kind)))
}

// finish moves t to its terminal state and forwards exactly one result.
func (m *Master) finish(ctx context.Context, t *task.Task, res task.Result) {
	status := task.StatusSucceeded
	evType := event.TypeTaskSucceeded
	if res.Outcome == task.OutcomeFailed {
		status = task.StatusFailed
		evType = event.TypeTaskFailed
	}
	if !m.transition(ctx, t, status) {
		return
	}

	now := m.now()
	t.FinishedAt = &now
	t.ControllerID = res.ControllerID
	t.LastError = res.Error

	res.TaskID = t.ID
	res.Type = t.Type
	res.Run = t.Run
	res.Attempts = t.Attempt - t.AttemptBase
	res.Retries = t.Retries
	res.FinishedAt = now
	m.results.push(res)

	m.emit(event.New(evType, t.ID, res.ControllerID).WithAttempt(t.Attempt).WithReason(res.Error))
}

func (m *Master) enqueue(t *task.Task, front bool) {
	m.pending.Set(t.ID, t)
	if front {
		_ = m.pending.MoveToFront(t.ID)
	}
}

func (m *Master) assign(c *controller.Controller, t *task.Task) {
	set, ok := m.assigned[c.ID]
	if !ok {
		set = make(map[string]*task.Task)
		m.assigned[c.ID] = set
	}
	set[t.ID] = t
	c.Load = len(set)
}

func (m *Master) unassign(c *controller.Controller, t *task.Task) {
	if set, ok := m.assigned[c.ID]; ok {
		delete(set, t.ID)
		c.Load = len(set)
	}
	t.ControllerID = ""
}

// transition applies a guarded state change. Illegal changes are logged and skipped.
func (m *Master) transition(ctx context.Context, t *task.Task, to task.Status) bool {
	if !t.Status.CanTransitionTo(to) {
		slog.ErrorContext(ctx, "master: illegal task transition skipped",
			"task_id", t.ID, "from", t.Status, "to", to)
		return false
	}
	t.Status = to
	return true
}
