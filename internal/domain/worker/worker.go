package worker

import "time"

type Status string

const (
	StatusIdle Status = "idle"
	StatusBusy Status = "busy"
)

// Worker is one execution slot in a controller's pool.
type Worker struct {
	Slot      int        `json:"slot"`
	Status    Status     `json:"status"`
	TaskID    string     `json:"task_id,omitempty"`
	Attempt   int        `json:"attempt,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

func New(slot int) Worker {
	return Worker{Slot: slot, Status: StatusIdle}
}

func (w *Worker) Bind(taskID string, attempt int, now time.Time) {
	w.Status = StatusBusy
	w.TaskID = taskID
	w.Attempt = attempt
	w.StartedAt = &now
}

func (w *Worker) Release() {
	w.Status = StatusIdle
	w.TaskID = ""
	w.Attempt = 0
	w.StartedAt = nil
}

func (w *Worker) IsIdle() bool { return w.Status == StatusIdle }
