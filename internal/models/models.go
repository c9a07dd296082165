// Package models defines the core domain types for beacon.
package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusDispatched TaskStatus = "dispatched"
	TaskStatusCompleted  TaskStatus = "completed"
)

// rank orders statuses so transitions can be checked for monotonicity.
func (s TaskStatus) rank() int {
	switch s {
	case TaskStatusQueued:
		return 0
	case TaskStatusDispatched:
		return 1
	case TaskStatusCompleted:
		return 2
	default:
		return -1
	}
}

// CanAdvanceTo reports whether a task in status s may move to next.
// Only single-step forward moves are legal.
func (s TaskStatus) CanAdvanceTo(next TaskStatus) bool {
	r := s.rank()
	return r >= 0 && next.rank() == r+1
}

// KillCommand is the command carried by the kill sentinel task.
const KillCommand = "KILL"

// Task represents one operator command and its lifecycle state.
type Task struct {
	ID           string     `json:"id"`
	Command      string     `json:"command"`
	Result       *Result    `json:"result"`
	Requested    bool       `json:"requested"`
	Status       TaskStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// IsKill reports whether the task is the kill sentinel.
func (t *Task) IsKill() bool {
	return t.Command == KillCommand
}

// Clone returns a deep copy of the task safe to hand out of a lock.
func (t *Task) Clone() Task {
	c := *t
	if t.Result != nil {
		r := t.Result.Clone()
		c.Result = &r
	}
	if t.DispatchedAt != nil {
		d := *t.DispatchedAt
		c.DispatchedAt = &d
	}
	if t.CompletedAt != nil {
		d := *t.CompletedAt
		c.CompletedAt = &d
	}
	return c
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	TaskID     string    `json:"task_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
