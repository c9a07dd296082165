package controlplane

import (
	"time"

	"github.com/fentz26/beacon/internal/models"
)

// EventKind identifies a console notification.
type EventKind string

const (
	EventQueued           EventKind = "queued"
	EventDispatched       EventKind = "dispatched"
	EventCompleted        EventKind = "completed"
	EventKillScheduled    EventKind = "kill_scheduled"
	EventKillAcknowledged EventKind = "kill_acknowledged"
)

// Event is emitted by the Service after each task transition.
type Event struct {
	Kind EventKind
	Task models.Task
	// Abandoned is the number of discarded tasks for EventKillScheduled.
	Abandoned int
	Time      time.Time
}

// eventBuffer bounds the events channel. Events are dropped, not blocked on,
// when the console falls behind.
const eventBuffer = 64
