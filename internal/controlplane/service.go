// Package controlplane provides the dispatch boundary and the service layer
// for beacon.
package controlplane

import (
	"errors"
	"log/slog"
	"time"

	"github.com/fentz26/beacon/internal/audit"
	"github.com/fentz26/beacon/internal/logging"
	"github.com/fentz26/beacon/internal/metrics"
	"github.com/fentz26/beacon/internal/models"
	"github.com/fentz26/beacon/internal/tasks"
)

// Service provides the control plane business logic. It wraps the task
// manager with auditing, metrics and console events.
type Service struct {
	tasks    *tasks.Manager
	pdr      *audit.PDRWriter
	metrics  *metrics.Metrics
	logger   *slog.Logger
	events   chan Event
	shutdown *ShutdownSignal
}

// NewService creates a new control plane service. pdr, m and logger may be
// nil.
func NewService(manager *tasks.Manager, pdr *audit.PDRWriter, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		tasks:    manager,
		pdr:      pdr,
		metrics:  m,
		logger:   logging.Component(logging.OrNop(logger), "controlplane"),
		events:   make(chan Event, eventBuffer),
		shutdown: NewShutdownSignal(),
	}
}

// Events returns the notification stream for the operator console.
func (s *Service) Events() <-chan Event {
	return s.events
}

// Shutdown returns the signal raised when the agent acknowledges a kill.
func (s *Service) Shutdown() *ShutdownSignal {
	return s.shutdown
}

// KillScheduled reports whether Kill has been called.
func (s *Service) KillScheduled() bool {
	return s.tasks.Killed()
}

// --- Task Operations ---

// Queue adds an operator command to the pending queue.
func (s *Service) Queue(command string) (models.Task, error) {
	task, err := s.tasks.AddTask(command)
	if errors.Is(err, tasks.ErrKillPending) {
		return models.Task{}, ErrShutdownPending
	}
	if err != nil {
		return models.Task{}, err
	}
	s.record(audit.ActionQueue, map[string]string{"command": command}, audit.OutcomeSuccess, task.ID, "")
	s.metrics.IncTransition(audit.ActionQueue)
	s.logger.Info("task queued", "task_id", task.ID, "command", command)
	s.emit(Event{Kind: EventQueued, Task: task})
	s.publishDepth()
	return task, nil
}

// NextTask hands the head of the pending queue to the agent.
func (s *Service) NextTask() (models.Task, bool) {
	task, ok := s.tasks.Dispatch()
	if !ok {
		return models.Task{}, false
	}

	s.record(audit.ActionDispatch, map[string]string{"command": task.Command}, audit.OutcomeSuccess, task.ID, "")
	s.metrics.IncTransition(audit.ActionDispatch)
	s.logger.Info("task dispatched", "task_id", task.ID, "command", task.Command)
	s.emit(Event{Kind: EventDispatched, Task: task})
	s.publishDepth()
	return task, true
}

// SubmitResult completes the oldest in-flight task with result. A KILLED
// result raises the shutdown signal even when nothing was in flight.
func (s *Service) SubmitResult(result models.Result) tasks.Completion {
	c := s.tasks.Complete(result)
	if !c.InFlight {
		s.logger.Warn("result received with nothing in flight", "killed", result.Killed)
		if result.Killed {
			s.acknowledgeKill(models.Task{})
		}
		return c
	}

	outcome := audit.OutcomeSuccess
	switch {
	case c.SinkErr != nil:
		outcome = audit.OutcomeSinkError
		s.metrics.IncSinkFailure()
	case result.IsFailure():
		outcome = audit.OutcomeFailure
	}
	var details string
	if result.Failure != nil {
		details = result.Failure.Message
	}
	s.record(audit.ActionComplete, result, outcome, c.Task.ID, details)
	s.metrics.IncTransition(audit.ActionComplete)
	s.logger.Info("task completed", "task_id", c.Task.ID, "command", c.Task.Command, "outcome", outcome)
	s.emit(Event{Kind: EventCompleted, Task: c.Task})

	if result.Killed {
		s.acknowledgeKill(c.Task)
	}
	s.publishDepth()
	return c
}

func (s *Service) acknowledgeKill(task models.Task) {
	if s.shutdown.Trigger() {
		s.logger.Info("agent acknowledged kill, shutdown pending")
	}
	s.emit(Event{Kind: EventKillAcknowledged, Task: task})
}

// Kill discards all queued and in-flight work and schedules the kill
// sentinel. It returns the number of abandoned tasks.
func (s *Service) Kill() int {
	abandoned := s.tasks.Kill()

	s.record(audit.ActionKill, map[string]int{"abandoned": abandoned}, audit.OutcomeSuccess, "", "")
	s.metrics.IncTransition(audit.ActionKill)
	s.logger.Warn("kill scheduled", "abandoned", abandoned)
	s.emit(Event{Kind: EventKillScheduled, Abandoned: abandoned})
	s.publishDepth()
	return abandoned
}

// Snapshot returns the manager state for display.
func (s *Service) Snapshot() tasks.Snapshot {
	return s.tasks.Snapshot()
}

// Completed returns the completed history in completion order.
func (s *Service) Completed() []models.Task {
	return s.tasks.Completed()
}

func (s *Service) record(action string, inputs interface{}, outcome, taskID, details string) {
	if _, err := s.pdr.Record(action, inputs, outcome, taskID, details); err != nil {
		s.logger.Warn("audit record failed", "action", action, "error", err)
	}
}

func (s *Service) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	select {
	case s.events <- e:
	default:
		s.logger.Debug("console event dropped", "kind", e.Kind)
	}
}

func (s *Service) publishDepth() {
	snap := s.tasks.Snapshot()
	s.metrics.SetQueueDepth(snap.Pending, snap.Dispatched, snap.Completed)
}
