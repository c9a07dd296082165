// Package tasks implements the task lifecycle engine: a mutex-guarded state
// machine that moves operator commands from pending to dispatched to
// completed.
package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fentz26/beacon/internal/logging"
	"github.com/fentz26/beacon/internal/models"
	"github.com/google/uuid"
)

// ErrKillPending is returned by AddTask once Kill has been called.
var ErrKillPending = errors.New("kill pending, queue closed")

// Completion describes the outcome of Complete.
type Completion struct {
	// Task is the finished task. Zero when InFlight is false.
	Task models.Task
	// InFlight is false when nothing was dispatched; state is unchanged.
	InFlight bool
	// SinkErr is set when the log sink failed. The transition is committed
	// regardless.
	SinkErr error
}

// Snapshot is a read-only view of the manager for operator display.
type Snapshot struct {
	LastCompleted *models.Task
	Pending       int
	Dispatched    int
	Completed     int
}

// Manager owns the pending, dispatched and completed containers.
//
// Results are correlated to dispatched tasks purely by FIFO order; no task
// identifier travels over the wire. This is only correct while a single agent
// has at most one task in flight.
type Manager struct {
	mu         sync.Mutex
	pending    queue
	dispatched queue
	completed  []*models.Task
	killed     bool

	// sinkMu serializes Complete so sink writes keep completion order. It is
	// always taken before mu and never while mu is held.
	sinkMu sync.Mutex
	sink   LogSink

	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithSink sets the sink every completed task is written through.
func WithSink(sink LogSink) Option {
	return func(m *Manager) { m.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logging.Component(logger, "tasks") }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logger: logging.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddTask appends a new queued task to the tail of pending. The command is
// not validated. After Kill it returns ErrKillPending so the sentinel stays
// the last task the agent sees.
func (m *Manager) AddTask(command string) (models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.killed {
		return models.Task{}, ErrKillPending
	}
	t := m.newTask(command)
	m.pending.push(t)
	return t.Clone(), nil
}

// Dispatch moves the head of pending to dispatched and returns it.
// ok is false when there is no work.
func (m *Manager) Dispatch() (task models.Task, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.pending.pop()
	if !ok {
		return models.Task{}, false
	}

	m.advance(t, models.TaskStatusDispatched)
	now := m.now()
	t.Requested = true
	t.DispatchedAt = &now
	m.dispatched.push(t)
	return t.Clone(), true
}

// Complete attaches result to the oldest dispatched task, moves it to
// completed and writes it through the sink.
//
// Concurrent completions queue on sinkMu, not mu, so polls and operator
// calls proceed while a sink write is in progress.
func (m *Manager) Complete(result models.Result) Completion {
	m.sinkMu.Lock()
	defer m.sinkMu.Unlock()

	m.mu.Lock()
	t, ok := m.dispatched.pop()
	if !ok {
		m.mu.Unlock()
		return Completion{}
	}

	m.advance(t, models.TaskStatusCompleted)
	now := m.now()
	res := result.Clone()
	t.Result = &res
	t.CompletedAt = &now
	m.completed = append(m.completed, t)
	finished := t.Clone()
	m.mu.Unlock()

	c := Completion{Task: finished, InFlight: true}
	if m.sink != nil {
		if err := m.sink.Append(context.Background(), finished); err != nil {
			m.logger.Warn("log sink failed, task kept in memory", "task_id", finished.ID, "error", err)
			c.SinkErr = err
		}
	}
	return c
}

// Kill discards everything pending or in flight and queues the kill sentinel
// as the only pending task. It returns how many tasks were abandoned.
func (m *Manager) Kill() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	abandoned := m.pending.len() + m.dispatched.len()
	m.killed = true
	m.pending = queue{}
	m.dispatched = queue{}
	m.pending.push(m.newTask(models.KillCommand))
	return abandoned
}

// Killed reports whether Kill has been called.
func (m *Manager) Killed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killed
}

// Snapshot returns counts and the most recently completed task.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Pending:    m.pending.len(),
		Dispatched: m.dispatched.len(),
		Completed:  len(m.completed),
	}
	if n := len(m.completed); n > 0 {
		last := m.completed[n-1].Clone()
		s.LastCompleted = &last
	}
	return s
}

// Completed returns a copy of the completed history in completion order.
func (m *Manager) Completed() []models.Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Task, 0, len(m.completed))
	for _, t := range m.completed {
		out = append(out, t.Clone())
	}
	return out
}

func (m *Manager) newTask(command string) *models.Task {
	return &models.Task{
		ID:        uuid.New().String(),
		Command:   command,
		Status:    models.TaskStatusQueued,
		CreatedAt: m.now(),
	}
}

// advance moves t to next. Containers only ever hold tasks in the matching
// status, so an illegal move is a programming error.
func (m *Manager) advance(t *models.Task, next models.TaskStatus) {
	if !t.Status.CanAdvanceTo(next) {
		panic("tasks: illegal transition " + string(t.Status) + " -> " + string(next))
	}
	t.Status = next
}

// queue is a FIFO of tasks.
type queue struct {
	items []*models.Task
}

func (q *queue) push(t *models.Task) {
	q.items = append(q.items, t)
}

func (q *queue) pop() (*models.Task, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	t := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return t, true
}

func (q *queue) len() int {
	return len(q.items)
}
