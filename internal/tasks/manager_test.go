package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/beacon/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchFIFO(t *testing.T) {
	m := NewManager()
	for i := 0; i < 20; i++ {
		m.AddTask(fmt.Sprintf("cmd-%d", i))
	}

	for i := 0; i < 20; i++ {
		task, ok := m.Dispatch()
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("cmd-%d", i), task.Command)
		assert.Equal(t, models.TaskStatusDispatched, task.Status)
		assert.True(t, task.Requested)
		assert.NotNil(t, task.DispatchedAt)
	}

	_, ok := m.Dispatch()
	assert.False(t, ok)
}

func TestDispatchEmptyIsNoWork(t *testing.T) {
	m := NewManager()
	for i := 0; i < 3; i++ {
		task, ok := m.Dispatch()
		assert.False(t, ok)
		assert.Equal(t, models.Task{}, task)
	}
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestCompleteNothingInFlight(t *testing.T) {
	m := NewManager()
	m.AddTask("queued only")

	c := m.Complete(models.LinesResult([]string{"x"}))
	assert.False(t, c.InFlight)
	assert.NoError(t, c.SinkErr)

	s := m.Snapshot()
	assert.Equal(t, 1, s.Pending)
	assert.Equal(t, 0, s.Dispatched)
	assert.Equal(t, 0, s.Completed)
	assert.Nil(t, s.LastCompleted)
}

func TestCompleteMovesHeadOfDispatched(t *testing.T) {
	var written []models.Task
	m := NewManager(WithSink(SinkFunc(func(_ context.Context, task models.Task) error {
		written = append(written, task)
		return nil
	})))

	m.AddTask("first")
	m.AddTask("second")
	m.Dispatch()
	m.Dispatch()

	c := m.Complete(models.LinesResult([]string{"one"}))
	require.True(t, c.InFlight)
	assert.Equal(t, "first", c.Task.Command)
	assert.Equal(t, models.TaskStatusCompleted, c.Task.Status)
	require.NotNil(t, c.Task.Result)
	assert.Equal(t, []string{"one"}, c.Task.Result.Lines)

	s := m.Snapshot()
	assert.Equal(t, 0, s.Pending)
	assert.Equal(t, 1, s.Dispatched)
	assert.Equal(t, 1, s.Completed)
	require.NotNil(t, s.LastCompleted)
	assert.Equal(t, "first", s.LastCompleted.Command)

	require.Len(t, written, 1)
	assert.Equal(t, c.Task.ID, written[0].ID)
}

func TestKillLeavesOnlySentinel(t *testing.T) {
	m := NewManager()
	m.AddTask("a")
	m.AddTask("b")
	m.AddTask("c")
	m.Dispatch()
	m.AddTask("d")
	m.Complete(models.LinesResult(nil)) // completes "a"
	m.Dispatch()                        // "b" in flight

	abandoned := m.Kill()
	assert.Equal(t, 3, abandoned) // b in flight, c and d queued

	s := m.Snapshot()
	assert.Equal(t, 1, s.Pending)
	assert.Equal(t, 0, s.Dispatched)
	assert.Equal(t, 1, s.Completed, "completed history survives kill")

	task, ok := m.Dispatch()
	require.True(t, ok)
	assert.True(t, task.IsKill())

	_, ok = m.Dispatch()
	assert.False(t, ok)

	c := m.Complete(models.KilledResult())
	require.True(t, c.InFlight)
	assert.True(t, c.Task.IsKill())
	assert.True(t, c.Task.Result.Killed)
}

func TestKillTwiceStillOneSentinel(t *testing.T) {
	m := NewManager()
	m.Kill()
	m.Kill()
	assert.Equal(t, 1, m.Snapshot().Pending)
}

func TestSinkFailureKeepsState(t *testing.T) {
	sinkErr := errors.New("disk full")
	m := NewManager(WithSink(SinkFunc(func(context.Context, models.Task) error {
		return sinkErr
	})))

	m.AddTask("echo hi")
	m.Dispatch()
	c := m.Complete(models.LinesResult([]string{"hi"}))

	require.True(t, c.InFlight)
	assert.ErrorIs(t, c.SinkErr, sinkErr)

	done := m.Completed()
	require.Len(t, done, 1)
	assert.Equal(t, "echo hi", done[0].Command)
	assert.Equal(t, []string{"hi"}, done[0].Result.Lines)
}

func TestMultiSinkContinuesPastFailure(t *testing.T) {
	var calls int
	ok := SinkFunc(func(context.Context, models.Task) error { calls++; return nil })
	bad := SinkFunc(func(context.Context, models.Task) error { return errors.New("boom") })

	err := MultiSink{bad, nil, ok}.Append(context.Background(), models.Task{})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, calls)
}

func TestConcurrentDispatchNeverDuplicates(t *testing.T) {
	m := NewManager()
	const n = 500
	for i := 0; i < n; i++ {
		m.AddTask(fmt.Sprintf("cmd-%d", i))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, ok := m.Dispatch()
				if !ok {
					return
				}
				mu.Lock()
				seen[task.ID]++
				mu.Unlock()
				m.Complete(models.LinesResult(nil))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, "task %s dispatched more than once", id)
	}
	s := m.Snapshot()
	assert.Equal(t, n, s.Completed)
	assert.Equal(t, 0, s.Pending+s.Dispatched)
}

func TestSinkWritesKeepCompletionOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	m := NewManager(WithSink(SinkFunc(func(_ context.Context, task models.Task) error {
		mu.Lock()
		order = append(order, task.ID)
		mu.Unlock()
		return nil
	})))

	for i := 0; i < 100; i++ {
		m.AddTask("x")
		m.Dispatch()
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Complete(models.LinesResult(nil))
		}()
	}
	wg.Wait()

	completed := m.Completed()
	require.Len(t, order, len(completed))
	for i, task := range completed {
		assert.Equal(t, task.ID, order[i])
	}
}

func TestReturnedTasksAreCopies(t *testing.T) {
	m := NewManager()
	m.AddTask("echo hi")
	m.Dispatch()
	c := m.Complete(models.LinesResult([]string{"hi"}))

	c.Task.Result.Lines[0] = "tampered"
	assert.Equal(t, "hi", m.Snapshot().LastCompleted.Result.Lines[0])
}

func TestAddTaskAfterKillIsRefused(t *testing.T) {
	m := NewManager()
	_, err := m.AddTask("before")
	require.NoError(t, err)

	m.Kill()
	assert.True(t, m.Killed())

	_, err = m.AddTask("after")
	assert.ErrorIs(t, err, ErrKillPending)

	task, ok := m.Dispatch()
	require.True(t, ok)
	assert.True(t, task.IsKill())
	assert.Equal(t, 0, m.Snapshot().Pending)
}

func TestSlowSinkDoesNotBlockDispatch(t *testing.T) {
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	m := NewManager(WithSink(SinkFunc(func(context.Context, models.Task) error {
		entered <- struct{}{}
		<-release
		return nil
	})))

	for _, c := range []string{"a", "b", "c"} {
		m.AddTask(c)
	}
	m.Dispatch()
	m.Dispatch()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.Complete(models.LinesResult(nil))
	}()
	<-entered
	go func() {
		defer wg.Done()
		m.Complete(models.LinesResult(nil))
	}()
	// Give the second completion time to queue behind the first sink write.
	time.Sleep(50 * time.Millisecond)

	done := make(chan models.Task, 1)
	go func() {
		task, _ := m.Dispatch()
		m.Snapshot()
		done <- task
	}()

	select {
	case task := <-done:
		assert.Equal(t, "c", task.Command)
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch blocked behind a sink write")
	}

	close(release)
	wg.Wait()
	assert.Equal(t, 2, m.Snapshot().Completed)
}

func TestClockStampsTransitions(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(WithClock(func() time.Time { return fixed }))

	m.AddTask("whoami")
	m.Dispatch()
	c := m.Complete(models.LinesResult([]string{"root"}))

	require.True(t, c.InFlight)
	assert.Equal(t, fixed, c.Task.CreatedAt)
	require.NotNil(t, c.Task.DispatchedAt)
	assert.Equal(t, fixed, *c.Task.DispatchedAt)
	require.NotNil(t, c.Task.CompletedAt)
	assert.Equal(t, fixed, *c.Task.CompletedAt)
}
