package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fentz26/beacon/internal/models"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	// Verify file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("first New failed: %v", err)
	}
	s.Close()

	s, err = New(dbPath)
	if err != nil {
		t.Fatalf("second New failed: %v", err)
	}
	s.Close()
}

func TestAppendAndListCompleted(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	for i, cmd := range []string{"whoami", "hostname", "id"} {
		if err := s.Append(ctx, completedTask(cmd, []string{cmd + "-out"}, i)); err != nil {
			t.Fatalf("Append %q failed: %v", cmd, err)
		}
	}

	tasks, err := s.ListCompleted(ctx, 0)
	if err != nil {
		t.Fatalf("ListCompleted failed: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("Expected 3 tasks, got %d", len(tasks))
	}
	if tasks[0].Command != "id" {
		t.Errorf("Expected newest first, got %s", tasks[0].Command)
	}
	if tasks[0].Result == nil || len(tasks[0].Result.Lines) != 1 || tasks[0].Result.Lines[0] != "id-out" {
		t.Errorf("Unexpected result: %+v", tasks[0].Result)
	}
	if tasks[0].Status != models.TaskStatusCompleted {
		t.Errorf("Expected status completed, got %s", tasks[0].Status)
	}
	if tasks[0].CompletedAt == nil || tasks[0].DispatchedAt == nil {
		t.Error("Expected timestamps to be restored")
	}

	limited, err := s.ListCompleted(ctx, 2)
	if err != nil {
		t.Fatalf("ListCompleted with limit failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected 2 tasks, got %d", len(limited))
	}
}

func TestAppendDuplicateID(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	task := completedTask("whoami", []string{"root"}, 0)
	if err := s.Append(ctx, task); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(ctx, task); err == nil {
		t.Error("Expected error appending the same task twice")
	}
}

func TestCountCompleted(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.Append(ctx, completedTask("ls", []string{"a", "b"}, 0)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	failed := completedTask("nosuchbinary", nil, 1)
	res := models.FailureResult(models.Failure{Kind: models.FailureExec, Message: "executable file not found"})
	failed.Result = &res
	if err := s.Append(ctx, failed); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	total, nFailed, err := s.CountCompleted(ctx)
	if err != nil {
		t.Fatalf("CountCompleted failed: %v", err)
	}
	if total != 2 || nFailed != 1 {
		t.Errorf("Expected 2 total and 1 failed, got %d and %d", total, nFailed)
	}

	tasks, err := s.ListCompleted(ctx, 1)
	if err != nil {
		t.Fatalf("ListCompleted failed: %v", err)
	}
	if tasks[0].Result == nil || !tasks[0].Result.IsFailure() {
		t.Errorf("Expected failure result, got %+v", tasks[0].Result)
	}
}

func TestKilledResultRoundTrip(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	task := completedTask(models.KillCommand, nil, 0)
	res := models.KilledResult()
	task.Result = &res
	if err := s.Append(ctx, task); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	tasks, err := s.ListCompleted(ctx, 0)
	if err != nil {
		t.Fatalf("ListCompleted failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Result == nil || !tasks[0].Result.Killed {
		t.Errorf("Expected killed result, got %+v", tasks)
	}
}

func TestPDR(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	pdr, err := s.WritePDR("task.dispatch", "abc123", "success", "task-1", "some details")
	if err != nil {
		t.Fatalf("WritePDR failed: %v", err)
	}
	if pdr.ID == "" {
		t.Error("PDR ID should not be empty")
	}
	if _, err := s.WritePDR("task.kill", "def456", "success", "", ""); err != nil {
		t.Fatalf("WritePDR failed: %v", err)
	}

	all, err := s.ListPDR("")
	if err != nil {
		t.Fatalf("ListPDR failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 PDR entries, got %d", len(all))
	}
	if all[0].Action != "task.dispatch" {
		t.Errorf("Expected oldest first, got %s", all[0].Action)
	}

	forTask, err := s.ListPDR("task-1")
	if err != nil {
		t.Fatalf("ListPDR with filter failed: %v", err)
	}
	if len(forTask) != 1 || forTask[0].Details != "some details" {
		t.Errorf("Unexpected filtered PDR entries: %+v", forTask)
	}
}

// Helper functions

func newTestStore(t *testing.T) *Store {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	return s
}

func completedTask(cmd string, lines []string, offset int) models.Task {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(offset) * time.Minute)
	dispatched := base.Add(10 * time.Second)
	completed := base.Add(20 * time.Second)
	res := models.LinesResult(lines)
	return models.Task{
		ID:           "task-" + cmd,
		Command:      cmd,
		Result:       &res,
		Requested:    true,
		Status:       models.TaskStatusCompleted,
		CreatedAt:    base,
		DispatchedAt: &dispatched,
		CompletedAt:  &completed,
	}
}
