// Package memory provides the in-process task registry. Tasks live for the
// lifetime of the service; restarts forget them.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/spider-orchestrator/internal/apperrors"
	"github.com/JakeFAU/spider-orchestrator/internal/tasks"
)

// maxIDAttempts bounds collision re-draws; UUID collisions are practically
// impossible, so hitting the bound means the generator is broken.
const maxIDAttempts = 5

// TaskStore is the mutex-guarded registry of every task launched by this
// process. All lifecycle transitions funnel through it, which is what makes
// completion/stop races safe to resolve.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]tasks.TaskRecord

	clock tasks.Clock
	ids   tasks.IDGenerator
}

// NewTaskStore constructs a TaskStore.
func NewTaskStore(clock tasks.Clock, ids tasks.IDGenerator) *TaskStore {
	return &TaskStore{
		tasks: make(map[string]tasks.TaskRecord),
		clock: clock,
		ids:   ids,
	}
}

// Create registers a new task in pending status and returns its record.
func (s *TaskStore) Create(_ context.Context, spiderName string, kwargs tasks.Kwargs) (tasks.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	for attempt := 0; ; attempt++ {
		candidate, err := s.ids.NewID()
		if err != nil {
			return tasks.TaskRecord{}, fmt.Errorf("generate task id: %w", err)
		}
		if _, exists := s.tasks[candidate]; !exists {
			id = candidate
			break
		}
		if attempt+1 >= maxIDAttempts {
			return tasks.TaskRecord{}, fmt.Errorf("task id collisions persisted after %d attempts", maxIDAttempts)
		}
	}

	record := tasks.TaskRecord{
		TaskID:     id,
		SpiderName: spiderName,
		Kwargs:     kwargs.Clone(),
		Status:     tasks.StatusPending,
		StartTime:  s.clock.Now(),
	}
	s.tasks[id] = record
	return copyRecord(record), nil
}

// MarkRunning transitions a task from pending to running.
func (s *TaskStore) MarkRunning(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.tasks[taskID]
	if !ok {
		return apperrors.NotFound("task", taskID)
	}
	if record.Status != tasks.StatusPending {
		return fmt.Errorf("task %s is %s, expected pending", taskID, record.Status)
	}
	record.Status = tasks.StatusRunning
	s.tasks[taskID] = record
	return nil
}

// Complete records a normal finish. It applies only while the task is
// pending or running; a completion racing a stop loses and is ignored.
func (s *TaskStore) Complete(_ context.Context, taskID string, result string) (bool, error) {
	return s.finish(taskID, tasks.StatusCompleted, result, "")
}

// Fail records an abnormal finish under the same guard as Complete.
func (s *TaskStore) Fail(_ context.Context, taskID string, reason string) (bool, error) {
	return s.finish(taskID, tasks.StatusFailed, "", reason)
}

func (s *TaskStore) finish(taskID string, status tasks.Status, result, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.tasks[taskID]
	if !ok {
		return false, apperrors.NotFound("task", taskID)
	}
	if record.Status != tasks.StatusPending && record.Status != tasks.StatusRunning {
		return false, nil
	}
	record.Status = status
	record.Result = result
	record.FailureReason = reason
	record.EndTime = pointerTime(s.clock.Now())
	s.tasks[taskID] = record
	return true, nil
}

// BeginStop transitions a running task to stopping. It reports false for
// any other state, including a second BeginStop on the same task.
func (s *TaskStore) BeginStop(_ context.Context, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.tasks[taskID]
	if !ok {
		return false, apperrors.NotFound("task", taskID)
	}
	if record.Status != tasks.StatusRunning {
		return false, nil
	}
	record.Status = tasks.StatusStopping
	s.tasks[taskID] = record
	return true, nil
}

// FinalizeStop transitions a stopping task to stopped. Calling it from any
// other state is a no-op, so the graceful path and the timeout fallback
// cannot both apply.
func (s *TaskStore) FinalizeStop(_ context.Context, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.tasks[taskID]
	if !ok {
		return false, apperrors.NotFound("task", taskID)
	}
	if record.Status != tasks.StatusStopping {
		return false, nil
	}
	record.Status = tasks.StatusStopped
	record.EndTime = pointerTime(s.clock.Now())
	s.tasks[taskID] = record
	return true, nil
}

// AddItems adds to the cumulative harvested-record count. The count tracks
// what the result store holds, so it applies in every state.
func (s *TaskStore) AddItems(_ context.Context, taskID string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.tasks[taskID]
	if !ok {
		return apperrors.NotFound("task", taskID)
	}
	record.ItemsCount += count
	s.tasks[taskID] = record
	return nil
}

// Get fetches a task snapshot by ID.
func (s *TaskStore) Get(_ context.Context, taskID string) (tasks.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.tasks[taskID]
	if !ok {
		return tasks.TaskRecord{}, apperrors.NotFound("task", taskID)
	}
	return copyRecord(record), nil
}

// ListAll returns a snapshot of every known task keyed by ID.
func (s *TaskStore) ListAll(_ context.Context) (map[string]tasks.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]tasks.TaskRecord, len(s.tasks))
	for id, record := range s.tasks {
		out[id] = copyRecord(record)
	}
	return out, nil
}

func copyRecord(record tasks.TaskRecord) tasks.TaskRecord {
	record.Kwargs = record.Kwargs.Clone()
	return record
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
