package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/trianglegrrl/dhyana/core"
)

// memoryTaskStore mirrors the SQL store's claim semantics closely
// enough for dispatcher tests: pending tasks become running on claim,
// ordered by creation.
type memoryTaskStore struct {
	mu        sync.Mutex
	sequence  int
	tasks     map[string]*core.SyncTask
	claimedAt map[string]time.Time
}

func newMemoryTaskStore() *memoryTaskStore {
	return &memoryTaskStore{
		tasks:     map[string]*core.SyncTask{},
		claimedAt: map[string]time.Time{},
	}
}

func (s *memoryTaskStore) Enqueue(_ context.Context, task core.SyncTask) (core.SyncTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence++
	task.ID = fmt.Sprintf("task-%04d", s.sequence)
	task.Status = core.TaskStatusPending
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	stored := task
	s.tasks[task.ID] = &stored
	return task, nil
}

func (s *memoryTaskStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]core.SyncTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*core.SyncTask
	for _, task := range s.tasks {
		if task.Status == core.TaskStatusPending && !task.NextAttemptAt.After(now) {
			due = append(due, task)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	claimed := make([]core.SyncTask, 0, len(due))
	for _, task := range due {
		task.Status = core.TaskStatusRunning
		s.claimedAt[task.ID] = now
		claimed = append(claimed, *task)
	}
	return claimed, nil
}

func (s *memoryTaskStore) MarkSucceeded(_ context.Context, id string, now time.Time) error {
	return s.transition(id, core.TaskStatusSucceeded, "", now, time.Time{})
}

func (s *memoryTaskStore) MarkRetry(_ context.Context, id string, nextAttemptAt time.Time, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return core.ErrTaskNotFound
	}
	task.Attempts++
	task.Status = core.TaskStatusPending
	task.NextAttemptAt = nextAttemptAt
	task.LastError = reason
	task.UpdatedAt = now
	return nil
}

func (s *memoryTaskStore) MarkDeadLettered(_ context.Context, id string, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return core.ErrTaskNotFound
	}
	if task.Status == core.TaskStatusDeadLettered {
		return fmt.Errorf("task %s already dead-lettered", id)
	}
	task.Attempts++
	task.Status = core.TaskStatusDeadLettered
	task.LastError = reason
	task.UpdatedAt = now
	return nil
}

func (s *memoryTaskStore) Requeue(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return core.ErrTaskNotFound
	}
	task.Status = core.TaskStatusPending
	task.NextAttemptAt = now
	task.UpdatedAt = now
	return nil
}

func (s *memoryTaskStore) ReclaimStale(_ context.Context, olderThan time.Time, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reclaimed := 0
	for id, task := range s.tasks {
		if task.Status != core.TaskStatusRunning {
			continue
		}
		if claimed, ok := s.claimedAt[id]; ok && claimed.Before(olderThan) {
			task.Status = core.TaskStatusPending
			task.NextAttemptAt = now
			task.UpdatedAt = now
			delete(s.claimedAt, id)
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (s *memoryTaskStore) ListDeadLettered(_ context.Context, limit int) ([]core.SyncTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dead []core.SyncTask
	for _, task := range s.tasks {
		if task.Status == core.TaskStatusDeadLettered {
			dead = append(dead, *task)
		}
	}
	sort.Slice(dead, func(i, j int) bool { return dead[i].ID < dead[j].ID })
	if limit > 0 && len(dead) > limit {
		dead = dead[:limit]
	}
	return dead, nil
}

func (s *memoryTaskStore) transition(id string, status core.TaskStatus, reason string, now time.Time, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return core.ErrTaskNotFound
	}
	task.Status = status
	if reason != "" {
		task.LastError = reason
	}
	if !nextAttemptAt.IsZero() {
		task.NextAttemptAt = nextAttemptAt
	}
	task.UpdatedAt = now
	return nil
}

func (s *memoryTaskStore) get(id string) core.SyncTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[id]; ok {
		return *task
	}
	return core.SyncTask{}
}

var _ core.TaskStore = (*memoryTaskStore)(nil)
