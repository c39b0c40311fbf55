package memory

import (
	"context"
	"sort"
	"sync"

	syncqueue "cosafe/internal/syncqueue/domain"
)

// Store keeps tasks in memory.
type Store struct {
	mu      sync.Mutex
	seq     uint64
	pending map[string]syncqueue.Task
	dead    map[string]syncqueue.Task
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		pending: make(map[string]syncqueue.Task),
		dead:    make(map[string]syncqueue.Task),
	}
}

func (s *Store) Append(_ context.Context, task syncqueue.Task) (syncqueue.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	task.Seq = s.seq
	s.pending[task.ID] = task
	return task, nil
}

func (s *Store) Pending(_ context.Context) ([]syncqueue.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.pending), nil
}

func (s *Store) Update(_ context.Context, task syncqueue.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[task.ID]; !ok {
		return syncqueue.ErrTaskNotFound
	}
	s.pending[task.ID] = task
	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
	return nil
}

func (s *Store) MoveToDead(_ context.Context, task syncqueue.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, task.ID)
	s.dead[task.ID] = task
	return nil
}

func (s *Store) Dead(_ context.Context) ([]syncqueue.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.dead), nil
}

func (s *Store) Revive(_ context.Context, id string) (syncqueue.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.dead[id]
	if !ok {
		return syncqueue.Task{}, syncqueue.ErrTaskNotFound
	}
	delete(s.dead, id)
	task.Attempts = 0
	task.NextAttemptAt = task.CreatedAt
	s.pending[id] = task
	return task, nil
}

func sorted(tasks map[string]syncqueue.Task) []syncqueue.Task {
	out := make([]syncqueue.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
