package memory

import (
	"context"
	"sync"

	monitoring "cosafe/internal/monitoring/domain"
)

// SnapshotStore keeps the snapshot in memory.
type SnapshotStore struct {
	mu    sync.RWMutex
	blob  []byte
	saves int
}

// NewSnapshotStore constructs an empty store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Load returns the stored blob.
func (s *SnapshotStore) Load(ctx context.Context) ([]byte, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.blob == nil {
		return nil, monitoring.ErrSnapshotNotFound
	}
	return append([]byte(nil), s.blob...), nil
}

// Save replaces the stored blob.
func (s *SnapshotStore) Save(ctx context.Context, blob []byte) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob = append([]byte(nil), blob...)
	s.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (s *SnapshotStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
