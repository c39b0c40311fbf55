package memory

import (
	"context"
	"sync"

	offline "cosafe/internal/offline/domain"
)

// CacheStorage keeps partitions in memory, in creation order.
type CacheStorage struct {
	mu         sync.RWMutex
	order      []string
	partitions map[string]map[string]offline.Response
}

// NewCacheStorage constructs an empty storage.
func NewCacheStorage() *CacheStorage {
	return &CacheStorage{partitions: make(map[string]map[string]offline.Response)}
}

// Get returns a copy of the cached response.
func (s *CacheStorage) Get(_ context.Context, partition, key string) (offline.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.partitions[partition]
	if !ok {
		return offline.Response{}, offline.ErrCacheMiss
	}
	resp, ok := entries[key]
	if !ok {
		return offline.Response{}, offline.ErrCacheMiss
	}
	return resp.Clone(), nil
}

// Put stores a response, replacing any previous one.
func (s *CacheStorage) Put(_ context.Context, partition, key string, resp offline.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openLocked(partition)[key] = resp.Clone()
	return nil
}

// Commit stores every entry under one lock.
func (s *CacheStorage) Commit(_ context.Context, partition string, entries map[string]offline.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := s.openLocked(partition)
	for key, resp := range entries {
		target[key] = resp.Clone()
	}
	return nil
}

// Partitions lists partition names.
func (s *CacheStorage) Partitions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

// DeletePartition drops a partition and its entries.
func (s *CacheStorage) DeletePartition(_ context.Context, partition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partitions[partition]; !ok {
		return nil
	}
	delete(s.partitions, partition)
	for i, name := range s.order {
		if name == partition {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *CacheStorage) openLocked(partition string) map[string]offline.Response {
	entries, ok := s.partitions[partition]
	if !ok {
		entries = make(map[string]offline.Response)
		s.partitions[partition] = entries
		s.order = append(s.order, partition)
	}
	return entries
}
