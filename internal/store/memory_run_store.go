package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/solarprep/internal/domain"
)

type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]domain.Run
}

var _ RunStore = (*MemoryRunStore)(nil)

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs: make(map[string]domain.Run),
	}
}

func (s *MemoryRunStore) Create(_ context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryRunStore) Get(_ context.Context, id string) (domain.Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryRunStore) UpdateStatus(_ context.Context, id, status string) (domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return domain.Run{}, ErrRunNotFound
	}

	run.Status = status
	run.UpdatedAt = time.Now().UTC()
	s.runs[id] = run
	return run, nil
}

func (s *MemoryRunStore) Finish(_ context.Context, id, status string, summary *domain.Summary, errMsg string) (domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return domain.Run{}, ErrRunNotFound
	}

	run.Status = status
	run.Summary = summary
	run.Error = errMsg
	run.UpdatedAt = time.Now().UTC()
	s.runs[id] = run
	return run, nil
}
