package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Quackstro/opencore-sub001/internal/models"
)

// MemoryStore keeps instances in process memory. It is used in tests and when no
// database is configured; nothing survives a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*models.WorkflowInstanceState
	events    map[string]time.Time
	now       func() time.Time
}

// NewMemoryStore creates an empty, independent in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	cfg := applyOpts(opts)
	return &MemoryStore{
		instances: make(map[string]*models.WorkflowInstanceState),
		events:    make(map[string]time.Time),
		now:       cfg.Clock,
	}
}

func (s *MemoryStore) Create(ctx context.Context, state *models.WorkflowInstanceState) error {
	if err := checkState(state); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[state.UserID] = state.Clone()
	slog.Debug("MemoryStore Create succeeded", "userID", state.UserID, "workflowID", state.WorkflowID)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (*models.WorkflowInstanceState, error) {
	s.mu.RLock()
	state, ok := s.instances[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if state.Expired(s.now()) {
		s.mu.Lock()
		// Only drop the entry we inspected; a concurrent Create may have replaced it.
		if s.instances[userID] == state {
			delete(s.instances, userID)
		}
		s.mu.Unlock()
		slog.Debug("MemoryStore Get discarded expired instance", "userID", userID, "workflowID", state.WorkflowID)
		return nil, nil
	}
	return state.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, state *models.WorkflowInstanceState) error {
	if err := checkState(state); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[state.UserID]; !ok {
		return ErrNotFound
	}
	s.instances[state.UserID] = state.Clone()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	delete(s.instances, userID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, state := range s.instances {
		if state.Expired(now) {
			delete(s.instances, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) RecordEvent(ctx context.Context, eventID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.events[eventID]; seen {
		return false, nil
	}
	s.events[eventID] = s.now()
	return true, nil
}

func (s *MemoryStore) PruneEvents(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, at := range s.events {
		if at.Before(before) {
			delete(s.events, id)
			n++
		}
	}
	return n, nil
}

// Destroy drops all state.
func (s *MemoryStore) Destroy() error {
	s.mu.Lock()
	s.instances = make(map[string]*models.WorkflowInstanceState)
	s.events = make(map[string]time.Time)
	s.mu.Unlock()
	return nil
}
