package agentreg

import (
	"context"
	"sync"
)

// MemAgentStore is an in-process AgentStore.
type MemAgentStore struct {
	mu          sync.RWMutex
	byID        map[string]*Agent
	byAccountID map[string]string
}

// NewMemAgentStore creates a fresh in-memory agent store.
func NewMemAgentStore() *MemAgentStore {
	return &MemAgentStore{
		byID:        make(map[string]*Agent),
		byAccountID: make(map[string]string),
	}
}

func (s *MemAgentStore) FindByAccountID(ctx context.Context, accountID string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAccountID[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *MemAgentStore) FindByID(ctx context.Context, id string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemAgentStore) Create(ctx context.Context, a *Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.byID[a.ID] = &cp
	s.byAccountID[a.AccountID] = a.ID
	return nil
}

func (s *MemAgentStore) Update(ctx context.Context, a *Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[a.ID]; !ok {
		return ErrNotFound
	}
	cp := *a
	s.byID[a.ID] = &cp
	s.byAccountID[a.AccountID] = a.ID
	return nil
}

// MemTokenStore is an in-process TokenStore.
type MemTokenStore struct {
	mu      sync.Mutex
	byID    map[string]*Token
	byAgent map[string][]string
}

// NewMemTokenStore creates a fresh in-memory token store.
func NewMemTokenStore() *MemTokenStore {
	return &MemTokenStore{
		byID:    make(map[string]*Token),
		byAgent: make(map[string][]string),
	}
}

func (s *MemTokenStore) Create(ctx context.Context, t *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.byID[t.ID] = &cp
	s.byAgent[t.AgentID] = append(s.byAgent[t.AgentID], t.ID)
	return nil
}

func (s *MemTokenStore) FindByID(ctx context.Context, id string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// RevokeAllForAgent revokes every token minted for agentID. Combined with
// Create under the service's sequential call, this gives the rotation its
// atomicity in the in-memory path; the Postgres store does the same inside
// one transaction.
func (s *MemTokenStore) RevokeAllForAgent(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.byAgent[agentID] {
		if t, ok := s.byID[id]; ok {
			t.Revoked = true
		}
	}
	return nil
}
