package identity

import (
	"context"
	"strings"
	"sync"
)

// MemStore is an in-process UserStore, used in tests and for local
// development without a database.
type MemStore struct {
	mu   sync.RWMutex
	byID map[string]*User
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{byID: make(map[string]*User)}
}

func (m *MemStore) Create(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.byID[u.ID] = &cp
	return nil
}

func (m *MemStore) Find(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.ToLower(email)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.byID {
		if strings.ToLower(u.Email) == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}
