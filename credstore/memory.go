package credstore

import (
	"context"
	"sync"

	"golang.org/x/oauth2"
)

// MemoryStore keeps credentials for the lifetime of the process.
type MemoryStore struct {
	mu  sync.RWMutex
	rec record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get(_ context.Context) (*oauth2.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.rec.empty() {
		return nil, ErrNotFound
	}
	return m.rec.token(), nil
}

func (m *MemoryStore) Set(_ context.Context, access, refresh string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rec.merge(access, refresh)
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rec = record{}
	return nil
}
