package shortlink

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps links in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	links map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{links: make(map[string]string)}
}

func (m *MemoryStore) Resolve(_ context.Context, token string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.links[token]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (m *MemoryStore) Register(_ context.Context, itemID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < maxAttempts; i++ {
		token, err := newToken()
		if err != nil {
			return "", err
		}
		if _, taken := m.links[token]; !taken {
			m.links[token] = itemID
			return token, nil
		}
	}
	return "", fmt.Errorf("no free token after %d attempts", maxAttempts)
}

// Set binds token to itemID, replacing any previous binding.
func (m *MemoryStore) Set(token, itemID string) {
	m.mu.Lock()
	m.links[token] = itemID
	m.mu.Unlock()
}
