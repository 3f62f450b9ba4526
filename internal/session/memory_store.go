package session

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// MemoryStore is a Store that keeps the session for the life of the process
// only. It backs ephemeral sessions and tests.
type MemoryStore struct {
	mu    sync.Mutex
	state fn.Option[Persisted]
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: fn.None[Persisted](),
	}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context) (fn.Option[Persisted], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, p Persisted) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = fn.Some(p)

	return nil
}

// Clear implements Store.
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = fn.None[Persisted]()

	return nil
}

// A compile time check to ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
