package lobbystore

import (
	"context"
	"sync"
)

// MemoryBackend is an in-process Backend. Fail, when set, is returned by Write.
type MemoryBackend struct {
	mu     sync.Mutex
	data   map[string][]byte
	writes int
	Fail   error
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: map[string][]byte{}}
}

func (m *MemoryBackend) Read(_ context.Context, lobbyID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[lobbyID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *MemoryBackend) Write(_ context.Context, lobbyID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.data[lobbyID] = append([]byte(nil), data...)
	m.writes++
	return nil
}

// Put stores raw bytes as-is, bypassing the write counter.
func (m *MemoryBackend) Put(lobbyID string, data []byte) {
	m.mu.Lock()
	m.data[lobbyID] = append([]byte(nil), data...)
	m.mu.Unlock()
}

// Writes counts successful writes.
func (m *MemoryBackend) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
