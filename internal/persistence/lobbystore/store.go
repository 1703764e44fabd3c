// Package lobbystore persists one record per lobby behind a write-through cache.
package lobbystore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"musicduel.ai/internal/sim/model"
)

var (
	// ErrNotFound is returned by a Backend that has no record for a lobby.
	ErrNotFound = errors.New("lobby record not found")
	// ErrCorrupt is returned by a Backend whose stored bytes cannot be decoded.
	ErrCorrupt = errors.New("lobby record corrupt")
)

type Backend interface {
	Read(ctx context.Context, lobbyID string) ([]byte, error)
	Write(ctx context.Context, lobbyID string, data []byte) error
}

// NewState builds the default record for a lobby.
type NewState func(lobbyID string) (*model.LobbyState, error)

type Store struct {
	backend  Backend
	newState NewState
	logger   *log.Logger

	mu    sync.RWMutex
	cache map[string]*model.LobbyState
}

func New(backend Backend, newState NewState, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{
		backend:  backend,
		newState: newState,
		logger:   logger,
		cache:    map[string]*model.LobbyState{},
	}
}

// Load returns a private copy of the lobby record. A miss falls through to the backend,
// then to a fresh default record; both fallbacks are persisted before returning.
// Records that fail validation are discarded and replaced by defaults.
func (s *Store) Load(ctx context.Context, lobbyID string) (*model.LobbyState, error) {
	s.mu.RLock()
	cached := s.cache[lobbyID]
	s.mu.RUnlock()
	if cached != nil {
		return cached.Clone(), nil
	}

	raw, err := s.backend.Read(ctx, lobbyID)
	if err == nil {
		var st *model.LobbyState
		if st, err = Decode(raw, lobbyID); err == nil {
			s.put(st)
			return st.Clone(), nil
		}
		err = fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	switch {
	case errors.Is(err, ErrNotFound):
	case errors.Is(err, ErrCorrupt):
		s.logger.Printf("lobby=%s discarding invalid record: %v", lobbyID, err)
	default:
		return nil, fmt.Errorf("read %s: %w", lobbyID, err)
	}

	st, err := s.newState(lobbyID)
	if err != nil {
		return nil, err
	}
	if err := s.Save(ctx, st); err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

// Exists reports whether a record for lobbyID is cached or stored. A stored record
// that fails to decode still counts; Load will replace it.
func (s *Store) Exists(ctx context.Context, lobbyID string) (bool, error) {
	s.mu.RLock()
	_, ok := s.cache[lobbyID]
	s.mu.RUnlock()
	if ok {
		return true, nil
	}
	_, err := s.backend.Read(ctx, lobbyID)
	switch {
	case err == nil, errors.Is(err, ErrCorrupt):
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("read %s: %w", lobbyID, err)
	}
}

// Save writes st durably, then makes a copy of it visible to later loads.
func (s *Store) Save(ctx context.Context, st *model.LobbyState) error {
	raw, err := Encode(st)
	if err != nil {
		return fmt.Errorf("encode %s: %w", st.LobbyID, err)
	}
	if err := s.backend.Write(ctx, st.LobbyID, raw); err != nil {
		return fmt.Errorf("write %s: %w", st.LobbyID, err)
	}
	s.put(st.Clone())
	return nil
}

// Evict drops a cached record so the next load goes to the backend.
func (s *Store) Evict(lobbyID string) {
	s.mu.Lock()
	delete(s.cache, lobbyID)
	s.mu.Unlock()
}

func (s *Store) put(st *model.LobbyState) {
	s.mu.Lock()
	s.cache[st.LobbyID] = st
	s.mu.Unlock()
}
