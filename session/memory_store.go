package session

import (
	"context"
	"sync"
)

// MemoryStore is a Store backed by a plain map — no persistence across
// restarts, used for tests and single-node brokers that don't need session
// survival.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) guard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed {
		return ErrStoreClosed
	}
	return nil
}

func (m *MemoryStore) Save(ctx context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(ctx); err != nil {
		return err
	}
	m.sessions[sess.GetClientID()] = sess
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, clientID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guard(ctx); err != nil {
		return nil, err
	}
	sess, ok := m.sessions[clientID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (m *MemoryStore) Delete(ctx context.Context, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(ctx); err != nil {
		return err
	}
	delete(m.sessions, clientID)
	return nil
}

func (m *MemoryStore) Exists(ctx context.Context, clientID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guard(ctx); err != nil {
		return false, err
	}
	_, ok := m.sessions[clientID]
	return ok, nil
}

func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guard(ctx); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(m.sessions))
	for clientID := range m.sessions {
		ids = append(ids, clientID)
	}
	return ids, nil
}

func (m *MemoryStore) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guard(ctx); err != nil {
		return 0, err
	}
	return int64(len(m.sessions)), nil
}

func (m *MemoryStore) CountByState(ctx context.Context, state State) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guard(ctx); err != nil {
		return 0, err
	}
	var n int64
	for _, sess := range m.sessions {
		if sess.GetState() == state {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.closed = true
	m.sessions = nil
	return nil
}
