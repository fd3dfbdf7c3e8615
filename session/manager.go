package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

const (
	defaultExpiryCheckInterval = 30 * time.Second
	defaultAssignedIDPrefix    = "auto-"
	clientIDGenerationAttempts = 10
)

// WillPublisher dispatches a disconnected session's will message — the
// broker itself implements this so the manager can trigger delivery without
// importing the broker package.
type WillPublisher interface {
	PublishWill(ctx context.Context, will *WillMessage, clientID string) error
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Store               Store
	ExpiryCheckInterval time.Duration
	WillPublisher       WillPublisher
	AssignedIDPrefix    string
}

// Manager owns session lifecycle: creation/resumption on CONNECT, takeover
// of a client ID already in use, disconnect bookkeeping (including delayed
// will delivery), and a background sweep that expires and removes sessions
// whose expiry interval has elapsed.
type Manager struct {
	mu    sync.RWMutex
	store Store
	live  map[string]*Session // clientID -> session, for clients currently connected

	expiryTicker *time.Ticker
	stopCh       chan struct{}
	wg           sync.WaitGroup

	willPublisher    WillPublisher
	assignedIDPrefix string
}

// NewManager builds a Manager over config.Store and starts its background
// expiry sweep immediately.
func NewManager(config ManagerConfig) *Manager {
	if config.ExpiryCheckInterval == 0 {
		config.ExpiryCheckInterval = defaultExpiryCheckInterval
	}
	if config.AssignedIDPrefix == "" {
		config.AssignedIDPrefix = defaultAssignedIDPrefix
	}

	m := &Manager{
		store:            config.Store,
		live:             make(map[string]*Session),
		expiryTicker:     time.NewTicker(config.ExpiryCheckInterval),
		stopCh:           make(chan struct{}),
		willPublisher:    config.WillPublisher,
		assignedIDPrefix: config.AssignedIDPrefix,
	}
	m.wg.Add(1)
	go m.sweepLoop()
	return m
}

// CreateSession resumes clientID's stored session (clearing it first if the
// new connection asked for CleanStart) or creates a fresh one if none exists
// or the stored one has expired. The bool result reports whether an
// existing session was resumed — the CONNACK Session Present flag.
func (m *Manager) CreateSession(ctx context.Context, clientID string, cleanStart bool, expiryInterval uint32, protocolVersion byte) (*Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.store.Load(ctx, clientID)
	if err != nil && err != ErrSessionNotFound {
		return nil, false, err
	}

	if existing != nil && !existing.IsExpired() {
		present := !cleanStart
		if cleanStart {
			existing.Clear()
			existing.CleanStart = true
			existing.ExpiryInterval = expiryInterval
		} else if expiryInterval > 0 {
			existing.UpdateExpiryInterval(expiryInterval)
		}
		existing.SetActive()

		m.live[clientID] = existing
		if err := m.store.Save(ctx, existing); err != nil {
			return nil, false, err
		}
		return existing, present, nil
	}

	sess := New(clientID, cleanStart, expiryInterval, protocolVersion)
	sess.SetActive()
	m.live[clientID] = sess

	if err := m.store.Save(ctx, sess); err != nil {
		delete(m.live, clientID)
		return nil, false, err
	}
	return sess, false, nil
}

// GetSession returns clientID's session, preferring the in-memory live copy
// over a store round-trip.
func (m *Manager) GetSession(ctx context.Context, clientID string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.live[clientID]
	m.mu.RUnlock()
	if ok {
		return sess, nil
	}
	return m.store.Load(ctx, clientID)
}

// DisconnectSession marks clientID's session disconnected, dispatches an
// undelayed will immediately (a delayed one is left for the expiry sweep),
// and either deletes the session (CleanStart or zero expiry) or persists it
// for later resumption.
func (m *Manager) DisconnectSession(ctx context.Context, clientID string, sendWill bool) error {
	sess, err := m.GetSession(ctx, clientID)
	if err != nil {
		return err
	}
	sess.SetDisconnected()

	if sendWill && sess.WillMessage != nil {
		if sess.WillDelayInterval == 0 {
			m.dispatchWill(ctx, sess, clientID)
			sess.ClearWillMessage()
		}
	} else {
		sess.ClearWillMessage()
	}

	m.mu.Lock()
	delete(m.live, clientID)
	m.mu.Unlock()

	if sess.GetCleanStart() || sess.GetExpiryInterval() == 0 {
		return m.store.Delete(ctx, clientID)
	}
	return m.store.Save(ctx, sess)
}

// dispatchWill hands sess's will message to the configured WillPublisher,
// swallowing any publish failure — a lost will must not block disconnect.
func (m *Manager) dispatchWill(ctx context.Context, sess *Session, clientID string) {
	if m.willPublisher == nil {
		return
	}
	_ = m.willPublisher.PublishWill(ctx, sess.WillMessage, clientID)
}

// RemoveSession discards clientID's session unconditionally, live copy and
// stored copy both.
func (m *Manager) RemoveSession(ctx context.Context, clientID string) error {
	m.mu.Lock()
	delete(m.live, clientID)
	m.mu.Unlock()
	return m.store.Delete(ctx, clientID)
}

// TakeoverSession clears the will of a session being taken over by a new
// connection sharing its client ID — the departing connection's will must
// not fire just because it was displaced.
func (m *Manager) TakeoverSession(ctx context.Context, clientID string) error {
	sess, err := m.GetSession(ctx, clientID)
	if err != nil {
		if err == ErrSessionNotFound {
			return nil
		}
		return err
	}
	sess.ClearWillMessage()
	return nil
}

// GenerateClientID returns a random, store-unique client ID for a CONNECT
// that omitted one.
func (m *Manager) GenerateClientID(ctx context.Context) (string, error) {
	for i := 0; i < clientIDGenerationAttempts; i++ {
		raw := make([]byte, 16)
		if _, err := rand.Read(raw); err != nil {
			return "", err
		}
		clientID := m.assignedIDPrefix + hex.EncodeToString(raw)

		exists, err := m.store.Exists(ctx, clientID)
		if err != nil {
			return "", err
		}
		if !exists {
			return clientID, nil
		}
	}
	return "", ErrSessionAlreadyExists
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.expiryTicker.C:
			m.sweepExpired()
		case <-m.stopCh:
			return
		}
	}
}

// sweepExpired walks every stored session, removing ones past their expiry
// (firing any still-pending delayed will first) and, for sessions merely
// disconnected, firing a delayed will whose delay has now elapsed.
func (m *Manager) sweepExpired() {
	ctx := context.Background()

	clientIDs, err := m.store.List(ctx)
	if err != nil {
		return
	}

	for _, clientID := range clientIDs {
		sess, err := m.store.Load(ctx, clientID)
		if err != nil {
			continue
		}

		switch {
		case sess.IsExpired():
			if sess.WillMessage != nil && sess.ShouldPublishWill() {
				m.dispatchWill(ctx, sess, clientID)
			}
			sess.SetExpired()
			_ = m.store.Delete(ctx, clientID)

		case sess.GetState() == StateDisconnected && sess.WillMessage != nil && sess.ShouldPublishWill():
			m.dispatchWill(ctx, sess, clientID)
			sess.ClearWillMessage()
			_ = m.store.Save(ctx, sess)
		}
	}
}

// Close stops the expiry sweep and closes the underlying store.
func (m *Manager) Close() error {
	close(m.stopCh)
	m.expiryTicker.Stop()
	m.wg.Wait()
	return m.store.Close()
}

// GetActiveSessionCount returns how many sessions currently have a live
// connection.
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.live)
}

// GetAllActiveSessions lists the client IDs with a live connection.
func (m *Manager) GetAllActiveSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.live))
	for clientID := range m.live {
		ids = append(ids, clientID)
	}
	return ids
}
