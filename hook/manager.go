package hook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/embermqtt/ember/encoding"
)

// Manager owns the registered hook set and fans lifecycle events out to
// whichever hooks report (via Provides) that they care about a given event.
// Registration takes a mutex; dispatch reads a lock-free snapshot so the hot
// path never blocks behind Add/Remove.
type Manager struct {
	mu     sync.Mutex
	active atomic.Pointer[[]Hook]
	byID   map[string]int
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	m := &Manager{byID: make(map[string]int)}
	hooks := make([]Hook, 0)
	m.active.Store(&hooks)
	return m
}

func (m *Manager) snapshot() []Hook {
	return *m.active.Load()
}

// Add registers hook. Returns ErrEmptyHookID if hook or its ID is empty, or
// ErrHookAlreadyExists if a hook with the same ID is already registered.
func (m *Manager) Add(hook Hook) error {
	if hook == nil || hook.ID() == "" {
		return ErrEmptyHookID
	}
	id := hook.ID()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[id]; exists {
		return ErrHookAlreadyExists
	}

	old := m.snapshot()
	next := make([]Hook, len(old)+1)
	copy(next, old)
	next[len(old)] = hook

	m.byID[id] = len(old)
	m.active.Store(&next)
	return nil
}

// Remove unregisters the hook with the given ID, or returns ErrHookNotFound.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, exists := m.byID[id]
	if !exists {
		return ErrHookNotFound
	}

	old := m.snapshot()
	next := make([]Hook, len(old)-1)
	copy(next[:idx], old[:idx])
	copy(next[idx:], old[idx+1:])

	delete(m.byID, id)
	for i := idx; i < len(next); i++ {
		m.byID[next[i].ID()] = i
	}

	m.active.Store(&next)
	return nil
}

// Get returns the hook registered under id, if any.
func (m *Manager) Get(id string) (Hook, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, exists := m.byID[id]
	if !exists {
		return nil, false
	}
	return m.snapshot()[idx], true
}

// List returns a copy of all registered hooks.
func (m *Manager) List() []Hook {
	hooks := m.snapshot()
	out := make([]Hook, len(hooks))
	copy(out, hooks)
	return out
}

// Count returns the number of registered hooks.
func (m *Manager) Count() int {
	return len(m.snapshot())
}

// Clear stops and removes every registered hook.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range m.snapshot() {
		_ = h.Stop()
	}

	empty := make([]Hook, 0)
	m.active.Store(&empty)
	m.byID = make(map[string]int)
}

// SetOptions invokes SetOptions on every hook that provides it, stopping and
// returning the first error encountered.
func (m *Manager) SetOptions(opts *Options) error {
	for _, h := range m.snapshot() {
		if h.Provides(SetOptions) {
			if err := h.SetOptions(opts); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) OnSysInfoTick(info *SysInfo) {
	for _, h := range m.snapshot() {
		if h.Provides(OnSysInfoTick) {
			_ = h.OnSysInfoTick(info)
		}
	}
}

func (m *Manager) OnStarted() {
	for _, h := range m.snapshot() {
		if h.Provides(OnStarted) {
			_ = h.OnStarted()
		}
	}
}

func (m *Manager) OnStopped(err error) {
	for _, h := range m.snapshot() {
		if h.Provides(OnStopped) {
			_ = h.OnStopped(err)
		}
	}
}

// OnConnectAuthenticate returns false as soon as any providing hook rejects
// the connection.
func (m *Manager) OnConnectAuthenticate(client *Client, packet *ConnectPacket) bool {
	for _, h := range m.snapshot() {
		if h.Provides(OnConnectAuthenticate) && !h.OnConnectAuthenticate(client, packet) {
			return false
		}
	}
	return true
}

// OnACLCheck returns false as soon as any providing hook denies access.
func (m *Manager) OnACLCheck(client *Client, topic string, access AccessType) bool {
	for _, h := range m.snapshot() {
		if h.Provides(OnACLCheck) && !h.OnACLCheck(client, topic, access) {
			return false
		}
	}
	return true
}

func (m *Manager) OnConnect(client *Client, packet *ConnectPacket) error {
	for _, h := range m.snapshot() {
		if h.Provides(OnConnect) {
			if err := h.OnConnect(client, packet); err != nil {
				return err
			}
		}
	}
	return nil
}

// OnSessionEstablish returns the last non-nil SessionState produced by a
// providing hook, letting a later hook override an earlier one.
func (m *Manager) OnSessionEstablish(client *Client, packet *ConnectPacket) *SessionState {
	var state *SessionState
	for _, h := range m.snapshot() {
		if h.Provides(OnSessionEstablish) {
			if s := h.OnSessionEstablish(client, packet); s != nil {
				state = s
			}
		}
	}
	return state
}

func (m *Manager) OnSessionEstablished(client *Client, packet *ConnectPacket) error {
	for _, h := range m.snapshot() {
		if h.Provides(OnSessionEstablished) {
			if err := h.OnSessionEstablished(client, packet); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) OnDisconnect(client *Client, err error, expire bool) {
	for _, h := range m.snapshot() {
		if h.Provides(OnDisconnect) {
			_ = h.OnDisconnect(client, err, expire)
		}
	}
}

func (m *Manager) OnAuthPacket(client *Client, packet *AuthPacket) bool {
	for _, h := range m.snapshot() {
		if h.Provides(OnAuthPacket) && !h.OnAuthPacket(client, packet) {
			return false
		}
	}
	return true
}

// OnPacketRead threads packet through every providing hook in registration
// order, stopping and returning the first error.
func (m *Manager) OnPacketRead(client *Client, packet []byte) ([]byte, error) {
	result := packet
	for _, h := range m.snapshot() {
		if h.Provides(OnPacketRead) {
			var err error
			result, err = h.OnPacketRead(client, result)
			if err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// OnPacketEncode threads packet through every providing hook in registration
// order.
func (m *Manager) OnPacketEncode(client *Client, packet []byte) []byte {
	result := packet
	for _, h := range m.snapshot() {
		if h.Provides(OnPacketEncode) {
			result = h.OnPacketEncode(client, result)
		}
	}
	return result
}

func (m *Manager) OnPacketSent(client *Client, packet []byte, count int, err error) {
	for _, h := range m.snapshot() {
		if h.Provides(OnPacketSent) {
			_ = h.OnPacketSent(client, packet, count, err)
		}
	}
}

func (m *Manager) OnPacketProcessed(client *Client, packetType encoding.PacketType, err error) {
	for _, h := range m.snapshot() {
		if h.Provides(OnPacketProcessed) {
			_ = h.OnPacketProcessed(client, packetType, err)
		}
	}
}

func (m *Manager) OnSubscribe(client *Client, sub *Subscription) error {
	for _, h := range m.snapshot() {
		if h.Provides(OnSubscribe) {
			if err := h.OnSubscribe(client, sub); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) OnSubscribed(client *Client, sub *Subscription) {
	for _, h := range m.snapshot() {
		if h.Provides(OnSubscribed) {
			_ = h.OnSubscribed(client, sub)
		}
	}
}

func (m *Manager) OnSelectSubscribers(subscribers *Subscribers, topic string) {
	for _, h := range m.snapshot() {
		if h.Provides(OnSelectSubscribers) {
			_ = h.OnSelectSubscribers(subscribers, topic)
		}
	}
}

func (m *Manager) OnUnsubscribe(client *Client, topicFilter string) error {
	for _, h := range m.snapshot() {
		if h.Provides(OnUnsubscribe) {
			if err := h.OnUnsubscribe(client, topicFilter); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) OnUnsubscribed(client *Client, topicFilter string) {
	for _, h := range m.snapshot() {
		if h.Provides(OnUnsubscribed) {
			_ = h.OnUnsubscribed(client, topicFilter)
		}
	}
}

func (m *Manager) OnPublish(client *Client, packet *PublishPacket) error {
	for _, h := range m.snapshot() {
		if h.Provides(OnPublish) {
			if err := h.OnPublish(client, packet); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) OnPublished(client *Client, packet *PublishPacket) {
	for _, h := range m.snapshot() {
		if h.Provides(OnPublished) {
			_ = h.OnPublished(client, packet)
		}
	}
}

func (m *Manager) OnPublishDropped(client *Client, packet *PublishPacket, reason DropReason) {
	for _, h := range m.snapshot() {
		if h.Provides(OnPublishDropped) {
			_ = h.OnPublishDropped(client, packet, reason)
		}
	}
}

func (m *Manager) OnRetainMessage(client *Client, packet *PublishPacket) error {
	for _, h := range m.snapshot() {
		if h.Provides(OnRetainMessage) {
			if err := h.OnRetainMessage(client, packet); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) OnRetainPublished(client *Client, packet *PublishPacket) {
	for _, h := range m.snapshot() {
		if h.Provides(OnRetainPublished) {
			_ = h.OnRetainPublished(client, packet)
		}
	}
}

func (m *Manager) OnQosPublish(client *Client, packet *PublishPacket, sent time.Time, resend int) {
	for _, h := range m.snapshot() {
		if h.Provides(OnQosPublish) {
			_ = h.OnQosPublish(client, packet, sent, resend)
		}
	}
}

func (m *Manager) OnQosComplete(client *Client, packetID uint16, packetType encoding.PacketType) {
	for _, h := range m.snapshot() {
		if h.Provides(OnQosComplete) {
			_ = h.OnQosComplete(client, packetID, packetType)
		}
	}
}

func (m *Manager) OnQosDropped(client *Client, packetID uint16, reason DropReason) {
	for _, h := range m.snapshot() {
		if h.Provides(OnQosDropped) {
			_ = h.OnQosDropped(client, packetID, reason)
		}
	}
}

func (m *Manager) OnPacketIDExhausted(client *Client, packetType encoding.PacketType) {
	for _, h := range m.snapshot() {
		if h.Provides(OnPacketIDExhausted) {
			_ = h.OnPacketIDExhausted(client, packetType)
		}
	}
}

// OnWill threads will through every providing hook, letting each rewrite or
// veto (by returning nil, which leaves the prior value untouched) in turn.
func (m *Manager) OnWill(client *Client, will *WillMessage) *WillMessage {
	result := will
	for _, h := range m.snapshot() {
		if h.Provides(OnWill) {
			if w := h.OnWill(client, result); w != nil {
				result = w
			}
		}
	}
	return result
}

func (m *Manager) OnWillSent(client *Client, will *WillMessage) {
	for _, h := range m.snapshot() {
		if h.Provides(OnWillSent) {
			_ = h.OnWillSent(client, will)
		}
	}
}

func (m *Manager) OnClientExpired(clientID string) {
	for _, h := range m.snapshot() {
		if h.Provides(OnClientExpired) {
			_ = h.OnClientExpired(clientID)
		}
	}
}

func (m *Manager) OnRetainedExpired(topic string) {
	for _, h := range m.snapshot() {
		if h.Provides(OnRetainedExpired) {
			_ = h.OnRetainedExpired(topic)
		}
	}
}

// StoredClients returns the result of the first hook that provides it —
// persistence-backend hooks are expected to be mutually exclusive.
func (m *Manager) StoredClients() ([]*Client, error) {
	for _, h := range m.snapshot() {
		if h.Provides(StoredClients) {
			return h.StoredClients()
		}
	}
	return nil, nil
}

func (m *Manager) StoredSubscriptions() ([]*Subscription, error) {
	for _, h := range m.snapshot() {
		if h.Provides(StoredSubscriptions) {
			return h.StoredSubscriptions()
		}
	}
	return nil, nil
}

func (m *Manager) StoredInflightMessages() ([]*InflightMessage, error) {
	for _, h := range m.snapshot() {
		if h.Provides(StoredInflightMessages) {
			return h.StoredInflightMessages()
		}
	}
	return nil, nil
}

func (m *Manager) StoredRetainedMessages() ([]*RetainedMessage, error) {
	for _, h := range m.snapshot() {
		if h.Provides(StoredRetainedMessages) {
			return h.StoredRetainedMessages()
		}
	}
	return nil, nil
}

func (m *Manager) StoredSysInfo() (*SysInfo, error) {
	for _, h := range m.snapshot() {
		if h.Provides(StoredSysInfo) {
			return h.StoredSysInfo()
		}
	}
	return nil, nil
}
