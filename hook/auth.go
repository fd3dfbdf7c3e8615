package hook

import (
	"crypto/subtle"
	"sync"
)

// BasicAuthHook authenticates CONNECT packets against an in-memory
// username/password table, comparing passwords in constant time.
type BasicAuthHook struct {
	*Base
	mu        sync.RWMutex
	passwords map[string]string
}

// NewBasicAuthHook returns an empty BasicAuthHook; populate it with AddUser
// or LoadUsers before registering it with a Manager.
func NewBasicAuthHook() *BasicAuthHook {
	return &BasicAuthHook{
		Base:      &Base{id: "basic-auth"},
		passwords: make(map[string]string),
	}
}

func (h *BasicAuthHook) Provides(event Event) bool {
	return event == OnConnectAuthenticate
}

// AddUser registers a single username/password pair.
func (h *BasicAuthHook) AddUser(username, password string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.passwords[username] = password
}

// RemoveUser deletes username, if present.
func (h *BasicAuthHook) RemoveUser(username string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.passwords, username)
}

// HasUser reports whether username is registered.
func (h *BasicAuthHook) HasUser(username string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.passwords[username]
	return ok
}

// UserCount returns the number of registered users.
func (h *BasicAuthHook) UserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.passwords)
}

// Clear removes every registered user.
func (h *BasicAuthHook) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.passwords = make(map[string]string)
}

// LoadUsers merges users into the existing table, overwriting any
// password already registered for a given username.
func (h *BasicAuthHook) LoadUsers(users map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for username, password := range users {
		h.passwords[username] = password
	}
}

func (h *BasicAuthHook) OnConnectAuthenticate(client *Client, packet *ConnectPacket) bool {
	h.mu.RLock()
	want, ok := h.passwords[packet.Username]
	h.mu.RUnlock()

	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), packet.Password) == 1
}

// AnonymousAuthHook gates connections that carry neither a username nor a
// password behind a single allow/deny switch; any CONNECT that does present
// credentials passes through untouched for another hook to judge.
type AnonymousAuthHook struct {
	*Base
	mu      sync.RWMutex
	allowed bool
}

// NewAnonymousAuthHook returns a hook that permits anonymous connections iff
// allowAnonymous is true.
func NewAnonymousAuthHook(allowAnonymous bool) *AnonymousAuthHook {
	return &AnonymousAuthHook{
		Base:    &Base{id: "anonymous-auth"},
		allowed: allowAnonymous,
	}
}

func (h *AnonymousAuthHook) Provides(event Event) bool {
	return event == OnConnectAuthenticate
}

// SetAllowAnonymous changes the allow/deny switch at runtime.
func (h *AnonymousAuthHook) SetAllowAnonymous(allow bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allowed = allow
}

// IsAnonymousAllowed reports the current allow/deny switch.
func (h *AnonymousAuthHook) IsAnonymousAllowed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.allowed
}

func (h *AnonymousAuthHook) OnConnectAuthenticate(client *Client, packet *ConnectPacket) bool {
	if packet.Username != "" || packet.Password != nil {
		return true
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.allowed
}
