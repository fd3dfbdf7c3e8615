package connection

import (
	"container/list"
	"sync"
)

// SendAliasMap assigns outgoing topic aliases on behalf of auto_map_topic_alias_send.
// Unlike topic.Alias (which the teacher uses purely as a fixed-size write-once
// table on the receive side), this map evicts the least-recently-used alias
// when full so a connection can keep mapping new topics for its lifetime.
type SendAliasMap struct {
	mu       sync.Mutex
	max      uint16
	byTopic  map[string]*list.Element
	byAlias  map[uint16]*list.Element
	lru      *list.List // front = most recently used
	nextFree uint16
}

type sendAliasEntry struct {
	alias uint16
	topic string
}

// NewSendAliasMap creates a map capped at max aliases. max of 0 disables
// alias assignment entirely (Assign fails and Lookup always misses).
func NewSendAliasMap(max uint16) *SendAliasMap {
	return &SendAliasMap{
		max:     max,
		byTopic: make(map[string]*list.Element),
		byAlias: make(map[uint16]*list.Element),
		lru:     list.New(),
	}
}

// Lookup returns the alias already bound to topic, touching it as
// most-recently-used, or ok=false if unbound.
func (m *SendAliasMap) Lookup(topic string) (alias uint16, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, found := m.byTopic[topic]
	if !found {
		return 0, false
	}
	m.lru.MoveToFront(elem)
	return elem.Value.(*sendAliasEntry).alias, true
}

// Assign binds topic to a free alias, evicting the LRU entry if the map is
// full. Returns ok=false if max is 0. The evicted entry is not reported; the
// caller tells the peer about the new alias-to-topic pairing by sending the
// topic string alongside a freshly assigned alias.
func (m *SendAliasMap) Assign(topic string) (alias uint16, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.max == 0 {
		return 0, false
	}
	if elem, found := m.byTopic[topic]; found {
		m.lru.MoveToFront(elem)
		return elem.Value.(*sendAliasEntry).alias, true
	}

	var a uint16
	if uint16(len(m.byAlias)) < m.max {
		m.nextFree++
		a = m.nextFree
	} else {
		back := m.lru.Back()
		victim := back.Value.(*sendAliasEntry)
		a = victim.alias
		m.lru.Remove(back)
		delete(m.byTopic, victim.topic)
		delete(m.byAlias, a)
	}

	entry := &sendAliasEntry{alias: a, topic: topic}
	elem := m.lru.PushFront(entry)
	m.byTopic[topic] = elem
	m.byAlias[a] = elem
	return a, true
}

// Clear drops all bindings, e.g. on reconnect without session resumption.
func (m *SendAliasMap) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byTopic = make(map[string]*list.Element)
	m.byAlias = make(map[uint16]*list.Element)
	m.lru.Init()
	m.nextFree = 0
}

// RecvAliasMap is the receive-side topic alias table: strictly write-once per
// alias-declare, read on every subsequent alias-only reference. No eviction;
// size is the TopicAliasMaximum this side advertised to the peer.
type RecvAliasMap struct {
	mu      sync.RWMutex
	max     uint16
	aliases map[uint16]string
}

// NewRecvAliasMap creates a map that accepts aliases in (0, max].
func NewRecvAliasMap(max uint16) *RecvAliasMap {
	return &RecvAliasMap{
		max:     max,
		aliases: make(map[uint16]string),
	}
}

// Register binds alias to topic. Returns false if alias is out of range.
func (m *RecvAliasMap) Register(alias uint16, topic string) bool {
	if alias == 0 || alias > m.max {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aliases[alias] = topic
	return true
}

// Resolve returns the topic bound to alias.
func (m *RecvAliasMap) Resolve(alias uint16) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	topic, ok := m.aliases[alias]
	return topic, ok
}

// Clear drops all bindings.
func (m *RecvAliasMap) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aliases = make(map[uint16]string)
}

// Max returns the configured maximum alias value.
func (m *RecvAliasMap) Max() uint16 {
	return m.max
}
