package connection

import (
	"sync"

	"github.com/embermqtt/ember/encoding"
)

// ResponseTag identifies which inbound packet type retires a StoredPacket.
type ResponseTag byte

const (
	// ResponsePuback retires a QoS1 PUBLISH.
	ResponsePuback ResponseTag = iota
	// ResponsePubrec retires a QoS2 PUBLISH (awaiting PUBREC).
	ResponsePubrec
	// ResponsePubcomp retires a PUBREL (awaiting PUBCOMP).
	ResponsePubcomp
)

// StoredPacket is a PUBLISH (QoS >= 1) or a PUBREL held until its matching
// acknowledgement arrives, so it can be replayed on session resumption.
type StoredPacket struct {
	PacketID    uint16
	Response    ResponseTag
	Topic       string
	Payload     []byte
	QoS         encoding.QoS
	Retain      bool
	DUP         bool
	Properties  map[string]interface{}
	EncodedSize int
}

// OutboundStore holds in-flight QoS1/QoS2 send-side packets in arrival
// order, with a secondary index by response tag so an ack of any kind can
// erase the right id in O(1) without scanning.
type OutboundStore struct {
	mu     sync.Mutex
	order  []uint16
	byID   map[uint16]*StoredPacket
	byResp map[ResponseTag]map[uint16]struct{}
}

// NewOutboundStore creates an empty store.
func NewOutboundStore() *OutboundStore {
	return &OutboundStore{
		byID: make(map[uint16]*StoredPacket),
		byResp: map[ResponseTag]map[uint16]struct{}{
			ResponsePuback:  make(map[uint16]struct{}),
			ResponsePubrec:  make(map[uint16]struct{}),
			ResponsePubcomp: make(map[uint16]struct{}),
		},
	}
}

// Add inserts a packet, replacing any existing entry for the same id.
func (s *OutboundStore) Add(p *StoredPacket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[p.PacketID]; !exists {
		s.order = append(s.order, p.PacketID)
	}
	s.byID[p.PacketID] = p
	for tag, set := range s.byResp {
		if tag == p.Response {
			set[p.PacketID] = struct{}{}
		} else {
			delete(set, p.PacketID)
		}
	}
}

// Erase removes the packet expected to respond via tag with the given id.
// Returns the removed packet, or nil if no such entry exists (e.g. an ack
// for an id that was never stored, or already erased).
func (s *OutboundStore) Erase(tag ResponseTag, id uint16) *StoredPacket {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, expected := s.byResp[tag][id]; !expected {
		return nil
	}
	p, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byID, id)
	delete(s.byResp[tag], id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return p
}

// Get returns the stored packet for id without removing it.
func (s *OutboundStore) Get(id uint16) (*StoredPacket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	return p, ok
}

// Rekey changes the response tag expected for an already-stored packet,
// used when a PUBREC converts a QoS2 PUBLISH into an awaited PUBREL.
func (s *OutboundStore) Rekey(id uint16, tag ResponseTag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return
	}
	p.Response = tag
	for t, set := range s.byResp {
		if t == tag {
			set[id] = struct{}{}
		} else {
			delete(set, id)
		}
	}
}

// ForEach invokes fn for every stored packet in insertion (FIFO replay) order.
// fn must not mutate the store.
func (s *OutboundStore) ForEach(fn func(*StoredPacket)) {
	s.mu.Lock()
	ordered := make([]*StoredPacket, 0, len(s.order))
	for _, id := range s.order {
		ordered = append(ordered, s.byID[id])
	}
	s.mu.Unlock()

	for _, p := range ordered {
		fn(p)
	}
}

// Len returns the number of stored packets.
func (s *OutboundStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Clear empties the store (used on a clean-start CONNECT).
func (s *OutboundStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.byID = make(map[uint16]*StoredPacket)
	for tag := range s.byResp {
		s.byResp[tag] = make(map[uint16]struct{})
	}
}
