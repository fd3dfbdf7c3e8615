package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

var pebbleSessionPrefix = []byte("session:")

// PebbleStore persists sessions as JSON in an embedded Pebble database.
type PebbleStore struct {
	db     *pebble.DB
	mu     sync.RWMutex
	closed bool
}

// PebbleStoreConfig configures a PebbleStore.
type PebbleStoreConfig struct {
	Path string
	Opts *pebble.Options
}

// wireSession is the JSON-serializable projection of a Session: its
// unexported fields (the lock, the packet-ID counter) are surfaced under
// their own names, and the ack-pending sets become bool maps since Go's
// encoding/json can't marshal map[uint16]struct{} directly.
type wireSession struct {
	ClientID          string                     `json:"client_id"`
	CleanStart        bool                       `json:"clean_start"`
	State             State                      `json:"state"`
	ExpiryInterval    uint32                     `json:"expiry_interval"`
	CreatedAt         time.Time                  `json:"created_at"`
	LastAccessedAt    time.Time                  `json:"last_accessed_at"`
	DisconnectedAt    time.Time                  `json:"disconnected_at"`
	WillMessage       *WillMessage               `json:"will_message,omitempty"`
	WillDelayInterval uint32                     `json:"will_delay_interval"`
	Subscriptions     map[string]*Subscription   `json:"subscriptions"`
	PendingPublish    map[uint16]*PendingMessage `json:"pending_publish"`
	PendingPubrel     map[uint16]bool            `json:"pending_pubrel"`
	PendingPubcomp    map[uint16]bool            `json:"pending_pubcomp"`
	NextPacketID      uint16                     `json:"next_packet_id"`
	MaxPacketSize     uint32                     `json:"max_packet_size"`
	ReceiveMaximum    uint16                     `json:"receive_maximum"`
	ProtocolVersion   byte                       `json:"protocol_version"`
}

// NewPebbleStore opens (or creates) the Pebble database at config.Path.
func NewPebbleStore(config PebbleStoreConfig) (*PebbleStore, error) {
	opts := config.Opts
	if opts == nil {
		opts = &pebble.Options{ErrorIfExists: false}
	}
	db, err := pebble.Open(config.Path, opts)
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func markerSetToBools(set map[uint16]struct{}) map[uint16]bool {
	out := make(map[uint16]bool, len(set))
	for id := range set {
		out[id] = true
	}
	return out
}

func boolsToMarkerSet(bools map[uint16]bool) map[uint16]struct{} {
	out := make(map[uint16]struct{}, len(bools))
	for id := range bools {
		out[id] = struct{}{}
	}
	return out
}

func toWire(s *Session) *wireSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &wireSession{
		ClientID:          s.ClientID,
		CleanStart:        s.CleanStart,
		State:             s.State,
		ExpiryInterval:    s.ExpiryInterval,
		CreatedAt:         s.CreatedAt,
		LastAccessedAt:    s.LastAccessedAt,
		DisconnectedAt:    s.DisconnectedAt,
		WillMessage:       s.WillMessage,
		WillDelayInterval: s.WillDelayInterval,
		Subscriptions:     s.Subscriptions,
		PendingPublish:    s.PendingPublish,
		PendingPubrel:     markerSetToBools(s.PendingPubrel),
		PendingPubcomp:    markerSetToBools(s.PendingPubcomp),
		NextPacketID:      s.nextPacketID,
		MaxPacketSize:     s.MaxPacketSize,
		ReceiveMaximum:    s.ReceiveMaximum,
		ProtocolVersion:   s.ProtocolVersion,
	}
}

func fromWire(w *wireSession) *Session {
	s := &Session{
		ClientID:          w.ClientID,
		CleanStart:        w.CleanStart,
		State:             w.State,
		ExpiryInterval:    w.ExpiryInterval,
		CreatedAt:         w.CreatedAt,
		LastAccessedAt:    w.LastAccessedAt,
		DisconnectedAt:    w.DisconnectedAt,
		WillMessage:       w.WillMessage,
		WillDelayInterval: w.WillDelayInterval,
		Subscriptions:     w.Subscriptions,
		PendingPublish:    w.PendingPublish,
		PendingPubrel:     boolsToMarkerSet(w.PendingPubrel),
		PendingPubcomp:    boolsToMarkerSet(w.PendingPubcomp),
		nextPacketID:      w.NextPacketID,
		MaxPacketSize:     w.MaxPacketSize,
		ReceiveMaximum:    w.ReceiveMaximum,
		ProtocolVersion:   w.ProtocolVersion,
	}
	if s.Subscriptions == nil {
		s.Subscriptions = make(map[string]*Subscription)
	}
	if s.PendingPublish == nil {
		s.PendingPublish = make(map[uint16]*PendingMessage)
	}
	return s
}

func pebbleSessionKey(clientID string) []byte {
	key := make([]byte, len(pebbleSessionPrefix)+len(clientID))
	copy(key, pebbleSessionPrefix)
	copy(key[len(pebbleSessionPrefix):], clientID)
	return key
}

func (p *PebbleStore) checkOpen() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrStoreClosed
	}
	return nil
}

func (p *PebbleStore) Save(ctx context.Context, sess *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.checkOpen(); err != nil {
		return err
	}

	value, err := json.Marshal(toWire(sess))
	if err != nil {
		return err
	}
	return p.db.Set(pebbleSessionKey(sess.GetClientID()), value, pebble.Sync)
}

func (p *PebbleStore) Load(ctx context.Context, clientID string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	value, closer, err := p.db.Get(pebbleSessionKey(clientID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	defer closer.Close()

	var w wireSession
	if err := json.Unmarshal(value, &w); err != nil {
		return nil, err
	}
	return fromWire(&w), nil
}

func (p *PebbleStore) Delete(ctx context.Context, clientID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.checkOpen(); err != nil {
		return err
	}
	return p.db.Delete(pebbleSessionKey(clientID), pebble.Sync)
}

func (p *PebbleStore) Exists(ctx context.Context, clientID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := p.checkOpen(); err != nil {
		return false, err
	}

	_, closer, err := p.db.Get(pebbleSessionKey(clientID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

func (p *PebbleStore) scanRange() (*pebble.Iterator, error) {
	return p.db.NewIter(&pebble.IterOptions{
		LowerBound: pebbleSessionPrefix,
		UpperBound: append(append([]byte{}, pebbleSessionPrefix...), 0xff),
	})
}

func (p *PebbleStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	iter, err := p.scanRange()
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var ids []string
	for iter.First(); iter.Valid(); iter.Next() {
		ids = append(ids, string(iter.Key()[len(pebbleSessionPrefix):]))
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (p *PebbleStore) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := p.checkOpen(); err != nil {
		return 0, err
	}

	iter, err := p.scanRange()
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	var n int64
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	return n, nil
}

func (p *PebbleStore) CountByState(ctx context.Context, state State) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := p.checkOpen(); err != nil {
		return 0, err
	}

	iter, err := p.scanRange()
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	var n int64
	for iter.First(); iter.Valid(); iter.Next() {
		var w wireSession
		if err := json.Unmarshal(iter.Value(), &w); err != nil {
			continue
		}
		if w.State == state {
			n++
		}
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	return n, nil
}

func (p *PebbleStore) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrStoreClosed
	}
	p.closed = true
	return p.db.Close()
}
