package session

import "context"

// Store persists Sessions keyed by client ID — the manager's durability
// layer, swappable between in-memory, Pebble, and Redis backends.
type Store interface {
	Save(ctx context.Context, session *Session) error
	Load(ctx context.Context, clientID string) (*Session, error)
	Delete(ctx context.Context, clientID string) error
	Exists(ctx context.Context, clientID string) (bool, error)
	List(ctx context.Context) ([]string, error)
	Close() error
}

// StoreMetrics exposes size information a Store may additionally support.
type StoreMetrics interface {
	Count(ctx context.Context) (int64, error)
	CountByState(ctx context.Context, state State) (int64, error)
}
