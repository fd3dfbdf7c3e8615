package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisSessionPrefix = "session:"
	redisSessionIndex  = "sessions:index"
	redisPingTimeout   = 5 * time.Second
)

// RedisStore persists sessions as JSON strings in Redis, tracking client
// IDs in a companion set so List/Count/CountByState avoid a KEYS scan.
type RedisStore struct {
	client *redis.Client
	mu     sync.RWMutex
	closed bool
	ttl    time.Duration
}

// RedisStoreConfig configures a RedisStore.
type RedisStoreConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration // 0 disables expiry
	Options  *redis.Options
}

// NewRedisStore dials Redis and verifies the connection with a PING.
func NewRedisStore(config RedisStoreConfig) (*RedisStore, error) {
	var client *redis.Client
	if config.Options != nil {
		client = redis.NewClient(config.Options)
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:     config.Addr,
			Password: config.Password,
			DB:       config.DB,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, ttl: config.TTL}, nil
}

func redisSessionKey(clientID string) string {
	return redisSessionPrefix + clientID
}

func (r *RedisStore) checkOpen() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrStoreClosed
	}
	return nil
}

func (r *RedisStore) Save(ctx context.Context, sess *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.checkOpen(); err != nil {
		return err
	}

	value, err := json.Marshal(toWire(sess))
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	clientID := sess.GetClientID()
	pipe := r.client.Pipeline()
	pipe.Set(ctx, redisSessionKey(clientID), value, r.ttl)
	pipe.SAdd(ctx, redisSessionIndex, clientID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, clientID string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	raw, err := r.client.Get(ctx, redisSessionKey(clientID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var w wireSession
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return fromWire(&w), nil
}

func (r *RedisStore) Delete(ctx context.Context, clientID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.checkOpen(); err != nil {
		return err
	}

	pipe := r.client.Pipeline()
	pipe.Del(ctx, redisSessionKey(clientID))
	pipe.SRem(ctx, redisSessionIndex, clientID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *RedisStore) Exists(ctx context.Context, clientID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := r.checkOpen(); err != nil {
		return false, err
	}

	n, err := r.client.Exists(ctx, redisSessionKey(clientID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session existence: %w", err)
	}
	return n > 0, nil
}

func (r *RedisStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	members, err := r.client.SMembers(ctx, redisSessionIndex).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return members, nil
}

func (r *RedisStore) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := r.checkOpen(); err != nil {
		return 0, err
	}

	n, err := r.client.SCard(ctx, redisSessionIndex).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

// CountByState loads every session to inspect its state — Redis has no
// secondary index on session state, so this is O(sessions) rather than a
// single SCARD.
func (r *RedisStore) CountByState(ctx context.Context, state State) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := r.checkOpen(); err != nil {
		return 0, err
	}

	clientIDs, err := r.List(ctx)
	if err != nil {
		return 0, err
	}

	var n int64
	for _, clientID := range clientIDs {
		sess, err := r.Load(ctx, clientID)
		if err != nil {
			continue
		}
		if sess.GetState() == state {
			n++
		}
	}
	return n, nil
}

// Flush removes every session from the store; intended for test cleanup.
func (r *RedisStore) Flush(ctx context.Context) error {
	if err := r.checkOpen(); err != nil {
		return err
	}

	clientIDs, err := r.List(ctx)
	if err != nil {
		return err
	}
	if len(clientIDs) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, clientID := range clientIDs {
		pipe.Del(ctx, redisSessionKey(clientID))
	}
	pipe.Del(ctx, redisSessionIndex)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrStoreClosed
	}
	r.closed = true
	return r.client.Close()
}
