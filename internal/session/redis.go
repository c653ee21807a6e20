package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis. Each state is a JSON value whose TTL is the idle timeout, so
// Redis tears idle sessions down on its own.
type RedisStore struct {
	rdb  *redis.Client
	idle time.Duration
}

// NewRedisStore creates a RedisStore on rdb. A zero idle keeps sessions forever.
func NewRedisStore(rdb *redis.Client, idle time.Duration) *RedisStore {
	return &RedisStore{
		rdb:  rdb,
		idle: idle,
	}
}

// Load implements Store.
func (r *RedisStore) Load(ctx context.Context, id string) (*State, error) {
	raw, err := r.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	if st.Titles == nil {
		st.Titles = map[string]string{}
	}
	return &st, nil
}

// Save implements Store.
func (r *RedisStore) Save(ctx context.Context, state *State) error {
	v, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", state.ID, err)
	}
	if err := r.rdb.Set(ctx, sessionKey(state.ID), v, r.idle).Err(); err != nil {
		return fmt.Errorf("failed to save session %s: %w", state.ID, err)
	}
	return nil
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.rdb.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

func sessionKey(id string) string {
	return fmt.Sprintf("session_%s", id)
}
