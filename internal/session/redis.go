package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recordKeyPrefix = "session:"
	userKeyPrefix   = "user:"
	userKeySuffix   = ":session"
)

// RedisStore is a Store backed by a shared redis instance. TTL expiry is
// native; expired records simply disappear.
type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisStore creates a session store over the given client. timeout
// bounds each store call so authentication never blocks on a slow redis.
func NewRedisStore(client *redis.Client, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisStore{client: client, timeout: timeout}
}

func recordKey(id string) string {
	return recordKeyPrefix + hashID(id)
}

func userKey(userID string) string {
	return userKeyPrefix + userID + userKeySuffix
}

// Create stores the record and user index in one pipeline, both with the
// session TTL.
func (s *RedisStore) Create(ctx context.Context, id string, rec Record, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling session record: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey(id), data, ttl)
		pipe.Set(ctx, userKey(rec.UserID), hashID(id), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

// Consume removes and returns the record via GETDEL, so two concurrent
// refresh calls with the same id cannot both succeed.
func (s *RedisStore) Consume(ctx context.Context, id string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := s.client.GetDel(ctx, recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("consuming session: %w", err)
	}

	rec := &Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("unmarshaling session record: %w", err)
	}

	// Drop the index only if it still points at this session; a newer
	// login may have repointed it.
	if cur, err := s.client.Get(ctx, userKey(rec.UserID)).Result(); err == nil && cur == hashID(id) {
		_ = s.client.Del(ctx, userKey(rec.UserID)).Err()
	}

	return rec, nil
}

// Delete removes the record for id. The user index is left to expire if it
// no longer resolves.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, recordKey(id)).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteByUser evicts the user's current session through the index.
func (s *RedisStore) DeleteByUser(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	hashed, err := s.client.GetDel(ctx, userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("resolving user session: %w", err)
	}

	if err := s.client.Del(ctx, recordKeyPrefix+hashed).Err(); err != nil {
		return fmt.Errorf("deleting user session: %w", err)
	}
	return nil
}
