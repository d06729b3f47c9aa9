package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix is the Redis key prefix for session data.
const keyPrefix = "session:"

// userKeyPrefix indexes the session tokens issued to each user, so every
// session of a deactivated account can be torn down at once. The set may
// hold tokens that already expired or rotated; deleting those is a no-op.
const userKeyPrefix = "user_sessions:"

// maxUpdateAttempts bounds the optimistic-lock retries of Update.
const maxUpdateAttempts = 10

var (
	// ErrNotFound is returned for missing, expired or torn-down sessions.
	ErrNotFound = errors.New("session not found")

	// ErrDestroyed is returned when a destroyed handle is written to.
	ErrDestroyed = errors.New("session destroyed")

	// ErrExists is returned by Create when the token is already taken.
	ErrExists = errors.New("session token already in use")

	// ErrContention is returned when Update keeps losing the race for a key.
	ErrContention = errors.New("session updated concurrently")
)

// Store persists session payloads keyed by token. Writes never resurrect a
// session: Create only claims an unused token, and Update only rewrites a
// key that still exists, atomically with respect to concurrent requests.
type Store interface {
	Get(ctx context.Context, token string) (*State, error)
	Create(ctx context.Context, token string, state *State, ttl time.Duration) error

	// Update applies fn to the stored state and writes the result back as
	// one compare-and-set. fn may run more than once under contention.
	// Returns ErrNotFound if the session no longer exists.
	Update(ctx context.Context, token string, ttl time.Duration, fn func(*State) error) (*State, error)

	Delete(ctx context.Context, token string) error

	// DeleteUser removes every session recorded for userID and reports
	// how many index entries it cleared.
	DeleteUser(ctx context.Context, userID int64) (int, error)
}

// redisStore keeps sessions as JSON strings with a TTL.
type redisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a Store backed by the given Redis client.
func NewRedisStore(rdb *redis.Client) Store {
	return &redisStore{rdb: rdb}
}

func (s *redisStore) Get(ctx context.Context, token string) (*State, error) {
	data, err := s.rdb.Get(ctx, keyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session from redis: %w", err)
	}
	return decodeState(data)
}

func (s *redisStore) Create(ctx context.Context, token string, state *State, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	var created *redis.BoolCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		created = pipe.SetNX(ctx, keyPrefix+token, data, ttl)
		indexUser(ctx, pipe, state.UserID, token, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing session in redis: %w", err)
	}
	if !created.Val() {
		return ErrExists
	}
	return nil
}

func (s *redisStore) Update(ctx context.Context, token string, ttl time.Duration, fn func(*State) error) (*State, error) {
	key := keyPrefix + token

	var result *State
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("reading session from redis: %w", err)
		}

		state, err := decodeState(data)
		if err != nil {
			return err
		}
		if err := fn(state); err != nil {
			return err
		}
		out, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("marshaling session: %w", err)
		}

		// EXEC aborts if key changed or vanished since the WATCH.
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, ttl)
			indexUser(ctx, pipe, state.UserID, token, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = state
		return nil
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, ErrContention
}

func (s *redisStore) Delete(ctx context.Context, token string) error {
	if err := s.rdb.Del(ctx, keyPrefix+token).Err(); err != nil {
		return fmt.Errorf("deleting session from redis: %w", err)
	}
	return nil
}

func (s *redisStore) DeleteUser(ctx context.Context, userID int64) (int, error) {
	userKey := userKey(userID)
	tokens, err := s.rdb.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, fmt.Errorf("listing user sessions: %w", err)
	}

	keys := make([]string, 0, len(tokens)+1)
	for _, t := range tokens {
		keys = append(keys, keyPrefix+t)
	}
	keys = append(keys, userKey)

	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("deleting user sessions: %w", err)
	}
	return len(tokens), nil
}

// indexUser queues the per-user index write for authenticated sessions.
func indexUser(ctx context.Context, pipe redis.Pipeliner, userID int64, token string, ttl time.Duration) {
	if userID == 0 {
		return
	}
	key := userKey(userID)
	pipe.SAdd(ctx, key, token)
	pipe.Expire(ctx, key, ttl)
}

func decodeState(data []byte) (*State, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}
	return &state, nil
}

func userKey(userID int64) string {
	return userKeyPrefix + strconv.FormatInt(userID, 10)
}
