package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StoredResponse is the replayable outcome of a processed request.
type StoredResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body"`
}

// IdempotencyStore persists processed keys in Redis.
type IdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{client: client, ttl: ttl}
}

var (
	// ErrIdempotencyConflict indicates the same key is still being processed.
	ErrIdempotencyConflict = errors.New("idempotent request already in progress")
	errIdempotencyKey      = errors.New("idempotency key required")
)

const pendingMarker = "pending"

func (s *IdempotencyStore) redisKey(module, key string) string {
	// keys are client supplied; hash them to bound the redis key size
	return fmt.Sprintf("idem:%s:%s", module, uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)))
}

// Begin reserves key for module. When the key was already completed the stored
// response is returned; a key still pending yields ErrIdempotencyConflict.
func (s *IdempotencyStore) Begin(ctx context.Context, key, module string) (*StoredResponse, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("idempotency store not initialised")
	}
	if key == "" {
		return nil, errIdempotencyKey
	}
	if module == "" {
		return nil, errors.New("idempotency module required")
	}
	rk := s.redisKey(module, key)
	ok, err := s.client.SetNX(ctx, rk, pendingMarker, s.ttl).Result()
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}
	raw, err := s.client.Get(ctx, rk).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrIdempotencyConflict
		}
		return nil, err
	}
	if raw == pendingMarker {
		return nil, ErrIdempotencyConflict
	}
	var stored StoredResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// Complete stores the response for later replay.
func (s *IdempotencyStore) Complete(ctx context.Context, key, module string, resp StoredResponse) error {
	if s == nil || s.client == nil {
		return nil
	}
	if key == "" {
		return errIdempotencyKey
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.redisKey(module, key), payload, s.ttl).Err()
}

// Delete removes a key, typically used to roll back failed processing.
func (s *IdempotencyStore) Delete(ctx context.Context, key, module string) error {
	if s == nil || s.client == nil {
		return nil
	}
	if key == "" {
		return errIdempotencyKey
	}
	return s.client.Del(ctx, s.redisKey(module, key)).Err()
}
