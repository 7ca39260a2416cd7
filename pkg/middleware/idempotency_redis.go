package middleware

import (
	"bytes"
	"context"
	"errors"
	"time"

	"agriconnect/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const idempotencyKeyPrefix = "idempotency:"

var inFlightMarker = []byte("in-progress")

// releaseScript deletes the key only while it still holds the marker, so a
// late release never drops a stored response or another request's claim.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisIdempotencyStore shares cached responses between replicas. Expiry is
// delegated to Redis key TTLs.
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, ttl: ttl, log: log}
}

// Reserve claims key with an in-progress marker. When the key is already
// taken it returns the stored response, or reports the claim as lost while
// the marker is still in place. Redis errors fail open.
func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string) (*CachedResponse, bool) {
	acquired, err := s.client.SetNX(ctx, idempotencyKeyPrefix+key, inFlightMarker, reservationTTL).Result()
	if err != nil {
		s.log.Warn("Idempotency reservation failed", "error", err)
		return nil, true
	}
	if acquired {
		return nil, true
	}

	raw, err := s.client.Get(ctx, idempotencyKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("Idempotency lookup failed", "error", err)
			return nil, true
		}
		// Released between SetNX and Get; the caller may retry.
		return nil, false
	}
	if bytes.Equal(raw, inFlightMarker) {
		return nil, false
	}

	var cached CachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		s.log.Warn("Discarding corrupt idempotency entry", "error", err)
		s.client.Del(ctx, idempotencyKeyPrefix+key)
		return nil, false
	}
	return &cached, false
}

// Set replaces the in-progress marker with the response.
func (s *RedisIdempotencyStore) Set(ctx context.Context, key string, response *CachedResponse) {
	response.CreatedAt = time.Now()
	raw, err := json.Marshal(response)
	if err != nil {
		s.log.Warn("Failed to encode idempotency entry", "error", err)
		s.Release(ctx, key)
		return
	}

	if err := s.client.Set(ctx, idempotencyKeyPrefix+key, raw, s.ttl).Err(); err != nil {
		s.log.Warn("Failed to store idempotency entry", "error", err)
	}
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) {
	if err := releaseScript.Run(ctx, s.client, []string{idempotencyKeyPrefix + key}, inFlightMarker).Err(); err != nil {
		s.log.Warn("Failed to release idempotency key", "error", err)
	}
}

func (s *RedisIdempotencyStore) Stop() {}
