package pake

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisStore is a Redis-backed alternative to MemStore for
// pending-registration and login-session state, so a multi-instance
// deployment doesn't lose an in-flight registration or login to sticky
// session routing. Grounded on internal/ratelimit's RedisLimiter
// connection/config conventions.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies reachability.
func NewRedisStore(url, keyPrefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("pake: parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pake: connecting to redis: %w", err)
	}

	if keyPrefix == "" {
		keyPrefix = "pake"
	}
	log.Info().Str("prefix", keyPrefix).Msg("pake: redis-backed session store initialized")
	return &RedisStore{client: client, prefix: keyPrefix}, nil
}

func (s *RedisStore) fullKey(key string) string { return fmt.Sprintf("%s:%s", s.prefix, key) }

// Put stores value under key with the given TTL.
func (s *RedisStore) Put(key string, value []byte, ttl time.Duration) {
	ctx := context.Background()
	if err := s.client.Set(ctx, s.fullKey(key), value, ttl).Err(); err != nil {
		log.Error().Err(err).Str("key", key).Msg("pake: redis store put failed")
	}
}

// takeScript atomically reads and deletes a key, returning its prior
// value (or nil if absent), so concurrent Take calls on the same
// session_id cannot both succeed.
var takeScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v then
	redis.call('DEL', KEYS[1])
end
return v
`)

// Take atomically reads and deletes the value for key.
func (s *RedisStore) Take(key string) (value []byte, ok bool) {
	ctx := context.Background()
	res, err := takeScript.Run(ctx, s.client, []string{s.fullKey(key)}).Result()
	if err != nil {
		if err != redis.Nil {
			log.Error().Err(err).Str("key", key).Msg("pake: redis store take failed")
		}
		return nil, false
	}
	if res == nil {
		return nil, false
	}
	str, isStr := res.(string)
	if !isStr {
		return nil, false
	}
	return []byte(str), true
}

// Stop closes the Redis connection.
func (s *RedisStore) Stop() {
	if err := s.client.Close(); err != nil {
		log.Error().Err(err).Msg("pake: redis store close failed")
	}
}
