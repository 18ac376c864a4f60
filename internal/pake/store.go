package pake

import "time"

// Store is the interface both MemStore and RedisStore satisfy, used by
// the registration/login services to persist pending-registration and
// login-session state between round trips.
type Store interface {
	Put(key string, value []byte, ttl time.Duration)
	Take(key string) (value []byte, ok bool)
}

var (
	_ Store = (*MemStore)(nil)
	_ Store = (*RedisStore)(nil)
)
