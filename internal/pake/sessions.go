package pake

import (
	"sync"
	"time"
)

// PendingTTL and SessionTTL match spec §4.1's lifetimes for pending
// registrations and login sessions respectively.
const (
	PendingTTL = 120 * time.Second
	SessionTTL = 60 * time.Second
)

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemStore is an in-process, TTL-swept key/value table for pending
// registrations and login sessions. It is the default backend; a
// multi-instance deployment should configure the Redis-backed Store
// instead so an in-flight login isn't lost to sticky-session routing.
// The background sweep goroutine mirrors
// internal/ratelimit.AccountLockout's cleanupLoop.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	stopCh  chan struct{}
	done    chan struct{}
}

// NewMemStore creates a store and starts its background sweep, running
// every interval until Stop is called.
func NewMemStore(sweepInterval time.Duration) *MemStore {
	s := &MemStore{
		entries: make(map[string]memEntry),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.sweepLoop(sweepInterval)
	return s
}

func (s *MemStore) sweepLoop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemStore) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}

// Stop halts the background sweep goroutine. Safe to call once.
func (s *MemStore) Stop() {
	close(s.stopCh)
	<-s.done
}

// Put stores value under key with the given TTL.
func (s *MemStore) Put(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{value: value, expiresAt: time.Now().Add(ttl)}
}

// Take atomically reads and deletes the value for key (compare-and-delete
// semantics for single-use login sessions per spec §5's ordering
// guarantee), returning ok=false if absent or expired.
func (s *MemStore) Take(key string) (value []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, found := s.entries[key]
	if !found {
		return nil, false
	}
	delete(s.entries, key)
	if time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}
