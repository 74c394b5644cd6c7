package dht

import (
	"sync"
	"time"
)

// storedValue is an entry in the local key/value store, keyed by the
// string content of the DHT key (never by object identity).
type storedValue struct {
	value     []byte
	storedAt  time.Time
	republish time.Time
}

// dataStore is the engine's local STORE/FIND_VALUE backing map. All access
// goes through its mutex; the map itself is never exposed.
type dataStore struct {
	mu      sync.RWMutex
	entries map[string]storedValue
}

func newDataStore() *dataStore {
	return &dataStore{entries: make(map[string]storedValue)}
}

func (s *dataStore) put(key string, value []byte, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = storedValue{value: value, storedAt: now, republish: now}
}

func (s *dataStore) get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return entry.value, true
}

// dueForRepublish returns the keys/values whose age is within expireAfter,
// recording now as their new republish time. Entries older than
// expireAfter are dropped instead.
func (s *dataStore) dueForRepublish(expireAfter time.Duration, now time.Time) map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make(map[string][]byte)
	for key, entry := range s.entries {
		if now.Sub(entry.storedAt) > expireAfter {
			delete(s.entries, key)
			continue
		}
		due[key] = entry.value
		entry.republish = now
		s.entries[key] = entry
	}
	return due
}

func (s *dataStore) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
