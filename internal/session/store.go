package session

import (
	"net/http"
	"sync"
)

// Store is the key-value space a Manager keeps its fields in.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Clear() error
}

// RequestStore is a Store bound to one HTTP request. Save must run before
// the response body is written.
type RequestStore interface {
	Store
	Save(w http.ResponseWriter) error
}

// Provider opens the session store carried by a request.
type Provider interface {
	Open(r *http.Request) (RequestStore, error)
}

// MemoryStore keeps values in a map. It is safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.values)
	return nil
}
