// Package persist is the durable key/value surface the session store keeps
// its token in. Only the session store writes through it.
package persist

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
)

// TokenKey is the single key the session token is stored under.
const TokenKey = "token"

type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

// Reader is the read-only view handed to components that only need to
// authenticate their own calls.
type Reader interface {
	Get(key string) (string, bool, error)
}

var ErrUnknownBackend = errors.New("unknown token backend")

// Open returns the store for backend rooted at dir. Backends: file, pebble, memory.
func Open(backend, dir string) (Store, func() error, error) {
	noop := func() error { return nil }
	switch backend {
	case "", "file":
		return NewFileStore(filepath.Join(dir, "session.json")), noop, nil
	case "pebble":
		ps, err := OpenPebble(filepath.Join(dir, "kv"))
		if err != nil {
			return nil, noop, err
		}
		return ps, ps.Close, nil
	case "memory":
		return NewMemoryStore(), noop, nil
	default:
		return nil, noop, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryStore) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
