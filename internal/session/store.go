package session

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"
)

// Slot keys persisted per device install
const (
	SlotDeviceToken   = "device_token"
	SlotActiveProfile = "active_profile"
)

// Store is a small device-local key/value store. A missing key is reported
// as ok=false, never as an error.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// PebbleStore keeps session slots in an embedded pebble database
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) the session database in dir
func OpenPebble(dir string) (*PebbleStore, error) {
	if err := os.MkdirAll(filepath.Dir(filepath.Clean(dir)), 0700); err != nil {
		return nil, err
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Get(key string) ([]byte, bool, error) {
	v, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (s *PebbleStore) Put(key string, value []byte) error {
	return s.db.Set([]byte(key), value, pebble.Sync)
}

func (s *PebbleStore) Delete(key string) error {
	return s.db.Delete([]byte(key), pebble.Sync)
}

func (s *PebbleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// MemoryStore is a process-local Store used by tests and the dev shell
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemoryStore) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
