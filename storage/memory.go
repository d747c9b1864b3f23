package storage

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/ruteri/wallet-recovery-vault/interfaces"
)

// MemoryStore is a process-local SecureStore. Contents are lost on exit,
// which makes it suitable for tests and ephemeral deployments only.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
	log  *slog.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(log *slog.Logger) *MemoryStore {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryStore{
		data: make(map[string][]byte),
		log:  log,
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := interfaces.ValidateStoreKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	if !ok {
		return nil, interfaces.ErrKeyNotFound
	}
	return append([]byte(nil), value...), nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	if err := interfaces.ValidateStoreKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = append([]byte(nil), value...)
	s.log.Debug("Stored value in memory", slog.String("key", key), slog.Int("size", len(value)))
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	if err := interfaces.ValidateStoreKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return interfaces.ErrKeyNotFound
	}
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0)
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Available always returns true.
func (s *MemoryStore) Available(ctx context.Context) bool {
	return true
}

// Name returns a unique identifier for this storage backend.
func (s *MemoryStore) Name() string {
	return "memory"
}
