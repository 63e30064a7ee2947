package storage

import (
	"context"
	"sync"
)

// MemoryStorage is a goroutine-safe Storage backed by a map. It can emulate
// a quota-bounded medium: when a quota is set, the summed length of all keys
// and values may not exceed it.
type MemoryStorage struct {
	mu      sync.RWMutex
	entries map[string]string
	quota   int
	used    int
}

// MemoryOption configures a MemoryStorage.
type MemoryOption func(*MemoryStorage)

// WithQuota bounds the total size (len(key)+len(value), summed over all
// entries) in bytes. Zero means unbounded.
func WithQuota(bytes int) MemoryOption {
	return func(s *MemoryStorage) { s.quota = bytes }
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage(opts ...MemoryOption) *MemoryStorage {
	s := &MemoryStorage{entries: make(map[string]string)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ensure MemoryStorage implements Storage.
var _ Storage = (*MemoryStorage)(nil)

func (s *MemoryStorage) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStorage) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	used := s.used
	if old, ok := s.entries[key]; ok {
		used -= len(key) + len(old)
	}
	used += len(key) + len(value)
	if s.quota > 0 && used > s.quota {
		return ErrQuotaExceeded
	}

	s.entries[key] = value
	s.used = used
	return nil
}

func (s *MemoryStorage) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[key]; ok {
		s.used -= len(key) + len(old)
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.entries {
		if HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Len returns the number of stored keys.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Used returns the bytes currently counted against the quota.
func (s *MemoryStorage) Used() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}
