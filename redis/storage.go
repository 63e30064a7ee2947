// Package redis provides a questflow storage backend on Redis.
package redis

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/questflow/internal/storage"
)

// DefaultPrefix namespaces every key written by Storage.
const DefaultPrefix = "questflow:"

// Storage is a storage.Storage backed by plain Redis string keys:
//
//	<prefix><key> => value
//
// Redis refuses writes with an OOM error once maxmemory is reached under a
// noeviction policy; Set reports that as storage.ErrQuotaExceeded.
type Storage struct {
	client redis.UniversalClient
	prefix string
}

var _ storage.Storage = (*Storage)(nil)

// NewStorage creates a Storage. prefix is optional but recommended when the
// server is shared (e.g. "questflow:").
func NewStorage(client redis.UniversalClient, prefix string) *Storage {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Storage{
		client: client,
		prefix: prefix,
	}
}

func (s *Storage) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", storage.ErrNotFound
		}
		return "", classifyError(err)
	}
	return v, nil
}

func (s *Storage) Set(ctx context.Context, key, value string) error {
	return classifyError(s.client.Set(ctx, s.prefix+key, value, 0).Err())
}

func (s *Storage) Remove(ctx context.Context, key string) error {
	return classifyError(s.client.Del(ctx, s.prefix+key).Err())
}

// Keys walks the keyspace with SCAN, so it does not block the server the way
// KEYS would.
func (s *Storage) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, escapeGlob(s.prefix+prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, classifyError(err)
	}
	return keys, nil
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "OOM "):
		return storage.QuotaError(err)
	case strings.HasPrefix(msg, "LOADING "),
		strings.HasPrefix(msg, "BUSY "),
		strings.HasPrefix(msg, "TRYAGAIN "):
		return storage.Transient(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return storage.Transient(err)
	}
	return err
}
