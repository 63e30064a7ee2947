package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/questflow/internal/storage"
	"github.com/petrijr/questflow/internal/storage/storagetest"
	"github.com/petrijr/questflow/internal/testutil"
)

type RedisStorageTestSuite struct {
	suite.Suite
	client *redis.Client
	seq    atomic.Int64
}

func TestRedisStorageTestSuite(t *testing.T) {
	ts := new(RedisStorageTestSuite)
	addr := testutil.GetRedisAddress(t)

	ts.client = redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = ts.client.Close() })
	require.NoError(t, ts.client.Ping(context.Background()).Err())

	suite.Run(t, ts)
}

// newStorage returns a Storage in a namespace no other test uses.
func (r *RedisStorageTestSuite) newStorage() *Storage {
	return NewStorage(r.client, fmt.Sprintf("questflow:test:%d:", r.seq.Add(1)))
}

func (r *RedisStorageTestSuite) TestContract() {
	storagetest.Run(r.T(), func(t *testing.T) storage.Storage {
		return r.newStorage()
	})
}

func (r *RedisStorageTestSuite) TestKeysStayInsideNamespace() {
	ctx := context.Background()
	a := r.newStorage()
	b := r.newStorage()

	r.Require().NoError(a.Set(ctx, "health-session-u1", "1"))
	r.Require().NoError(b.Set(ctx, "health-session-u2", "2"))

	keys, err := a.Keys(ctx, "health-session-")
	r.Require().NoError(err)
	r.Equal([]string{"health-session-u1"}, keys)
}

func (r *RedisStorageTestSuite) TestGlobCharactersInPrefix() {
	ctx := context.Background()
	s := r.newStorage()

	r.Require().NoError(s.Set(ctx, "a*b", "1"))
	r.Require().NoError(s.Set(ctx, "axb", "2"))

	keys, err := s.Keys(ctx, "a*")
	r.Require().NoError(err)
	sort.Strings(keys)
	r.Equal([]string{"a*b"}, keys)
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	require.NoError(t, classifyError(nil))
	require.True(t, storage.IsQuotaExceeded(classifyError(errors.New("OOM command not allowed when used memory > 'maxmemory'."))))
	require.True(t, storage.IsTransient(classifyError(errors.New("LOADING Redis is loading the dataset in memory"))))

	other := errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	require.Same(t, other, classifyError(other))
}

func TestEscapeGlob(t *testing.T) {
	t.Parallel()
	require.Equal(t, `p:a\*b\?\[c\]`, escapeGlob("p:a*b?[c]"))
}
