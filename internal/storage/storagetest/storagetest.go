// Package storagetest holds the behavioural checks every storage.Storage
// backend must pass. Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/questflow/internal/storage"
)

// Factory returns a fresh, empty Storage. Keys written by one test must not
// be visible to the next, so backends sharing a server should use a unique
// namespace per call.
type Factory func(t *testing.T) storage.Storage

// Run exercises the Storage contract against the backend built by newStorage.
func Run(t *testing.T, newStorage Factory) {
	t.Helper()

	t.Run("GetMissing", func(t *testing.T) {
		s := newStorage(t)
		_, err := s.Get(context.Background(), "missing")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("SetGetOverwrite", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)

		require.NoError(t, s.Set(ctx, "k", "v1"))
		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, "v1", got)

		require.NoError(t, s.Set(ctx, "k", "v2"))
		got, err = s.Get(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, "v2", got)
	})

	t.Run("UnicodePayload", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)

		payload := `{"text":"päänsärky ✓","n":1}`
		require.NoError(t, s.Set(ctx, "u", payload))
		got, err := s.Get(ctx, "u")
		require.NoError(t, err)
		require.Equal(t, payload, got)
	})

	t.Run("RemoveIsIdempotent", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)

		require.NoError(t, s.Set(ctx, "k", "v"))
		require.NoError(t, s.Remove(ctx, "k"))
		require.NoError(t, s.Remove(ctx, "k"))

		_, err := s.Get(ctx, "k")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("KeysFiltersByPrefix", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)

		require.NoError(t, s.Set(ctx, "app-a", "1"))
		require.NoError(t, s.Set(ctx, "app-b", "2"))
		require.NoError(t, s.Set(ctx, "other", "3"))
		require.NoError(t, s.Set(ctx, "app_%", "4"))

		keys, err := s.Keys(ctx, "app-")
		require.NoError(t, err)
		sort.Strings(keys)
		require.Equal(t, []string{"app-a", "app-b"}, keys)

		all, err := s.Keys(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 4)
	})

	t.Run("LargeValue", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)

		big := strings.Repeat("x", 64*1024)
		require.NoError(t, s.Set(ctx, "big", big))
		got, err := s.Get(ctx, "big")
		require.NoError(t, err)
		require.Len(t, got, len(big))
	})
}
