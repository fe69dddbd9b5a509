// SPDX-License-Identifier: MIT

package kv

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBackends(t *testing.T) map[string]Store {
	t.Helper()

	mr := miniredis.RunT(t)
	redisStore, err := OpenRedis(Config{Addr: mr.Addr()})
	require.NoError(t, err)

	badgerStore, err := OpenBadger(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)

	sqliteStore, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)

	stores := map[string]Store{
		"memory": NewMemory(),
		"badger": badgerStore,
		"sqlite": sqliteStore,
		"redis":  redisStore,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Put(ctx, "a", []byte("one"), 0))
			got, err := s.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, []byte("one"), got)

			// last writer wins
			require.NoError(t, s.Put(ctx, "a", []byte("two"), 0))
			got, err = s.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, []byte("two"), got)

			require.NoError(t, s.Delete(ctx, "a"))
			_, err = s.Get(ctx, "a")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreScanPrefix(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "score:a", []byte("1"), 0))
			require.NoError(t, s.Put(ctx, "score:b", []byte("2"), 0))
			require.NoError(t, s.Put(ctx, "job:c", []byte("3"), 0))

			keys, err := s.Scan(ctx, "score:")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"score:a", "score:b"}, keys)
		})
	}
}

func TestMemoryExpiry(t *testing.T) {
	s := NewMemory()
	now := time.Now()
	s.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k", []byte("v"), time.Minute))

	_, err := s.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err := s.Scan(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRedisExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := OpenRedis(Config{Addr: mr.Addr()})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k", []byte("v"), time.Minute))

	mr.FastForward(2 * time.Minute)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteExpiryLazy(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	// Insert an already-expired row directly: Get must treat it as missing.
	_, err = s.db.ExecContext(ctx, `INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)`,
		"stale", []byte("v"), time.Now().Add(-time.Hour).Unix())
	require.NoError(t, err)

	_, err = s.Get(ctx, "stale")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(Config{Backend: "bolt"})
	assert.Error(t, err)
}
