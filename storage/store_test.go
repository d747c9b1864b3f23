package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/ruteri/wallet-recovery-vault/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// exerciseStore runs the SecureStore contract against a backend.
func exerciseStore(t *testing.T, store interfaces.SecureStore) {
	ctx := context.Background()

	_, err := store.Get(ctx, "vault/meta")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)

	require.NoError(t, store.Set(ctx, "vault/meta", []byte("meta-v1")))
	require.NoError(t, store.Set(ctx, "recovery/setup/a", []byte("setup-a")))
	require.NoError(t, store.Set(ctx, "recovery/setup/b", []byte("setup-b")))
	require.NoError(t, store.Set(ctx, "recovery/share/a/1", []byte("share-1")))

	value, err := store.Get(ctx, "vault/meta")
	require.NoError(t, err)
	assert.Equal(t, []byte("meta-v1"), value)

	require.NoError(t, store.Set(ctx, "vault/meta", []byte("meta-v2")), "Set overwrites")
	value, err = store.Get(ctx, "vault/meta")
	require.NoError(t, err)
	assert.Equal(t, []byte("meta-v2"), value)

	keys, err := store.Keys(ctx, "recovery/setup/")
	require.NoError(t, err)
	assert.Equal(t, []string{"recovery/setup/a", "recovery/setup/b"}, keys)

	keys, err = store.Keys(ctx, "recovery/")
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	keys, err = store.Keys(ctx, "nothing/")
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, store.Remove(ctx, "recovery/setup/a"))
	assert.ErrorIs(t, store.Remove(ctx, "recovery/setup/a"), interfaces.ErrKeyNotFound)
	_, err = store.Get(ctx, "recovery/setup/a")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)

	assert.ErrorIs(t, store.Set(ctx, "../escape", []byte("x")), interfaces.ErrInvalidStoreKey)
	assert.ErrorIs(t, store.Set(ctx, "", []byte("x")), interfaces.ErrInvalidStoreKey)

	assert.True(t, store.Available(ctx))
	assert.NotEmpty(t, store.Name())
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(testLogger()))
}

func TestMemoryStore_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(testLogger())

	value := []byte("abc")
	require.NoError(t, store.Set(ctx, "k", value))
	value[0] = 'x'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	exerciseStore(t, store)
}

func TestFileStore_Persists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "vault/entry/1", []byte("ciphertext")))

	reopened, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)
	value, err := reopened.Get(ctx, "vault/entry/1")
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), value)
}

func TestBoltStore(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "vault.db"), testLogger())
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)
}

func TestBoltStore_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vault.db")

	store, err := NewBoltStore(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "activity/w1", []byte("ts")))
	require.NoError(t, store.Close())

	reopened, err := NewBoltStore(path, testLogger())
	require.NoError(t, err)
	defer reopened.Close()
	value, err := reopened.Get(ctx, "activity/w1")
	require.NoError(t, err)
	assert.Equal(t, []byte("ts"), value)
}
