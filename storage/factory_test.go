package storage

import (
	"path/filepath"
	"testing"

	"github.com/ruteri/wallet-recovery-vault/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreFactory_StoreForURI(t *testing.T) {
	dir := t.TempDir()
	factory := NewStoreFactory(testLogger())

	testCases := []struct {
		name     string
		uri      string
		wantType interface{}
		wantErr  bool
	}{
		{name: "memory", uri: "memory://", wantType: &MemoryStore{}},
		{name: "file", uri: "file://" + filepath.Join(dir, "files"), wantType: &FileStore{}},
		{name: "bolt", uri: "bolt://" + filepath.Join(dir, "vault.db"), wantType: &BoltStore{}},
		{name: "s3", uri: "s3://bucket/prefix?region=eu-west-1", wantType: &S3Store{}},
		{name: "vault", uri: "vault://127.0.0.1:8200/secret/wallet", wantType: &VaultStore{}},
		{name: "vault without mount", uri: "vault://127.0.0.1:8200", wantErr: true},
		{name: "unsupported scheme", uri: "ipfs://localhost:5001", wantErr: true},
		{name: "malformed", uri: "://bad", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store, err := factory.StoreForURI(tc.uri)
			if tc.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tc.wantType, store)
			if b, ok := store.(*BoltStore); ok {
				require.NoError(t, b.Close())
			}
		})
	}
}

func TestStoreFactory_CreateMultiStore(t *testing.T) {
	factory := NewStoreFactory(testLogger())

	single, err := factory.CreateMultiStore([]string{"memory://"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, single)

	multi, err := factory.CreateMultiStore([]string{"memory://", "file://" + t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &MultiStore{}, multi)

	_, err = factory.CreateMultiStore(nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	_, err = factory.CreateMultiStore([]string{"memory://", "ftp://nope"})
	assert.Error(t, err)
}

func TestStoreLocation_StringMasksCredentials(t *testing.T) {
	loc, err := interfaces.ParseStoreLocation("s3://AKIA:secret@bucket/prefix")
	require.NoError(t, err)
	assert.NotContains(t, loc.String(), "secret@")
	assert.Equal(t, "bucket", loc.Host)
}
